package notify

import (
	"context"
	"testing"
	"time"

	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/ledger"
	"github.com/igorsilveira/codebot/pkg/result"
	"github.com/igorsilveira/codebot/pkg/sandbox"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestHubSnapshot(t *testing.T) {
	h := NewHub(0)
	h.AuthorizationChanged(true)
	h.SyncCountChanged(3)
	h.ResponsesChanged([]ledger.Record{{Request: feed.Request{ID: "1"}, Response: "hi", HasResponse: true}})

	s := h.Snapshot()
	if !s.Authorized || s.SyncCount != 3 || len(s.Records) != 1 {
		t.Errorf("Snapshot = %+v", s)
	}
	if s.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestHubSubscribeReplaysSnapshot(t *testing.T) {
	h := NewHub(8)
	h.AuthorizationChanged(true)
	h.SyncCountChanged(2)

	ch, cancel := h.Subscribe()
	defer cancel()

	if ev := recv(t, ch); ev.Type != EventAuthorization || ev.Authorized == nil || !*ev.Authorized {
		t.Errorf("first event = %+v", ev)
	}
	if ev := recv(t, ch); ev.Type != EventSync || ev.SyncCount != 2 {
		t.Errorf("second event = %+v", ev)
	}
	if ev := recv(t, ch); ev.Type != EventResponses {
		t.Errorf("third event = %+v", ev)
	}

	h.SyncCountChanged(3)
	if ev := recv(t, ch); ev.Type != EventSync || ev.SyncCount != 3 {
		t.Errorf("live event = %+v", ev)
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(3)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := range 100 {
			h.SyncCountChanged(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub(0)
	ch, cancel := h.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	h.SyncCountChanged(1)
}

func TestHubFollowsResults(t *testing.T) {
	h := NewHub(0)
	stream := result.NewStream()
	deliveries, stop := stream.Subscribe(4)

	ch, cancel := h.Subscribe()
	defer cancel()

	ctx, done := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		h.Follow(ctx, deliveries)
		close(finished)
	}()

	stream.Deliver(ctx, "42", sandbox.Result{Kind: sandbox.KindTimeout, ExitCode: -1, Duration: 1500 * time.Millisecond})

	ev := recv(t, ch)
	if ev.Type != EventResult || ev.Result.RequestID != "42" || ev.Result.Kind != "timeout" || ev.Result.DurationMS != 1500 {
		t.Errorf("event = %+v", ev)
	}

	stop()
	<-finished
	done()
}
