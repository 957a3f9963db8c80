package bot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/ledger"
	"github.com/igorsilveira/codebot/pkg/responder"
)

func newProcessor(f *fakeFeed, m *fakeModule) (*Processor, *ledger.Ledger) {
	l := ledger.New(nil)
	return NewProcessor(f, m, l, nil), l
}

func TestProcessPostsAndRecords(t *testing.T) {
	f := newFakeFeed()
	m := newFakeModule(responder.Settings{})
	p, l := newProcessor(f, m)

	req := mention("100", "@code_swift print(1)")
	if err := p.Process(context.Background(), req); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(f.posts) != 1 || f.posts[0].text != "ok 100" || f.posts[0].inReplyTo != "100" {
		t.Fatalf("posts = %+v", f.posts)
	}
	rec, ok := l.Get("100")
	if !ok || !rec.HasResponse || rec.Response != "ok 100" {
		t.Errorf("ledger record = %+v, %v", rec, ok)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	f := newFakeFeed()
	m := newFakeModule(responder.Settings{})
	p, l := newProcessor(f, m)
	req := mention("100", "@code_swift print(1)")

	for range 3 {
		if err := p.Process(context.Background(), req); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	if got := f.postsFor("100"); got != 1 {
		t.Errorf("posts = %d, want 1", got)
	}
	if got := m.callsFor("100"); got != 1 {
		t.Errorf("module calls = %d, want 1", got)
	}
	if l.Len() != 1 {
		t.Errorf("ledger entries = %d, want 1", l.Len())
	}
	// later calls are answered from the ledger without touching the feed
	if f.lookupCalls != 1 {
		t.Errorf("reply lookups = %d, want 1", f.lookupCalls)
	}
}

func TestProcessConcurrentSameID(t *testing.T) {
	f := newFakeFeed()
	m := newFakeModule(responder.Settings{})
	p, _ := newProcessor(f, m)
	req := mention("7", "@code_swift x")

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Process(context.Background(), req)
		}()
	}
	wg.Wait()

	if got := f.postsFor("7"); got != 1 {
		t.Errorf("posts = %d, want 1", got)
	}
	if got := m.callsFor("7"); got != 1 {
		t.Errorf("module calls = %d, want 1", got)
	}
}

func TestProcessReconcilesExistingReply(t *testing.T) {
	f := newFakeFeed()
	f.replies["100"] = []feed.Request{
		{ID: "r1", Text: "someone else", AuthorHandle: "other"},
		{ID: "r2", Text: "42", AuthorHandle: handle},
	}
	m := newFakeModule(responder.Settings{})
	p, l := newProcessor(f, m)

	if err := p.Process(context.Background(), mention("100", "@code_swift print(42)")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if m.totalCalls() != 0 {
		t.Error("module ran for an answered request")
	}
	if len(f.posts) != 0 {
		t.Errorf("posted %d replies, want none", len(f.posts))
	}
	rec, _ := l.Get("100")
	if rec.Response != "42" {
		t.Errorf("reconciled response = %q, want %q", rec.Response, "42")
	}
}

func TestProcessLookupFailure(t *testing.T) {
	f := newFakeFeed()
	f.repliesErr = errTransport
	m := newFakeModule(responder.Settings{})
	p, l := newProcessor(f, m)

	err := p.Process(context.Background(), mention("100", "@code_swift x"))
	if !errors.Is(err, errTransport) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if m.totalCalls() != 0 || f.postCalls != 0 {
		t.Error("lookup failure must not run or post")
	}
	if l.HasResponse("100") {
		t.Error("ledger recorded a response")
	}
}

func TestProcessPostFailure(t *testing.T) {
	f := newFakeFeed()
	f.postErr = errTransport
	m := newFakeModule(responder.Settings{})
	p, l := newProcessor(f, m)

	err := p.Process(context.Background(), mention("100", "@code_swift x"))
	if !errors.Is(err, errTransport) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if l.HasResponse("100") {
		t.Error("failed post left a response in the ledger")
	}
}

func TestProcessTruncatesToPostLimit(t *testing.T) {
	f := newFakeFeed()
	f.maxLen = 5
	m := newFakeModule(responder.Settings{})
	m.reply = "éééééééé"
	p, l := newProcessor(f, m)

	if err := p.Process(context.Background(), mention("1", "@code_swift x")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if f.posts[0].text != "ééééé" {
		t.Errorf("posted %q, want five runes", f.posts[0].text)
	}
	if rec, _ := l.Get("1"); rec.Response != "ééééé" {
		t.Errorf("recorded %q", rec.Response)
	}
}

func TestProcessModuleError(t *testing.T) {
	f := newFakeFeed()
	m := newFakeModule(responder.Settings{})
	m.err = errors.New("no sandbox")
	p, _ := newProcessor(f, m)

	if err := p.Process(context.Background(), mention("1", "@code_swift x")); err == nil {
		t.Fatal("expected error")
	}
	if f.postCalls != 0 {
		t.Error("posted after module error")
	}
}
