// Package notify turns bot state changes and sandbox results into a stream of
// events for the gateway and the terminal viewer.
package notify

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/igorsilveira/codebot/pkg/bot"
	"github.com/igorsilveira/codebot/pkg/ledger"
	"github.com/igorsilveira/codebot/pkg/result"
	"github.com/igorsilveira/codebot/pkg/telemetry"
)

const (
	EventAuthorization = "authorization"
	EventSync          = "sync"
	EventResponses     = "responses"
	EventResult        = "result"
)

type Event struct {
	Type       string          `json:"type"`
	Time       time.Time       `json:"time"`
	Authorized *bool           `json:"authorized,omitempty"`
	SyncCount  int             `json:"sync_count,omitempty"`
	Records    []ledger.Record `json:"records,omitempty"`
	Result     *ResultEvent    `json:"result,omitempty"`
}

type ResultEvent struct {
	RequestID  string `json:"request_id"`
	Kind       string `json:"kind"`
	ExitCode   int    `json:"exit_code"`
	Truncated  bool   `json:"truncated,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Snapshot is the latest state the hub has seen.
type Snapshot struct {
	Authorized bool            `json:"authorized"`
	SyncCount  int             `json:"sync_count"`
	Records    []ledger.Record `json:"records"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Hub implements bot.Observer. Subscribers that fall behind miss events; the
// snapshot always holds the latest values.
type Hub struct {
	mu     sync.Mutex
	snap   Snapshot
	subs   map[int]chan Event
	next   int
	buffer int
	now    func() time.Time
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	// room for the snapshot replay
	buffer = max(buffer, 3)
	return &Hub{
		subs:   make(map[int]chan Event),
		buffer: buffer,
		now:    time.Now,
	}
}

func (h *Hub) AuthorizationChanged(authorized bool) {
	h.publish(Event{Type: EventAuthorization, Authorized: &authorized}, func(s *Snapshot) {
		s.Authorized = authorized
	})
}

func (h *Hub) SyncCountChanged(count int) {
	h.publish(Event{Type: EventSync, SyncCount: count}, func(s *Snapshot) {
		s.SyncCount = count
	})
}

func (h *Hub) ResponsesChanged(records []ledger.Record) {
	h.publish(Event{Type: EventResponses, Records: records}, func(s *Snapshot) {
		s.Records = records
	})
}

// Follow republishes sandbox deliveries until ch closes or ctx is done.
func (h *Hub) Follow(ctx context.Context, ch <-chan result.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			h.publish(Event{Type: EventResult, Result: &ResultEvent{
				RequestID:  d.ID,
				Kind:       string(d.Result.Kind),
				ExitCode:   d.Result.ExitCode,
				Truncated:  d.Result.Truncated,
				DurationMS: d.Result.Duration.Milliseconds(),
			}}, nil)
		}
	}
}

func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.snap
	s.Records = slices.Clone(s.Records)
	return s
}

// Subscribe returns a channel that first receives the current snapshot as
// individual events and then every later event.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	if !h.snap.UpdatedAt.IsZero() {
		at := h.snap.UpdatedAt
		authorized := h.snap.Authorized
		ch <- Event{Type: EventAuthorization, Time: at, Authorized: &authorized}
		ch <- Event{Type: EventSync, Time: at, SyncCount: h.snap.SyncCount}
		ch <- Event{Type: EventResponses, Time: at, Records: slices.Clone(h.snap.Records)}
	}
	n := len(h.subs)
	h.mu.Unlock()
	telemetry.Metrics.Subscribers.Set(float64(n))

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			n := len(h.subs)
			h.mu.Unlock()
			close(ch)
			telemetry.Metrics.Subscribers.Set(float64(n))
		})
	}
}

func (h *Hub) publish(ev Event, update func(*Snapshot)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev.Time = h.now().UTC()
	if update != nil {
		update(&h.snap)
		h.snap.UpdatedAt = ev.Time
	}
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

var _ bot.Observer = (*Hub)(nil)
