// Package ledger keeps the request to response pairs the bot has seen. It is
// the read model behind the status API and the terminal viewer.
package ledger

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/igorsilveira/codebot/pkg/feed"
)

// ErrEmptyResponse is returned when recording a blank response.
var ErrEmptyResponse = errors.New("ledger: empty response")

type Record struct {
	Request     feed.Request `json:"request"`
	Response    string       `json:"response,omitempty"`
	HasResponse bool         `json:"has_response"`
	RespondedAt time.Time    `json:"responded_at,omitempty"`
}

// Persister mirrors ledger writes to durable storage.
type Persister interface {
	SaveRecord(ctx context.Context, rec Record) error
}

// Ledger is safe for concurrent use. A record's response moves from absent to
// present once and is never replaced.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]*Record
	persist Persister
	now     func() time.Time
}

func New(p Persister) *Ledger {
	return &Ledger{
		records: make(map[string]*Record),
		persist: p,
		now:     time.Now,
	}
}

// Restore loads previously persisted records without writing them back.
func (l *Ledger) Restore(recs []Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range recs {
		rec := r
		l.records[r.Request.ID] = &rec
	}
}

// Merge adds requests that are not yet known and reports how many were new.
func (l *Ledger) Merge(ctx context.Context, reqs []feed.Request) (int, error) {
	var added []Record

	l.mu.Lock()
	for _, req := range reqs {
		if _, ok := l.records[req.ID]; ok {
			continue
		}
		rec := &Record{Request: req}
		l.records[req.ID] = rec
		added = append(added, *rec)
	}
	l.mu.Unlock()

	return len(added), l.save(ctx, added...)
}

// SetResponse records response for req, inserting the record when needed.
// It returns false without error when a response was already present.
func (l *Ledger) SetResponse(ctx context.Context, req feed.Request, response string) (bool, error) {
	if response == "" {
		return false, ErrEmptyResponse
	}

	l.mu.Lock()
	rec, ok := l.records[req.ID]
	if !ok {
		rec = &Record{Request: req}
		l.records[req.ID] = rec
	}
	if rec.HasResponse {
		l.mu.Unlock()
		return false, nil
	}
	rec.Response = response
	rec.HasResponse = true
	rec.RespondedAt = l.now().UTC()
	snapshot := *rec
	l.mu.Unlock()

	return true, l.save(ctx, snapshot)
}

func (l *Ledger) Get(id string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func (l *Ledger) HasResponse(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	return ok && rec.HasResponse
}

// List returns a snapshot ordered newest request first.
func (l *Ledger) List() []Record {
	l.mu.RLock()
	out := make([]Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, *rec)
	}
	l.mu.RUnlock()

	slices.SortFunc(out, func(a, b Record) int {
		return feed.CompareIDs(b.Request.ID, a.Request.ID)
	})
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Pending counts records still waiting for a response.
func (l *Ledger) Pending() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, rec := range l.records {
		if !rec.HasResponse {
			n++
		}
	}
	return n
}

func (l *Ledger) save(ctx context.Context, recs ...Record) error {
	if l.persist == nil {
		return nil
	}
	var errs []error
	for _, r := range recs {
		if err := l.persist.SaveRecord(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
