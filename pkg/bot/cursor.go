package bot

import (
	"context"
	"sync"

	"github.com/igorsilveira/codebot/pkg/feed"
)

// Cursor remembers the newest request id the bot has accepted. It never moves
// backwards.
type Cursor struct {
	mu   sync.Mutex
	last string
}

func NewCursor() *Cursor { return &Cursor{} }

// LastSeen returns the current position and whether one has been set.
func (c *Cursor) LastSeen() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.last != ""
}

// Advance moves the cursor to id when id is newer than the current position
// and reports whether it moved.
func (c *Cursor) Advance(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last != "" && feed.CompareIDs(id, c.last) <= 0 {
		return false
	}
	c.last = id
	return true
}

// CursorStore persists cursor positions per feed.
type CursorStore interface {
	LoadCursor(ctx context.Context, feedName string) (string, error)
	SaveCursor(ctx context.Context, feedName, id string) error
}
