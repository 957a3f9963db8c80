// Package result delivers sandbox results to whoever asked for them: a file
// next to the artifact for the command line runner, a stream for live viewers.
package result

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/igorsilveira/codebot/pkg/audit"
	"github.com/igorsilveira/codebot/pkg/sandbox"
)

// FileSink writes each result's output to <dir>/<id>.txt.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (s *FileSink) Deliver(_ context.Context, id string, r sandbox.Result) error {
	if err := sandbox.ValidateID(id); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("result: creating directory: %w", err)
	}

	path := sandbox.ResultPath(s.dir, id)
	tmp, err := os.CreateTemp(s.dir, "."+id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("result: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(r.Output); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("result: writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("result: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("result: renaming into place: %w", err)
	}
	return nil
}

// Read returns the stored output for id.
func (s *FileSink) Read(id string) (string, error) {
	if err := sandbox.ValidateID(id); err != nil {
		return "", err
	}
	data, err := os.ReadFile(sandbox.ResultPath(s.dir, id))
	if err != nil {
		return "", fmt.Errorf("result: reading %s: %w", id, err)
	}
	return string(data), nil
}

type Delivery struct {
	ID     string
	Result sandbox.Result
}

// Stream fans results out to subscribers. A subscriber that falls behind its
// buffer misses deliveries rather than stalling the sandbox.
type Stream struct {
	mu      sync.Mutex
	subs    map[int]chan Delivery
	next    int
	dropped int
}

func NewStream() *Stream {
	return &Stream{subs: make(map[int]chan Delivery)}
}

// Subscribe returns a channel of deliveries and a func that unsubscribes and
// closes it.
func (s *Stream) Subscribe(buffer int) (<-chan Delivery, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Delivery, buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Stream) Deliver(_ context.Context, id string, r sandbox.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := Delivery{ID: id, Result: r}
	for _, ch := range s.subs {
		select {
		case ch <- d:
		default:
			s.dropped++
		}
	}
	return nil
}

// Dropped is the number of deliveries discarded because a subscriber was full.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Multi delivers to every sink and joins their errors.
type Multi []sandbox.Sink

func (m Multi) Deliver(ctx context.Context, id string, r sandbox.Result) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Deliver(ctx, id, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Audit records every result in the audit log under the given feed name.
type Audit struct {
	Recorder audit.Recorder
	Feed     string
}

func (a Audit) Deliver(ctx context.Context, id string, r sandbox.Result) error {
	event := audit.EventSandboxRun
	if r.Kind == sandbox.KindRejected {
		event = audit.EventSandboxReject
	}
	return a.Recorder.Log(ctx, event, id, a.Feed, "", map[string]any{
		"kind":        r.Kind,
		"exit_code":   r.ExitCode,
		"truncated":   r.Truncated,
		"duration_ms": r.Duration.Milliseconds(),
	})
}

var (
	_ sandbox.Sink = (*FileSink)(nil)
	_ sandbox.Sink = Audit{}
	_ sandbox.Sink = (*Stream)(nil)
	_ sandbox.Sink = Multi(nil)
)
