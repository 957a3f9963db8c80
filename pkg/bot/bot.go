// Package bot polls a feed for mentions of the bot's handle and hands each
// accepted request to the Processor.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/igorsilveira/codebot/pkg/audit"
	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/ledger"
	"github.com/igorsilveira/codebot/pkg/responder"
	"github.com/igorsilveira/codebot/pkg/sanitize"
	"github.com/igorsilveira/codebot/pkg/telemetry"
)

type State int

const (
	StateUnauthorized State = iota
	StateAuthorizing
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnauthorized:
		return "unauthorized"
	case StateAuthorizing:
		return "authorizing"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Observer receives state changes for display. Calls come from the Run
// goroutine and must not block for long.
type Observer interface {
	AuthorizationChanged(authorized bool)
	SyncCountChanged(count int)
	ResponsesChanged(records []ledger.Record)
}

type nopObserver struct{}

func (nopObserver) AuthorizationChanged(bool) {}

func (nopObserver) SyncCountChanged(int) {}

func (nopObserver) ResponsesChanged([]ledger.Record) {}

type Config struct {
	Interval     time.Duration
	Concurrency  int
	MaxAttempts  int
	ResumeCursor bool
}

func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Concurrency: 4,
		MaxAttempts: 3,
	}
}

type Option func(*Bot)

func WithConfig(c Config) Option { return func(b *Bot) { b.cfg = c } }

func WithObserver(o Observer) Option { return func(b *Bot) { b.observer = o } }

func WithAudit(r audit.Recorder) Option { return func(b *Bot) { b.audit = r } }

// WithCursorStore persists the cursor after every advance. It is read back on
// start only when Config.ResumeCursor is set.
func WithCursorStore(s CursorStore) Option { return func(b *Bot) { b.cursorStore = s } }

// pending is a request whose processing failed and will be dispatched again.
type pending struct {
	req      feed.Request
	attempts int
}

type Bot struct {
	feed        feed.Client
	module      responder.Module
	ledger      *ledger.Ledger
	proc        *Processor
	cursor      *Cursor
	cursorStore CursorStore
	observer    Observer
	audit       audit.Recorder
	cfg         Config

	stop atomic.Bool
	wake chan struct{}

	mu        sync.RWMutex
	state     State
	syncCount int

	// owned by the Run goroutine
	retries map[string]*pending
}

func New(fc feed.Client, m responder.Module, l *ledger.Ledger, opts ...Option) *Bot {
	b := &Bot{
		feed:     fc,
		module:   m,
		ledger:   l,
		cursor:   NewCursor(),
		observer: nopObserver{},
		audit:    audit.Nop{},
		cfg:      DefaultConfig(),
		wake:     make(chan struct{}, 1),
		retries:  make(map[string]*pending),
	}
	for _, o := range opts {
		o(b)
	}
	if b.observer == nil {
		b.observer = nopObserver{}
	}
	if b.audit == nil {
		b.audit = audit.Nop{}
	}
	if b.cfg.Interval <= 0 {
		b.cfg.Interval = DefaultConfig().Interval
	}
	if b.cfg.Concurrency <= 0 {
		b.cfg.Concurrency = 1
	}
	if b.cfg.MaxAttempts <= 0 {
		b.cfg.MaxAttempts = 1
	}
	b.proc = NewProcessor(fc, m, l, b.audit)
	return b
}

// errStopped ends the poll loop when Stop was requested.
var errStopped = errors.New("bot: stop requested")

// Run authorizes and polls until Stop is called or ctx is done. A Stop issued
// before Run is consumed by it and Run returns at once. Authorization
// failures are retried after the poll interval.
func (b *Bot) Run(ctx context.Context) error {
	logger := telemetry.FromContext(ctx).With(slog.String("feed", b.feed.Name()))
	ctx = telemetry.WithLogger(ctx, logger)

	b.restoreCursor(ctx)
	defer b.setState(StateStopped)
	b.audit.Log(ctx, audit.EventBotStart, "", b.feed.Name(), b.module.Handle(), nil)

	for {
		if b.stop.CompareAndSwap(true, false) {
			select {
			case <-b.wake:
			default:
			}
			logger.Info("bot stopped")
			b.audit.Log(ctx, audit.EventBotStop, "", b.feed.Name(), "", nil)
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		b.setState(StateAuthorizing)
		if err := b.feed.Authorize(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.unauthorized(ctx, err)
			if !b.wait(ctx) {
				return nil
			}
			continue
		}

		b.setState(StatePolling)
		telemetry.Metrics.Authorized.Set(1)
		b.observer.AuthorizationChanged(true)
		b.audit.Log(ctx, audit.EventAuthorized, "", b.feed.Name(), b.module.Handle(), nil)
		logger.Info("authorized", slog.String("handle", b.module.Handle()))

		err := b.poll(ctx)
		if errors.Is(err, feed.ErrUnauthorized) {
			b.unauthorized(ctx, err)
			if !b.wait(ctx) {
				return nil
			}
		}
	}
}

// Stop asks Run to return at its next check. It does not interrupt a cycle
// that is already dispatching.
func (b *Bot) Stop() {
	b.stop.Store(true)
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bot) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// SyncCount is the number of successful fetches so far.
func (b *Bot) SyncCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.syncCount
}

func (b *Bot) Cursor() *Cursor { return b.cursor }

func (b *Bot) Processor() *Processor { return b.proc }

func (b *Bot) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Bot) unauthorized(ctx context.Context, err error) {
	b.setState(StateUnauthorized)
	telemetry.Metrics.Authorized.Set(0)
	telemetry.Metrics.ErrorsTotal.WithLabelValues("authorize").Inc()
	b.observer.AuthorizationChanged(false)
	b.audit.Log(ctx, audit.EventAuthFailed, "", b.feed.Name(), "", err.Error())
	telemetry.FromContext(ctx).Warn("authorization failed", slog.String("err", err.Error()))
}

func (b *Bot) restoreCursor(ctx context.Context) {
	if !b.cfg.ResumeCursor || b.cursorStore == nil {
		return
	}
	id, err := b.cursorStore.LoadCursor(ctx, b.feed.Name())
	if err != nil {
		telemetry.FromContext(ctx).Warn("loading cursor", slog.String("err", err.Error()))
		return
	}
	if b.cursor.Advance(id) {
		telemetry.FromContext(ctx).Info("resuming from cursor", slog.String("since", id))
	}
}

// poll runs cycles until stop, cancellation or loss of authorization.
func (b *Bot) poll(ctx context.Context) error {
	for {
		if b.stop.Load() {
			return errStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := b.cycle(ctx); errors.Is(err, feed.ErrUnauthorized) {
			return err
		}

		if !b.wait(ctx) {
			return ctx.Err()
		}
	}
}

// cycle fetches once and dispatches the accepted requests plus any pending
// retries. A fetch failure leaves the cursor and the sync count unchanged.
func (b *Bot) cycle(ctx context.Context) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "bot.poll", attribute.String("feed", b.feed.Name()))
	defer func() { telemetry.EndSpan(span, err) }()

	logger := telemetry.FromContext(ctx)

	since, _ := b.cursor.LastSeen()
	reqs, err := b.feed.GetNewMentions(ctx, since)
	if err != nil {
		telemetry.Metrics.PollsTotal.WithLabelValues("error").Inc()
		telemetry.Metrics.ErrorsTotal.WithLabelValues("poll").Inc()
		logger.Warn("fetching mentions", slog.String("since", since), slog.String("err", err.Error()))
		return err
	}
	telemetry.Metrics.PollsTotal.WithLabelValues("ok").Inc()

	b.mu.Lock()
	b.syncCount++
	count := b.syncCount
	b.mu.Unlock()

	batch := b.accept(reqs)
	span.SetAttributes(attribute.Int("fetched", len(reqs)), attribute.Int("accepted", len(batch)))

	if newest := feed.NewestID(batch); b.cursor.Advance(newest) {
		b.saveCursor(ctx, newest)
	}

	for _, req := range batch {
		if _, known := b.ledger.Get(req.ID); !known {
			b.audit.Log(ctx, audit.EventRequestSeen, req.ID, b.feed.Name(), req.AuthorHandle, nil)
		}
	}
	if added, err := b.ledger.Merge(ctx, batch); err != nil {
		logger.Warn("persisting requests", slog.String("err", err.Error()))
	} else if added > 0 {
		logger.Info("new requests", slog.Int("count", added))
	}
	b.observer.SyncCountChanged(count)

	b.dispatch(ctx, b.withRetries(batch))
	b.observer.ResponsesChanged(b.ledger.List())
	return nil
}

// accept keeps mentions addressed to the bot alone. A request must carry
// exactly one address token and that token must name the handle.
func (b *Bot) accept(reqs []feed.Request) []feed.Request {
	ignored := b.module.Ignored()
	thread := b.module.Thread()

	var out []feed.Request
	for _, req := range reqs {
		if slices.Contains(ignored, req.ID) {
			continue
		}
		if thread != "" && req.InReplyToID != thread {
			continue
		}
		tokens := req.AddressTokens
		if tokens == nil {
			tokens = sanitize.AddressTokens(req.Text)
		}
		if len(tokens) != 1 || !sameHandle(tokens[0], b.module.Handle()) {
			continue
		}
		out = append(out, req)
	}
	return out
}

// sameHandle compares an address token with the handle ignoring case, the
// leading "@" and trailing punctuation.
func sameHandle(token, handle string) bool {
	token = strings.TrimPrefix(token, "@")
	token = strings.TrimRightFunc(token, func(r rune) bool {
		return r != '_' && (unicode.IsPunct(r) || unicode.IsSymbol(r))
	})
	return strings.EqualFold(token, strings.TrimPrefix(handle, "@"))
}

func (b *Bot) withRetries(batch []feed.Request) []feed.Request {
	work := slices.Clone(batch)
	for id, p := range b.retries {
		if !slices.ContainsFunc(batch, func(r feed.Request) bool { return r.ID == id }) {
			work = append(work, p.req)
		}
	}
	return work
}

// dispatch processes work with bounded concurrency and returns once every
// request has finished.
func (b *Bot) dispatch(ctx context.Context, work []feed.Request) {
	if len(work) == 0 {
		return
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed = make(map[string]bool)
	)
	g.SetLimit(b.cfg.Concurrency)

	for _, req := range work {
		telemetry.Metrics.InFlight.Inc()
		g.Go(func() error {
			defer telemetry.Metrics.InFlight.Dec()
			if err := b.proc.Process(ctx, req); err != nil {
				telemetry.ForRequest(ctx, req.ID).Warn("processing failed", slog.String("err", err.Error()))
				mu.Lock()
				failed[req.ID] = true
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	b.settleRetries(ctx, work, failed)
}

func (b *Bot) settleRetries(ctx context.Context, work []feed.Request, failed map[string]bool) {
	for _, req := range work {
		if !failed[req.ID] {
			delete(b.retries, req.ID)
			continue
		}
		p, ok := b.retries[req.ID]
		if !ok {
			p = &pending{req: req}
			b.retries[req.ID] = p
		}
		p.attempts++
		if p.attempts < b.cfg.MaxAttempts {
			continue
		}
		delete(b.retries, req.ID)
		telemetry.Metrics.RequestsTotal.WithLabelValues(outcomeDropped).Inc()
		b.audit.Log(ctx, audit.EventRequestDropped, req.ID, b.feed.Name(), req.AuthorHandle,
			map[string]int{"attempts": p.attempts})
		telemetry.ForRequest(ctx, req.ID).Error("giving up on request", slog.Int("attempts", p.attempts))
	}
}

func (b *Bot) saveCursor(ctx context.Context, id string) {
	if b.cursorStore == nil {
		return
	}
	if err := b.cursorStore.SaveCursor(ctx, b.feed.Name(), id); err != nil {
		telemetry.FromContext(ctx).Warn("saving cursor", slog.String("err", err.Error()))
	}
}

// wait sleeps one poll interval. It returns early on Stop and reports false
// when ctx is done.
func (b *Bot) wait(ctx context.Context) bool {
	t := time.NewTimer(b.cfg.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-b.wake:
		return true
	case <-t.C:
		return true
	}
}
