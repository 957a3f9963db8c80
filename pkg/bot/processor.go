package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/igorsilveira/codebot/pkg/audit"
	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/ledger"
	"github.com/igorsilveira/codebot/pkg/responder"
	"github.com/igorsilveira/codebot/pkg/telemetry"
)

const (
	outcomeAnswered   = "answered"
	outcomeReconciled = "reconciled"
	outcomeSkipped    = "skipped"
	outcomeFailed     = "failed"
	outcomeDropped    = "dropped"
)

// Processor answers a single request at most once.
type Processor struct {
	feed   feed.Client
	module responder.Module
	ledger *ledger.Ledger
	audit  audit.Recorder
	guard  keyedMutex
}

func NewProcessor(fc feed.Client, m responder.Module, l *ledger.Ledger, rec audit.Recorder) *Processor {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Processor{feed: fc, module: m, ledger: l, audit: rec}
}

// Process answers req unless a response is already known, either locally or
// as a reply by the bot on the feed. Calls for the same id are serialized.
func (p *Processor) Process(ctx context.Context, req feed.Request) (err error) {
	unlock := p.guard.Lock(req.ID)
	defer unlock()

	start := time.Now()
	outcome := outcomeFailed
	ctx, span := telemetry.StartSpan(ctx, "bot.process",
		attribute.String("request.id", req.ID),
		attribute.String("feed", p.feed.Name()),
	)
	defer func() {
		span.SetAttributes(attribute.String("outcome", outcome))
		telemetry.EndSpan(span, err)
		telemetry.Metrics.RequestsTotal.WithLabelValues(outcome).Inc()
		telemetry.Metrics.RequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	logger := telemetry.ForRequest(ctx, req.ID)

	if p.ledger.HasResponse(req.ID) {
		outcome = outcomeSkipped
		return nil
	}

	replies, err := p.feed.GetRepliesTo(ctx, req.ID, p.module.Handle())
	if err != nil {
		telemetry.Metrics.ErrorsTotal.WithLabelValues("lookup").Inc()
		return fmt.Errorf("bot: looking up replies to %s: %w", req.ID, err)
	}
	if len(replies) > 0 {
		outcome = outcomeReconciled
		text := existingReplyText(replies[0])
		if _, err := p.ledger.SetResponse(ctx, req, text); err != nil {
			logger.Warn("persisting reconciled reply", slog.String("err", err.Error()))
		}
		p.audit.Log(ctx, audit.EventReplyReconciled, req.ID, p.feed.Name(), req.AuthorHandle, replies[0].ID)
		logger.Info("reply already on feed", slog.String("reply_id", replies[0].ID))
		return nil
	}

	text, err := p.module.Respond(ctx, req)
	if err != nil {
		telemetry.Metrics.ErrorsTotal.WithLabelValues("respond").Inc()
		return fmt.Errorf("bot: responding to %s: %w", req.ID, err)
	}
	if strings.TrimSpace(text) == "" {
		text = responder.MsgEmptyResult
	}
	text = feed.Truncate(text, p.maxPostLength())

	replyID, err := p.feed.PostReply(ctx, text, req.ID)
	if err != nil {
		telemetry.Metrics.ErrorsTotal.WithLabelValues("post").Inc()
		p.audit.Log(ctx, audit.EventReplyFailed, req.ID, p.feed.Name(), req.AuthorHandle, err.Error())
		logger.Error("posting reply", slog.String("err", err.Error()))
		return fmt.Errorf("bot: posting reply to %s: %w", req.ID, err)
	}

	outcome = outcomeAnswered
	telemetry.Metrics.RepliesPosted.Inc()
	if _, err := p.ledger.SetResponse(ctx, req, text); err != nil {
		logger.Warn("persisting response", slog.String("err", err.Error()))
	}
	p.audit.Log(ctx, audit.EventReplyPosted, req.ID, p.feed.Name(), req.AuthorHandle, map[string]any{
		"reply_id": replyID,
		"module":   p.module.Name(),
		"length":   len(text),
	})
	logger.Info("reply posted", slog.String("reply_id", replyID))
	return nil
}

func (p *Processor) maxPostLength() int {
	if n := p.feed.MaxPostLength(); n > 0 {
		return n
	}
	return feed.DefaultMaxPostLength
}

// existingReplyText is what the ledger keeps for a reply found on the feed.
// Attachment-only replies have no text.
func existingReplyText(r feed.Request) string {
	if strings.TrimSpace(r.Text) != "" {
		return r.Text
	}
	return "[reply " + r.ID + "]"
}
