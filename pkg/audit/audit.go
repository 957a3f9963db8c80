// Package audit keeps a durable trail of what the bot did with each request:
// sandbox runs and rejections, replies posted or reconciled, drops, and
// operator actions on the credential store.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	EventBotStart        = "bot_start"
	EventBotStop         = "bot_stop"
	EventAuthorized      = "authorized"
	EventAuthFailed      = "auth_failed"
	EventRequestSeen     = "request_seen"
	EventSandboxRun      = "sandbox_run"
	EventSandboxReject   = "sandbox_reject"
	EventReplyPosted     = "reply_posted"
	EventReplyFailed     = "reply_failed"
	EventReplyReconciled = "reply_reconciled"
	EventRequestDropped  = "request_dropped"
	EventCredSet         = "credential_set"
	EventCredDel         = "credential_del"
	EventCredRotate      = "credential_rotate"
	EventSweep           = "artifact_sweep"
	EventAuditPrune      = "audit_prune"
)

type Entry struct {
	ID        string    `gorm:"primaryKey;column:id"`
	Timestamp time.Time `gorm:"column:timestamp;not null;index:idx_audit_timestamp"`
	EventType string    `gorm:"column:event_type;not null;index:idx_audit_event"`
	RequestID string    `gorm:"column:request_id;not null;default:'';index:idx_audit_request"`
	Feed      string    `gorm:"column:feed;not null;default:''"`
	Actor     string    `gorm:"column:actor;not null;default:''"`
	Detail    string    `gorm:"column:detail;not null;default:''"`
}

func (Entry) TableName() string {
	return "audit_log"
}

// Recorder is the write side of the audit log.
type Recorder interface {
	Log(ctx context.Context, eventType, requestID, feed, actor string, detail any) error
}

type Logger struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) (*Logger, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("audit: running migrations: %w", err)
	}
	return &Logger{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// encodeDetail stores strings as-is and anything else as JSON.
func encodeDetail(detail any) string {
	switch v := detail.(type) {
	case nil:
		return ""
	case string:
		return v
	case error:
		return v.Error()
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return fmt.Sprintf("%v", detail)
	}
	return string(b)
}

func (l *Logger) Log(ctx context.Context, eventType, requestID, feed, actor string, detail any) error {
	return l.db.WithContext(ctx).Create(&Entry{
		ID:        uuid.NewString(),
		Timestamp: l.now(),
		EventType: eventType,
		RequestID: requestID,
		Feed:      feed,
		Actor:     actor,
		Detail:    encodeDetail(detail),
	}).Error
}

type Filter struct {
	EventType string
	RequestID string
	Feed      string
	Since     time.Time
	Until     time.Time
	Limit     int
}

func (f Filter) apply(q *gorm.DB) *gorm.DB {
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.RequestID != "" {
		q = q.Where("request_id = ?", f.RequestID)
	}
	if f.Feed != "" {
		q = q.Where("feed = ?", f.Feed)
	}
	if !f.Since.IsZero() {
		q = q.Where("timestamp >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("timestamp <= ?", f.Until)
	}
	return q
}

// Query returns matching entries newest first.
func (l *Logger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	q := f.apply(l.db.WithContext(ctx)).Order("timestamp DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var entries []Entry
	err := q.Find(&entries).Error
	return entries, err
}

// History returns every entry for one request in the order it happened.
func (l *Logger) History(ctx context.Context, requestID string) ([]Entry, error) {
	var entries []Entry
	err := l.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("timestamp ASC").
		Find(&entries).Error
	return entries, err
}

// Summary counts matching entries per event type. Limit is ignored.
func (l *Logger) Summary(ctx context.Context, f Filter) (map[string]int64, error) {
	var rows []struct {
		EventType string
		N         int64
	}
	err := f.apply(l.db.WithContext(ctx).Model(&Entry{})).
		Select("event_type, COUNT(*) AS n").
		Group("event_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.EventType] = r.N
	}
	return out, nil
}

// Prune deletes entries older than before and reports how many went.
func (l *Logger) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := l.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&Entry{})
	return res.RowsAffected, res.Error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Log(context.Context, string, string, string, string, any) error { return nil }

var (
	_ Recorder = (*Logger)(nil)
	_ Recorder = Nop{}
)
