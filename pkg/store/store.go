package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/ledger"
)

type Store struct {
	db *gorm.DB
}

func New(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}

	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		s.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if err := db.Exec("PRAGMA foreign_keys=ON").Error; err != nil {
		s.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := db.AutoMigrate(&Response{}, &State{}); err != nil {
		s.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Snapshot writes a consistent copy of the database to dest, which must not
// exist yet. It is safe while the bot is running.
func (s *Store) Snapshot(ctx context.Context, dest string) error {
	if err := s.db.WithContext(ctx).Exec("VACUUM INTO ?", dest).Error; err != nil {
		return fmt.Errorf("snapshotting database: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Response is the persisted form of a ledger record.
type Response struct {
	ID            string    `gorm:"primaryKey;column:id"`
	Text          string    `gorm:"column:text;not null;default:''"`
	AuthorID      string    `gorm:"column:author_id;not null;default:''"`
	AuthorHandle  string    `gorm:"column:author_handle;not null;default:''"`
	RequestedAt   time.Time `gorm:"column:requested_at"`
	AddressTokens string    `gorm:"column:address_tokens;not null;default:'[]'"`
	InReplyToID   string    `gorm:"column:in_reply_to_id;not null;default:''"`
	Body          string    `gorm:"column:response;not null;default:''"`
	HasResponse   bool      `gorm:"column:has_response;not null;default:false;index:idx_responses_pending"`
	RespondedAt   time.Time `gorm:"column:responded_at"`
	CreatedAt     time.Time `gorm:"column:created_at;index:idx_responses_created"`
}

func (Response) TableName() string {
	return "responses"
}

// State holds small keyed values such as the poll cursor.
type State struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (State) TableName() string {
	return "bot_state"
}

// SaveRecord inserts rec or fills in its response. A stored response is
// never overwritten.
func (s *Store) SaveRecord(ctx context.Context, rec ledger.Record) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}

	onConflict := clause.OnConflict{DoNothing: true}
	if rec.HasResponse {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"response", "has_response", "responded_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "has_response = ?", Vars: []any{false}},
			}},
		}
	}

	if err := s.db.WithContext(ctx).Clauses(onConflict).Create(row).Error; err != nil {
		return fmt.Errorf("store: saving record %s: %w", rec.Request.ID, err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (ledger.Record, error) {
	var row Response
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return ledger.Record{}, fmt.Errorf("store: record %s: %w", id, err)
	}
	return fromRow(row), nil
}

// LoadRecords returns up to limit records, most recently created first. A
// non-positive limit loads everything.
func (s *Store) LoadRecords(ctx context.Context, limit int) ([]ledger.Record, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []Response
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: loading records: %w", err)
	}

	out := make([]ledger.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

type Counts struct {
	Total     int64 `json:"total"`
	Responded int64 `json:"responded"`
}

func (s *Store) CountRecords(ctx context.Context) (Counts, error) {
	var c Counts
	db := s.db.WithContext(ctx).Model(&Response{})
	if err := db.Count(&c.Total).Error; err != nil {
		return c, err
	}
	if err := s.db.WithContext(ctx).Model(&Response{}).Where("has_response = ?", true).Count(&c.Responded).Error; err != nil {
		return c, err
	}
	return c, nil
}

func cursorKey(feedName string) string {
	return "cursor:" + feedName
}

// LoadCursor returns the saved cursor for feedName, or "" when none exists.
func (s *Store) LoadCursor(ctx context.Context, feedName string) (string, error) {
	var st State
	err := s.db.WithContext(ctx).First(&st, "key = ?", cursorKey(feedName)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: loading cursor: %w", err)
	}
	return st.Value, nil
}

func (s *Store) SaveCursor(ctx context.Context, feedName, id string) error {
	st := State{Key: cursorKey(feedName), Value: id, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&st).Error
	if err != nil {
		return fmt.Errorf("store: saving cursor: %w", err)
	}
	return nil
}

func toRow(rec ledger.Record) (*Response, error) {
	tokens := rec.Request.AddressTokens
	if tokens == nil {
		tokens = []string{}
	}
	b, err := json.Marshal(tokens)
	if err != nil {
		return nil, fmt.Errorf("store: encoding address tokens: %w", err)
	}
	return &Response{
		ID:            rec.Request.ID,
		Text:          rec.Request.Text,
		AuthorID:      rec.Request.AuthorID,
		AuthorHandle:  rec.Request.AuthorHandle,
		RequestedAt:   rec.Request.Timestamp,
		AddressTokens: string(b),
		InReplyToID:   rec.Request.InReplyToID,
		Body:          rec.Response,
		HasResponse:   rec.HasResponse,
		RespondedAt:   rec.RespondedAt,
	}, nil
}

func fromRow(r Response) ledger.Record {
	var tokens []string
	_ = json.Unmarshal([]byte(r.AddressTokens), &tokens)
	return ledger.Record{
		Request: feed.Request{
			ID:            r.ID,
			Text:          r.Text,
			AuthorID:      r.AuthorID,
			AuthorHandle:  r.AuthorHandle,
			Timestamp:     r.RequestedAt,
			AddressTokens: tokens,
			InReplyToID:   r.InReplyToID,
		},
		Response:    r.Body,
		HasResponse: r.HasResponse,
		RespondedAt: r.RespondedAt,
	}
}

var _ ledger.Persister = (*Store)(nil)
