package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/ledger"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dsn := filepath.Join(dir, "test.db")
	s, err := New(dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id string) ledger.Record {
	return ledger.Record{Request: feed.Request{
		ID:            id,
		Text:          "@code_swift print(1)",
		AuthorID:      "U1",
		AuthorHandle:  "alice",
		Timestamp:     time.Date(2024, 4, 5, 10, 0, 0, 0, time.UTC),
		AddressTokens: []string{"@code_swift"},
	}}
}

func TestSaveAndGetRecord(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveRecord(ctx, testRecord("1")); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	got, err := s.GetRecord(ctx, "1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Request.AuthorHandle != "alice" {
		t.Errorf("AuthorHandle = %q, want alice", got.Request.AuthorHandle)
	}
	if len(got.Request.AddressTokens) != 1 || got.Request.AddressTokens[0] != "@code_swift" {
		t.Errorf("AddressTokens = %v", got.Request.AddressTokens)
	}
	if got.HasResponse {
		t.Error("HasResponse = true, want false")
	}
}

func TestSaveRecordResponseIsMonotonic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := testRecord("2")
	s.SaveRecord(ctx, rec)

	rec.Response = "1"
	rec.HasResponse = true
	rec.RespondedAt = time.Now().UTC()
	if err := s.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRecord with response: %v", err)
	}

	rec.Response = "overwritten"
	if err := s.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("second SaveRecord: %v", err)
	}

	// a bare re-merge must not clear the response either
	if err := s.SaveRecord(ctx, testRecord("2")); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRecord(ctx, "2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Response != "1" || !got.HasResponse {
		t.Errorf("record = %+v, want first response kept", got)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetRecord(context.Background(), "missing")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected gorm.ErrRecordNotFound, got: %v", err)
	}
}

func TestLoadRecordsAndCounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"10", "11", "12"} {
		if err := s.SaveRecord(ctx, testRecord(id)); err != nil {
			t.Fatal(err)
		}
	}
	answered := testRecord("11")
	answered.Response = "ok"
	answered.HasResponse = true
	s.SaveRecord(ctx, answered)

	all, err := s.LoadRecords(ctx, 0)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("loaded %d records, want 3", len(all))
	}

	two, _ := s.LoadRecords(ctx, 2)
	if len(two) != 2 {
		t.Errorf("limit 2 loaded %d", len(two))
	}

	c, err := s.CountRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.Total != 3 || c.Responded != 1 {
		t.Errorf("Counts = %+v, want 3 total, 1 responded", c)
	}
}

func TestCursor(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	got, err := s.LoadCursor(ctx, "slack")
	if err != nil || got != "" {
		t.Fatalf("LoadCursor on empty store = %q, %v", got, err)
	}

	s.SaveCursor(ctx, "slack", "100")
	s.SaveCursor(ctx, "slack", "105")
	s.SaveCursor(ctx, "discord", "7")

	if got, _ := s.LoadCursor(ctx, "slack"); got != "105" {
		t.Errorf("slack cursor = %q, want 105", got)
	}
	if got, _ := s.LoadCursor(ctx, "discord"); got != "7" {
		t.Errorf("discord cursor = %q, want 7", got)
	}
}

func TestLedgerPersistsThroughStore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	l := ledger.New(s)
	l.Merge(ctx, []feed.Request{testRecord("20").Request})
	if _, err := l.SetResponse(ctx, testRecord("20").Request, "Hello"); err != nil {
		t.Fatalf("SetResponse: %v", err)
	}

	recs, err := s.LoadRecords(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	restored := ledger.New(nil)
	restored.Restore(recs)
	if rec, ok := restored.Get("20"); !ok || rec.Response != "Hello" {
		t.Errorf("restored record = %+v, %v", rec, ok)
	}
}

func TestDBAccessor(t *testing.T) {
	s := testStore(t)
	if s.DB() == nil {
		t.Fatal("DB() returned nil")
	}
}

func TestWALModeEnabled(t *testing.T) {
	s := testStore(t)

	sqlDB, err := s.DB().DB()
	if err != nil {
		t.Fatalf("getting sql.DB: %v", err)
	}

	var mode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
}

func TestAutoMigrateIdempotent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "idempotent.db")

	s1, err := New(dsn)
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	s1.Close()

	s2, err := New(dsn)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	s2.Close()
}

func TestSnapshot(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.SaveRecord(ctx, testRecord("7")); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "snap.db")
	if err := s.Snapshot(ctx, dest); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := s.Snapshot(ctx, dest); err == nil {
		t.Error("expected error when the destination exists")
	}

	copied, err := New(dest)
	if err != nil {
		t.Fatalf("opening snapshot: %v", err)
	}
	defer copied.Close()
	if _, err := copied.GetRecord(ctx, "7"); err != nil {
		t.Errorf("record missing from snapshot: %v", err)
	}
}
