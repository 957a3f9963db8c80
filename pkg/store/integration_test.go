package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/igorsilveira/codebot/pkg/audit"
	"github.com/igorsilveira/codebot/pkg/credentials"
	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/ledger"
	"github.com/igorsilveira/codebot/pkg/store"
)

func testIntegrationStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	dsn := filepath.Join(dir, "integration.db")
	s, err := store.New(dsn)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreToCredentialsIntegration(t *testing.T) {
	s := testIntegrationStore(t)
	ctx := context.Background()

	creds, err := credentials.New(s.DB(), "test-master-key")
	if err != nil {
		t.Fatalf("credentials.New: %v", err)
	}

	if err := creds.Set(ctx, credentials.SlackToken, "xoxb-test"); err != nil {
		t.Fatalf("credentials.Set: %v", err)
	}

	val, err := creds.Get(ctx, credentials.SlackToken)
	if err != nil {
		t.Fatalf("credentials.Get: %v", err)
	}
	if val != "xoxb-test" {
		t.Errorf("Value = %q, want %q", val, "xoxb-test")
	}
}

func TestSharedDatabase(t *testing.T) {
	s := testIntegrationStore(t)
	ctx := context.Background()

	auditLog, err := audit.New(s.DB())
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	creds, err := credentials.New(s.DB(), "master")
	if err != nil {
		t.Fatalf("credentials.New: %v", err)
	}

	rec := feed.Request{ID: "42", Text: "@code_swift print(1)"}
	if err := s.SaveRecord(ctx, ledger.Record{Request: rec}); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	if err := creds.Set(ctx, "secret", "value"); err != nil {
		t.Fatalf("credentials.Set: %v", err)
	}
	if err := auditLog.Log(ctx, audit.EventRequestSeen, "42", "slack", "bot", "seen"); err != nil {
		t.Fatalf("audit.Log: %v", err)
	}

	if _, err := s.GetRecord(ctx, "42"); err != nil {
		t.Errorf("GetRecord failed: %v", err)
	}
	if _, err := creds.Get(ctx, "secret"); err != nil {
		t.Errorf("credentials.Get failed: %v", err)
	}
	entries, _ := auditLog.Query(ctx, audit.Filter{RequestID: "42"})
	if len(entries) != 1 {
		t.Errorf("audit entries = %d, want 1", len(entries))
	}
}
