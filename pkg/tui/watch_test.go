package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/ledger"
	"github.com/igorsilveira/codebot/pkg/notify"
)

func feedEvents(t *testing.T, m Model, events ...notify.Event) Model {
	t.Helper()
	for _, ev := range events {
		next, cmd := m.Update(eventMsg(ev))
		if cmd == nil {
			t.Fatal("event handling should keep listening")
		}
		m = next.(Model)
	}
	return m
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

func TestModelAppliesEvents(t *testing.T) {
	yes := true
	records := []ledger.Record{
		{Request: feed.Request{ID: "200", Text: "@code_swift print(2)", AuthorHandle: "ana"}},
		{Request: feed.Request{ID: "100", Text: "@code_swift print(1)", AuthorHandle: "bo"}, Response: "1", HasResponse: true},
	}
	m := feedEvents(t, sized(NewModel("codebot", nil)),
		notify.Event{Type: notify.EventAuthorization, Authorized: &yes},
		notify.Event{Type: notify.EventSync, SyncCount: 4},
		notify.Event{Type: notify.EventResponses, Records: records},
		notify.Event{Type: notify.EventResult, Result: &notify.ResultEvent{RequestID: "100", Kind: "ok", DurationMS: 250}},
	)

	if !m.authorized || m.syncCount != 4 || len(m.records) != 2 || len(m.results) != 1 {
		t.Fatalf("model = %+v", m)
	}

	view := m.View()
	for _, want := range []string{"authorized", "syncs 4", "requests 2", "pending 1", "@ana", "250ms"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelSelectionShowsResponse(t *testing.T) {
	records := []ledger.Record{
		{Request: feed.Request{ID: "2"}},
		{Request: feed.Request{ID: "1"}, Response: "forty-two", HasResponse: true},
	}
	m := feedEvents(t, sized(NewModel("codebot", nil)), notify.Event{Type: notify.EventResponses, Records: records})

	if strings.Contains(m.View(), "forty-two") {
		t.Error("response shown for unselected record")
	}
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	m = next.(Model)
	if m.selected != 1 {
		t.Fatalf("selected = %d, want 1", m.selected)
	}
	if !strings.Contains(m.View(), "forty-two") {
		t.Error("selected response not shown")
	}

	// selection stays in range when the list shrinks
	m = feedEvents(t, m, notify.Event{Type: notify.EventResponses, Records: records[:1]})
	if m.selected != 0 {
		t.Errorf("selected = %d after shrink, want 0", m.selected)
	}
}

func TestModelKeepsRecentResults(t *testing.T) {
	m := sized(NewModel("codebot", nil))
	for i := range maxResults + 3 {
		m = feedEvents(t, m, notify.Event{Type: notify.EventResult, Result: &notify.ResultEvent{RequestID: string(rune('a' + i))}})
	}
	if len(m.results) != maxResults {
		t.Errorf("results = %d, want %d", len(m.results), maxResults)
	}
	if m.results[0].RequestID != string(rune('a'+maxResults+2)) {
		t.Errorf("newest result first, got %q", m.results[0].RequestID)
	}
}

func TestModelStreamError(t *testing.T) {
	m := sized(NewModel("codebot", nil))
	next, cmd := m.Update(streamErrMsg{errors.New("connection reset")})
	if cmd != nil {
		t.Error("should stop listening after a stream error")
	}
	if !strings.Contains(next.(Model).View(), "connection reset") {
		t.Error("error not shown")
	}
}

func TestModelListen(t *testing.T) {
	m := NewModel("codebot", func() (notify.Event, error) {
		return notify.Event{Type: notify.EventSync, SyncCount: 1}, nil
	})
	msg := m.Init()()
	ev, ok := msg.(eventMsg)
	if !ok || ev.SyncCount != 1 {
		t.Errorf("Init produced %#v", msg)
	}
}

func TestModelQuit(t *testing.T) {
	m := NewModel("codebot", nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}
