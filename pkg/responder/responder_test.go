package responder

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/sandbox"
	"github.com/igorsilveira/codebot/pkg/sanitize"
)

type fakeSandbox struct {
	mu       sync.Mutex
	codes    []string
	timeouts []time.Duration
	run      func(code string) sandbox.Result
}

func (f *fakeSandbox) Run(_ context.Context, code, _ string, timeout time.Duration) sandbox.Result {
	f.mu.Lock()
	f.codes = append(f.codes, code)
	f.timeouts = append(f.timeouts, timeout)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(code)
	}
	return sandbox.Result{}
}

func TestCoderunnerRespond(t *testing.T) {
	sb := &fakeSandbox{run: func(string) sandbox.Result {
		return sandbox.Result{Output: "  a &amp; b\n", Kind: sandbox.KindOK}
	}}
	c := NewCoderunner(Settings{Handle: "code_swift"}, sb, sanitize.Options{ImportMarker: "import Foundation"}, 10*time.Second)

	got, err := c.Respond(context.Background(), feed.Request{ID: "1", Text: `@code_swift print(“hi”)`})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "a & b" {
		t.Errorf("Respond = %q, want %q", got, "a & b")
	}
	if want := "import Foundation\n\nprint(\"hi\")"; sb.codes[0] != want {
		t.Errorf("sandbox got %q, want %q", sb.codes[0], want)
	}
	if sb.timeouts[0] != 10*time.Second {
		t.Errorf("timeout = %s", sb.timeouts[0])
	}
}

func TestCoderunnerSafeEcho(t *testing.T) {
	for _, bin := range []string{"sh", "touch", "chmod", "sed"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available: %v", bin, err)
		}
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "print-runtime")
	body := "#!/bin/sh\nsed -n 's/^print(\"\\(.*\\)\")$/\\1/p' \"$1\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	var results []sandbox.Result
	sb, err := sandbox.NewRunner(filepath.Join(dir, "work"), sandbox.Profile{
		Language:  "swift",
		Extension: ".swift",
		Command:   script + " {src}",
	}, sandbox.WithSink(sinkFunc(func(r sandbox.Result) { results = append(results, r) })))
	if err != nil {
		t.Fatal(err)
	}
	c := NewCoderunner(Settings{Handle: "code_swift"}, sb, sanitize.Options{ImportMarker: sanitize.DefaultImportMarker}, 5*time.Second)

	got, err := c.Respond(context.Background(), feed.Request{ID: "500", Text: `@code_swift print("hi")`})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "hi" {
		t.Errorf("Respond = %q, want hi", got)
	}
	if len(results) != 1 || results[0].ExitCode != 0 || results[0].Output != "hi" || results[0].Kind != sandbox.KindOK {
		t.Errorf("results = %+v, want one {0, hi}", results)
	}
}

type sinkFunc func(sandbox.Result)

func (f sinkFunc) Deliver(_ context.Context, _ string, r sandbox.Result) error {
	f(r)
	return nil
}

func TestCoderunnerEmptyResult(t *testing.T) {
	c := NewCoderunner(Settings{}, &fakeSandbox{}, sanitize.Options{}, time.Second)

	got, _ := c.Respond(context.Background(), feed.Request{ID: "1", Text: "x"})
	if got != MsgEmptyResult {
		t.Errorf("Respond = %q, want the empty-result message", got)
	}
}

func TestCoderunnerValidate(t *testing.T) {
	sb := &fakeSandbox{run: func(code string) sandbox.Result {
		if strings.Contains(code, "while") {
			return sandbox.Result{ExitCode: -1, Output: sandbox.MsgTimedOut, Kind: sandbox.KindTimeout}
		}
		return sandbox.Result{Output: "Test Success: codebot", Kind: sandbox.KindOK}
	}}
	c := NewCoderunner(Settings{}, sb, sanitize.Options{ImportMarker: sanitize.DefaultImportMarker}, 10*time.Second)

	if err := c.Validate(context.Background()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if sb.timeouts[1] != 2*time.Second {
		t.Errorf("timeout self-test used %s, want a short timeout", sb.timeouts[1])
	}

	broken := NewCoderunner(Settings{}, &fakeSandbox{}, sanitize.Options{}, time.Second)
	if err := broken.Validate(context.Background()); err == nil {
		t.Error("expected self-test failure")
	}
}

func TestEncrypter(t *testing.T) {
	e := NewEncrypter(Settings{Handle: "code_swift"})

	got, _ := e.Respond(context.Background(), feed.Request{Text: "@code_swift abc"})
	if got != "bdf" {
		t.Errorf("Respond = %q, want %q", got, "bdf")
	}
	if Decrypt(Encrypt("héllo 🟢")) != "héllo 🟢" {
		t.Error("round trip lost data")
	}
	if err := e.Validate(context.Background()); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestVaultScore(t *testing.T) {
	v := NewVault(Settings{}, "")

	tests := []struct {
		guess string
		want  string
	}{
		{"#ABBY", "🟢🟢🟢"},
		{"AAAAAA", "🟢⬇️⬆️"},
		{"A", "⬇️⬇️⚫️"},
		{"", "⬆️⚫️⚫️"},
	}
	for _, tt := range tests {
		if got := v.Score(tt.guess); got != tt.want {
			t.Errorf("Score(%q) = %q, want %q", tt.guess, got, tt.want)
		}
	}

	got, _ := v.Respond(context.Background(), feed.Request{Text: "@code_swift #ABBY"})
	if got != "🟢🟢🟢" {
		t.Errorf("Respond = %q, want a win", got)
	}
	if err := v.Validate(context.Background()); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := NewVault(Settings{}, "12a").Validate(context.Background()); err == nil {
		t.Error("non-numeric key should fail validation")
	}
}

func TestNew(t *testing.T) {
	s := Settings{Handle: "code_swift", Thread: "99", Ignored: []string{"1203814934510858240"}}
	d := Deps{Sandbox: &fakeSandbox{}}

	for _, name := range Names() {
		m, err := New(name, s, d)
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if m.Name() != name {
			t.Errorf("Name = %q, want %q", m.Name(), name)
		}
		if m.Handle() != "code_swift" || m.Thread() != "99" || len(m.Ignored()) != 1 {
			t.Errorf("%s settings = %q %q %v", name, m.Handle(), m.Thread(), m.Ignored())
		}
	}

	if _, err := New("oracle", s, d); err == nil {
		t.Error("expected error for unknown module")
	}
	if _, err := New("coderunner", s, Deps{}); err == nil {
		t.Error("expected error without sandbox")
	}
}
