package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/igorsilveira/codebot/pkg/config"
	"github.com/igorsilveira/codebot/pkg/sandbox"
)

func TestWrongArgumentCount(t *testing.T) {
	for _, args := range [][]string{{}, {"1"}, {"1", "2", "3"}} {
		cmd := newCommand(&bytes.Buffer{})
		cmd.SetArgs(args)
		err := cmd.Execute()
		if err == nil || !strings.HasPrefix(err.Error(), "Wrong number of arguments") {
			t.Errorf("args %v: err = %v", args, err)
		}
	}
}

// fakeRuntimeConfig runs snippets with sh instead of a compiler so the
// pipeline can be exercised anywhere.
func fakeRuntimeConfig() *config.Config {
	cfg := config.Default()
	cfg.Sandbox.Extension = ".sh"
	cfg.Sandbox.Command = "sh {src}"
	cfg.Sandbox.ImportMarker = "#!/bin/sh"
	cfg.Sandbox.Timeout = "5s"
	return cfg
}

// printRuntime echoes the argument of every print("...") line, like a
// toolchain would for a one-line program.
const printRuntime = `#!/bin/sh
sed -n 's/^print("\(.*\)")$/\1/p' "$1"
`

func printRuntimeConfig(t *testing.T) *config.Config {
	t.Helper()
	if _, err := exec.LookPath("sed"); err != nil {
		t.Skipf("sed not available: %v", err)
	}
	script := filepath.Join(t.TempDir(), "print-runtime")
	if err := os.WriteFile(script, []byte(printRuntime), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Sandbox.Command = script + " {src}"
	cfg.Sandbox.Timeout = "5s"
	return cfg
}

func TestRunWritesResultFile(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	err := run(context.Background(), fakeRuntimeConfig(), dir, "req-1", "printf 'hello'", &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out.String()) != "hello" {
		t.Errorf("stdout = %q", out.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, "req-1.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("result file = %q, %v", data, err)
	}
}

func TestRunRejectedSnippet(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	err := run(context.Background(), fakeRuntimeConfig(), dir, "req-2", "let p = Process()", &out)
	var failed errRunFailed
	if !errors.As(err, &failed) || failed.kind != sandbox.KindRejected {
		t.Fatalf("err = %v, want rejected run", err)
	}
	if !strings.Contains(out.String(), "out of process") {
		t.Errorf("stdout = %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "req-2.sh")); err == nil {
		t.Error("rejected snippet was materialized")
	}
}

func TestRunSanitizesMention(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Sandbox.Command = "cat {src}"
	cfg.Sandbox.Timeout = "5s"
	var out bytes.Buffer

	if err := run(context.Background(), cfg, dir, "req-3", "@bot print(“hi”) &amp;", &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "import Foundation\n\nprint(\"hi\") &"
	data, err := os.ReadFile(filepath.Join(dir, "req-3.swift"))
	if err != nil || string(data) != want {
		t.Errorf("artifact = %q, %v; want %q", data, err, want)
	}
	if strings.TrimSpace(out.String()) != want {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestRunSafeEcho(t *testing.T) {
	for _, input := range []string{`@bot print("hi")`, `@bot print(“hi”)`} {
		dir := t.TempDir()
		var out bytes.Buffer

		if err := run(context.Background(), printRuntimeConfig(t), dir, "echo", input, &out); err != nil {
			t.Fatalf("%s: run: %v", input, err)
		}
		if out.String() != "hi\n" {
			t.Errorf("%s: stdout = %q, want hi", input, out.String())
		}
		data, err := os.ReadFile(filepath.Join(dir, "echo.txt"))
		if err != nil || string(data) != "hi" {
			t.Errorf("%s: result file = %q, %v", input, data, err)
		}
	}
}
