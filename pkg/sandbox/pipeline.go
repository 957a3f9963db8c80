package sandbox

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// CommandFactory builds the process for one stage. Tests swap it to count or
// intercept spawns.
type CommandFactory func(name string, args ...string) *exec.Cmd

// Stage is one process in the pipeline. Stdin, when set, is written to the
// process; otherwise the previous stage's stdout is forwarded.
type Stage struct {
	Name    string
	Program string
	Args    []string
	Stdin   *string
}

type stageResult struct {
	stage    string
	exitCode int
	stdout   []byte
	stderr   []byte
	overflow bool
	startErr error
}

// pipeline runs stages strictly in sequence and aborts at the first failure.
type pipeline struct {
	stages    []Stage
	dir       string
	newCmd    CommandFactory
	maxOutput int

	mu     sync.Mutex
	active *exec.Cmd
	killed bool
}

func (p *pipeline) run() stageResult {
	var prev []byte
	var last stageResult
	for _, st := range p.stages {
		last = p.runStage(st, prev)
		if last.startErr != nil || last.exitCode != 0 {
			return last
		}
		prev = last.stdout
	}
	return last
}

func (p *pipeline) runStage(st Stage, input []byte) stageResult {
	res := stageResult{stage: st.Name}

	cmd := p.newCmd(st.Program, st.Args...)
	cmd.Dir = p.dir
	switch {
	case st.Stdin != nil:
		cmd.Stdin = strings.NewReader(*st.Stdin)
	case len(input) > 0:
		cmd.Stdin = bytes.NewReader(input)
	}
	stdout := &cappedBuffer{max: p.maxOutput}
	stderr := &cappedBuffer{max: p.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second
	startGroup(cmd)

	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		res.startErr = errKilled
		return res
	}
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		res.startErr = err
		return res
	}
	p.active = cmd
	p.mu.Unlock()

	err := cmd.Wait()

	p.mu.Lock()
	p.active = nil
	p.mu.Unlock()

	res.stdout = stdout.Bytes()
	res.stderr = stderr.Bytes()
	res.overflow = stdout.overflow
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.exitCode = exitErr.ExitCode()
		} else {
			res.exitCode = -1
		}
	}
	return res
}

// terminate kills the running stage's process group and prevents any later
// stage from starting.
func (p *pipeline) terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	if p.active != nil {
		killGroup(p.active)
	}
}

var errKilled = errors.New("sandbox: pipeline terminated")

// cappedBuffer keeps the first max bytes and drains the rest so the child
// never blocks on a full pipe.
type cappedBuffer struct {
	buf      bytes.Buffer
	max      int
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.max <= 0 {
		return b.buf.Write(p)
	}
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.overflow = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.overflow = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte { return b.buf.Bytes() }

const truncatedSuffix = "\n... (output truncated)"

func stageError(r stageResult) string {
	msg := strings.TrimSpace(string(r.stderr))
	if msg == "" && r.startErr != nil {
		msg = r.startErr.Error()
	}
	if msg == "" {
		return fmt.Sprintf("%s exited with status %d", r.stage, r.exitCode)
	}
	return fmt.Sprintf("%s: %s", r.stage, msg)
}
