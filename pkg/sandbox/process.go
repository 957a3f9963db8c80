package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"go.opentelemetry.io/otel/attribute"

	"github.com/igorsilveira/codebot/pkg/safety"
	"github.com/igorsilveira/codebot/pkg/telemetry"
)

// Runner materializes a snippet as a file in its work directory and executes
// it with the profile's runtime. Every call produces exactly one Result.
type Runner struct {
	profile   Profile
	argv      []string
	filter    safety.Filter
	policy    Policy
	workDir   string
	container *Container
	newCmd    CommandFactory
	sink      Sink
	logger    *slog.Logger
}

type Option func(*Runner)

func WithFilter(f safety.Filter) Option { return func(r *Runner) { r.filter = f } }

func WithPolicy(p Policy) Option { return func(r *Runner) { r.policy = p } }

func WithContainer(c *Container) Option { return func(r *Runner) { r.container = c } }

func WithCommandFactory(f CommandFactory) Option { return func(r *Runner) { r.newCmd = f } }

// WithSink forwards every Result to s after it is produced.
func WithSink(s Sink) Option { return func(r *Runner) { r.sink = s } }

func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

func NewRunner(workDir string, profile Profile, opts ...Option) (*Runner, error) {
	if workDir == "" {
		return nil, fmt.Errorf("sandbox: work directory required")
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolving work directory: %w", err)
	}

	argv, err := shlex.Split(profile.Command)
	if err != nil {
		return nil, fmt.Errorf("sandbox: parsing command %q: %w", profile.Command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("sandbox: empty runtime command")
	}

	r := &Runner{
		profile: profile,
		argv:    argv,
		filter:  safety.NewDenylist(""),
		policy:  DefaultPolicy(),
		workDir: abs,
		newCmd:  exec.Command,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}

	if err := CheckWorkDir(r.workDir, r.policy.AllowedPaths); err != nil {
		return nil, fmt.Errorf("sandbox: work directory not allowed: %w", err)
	}
	if err := os.MkdirAll(r.workDir, 0o700); err != nil {
		return nil, fmt.Errorf("sandbox: creating work directory: %w", err)
	}
	return r, nil
}

func (r *Runner) WorkDir() string { return r.workDir }

func (r *Runner) Profile() Profile { return r.profile }

// Run classifies code, then runs the touch, chmod, write and runtime stages in
// order. A timeout kills the active stage's process group and reports
// MsgTimedOut with exit code -1.
func (r *Runner) Run(ctx context.Context, code, id string, timeout time.Duration) Result {
	ctx, span := telemetry.StartSpan(ctx, "sandbox.run",
		attribute.String("request.id", id),
		attribute.String("sandbox.language", r.profile.Language),
	)

	start := time.Now()
	res := r.run(ctx, code, id, timeout)
	res.Duration = time.Since(start)

	telemetry.Metrics.SandboxRuns.WithLabelValues(string(res.Kind)).Inc()
	telemetry.Metrics.SandboxDuration.Observe(res.Duration.Seconds())
	span.SetAttributes(
		attribute.String("sandbox.kind", string(res.Kind)),
		attribute.Int("sandbox.exit_code", res.ExitCode),
	)

	var spanErr error
	if res.Kind == KindSetup || res.Kind == KindTimeout {
		spanErr = errors.New(string(res.Kind))
	}
	telemetry.EndSpan(span, spanErr)

	r.logger.Debug("sandbox run finished",
		"request_id", id,
		"kind", res.Kind,
		"exit_code", res.ExitCode,
		"duration", res.Duration,
	)

	if r.sink != nil {
		if err := r.sink.Deliver(ctx, id, res); err != nil {
			r.logger.Warn("delivering sandbox result", "request_id", id, "err", err)
		}
	}
	return res
}

func (r *Runner) run(ctx context.Context, code, id string, timeout time.Duration) Result {
	if v := r.filter.Classify(code); !v.Allowed {
		return Result{ExitCode: 1, Output: v.Message, Kind: KindRejected}
	}

	if err := ValidateID(id); err != nil {
		return Result{ExitCode: 1, Output: MsgSetup, Stderr: err.Error(), Kind: KindSetup}
	}

	if timeout <= 0 {
		timeout = r.policy.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultPolicy().Timeout
	}

	p := &pipeline{
		stages:    r.stages(code, id),
		dir:       r.workDir,
		newCmd:    r.newCmd,
		maxOutput: r.policy.MaxOutputBytes,
	}

	done := make(chan stageResult, 1)
	go func() { done <- p.run() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var sr stageResult
	select {
	case sr = <-done:
	case <-timer.C:
		p.terminate()
		<-done
		r.removeContainer(id)
		return Result{ExitCode: -1, Output: MsgTimedOut, Kind: KindTimeout}
	case <-ctx.Done():
		p.terminate()
		<-done
		r.removeContainer(id)
		return Result{ExitCode: -1, Output: MsgTimedOut, Kind: KindTimeout}
	}

	return r.interpret(sr)
}

func (r *Runner) stages(code, id string) []Stage {
	path := ArtifactPath(r.workDir, id, r.profile.Extension)

	program, args := r.runtimeArgv(path, id)

	return []Stage{
		{Name: "touch", Program: "touch", Args: []string{path}},
		{Name: "chmod", Program: "chmod", Args: []string{"+x", path}},
		{Name: "write", Program: "sh", Args: []string{"-c", `cat > "$1"`, "sh", path}, Stdin: &code},
		{Name: "run", Program: program, Args: args},
	}
}

func (r *Runner) runtimeArgv(path, id string) (string, []string) {
	argv := make([]string, len(r.argv))
	for i, a := range r.argv {
		a = strings.ReplaceAll(a, "{src}", path)
		a = strings.ReplaceAll(a, "{dir}", r.workDir)
		argv[i] = a
	}
	if r.container != nil {
		return r.container.Wrap(r.workDir, id, argv)
	}
	return argv[0], argv[1:]
}

// removeContainer stops the request's container after a timeout. It is a no-op
// in process mode.
func (r *Runner) removeContainer(id string) {
	if r.container == nil {
		return
	}
	prog, args := r.container.Remove(id)
	out, err := r.newCmd(prog, args...).CombinedOutput()
	if err != nil {
		r.logger.Warn("removing timed out container",
			"request_id", id,
			"container", r.container.Name(id),
			"err", err,
			"output", strings.TrimSpace(string(out)),
		)
	}
}

func (r *Runner) interpret(sr stageResult) Result {
	stderr := strings.TrimSpace(string(sr.stderr))

	if sr.stage != "run" {
		code := sr.exitCode
		if code == 0 {
			code = 1
		}
		msg := stageError(sr)
		return Result{ExitCode: code, Output: msg, Stderr: msg, Kind: KindSetup}
	}

	if sr.startErr != nil {
		return Result{ExitCode: 127, Output: MsgRuntime, Stderr: sr.startErr.Error(), Kind: KindFailed}
	}

	out := strings.TrimSpace(string(sr.stdout))
	if out == "" {
		code := sr.exitCode
		if code == 0 {
			code = 1
		}
		return Result{ExitCode: code, Output: MsgNoOutput, Stderr: stderr, Kind: KindNoOutput}
	}

	res := Result{ExitCode: sr.exitCode, Output: out, Stderr: stderr, Kind: KindOK}
	if sr.overflow {
		res.Output += truncatedSuffix
		res.Truncated = true
	}
	if sr.exitCode != 0 {
		res.Kind = KindFailed
	}
	return res
}

// Sweep removes artifacts and result files older than olderThan and returns
// how many were deleted. Files the runner did not name are left alone.
func (r *Runner) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(r.workDir)
	if err != nil {
		return 0, fmt.Errorf("sandbox: reading work directory: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !isArtifact(e.Name(), r.profile.Extension) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.workDir, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("sandbox: removing %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

var _ Sandbox = (*Runner)(nil)
