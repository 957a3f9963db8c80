package sandbox

import (
	"context"
	"time"
)

// Kind classifies how an invocation ended.
type Kind string

const (
	KindOK       Kind = "ok"
	KindRejected Kind = "rejected"
	KindFailed   Kind = "failed"
	KindTimeout  Kind = "timeout"
	KindNoOutput Kind = "no_output"
	KindSetup    Kind = "setup"
)

const (
	MsgNoOutput = "Code did not produce any output. Did you add a print statement?"
	MsgTimedOut = "Code execution either took too long or did not produce any output."
	MsgSetup    = "The sandbox could not prepare your code for execution. Try again?"
	MsgRuntime  = "The code runtime is not available on this host."
)

type Policy struct {
	Timeout        time.Duration
	MaxOutputBytes int
	AllowedPaths   []string
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:        10 * time.Second,
		MaxOutputBytes: 64 * 1024,
	}
}

// Profile describes the language runtime the pipeline invokes.
// Command is a template; {src} expands to the artifact path and {dir} to the
// work directory.
type Profile struct {
	Language  string
	Extension string
	Command   string
}

func SwiftProfile() Profile {
	return Profile{Language: "swift", Extension: ".swift", Command: "swift {src}"}
}

// WithDefaults fills unset fields from SwiftProfile.
func (p Profile) WithDefaults() Profile {
	def := SwiftProfile()
	if p.Language == "" {
		p.Language = def.Language
	}
	if p.Extension == "" {
		p.Extension = def.Extension
	}
	if p.Command == "" {
		p.Command = def.Command
	}
	return p
}

type Result struct {
	ExitCode  int
	Output    string
	Stderr    string
	Truncated bool
	Kind      Kind
	Duration  time.Duration
}

// Succeeded reports whether the code ran to completion and printed something.
func (r Result) Succeeded() bool {
	return r.Kind == KindOK && r.ExitCode == 0
}

// Sandbox runs one snippet under a request id. A zero timeout uses the policy
// default.
type Sandbox interface {
	Run(ctx context.Context, code, id string, timeout time.Duration) Result
}

// Sink receives every Result exactly once, keyed by request id.
type Sink interface {
	Deliver(ctx context.Context, id string, r Result) error
}
