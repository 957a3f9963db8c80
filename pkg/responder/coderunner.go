package responder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/sandbox"
	"github.com/igorsilveira/codebot/pkg/sanitize"
)

const MsgEmptyResult = "Code either had an error or did not produce any output.\n\nFix any mistakes and/or make sure you are printing something."

// Coderunner executes the mention's text as code and replies with its output.
type Coderunner struct {
	base
	sandbox   sandbox.Sandbox
	sanitizer sanitize.Options
	timeout   time.Duration
}

func NewCoderunner(s Settings, sb sandbox.Sandbox, opts sanitize.Options, timeout time.Duration) *Coderunner {
	return &Coderunner{base: base{s}, sandbox: sb, sanitizer: opts, timeout: timeout}
}

func (c *Coderunner) Name() string { return "coderunner" }

func (c *Coderunner) Respond(ctx context.Context, req feed.Request) (string, error) {
	code := c.sanitizer.Sanitize(req.Text)
	res := c.sandbox.Run(ctx, code, req.ID, c.timeout)
	return formatOutput(res.Output), nil
}

func formatOutput(out string) string {
	if strings.TrimSpace(out) == "" {
		out = MsgEmptyResult
	}
	return strings.TrimSpace(sanitize.Unescape(out))
}

const selfTestCode = `func tester(_ string: String) -> String {
    return "Test Success: \(string)"
}

let test: String = "codebot"

print(tester(test))`

const selfTestTimeoutCode = `var count: Int = 0

func testA() {
    while (count != -1) {
        count += 1
    }
}

testA()

print("Count: \(count)")`

// Validate runs a printing snippet and a non-terminating one through the real
// sandbox.
func (c *Coderunner) Validate(ctx context.Context) error {
	ok, err := c.Respond(ctx, feed.Request{ID: uuid.NewString(), Text: selfTestCode})
	if err != nil {
		return err
	}
	if ok != "Test Success: codebot" {
		return fmt.Errorf("responder: coderunner self-test printed %q", ok)
	}

	timeout := c.timeout
	if timeout <= 0 || timeout > 2*time.Second {
		timeout = 2 * time.Second
	}
	slow := NewCoderunner(c.settings, c.sandbox, c.sanitizer, timeout)
	got, err := slow.Respond(ctx, feed.Request{ID: uuid.NewString(), Text: selfTestTimeoutCode})
	if err != nil {
		return err
	}
	if got != sandbox.MsgTimedOut {
		return fmt.Errorf("responder: coderunner timeout self-test printed %q", got)
	}
	return nil
}

var _ Module = (*Coderunner)(nil)
