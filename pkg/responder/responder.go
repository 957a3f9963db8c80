// Package responder holds the modules that turn a mention into reply text.
package responder

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/sandbox"
	"github.com/igorsilveira/codebot/pkg/sanitize"
)

type Module interface {
	Name() string

	// Handle is the account the module answers as.
	Handle() string

	// Thread restricts the module to replies under one item. Empty means
	// every mention.
	Thread() string

	// Ignored lists request ids that are never answered.
	Ignored() []string

	Respond(ctx context.Context, req feed.Request) (string, error)

	// Validate runs the module's own self-test.
	Validate(ctx context.Context) error
}

type Settings struct {
	Handle  string
	Thread  string
	Ignored []string
}

// base supplies the Settings half of Module.
type base struct {
	settings Settings
}

func (b base) Handle() string { return b.settings.Handle }

func (b base) Thread() string { return b.settings.Thread }

func (b base) Ignored() []string { return slices.Clone(b.settings.Ignored) }

// Deps carries what the modules need beyond their settings.
type Deps struct {
	Sandbox   sandbox.Sandbox
	Sanitizer sanitize.Options
	Timeout   time.Duration
	VaultKey  string
}

var names = []string{"coderunner", "encrypter", "vault"}

func Names() []string { return slices.Clone(names) }

// New builds the module registered under name.
func New(name string, s Settings, d Deps) (Module, error) {
	switch strings.ToLower(name) {
	case "coderunner", "":
		if d.Sandbox == nil {
			return nil, fmt.Errorf("responder: coderunner needs a sandbox")
		}
		return NewCoderunner(s, d.Sandbox, d.Sanitizer, d.Timeout), nil
	case "encrypter":
		return NewEncrypter(s), nil
	case "vault":
		return NewVault(s, d.VaultKey), nil
	default:
		return nil, fmt.Errorf("responder: unknown module %q (want one of %s)", name, strings.Join(names, ", "))
	}
}
