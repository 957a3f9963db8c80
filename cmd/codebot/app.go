package codebot

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/igorsilveira/codebot/pkg/audit"
	"github.com/igorsilveira/codebot/pkg/bot"
	"github.com/igorsilveira/codebot/pkg/config"
	"github.com/igorsilveira/codebot/pkg/credentials"
	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/feed/discord"
	"github.com/igorsilveira/codebot/pkg/feed/slack"
	"github.com/igorsilveira/codebot/pkg/ledger"
	"github.com/igorsilveira/codebot/pkg/notify"
	"github.com/igorsilveira/codebot/pkg/responder"
	"github.com/igorsilveira/codebot/pkg/result"
	"github.com/igorsilveira/codebot/pkg/safety"
	"github.com/igorsilveira/codebot/pkg/sandbox"
	"github.com/igorsilveira/codebot/pkg/sanitize"
	"github.com/igorsilveira/codebot/pkg/store"
)

// openStore opens the database named in cfg along with the audit log.
func openStore(cfg *config.Config) (*store.Store, *audit.Logger, error) {
	db, err := store.New(cfg.Store.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	auditLog, err := audit.New(db.DB())
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("initializing audit logger: %w", err)
	}
	return db, auditLog, nil
}

// openCredentials returns nil without error when no master key is set.
func openCredentials(cfg *config.Config, db *store.Store) (*credentials.Store, error) {
	key := os.Getenv(cfg.Credentials.MasterKeyEnv)
	if key == "" {
		return nil, nil
	}
	return credentials.New(db.DB(), key)
}

func newSandbox(cfg *config.Config, sink sandbox.Sink, logger *slog.Logger) (*sandbox.Runner, error) {
	timeout, err := cfg.SandboxTimeout()
	if err != nil {
		return nil, err
	}

	opts := []sandbox.Option{
		sandbox.WithFilter(safety.NewDenylist(cfg.Sandbox.AllowedLibrary)),
		sandbox.WithPolicy(sandbox.Policy{
			Timeout:        timeout,
			MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
			AllowedPaths:   cfg.Sandbox.AllowedPaths,
		}),
		sandbox.WithLogger(logger),
	}
	if sink != nil {
		opts = append(opts, sandbox.WithSink(sink))
	}
	if cfg.Sandbox.Mode == "container" {
		c, err := sandbox.NewContainer(containerConfig(cfg.Sandbox))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sandbox.WithContainer(c))
	}

	return sandbox.NewRunner(cfg.Sandbox.WorkDir, sandbox.Profile{
		Language:  cfg.Sandbox.Language,
		Extension: cfg.Sandbox.Extension,
		Command:   cfg.Sandbox.Command,
	}.WithDefaults(), opts...)
}

func containerConfig(s config.SandboxConfig) sandbox.ContainerConfig {
	return sandbox.ContainerConfig{
		Runtime:   s.Runtime,
		Image:     s.Image,
		Memory:    s.Memory,
		CPUs:      s.CPUs,
		PidsLimit: s.PidsLimit,
	}
}

func newModule(cfg *config.Config, sb sandbox.Sandbox) (responder.Module, error) {
	timeout, err := cfg.SandboxTimeout()
	if err != nil {
		return nil, err
	}
	return responder.New(cfg.Bot.Module, responder.Settings{
		Handle:  cfg.Bot.Handle,
		Thread:  cfg.Bot.Thread,
		Ignored: cfg.Bot.Ignored,
	}, responder.Deps{
		Sandbox:   sb,
		Sanitizer: sanitize.Options{ImportMarker: cfg.Sandbox.ImportMarker},
		Timeout:   timeout,
		VaultKey:  cfg.Bot.VaultKey,
	})
}

// resolveToken prefers the config file or environment, then the encrypted
// credential store.
func resolveToken(ctx context.Context, creds *credentials.Store, inline, envName, credName string) (string, error) {
	token := config.Token(inline, envName)
	if token != "" || creds == nil {
		return token, nil
	}
	token, _, err := creds.Lookup(ctx, credName)
	return token, err
}

func newFeed(ctx context.Context, cfg *config.Config, creds *credentials.Store) (feed.Client, error) {
	switch cfg.Feed.Kind {
	case "slack":
		token, err := resolveToken(ctx, creds, cfg.Feed.Slack.Token, cfg.Feed.Slack.TokenEnv, credentials.SlackToken)
		if err != nil {
			return nil, err
		}
		return slack.New(token, cfg.Feed.Slack.ChannelID, slack.WithThread(cfg.Bot.Thread))
	case "discord":
		token, err := resolveToken(ctx, creds, cfg.Feed.Discord.Token, cfg.Feed.Discord.TokenEnv, credentials.DiscordToken)
		if err != nil {
			return nil, err
		}
		return discord.New(token, cfg.Feed.Discord.ChannelID, discord.WithThread(cfg.Bot.Thread))
	default:
		return nil, fmt.Errorf("unknown feed kind %q", cfg.Feed.Kind)
	}
}

// app is the assembled bot process.
type app struct {
	cfg    *config.Config
	store  *store.Store
	audit  *audit.Logger
	ledger *ledger.Ledger
	stream *result.Stream
	hub    *notify.Hub
	runner *sandbox.Runner
	module responder.Module
	feed   feed.Client
	bot    *bot.Bot
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, auditLog, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: db, audit: auditLog}

	fail := func(err error) (*app, error) {
		_ = db.Close()
		return nil, err
	}

	creds, err := openCredentials(cfg, db)
	if err != nil {
		return fail(err)
	}
	a.feed, err = newFeed(ctx, cfg, creds)
	if err != nil {
		return fail(fmt.Errorf("creating %s client: %w", cfg.Feed.Kind, err))
	}

	a.stream = result.NewStream()
	sink := result.Multi{a.stream, result.Audit{Recorder: auditLog, Feed: a.feed.Name()}}
	a.runner, err = newSandbox(cfg, sink, logger)
	if err != nil {
		return fail(fmt.Errorf("creating sandbox: %w", err))
	}
	a.module, err = newModule(cfg, a.runner)
	if err != nil {
		return fail(err)
	}

	a.ledger = ledger.New(db)
	recs, err := db.LoadRecords(ctx, 0)
	if err != nil {
		return fail(fmt.Errorf("loading responses: %w", err))
	}
	a.ledger.Restore(recs)

	interval, err := cfg.PollInterval()
	if err != nil {
		return fail(err)
	}
	a.hub = notify.NewHub(0)
	a.bot = bot.New(a.feed, a.module, a.ledger,
		bot.WithConfig(bot.Config{
			Interval:     interval,
			Concurrency:  cfg.Bot.Concurrency,
			MaxAttempts:  cfg.Bot.MaxAttempts,
			ResumeCursor: cfg.Bot.ResumeCursor,
		}),
		bot.WithObserver(a.hub),
		bot.WithAudit(auditLog),
		bot.WithCursorStore(db),
	)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
