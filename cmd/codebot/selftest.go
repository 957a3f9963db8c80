package codebot

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/codebot/pkg/responder"
	"github.com/igorsilveira/codebot/pkg/telemetry"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest [module...]",
	Short: "Run the responder modules' self-tests against the configured sandbox",
	RunE:  runSelftest,
}

func runSelftest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := telemetry.SetupLogger("warn", "text", nil)
	runner, err := newSandbox(cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("creating sandbox: %w", err)
	}

	names := args
	if len(names) == 0 {
		names = responder.Names()
	}

	failed := 0
	for _, name := range names {
		c := *cfg
		c.Bot.Module = name
		m, err := newModule(&c, runner)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		start := time.Now()
		err = m.Validate(telemetry.WithLogger(ctx, logger))
		cancel()

		if err != nil {
			failed++
			fmt.Printf("  ✗ %s: %s\n", name, err)
			continue
		}
		fmt.Printf("  ✓ %s (%s)\n", name, time.Since(start).Round(time.Millisecond))
	}

	if failed > 0 {
		return fmt.Errorf("%d self-tests failed", failed)
	}
	return nil
}
