// Command coderunner sanitizes one snippet, runs it through the sandbox
// pipeline, prints the result and writes it to <requestId>.txt in the working
// directory.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/codebot/pkg/config"
	"github.com/igorsilveira/codebot/pkg/result"
	"github.com/igorsilveira/codebot/pkg/safety"
	"github.com/igorsilveira/codebot/pkg/sandbox"
	"github.com/igorsilveira/codebot/pkg/sanitize"
	"github.com/igorsilveira/codebot/pkg/telemetry"
)

// errRunFailed marks a run that completed but did not succeed. The result has
// already been printed.
type errRunFailed struct{ kind sandbox.Kind }

func (e errRunFailed) Error() string { return "run " + string(e.kind) }

func main() {
	if err := newCommand(os.Stdout).Execute(); err != nil {
		if _, ok := err.(errRunFailed); !ok {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newCommand(out io.Writer) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "coderunner <requestId> <sourceText>",
		Short:         "Run a code snippet in the sandbox",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("Wrong number of arguments [%d]", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = config.DefaultConfigPath()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			wd, err := os.Getwd()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg, wd, args[0], args[1], out)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file for the sandbox section (default: ~/.codebot/codebot.toml)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, workDir, id, code string, out io.Writer) error {
	timeout, err := cfg.SandboxTimeout()
	if err != nil {
		return err
	}
	logger := telemetry.SetupLogger(cfg.Log.Level, "text", os.Stderr)

	opts := []sandbox.Option{
		sandbox.WithFilter(safety.NewDenylist(cfg.Sandbox.AllowedLibrary)),
		sandbox.WithPolicy(sandbox.Policy{
			Timeout:        timeout,
			MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
			AllowedPaths:   cfg.Sandbox.AllowedPaths,
		}),
		sandbox.WithSink(result.NewFileSink(workDir)),
		sandbox.WithLogger(logger),
	}
	if cfg.Sandbox.Mode == "container" {
		c, err := sandbox.NewContainer(sandbox.ContainerConfig{
			Runtime:   cfg.Sandbox.Runtime,
			Image:     cfg.Sandbox.Image,
			Memory:    cfg.Sandbox.Memory,
			CPUs:      cfg.Sandbox.CPUs,
			PidsLimit: cfg.Sandbox.PidsLimit,
		})
		if err != nil {
			return err
		}
		opts = append(opts, sandbox.WithContainer(c))
	}

	runner, err := sandbox.NewRunner(workDir, sandbox.Profile{
		Language:  cfg.Sandbox.Language,
		Extension: cfg.Sandbox.Extension,
		Command:   cfg.Sandbox.Command,
	}.WithDefaults(), opts...)
	if err != nil {
		return err
	}

	code = sanitize.Options{ImportMarker: cfg.Sandbox.ImportMarker}.Sanitize(code)
	res := runner.Run(ctx, code, id, timeout)
	fmt.Fprintln(out, res.Output)
	if !res.Succeeded() {
		return errRunFailed{res.Kind}
	}
	return nil
}
