package codebot

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/igorsilveira/codebot/pkg/config"
	"github.com/igorsilveira/codebot/pkg/credentials"
	"github.com/igorsilveira/codebot/pkg/responder"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	RunE:  runInit,
}

var initForce bool

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath()
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.Default()
	channel := ""

	moduleOpts := make([]huh.Option[string], 0, len(responder.Names()))
	for _, n := range responder.Names() {
		moduleOpts = append(moduleOpts, huh.NewOption(n, n))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Feed").
				Options(huh.NewOption("Slack", "slack"), huh.NewOption("Discord", "discord")).
				Value(&cfg.Feed.Kind),
			huh.NewInput().
				Title("Channel ID to watch").
				Value(&channel).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("channel ID is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Bot handle").
				Value(&cfg.Bot.Handle),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Responder module").
				Options(moduleOpts...).
				Value(&cfg.Bot.Module),
			huh.NewSelect[string]().
				Title("Sandbox mode").
				Options(huh.NewOption("Process group on this host", "process"), huh.NewOption("Container", "container")).
				Value(&cfg.Sandbox.Mode),
			huh.NewConfirm().
				Title("Serve the status API and /ws stream?").
				Value(&cfg.Gateway.Enabled),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	switch cfg.Feed.Kind {
	case "slack":
		cfg.Feed.Slack.ChannelID = channel
	case "discord":
		cfg.Feed.Discord.ChannelID = channel
	}

	if err := writeConfig(path, cfg, initForce); err != nil {
		return err
	}

	env := cfg.Feed.Slack.TokenEnv
	if cfg.Feed.Kind == "discord" {
		env = cfg.Feed.Discord.TokenEnv
	}
	fmt.Printf("Wrote %s\n", path)
	fmt.Printf("Set %s, or run: codebot credentials set %s\n", env, credentials.TokenName(cfg.Feed.Kind))
	return nil
}

// writeConfig validates cfg and writes it as TOML.
func writeConfig(path string, cfg *config.Config, force bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists", path)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0600)
}
