package codebot

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/igorsilveira/codebot/pkg/config"
	"github.com/igorsilveira/codebot/pkg/credentials"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose issues with the codebot installation",
	RunE:  runDoctor,
}

type checkResult struct {
	name   string
	ok     bool
	detail string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("codebot doctor v%s\n", version)
	fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("Go: %s\n\n", runtime.Version())

	cfg, cfgCheck := checkConfig()

	checks := []checkResult{
		checkDataDir(),
		cfgCheck,
		checkDatabase(cfg),
		checkFeedToken(cfg),
		checkFeedChannel(cfg),
		checkRuntime(cfg),
		checkContainerRuntime(cfg),
		checkMasterKey(cfg),
		checkGatewayHealth(cfg),
	}

	passed, failed := 0, 0
	for _, c := range checks {
		status := "✓"
		if !c.ok {
			status = "✗"
			failed++
		} else {
			passed++
		}
		fmt.Printf("  %s %s: %s\n", status, c.name, c.detail)
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}

func checkDataDir() checkResult {
	dir := config.DataDir()
	info, err := os.Stat(dir)
	if err != nil {
		return checkResult{"Data directory", false, fmt.Sprintf("%s does not exist (run codebot init)", dir)}
	}
	if !info.IsDir() {
		return checkResult{"Data directory", false, fmt.Sprintf("%s is not a directory", dir)}
	}
	return checkResult{"Data directory", true, dir}
}

func checkConfig() (*config.Config, checkResult) {
	path := configPath()
	if _, err := os.Stat(path); err != nil {
		return config.Default(), checkResult{"Config file", false, fmt.Sprintf("%s not found (using defaults)", path)}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Default(), checkResult{"Config file", false, fmt.Sprintf("parse error: %s", err)}
	}
	return cfg, checkResult{"Config file", true, fmt.Sprintf("%s (feed %s, handle @%s)", path, cfg.Feed.Kind, cfg.Bot.Handle)}
}

func checkDatabase(cfg *config.Config) checkResult {
	info, err := os.Stat(cfg.Store.DSN)
	if err != nil {
		return checkResult{"Database", false, fmt.Sprintf("%s not found (will be created on first start)", cfg.Store.DSN)}
	}
	return checkResult{"Database", true, fmt.Sprintf("%s (%d KB)", cfg.Store.DSN, info.Size()/1024)}
}

func checkFeedToken(cfg *config.Config) checkResult {
	name := cfg.Feed.Kind + " token"
	var inline, env string
	switch cfg.Feed.Kind {
	case "slack":
		inline, env = cfg.Feed.Slack.Token, cfg.Feed.Slack.TokenEnv
	case "discord":
		inline, env = cfg.Feed.Discord.Token, cfg.Feed.Discord.TokenEnv
	}
	if token := config.Token(inline, env); token != "" {
		return checkResult{name, true, fmt.Sprintf("set (%d chars)", len(token))}
	}

	if os.Getenv(cfg.Credentials.MasterKeyEnv) != "" {
		if db, _, err := openStore(cfg); err == nil {
			defer func() { _ = db.Close() }()
			if creds, err := openCredentials(cfg, db); err == nil && creds != nil {
				if ok, _ := creds.Has(context.Background(), credentials.TokenName(cfg.Feed.Kind)); ok {
					return checkResult{name, true, "stored in credential store"}
				}
			}
		}
	}
	return checkResult{name, false, fmt.Sprintf("%s not set and no stored credential", env)}
}

func checkFeedChannel(cfg *config.Config) checkResult {
	ch := cfg.Feed.Slack.ChannelID
	if cfg.Feed.Kind == "discord" {
		ch = cfg.Feed.Discord.ChannelID
	}
	if ch == "" {
		return checkResult{"Feed channel", false, fmt.Sprintf("feed.%s.channel_id not set", cfg.Feed.Kind)}
	}
	return checkResult{"Feed channel", true, ch}
}

func checkRuntime(cfg *config.Config) checkResult {
	name := cfg.Sandbox.Language + " runtime"
	argv, err := shlex.Split(cfg.Sandbox.Command)
	if err != nil || len(argv) == 0 {
		return checkResult{name, false, fmt.Sprintf("invalid sandbox.command %q", cfg.Sandbox.Command)}
	}
	if cfg.Sandbox.Mode == "container" {
		return checkResult{name, true, fmt.Sprintf("%s inside image %s", argv[0], cfg.Sandbox.Image)}
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return checkResult{name, false, fmt.Sprintf("%s not found in PATH", argv[0])}
	}
	return checkResult{name, true, path}
}

func checkContainerRuntime(cfg *config.Config) checkResult {
	candidates := []string{"docker", "podman", "nerdctl"}
	if cfg.Sandbox.Runtime != "" {
		candidates = []string{cfg.Sandbox.Runtime}
	}
	for _, rt := range candidates {
		if path, err := exec.LookPath(rt); err == nil {
			return checkResult{"Container runtime", true, fmt.Sprintf("%s at %s", rt, path)}
		}
	}
	if cfg.Sandbox.Mode == "container" {
		return checkResult{"Container runtime", false, "no container runtime found (required by sandbox.mode = container)"}
	}
	return checkResult{"Container runtime", true, "not found (optional, process mode in use)"}
}

func checkMasterKey(cfg *config.Config) checkResult {
	if os.Getenv(cfg.Credentials.MasterKeyEnv) == "" {
		return checkResult{"Credential store", true, fmt.Sprintf("disabled (%s not set)", cfg.Credentials.MasterKeyEnv)}
	}
	return checkResult{"Credential store", true, "enabled"}
}

func checkGatewayHealth(cfg *config.Config) checkResult {
	if !cfg.Gateway.Enabled {
		return checkResult{"Gateway", true, "disabled"}
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(gatewayURL(cfg.Gateway.Port) + "/healthz")
	if err != nil {
		return checkResult{"Gateway", false, "not running"}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return checkResult{"Gateway", true, fmt.Sprintf("running at :%d", cfg.Gateway.Port)}
	}
	return checkResult{"Gateway", false, fmt.Sprintf("unhealthy (status %d)", resp.StatusCode)}
}
