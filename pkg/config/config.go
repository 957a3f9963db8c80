package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Bot         BotConfig         `toml:"bot"`
	Sandbox     SandboxConfig     `toml:"sandbox"`
	Feed        FeedConfig        `toml:"feed"`
	Gateway     GatewayConfig     `toml:"gateway"`
	Store       StoreConfig       `toml:"store"`
	Log         LogConfig         `toml:"log"`
	Tracing     TracingConfig     `toml:"tracing"`
	Credentials CredentialsConfig `toml:"credentials"`
	Housekeep   HousekeepConfig   `toml:"housekeeping"`
}

// BotConfig selects the responder module and drives the poll loop.
type BotConfig struct {
	Module       string   `toml:"module"`
	Handle       string   `toml:"handle"`
	Thread       string   `toml:"thread"`
	Ignored      []string `toml:"ignored"`
	PollInterval string   `toml:"poll_interval"`
	Concurrency  int      `toml:"concurrency"`
	MaxAttempts  int      `toml:"max_attempts"`
	ResumeCursor bool     `toml:"resume_cursor"`
	VaultKey     string   `toml:"vault_key"`
}

type SandboxConfig struct {
	WorkDir        string   `toml:"work_dir"`
	Language       string   `toml:"language"`
	Extension      string   `toml:"extension"`
	Command        string   `toml:"command"`
	ImportMarker   string   `toml:"import_marker"`
	AllowedLibrary string   `toml:"allowed_library"`
	Timeout        string   `toml:"timeout"`
	MaxOutputBytes int      `toml:"max_output_bytes"`
	AllowedPaths   []string `toml:"allowed_paths"`
	Mode           string   `toml:"mode"`
	Image          string   `toml:"image"`
	Runtime        string   `toml:"runtime"`
	Memory         string   `toml:"memory"`
	CPUs           string   `toml:"cpus"`
	PidsLimit      int      `toml:"pids_limit"`
}

type FeedConfig struct {
	Kind    string        `toml:"kind"`
	Slack   SlackConfig   `toml:"slack"`
	Discord DiscordConfig `toml:"discord"`
}

type SlackConfig struct {
	Token     string `toml:"token"`
	TokenEnv  string `toml:"token_env"`
	ChannelID string `toml:"channel_id"`
}

type DiscordConfig struct {
	Token     string `toml:"token"`
	TokenEnv  string `toml:"token_env"`
	ChannelID string `toml:"channel_id"`
}

type GatewayConfig struct {
	Enabled   bool   `toml:"enabled"`
	Bind      string `toml:"bind"`
	Port      int    `toml:"port"`
	AuthToken string `toml:"auth_token"`
}

type StoreConfig struct {
	DSN string `toml:"dsn"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type TracingConfig struct {
	Enabled     bool    `toml:"enabled"`
	Endpoint    string  `toml:"endpoint"`
	SampleRatio float64 `toml:"sample_ratio"`
}

type CredentialsConfig struct {
	MasterKeyEnv string `toml:"master_key_env"`
}

type HousekeepConfig struct {
	Schedule       string `toml:"schedule"`
	ArtifactTTL    string `toml:"artifact_ttl"`
	AuditRetention string `toml:"audit_retention"`
}

func Default() *Config {
	return &Config{
		Bot: BotConfig{
			Module:       "coderunner",
			Handle:       "code_swift",
			PollInterval: "30s",
			Concurrency:  4,
			MaxAttempts:  3,
		},
		Sandbox: SandboxConfig{
			WorkDir:        filepath.Join(DataDir(), "sandbox"),
			Language:       "swift",
			Extension:      ".swift",
			Command:        "swift {src}",
			ImportMarker:   "import Foundation",
			AllowedLibrary: "Foundation",
			Timeout:        "10s",
			MaxOutputBytes: 64 * 1024,
			Mode:           "process",
			Image:          "swift:latest",
		},
		Feed: FeedConfig{
			Kind: "slack",
			Slack: SlackConfig{
				TokenEnv: "SLACK_BOT_TOKEN",
			},
			Discord: DiscordConfig{
				TokenEnv: "DISCORD_BOT_TOKEN",
			},
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Bind:    "loopback",
			Port:    18790,
		},
		Store: StoreConfig{
			DSN: filepath.Join(DataDir(), "codebot.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Credentials: CredentialsConfig{
			MasterKeyEnv: "CODEBOT_MASTER_KEY",
		},
		Housekeep: HousekeepConfig{
			Schedule:       "@hourly",
			ArtifactTTL:    "24h",
			AuditRetention: "720h",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Store.DSN == "" {
		cfg.Store.DSN = filepath.Join(DataDir(), "codebot.db")
	}
	if cfg.Sandbox.WorkDir == "" {
		cfg.Sandbox.WorkDir = filepath.Join(DataDir(), "sandbox")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values that would only fail later inside the poll loop.
func (c *Config) Validate() error {
	if c.Bot.Handle == "" {
		return fmt.Errorf("config: bot.handle must not be empty")
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if _, err := c.SandboxTimeout(); err != nil {
		return err
	}
	switch c.Sandbox.Mode {
	case "process", "container":
	default:
		return fmt.Errorf("config: unknown sandbox mode %q", c.Sandbox.Mode)
	}
	switch c.Feed.Kind {
	case "slack", "discord":
	default:
		return fmt.Errorf("config: unknown feed kind %q", c.Feed.Kind)
	}
	return nil
}

func (c *Config) PollInterval() (time.Duration, error) {
	return parseDuration("bot.poll_interval", c.Bot.PollInterval)
}

func (c *Config) SandboxTimeout() (time.Duration, error) {
	return parseDuration("sandbox.timeout", c.Sandbox.Timeout)
}

func (c *Config) ArtifactTTL() (time.Duration, error) {
	return parseDuration("housekeeping.artifact_ttl", c.Housekeep.ArtifactTTL)
}

func (c *Config) AuditRetention() (time.Duration, error) {
	return parseDuration("housekeeping.audit_retention", c.Housekeep.AuditRetention)
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return d, nil
}

// Token resolves an inline token first, then the named environment variable.
func Token(inline, envName string) string {
	if inline != "" {
		return inline
	}
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}

func DataDir() string {
	if dir := os.Getenv("CODEBOT_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codebot"
	}
	return filepath.Join(home, ".codebot")
}

func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "codebot.toml")
}

func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0700)
}
