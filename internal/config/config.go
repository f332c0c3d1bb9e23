package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrMissingToken is returned when a platform credential cannot be found
// in the environment, the config file or the token file.
var ErrMissingToken = errors.New("missing token")

// Config is the root configuration for repp.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Slack     SlackConfig     `json:"slack"`
	Discord   DiscordConfig   `json:"discord"`
	Shell     ShellConfig     `json:"shell"`
	Triggers  TriggersConfig  `json:"triggers"`
	Directory DirectoryConfig `json:"directory"`
	Metrics   MetricsConfig   `json:"metrics"`
	Rules     RulesConfig     `json:"rules"`
}

type GeneralConfig struct {
	LogLevel               string `json:"logLevel" env:"REPP_LOG_LEVEL"`
	LogFormat              string `json:"logFormat" env:"REPP_LOG_FORMAT"` // "text" | "json"
	ShutdownTimeoutSeconds int    `json:"shutdownTimeoutSeconds"`
}

type SlackConfig struct {
	BotToken     string  `json:"botToken,omitempty" env:"SLACK_TOKEN"`
	AppToken     string  `json:"appToken,omitempty" env:"SLACK_APP_TOKEN"` // required for Socket Mode
	TokenFile    string  `json:"tokenFile"`
	AppTokenFile string  `json:"appTokenFile"`
	APIURL       string  `json:"apiUrl,omitempty"`
	SendPerSec   float64 `json:"sendPerSecond"`
	SendBurst    int     `json:"sendBurst"`
}

type DiscordConfig struct {
	Token     string `json:"token,omitempty" env:"DISCORD_TOKEN"`
	TokenFile string `json:"tokenFile"`
	GuildID   string `json:"guildId" env:"DISCORD_GUILD_ID"`
}

type ShellConfig struct {
	User   string `json:"user"`
	Prompt string `json:"prompt"`
}

// TriggersConfig bounds trigger fan-out. A negative value disables the limit.
type TriggersConfig struct {
	MaxDepth    int `json:"maxDepth"`
	MaxInFlight int `json:"maxInFlight"`
}

type DirectoryConfig struct {
	PageSize int `json:"pageSize"`
}

// MetricsConfig configures the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"REPP_METRICS_ENABLED"`
	Addr    string `json:"addr" env:"REPP_METRICS_ADDR"`
}

// RulesConfig points at the rulebook file or directory.
type RulesConfig struct {
	Path string `json:"path" env:"REPP_RULES"`
}

// DefaultConfigDir returns the default config directory (~/.repp).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".repp"
	}
	return filepath.Join(home, ".repp")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file, expands ${VAR} references, overlays the
// environment and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return finish(cfg)
}

// Read decodes a config file as written, without ${VAR} expansion or the
// environment overlay. Used to edit and save the file in place.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); errors.Is(err, os.ErrNotExist) {
		return finish(Defaults())
	}
	return Load(path)
}

func finish(cfg *Config) (*Config, error) {
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Slack.TokenFile = ExpandPath(cfg.Slack.TokenFile)
	cfg.Slack.AppTokenFile = ExpandPath(cfg.Slack.AppTokenFile)
	cfg.Discord.TokenFile = ExpandPath(cfg.Discord.TokenFile)
	cfg.Rules.Path = ExpandPath(cfg.Rules.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv loads an optional .env file and overlays environment variables.
// Variables that are set win over config file values.
func ApplyEnv(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if val := os.Getenv(groups[1]); val != "" {
			return val
		}
		if groups[2] != "" {
			return groups[2]
		}
		return match
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	// Tokens may be stored here.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if cfg.General.ShutdownTimeoutSeconds < 1 {
		errs = append(errs, "general.shutdownTimeoutSeconds must be >= 1")
	}

	if cfg.Slack.SendPerSec <= 0 {
		errs = append(errs, "slack.sendPerSecond must be > 0")
	}
	if cfg.Slack.SendBurst < 1 {
		errs = append(errs, "slack.sendBurst must be >= 1")
	}

	if cfg.Triggers.MaxDepth == 0 {
		errs = append(errs, "triggers.maxDepth must not be 0 (use -1 to disable)")
	}
	if cfg.Triggers.MaxInFlight == 0 {
		errs = append(errs, "triggers.maxInFlight must not be 0 (use -1 to disable)")
	}
	if cfg.Directory.PageSize < 1 || cfg.Directory.PageSize > 1000 {
		errs = append(errs, "directory.pageSize must be between 1 and 1000")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// SlackTokens returns the bot and app-level tokens.
func (c *Config) SlackTokens() (bot, app string, err error) {
	if bot, err = resolveToken(c.Slack.BotToken, c.Slack.TokenFile, "SLACK_TOKEN"); err != nil {
		return "", "", err
	}
	if app, err = resolveToken(c.Slack.AppToken, c.Slack.AppTokenFile, "SLACK_APP_TOKEN"); err != nil {
		return "", "", err
	}
	return bot, app, nil
}

// DiscordToken returns the bot token.
func (c *Config) DiscordToken() (string, error) {
	return resolveToken(c.Discord.Token, c.Discord.TokenFile, "DISCORD_TOKEN")
}

// resolveToken prefers the value already merged from env and config,
// then the first line of the token file.
func resolveToken(value, file, envName string) (string, error) {
	if value = strings.TrimSpace(value); value != "" {
		return value, nil
	}
	if file != "" {
		data, err := os.ReadFile(ExpandPath(file))
		if err == nil {
			if tok, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n"); tok != "" {
				return strings.TrimSpace(tok), nil
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("read token file %s: %w", file, err)
		}
	}
	return "", fmt.Errorf("%w: set %s or write it to %s", ErrMissingToken, envName, file)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
