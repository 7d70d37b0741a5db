// Package config holds the runtime settings. Values are layered: built-in
// defaults, then an optional YAML file, then TALEWEAVE_* environment
// variables. Command-line flags are applied on top by the binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"taleweave.ai/internal/tools"
)

const EnvPrefix = "TALEWEAVE_"

type Config struct {
	Addr          string `yaml:"addr" env:"ADDR"`
	MCPListen     string `yaml:"mcp_listen" env:"MCP_LISTEN"`
	MCPHMACSecret string `yaml:"mcp_hmac_secret" env:"MCP_HMAC_SECRET"`
	// MCPAllowLegacyHMAC accepts signatures without a nonce.
	MCPAllowLegacyHMAC bool `yaml:"mcp_allow_legacy_hmac" env:"MCP_ALLOW_LEGACY_HMAC"`

	GameDir string `yaml:"game_dir" env:"GAME_DIR"`
	SaveDir string `yaml:"save_dir" env:"SAVE_DIR"`
	Branch  string `yaml:"branch" env:"BRANCH"`
	// PlayerName defaults to the player's name in the game manifest.
	PlayerName string `yaml:"player_name" env:"PLAYER_NAME"`
	// WatchContent invalidates the content hash on file events.
	WatchContent bool `yaml:"watch_content" env:"WATCH_CONTENT"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	Registry   Registry   `yaml:"registry" envPrefix:"REGISTRY_"`
	Transcript Transcript `yaml:"transcript" envPrefix:"TRANSCRIPT_"`
	Curator    Curator    `yaml:"curator" envPrefix:"CURATOR_"`
}

type Registry struct {
	HistorySize int `yaml:"history_size" env:"HISTORY_SIZE"`
}

type Transcript struct {
	MaxTurns      int           `yaml:"max_turns" env:"MAX_TURNS"`
	PersistEvery  int           `yaml:"persist_every" env:"PERSIST_EVERY"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
}

type Curator struct {
	CacheCeiling     int `yaml:"cache_ceiling" env:"CACHE_CEILING"`
	DefaultMaxTokens int `yaml:"default_max_tokens" env:"DEFAULT_MAX_TOKENS"`
}

func Defaults() Config {
	return Config{
		Addr:         ":8080",
		MCPListen:    "127.0.0.1:8090",
		GameDir:      "./game",
		SaveDir:      "./data/save",
		WatchContent: true,
		LogLevel:     "info",
		LogFormat:    "json",
		Registry:     Registry{HistorySize: tools.MinHistorySize},
		Transcript: Transcript{
			MaxTurns:      1000,
			PersistEvery:  10,
			FlushInterval: 30 * time.Second,
		},
		Curator: Curator{
			CacheCeiling:     50,
			DefaultMaxTokens: 2000,
		},
	}
}

// Load layers path (skipped when empty or missing) and the environment over
// Defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is empty"))
	}
	if strings.TrimSpace(c.GameDir) == "" {
		errs = append(errs, errors.New("game_dir is empty"))
	}
	if strings.TrimSpace(c.SaveDir) == "" {
		errs = append(errs, errors.New("save_dir is empty"))
	}
	if c.Registry.HistorySize < tools.MinHistorySize {
		errs = append(errs, fmt.Errorf("registry.history_size must be >= %d, got %d", tools.MinHistorySize, c.Registry.HistorySize))
	}
	if c.Transcript.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("transcript.max_turns must be positive, got %d", c.Transcript.MaxTurns))
	}
	if c.Transcript.PersistEvery <= 0 {
		errs = append(errs, fmt.Errorf("transcript.persist_every must be positive, got %d", c.Transcript.PersistEvery))
	}
	if c.Transcript.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("transcript.flush_interval is negative"))
	}
	if c.Curator.CacheCeiling <= 0 {
		errs = append(errs, fmt.Errorf("curator.cache_ceiling must be positive, got %d", c.Curator.CacheCeiling))
	}
	if c.Curator.DefaultMaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("curator.default_max_tokens must be positive, got %d", c.Curator.DefaultMaxTokens))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log_format must be json or console, got %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
