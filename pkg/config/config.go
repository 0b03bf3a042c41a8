// Package config loads the execution client configuration: a YAML file,
// overridden by EXECCLIENT_* environment variables, then validated.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "EXECCLIENT_"

type Config struct {
	App        AppConfig        `yaml:"app" envPrefix:"APP_"`
	Ledger     LedgerConfig     `yaml:"ledger" envPrefix:"LEDGER_"`
	Database   DatabaseConfig   `yaml:"database" envPrefix:"DATABASE_"`
	Poll       PollConfig       `yaml:"poll" envPrefix:"POLL_"`
	Completion CompletionConfig `yaml:"completion" envPrefix:"COMPLETION_"`
	Plugins    []PluginConfig   `yaml:"plugins" env:"-"`
	Gateway    GatewayConfig    `yaml:"gateway" envPrefix:"GATEWAY_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOG_"`
}

// AppConfig names the application scope the execution client serves.
type AppConfig struct {
	Name     string `yaml:"name" env:"NAME"`
	Identity string `yaml:"identity" env:"IDENTITY"`
	DataDir  string `yaml:"data_dir" env:"DATA_DIR"`
}

type LedgerConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	RPCURL        string `yaml:"rpc_url" env:"RPC_URL"`
	ProgramID     string `yaml:"program_id" env:"PROGRAM_ID"`
	KeypairPath   string `yaml:"keypair_path" env:"KEYPAIR_PATH"`
	Commitment    string `yaml:"commitment" env:"COMMITMENT"`
	SkipPreflight bool   `yaml:"skip_preflight" env:"SKIP_PREFLIGHT"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"` // sqlite or memory
	Path   string `yaml:"path" env:"PATH"`
}

// PollConfig controls the tick schedule. Cron, when set, wins over Interval.
// MaxAttempts, RetryBackoff and MaxBackoff bound how often a message whose
// commit failed is picked up again.
type PollConfig struct {
	Interval     time.Duration `yaml:"interval" env:"INTERVAL"`
	Cron         string        `yaml:"cron" env:"CRON"`
	Limit        int           `yaml:"limit" env:"LIMIT"`
	Topics       []string      `yaml:"topics" env:"TOPICS"`
	MaxAttempts  int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
	MaxBackoff   time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
}

// CompletionConfig selects the completion provider and its sampling
// settings.
type CompletionConfig struct {
	Provider         string        `yaml:"provider" env:"PROVIDER"`
	Model            string        `yaml:"model" env:"MODEL"`
	MaxTokens        int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature      float64       `yaml:"temperature" env:"TEMPERATURE"`
	TopP             float64       `yaml:"top_p" env:"TOP_P"`
	PresencePenalty  float64       `yaml:"presence_penalty" env:"PRESENCE_PENALTY"`
	FrequencyPenalty float64       `yaml:"frequency_penalty" env:"FREQUENCY_PENALTY"`
	APIKey           string        `yaml:"api_key" env:"API_KEY"`
	APIBase          string        `yaml:"api_base" env:"API_BASE"`
	SystemPrompt     string        `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// PluginConfig enables one registered plugin factory.
type PluginConfig struct {
	Name     string                 `yaml:"name"`
	Enabled  bool                   `yaml:"enabled"`
	Settings map[string]interface{} `yaml:"settings"`
}

type GatewayConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Host    string `yaml:"host" env:"HOST"`
	Port    int    `yaml:"port" env:"PORT"`
	APIKey  string `yaml:"api_key" env:"API_KEY"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// DefaultConfig returns a configuration that runs against a local sqlite
// store with the ledger disabled.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "default",
			Identity: "execution-client",
			DataDir:  "~/.execclient",
		},
		Ledger: LedgerConfig{
			RPCURL:      "http://127.0.0.1:8899",
			KeypairPath: "~/.config/solana/id.json",
			Commitment:  "confirmed",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "~/.execclient/execclient.db",
		},
		Poll: PollConfig{
			Interval:    60 * time.Second,
			Limit:       10,
			Topics:      []string{"general"},
			MaxAttempts: 5,
			MaxBackoff:  10 * time.Minute,
		},
		Completion: CompletionConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   512,
			Temperature: 0.7,
			TopP:        1,
			Timeout:     60 * time.Second,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads path (when it exists), applies environment overrides and
// validates the result. An empty path loads defaults plus environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(expandHome(path))
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv applies EXECCLIENT_* overrides onto target.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.App.Name) == "" {
		errs = append(errs, errors.New("app.name is required"))
	}
	if c.Ledger.Enabled {
		if c.Ledger.RPCURL == "" {
			errs = append(errs, errors.New("ledger.rpc_url is required when the ledger is enabled"))
		}
		if c.Ledger.ProgramID == "" {
			errs = append(errs, errors.New("ledger.program_id is required when the ledger is enabled"))
		}
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Poll.Cron != "" {
		if !gronx.New().IsValid(c.Poll.Cron) {
			errs = append(errs, fmt.Errorf("poll.cron %q is not a valid cron expression", c.Poll.Cron))
		}
	} else if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if c.Poll.Limit <= 0 {
		errs = append(errs, errors.New("poll.limit must be positive"))
	}
	if c.Poll.MaxAttempts < 0 || c.Poll.RetryBackoff < 0 || c.Poll.MaxBackoff < 0 {
		errs = append(errs, errors.New("poll retry settings cannot be negative"))
	}
	if c.Completion.Provider == "" {
		errs = append(errs, errors.New("completion.provider is required"))
	}
	seen := make(map[string]bool, len(c.Plugins))
	for _, p := range c.Plugins {
		if p.Name == "" {
			errs = append(errs, errors.New("plugins: entry without a name"))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("plugins: %s listed twice", p.Name))
		}
		seen[p.Name] = true
	}
	if c.Gateway.Enabled && (c.Gateway.Port <= 0 || c.Gateway.Port > 65535) {
		errs = append(errs, fmt.Errorf("gateway.port %d is out of range", c.Gateway.Port))
	}
	return errors.Join(errs...)
}

// DatabasePath returns the sqlite path with ~ expanded. A relative path is
// taken relative to the data directory.
func (c *Config) DatabasePath() string {
	return c.inDataDir(c.Database.Path)
}

// KeypairPath returns the ledger keypair path with ~ expanded.
func (c *Config) KeypairPath() string {
	return expandHome(c.Ledger.KeypairPath)
}

// DataDir returns the working directory with ~ expanded.
func (c *Config) DataDir() string {
	return expandHome(c.App.DataDir)
}

func (c *Config) inDataDir(path string) string {
	path = expandHome(path)
	if path == "" || filepath.IsAbs(path) || c.App.DataDir == "" {
		return path
	}
	return filepath.Join(c.DataDir(), path)
}

// EnabledPlugins returns the enabled plugin entries in configuration order.
func (c *Config) EnabledPlugins() []PluginConfig {
	out := make([]PluginConfig, 0, len(c.Plugins))
	for _, p := range c.Plugins {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
