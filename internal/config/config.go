package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can use "10s" notation.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all runtime configuration for the engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Vault    VaultConfig    `yaml:"vault"`
	Auth     AuthConfig     `yaml:"auth"`
	Fanout   FanoutConfig   `yaml:"fanout"`
	Payments PaymentsConfig `yaml:"payments"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type VaultConfig struct {
	// MasterKey is the hex-encoded 32-byte AES key for credential encryption.
	MasterKey string `yaml:"master_key"`
}

type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret"`
	AdminAPIKey    string `yaml:"admin_api_key"`
	AdminAPISecret string `yaml:"admin_api_secret"`
}

type FanoutConfig struct {
	// MaxConcurrency bounds parallel per-account execution so a large fanout
	// does not hammer exchange rate limits.
	MaxConcurrency int      `yaml:"max_concurrency"`
	OrderTimeout   Duration `yaml:"order_timeout"`
	SweepInterval  Duration `yaml:"sweep_interval"`
}

type PaymentsConfig struct {
	// WebhookSecrets maps a payment method name to its HMAC secret. Methods
	// absent from the map have no signature scheme.
	WebhookSecrets map[string]string `yaml:"webhook_secrets"`

	GapScanInterval Duration `yaml:"gap_scan_interval"`

	// GapGraceWindow is how long a completed payment may sit without a
	// matching subscription update before it counts as an activation gap.
	GapGraceWindow Duration `yaml:"gap_grace_window"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// Load reads configuration from the YAML file at path and applies
// environment overrides on top. A missing file is not an error; defaults
// plus the environment are enough to run.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Path: "engine.db"},
		Fanout: FanoutConfig{
			MaxConcurrency: 8,
			OrderTimeout:   Duration(10 * time.Second),
			SweepInterval:  Duration(5 * time.Minute),
		},
		Payments: PaymentsConfig{
			WebhookSecrets:  map[string]string{},
			GapScanInterval: Duration(5 * time.Minute),
			GapGraceWindow:  Duration(10 * time.Minute),
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("VAULT_MASTER_KEY"); v != "" {
		cfg.Vault.MasterKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ADMIN_API_KEY"); v != "" {
		cfg.Auth.AdminAPIKey = v
	}
	if v := os.Getenv("ADMIN_API_SECRET"); v != "" {
		cfg.Auth.AdminAPISecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
			cfg.Telegram.Enabled = true
		}
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Vault.MasterKey == "" {
		return fmt.Errorf("vault.master_key is required")
	}
	if c.Fanout.MaxConcurrency <= 0 {
		return fmt.Errorf("fanout.max_concurrency must be positive")
	}
	return nil
}
