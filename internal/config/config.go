// Package config loads and validates the Docverse configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for Docverse.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Platform PlatformConfig `json:"platform"`
	Webhook  WebhookConfig  `json:"webhook"`
	Dedup    DedupConfig    `json:"dedup"`
	Jobs     JobsConfig     `json:"jobs"`
	Storage  StorageConfig  `json:"storage"`
	Replies  RepliesConfig  `json:"replies"`
}

type GeneralConfig struct {
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
	Workers  int    `json:"workers"`
	BusSize  int    `json:"busSize"`
}

// PlatformConfig selects the messaging platform adapter.
type PlatformConfig struct {
	Kind     string         `json:"kind"` // "whatsapp" | "telegram"
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
}

type WhatsAppConfig struct {
	AccessToken   string `json:"accessToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	AppSecret     string `json:"appSecret,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
}

type WebhookConfig struct {
	Port int    `json:"port"`
	Path string `json:"path"`
}

// DedupConfig tunes the claim windows of the deduplication ledger.
type DedupConfig struct {
	InboundTTLMinutes int `json:"inboundTtlMinutes"` // message-claim window
	ReplyTTLMinutes   int `json:"replyTtlMinutes"`   // reply-kind claim window
	SweepMinutes      int `json:"sweepMinutes"`      // expired-claim sweep interval
}

// JobsConfig tunes the document tracker.
type JobsConfig struct {
	LeaseMinutes  int `json:"leaseMinutes"`  // worker lease on an in-flight job
	RetentionDays int `json:"retentionDays"` // terminal-record retention
}

type StorageConfig struct {
	Root string `json:"root"`
}

type RepliesConfig struct {
	Path string `json:"path,omitempty"` // optional YAML override file
}

// DefaultConfigDir returns the default config directory (~/.docverse).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docverse"
	}
	return filepath.Join(home, ".docverse")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Storage.Root = ExpandPath(cfg.Storage.Root)
	cfg.Replies.Path = ExpandPath(cfg.Replies.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.Workers < 1 || cfg.General.Workers > 64 {
		errs = append(errs, "general.workers must be between 1 and 64")
	}
	if cfg.General.BusSize < 1 {
		errs = append(errs, "general.busSize must be >= 1")
	}
	if cfg.Webhook.Port < 0 || cfg.Webhook.Port > 65535 {
		errs = append(errs, "webhook.port must be between 0 and 65535")
	}

	switch cfg.Platform.Kind {
	case "whatsapp":
		if cfg.Platform.WhatsApp.PhoneNumberID == "" {
			errs = append(errs, "platform.whatsapp.phoneNumberId is required")
		}
	case "telegram":
		if cfg.Platform.Telegram.Token == "" {
			errs = append(errs, "platform.telegram.token is required")
		}
	default:
		errs = append(errs, "platform.kind must be one of: whatsapp, telegram")
	}

	if cfg.Dedup.InboundTTLMinutes < 1 {
		errs = append(errs, "dedup.inboundTtlMinutes must be >= 1")
	}
	if cfg.Dedup.ReplyTTLMinutes < 1 {
		errs = append(errs, "dedup.replyTtlMinutes must be >= 1")
	}
	if cfg.Dedup.SweepMinutes < 1 {
		errs = append(errs, "dedup.sweepMinutes must be >= 1")
	}
	if cfg.Jobs.LeaseMinutes < 1 {
		errs = append(errs, "jobs.leaseMinutes must be >= 1")
	}
	if cfg.Jobs.RetentionDays < 1 {
		errs = append(errs, "jobs.retentionDays must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
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
