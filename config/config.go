// Package config defines the agency daemon configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level agency configuration.
type Config struct {
	Server       ServerConfig   `json:"server" yaml:"server"`
	Auth         AuthConfig     `json:"auth" yaml:"auth"`
	Provider     ProviderConfig `json:"provider" yaml:"provider"`
	Batch        BatchConfig    `json:"batch" yaml:"batch"`
	Backup       BackupConfig   `json:"backup" yaml:"backup"`
	Agents       []AgentConfig  `json:"agents" yaml:"agents"`
	KnownAgents  []string       `json:"known_agents,omitempty" yaml:"known_agents"`
	Instructions string         `json:"instructions,omitempty" yaml:"instructions"` // orchestrator system prompt
	DataDir      string         `json:"data_dir" yaml:"data_dir"`
	LogLevel     string         `json:"log_level" yaml:"log_level"`
	LogFormat    string         `json:"log_format" yaml:"log_format"` // "text" or "json"
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr      string          `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig bounds requests per endpoint.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int `json:"burst" yaml:"burst"`
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	JWTSecret string        `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser string        `json:"admin_user" yaml:"admin_user"`
	AdminPass string        `json:"admin_pass" yaml:"admin_pass"` // bcrypt hash
	TokenTTL  time.Duration `json:"token_ttl" yaml:"token_ttl"`
}

// ProviderConfig selects and configures the chat-completion backend.
type ProviderConfig struct {
	Kind       string        `json:"kind" yaml:"kind"` // "mock", "openai", "azure"
	BaseURL    string        `json:"base_url,omitempty" yaml:"base_url"`
	APIKey     string        `json:"-" yaml:"api_key"`
	Model      string        `json:"model,omitempty" yaml:"model"`
	Deployment string        `json:"deployment,omitempty" yaml:"deployment"`
	APIVersion string        `json:"api_version,omitempty" yaml:"api_version"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// BatchConfig is the update batcher's default policy.
type BatchConfig struct {
	MaxBatchSize  int           `json:"max_batch_size" yaml:"max_batch_size"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	FlushPriority int           `json:"flush_priority" yaml:"flush_priority"`
}

// BackupConfig controls scheduled database backups. An empty Schedule disables them.
type BackupConfig struct {
	Dir      string `json:"dir" yaml:"dir"`
	Schedule string `json:"schedule" yaml:"schedule"` // cron expression or @every descriptor
	Keep     int    `json:"keep" yaml:"keep"`
}

// AgentConfig defines a single worker agent.
type AgentConfig struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Role         string `json:"role" yaml:"role"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
	IsLead       bool   `json:"is_lead,omitempty" yaml:"is_lead"`
	TeamID       string `json:"team_id,omitempty" yaml:"team_id"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":9090",
			RateLimit: RateLimitConfig{RequestsPerMinute: 60, Burst: 10},
		},
		Auth: AuthConfig{
			AdminUser: "admin",
			TokenTTL:  24 * time.Hour,
		},
		Provider: ProviderConfig{
			Kind:       "mock",
			MaxRetries: 3,
			Timeout:    60 * time.Second,
		},
		Batch: BatchConfig{
			MaxBatchSize:  5,
			Timeout:       150 * time.Second,
			FlushPriority: 3,
		},
		Backup: BackupConfig{
			Schedule: "@every 6h",
			Keep:     5,
		},
		Agents: []AgentConfig{
			{
				ID:           "Research",
				Name:         "Research",
				Role:         "researcher",
				SystemPrompt: "You are the research agent. Gather the information a task needs and report back concisely.",
				TeamID:       "default",
			},
		},
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a YAML config file over the defaults and applies environment overrides.
// An empty path yields the defaults with overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from AGENCY_* variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	overrides := map[string]*string{
		"AGENCY_DATA_DIR":         &c.DataDir,
		"AGENCY_LOG_LEVEL":        &c.LogLevel,
		"AGENCY_JWT_SECRET":       &c.Auth.JWTSecret,
		"AGENCY_PROVIDER_API_KEY": &c.Provider.APIKey,
		"AGENCY_ADDR":             &c.Server.Addr,
	}
	for key, field := range overrides {
		if v := getenv(key); v != "" {
			*field = v
		}
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	switch c.Provider.Kind {
	case "mock", "openai":
	case "azure":
		if c.Provider.BaseURL == "" || c.Provider.Deployment == "" {
			errs = append(errs, errors.New("provider azure requires base_url and deployment"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider kind %q must be mock, openai or azure", c.Provider.Kind))
	}
	if c.Provider.MaxRetries < 1 {
		errs = append(errs, errors.New("provider max_retries must be at least 1"))
	}
	if c.Batch.MaxBatchSize < 1 {
		errs = append(errs, errors.New("batch max_batch_size must be at least 1"))
	}
	if c.Batch.Timeout <= 0 {
		errs = append(errs, errors.New("batch timeout must be positive"))
	}
	if c.Batch.FlushPriority < 1 || c.Batch.FlushPriority > 5 {
		errs = append(errs, fmt.Errorf("batch flush_priority %d out of range 1-5", c.Batch.FlushPriority))
	}
	if c.Backup.Keep < 1 {
		errs = append(errs, errors.New("backup keep must be at least 1"))
	}
	if c.Server.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("server rate_limit requests_per_minute cannot be negative"))
	}
	seen := map[string]bool{}
	for _, a := range c.Agents {
		if a.ID == "" {
			errs = append(errs, errors.New("agent id is required"))
			continue
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Errorf("duplicate agent id %q", a.ID))
		}
		seen[a.ID] = true
	}
	return errors.Join(errs...)
}

// DBPath is the SQLite database file inside DataDir.
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "agency.db") }

// BackupDir is Backup.Dir, defaulting to a directory under DataDir.
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.DataDir, "backups")
}

// AgentNames returns KnownAgents plus the configured agents' names, deduplicated.
func (c *Config) AgentNames() []string {
	var names []string
	add := func(n string) {
		for _, have := range names {
			if strings.EqualFold(have, n) {
				return
			}
		}
		names = append(names, n)
	}
	for _, n := range c.KnownAgents {
		add(n)
	}
	for _, a := range c.Agents {
		if a.Name != "" {
			add(a.Name)
		} else {
			add(a.ID)
		}
	}
	return names
}

// NewLogger builds the slog logger described by LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", s, err)
	}
	return level, nil
}
