// Package config defines the pocket-universe application configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Registry RegistryConfig `json:"registry" yaml:"registry"`
	Mailbox  MailboxConfig  `json:"mailbox" yaml:"mailbox"`
	Barrier  BarrierConfig  `json:"barrier" yaml:"barrier"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
	Reaper   ReaperConfig   `json:"reaper" yaml:"reaper"`
	RecallDB string         `json:"recall_db" yaml:"recall_db"`
	LogLevel string         `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the read-only observe HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// AuthConfig controls observe-dashboard authentication.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser string `json:"admin_user" yaml:"admin_user"`
	AdminPass string `json:"admin_pass" yaml:"admin_pass"`
}

// RegistryConfig controls alias assignment.
type RegistryConfig struct {
	AliasPrefix string        `json:"alias_prefix" yaml:"alias_prefix"`
	ResolveTTL  time.Duration `json:"resolve_ttl" yaml:"resolve_ttl"`
}

// MailboxConfig controls per-recipient queues.
type MailboxConfig struct {
	Capacity     int           `json:"capacity" yaml:"capacity"`
	MaxBodyLen   int           `json:"max_body_len" yaml:"max_body_len"`
	HandledTTL   time.Duration `json:"handled_ttl" yaml:"handled_ttl"`
	UnhandledTTL time.Duration `json:"unhandled_ttl" yaml:"unhandled_ttl"`
}

// BarrierConfig bounds the completion barrier.
type BarrierConfig struct {
	MaxIterations int           `json:"max_iterations" yaml:"max_iterations"`
	ChildWait     time.Duration `json:"child_wait" yaml:"child_wait"`
	PollInterval  time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

// EngineConfig controls coordination policy.
type EngineConfig struct {
	MaxResumeChain      int    `json:"max_resume_chain" yaml:"max_resume_chain"`
	MaxChildrenPerAgent int    `json:"max_children_per_agent" yaml:"max_children_per_agent"`
	DeliveryStrategy    string `json:"delivery_strategy" yaml:"delivery_strategy"` // "inbox", "resume", "persist"
}

// ReaperConfig controls the periodic sweep.
type ReaperConfig struct {
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// DefaultConfig returns a config with sensible defaults. Zero values in the
// component sections defer to each package's own defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Auth: AuthConfig{
			AdminUser: "admin",
		},
		Registry: RegistryConfig{
			AliasPrefix: "agent",
		},
		Engine: EngineConfig{
			DeliveryStrategy: "inbox",
		},
		Reaper: ReaperConfig{
			Interval: time.Minute,
		},
		RecallDB: "./data/recall.db",
		LogLevel: "info",
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
