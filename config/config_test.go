package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  addr: ":8088"
registry:
  alias_prefix: crew
mailbox:
  capacity: 10
  unhandled_ttl: 1h
engine:
  max_resume_chain: 3
  delivery_strategy: persist
log_level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8088" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Registry.AliasPrefix != "crew" {
		t.Errorf("AliasPrefix = %q", cfg.Registry.AliasPrefix)
	}
	if cfg.Mailbox.Capacity != 10 || cfg.Mailbox.UnhandledTTL != time.Hour {
		t.Errorf("Mailbox = %+v", cfg.Mailbox)
	}
	if cfg.Engine.MaxResumeChain != 3 || cfg.Engine.DeliveryStrategy != "persist" {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	// Untouched sections keep their defaults.
	if cfg.Auth.AdminUser != "admin" {
		t.Errorf("AdminUser = %q, want default", cfg.Auth.AdminUser)
	}
	if cfg.RecallDB != "./data/recall.db" {
		t.Errorf("RecallDB = %q, want default", cfg.RecallDB)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}
