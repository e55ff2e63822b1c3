package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Server.BasePath != "/v1" {
		t.Fatalf("defaults wrong: %+v", cfg.Server)
	}
	if cfg.Database.Workspace != dir {
		t.Fatalf("workspace = %q, want %q", cfg.Database.Workspace, dir)
	}
	if cfg.Chat.TimeoutSeconds != 10 {
		t.Fatalf("timeout = %d, want 10", cfg.Chat.TimeoutSeconds)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yml := `
server:
  addr: ":9090"
  jwt_secret: s3cret
chat:
  webhook_url: https://hooks.example.org/x
  timeout_seconds: 3
coordinators:
  - user-coord
`
	if err := os.WriteFile(filepath.Join(dir, "trackline.yml"), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.JWTSecret != "s3cret" {
		t.Fatalf("server config: %+v", cfg.Server)
	}
	// unset keys keep defaults
	if cfg.Server.BasePath != "/v1" {
		t.Fatalf("base path = %q", cfg.Server.BasePath)
	}
	if cfg.Chat.WebhookURL != "https://hooks.example.org/x" || cfg.Chat.TimeoutSeconds != 3 {
		t.Fatalf("chat config: %+v", cfg.Chat)
	}
	if len(cfg.Coordinators) != 1 || cfg.Coordinators[0] != "user-coord" {
		t.Fatalf("coordinators: %v", cfg.Coordinators)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default(".")
	cfg.Coordinators = []string{"ok", ""}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty coordinator")
	}
	cfg = Default(".")
	cfg.Chat.TimeoutSeconds = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative timeout")
	}
}
