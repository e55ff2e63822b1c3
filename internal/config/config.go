package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models trackline.yml.
type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Database struct {
		Workspace string `yaml:"workspace"`
	} `yaml:"database"`
	Chat struct {
		WebhookURL     string `yaml:"webhook_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"chat"`
	Coordinators []string `yaml:"coordinators"`
}

const fileName = "trackline.yml"

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// Load reads config from the workspace. A missing file yields defaults
// so the CLI works out of the box.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspace), nil
		}
		return nil, err
	}
	return FromYAML(data, workspace)
}

func FromYAML(data []byte, workspace string) (*Config, error) {
	cfg := Default(workspace)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default(workspace string) *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/v1"
	cfg.Database.Workspace = workspace
	cfg.Chat.TimeoutSeconds = 10
	return cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath == "" {
		return fmt.Errorf("config.server.base_path is required")
	}
	if c.Chat.TimeoutSeconds < 0 {
		return fmt.Errorf("config.chat.timeout_seconds must not be negative")
	}
	for i, coord := range c.Coordinators {
		if coord == "" {
			return fmt.Errorf("config.coordinators[%d] is empty", i)
		}
	}
	return nil
}
