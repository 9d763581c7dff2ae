// Package config loads the server configuration from an HCL file with
// environment variable overrides on top.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerSettings   `hcl:"server,block"`
	Database DatabaseSettings `hcl:"database,block"`
	Game     GameSettings     `hcl:"game,block"`
	Fanout   FanoutSettings   `hcl:"fanout,block"`
}

// ServerSettings contains listener-level configuration.
type ServerSettings struct {
	Address  string `hcl:"address,optional" env:"POKER3_ADDRESS"`
	Port     int    `hcl:"port,optional" env:"POKER3_PORT"`
	LogLevel string `hcl:"log_level,optional" env:"POKER3_LOG_LEVEL"`
	LogFile  string `hcl:"log_file,optional" env:"POKER3_LOG_FILE"`
}

// DatabaseSettings points at the shared game database.
type DatabaseSettings struct {
	DSN string `hcl:"dsn,optional" env:"POKER3_DATABASE_DSN"`
}

// GameSettings tunes room behavior. Zero values take the built-in
// defaults.
type GameSettings struct {
	DevAuth      bool  `hcl:"dev_auth,optional" env:"POKER3_DEV_AUTH"`
	TournamentID int64 `hcl:"tournament_id,optional" env:"POKER3_TOURNAMENT_ID"`
}

// FanoutSettings configures the cross-server event bus. An empty URL
// disables fanout.
type FanoutSettings struct {
	URL     string `hcl:"url,optional" env:"POKER3_NATS_URL"`
	Subject string `hcl:"subject,optional" env:"POKER3_NATS_SUBJECT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerSettings{
			Address:  "0.0.0.0",
			Port:     8080,
			LogLevel: "info",
		},
		Fanout: FanoutSettings{
			Subject: "poker3.events",
		},
	}
}

// Load reads the HCL file, falling back to defaults when it does not
// exist, then applies environment overrides.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			parser := hclparse.NewParser()
			file, diags := parser.ParseHCLFile(filename)
			if diags.HasErrors() {
				return nil, fmt.Errorf("parse %s: %s", filename, diags.Error())
			}
			if diags := gohcl.DecodeBody(file.Body, nil, cfg); diags.HasErrors() {
				return nil, fmt.Errorf("decode %s: %s", filename, diags.Error())
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Address == "" {
		cfg.Server.Address = def.Server.Address
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Fanout.Subject == "" {
		cfg.Fanout.Subject = def.Fanout.Subject
	}
}

// Validate checks the configuration for startup.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	return nil
}

// ListenAddress returns the full bind address.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
