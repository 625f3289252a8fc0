package config

import (
	"fmt"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Port             int           `mapstructure:"port" yaml:"port"`
	MaxClients       int           `mapstructure:"max_clients" yaml:"max_clients"`
	LogPath          string        `mapstructure:"log_path" yaml:"log_path"`
	LogLevel         string        `mapstructure:"log_level" yaml:"log_level"`
	RequireAuth      bool          `mapstructure:"require_auth" yaml:"require_auth"`
	EnableEncryption bool          `mapstructure:"enable_encryption" yaml:"enable_encryption"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AdminAddr        string        `mapstructure:"admin_addr" yaml:"admin_addr"`
	DBPath           string        `mapstructure:"db_path" yaml:"db_path"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Port:            8080,
		MaxClients:      100,
		LogPath:         "server.log",
		LogLevel:        "info",
		RequireAuth:     true,
		IdleTimeout:     0,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Addr renders the TCP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate rejects values the transport cannot run with.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MaxClients < 1 {
		return fmt.Errorf("max_clients must be positive, got %d", c.MaxClients)
	}
	return nil
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Port != 0 {
		c.Port = other.Port
	}
	if other.MaxClients != 0 {
		c.MaxClients = other.MaxClients
	}
	if other.LogPath != "" {
		c.LogPath = other.LogPath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.IdleTimeout != 0 {
		c.IdleTimeout = other.IdleTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.AdminAddr != "" {
		c.AdminAddr = other.AdminAddr
	}
	if other.DBPath != "" {
		c.DBPath = other.DBPath
	}
}
