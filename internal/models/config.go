package models

import "time"

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Monitor  MonitorConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	SeedDemoUsers   bool
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
	CurrenciesFile  string
}

// AuthConfig holds JWT settings for the identity binding
type AuthConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// MonitorConfig holds escrow watcher settings
type MonitorConfig struct {
	Enabled         bool
	PollingInterval time.Duration
	StaleThreshold  time.Duration
}
