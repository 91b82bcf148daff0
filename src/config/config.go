package config

import (
	"fmt"
	"os"
	"strings"

	"market-feed/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// Default returns a configuration usable without any file: a local push server,
// a client pointed at it and SQLite recording switched off.
func Default() *Config {
	return &Config{MConfig: &models.MConfig{
		Name:     "market-feed",
		LogLevel: "INFO",
		Server: models.MServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			HistorySize:     1000,
			ReplaySupported: true,
			Codec:           "json",
		},
		Grpc: models.MGrpcConfig{
			Host: "127.0.0.1",
			Port: 50051,
		},
		Feed: models.MFeedConfig{
			URL:                "ws://127.0.0.1:8080/feed",
			Codec:              "json",
			MaxSendMessageSize: 1 << 20,
			HandshakeTimeout:   10,
		},
		Storage: models.MStorageConfig{
			DBType:        "sqlite",
			DBPath:        "market_feed.db",
			RetentionDays: 7,
		},
		Network: models.MNetworkConfig{
			RequestTimeout:     10,
			MaxRetries:         3,
			ConcurrentRequests: 4,
			UserAgent:          "market-feed/1.0",
		},
		DataSource: models.MDataSourceConfig{
			UpdateIntervalMillis: 1000,
			CandlePeriodSeconds:  60,
		},
	}}
}

// -----------------------------------------------------------------------------

// NewConfig creates a new Config instance from YAML file.
// Keys missing from the file keep their Default() values.
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	return Parse(data)
}

// -----------------------------------------------------------------------------

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config.MConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARNING", "WARN", "ERROR", "CRITICAL":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	// Server
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d", c.Server.Port)
	}
	// 0 sizes history from retention_days and candle_period_seconds
	if c.Server.HistorySize < 0 {
		return fmt.Errorf("server history size cannot be negative")
	}
	if err := validateCodec("server", c.Server.Codec); err != nil {
		return err
	}

	// gRPC control
	if c.Grpc.Enabled && (c.Grpc.Port <= 0 || c.Grpc.Port > 65535) {
		return fmt.Errorf("invalid grpc port number: %d", c.Grpc.Port)
	}

	// Feed client
	if c.Feed.URL == "" {
		return fmt.Errorf("feed url cannot be empty")
	}
	if err := validateCodec("feed", c.Feed.Codec); err != nil {
		return err
	}
	if c.Feed.MaxSendMessageSize < 0 {
		return fmt.Errorf("feed max send message size cannot be negative")
	}

	// Storage
	if c.Storage.Enabled {
		switch c.Storage.DBType {
		case "sqlite":
			if c.Storage.DBPath == "" {
				return fmt.Errorf("database path cannot be empty for sqlite")
			}
		case "postgres":
			if c.Storage.DBConnectionString == "" {
				return fmt.Errorf("database connection string cannot be empty for postgres")
			}
		default:
			return fmt.Errorf("unsupported database type %q", c.Storage.DBType)
		}
		if c.Storage.RetentionDays <= 0 {
			return fmt.Errorf("data retention days must be greater than 0")
		}
	}

	// Network
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Network.ConcurrentRequests <= 0 {
		return fmt.Errorf("concurrent requests must be greater than 0")
	}

	// DataSource
	if c.DataSource.UpdateIntervalMillis <= 0 {
		return fmt.Errorf("update interval must be greater than 0")
	}
	if c.DataSource.CandlePeriodSeconds <= 0 {
		return fmt.Errorf("candle period must be greater than 0")
	}
	for i, src := range c.DataSource.Sources {
		if src.Name == "" {
			return fmt.Errorf("source %d must have a name", i)
		}
		if src.Type != "synthetic" && src.Type != "yahoo" {
			return fmt.Errorf("source '%s' has unsupported type %q", src.Name, src.Type)
		}
		if len(src.Symbols) == 0 {
			return fmt.Errorf("source '%s' must have at least one symbol", src.Name)
		}
	}

	return nil
}

func validateCodec(section, codec string) error {
	switch codec {
	case "json", "cbor":
		return nil
	default:
		return fmt.Errorf("%s codec must be json or cbor, got %q", section, codec)
	}
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
