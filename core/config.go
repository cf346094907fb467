/*
Package core provides configuration management and logging initialization
for the chatrelay server.

This file handles:
- Loading configuration from an optional YAML file and environment variables
- Structured logging setup with configurable levels
- Auth, provider, and push-connection parameter management

The configuration system follows the twelve-factor app methodology by
prioritizing environment variables for deployment flexibility while
providing reasonable defaults for development.
*/
package core

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all configurable values for the chatrelay server.
// This structure centralizes all operational parameters including server
// settings, provider configuration, auth parameters, and push-connection
// behavior.
type Config struct {
	// Server configuration
	Port       string `yaml:"port"`       // HTTP server port number (default: "8080")
	CORSOrigin string `yaml:"corsOrigin"` // Allowed CORS origin for the browser frontend (default: "http://localhost:3001")

	// Persistence configuration
	DatabasePath string `yaml:"databasePath"` // Path to the SQLite database file (default: "chatrelay.db")

	// Auth configuration
	JWTSecret       string        `yaml:"jwtSecret"`       // Secret used to sign and verify bearer tokens (required)
	TokenExpiration time.Duration `yaml:"tokenExpiration"` // Lifetime of issued tokens (default: 1h)

	// Model provider configuration
	ProviderURL    string `yaml:"providerUrl"`    // Chat-completions endpoint of the model provider
	ProviderAPIKey string `yaml:"providerApiKey"` // Bearer key sent to the model provider
	ProviderModel  string `yaml:"providerModel"`  // Model name requested per turn

	// Push-connection behavior
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"` // Keepalive frame interval on push connections (default: 20s)
	UpstreamTimeout   time.Duration `yaml:"upstreamTimeout"`   // Overall budget for one provider stream (default: 300s)

	// Logging configuration
	LogLevel          string `yaml:"logLevel"`          // Minimum log level: debug, info, warn, error (default: "info")
	LogTruncateLength int    `yaml:"logTruncateLength"` // Maximum length for logged message bodies (default: 500)
}

// LoadConfig loads configuration with the following precedence: built-in
// defaults, then the YAML file named by CONFIG_FILE (if set), then
// environment variables. All parsing includes validation to ensure
// sensible values.
//
// Environment Variables:
//   - PORT: Server port (string)
//   - CORS_ORIGIN: Allowed frontend origin (string)
//   - DATABASE_PATH: SQLite database file path (string)
//   - JWT_SECRET: Token signing secret (string)
//   - TOKEN_EXPIRATION_MINUTES: Token lifetime in minutes (integer)
//   - PROVIDER_URL: Model provider chat-completions URL (string)
//   - PROVIDER_API_KEY: Model provider API key (string)
//   - PROVIDER_MODEL: Model name (string)
//   - HEARTBEAT_INTERVAL_SECONDS: Push keepalive interval (integer)
//   - UPSTREAM_TIMEOUT_SECONDS: Provider stream budget (integer)
//   - LOG_LEVEL: Logging level (string)
//   - LOG_TRUNCATE_LENGTH: Log truncation length (integer)
func LoadConfig() *Config {
	config := &Config{
		Port:       "8080",
		CORSOrigin: "http://localhost:3001",

		DatabasePath: "chatrelay.db",

		JWTSecret:       "",
		TokenExpiration: time.Hour,

		ProviderURL:    "",
		ProviderAPIKey: "",
		ProviderModel:  "doubao-lite",

		HeartbeatInterval: 20 * time.Second,
		UpstreamTimeout:   300 * time.Second,

		LogLevel:          "info",
		LogTruncateLength: 500,
	}

	// Optional YAML overlay before environment overrides
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			// Parse failures leave defaults intact; surfaced once logging is up
			_ = yaml.Unmarshal(data, config)
		}
	}

	// Server configuration
	if port := os.Getenv("PORT"); port != "" {
		config.Port = port
	}

	if origin := os.Getenv("CORS_ORIGIN"); origin != "" {
		config.CORSOrigin = origin
	}

	// Persistence configuration
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		config.DatabasePath = path
	}

	// Auth configuration
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.JWTSecret = secret
	}

	if expiry := os.Getenv("TOKEN_EXPIRATION_MINUTES"); expiry != "" {
		if val, err := strconv.Atoi(expiry); err == nil && val > 0 {
			config.TokenExpiration = time.Duration(val) * time.Minute
		}
	}

	// Provider configuration
	if url := os.Getenv("PROVIDER_URL"); url != "" {
		config.ProviderURL = url
	}

	if key := os.Getenv("PROVIDER_API_KEY"); key != "" {
		config.ProviderAPIKey = key
	}

	if model := os.Getenv("PROVIDER_MODEL"); model != "" {
		config.ProviderModel = model
	}

	// Push-connection parameters with validation
	if interval := os.Getenv("HEARTBEAT_INTERVAL_SECONDS"); interval != "" {
		if val, err := strconv.Atoi(interval); err == nil && val > 0 {
			config.HeartbeatInterval = time.Duration(val) * time.Second
		}
	}

	if timeout := os.Getenv("UPSTREAM_TIMEOUT_SECONDS"); timeout != "" {
		if val, err := strconv.Atoi(timeout); err == nil && val > 0 {
			config.UpstreamTimeout = time.Duration(val) * time.Second
		}
	}

	// Logging configuration
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}

	if truncateLen := os.Getenv("LOG_TRUNCATE_LENGTH"); truncateLen != "" {
		if val, err := strconv.Atoi(truncateLen); err == nil && val > 0 {
			config.LogTruncateLength = val
		}
	}

	return config
}

// InitializeLogger configures and returns a structured logger based on the
// provided configuration. The logger uses JSON formatting for structured
// logging, which is ideal for production environments, log aggregation, and
// automated log processing.
func InitializeLogger(config *Config) *logrus.Logger {
	logger := logrus.New()

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	// Output to stdout for container/cloud environments
	logger.SetOutput(os.Stdout)

	logger.WithFields(logrus.Fields{
		"port":              config.Port,
		"corsOrigin":        config.CORSOrigin,
		"databasePath":      config.DatabasePath,
		"tokenExpiration":   config.TokenExpiration,
		"providerModel":     config.ProviderModel,
		"heartbeatInterval": config.HeartbeatInterval,
		"upstreamTimeout":   config.UpstreamTimeout,
		"logTruncateLength": config.LogTruncateLength,
	}).Info("Configuration loaded")

	if config.JWTSecret == "" {
		logger.Warn("JWT_SECRET is not set; issued tokens will not survive restarts securely")
	}

	return logger
}
