package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Client listener
	TCPHost string `env:"TCP_HOST" default:"0.0.0.0"`
	TCPPort int    `env:"TCP_PORT" default:"50201"` // 0 = ephemeral

	// Protocol
	ProtocolVersion float64 `env:"PROTOCOL_VERSION" default:"0.3"`
	ProtocolMagic   string  `env:"PROTOCOL_MAGIC" default:"pr7d68j1"`
	WireFormat      string  `env:"WIRE_FORMAT" default:"json"`

	// Limits and timing
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" default:"10s"`
	MaxMessageSize   int           `env:"MAX_MESSAGE_SIZE" default:"65536"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
	ShutdownPoll     time.Duration `env:"SHUTDOWN_POLL" default:"2s"`
	AcceptRate       float64       `env:"ACCEPT_RATE" default:"100"` // connections/s, 0 = unlimited
	AcceptBurst      int           `env:"ACCEPT_BURST" default:"50"`

	// Discovery announcements
	AnnounceEnabled     bool          `env:"ANNOUNCE_ENABLED" default:"true"`
	AnnounceBindAddr    string        `env:"ANNOUNCE_BIND_ADDR" default:"0.0.0.0"`
	AnnounceBroadcastIP string        `env:"ANNOUNCE_BROADCAST_IP" default:"255.255.255.255"`
	AnnouncePort        int           `env:"ANNOUNCE_PORT" default:"50200"`
	AnnounceInterval    time.Duration `env:"ANNOUNCE_INTERVAL" default:"5s"`
	Hostname            string        `env:"ANNOUNCE_HOSTNAME"` // defaults to os.Hostname

	// Admin API
	AdminEnabled      bool          `env:"ADMIN_ENABLED" default:"false"`
	AdminHost         string        `env:"ADMIN_HOST" default:"127.0.0.1"`
	AdminPort         int           `env:"ADMIN_PORT" default:"8090"`
	AdminJWTSecret    string        `env:"ADMIN_JWT_SECRET"`
	AdminPasswordHash string        `env:"ADMIN_PASSWORD_HASH"` // bcrypt; enables POST /login
	AdminTokenTTL     time.Duration `env:"ADMIN_TOKEN_TTL" default:"1h"`

	// Handshake audit
	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`
	LogDir    string `env:"LOG_DIR"`
}

// LoadConfig loads configuration from .env and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, system env vars still apply
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Warning: could not read .env file: %v\n", err)
	}

	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// Client listener
	if err := loadEnvString(&config.TCPHost, "TCP_HOST", "0.0.0.0"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.TCPPort, "TCP_PORT", 50201); err != nil {
		return nil, err
	}

	// Protocol
	if err := loadEnvFloat(&config.ProtocolVersion, "PROTOCOL_VERSION", 0.3); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.ProtocolMagic, "PROTOCOL_MAGIC", "pr7d68j1"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.WireFormat, "WIRE_FORMAT", "json"); err != nil {
		return nil, err
	}

	// Limits and timing
	if err := loadEnvDuration(&config.HandshakeTimeout, "HANDSHAKE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxMessageSize, "MAX_MESSAGE_SIZE", 64*1024); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ShutdownTimeout, "SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ShutdownPoll, "SHUTDOWN_POLL", 2*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.AcceptRate, "ACCEPT_RATE", 100); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.AcceptBurst, "ACCEPT_BURST", 50); err != nil {
		return nil, err
	}

	// Discovery announcements
	if err := loadEnvBool(&config.AnnounceEnabled, "ANNOUNCE_ENABLED", true); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.AnnounceBindAddr, "ANNOUNCE_BIND_ADDR", "0.0.0.0"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.AnnounceBroadcastIP, "ANNOUNCE_BROADCAST_IP", "255.255.255.255"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.AnnouncePort, "ANNOUNCE_PORT", 50200); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.AnnounceInterval, "ANNOUNCE_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.Hostname, "ANNOUNCE_HOSTNAME", ""); err != nil {
		return nil, err
	}

	// Admin API
	if err := loadEnvBool(&config.AdminEnabled, "ADMIN_ENABLED", false); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.AdminHost, "ADMIN_HOST", "127.0.0.1"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.AdminPort, "ADMIN_PORT", 8090); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.AdminJWTSecret, "ADMIN_JWT_SECRET", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.AdminPasswordHash, "ADMIN_PASSWORD_HASH", ""); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.AdminTokenTTL, "ADMIN_TOKEN_TTL", time.Hour); err != nil {
		return nil, err
	}

	// Handshake audit
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.DatabaseURL, "DATABASE_URL", ""); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "json"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogDir, "LOG_DIR", ""); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	// 0 asks the OS for an ephemeral port
	if c.TCPPort < 0 || c.TCPPort > 65535 {
		errors = append(errors, "TCP_PORT must be between 0 and 65535")
	}
	if c.AnnouncePort < 1 || c.AnnouncePort > 65535 {
		errors = append(errors, "ANNOUNCE_PORT must be between 1 and 65535")
	}
	if c.AdminEnabled && (c.AdminPort < 1 || c.AdminPort > 65535) {
		errors = append(errors, "ADMIN_PORT must be between 1 and 65535")
	}

	if c.ProtocolVersion <= 0 {
		errors = append(errors, "PROTOCOL_VERSION must be positive")
	}
	if c.ProtocolMagic == "" {
		errors = append(errors, "PROTOCOL_MAGIC must not be empty")
	}

	validWireFormats := []string{"json", "cbor"}
	if !contains(validWireFormats, strings.ToLower(c.WireFormat)) {
		errors = append(errors, fmt.Sprintf("WIRE_FORMAT must be one of: %s", strings.Join(validWireFormats, ", ")))
	}

	if c.HandshakeTimeout <= 0 {
		errors = append(errors, "HANDSHAKE_TIMEOUT must be positive")
	}
	if c.MaxMessageSize < 64 {
		errors = append(errors, "MAX_MESSAGE_SIZE must be at least 64 bytes")
	}
	if c.ShutdownTimeout <= 0 {
		errors = append(errors, "SHUTDOWN_TIMEOUT must be positive")
	}
	if c.ShutdownPoll <= 0 || c.ShutdownPoll > c.ShutdownTimeout {
		errors = append(errors, "SHUTDOWN_POLL must be positive and not longer than SHUTDOWN_TIMEOUT")
	}
	if c.AcceptRate < 0 {
		errors = append(errors, "ACCEPT_RATE must not be negative")
	}
	if c.AcceptRate > 0 && c.AcceptBurst < 1 {
		errors = append(errors, "ACCEPT_BURST must be at least 1")
	}
	if c.AnnounceEnabled && c.AnnounceInterval <= 0 {
		errors = append(errors, "ANNOUNCE_INTERVAL must be positive")
	}

	// Validate JWT secret length (should be at least 32 characters for security)
	if c.AdminEnabled && len(c.AdminJWTSecret) < 32 {
		errors = append(errors, "ADMIN_JWT_SECRET should be at least 32 characters long when ADMIN_ENABLED is set")
	}

	if c.AdminPasswordHash != "" && !strings.HasPrefix(c.AdminPasswordHash, "$2") {
		errors = append(errors, "ADMIN_PASSWORD_HASH must be a bcrypt hash")
	}
	if c.AdminEnabled && c.AdminTokenTTL <= 0 {
		errors = append(errors, "ADMIN_TOKEN_TTL must be positive")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// TCPAddr is the client listener address in host:port form
func (c *Config) TCPAddr() string {
	return fmt.Sprintf("%s:%d", c.TCPHost, c.TCPPort)
}

// AdminAddr is the admin API address in host:port form
func (c *Config) AdminAddr() string {
	return fmt.Sprintf("%s:%d", c.AdminHost, c.AdminPort)
}

// AnnounceHostname returns the configured hostname or the machine's own
func (c *Config) AnnounceHostname() string {
	if c.Hostname != "" {
		return c.Hostname
	}
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
