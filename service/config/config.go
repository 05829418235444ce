package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
// All fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// NATS configuration (optional, empty disables publishing)
	NATSURL string

	// Feed configuration. FeedURL is the WebSocket endpoint the connection
	// stub dials; empty disables it.
	FeedURL        string
	ReconnectDelay time.Duration

	// Command console simulation
	CommandDelay       time.Duration
	CommandSuccessRate float64

	// Network monitor
	MonitorInterval time.Duration

	// Seeded node registry
	NodeCount      int
	NodeHost       string
	NodeBasePort   int
	InitialBalance decimal.Decimal

	// RandomSeed seeds the outcome source. Zero means time-based.
	RandomSeed int64
}

// Load reads configuration from environment variables and validates all fields.
// Returns an error if any configuration value is invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.FeedURL = os.Getenv("FEED_URL")

	reconnect, err := parseDuration("RECONNECT_DELAY", "5s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReconnectDelay = reconnect
	}

	commandDelay, err := parseDuration("COMMAND_DELAY", "1500ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.CommandDelay = commandDelay
	}

	rate, err := parseFloat("COMMAND_SUCCESS_RATE", 0.9)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.CommandSuccessRate = rate
	}

	monitorInterval, err := parseDuration("MONITOR_INTERVAL", "5s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MonitorInterval = monitorInterval
	}

	nodeCount, err := parseInt("NODE_COUNT", 13)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.NodeCount = nodeCount
	}

	cfg.NodeHost = getEnvOrDefault("NODE_HOST", "51.158.253.120")

	basePort, err := parseInt("NODE_BASE_PORT", 3000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.NodeBasePort = basePort
	}

	balanceStr := getEnvOrDefault("INITIAL_BALANCE", "1000")
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		errs = append(errs, fmt.Errorf("INITIAL_BALANCE: invalid decimal %q: %w", balanceStr, err))
	} else {
		cfg.InitialBalance = balance
	}

	seed, err := parseInt("RANDOM_SEED", 0)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RandomSeed = int64(seed)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerAddr == "" {
		errs = append(errs, fmt.Errorf("ServerAddr is required"))
	}

	if c.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("ReconnectDelay must be positive"))
	}

	if c.CommandDelay <= 0 {
		errs = append(errs, fmt.Errorf("CommandDelay must be positive"))
	}

	if math.IsNaN(c.CommandSuccessRate) || c.CommandSuccessRate < 0 || c.CommandSuccessRate > 1 {
		errs = append(errs, fmt.Errorf("CommandSuccessRate must be between 0 and 1"))
	}

	if c.MonitorInterval < time.Second {
		errs = append(errs, fmt.Errorf("MonitorInterval must be at least 1 second"))
	}

	if c.NodeCount < 2 {
		errs = append(errs, fmt.Errorf("NodeCount must be at least 2"))
	}

	if c.NodeHost == "" {
		errs = append(errs, fmt.Errorf("NodeHost is required"))
	}

	if c.NodeBasePort <= 0 || c.NodeBasePort+c.NodeCount > 65536 {
		errs = append(errs, fmt.Errorf("NodeBasePort out of range"))
	}

	if c.InitialBalance.IsNegative() {
		errs = append(errs, fmt.Errorf("InitialBalance cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseFloat parses a float from an environment variable or uses a default.
func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}
