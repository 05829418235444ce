package config

import (
	"math"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.NATSURL)
	assert.Empty(t, cfg.FeedURL)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.CommandDelay)
	assert.InDelta(t, 0.9, cfg.CommandSuccessRate, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.MonitorInterval)
	assert.Equal(t, 13, cfg.NodeCount)
	assert.Equal(t, "51.158.253.120", cfg.NodeHost)
	assert.Equal(t, 3000, cfg.NodeBasePort)
	assert.True(t, cfg.InitialBalance.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, int64(0), cfg.RandomSeed)
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("FEED_URL", "ws://peer.example.com:6000/ws")
	os.Setenv("RECONNECT_DELAY", "2s")
	os.Setenv("COMMAND_DELAY", "2s")
	os.Setenv("COMMAND_SUCCESS_RATE", "0.8")
	os.Setenv("NODE_COUNT", "2")
	os.Setenv("INITIAL_BALANCE", "1000.5")
	os.Setenv("RANDOM_SEED", "42")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "ws://peer.example.com:6000/ws", cfg.FeedURL)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 2*time.Second, cfg.CommandDelay)
	assert.InDelta(t, 0.8, cfg.CommandSuccessRate, 1e-9)
	assert.Equal(t, 2, cfg.NodeCount)
	assert.Equal(t, "1000.5", cfg.InitialBalance.String())
	assert.Equal(t, int64(42), cfg.RandomSeed)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad reconnect delay", "RECONNECT_DELAY", "soon", "invalid duration"},
		{"bad command delay", "COMMAND_DELAY", "-", "invalid duration"},
		{"bad success rate", "COMMAND_SUCCESS_RATE", "most", "invalid number"},
		{"success rate out of range", "COMMAND_SUCCESS_RATE", "1.5", "CommandSuccessRate must be between 0 and 1"},
		{"success rate NaN", "COMMAND_SUCCESS_RATE", "NaN", "CommandSuccessRate must be between 0 and 1"},
		{"bad node count", "NODE_COUNT", "many", "invalid integer"},
		{"single node", "NODE_COUNT", "1", "NodeCount must be at least 2"},
		{"bad balance", "INITIAL_BALANCE", "lots", "invalid decimal"},
		{"negative balance", "INITIAL_BALANCE", "-1", "InitialBalance cannot be negative"},
		{"monitor too fast", "MONITOR_INTERVAL", "100ms", "at least 1 second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv(tt.key, tt.value)
			defer cleanupEnv()

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	err := validConfig().Validate()
	assert.NoError(t, err)
}

func TestValidate_PortOverflow(t *testing.T) {
	cfg := validConfig()
	cfg.NodeBasePort = 65530

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NodeBasePort out of range")
}

func TestValidate_SuccessRateNaN(t *testing.T) {
	cfg := validConfig()
	cfg.CommandSuccessRate = math.NaN()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CommandSuccessRate must be between 0 and 1")
}

func TestMustLoad_Panics(t *testing.T) {
	os.Setenv("NODE_COUNT", "0")
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

func validConfig() *Config {
	return &Config{
		ServerAddr:         ":8080",
		ReconnectDelay:     5 * time.Second,
		CommandDelay:       1500 * time.Millisecond,
		CommandSuccessRate: 0.9,
		MonitorInterval:    5 * time.Second,
		NodeCount:          13,
		NodeHost:           "51.158.253.120",
		NodeBasePort:       3000,
		InitialBalance:     decimal.NewFromInt(1000),
	}
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	for _, key := range []string{
		"SERVER_ADDR", "LOG_LEVEL", "NATS_URL", "FEED_URL", "RECONNECT_DELAY",
		"COMMAND_DELAY", "COMMAND_SUCCESS_RATE", "MONITOR_INTERVAL", "NODE_COUNT",
		"NODE_HOST", "NODE_BASE_PORT", "INITIAL_BALANCE", "RANDOM_SEED",
	} {
		os.Unsetenv(key)
	}
}
