package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCredentials() *Credentials {
	return &Credentials{
		APIKey:    "test-api-key-0001",
		SecretKey: "test-secret",
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("binance")

	assert.Equal(t, "binance", config.Exchange)
	assert.False(t, config.Testnet)
	assert.Empty(t, config.BaseURL)
	assert.Nil(t, config.Credentials)
	assert.Equal(t, 10*time.Second, config.Timeout)

	assert.Equal(t, 10.0, config.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, config.RateLimit.Burst)
	assert.False(t, config.RateLimit.PerEndpoint)

	assert.Equal(t, 3, config.Retry.MaxRetries)
	assert.Equal(t, 1*time.Second, config.Retry.InitialDelay)
	assert.Equal(t, 30*time.Second, config.Retry.MaxDelay)
	assert.Equal(t, 2.0, config.Retry.BackoffFactor)
	assert.Equal(t, 0.1, config.Retry.JitterFactor)

	assert.Equal(t, 10*time.Second, config.WebSocket.PingInterval)
	assert.Equal(t, 20*time.Second, config.WebSocket.PongTimeout)
	assert.Equal(t, 1*time.Second, config.WebSocket.ReconnectMinWait)
	assert.Equal(t, 30*time.Second, config.WebSocket.ReconnectMaxWait)
	assert.Equal(t, 100, config.WebSocket.BufferSize)

	assert.Equal(t, 30*time.Second, config.HealthCheck.CheckInterval)
	assert.Equal(t, 3, config.HealthCheck.MaxConsecutiveFailures)
	assert.Equal(t, 60*time.Second, config.HealthCheck.CircuitResetTimeout)
	assert.True(t, config.HealthCheck.AutoReconnect)
	assert.Equal(t, 5*time.Second, config.HealthCheck.ProbeTimeout)
	assert.False(t, config.HealthCheck.DeepProbe)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid_config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing_exchange",
			mutate:  func(c *Config) { c.Exchange = "" },
			wantErr: true,
			errMsg:  "Exchange",
		},
		{
			name:    "missing_credentials",
			mutate:  func(c *Config) { c.Credentials = nil },
			wantErr: true,
			errMsg:  "Credentials",
		},
		{
			name:    "missing_api_key",
			mutate:  func(c *Config) { c.Credentials.APIKey = "" },
			wantErr: true,
			errMsg:  "APIKey",
		},
		{
			name:    "malformed_base_url",
			mutate:  func(c *Config) { c.BaseURL = "not a url" },
			wantErr: true,
			errMsg:  "BaseURL",
		},
		{
			name:    "zero_timeout",
			mutate:  func(c *Config) { c.Timeout = 0 },
			wantErr: true,
			errMsg:  "Timeout",
		},
		{
			name:    "zero_rate",
			mutate:  func(c *Config) { c.RateLimit.RequestsPerSecond = 0 },
			wantErr: true,
			errMsg:  "RequestsPerSecond",
		},
		{
			name:    "zero_burst",
			mutate:  func(c *Config) { c.RateLimit.Burst = 0 },
			wantErr: true,
			errMsg:  "Burst",
		},
		{
			name:    "negative_retries",
			mutate:  func(c *Config) { c.Retry.MaxRetries = -1 },
			wantErr: true,
			errMsg:  "MaxRetries",
		},
		{
			name:    "retry_max_below_initial",
			mutate:  func(c *Config) { c.Retry.MaxDelay = 500 * time.Millisecond },
			wantErr: true,
			errMsg:  "Retry.MaxDelay",
		},
		{
			name:    "reconnect_max_below_min",
			mutate:  func(c *Config) { c.WebSocket.ReconnectMaxWait = 100 * time.Millisecond },
			wantErr: true,
			errMsg:  "ReconnectMaxWait",
		},
		{
			name:    "zero_health_interval",
			mutate:  func(c *Config) { c.HealthCheck.CheckInterval = 0 },
			wantErr: true,
			errMsg:  "CheckInterval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig("binance").WithCredentials(testCredentials())
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), tt.errMsg), "expected error to contain %q, got %q", tt.errMsg, err.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Clone(t *testing.T) {
	original := DefaultConfig("binance").WithCredentials(testCredentials())
	clone := original.Clone()

	require.Equal(t, original, clone)

	clone.Credentials.APIKey = "rotated"
	clone.Timeout = time.Minute

	assert.Equal(t, "test-api-key-0001", original.Credentials.APIKey)
	assert.Equal(t, 10*time.Second, original.Timeout)
}

func TestCredentials_MaskedKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"empty", "", ""},
		{"short", "abcd1234", "********"},
		{"long", "abcdefghijkl", "abcd****ijkl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := &Credentials{APIKey: tt.key}
			assert.Equal(t, tt.want, creds.MaskedKey())
		})
	}
}

func TestConfig_WithCredentials(t *testing.T) {
	config := DefaultConfig("binance")
	creds := testCredentials()

	result := config.WithCredentials(creds)

	assert.Equal(t, config, result)
	assert.Equal(t, creds, config.Credentials)
}

func TestConfig_WithTestnet(t *testing.T) {
	config := DefaultConfig("binance")
	result := config.WithTestnet(true)

	assert.Equal(t, config, result)
	assert.True(t, config.Testnet)
}

func TestConfig_WithBaseURL(t *testing.T) {
	config := DefaultConfig("binance")
	result := config.WithBaseURL("https://testnet.binance.vision")

	assert.Equal(t, config, result)
	assert.Equal(t, "https://testnet.binance.vision", config.BaseURL)
}

func TestConfig_WithTimeout(t *testing.T) {
	config := DefaultConfig("binance")
	result := config.WithTimeout(30 * time.Second)

	assert.Equal(t, config, result)
	assert.Equal(t, 30*time.Second, config.Timeout)
}

func TestConfig_WithRateLimit(t *testing.T) {
	config := DefaultConfig("binance")
	result := config.WithRateLimit(50, 100)

	assert.Equal(t, config, result)
	assert.Equal(t, 50.0, config.RateLimit.RequestsPerSecond)
	assert.Equal(t, 100, config.RateLimit.Burst)
}

func TestConfig_WithPerEndpointLimit(t *testing.T) {
	config := DefaultConfig("binance")
	result := config.WithPerEndpointLimit(true)

	assert.Equal(t, config, result)
	assert.True(t, config.RateLimit.PerEndpoint)
}

func TestConfig_WithRetry(t *testing.T) {
	config := DefaultConfig("binance")
	result := config.WithRetry(5, 200*time.Millisecond, 10*time.Second)

	assert.Equal(t, config, result)
	assert.Equal(t, 5, config.Retry.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, config.Retry.InitialDelay)
	assert.Equal(t, 10*time.Second, config.Retry.MaxDelay)
}

func TestConfig_WithHealthCheck(t *testing.T) {
	config := DefaultConfig("binance")
	result := config.WithHealthCheck(10*time.Second, 5, false)

	assert.Equal(t, config, result)
	assert.Equal(t, 10*time.Second, config.HealthCheck.CheckInterval)
	assert.Equal(t, 5, config.HealthCheck.MaxConsecutiveFailures)
	assert.False(t, config.HealthCheck.AutoReconnect)
}
