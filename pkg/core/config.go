package core

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Credentials holds API authentication credentials for an exchange.
type Credentials struct {
	// APIKey is the public API key identifier.
	APIKey string `json:"api_key" validate:"required"`
	// SecretKey is the private API key used for signing requests.
	SecretKey string `json:"secret_key" validate:"required"`
	// Passphrase is an optional additional credential required by some exchanges.
	Passphrase string `json:"passphrase,omitempty"`
}

// MaskedKey returns the API key with its middle replaced by asterisks,
// safe for inclusion in logs.
func (c *Credentials) MaskedKey() string {
	if len(c.APIKey) <= 8 {
		return strings.Repeat("*", len(c.APIKey))
	}
	return c.APIKey[:4] + strings.Repeat("*", len(c.APIKey)-8) + c.APIKey[len(c.APIKey)-4:]
}

// RateLimitConfig holds token-bucket admission settings for an exchange.
type RateLimitConfig struct {
	// RequestsPerSecond is the bucket refill rate.
	RequestsPerSecond float64 `json:"requests_per_second" validate:"gt=0"`
	// Burst is the bucket capacity, the largest weight admissible at once.
	Burst int `json:"burst" validate:"min=1"`
	// PerEndpoint gives each distinct endpoint its own bucket instead of
	// sharing one global bucket.
	PerEndpoint bool `json:"per_endpoint"`
}

// RetryConfig holds exponential backoff settings for retryable failures.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first failure.
	MaxRetries int `json:"max_retries" validate:"min=0"`
	// InitialDelay is the backoff before the first retry.
	InitialDelay time.Duration `json:"initial_delay" validate:"min=1ms"`
	// MaxDelay caps the growth of the backoff delay.
	MaxDelay time.Duration `json:"max_delay" validate:"min=1ms"`
	// BackoffFactor is the multiplier applied to the delay per attempt.
	BackoffFactor float64 `json:"backoff_factor" validate:"gte=1"`
	// JitterFactor is the fraction of the delay randomized up or down per
	// attempt, between 0 and 1.
	JitterFactor float64 `json:"jitter_factor" validate:"gte=0,lte=1"`
}

// WebSocketConfig holds stream transport settings.
type WebSocketConfig struct {
	// URL overrides the adapter's default stream endpoint when non-empty.
	URL string `json:"url" validate:"omitempty,url"`
	// PingInterval is how often keepalive pings are sent.
	PingInterval time.Duration `json:"ping_interval" validate:"min=1ms"`
	// PongTimeout is how long to wait for a pong before the link counts as dead.
	PongTimeout time.Duration `json:"pong_timeout" validate:"min=1ms"`
	// ReconnectMinWait is the initial wait between reconnect attempts.
	ReconnectMinWait time.Duration `json:"reconnect_min_wait" validate:"min=1ms"`
	// ReconnectMaxWait caps the wait between reconnect attempts.
	ReconnectMaxWait time.Duration `json:"reconnect_max_wait" validate:"min=1ms"`
	// BufferSize is the per-subscription message queue length.
	BufferSize int `json:"buffer_size" validate:"min=1"`
}

// HealthCheckConfig holds supervision settings for the health monitor.
type HealthCheckConfig struct {
	// CheckInterval is the wall-clock period between health checks.
	CheckInterval time.Duration `json:"check_interval" validate:"min=1ms"`
	// MaxConsecutiveFailures opens the circuit breaker when reached.
	MaxConsecutiveFailures int `json:"max_consecutive_failures" validate:"min=1"`
	// CircuitResetTimeout is how long the breaker stays open before it closes again.
	CircuitResetTimeout time.Duration `json:"circuit_reset_timeout" validate:"min=1ms"`
	// AutoReconnect enables automatic disconnect-then-connect recovery.
	AutoReconnect bool `json:"auto_reconnect"`
	// ProbeTimeout bounds a single connectivity probe.
	ProbeTimeout time.Duration `json:"probe_timeout" validate:"min=1ms"`
	// DeepProbe issues a connectivity round trip on every check instead of
	// trusting the connector's view of its own state.
	DeepProbe bool `json:"deep_probe"`
}

// Config contains all configuration options for an exchange connector.
// It covers identity, authentication, networking, rate limiting, retry
// behavior and health supervision.
type Config struct {
	// Exchange is the exchange identity this config targets. It must match
	// the adapter the connector was built with.
	Exchange string `json:"exchange" validate:"required"`
	// Testnet routes all traffic to the exchange's test environment.
	Testnet bool `json:"testnet"`
	// BaseURL overrides the adapter's default REST endpoint when non-empty.
	BaseURL string `json:"base_url" validate:"omitempty,url"`
	// Credentials are the API credentials used by authenticated operations.
	Credentials *Credentials `json:"credentials" validate:"required"`
	// Timeout is the maximum duration of a single request attempt.
	Timeout time.Duration `json:"timeout" validate:"min=1ms"`

	RateLimit   RateLimitConfig   `json:"rate_limit"`
	Retry       RetryConfig       `json:"retry"`
	WebSocket   WebSocketConfig   `json:"websocket"`
	HealthCheck HealthCheckConfig `json:"health_check"`
}

// DefaultConfig returns a Config initialized with sensible defaults for the
// specified exchange. Default values: 10s timeout, 10 req/s with burst 20,
// 3 retries backing off from 1s to 30s at factor 2.0 with 10% jitter, health
// checks every 30s opening the breaker for 60s after 3 consecutive failures.
// Credentials must still be supplied via WithCredentials before the config
// validates.
func DefaultConfig(exchange string) *Config {
	return &Config{
		Exchange: exchange,
		Timeout:  10 * time.Second,
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Retry: RetryConfig{
			MaxRetries:    3,
			InitialDelay:  1 * time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
			JitterFactor:  0.1,
		},
		WebSocket: WebSocketConfig{
			PingInterval:     10 * time.Second,
			PongTimeout:      20 * time.Second,
			ReconnectMinWait: 1 * time.Second,
			ReconnectMaxWait: 30 * time.Second,
			BufferSize:       100,
		},
		HealthCheck: HealthCheckConfig{
			CheckInterval:          30 * time.Second,
			MaxConsecutiveFailures: 3,
			CircuitResetTimeout:    60 * time.Second,
			AutoReconnect:          true,
			ProbeTimeout:           5 * time.Second,
		},
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return errors.New("Retry.MaxDelay must be >= Retry.InitialDelay")
	}
	if c.WebSocket.ReconnectMaxWait < c.WebSocket.ReconnectMinWait {
		return errors.New("WebSocket.ReconnectMaxWait must be >= WebSocket.ReconnectMinWait")
	}
	return nil
}

// Clone returns a deep copy of the config. Connectors snapshot their config
// during configure so later mutation by the caller has no effect.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Credentials != nil {
		creds := *c.Credentials
		clone.Credentials = &creds
	}
	return &clone
}

// WithCredentials sets the API credentials and returns the config for chaining.
func (c *Config) WithCredentials(creds *Credentials) *Config {
	c.Credentials = creds
	return c
}

// WithTestnet enables or disables the test environment and returns the config for chaining.
func (c *Config) WithTestnet(testnet bool) *Config {
	c.Testnet = testnet
	return c
}

// WithBaseURL overrides the REST endpoint and returns the config for chaining.
func (c *Config) WithBaseURL(url string) *Config {
	c.BaseURL = url
	return c
}

// WithTimeout sets the per-attempt timeout and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRateLimit sets the admission rate and burst and returns the config for chaining.
func (c *Config) WithRateLimit(requestsPerSecond float64, burst int) *Config {
	c.RateLimit.RequestsPerSecond = requestsPerSecond
	c.RateLimit.Burst = burst
	return c
}

// WithPerEndpointLimit toggles per-endpoint buckets and returns the config for chaining.
func (c *Config) WithPerEndpointLimit(perEndpoint bool) *Config {
	c.RateLimit.PerEndpoint = perEndpoint
	return c
}

// WithRetry sets the retry envelope and returns the config for chaining.
func (c *Config) WithRetry(maxRetries int, initialDelay, maxDelay time.Duration) *Config {
	c.Retry.MaxRetries = maxRetries
	c.Retry.InitialDelay = initialDelay
	c.Retry.MaxDelay = maxDelay
	return c
}

// WithHealthCheck sets the supervision cadence and returns the config for chaining.
func (c *Config) WithHealthCheck(interval time.Duration, maxFailures int, autoReconnect bool) *Config {
	c.HealthCheck.CheckInterval = interval
	c.HealthCheck.MaxConsecutiveFailures = maxFailures
	c.HealthCheck.AutoReconnect = autoReconnect
	return c
}
