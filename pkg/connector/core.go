package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nakula/internal/backoff"
	"nakula/internal/ratelimit"
	"nakula/pkg/core"
	"nakula/pkg/subscription"
)

// Endpoint names used for per-endpoint rate limiting.
const (
	endpointTicker    = "ticker"
	endpointOrderBook = "orderbook"
	endpointTrades    = "trades"
	endpointKlines    = "klines"
	endpointBalances  = "balances"
	endpointPositions = "positions"
	endpointOrders    = "orders"
)

// Option configures a Core during construction.
type Option func(*Core)

// WithLogger sets the structured logger. The default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Core) {
		c.logger = logger
	}
}

// Core is the shared connector implementation. It owns the lifecycle state
// machine, the rate limiter, the retry policy, the subscription router and
// the request metrics; the Adapter supplies exchange-specific behavior and
// is never called outside the pipeline.
type Core struct {
	adapter Adapter
	logger  zerolog.Logger

	state  stateHolder
	lifeMu sync.Mutex // serializes Configure, Connect and Disconnect

	mu      sync.RWMutex // guards cfg, limiter, policy and subs
	cfg     *core.Config
	limiter *ratelimit.Limiter
	policy  *backoff.Policy
	subs    *subscription.Manager

	subMu  sync.Mutex // serializes subscribe and unsubscribe provisioning
	subSeq atomic.Int64

	metrics *Metrics
}

var _ Connector = (*Core)(nil)

// New creates a connector around the given adapter. The connector starts
// unconfigured; Configure must succeed before Connect.
func New(adapter Adapter, opts ...Option) *Core {
	c := &Core{
		adapter: adapter,
		logger:  zerolog.Nop(),
		metrics: &Metrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("exchange", adapter.Exchange()).Logger()
	return c
}

// Exchange returns the adapter's exchange identity.
func (c *Core) Exchange() string {
	return c.adapter.Exchange()
}

// State returns the current lifecycle state.
func (c *Core) State() State {
	return c.state.Load()
}

// IsConnected reports whether the connector is in the connected state.
func (c *Core) IsConnected() bool {
	return c.state.Load() == StateConnected
}

// Configure validates and applies the configuration, rebuilding the rate
// limiter, retry policy and subscription router from it. It is allowed in
// any state except connected; reconfiguring a live connector requires a
// Disconnect first. The config is deep-copied, so later mutations by the
// caller have no effect.
func (c *Core) Configure(cfg *core.Config) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.state.Load() == StateConnected {
		return core.NewInvalidStateError(c.Exchange(), "cannot configure while connected").
			WithCode(core.ErrCodeInvalidState)
	}
	if cfg == nil {
		return core.NewInvalidStateError(c.Exchange(), "config is required").
			WithCode(core.ErrCodeInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if !strings.EqualFold(cfg.Exchange, c.Exchange()) {
		return core.NewInvalidStateError(c.Exchange(), fmt.Sprintf("config targets exchange %q", cfg.Exchange)).
			WithCode(core.ErrCodeExchangeMismatch)
	}

	snapshot := cfg.Clone()

	c.mu.Lock()
	c.cfg = snapshot
	c.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerSecond: snapshot.RateLimit.RequestsPerSecond,
		Burst:             snapshot.RateLimit.Burst,
		PerEndpoint:       snapshot.RateLimit.PerEndpoint,
	})
	c.policy = &backoff.Policy{
		MaxRetries:   snapshot.Retry.MaxRetries,
		InitialDelay: snapshot.Retry.InitialDelay,
		MaxDelay:     snapshot.Retry.MaxDelay,
		Factor:       snapshot.Retry.BackoffFactor,
		Jitter:       snapshot.Retry.JitterFactor,
		RetryIf:      core.IsRetryable,
		RetryAfter:   core.RetryAfterHint,
		OnRetry:      c.logRetry,
	}
	oldSubs := c.subs
	c.subs = subscription.New(c.Exchange(), snapshot.WebSocket.BufferSize, c.logger)
	c.mu.Unlock()

	// The previous router is empty here (not connected means no live
	// subscriptions), but its workers may still be draining; close it
	// outside the lock.
	if oldSubs != nil {
		oldSubs.Close()
	}

	c.state.Store(StateConfigured)
	c.logger.Info().
		Float64("requests_per_second", snapshot.RateLimit.RequestsPerSecond).
		Int("burst", snapshot.RateLimit.Burst).
		Str("api_key", snapshot.Credentials.MaskedKey()).
		Bool("testnet", snapshot.Testnet).
		Msg("connector configured")
	return nil
}

// Connect verifies connectivity through the adapter's probe and, on success,
// runs the optional post-connect hook and transitions to connected. It is
// allowed when configured or disconnected; on any failure the state is left
// unchanged and a connection error wrapping the cause is returned.
func (c *Core) Connect(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	state := c.state.Load()
	if state != StateConfigured && state != StateDisconnected {
		return core.NewInvalidStateError(c.Exchange(), fmt.Sprintf("cannot connect from state %q", state)).
			WithCode(core.ErrCodeInvalidState)
	}

	if err := c.probe(ctx); err != nil {
		return core.NewConnectionError(c.Exchange(), "connectivity probe failed", err).
			WithCode(core.ErrCodeConnection)
	}
	if hooks, ok := c.adapter.(Hooks); ok {
		if err := hooks.OnConnect(ctx); err != nil {
			return core.NewConnectionError(c.Exchange(), "post-connect hook failed", err).
				WithCode(core.ErrCodeConnection)
		}
	}

	c.state.Store(StateConnected)
	c.logger.Info().Msg("connector connected")
	return nil
}

// Disconnect removes every subscription, runs the optional pre-disconnect
// hook and transitions to disconnected. Cleanup failures are logged, never
// returned; calling Disconnect on a connector that is not connected is a
// no-op. The error return exists to satisfy the contract and is always nil.
func (c *Core) Disconnect(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.state.Load() != StateConnected {
		return nil
	}

	// The state flips before the purge so operations and subscriptions
	// racing the teardown are refused instead of landing behind it.
	c.state.Store(StateDisconnected)

	c.UnsubscribeAll(ctx)

	if hooks, ok := c.adapter.(Hooks); ok {
		if err := hooks.OnDisconnect(ctx); err != nil {
			c.logger.Error().Err(err).Msg("pre-disconnect hook failed")
		}
	}

	c.logger.Info().Msg("connector disconnected")
	return nil
}

// TestConnectivity runs the adapter's probe without consuming rate limit
// tokens, so health tooling can poll it freely. It is allowed in any state
// except unconfigured.
func (c *Core) TestConnectivity(ctx context.Context) error {
	if c.state.Load() == StateUnconfigured {
		return core.NewInvalidStateError(c.Exchange(), "connector is not configured").
			WithCode(core.ErrCodeInvalidState)
	}
	if err := c.probe(ctx); err != nil {
		return core.NewConnectionError(c.Exchange(), "connectivity probe failed", err).
			WithCode(core.ErrCodeConnection)
	}
	return nil
}

// probe calls the adapter probe under the configured timeout.
func (c *Core) probe(ctx context.Context) error {
	if timeout := c.timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.adapter.Probe(ctx)
}

func (c *Core) timeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg == nil {
		return 0
	}
	return c.cfg.Timeout
}

func (c *Core) router() *subscription.Manager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs
}

func (c *Core) logRetry(attempt int, err error, delay time.Duration) {
	c.logger.Warn().
		Err(err).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("retrying operation")
}

// admit charges the operation's weight against the endpoint bucket,
// translating limiter refusals into the error taxonomy.
func (c *Core) admit(ctx context.Context, limiter *ratelimit.Limiter, endpoint string, weight int) error {
	err := limiter.WaitN(ctx, endpoint, weight)
	if err == nil {
		return nil
	}
	if errors.Is(err, ratelimit.ErrWeightExceedsBurst) {
		return core.NewRateLimitError(c.Exchange(), err.Error(), 0).
			WithRetryable(false).
			WithCode(core.ErrCodeWeightExceedsBurst)
	}
	return fmt.Errorf("rate limit admission: %w", err)
}

// execute funnels one operation through the shared pipeline: connected
// guard, per-attempt rate limiter admission, retry policy with backoff, and
// request metrics. Every invocation is counted regardless of where it fails.
func execute[T any](c *Core, ctx context.Context, endpoint string, weight int, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()

	if !c.IsConnected() {
		err := core.NewNotConnectedError(c.Exchange()).WithCode(core.ErrCodeNotConnected)
		c.metrics.record(start, err)
		return zero, err
	}

	c.mu.RLock()
	limiter, policy, timeout := c.limiter, c.policy, c.cfg.Timeout
	c.mu.RUnlock()

	v, err := backoff.DoValue(ctx, policy, func(ctx context.Context) (T, error) {
		if err := c.admit(ctx, limiter, endpoint, weight); err != nil {
			return zero, err
		}
		attemptCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return fn(attemptCtx)
	})
	c.metrics.record(start, err)
	return v, err
}

// GetTicker returns the current market snapshot for the symbol.
func (c *Core) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	return execute(c, ctx, endpointTicker, 1, func(ctx context.Context) (*core.Ticker, error) {
		return c.adapter.FetchTicker(ctx, symbol)
	})
}

// GetOrderBook returns up to depth levels of bids and asks for the symbol.
func (c *Core) GetOrderBook(ctx context.Context, symbol string, depth int) (*core.OrderBook, error) {
	return execute(c, ctx, endpointOrderBook, 1, func(ctx context.Context) (*core.OrderBook, error) {
		return c.adapter.FetchOrderBook(ctx, symbol, depth)
	})
}

// GetTrades returns up to limit recent public trades for the symbol.
func (c *Core) GetTrades(ctx context.Context, symbol string, limit int) ([]core.Trade, error) {
	return execute(c, ctx, endpointTrades, 1, func(ctx context.Context) ([]core.Trade, error) {
		return c.adapter.FetchTrades(ctx, symbol, limit)
	})
}

// GetKlines returns up to limit candlesticks for the symbol and interval.
func (c *Core) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]core.Kline, error) {
	return execute(c, ctx, endpointKlines, 1, func(ctx context.Context) ([]core.Kline, error) {
		return c.adapter.FetchKlines(ctx, symbol, interval, limit)
	})
}

// GetBalances returns the account's asset balances.
func (c *Core) GetBalances(ctx context.Context) ([]core.Balance, error) {
	return execute(c, ctx, endpointBalances, 1, func(ctx context.Context) ([]core.Balance, error) {
		return c.adapter.FetchBalances(ctx)
	})
}

// GetPositions returns the account's open positions. Spot-only adapters
// return an empty slice.
func (c *Core) GetPositions(ctx context.Context) ([]core.Position, error) {
	return execute(c, ctx, endpointPositions, 1, func(ctx context.Context) ([]core.Position, error) {
		return c.adapter.FetchPositions(ctx)
	})
}

// PlaceOrder validates the request and submits it to the exchange. Orders
// carry weight 2 against the orders endpoint bucket.
func (c *Core) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	if req == nil {
		err := core.NewOrderError(c.Exchange(), string(core.ErrCodeInvalidOrder), "order request is required", false).
			WithCode(core.ErrCodeInvalidOrder)
		c.metrics.record(time.Now(), err)
		return nil, err
	}
	if err := req.Validate(c.Exchange()); err != nil {
		c.metrics.record(time.Now(), err)
		return nil, err
	}
	return execute(c, ctx, endpointOrders, 2, func(ctx context.Context) (*core.Order, error) {
		return c.adapter.SubmitOrder(ctx, req)
	})
}

// CancelOrder cancels an open order and returns its final state.
func (c *Core) CancelOrder(ctx context.Context, symbol, orderID string) (*core.Order, error) {
	return execute(c, ctx, endpointOrders, 1, func(ctx context.Context) (*core.Order, error) {
		return c.adapter.CancelOrder(ctx, symbol, orderID)
	})
}

// GetOrder returns the current state of an order.
func (c *Core) GetOrder(ctx context.Context, symbol, orderID string) (*core.Order, error) {
	return execute(c, ctx, endpointOrders, 1, func(ctx context.Context) (*core.Order, error) {
		return c.adapter.FetchOrder(ctx, symbol, orderID)
	})
}

// GetOpenOrders returns all open orders, optionally filtered by symbol.
func (c *Core) GetOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	return execute(c, ctx, endpointOrders, 1, func(ctx context.Context) ([]core.Order, error) {
		return c.adapter.FetchOpenOrders(ctx, symbol)
	})
}

// Metrics returns a snapshot of connector statistics, the embedded limiter
// and router counters included.
func (c *Core) Metrics() MetricsSnapshot {
	c.mu.RLock()
	limiter, subs := c.limiter, c.subs
	c.mu.RUnlock()

	snap := c.metrics.snapshot()
	if limiter != nil {
		snap.RateLimiter = limiter.Metrics()
	}
	if subs != nil {
		snap.Router = subs.Metrics()
		snap.ActiveSubscriptions = snap.Router.ActiveSubscriptions
	}
	return snap
}

// ResetMetrics zeroes every counter, the limiter's and the router's included.
func (c *Core) ResetMetrics() {
	c.metrics.reset()

	c.mu.RLock()
	limiter, subs := c.limiter, c.subs
	c.mu.RUnlock()

	if limiter != nil {
		limiter.ResetMetrics()
	}
	if subs != nil {
		subs.ResetMetrics()
	}
}
