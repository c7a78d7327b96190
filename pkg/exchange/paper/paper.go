// Package paper implements a synthetic in-memory exchange adapter. It
// serves randomly walking market data, fills orders against its own tape
// and publishes stream frames on the canonical channels, so connectors
// can be exercised end to end without touching a real venue. An
// injectable outage switch makes it double as a failure rig for the
// health monitor.
package paper

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog"

	"nakula/pkg/connector"
	"nakula/pkg/core"
)

// exchangeName is the fixed identity the adapter reports.
const exchangeName = "paper"

var (
	_ connector.Adapter           = (*Adapter)(nil)
	_ connector.Hooks             = (*Adapter)(nil)
	_ connector.StreamProvisioner = (*Adapter)(nil)
)

// Adapter is the synthetic exchange. All market state lives behind one
// mutex; the stream feed runs on its own goroutine between OnConnect and
// OnDisconnect.
type Adapter struct {
	logger       zerolog.Logger
	latency      time.Duration
	feedInterval time.Duration

	mu       sync.Mutex
	rng      *rand.Rand
	dctx     *apd.Context
	prices   map[string]*apd.Decimal
	balances map[string]*apd.Decimal
	orders   map[string]*core.Order
	channels map[string]struct{}

	orderSeq atomic.Int64
	tradeSeq atomic.Int64
	outage   atomic.Bool

	sinkMu sync.RWMutex
	sink   func(core.Message)

	feedMu     sync.Mutex
	feedCancel context.CancelFunc
	feedDone   chan struct{}
}

// Option configures an Adapter during construction.
type Option func(*Adapter)

// WithLogger sets the structured logger. The default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithSeed fixes the random source so price walks and fills replay
// identically across runs.
func WithSeed(seed uint64) Option {
	return func(a *Adapter) {
		a.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithPrice seeds the starting price for a symbol. Unseeded symbols get
// a stable price derived from the symbol name.
func WithPrice(symbol string, price *apd.Decimal) Option {
	return func(a *Adapter) {
		var p apd.Decimal
		p.Set(price)
		a.prices[symbol] = &p
	}
}

// WithBalance sets the balance for an asset, replacing the default
// holdings of 10000 USDT and 1 BTC.
func WithBalance(asset string, amount *apd.Decimal) Option {
	return func(a *Adapter) {
		var b apd.Decimal
		b.Set(amount)
		a.balances[asset] = &b
	}
}

// WithFeedInterval sets the cadence of the stream feed. Default 250ms.
func WithFeedInterval(interval time.Duration) Option {
	return func(a *Adapter) {
		if interval > 0 {
			a.feedInterval = interval
		}
	}
}

// WithLatency makes every call wait the given duration before answering,
// simulating network round trips. Default zero.
func WithLatency(latency time.Duration) Option {
	return func(a *Adapter) {
		a.latency = latency
	}
}

// New creates a paper exchange adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		logger:       zerolog.Nop(),
		feedInterval: 250 * time.Millisecond,
		dctx:         apd.BaseContext.WithPrecision(16),
		prices:       make(map[string]*apd.Decimal),
		balances:     make(map[string]*apd.Decimal),
		orders:       make(map[string]*core.Order),
		channels:     make(map[string]struct{}),
	}
	seed := uint64(time.Now().UnixNano())
	a.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	a.balances["USDT"] = apd.New(10000, 0)
	a.balances["BTC"] = apd.New(1, 0)
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("exchange", exchangeName).Logger()
	return a
}

// Exchange returns the adapter identity.
func (a *Adapter) Exchange() string {
	return exchangeName
}

// SetSink installs the destination for synthesized stream frames,
// normally the connector's HandleMessage. It must be set before Connect
// for the feed to deliver anything.
func (a *Adapter) SetSink(sink func(core.Message)) {
	a.sinkMu.Lock()
	a.sink = sink
	a.sinkMu.Unlock()
}

// SetOutage switches the simulated venue outage on or off. While the
// outage lasts every call, the connectivity probe included, fails with a
// retryable connection error and the feed stays silent.
func (a *Adapter) SetOutage(on bool) {
	a.outage.Store(on)
	if on {
		a.logger.Warn().Msg("simulated outage started")
		return
	}
	a.logger.Info().Msg("simulated outage cleared")
}

// Probe answers immediately unless an outage is active.
func (a *Adapter) Probe(ctx context.Context) error {
	return a.gate(ctx)
}

// gate applies the outage switch and the simulated latency.
func (a *Adapter) gate(ctx context.Context) error {
	if a.outage.Load() {
		return core.NewConnectionError(exchangeName, "simulated outage", nil).
			WithCode(core.ErrCodeConnection)
	}
	if a.latency > 0 {
		timer := time.NewTimer(a.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return ctx.Err()
}

// OnConnect starts the stream feed.
func (a *Adapter) OnConnect(ctx context.Context) error {
	a.startFeed()
	return nil
}

// OnDisconnect stops the stream feed and waits for it to drain.
func (a *Adapter) OnDisconnect(ctx context.Context) error {
	a.stopFeed()
	return nil
}

// SubscribeChannel provisions a stream channel. Channels the feed cannot
// synthesize are rejected.
func (a *Adapter) SubscribeChannel(ctx context.Context, channel string) error {
	if err := a.gate(ctx); err != nil {
		return err
	}
	if !validChannel(channel) {
		return fmt.Errorf("unknown channel %q", channel)
	}
	a.mu.Lock()
	a.channels[channel] = struct{}{}
	a.mu.Unlock()
	a.logger.Debug().Str("channel", channel).Msg("channel provisioned")
	return nil
}

// UnsubscribeChannel drops a provisioned stream channel.
func (a *Adapter) UnsubscribeChannel(ctx context.Context, channel string) error {
	a.mu.Lock()
	delete(a.channels, channel)
	a.mu.Unlock()
	a.logger.Debug().Str("channel", channel).Msg("channel deprovisioned")
	return nil
}

func (a *Adapter) startFeed() {
	a.feedMu.Lock()
	defer a.feedMu.Unlock()
	if a.feedCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.feedCancel, a.feedDone = cancel, done
	go a.feed(ctx, done)
}

func (a *Adapter) stopFeed() {
	a.feedMu.Lock()
	cancel, done := a.feedCancel, a.feedDone
	a.feedCancel, a.feedDone = nil, nil
	a.feedMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *Adapter) feed(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.feedInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.emit()
		}
	}
}

// emit synthesizes one frame per provisioned channel and pushes them to
// the sink. Outages silence the feed without tearing it down.
func (a *Adapter) emit() {
	if a.outage.Load() {
		return
	}
	a.sinkMu.RLock()
	sink := a.sink
	a.sinkMu.RUnlock()
	if sink == nil {
		return
	}

	a.mu.Lock()
	channels := make([]string, 0, len(a.channels))
	for ch := range a.channels {
		channels = append(channels, ch)
	}
	a.mu.Unlock()

	for _, channel := range channels {
		msg, ok := a.synthesize(channel)
		if !ok {
			continue
		}
		sink(msg)
	}
}

// synthesize builds the payload for one canonical channel name.
func (a *Adapter) synthesize(channel string) (core.Message, bool) {
	kind, rest, ok := strings.Cut(channel, ".")
	if !ok {
		return core.Message{}, false
	}

	a.mu.Lock()
	var payload any
	switch kind {
	case "ticker":
		payload = a.buildTicker(rest)
	case "orderbook":
		payload = a.buildOrderBook(rest, 5)
	case "trades":
		payload = a.buildTrade(rest)
	case "kline":
		symbol, interval, found := cutLast(rest, ".")
		if !found {
			a.mu.Unlock()
			return core.Message{}, false
		}
		kline, err := a.buildKline(symbol, interval)
		if err != nil {
			a.mu.Unlock()
			return core.Message{}, false
		}
		payload = kline
	default:
		a.mu.Unlock()
		return core.Message{}, false
	}
	a.mu.Unlock()

	data, err := sonic.Marshal(payload)
	if err != nil {
		a.logger.Error().Err(err).Str("channel", channel).Msg("synthesize frame failed")
		return core.Message{}, false
	}
	return core.NewMessage(channel, data), true
}

func validChannel(channel string) bool {
	kind, rest, ok := strings.Cut(channel, ".")
	if !ok || rest == "" {
		return false
	}
	switch kind {
	case "ticker", "orderbook", "trades":
		return true
	case "kline":
		symbol, interval, found := cutLast(rest, ".")
		return found && symbol != "" && interval != ""
	}
	return false
}

// cutLast splits s around the final occurrence of sep.
func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
