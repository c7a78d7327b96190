package connector

import (
	"context"

	"nakula/pkg/core"
)

// Adapter supplies the exchange-specific half of a connector: a fixed
// identity, a lightweight connectivity probe, and the raw remote calls
// the shared core wraps with state guards, rate limiting, retries and
// metrics. Implementations should classify transport failures into the
// core error taxonomy so retry and health decisions stay accurate.
//
// Adapters are never called outside the core's pipeline and may assume
// the context carries the configured per-attempt deadline.
type Adapter interface {
	// Exchange returns the exchange identity, e.g. "binance".
	Exchange() string

	// Probe performs a lightweight connectivity check such as a ping or a
	// server-time request. It must not mutate exchange state.
	Probe(ctx context.Context) error

	FetchTicker(ctx context.Context, symbol string) (*core.Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*core.OrderBook, error)
	FetchTrades(ctx context.Context, symbol string, limit int) ([]core.Trade, error)
	FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]core.Kline, error)

	FetchBalances(ctx context.Context) ([]core.Balance, error)
	FetchPositions(ctx context.Context) ([]core.Position, error)

	SubmitOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (*core.Order, error)
	FetchOrder(ctx context.Context, symbol, orderID string) (*core.Order, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]core.Order, error)
}

// Hooks is an optional interface adapters implement to run setup and
// teardown around the connection lifecycle. OnConnect runs after a
// successful probe; its failure fails the whole Connect. OnDisconnect
// runs during Disconnect; its failure is logged, never returned.
type Hooks interface {
	OnConnect(ctx context.Context) error
	OnDisconnect(ctx context.Context) error
}

// StreamProvisioner is an optional interface adapters implement when the
// upstream requires explicit per-channel subscribe and unsubscribe
// messages. The core provisions a channel before registering its first
// local subscriber and deprovisions it after removing the last one.
type StreamProvisioner interface {
	SubscribeChannel(ctx context.Context, channel string) error
	UnsubscribeChannel(ctx context.Context, channel string) error
}
