// Package connector implements the shared exchange connector: a lifecycle
// state machine wrapping an exchange-specific Adapter with rate limiting,
// retries, subscription routing and request metrics. Exchange packages
// supply the Adapter; everything above it sees only the Connector contract.
package connector

import (
	"context"

	"nakula/pkg/core"
	"nakula/pkg/subscription"
)

// Connector defines the unified contract for interacting with cryptocurrency
// exchanges. Every implementation provides lifecycle control, market data
// retrieval, account management, order execution and real-time subscription
// routing, all funneled through shared resilience plumbing.
type Connector interface {
	Exchange() string
	State() State
	IsConnected() bool

	Configure(cfg *core.Config) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	TestConnectivity(ctx context.Context) error

	GetTicker(ctx context.Context, symbol string) (*core.Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (*core.OrderBook, error)
	GetTrades(ctx context.Context, symbol string, limit int) ([]core.Trade, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]core.Kline, error)

	GetBalances(ctx context.Context) ([]core.Balance, error)
	GetPositions(ctx context.Context) ([]core.Position, error)

	PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (*core.Order, error)
	GetOrder(ctx context.Context, symbol, orderID string) (*core.Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]core.Order, error)

	Subscribe(ctx context.Context, channel string, handler subscription.Handler) (string, error)
	SubscribeTicker(ctx context.Context, symbol string, handler func(*core.Ticker)) (string, error)
	SubscribeOrderBook(ctx context.Context, symbol string, handler func(*core.OrderBook)) (string, error)
	SubscribeTrades(ctx context.Context, symbol string, handler func(*core.Trade)) (string, error)
	SubscribeKlines(ctx context.Context, symbol, interval string, handler func(*core.Kline)) (string, error)
	Unsubscribe(ctx context.Context, id string) bool
	UnsubscribeAll(ctx context.Context)
	HandleMessage(msg core.Message)

	Metrics() MetricsSnapshot
	ResetMetrics()
}
