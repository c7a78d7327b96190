package core

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
)

// OrderRequest describes an order to submit to an exchange.
type OrderRequest struct {
	// Symbol is the trading pair to trade.
	Symbol string `json:"symbol"`
	// Side indicates whether to buy or sell.
	Side OrderSide `json:"side"`
	// Type defines how the order executes.
	Type OrderType `json:"type"`
	// Price is required for limit-style orders.
	Price apd.Decimal `json:"price"`
	// Quantity is the amount to trade in base units.
	Quantity apd.Decimal `json:"quantity"`
	// TimeInForce defaults to GTC.
	TimeInForce TimeInForce `json:"time_in_force"`
	// ClientOrderID is the caller-supplied idempotency key. The builder fills
	// in a random UUID when left empty.
	ClientOrderID string `json:"client_order_id"`
}

// Validate checks the request against exchange-independent rules. Violations
// come back as non-retryable order errors attributed to the given exchange.
func (r *OrderRequest) Validate(exchange string) error {
	if strings.TrimSpace(r.Symbol) == "" {
		return NewOrderError(exchange, string(ErrCodeInvalidSymbol), "symbol is required", false)
	}
	if r.Quantity.Sign() <= 0 {
		return NewOrderError(exchange, string(ErrCodeInvalidOrder), "quantity must be positive", false)
	}
	if r.Type.requiresPrice() && r.Price.Sign() <= 0 {
		return NewOrderError(exchange, string(ErrCodeInvalidOrder),
			fmt.Sprintf("%s orders require a positive price", r.Type), false)
	}
	return nil
}

func (t OrderType) requiresPrice() bool {
	switch t {
	case TypeLimit, TypeStopLossLimit, TypeTakeProfitLimit:
		return true
	}
	return false
}

// OrderBuilder provides a fluent interface for constructing order requests.
// It accumulates parse errors and reports them on Build.
//
// Example:
//
//	req, err := core.NewOrderBuilder("BTC/USDT").
//	    Buy().
//	    Limit().
//	    Price("50000").
//	    Quantity("0.001").
//	    Build()
type OrderBuilder struct {
	req *OrderRequest
	err error
}

// NewOrderBuilder creates a new order builder for the given trading symbol.
func NewOrderBuilder(symbol string) *OrderBuilder {
	return &OrderBuilder{
		req: &OrderRequest{
			Symbol:      symbol,
			TimeInForce: GTC,
		},
	}
}

// Side sets the order side (buy or sell).
func (b *OrderBuilder) Side(side OrderSide) *OrderBuilder {
	if b.err != nil {
		return b
	}
	b.req.Side = side
	return b
}

// Buy sets the order side to buy.
func (b *OrderBuilder) Buy() *OrderBuilder {
	return b.Side(SideBuy)
}

// Sell sets the order side to sell.
func (b *OrderBuilder) Sell() *OrderBuilder {
	return b.Side(SideSell)
}

// Type sets the order type (market, limit, etc.).
func (b *OrderBuilder) Type(orderType OrderType) *OrderBuilder {
	if b.err != nil {
		return b
	}
	b.req.Type = orderType
	return b
}

// Market sets the order type to market.
func (b *OrderBuilder) Market() *OrderBuilder {
	return b.Type(TypeMarket)
}

// Limit sets the order type to limit.
func (b *OrderBuilder) Limit() *OrderBuilder {
	return b.Type(TypeLimit)
}

// Price sets the order price from a string representation.
func (b *OrderBuilder) Price(price string) *OrderBuilder {
	if b.err != nil {
		return b
	}
	_, _, err := b.req.Price.SetString(price)
	if err != nil {
		b.err = fmt.Errorf("parse price: %w", err)
	}
	return b
}

// PriceDecimal sets the order price from an apd.Decimal value.
func (b *OrderBuilder) PriceDecimal(price apd.Decimal) *OrderBuilder {
	if b.err != nil {
		return b
	}
	b.req.Price.Set(&price)
	return b
}

// Quantity sets the order quantity from a string representation.
func (b *OrderBuilder) Quantity(qty string) *OrderBuilder {
	if b.err != nil {
		return b
	}
	_, _, err := b.req.Quantity.SetString(qty)
	if err != nil {
		b.err = fmt.Errorf("parse quantity: %w", err)
	}
	return b
}

// QuantityDecimal sets the order quantity from an apd.Decimal value.
func (b *OrderBuilder) QuantityDecimal(qty apd.Decimal) *OrderBuilder {
	if b.err != nil {
		return b
	}
	b.req.Quantity.Set(&qty)
	return b
}

// TimeInForce sets the time-in-force policy for the order.
func (b *OrderBuilder) TimeInForce(tif TimeInForce) *OrderBuilder {
	if b.err != nil {
		return b
	}
	b.req.TimeInForce = tif
	return b
}

// ClientOrderID sets the client-assigned order identifier.
func (b *OrderBuilder) ClientOrderID(id string) *OrderBuilder {
	if b.err != nil {
		return b
	}
	b.req.ClientOrderID = id
	return b
}

// Build finalizes the request, defaulting ClientOrderID to a random UUID.
// Exchange-independent validation happens when the request is submitted
// through a connector.
func (b *OrderBuilder) Build() (*OrderRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.req.ClientOrderID == "" {
		b.req.ClientOrderID = uuid.NewString()
	}
	return b.req, nil
}
