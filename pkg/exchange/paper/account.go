package paper

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"nakula/pkg/core"
)

// FetchBalances returns the configured holdings sorted by asset.
func (a *Adapter) FetchBalances(ctx context.Context) ([]core.Balance, error) {
	if err := a.gate(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	assets := make([]string, 0, len(a.balances))
	for asset := range a.balances {
		assets = append(assets, asset)
	}
	slices.Sort(assets)

	balances := make([]core.Balance, 0, len(assets))
	for _, asset := range assets {
		var b core.Balance
		b.Asset = asset
		b.Free.Set(a.balances[asset])
		balances = append(balances, b)
	}
	return balances, nil
}

// FetchPositions returns an empty slice. The paper venue models a spot
// account and carries no derivative positions.
func (a *Adapter) FetchPositions(ctx context.Context) ([]core.Position, error) {
	if err := a.gate(ctx); err != nil {
		return nil, err
	}
	return []core.Position{}, nil
}

// SubmitOrder books an order against the tape. Market orders and
// marketable limit orders fill immediately; other limit orders rest and
// fill when a later tape move crosses their price. Stop variants are not
// supported.
func (a *Adapter) SubmitOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	if err := a.gate(ctx); err != nil {
		return nil, err
	}
	if req.Type != core.TypeMarket && req.Type != core.TypeLimit {
		return nil, core.NewOrderError(exchangeName, string(core.ErrCodeInvalidOrder),
			fmt.Sprintf("%s orders are not supported", req.Type), false)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	last := a.step(req.Symbol)
	now := time.Now()

	order := &core.Order{
		ID:            fmt.Sprintf("paper-%06d", a.orderSeq.Add(1)),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.Quantity.Set(&req.Quantity)

	switch req.Type {
	case core.TypeMarket:
		order.Price.Set(last)
		fill(order, now)
	case core.TypeLimit:
		order.Price.Set(&req.Price)
		if crosses(req.Side, last, &req.Price) {
			fill(order, now)
		} else {
			order.Status = core.StatusNew
			order.RemainingQty.Set(&req.Quantity)
		}
	}

	a.orders[order.ID] = order
	a.logger.Debug().
		Str("order_id", order.ID).
		Str("symbol", order.Symbol).
		Str("status", order.Status.String()).
		Msg("order booked")
	return cloneOrder(order), nil
}

// CancelOrder cancels a resting order. Terminal orders cannot be
// canceled again.
func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (*core.Order, error) {
	if err := a.gate(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	order, err := a.lookup(symbol, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, core.NewOrderError(exchangeName, "ORDER_NOT_OPEN",
			fmt.Sprintf("order %q is already %s", orderID, order.Status), false)
	}
	order.Status = core.StatusCanceled
	order.RemainingQty.SetInt64(0)
	order.UpdatedAt = time.Now()
	return cloneOrder(order), nil
}

// FetchOrder returns the current state of one order.
func (a *Adapter) FetchOrder(ctx context.Context, symbol, orderID string) (*core.Order, error) {
	if err := a.gate(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	order, err := a.lookup(symbol, orderID)
	if err != nil {
		return nil, err
	}
	return cloneOrder(order), nil
}

// FetchOpenOrders returns non-terminal orders, all symbols when symbol
// is empty, in submission order.
func (a *Adapter) FetchOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	if err := a.gate(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	open := make([]core.Order, 0)
	for _, order := range a.orders {
		if order.Status.IsTerminal() {
			continue
		}
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		open = append(open, *cloneOrder(order))
	}
	slices.SortFunc(open, func(x, y core.Order) int {
		return strings.Compare(x.ID, y.ID)
	})
	return open, nil
}

// lookup finds an order by id scoped to a symbol. Callers hold a.mu.
func (a *Adapter) lookup(symbol, orderID string) (*core.Order, error) {
	order, ok := a.orders[orderID]
	if !ok || (symbol != "" && order.Symbol != symbol) {
		return nil, core.NewOrderError(exchangeName, "ORDER_NOT_FOUND",
			fmt.Sprintf("order %q not found", orderID), false)
	}
	return order, nil
}

// crossResting fills any resting limit order the new tape price crosses.
// Callers hold a.mu.
func (a *Adapter) crossResting(symbol string, last *apd.Decimal) {
	now := time.Now()
	for _, order := range a.orders {
		if order.Symbol != symbol || order.Type != core.TypeLimit || order.Status != core.StatusNew {
			continue
		}
		if crosses(order.Side, last, &order.Price) {
			fill(order, now)
			a.logger.Debug().
				Str("order_id", order.ID).
				Str("price", order.Price.String()).
				Msg("resting order filled")
		}
	}
}

// crosses reports whether a tape price at last satisfies a limit order:
// buys fill at or below their limit, sells at or above.
func crosses(side core.OrderSide, last, limit *apd.Decimal) bool {
	if side == core.SideBuy {
		return last.Cmp(limit) <= 0
	}
	return last.Cmp(limit) >= 0
}

// fill marks an order completely executed at its booked price.
func fill(order *core.Order, now time.Time) {
	order.Status = core.StatusFilled
	order.FilledQuantity.Set(&order.Quantity)
	order.RemainingQty.SetInt64(0)
	order.UpdatedAt = now
}

// cloneOrder copies an order so callers never share the live record.
func cloneOrder(order *core.Order) *core.Order {
	clone := *order
	return &clone
}
