package connector

import (
	"context"
	"fmt"
	"strings"

	"nakula/pkg/core"
	"nakula/pkg/subscription"
)

// nextSubID issues the connector-unique subscription id.
func (c *Core) nextSubID() string {
	return fmt.Sprintf("%s_sub_%d", strings.ToLower(c.Exchange()), c.subSeq.Add(1))
}

// Subscribe registers a raw message handler on a channel and returns the
// subscription id. When the adapter implements StreamProvisioner and this
// is the channel's first subscriber, the upstream channel is provisioned
// before the registration; a registration failure rolls the provisioning
// back.
func (c *Core) Subscribe(ctx context.Context, channel string, handler subscription.Handler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("subscribe %s: nil handler", channel)
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	// Checked under subMu: Disconnect flips the state before its purge, so
	// a subscription admitted here is guaranteed to be seen by the purge.
	if !c.IsConnected() {
		return "", core.NewNotConnectedError(c.Exchange()).WithCode(core.ErrCodeNotConnected)
	}
	subs := c.router()
	if subs == nil {
		return "", core.NewNotConnectedError(c.Exchange()).WithCode(core.ErrCodeNotConnected)
	}

	provisioned := false
	if prov, ok := c.adapter.(StreamProvisioner); ok && len(subs.Subscribers(channel)) == 0 {
		if err := prov.SubscribeChannel(ctx, channel); err != nil {
			return "", core.NewConnectionError(c.Exchange(), fmt.Sprintf("provision channel %s", channel), err).
				WithCode(core.ErrCodeSubscriptionFailed)
		}
		provisioned = true
	}

	id := c.nextSubID()
	if err := subs.Add(id, channel, handler); err != nil {
		if provisioned {
			c.deprovision(ctx, channel)
		}
		return "", err
	}

	c.logger.Debug().Str("subscription", id).Str("channel", channel).Msg("subscribed")
	return id, nil
}

// Unsubscribe removes a subscription and reports whether the id was
// registered. When the channel loses its last subscriber the upstream
// channel is deprovisioned; deprovisioning failures are logged, never
// raised.
func (c *Core) Unsubscribe(ctx context.Context, id string) bool {
	subs := c.router()
	if subs == nil {
		return false
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	sub, ok := subs.Get(id)
	if !ok {
		return false
	}
	removed := subs.Remove(id)
	if removed {
		c.logger.Debug().Str("subscription", id).Str("channel", sub.Channel).Msg("unsubscribed")
		if len(subs.Subscribers(sub.Channel)) == 0 {
			c.deprovision(ctx, sub.Channel)
		}
	}
	return removed
}

// UnsubscribeAll removes every subscription and deprovisions every upstream
// channel. It never fails; a connector with zero subscriptions is a no-op.
func (c *Core) UnsubscribeAll(ctx context.Context) {
	subs := c.router()
	if subs == nil {
		return
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	channels := subs.Channels()
	subs.Clear()
	for _, channel := range channels {
		c.deprovision(ctx, channel)
	}
}

func (c *Core) deprovision(ctx context.Context, channel string) {
	prov, ok := c.adapter.(StreamProvisioner)
	if !ok {
		return
	}
	if err := prov.UnsubscribeChannel(ctx, channel); err != nil {
		c.logger.Warn().Err(err).Str("channel", channel).Msg("deprovision channel failed")
	}
}

// HandleMessage is the transport ingress: adapters push normalized messages
// here and the router fans them out to matching subscribers. It never
// blocks and is safe to call from any goroutine.
func (c *Core) HandleMessage(msg core.Message) {
	if subs := c.router(); subs != nil {
		subs.Route(msg)
	}
}

// subscribeTyped wraps a typed handler so undecodable payloads are logged
// and skipped instead of reaching the handler.
func subscribeTyped[T any](c *Core, ctx context.Context, channel string, handler func(*T)) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("subscribe %s: nil handler", channel)
	}
	return c.Subscribe(ctx, channel, func(msg core.Message) {
		v := new(T)
		if err := msg.Decode(v); err != nil {
			c.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable payload")
			return
		}
		handler(v)
	})
}

// SubscribeTicker delivers decoded ticker updates for the symbol.
func (c *Core) SubscribeTicker(ctx context.Context, symbol string, handler func(*core.Ticker)) (string, error) {
	return subscribeTyped(c, ctx, core.TickerChannel(symbol), handler)
}

// SubscribeOrderBook delivers decoded order book snapshots for the symbol.
func (c *Core) SubscribeOrderBook(ctx context.Context, symbol string, handler func(*core.OrderBook)) (string, error) {
	return subscribeTyped(c, ctx, core.OrderBookChannel(symbol), handler)
}

// SubscribeTrades delivers decoded public trades for the symbol.
func (c *Core) SubscribeTrades(ctx context.Context, symbol string, handler func(*core.Trade)) (string, error) {
	return subscribeTyped(c, ctx, core.TradesChannel(symbol), handler)
}

// SubscribeKlines delivers decoded candlesticks for the symbol and interval.
func (c *Core) SubscribeKlines(ctx context.Context, symbol, interval string, handler func(*core.Kline)) (string, error) {
	return subscribeTyped(c, ctx, core.KlineChannel(symbol, interval), handler)
}
