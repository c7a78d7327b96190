package core

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Message is the envelope the stream transport hands to the subscription
// router: a channel name plus the raw payload published on that channel.
// The router treats the payload as opaque; typed helpers decode it on delivery.
type Message struct {
	// Channel names the stream the payload belongs to (e.g. "ticker.BTC/USDT").
	Channel string `json:"channel"`
	// Payload is the raw message body.
	Payload []byte `json:"payload"`
	// ReceivedAt is when the transport received the frame.
	ReceivedAt time.Time `json:"received_at"`
}

// NewMessage builds a Message stamped with the current time.
func NewMessage(channel string, payload []byte) Message {
	return Message{
		Channel:    channel,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := sonic.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Channel, err)
	}
	return nil
}

// Canonical channel names used by the typed subscription helpers. Adapters
// translate exchange-specific stream names into these before handing frames
// to the router.

// TickerChannel returns the canonical ticker channel for a symbol.
func TickerChannel(symbol string) string {
	return "ticker." + symbol
}

// OrderBookChannel returns the canonical order book channel for a symbol.
func OrderBookChannel(symbol string) string {
	return "orderbook." + symbol
}

// TradesChannel returns the canonical trades channel for a symbol.
func TradesChannel(symbol string) string {
	return "trades." + symbol
}

// KlineChannel returns the canonical kline channel for a symbol and interval.
func KlineChannel(symbol, interval string) string {
	return "kline." + symbol + "." + interval
}
