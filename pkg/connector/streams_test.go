package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
)

func TestCore_SubscribeRequiresConnected(t *testing.T) {
	c := New(&fakeAdapter{})
	require.NoError(t, c.Configure(testConfig()))

	_, err := c.Subscribe(context.Background(), "ticker.BTC/USDT", func(core.Message) {})

	require.Error(t, err)
	assert.True(t, core.IsNotConnectedError(err))
}

func TestCore_SubscribeGeneratesSequentialIDs(t *testing.T) {
	c := newConnected(t, &fakeAdapter{})
	ctx := context.Background()

	first, err := c.SubscribeTicker(ctx, "BTC/USDT", func(*core.Ticker) {})
	require.NoError(t, err)
	second, err := c.SubscribeTrades(ctx, "BTC/USDT", func(*core.Trade) {})
	require.NoError(t, err)

	assert.Equal(t, "testex_sub_1", first)
	assert.Equal(t, "testex_sub_2", second)
	assert.Equal(t, 2, c.Metrics().ActiveSubscriptions)
}

func TestCore_SubscribeRejectsNilHandler(t *testing.T) {
	c := newConnected(t, &fakeAdapter{})

	_, err := c.Subscribe(context.Background(), "ticker.BTC/USDT", nil)
	require.Error(t, err)

	_, err = c.SubscribeTicker(context.Background(), "BTC/USDT", nil)
	require.Error(t, err)
}

func TestCore_SubscribeProvisionsChannelOnce(t *testing.T) {
	adapter := newStreamAdapter()
	c := newConnected(t, adapter)
	ctx := context.Background()

	_, err := c.SubscribeTicker(ctx, "BTC/USDT", func(*core.Ticker) {})
	require.NoError(t, err)
	_, err = c.SubscribeTicker(ctx, "BTC/USDT", func(*core.Ticker) {})
	require.NoError(t, err)
	_, err = c.SubscribeTrades(ctx, "BTC/USDT", func(*core.Trade) {})
	require.NoError(t, err)

	assert.Equal(t, 1, adapter.provisions["ticker.BTC/USDT"])
	assert.Equal(t, 1, adapter.provisions["trades.BTC/USDT"])
}

func TestCore_SubscribeProvisionFailure(t *testing.T) {
	adapter := newStreamAdapter()
	adapter.provisionErr = errors.New("stream rejected")
	c := newConnected(t, adapter)

	_, err := c.SubscribeTicker(context.Background(), "BTC/USDT", func(*core.Ticker) {})

	require.Error(t, err)
	assert.True(t, core.IsErrorCode(err, core.ErrCodeSubscriptionFailed))
	assert.Zero(t, c.Metrics().ActiveSubscriptions)
}

func TestCore_UnsubscribeDeprovisionsAfterLastSubscriber(t *testing.T) {
	adapter := newStreamAdapter()
	c := newConnected(t, adapter)
	ctx := context.Background()

	first, err := c.SubscribeTicker(ctx, "BTC/USDT", func(*core.Ticker) {})
	require.NoError(t, err)
	second, err := c.SubscribeTicker(ctx, "BTC/USDT", func(*core.Ticker) {})
	require.NoError(t, err)

	assert.True(t, c.Unsubscribe(ctx, first))
	assert.Zero(t, adapter.deprovisions["ticker.BTC/USDT"])

	assert.True(t, c.Unsubscribe(ctx, second))
	assert.Equal(t, 1, adapter.deprovisions["ticker.BTC/USDT"])

	assert.False(t, c.Unsubscribe(ctx, second))
	assert.False(t, c.Unsubscribe(ctx, "testex_sub_999"))
}

func TestCore_UnsubscribeAll(t *testing.T) {
	adapter := newStreamAdapter()
	c := newConnected(t, adapter)
	ctx := context.Background()

	// A connector with zero subscriptions is a no-op.
	c.UnsubscribeAll(ctx)

	_, err := c.SubscribeTicker(ctx, "BTC/USDT", func(*core.Ticker) {})
	require.NoError(t, err)
	_, err = c.SubscribeTrades(ctx, "ETH/USDT", func(*core.Trade) {})
	require.NoError(t, err)

	c.UnsubscribeAll(ctx)

	assert.Zero(t, c.Metrics().ActiveSubscriptions)
	assert.Equal(t, 1, adapter.deprovisions["ticker.BTC/USDT"])
	assert.Equal(t, 1, adapter.deprovisions["trades.ETH/USDT"])

	c.UnsubscribeAll(ctx)
	assert.Equal(t, 1, adapter.deprovisions["ticker.BTC/USDT"])
}

func TestCore_DisconnectClearsSubscriptions(t *testing.T) {
	adapter := newStreamAdapter()
	c := newConnected(t, adapter)
	ctx := context.Background()

	_, err := c.SubscribeTicker(ctx, "BTC/USDT", func(*core.Ticker) {})
	require.NoError(t, err)
	_, err = c.SubscribeOrderBook(ctx, "BTC/USDT", func(*core.OrderBook) {})
	require.NoError(t, err)

	require.NoError(t, c.Disconnect(ctx))

	assert.Zero(t, c.Metrics().ActiveSubscriptions)
	assert.Equal(t, 1, adapter.deprovisions["ticker.BTC/USDT"])
	assert.Equal(t, 1, adapter.deprovisions["orderbook.BTC/USDT"])
	assert.Equal(t, 1, adapter.disconnects)
}

func TestCore_HandleMessageDeliversDecodedTicker(t *testing.T) {
	c := newConnected(t, &fakeAdapter{})
	received := make(chan *core.Ticker, 1)

	_, err := c.SubscribeTicker(context.Background(), "BTC/USDT", func(ticker *core.Ticker) {
		received <- ticker
	})
	require.NoError(t, err)

	payload := []byte(`{"symbol":"BTC/USDT","last":"50000.5"}`)
	c.HandleMessage(core.NewMessage(core.TickerChannel("BTC/USDT"), payload))

	select {
	case ticker := <-received:
		assert.Equal(t, "BTC/USDT", ticker.Symbol)
		assert.Equal(t, "50000.5", ticker.Last.String())
	case <-time.After(2 * time.Second):
		t.Fatal("ticker was not delivered")
	}
}

func TestCore_HandleMessageSkipsUndecodablePayload(t *testing.T) {
	c := newConnected(t, &fakeAdapter{})
	received := make(chan *core.Ticker, 2)

	_, err := c.SubscribeTicker(context.Background(), "BTC/USDT", func(ticker *core.Ticker) {
		received <- ticker
	})
	require.NoError(t, err)

	channel := core.TickerChannel("BTC/USDT")
	c.HandleMessage(core.NewMessage(channel, []byte(`{"symbol":`)))
	c.HandleMessage(core.NewMessage(channel, []byte(`{"symbol":"BTC/USDT"}`)))

	// Only the valid payload reaches the handler.
	select {
	case ticker := <-received:
		assert.Equal(t, "BTC/USDT", ticker.Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("ticker was not delivered")
	}
	assert.Empty(t, received)
}

func TestCore_HandleMessageRoutesRawChannels(t *testing.T) {
	c := newConnected(t, &fakeAdapter{})
	received := make(chan core.Message, 1)

	_, err := c.Subscribe(context.Background(), "userdata", func(msg core.Message) {
		received <- msg
	})
	require.NoError(t, err)

	c.HandleMessage(core.NewMessage("userdata", []byte(`{"event":"balance"}`)))

	select {
	case msg := <-received:
		assert.Equal(t, "userdata", msg.Channel)
		assert.JSONEq(t, `{"event":"balance"}`, string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}

	assert.Eventually(t, func() bool {
		return c.Metrics().Router.MessagesRouted == 1
	}, 2*time.Second, 10*time.Millisecond)
}
