package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWSClient_Defaults(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "wss://stream.example.com/ws"})

	assert.Equal(t, 1*time.Second, client.config.ReconnectMinWait)
	assert.Equal(t, 30*time.Second, client.config.ReconnectMaxWait)
	assert.Equal(t, 10*time.Second, client.config.PingInterval)
	assert.Equal(t, 20*time.Second, client.config.PongTimeout)
	assert.Equal(t, StateDisconnected, client.State())
	assert.False(t, client.IsConnected())
}

func TestNewWSClient_CustomConfig(t *testing.T) {
	client := NewWSClient(WSConfig{
		URL:              "wss://stream.example.com/ws",
		ReconnectEnabled: true,
		ReconnectMinWait: 500 * time.Millisecond,
		ReconnectMaxWait: 5 * time.Second,
		PingInterval:     3 * time.Second,
		PongTimeout:      6 * time.Second,
	})

	assert.Equal(t, 500*time.Millisecond, client.config.ReconnectMinWait)
	assert.Equal(t, 5*time.Second, client.config.ReconnectMaxWait)
	assert.Equal(t, 3*time.Second, client.config.PingInterval)
	assert.Equal(t, 6*time.Second, client.config.PongTimeout)
	assert.True(t, client.config.ReconnectEnabled)
}

func TestWSClient_NotConnectedErrors(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "wss://stream.example.com/ws"})

	err := client.WriteMessage([]byte(`{"op":"subscribe"}`))
	assert.ErrorContains(t, err, "not connected")

	err = client.SendJSON(map[string]string{"op": "subscribe"})
	assert.ErrorContains(t, err, "not connected")

	err = client.SendPing()
	assert.ErrorContains(t, err, "not connected")
}

func TestWSClient_SendJSONMarshalError(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "wss://stream.example.com/ws"})

	err := client.SendJSON(make(chan int))

	assert.ErrorContains(t, err, "marshal json")
}

func TestWSClient_CalculateBackoff(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "wss://stream.example.com/ws"})

	tests := []struct {
		attempts int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, client.calculateBackoff(tt.attempts))
	}
}

func TestWSClient_FrameDelivery(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "wss://stream.example.com/ws"})

	var got []byte
	client.SetFrameHandler(func(data []byte) {
		got = data
	})

	client.deliver([]byte(`{"channel":"ticker:BTC/USDT"}`))

	assert.Equal(t, `{"channel":"ticker:BTC/USDT"}`, string(got))
}

func TestWSClient_FrameDeliveryWithoutHandler(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "wss://stream.example.com/ws"})

	assert.NotPanics(t, func() {
		client.deliver([]byte(`{"channel":"ticker:BTC/USDT"}`))
	})
}

func TestWSClient_FrameHandlerPanicContained(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "wss://stream.example.com/ws"})

	delivered := 0
	client.SetFrameHandler(func(data []byte) {
		delivered++
		panic("bad handler")
	})

	assert.NotPanics(t, func() {
		client.deliver([]byte(`{}`))
		client.deliver([]byte(`{}`))
	})
	assert.Equal(t, 2, delivered)
}

func TestWSClient_ConnectRefused(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "ws://127.0.0.1:1/ws"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Connect(ctx)

	require.Error(t, err)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestWSClient_CloseLifecycle(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "wss://stream.example.com/ws"})

	require.NoError(t, client.Close())
	assert.Equal(t, StateClosed, client.State())

	assert.NoError(t, client.Close())

	err := client.Connect(context.Background())
	assert.ErrorContains(t, err, "invalid state")
}

func TestWSClient_StateTransitions(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "wss://stream.example.com/ws"})

	assert.True(t, client.casState(StateDisconnected, StateConnecting))
	assert.Equal(t, StateConnecting, client.State())

	// A stale transition from a state already left must not be taken.
	assert.False(t, client.casState(StateDisconnected, StateConnected))
	assert.Equal(t, StateConnecting, client.State())

	client.setState(StateConnected)
	assert.True(t, client.IsConnected())
}

func TestConnState_String(t *testing.T) {
	tests := []struct {
		state    ConnState
		expected string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateClosed, "closed"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.state.String())
	}
}
