package subscription

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
)

func newTestManager() *Manager {
	return New("testex", 16, zerolog.Nop())
}

func TestManager_Add(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	err := m.Add("testex_sub_1", "ticker.BTC/USDT", func(core.Message) {})
	require.NoError(t, err)

	assert.True(t, m.Has("testex_sub_1"))
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, []string{"testex_sub_1"}, m.Subscribers("ticker.BTC/USDT"))
}

func TestManager_Add_Duplicate(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	require.NoError(t, m.Add("dup", "ticker.BTC/USDT", func(core.Message) {}))

	err := m.Add("dup", "trades.BTC/USDT", func(core.Message) {})
	require.Error(t, err)
	assert.True(t, core.IsDuplicateSubscriptionError(err))
	assert.True(t, core.IsErrorCode(err, core.ErrCodeDuplicateSubscription))

	// The original registration survives.
	sub, ok := m.Get("dup")
	require.True(t, ok)
	assert.Equal(t, "ticker.BTC/USDT", sub.Channel)
}

func TestManager_Add_NilHandler(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	assert.Error(t, m.Add("nope", "ticker.BTC/USDT", nil))
	assert.False(t, m.Has("nope"))
}

func TestManager_Remove(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	require.NoError(t, m.Add("gone", "ticker.BTC/USDT", func(core.Message) {}))

	assert.True(t, m.Remove("gone"))
	assert.False(t, m.Has("gone"))
	assert.Empty(t, m.Channels())

	assert.False(t, m.Remove("gone"), "second removal is a no-op")
	assert.False(t, m.Remove("never-existed"))
}

func TestManager_Route_DeliversToMatchingChannel(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	got := make(chan core.Message, 1)
	require.NoError(t, m.Add("sub1", "ticker.BTC/USDT", func(msg core.Message) {
		got <- msg
	}))
	other := make(chan core.Message, 1)
	require.NoError(t, m.Add("sub2", "trades.BTC/USDT", func(msg core.Message) {
		other <- msg
	}))

	m.Route(core.NewMessage("ticker.BTC/USDT", []byte(`{"symbol":"BTC/USDT"}`)))

	select {
	case msg := <-got:
		assert.Equal(t, "ticker.BTC/USDT", msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	select {
	case <-other:
		t.Fatal("delivered to wrong channel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_Route_PanicIsolation(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	require.NoError(t, m.Add("bad", "ticker.BTC/USDT", func(core.Message) {
		panic("subscriber bug")
	}))
	good := make(chan core.Message, 4)
	require.NoError(t, m.Add("good", "ticker.BTC/USDT", func(msg core.Message) {
		good <- msg
	}))

	m.Route(core.NewMessage("ticker.BTC/USDT", nil))
	m.Route(core.NewMessage("ticker.BTC/USDT", nil))

	for i := 0; i < 2; i++ {
		select {
		case <-good:
		case <-time.After(time.Second):
			t.Fatal("healthy subscriber starved by panicking peer")
		}
	}

	assert.Eventually(t, func() bool {
		return m.Metrics().RoutingErrors == 2
	}, time.Second, 10*time.Millisecond, "one routing error per failed delivery")
}

func TestManager_Route_NoSubscribers(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	m.Route(core.NewMessage("ticker.NOPE", nil))

	metrics := m.Metrics()
	assert.Equal(t, int64(1), metrics.UnroutedMessages)
	assert.Zero(t, metrics.MessagesRouted)
}

func TestManager_Route_PerSubscriberOrdering(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	var mu sync.Mutex
	var seen []string
	require.NoError(t, m.Add("ordered", "trades.ETH/USDT", func(msg core.Message) {
		mu.Lock()
		seen = append(seen, string(msg.Payload))
		mu.Unlock()
	}))

	const n = 10
	for i := 0; i < n; i++ {
		m.Route(core.NewMessage("trades.ETH/USDT", fmt.Appendf(nil, "%d", i)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == n
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("%d", i), seen[i], "arrival order preserved per subscriber")
	}
}

func TestManager_Route_DropsWhenQueueFull(t *testing.T) {
	m := New("testex", 1, zerolog.Nop())
	defer m.Close()

	gate := make(chan struct{})
	require.NoError(t, m.Add("slow", "ticker.BTC/USDT", func(core.Message) {
		<-gate
	}))

	// First message occupies the worker, second fills the queue, the rest drop.
	for i := 0; i < 5; i++ {
		m.Route(core.NewMessage("ticker.BTC/USDT", nil))
	}
	close(gate)

	assert.Eventually(t, func() bool {
		return m.Metrics().DroppedMessages >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestManager_Clear(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Add(fmt.Sprintf("sub%d", i), "ticker.BTC/USDT", func(core.Message) {}))
	}
	require.Equal(t, 5, m.Len())

	m.Clear()

	assert.Zero(t, m.Len())
	assert.Empty(t, m.IDs())
	assert.Empty(t, m.Channels())
}

func TestManager_Queries(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	require.NoError(t, m.Add("b", "trades.BTC/USDT", func(core.Message) {}))
	require.NoError(t, m.Add("a", "ticker.BTC/USDT", func(core.Message) {}))
	require.NoError(t, m.Add("c", "ticker.BTC/USDT", func(core.Message) {}))

	assert.Equal(t, []string{"a", "b", "c"}, m.IDs())
	assert.Equal(t, []string{"ticker.BTC/USDT", "trades.BTC/USDT"}, m.Channels())
	assert.Equal(t, []string{"a", "c"}, m.Subscribers("ticker.BTC/USDT"))
	assert.Empty(t, m.Subscribers("kline.BTC/USDT.1h"))
}

func TestManager_Metrics(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	delivered := make(chan struct{}, 8)
	require.NoError(t, m.Add("s1", "ticker.BTC/USDT", func(core.Message) {
		delivered <- struct{}{}
	}))
	require.NoError(t, m.Add("s2", "ticker.BTC/USDT", func(core.Message) {
		delivered <- struct{}{}
	}))

	m.Route(core.NewMessage("ticker.BTC/USDT", nil))
	m.Route(core.NewMessage("kline.BTC/USDT.1h", nil))

	for i := 0; i < 2; i++ {
		select {
		case <-delivered:
		case <-time.After(time.Second):
			t.Fatal("delivery timed out")
		}
	}

	metrics := m.Metrics()
	assert.Equal(t, 2, metrics.ActiveSubscriptions)
	assert.Equal(t, 1, metrics.ActiveChannels)
	assert.Equal(t, map[string]int{"ticker.BTC/USDT": 2}, metrics.ChannelSubscribers)
	assert.Equal(t, int64(1), metrics.MessagesRouted)
	assert.Equal(t, int64(1), metrics.UnroutedMessages)

	m.ResetMetrics()
	metrics = m.Metrics()
	assert.Zero(t, metrics.MessagesRouted)
	assert.Zero(t, metrics.UnroutedMessages)
	assert.Equal(t, 2, metrics.ActiveSubscriptions, "registrations survive a metrics reset")
}

func TestManager_ConcurrentRouteAndMutate(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("sub%d", i)
			for j := 0; j < 50; j++ {
				_ = m.Add(id, "ticker.BTC/USDT", func(core.Message) {})
				m.Route(core.NewMessage("ticker.BTC/USDT", nil))
				m.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	m.Clear()
	assert.Zero(t, m.Len())
}
