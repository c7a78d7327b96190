package connector

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	conn := New(&fakeAdapter{})

	require.NoError(t, r.Register("testex", "main", conn))

	got, err := r.Get("testex", "main")
	require.NoError(t, err)
	assert.Same(t, Connector(conn), got)

	// Exchange lookup is case-insensitive.
	got, err = r.Get("TESTEX", "main")
	require.NoError(t, err)
	assert.Same(t, Connector(conn), got)
}

func TestRegistry_RegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("testex", "main", New(&fakeAdapter{})))
	err := r.Register("Testex", "main", New(&fakeAdapter{}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_GetUnknownExchange(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("kraken", "main")

	require.Error(t, err)
	assert.True(t, core.IsUnsupportedExchangeError(err))
	assert.True(t, core.IsErrorCode(err, core.ErrCodeUnsupportedExchange))
}

func TestRegistry_AccountsAreIsolated(t *testing.T) {
	r := NewRegistry()
	main := New(&fakeAdapter{})
	hedge := New(&fakeAdapter{})

	require.NoError(t, r.Register("testex", "main", main))
	require.NoError(t, r.Register("testex", "hedge", hedge))

	got, err := r.Get("testex", "hedge")
	require.NoError(t, err)
	assert.Same(t, Connector(hedge), got)
	assert.NotSame(t, Connector(main), got)
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry()
	built := 0
	factory := func() Connector {
		built++
		return New(&fakeAdapter{})
	}

	first := r.GetOrCreate("testex", "main", factory)
	second := r.GetOrCreate("testex", "main", factory)

	assert.Same(t, first, second)
	assert.Equal(t, 1, built)
}

func TestRegistry_GetOrCreateConcurrent(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	built := 0
	factory := func() Connector {
		mu.Lock()
		built++
		mu.Unlock()
		return New(&fakeAdapter{})
	}

	var wg sync.WaitGroup
	results := make([]Connector, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.GetOrCreate("testex", "main", factory)
		}(i)
	}
	wg.Wait()

	for _, conn := range results {
		assert.Same(t, results[0], conn)
	}
	assert.Equal(t, 1, built)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_KeysSortedAndLifecycle(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("bybit", "main", New(&fakeAdapter{})))
	require.NoError(t, r.Register("binance", "main", New(&fakeAdapter{})))
	require.NoError(t, r.Register("binance", "hedge", New(&fakeAdapter{})))

	assert.Equal(t, []string{"binance/hedge", "binance/main", "bybit/main"}, r.Keys())
	assert.True(t, r.Exists("binance", "hedge"))

	assert.True(t, r.Unregister("binance", "hedge"))
	assert.False(t, r.Unregister("binance", "hedge"))
	assert.False(t, r.Exists("binance", "hedge"))
	assert.Equal(t, 2, r.Len())

	r.Clear()
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Keys())
}
