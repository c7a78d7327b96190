package connector

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"nakula/pkg/core"
)

// Registry is a thread-safe collection of connectors keyed by exchange and
// account, so every caller holding the same pair shares one connector
// instance together with its rate limiter and metrics.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates and returns a new empty connector registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
	}
}

// registryKey builds the map key for an (exchange, account) pair. The
// exchange part is case-insensitive.
func registryKey(exchange, account string) string {
	return strings.ToLower(exchange) + "/" + account
}

// Register adds a connector for the (exchange, account) pair.
// It returns an error if the pair already has a connector.
func (r *Registry) Register(exchange, account string, conn Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(exchange, account)
	if _, exists := r.connectors[key]; exists {
		return fmt.Errorf("connector %q already registered", key)
	}
	r.connectors[key] = conn
	return nil
}

// Get retrieves the connector for the (exchange, account) pair.
// It returns an UnsupportedExchangeError if none is registered.
func (r *Registry) Get(exchange, account string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connectors[registryKey(exchange, account)]
	if !exists {
		return nil, core.NewUnsupportedExchangeError(exchange).
			WithCode(core.ErrCodeUnsupportedExchange)
	}
	return conn, nil
}

// GetOrCreate returns the existing connector for the pair, or builds one
// with factory, registers it and returns it.
func (r *Registry) GetOrCreate(exchange, account string, factory func() Connector) Connector {
	key := registryKey(exchange, account)

	r.mu.RLock()
	conn, exists := r.connectors[key]
	r.mu.RUnlock()
	if exists {
		return conn
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, exists := r.connectors[key]; exists {
		return conn
	}
	conn = factory()
	r.connectors[key] = conn
	return conn
}

// Keys returns the sorted list of registered (exchange, account) keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.connectors))
	for key := range r.connectors {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Unregister removes the connector for the pair and reports whether one
// was registered. The connector is not disconnected; that remains the
// caller's responsibility.
func (r *Registry) Unregister(exchange, account string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(exchange, account)
	_, exists := r.connectors[key]
	delete(r.connectors, key)
	return exists
}

// Clear removes all connectors from the registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors = make(map[string]Connector)
}

// Exists checks whether the (exchange, account) pair has a connector.
func (r *Registry) Exists(exchange, account string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.connectors[registryKey(exchange, account)]
	return exists
}

// Len returns the number of registered connectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}
