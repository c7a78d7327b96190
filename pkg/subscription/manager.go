// Package subscription implements the registry and router for stream
// subscriptions. Handlers are keyed by subscription id and indexed by
// channel; each subscription owns a buffered delivery queue drained by its
// own worker, so routing never blocks on a slow subscriber and delivery
// order per subscriber follows arrival order.
package subscription

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"nakula/pkg/core"
)

// Handler is invoked once per message delivered to a subscription.
type Handler func(core.Message)

// Subscription is one registered stream handler.
type Subscription struct {
	// ID uniquely identifies the subscription.
	ID string
	// Channel is the stream the handler receives.
	Channel string

	handler Handler
	queue   chan core.Message
	quit    chan struct{}
}

// Metrics tracks router statistics.
type Metrics struct {
	routed        atomic.Int64
	routingErrors atomic.Int64
	dropped       atomic.Int64
	unrouted      atomic.Int64
}

// Manager owns the subscription registry and routes incoming messages to
// matching handlers.
type Manager struct {
	exchange string
	buffer   int
	logger   zerolog.Logger

	mu       sync.RWMutex
	subs     map[string]*Subscription
	channels map[string]map[string]*Subscription

	wg      sync.WaitGroup
	metrics *Metrics
}

// New creates a Manager for the given exchange. bufferSize is the per-
// subscription queue length; messages beyond it are dropped for that
// subscriber only.
func New(exchange string, bufferSize int, logger zerolog.Logger) *Manager {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Manager{
		exchange: exchange,
		buffer:   bufferSize,
		logger:   logger.With().Str("exchange", exchange).Logger(),
		subs:     make(map[string]*Subscription),
		channels: make(map[string]map[string]*Subscription),
		metrics:  &Metrics{},
	}
}

// Add registers a handler under the given id on the given channel and starts
// its delivery worker. Registering an id twice fails with a duplicate
// subscription error and leaves the existing registration untouched.
func (m *Manager) Add(id, channel string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("subscription %q: nil handler", id)
	}

	sub := &Subscription{
		ID:      id,
		Channel: channel,
		handler: handler,
		queue:   make(chan core.Message, m.buffer),
		quit:    make(chan struct{}),
	}

	m.mu.Lock()
	if _, exists := m.subs[id]; exists {
		m.mu.Unlock()
		return core.NewDuplicateSubscriptionError(m.exchange, id).
			WithCode(core.ErrCodeDuplicateSubscription)
	}
	m.subs[id] = sub
	chanSubs := m.channels[channel]
	if chanSubs == nil {
		chanSubs = make(map[string]*Subscription)
		m.channels[channel] = chanSubs
	}
	chanSubs[id] = sub
	m.mu.Unlock()

	m.wg.Go(func() { m.deliver(sub) })

	m.logger.Debug().Str("subscription", id).Str("channel", channel).Msg("subscription added")
	return nil
}

// Remove deregisters a subscription and stops its worker, discarding any
// queued messages. It reports whether the id was registered.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	sub, exists := m.subs[id]
	if exists {
		delete(m.subs, id)
		if chanSubs := m.channels[sub.Channel]; chanSubs != nil {
			delete(chanSubs, id)
			if len(chanSubs) == 0 {
				delete(m.channels, sub.Channel)
			}
		}
	}
	m.mu.Unlock()

	if !exists {
		return false
	}
	close(sub.quit)
	m.logger.Debug().Str("subscription", id).Str("channel", sub.Channel).Msg("subscription removed")
	return true
}

// Clear removes every subscription in one atomic sweep.
func (m *Manager) Clear() {
	m.mu.Lock()
	removed := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		removed = append(removed, sub)
	}
	m.subs = make(map[string]*Subscription)
	m.channels = make(map[string]map[string]*Subscription)
	m.mu.Unlock()

	for _, sub := range removed {
		close(sub.quit)
	}
	if len(removed) > 0 {
		m.logger.Debug().Int("count", len(removed)).Msg("subscriptions cleared")
	}
}

// Close clears all subscriptions and waits for the delivery workers to exit.
func (m *Manager) Close() {
	m.Clear()
	m.wg.Wait()
}

// Route dispatches a message to every subscriber of its channel without
// blocking the caller. A full subscriber queue drops the message for that
// subscriber only; a message with no subscribers counts as unrouted.
func (m *Manager) Route(msg core.Message) {
	m.mu.RLock()
	chanSubs := m.channels[msg.Channel]
	targets := make([]*Subscription, 0, len(chanSubs))
	for _, sub := range chanSubs {
		targets = append(targets, sub)
	}
	m.mu.RUnlock()

	if len(targets) == 0 {
		m.metrics.unrouted.Add(1)
		return
	}

	for _, sub := range targets {
		select {
		case <-sub.quit:
		case sub.queue <- msg:
		default:
			m.metrics.dropped.Add(1)
			m.logger.Warn().
				Str("subscription", sub.ID).
				Str("channel", sub.Channel).
				Msg("queue full, dropping message")
		}
	}
	m.metrics.routed.Add(1)
}

// deliver drains one subscription's queue until the subscription is removed.
func (m *Manager) deliver(sub *Subscription) {
	for {
		select {
		case <-sub.quit:
			return
		case msg := <-sub.queue:
			m.invoke(sub, msg)
		}
	}
}

// invoke runs the handler with panic containment: one subscriber blowing up
// must not take down the router or starve its peers.
func (m *Manager) invoke(sub *Subscription, msg core.Message) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.routingErrors.Add(1)
			m.logger.Error().
				Str("subscription", sub.ID).
				Str("channel", sub.Channel).
				Interface("panic", r).
				Msg("subscriber handler panicked")
		}
	}()
	sub.handler(msg)
}

// Has reports whether a subscription id is registered.
func (m *Manager) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.subs[id]
	return ok
}

// Get returns the subscription registered under id.
func (m *Manager) Get(id string) (*Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	return sub, ok
}

// Len returns the number of active subscriptions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// IDs returns all registered subscription ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Channels returns all channels with at least one subscriber, sorted.
func (m *Manager) Channels() []string {
	m.mu.RLock()
	channels := make([]string, 0, len(m.channels))
	for channel := range m.channels {
		channels = append(channels, channel)
	}
	m.mu.RUnlock()
	slices.Sort(channels)
	return channels
}

// Subscribers returns the subscription ids listening on a channel, sorted.
func (m *Manager) Subscribers(channel string) []string {
	m.mu.RLock()
	chanSubs := m.channels[channel]
	ids := make([]string, 0, len(chanSubs))
	for id := range chanSubs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Metrics returns a snapshot of the current router statistics.
func (m *Manager) Metrics() MetricsSnapshot {
	m.mu.RLock()
	active := len(m.subs)
	channels := len(m.channels)
	perChannel := make(map[string]int, len(m.channels))
	for channel, subs := range m.channels {
		perChannel[channel] = len(subs)
	}
	m.mu.RUnlock()

	return MetricsSnapshot{
		ActiveSubscriptions: active,
		ActiveChannels:      channels,
		ChannelSubscribers:  perChannel,
		MessagesRouted:      m.metrics.routed.Load(),
		RoutingErrors:       m.metrics.routingErrors.Load(),
		DroppedMessages:     m.metrics.dropped.Load(),
		UnroutedMessages:    m.metrics.unrouted.Load(),
	}
}

// ResetMetrics zeroes the routing counters. Registrations are untouched.
func (m *Manager) ResetMetrics() {
	m.metrics.routed.Store(0)
	m.metrics.routingErrors.Store(0)
	m.metrics.dropped.Store(0)
	m.metrics.unrouted.Store(0)
}

// MetricsSnapshot is a point-in-time capture of router statistics.
type MetricsSnapshot struct {
	// ActiveSubscriptions is the number of registered subscriptions.
	ActiveSubscriptions int
	// ActiveChannels is the number of channels with at least one subscriber.
	ActiveChannels int
	// ChannelSubscribers maps each active channel to its subscriber count.
	ChannelSubscribers map[string]int
	// MessagesRouted counts messages that reached at least one subscriber.
	MessagesRouted int64
	// RoutingErrors counts handler panics contained by the router.
	RoutingErrors int64
	// DroppedMessages counts per-subscriber queue overflows.
	DroppedMessages int64
	// UnroutedMessages counts messages that arrived with no subscribers.
	UnroutedMessages int64
}
