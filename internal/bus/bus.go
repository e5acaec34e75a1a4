package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
)

// ErrNotConnected is returned by Publish before Initialize or after Disconnect.
var ErrNotConnected = errors.New("update bus is not connected")

// Handler receives events for the keys it is subscribed to.
type Handler interface {
	HandleEvent(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function to Handler. Function values are never equal,
// so each HandlerFunc registration is distinct.
type HandlerFunc func(ctx context.Context, e Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, e Event) error { return f(ctx, e) }

// Forwarder relays published events beyond this process.
type Forwarder interface {
	Forward(ctx context.Context, key string, e Event) error
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is an in-process registry of per-key subscribers. Delivery is
// synchronous and follows registration order.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string][]subscription
	nextID    uint64
	connected bool

	forwarder Forwarder
	logger    *slog.Logger
}

// New returns a disconnected bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{subs: make(map[string][]subscription), logger: logger}
}

// SetForwarder installs a relay that receives every successfully published event.
func (b *Bus) SetForwarder(f Forwarder) {
	b.mu.Lock()
	b.forwarder = f
	b.mu.Unlock()
}

// Initialize moves the bus to the connected state.
func (b *Bus) Initialize(_ context.Context) error {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.logger.Info("update bus connected")
	return nil
}

// Disconnect drops every subscription and stops publishing.
func (b *Bus) Disconnect() {
	b.mu.Lock()
	b.connected = false
	b.subs = make(map[string][]subscription)
	b.mu.Unlock()
	b.logger.Info("update bus disconnected")
}

// Connected reports the bus state.
func (b *Bus) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// Subscribe registers h on key and returns a function that removes exactly
// this registration. Registering an identical comparable handler twice on the
// same key keeps the first registration.
func (b *Bus) Subscribe(key string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs[key] {
		if sameHandler(s.handler, h) {
			return b.unsubscriber(key, s.id)
		}
	}

	b.nextID++
	id := b.nextID
	b.subs[key] = append(b.subs[key], subscription{id: id, handler: h})
	return b.unsubscriber(key, id)
}

func (b *Bus) unsubscriber(key string, id uint64) func() {
	var once sync.Once
	return func() {
		once.Do(func() { b.remove(key, id) })
	}
}

func (b *Bus) remove(key string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.subs[key]
	kept := make([]subscription, 0, len(current))
	for _, s := range current {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, key)
		return
	}
	b.subs[key] = kept
}

// Publish delivers e to every handler registered on key, then hands it to the
// forwarder. Handler failures are logged and never returned.
func (b *Bus) Publish(ctx context.Context, key string, e Event) error {
	b.mu.RLock()
	if !b.connected {
		b.mu.RUnlock()
		return ErrNotConnected
	}
	fwd := b.forwarder
	b.mu.RUnlock()

	b.deliver(ctx, key, e)

	if fwd != nil {
		if err := fwd.Forward(ctx, key, e); err != nil {
			b.logger.Warn("forward event", slog.String("key", key), slog.String("type", string(e.Type)), slog.Any("error", err))
		}
	}
	return nil
}

// Deliver hands e to local subscribers only. Relays use it for events that
// originated in another process.
func (b *Bus) Deliver(ctx context.Context, key string, e Event) {
	if !b.Connected() {
		return
	}
	b.deliver(ctx, key, e)
}

func (b *Bus) deliver(ctx context.Context, key string, e Event) {
	b.mu.RLock()
	snapshot := append([]subscription(nil), b.subs[key]...)
	b.mu.RUnlock()

	for _, s := range snapshot {
		if err := b.call(ctx, s, e); err != nil {
			b.logger.Error("subscriber callback failed",
				slog.String("key", key),
				slog.String("type", string(e.Type)),
				slog.Uint64("subscription", s.id),
				slog.Any("error", err))
		}
	}
}

func (b *Bus) call(ctx context.Context, s subscription, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler.HandleEvent(ctx, e)
}

// SubscriberCount returns the number of registrations across all keys.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, subs := range b.subs {
		total += len(subs)
	}
	return total
}

// Keys lists the keys that currently have subscribers.
func (b *Bus) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.subs))
	for k := range b.subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sameHandler(a, b Handler) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}
