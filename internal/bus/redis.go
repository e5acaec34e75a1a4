package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var streamChannels = map[Family]string{
	FamilyCreditScore: "credora:credit-score-updates",
	FamilyTransaction: "credora:transaction-updates",
	FamilyLending:     "credora:lending-updates",
}

type wireEvent struct {
	Origin    string            `json:"origin"`
	Type      EventType         `json:"type"`
	Wallet    string            `json:"wallet"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RedisRelay fans events out to other instances over Redis pub/sub and feeds
// their events into the local bus.
type RedisRelay struct {
	client *redis.Client
	bus    *Bus
	origin string
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisRelay builds a relay for bus. Call bus.SetForwarder(relay) and
// Start to wire both directions.
func NewRedisRelay(client *redis.Client, b *Bus, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, bus: b, origin: uuid.NewString(), logger: logger}
}

// Origin identifies events published by this instance.
func (r *RedisRelay) Origin() string { return r.origin }

// Forward publishes e on its family's stream channel.
func (r *RedisRelay) Forward(ctx context.Context, _ string, e Event) error {
	family, ok := e.Type.Family()
	if !ok {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	payload, err := json.Marshal(wireEvent{
		Origin:    r.origin,
		Type:      e.Type,
		Wallet:    e.Wallet,
		Timestamp: e.Timestamp,
		Data:      data,
		Metadata:  e.Metadata,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return r.client.Publish(ctx, streamChannels[family], payload).Err()
}

// Start subscribes to every stream channel and delivers foreign events until
// Stop is called. It returns once the subscription is confirmed.
func (r *RedisRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	channels := make([]string, 0, len(streamChannels))
	for _, ch := range streamChannels {
		channels = append(channels, ch)
	}
	ps := r.client.Subscribe(ctx, channels...)
	for range channels {
		if _, err := ps.Receive(ctx); err != nil {
			ps.Close()
			return fmt.Errorf("subscribe stream channels: %w", err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx, ps, r.done)
	return nil
}

// Stop ends the subscriber loop.
func (r *RedisRelay) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *RedisRelay) loop(ctx context.Context, ps *redis.PubSub, done chan struct{}) {
	defer close(done)
	defer ps.Close()

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(ctx context.Context, payload string) {
	var w wireEvent
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		r.logger.Warn("relay: malformed event", slog.Any("error", err))
		return
	}
	if w.Origin == r.origin {
		return
	}
	family, ok := w.Type.Family()
	if !ok {
		r.logger.Warn("relay: unknown event type", slog.String("type", string(w.Type)))
		return
	}
	data, err := decodeData(w.Type, w.Data)
	if err != nil {
		r.logger.Warn("relay: malformed event data", slog.String("type", string(w.Type)), slog.Any("error", err))
		return
	}
	r.bus.Deliver(ctx, Key(family, w.Wallet), Event{
		Type:      w.Type,
		Wallet:    w.Wallet,
		Timestamp: w.Timestamp,
		Data:      data,
		Metadata:  w.Metadata,
	})
}
