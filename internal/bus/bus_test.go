package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credora/credora/internal/logging"
	"github.com/credora/credora/internal/scoring"
)

const wallet = "0x1234567890123456789012345678901234567890"

func connected(t *testing.T) *Bus {
	t.Helper()
	b := New(logging.Discard())
	require.NoError(t, b.Initialize(context.Background()))
	return b
}

func scoreEvent() Event {
	return Event{
		Type:      TypeCreditScoreUpdate,
		Wallet:    wallet,
		Timestamp: time.Now().UTC(),
		Data:      ScoreUpdate{RiskLevel: scoring.TierHigh, Confidence: 1},
	}
}

type recorder struct {
	mu   sync.Mutex
	seen []Event
}

func (r *recorder) HandleEvent(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, e)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "credit_score:"+wallet, Key(FamilyCreditScore, wallet))
	assert.Equal(t, "lending:"+wallet, Key(FamilyLending, wallet))
}

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	b := connected(t)
	key := Key(FamilyCreditScore, wallet)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		b.Subscribe(key, HandlerFunc(func(context.Context, Event) error {
			order = append(order, i)
			return nil
		}))
	}

	require.NoError(t, b.Publish(context.Background(), key, scoreEvent()))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestFailingCallbacksAreIsolated(t *testing.T) {
	b := connected(t)
	key := Key(FamilyCreditScore, wallet)

	var got []string
	b.Subscribe(key, HandlerFunc(func(context.Context, Event) error {
		got = append(got, "first")
		return nil
	}))
	b.Subscribe(key, HandlerFunc(func(context.Context, Event) error {
		panic("boom")
	}))
	b.Subscribe(key, HandlerFunc(func(context.Context, Event) error {
		return errors.New("rejected")
	}))
	b.Subscribe(key, HandlerFunc(func(context.Context, Event) error {
		got = append(got, "last")
		return nil
	}))

	err := b.Publish(context.Background(), key, scoreEvent())
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "last"}, got)
}

func TestUnsubscribeRemovesOnlyThatCallback(t *testing.T) {
	b := connected(t)
	key := Key(FamilyTransaction, wallet)

	a, c := &recorder{}, &recorder{}
	unsubA := b.Subscribe(key, a)
	unsubC := b.Subscribe(key, c)

	unsubA()
	unsubA()
	require.NoError(t, b.Publish(context.Background(), key, scoreEvent()))
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, c.count())
	assert.Equal(t, []string{key}, b.Keys())

	unsubC()
	assert.Empty(t, b.Keys())
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestDuplicateHandlerIsRegisteredOnce(t *testing.T) {
	b := connected(t)
	key := Key(FamilyCreditScore, wallet)
	r := &recorder{}

	unsub1 := b.Subscribe(key, r)
	unsub2 := b.Subscribe(key, r)
	assert.Equal(t, 1, b.SubscriberCount())

	require.NoError(t, b.Publish(context.Background(), key, scoreEvent()))
	assert.Equal(t, 1, r.count())

	unsub2()
	assert.Equal(t, 0, b.SubscriberCount())
	unsub1()
}

func TestPublishIsScopedToKey(t *testing.T) {
	b := connected(t)
	r := &recorder{}
	b.Subscribe(Key(FamilyCreditScore, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), r)

	require.NoError(t, b.Publish(context.Background(), Key(FamilyCreditScore, wallet), scoreEvent()))
	assert.Equal(t, 0, r.count())
}

func TestCallbackMayUnsubscribeDuringDelivery(t *testing.T) {
	b := connected(t)
	key := Key(FamilyCreditScore, wallet)
	r := &recorder{}

	var unsub func()
	unsub = b.Subscribe(key, HandlerFunc(func(context.Context, Event) error {
		unsub()
		return nil
	}))
	b.Subscribe(key, r)

	require.NoError(t, b.Publish(context.Background(), key, scoreEvent()))
	require.NoError(t, b.Publish(context.Background(), key, scoreEvent()))
	assert.Equal(t, 2, r.count())
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestStateMachine(t *testing.T) {
	b := New(logging.Discard())
	key := Key(FamilyCreditScore, wallet)
	r := &recorder{}
	b.Subscribe(key, r)

	assert.False(t, b.Connected())
	assert.ErrorIs(t, b.Publish(context.Background(), key, scoreEvent()), ErrNotConnected)

	require.NoError(t, b.Initialize(context.Background()))
	require.NoError(t, b.Publish(context.Background(), key, scoreEvent()))
	assert.Equal(t, 1, r.count())

	b.Disconnect()
	assert.False(t, b.Connected())
	assert.Equal(t, 0, b.SubscriberCount())

	require.NoError(t, b.Initialize(context.Background()))
	require.NoError(t, b.Publish(context.Background(), key, scoreEvent()))
	assert.Equal(t, 1, r.count(), "subscriptions do not survive a disconnect")
}

func TestLateSubscriberSeesNoReplay(t *testing.T) {
	b := connected(t)
	key := Key(FamilyCreditScore, wallet)
	require.NoError(t, b.Publish(context.Background(), key, scoreEvent()))

	r := &recorder{}
	b.Subscribe(key, r)
	assert.Equal(t, 0, r.count())
}

type failingForwarder struct{ calls int }

func (f *failingForwarder) Forward(context.Context, string, Event) error {
	f.calls++
	return errors.New("relay down")
}

func TestForwarderFailureDoesNotFailPublish(t *testing.T) {
	b := connected(t)
	fwd := &failingForwarder{}
	b.SetForwarder(fwd)

	require.NoError(t, b.Publish(context.Background(), Key(FamilyCreditScore, wallet), scoreEvent()))
	assert.Equal(t, 1, fwd.calls)
}

func TestRedisRelayDeliversAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()
	newNode := func() (*Bus, *RedisRelay) {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		b := connected(t)
		relay := NewRedisRelay(client, b, logging.Discard())
		b.SetForwarder(relay)
		require.NoError(t, relay.Start(ctx))
		t.Cleanup(relay.Stop)
		return b, relay
	}

	busA, _ := newNode()
	busB, _ := newNode()

	key := Key(FamilyLending, wallet)
	local, remote := &recorder{}, &recorder{}
	busA.Subscribe(key, local)
	busB.Subscribe(key, remote)

	event := Event{
		Type:      TypeLendingUpdate,
		Wallet:    wallet,
		Timestamp: time.Now().UTC(),
		Data:      LendingUpdate{LoanID: "loan-1", Status: "active", Amount: decimal.RequireFromString("1.5"), Action: "created"},
	}
	require.NoError(t, busA.Publish(ctx, key, event))

	assert.Eventually(t, func() bool { return remote.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	// give a stray self-delivery time to show up
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, local.count())

	remote.mu.Lock()
	got := remote.seen[0]
	remote.mu.Unlock()
	data, ok := got.Data.(LendingUpdate)
	require.True(t, ok)
	assert.Equal(t, "loan-1", data.LoanID)
	assert.True(t, data.Amount.Equal(decimal.RequireFromString("1.5")))
}
