package store

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credora/credora/internal/scoring"
	"github.com/credora/credora/internal/signals"
)

const addr = "0x1234567890123456789012345678901234567890"

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client),
	}
}

func seed() Record {
	return Record{Signals: signals.Signals{
		Address:          addr,
		Balance:          decimal.RequireFromString("0.8"),
		TransactionCount: 8,
		LastActivity:     time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}}
}

func TestGetMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), addr)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCreateIsInsertOnly(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, created, err := s.Create(ctx, seed())
			require.NoError(t, err)
			assert.True(t, created)
			assert.False(t, first.CreatedAt.IsZero())

			other := seed()
			other.TransactionCount = 99
			got, created, err := s.Create(ctx, other)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, 8, got.TransactionCount)
		})
	}
}

func TestUpsertMergesPatch(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _, err := s.Create(ctx, seed())
			require.NoError(t, err)

			score := 625
			result := scoring.Result{Tier: scoring.TierMedium, NumericScore: &score, Confidence: 0.85}
			rec, err := s.Upsert(ctx, addr, Patch{LastScore: &result})
			require.NoError(t, err)
			assert.Equal(t, 8, rec.TransactionCount)
			require.NotNil(t, rec.LastScore)
			assert.Equal(t, scoring.TierMedium, rec.LastScore.Tier)

			bal := decimal.RequireFromString("1.75")
			rec, err = s.Upsert(ctx, addr, Patch{Balance: &bal})
			require.NoError(t, err)

			stored, err := s.Get(ctx, addr)
			require.NoError(t, err)
			assert.True(t, stored.Balance.Equal(bal))
			assert.Equal(t, 8, stored.TransactionCount)
			require.NotNil(t, stored.LastScore)
			assert.Equal(t, 625, *stored.LastScore.NumericScore)
			assert.False(t, stored.UpdatedAt.Before(stored.CreatedAt))
		})
	}
}

func TestUpsertCreatesMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			count := 3
			rec, err := s.Upsert(context.Background(), addr, Patch{TransactionCount: &count})
			require.NoError(t, err)
			assert.Equal(t, addr, rec.Address)
			assert.Equal(t, 3, rec.TransactionCount)
		})
	}
}

func TestDeleteRemovesRecordAndLog(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _, err := s.Create(ctx, seed())
			require.NoError(t, err)
			require.NoError(t, s.AppendTransaction(ctx, addr, Transaction{Hash: "0xabc"}))

			ok, err := s.Delete(ctx, addr)
			require.NoError(t, err)
			assert.True(t, ok)

			_, err = s.Get(ctx, addr)
			assert.ErrorIs(t, err, ErrNotFound)
			txs, err := s.Transactions(ctx, addr)
			require.NoError(t, err)
			assert.Empty(t, txs)

			ok, err = s.Delete(ctx, addr)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestTransactionLogOrder(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, h := range []string{"0x1", "0x2", "0x3"} {
				require.NoError(t, s.AppendTransaction(ctx, addr, Transaction{Hash: h, BlockNumber: 7}))
			}
			txs, err := s.Transactions(ctx, addr)
			require.NoError(t, err)
			require.Len(t, txs, 3)
			assert.Equal(t, "0x1", txs[0].Hash)
			assert.Equal(t, "0x3", txs[2].Hash)
		})
	}
}

func TestConcurrentUpsertsKeepEveryField(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _, err := s.Create(ctx, seed())
			require.NoError(t, err)

			var wg sync.WaitGroup
			for i := 0; i < 6; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if i%2 == 0 {
						bal := decimal.NewFromInt(int64(i))
						_, err := s.Upsert(ctx, addr, Patch{Balance: &bal})
						assert.NoError(t, err)
						return
					}
					res := scoring.Result{Tier: scoring.TierHigh}
					_, err := s.Upsert(ctx, addr, Patch{LastScore: &res})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			rec, err := s.Get(ctx, addr)
			require.NoError(t, err)
			require.NotNil(t, rec.LastScore)
			assert.Equal(t, 8, rec.TransactionCount)
		})
	}
}

func TestSignalStoreAdapter(t *testing.T) {
	s := NewMemoryStore()
	adapter := SignalStore(s)
	ctx := context.Background()

	_, ok, err := adapter.Lookup(ctx, addr)
	require.NoError(t, err)
	assert.False(t, ok)

	created, err := adapter.CreateIfAbsent(ctx, seed().Signals)
	require.NoError(t, err)
	assert.Equal(t, 8, created.TransactionCount)

	got, ok, err := adapter.Lookup(ctx, addr)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, created, got)
}
