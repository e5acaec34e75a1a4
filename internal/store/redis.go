package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	userKeyPrefix = "credora:user:"
	txKeyPrefix   = "credora:tx:"

	maxUpsertAttempts = 16
)

// RedisStore keeps each record as a JSON document and each transaction log as
// a list.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore builds a store on top of an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func userKey(address string) string { return userKeyPrefix + address }
func txKey(address string) string   { return txKeyPrefix + address }

func (s *RedisStore) Get(ctx context.Context, address string) (Record, error) {
	raw, err := s.client.Get(ctx, userKey(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", address, err)
	}
	return decodeRecord(raw)
}

func (s *RedisStore) Create(ctx context.Context, rec Record) (Record, bool, error) {
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.LastActivity.IsZero() {
		rec.LastActivity = rec.CreatedAt
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return Record{}, false, err
	}

	created, err := s.client.SetNX(ctx, userKey(rec.Address), payload, 0).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("create %s: %w", rec.Address, err)
	}
	if created {
		return rec, true, nil
	}
	existing, err := s.Get(ctx, rec.Address)
	if err != nil {
		return Record{}, false, err
	}
	return existing, false, nil
}

// Upsert merges patch under WATCH so concurrent writers to one key retry
// instead of overwriting each other.
func (s *RedisStore) Upsert(ctx context.Context, address string, patch Patch) (Record, error) {
	key := userKey(address)
	var out Record

	txf := func(tx *redis.Tx) error {
		now := s.now().UTC()
		raw, err := tx.Get(ctx, key).Bytes()
		var rec Record
		switch {
		case errors.Is(err, redis.Nil):
			rec = Record{CreatedAt: now}
			rec.Address = address
			rec.LastActivity = now
		case err != nil:
			return err
		default:
			if rec, err = decodeRecord(raw); err != nil {
				return err
			}
		}

		patch.apply(&rec)
		rec.UpdatedAt = now
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err == nil {
			out = rec
		}
		return err
	}

	for i := 0; i < maxUpsertAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Record{}, fmt.Errorf("upsert %s: %w", address, err)
	}
	return Record{}, fmt.Errorf("upsert %s: too much contention", address)
}

func (s *RedisStore) Delete(ctx context.Context, address string) (bool, error) {
	var userDel *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		userDel = pipe.Del(ctx, userKey(address))
		pipe.Del(ctx, txKey(address))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", address, err)
	}
	return userDel.Val() > 0, nil
}

func (s *RedisStore) AppendTransaction(ctx context.Context, address string, tx Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, txKey(address), payload).Err(); err != nil {
		return fmt.Errorf("append transaction %s: %w", address, err)
	}
	return nil
}

func (s *RedisStore) Transactions(ctx context.Context, address string) ([]Transaction, error) {
	items, err := s.client.LRange(ctx, txKey(address), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", address, err)
	}
	out := make([]Transaction, 0, len(items))
	for _, item := range items {
		var tx Transaction
		if err := json.Unmarshal([]byte(item), &tx); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, nil
}

func decodeRecord(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
