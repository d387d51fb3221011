package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "storefront:idem"
	expiryIndexSuffix  = ":expiry"
)

// RedisStore shares idempotency records across API instances. Records expire through Redis TTLs;
// a sorted set indexed by expiry lets CleanupExpired report and purge stragglers.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore constructs a RedisStore. An empty prefix uses the default namespace.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) recordKey(id string) string { return s.prefix + ":" + id }
func (s *RedisStore) indexKey() string { return s.prefix + expiryIndexSuffix }

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := storageKey(key)
	record := newPendingRecord(key, fingerprint, now.UTC(), ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.recordKey(id), payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: redis setnx: %w", err)
	}
	if created {
		if err := s.index(ctx, id, record.ExpiresAt); err != nil {
			return Reservation{}, err
		}
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}

	existing, found, err := s.load(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if !found {
		// Expired between SETNX and GET; the caller retries like any in-flight conflict.
		return Reservation{State: ReservationStatePending, Record: record}, nil
	}
	return reservationFor(existing, fingerprint)
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := storageKey(key)
	record, found, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if found && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !found {
		record = Record{Key: key, Fingerprint: fingerprint}
	}
	record = completeRecord(record, resp, now.UTC(), ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := s.client.Set(ctx, s.recordKey(id), payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: redis set: %w", err)
	}
	return s.index(ctx, id, record.ExpiresAt)
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	id := storageKey(key)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.recordKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("idempotency: redis release: %w", err)
	}
	return nil
}

// CleanupExpired purges up to limit records whose expiry is at or before now.
func (s *RedisStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	opt := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UTC().UnixMilli(), 10)}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), opt).Result()
	if err != nil {
		return 0, fmt.Errorf("idempotency: redis expiry scan: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
		members[i] = id
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	removed := pipe.ZRem(ctx, s.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("idempotency: redis cleanup: %w", err)
	}
	return int(removed.Val()), nil
}

func (s *RedisStore) load(ctx context.Context, id string) (Record, bool, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: redis get: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, true, nil
}

func (s *RedisStore) index(ctx context.Context, id string, expiresAt time.Time) error {
	member := redis.Z{Score: float64(expiresAt.UnixMilli()), Member: id}
	if err := s.client.ZAdd(ctx, s.indexKey(), member).Err(); err != nil {
		return fmt.Errorf("idempotency: redis index: %w", err)
	}
	return nil
}
