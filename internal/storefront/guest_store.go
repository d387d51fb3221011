package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/wire"
)

// GuestKey names a slot of guest-session state.
type GuestKey string

const (
	GuestCartKey     GuestKey = "guest_cart"
	GuestWishlistKey GuestKey = "guest_wishlist"
	GuestAddressKey  GuestKey = "guest_delivery_address"
)

const defaultGuestTTL = 30 * 24 * time.Hour

// GuestSessionStore persists anonymous session state on the client. Read reports found=false for
// a key that was never written or has been cleared.
type GuestSessionStore interface {
	Read(ctx context.Context, key GuestKey) (value []byte, found bool, err error)
	Write(ctx context.Context, key GuestKey, value []byte) error
	Clear(ctx context.Context, keys ...GuestKey) error
}

// MemoryGuestStore keeps guest state in process memory.
type MemoryGuestStore struct {
	mu     sync.Mutex
	values map[GuestKey][]byte
}

// NewMemoryGuestStore constructs an empty in-memory store.
func NewMemoryGuestStore() *MemoryGuestStore {
	return &MemoryGuestStore{values: make(map[GuestKey][]byte)}
}

func (s *MemoryGuestStore) Read(_ context.Context, key GuestKey) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (s *MemoryGuestStore) Write(_ context.Context, key GuestKey, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryGuestStore) Clear(_ context.Context, keys ...GuestKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

// RedisGuestStore keeps one guest session's state in Redis, for front-ends that render server side.
type RedisGuestStore struct {
	client    redis.Cmdable
	sessionID string
	ttl       time.Duration
}

// NewRedisGuestStore scopes the store to sessionID. A non-positive ttl uses 30 days.
func NewRedisGuestStore(client redis.Cmdable, sessionID string, ttl time.Duration) (*RedisGuestStore, error) {
	if client == nil {
		return nil, errors.New("storefront: redis client is required")
	}
	if sessionID == "" {
		return nil, errors.New("storefront: guest session id is required")
	}
	if ttl <= 0 {
		ttl = defaultGuestTTL
	}
	return &RedisGuestStore{client: client, sessionID: sessionID, ttl: ttl}, nil
}

func (s *RedisGuestStore) key(key GuestKey) string {
	return fmt.Sprintf("storefront:guest:%s:%s", s.sessionID, key)
}

func (s *RedisGuestStore) Read(ctx context.Context, key GuestKey) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storefront: redis get guest state: %w", err)
	}
	return data, true, nil
}

func (s *RedisGuestStore) Write(ctx context.Context, key GuestKey, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("storefront: redis set guest state: %w", err)
	}
	return nil
}

func (s *RedisGuestStore) Clear(ctx context.Context, keys ...GuestKey) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, s.key(key))
	}
	if err := s.client.Del(ctx, names...).Err(); err != nil {
		return fmt.Errorf("storefront: redis delete guest state: %w", err)
	}
	return nil
}

// LoadGuestCart reads the guest cart lines. A missing key yields no lines.
func LoadGuestCart(ctx context.Context, store GuestSessionStore) ([]domain.CartLine, error) {
	var lines []wire.CartLine
	if _, err := readJSON(ctx, store, GuestCartKey, &lines); err != nil {
		return nil, err
	}
	return wire.ToLines(lines), nil
}

// SaveGuestCart replaces the guest cart lines.
func SaveGuestCart(ctx context.Context, store GuestSessionStore, lines []domain.CartLine) error {
	return writeJSON(ctx, store, GuestCartKey, wire.FromLines(lines))
}

// LoadGuestWishlist reads the guest wishlist entries.
func LoadGuestWishlist(ctx context.Context, store GuestSessionStore) ([]domain.WishlistEntry, error) {
	var entries []wire.WishlistEntry
	if _, err := readJSON(ctx, store, GuestWishlistKey, &entries); err != nil {
		return nil, err
	}
	return wire.ToEntries(entries), nil
}

// SaveGuestWishlist replaces the guest wishlist entries.
func SaveGuestWishlist(ctx context.Context, store GuestSessionStore, entries []domain.WishlistEntry) error {
	return writeJSON(ctx, store, GuestWishlistKey, wire.FromEntries(entries))
}

// LoadGuestAddress reads the last entered delivery address.
func LoadGuestAddress(ctx context.Context, store GuestSessionStore) (domain.Address, bool, error) {
	var addr wire.Address
	found, err := readJSON(ctx, store, GuestAddressKey, &addr)
	if err != nil || !found {
		return domain.Address{}, false, err
	}
	return addr.ToDomain(), true, nil
}

// SaveGuestAddress remembers the delivery address for the next checkout.
func SaveGuestAddress(ctx context.Context, store GuestSessionStore, addr domain.Address) error {
	return writeJSON(ctx, store, GuestAddressKey, wire.FromAddress(addr))
}

func readJSON(ctx context.Context, store GuestSessionStore, key GuestKey, dst any) (bool, error) {
	data, found, err := store.Read(ctx, key)
	if err != nil || !found || len(data) == 0 {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("storefront: decode %s: %w", key, err)
	}
	return true, nil
}

func writeJSON(ctx context.Context, store GuestSessionStore, key GuestKey, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storefront: encode %s: %w", key, err)
	}
	return store.Write(ctx, key, data)
}
