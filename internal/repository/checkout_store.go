package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/slot-reservation/internal/model"
)

const checkoutPrefix = "checkout:"

// RedisCheckoutStore keeps checkout sessions in Redis as JSON so a restarted
// process can resume Pay or Cancel.  Each write refreshes the key TTL.
type RedisCheckoutStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCheckoutStore returns a store writing keys with the given ttl.
func NewRedisCheckoutStore(client *redis.Client, ttl time.Duration) *RedisCheckoutStore {
	return &RedisCheckoutStore{client: client, ttl: ttl}
}

func (s *RedisCheckoutStore) Save(ctx context.Context, c model.Checkout) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, checkoutPrefix+c.ID, b, s.ttl).Err()
}

func (s *RedisCheckoutStore) Get(ctx context.Context, id string) (model.Checkout, error) {
	data, err := s.client.Get(ctx, checkoutPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Checkout{}, ErrCheckoutNotFound
	}
	if err != nil {
		return model.Checkout{}, err
	}
	var c model.Checkout
	if err := json.Unmarshal(data, &c); err != nil {
		return model.Checkout{}, err
	}
	return c, nil
}

// MemoryCheckoutStore is the fallback used when Redis is not configured.
// Sessions do not survive a restart.
type MemoryCheckoutStore struct {
	mu   sync.Mutex
	byID map[string]model.Checkout
}

// NewMemoryCheckoutStore returns an empty in-memory store.
func NewMemoryCheckoutStore() *MemoryCheckoutStore {
	return &MemoryCheckoutStore{byID: make(map[string]model.Checkout)}
}

func (s *MemoryCheckoutStore) Save(_ context.Context, c model.Checkout) error {
	s.mu.Lock()
	s.byID[c.ID] = c
	s.mu.Unlock()
	return nil
}

func (s *MemoryCheckoutStore) Get(_ context.Context, id string) (model.Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return model.Checkout{}, ErrCheckoutNotFound
	}
	return c, nil
}
