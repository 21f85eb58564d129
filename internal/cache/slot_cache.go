// Package cache keeps short-lived free-slot listings in Redis.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/config"
	"github.com/iliyamo/slot-reservation/internal/model"
)

// SlotCache stores the listings of one provider day in a single hash, one
// field per service filter, so a slot event drops every variant with one
// DEL.  A counter key next to the hash carries the day's generation.
type SlotCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

// NewSlotCache returns nil when caching is disabled or Redis is absent;
// callers treat a nil *SlotCache as "no cache".
func NewSlotCache(cfg config.CacheConfig, rdb *redis.Client, log *zap.Logger) *SlotCache {
	if !cfg.Enabled || rdb == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SlotCache{rdb: rdb, ttl: cfg.TTL, prefix: cfg.Prefix, log: log}
}

// generationTTL outlives any listing; a counter that expires mid-read only
// makes the pending Set miss.
const generationTTL = 24 * time.Hour

// setIfCurrent writes one listing variant when the generation key still
// holds ARGV[1] (a missing key counts as 0).
var setIfCurrent = redis.NewScript(`
	local gen = redis.call('GET', KEYS[2]) or '0'
	if tonumber(gen) ~= tonumber(ARGV[1]) then
		return 0
	end
	redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
	redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
	return 1
`)

// Key returns the hash key of one provider day.
func (c *SlotCache) Key(providerID, date string) string {
	return c.prefix + ":" + providerID + ":" + date
}

// GenerationKey returns the invalidation counter key of one provider day.
func (c *SlotCache) GenerationKey(providerID, date string) string {
	return c.prefix + ":gen:" + providerID + ":" + date
}

func (c *SlotCache) Get(ctx context.Context, providerID, date, variant string) ([]model.Slot, bool) {
	b, err := c.rdb.HGet(ctx, c.Key(providerID, date), variant).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug("slot cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var slots []cachedSlot
	if err := json.Unmarshal(b, &slots); err != nil {
		return nil, false
	}
	out := make([]model.Slot, len(slots))
	for i, s := range slots {
		out[i] = s.toModel()
	}
	return out, true
}

func (c *SlotCache) Generation(ctx context.Context, providerID, date string) (int64, bool) {
	gen, err := c.rdb.Get(ctx, c.GenerationKey(providerID, date)).Int64()
	switch {
	case err == redis.Nil:
		return 0, true
	case err != nil:
		c.log.Debug("slot cache generation read failed", zap.Error(err))
		return 0, false
	}
	return gen, true
}

func (c *SlotCache) Set(ctx context.Context, providerID, date, variant string, gen int64, slots []model.Slot) {
	in := make([]cachedSlot, len(slots))
	for i, s := range slots {
		in[i] = fromModel(s)
	}
	b, err := json.Marshal(in)
	if err != nil {
		return
	}
	keys := []string{c.Key(providerID, date), c.GenerationKey(providerID, date)}
	stored, err := setIfCurrent.Run(ctx, c.rdb, keys, gen, variant, b, ttlSeconds(c.ttl)).Int()
	if err != nil {
		c.log.Debug("slot cache write failed", zap.Error(err))
		return
	}
	if stored == 0 {
		c.log.Debug("slot cache write skipped, day invalidated during read",
			zap.String("provider_id", providerID), zap.String("date", date))
	}
}

func (c *SlotCache) Invalidate(ctx context.Context, providerID, date string) {
	genKey := c.GenerationKey(providerID, date)
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Expire(ctx, genKey, generationTTL)
	pipe.Del(ctx, c.Key(providerID, date))
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("slot cache invalidation failed", zap.String("provider_id", providerID), zap.String("date", date), zap.Error(err))
	}
}

// ttlSeconds rounds up so a sub-second TTL still expires the hash.
func ttlSeconds(d time.Duration) int64 {
	s := int64((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// cachedSlot carries the date that model.Slot leaves out of its JSON form.
type cachedSlot struct {
	model.Slot
	Date string `json:"date"`
}

func fromModel(s model.Slot) cachedSlot {
	return cachedSlot{Slot: s, Date: s.Date.Format(model.DateLayout)}
}

func (c cachedSlot) toModel() model.Slot {
	s := c.Slot
	if d, err := time.Parse(model.DateLayout, c.Date); err == nil {
		s.Date = d
	}
	return s
}
