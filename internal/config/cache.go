package config

import "time"

// CacheConfig defines settings for the available-slot listing cache.  When
// Enabled is false or no Redis client is configured, listings are always
// read from the Slot Store.  TTL bounds how long a listing may be served
// without an invalidating slot event; keep it short because a stale entry
// shows a just-taken slot as free.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadCacheConfig reads SLOT_CACHE_* environment variables to build a
// CacheConfig.  Defaults are used when variables are not set.
func LoadCacheConfig() CacheConfig {
	cfg := CacheConfig{
		Enabled: envBool("SLOT_CACHE_ENABLED", true),
		TTL:     envDur("SLOT_CACHE_TTL", 5*time.Second),
		Prefix:  envStr("SLOT_CACHE_PREFIX", "slots"),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Second
	}
	return cfg
}
