package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/clock"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/repository"
)

// ListingCache stores free-slot listings per provider day.  Implementations
// are best effort: a miss or a failed write only costs a store query.
//
// Every Invalidate bumps the day's generation.  Set only stores a listing
// when the generation still matches the one read before the store query,
// so a listing read before a transition is never cached after it.
type ListingCache interface {
	Get(ctx context.Context, providerID, date, variant string) ([]model.Slot, bool)
	// Generation reports false when the counter cannot be read; the
	// listing is then served uncached.
	Generation(ctx context.Context, providerID, date string) (int64, bool)
	Set(ctx context.Context, providerID, date, variant string, gen int64, slots []model.Slot)
	Invalidate(ctx context.Context, providerID, date string)
}

// SlotLister answers ListAvailableSlots.  A slot held under a lapsed lease
// is listed as available.
type SlotLister struct {
	store SlotStore
	cache ListingCache
	clock clock.Clock
	log   *zap.Logger
}

// NewSlotLister returns a lister; cache may be nil.
func NewSlotLister(store SlotStore, cache ListingCache, clk clock.Clock, log *zap.Logger) *SlotLister {
	if log == nil {
		log = zap.NewNop()
	}
	return &SlotLister{store: store, cache: cache, clock: clk, log: log}
}

// ListAvailableSlots returns the free slots of providerID on date ordered
// by start time.  A nil serviceID lists every service.
func (l *SlotLister) ListAvailableSlots(ctx context.Context, providerID string, serviceID *string, date time.Time) ([]model.Slot, error) {
	if providerID == "" {
		return nil, invalid("provider_id", "must not be empty")
	}
	day := model.DateOnly(date)
	dayKey := day.Format(model.DateLayout)
	variant := "all"
	if serviceID != nil {
		variant = "svc:" + *serviceID
	}
	var (
		gen       int64
		cacheable bool
	)
	if l.cache != nil {
		if slots, ok := l.cache.Get(ctx, providerID, dayKey, variant); ok {
			return slots, nil
		}
		gen, cacheable = l.cache.Generation(ctx, providerID, dayKey)
	}
	slots, err := l.store.ListFree(ctx, repository.SlotQuery{
		ProviderID: providerID,
		ServiceID:  serviceID,
		Date:       day,
		Now:        l.clock.Now(),
	})
	if err != nil {
		return nil, storageErr("list slots", err)
	}
	if slots == nil {
		slots = []model.Slot{}
	}
	if cacheable {
		l.cache.Set(ctx, providerID, dayKey, variant, gen, slots)
	}
	return slots, nil
}

// CacheInvalidator drops the cached listing of the provider day an event
// touched.
func CacheInvalidator(c ListingCache) EventSink {
	return SinkFunc(func(ctx context.Context, ev model.SlotEvent) {
		if c == nil || ev.ProviderID == "" || ev.Date == "" {
			return
		}
		c.Invalidate(ctx, ev.ProviderID, ev.Date)
	})
}
