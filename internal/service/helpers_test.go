package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/slot-reservation/internal/clock"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/repository"
)

// base is a Monday morning well in the future relative to the slot dates
// used below.
var base = time.Date(2030, 1, 7, 8, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []model.SlotEvent
}

func (r *recordingSink) Publish(_ context.Context, ev model.SlotEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type engine struct {
	store   *repository.MemorySlotRepo
	clock   *clock.Manual
	sink    *recordingSink
	arbiter *Arbiter
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	clk := clock.NewManual(base)
	store := repository.NewMemorySlotRepo(clk.Now)
	sink := &recordingSink{}
	return &engine{
		store: store,
		clock: clk,
		sink:  sink,
		arbiter: NewArbiter(store, clk,
			WithHoldTTL(7*time.Minute),
			WithEvents(sink),
			WithArbiterLogger(zaptest.NewLogger(t))),
	}
}

// seed inserts one Available slot for provider p1 on base's date at 10:00.
func (e *engine) seed(t *testing.T, id string) model.Slot {
	t.Helper()
	s := model.Slot{ID: id, ProviderID: "p1", Date: model.DateOnly(base), StartMinute: 600, DurationMinutes: 30}
	if _, err := e.store.InsertAvailable(context.Background(), []model.Slot{s}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("seed get: %v", err)
	}
	return got
}

func (e *engine) slot(t *testing.T, id string) model.Slot {
	t.Helper()
	s, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return s
}

// failingStore wraps a SlotStore and fails selected calls.
type failingStore struct {
	SlotStore
	getErr error
	casErr error
}

func (f failingStore) Get(ctx context.Context, id string) (model.Slot, error) {
	if f.getErr != nil {
		return model.Slot{}, f.getErr
	}
	return f.SlotStore.Get(ctx, id)
}

func (f failingStore) CompareAndSwap(ctx context.Context, t repository.SlotTransition) (bool, error) {
	if f.casErr != nil {
		return false, f.casErr
	}
	return f.SlotStore.CompareAndSwap(ctx, t)
}
