package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/slot-reservation/internal/model"
)

// MemorySlotRepo is a process-local Slot Store.  A single mutex linearizes
// every operation, which gives CompareAndSwap the same semantics as the
// conditional UPDATE of SlotRepo.  It backs STORE_DRIVER=memory and the
// engine tests.
type MemorySlotRepo struct {
	mu     sync.Mutex
	byID   map[string]model.Slot
	byTime map[slotKey]string
	now    func() time.Time
}

type slotKey struct {
	provider string
	date     string
	minute   int
}

// NewMemorySlotRepo returns an empty in-memory store.  now stamps
// CreatedAt/UpdatedAt; nil uses time.Now.
func NewMemorySlotRepo(now func() time.Time) *MemorySlotRepo {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemorySlotRepo{
		byID:   make(map[string]model.Slot),
		byTime: make(map[slotKey]string),
		now:    now,
	}
}

func keyOf(s model.Slot) slotKey {
	return slotKey{provider: s.ProviderID, date: s.Date.Format(model.DateLayout), minute: s.StartMinute}
}

func (r *MemorySlotRepo) InsertAvailable(_ context.Context, slots []model.Slot) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	inserted := 0
	for _, s := range slots {
		s.Date = model.DateOnly(s.Date)
		k := keyOf(s)
		if _, exists := r.byTime[k]; exists {
			continue
		}
		s.Status = model.SlotAvailable
		s.HeldBy, s.HoldExpiresAt, s.BookingID = "", nil, ""
		s.Version = 0
		s.CreatedAt, s.UpdatedAt = now, now
		r.byID[s.ID] = cloneSlot(s)
		r.byTime[k] = s.ID
		inserted++
	}
	return inserted, nil
}

func (r *MemorySlotRepo) Get(_ context.Context, id string) (model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return model.Slot{}, ErrSlotNotFound
	}
	return cloneSlot(s), nil
}

func (r *MemorySlotRepo) ListFree(_ context.Context, q SlotQuery) ([]model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Slot
	for _, s := range r.byID {
		if q.matches(s) {
			out = append(out, cloneSlot(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out, nil
}

func (r *MemorySlotRepo) ListExpiredHolds(_ context.Context, now time.Time, limit int) ([]model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Slot
	for _, s := range r.byID {
		if s.Status == model.SlotHeld && s.HoldExpiresAt != nil && !s.HoldExpiresAt.After(now) {
			out = append(out, cloneSlot(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HoldExpiresAt.Before(*out[j].HoldExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemorySlotRepo) CompareAndSwap(_ context.Context, t SlotTransition) (bool, error) {
	t = t.normalized()
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[t.ID]
	if !ok || s.Version != t.FromVersion || s.Status != t.FromStatus {
		return false, nil
	}
	s.Status = t.To
	s.HeldBy = t.HeldBy
	s.BookingID = t.BookingID
	s.HoldExpiresAt = nil
	if t.HoldExpiresAt != nil {
		e := t.HoldExpiresAt.UTC()
		s.HoldExpiresAt = &e
	}
	s.Version++
	s.UpdatedAt = r.now()
	r.byID[s.ID] = s
	return true, nil
}

// Len returns the number of stored slots.
func (r *MemorySlotRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func cloneSlot(s model.Slot) model.Slot {
	if s.ServiceID != nil {
		v := *s.ServiceID
		s.ServiceID = &v
	}
	if s.HoldExpiresAt != nil {
		v := *s.HoldExpiresAt
		s.HoldExpiresAt = &v
	}
	return s
}
