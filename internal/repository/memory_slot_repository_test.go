package repository

import (
	"context"
	"testing"
	"time"

	"github.com/iliyamo/slot-reservation/internal/model"
)

func newSlot(id string, minute int, date time.Time) model.Slot {
	return model.Slot{ID: id, ProviderID: "p1", Date: date, StartMinute: minute, DurationMinutes: 30}
}

func TestMemoryInsertAvailableIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySlotRepo(nil)
	day := time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)

	n, err := repo.InsertAvailable(ctx, []model.Slot{newSlot("a", 540, day), newSlot("b", 570, day)})
	if err != nil || n != 2 {
		t.Fatalf("first insert: n=%d err=%v", n, err)
	}
	// same tuples with fresh ids must not create rows
	n, err = repo.InsertAvailable(ctx, []model.Slot{newSlot("c", 540, day), newSlot("d", 570, day)})
	if err != nil || n != 0 {
		t.Fatalf("second insert: n=%d err=%v", n, err)
	}
	if repo.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", repo.Len())
	}
}

func TestMemoryCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySlotRepo(nil)
	day := time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)
	if _, err := repo.InsertAvailable(ctx, []model.Slot{newSlot("a", 540, day)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	exp := day.Add(time.Hour)

	ok, err := repo.CompareAndSwap(ctx, SlotTransition{
		ID: "a", FromVersion: 0, FromStatus: model.SlotAvailable,
		To: model.SlotHeld, HeldBy: "u1", HoldExpiresAt: &exp, BookingID: "ignored",
	})
	if err != nil || !ok {
		t.Fatalf("hold cas: ok=%v err=%v", ok, err)
	}
	s, _ := repo.Get(ctx, "a")
	if s.Status != model.SlotHeld || s.HeldBy != "u1" || s.Version != 1 || s.BookingID != "" {
		t.Fatalf("unexpected slot after hold: %+v", s)
	}

	// stale version loses
	ok, err = repo.CompareAndSwap(ctx, SlotTransition{
		ID: "a", FromVersion: 0, FromStatus: model.SlotAvailable, To: model.SlotHeld, HeldBy: "u2", HoldExpiresAt: &exp,
	})
	if err != nil || ok {
		t.Fatalf("stale cas should fail: ok=%v err=%v", ok, err)
	}

	ok, _ = repo.CompareAndSwap(ctx, SlotTransition{
		ID: "a", FromVersion: 1, FromStatus: model.SlotHeld, To: model.SlotBooked, HeldBy: "u1", HoldExpiresAt: &exp, BookingID: "order42",
	})
	if !ok {
		t.Fatal("book cas should succeed")
	}
	s, _ = repo.Get(ctx, "a")
	if s.Status != model.SlotBooked || s.HeldBy != "" || s.HoldExpiresAt != nil || s.BookingID != "order42" {
		t.Fatalf("owner fields not normalized: %+v", s)
	}

	if _, err := repo.Get(ctx, "missing"); err != ErrSlotNotFound {
		t.Fatalf("expected ErrSlotNotFound, got %v", err)
	}
}

func TestMemoryListFreeAndExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySlotRepo(nil)
	day := time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)
	now := day.Add(8 * time.Hour)
	svc := "cut"
	other := "color"
	slots := []model.Slot{newSlot("a", 600, day), newSlot("b", 540, day), newSlot("c", 570, day), newSlot("d", 630, day)}
	slots[2].ServiceID = &other
	slots[3].ServiceID = &svc
	if _, err := repo.InsertAvailable(ctx, slots); err != nil {
		t.Fatalf("insert: %v", err)
	}
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)
	repo.CompareAndSwap(ctx, SlotTransition{ID: "a", FromStatus: model.SlotAvailable, To: model.SlotHeld, HeldBy: "u1", HoldExpiresAt: &past})
	repo.CompareAndSwap(ctx, SlotTransition{ID: "b", FromStatus: model.SlotAvailable, To: model.SlotHeld, HeldBy: "u2", HoldExpiresAt: &future})

	free, err := repo.ListFree(ctx, SlotQuery{ProviderID: "p1", Date: day, Now: now})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, s := range free {
		ids = append(ids, s.ID)
	}
	if len(ids) != 3 || ids[0] != "c" || ids[1] != "a" || ids[2] != "d" {
		t.Fatalf("unexpected free slots %v", ids)
	}

	free, _ = repo.ListFree(ctx, SlotQuery{ProviderID: "p1", ServiceID: &svc, Date: day, Now: now})
	if len(free) != 2 {
		t.Fatalf("service filter: expected 2 slots, got %d", len(free))
	}

	expired, _ := repo.ListExpiredHolds(ctx, now, 10)
	if len(expired) != 1 || expired[0].ID != "a" {
		t.Fatalf("unexpected expired holds %+v", expired)
	}
}
