package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/slot-reservation/internal/model"
)

func TestHoldThenConfirm(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seed(t, "slotA")

	res, err := e.arbiter.Hold(ctx, "slotA", "user1", 7*time.Minute)
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if !res.ExpiresAt.Equal(base.Add(7 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", res.ExpiresAt)
	}

	e.clock.Advance(5 * time.Minute)
	s, err := e.arbiter.Confirm(ctx, "slotA", "user1", "order42")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if s.Status != model.SlotBooked || s.BookingID != "order42" {
		t.Fatalf("unexpected result %+v", s)
	}
	stored := e.slot(t, "slotA")
	if stored.Status != model.SlotBooked || stored.BookingID != "order42" || stored.HeldBy != "" || stored.HoldExpiresAt != nil {
		t.Fatalf("unexpected stored slot %+v", stored)
	}
	if stored.Version != 2 {
		t.Fatalf("expected version 2, got %d", stored.Version)
	}
	if got, want := e.sink.types(), []string{model.EventSlotHeld, model.EventSlotBooked}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestHoldContention(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seed(t, "slotA")

	if _, err := e.arbiter.Hold(ctx, "slotA", "user1", 7*time.Minute); err != nil {
		t.Fatalf("hold user1: %v", err)
	}
	if _, err := e.arbiter.Hold(ctx, "slotA", "user2", 7*time.Minute); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if s := e.slot(t, "slotA"); s.HeldBy != "user1" {
		t.Fatalf("slot should remain held by user1, got %+v", s)
	}
}

func TestConcurrentHoldsExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seed(t, "slotA")

	const n = 50
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		wins        int
		unavailable int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := e.arbiter.Hold(ctx, "slotA", "user"+string(rune('A'+i%26))+string(rune('a'+i/26)), time.Minute)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrSlotUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()
	if wins != 1 || unavailable != n-1 {
		t.Fatalf("wins=%d unavailable=%d", wins, unavailable)
	}
	if s := e.slot(t, "slotA"); s.Version != 1 {
		t.Fatalf("expected exactly one transition, version=%d", s.Version)
	}
}

func TestHoldTakesOverLapsedLease(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seed(t, "slotA")

	if _, err := e.arbiter.Hold(ctx, "slotA", "user1", time.Second); err != nil {
		t.Fatalf("hold: %v", err)
	}
	e.clock.Advance(2 * time.Second)
	res, err := e.arbiter.Hold(ctx, "slotA", "user2", time.Minute)
	if err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if res.Slot.HeldBy != "user2" {
		t.Fatalf("unexpected holder %q", res.Slot.HeldBy)
	}
	want := []string{model.EventSlotHeld, model.EventHoldExpired, model.EventSlotHeld}
	if got := e.sink.types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestHoldSameRequesterKeepsLease(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seed(t, "slotA")

	first, err := e.arbiter.Hold(ctx, "slotA", "user1", time.Minute)
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	e.clock.Advance(30 * time.Second)
	second, err := e.arbiter.Hold(ctx, "slotA", "user1", time.Minute)
	if err != nil {
		t.Fatalf("repeat hold: %v", err)
	}
	if !second.ExpiresAt.Equal(first.ExpiresAt) {
		t.Fatalf("lease must not be extended: %v vs %v", second.ExpiresAt, first.ExpiresAt)
	}
}

func TestConfirmAfterExpiry(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seed(t, "slotA")

	if _, err := e.arbiter.Hold(ctx, "slotA", "user1", time.Second); err != nil {
		t.Fatalf("hold: %v", err)
	}
	e.clock.Advance(2 * time.Second)
	if _, err := e.arbiter.Confirm(ctx, "slotA", "user1", "order42"); !errors.Is(err, ErrHoldExpired) {
		t.Fatalf("expected ErrHoldExpired, got %v", err)
	}
	s := e.slot(t, "slotA")
	if s.Status != model.SlotAvailable || s.HeldBy != "" || s.HoldExpiresAt != nil {
		t.Fatalf("slot should be reclaimed, got %+v", s)
	}
}

func TestConfirmErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		setup   func(t *testing.T, e *engine)
		confirm [3]string
		wantErr error
	}{
		{
			name:    "not holder",
			setup:   func(t *testing.T, e *engine) { mustHold(t, e, "user1") },
			confirm: [3]string{"slotA", "user2", "order1"},
			wantErr: ErrNotHolder,
		},
		{
			name:    "available slot",
			setup:   func(t *testing.T, e *engine) {},
			confirm: [3]string{"slotA", "user1", "order1"},
			wantErr: ErrHoldExpired,
		},
		{
			name: "booked under another reference",
			setup: func(t *testing.T, e *engine) {
				mustHold(t, e, "user1")
				mustConfirm(t, e, "user1", "order1")
			},
			confirm: [3]string{"slotA", "user1", "order2"},
			wantErr: ErrAlreadyBooked,
		},
		{
			name: "same reference is idempotent",
			setup: func(t *testing.T, e *engine) {
				mustHold(t, e, "user1")
				mustConfirm(t, e, "user1", "order1")
			},
			confirm: [3]string{"slotA", "user1", "order1"},
			wantErr: nil,
		},
		{
			name:    "unknown slot",
			setup:   func(t *testing.T, e *engine) {},
			confirm: [3]string{"nope", "user1", "order1"},
			wantErr: ErrSlotNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t)
			e.seed(t, "slotA")
			tt.setup(t, e)
			_, err := e.arbiter.Confirm(ctx, tt.confirm[0], tt.confirm[1], tt.confirm[2])
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfirmValidation(t *testing.T) {
	e := newEngine(t)
	_, err := e.arbiter.Confirm(context.Background(), "slotA", "user1", "")
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "booking_id" {
		t.Fatalf("expected booking_id validation error, got %v", err)
	}
}

func TestRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("holder releases", func(t *testing.T) {
		e := newEngine(t)
		e.seed(t, "slotA")
		mustHold(t, e, "user1")
		if err := e.arbiter.Release(ctx, "slotA", "user1"); err != nil {
			t.Fatalf("release: %v", err)
		}
		if s := e.slot(t, "slotA"); s.Status != model.SlotAvailable || s.HeldBy != "" {
			t.Fatalf("unexpected slot %+v", s)
		}
	})

	t.Run("holder releases lapsed lease", func(t *testing.T) {
		e := newEngine(t)
		e.seed(t, "slotA")
		mustHold(t, e, "user1")
		e.clock.Advance(time.Hour)
		if err := e.arbiter.Release(ctx, "slotA", "user1"); err != nil {
			t.Fatalf("release: %v", err)
		}
	})

	t.Run("other requester rejected", func(t *testing.T) {
		e := newEngine(t)
		e.seed(t, "slotA")
		mustHold(t, e, "user1")
		if err := e.arbiter.Release(ctx, "slotA", "user2"); !errors.Is(err, ErrNotHolder) {
			t.Fatalf("expected ErrNotHolder, got %v", err)
		}
		if s := e.slot(t, "slotA"); s.HeldBy != "user1" {
			t.Fatalf("hold must survive, got %+v", s)
		}
	})

	t.Run("booked slot", func(t *testing.T) {
		e := newEngine(t)
		e.seed(t, "slotA")
		mustHold(t, e, "user1")
		mustConfirm(t, e, "user1", "order1")
		if err := e.arbiter.Release(ctx, "slotA", "user1"); !errors.Is(err, ErrAlreadyBooked) {
			t.Fatalf("expected ErrAlreadyBooked, got %v", err)
		}
	})
}

func TestStorageFailuresAreWrapped(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seed(t, "slotA")
	driverErr := errors.New("connection refused")

	a := NewArbiter(failingStore{SlotStore: e.store, getErr: driverErr}, e.clock)
	_, err := a.Hold(ctx, "slotA", "user1", time.Minute)
	if !errors.Is(err, ErrStorageUnavailable) || !errors.Is(err, driverErr) {
		t.Fatalf("expected wrapped storage error, got %v", err)
	}

	a = NewArbiter(failingStore{SlotStore: e.store, casErr: driverErr}, e.clock)
	_, err = a.Hold(ctx, "slotA", "user1", time.Minute)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestInspect(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seed(t, "slotA")
	mustHold(t, e, "user1")

	st, err := e.arbiter.Inspect(ctx, "slotA")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !st.Live || !st.ExpiresAt.Equal(base.Add(7*time.Minute)) {
		t.Fatalf("unexpected status %+v", st)
	}
	e.clock.Advance(8 * time.Minute)
	st, _ = e.arbiter.Inspect(ctx, "slotA")
	if st.Live {
		t.Fatal("lease should have lapsed")
	}
}

func mustHold(t *testing.T, e *engine, who string) {
	t.Helper()
	if _, err := e.arbiter.Hold(context.Background(), "slotA", who, 0); err != nil {
		t.Fatalf("hold %s: %v", who, err)
	}
}

func mustConfirm(t *testing.T, e *engine, who, booking string) {
	t.Helper()
	if _, err := e.arbiter.Confirm(context.Background(), "slotA", who, booking); err != nil {
		t.Fatalf("confirm %s: %v", who, err)
	}
}
