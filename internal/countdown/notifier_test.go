package countdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/slot-reservation/internal/clock"
)

var t0 = time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)

func TestRemaining(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"whole seconds", t0.Add(-90 * time.Second), 90},
		{"rounds up", t0.Add(-1500 * time.Millisecond), 2},
		{"at expiry", t0, 0},
		{"past expiry", t0.Add(time.Minute), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Remaining(t0, tt.now); got != tt.want {
				t.Fatalf("Remaining = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWarningFiresOnce(t *testing.T) {
	clk := clock.NewManual(t0.Add(-3 * time.Minute))
	n := New(t0, 2*time.Minute, clk, nil)

	warnings := 0
	for i := 0; i < 170; i++ {
		events, due := n.Step(clk.Now())
		if due {
			t.Fatalf("countdown due too early at step %d", i)
		}
		for _, ev := range events {
			if ev.Kind == Warning {
				warnings++
				if ev.Remaining != 120 {
					t.Fatalf("warning at %ds, want 120s", ev.Remaining)
				}
			}
		}
		clk.Advance(time.Second)
	}
	if warnings != 1 {
		t.Fatalf("expected exactly one warning, got %d", warnings)
	}
}

func TestDueRequiresVerification(t *testing.T) {
	clk := clock.NewManual(t0)
	n := New(t0, 2*time.Minute, clk, nil)

	_, due := n.Step(clk.Now())
	if !due {
		t.Fatal("countdown should be due at zero")
	}

	// the server still has a live lease: keep counting against it
	if _, final := n.Resolve(t0.Add(3*time.Minute), true, nil); final {
		t.Fatal("live lease must not produce an expired event")
	}
	events, due := n.Step(clk.Now())
	if due || events[0].Remaining != 180 {
		t.Fatalf("unexpected step after extension: %+v due=%v", events, due)
	}

	ev, final := n.Resolve(time.Time{}, false, nil)
	if !final || ev.Kind != Expired || !ev.Verified {
		t.Fatalf("unexpected resolution %+v final=%v", ev, final)
	}
	if events, _ := n.Step(clk.Now()); events != nil {
		t.Fatal("finished notifier must stay silent")
	}
}

func TestResolveVerifyError(t *testing.T) {
	clk := clock.NewManual(t0)
	n := New(t0, time.Minute, clk, nil)
	ev, final := n.Resolve(time.Time{}, false, errors.New("unreachable"))
	if !final || ev.Verified {
		t.Fatalf("unverified expiry expected, got %+v", ev)
	}
}

func TestRunStopsAfterVerifiedExpiry(t *testing.T) {
	clk := clock.NewManual(t0.Add(-2 * time.Second))
	verified := 0
	n := New(t0, time.Second, clk, func(context.Context) (time.Time, bool, error) {
		verified++
		return time.Time{}, false, nil
	}).WithInterval(time.Millisecond)

	var kinds []Kind
	err := n.Run(context.Background(), func(ev Event) error {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == Tick {
			clk.Advance(time.Second)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if verified != 1 {
		t.Fatalf("expected one verification, got %d", verified)
	}
	want := []Kind{Tick, Tick, Warning, Tick, Expired}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events = %v, want %v", kinds, want)
		}
	}
}
