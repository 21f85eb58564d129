// Package countdown renders the remaining lifetime of a hold for clients.
// It is advisory: the expired signal is only sent after the server-side
// state has been re-read, and it never changes slot state itself.
package countdown

import (
	"context"
	"time"

	"github.com/iliyamo/slot-reservation/internal/clock"
)

// Kind is the type of a countdown event.
type Kind string

const (
	Tick    Kind = "tick"
	Warning Kind = "warning"
	Expired Kind = "expired"
)

// Event is one notification for the client.  Verified is false on an
// Expired event sent because the server could not be asked.
type Event struct {
	Kind      Kind      `json:"kind"`
	Remaining int       `json:"remaining_seconds"`
	ExpiresAt time.Time `json:"expires_at"`
	Verified  bool      `json:"verified"`
}

// Remaining returns the whole seconds left until expiresAt, rounded up and
// never negative.
func Remaining(expiresAt, now time.Time) int {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// Verifier re-reads the authoritative lease.  live=false means the hold is
// gone; otherwise expiresAt is the lease end the server currently holds.
type Verifier func(ctx context.Context) (expiresAt time.Time, live bool, err error)

// Notifier tracks one hold.
type Notifier struct {
	expiresAt time.Time
	threshold time.Duration
	clock     clock.Clock
	verify    Verifier
	interval  time.Duration

	warned bool
	done   bool
}

// New returns a notifier for a hold ending at expiresAt that warns once
// when the remaining time drops to threshold.
func New(expiresAt time.Time, threshold time.Duration, clk clock.Clock, verify Verifier) *Notifier {
	return &Notifier{
		expiresAt: expiresAt,
		threshold: threshold,
		clock:     clk,
		verify:    verify,
		interval:  time.Second,
	}
}

// WithInterval overrides the one-second tick; used by tests.
func (n *Notifier) WithInterval(d time.Duration) *Notifier {
	if d > 0 {
		n.interval = d
	}
	return n
}

// Step computes the events due at now.  It returns a tick, possibly
// followed by the one-time warning.  due reports that the countdown reached
// zero and the lease should be re-validated.
func (n *Notifier) Step(now time.Time) (events []Event, due bool) {
	if n.done {
		return nil, false
	}
	rem := Remaining(n.expiresAt, now)
	events = append(events, Event{Kind: Tick, Remaining: rem, ExpiresAt: n.expiresAt})
	if rem == 0 {
		return events, true
	}
	if !n.warned && time.Duration(rem)*time.Second <= n.threshold {
		n.warned = true
		events = append(events, Event{Kind: Warning, Remaining: rem, ExpiresAt: n.expiresAt})
	}
	return events, false
}

// Resolve settles a due countdown with the server's answer.  When the lease
// is still live the countdown continues against the server's expiry and no
// event is produced.
func (n *Notifier) Resolve(expiresAt time.Time, live bool, err error) (Event, bool) {
	now := n.clock.Now()
	if err == nil && live && expiresAt.After(now) {
		n.expiresAt = expiresAt
		if time.Duration(Remaining(expiresAt, now))*time.Second > n.threshold {
			n.warned = false
		}
		return Event{}, false
	}
	n.done = true
	return Event{Kind: Expired, Remaining: 0, ExpiresAt: n.expiresAt, Verified: err == nil}, true
}

// Run emits events every interval until the hold is verified expired or
// ctx ends.  emit returning an error stops the countdown with that error.
func (n *Notifier) Run(ctx context.Context, emit func(Event) error) error {
	t := time.NewTicker(n.interval)
	defer t.Stop()
	for {
		events, due := n.Step(n.clock.Now())
		for _, ev := range events {
			if err := emit(ev); err != nil {
				return err
			}
		}
		if due {
			var (
				exp  time.Time
				live bool
				err  error
			)
			if n.verify != nil {
				exp, live, err = n.verify(ctx)
			}
			if ev, final := n.Resolve(exp, live, err); final {
				return emit(ev)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
