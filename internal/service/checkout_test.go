package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/payment"
	"github.com/iliyamo/slot-reservation/internal/repository"
)

// scriptedGateway wraps the sandbox and lets a test hook into Charge.
type scriptedGateway struct {
	*payment.Sandbox
	onCharge func()
	charges  int
}

func (g *scriptedGateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.Charge, error) {
	g.charges++
	if g.onCharge != nil {
		g.onCharge()
	}
	return g.Sandbox.Charge(ctx, req)
}

type checkoutFixture struct {
	*engine
	gateway  *scriptedGateway
	sessions *repository.MemoryCheckoutStore
	coord    *Coordinator
	sleeps   []time.Duration
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	e := newEngine(t)
	svc := "haircut"
	s := model.Slot{ID: "slotA", ProviderID: "p1", ServiceID: &svc, Date: model.DateOnly(base), StartMinute: 600, DurationMinutes: 30}
	if _, err := e.store.InsertAvailable(context.Background(), []model.Slot{s}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cat := repository.NewMemoryCatalog()
	cat.SetPrice(model.ServicePrice{ProviderID: "p1", ServiceID: "haircut", PriceCents: 2000, Currency: "eur"})

	f := &checkoutFixture{
		engine:   e,
		gateway:  &scriptedGateway{Sandbox: payment.NewSandbox()},
		sessions: repository.NewMemoryCheckoutStore(),
	}
	f.coord = NewCoordinator(e.arbiter, f.sessions, f.gateway, e.clock,
		WithPricing(cat, 1000, "usd"),
		WithFees(BasisPointFees{PlatformBps: 500, TaxBps: 1000}),
		WithPaymentRetry(3, 100*time.Millisecond),
		WithCheckoutEvents(e.sink),
		WithCoordinatorLogger(zaptest.NewLogger(t)))
	f.coord.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}

func TestCheckoutHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)

	c, err := f.coord.Begin(ctx, "slotA", "user1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if c.State != model.CheckoutHeld || c.AmountCents != 2300 || c.Currency != "eur" {
		t.Fatalf("unexpected checkout %+v", c)
	}
	c, err = f.coord.Pay(ctx, c.ID, "user1", "pm_card_visa")
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if c.State != model.CheckoutConfirmed || c.ChargeRef == "" || c.BookingID == "" {
		t.Fatalf("unexpected checkout %+v", c)
	}
	s := f.slot(t, "slotA")
	if s.Status != model.SlotBooked || s.BookingID != c.BookingID {
		t.Fatalf("slot not booked: %+v", s)
	}

	// paying again is idempotent and does not charge twice
	again, err := f.coord.Pay(ctx, c.ID, "user1", "pm_card_visa")
	if err != nil || again.State != model.CheckoutConfirmed || f.gateway.charges != 1 {
		t.Fatalf("repeat pay: state=%s charges=%d err=%v", again.State, f.gateway.charges, err)
	}
}

func TestCheckoutBeginOnTakenSlot(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	if _, err := f.coord.Begin(ctx, "slotA", "user1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := f.coord.Begin(ctx, "slotA", "user2"); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if f.gateway.charges != 0 {
		t.Fatal("no payment may be attempted")
	}
}

func TestCheckoutDeclinedReleases(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	c, _ := f.coord.Begin(ctx, "slotA", "user1")

	c, err := f.coord.Pay(ctx, c.ID, "user1", payment.SandboxDeclined)
	if !errors.Is(err, ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}
	if c.State != model.CheckoutReleased || c.Outcome != OutcomePaymentDeclined {
		t.Fatalf("unexpected checkout %+v", c)
	}
	if s := f.slot(t, "slotA"); s.Status != model.SlotAvailable {
		t.Fatalf("slot should be released: %+v", s)
	}
	if _, err := f.coord.Pay(ctx, c.ID, "user1", "pm_card_visa"); !errors.Is(err, ErrCheckoutClosed) {
		t.Fatalf("expected ErrCheckoutClosed, got %v", err)
	}
}

func TestCheckoutRetriesTransientCharge(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	c, _ := f.coord.Begin(ctx, "slotA", "user1")

	c, err := f.coord.Pay(ctx, c.ID, "user1", payment.SandboxTransient)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if c.State != model.CheckoutConfirmed || f.gateway.charges != 2 {
		t.Fatalf("state=%s charges=%d", c.State, f.gateway.charges)
	}
	if !reflect.DeepEqual(f.sleeps, []time.Duration{100 * time.Millisecond}) {
		t.Fatalf("unexpected backoff %v", f.sleeps)
	}
}

func TestCheckoutRefundsWhenHoldLapsesDuringPayment(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	c, _ := f.coord.Begin(ctx, "slotA", "user1")
	f.gateway.onCharge = func() { f.clock.Advance(8 * time.Minute) }

	c, err := f.coord.Pay(ctx, c.ID, "user1", "pm_card_visa")
	if !errors.Is(err, ErrHoldExpired) {
		t.Fatalf("expected ErrHoldExpired, got %v", err)
	}
	if c.State != model.CheckoutReleased || c.Outcome != OutcomeRefunded || c.RefundRef == "" {
		t.Fatalf("unexpected checkout %+v", c)
	}
	if !f.gateway.Refunded(c.ChargeRef) {
		t.Fatal("charge must be refunded")
	}
	if s := f.slot(t, "slotA"); s.Status != model.SlotAvailable {
		t.Fatalf("slot should be available: %+v", s)
	}
}

func TestCheckoutRefundFailureEmitsEvent(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	f.gateway.FailRefunds = true
	c, _ := f.coord.Begin(ctx, "slotA", "user1")
	f.gateway.onCharge = func() { f.clock.Advance(8 * time.Minute) }

	c, err := f.coord.Pay(ctx, c.ID, "user1", "pm_card_visa")
	if !errors.Is(err, ErrHoldExpired) {
		t.Fatalf("expected ErrHoldExpired, got %v", err)
	}
	if c.Outcome != OutcomeRefundFailed {
		t.Fatalf("unexpected outcome %q", c.Outcome)
	}
	types := f.sink.types()
	if types[len(types)-1] != model.EventRefundRequired {
		t.Fatalf("expected refund.required last, got %v", types)
	}
	if len(f.sleeps) != 2 {
		t.Fatalf("refund should be retried, sleeps=%v", f.sleeps)
	}
}

func TestCheckoutPayAfterLeaseLapsed(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	c, _ := f.coord.Begin(ctx, "slotA", "user1")
	f.clock.Advance(10 * time.Minute)

	c, err := f.coord.Pay(ctx, c.ID, "user1", "pm_card_visa")
	if !errors.Is(err, ErrHoldExpired) {
		t.Fatalf("expected ErrHoldExpired, got %v", err)
	}
	if f.gateway.charges != 0 || c.Outcome != OutcomeHoldExpired {
		t.Fatalf("no charge expected: charges=%d outcome=%s", f.gateway.charges, c.Outcome)
	}
}

func TestCheckoutCancel(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	c, _ := f.coord.Begin(ctx, "slotA", "user1")

	if _, err := f.coord.Cancel(ctx, c.ID, "user2"); !errors.Is(err, ErrCheckoutNotFound) {
		t.Fatalf("other requester must not see the checkout, got %v", err)
	}
	c, err := f.coord.Cancel(ctx, c.ID, "user1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if c.State != model.CheckoutReleased || c.Outcome != OutcomeCancelled {
		t.Fatalf("unexpected checkout %+v", c)
	}
	if s := f.slot(t, "slotA"); s.Status != model.SlotAvailable {
		t.Fatalf("slot should be released: %+v", s)
	}
	if _, err := f.coord.Cancel(ctx, c.ID, "user1"); err != nil {
		t.Fatalf("second cancel should be a no-op: %v", err)
	}
	got, err := f.coord.Get(ctx, c.ID, "user1")
	if err != nil || got.State != model.CheckoutReleased {
		t.Fatalf("get: %+v %v", got, err)
	}
}

// rendezvousStore holds the first two Gets until both have read, so two
// coordinators see the same checkout state before either writes.
type rendezvousStore struct {
	*repository.MemoryCheckoutStore
	mu      sync.Mutex
	readers int
	both    chan struct{}
}

func (s *rendezvousStore) Get(ctx context.Context, id string) (model.Checkout, error) {
	c, err := s.MemoryCheckoutStore.Get(ctx, id)
	s.mu.Lock()
	s.readers++
	if s.readers == 2 {
		close(s.both)
	}
	s.mu.Unlock()
	<-s.both
	return c, err
}

func TestCheckoutConcurrentPayOnTwoInstances(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seed(t, "slotA")
	sessions := &rendezvousStore{MemoryCheckoutStore: repository.NewMemoryCheckoutStore(), both: make(chan struct{})}
	gateway := payment.NewSandbox()
	newInstance := func() *Coordinator {
		return NewCoordinator(e.arbiter, sessions, gateway, e.clock,
			WithPricing(nil, 1000, "usd"),
			WithCoordinatorLogger(zaptest.NewLogger(t)))
	}
	a, b := newInstance(), newInstance()

	c, err := a.Begin(ctx, "slotA", "user1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if c.BookingID == "" {
		t.Fatal("booking id must be fixed when the checkout opens")
	}

	type result struct {
		c   model.Checkout
		err error
	}
	results := make([]result, 2)
	var wg sync.WaitGroup
	for i, co := range []*Coordinator{a, b} {
		wg.Add(1)
		go func(i int, co *Coordinator) {
			defer wg.Done()
			got, err := co.Pay(ctx, c.ID, "user1", "pm_card_visa")
			results[i] = result{got, err}
		}(i, co)
	}
	wg.Wait()

	for i, r := range results {
		if r.err != nil || r.c.State != model.CheckoutConfirmed {
			t.Fatalf("instance %d: state=%s outcome=%s err=%v", i, r.c.State, r.c.Outcome, r.err)
		}
	}
	if results[0].c.ChargeRef != results[1].c.ChargeRef {
		t.Fatalf("charged twice: %s vs %s", results[0].c.ChargeRef, results[1].c.ChargeRef)
	}
	if gateway.Refunded(results[0].c.ChargeRef) {
		t.Fatal("the only charge was refunded while the slot stays booked")
	}
	s := e.slot(t, "slotA")
	if s.Status != model.SlotBooked || s.BookingID != c.BookingID {
		t.Fatalf("slot not booked under the checkout's booking id: %+v", s)
	}
	stored, _ := sessions.MemoryCheckoutStore.Get(ctx, c.ID)
	if stored.State != model.CheckoutConfirmed {
		t.Fatalf("stored checkout contradicts the slot: %+v", stored)
	}
}

func TestCheckoutUnknownChargeKeepsHold(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	c, _ := f.coord.Begin(ctx, "slotA", "user1")
	f.gateway.LoseResponses = true

	c, err := f.coord.Pay(ctx, c.ID, "user1", "pm_card_visa")
	if !errors.Is(err, ErrPaymentUnavailable) {
		t.Fatalf("expected ErrPaymentUnavailable, got %v", err)
	}
	if c.State != model.CheckoutAwaitingPayment || c.Outcome != "" {
		t.Fatalf("checkout must stay open: %+v", c)
	}
	if s := f.slot(t, "slotA"); s.Status != model.SlotHeld || s.HeldBy != "user1" {
		t.Fatalf("hold must survive an unknown charge: %+v", s)
	}
	types := f.sink.types()
	if types[len(types)-1] != model.EventPaymentUnknown {
		t.Fatalf("expected payment.unknown last, got %v", types)
	}
	if _, err := f.coord.Begin(ctx, "slotA", "user2"); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("another customer must not take the slot, got %v", err)
	}

	// the processor answers again; the retry returns the captured charge
	f.gateway.LoseResponses = false
	captured, err := f.gateway.Lookup(ctx, "checkout-"+c.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	c, err = f.coord.Pay(ctx, c.ID, "user1", "pm_card_visa")
	if err != nil {
		t.Fatalf("retry pay: %v", err)
	}
	if c.State != model.CheckoutConfirmed || c.ChargeRef != captured.Ref {
		t.Fatalf("unexpected checkout %+v", c)
	}
	if f.gateway.Refunded(captured.Ref) {
		t.Fatal("confirmed charge must not be refunded")
	}
}

func TestCheckoutUnknownChargeRefundedOnceLeaseLapses(t *testing.T) {
	tests := []struct {
		name   string
		settle func(f *checkoutFixture, id string) (model.Checkout, error)
		want   error
	}{
		{
			name: "pay after lapse",
			settle: func(f *checkoutFixture, id string) (model.Checkout, error) {
				f.clock.Advance(10 * time.Minute)
				return f.coord.Pay(context.Background(), id, "user1", "pm_card_visa")
			},
			want: ErrHoldExpired,
		},
		{
			name: "cancel",
			settle: func(f *checkoutFixture, id string) (model.Checkout, error) {
				return f.coord.Cancel(context.Background(), id, "user1")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newCheckoutFixture(t)
			c, _ := f.coord.Begin(ctx, "slotA", "user1")
			f.gateway.LoseResponses = true
			if _, err := f.coord.Pay(ctx, c.ID, "user1", "pm_card_visa"); !errors.Is(err, ErrPaymentUnavailable) {
				t.Fatalf("expected ErrPaymentUnavailable, got %v", err)
			}
			charges := f.gateway.charges
			f.gateway.LoseResponses = false

			c, err := tt.settle(f, c.ID)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if c.State != model.CheckoutReleased || c.Outcome != OutcomeRefunded || c.ChargeRef == "" {
				t.Fatalf("unexpected checkout %+v", c)
			}
			if !f.gateway.Refunded(c.ChargeRef) {
				t.Fatal("captured charge must be refunded")
			}
			if f.gateway.charges != charges {
				t.Fatalf("settling must not charge again: %d -> %d", charges, f.gateway.charges)
			}
			if s := f.slot(t, "slotA"); s.Status != model.SlotAvailable {
				t.Fatalf("slot should be available: %+v", s)
			}
		})
	}
}

func TestCheckoutCancelWithoutChargeAfterUnknownOutcome(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	c, _ := f.coord.Begin(ctx, "slotA", "user1")
	// a charge request that never reached the processor leaves nothing to refund
	c.State = model.CheckoutAwaitingPayment
	if err := f.sessions.Save(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}

	c, err := f.coord.Cancel(ctx, c.ID, "user1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if c.State != model.CheckoutReleased || c.Outcome != OutcomeCancelled || c.ChargeRef != "" {
		t.Fatalf("unexpected checkout %+v", c)
	}
}

func TestBasisPointFees(t *testing.T) {
	tests := []struct {
		fees     BasisPointFees
		subtotal int64
		want     int64
	}{
		{BasisPointFees{}, 1000, 0},
		{BasisPointFees{PlatformBps: 500}, 1000, 50},
		{BasisPointFees{PlatformBps: 250, TaxBps: 825}, 1999, 50 + 165},
		{BasisPointFees{TaxBps: 1000}, 0, 0},
	}
	for _, tt := range tests {
		if got := tt.fees.Additional(tt.subtotal); got != tt.want {
			t.Errorf("%+v.Additional(%d) = %d, want %d", tt.fees, tt.subtotal, got, tt.want)
		}
	}
}
