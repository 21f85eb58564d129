package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/clock"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/payment"
)

// CheckoutStore persists checkout attempts.
type CheckoutStore interface {
	Save(ctx context.Context, c model.Checkout) error
	Get(ctx context.Context, id string) (model.Checkout, error)
}

// Checkout outcomes recorded on Released attempts.
const (
	OutcomeCancelled       = "cancelled"
	OutcomePaymentDeclined = "payment_declined"
	OutcomeHoldExpired     = "hold_expired"
	OutcomeRefunded        = "refunded"
	OutcomeRefundFailed    = "refund_failed"
)

// Coordinator drives one checkout from hold to booking:
// NotStarted -> Held -> AwaitingPayment -> Confirmed | Released.
// It never holds the slot beyond the lease the Arbiter granted; if the
// charge outlives the lease, Confirm fails and the charge is refunded.
type Coordinator struct {
	arbiter  *Arbiter
	sessions CheckoutStore
	gateway  payment.Gateway
	catalog  Catalog
	fees     FeeCalculator
	clock    clock.Clock
	sink     EventSink
	log      *zap.Logger

	currency     string
	defaultPrice int64
	maxAttempts  int
	backoff      time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	newID        func() string

	locks keyedMutex
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithPricing sets the catalog used to price slots, the fallback price and
// the charge currency.
func WithPricing(c Catalog, defaultPriceCents int64, currency string) CoordinatorOption {
	return func(co *Coordinator) {
		co.catalog = c
		co.defaultPrice = defaultPriceCents
		if currency != "" {
			co.currency = currency
		}
	}
}

// WithFees sets the fee calculator applied to the slot price.
func WithFees(f FeeCalculator) CoordinatorOption {
	return func(co *Coordinator) {
		if f != nil {
			co.fees = f
		}
	}
}

// WithPaymentRetry sets the attempts per charge/refund and the first backoff;
// each following wait doubles.
func WithPaymentRetry(attempts int, backoff time.Duration) CoordinatorOption {
	return func(co *Coordinator) {
		if attempts > 0 {
			co.maxAttempts = attempts
		}
		if backoff >= 0 {
			co.backoff = backoff
		}
	}
}

// WithCheckoutEvents sets the sink receiving refund.required events.
func WithCheckoutEvents(s EventSink) CoordinatorOption {
	return func(co *Coordinator) {
		if s != nil {
			co.sink = s
		}
	}
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(l *zap.Logger) CoordinatorOption {
	return func(co *Coordinator) {
		if l != nil {
			co.log = l
		}
	}
}

func NewCoordinator(arbiter *Arbiter, sessions CheckoutStore, gateway payment.Gateway, clk clock.Clock, opts ...CoordinatorOption) *Coordinator {
	co := &Coordinator{
		arbiter:     arbiter,
		sessions:    sessions,
		gateway:     gateway,
		fees:        BasisPointFees{},
		clock:       clk,
		sink:        nopSink{},
		log:         zap.NewNop(),
		currency:    "usd",
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
		sleep:       sleepCtx,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// Begin holds slotID for requester and opens a checkout priced from the
// catalog.  A failed Hold is returned as is and nothing is stored.
func (co *Coordinator) Begin(ctx context.Context, slotID, requester string) (model.Checkout, error) {
	held, err := co.arbiter.Hold(ctx, slotID, requester, 0)
	if err != nil {
		return model.Checkout{}, err
	}
	price, currency, err := co.price(ctx, held.Slot)
	if err != nil {
		co.releaseQuietly(ctx, slotID, requester)
		return model.Checkout{}, err
	}
	now := co.clock.Now()
	c := model.Checkout{
		ID:            co.newID(),
		SlotID:        slotID,
		Requester:     requester,
		State:         model.CheckoutHeld,
		AmountCents:   price + co.fees.Additional(price),
		Currency:      currency,
		HoldExpiresAt: held.ExpiresAt,
		BookingID:     co.newID(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := co.sessions.Save(ctx, c); err != nil {
		co.releaseQuietly(ctx, slotID, requester)
		return model.Checkout{}, storageErr("save checkout", err)
	}
	co.log.Debug("checkout started", zap.String("checkout_id", c.ID), zap.String("slot_id", slotID))
	return c, nil
}

// Get returns a checkout owned by requester.
func (co *Coordinator) Get(ctx context.Context, id, requester string) (model.Checkout, error) {
	return co.load(ctx, id, requester)
}

// Pay charges the checkout amount and books the slot.  Charges are retried
// on transient processor failures under the checkout id as idempotency
// key.  If the slot cannot be booked after a successful charge the charge
// is refunded and the Confirm error is returned.
//
// When the charge outcome stays unknown the checkout is left in
// AwaitingPayment with the hold in place: a later Pay repeats the charge
// under the same key, and once the lease has lapsed the charge is looked
// up and refunded instead.
func (co *Coordinator) Pay(ctx context.Context, id, requester, paymentMethod string) (model.Checkout, error) {
	unlock := co.locks.Lock(id)
	defer unlock()

	c, err := co.load(ctx, id, requester)
	if err != nil {
		return model.Checkout{}, err
	}
	switch c.State {
	case model.CheckoutConfirmed:
		return c, nil
	case model.CheckoutReleased:
		return c, ErrCheckoutClosed
	}
	if c.BookingID == "" {
		c.BookingID = co.newID()
	}
	if !co.clock.Now().Before(c.HoldExpiresAt) && !co.bookedAnyway(ctx, c) {
		return co.abandonLapsed(ctx, c)
	}

	if c.State != model.CheckoutAwaitingPayment {
		c.State = model.CheckoutAwaitingPayment
		if err := co.save(ctx, &c); err != nil {
			return c, err
		}
	}

	charge, err := co.charge(ctx, c, paymentMethod)
	if errors.Is(err, payment.ErrDeclined) {
		co.releaseQuietly(ctx, c.SlotID, c.Requester)
		c = co.finish(ctx, c, model.CheckoutReleased, OutcomePaymentDeclined)
		return c, fmt.Errorf("%w: %w", ErrPaymentDeclined, err)
	}
	if err != nil {
		co.chargeUnknown(ctx, c, err)
		return c, fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}
	c.ChargeRef = charge.Ref
	if err := co.save(ctx, &c); err != nil {
		co.log.Error("charge succeeded but checkout could not be saved",
			zap.String("checkout_id", c.ID), zap.String("charge_ref", c.ChargeRef), zap.Error(err))
	}
	return co.book(ctx, c)
}

// book confirms the slot under c.BookingID, refunding the charge when the
// slot is lost.
func (co *Coordinator) book(ctx context.Context, c model.Checkout) (model.Checkout, error) {
	_, confirmErr := co.arbiter.Confirm(ctx, c.SlotID, c.Requester, c.BookingID)
	if confirmErr != nil && errors.Is(confirmErr, ErrStorageUnavailable) && co.bookedAnyway(ctx, c) {
		confirmErr = nil
	}
	if confirmErr == nil {
		c = co.finish(ctx, c, model.CheckoutConfirmed, "")
		co.log.Info("checkout confirmed",
			zap.String("checkout_id", c.ID), zap.String("slot_id", c.SlotID), zap.String("booking_id", c.BookingID))
		return c, nil
	}

	co.log.Warn("slot lost after charge, refunding",
		zap.String("checkout_id", c.ID), zap.String("slot_id", c.SlotID), zap.Error(confirmErr))
	c = co.refund(ctx, c)
	return c, confirmErr
}

// abandonLapsed closes a checkout whose lease ended before it was paid.
// An earlier attempt with an unknown outcome may have captured a charge,
// which is looked up and refunded.
func (co *Coordinator) abandonLapsed(ctx context.Context, c model.Checkout) (model.Checkout, error) {
	if err := co.resolveCharge(ctx, &c); err != nil {
		return c, err
	}
	co.releaseQuietly(ctx, c.SlotID, c.Requester)
	if c.ChargeRef != "" {
		return co.refund(ctx, c), ErrHoldExpired
	}
	return co.finish(ctx, c, model.CheckoutReleased, OutcomeHoldExpired), ErrHoldExpired
}

// Cancel abandons a checkout that has not been confirmed and releases the
// slot.  Cancelling a released checkout is a no-op.
func (co *Coordinator) Cancel(ctx context.Context, id, requester string) (model.Checkout, error) {
	unlock := co.locks.Lock(id)
	defer unlock()

	c, err := co.load(ctx, id, requester)
	if err != nil {
		return model.Checkout{}, err
	}
	switch c.State {
	case model.CheckoutReleased:
		return c, nil
	case model.CheckoutConfirmed:
		return c, ErrCheckoutClosed
	}
	if c.BookingID != "" && co.bookedAnyway(ctx, c) {
		// another instance finished the payment
		return co.finish(ctx, c, model.CheckoutConfirmed, ""), ErrCheckoutClosed
	}
	if err := co.resolveCharge(ctx, &c); err != nil {
		return c, err
	}
	if err := co.arbiter.Release(ctx, c.SlotID, c.Requester); err != nil {
		switch {
		case errors.Is(err, ErrHoldExpired), errors.Is(err, ErrNotHolder), errors.Is(err, ErrAlreadyBooked):
			// the lease is already gone; nothing left to release
		default:
			return c, err
		}
	}
	if c.ChargeRef != "" {
		return co.refund(ctx, c), nil
	}
	return co.finish(ctx, c, model.CheckoutReleased, OutcomeCancelled), nil
}

// resolveCharge fills c.ChargeRef for a checkout whose last charge attempt
// ended without an answer.  A checkout that never reached the processor is
// left as is.
func (co *Coordinator) resolveCharge(ctx context.Context, c *model.Checkout) error {
	if c.State != model.CheckoutAwaitingPayment || c.ChargeRef != "" {
		return nil
	}
	var found payment.Charge
	err := co.retry(ctx, "lookup", func() error {
		var err error
		found, err = co.gateway.Lookup(ctx, chargeKey(*c))
		return err
	})
	if errors.Is(err, payment.ErrNoCharge) {
		return nil
	}
	if err != nil {
		co.log.Warn("could not resolve charge outcome",
			zap.String("checkout_id", c.ID), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}
	c.ChargeRef = found.Ref
	if err := co.save(ctx, c); err != nil {
		co.log.Error("resolved charge but checkout could not be saved",
			zap.String("checkout_id", c.ID), zap.String("charge_ref", c.ChargeRef), zap.Error(err))
	}
	return nil
}

// chargeUnknown records a charge attempt that may or may not have been
// captured.  The checkout stays open; payment.unknown leaves a trail for
// reconciliation if the customer never comes back.
func (co *Coordinator) chargeUnknown(ctx context.Context, c model.Checkout, err error) {
	co.log.Error("charge outcome unknown, checkout left awaiting payment",
		zap.String("checkout_id", c.ID), zap.String("slot_id", c.SlotID), zap.Error(err))
	co.sink.Publish(ctx, model.SlotEvent{
		Type:      model.EventPaymentUnknown,
		SlotID:    c.SlotID,
		Requester: c.Requester,
		BookingID: c.BookingID,
		At:        co.clock.Now(),
	})
}

func (co *Coordinator) load(ctx context.Context, id, requester string) (model.Checkout, error) {
	c, err := co.sessions.Get(ctx, id)
	if errors.Is(err, ErrCheckoutNotFound) {
		return model.Checkout{}, ErrCheckoutNotFound
	}
	if err != nil {
		return model.Checkout{}, storageErr("load checkout", err)
	}
	if c.Requester != requester {
		return model.Checkout{}, ErrCheckoutNotFound
	}
	return c, nil
}

func (co *Coordinator) save(ctx context.Context, c *model.Checkout) error {
	c.UpdatedAt = co.clock.Now()
	if err := co.sessions.Save(ctx, *c); err != nil {
		return storageErr("save checkout", err)
	}
	return nil
}

// finish records a terminal state.  A failed save is logged only: the slot
// state is already decided and the caller must see that outcome.
func (co *Coordinator) finish(ctx context.Context, c model.Checkout, state model.CheckoutState, outcome string) model.Checkout {
	c.State = state
	c.Outcome = outcome
	if err := co.save(ctx, &c); err != nil {
		co.log.Error("could not persist checkout outcome",
			zap.String("checkout_id", c.ID), zap.String("state", string(state)), zap.Error(err))
	}
	return c
}

func (co *Coordinator) price(ctx context.Context, s model.Slot) (int64, string, error) {
	if co.catalog == nil || s.ServiceID == nil {
		return co.defaultPrice, co.currency, nil
	}
	p, err := co.catalog.ServicePrice(ctx, s.ProviderID, *s.ServiceID)
	if errors.Is(err, ErrCatalogNotFound) {
		return co.defaultPrice, co.currency, nil
	}
	if err != nil {
		return 0, "", storageErr("service price", err)
	}
	currency := p.Currency
	if currency == "" {
		currency = co.currency
	}
	return p.PriceCents, currency, nil
}

func (co *Coordinator) charge(ctx context.Context, c model.Checkout, method string) (payment.Charge, error) {
	req := payment.ChargeRequest{
		AmountCents:    c.AmountCents,
		Currency:       c.Currency,
		PaymentMethod:  method,
		IdempotencyKey: chargeKey(c),
		Metadata: map[string]string{
			"checkout_id": c.ID,
			"slot_id":     c.SlotID,
			"booking_id":  c.BookingID,
		},
	}
	var charge payment.Charge
	err := co.retry(ctx, "charge", func() error {
		var err error
		charge, err = co.gateway.Charge(ctx, req)
		return err
	})
	return charge, err
}

// refund reverses c.ChargeRef and records the outcome.  A refund that keeps
// failing leaves the checkout Released with refund_failed and emits
// refund.required for manual reconciliation.
func (co *Coordinator) refund(ctx context.Context, c model.Checkout) model.Checkout {
	var ref string
	err := co.retry(ctx, "refund", func() error {
		var err error
		ref, err = co.gateway.Refund(ctx, c.ChargeRef, "refund-"+c.ID)
		return err
	})
	if err == nil {
		c.RefundRef = ref
		return co.finish(ctx, c, model.CheckoutReleased, OutcomeRefunded)
	}
	co.log.Error("refund failed, manual reconciliation required",
		zap.String("checkout_id", c.ID), zap.String("charge_ref", c.ChargeRef), zap.Error(err))
	now := co.clock.Now()
	co.sink.Publish(ctx, model.SlotEvent{
		Type:      model.EventRefundRequired,
		SlotID:    c.SlotID,
		Requester: c.Requester,
		BookingID: c.BookingID,
		ChargeRef: c.ChargeRef,
		At:        now,
	})
	return co.finish(ctx, c, model.CheckoutReleased, OutcomeRefundFailed)
}

func chargeKey(c model.Checkout) string {
	return "checkout-" + c.ID
}

func (co *Coordinator) retry(ctx context.Context, op string, fn func() error) error {
	wait := co.backoff
	var err error
	for attempt := 1; attempt <= co.maxAttempts; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, payment.ErrTransient) {
			return err
		}
		if attempt == co.maxAttempts {
			break
		}
		co.log.Debug("payment call failed, retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		if serr := co.sleep(ctx, wait); serr != nil {
			return err
		}
		wait *= 2
	}
	return err
}

// bookedAnyway checks whether a Confirm that reported a storage failure was
// in fact committed.
func (co *Coordinator) bookedAnyway(ctx context.Context, c model.Checkout) bool {
	st, err := co.arbiter.Inspect(ctx, c.SlotID)
	return err == nil && st.Slot.Status == model.SlotBooked && st.Slot.BookingID == c.BookingID
}

func (co *Coordinator) releaseQuietly(ctx context.Context, slotID, requester string) {
	if err := co.arbiter.Release(ctx, slotID, requester); err != nil {
		co.log.Debug("release after failed checkout", zap.String("slot_id", slotID), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
