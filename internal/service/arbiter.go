package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/clock"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/repository"
)

// SlotStore is the persistence contract of the engine.  CompareAndSwap must
// be atomic with respect to every other call on the same slot.
type SlotStore interface {
	InsertAvailable(ctx context.Context, slots []model.Slot) (int, error)
	Get(ctx context.Context, id string) (model.Slot, error)
	ListFree(ctx context.Context, q repository.SlotQuery) ([]model.Slot, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Slot, error)
	CompareAndSwap(ctx context.Context, t repository.SlotTransition) (bool, error)
}

// Arbiter owns every slot status transition.  Each operation reads the
// slot, decides, and then issues one conditional write keyed on the version
// and status it read; losing that write means somebody else moved the slot
// first.  The Arbiter never retries on contention.
type Arbiter struct {
	store      SlotStore
	clock      clock.Clock
	sink       EventSink
	log        *zap.Logger
	defaultTTL time.Duration
}

const defaultHoldTTL = 7 * time.Minute

// ArbiterOption customizes an Arbiter.
type ArbiterOption func(*Arbiter)

// WithHoldTTL sets the lease used when Hold is called with ttl <= 0.
func WithHoldTTL(d time.Duration) ArbiterOption {
	return func(a *Arbiter) {
		if d > 0 {
			a.defaultTTL = d
		}
	}
}

// WithEvents sets the sink notified after each committed transition.
func WithEvents(s EventSink) ArbiterOption {
	return func(a *Arbiter) {
		if s != nil {
			a.sink = s
		}
	}
}

// WithArbiterLogger sets the logger.
func WithArbiterLogger(l *zap.Logger) ArbiterOption {
	return func(a *Arbiter) {
		if l != nil {
			a.log = l
		}
	}
}

func NewArbiter(store SlotStore, clk clock.Clock, opts ...ArbiterOption) *Arbiter {
	a := &Arbiter{
		store:      store,
		clock:      clk,
		sink:       nopSink{},
		log:        zap.NewNop(),
		defaultTTL: defaultHoldTTL,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HoldTTL returns the lease granted by Hold when no ttl is given.
func (a *Arbiter) HoldTTL() time.Duration { return a.defaultTTL }

// HoldResult is a granted lease.
type HoldResult struct {
	Slot      model.Slot
	ExpiresAt time.Time
}

// Hold leases slotID to requester for ttl (the configured default when
// ttl <= 0).  A slot held under a lapsed lease is taken over here without
// waiting for the reaper.  If requester already holds a live lease the
// existing lease is returned unchanged.
func (a *Arbiter) Hold(ctx context.Context, slotID, requester string, ttl time.Duration) (HoldResult, error) {
	if requester == "" {
		return HoldResult{}, invalid("requester", "must not be empty")
	}
	if ttl <= 0 {
		ttl = a.defaultTTL
	}
	s, err := a.get(ctx, slotID)
	if err != nil {
		return HoldResult{}, err
	}
	now := a.clock.Now()

	if s.HoldLive(now) && s.HeldBy == requester {
		return HoldResult{Slot: s, ExpiresAt: *s.HoldExpiresAt}, nil
	}
	if !s.FreeAt(now) {
		a.log.Debug("hold rejected", zap.String("slot_id", slotID), zap.String("status", string(s.Status)))
		return HoldResult{}, ErrSlotUnavailable
	}

	exp := now.Add(ttl)
	ok, err := a.store.CompareAndSwap(ctx, repository.SlotTransition{
		ID:            s.ID,
		FromVersion:   s.Version,
		FromStatus:    s.Status,
		To:            model.SlotHeld,
		HeldBy:        requester,
		HoldExpiresAt: &exp,
	})
	if err != nil {
		return HoldResult{}, storageErr("hold", err)
	}
	if !ok {
		a.log.Debug("hold lost race", zap.String("slot_id", slotID), zap.String("requester", requester))
		return HoldResult{}, ErrSlotUnavailable
	}

	prev := s
	s = applied(s, model.SlotHeld, requester, &exp, "", now)
	if prev.Status == model.SlotHeld {
		ev := model.NewSlotEvent(model.EventHoldExpired, prev, now)
		ev.Requester = prev.HeldBy
		a.sink.Publish(ctx, ev)
	}
	ev := model.NewSlotEvent(model.EventSlotHeld, s, now)
	ev.Requester = requester
	ev.ExpiresAt = &exp
	a.sink.Publish(ctx, ev)
	return HoldResult{Slot: s, ExpiresAt: exp}, nil
}

// Confirm books a slot held by requester under bookingID.  Confirming an
// already booked slot with the same bookingID succeeds without a write.
// When the requester's lease has lapsed the slot is returned to Available
// and ErrHoldExpired is reported.
func (a *Arbiter) Confirm(ctx context.Context, slotID, requester, bookingID string) (model.Slot, error) {
	if requester == "" {
		return model.Slot{}, invalid("requester", "must not be empty")
	}
	if bookingID == "" {
		return model.Slot{}, invalid("booking_id", "must not be empty")
	}
	s, err := a.get(ctx, slotID)
	if err != nil {
		return model.Slot{}, err
	}
	out, contended, err := a.confirm(ctx, s, requester, bookingID, true)
	if !contended {
		return out, err
	}
	// One re-read to explain the lost write; no second attempt.
	s, err = a.get(ctx, slotID)
	if err != nil {
		return model.Slot{}, err
	}
	out, contended, err = a.confirm(ctx, s, requester, bookingID, false)
	if contended {
		return model.Slot{}, ErrSlotUnavailable
	}
	return out, err
}

// confirm decides one Confirm attempt against s.  contended reports that the
// conditional write lost, or would have been attempted when write is false.
func (a *Arbiter) confirm(ctx context.Context, s model.Slot, requester, bookingID string, write bool) (out model.Slot, contended bool, err error) {
	now := a.clock.Now()
	switch s.Status {
	case model.SlotBooked:
		if s.BookingID == bookingID {
			return s, false, nil
		}
		return model.Slot{}, false, ErrAlreadyBooked
	case model.SlotAvailable:
		return model.Slot{}, false, ErrHoldExpired
	}

	if s.HeldBy != requester {
		a.log.Error("confirm by non-holder",
			zap.String("slot_id", s.ID), zap.String("requester", requester), zap.String("holder", s.HeldBy))
		return model.Slot{}, false, ErrNotHolder
	}
	if !write {
		if s.HoldLive(now) {
			return model.Slot{}, true, nil
		}
		return model.Slot{}, false, ErrHoldExpired
	}
	if !s.HoldLive(now) {
		if _, err := a.expire(ctx, s, now); err != nil {
			return model.Slot{}, false, err
		}
		return model.Slot{}, false, ErrHoldExpired
	}

	ok, err := a.store.CompareAndSwap(ctx, repository.SlotTransition{
		ID:          s.ID,
		FromVersion: s.Version,
		FromStatus:  model.SlotHeld,
		To:          model.SlotBooked,
		BookingID:   bookingID,
	})
	if err != nil {
		return model.Slot{}, false, storageErr("confirm", err)
	}
	if !ok {
		return model.Slot{}, true, nil
	}
	s = applied(s, model.SlotBooked, "", nil, bookingID, now)
	ev := model.NewSlotEvent(model.EventSlotBooked, s, now)
	ev.Requester = requester
	ev.BookingID = bookingID
	a.sink.Publish(ctx, ev)
	return s, false, nil
}

// Release returns a slot held by requester to Available.  The holder may
// release even after the lease lapsed, as long as nobody took the slot over.
func (a *Arbiter) Release(ctx context.Context, slotID, requester string) error {
	if requester == "" {
		return invalid("requester", "must not be empty")
	}
	s, err := a.get(ctx, slotID)
	if err != nil {
		return err
	}
	contended, err := a.release(ctx, s, requester, true)
	if !contended {
		return err
	}
	s, err = a.get(ctx, slotID)
	if err != nil {
		return err
	}
	if contended, err = a.release(ctx, s, requester, false); contended {
		return ErrSlotUnavailable
	}
	return err
}

func (a *Arbiter) release(ctx context.Context, s model.Slot, requester string, write bool) (contended bool, err error) {
	switch s.Status {
	case model.SlotAvailable:
		return false, ErrHoldExpired
	case model.SlotBooked:
		return false, ErrAlreadyBooked
	}
	if s.HeldBy != requester {
		a.log.Warn("release by non-holder",
			zap.String("slot_id", s.ID), zap.String("requester", requester), zap.String("holder", s.HeldBy))
		return false, ErrNotHolder
	}
	if !write {
		return true, nil
	}
	ok, err := a.store.CompareAndSwap(ctx, repository.SlotTransition{
		ID:          s.ID,
		FromVersion: s.Version,
		FromStatus:  model.SlotHeld,
		To:          model.SlotAvailable,
	})
	if err != nil {
		return false, storageErr("release", err)
	}
	if !ok {
		return true, nil
	}
	now := a.clock.Now()
	ev := model.NewSlotEvent(model.EventSlotReleased, s, now)
	ev.Requester = requester
	a.sink.Publish(ctx, ev)
	return false, nil
}

// expire reverts a held slot whose lease ended at or before now.  It
// reports false when the slot moved since s was read.
func (a *Arbiter) expire(ctx context.Context, s model.Slot, now time.Time) (bool, error) {
	if s.Status != model.SlotHeld || s.HoldLive(now) {
		return false, nil
	}
	ok, err := a.store.CompareAndSwap(ctx, repository.SlotTransition{
		ID:          s.ID,
		FromVersion: s.Version,
		FromStatus:  model.SlotHeld,
		To:          model.SlotAvailable,
	})
	if err != nil {
		return false, storageErr("expire", err)
	}
	if !ok {
		return false, nil
	}
	ev := model.NewSlotEvent(model.EventHoldExpired, s, now)
	ev.Requester = s.HeldBy
	ev.ExpiresAt = s.HoldExpiresAt
	a.sink.Publish(ctx, ev)
	return true, nil
}

// HoldStatus is the server-side view of a slot's lease.
type HoldStatus struct {
	Slot      model.Slot
	Live      bool
	ExpiresAt time.Time
	Now       time.Time
}

// Inspect reads a slot and reports whether it carries a live lease.
func (a *Arbiter) Inspect(ctx context.Context, slotID string) (HoldStatus, error) {
	s, err := a.get(ctx, slotID)
	if err != nil {
		return HoldStatus{}, err
	}
	now := a.clock.Now()
	st := HoldStatus{Slot: s, Now: now, Live: s.HoldLive(now)}
	if s.HoldExpiresAt != nil {
		st.ExpiresAt = *s.HoldExpiresAt
	}
	return st, nil
}

func (a *Arbiter) get(ctx context.Context, id string) (model.Slot, error) {
	if id == "" {
		return model.Slot{}, invalid("slot_id", "must not be empty")
	}
	s, err := a.store.Get(ctx, id)
	if errors.Is(err, repository.ErrSlotNotFound) {
		return model.Slot{}, ErrSlotNotFound
	}
	if err != nil {
		return model.Slot{}, storageErr("get slot", err)
	}
	return s, nil
}

// applied returns s as the store holds it after a successful transition.
func applied(s model.Slot, to model.SlotStatus, heldBy string, exp *time.Time, bookingID string, now time.Time) model.Slot {
	s.Status = to
	s.HeldBy = heldBy
	s.HoldExpiresAt = exp
	s.BookingID = bookingID
	s.Version++
	s.UpdatedAt = now
	return s
}
