package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Payment methods understood by the sandbox.  Any other method succeeds.
const (
	SandboxDeclined  = "pm_card_declined"
	SandboxTransient = "pm_card_transient"
)

// Sandbox simulates a processor in-process.  Charges are remembered by
// idempotency key so retries return the original charge.  A method of
// SandboxTransient fails transiently on the first attempt for a key and
// succeeds afterwards.
type Sandbox struct {
	mu       sync.Mutex
	charges  map[string]Charge
	attempts map[string]int
	refunds  map[string]string

	FailRefunds bool
	// LoseResponses captures charges but answers every Charge call with a
	// transient error, as when the processor's reply never arrives.
	LoseResponses bool
}

// NewSandbox returns an empty simulated processor.
func NewSandbox() *Sandbox {
	return &Sandbox{
		charges:  make(map[string]Charge),
		attempts: make(map[string]int),
		refunds:  make(map[string]string),
	}
}

func (s *Sandbox) Charge(_ context.Context, req ChargeRequest) (Charge, error) {
	if req.AmountCents < 0 {
		return Charge{}, fmt.Errorf("%w: negative amount", ErrDeclined)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.charges[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return s.reply(c)
	}
	s.attempts[req.IdempotencyKey]++
	switch strings.ToLower(req.PaymentMethod) {
	case SandboxDeclined:
		return Charge{}, fmt.Errorf("%w: card declined", ErrDeclined)
	case SandboxTransient:
		if s.attempts[req.IdempotencyKey] == 1 {
			return Charge{}, fmt.Errorf("%w: simulated timeout", ErrTransient)
		}
	}
	c := Charge{Ref: "ch_" + uuid.NewString(), AmountCents: req.AmountCents, Currency: req.Currency}
	if req.IdempotencyKey != "" {
		s.charges[req.IdempotencyKey] = c
	}
	return s.reply(c)
}

func (s *Sandbox) reply(c Charge) (Charge, error) {
	if s.LoseResponses {
		return Charge{}, fmt.Errorf("%w: response lost", ErrTransient)
	}
	return c, nil
}

func (s *Sandbox) Lookup(_ context.Context, idempotencyKey string) (Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.charges[idempotencyKey]; ok && idempotencyKey != "" {
		return c, nil
	}
	return Charge{}, ErrNoCharge
}

func (s *Sandbox) Refund(_ context.Context, chargeRef, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRefunds {
		return "", fmt.Errorf("%w: refunds disabled", ErrTransient)
	}
	if ref, ok := s.refunds[chargeRef]; ok {
		return ref, nil
	}
	ref := "re_" + uuid.NewString()
	s.refunds[chargeRef] = ref
	return ref, nil
}

// Refunded reports whether chargeRef was refunded.
func (s *Sandbox) Refunded(chargeRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.refunds[chargeRef]
	return ok
}
