// Package payment adapts external payment processors to the narrow
// capability the checkout flow needs: charge an amount, refund a charge.
package payment

import (
	"context"
	"errors"
)

var (
	// ErrTransient marks failures worth retrying with the same idempotency
	// key (network errors, processor 5xx, rate limiting).
	ErrTransient = errors.New("payment: transient failure")
	// ErrDeclined marks a definitive refusal of the charge.
	ErrDeclined = errors.New("payment: declined")
	// ErrNoCharge is returned by Lookup when no captured charge exists for
	// the idempotency key.
	ErrNoCharge = errors.New("payment: no charge")
)

// ChargeRequest asks for AmountCents in Currency.  Repeating a request with
// the same IdempotencyKey must not charge twice.
type ChargeRequest struct {
	AmountCents    int64
	Currency       string
	PaymentMethod  string
	IdempotencyKey string
	Metadata       map[string]string
}

// Charge is a captured payment.
type Charge struct {
	Ref         string
	AmountCents int64
	Currency    string
}

// Gateway is the outbound payment collaborator.  Lookup resolves a charge
// whose outcome was lost (timeout, dropped response) without creating one.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Charge, error)
	Refund(ctx context.Context, chargeRef, idempotencyKey string) (refundRef string, err error)
	Lookup(ctx context.Context, idempotencyKey string) (Charge, error)
}
