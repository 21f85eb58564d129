package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"go.uber.org/zap"
)

// metaIdempotencyKey tags every PaymentIntent with the key it was created
// under so Lookup can find it.
const metaIdempotencyKey = "idempotency_key"

// StripeGateway charges through confirmed PaymentIntents.
type StripeGateway struct {
	log *zap.Logger
}

// NewStripeGateway sets the process-wide Stripe key and returns a gateway.
func NewStripeGateway(secretKey string, log *zap.Logger) *StripeGateway {
	stripe.Key = secretKey
	if log == nil {
		log = zap.NewNop()
	}
	return &StripeGateway{log: log}
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		PaymentMethod: stripe.String(req.PaymentMethod),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
		params.AddMetadata(metaIdempotencyKey, req.IdempotencyKey)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return Charge{}, classifyStripeError(err)
	}
	return g.settled(pi)
}

// Lookup searches PaymentIntents by the idempotency key recorded in their
// metadata.  Stripe's search index lags writes by up to a minute, so a
// charge created moments ago may not be found yet.
func (g *StripeGateway) Lookup(ctx context.Context, idempotencyKey string) (Charge, error) {
	params := &stripe.PaymentIntentSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", metaIdempotencyKey, idempotencyKey)
	iter := paymentintent.Search(params)
	for iter.Next() {
		c, err := g.settled(iter.PaymentIntent())
		if errors.Is(err, ErrDeclined) {
			continue
		}
		return c, err
	}
	if err := iter.Err(); err != nil {
		return Charge{}, classifyStripeError(err)
	}
	return Charge{}, ErrNoCharge
}

// settled maps an intent onto a captured charge.  A processing intent may
// still capture, so it is reported as transient rather than declined.
func (g *StripeGateway) settled(pi *stripe.PaymentIntent) (Charge, error) {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return Charge{Ref: pi.ID, AmountCents: pi.Amount, Currency: string(pi.Currency)}, nil
	case stripe.PaymentIntentStatusProcessing:
		g.log.Warn("payment intent still processing", zap.String("intent", pi.ID))
		return Charge{}, fmt.Errorf("%w: intent %s is processing", ErrTransient, pi.ID)
	}
	g.log.Warn("payment intent not settled", zap.String("intent", pi.ID), zap.String("status", string(pi.Status)))
	return Charge{}, fmt.Errorf("%w: intent %s is %s", ErrDeclined, pi.ID, pi.Status)
}

func (g *StripeGateway) Refund(ctx context.Context, chargeRef, idempotencyKey string) (string, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(chargeRef)}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	r, err := refund.New(params)
	if err != nil {
		return "", classifyStripeError(err)
	}
	return r.ID, nil
}

// classifyStripeError maps Stripe failures onto ErrDeclined/ErrTransient,
// keeping the original error in the chain.
func classifyStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	switch {
	case se.Type == stripe.ErrorTypeCard:
		return fmt.Errorf("%w: %w", ErrDeclined, err)
	case se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode >= http.StatusInternalServerError,
		se.Type == stripe.ErrorTypeAPI:
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}
