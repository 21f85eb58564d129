package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/model"
)

// EventSink receives slot events after the transition is committed.
// Delivery is best effort: a sink must not block for long and its failures
// never change the outcome of the transition that produced the event.
type EventSink interface {
	Publish(ctx context.Context, ev model.SlotEvent)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev model.SlotEvent)

func (f SinkFunc) Publish(ctx context.Context, ev model.SlotEvent) { f(ctx, ev) }

// MultiSink fans an event out to every non-nil sink in order.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, ev model.SlotEvent) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}

// LogSink writes each event at debug level, refund.required at error.
type LogSink struct {
	Log *zap.Logger
}

func (l LogSink) Publish(_ context.Context, ev model.SlotEvent) {
	fields := []zap.Field{
		zap.String("type", ev.Type),
		zap.String("slot_id", ev.SlotID),
		zap.String("provider_id", ev.ProviderID),
		zap.String("date", ev.Date),
		zap.Int("start_minute", ev.StartMinute),
	}
	if ev.Requester != "" {
		fields = append(fields, zap.String("requester", ev.Requester))
	}
	if ev.BookingID != "" {
		fields = append(fields, zap.String("booking_id", ev.BookingID))
	}
	switch ev.Type {
	case model.EventRefundRequired:
		l.Log.Error("slot event", append(fields, zap.String("charge_ref", ev.ChargeRef))...)
		return
	case model.EventPaymentUnknown:
		l.Log.Warn("slot event", fields...)
		return
	}
	l.Log.Debug("slot event", fields...)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, model.SlotEvent) {}
