// Package queue moves slot events over RabbitMQ: a publisher fed by the
// reservation engine and a consumer that keeps an append-only audit log.
package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/slot-reservation/internal/model"
)

// SlotEventsQueue is the durable queue carrying model.SlotEvent JSON bodies.
const SlotEventsQueue = "slot.events"

// AuditLine renders one event as a single human-friendly log line.
func AuditLine(ev model.SlotEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | slot_id=%s", ev.At.UTC().Format(time.RFC3339), ev.Type, ev.SlotID)
	if ev.ProviderID != "" {
		fmt.Fprintf(&b, " | provider_id=%s | date=%s | start=%s", ev.ProviderID, ev.Date, model.ClockTime(ev.StartMinute))
	}
	if ev.Requester != "" {
		fmt.Fprintf(&b, " | requester=%s", ev.Requester)
	}
	if ev.BookingID != "" {
		fmt.Fprintf(&b, " | booking_id=%s", ev.BookingID)
	}
	if ev.ChargeRef != "" {
		fmt.Fprintf(&b, " | charge_ref=%s", ev.ChargeRef)
	}
	if ev.ExpiresAt != nil {
		fmt.Fprintf(&b, " | expires_at=%s", ev.ExpiresAt.UTC().Format(time.RFC3339))
	}
	b.WriteByte('\n')
	return b.String()
}
