package repository

import (
	"time"

	"github.com/iliyamo/slot-reservation/internal/model"
)

// SlotTransition is a conditional update of one slot.  It applies only when
// the stored row still has FromVersion and FromStatus; the new row gets
// version FromVersion+1.  Owner fields not meaningful for To are cleared.
type SlotTransition struct {
	ID            string
	FromVersion   int64
	FromStatus    model.SlotStatus
	To            model.SlotStatus
	HeldBy        string
	HoldExpiresAt *time.Time
	BookingID     string
}

// normalized clears the owner fields that To does not carry, keeping the
// status/owner invariant regardless of what the caller filled in.
func (t SlotTransition) normalized() SlotTransition {
	switch t.To {
	case model.SlotAvailable:
		t.HeldBy, t.HoldExpiresAt, t.BookingID = "", nil, ""
	case model.SlotHeld:
		t.BookingID = ""
	case model.SlotBooked:
		t.HeldBy, t.HoldExpiresAt = "", nil
	}
	return t
}

// SlotQuery selects the free slots of one provider day.  A nil ServiceID
// matches every slot; otherwise slots of that service and slots with no
// service are returned.
type SlotQuery struct {
	ProviderID string
	ServiceID  *string
	Date       time.Time
	Now        time.Time
}

func (q SlotQuery) matches(s model.Slot) bool {
	if s.ProviderID != q.ProviderID || !s.Date.Equal(model.DateOnly(q.Date)) {
		return false
	}
	if q.ServiceID != nil && s.ServiceID != nil && *s.ServiceID != *q.ServiceID {
		return false
	}
	return s.FreeAt(q.Now)
}
