package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/slot-reservation/internal/model"
)

// SlotRepo provides data access to the slots table.  Every status change is
// a single conditional UPDATE keyed on (id, version, status); the caller
// learns whether it won from RowsAffected.  All timestamps are UTC.
type SlotRepo struct {
	db *sql.DB
}

// NewSlotRepo returns a new SlotRepo bound to the provided database.
func NewSlotRepo(db *sql.DB) *SlotRepo { return &SlotRepo{db: db} }

const slotColumns = `id, provider_id, service_id, slot_date, start_minute, duration_minutes,
	status, held_by, hold_expires_at, booking_id, version, created_at, updated_at`

// insertChunk bounds the placeholders of one multi-row INSERT.
const insertChunk = 200

// InsertAvailable inserts the given slots as AVAILABLE rows.  Rows whose
// (provider_id, slot_date, start_minute) already exists are left untouched,
// so repeated calls for the same range insert nothing.  It returns the
// number of rows actually inserted.
func (r *SlotRepo) InsertAvailable(ctx context.Context, slots []model.Slot) (int, error) {
	inserted := 0
	for start := 0; start < len(slots); start += insertChunk {
		end := start + insertChunk
		if end > len(slots) {
			end = len(slots)
		}
		batch := slots[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO slots (id, provider_id, service_id, slot_date, start_minute, duration_minutes, status, version) VALUES `)
		args := make([]interface{}, 0, len(batch)*6)
		for i, s := range batch {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, 'AVAILABLE', 0)")
			args = append(args, s.ID, s.ProviderID, nullableString(s.ServiceID),
				s.Date.Format(model.DateLayout), s.StartMinute, s.DurationMinutes)
		}
		// id=id is a no-op update: MySQL reports 0 affected rows for it and
		// 1 for a fresh insert.
		sb.WriteString(` ON DUPLICATE KEY UPDATE id = id`)

		res, err := r.db.ExecContext(ctx, sb.String(), args...)
		if err != nil {
			return inserted, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

// Get returns the slot with the given id or ErrSlotNotFound.
func (r *SlotRepo) Get(ctx context.Context, id string) (model.Slot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, id)
	s, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Slot{}, ErrSlotNotFound
	}
	return s, err
}

// ListFree returns the slots of one provider day that a Hold at q.Now could
// take, ordered by start time.
func (r *SlotRepo) ListFree(ctx context.Context, q SlotQuery) ([]model.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots
		WHERE provider_id = ? AND slot_date = ?
		  AND (status = 'AVAILABLE' OR (status = 'HELD' AND hold_expires_at <= ?))`
	args := []interface{}{q.ProviderID, q.Date.Format(model.DateLayout), q.Now.UTC()}
	if q.ServiceID != nil {
		query += ` AND (service_id = ? OR service_id IS NULL)`
		args = append(args, *q.ServiceID)
	}
	query += ` ORDER BY start_minute`
	return r.query(ctx, query, args...)
}

// ListExpiredHolds returns up to limit HELD slots whose lease ended at or
// before now, oldest expiry first.
func (r *SlotRepo) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Slot, error) {
	return r.query(ctx, `SELECT `+slotColumns+` FROM slots
		WHERE status = 'HELD' AND hold_expires_at <= ?
		ORDER BY hold_expires_at
		LIMIT ?`, now.UTC(), limit)
}

// CompareAndSwap applies t if the row still matches its precondition.  It
// reports false, with a nil error, when another writer got there first or
// the row does not exist.
func (r *SlotRepo) CompareAndSwap(ctx context.Context, t SlotTransition) (bool, error) {
	t = t.normalized()
	var expires interface{}
	if t.HoldExpiresAt != nil {
		expires = t.HoldExpiresAt.UTC()
	}
	res, err := r.db.ExecContext(ctx, `UPDATE slots
		SET status = ?, held_by = ?, hold_expires_at = ?, booking_id = ?, version = version + 1, updated_at = UTC_TIMESTAMP()
		WHERE id = ? AND version = ? AND status = ?`,
		string(t.To), emptyToNull(t.HeldBy), expires, emptyToNull(t.BookingID),
		t.ID, t.FromVersion, string(t.FromStatus))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SlotRepo) query(ctx context.Context, q string, args ...interface{}) ([]model.Slot, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSlot(sc rowScanner) (model.Slot, error) {
	var (
		s         model.Slot
		serviceID sql.NullString
		heldBy    sql.NullString
		expires   sql.NullTime
		bookingID sql.NullString
		status    string
	)
	if err := sc.Scan(&s.ID, &s.ProviderID, &serviceID, &s.Date, &s.StartMinute, &s.DurationMinutes,
		&status, &heldBy, &expires, &bookingID, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return model.Slot{}, err
	}
	s.Status = model.SlotStatus(status)
	s.Date = model.DateOnly(s.Date)
	if serviceID.Valid {
		v := serviceID.String
		s.ServiceID = &v
	}
	s.HeldBy = heldBy.String
	s.BookingID = bookingID.String
	if expires.Valid {
		t := expires.Time.UTC()
		s.HoldExpiresAt = &t
	}
	return s, nil
}

func nullableString(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func emptyToNull(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
