package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/clock"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/repository"
)

// Catalog is the read-only provider configuration collaborator.
type Catalog interface {
	WorkingHours(ctx context.Context, providerID string) (model.WorkingHours, error)
	ServicePrice(ctx context.Context, providerID, serviceID string) (model.ServicePrice, error)
}

const (
	defaultGranularity = 30 * time.Minute
	maxGenerationDays  = 366
)

// Generator turns weekly windows into Available slot rows.  It only ever
// inserts; existing rows are never touched, so a range can be generated any
// number of times.
type Generator struct {
	store       SlotStore
	catalog     Catalog
	clock       clock.Clock
	granularity time.Duration
	log         *zap.Logger
	newID       func() string
}

// GeneratorOption customizes a Generator.
type GeneratorOption func(*Generator)

// WithGranularity sets the spacing between generated slot starts.
func WithGranularity(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		if d >= time.Minute {
			g.granularity = d
		}
	}
}

// WithCatalog sets the collaborator used by GenerateFromCatalog.
func WithCatalog(c Catalog) GeneratorOption {
	return func(g *Generator) { g.catalog = c }
}

// WithGeneratorLogger sets the logger.
func WithGeneratorLogger(l *zap.Logger) GeneratorOption {
	return func(g *Generator) {
		if l != nil {
			g.log = l
		}
	}
}

func NewGenerator(store SlotStore, clk clock.Clock, opts ...GeneratorOption) *Generator {
	g := &Generator{
		store:       store,
		clock:       clk,
		granularity: defaultGranularity,
		log:         zap.NewNop(),
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateRequest describes one generation run.  Start and End are calendar
// dates, both inclusive.  Windows maps a weekday to its open range; a
// weekday without an entry produces no slots.  Location is the zone the
// windows and dates are expressed in (UTC when nil).
type GenerateRequest struct {
	ProviderID string
	ServiceID  *string
	Start      time.Time
	End        time.Time
	Windows    map[time.Weekday]model.DayWindow
	Location   *time.Location
}

// GenerateReport summarizes a run.  Candidates counts slot times derived
// from the windows; Existing counts those already present in the store.
// InvalidDays lists the days skipped because their window was malformed.
type GenerateReport struct {
	Candidates  int                `json:"candidates"`
	Inserted    int                `json:"inserted"`
	Existing    int                `json:"existing"`
	InvalidDays []*ValidationError `json:"-"`
}

// GenerateSlots inserts the Available slots described by req.  Dates before
// today, and today's start times already passed, are skipped.  A malformed
// day window only skips that day; it is reported in the result and the
// run continues.  A non-nil error means nothing reliable can be said about
// what was written beyond report.Inserted.
func (g *Generator) GenerateSlots(ctx context.Context, req GenerateRequest) (GenerateReport, error) {
	var report GenerateReport
	if req.ProviderID == "" {
		return report, invalid("provider_id", "must not be empty")
	}
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	start, end := model.DateOnly(req.Start), model.DateOnly(req.End)
	if end.Before(start) {
		return report, invalid("end_date", "must not be before start_date")
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > maxGenerationDays {
		return report, invalid("end_date", "range exceeds one year")
	}

	now := g.clock.Now().In(loc)
	today := model.DateOnly(now)
	nowMinute := now.Hour()*60 + now.Minute()
	step := int(g.granularity / time.Minute)

	var slots []model.Slot
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if day.Before(today) {
			continue
		}
		w, ok := req.Windows[day.Weekday()]
		if !ok {
			continue
		}
		if !w.Valid() {
			report.InvalidDays = append(report.InvalidDays, &ValidationError{
				Field:  "window",
				Reason: "close " + model.ClockTime(w.Close) + " must be after open " + model.ClockTime(w.Open) + " within one day",
				Date:   day,
			})
			continue
		}
		for m := w.Open; m+step <= w.Close; m += step {
			if day.Equal(today) && m <= nowMinute {
				continue
			}
			slots = append(slots, model.Slot{
				ID:              g.newID(),
				ProviderID:      req.ProviderID,
				ServiceID:       req.ServiceID,
				Date:            day,
				StartMinute:     m,
				DurationMinutes: step,
				Status:          model.SlotAvailable,
			})
		}
	}

	report.Candidates = len(slots)
	if len(slots) > 0 {
		n, err := g.store.InsertAvailable(ctx, slots)
		report.Inserted = n
		if err != nil {
			return report, storageErr("insert slots", err)
		}
	}
	report.Existing = report.Candidates - report.Inserted
	if len(report.InvalidDays) > 0 {
		g.log.Warn("generation skipped malformed days",
			zap.String("provider_id", req.ProviderID), zap.Int("days", len(report.InvalidDays)))
	}
	g.log.Info("slots generated",
		zap.String("provider_id", req.ProviderID),
		zap.String("from", start.Format(model.DateLayout)),
		zap.String("to", end.Format(model.DateLayout)),
		zap.Int("inserted", report.Inserted),
		zap.Int("existing", report.Existing))
	return report, nil
}

// GenerateFromCatalog reads the provider's declared working hours and
// generates slots for [from, to].
func (g *Generator) GenerateFromCatalog(ctx context.Context, providerID string, serviceID *string, from, to time.Time) (GenerateReport, error) {
	if g.catalog == nil {
		return GenerateReport{}, errors.New("generator: no catalog configured")
	}
	wh, err := g.catalog.WorkingHours(ctx, providerID)
	if errors.Is(err, repository.ErrCatalogNotFound) {
		return GenerateReport{}, ErrCatalogNotFound
	}
	if err != nil {
		return GenerateReport{}, storageErr("working hours", err)
	}
	return g.GenerateSlots(ctx, GenerateRequest{
		ProviderID: providerID,
		ServiceID:  serviceID,
		Start:      from,
		End:        to,
		Windows:    wh.Windows,
		Location:   wh.Location,
	})
}
