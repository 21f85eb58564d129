package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/clock"
	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/service"
)

// ProviderHandler serves provider-scoped slot management.  The provider is
// the authenticated subject.
type ProviderHandler struct {
	Generator   *service.Generator
	Clock       clock.Clock
	HorizonDays int
	Log         *zap.Logger
}

// NewProviderHandler constructs a ProviderHandler and panics if a dependency
// is nil.
func NewProviderHandler(gen *service.Generator, clk clock.Clock, horizonDays int, log *zap.Logger) *ProviderHandler {
	if gen == nil || clk == nil {
		panic("nil dependency passed to NewProviderHandler")
	}
	if horizonDays < 1 {
		horizonDays = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ProviderHandler{Generator: gen, Clock: clk, HorizonDays: horizonDays, Log: log}
}

type windowBody struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

type generateBody struct {
	StartDate string                `json:"start_date"`
	EndDate   string                `json:"end_date"`
	ServiceID string                `json:"service_id"`
	Windows   map[string]windowBody `json:"windows"`
}

type invalidDay struct {
	Date   string `json:"date"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Generate handles POST /v1/provider/slots/generate.  start_date defaults to
// today and end_date to the configured horizon.  Without windows the
// provider's catalog working hours are used.  Malformed day windows are
// skipped and listed under invalid_days.
func (h *ProviderHandler) Generate(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	var body generateBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	start := model.DateOnly(h.Clock.Now())
	if body.StartDate != "" {
		if start, ok = parseDate(body.StartDate); !ok {
			return badRequest(c, "start_date must be YYYY-MM-DD")
		}
	}
	end := start.AddDate(0, 0, h.HorizonDays-1)
	if body.EndDate != "" {
		if end, ok = parseDate(body.EndDate); !ok {
			return badRequest(c, "end_date must be YYYY-MM-DD")
		}
	}

	ctx := c.Request().Context()
	var (
		report service.GenerateReport
		err    error
	)
	if len(body.Windows) == 0 {
		report, err = h.Generator.GenerateFromCatalog(ctx, who, optional(body.ServiceID), start, end)
	} else {
		windows, werr := parseWindows(body.Windows)
		if werr != nil {
			return badRequest(c, werr.Error())
		}
		report, err = h.Generator.GenerateSlots(ctx, service.GenerateRequest{
			ProviderID: who,
			ServiceID:  optional(body.ServiceID),
			Start:      start,
			End:        end,
			Windows:    windows,
		})
	}
	if err != nil {
		return writeError(c, h.Log, err)
	}

	days := make([]invalidDay, 0, len(report.InvalidDays))
	for _, d := range report.InvalidDays {
		days = append(days, invalidDay{Date: d.Date.Format(model.DateLayout), Field: d.Field, Reason: d.Reason})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"candidates":   report.Candidates,
		"inserted":     report.Inserted,
		"existing":     report.Existing,
		"invalid_days": days,
	})
}

// parseWindows converts the wire windows.  Unknown weekday names and times
// that are not HH:MM are rejected; ordering problems are left to the
// generator so they only skip the affected days.
func parseWindows(in map[string]windowBody) (map[time.Weekday]model.DayWindow, error) {
	out := make(map[time.Weekday]model.DayWindow, len(in))
	for name, w := range in {
		day, ok := weekdays[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		open, err := parseClock(w.Open)
		if err != nil {
			return nil, fmt.Errorf("%s open: %w", name, err)
		}
		cl, err := parseClock(w.Close)
		if err != nil {
			return nil, fmt.Errorf("%s close: %w", name, err)
		}
		out[day] = model.DayWindow{Open: open, Close: cl}
	}
	return out, nil
}

// parseClock parses HH:MM into minutes after midnight.  24:00 is accepted
// as the end of the day.
func parseClock(v string) (int, error) {
	hh, mm, ok := strings.Cut(v, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("time %q must be HH:MM", v)
	}
	hour, err1 := strconv.Atoi(hh)
	minute, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || hour < 0 || minute < 0 || minute > 59 || hour > 24 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("time %q must be HH:MM", v)
	}
	return hour*60 + minute, nil
}
