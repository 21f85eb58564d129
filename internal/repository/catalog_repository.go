package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/iliyamo/slot-reservation/internal/model"
)

// CatalogRepo reads provider working hours and service prices.  The tables
// are owned by the provider-config service; this repository never writes.
type CatalogRepo struct {
	db *sql.DB
}

// NewCatalogRepo returns a new CatalogRepo bound to the provided database.
func NewCatalogRepo(db *sql.DB) *CatalogRepo { return &CatalogRepo{db: db} }

// WorkingHours returns the weekly windows of a provider.  Weekday follows
// time.Weekday numbering (0 = Sunday).  Rows carrying an unknown timezone
// fall back to UTC.
func (r *CatalogRepo) WorkingHours(ctx context.Context, providerID string) (model.WorkingHours, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT weekday, open_minute, close_minute, timezone FROM provider_hours WHERE provider_id = ?`,
		providerID)
	if err != nil {
		return model.WorkingHours{}, err
	}
	defer rows.Close()

	wh := model.WorkingHours{ProviderID: providerID, Windows: map[time.Weekday]model.DayWindow{}}
	for rows.Next() {
		var (
			day         int
			open, close int
			tz          string
		)
		if err := rows.Scan(&day, &open, &close, &tz); err != nil {
			return model.WorkingHours{}, err
		}
		wh.Windows[time.Weekday(day)] = model.DayWindow{Open: open, Close: close}
		if wh.Location == nil {
			if loc, err := time.LoadLocation(tz); err == nil {
				wh.Location = loc
			}
		}
	}
	if err := rows.Err(); err != nil {
		return model.WorkingHours{}, err
	}
	if len(wh.Windows) == 0 {
		return model.WorkingHours{}, ErrCatalogNotFound
	}
	return wh, nil
}

// ServicePrice returns the price of serviceID at providerID.
func (r *CatalogRepo) ServicePrice(ctx context.Context, providerID, serviceID string) (model.ServicePrice, error) {
	p := model.ServicePrice{ProviderID: providerID, ServiceID: serviceID}
	err := r.db.QueryRowContext(ctx,
		`SELECT price_cents, currency FROM provider_services WHERE provider_id = ? AND service_id = ?`,
		providerID, serviceID).Scan(&p.PriceCents, &p.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ServicePrice{}, ErrCatalogNotFound
	}
	return p, err
}

// MemoryCatalog is a static catalog for STORE_DRIVER=memory and tests.
type MemoryCatalog struct {
	mu     sync.RWMutex
	hours  map[string]model.WorkingHours
	prices map[string]model.ServicePrice
}

// NewMemoryCatalog returns an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		hours:  make(map[string]model.WorkingHours),
		prices: make(map[string]model.ServicePrice),
	}
}

// SetHours replaces the working hours of wh.ProviderID.
func (c *MemoryCatalog) SetHours(wh model.WorkingHours) {
	c.mu.Lock()
	c.hours[wh.ProviderID] = wh
	c.mu.Unlock()
}

// SetPrice replaces the price of one service.
func (c *MemoryCatalog) SetPrice(p model.ServicePrice) {
	c.mu.Lock()
	c.prices[p.ProviderID+"/"+p.ServiceID] = p
	c.mu.Unlock()
}

func (c *MemoryCatalog) WorkingHours(_ context.Context, providerID string) (model.WorkingHours, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	wh, ok := c.hours[providerID]
	if !ok {
		return model.WorkingHours{}, ErrCatalogNotFound
	}
	return wh, nil
}

func (c *MemoryCatalog) ServicePrice(_ context.Context, providerID, serviceID string) (model.ServicePrice, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[providerID+"/"+serviceID]
	if !ok {
		return model.ServicePrice{}, ErrCatalogNotFound
	}
	return p, nil
}
