package model

import "time"

// DayWindow is the open interval of one weekday, in minutes after midnight.
// Close is exclusive.
type DayWindow struct {
	Open  int
	Close int
}

// Valid reports whether the window describes a non-empty range inside a day.
func (w DayWindow) Valid() bool {
	return w.Open >= 0 && w.Close <= 24*60 && w.Close > w.Open
}

// WorkingHours are a provider's declared weekly windows.  A weekday missing
// from Windows has no slots.  Location is the zone the windows are expressed
// in; nil means UTC.
type WorkingHours struct {
	ProviderID string
	Windows    map[time.Weekday]DayWindow
	Location   *time.Location
}

// ServicePrice is the catalog price of a provider's service in minor units.
type ServicePrice struct {
	ProviderID string
	ServiceID  string
	PriceCents int64
	Currency   string
}
