// Package repository holds the persistence adapters of the reservation
// engine: the Slot Store (MySQL and in-memory), the read-only provider
// catalog and checkout session storage.  Sentinel values below let the
// service layer distinguish "absent" from infrastructure failures.
package repository

import "errors"

// ErrSlotNotFound is returned when no slot row has the requested id.
var ErrSlotNotFound = errors.New("slot not found")

// ErrCheckoutNotFound is returned when a checkout session is unknown or its
// stored record has expired.
var ErrCheckoutNotFound = errors.New("checkout not found")

// ErrCatalogNotFound is returned when a provider has no declared working
// hours or the requested service has no price.
var ErrCatalogNotFound = errors.New("catalog entry not found")
