// Package store provides SQLite-based scan history for keywedge.
package store

import (
	"errors"
	"time"

	"keywedge/internal/scanner"
)

// ErrNotFound is returned when no scan has the requested ID.
var ErrNotFound = errors.New("store: scan not found")

// Query filters List. Zero values do not filter.
type Query struct {
	Since    time.Time
	Until    time.Time
	Strategy *scanner.Strategy
	// Structured restricts the result to scans with GS1 fields.
	Structured bool
	// Limit caps the number of rows. Zero means DefaultLimit.
	Limit int
}

// DefaultLimit bounds List and Find when no limit is given.
const DefaultLimit = 100

// Stats summarises the stored history.
type Stats struct {
	Total      int64                      `json:"total"`
	Structured int64                      `json:"structured"`
	ByStrategy map[scanner.Strategy]int64 `json:"by_strategy"`
	Oldest     *time.Time                 `json:"oldest,omitempty"`
	Newest     *time.Time                 `json:"newest,omitempty"`
}
