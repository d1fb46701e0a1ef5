package store

import "time"

const (
	// DefaultLimit matches the viewer's default page size.
	DefaultLimit = 100
	// MaxLimit bounds a single query.
	MaxLimit = 500
)

// Order is the chronological ordering of a listing.
type Order string

const (
	// OrderDesc returns records newest first (the default).
	OrderDesc Order = "desc"
	// OrderAsc returns records oldest first.
	OrderAsc Order = "asc"
)

// Filters narrow a record listing. Zero value = everything, newest first,
// DefaultLimit rows.
type Filters struct {
	Kinds   []string
	Authors []string // case-insensitive substring match
	Since   *time.Time
	Limit   int
	Order   Order
}
