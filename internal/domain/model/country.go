package model

import "time"

// Country describes a destination with available eSIM packages.
// Rows are never deleted, only flagged unavailable, because historical
// orders keep referencing their packages.
type Country struct {
	ID        int64
	Code      string
	Name      string
	FlagEmoji string
	Available bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
