package audit

import (
	"context"
	"time"
)

// Filter narrows a Search over the audit log. Nil/zero fields are ignored.
type Filter struct {
	UserID         string
	ClinicID       string
	Start          *time.Time
	End            *time.Time
	MinThreatLevel int  // only rows with ThreatLevel >= this
	DeniedOnly     bool // only rows where access was denied
	Limit          int  // 0 means no limit
}

// Store is the append-only persistence interface for audit records. The
// window queries back the evaluator's burst and sequence checks; Search
// backs the reporting views. Implementations must order RecentByUser and
// Search results newest first.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	CountSince(ctx context.Context, userID, clinicID string, since time.Time) (int, error)
	RecentByUser(ctx context.Context, userID string, limit int) ([]*Record, error)
	Search(ctx context.Context, f Filter) ([]*Record, error)
}
