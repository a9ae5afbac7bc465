package repositories

import (
	"context"
	"time"

	domain "github.com/meridian-goods/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// PendingCheckoutRepository persists the authoritative checkout session records
// keyed by transaction id.
type PendingCheckoutRepository interface {
	// Put upserts the record under its transaction id.
	Put(ctx context.Context, pending domain.PendingCheckout) error
	// UpdateStatus transitions the record's lifecycle status, optionally
	// recording the provider payment id once known.
	UpdateStatus(ctx context.Context, transactionID string, status domain.PendingCheckoutStatus, paymentID string, now time.Time) error
	// Get loads the record for the given transaction id.
	Get(ctx context.Context, transactionID string) (domain.PendingCheckout, error)
	// Delete removes the record after the order exists.
	Delete(ctx context.Context, transactionID string) error
	// DeleteExpired removes up to limit records whose expiry has passed,
	// returning how many were deleted.
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
