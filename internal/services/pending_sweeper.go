package services

import (
	"context"
	"errors"
	"time"

	"github.com/meridian-goods/api/internal/repositories"
)

const defaultSweepBatchSize = 200

// PendingSweeperDeps wires the dependencies required by the pending-checkout sweeper.
type PendingSweeperDeps struct {
	Pending repositories.PendingCheckoutRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type pendingSweeper struct {
	pending repositories.PendingCheckoutRepository
	now     func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewPendingSweeper constructs a PendingSweeper validating required dependencies.
func NewPendingSweeper(deps PendingSweeperDeps) (PendingSweeper, error) {
	if deps.Pending == nil {
		return nil, errors.New("pending sweeper: pending checkout repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &pendingSweeper{
		pending: deps.Pending,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// SweepExpired deletes pending-checkout records whose TTL has elapsed.
// Abandoned checkouts never complete, so the sweep is their only cleanup path.
func (s *pendingSweeper) SweepExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepBatchSize
	}
	removed, err := s.pending.DeleteExpired(ctx, s.now(), limit)
	if err != nil {
		s.logger(ctx, "checkout.pending.sweep_failed", map[string]any{"error": err.Error()})
		return 0, err
	}
	if removed > 0 {
		s.logger(ctx, "checkout.pending.swept", map[string]any{"removed": removed})
	}
	return removed, nil
}
