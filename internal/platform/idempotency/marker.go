package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MarkerState reports what a reconciliation attempt should do with a transaction.
type MarkerState int

const (
	// MarkerStateNew means this attempt owns the transaction and must do the work.
	MarkerStateNew MarkerState = iota
	// MarkerStateReplay means a previous attempt finished; replay its outcome.
	MarkerStateReplay
	// MarkerStateInFlight means another attempt holds the marker right now.
	MarkerStateInFlight
)

// MarkerOutcome is the terminal result recorded for a processed transaction.
type MarkerOutcome struct {
	OrderID     string `json:"orderId,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// ErrMarkerCorrupt indicates a stored marker payload could not be decoded.
var ErrMarkerCorrupt = errors.New("idempotency: marker payload corrupt")

// MarkerKey builds the processed-marker identifier. The pattern
// processed_{paymentId}_{transactionId} is a contract with the storefront and
// must not change.
func MarkerKey(paymentID, correlationID string) string {
	return fmt.Sprintf("processed_%s_%s", strings.TrimSpace(paymentID), strings.TrimSpace(correlationID))
}

// Markers is the reconciliation guard: exactly one attempt per payment id +
// transaction id pair performs provider and order-creation calls; later
// attempts replay the stored outcome.
type Markers struct {
	store Store
	ttl   time.Duration
	clock func() time.Time
}

// MarkersOption customises Markers construction.
type MarkersOption func(*Markers)

// WithMarkerTTL overrides how long processed markers are retained.
func WithMarkerTTL(ttl time.Duration) MarkersOption {
	return func(m *Markers) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithMarkerClock overrides the time source, for tests.
func WithMarkerClock(clock func() time.Time) MarkersOption {
	return func(m *Markers) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewMarkers constructs a Markers guard over the supplied store.
func NewMarkers(store Store, opts ...MarkersOption) (*Markers, error) {
	if store == nil {
		return nil, errors.New("idempotency: marker store is required")
	}
	m := &Markers{
		store: store,
		ttl:   DefaultTTL,
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Begin reserves the marker. MarkerStateNew grants ownership; MarkerStateReplay
// returns the prior outcome without touching any provider.
func (m *Markers) Begin(ctx context.Context, paymentID, correlationID string) (MarkerState, MarkerOutcome, error) {
	key := MarkerKey(paymentID, correlationID)
	reservation, err := m.store.Reserve(ctx, key, correlationID, m.clock().UTC(), m.ttl)
	if err != nil {
		return MarkerStateNew, MarkerOutcome{}, err
	}
	switch reservation.State {
	case ReservationStateCompleted:
		var outcome MarkerOutcome
		if len(reservation.Record.ResponseBody) > 0 {
			if err := json.Unmarshal(reservation.Record.ResponseBody, &outcome); err != nil {
				return MarkerStateReplay, MarkerOutcome{}, fmt.Errorf("%w: %v", ErrMarkerCorrupt, err)
			}
		}
		return MarkerStateReplay, outcome, nil
	case ReservationStatePending:
		return MarkerStateInFlight, MarkerOutcome{}, nil
	default:
		return MarkerStateNew, MarkerOutcome{}, nil
	}
}

// Complete records the terminal outcome so later attempts replay it.
func (m *Markers) Complete(ctx context.Context, paymentID, correlationID string, outcome MarkerOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("idempotency: encode marker outcome: %w", err)
	}
	key := MarkerKey(paymentID, correlationID)
	return m.store.SaveResponse(ctx, key, correlationID, Response{Status: 200, Body: payload}, m.clock().UTC(), m.ttl)
}

// Abort releases the marker so the shopper can retry after a failure.
func (m *Markers) Abort(ctx context.Context, paymentID, correlationID string) error {
	return m.store.Release(ctx, MarkerKey(paymentID, correlationID), correlationID)
}
