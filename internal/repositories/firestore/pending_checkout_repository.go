package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/meridian-goods/api/internal/domain"
	pfirestore "github.com/meridian-goods/api/internal/platform/firestore"
	"github.com/meridian-goods/api/internal/repositories"
)

const (
	pendingCheckoutCollection = "pending_checkouts"
)

// PendingCheckoutRepository persists checkout session records within Firestore,
// keyed by transaction id.
type PendingCheckoutRepository struct {
	base     *pfirestore.BaseRepository[pendingCheckoutDocument]
	provider *pfirestore.Provider
}

// NewPendingCheckoutRepository constructs a Firestore-backed pending checkout repository.
func NewPendingCheckoutRepository(provider *pfirestore.Provider) (*PendingCheckoutRepository, error) {
	if provider == nil {
		return nil, errors.New("pending checkout repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[pendingCheckoutDocument](provider, pendingCheckoutCollection, nil, nil)
	return &PendingCheckoutRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Put upserts the record under its transaction id.
func (r *PendingCheckoutRepository) Put(ctx context.Context, pending domain.PendingCheckout) error {
	if r == nil || r.base == nil {
		return errors.New("pending checkout repository not initialised")
	}
	id := strings.TrimSpace(pending.TransactionID)
	if id == "" {
		return errors.New("pending checkout repository: transaction id is required")
	}

	_, err := r.base.Set(ctx, id, toPendingDocument(pending))
	return err
}

// UpdateStatus transitions the lifecycle status, recording the payment id when provided.
func (r *PendingCheckoutRepository) UpdateStatus(ctx context.Context, transactionID string, status domain.PendingCheckoutStatus, paymentID string, now time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("pending checkout repository not initialised")
	}
	id := strings.TrimSpace(transactionID)
	if id == "" {
		return errors.New("pending checkout repository: transaction id is required")
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if paymentID = strings.TrimSpace(paymentID); paymentID != "" {
		updates = append(updates, firestore.Update{Path: "paymentId", Value: paymentID})
	}

	_, err := r.base.Update(ctx, id, updates)
	return err
}

// Get loads the record for the given transaction id.
func (r *PendingCheckoutRepository) Get(ctx context.Context, transactionID string) (domain.PendingCheckout, error) {
	if r == nil || r.base == nil {
		return domain.PendingCheckout{}, errors.New("pending checkout repository not initialised")
	}
	id := strings.TrimSpace(transactionID)
	if id == "" {
		return domain.PendingCheckout{}, errors.New("pending checkout repository: transaction id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.PendingCheckout{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Delete removes the record.
func (r *PendingCheckoutRepository) Delete(ctx context.Context, transactionID string) error {
	if r == nil || r.base == nil {
		return errors.New("pending checkout repository not initialised")
	}
	id := strings.TrimSpace(transactionID)
	if id == "" {
		return errors.New("pending checkout repository: transaction id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError(pendingCheckoutCollection+".delete", err)
	}
	return nil
}

// DeleteExpired removes up to limit records whose expiry has passed.
func (r *PendingCheckoutRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("pending checkout repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("expiresAt", "<=", now.UTC()).Limit(limit)
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, doc := range docs {
		ref, err := r.base.DocumentRef(ctx, doc.ID)
		if err != nil {
			return removed, err
		}
		if _, err := ref.Delete(ctx); err != nil {
			return removed, pfirestore.WrapError(pendingCheckoutCollection+".delete", err)
		}
		removed++
	}
	return removed, nil
}

type pendingCheckoutDocument struct {
	TransactionID    string              `firestore:"transactionId"`
	UniqueMutationID string              `firestore:"uniqueMutationId,omitempty"`
	Customer         domain.CustomerInfo `firestore:"customerInfo"`
	Method           string              `firestore:"paymentMethodType"`
	Provider         string              `firestore:"provider"`
	PaymentID        string              `firestore:"paymentId,omitempty"`
	WooSession       string              `firestore:"wooSession,omitempty"`
	Status           string              `firestore:"status"`
	AmountMinor      int64               `firestore:"amountMinor"`
	Currency         string              `firestore:"currency"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        time.Time           `firestore:"updatedAt"`
	ExpiresAt        time.Time           `firestore:"expiresAt"`
}

func toPendingDocument(pending domain.PendingCheckout) pendingCheckoutDocument {
	return pendingCheckoutDocument{
		TransactionID:    strings.TrimSpace(pending.TransactionID),
		UniqueMutationID: strings.TrimSpace(pending.UniqueMutationID),
		Customer:         pending.Customer,
		Method:           string(pending.Method),
		Provider:         string(pending.Provider),
		PaymentID:        strings.TrimSpace(pending.PaymentID),
		WooSession:       pending.WooSession,
		Status:           string(pending.Status),
		AmountMinor:      pending.AmountMinor,
		Currency:         strings.ToUpper(strings.TrimSpace(pending.Currency)),
		CreatedAt:        pending.CreatedAt.UTC(),
		UpdatedAt:        pending.UpdatedAt.UTC(),
		ExpiresAt:        pending.ExpiresAt.UTC(),
	}
}

func (d pendingCheckoutDocument) toDomain(id string) domain.PendingCheckout {
	transactionID := d.TransactionID
	if transactionID == "" {
		transactionID = id
	}
	return domain.PendingCheckout{
		TransactionID:    transactionID,
		UniqueMutationID: d.UniqueMutationID,
		Customer:         d.Customer,
		Method:           domain.PaymentMethodType(d.Method),
		Provider:         domain.PaymentProvider(d.Provider),
		PaymentID:        d.PaymentID,
		WooSession:       d.WooSession,
		Status:           domain.PendingCheckoutStatus(d.Status),
		AmountMinor:      d.AmountMinor,
		Currency:         d.Currency,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		ExpiresAt:        d.ExpiresAt,
	}
}

var _ repositories.PendingCheckoutRepository = (*PendingCheckoutRepository)(nil)
