package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateReference is returned when a provider_transaction_id
	// already exists for the provider. Indicates a caller or provider
	// anomaly, not a retryable condition.
	ErrDuplicateReference = errors.New("duplicate provider transaction reference")

	// ErrNotFound is returned when no transaction matches the lookup key.
	ErrNotFound = errors.New("transaction not found")

	// ErrInvalidTransition is returned for any status edge outside
	// pending -> completed/failed and completed -> refunded.
	ErrInvalidTransition = errors.New("invalid status transition")
)

type CreateTransactionParams struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	Amount                decimal.Decimal
	Currency              string
	Provider              Provider
	ProviderTransactionID string
	Metadata              map[string]string
}

// Store is the durable transaction ledger. Rows are never deleted; a failed
// attempt is superseded by a new row linked via metadata.
//
// UpdateStatus is the serialization point for webhook reconciliation: the
// lookup-merge-write must be atomic per row so concurrent deliveries of the
// same event cannot race. It returns transitioned=false when the transaction
// is already in the requested terminal status (webhook replay), and callers
// must only trigger side effects when transitioned is true.
type Store interface {
	Create(ctx context.Context, params CreateTransactionParams) (Transaction, error)
	GetByID(ctx context.Context, id uuid.UUID) (Transaction, error)
	GetByReference(ctx context.Context, provider Provider, reference string) (Transaction, error)
	UpdateStatus(ctx context.Context, provider Provider, reference string, status Status, metadataPatch map[string]string) (Transaction, bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Transaction, error)
	ListStalePending(ctx context.Context, olderThan time.Time) ([]Transaction, error)
}
