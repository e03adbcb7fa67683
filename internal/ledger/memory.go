package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used in tests and local development.
// A single mutex provides the same atomicity for UpdateStatus that the
// Postgres store gets from its row lock.
type MemoryStore struct {
	mu          sync.Mutex
	byID        map[uuid.UUID]Transaction
	byReference map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:        make(map[uuid.UUID]Transaction),
		byReference: make(map[string]uuid.UUID),
	}
}

func referenceKey(provider Provider, reference string) string {
	return string(provider) + ":" + reference
}

func (m *MemoryStore) Create(ctx context.Context, params CreateTransactionParams) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := referenceKey(params.Provider, params.ProviderTransactionID)
	if _, exists := m.byReference[key]; exists {
		return Transaction{}, ErrDuplicateReference
	}

	id := params.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	now := time.Now().UTC()
	tx := Transaction{
		ID:                    id,
		UserID:                params.UserID,
		Amount:                params.Amount,
		Currency:              params.Currency,
		Provider:              params.Provider,
		ProviderTransactionID: params.ProviderTransactionID,
		Status:                StatusPending,
		Metadata:              MergeMetadata(params.Metadata, nil),
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	m.byID[tx.ID] = tx
	m.byReference[key] = tx.ID
	return copyTransaction(tx), nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.byID[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return copyTransaction(tx), nil
}

func (m *MemoryStore) GetByReference(ctx context.Context, provider Provider, reference string) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byReference[referenceKey(provider, reference)]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return copyTransaction(m.byID[id]), nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, provider Provider, reference string, status Status, metadataPatch map[string]string) (Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byReference[referenceKey(provider, reference)]
	if !ok {
		return Transaction{}, false, ErrNotFound
	}
	tx := m.byID[id]

	// Replay of the same terminal status is a no-op.
	if tx.Status == status {
		return copyTransaction(tx), false, nil
	}
	if !CanTransition(tx.Status, status) {
		return Transaction{}, false, ErrInvalidTransition
	}

	tx.Status = status
	tx.Metadata = MergeMetadata(tx.Metadata, metadataPatch)
	tx.UpdatedAt = time.Now().UTC()
	m.byID[id] = tx

	return copyTransaction(tx), true, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var txs []Transaction
	for _, tx := range m.byID {
		if tx.UserID == userID {
			txs = append(txs, copyTransaction(tx))
		}
	}
	return txs, nil
}

func (m *MemoryStore) ListStalePending(ctx context.Context, olderThan time.Time) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var txs []Transaction
	for _, tx := range m.byID {
		if tx.Status == StatusPending && tx.CreatedAt.Before(olderThan) {
			txs = append(txs, copyTransaction(tx))
		}
	}
	return txs, nil
}

func copyTransaction(tx Transaction) Transaction {
	out := tx
	out.Metadata = make(map[string]string, len(tx.Metadata))
	for k, v := range tx.Metadata {
		out.Metadata[k] = v
	}
	return out
}
