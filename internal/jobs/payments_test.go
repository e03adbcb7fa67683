package jobs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnsphere/payments-api/internal/ledger"
)

func TestExpireStalePendingTransactions(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctx := context.Background()

	stale, err := store.Create(ctx, ledger.CreateTransactionParams{
		UserID:                uuid.New(),
		Amount:                decimal.NewFromFloat(50.00),
		Currency:              "NGN",
		Provider:              ledger.ProviderPaystack,
		ProviderTransactionID: "LSP_stale",
		Metadata:              map[string]string{"course_id": "crs-1"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// The memory store stamps CreatedAt at insert time; a freshly created
	// row is inside the grace window, so the first sweep must not touch it.
	if err := ExpireStalePendingTransactions(store); err != nil {
		t.Fatalf("ExpireStalePendingTransactions() error = %v", err)
	}

	tx, err := store.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if tx.Status != ledger.StatusPending {
		t.Errorf("Expected fresh transaction to stay pending, got %s", tx.Status)
	}
}

func TestExpireStalePendingSkipsTerminal(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, ledger.CreateTransactionParams{
		UserID:                uuid.New(),
		Amount:                decimal.NewFromFloat(149.99),
		Currency:              "USD",
		Provider:              ledger.ProviderStripe,
		ProviderTransactionID: "cs_done",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, _, err := store.UpdateStatus(ctx, ledger.ProviderStripe, "cs_done", ledger.StatusCompleted, nil); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	if err := ExpireStalePendingTransactions(store); err != nil {
		t.Fatalf("ExpireStalePendingTransactions() error = %v", err)
	}

	tx, err := store.GetByReference(ctx, ledger.ProviderStripe, "cs_done")
	if err != nil {
		t.Fatalf("GetByReference() error = %v", err)
	}
	if tx.Status != ledger.StatusCompleted {
		t.Errorf("Expected completed transaction untouched by sweep, got %s", tx.Status)
	}
}
