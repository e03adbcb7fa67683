package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTestTransaction(t *testing.T, store Store, provider Provider, reference string) Transaction {
	t.Helper()
	tx, err := store.Create(context.Background(), CreateTransactionParams{
		UserID:                uuid.New(),
		Amount:                decimal.NewFromFloat(149.99),
		Currency:              "USD",
		Provider:              provider,
		ProviderTransactionID: reference,
		Metadata: map[string]string{
			"enrollment_id": "enr-1",
			"course_id":     "crs-1",
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return tx
}

func TestMemoryStoreCreate(t *testing.T) {
	store := NewMemoryStore()
	tx := newTestTransaction(t, store, ProviderStripe, "cs_test_1")

	if tx.Status != StatusPending {
		t.Errorf("Expected initial status pending, got %s", tx.Status)
	}
	if !tx.Amount.Equal(decimal.NewFromFloat(149.99)) {
		t.Errorf("Expected amount 149.99, got %s", tx.Amount)
	}
	if tx.ID == uuid.Nil {
		t.Error("Expected a generated transaction ID")
	}

	// Same reference, same provider -> duplicate
	_, err := store.Create(context.Background(), CreateTransactionParams{
		UserID:                uuid.New(),
		Amount:                decimal.NewFromInt(10),
		Currency:              "USD",
		Provider:              ProviderStripe,
		ProviderTransactionID: "cs_test_1",
	})
	if err != ErrDuplicateReference {
		t.Errorf("Expected ErrDuplicateReference, got %v", err)
	}
}

func TestMemoryStoreGetByReference(t *testing.T) {
	store := NewMemoryStore()
	created := newTestTransaction(t, store, ProviderPaystack, "LSP_ref_1")

	got, err := store.GetByReference(context.Background(), ProviderPaystack, "LSP_ref_1")
	if err != nil {
		t.Fatalf("GetByReference() error = %v", err)
	}
	if got.ID != created.ID {
		t.Error("Retrieved transaction doesn't match created one")
	}

	_, err = store.GetByReference(context.Background(), ProviderStripe, "LSP_ref_1")
	if err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for wrong provider, got %v", err)
	}
}

func TestMemoryStoreUpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("Pending to completed", func(t *testing.T) {
		store := NewMemoryStore()
		newTestTransaction(t, store, ProviderStripe, "cs_1")

		tx, transitioned, err := store.UpdateStatus(ctx, ProviderStripe, "cs_1", StatusCompleted, map[string]string{
			"stripe_payment_intent": "pi_1",
		})
		if err != nil {
			t.Fatalf("UpdateStatus() error = %v", err)
		}
		if !transitioned {
			t.Error("Expected transitioned=true on first completion")
		}
		if tx.Status != StatusCompleted {
			t.Errorf("Expected status completed, got %s", tx.Status)
		}
		if tx.Metadata["enrollment_id"] != "enr-1" {
			t.Error("Existing metadata key dropped on update")
		}
		if tx.Metadata["stripe_payment_intent"] != "pi_1" {
			t.Error("Metadata patch not applied")
		}
	})

	t.Run("Replay is a no-op", func(t *testing.T) {
		store := NewMemoryStore()
		newTestTransaction(t, store, ProviderStripe, "cs_2")

		_, _, err := store.UpdateStatus(ctx, ProviderStripe, "cs_2", StatusCompleted, nil)
		if err != nil {
			t.Fatalf("UpdateStatus() error = %v", err)
		}

		tx, transitioned, err := store.UpdateStatus(ctx, ProviderStripe, "cs_2", StatusCompleted, nil)
		if err != nil {
			t.Fatalf("UpdateStatus() replay error = %v", err)
		}
		if transitioned {
			t.Error("Expected transitioned=false on replay")
		}
		if tx.Status != StatusCompleted {
			t.Errorf("Expected status completed after replay, got %s", tx.Status)
		}
	})

	t.Run("Illegal transition rejected", func(t *testing.T) {
		store := NewMemoryStore()
		newTestTransaction(t, store, ProviderStripe, "cs_3")

		_, _, err := store.UpdateStatus(ctx, ProviderStripe, "cs_3", StatusCompleted, nil)
		if err != nil {
			t.Fatalf("UpdateStatus() error = %v", err)
		}

		_, _, err = store.UpdateStatus(ctx, ProviderStripe, "cs_3", StatusFailed, nil)
		if err != ErrInvalidTransition {
			t.Errorf("Expected ErrInvalidTransition for completed->failed, got %v", err)
		}
	})

	t.Run("Unknown reference", func(t *testing.T) {
		store := NewMemoryStore()
		_, _, err := store.UpdateStatus(ctx, ProviderStripe, "missing", StatusCompleted, nil)
		if err != ErrNotFound {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Completed to refunded", func(t *testing.T) {
		store := NewMemoryStore()
		newTestTransaction(t, store, ProviderStripe, "cs_4")

		_, _, err := store.UpdateStatus(ctx, ProviderStripe, "cs_4", StatusCompleted, nil)
		if err != nil {
			t.Fatalf("UpdateStatus() error = %v", err)
		}

		tx, transitioned, err := store.UpdateStatus(ctx, ProviderStripe, "cs_4", StatusRefunded, map[string]string{
			"refund_reason": "requested_by_customer",
		})
		if err != nil {
			t.Fatalf("UpdateStatus() refund error = %v", err)
		}
		if !transitioned || tx.Status != StatusRefunded {
			t.Errorf("Expected refunded transition, got transitioned=%v status=%s", transitioned, tx.Status)
		}
	})
}

// Two concurrent deliveries of the same webhook must produce exactly one
// transition so the orchestrator runs exactly once.
func TestMemoryStoreConcurrentCompletion(t *testing.T) {
	store := NewMemoryStore()
	newTestTransaction(t, store, ProviderPaystack, "LSP_concurrent")

	const deliveries = 10
	var wg sync.WaitGroup
	transitions := make(chan bool, deliveries)

	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, transitioned, err := store.UpdateStatus(context.Background(), ProviderPaystack, "LSP_concurrent", StatusCompleted, map[string]string{
				"paystack_gateway_response": "Successful",
			})
			if err != nil {
				t.Errorf("UpdateStatus() error = %v", err)
				return
			}
			transitions <- transitioned
		}()
	}
	wg.Wait()
	close(transitions)

	count := 0
	for transitioned := range transitions {
		if transitioned {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 transition across concurrent deliveries, got %d", count)
	}

	tx, err := store.GetByReference(context.Background(), ProviderPaystack, "LSP_concurrent")
	if err != nil {
		t.Fatalf("GetByReference() error = %v", err)
	}
	if tx.Status != StatusCompleted {
		t.Errorf("Expected terminal status completed, got %s", tx.Status)
	}
	if tx.Metadata["course_id"] != "crs-1" {
		t.Error("Original metadata lost under concurrent updates")
	}
}

func TestMemoryStoreListStalePending(t *testing.T) {
	store := NewMemoryStore()
	newTestTransaction(t, store, ProviderStripe, "cs_stale")

	stale, err := store.ListStalePending(context.Background(), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ListStalePending() error = %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("Expected 1 stale pending transaction, got %d", len(stale))
	}

	none, err := store.ListStalePending(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListStalePending() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no stale transactions for old cutoff, got %d", len(none))
	}
}
