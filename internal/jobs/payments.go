package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/learnsphere/payments-api/internal/ledger"
)

// Checkout sessions expire after 30 minutes; the extra grace covers webhook
// delivery lag before a pending transaction is declared abandoned.
const stalePendingAge = 45 * time.Minute

// ExpireStalePendingTransactions fails transactions stuck in pending past
// the checkout expiry window. Lost webhooks and provider timeouts would
// otherwise leave them pending forever with no resolution path. Each
// expiry goes through the same idempotent status update as webhook
// reconciliation, so a webhook racing the sweep is safe either way.
func ExpireStalePendingTransactions(store ledger.Store) error {
	ctx := context.Background()

	cutoff := time.Now().Add(-stalePendingAge)
	stale, err := store.ListStalePending(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale pending transactions: %w", err)
	}

	if len(stale) == 0 {
		return nil
	}
	log.Printf("Found %d pending transactions older than %s", len(stale), stalePendingAge)

	expiredCount := 0
	for _, tx := range stale {
		_, transitioned, err := store.UpdateStatus(ctx, tx.Provider, tx.ProviderTransactionID, ledger.StatusFailed, map[string]string{
			ledger.MetaFailureReason: "checkout_session_expired",
		})
		if err != nil {
			log.Printf("Failed to expire transaction %s: %v", tx.ID, err)
			continue
		}
		if transitioned {
			expiredCount++
			log.Printf("Expired stale pending transaction %s (%s %s, created %s)",
				tx.ID, tx.Amount, tx.Currency, tx.CreatedAt.Format(time.RFC3339))
		}
	}

	log.Printf("Expired %d stale pending transactions", expiredCount)
	return nil
}
