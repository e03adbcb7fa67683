package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Provider string

const (
	ProviderStripe   Provider = "stripe"
	ProviderPaystack Provider = "paystack"
	// ProviderFlutterwave is reserved; no adapter exists yet.
	ProviderFlutterwave Provider = "flutterwave"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Well-known metadata keys. Metadata is an open map; adapters and the
// orchestrator read and write these keys, anything else passes through
// untouched.
const (
	MetaEnrollmentID            = "enrollment_id"
	MetaCourseID                = "course_id"
	MetaOriginalTransactionID   = "original_transaction_id"
	MetaFailureReason           = "failure_reason"
	MetaRefundReason            = "refund_reason"
	MetaStripePaymentIntent     = "stripe_payment_intent"
	MetaStripeDeclineReason     = "stripe_decline_reason"
	MetaPaystackGatewayResponse = "paystack_gateway_response"
)

// Transaction is one payment attempt against an external provider.
// ProviderTransactionID is the idempotency key for webhook reconciliation:
// unique per provider, assigned when the checkout session is opened.
type Transaction struct {
	ID                    uuid.UUID         `json:"id"`
	UserID                uuid.UUID         `json:"user_id"`
	Amount                decimal.Decimal   `json:"amount"`
	Currency              string            `json:"currency"`
	Provider              Provider          `json:"provider"`
	ProviderTransactionID string            `json:"provider_transaction_id"`
	Status                Status            `json:"status"`
	Metadata              map[string]string `json:"metadata"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// Terminal reports whether no further transition is legal from s, except
// the single completed -> refunded edge.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRefunded
}

// CanTransition reports whether the status edge from -> to is legal.
// Legal edges: pending -> completed, pending -> failed, completed -> refunded.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted:
		return to == StatusRefunded
	}
	return false
}

// MergeMetadata combines existing metadata with a patch. Patch keys win on
// conflict, every other existing key survives. Neither input is mutated.
func MergeMetadata(existing, patch map[string]string) map[string]string {
	merged := make(map[string]string, len(existing)+len(patch))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}
