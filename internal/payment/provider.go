package payment

import (
	"errors"

	"github.com/learnsphere/payments-api/internal/ledger"
)

var (
	// ErrProviderNotConfigured means the selected provider has no secret key.
	// Surfaced at checkout creation, never retried.
	ErrProviderNotConfigured = errors.New("payment provider is not configured")

	// ErrProviderUnavailable means the provider API could not be reached or
	// timed out. Distinct from a payment decline, which is a valid terminal
	// "failed" transaction status.
	ErrProviderUnavailable = errors.New("payment provider is unavailable")
)

// SelectProvider routes a checkout to a provider. Pure and deterministic:
// Nigerian traffic (country NG or currency NGN) goes to Paystack, everything
// else to Stripe.
func SelectProvider(countryCode, currency string) ledger.Provider {
	if countryCode == "NG" || currency == "NGN" {
		return ledger.ProviderPaystack
	}
	return ledger.ProviderStripe
}

// WebhookOutcome is a provider event translated into a generic ledger
// transition. Ignored outcomes are acknowledged to the provider but cause
// no mutation.
type WebhookOutcome struct {
	// Reference is the provider transaction id to reconcile against.
	// Empty when the event identifies the transaction indirectly; then
	// TransactionID carries the ledger surrogate id instead.
	Reference     string
	TransactionID string
	Status        ledger.Status
	MetadataPatch map[string]string
	Ignored       bool
}

type PaymentService struct {
	Stripe   *StripeProvider
	Paystack *PaystackProvider
}

func NewPaymentService(stripeKey, stripeWebhook, paystackKey, paystackWebhook string, allowUnverified bool) *PaymentService {
	return &PaymentService{
		Stripe:   NewStripeProvider(stripeKey, stripeWebhook, allowUnverified),
		Paystack: NewPaystackProvider(paystackKey, paystackWebhook, allowUnverified),
	}
}

// IsConfigured reports whether the provider's secrets are present. Callers
// must refuse to open a checkout session for an unconfigured provider.
func (s *PaymentService) IsConfigured(provider ledger.Provider) bool {
	switch provider {
	case ledger.ProviderStripe:
		return s.Stripe.Configured()
	case ledger.ProviderPaystack:
		return s.Paystack.Configured()
	}
	return false
}
