package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnsphere/payments-api/internal/email"
	"github.com/learnsphere/payments-api/internal/ledger"
	"github.com/learnsphere/payments-api/internal/payment"
)

const metaCustomerEmail = "customer_email"

func (cfg *apiConfig) createCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	type parameters struct {
		UserID        string            `json:"user_id"`
		Amount        json.Number       `json:"amount"`
		Currency      string            `json:"currency"`
		CountryCode   string            `json:"country_code"`
		CustomerEmail string            `json:"customer_email"`
		SuccessURL    string            `json:"success_url"`
		CancelURL     string            `json:"cancel_url"`
		Metadata      map[string]string `json:"metadata"`
	}

	var params parameters
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_REQUEST",
			Message: "Invalid request body",
		})
		return
	}

	userID, err := uuid.Parse(params.UserID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_USER_ID",
			Message: "user_id must be a valid UUID",
		})
		return
	}

	amount, err := decimal.NewFromString(params.Amount.String())
	if err != nil || !amount.IsPositive() {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_AMOUNT",
			Message: "amount must be a positive number",
		})
		return
	}
	// Providers charge in minor units; anything below a cent would be
	// silently truncated at the adapter and diverge from the ledger.
	if !amount.Equal(amount.Round(2)) {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_AMOUNT",
			Message: "amount must have at most two decimal places",
		})
		return
	}

	currency := strings.ToUpper(params.Currency)
	if len(currency) != 3 {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_CURRENCY",
			Message: "currency must be a 3-letter ISO code",
		})
		return
	}

	if params.SuccessURL == "" {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_REQUEST",
			Message: "success_url is required",
		})
		return
	}

	provider := payment.SelectProvider(strings.ToUpper(params.CountryCode), currency)

	metadata := map[string]string{}
	for k, v := range params.Metadata {
		metadata[k] = v
	}
	if params.CustomerEmail != "" {
		metadata[metaCustomerEmail] = params.CustomerEmail
	}

	cfg.openCheckout(w, r, checkoutRequest{
		userID:        userID,
		amount:        amount,
		currency:      currency,
		provider:      provider,
		customerEmail: params.CustomerEmail,
		successURL:    params.SuccessURL,
		cancelURL:     params.CancelURL,
		metadata:      metadata,
	})
}

type checkoutRequest struct {
	userID        uuid.UUID
	amount        decimal.Decimal
	currency      string
	provider      ledger.Provider
	customerEmail string
	successURL    string
	cancelURL     string
	metadata      map[string]string
}

// openCheckout opens a provider session and records the pending ledger
// entry keyed by the provider's reference. Shared by checkout and retry.
func (cfg *apiConfig) openCheckout(w http.ResponseWriter, r *http.Request, req checkoutRequest) {
	if !cfg.payments.IsConfigured(req.provider) {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "PROVIDER_NOT_CONFIGURED",
			Message: fmt.Sprintf("Payment provider %s is not configured", req.provider),
		})
		return
	}

	transactionID := uuid.New()
	var session *payment.CheckoutSession
	var err error

	switch req.provider {
	case ledger.ProviderStripe:
		if req.cancelURL == "" {
			respondWithError(w, http.StatusBadRequest, ApiError{
				Code:    "INVALID_REQUEST",
				Message: "cancel_url is required for card checkout",
			})
			return
		}
		session, err = cfg.payments.Stripe.CreateCheckoutSession(payment.CheckoutParams{
			TransactionID: transactionID.String(),
			CustomerEmail: req.customerEmail,
			Amount:        req.amount,
			Currency:      req.currency,
			SuccessURL:    req.successURL,
			CancelURL:     req.cancelURL,
			Metadata:      req.metadata,
		})

	case ledger.ProviderPaystack:
		if req.customerEmail == "" {
			respondWithError(w, http.StatusBadRequest, ApiError{
				Code:    "INVALID_REQUEST",
				Message: "customer_email is required for Paystack checkout",
			})
			return
		}
		reference := "LSP_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		session, err = cfg.payments.Paystack.CreateCheckoutSession(payment.PaystackCheckoutParams{
			Reference:     reference,
			CustomerEmail: req.customerEmail,
			Amount:        req.amount,
			Currency:      req.currency,
			CallbackURL:   req.successURL,
			Metadata:      req.metadata,
		})

	default:
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_PROVIDER",
			Message: fmt.Sprintf("Payment provider %s is not supported", req.provider),
		})
		return
	}

	if err != nil {
		if errors.Is(err, payment.ErrProviderNotConfigured) {
			respondWithError(w, http.StatusBadRequest, ApiError{
				Code:    "PROVIDER_NOT_CONFIGURED",
				Message: fmt.Sprintf("Payment provider %s is not configured", req.provider),
			})
			return
		}
		if errors.Is(err, payment.ErrProviderUnavailable) {
			respondWithError(w, http.StatusBadGateway, ApiError{
				Code:    "PROVIDER_UNAVAILABLE",
				Message: "Payment provider is unavailable, please try again",
				Details: err.Error(),
			})
			return
		}
		respondWithError(w, http.StatusBadGateway, ApiError{
			Code:    "PAYMENT_ERROR",
			Message: "Failed to create payment session",
			Details: err.Error(),
		})
		return
	}

	tx, err := cfg.store.Create(r.Context(), ledger.CreateTransactionParams{
		ID:                    transactionID,
		UserID:                req.userID,
		Amount:                req.amount,
		Currency:              req.currency,
		Provider:              req.provider,
		ProviderTransactionID: session.Reference,
		Metadata:              req.metadata,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateReference) {
			respondWithError(w, http.StatusBadRequest, ApiError{
				Code:    "DUPLICATE_REFERENCE",
				Message: "A transaction with this provider reference already exists",
			})
			return
		}
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to record transaction",
		})
		return
	}

	respondWithJSON(w, http.StatusCreated, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"session_id":     session.Reference,
			"session_url":    session.URL,
			"transaction_id": tx.ID,
			"provider":       tx.Provider,
			"amount":         tx.Amount,
			"currency":       tx.Currency,
		},
	})
}

// Webhook responses follow the processor contract: 200 {"status":"success"}
// acknowledges (including ignored events), 400 {"status":"error"} tells the
// provider the delivery was rejected.
func respondWebhookSuccess(w http.ResponseWriter) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func respondWebhookError(w http.ResponseWriter, code int) {
	respondWithJSON(w, code, map[string]string{"status": "error"})
}

func (cfg *apiConfig) stripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondWebhookError(w, http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := cfg.payments.Stripe.VerifyWebhook(payload, signature)
	if err != nil {
		log.Printf("Rejected Stripe webhook from %s: %v", r.RemoteAddr, err)
		respondWebhookError(w, http.StatusBadRequest)
		return
	}

	if cfg.alreadyDelivered(r, "stripe", event.ID) {
		respondWebhookSuccess(w)
		return
	}

	outcome, err := cfg.payments.Stripe.ParseEvent(event)
	if err != nil {
		log.Printf("Malformed Stripe event %s: %v", event.ID, err)
		respondWebhookError(w, http.StatusBadRequest)
		return
	}

	if cfg.applyWebhookOutcome(w, r, ledger.ProviderStripe, outcome) {
		cfg.markDelivered(r, "stripe", event.ID)
	}
}

func (cfg *apiConfig) paystackWebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondWebhookError(w, http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Paystack-Signature")
	if !cfg.payments.Paystack.VerifyWebhookSignature(payload, signature) {
		log.Printf("Rejected Paystack webhook from %s: signature mismatch", r.RemoteAddr)
		respondWebhookError(w, http.StatusBadRequest)
		return
	}

	event, err := cfg.payments.Paystack.ParseWebhookEvent(payload)
	if err != nil {
		log.Printf("Malformed Paystack webhook: %v", err)
		respondWebhookError(w, http.StatusBadRequest)
		return
	}

	eventID := event.Event + ":" + event.Data.Reference
	if event.Data.Reference != "" && cfg.alreadyDelivered(r, "paystack", eventID) {
		respondWebhookSuccess(w)
		return
	}

	if cfg.applyWebhookOutcome(w, r, ledger.ProviderPaystack, cfg.payments.Paystack.ParseEvent(event)) && event.Data.Reference != "" {
		cfg.markDelivered(r, "paystack", eventID)
	}
}

// applyWebhookOutcome reconciles a parsed provider event into the ledger
// and, on a genuine transition into completed, runs the enrollment side
// effects. Side-effect failures never fail the webhook response: the
// processor expects a fast 2xx and payment state must stand.
//
// Returns true when the event was applied (or settled as a no-op), so the
// caller may cache the delivery. A false return means the provider should
// retry and nothing may be cached.
func (cfg *apiConfig) applyWebhookOutcome(w http.ResponseWriter, r *http.Request, provider ledger.Provider, outcome *payment.WebhookOutcome) bool {
	if outcome.Ignored {
		respondWebhookSuccess(w)
		return true
	}

	reference := outcome.Reference
	if reference == "" && outcome.TransactionID != "" {
		id, err := uuid.Parse(outcome.TransactionID)
		if err != nil {
			log.Printf("Webhook carried invalid transaction id %q", outcome.TransactionID)
			respondWebhookError(w, http.StatusBadRequest)
			return false
		}
		tx, err := cfg.store.GetByID(r.Context(), id)
		if err != nil {
			log.Printf("Webhook references unknown transaction %s", id)
			respondWebhookError(w, http.StatusBadRequest)
			return false
		}
		reference = tx.ProviderTransactionID
	}
	if reference == "" {
		log.Printf("Webhook from %s carried no transaction reference", provider)
		respondWebhookError(w, http.StatusBadRequest)
		return false
	}

	tx, transitioned, err := cfg.store.UpdateStatus(r.Context(), provider, reference, outcome.Status, outcome.MetadataPatch)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			log.Printf("Webhook references unknown %s transaction %q", provider, reference)
			respondWebhookError(w, http.StatusBadRequest)
		case errors.Is(err, ledger.ErrInvalidTransition):
			// Out-of-order delivery after a terminal state; acknowledge so
			// the provider stops retrying.
			log.Printf("Ignoring out-of-order %s webhook for %q: %v", provider, reference, err)
			respondWebhookSuccess(w)
			return true
		default:
			log.Printf("Failed to update %s transaction %q: %v", provider, reference, err)
			respondWebhookError(w, http.StatusInternalServerError)
		}
		return false
	}

	if transitioned {
		switch outcome.Status {
		case ledger.StatusCompleted:
			outcomes, err := cfg.orchestrator.CompleteEnrollment(r.Context(), tx)
			if err != nil {
				log.Printf("Enrollment completion failed for transaction %s: %v", tx.ID, err)
			} else {
				failed := 0
				for _, o := range outcomes {
					if o.Err != nil {
						failed++
					}
				}
				if failed > 0 {
					log.Printf("Transaction %s: %d of %d session registrations failed", tx.ID, failed, len(outcomes))
				}
			}
			cfg.sendPaymentReceipt(tx)

		case ledger.StatusFailed:
			log.Printf("Transaction %s failed: %s", tx.ID, tx.Metadata[ledger.MetaFailureReason])
			cfg.sendFailureNotice(tx)
		}
	}

	respondWebhookSuccess(w)
	return true
}

func webhookEventKey(provider, eventID string) string {
	return fmt.Sprintf("webhook_event:%s:%s", provider, eventID)
}

// alreadyDelivered is a best-effort dedupe of provider retries. It only
// reads: the key is written by markDelivered once the event has actually
// been applied, so a delivery that failed mid-processing never blocks the
// provider's retry. Redis being down or unset just means every delivery
// goes through the ledger guard.
func (cfg *apiConfig) alreadyDelivered(r *http.Request, provider, eventID string) bool {
	if cfg.redisClient == nil || eventID == "" {
		return false
	}

	n, err := cfg.redisClient.Exists(r.Context(), webhookEventKey(provider, eventID)).Result()
	if err != nil {
		return false
	}
	if n > 0 {
		log.Printf("Duplicate %s webhook delivery %s acknowledged from cache", provider, eventID)
	}
	return n > 0
}

// markDelivered records a fully applied webhook event. Concurrent deliveries
// of the same event can both miss the cache; the ledger's row-locked update
// already serializes them, the cache only saves work.
func (cfg *apiConfig) markDelivered(r *http.Request, provider, eventID string) {
	if cfg.redisClient == nil || eventID == "" {
		return
	}

	if err := cfg.redisClient.Set(r.Context(), webhookEventKey(provider, eventID), 1, 24*time.Hour).Err(); err != nil {
		log.Printf("Failed to cache %s webhook delivery %s: %v", provider, eventID, err)
	}
}

func (cfg *apiConfig) sendPaymentReceipt(tx ledger.Transaction) {
	to := tx.Metadata[metaCustomerEmail]
	if to == "" || !cfg.emailService.Configured() {
		return
	}

	go func() {
		err := cfg.emailService.SendPaymentSuccess(to, email.PaymentSuccessData{
			Amount:     tx.Amount.StringFixed(2),
			Currency:   tx.Currency,
			Reference:  tx.ProviderTransactionID,
			ReceiptURL: cfg.config.AppURL + "/payments/receipt/" + tx.ID.String(),
		})
		if err != nil {
			log.Printf("Failed to send payment receipt for %s: %v", tx.ID, err)
		}
	}()
}

func (cfg *apiConfig) sendFailureNotice(tx ledger.Transaction) {
	to := tx.Metadata[metaCustomerEmail]
	if to == "" || !cfg.emailService.Configured() {
		return
	}

	go func() {
		err := cfg.emailService.SendPaymentFailed(to, email.PaymentFailedData{
			Amount:   tx.Amount.StringFixed(2),
			Currency: tx.Currency,
			Reason:   tx.Metadata[ledger.MetaFailureReason],
			RetryURL: cfg.config.AppURL + "/payments/retry/" + tx.ID.String(),
		})
		if err != nil {
			log.Printf("Failed to send failure notice for %s: %v", tx.ID, err)
		}
	}()
}

func (cfg *apiConfig) getTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_TRANSACTION_ID",
			Message: "Transaction id must be a valid UUID",
		})
		return
	}

	tx, err := cfg.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, ApiError{
				Code:    "TRANSACTION_NOT_FOUND",
				Message: "Transaction not found",
			})
			return
		}
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to retrieve transaction",
		})
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    map[string]interface{}{"transaction": tx},
	})
}

func (cfg *apiConfig) listUserTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_USER_ID",
			Message: "User id must be a valid UUID",
		})
		return
	}

	txs, err := cfg.store.ListByUser(r.Context(), userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to list transactions",
		})
		return
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    map[string]interface{}{"transactions": txs},
	})
}

// retryPaymentHandler opens a fresh checkout for a failed transaction. The
// failed row stays in the ledger; the new pending row links back to it via
// metadata so the retry lineage is auditable.
func (cfg *apiConfig) retryPaymentHandler(w http.ResponseWriter, r *http.Request) {
	type parameters struct {
		CustomerEmail string `json:"customer_email"`
		SuccessURL    string `json:"success_url"`
		CancelURL     string `json:"cancel_url"`
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_TRANSACTION_ID",
			Message: "Transaction id must be a valid UUID",
		})
		return
	}

	var params parameters
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_REQUEST",
			Message: "Invalid request body",
		})
		return
	}
	if params.SuccessURL == "" {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_REQUEST",
			Message: "success_url is required",
		})
		return
	}

	original, err := cfg.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, ApiError{
				Code:    "TRANSACTION_NOT_FOUND",
				Message: "Transaction not found",
			})
			return
		}
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to retrieve transaction",
		})
		return
	}

	if original.Status != ledger.StatusFailed {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "NOT_RETRYABLE",
			Message: fmt.Sprintf("Only failed transactions can be retried, this one is %s", original.Status),
		})
		return
	}

	metadata := ledger.MergeMetadata(original.Metadata, map[string]string{
		ledger.MetaOriginalTransactionID: original.ID.String(),
	})
	delete(metadata, ledger.MetaFailureReason)
	delete(metadata, ledger.MetaStripeDeclineReason)
	delete(metadata, ledger.MetaPaystackGatewayResponse)

	customerEmail := params.CustomerEmail
	if customerEmail == "" {
		customerEmail = metadata[metaCustomerEmail]
	} else {
		metadata[metaCustomerEmail] = customerEmail
	}

	cfg.openCheckout(w, r, checkoutRequest{
		userID:        original.UserID,
		amount:        original.Amount,
		currency:      original.Currency,
		provider:      original.Provider,
		customerEmail: customerEmail,
		successURL:    params.SuccessURL,
		cancelURL:     params.CancelURL,
		metadata:      metadata,
	})
}

// refundPaymentHandler records a refund against a completed transaction.
// The money movement itself happens on the provider's side; the ledger is
// the system of record for the resulting state.
func (cfg *apiConfig) refundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	type parameters struct {
		Reason string `json:"reason"`
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_TRANSACTION_ID",
			Message: "Transaction id must be a valid UUID",
		})
		return
	}

	var params parameters
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_REQUEST",
			Message: "Invalid request body",
		})
		return
	}

	tx, err := cfg.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, ApiError{
				Code:    "TRANSACTION_NOT_FOUND",
				Message: "Transaction not found",
			})
			return
		}
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to retrieve transaction",
		})
		return
	}

	reason := params.Reason
	if reason == "" {
		reason = "requested_by_customer"
	}

	updated, _, err := cfg.store.UpdateStatus(r.Context(), tx.Provider, tx.ProviderTransactionID, ledger.StatusRefunded, map[string]string{
		ledger.MetaRefundReason: reason,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidTransition) {
			respondWithError(w, http.StatusBadRequest, ApiError{
				Code:    "NOT_REFUNDABLE",
				Message: fmt.Sprintf("Only completed transactions can be refunded, this one is %s", tx.Status),
			})
			return
		}
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "INTERNAL_ERROR",
			Message: "Failed to refund transaction",
		})
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Message: "Transaction refunded",
		Data:    map[string]interface{}{"transaction": updated},
	})
}
