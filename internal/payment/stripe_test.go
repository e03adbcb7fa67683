package payment

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/learnsphere/payments-api/internal/ledger"
)

func stripeSignatureHeader(payload []byte, secret string) string {
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func TestStripeVerifyWebhook(t *testing.T) {
	secret := "whsec_test_secret"
	provider := NewStripeProvider("sk_test", secret, false)

	payload := []byte(`{"id":"evt_1","object":"event","api_version":"2023-10-16","type":"checkout.session.completed","data":{"object":{}}}`)

	t.Run("Valid signature", func(t *testing.T) {
		event, err := provider.VerifyWebhook(payload, stripeSignatureHeader(payload, secret))
		if err != nil {
			t.Fatalf("VerifyWebhook() error = %v", err)
		}
		if event.ID != "evt_1" {
			t.Errorf("Expected event id evt_1, got %q", event.ID)
		}
	})

	t.Run("Wrong secret", func(t *testing.T) {
		if _, err := provider.VerifyWebhook(payload, stripeSignatureHeader(payload, "whsec_other")); err == nil {
			t.Error("Expected verification failure for wrong secret")
		}
	})

	t.Run("Tampered payload", func(t *testing.T) {
		header := stripeSignatureHeader(payload, secret)
		tampered := []byte(`{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)
		if _, err := provider.VerifyWebhook(tampered, header); err == nil {
			t.Error("Expected verification failure for tampered payload")
		}
	})

	t.Run("Missing signature", func(t *testing.T) {
		if _, err := provider.VerifyWebhook(payload, ""); err == nil {
			t.Error("Expected verification failure for missing signature")
		}
	})
}

func TestStripeVerifySkipRequiresFlag(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.created"}`)

	strict := NewStripeProvider("sk_test", "", false)
	if _, err := strict.VerifyWebhook(payload, "bogus"); err == nil {
		t.Error("Expected verification to fail without secret and without allowUnverified")
	}

	relaxed := NewStripeProvider("sk_test", "", true)
	event, err := relaxed.VerifyWebhook(payload, "bogus")
	if err != nil {
		t.Fatalf("Expected verification to be skipped, got error %v", err)
	}
	if event.ID != "evt_1" {
		t.Errorf("Expected parsed event id evt_1, got %q", event.ID)
	}
}

func stripeTestEvent(t *testing.T, eventType string, object any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("Failed to marshal event object: %v", err)
	}
	return stripe.Event{
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestStripeParseEvent(t *testing.T) {
	provider := NewStripeProvider("sk_test", "whsec", false)

	t.Run("Paid checkout session", func(t *testing.T) {
		event := stripeTestEvent(t, "checkout.session.completed", map[string]any{
			"id":             "cs_test_1",
			"payment_status": "paid",
			"payment_intent": "pi_1",
		})

		outcome, err := provider.ParseEvent(event)
		if err != nil {
			t.Fatalf("ParseEvent() error = %v", err)
		}
		if outcome.Ignored {
			t.Fatal("Expected paid session to produce a transition")
		}
		if outcome.Reference != "cs_test_1" {
			t.Errorf("Expected reference cs_test_1, got %q", outcome.Reference)
		}
		if outcome.Status != ledger.StatusCompleted {
			t.Errorf("Expected status completed, got %s", outcome.Status)
		}
		if outcome.MetadataPatch[ledger.MetaStripePaymentIntent] != "pi_1" {
			t.Error("Expected payment intent recorded in metadata patch")
		}
	})

	t.Run("Unpaid checkout session ignored", func(t *testing.T) {
		event := stripeTestEvent(t, "checkout.session.completed", map[string]any{
			"id":             "cs_test_2",
			"payment_status": "unpaid",
		})

		outcome, err := provider.ParseEvent(event)
		if err != nil {
			t.Fatalf("ParseEvent() error = %v", err)
		}
		if !outcome.Ignored {
			t.Error("Expected unpaid session to be ignored")
		}
	})

	t.Run("Failed payment intent", func(t *testing.T) {
		event := stripeTestEvent(t, "payment_intent.payment_failed", map[string]any{
			"id": "pi_2",
			"metadata": map[string]string{
				"transaction_id": "11111111-2222-3333-4444-555555555555",
			},
			"last_payment_error": map[string]any{
				"message": "Your card was declined.",
			},
		})

		outcome, err := provider.ParseEvent(event)
		if err != nil {
			t.Fatalf("ParseEvent() error = %v", err)
		}
		if outcome.Status != ledger.StatusFailed {
			t.Errorf("Expected status failed, got %s", outcome.Status)
		}
		if outcome.TransactionID != "11111111-2222-3333-4444-555555555555" {
			t.Errorf("Expected transaction id from intent metadata, got %q", outcome.TransactionID)
		}
		if outcome.MetadataPatch[ledger.MetaStripeDeclineReason] != "Your card was declined." {
			t.Errorf("Expected decline reason recorded, got %q", outcome.MetadataPatch[ledger.MetaStripeDeclineReason])
		}
	})

	t.Run("Unknown event acknowledged and ignored", func(t *testing.T) {
		event := stripeTestEvent(t, "customer.created", map[string]any{"id": "cus_1"})

		outcome, err := provider.ParseEvent(event)
		if err != nil {
			t.Fatalf("ParseEvent() error = %v", err)
		}
		if !outcome.Ignored {
			t.Error("Expected unknown event to be ignored")
		}
	})
}
