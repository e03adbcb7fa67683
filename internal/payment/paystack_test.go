package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/learnsphere/payments-api/internal/ledger"
)

func signPaystack(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaystackVerifyWebhookSignature(t *testing.T) {
	secret := "paystack-test-secret"
	payload := []byte(`{"event":"charge.success","data":{"reference":"LSP_1"}}`)
	validSignature := signPaystack(secret, payload)

	provider := NewPaystackProvider("sk_test", secret, false)

	tests := []struct {
		name      string
		payload   []byte
		signature string
		want      bool
	}{
		{
			name:      "Valid signature",
			payload:   payload,
			signature: validSignature,
			want:      true,
		},
		{
			name:      "Valid signature with sha512 prefix",
			payload:   payload,
			signature: "sha512=" + validSignature,
			want:      true,
		},
		{
			name:      "Tampered payload",
			payload:   []byte(`{"event":"charge.success","data":{"reference":"LSP_2"}}`),
			signature: validSignature,
			want:      false,
		},
		{
			name:      "Garbage signature",
			payload:   payload,
			signature: "deadbeef",
			want:      false,
		},
		{
			name:      "Empty signature",
			payload:   payload,
			signature: "",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := provider.VerifyWebhookSignature(tt.payload, tt.signature); got != tt.want {
				t.Errorf("VerifyWebhookSignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPaystackVerifySkipRequiresFlag(t *testing.T) {
	payload := []byte(`{}`)

	// No secret, no flag: everything is rejected
	strict := NewPaystackProvider("sk_test", "", false)
	if strict.VerifyWebhookSignature(payload, "anything") {
		t.Error("Expected verification to fail without secret and without allowUnverified")
	}

	// No secret, flag set: skipped
	relaxed := NewPaystackProvider("sk_test", "", true)
	if !relaxed.VerifyWebhookSignature(payload, "anything") {
		t.Error("Expected verification to be skipped with allowUnverified set")
	}
}

func TestPaystackParseEvent(t *testing.T) {
	provider := NewPaystackProvider("sk_test", "secret", false)

	t.Run("Successful charge", func(t *testing.T) {
		event, err := provider.ParseWebhookEvent([]byte(`{
			"event": "charge.success",
			"data": {"reference": "LSP_1", "status": "success", "gateway_response": "Successful", "amount": 5000, "currency": "NGN"}
		}`))
		if err != nil {
			t.Fatalf("ParseWebhookEvent() error = %v", err)
		}

		outcome := provider.ParseEvent(event)
		if outcome.Ignored {
			t.Fatal("Expected charge.success to produce a transition")
		}
		if outcome.Reference != "LSP_1" {
			t.Errorf("Expected reference LSP_1, got %q", outcome.Reference)
		}
		if outcome.Status != ledger.StatusCompleted {
			t.Errorf("Expected status completed, got %s", outcome.Status)
		}
		if outcome.MetadataPatch[ledger.MetaPaystackGatewayResponse] != "Successful" {
			t.Error("Expected gateway response recorded in metadata patch")
		}
	})

	t.Run("Success event with non-success status ignored", func(t *testing.T) {
		event, _ := provider.ParseWebhookEvent([]byte(`{
			"event": "charge.success",
			"data": {"reference": "LSP_1", "status": "abandoned"}
		}`))
		if outcome := provider.ParseEvent(event); !outcome.Ignored {
			t.Error("Expected non-success status to be ignored")
		}
	})

	t.Run("Failed charge", func(t *testing.T) {
		event, _ := provider.ParseWebhookEvent([]byte(`{
			"event": "charge.failed",
			"data": {"reference": "LSP_2", "status": "failed", "gateway_response": "Insufficient funds"}
		}`))

		outcome := provider.ParseEvent(event)
		if outcome.Status != ledger.StatusFailed {
			t.Errorf("Expected status failed, got %s", outcome.Status)
		}
		if outcome.MetadataPatch[ledger.MetaFailureReason] != "Insufficient funds" {
			t.Errorf("Expected failure reason recorded, got %q", outcome.MetadataPatch[ledger.MetaFailureReason])
		}
	})

	t.Run("Unknown event acknowledged and ignored", func(t *testing.T) {
		event, _ := provider.ParseWebhookEvent([]byte(`{"event": "transfer.success", "data": {}}`))
		if outcome := provider.ParseEvent(event); !outcome.Ignored {
			t.Error("Expected unknown event to be ignored")
		}
	})

	t.Run("Malformed payload", func(t *testing.T) {
		if _, err := provider.ParseWebhookEvent([]byte(`not json`)); err == nil {
			t.Error("Expected error for malformed payload")
		}
	})
}
