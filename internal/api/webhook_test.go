package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/markinflu/payments-service/internal/app"
	"github.com/markinflu/payments-service/internal/domain"
	"github.com/markinflu/payments-service/internal/store"
	"github.com/shopspring/decimal"
)

const testWebhookSecret = "whsec_test_secret"

// webhookRepoStub serves the funding-confirmation path of the webhook handler.
type webhookRepoStub struct {
	store.Repository

	escrow          *domain.EscrowTransaction
	markFundedCalls int
}

func (s *webhookRepoStub) FindEscrowByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.EscrowTransaction, error) {
	if s.escrow == nil || s.escrow.ProcessorPaymentIntentID == nil || *s.escrow.ProcessorPaymentIntentID != paymentIntentID {
		return nil, store.ErrEscrowNotFound
	}
	return s.escrow, nil
}

func (s *webhookRepoStub) MarkEscrowFunded(ctx context.Context, escrowID uuid.UUID, fundedAt time.Time) (bool, error) {
	s.markFundedCalls++
	return true, nil
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newWebhookFixture() (*WebhookHandler, *webhookRepoStub) {
	intentID := "pi_1"
	repo := &webhookRepoStub{
		escrow: &domain.EscrowTransaction{
			ID:                       uuid.New(),
			ContractID:               uuid.New(),
			TotalAmount:              decimal.NewFromInt(1000),
			Currency:                 "usd",
			Status:                   domain.EscrowPendingDeposit,
			ProcessorPaymentIntentID: &intentID,
		},
	}
	service := app.NewService(repo, nil, nil, decimal.NewFromFloat(0.10), "markinflu.events")
	return NewWebhookHandler(service, testWebhookSecret, nil, time.Hour), repo
}

func postWebhook(t *testing.T, handler *WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/processor", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("x-processor-signature", signature)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestWebhook_RejectsMissingSignature(t *testing.T) {
	handler, repo := newWebhookFixture()
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)

	rr := postWebhook(t, handler, body, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if repo.markFundedCalls != 0 {
		t.Fatal("expected no processing without a signature")
	}
}

func TestWebhook_RejectsTamperedBody(t *testing.T) {
	handler, repo := newWebhookFixture()
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)
	signature := signBody(testWebhookSecret, body)

	tampered := bytes.Replace(body, []byte("pi_1"), []byte("pi_2"), 1)
	rr := postWebhook(t, handler, tampered, signature)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered body, got %d", rr.Code)
	}
	if repo.markFundedCalls != 0 {
		t.Fatal("expected no processing of a tampered event")
	}
}

func TestWebhook_RejectsWrongSecret(t *testing.T) {
	handler, _ := newWebhookFixture()
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)
	signature := signBody("whsec_other", body)

	rr := postWebhook(t, handler, body, signature)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", rr.Code)
	}
}

func TestWebhook_PaymentIntentSucceededConfirmsFunding(t *testing.T) {
	handler, repo := newWebhookFixture()
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)

	rr := postWebhook(t, handler, body, signBody(testWebhookSecret, body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if repo.markFundedCalls != 1 {
		t.Fatalf("expected one funding confirmation, got %d", repo.markFundedCalls)
	}
}

func TestWebhook_UnknownPaymentIntentIsAcknowledged(t *testing.T) {
	handler, repo := newWebhookFixture()
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_foreign"}}}`)

	// The charge belongs to someone else; acknowledging stops processor retries.
	rr := postWebhook(t, handler, body, signBody(testWebhookSecret, body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for foreign intent, got %d", rr.Code)
	}
	if repo.markFundedCalls != 0 {
		t.Fatal("expected no funding confirmation for a foreign intent")
	}
}

func TestWebhook_UnhandledEventTypeIsAcknowledged(t *testing.T) {
	handler, _ := newWebhookFixture()
	body := []byte(`{"id":"evt_1","type":"charge.dispute.created","data":{"object":{"id":"dp_1"}}}`)

	rr := postWebhook(t, handler, body, signBody(testWebhookSecret, body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for unhandled type, got %d", rr.Code)
	}
}

func TestWebhook_RejectsMalformedEnvelope(t *testing.T) {
	handler, _ := newWebhookFixture()

	tests := []struct {
		name string
		body []byte
	}{
		{"invalid json", []byte(`{not json`)},
		{"missing id", []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)},
		{"missing type", []byte(`{"id":"evt_1","data":{"object":{"id":"pi_1"}}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postWebhook(t, handler, tt.body, signBody(testWebhookSecret, tt.body))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
}
