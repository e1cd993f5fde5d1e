/**
 * @description
 * This file contains the HTTP handler for incoming webhooks from the payment
 * processor. It is the entry point for deposit confirmations and payout-account
 * updates.
 *
 * Key features:
 * - Security: validates the HMAC-SHA256 signature of every webhook before acting.
 *   An unverified funding-confirmation endpoint would be an open spoofing vector,
 *   so signature validation is not optional.
 * - Dedupe: remembers processed event ids in Redis (SETNX with TTL) so redelivered
 *   events are acknowledged without reprocessing. Funding confirmation is itself
 *   idempotent; the dedupe just keeps replay noise out of the logs and the broker.
 * - Routing: payment_intent.succeeded drives funding confirmation;
 *   account.updated drives the payout-account status cache.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: Signature validation.
 * - encoding/json, io, net/http: Payload handling.
 * - github.com/redis/go-redis/v9: Event dedupe.
 * - internal/app, internal/domain: Service logic and the webhook envelope.
 */
package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/markinflu/payments-service/internal/app"
	"github.com/markinflu/payments-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// WebhookHandler processes incoming webhooks from the payment processor.
type WebhookHandler struct {
	service   *app.Service
	secret    string
	redis     redis.UniversalClient
	dedupeTTL time.Duration
}

// NewWebhookHandler creates a new handler for the webhook endpoint. redisClient
// may be nil; dedupe then degrades to relying on the service's own idempotency.
func NewWebhookHandler(service *app.Service, secret string, redisClient redis.UniversalClient, dedupeTTL time.Duration) *WebhookHandler {
	return &WebhookHandler{
		service:   service,
		secret:    secret,
		redis:     redisClient,
		dedupeTTL: dedupeTTL,
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("level=warn component=webhook msg=\"failed to read body\" err=%v", err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if !h.isValidSignature(r.Header.Get("x-processor-signature"), body) {
		log.Printf("level=warn component=webhook msg=\"invalid signature\" remote_addr=%s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event domain.ProcessorWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=webhook msg=\"invalid JSON payload\" err=%v", err)
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if event.ID == "" || event.Type == "" {
		http.Error(w, "Missing event id or type", http.StatusBadRequest)
		return
	}

	if h.isDuplicateEvent(r.Context(), event.ID) {
		log.Printf("level=info component=webhook msg=\"duplicate event ignored\" event_id=%s type=%s", event.ID, event.Type)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Duplicate event ignored"))
		return
	}

	log.Printf("level=info component=webhook msg=\"event received\" event_id=%s type=%s object_id=%s", event.ID, event.Type, event.Data.Object.ID)

	switch event.Type {
	case "payment_intent.succeeded":
		if _, err := h.service.ConfirmFunding(r.Context(), event.Data.Object.ID); err != nil {
			var ne *app.NotFoundError
			if errors.As(err, &ne) {
				// The charge is not one of ours (e.g., another product sharing the
				// processor account). Acknowledge so the processor stops retrying.
				log.Printf("level=warn component=webhook msg=\"payment intent has no escrow\" payment_intent_id=%s", event.Data.Object.ID)
				break
			}
			log.Printf("level=error component=webhook msg=\"funding confirmation failed\" payment_intent_id=%s err=%v", event.Data.Object.ID, err)
			http.Error(w, "Failed to process event", http.StatusInternalServerError)
			return
		}
	case "account.updated":
		if err := h.service.RefreshConnectStatusByAccountID(r.Context(), event.Data.Object.ID); err != nil {
			log.Printf("level=error component=webhook msg=\"payout account refresh failed\" account_id=%s err=%v", event.Data.Object.ID, err)
			http.Error(w, "Failed to process event", http.StatusInternalServerError)
			return
		}
	default:
		log.Printf("level=info component=webhook msg=\"unhandled event type\" type=%s", event.Type)
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Webhook received"))
}

// isValidSignature checks the HMAC-SHA256 signature over the raw body using a
// constant-time comparison.
func (h *WebhookHandler) isValidSignature(signature string, body []byte) bool {
	if h.secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// isDuplicateEvent records the event id in Redis and reports whether it was
// already seen. Redis being down never blocks webhook processing.
func (h *WebhookHandler) isDuplicateEvent(ctx context.Context, eventID string) bool {
	if h.redis == nil {
		return false
	}
	set, err := h.redis.SetNX(ctx, "markinflu:webhook_events:"+eventID, 1, h.dedupeTTL).Result()
	if err != nil {
		log.Printf("level=warn component=webhook msg=\"dedupe check failed; processing anyway\" event_id=%s err=%v", eventID, err)
		return false
	}
	return !set
}
