/**
 * @description
 * This file contains the HTTP handlers for the payments-service API endpoints.
 * Handlers parse requests, resolve the authenticated Clerk user to an internal
 * UUID, call the application service, and translate the application error
 * taxonomy onto HTTP statuses:
 *
 *   ValidationError  -> 400    ProcessorError   -> 502
 *   ConflictError    -> 409    ConsistencyError -> 500 (already logged for ops)
 *   PermissionError  -> 403
 *   NotFoundError    -> 404
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app: Service logic and error types.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/markinflu/payments-service/internal/app"
)

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service                   *app.Service
	releaseLimiter            *app.RedisRateLimiter
	releaseRateLimitPerMinute int
	connectReturnURL          string
}

// NewPaymentHandlers creates a new instance of PaymentHandlers. connectReturnURL
// is the fallback destination for onboarding flows whose request omits one.
func NewPaymentHandlers(service *app.Service, releaseLimiter *app.RedisRateLimiter, releaseRateLimitPerMinute int, connectReturnURL string) *PaymentHandlers {
	return &PaymentHandlers{
		service:                   service,
		releaseLimiter:            releaseLimiter,
		releaseRateLimitPerMinute: releaseRateLimitPerMinute,
		connectReturnURL:          connectReturnURL,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}

func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

// writeServiceError maps an application-layer error to an HTTP response.
func (h *PaymentHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var ve *app.ValidationError
	var ce *app.ConflictError
	var pe *app.PermissionError
	var ne *app.NotFoundError
	var proc *app.ProcessorError
	var cons *app.ConsistencyError

	switch {
	case errors.As(err, &ve):
		h.writeError(w, http.StatusBadRequest, ve.Reason)
	case errors.As(err, &ce):
		h.writeError(w, http.StatusConflict, ce.Reason)
	case errors.As(err, &pe):
		h.writeError(w, http.StatusForbidden, pe.Reason)
	case errors.As(err, &ne):
		h.writeError(w, http.StatusNotFound, ne.Error())
	case errors.As(err, &proc):
		log.Printf("level=warn component=api endpoint=%s outcome=processor_error err=%v", endpoint, err)
		h.writeError(w, http.StatusBadGateway, proc.Error())
	case errors.As(err, &cons):
		// Details already logged by the service with both sides' ids.
		h.writeError(w, http.StatusInternalServerError, "payment state requires manual reconciliation; support has been notified")
	default:
		log.Printf("level=error component=api endpoint=%s outcome=internal_error err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// resolveCaller turns the Clerk subject from the validated JWT into the internal
// user UUID. Returns false after writing the error response.
func (h *PaymentHandlers) resolveCaller(w http.ResponseWriter, r *http.Request, endpoint string) (uuid.UUID, bool) {
	clerkUserID, ok := GetClerkUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "could not get user ID from context")
		return uuid.Nil, false
	}
	internalIDStr, err := h.service.ResolveInternalUserID(r.Context(), clerkUserID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=user_resolution_failed clerk_user_id=%s err=%v", endpoint, clerkUserID, err)
		h.writeError(w, http.StatusBadRequest, "user not found")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(internalIDStr)
	if err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=invalid_user_id internal_user_id=%s", endpoint, internalIDStr)
		h.writeError(w, http.StatusBadRequest, "invalid user ID format")
		return uuid.Nil, false
	}
	return userID, true
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// CreateEscrowHandler handles POST /payments/escrow/{contractId}.
func (h *PaymentHandlers) CreateEscrowHandler(w http.ResponseWriter, r *http.Request) {
	funderID, ok := h.resolveCaller(w, r, "create_escrow")
	if !ok {
		return
	}
	contractID, err := parseUUIDParam(r, "contractId")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid contract id")
		return
	}

	result, err := h.service.CreateEscrow(r.Context(), contractID, funderID)
	if err != nil {
		h.writeServiceError(w, "create_escrow", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// ReleaseMilestoneHandler handles POST /payments/milestones/{milestoneId}/release.
func (h *PaymentHandlers) ReleaseMilestoneHandler(w http.ResponseWriter, r *http.Request) {
	funderID, ok := h.resolveCaller(w, r, "release_milestone")
	if !ok {
		return
	}
	milestoneID, err := parseUUIDParam(r, "milestoneId")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid milestone id")
		return
	}

	if h.releaseLimiter != nil && h.releaseRateLimitPerMinute > 0 {
		count, retryAfter, limitErr := h.releaseLimiter.ConsumeRateLimit(r.Context(), "release", funderID.String(), h.releaseRateLimitPerMinute, time.Minute)
		if limitErr != nil {
			log.Printf("level=warn component=api endpoint=release_milestone msg=\"rate limiter unavailable; allowing request\" err=%v", limitErr)
		} else if count > h.releaseRateLimitPerMinute {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "too many release attempts; try again shortly")
			return
		}
	}

	payment, err := h.service.ReleaseMilestone(r.Context(), milestoneID, funderID)
	if err != nil {
		h.writeServiceError(w, "release_milestone", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// RefundEscrowHandler handles POST /payments/escrow/{contractId}/refund.
func (h *PaymentHandlers) RefundEscrowHandler(w http.ResponseWriter, r *http.Request) {
	funderID, ok := h.resolveCaller(w, r, "refund_escrow")
	if !ok {
		return
	}
	contractID, err := parseUUIDParam(r, "contractId")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid contract id")
		return
	}

	escrow, err := h.service.RefundEscrow(r.Context(), contractID, funderID)
	if err != nil {
		h.writeServiceError(w, "refund_escrow", err)
		return
	}
	h.writeJSON(w, http.StatusOK, escrow)
}

// GetEscrowHandler handles GET /payments/escrow/contract/{contractId}.
func (h *PaymentHandlers) GetEscrowHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.resolveCaller(w, r, "get_escrow")
	if !ok {
		return
	}
	contractID, err := parseUUIDParam(r, "contractId")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid contract id")
		return
	}

	result, err := h.service.GetEscrowByContract(r.Context(), contractID, callerID)
	if err != nil {
		h.writeServiceError(w, "get_escrow", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type onboardingRequest struct {
	ReturnURL string `json:"return_url"`
}

// ConnectOnboardingHandler handles POST /payments/connect/onboarding.
func (h *PaymentHandlers) ConnectOnboardingHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveCaller(w, r, "connect_onboarding")
	if !ok {
		return
	}

	var req onboardingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = h.connectReturnURL
	}
	if returnURL == "" {
		h.writeError(w, http.StatusBadRequest, "return_url is required")
		return
	}

	link, err := h.service.EnsureOnboardingLink(r.Context(), userID, returnURL)
	if err != nil {
		h.writeServiceError(w, "connect_onboarding", err)
		return
	}
	h.writeJSON(w, http.StatusOK, link)
}

// ConnectStatusHandler handles GET /payments/connect/status.
func (h *PaymentHandlers) ConnectStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveCaller(w, r, "connect_status")
	if !ok {
		return
	}

	status, err := h.service.RefreshConnectStatus(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "connect_status", err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}
