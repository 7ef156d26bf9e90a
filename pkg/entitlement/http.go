package entitlement

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// maxWebhookBody bounds the raw payload read for signature verification.
const maxWebhookBody = 1 << 20 // 1 MB

// jsonEnvelope is the wire shape of every JSON response.
type jsonEnvelope struct {
	Data  any          `json:"data,omitempty"`
	Error *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Router mounts the engine's HTTP surface:
//
//	POST /webhooks/paddle                        provider webhook ingress
//	POST /subscriptions/resync                   pull-based reconciliation
//	POST /entitlements/sweep                     expiry sweep trigger
//	GET  /entitlements/{user_id}                 entitlement and usage snapshot
//	POST /entitlements/{user_id}/credits/deduct  atomic credit deduction
//	POST /entitlements/{user_id}/credits/refill  capped credit refill
func Router(svc Service, log *slog.Logger) chi.Router {
	if log == nil {
		log = slog.Default()
	}
	h := &httpHandler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/paddle", h.webhook)
	r.Post("/subscriptions/resync", h.resync)
	r.Post("/entitlements/sweep", h.sweep)
	r.Route("/entitlements/{user_id}", func(r chi.Router) {
		r.Get("/", h.getEntitlement)
		r.Post("/credits/deduct", h.deductCredits)
		r.Post("/credits/refill", h.refillCredits)
	})
	return r
}

type httpHandler struct {
	svc Service
	log *slog.Logger
}

// webhook is the push ingress. The response code is the acknowledgment
// protocol: 2xx tells the provider the event is durably applied (or
// recognized and deliberately ignored), 4xx rejects it permanently, and 5xx
// withholds the ack so the provider's at-least-once delivery retries.
func (h *httpHandler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, r, errors.Join(ErrMalformedPayload, err))
		return
	}

	err = h.svc.HandleWebhook(r.Context(), payload, r.Header.Get("Paddle-Signature"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonEnvelope{Data: map[string]string{"status": "ok"}})
}

type resyncRequest struct {
	UserID        uuid.UUID `json:"user_id"`
	ProviderSubID string    `json:"provider_sub_id,omitempty"`
}

func (h *httpHandler) resync(w http.ResponseWriter, r *http.Request) {
	var req resyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.Join(ErrMalformedPayload, err))
		return
	}
	if req.UserID == uuid.Nil {
		h.writeError(w, r, errors.Join(ErrMalformedPayload, errors.New("user_id is required")))
		return
	}

	ent, err := h.svc.Resync(r.Context(), req.UserID, req.ProviderSubID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonEnvelope{Data: entitlementView(ent)})
}

func (h *httpHandler) sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.SweepExpired(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonEnvelope{Data: map[string]any{
		"downgraded": res.Downgraded,
		"skipped":    res.Skipped,
		"failed":     len(res.Errors),
	}})
}

func (h *httpHandler) getEntitlement(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ent, err := h.svc.GetEntitlement(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view := entitlementView(ent)

	// Usage is part of the snapshot when a ledger exists; its absence is not
	// an error for a user that was never initialized.
	if usage, err := h.svc.GetUsage(r.Context(), userID); err == nil {
		view["usage"] = map[string]any{
			"ai_credits_remaining":  usage.AICreditsRemaining,
			"monthly_limit":         usage.MonthlyLimit,
			"refill_at":             usage.RefillAt,
			"free_drafts_remaining": usage.FreeDraftsRemaining,
		}
	}
	writeJSON(w, http.StatusOK, jsonEnvelope{Data: view})
}

type creditsRequest struct {
	Amount int64 `json:"amount"`
}

func (h *httpHandler) deductCredits(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req creditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.Join(ErrMalformedPayload, err))
		return
	}

	remaining, err := h.svc.DeductCredits(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonEnvelope{Data: map[string]int64{"ai_credits_remaining": remaining}})
}

func (h *httpHandler) refillCredits(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req creditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.Join(ErrMalformedPayload, err))
		return
	}

	balance, err := h.svc.RefillCredits(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonEnvelope{Data: map[string]int64{"ai_credits_remaining": balance}})
}

func pathUserID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "user_id"))
	if err != nil {
		return uuid.Nil, errors.Join(ErrMalformedPayload, err)
	}
	return id, nil
}

func entitlementView(ent *Entitlement) map[string]any {
	return map[string]any{
		"user_id":     ent.UserID,
		"tier":        ent.Tier,
		"valid_from":  ent.ValidFrom,
		"valid_until": ent.ValidUntil,
		"updated_at":  ent.UpdatedAt,
	}
}

func (h *httpHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.log.WarnContext(r.Context(), "request rejected",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, jsonEnvelope{Error: &errorDetail{Code: code, Message: err.Error()}})
}

// statusForError maps the domain error taxonomy to HTTP. Anything not
// explicitly classified becomes a 502 so webhook callers withhold their ack
// and retry.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrSignatureVerification):
		return http.StatusBadRequest, "signature_verification_failed"
	case errors.Is(err, ErrMalformedPayload):
		return http.StatusBadRequest, "malformed_payload"
	case errors.Is(err, ErrInvalidCreditAmount):
		return http.StatusUnprocessableEntity, "invalid_credit_amount"
	case errors.Is(err, ErrInsufficientCredits):
		return http.StatusPaymentRequired, "insufficient_credits"
	case errors.Is(err, ErrEntitlementNotFound),
		errors.Is(err, ErrSubscriptionNotFound),
		errors.Is(err, ErrUsageNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrTemporaryReconciliationFailure):
		return http.StatusServiceUnavailable, "temporarily_unavailable"
	case errors.Is(err, ErrPersistence):
		return http.StatusBadGateway, "persistence_failure"
	default:
		return http.StatusBadGateway, "upstream_failure"
	}
}

func writeJSON(w http.ResponseWriter, status int, body jsonEnvelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
