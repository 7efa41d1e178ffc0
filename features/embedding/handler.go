package embedding

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"presswise/backend/internal/middleware"
	"presswise/backend/internal/tenant"
)

const maxWebhookBody = 1 << 20 // 1 MiB

type Handler struct {
	service *Service
	secret  []byte
	maxSkew time.Duration

	// now is swappable for signature skew tests.
	now func() time.Time
}

func NewHandler(service *Service, secret string, maxSkew time.Duration) *Handler {
	return &Handler{
		service: service,
		secret:  []byte(secret),
		maxSkew: maxSkew,
		now:     time.Now,
	}
}

type triggerBody struct {
	OrganizationID string `json:"organization_id"`
	SiteID         string `json:"site_id"`
	SourceType     string `json:"source_type"`
	SourceID       string `json:"source_id"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	SyncID         string `json:"sync_id"`
}

// Webhook handles POST /webhooks/content from the CMS plugin. The
// signature is verified before the payload is even parsed.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, r, "VALIDATION_ERROR", "failed to read body", http.StatusBadRequest)
		return
	}

	if err := h.verifySignature(r, body); err != nil {
		slog.WarnContext(r.Context(), "webhook signature rejected", "error", err)
		h.writeError(w, r, "SIGNATURE_INVALID", "invalid webhook signature", http.StatusUnauthorized)
		return
	}

	h.trigger(w, r, body)
}

// Trigger handles POST /embeddings/trigger, the internal unsigned variant
// used by operators and the sync result consumer's HTTP siblings.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, r, "VALIDATION_ERROR", "failed to read body", http.StatusBadRequest)
		return
	}
	h.trigger(w, r, body)
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request, body []byte) {
	var payload triggerBody
	if err := json.Unmarshal(body, &payload); err != nil {
		h.writeError(w, r, "VALIDATION_ERROR", "invalid JSON body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Trigger(r.Context(), TriggerRequest{
		Tenant:     tenant.Tenant{OrganizationID: payload.OrganizationID, SiteID: payload.SiteID},
		SourceType: payload.SourceType,
		SourceID:   payload.SourceID,
		Title:      payload.Title,
		Content:    payload.Content,
		SyncID:     payload.SyncID,
	})
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrInvalidTenant), errors.Is(err, ErrInvalidSourceType):
			h.writeError(w, r, "INVALID_TENANT", err.Error(), http.StatusBadRequest)
		default:
			slog.ErrorContext(r.Context(), "embedding trigger failed", "error", err)
			h.writeError(w, r, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": result}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// verifySignature checks HMAC-SHA256 over "timestamp.body" against the
// X-Webhook-Signature header and rejects stale timestamps.
func (h *Handler) verifySignature(r *http.Request, body []byte) error {
	rawTS := r.Header.Get("X-Webhook-Timestamp")
	if rawTS == "" {
		return errors.New("missing timestamp header")
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return errors.New("malformed timestamp header")
	}

	skew := h.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > h.maxSkew {
		return errors.New("timestamp outside accepted window")
	}

	provided := strings.TrimPrefix(r.Header.Get("X-Webhook-Signature"), "sha256=")
	if provided == "" {
		return errors.New("missing signature header")
	}
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return errors.New("malformed signature header")
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(rawTS))
	mac.Write([]byte("."))
	mac.Write(body)
	if !hmac.Equal(decoded, mac.Sum(nil)) {
		return errors.New("signature mismatch")
	}
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":           code,
			"message":        message,
			"correlation_id": middleware.GetCorrelationID(r.Context()),
		},
	})
}
