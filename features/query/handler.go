package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"presswise/backend/internal/middleware"
	"presswise/backend/internal/tenant"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type askBody struct {
	OrganizationID      string  `json:"organization_id"`
	SiteID              string  `json:"site_id"`
	UserID              string  `json:"user_id"`
	Question            string  `json:"question"`
	Provider            string  `json:"provider"`
	Model               string  `json:"model"`
	MaxChunks           int     `json:"max_chunks"`
	SimilarityThreshold float32 `json:"similarity_threshold"`
	ContentType         string  `json:"content_type"`
	MaxTokens           int     `json:"max_tokens"`
	Temperature         float32 `json:"temperature"`
	Stream              bool    `json:"stream"`
}

// Ask handles POST /query. With stream=true the answer is flushed
// incrementally as SSE-style data lines, metadata going out as response
// headers before the first fragment.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var body askBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, "VALIDATION_ERROR", "invalid JSON body", http.StatusBadRequest)
		return
	}

	req := Request{
		Tenant:              tenant.Tenant{OrganizationID: body.OrganizationID, SiteID: body.SiteID},
		Question:            body.Question,
		UserID:              body.UserID,
		Provider:            body.Provider,
		Model:               body.Model,
		MaxChunks:           body.MaxChunks,
		SimilarityThreshold: body.SimilarityThreshold,
		ContentType:         body.ContentType,
		MaxTokens:           body.MaxTokens,
		Temperature:         body.Temperature,
	}

	if body.Stream {
		h.askStream(w, r, req)
		return
	}

	resp, err := h.service.Ask(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

func (h *Handler) askStream(w http.ResponseWriter, r *http.Request, req Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, "INTERNAL_ERROR", "streaming not supported", http.StatusInternalServerError)
		return
	}

	sink := &sseSink{w: w, flusher: flusher}
	_, err := h.service.AskStream(r.Context(), req, sink)
	if err != nil {
		if !sink.headersSent {
			h.writeServiceError(w, r, err)
			return
		}
		// Mid-stream failure: the status line is gone, signal in-band.
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", errCode(err))
		flusher.Flush()
		return
	}

	if sink.headersSent {
		fmt.Fprint(w, "event: done\ndata: [DONE]\n\n")
		flusher.Flush()
	}
}

type sseSink struct {
	w           http.ResponseWriter
	flusher     http.Flusher
	headersSent bool
}

func (s *sseSink) Preamble(meta StreamMeta) error {
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.Header().Set("X-Interaction-ID", meta.InteractionID)
	s.w.Header().Set("X-Provider", meta.Provider)
	s.w.Header().Set("X-Model", meta.Model)
	s.w.Header().Set("X-Fallback-Used", strconv.FormatBool(meta.FallbackUsed))
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
	s.headersSent = true
	return nil
}

func (s *sseSink) Token(token string) error {
	payload, err := json.Marshal(map[string]string{"text": token})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenant.ErrInvalidTenant):
		h.writeError(w, r, "INVALID_TENANT", err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrEmptyQuestion), errors.Is(err, ErrUnknownProvider):
		h.writeError(w, r, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrAdmissionDenied):
		h.writeError(w, r, "ADMISSION_DENIED", err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, ErrAllProviders):
		h.writeError(w, r, "PROVIDER_FAILURE", err.Error(), http.StatusBadGateway)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful left to write.
	default:
		slog.ErrorContext(r.Context(), "query failed", "error", err)
		h.writeError(w, r, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
	}
}

func errCode(err error) string {
	if errors.Is(err, ErrAllProviders) {
		return "PROVIDER_FAILURE"
	}
	return "INTERNAL_ERROR"
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
