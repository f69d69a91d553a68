package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/pkg/logger"
)

// DefaultMaxBodySize caps the webhook body read into memory.
const DefaultMaxBodySize int64 = 1 << 20

// Handler exposes the Ingestor over HTTP.
type Handler struct {
	ingestor *Ingestor
	maxBody  int64
	log      *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMaxBodySize caps the request body. Larger bodies are rejected with 413
// before any signature check. Non-positive values keep DefaultMaxBodySize.
func WithMaxBodySize(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithHandlerLogger sets the logger used for 5xx responses. Client errors
// are not logged here; the Ingestor already logs rejected deliveries.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.log = l }
}

// NewHandler creates a Handler around ingestor.
// Panics if ingestor is nil.
func NewHandler(ingestor *Ingestor, opts ...HandlerOption) *Handler {
	if ingestor == nil {
		panic("webhooks: ingestor is required")
	}
	h := &Handler{ingestor: ingestor, maxBody: DefaultMaxBodySize, log: logger.Discard()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes serves POST /{provider}. Mount it under /webhooks.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{provider}", h.receive)
	return r
}

// receive reads the raw body and hands it to the Ingestor unchanged. The body
// must not be decoded or re-encoded before verification, since signatures
// cover the exact bytes.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = ErrPayloadTooLarge
		}
		h.fail(w, r, provider, err)
		return
	}

	if _, err := h.ingestor.Ingest(r.Context(), provider, payload, r.Header); err != nil {
		h.fail(w, r, provider, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, provider string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "webhook request failed", logger.Provider(provider), logger.Error(err))
	}
	writeJSON(w, status, map[string]any{"error": http.StatusText(status)})
}

// statusFor maps ingest errors to response codes. Providers redeliver on any
// non-2xx answer, so only errors that a retry can fix may map to 409 or 5xx.
// Everything the sender got wrong is a 4xx.
func statusFor(err error) int {
	switch {
	case errors.Is(err, billing.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, billing.ErrMissingSignature),
		errors.Is(err, billing.ErrInvalidSignature),
		errors.Is(err, billing.ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrEventInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
