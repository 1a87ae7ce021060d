package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"pdf2audio/internal/apperr"

	"github.com/rs/zerolog"
)

// maxWebhookBytes bounds webhook payload size; billing events are small.
const maxWebhookBytes = 1 << 20

// WebhookProcessor verifies and applies a raw billing webhook delivery.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, rawBody []byte, signature string) error
}

// WebhookHandler receives billing provider callbacks.
type WebhookHandler struct {
	paddleService WebhookProcessor
	logger        zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(paddleService WebhookProcessor, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		paddleService: paddleService,
		logger:        logger.With().Str("handler", "WebhookHandler").Logger(),
	}
}

// RegisterRoutes mounts the webhook endpoint. No auth middleware: the
// request is authenticated by its HMAC signature instead.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/webhooks/paddle", http.HandlerFunc(h.handlePaddle))
}

func (h *WebhookHandler) handlePaddle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Paddle-Signature")
	if signature == "" {
		signature = r.Header.Get("x-paddle-signature")
	}

	if err := h.paddleService.HandleWebhook(r.Context(), rawBody, signature); err != nil {
		switch {
		case errors.Is(err, apperr.ErrSignatureInvalid):
			h.logger.Warn().Msg("Rejected webhook with invalid signature")
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
		case errors.Is(err, apperr.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			// Non-2xx tells the provider to redeliver; handlers are idempotent
			// so the retry is safe.
			h.logger.Error().Err(err).Msg("Failed to process webhook")
			http.Error(w, "Failed to process webhook", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}
