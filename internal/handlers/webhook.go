package handlers

import (
	"context"
	"io"
	"net/http"

	stripeapi "github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"
)

// maxWebhookBody matches the body limit Stripe documents for event payloads.
const maxWebhookBody = 65536

// EventVerifier authenticates a Stripe webhook payload.
type EventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripeapi.Event, error)
}

// EventHandler applies a verified event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event stripeapi.Event) error
}

// Webhook receives Stripe events: POST /api/webhook.
func Webhook(verifier EventVerifier, events EventHandler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		signature := r.Header.Get("Stripe-Signature")
		if signature == "" {
			writeError(w, http.StatusBadRequest, "Missing stripe-signature header")
			return
		}

		event, err := verifier.ConstructEvent(body, signature)
		if err != nil {
			log.Warn("webhook signature rejected", zap.Error(err))
			writeError(w, http.StatusBadRequest, "Webhook Error: "+err.Error())
			return
		}

		log.Info("webhook received", zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))
		if err := events.HandleEvent(r.Context(), event); err != nil {
			serverError(w, r, log, http.StatusInternalServerError, "Webhook handler failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
	}
}
