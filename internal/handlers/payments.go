package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jimclydegm/logotoanythingapp/internal/billing"
)

// Billing is the checkout, portal and reconciliation surface.
type Billing interface {
	StartCheckout(ctx context.Context, userID, email, priceID string) (string, error)
	PortalURL(ctx context.Context, userID string) (string, error)
	VerifyPayment(ctx context.Context, userID, sessionID string) (billing.VerifyResult, error)
}

// Checkout starts a hosted checkout for a catalog price: POST /api/payment.
func Checkout(svc Billing, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req struct {
			PriceID string `json:"priceId"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		req.PriceID = strings.TrimSpace(req.PriceID)
		if req.PriceID == "" {
			writeError(w, http.StatusBadRequest, "Price ID is required")
			return
		}

		url, err := svc.StartCheckout(r.Context(), user.ID, user.Email, req.PriceID)
		switch {
		case errors.Is(err, billing.ErrUnknownPrice):
			writeError(w, http.StatusBadRequest, "Invalid price ID")
			return
		case errors.Is(err, billing.ErrActiveSubscription):
			writeError(w, http.StatusBadRequest, "You already have an active subscription. Manage it from the customer portal.")
			return
		case errors.Is(err, billing.ErrMissingEmail):
			writeError(w, http.StatusBadRequest, "User email not found")
			return
		case err != nil:
			serverError(w, r, log, http.StatusInternalServerError, "Failed to create checkout session", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessionUrl": url})
	}
}

// VerifyPayment credits a completed checkout when the webhook has not done
// so yet: POST /api/verify-payment.
func VerifyPayment(svc Billing, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req struct {
			SessionID string `json:"sessionId"`
		}
		if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.SessionID) == "" {
			writeError(w, http.StatusBadRequest, "Session ID is required")
			return
		}

		res, err := svc.VerifyPayment(r.Context(), user.ID, strings.TrimSpace(req.SessionID))
		switch {
		case errors.Is(err, billing.ErrSessionUserMismatch):
			writeError(w, http.StatusForbidden, "Session does not belong to this user")
			return
		case isAny(err, billing.ErrSessionNotPaid, billing.ErrInvalidSession):
			writeError(w, http.StatusBadRequest, "Payment not completed")
			return
		case err != nil:
			serverError(w, r, log, http.StatusInternalServerError, "Failed to verify payment", err)
			return
		}

		switch {
		case res.AlreadyProcessed:
			writeJSON(w, http.StatusOK, map[string]any{
				"success":          true,
				"alreadyProcessed": true,
				"message":          "Payment already processed",
			})
		case res.Subscription:
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"message": "Subscription payment verified. Your plan will be activated shortly.",
			})
		default:
			writeJSON(w, http.StatusOK, map[string]any{
				"success":   true,
				"paymentId": res.PaymentID,
				"credits": map[string]int{
					"added": res.CreditsAdded,
					"total": res.Balance,
				},
			})
		}
	}
}

// CustomerPortal opens the Stripe billing portal: POST /api/customer-portal.
func CustomerPortal(svc Billing, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}

		url, err := svc.PortalURL(r.Context(), user.ID)
		if errors.Is(err, billing.ErrNoCustomer) {
			writeError(w, http.StatusBadRequest, "No billing account found for this user")
			return
		}
		if err != nil {
			serverError(w, r, log, http.StatusInternalServerError, "Failed to create customer portal session", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url})
	}
}
