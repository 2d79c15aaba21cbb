package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/jimclydegm/logotoanythingapp/internal/models"
	"github.com/jimclydegm/logotoanythingapp/internal/store"
)

const dashboardPageSize = 50

// AccountStore reads the caller's own records.
type AccountStore interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	ListPayments(ctx context.Context, userID string, limit int) ([]models.Payment, error)
	ListGenerations(ctx context.Context, userID string, limit int) ([]models.Generation, error)
	ActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error)
}

// Profile returns the caller's profile: GET /api/profile.
func Profile(accounts AccountStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		profile, err := accounts.GetProfile(r.Context(), user.ID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Profile not found")
			return
		}
		if err != nil {
			serverError(w, r, log, http.StatusInternalServerError, "Failed to load profile", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
	}
}

// Payments lists the caller's purchases, newest first: GET /api/payments.
func Payments(accounts AccountStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		payments, err := accounts.ListPayments(r.Context(), user.ID, pageSize(r))
		if err != nil {
			serverError(w, r, log, http.StatusInternalServerError, "Failed to load payments", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
	}
}

// Generations lists the caller's generations, newest first:
// GET /api/generations?limit=.
func Generations(accounts AccountStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		gens, err := accounts.ListGenerations(r.Context(), user.ID, pageSize(r))
		if err != nil {
			serverError(w, r, log, http.StatusInternalServerError, "Failed to load generations", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"generations": gens})
	}
}

// Subscription returns the caller's active subscription or null:
// GET /api/subscription.
func Subscription(accounts AccountStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		sub, err := accounts.ActiveSubscription(r.Context(), user.ID)
		if err != nil {
			serverError(w, r, log, http.StatusInternalServerError, "Failed to load subscription", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscription": sub})
	}
}

func pageSize(r *http.Request) int {
	limit := dashboardPageSize
	if override := r.URL.Query().Get("limit"); override != "" {
		if parsed, err := strconv.Atoi(override); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}
