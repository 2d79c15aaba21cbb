package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jimclydegm/logotoanythingapp/internal/generation"
)

// Generator runs paid generations.
type Generator interface {
	Run(ctx context.Context, req generation.Request) (generation.Result, error)
}

// Generate places a logo into a described scene: POST /api/put-logo-to-anything.
func Generate(gen Generator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req struct {
			LogoURL           string `json:"logoUrl"`
			LogoDescription   string `json:"logoDescription"`
			DestinationPrompt string `json:"destinationPrompt"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		if strings.TrimSpace(req.LogoURL) == "" || strings.TrimSpace(req.LogoDescription) == "" || strings.TrimSpace(req.DestinationPrompt) == "" {
			writeError(w, http.StatusBadRequest, "Missing required fields: logoUrl, logoDescription, and destinationPrompt are required")
			return
		}

		res, err := gen.Run(r.Context(), generation.Request{
			UserID:            user.ID,
			LogoURL:           req.LogoURL,
			LogoDescription:   req.LogoDescription,
			DestinationPrompt: req.DestinationPrompt,
			IPAddress:         clientIP(r),
			UserAgent:         r.UserAgent(),
		})

		var insufficient *generation.InsufficientCreditsError
		switch {
		case errors.As(err, &insufficient):
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":           "Insufficient credits",
				"message":         "You need to buy more credits to continue",
				"requiredCredits": insufficient.Required,
				"currentCredits":  insufficient.Current,
			})
			return
		case errors.Is(err, generation.ErrGenerationTimeout):
			serverError(w, r, log, http.StatusGatewayTimeout, "Image generation failed", err)
			return
		case err != nil:
			serverError(w, r, log, http.StatusInternalServerError, "Image generation failed", err)
			return
		}

		var generationID any
		if res.GenerationID != "" {
			generationID = res.GenerationID
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"imageUrl":     res.ImageURL,
			"generationId": generationID,
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop. RealIP has usually
// rewritten RemoteAddr already.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
