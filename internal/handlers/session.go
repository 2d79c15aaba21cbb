package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jimclydegm/logotoanythingapp/internal/auth"
)

// Authenticator resolves the caller of a request without rejecting it.
type Authenticator interface {
	Authenticate(r *http.Request) (auth.User, auth.Method, error)
}

// SessionClient is the GoTrue surface used by the login flow.
type SessionClient interface {
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*auth.Session, error)
	SignOut(ctx context.Context, token string) error
}

// ProfileEnsurer creates a profile row for a first-time user.
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, userID, email string) error
}

// codeVerifierCookie is where the web app keeps the PKCE verifier.
const codeVerifierCookie = "sb-code-verifier"

const refreshCookieTTL = 30 * 24 * time.Hour

// VerifySession reports whether the request is authenticated. It always
// answers 200: GET /api/verify-session.
func VerifySession(a Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, method, err := a.Authenticate(r)
		payload := map[string]any{
			"isAuthenticated": err == nil,
			"userId":          nil,
			"authMethod":      string(method),
			"authError":       nil,
			"hasAuthHeader":   auth.HasAuthHeader(r),
		}
		if err == nil {
			payload["userId"] = user.ID
		} else {
			payload["authError"] = err.Error()
		}
		writeJSON(w, http.StatusOK, payload)
	}
}

// AuthCallback finishes the PKCE sign-in: GET /auth/callback?code&next.
func AuthCallback(client SessionClient, profiles ProfileEnsurer, appURL string, log *zap.Logger) http.HandlerFunc {
	appURL = strings.TrimRight(appURL, "/")
	secure := strings.HasPrefix(appURL, "https://")

	return func(w http.ResponseWriter, r *http.Request) {
		fail := func(msg string) {
			http.Redirect(w, r, appURL+"/auth/auth-code-error?error="+url.QueryEscape(msg), http.StatusSeeOther)
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			fail("No code provided")
			return
		}
		var verifier string
		if c, err := r.Cookie(codeVerifierCookie); err == nil {
			verifier = c.Value
		}

		sess, err := client.ExchangeCode(r.Context(), code, verifier)
		if err != nil {
			log.Warn("auth code exchange failed", zap.Error(err))
			fail(err.Error())
			return
		}
		if err := profiles.EnsureProfile(r.Context(), sess.User.ID, sess.User.Email); err != nil {
			log.Error("ensure profile", zap.String("user_id", sess.User.ID), zap.Error(err))
		}

		expires := time.Duration(sess.ExpiresIn) * time.Second
		if expires <= 0 {
			expires = time.Hour
		}
		http.SetCookie(w, sessionCookie(auth.AccessTokenCookie, sess.AccessToken, expires, secure))
		http.SetCookie(w, sessionCookie(auth.RefreshTokenCookie, sess.RefreshToken, refreshCookieTTL, secure))
		http.SetCookie(w, sessionCookie(codeVerifierCookie, "", -1, secure))

		log.Info("user signed in", zap.String("user_id", sess.User.ID))
		http.Redirect(w, r, appURL+safeNext(r.URL.Query().Get("next")), http.StatusSeeOther)
	}
}

// SignOut revokes the caller's session and clears the cookies:
// POST /api/auth/signout.
func SignOut(client SessionClient, appURL string, log *zap.Logger) http.HandlerFunc {
	secure := strings.HasPrefix(appURL, "https://")
	return func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if h := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(h), "bearer ") {
			token = strings.TrimSpace(h[len("bearer "):])
		} else if c, err := r.Cookie(auth.AccessTokenCookie); err == nil {
			token = c.Value
		}

		if token != "" {
			if err := client.SignOut(r.Context(), token); err != nil {
				log.Warn("sign out", zap.Error(err))
			}
		}
		http.SetCookie(w, sessionCookie(auth.AccessTokenCookie, "", -1, secure))
		http.SetCookie(w, sessionCookie(auth.RefreshTokenCookie, "", -1, secure))
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func sessionCookie(name, value string, ttl time.Duration, secure bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(ttl.Seconds())
	}
	return c
}

// safeNext keeps redirects on the app origin.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return "/"
	}
	return next
}
