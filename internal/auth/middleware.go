package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Session cookie names shared with the web app.
const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"
)

// Method reports where a request's token came from.
type Method string

const (
	MethodNone   Method = "none"
	MethodHeader Method = "header"
	MethodCookie Method = "cookie"
)

// ErrNoToken is returned when the request carries no credentials.
var ErrNoToken = errors.New("auth: no access token")

// TokenVerifier checks an access token.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// Authenticator resolves the caller of a request.
type Authenticator struct {
	verifier TokenVerifier
	log      *zap.Logger
}

// NewAuthenticator returns an Authenticator backed by verifier.
func NewAuthenticator(verifier TokenVerifier, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{verifier: verifier, log: log}
}

// Authenticate reads the bearer token from the Authorization header, falling
// back to the session cookie, and verifies it.
func (a *Authenticator) Authenticate(r *http.Request) (User, Method, error) {
	token, method := requestToken(r)
	if token == "" {
		return User{}, MethodNone, ErrNoToken
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return User{}, method, err
	}
	return User{ID: claims.Subject, Email: claims.Email}, method, nil
}

// Require rejects unauthenticated requests with 401 and stores the caller in
// the request context otherwise.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, method, err := a.Authenticate(r)
		if err != nil {
			if !errors.Is(err, ErrNoToken) {
				a.log.Debug("auth failure", zap.String("path", r.URL.Path), zap.String("method", string(method)), zap.Error(err))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// HasAuthHeader reports whether the request sent an Authorization header.
func HasAuthHeader(r *http.Request) bool {
	return strings.TrimSpace(r.Header.Get("Authorization")) != ""
}

func requestToken(r *http.Request) (string, Method) {
	if token, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		return token, MethodHeader
	}
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value, MethodCookie
	}
	return "", MethodNone
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
