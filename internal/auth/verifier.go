// Package auth verifies Supabase access tokens and talks to the GoTrue API.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/zeebo/errs"
)

// Error is the class for auth failures.
var Error = errs.Class("auth")

// Audience is the aud claim Supabase puts on signed-in user tokens.
const Audience = "authenticated"

const defaultLeeway = 30 * time.Second

// Claims are the verified token fields the service uses.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// VerifierConfig selects how token signatures are checked. A non-empty
// Secret verifies HS256 tokens; otherwise keys are fetched from JWKSURL,
// which defaults to the project's well-known endpoint.
type VerifierConfig struct {
	SupabaseURL string
	Secret      string
	JWKSURL     string
}

// Verifier validates Supabase access tokens locally.
type Verifier struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

// NewVerifier builds a verifier. With JWKS the initial key fetch is bound to ctx.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.SupabaseURL), "/")
	if base == "" {
		return nil, Error.New("supabase url must be set")
	}
	issuer := base + "/auth/v1"

	var (
		kf      jwt.Keyfunc
		methods []string
	)
	if cfg.Secret != "" {
		secret := []byte(cfg.Secret)
		kf = func(*jwt.Token) (any, error) { return secret, nil }
		methods = []string{jwt.SigningMethodHS256.Name}
	} else {
		jwksURL := cfg.JWKSURL
		if jwksURL == "" {
			jwksURL = issuer + "/.well-known/jwks.json"
		}
		k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
		if err != nil {
			return nil, Error.New("init JWKS keyfunc: %w", err)
		}
		kf = k.Keyfunc
		methods = []string{jwt.SigningMethodRS256.Name, jwt.SigningMethodES256.Name}
	}

	return &Verifier{
		keyfunc: kf,
		parser: jwt.NewParser(
			jwt.WithIssuer(issuer),
			jwt.WithAudience(Audience),
			jwt.WithLeeway(defaultLeeway),
			jwt.WithExpirationRequired(),
			jwt.WithValidMethods(methods),
		),
	}, nil
}

// Verify parses and validates a token.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, v.keyfunc)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if !parsed.Valid {
		return nil, Error.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, Error.New("token missing sub")
	}
	return claims, nil
}
