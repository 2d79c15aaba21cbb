package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	gotrue "github.com/supabase-community/auth-go"
	"github.com/supabase-community/auth-go/types"
)

// Session is a GoTrue token response.
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	User         User
}

// Client calls the Supabase GoTrue API for the login flow.
type Client struct {
	api gotrue.Client
}

// NewClient returns a GoTrue client for the project at supabaseURL.
func NewClient(supabaseURL, anonKey string) *Client {
	api := gotrue.New("", anonKey).
		WithCustomAuthURL(strings.TrimRight(supabaseURL, "/") + "/auth/v1").
		WithClient(http.Client{Timeout: 10 * time.Second})
	return &Client{api: api}
}

// ExchangeCode trades a PKCE auth code for a session.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, Error.Wrap(err)
	}
	resp, err := c.api.Token(types.TokenRequest{
		GrantType:    "pkce",
		Code:         code,
		CodeVerifier: codeVerifier,
	})
	if err != nil {
		return nil, Error.New("exchange code: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, Error.New("token exchange returned no access token")
	}
	return &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    resp.ExpiresIn,
		User:         User{ID: resp.User.ID.String(), Email: resp.User.Email},
	}, nil
}

// SignOut revokes the session behind token.
func (c *Client) SignOut(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return Error.Wrap(err)
	}
	if err := c.api.WithToken(token).Logout(); err != nil {
		return Error.New("sign out: %w", err)
	}
	return nil
}
