// Package stripe wraps the Stripe SDK calls the billing flows depend on.
package stripe

import (
	"context"
	"errors"
	"fmt"

	stripeapi "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"github.com/zeebo/errs"
)

var (
	// Error is the class for Stripe API failures.
	Error = errs.Class("stripe")

	// ErrInvalidSignature is returned when a webhook payload fails signature verification.
	ErrInvalidSignature = errors.New("stripe: invalid webhook signature")
)

// Config configures a Client. BaseURL overrides the API endpoint and is only
// set in tests.
type Config struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
}

// Client is an explicitly constructed Stripe API client. It holds no
// package-level state so several instances can coexist.
type Client struct {
	api           *client.API
	webhookSecret string
}

// NewClient creates a new Stripe API client
func NewClient(cfg Config) *Client {
	var backends *stripeapi.Backends
	if cfg.BaseURL != "" {
		retries := int64(0)
		backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
			URL:               stripeapi.String(cfg.BaseURL),
			MaxNetworkRetries: &retries,
		})
		backends = &stripeapi.Backends{API: backend, Connect: backend, Uploads: backend}
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, backends)
	return &Client{api: api, webhookSecret: cfg.WebhookSecret}
}

// CheckoutRequest describes a single-item checkout session.
type CheckoutRequest struct {
	PriceID       string
	Mode          stripeapi.CheckoutSessionMode
	CustomerID    string
	CustomerEmail string
	Metadata      map[string]string
	SuccessURL    string
	CancelURL     string
}

// CreateCheckoutSession creates a hosted checkout session with promotion codes enabled.
// An existing customer id takes precedence over the email.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*stripeapi.CheckoutSession, error) {
	params := &stripeapi.CheckoutSessionParams{
		Mode:               stripeapi.String(string(req.Mode)),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{{
			Price:    stripeapi.String(req.PriceID),
			Quantity: stripeapi.Int64(1),
		}},
		SuccessURL:          stripeapi.String(req.SuccessURL),
		CancelURL:           stripeapi.String(req.CancelURL),
		AllowPromotionCodes: stripeapi.Bool(true),
		Metadata:            req.Metadata,
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripeapi.String(req.CustomerID)
	} else {
		params.CustomerEmail = stripeapi.String(req.CustomerEmail)
	}

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, Error.New("create checkout session: %w", err)
	}
	return sess, nil
}

// GetCheckoutSession retrieves a checkout session by id.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*stripeapi.CheckoutSession, error) {
	params := &stripeapi.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := c.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, Error.New("get checkout session %s: %w", id, err)
	}
	return sess, nil
}

// GetSubscription retrieves a subscription by id.
func (c *Client) GetSubscription(ctx context.Context, id string) (*stripeapi.Subscription, error) {
	params := &stripeapi.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, Error.New("get subscription %s: %w", id, err)
	}
	return sub, nil
}

// CreatePortalSession opens a billing-portal session for an existing customer.
func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripeapi.BillingPortalSession, error) {
	params := &stripeapi.BillingPortalSessionParams{
		Customer:  stripeapi.String(customerID),
		ReturnURL: stripeapi.String(returnURL),
	}
	params.Context = ctx

	sess, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, Error.New("create portal session: %w", err)
	}
	return sess, nil
}

// ConstructEvent verifies the Stripe-Signature header against the raw body
// and decodes the event. Account API version drift is tolerated.
func (c *Client) ConstructEvent(payload []byte, signature string) (stripeapi.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripeapi.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}
