package billing

import (
	"context"
	"errors"

	stripeapi "github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"

	"github.com/jimclydegm/logotoanythingapp/internal/store"
	"github.com/jimclydegm/logotoanythingapp/internal/stripe"
)

// StartCheckout validates priceID against the catalog and creates a hosted
// checkout session for the user. It returns the redirect URL. Nothing is
// persisted until the purchase completes.
func (s *Service) StartCheckout(ctx context.Context, userID, email, priceID string) (string, error) {
	price, err := s.catalog.Lookup(priceID)
	if err != nil {
		return "", err
	}

	profile, err := s.ledger.GetProfile(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", Error.New("load profile: %w", err)
	}

	if price.Kind == KindSubscription && profile.HasActiveSubscription() {
		return "", ErrActiveSubscription
	}

	req := stripe.CheckoutRequest{
		PriceID:    price.ID,
		Mode:       stripeapi.CheckoutSessionModePayment,
		Metadata:   map[string]string{"userId": userID, "plan": price.Plan},
		SuccessURL: s.appURL + "/pricing?success=true&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.appURL + "/pricing?canceled=true",
	}
	if price.Kind == KindSubscription {
		req.Mode = stripeapi.CheckoutSessionModeSubscription
	}

	if profile != nil && profile.StripeCustomerID != nil && *profile.StripeCustomerID != "" {
		req.CustomerID = *profile.StripeCustomerID
	} else {
		if email == "" {
			return "", ErrMissingEmail
		}
		req.CustomerEmail = email
	}

	sess, err := s.payments.CreateCheckoutSession(ctx, req)
	if err != nil {
		return "", err
	}

	s.log.Info("checkout session created",
		zap.String("user_id", userID),
		zap.String("session_id", sess.ID),
		zap.String("plan", price.Plan),
		zap.String("mode", string(req.Mode)),
	)
	return sess.URL, nil
}

// PortalURL opens a billing-portal session for the user's Stripe customer.
func (s *Service) PortalURL(ctx context.Context, userID string) (string, error) {
	profile, err := s.ledger.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNoCustomer
	}
	if err != nil {
		return "", Error.New("load profile: %w", err)
	}
	if profile.StripeCustomerID == nil || *profile.StripeCustomerID == "" {
		return "", ErrNoCustomer
	}

	sess, err := s.payments.CreatePortalSession(ctx, *profile.StripeCustomerID, s.appURL+"/pricing")
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}
