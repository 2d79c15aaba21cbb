package billing

import (
	"context"
	"errors"
	"fmt"

	stripeapi "github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"

	"github.com/jimclydegm/logotoanythingapp/internal/store"
)

// VerifyResult is the outcome of a client-side payment verification.
type VerifyResult struct {
	AlreadyProcessed bool
	Subscription     bool
	PaymentID        string
	CreditsAdded     int
	Balance          int
}

// VerifyPayment is the client fallback for a delayed or lost webhook. It
// credits the caller for sessionID unless the session was already credited.
func (s *Service) VerifyPayment(ctx context.Context, userID, sessionID string) (VerifyResult, error) {
	existing, err := s.ledger.PaymentForSession(ctx, sessionID)
	switch {
	case err == nil:
		if existing.UserID != userID {
			return VerifyResult{}, ErrSessionUserMismatch
		}
		return VerifyResult{AlreadyProcessed: true, PaymentID: existing.ID}, nil
	case !errors.Is(err, store.ErrNotFound):
		return VerifyResult{}, Error.New("lookup payment: %w", err)
	}

	sess, err := s.payments.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return VerifyResult{}, err
	}

	if sess.Metadata["userId"] != userID {
		return VerifyResult{}, ErrSessionUserMismatch
	}
	if sess.Status != stripeapi.CheckoutSessionStatusComplete || sess.PaymentStatus != stripeapi.CheckoutSessionPaymentStatusPaid {
		return VerifyResult{}, ErrSessionNotPaid
	}

	// Subscription activation is owned by the webhook.
	if sess.Mode == stripeapi.CheckoutSessionModeSubscription {
		return VerifyResult{Subscription: true}, nil
	}

	res, credits, err := s.grantSession(ctx, sess)
	if err != nil {
		return VerifyResult{}, err
	}

	s.log.Info("payment verified by client",
		zap.String("user_id", userID),
		zap.String("session_id", sess.ID),
		zap.Bool("created", res.Created),
	)

	if !res.Created {
		return VerifyResult{AlreadyProcessed: true, PaymentID: res.PaymentID, Balance: res.Balance}, nil
	}
	return VerifyResult{PaymentID: res.PaymentID, CreditsAdded: credits, Balance: res.Balance}, nil
}

// grantSession credits a paid one-time checkout session exactly once.
func (s *Service) grantSession(ctx context.Context, sess *stripeapi.CheckoutSession) (store.GrantResult, int, error) {
	userID := sess.Metadata["userId"]
	plan := NormalizePlan(sess.Metadata["plan"])
	if userID == "" || plan == "" {
		return store.GrantResult{}, 0, fmt.Errorf("%w: session %s", ErrInvalidSession, sess.ID)
	}

	credits := s.catalog.PlanCredits(plan)
	if credits == 0 {
		return store.GrantResult{}, 0, fmt.Errorf("%w: session %s has unknown plan %q", ErrInvalidSession, sess.ID, plan)
	}

	paymentIntentID := "session_" + sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		paymentIntentID = sess.PaymentIntent.ID
	}

	res, err := s.ledger.GrantPurchase(ctx, store.PurchaseGrant{
		UserID:          userID,
		SessionID:       sess.ID,
		PaymentIntentID: paymentIntentID,
		AmountCents:     sess.AmountSubtotal,
		Currency:        string(sess.Currency),
		Description:     planTitle(plan) + " credits purchase",
		Credits:         credits,
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.GrantResult{}, 0, Error.New("grant session %s: profile %s not found", sess.ID, userID)
	}
	if err != nil {
		return store.GrantResult{}, 0, err
	}
	return res, credits, nil
}
