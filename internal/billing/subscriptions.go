package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripeapi "github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"

	"github.com/jimclydegm/logotoanythingapp/internal/models"
	"github.com/jimclydegm/logotoanythingapp/internal/store"
)

// statusMap translates Stripe subscription statuses into the internal vocabulary.
var statusMap = map[stripeapi.SubscriptionStatus]models.SubscriptionStatus{
	stripeapi.SubscriptionStatusActive:            models.SubscriptionActive,
	stripeapi.SubscriptionStatusCanceled:          models.SubscriptionCanceled,
	stripeapi.SubscriptionStatusIncomplete:        models.SubscriptionUnpaid,
	stripeapi.SubscriptionStatusIncompleteExpired: models.SubscriptionCanceled,
	stripeapi.SubscriptionStatusPastDue:           models.SubscriptionPastDue,
	stripeapi.SubscriptionStatusTrialing:          models.SubscriptionTrialing,
	stripeapi.SubscriptionStatusUnpaid:            models.SubscriptionUnpaid,
}

// MapStatus returns the internal status for a Stripe status. Unknown values map to unpaid.
func MapStatus(status stripeapi.SubscriptionStatus) models.SubscriptionStatus {
	if s, ok := statusMap[status]; ok {
		return s
	}
	return models.SubscriptionUnpaid
}

// HandleEvent applies a verified webhook event. Event types that billing does
// not act on are ignored and return nil.
func (s *Service) HandleEvent(ctx context.Context, event stripeapi.Event) error {
	log := s.log.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))
	if event.Data == nil {
		return Error.New("event %s has no data", event.ID)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var sess stripeapi.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return Error.New("decode checkout session: %w", err)
		}
		err := s.checkoutCompleted(ctx, log, &sess)
		if errors.Is(err, ErrInvalidSession) {
			// Redelivery cannot repair the metadata; acknowledge and leave it for manual review.
			log.Error("checkout session cannot be fulfilled", zap.String("session_id", sess.ID), zap.Error(err))
			return nil
		}
		return err

	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripeapi.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return Error.New("decode subscription: %w", err)
		}
		return s.syncSubscription(ctx, log, &sub)

	case "customer.subscription.deleted":
		var sub stripeapi.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return Error.New("decode subscription: %w", err)
		}
		userID, err := s.ledger.CancelSubscription(ctx, sub.ID, s.now())
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("canceled subscription is unknown", zap.String("subscription_id", sub.ID))
			return nil
		}
		if err != nil {
			return err
		}
		log.Info("subscription canceled", zap.String("subscription_id", sub.ID), zap.String("user_id", userID))
		return nil

	case "invoice.paid":
		var inv stripeapi.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return Error.New("decode invoice: %w", err)
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			log.Debug("invoice has no subscription", zap.String("invoice_id", inv.ID))
			return nil
		}
		sub, err := s.payments.GetSubscription(ctx, inv.Subscription.ID)
		if err != nil {
			return err
		}
		return s.syncSubscription(ctx, log, sub)

	default:
		log.Debug("ignoring webhook event")
		return nil
	}
}

func (s *Service) checkoutCompleted(ctx context.Context, log *zap.Logger, sess *stripeapi.CheckoutSession) error {
	if sess.Mode == stripeapi.CheckoutSessionModeSubscription {
		return s.activateSubscription(ctx, log, sess)
	}

	if sess.PaymentStatus != stripeapi.CheckoutSessionPaymentStatusPaid {
		log.Info("checkout completed without payment yet", zap.String("session_id", sess.ID), zap.String("payment_status", string(sess.PaymentStatus)))
		return nil
	}

	res, credits, err := s.grantSession(ctx, sess)
	if err != nil {
		return err
	}
	log.Info("payment reconciled",
		zap.String("session_id", sess.ID),
		zap.String("payment_id", res.PaymentID),
		zap.Bool("created", res.Created),
		zap.Int("credits", credits),
		zap.Int("balance", res.Balance),
	)
	return nil
}

func (s *Service) activateSubscription(ctx context.Context, log *zap.Logger, sess *stripeapi.CheckoutSession) error {
	userID := sess.Metadata["userId"]
	if userID == "" || sess.Subscription == nil || sess.Subscription.ID == "" {
		return fmt.Errorf("%w: subscription session %s", ErrInvalidSession, sess.ID)
	}

	sub, err := s.payments.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		return err
	}

	record, state := s.subscriptionState(sub, sess.Metadata["plan"])
	record.UserID = userID
	if record.StripeCustomerID == "" && sess.Customer != nil {
		record.StripeCustomerID = sess.Customer.ID
		state.StripeCustomerID = sess.Customer.ID
	}

	if err := s.ledger.ActivateSubscription(ctx, record, state); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Error.New("activate subscription %s: profile %s not found", sub.ID, userID)
		}
		return err
	}
	log.Info("subscription activated",
		zap.String("user_id", userID),
		zap.String("subscription_id", sub.ID),
		zap.String("plan", record.Plan),
		zap.Int("credits", state.Credits),
	)
	return nil
}

func (s *Service) syncSubscription(ctx context.Context, log *zap.Logger, sub *stripeapi.Subscription) error {
	record, state := s.subscriptionState(sub, "")
	userID, err := s.ledger.SyncSubscription(ctx, record, state)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("subscription not found locally", zap.String("subscription_id", sub.ID))
		return nil
	}
	if err != nil {
		return err
	}
	log.Info("subscription synced",
		zap.String("user_id", userID),
		zap.String("subscription_id", sub.ID),
		zap.String("status", string(record.Status)),
		zap.Int("credits", state.Credits),
	)
	return nil
}

// subscriptionState derives the subscription row and the profile summary from
// a Stripe subscription. planHint wins over price resolution when set.
func (s *Service) subscriptionState(sub *stripeapi.Subscription, planHint string) (models.Subscription, models.SubscriptionState) {
	var (
		priceID, nickname string
		annual            bool
	)
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		price := sub.Items.Data[0].Price
		priceID = price.ID
		nickname = price.Nickname
		annual = price.Recurring != nil && price.Recurring.Interval == stripeapi.PriceRecurringIntervalYear
	}
	if p, ok := s.catalog.all[priceID]; ok && p.Annual {
		annual = true
	}

	plan := NormalizePlan(planHint)
	if plan == "" || s.catalog.PlanCredits(plan) == 0 {
		plan = s.catalog.PlanForPrice(priceID, nickname)
	}

	var customerID string
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}

	record := models.Subscription{
		Plan:                 plan,
		Status:               MapStatus(sub.Status),
		StripeCustomerID:     customerID,
		StripeSubscriptionID: sub.ID,
		CurrentPeriodStart:   unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:     unixTime(sub.CurrentPeriodEnd),
		IsAnnual:             annual,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	state := models.SubscriptionState{
		Status:           record.Status,
		Plan:             &plan,
		PeriodStart:      record.CurrentPeriodStart,
		PeriodEnd:        record.CurrentPeriodEnd,
		StripeCustomerID: customerID,
		Credits:          s.catalog.PlanCredits(plan),
	}
	return record, state
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
