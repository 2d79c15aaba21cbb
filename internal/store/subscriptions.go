package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jimclydegm/logotoanythingapp/internal/models"
)

// ActivateSubscription upserts the subscription row keyed by its Stripe id and
// applies state to the owner's profile in the same transaction.
func (s *Store) ActivateSubscription(ctx context.Context, sub models.Subscription, state models.SubscriptionState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.New("activate subscription: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO subscriptions (
  id, user_id, plan, status, stripe_subscription_id, stripe_customer_id,
  current_period_start, current_period_end, is_annual, cancel_at_period_end
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (stripe_subscription_id) DO UPDATE SET
  plan = EXCLUDED.plan,
  status = EXCLUDED.status,
  stripe_customer_id = EXCLUDED.stripe_customer_id,
  current_period_start = EXCLUDED.current_period_start,
  current_period_end = EXCLUDED.current_period_end,
  is_annual = EXCLUDED.is_annual,
  cancel_at_period_end = EXCLUDED.cancel_at_period_end,
  updated_at = NOW()`,
		uuid.NewString(),
		sub.UserID,
		sub.Plan,
		string(sub.Status),
		sub.StripeSubscriptionID,
		sub.StripeCustomerID,
		nullableTime(sub.CurrentPeriodStart),
		nullableTime(sub.CurrentPeriodEnd),
		sub.IsAnnual,
		sub.CancelAtPeriodEnd,
	)
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	if err != nil {
		return Error.New("activate subscription: upsert: %w", err)
	}

	if err := applyProfileState(ctx, tx, sub.UserID, state); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return Error.New("activate subscription: commit: %w", err)
	}
	return nil
}

// SyncSubscription updates an existing subscription row and applies state to
// its owner's profile. It returns the owner's id, or ErrNotFound when the
// Stripe subscription is unknown.
func (s *Store) SyncSubscription(ctx context.Context, sub models.Subscription, state models.SubscriptionState) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", Error.New("sync subscription: begin tx: %w", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx, `
UPDATE subscriptions
SET plan = $2,
    status = $3,
    current_period_start = $4,
    current_period_end = $5,
    is_annual = $6,
    cancel_at_period_end = $7,
    updated_at = NOW()
WHERE stripe_subscription_id = $1
RETURNING user_id::text`,
		sub.StripeSubscriptionID,
		sub.Plan,
		string(sub.Status),
		nullableTime(sub.CurrentPeriodStart),
		nullableTime(sub.CurrentPeriodEnd),
		sub.IsAnnual,
		sub.CancelAtPeriodEnd,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", Error.New("sync subscription: update: %w", err)
	}

	if err := applyProfileState(ctx, tx, userID, state); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", Error.New("sync subscription: commit: %w", err)
	}
	return userID, nil
}

// CancelSubscription soft-cancels the subscription and clears the owner's
// plan, period and credits.
func (s *Store) CancelSubscription(ctx context.Context, stripeSubscriptionID string, canceledAt time.Time) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", Error.New("cancel subscription: begin tx: %w", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx, `
UPDATE subscriptions
SET status = 'canceled',
    canceled_at = $2,
    cancel_at_period_end = TRUE,
    updated_at = NOW()
WHERE stripe_subscription_id = $1
RETURNING user_id::text`, stripeSubscriptionID, canceledAt).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", Error.New("cancel subscription: update: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
UPDATE profiles
SET subscription_status = 'canceled',
    subscription_plan = NULL,
    subscription_period_start = NULL,
    subscription_period_end = NULL,
    remaining_credits = 0
WHERE id = $1`, userID)
	if err != nil {
		return "", Error.New("cancel subscription: update profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", Error.New("cancel subscription: commit: %w", err)
	}
	return userID, nil
}

// ActiveSubscription returns the user's newest active subscription, or nil.
func (s *Store) ActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	var (
		sub         models.Subscription
		status      string
		periodStart sql.NullTime
		periodEnd   sql.NullTime
		canceledAt  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
SELECT
  id::text,
  user_id::text,
  plan,
  status,
  stripe_customer_id,
  stripe_subscription_id,
  current_period_start,
  current_period_end,
  is_annual,
  cancel_at_period_end,
  canceled_at,
  created_at,
  updated_at
FROM subscriptions
WHERE user_id = $1 AND status = 'active'
ORDER BY created_at DESC
LIMIT 1`, userID).Scan(
		&sub.ID, &sub.UserID, &sub.Plan, &status, &sub.StripeCustomerID, &sub.StripeSubscriptionID,
		&periodStart, &periodEnd, &sub.IsAnnual, &sub.CancelAtPeriodEnd, &canceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.New("active subscription: %w", err)
	}
	sub.Status = models.SubscriptionStatus(status)
	sub.CurrentPeriodStart = nullTimePtr(periodStart)
	sub.CurrentPeriodEnd = nullTimePtr(periodEnd)
	sub.CanceledAt = nullTimePtr(canceledAt)
	return &sub, nil
}

// applyProfileState replaces the profile's subscription summary and resets
// remaining_credits to the plan allotment.
func applyProfileState(ctx context.Context, tx *sql.Tx, userID string, state models.SubscriptionState) error {
	var plan sql.NullString
	if state.Plan != nil {
		plan = sql.NullString{String: *state.Plan, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
UPDATE profiles
SET subscription_status = $2,
    subscription_plan = $3,
    subscription_period_start = $4,
    subscription_period_end = $5,
    stripe_customer_id = COALESCE(NULLIF($6, ''), stripe_customer_id),
    remaining_credits = $7
WHERE id = $1`,
		userID,
		string(state.Status),
		plan,
		nullableTime(state.PeriodStart),
		nullableTime(state.PeriodEnd),
		state.StripeCustomerID,
		state.Credits,
	)
	if err != nil {
		return Error.New("update profile subscription: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
