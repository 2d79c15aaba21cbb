package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/jimclydegm/logotoanythingapp/internal/models"
)

// PurchaseGrant describes a paid one-time checkout to be credited.
type PurchaseGrant struct {
	UserID          string
	SessionID       string
	PaymentIntentID string
	AmountCents     int64
	Currency        string
	Description     string
	Credits         int
}

// GrantResult reports the outcome of GrantPurchase. Created is false when the
// session had already been credited.
type GrantResult struct {
	PaymentID string
	Created   bool
	Balance   int
}

// GrantPurchase records the payment for a checkout session and adds its
// credits to the buyer's balance in one transaction. The checkout session id
// is unique in payments, so replays and concurrent callers credit at most once.
func (s *Store) GrantPurchase(ctx context.Context, grant PurchaseGrant) (GrantResult, error) {
	if grant.SessionID == "" {
		return GrantResult{}, Error.New("grant purchase: session id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return GrantResult{}, Error.New("grant purchase: begin tx: %w", err)
	}
	defer tx.Rollback()

	var paymentID string
	err = tx.QueryRowContext(ctx, `
INSERT INTO payments (
  id, user_id, amount_cents, currency, status, payment_method, description,
  stripe_payment_intent_id, stripe_checkout_session_id, credits_purchased
)
VALUES ($1, $2, $3, $4, 'succeeded', 'card', $5, $6, $7, $8)
ON CONFLICT (stripe_checkout_session_id) DO NOTHING
RETURNING id::text`,
		uuid.NewString(),
		grant.UserID,
		grant.AmountCents,
		grant.Currency,
		grant.Description,
		nullableString(grant.PaymentIntentID),
		grant.SessionID,
		grant.Credits,
	).Scan(&paymentID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		var result GrantResult
		err = tx.QueryRowContext(ctx, `
SELECT p.id::text, pr.remaining_credits
FROM payments p
JOIN profiles pr ON pr.id = p.user_id
WHERE p.stripe_checkout_session_id = $1`, grant.SessionID).Scan(&result.PaymentID, &result.Balance)
		if err != nil {
			return GrantResult{}, Error.New("grant purchase: load existing payment: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return GrantResult{}, Error.New("grant purchase: commit: %w", err)
		}
		return result, nil
	case isForeignKeyViolation(err):
		return GrantResult{}, ErrNotFound
	case err != nil:
		return GrantResult{}, Error.New("grant purchase: insert payment: %w", err)
	}

	var balance int
	err = tx.QueryRowContext(ctx, `
UPDATE profiles
SET remaining_credits = remaining_credits + $2
WHERE id = $1
RETURNING remaining_credits`, grant.UserID, grant.Credits).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return GrantResult{}, ErrNotFound
	}
	if err != nil {
		return GrantResult{}, Error.New("grant purchase: credit profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return GrantResult{}, Error.New("grant purchase: commit: %w", err)
	}

	return GrantResult{PaymentID: paymentID, Created: true, Balance: balance}, nil
}

// PaymentForSession returns the payment recorded for a checkout session, or ErrNotFound.
func (s *Store) PaymentForSession(ctx context.Context, sessionID string) (*models.Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+paymentColumns+` FROM payments WHERE stripe_checkout_session_id = $1`, sessionID)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Error.New("payment for session: %w", err)
	}
	return p, nil
}

// ListPayments returns the user's payments, newest first.
func (s *Store) ListPayments(ctx context.Context, userID string, limit int) ([]models.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT`+paymentColumns+`
FROM payments
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, userID, clampLimit(limit))
	if err != nil {
		return nil, Error.New("list payments: %w", err)
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, Error.New("list payments: scan: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, Error.New("list payments: %w", err)
	}
	return payments, nil
}

const paymentColumns = `
  id::text,
  user_id::text,
  amount_cents,
  currency,
  status,
  payment_method,
  description,
  stripe_payment_intent_id,
  stripe_checkout_session_id,
  credits_purchased,
  created_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p      models.Payment
		intent sql.NullString
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.AmountCents, &p.Currency, &p.Status, &p.PaymentMethod, &p.Description, &intent, &p.StripeCheckoutSessionID, &p.CreditsPurchased, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.StripePaymentIntentID = nullStringPtr(intent)
	return &p, nil
}
