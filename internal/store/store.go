package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/zeebo/errs"

	"github.com/jimclydegm/logotoanythingapp/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

var (
	// Error is the class for storage failures.
	Error = errs.Class("store")

	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInsufficientCredits is returned by DebitCredits when the balance is below the requested amount.
	ErrInsufficientCredits = errors.New("store: insufficient credits")
)

// Store provides database-backed accessors for application data.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return Error.Wrap(s.db.PingContext(ctx))
}

type rowScanner interface {
	Scan(dest ...any) error
}

const profileColumns = `
  id::text,
  email,
  remaining_credits,
  subscription_status,
  subscription_plan,
  subscription_period_start,
  subscription_period_end,
  stripe_customer_id,
  created_at,
  updated_at`

func scanProfile(row rowScanner) (*models.Profile, error) {
	var (
		p           models.Profile
		email       sql.NullString
		status      sql.NullString
		plan        sql.NullString
		periodStart sql.NullTime
		periodEnd   sql.NullTime
		customerID  sql.NullString
	)
	if err := row.Scan(&p.ID, &email, &p.RemainingCredits, &status, &plan, &periodStart, &periodEnd, &customerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Email = nullStringPtr(email)
	if status.Valid {
		st := models.SubscriptionStatus(status.String)
		p.SubscriptionStatus = &st
	}
	p.SubscriptionPlan = nullStringPtr(plan)
	p.SubscriptionPeriodStart = nullTimePtr(periodStart)
	p.SubscriptionPeriodEnd = nullTimePtr(periodEnd)
	p.StripeCustomerID = nullStringPtr(customerID)
	return &p, nil
}

// GetProfile returns the profile for userID or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+profileColumns+` FROM profiles WHERE id = $1`, userID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Error.New("get profile: %w", err)
	}
	return p, nil
}

// EnsureProfile creates an empty profile for a user who signed in before the
// signup hook ran. Existing profiles are left untouched.
func (s *Store) EnsureProfile(ctx context.Context, userID, email string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO profiles (id, email)
VALUES ($1, NULLIF($2, ''))
ON CONFLICT (id) DO NOTHING`, userID, email)
	if err != nil {
		return Error.New("ensure profile: %w", err)
	}
	return nil
}

// DebitCredits atomically subtracts amount from the balance. When the balance
// is too low nothing changes and the current balance is returned with
// ErrInsufficientCredits.
func (s *Store) DebitCredits(ctx context.Context, userID string, amount int) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, `
UPDATE profiles
SET remaining_credits = remaining_credits - $2
WHERE id = $1 AND remaining_credits >= $2
RETURNING remaining_credits`, userID, amount).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, Error.New("debit credits: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT remaining_credits FROM profiles WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, Error.New("debit credits: read balance: %w", err)
	}
	return balance, ErrInsufficientCredits
}

// RefundCredits adds amount back to the balance relative to its current value.
func (s *Store) RefundCredits(ctx context.Context, userID string, amount int) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, `
UPDATE profiles
SET remaining_credits = remaining_credits + $2
WHERE id = $1
RETURNING remaining_credits`, userID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, Error.New("refund credits: %w", err)
	}
	return balance, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time
	return &v
}

func nullableString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// isForeignKeyViolation reports whether err is a Postgres foreign key violation (23503).
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
