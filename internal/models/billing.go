package models

import "time"

// SubscriptionStatus mirrors the internal subscription vocabulary stored on profiles.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionUnpaid   SubscriptionStatus = "unpaid"
)

type Subscription struct {
	ID                   string             `json:"id"`
	UserID               string             `json:"user_id"`
	Plan                 string             `json:"plan"`
	Status               SubscriptionStatus `json:"status"`
	StripeCustomerID     string             `json:"stripe_customer_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	CurrentPeriodStart   *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty"`
	IsAnnual             bool               `json:"is_annual"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	CanceledAt           *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Payment is one completed one-time purchase. StripeCheckoutSessionID is the
// normalized external transaction id and is unique across the table.
type Payment struct {
	ID                      string    `json:"id"`
	UserID                  string    `json:"user_id"`
	AmountCents             int64     `json:"amount_cents"`
	Currency                string    `json:"currency"`
	Status                  string    `json:"status"`
	PaymentMethod           string    `json:"payment_method"`
	Description             string    `json:"description"`
	StripePaymentIntentID   *string   `json:"stripe_payment_intent_id,omitempty"`
	StripeCheckoutSessionID string    `json:"stripe_checkout_session_id"`
	CreditsPurchased        int       `json:"credits_purchased"`
	CreatedAt               time.Time `json:"created_at"`
}
