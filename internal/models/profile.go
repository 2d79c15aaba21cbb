package models

import "time"

// Profile is the per-user credit ledger and subscription summary.
type Profile struct {
	ID                      string              `json:"id"`
	Email                   *string             `json:"email,omitempty"`
	RemainingCredits        int                 `json:"remaining_credits"`
	SubscriptionStatus      *SubscriptionStatus `json:"subscription_status"`
	SubscriptionPlan        *string             `json:"subscription_plan"`
	SubscriptionPeriodStart *time.Time          `json:"subscription_period_start,omitempty"`
	SubscriptionPeriodEnd   *time.Time          `json:"subscription_period_end,omitempty"`
	StripeCustomerID        *string             `json:"stripe_customer_id,omitempty"`
	CreatedAt               time.Time           `json:"created_at"`
	UpdatedAt               time.Time           `json:"updated_at"`
}

// HasActiveSubscription reports whether the profile currently holds an active subscription.
func (p *Profile) HasActiveSubscription() bool {
	return p != nil && p.SubscriptionStatus != nil && *p.SubscriptionStatus == SubscriptionActive
}

// SubscriptionState is the subscription summary written onto a profile by
// subscription sync. Credits replace the balance rather than add to it.
type SubscriptionState struct {
	Status           SubscriptionStatus
	Plan             *string
	PeriodStart      *time.Time
	PeriodEnd        *time.Time
	StripeCustomerID string
	Credits          int
}
