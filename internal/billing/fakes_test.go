package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	stripeapi "github.com/stripe/stripe-go/v78"

	"github.com/jimclydegm/logotoanythingapp/internal/models"
	"github.com/jimclydegm/logotoanythingapp/internal/store"
	"github.com/jimclydegm/logotoanythingapp/internal/stripe"
)

// memLedger mirrors the Postgres semantics: payments are unique on the exact
// checkout session id and credit changes happen together with the insert.
type memLedger struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile
	payments map[string]models.Payment
	subs     map[string]models.Subscription
	seq      int
}

func newMemLedger() *memLedger {
	return &memLedger{
		profiles: map[string]*models.Profile{},
		payments: map[string]models.Payment{},
		subs:     map[string]models.Subscription{},
	}
}

func (l *memLedger) addProfile(id string, credits int) *models.Profile {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := &models.Profile{ID: id, RemainingCredits: credits}
	l.profiles[id] = p
	return p
}

func (l *memLedger) balance(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profiles[id].RemainingCredits
}

func (l *memLedger) paymentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.payments)
}

func (l *memLedger) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (l *memLedger) GrantPurchase(_ context.Context, g store.PurchaseGrant) (store.GrantResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.payments[g.SessionID]; ok {
		return store.GrantResult{PaymentID: existing.ID, Balance: l.profiles[existing.UserID].RemainingCredits}, nil
	}
	p, ok := l.profiles[g.UserID]
	if !ok {
		return store.GrantResult{}, store.ErrNotFound
	}
	l.seq++
	intent := g.PaymentIntentID
	pay := models.Payment{
		ID:                      fmt.Sprintf("pay-%d", l.seq),
		UserID:                  g.UserID,
		AmountCents:             g.AmountCents,
		Currency:                g.Currency,
		Description:             g.Description,
		StripePaymentIntentID:   &intent,
		StripeCheckoutSessionID: g.SessionID,
		CreditsPurchased:        g.Credits,
	}
	l.payments[g.SessionID] = pay
	p.RemainingCredits += g.Credits
	return store.GrantResult{PaymentID: pay.ID, Created: true, Balance: p.RemainingCredits}, nil
}

func (l *memLedger) PaymentForSession(_ context.Context, sessionID string) (*models.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (l *memLedger) applyState(userID string, state models.SubscriptionState) error {
	p, ok := l.profiles[userID]
	if !ok {
		return store.ErrNotFound
	}
	status := state.Status
	p.SubscriptionStatus = &status
	p.SubscriptionPlan = state.Plan
	p.SubscriptionPeriodStart = state.PeriodStart
	p.SubscriptionPeriodEnd = state.PeriodEnd
	if state.StripeCustomerID != "" {
		id := state.StripeCustomerID
		p.StripeCustomerID = &id
	}
	p.RemainingCredits = state.Credits
	return nil
}

func (l *memLedger) ActivateSubscription(_ context.Context, sub models.Subscription, state models.SubscriptionState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.profiles[sub.UserID]; !ok {
		return store.ErrNotFound
	}
	l.subs[sub.StripeSubscriptionID] = sub
	return l.applyState(sub.UserID, state)
}

func (l *memLedger) SyncSubscription(_ context.Context, sub models.Subscription, state models.SubscriptionState) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	existing, ok := l.subs[sub.StripeSubscriptionID]
	if !ok {
		return "", store.ErrNotFound
	}
	sub.UserID = existing.UserID
	l.subs[sub.StripeSubscriptionID] = sub
	return existing.UserID, l.applyState(existing.UserID, state)
}

func (l *memLedger) CancelSubscription(_ context.Context, id string, at time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.subs[id]
	if !ok {
		return "", store.ErrNotFound
	}
	sub.Status = models.SubscriptionCanceled
	sub.CanceledAt = &at
	sub.CancelAtPeriodEnd = true
	l.subs[id] = sub

	p := l.profiles[sub.UserID]
	canceled := models.SubscriptionCanceled
	p.SubscriptionStatus = &canceled
	p.SubscriptionPlan = nil
	p.SubscriptionPeriodStart = nil
	p.SubscriptionPeriodEnd = nil
	p.RemainingCredits = 0
	return sub.UserID, nil
}

type fakePayments struct {
	sessions      map[string]*stripeapi.CheckoutSession
	subscriptions map[string]*stripeapi.Subscription
	lastCheckout  stripe.CheckoutRequest
	lastPortal    [2]string
	err           error
}

func newFakePayments() *fakePayments {
	return &fakePayments{
		sessions:      map[string]*stripeapi.CheckoutSession{},
		subscriptions: map[string]*stripeapi.Subscription{},
	}
}

func (f *fakePayments) CreateCheckoutSession(_ context.Context, req stripe.CheckoutRequest) (*stripeapi.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastCheckout = req
	return &stripeapi.CheckoutSession{ID: "cs_new", URL: "https://checkout.stripe.com/c/pay/cs_new"}, nil
}

func (f *fakePayments) GetCheckoutSession(_ context.Context, id string) (*stripeapi.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	sess, ok := f.sessions[id]
	if !ok {
		return nil, stripe.Error.New("no such session %s", id)
	}
	return sess, nil
}

func (f *fakePayments) GetSubscription(_ context.Context, id string) (*stripeapi.Subscription, error) {
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, stripe.Error.New("no such subscription %s", id)
	}
	return sub, nil
}

func (f *fakePayments) CreatePortalSession(_ context.Context, customerID, returnURL string) (*stripeapi.BillingPortalSession, error) {
	f.lastPortal = [2]string{customerID, returnURL}
	return &stripeapi.BillingPortalSession{URL: "https://billing.stripe.com/p/session"}, nil
}
