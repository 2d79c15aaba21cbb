package billing

import (
	"context"
	"time"

	stripeapi "github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"

	"github.com/jimclydegm/logotoanythingapp/internal/models"
	"github.com/jimclydegm/logotoanythingapp/internal/store"
	"github.com/jimclydegm/logotoanythingapp/internal/stripe"
)

// Payments is the subset of the Stripe API used by billing.
type Payments interface {
	CreateCheckoutSession(ctx context.Context, req stripe.CheckoutRequest) (*stripeapi.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripeapi.CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*stripeapi.Subscription, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripeapi.BillingPortalSession, error)
}

// Ledger is the persistence billing writes through.
type Ledger interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	GrantPurchase(ctx context.Context, grant store.PurchaseGrant) (store.GrantResult, error)
	PaymentForSession(ctx context.Context, sessionID string) (*models.Payment, error)
	ActivateSubscription(ctx context.Context, sub models.Subscription, state models.SubscriptionState) error
	SyncSubscription(ctx context.Context, sub models.Subscription, state models.SubscriptionState) (string, error)
	CancelSubscription(ctx context.Context, stripeSubscriptionID string, canceledAt time.Time) (string, error)
}

// Service coordinates checkout, payment reconciliation and subscription sync.
type Service struct {
	log      *zap.Logger
	ledger   Ledger
	payments Payments
	catalog  *Catalog
	appURL   string
	now      func() time.Time
}

// NewService wires a billing service. appURL is the web app origin used for redirects.
func NewService(log *zap.Logger, ledger Ledger, payments Payments, catalog *Catalog, appURL string) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		log:      log,
		ledger:   ledger,
		payments: payments,
		catalog:  catalog,
		appURL:   appURL,
		now:      time.Now,
	}
}
