// Package billing turns Stripe checkouts and subscription events into credit
// ledger changes.
package billing

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zeebo/errs"
	"gopkg.in/yaml.v3"
)

// Error is the class for billing failures.
var Error = errs.Class("billing")

var (
	ErrUnknownPrice        = errors.New("billing: unknown price")
	ErrActiveSubscription  = errors.New("billing: active subscription exists")
	ErrMissingEmail        = errors.New("billing: user email not found")
	ErrNoCustomer          = errors.New("billing: no stripe customer")
	ErrSessionNotPaid      = errors.New("billing: checkout session not paid")
	ErrSessionUserMismatch = errors.New("billing: checkout session belongs to another user")
	ErrInvalidSession      = errors.New("billing: checkout session metadata incomplete")
)

// DefaultSubscriptionPlan is used when a subscription's price cannot be resolved.
const DefaultSubscriptionPlan = "basic"

// PriceKind partitions the catalog into recurring and one-time prices.
type PriceKind string

const (
	KindSubscription PriceKind = "subscription"
	KindOneTime      PriceKind = "one_time"
)

// Price is one purchasable Stripe price.
type Price struct {
	ID     string    `yaml:"id"`
	Plan   string    `yaml:"plan"`
	Kind   PriceKind `yaml:"kind"`
	Annual bool      `yaml:"annual"`
}

type catalogFile struct {
	Plans  map[string]int     `yaml:"plans"`
	Prices map[string][]Price `yaml:"prices"`
}

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the single price to plan to credits table.
type Catalog struct {
	mode    string
	prices  map[string]Price
	all     map[string]Price
	credits map[string]int
}

// LoadCatalog reads the catalog at path, or the embedded default when path is
// empty, and selects the price set for mode ("test" or "live").
func LoadCatalog(path, mode string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, Error.New("read catalog: %w", err)
		}
	}
	return ParseCatalog(data, mode)
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte, mode string) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, Error.New("parse catalog: %w", err)
	}

	c := &Catalog{
		mode:    mode,
		prices:  map[string]Price{},
		all:     map[string]Price{},
		credits: map[string]int{},
	}
	for plan, credits := range file.Plans {
		c.credits[NormalizePlan(plan)] = credits
	}

	for set, prices := range file.Prices {
		for _, p := range prices {
			if p.ID == "" {
				return nil, Error.New("catalog %s: price without id", set)
			}
			if p.Kind != KindSubscription && p.Kind != KindOneTime {
				return nil, Error.New("catalog %s: price %s has invalid kind %q", set, p.ID, p.Kind)
			}
			p.Plan = NormalizePlan(p.Plan)
			if _, ok := c.credits[p.Plan]; !ok {
				return nil, Error.New("catalog %s: price %s references unknown plan %q", set, p.ID, p.Plan)
			}
			if _, dup := c.all[p.ID]; dup {
				return nil, Error.New("catalog: duplicate price %s", p.ID)
			}
			c.all[p.ID] = p
			if set == mode {
				c.prices[p.ID] = p
			}
		}
	}

	if len(c.prices) == 0 {
		return nil, Error.New("catalog has no prices for mode %q", mode)
	}
	return c, nil
}

// Mode returns the active price set name.
func (c *Catalog) Mode() string { return c.mode }

// Lookup returns the price if it is purchasable in the active mode.
func (c *Catalog) Lookup(priceID string) (Price, error) {
	p, ok := c.prices[priceID]
	if !ok {
		return Price{}, fmt.Errorf("%w: %q", ErrUnknownPrice, priceID)
	}
	return p, nil
}

// PlanCredits returns the credit allotment for plan, or 0 for unknown plans.
func (c *Catalog) PlanCredits(plan string) int {
	return c.credits[NormalizePlan(plan)]
}

// PlanForPrice resolves the plan of a subscription price by id, then by
// the price nickname, falling back to DefaultSubscriptionPlan.
func (c *Catalog) PlanForPrice(priceID, nickname string) string {
	if p, ok := c.all[priceID]; ok {
		return p.Plan
	}
	if plan := NormalizePlan(nickname); plan != "" {
		if _, ok := c.credits[plan]; ok {
			return plan
		}
	}
	return DefaultSubscriptionPlan
}

// NormalizePlan lower-cases a plan or price nickname and strips a billing
// interval suffix, so "Advanced Yearly" becomes "advanced".
func NormalizePlan(plan string) string {
	plan = strings.ToLower(strings.TrimSpace(plan))
	for _, suffix := range []string{" monthly", " yearly", " annual"} {
		plan = strings.TrimSuffix(plan, suffix)
	}
	return plan
}

// planTitle capitalizes a plan name for payment descriptions.
func planTitle(plan string) string {
	if plan == "" {
		return plan
	}
	return strings.ToUpper(plan[:1]) + plan[1:]
}
