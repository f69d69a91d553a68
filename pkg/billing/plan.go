package billing

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// PlanID identifies an internal plan. The taxonomy is ours, not the provider's.
type PlanID string

const (
	PlanFree        PlanID = "free"
	PlanStarter     PlanID = "starter"
	PlanPro         PlanID = "pro"
	PlanCreditsPack PlanID = "credits_pack"
)

// Interval is the billing frequency of a plan.
type Interval string

const (
	IntervalNone    Interval = "none"
	IntervalMonth   Interval = "month"
	IntervalYear    Interval = "year"
	IntervalOneTime Interval = "one_time"
)

// Recurring reports whether the interval produces a subscription.
func (i Interval) Recurring() bool {
	return i == IntervalMonth || i == IntervalYear
}

// Plan is a row of the static plan configuration.
type Plan struct {
	ID             PlanID            `yaml:"id" json:"id"`
	Name           string            `yaml:"name" json:"name"`
	Description    string            `yaml:"description" json:"description,omitempty"`
	MonthlyCredits int64             `yaml:"monthly_credits" json:"monthly_credits"`
	PackCredits    int64             `yaml:"pack_credits" json:"pack_credits,omitempty"`
	Price          Money             `yaml:"price" json:"price"`
	Interval       Interval          `yaml:"interval" json:"interval"`
	PriceIDs       map[string]string `yaml:"price_ids" json:"price_ids,omitempty"`
}

// PriceID returns the plan's price id for provider, or "".
func (p Plan) PriceID(provider string) string {
	return p.PriceIDs[provider]
}

// Pricing is the plan's static pricing snapshot, used when the provider
// cannot be asked for live pricing.
func (p Plan) Pricing() Pricing {
	return Pricing{Amount: p.Price.Amount, Currency: p.Price.Currency, Interval: p.Interval}
}

// Pricing is the denormalized price display cache stored on a user.
type Pricing struct {
	Amount   int64
	Currency string
	Interval Interval
}

//go:embed plans.yaml
var defaultPlans []byte

// Catalog is the read-only plan table.
type Catalog struct {
	plans   []Plan
	byID    map[PlanID]Plan
	byPrice map[string]map[string]PlanID
}

type catalogFile struct {
	Plans []Plan `yaml:"plans"`
}

// DefaultCatalog returns the embedded catalog. It panics on a broken embed.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(bytes.NewReader(defaultPlans))
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog reads the catalog from path, or the embedded one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(bytes.NewReader(defaultPlans))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	return NewCatalog(file.Plans...)
}

// NewCatalog validates plans and indexes them by id and by provider price id.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	c := &Catalog{
		byID:    make(map[PlanID]Plan, len(plans)),
		byPrice: make(map[string]map[string]PlanID),
	}

	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: plan without id", ErrInvalidCatalog)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate plan %q", ErrInvalidCatalog, p.ID)
		}
		if p.MonthlyCredits < 0 || p.PackCredits < 0 {
			return nil, fmt.Errorf("%w: plan %q has negative credits", ErrInvalidCatalog, p.ID)
		}
		if p.Interval == "" {
			p.Interval = IntervalNone
		}
		if p.Price.Currency != "" {
			code, err := NormalizeCurrency(p.Price.Currency)
			if err != nil {
				return nil, fmt.Errorf("%w: plan %q: %w", ErrInvalidCatalog, p.ID, err)
			}
			p.Price.Currency = code
		}

		for provider, priceID := range p.PriceIDs {
			if priceID == "" {
				continue
			}
			idx, ok := c.byPrice[provider]
			if !ok {
				idx = make(map[string]PlanID)
				c.byPrice[provider] = idx
			}
			if other, taken := idx[priceID]; taken {
				return nil, fmt.Errorf("%w: price %q used by %q and %q", ErrInvalidCatalog, priceID, other, p.ID)
			}
			idx[priceID] = p.ID
		}

		c.byID[p.ID] = p
		c.plans = append(c.plans, p)
	}

	if _, ok := c.byID[PlanFree]; !ok {
		return nil, fmt.Errorf("%w: %q plan is required", ErrInvalidCatalog, PlanFree)
	}
	return c, nil
}

// Plan returns the plan with id.
func (c *Catalog) Plan(id PlanID) (Plan, error) {
	p, ok := c.byID[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}
	return p, nil
}

// PlanByPriceID maps a provider price id to the internal plan.
func (c *Catalog) PlanByPriceID(provider, priceID string) (Plan, error) {
	id, ok := c.byPrice[provider][priceID]
	if !ok {
		return Plan{}, fmt.Errorf("%w: price %q for %s", ErrPlanNotFound, priceID, provider)
	}
	return c.byID[id], nil
}

// MonthlyCredits is the allotment of plan id, zero when unknown.
func (c *Catalog) MonthlyCredits(id PlanID) int64 {
	return c.byID[id].MonthlyCredits
}

// CreditsPack returns the one-time credit pack plan.
func (c *Catalog) CreditsPack() (Plan, error) {
	return c.Plan(PlanCreditsPack)
}

// Plans returns all plans in file order.
func (c *Catalog) Plans() []Plan {
	return slices.Clone(c.plans)
}
