package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/pkg/logger"
	"github.com/dmitrymomot/pixelcredits/svc/credits"
)

// Service starts billing flows with the payment provider. It never changes a
// user's plan or balances: those follow from the provider webhooks.
type Service interface {
	// EnsureCustomer creates the provider customer on first use and stores its id.
	EnsureCustomer(ctx context.Context, userID uuid.UUID) (*credits.User, error)
	// SubscribeLink returns a hosted checkout page for a recurring plan.
	SubscribeLink(ctx context.Context, userID uuid.UUID, plan billing.PlanID) (*billing.CheckoutLink, error)
	// CreditsPackLink returns a hosted checkout page for the one-time credits pack.
	CreditsPackLink(ctx context.Context, userID uuid.UUID) (*billing.CheckoutLink, error)
	// CancelSubscription cancels at period end, or at once when immediately is set.
	CancelSubscription(ctx context.Context, userID uuid.UUID, immediately bool) error
	// SyncCatalog creates products and prices for paid plans that have no
	// price id for the provider yet and returns what was created.
	SyncCatalog(ctx context.Context, provider string) ([]SyncedPlan, error)
}

// SyncedPlan holds provider ids to copy into the plans file.
type SyncedPlan struct {
	Plan      billing.PlanID `json:"plan"`
	ProductID string         `json:"product_id"`
	PriceID   string         `json:"price_id"`
}

// service implements Service.
type service struct {
	store     credits.Store
	catalog   *billing.Catalog
	providers *billing.Registry
	cfg       Config
	log       *slog.Logger
}

// ServiceOption configures the Service.
type ServiceOption func(*service)

// WithLogger sets the logger. Customer creation, cancellation requests and
// catalog changes are logged at info level.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) { s.log = l }
}

// NewService creates a Service. cfg.DefaultProvider picks the provider for
// users that are not billed yet; an empty value falls back to the registry
// default.
// Panics if store, catalog or providers is nil.
func NewService(store credits.Store, catalog *billing.Catalog, providers *billing.Registry, cfg Config, opts ...ServiceOption) Service {
	if store == nil || catalog == nil || providers == nil {
		panic("checkout: store, catalog and providers are required")
	}
	s := &service{store: store, catalog: catalog, providers: providers, cfg: cfg, log: logger.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// providerFor keeps a user on the provider that already bills them.
func (s *service) providerFor(u *credits.User) (billing.Provider, error) {
	name := u.BillingProvider
	if name == "" {
		name = s.cfg.DefaultProvider
	}
	if name == "" {
		return s.providers.Default()
	}
	return s.providers.Get(name)
}

// EnsureCustomer calls the provider outside the transaction, so a slow API
// does not hold the user row lock. Two concurrent first calls can therefore
// both create a customer. The first one saved wins; the other customer stays
// unused on the provider side.
func (s *service) EnsureCustomer(ctx context.Context, userID uuid.UUID) (*credits.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.CustomerID != "" {
		return u, nil
	}
	provider, err := s.providerFor(u)
	if err != nil {
		return nil, err
	}

	customerID, err := provider.CreateCustomer(ctx, billing.CustomerParams{UserID: u.ID.String(), Email: u.Email})
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		locked, err := s.store.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if locked.CustomerID != "" {
			// A concurrent request won; keep its customer.
			u = locked
			return nil
		}
		locked.CustomerID = customerID
		locked.BillingProvider = provider.Name()
		u = locked
		return s.store.UpdateUser(ctx, locked)
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "provider customer created",
		logger.UserID(u.ID), logger.Provider(provider.Name()), logger.CustomerID(u.CustomerID))
	return u, nil
}

// SubscribeLink refuses users that already pay for a plan: a second
// subscription would bill them twice. Plan changes go through the provider's
// own subscription update instead.
func (s *service) SubscribeLink(ctx context.Context, userID uuid.UUID, planID billing.PlanID) (*billing.CheckoutLink, error) {
	plan, err := s.catalog.Plan(planID)
	if err != nil {
		return nil, err
	}
	if !plan.Interval.Recurring() {
		return nil, fmt.Errorf("%w: %s is not a subscription plan", ErrPlanNotPurchasable, plan.ID)
	}

	u, err := s.EnsureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.SubscriptionID != "" && u.CurrentPlan != billing.PlanFree {
		return nil, ErrAlreadySubscribed
	}
	provider, err := s.providerFor(u)
	if err != nil {
		return nil, err
	}
	priceID := plan.PriceID(provider.Name())
	if priceID == "" {
		return nil, fmt.Errorf("%w: %s has no %s price", ErrPlanNotPurchasable, plan.ID, provider.Name())
	}

	return provider.CreateSubscription(ctx, billing.CheckoutParams{
		PriceID:    priceID,
		UserID:     u.ID.String(),
		CustomerID: u.CustomerID,
		Email:      u.Email,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
		Metadata: map[string]string{
			billing.MetaUserID: u.ID.String(),
			billing.MetaPlan:   string(plan.ID),
		},
	})
}

// CreditsPackLink tags the checkout with the purchase type and pack size so
// the webhook can tell it apart from a subscription checkout.
func (s *service) CreditsPackLink(ctx context.Context, userID uuid.UUID) (*billing.CheckoutLink, error) {
	pack, err := s.catalog.CreditsPack()
	if err != nil {
		return nil, err
	}
	u, err := s.EnsureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}
	provider, err := s.providerFor(u)
	if err != nil {
		return nil, err
	}
	priceID := pack.PriceID(provider.Name())
	if priceID == "" {
		return nil, fmt.Errorf("%w: %s has no %s price", ErrPlanNotPurchasable, pack.ID, provider.Name())
	}

	return provider.CreatePayment(ctx, billing.CheckoutParams{
		PriceID:    priceID,
		UserID:     u.ID.String(),
		CustomerID: u.CustomerID,
		Email:      u.Email,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
		Metadata: map[string]string{
			billing.MetaUserID:  u.ID.String(),
			billing.MetaType:    billing.PurchaseTypeCredits,
			billing.MetaCredits: strconv.FormatInt(pack.PackCredits, 10),
		},
	})
}

// CancelSubscription only asks the provider. The local plan changes when the
// resulting subscription webhook arrives.
func (s *service) CancelSubscription(ctx context.Context, userID uuid.UUID, immediately bool) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.SubscriptionID == "" {
		return ErrNoSubscription
	}
	provider, err := s.providerFor(u)
	if err != nil {
		return err
	}
	if err := provider.CancelSubscription(ctx, u.SubscriptionID, !immediately); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "subscription cancellation requested",
		logger.UserID(u.ID), logger.SubscriptionID(u.SubscriptionID), slog.Bool("immediately", immediately))
	return nil
}

// SyncCatalog stops at the first provider error and returns what was
// created until then, so the caller can record those ids before retrying.
// Free plans and plans that already have a price id are skipped.
func (s *service) SyncCatalog(ctx context.Context, providerName string) ([]SyncedPlan, error) {
	provider, err := s.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	var synced []SyncedPlan
	for _, plan := range s.catalog.Plans() {
		if plan.Price.IsZero() || plan.PriceID(provider.Name()) != "" {
			continue
		}
		productID, err := provider.CreateProduct(ctx, billing.ProductParams{
			Name:        plan.Name,
			Description: plan.Description,
			PlanID:      plan.ID,
		})
		if err != nil {
			return synced, errors.Join(fmt.Errorf("checkout: create product for %s", plan.ID), err)
		}
		priceID, err := provider.CreatePrice(ctx, billing.PriceParams{
			ProductID: productID,
			Amount:    plan.Price,
			Interval:  plan.Interval,
			PlanID:    plan.ID,
		})
		if err != nil {
			return synced, errors.Join(fmt.Errorf("checkout: create price for %s", plan.ID), err)
		}
		s.log.InfoContext(ctx, "catalog entry created",
			logger.Provider(provider.Name()), logger.Plan(string(plan.ID)),
			slog.String("product_id", productID), slog.String("price_id", priceID))
		synced = append(synced, SyncedPlan{Plan: plan.ID, ProductID: productID, PriceID: priceID})
	}
	return synced, nil
}
