package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/pkg/logger"
	"github.com/dmitrymomot/pixelcredits/svc/credits"
)

// handler carries the per-event context of one Dispatch call.
type handler struct {
	*Router
	provider billing.Provider
	event    *billing.Event
	log      *slog.Logger
}

// checkoutCompleted routes a finished checkout by what was bought. The user
// comes from the checkout metadata or client reference, never from the
// customer id, because a first checkout has no linked customer yet.
func (h *handler) checkoutCompleted(ctx context.Context, c billing.CheckoutCompleted) (*Result, error) {
	userID, err := uuid.Parse(c.UserID())
	if err != nil {
		h.log.WarnContext(ctx, "checkout without a usable user id",
			slog.String("session_id", c.SessionID),
			slog.String("user_ref", c.UserID()),
			logger.CustomerID(c.CustomerID))
		return newResult(OutcomeUnresolved), nil
	}

	switch {
	case c.IsCreditPurchase():
		return h.creditPurchase(ctx, userID, c)
	case c.IsSubscription():
		return h.subscriptionCheckout(ctx, userID, c)
	default:
		h.log.InfoContext(ctx, "checkout is neither a credit purchase nor a plan subscription",
			slog.String("mode", string(c.Mode)))
		return newResult(OutcomeIgnored), nil
	}
}

// creditPurchase adds one credit pack to the purchased bucket. The pack size
// always comes from the catalog; metadata only triggers a warning when it
// disagrees. The grant is deduplicated by payment reference so redelivered
// checkouts and the matching payment event cannot credit twice.
func (h *handler) creditPurchase(ctx context.Context, userID uuid.UUID, c billing.CheckoutCompleted) (*Result, error) {
	pack, err := h.catalog.CreditsPack()
	if err != nil {
		return nil, err
	}
	if meta, ok := c.Metadata[billing.MetaCredits]; ok {
		if n, err := strconv.ParseInt(meta, 10, 64); err != nil || n != pack.PackCredits {
			h.log.WarnContext(ctx, "checkout credits metadata differs from the pack size, using the pack size",
				slog.String("metadata_credits", meta), logger.Credits("pack_credits", pack.PackCredits))
		}
	}

	res := newResult(OutcomeSkipped)
	err = h.store.WithTx(ctx, func(ctx context.Context) error {
		u, err := h.store.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		h.linkCustomer(u, c.CustomerID)

		applied, err := h.ledger.ApplyGrant(ctx, u, credits.Grant{
			Type:        credits.EntryOneTimePurchase,
			Bucket:      credits.BucketPurchased,
			Mode:        credits.GrantAdd,
			Amount:      pack.PackCredits,
			Source:      c.PaymentReference(),
			Description: pack.Name,
			Dedupe:      true,
		})
		if err != nil {
			return err
		}
		if applied {
			res.Outcome = OutcomeApplied
			snapshot := *u
			res.then(func(ctx context.Context) { h.notifier.CreditsPurchased(ctx, snapshot, pack.PackCredits) })
		}
		return nil
	})
	if errors.Is(err, credits.ErrUserNotFound) {
		h.logUnresolved(ctx, "checkout user not found", c.SubscriptionID, c.CustomerID, "", slog.String("user_id", userID.String()))
		return newResult(OutcomeUnresolved), nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// subscriptionCheckout activates the purchased plan and sets the monthly
// bucket to the plan's allowance. The grant source is the subscription id,
// which is also what the subscription_create invoice would use, so the first
// period is granted exactly once whichever event arrives first.
func (h *handler) subscriptionCheckout(ctx context.Context, userID uuid.UUID, c billing.CheckoutCompleted) (*Result, error) {
	plan, err := h.catalog.Plan(c.Plan())
	if err != nil {
		return nil, errors.Join(ErrUnknownPlan, err)
	}

	// Live pricing is preferred; on any failure the static plan price is used
	// so the user is entitled regardless.
	pricing := plan.Pricing()
	var live *billing.Subscription
	if c.SubscriptionID != "" {
		live, err = h.provider.GetSubscription(ctx, c.SubscriptionID)
		if err != nil {
			h.log.WarnContext(ctx, "subscription lookup failed, using catalog pricing",
				logger.SubscriptionID(c.SubscriptionID), logger.Error(err))
			live = nil
		} else if live.Pricing.Amount > 0 {
			pricing = live.Pricing
		}
	}

	source := c.SubscriptionID
	if source == "" {
		source = c.SessionID
	}
	resetDate := h.now().UTC().Add(creditPeriod)

	res := newResult(OutcomeSkipped)
	err = h.store.WithTx(ctx, func(ctx context.Context) error {
		u, err := h.store.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		u.CurrentPlan = plan.ID
		u.BillingProvider = h.event.Provider
		h.linkCustomer(u, c.CustomerID)
		if c.SubscriptionID != "" {
			u.SubscriptionID = c.SubscriptionID
		}
		u.SetPricing(pricing)
		u.CancelAtPeriodEnd = live != nil && live.CancelAtPeriodEnd

		applied, err := h.ledger.ApplyGrant(ctx, u, credits.Grant{
			Type:        credits.EntryInitialGrant,
			Bucket:      credits.BucketMonthly,
			Mode:        credits.GrantSet,
			Amount:      plan.MonthlyCredits,
			Source:      source,
			Description: plan.Name + " plan activated",
			ResetDate:   &resetDate,
			Dedupe:      true,
		})
		if err != nil {
			return err
		}
		if applied {
			res.Outcome = OutcomeApplied
			snapshot := *u
			res.then(func(ctx context.Context) { h.notifier.PlanActivated(ctx, snapshot, plan) })
		}
		return nil
	})
	if errors.Is(err, credits.ErrUserNotFound) {
		h.logUnresolved(ctx, "checkout user not found", c.SubscriptionID, c.CustomerID, "", slog.String("user_id", userID.String()))
		return newResult(OutcomeUnresolved), nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// resolveSubscriptionID handles every SubscriptionRef variant. A recoverable
// ref costs one invoice lookup; its failure is returned so the event retries.
func (h *handler) resolveSubscriptionID(ctx context.Context, inv *billing.Invoice) (string, error) {
	switch ref := inv.Subscription.(type) {
	case billing.KnownSubscription:
		return ref.ID, nil
	case billing.RecoverableSubscription:
		full, err := h.provider.GetInvoice(ctx, ref.InvoiceID)
		if err != nil {
			return "", err
		}
		if inv.CustomerID == "" {
			inv.CustomerID = full.CustomerID
		}
		if inv.PeriodEnd.IsZero() {
			inv.PeriodEnd = full.PeriodEnd
		}
		if id, ok := billing.KnownSubscriptionID(full.Subscription); ok {
			return id, nil
		}
		return "", nil
	case billing.UnresolvableSubscription, nil:
		return "", nil
	default:
		return "", ErrUnknownPayload
	}
}

// paymentSucceeded resets the monthly bucket for a renewal invoice. The
// invoice that created the subscription only backfills linkage: the credits
// for that period came with the checkout.
func (h *handler) paymentSucceeded(ctx context.Context, inv billing.Invoice) (*Result, error) {
	subID, err := h.resolveSubscriptionID(ctx, &inv)
	if err != nil {
		return nil, err
	}

	found, err := h.findUser(ctx, subID, inv.CustomerID, nil)
	if err != nil {
		return nil, err
	}
	if found == nil {
		h.logUnresolved(ctx, "no user for paid invoice", subID, inv.CustomerID, inv.ID)
		return newResult(OutcomeUnresolved), nil
	}

	res := newResult(OutcomeSkipped)
	err = h.store.WithTx(ctx, func(ctx context.Context) error {
		u, err := h.store.GetUserForUpdate(ctx, found.ID)
		if err != nil {
			return err
		}
		backfilled := false
		if subID != "" && u.SubscriptionID == "" {
			u.SubscriptionID = subID
			backfilled = true
			h.log.InfoContext(ctx, "subscription id backfilled from invoice",
				logger.UserID(u.ID), logger.SubscriptionID(subID), logger.CustomerID(inv.CustomerID))
		}

		if inv.BillingReason == billing.BillingReasonSubscriptionCreate {
			if backfilled {
				u.UpdatedAt = h.now().UTC()
				return h.store.UpdateUser(ctx, u)
			}
			return nil
		}

		resetDate := inv.PeriodEnd
		if resetDate.IsZero() {
			resetDate = h.now().UTC().Add(creditPeriod)
		}
		applied, err := h.ledger.ApplyGrant(ctx, u, credits.Grant{
			Type:        credits.EntryMonthlyReset,
			Bucket:      credits.BucketMonthly,
			Mode:        credits.GrantSet,
			Amount:      h.catalog.MonthlyCredits(u.CurrentPlan),
			Source:      inv.ID,
			Description: "Monthly credits renewed",
			ResetDate:   &resetDate,
			Dedupe:      true,
		})
		if err != nil {
			return err
		}
		if applied {
			res.Outcome = OutcomeApplied
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// paymentFailed downgrades once the provider has retried FailedPaymentLimit
// times. Earlier attempts are left to the provider's own dunning. Only a
// direct subscription match counts here; a customer-id guess is too weak to
// justify taking a plan away.
func (h *handler) paymentFailed(ctx context.Context, inv billing.Invoice) (*Result, error) {
	subID, ok := billing.KnownSubscriptionID(inv.Subscription)
	if !ok {
		h.log.InfoContext(ctx, "failed payment without subscription id, nothing to do", logger.InvoiceID(inv.ID))
		return newResult(OutcomeSkipped), nil
	}
	if inv.AttemptCount < FailedPaymentLimit {
		h.log.InfoContext(ctx, "payment failed, waiting for provider retry",
			logger.SubscriptionID(subID), slog.Int("attempt_count", inv.AttemptCount))
		return newResult(OutcomeSkipped), nil
	}

	u, err := h.store.FindUserBySubscriptionID(ctx, subID)
	if errors.Is(err, credits.ErrUserNotFound) {
		h.logUnresolved(ctx, "no user for failed payment", subID, "", inv.ID)
		return newResult(OutcomeUnresolved), nil
	}
	if err != nil {
		return nil, err
	}

	return h.downgrade(ctx, u.ID, ReasonPaymentFailed)
}

// subscriptionUpdated mirrors the cancel flag and applies plan changes. The
// plan only changes for an active subscription whose price is in the
// catalog. Anything else keeps the current plan and just records the flag.
func (h *handler) subscriptionUpdated(ctx context.Context, sub billing.Subscription) (*Result, error) {
	// A customer can own several subscriptions over time. An update for an
	// old one must not take over a user that has since moved to a newer
	// subscription, so the customer-id match is filtered the same way as
	// for deletions.
	found, err := h.findUser(ctx, sub.ID, sub.CustomerID, onSubscription(sub.ID))
	if err != nil {
		return nil, err
	}
	if found == nil {
		h.logUnresolved(ctx, "no user for subscription update", sub.ID, sub.CustomerID, "")
		return newResult(OutcomeUnresolved), nil
	}

	plan, planErr := h.catalog.PlanByPriceID(h.event.Provider, sub.PriceID)
	if planErr != nil {
		h.log.WarnContext(ctx, "subscription price is not in the catalog, plan left unchanged",
			logger.SubscriptionID(sub.ID), slog.String("price_id", sub.PriceID))
	}

	res := newResult(OutcomeApplied)
	err = h.store.WithTx(ctx, func(ctx context.Context) error {
		u, err := h.store.GetUserForUpdate(ctx, found.ID)
		if err != nil {
			return err
		}
		if u.SubscriptionID == "" {
			u.SubscriptionID = sub.ID
		}
		u.CancelAtPeriodEnd = sub.CancelAtPeriodEnd

		if planErr != nil || plan.ID == u.CurrentPlan || !sub.Active() {
			u.UpdatedAt = h.now().UTC()
			return h.store.UpdateUser(ctx, u)
		}

		u.CurrentPlan = plan.ID
		u.SubscriptionID = sub.ID
		u.BillingProvider = h.event.Provider
		h.linkCustomer(u, sub.CustomerID)
		if sub.Pricing.Amount > 0 {
			u.SetPricing(sub.Pricing)
		} else {
			u.SetPricing(plan.Pricing())
		}
		resetDate := sub.CurrentPeriodEnd
		if resetDate.IsZero() {
			resetDate = h.now().UTC().Add(creditPeriod)
		}

		if _, err := h.ledger.ApplyGrant(ctx, u, credits.Grant{
			Type:        credits.EntryInitialGrant,
			Bucket:      credits.BucketMonthly,
			Mode:        credits.GrantSet,
			Amount:      plan.MonthlyCredits,
			Source:      sub.ID,
			Description: "Plan changed to " + plan.Name,
			ResetDate:   &resetDate,
		}); err != nil {
			return err
		}
		snapshot := *u
		res.then(func(ctx context.Context) { h.notifier.PlanActivated(ctx, snapshot, plan) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// subscriptionDeleted downgrades the subscription's user to the free plan.
func (h *handler) subscriptionDeleted(ctx context.Context, sub billing.Subscription) (*Result, error) {
	// Through the customer id only downgrade when the user is not on a
	// different, newer subscription.
	found, err := h.findUser(ctx, sub.ID, sub.CustomerID, onSubscription(sub.ID))
	if err != nil {
		return nil, err
	}
	if found == nil {
		h.logUnresolved(ctx, "no user for deleted subscription", sub.ID, sub.CustomerID, "")
		return newResult(OutcomeUnresolved), nil
	}
	return h.downgrade(ctx, found.ID, ReasonSubscriptionDeleted)
}

// downgrade moves the user to the free plan and clears the monthly bucket.
// Purchased credits are kept. Downgrading a free user is a silent no-op
// apart from the write, so repeated delete and failure events converge.
func (h *handler) downgrade(ctx context.Context, userID uuid.UUID, reason string) (*Result, error) {
	res := newResult(OutcomeApplied)
	err := h.store.WithTx(ctx, func(ctx context.Context) error {
		u, err := h.store.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		previous := u.CurrentPlan
		u.Downgrade()
		u.UpdatedAt = h.now().UTC()
		if err := h.store.UpdateUser(ctx, u); err != nil {
			return err
		}
		h.log.InfoContext(ctx, "user downgraded to free",
			logger.UserID(u.ID), slog.String("previous_plan", string(previous)), slog.String("reason", reason))
		if previous != billing.PlanFree {
			snapshot := *u
			res.then(func(ctx context.Context) { h.notifier.SubscriptionDowngraded(ctx, snapshot, reason) })
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// findUser looks up by subscription id, then by customer id. accept filters
// the customer-id match. It returns nil, nil when nothing matches.
func (h *handler) findUser(ctx context.Context, subscriptionID, customerID string, accept func(*credits.User) bool) (*credits.User, error) {
	if subscriptionID != "" {
		u, err := h.store.FindUserBySubscriptionID(ctx, subscriptionID)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, credits.ErrUserNotFound) {
			return nil, err
		}
	}
	if customerID != "" {
		u, err := h.store.FindUserByCustomerID(ctx, customerID)
		if err == nil {
			if accept != nil && !accept(u) {
				h.log.InfoContext(ctx, "customer match rejected, user is on another subscription",
					logger.UserID(u.ID), logger.SubscriptionID(u.SubscriptionID))
				return nil, nil
			}
			return u, nil
		}
		if !errors.Is(err, credits.ErrUserNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// onSubscription accepts users that have no subscription yet or are
// already on subscriptionID.
func onSubscription(subscriptionID string) func(*credits.User) bool {
	return func(u *credits.User) bool {
		return u.SubscriptionID == "" || u.SubscriptionID == subscriptionID
	}
}

// linkCustomer records the provider customer id and, on first contact, the
// billing provider.
func (h *handler) linkCustomer(u *credits.User, customerID string) {
	if customerID != "" {
		u.CustomerID = customerID
	}
	if u.BillingProvider == "" {
		u.BillingProvider = h.event.Provider
	}
}

// logUnresolved records every id tried and how many users match each one.
func (h *handler) logUnresolved(ctx context.Context, msg, subscriptionID, customerID, invoiceID string, extra ...any) {
	bySub, byCustomer, err := h.store.CountLinkage(ctx, subscriptionID, customerID)
	args := []any{
		logger.SubscriptionID(subscriptionID),
		logger.CustomerID(customerID),
		logger.InvoiceID(invoiceID),
		slog.Int("users_by_subscription", bySub),
		slog.Int("users_by_customer", byCustomer),
	}
	if err != nil {
		args = append(args, logger.Error(err))
	}
	h.log.WarnContext(ctx, msg, append(args, extra...)...)
}
