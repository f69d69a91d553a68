package billing

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// paddleEnvelope is the outer shape of every Paddle notification.
type paddleEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// paddleMoney is an amount in minor units, sent as a string.
type paddleMoney struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currency_code"`
}

// money converts the amount. An unparsable amount becomes zero, which the
// handlers treat as "no pricing" and replace with catalog pricing.
func (m paddleMoney) money() Money {
	amount, _ := strconv.ParseInt(m.Amount, 10, 64)
	return Money{Amount: amount, Currency: strings.ToUpper(m.CurrencyCode)}
}

// paddlePrice is a catalog price. BillingCycle is nil for one-time prices.
type paddlePrice struct {
	ID           string      `json:"id"`
	UnitPrice    paddleMoney `json:"unit_price"`
	BillingCycle *struct {
		Interval  string `json:"interval"`
		Frequency int    `json:"frequency"`
	} `json:"billing_cycle"`
}

// pricing ignores the cycle frequency; plans bill every month or year.
func (p paddlePrice) pricing() Pricing {
	m := p.UnitPrice.money()
	pr := Pricing{Amount: m.Amount, Currency: m.Currency, Interval: IntervalOneTime}
	if p.BillingCycle != nil {
		pr.Interval = Interval(p.BillingCycle.Interval)
	}
	return pr
}

// paddlePeriod is a billing period.
type paddlePeriod struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// paddleTransaction plays both roles: the completed checkout and the paid or
// failed invoice.
type paddleTransaction struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	Origin         string         `json:"origin"`
	CustomData     map[string]any `json:"custom_data"`
	CurrencyCode   string         `json:"currency_code"`
	BillingPeriod  *paddlePeriod  `json:"billing_period"`
	Items          []struct {
		Price paddlePrice `json:"price"`
	} `json:"items"`
	Payments []struct {
		Status string `json:"status"`
	} `json:"payments"`
	Details *struct {
		Totals struct {
			Total string `json:"total"`
		} `json:"totals"`
	} `json:"details"`
}

// Paddle transaction origins that mean an automatic renewal charge.
const paddleOriginRecurring = "subscription_recurring"

// metadata flattens custom_data to strings. Nested values are dropped.
func (t paddleTransaction) metadata() map[string]string {
	out := make(map[string]string, len(t.CustomData))
	for k, v := range t.CustomData {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}

// checkout reports whether the transaction completes a checkout we created,
// as opposed to a renewal charge.
func (t paddleTransaction) checkout() bool {
	if t.Origin == paddleOriginRecurring {
		return false
	}
	_, ok := t.CustomData[MetaUserID]
	return ok
}

// toCheckout derives the mode from the subscription id, since Paddle uses
// one transaction type for both kinds of checkout.
func (t paddleTransaction) toCheckout() CheckoutCompleted {
	mode := CheckoutModePayment
	if t.SubscriptionID != "" {
		mode = CheckoutModeSubscription
	}
	return CheckoutCompleted{
		SessionID:         t.ID,
		Mode:              mode,
		CustomerID:        t.CustomerID,
		SubscriptionID:    t.SubscriptionID,
		PaymentRef:        t.ID,
		ClientReferenceID: t.metadata()[MetaUserID],
		Metadata:          t.metadata(),
	}
}

// toInvoice maps Paddle origins onto Stripe-style billing reasons: a
// recurring origin is a renewal, anything else with a subscription is the
// first invoice. Failed payment records count as collection attempts.
func (t paddleTransaction) toInvoice() Invoice {
	inv := Invoice{
		ID:           t.ID,
		CustomerID:   t.CustomerID,
		Subscription: UnresolvableSubscription{},
	}
	switch {
	case t.SubscriptionID != "":
		inv.Subscription = KnownSubscription{ID: t.SubscriptionID}
	case t.ID != "":
		inv.Subscription = RecoverableSubscription{InvoiceID: t.ID}
	}
	if t.Origin == paddleOriginRecurring {
		inv.BillingReason = "subscription_cycle"
	} else if t.SubscriptionID != "" {
		inv.BillingReason = BillingReasonSubscriptionCreate
	}
	for _, p := range t.Payments {
		if p.Status == "error" || p.Status == "failed" {
			inv.AttemptCount++
		}
	}
	if t.BillingPeriod != nil {
		inv.PeriodEnd = t.BillingPeriod.EndsAt.UTC()
	}
	if t.Details != nil {
		inv.AmountPaid = paddleMoney{Amount: t.Details.Totals.Total, CurrencyCode: t.CurrencyCode}.money()
	}
	return inv
}

// paddleSubscription is a subscription entity. A scheduled "cancel" change
// is Paddle's version of cancel at period end.
type paddleSubscription struct {
	ID                   string         `json:"id"`
	Status               string         `json:"status"`
	CustomerID           string         `json:"customer_id"`
	CustomData           map[string]any `json:"custom_data"`
	CurrentBillingPeriod *paddlePeriod  `json:"current_billing_period"`
	ScheduledChange      *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
	Items []struct {
		Price paddlePrice `json:"price"`
	} `json:"items"`
}

// toSubscription takes pricing from the first item.
func (s paddleSubscription) toSubscription() Subscription {
	sub := Subscription{
		ID:                s.ID,
		CustomerID:        s.CustomerID,
		Status:            s.Status,
		CancelAtPeriodEnd: s.ScheduledChange != nil && s.ScheduledChange.Action == "cancel",
		Metadata:          paddleTransaction{CustomData: s.CustomData}.metadata(),
	}
	if len(s.Items) > 0 {
		sub.PriceID = s.Items[0].Price.ID
		sub.Pricing = s.Items[0].Price.pricing()
	}
	if s.CurrentBillingPeriod != nil {
		sub.CurrentPeriodEnd = s.CurrentBillingPeriod.EndsAt.UTC()
	}
	return sub
}
