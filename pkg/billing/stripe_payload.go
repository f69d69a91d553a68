package billing

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// expandableID decodes a Stripe reference that is either an id string or an
// expanded object carrying "id".
type expandableID string

// UnmarshalJSON accepts a string, an object or null.
func (e *expandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

// stripeCheckoutSession is the subset of a Checkout Session the handlers use.
// The SDK's own structs are not used for webhook bodies: their layout changes
// between API versions and expanded fields would need the matching version.
type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          expandableID      `json:"customer"`
	Subscription      expandableID      `json:"subscription"`
	PaymentIntent     expandableID      `json:"payment_intent"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// toPayload keys a payment-mode purchase by its payment intent, which later
// payment events refer to as well.
func (s stripeCheckoutSession) toPayload() CheckoutCompleted {
	return CheckoutCompleted{
		SessionID:         s.ID,
		Mode:              CheckoutMode(s.Mode),
		CustomerID:        string(s.Customer),
		SubscriptionID:    string(s.Subscription),
		PaymentRef:        string(s.PaymentIntent),
		ClientReferenceID: s.ClientReferenceID,
		Metadata:          s.Metadata,
	}
}

// stripeInvoiceLine covers both the legacy line layout and the newer one
// where the subscription moved under parent.subscription_item_details.
type stripeInvoiceLine struct {
	Subscription expandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionItemDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_item_details"`
	} `json:"parent"`
	Period struct {
		End int64 `json:"end"`
	} `json:"period"`
}

// stripeInvoice covers the legacy top-level subscription field and the
// parent.subscription_details block of newer API versions.
type stripeInvoice struct {
	ID           string       `json:"id"`
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []stripeInvoiceLine `json:"data"`
	} `json:"lines"`
	BillingReason string `json:"billing_reason"`
	AttemptCount  int    `json:"attempt_count"`
	PeriodEnd     int64  `json:"period_end"`
	AmountPaid    int64  `json:"amount_paid"`
	Currency      string `json:"currency"`
}

// subscriptionRef walks the places an invoice may carry its subscription id:
// the top-level field, the parent details block, then the first line item.
func (inv stripeInvoice) subscriptionRef() SubscriptionRef {
	if inv.Subscription != "" {
		return KnownSubscription{ID: string(inv.Subscription)}
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != "" {
		return KnownSubscription{ID: string(inv.Parent.SubscriptionDetails.Subscription)}
	}
	if len(inv.Lines.Data) > 0 {
		line := inv.Lines.Data[0]
		if line.Subscription != "" {
			return KnownSubscription{ID: string(line.Subscription)}
		}
		if line.Parent != nil && line.Parent.SubscriptionItemDetails != nil && line.Parent.SubscriptionItemDetails.Subscription != "" {
			return KnownSubscription{ID: string(line.Parent.SubscriptionItemDetails.Subscription)}
		}
	}
	if inv.ID != "" {
		return RecoverableSubscription{InvoiceID: inv.ID}
	}
	return UnresolvableSubscription{}
}

// periodEnd prefers the first line's service period, which for subscription
// invoices is the period just paid for.
func (inv stripeInvoice) periodEnd() time.Time {
	if len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period.End > 0 {
		return time.Unix(inv.Lines.Data[0].Period.End, 0).UTC()
	}
	if inv.PeriodEnd > 0 {
		return time.Unix(inv.PeriodEnd, 0).UTC()
	}
	return time.Time{}
}

// toInvoice normalizes the currency to upper case.
func (inv stripeInvoice) toInvoice() Invoice {
	return Invoice{
		ID:            inv.ID,
		CustomerID:    string(inv.Customer),
		Subscription:  inv.subscriptionRef(),
		BillingReason: inv.BillingReason,
		AttemptCount:  inv.AttemptCount,
		PeriodEnd:     inv.periodEnd(),
		AmountPaid:    Money{Amount: inv.AmountPaid, Currency: strings.ToUpper(inv.Currency)},
	}
}

// stripePrice is a price on a subscription item. Recurring is nil for
// one-time prices.
type stripePrice struct {
	ID         string `json:"id"`
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
	Recurring  *struct {
		Interval string `json:"interval"`
	} `json:"recurring"`
}

// stripeSubscription reads current_period_end from the subscription or,
// for API versions that moved it, from the first item.
type stripeSubscription struct {
	ID                string            `json:"id"`
	Customer          expandableID      `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64       `json:"current_period_end"`
			Price            stripePrice `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// toSubscription takes pricing from the first line item.
func (s stripeSubscription) toSubscription() Subscription {
	sub := Subscription{
		ID:                s.ID,
		CustomerID:        string(s.Customer),
		Status:            s.Status,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Metadata:          s.Metadata,
	}
	periodEnd := s.CurrentPeriodEnd
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		sub.PriceID = item.Price.ID
		sub.Pricing = Pricing{
			Amount:   item.Price.UnitAmount,
			Currency: strings.ToUpper(item.Price.Currency),
			Interval: IntervalOneTime,
		}
		if item.Price.Recurring != nil {
			sub.Pricing.Interval = Interval(item.Price.Recurring.Interval)
		}
		if periodEnd == 0 {
			periodEnd = item.CurrentPeriodEnd
		}
	}
	if periodEnd > 0 {
		sub.CurrentPeriodEnd = time.Unix(periodEnd, 0).UTC()
	}
	return sub
}
