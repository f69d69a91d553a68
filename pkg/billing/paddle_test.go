package billing_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
)

const paddleSecret = "pdl_ntfset_secret"

func newPaddle(t *testing.T) *billing.PaddleProvider {
	t.Helper()
	p, err := billing.NewPaddleProvider(billing.PaddleConfig{
		APIKey:        "pdl_sdbx_apikey_test",
		WebhookSecret: paddleSecret,
		Environment:   "sandbox",
	})
	require.NoError(t, err)
	return p
}

func signPaddle(secret, body string) http.Header {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d:%s", ts, body)
	h := http.Header{}
	h.Set(billing.PaddleSignatureHeader, fmt.Sprintf("ts=%d;h1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return h
}

func paddleEvent(id, typ, data string) string {
	return fmt.Sprintf(`{"event_id":%q,"event_type":%q,"occurred_at":"2024-05-01T10:00:00Z","notification_id":"ntf_1","data":%s}`, id, typ, data)
}

func TestNewPaddleProvider_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := billing.NewPaddleProvider(billing.PaddleConfig{WebhookSecret: "x"})
	assert.ErrorIs(t, err, billing.ErrInvalidConfig)
	_, err = billing.NewPaddleProvider(billing.PaddleConfig{APIKey: "x", WebhookSecret: "y", Environment: "staging"})
	assert.ErrorIs(t, err, billing.ErrInvalidConfig)
}

func TestPaddleProvider_VerifyWebhook(t *testing.T) {
	t.Parallel()
	p := newPaddle(t)
	body := paddleEvent("evt_1", "subscription.updated", `{"id":"sub_1"}`)

	assert.NoError(t, p.VerifyWebhook(context.Background(), []byte(body), signPaddle(paddleSecret, body)))
	assert.ErrorIs(t, p.VerifyWebhook(context.Background(), []byte(body), http.Header{}), billing.ErrMissingSignature)
	assert.ErrorIs(t, p.VerifyWebhook(context.Background(), []byte(body), signPaddle("other", body)), billing.ErrInvalidSignature)
}

func TestPaddleProvider_ParseEvent(t *testing.T) {
	t.Parallel()
	p := newPaddle(t)

	t.Run("checkout transaction", func(t *testing.T) {
		t.Parallel()
		body := paddleEvent("evt_t1", "transaction.completed", `{
			"id":"txn_1","status":"completed","customer_id":"ctm_1","subscription_id":"sub_1","origin":"web",
			"custom_data":{"userId":"u1","plan":"starter"}}`)
		ev, err := p.ParseEvent([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, billing.ProviderPaddle, ev.Provider)
		assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ev.Created)
		cc := ev.Payload.(billing.CheckoutCompleted)
		assert.True(t, cc.IsSubscription())
		assert.Equal(t, billing.PlanStarter, cc.Plan())
		assert.Equal(t, "u1", cc.UserID())
		assert.Equal(t, "txn_1", cc.PaymentReference())
	})

	t.Run("credit pack transaction", func(t *testing.T) {
		t.Parallel()
		body := paddleEvent("evt_t2", "transaction.completed", `{
			"id":"txn_2","customer_id":"ctm_1","origin":"web",
			"custom_data":{"userId":"u1","type":"credit_purchase","credits":1000}}`)
		ev, err := p.ParseEvent([]byte(body))
		require.NoError(t, err)
		cc := ev.Payload.(billing.CheckoutCompleted)
		assert.True(t, cc.IsCreditPurchase())
		assert.Equal(t, "1000", cc.Metadata[billing.MetaCredits])
	})

	t.Run("renewal transaction", func(t *testing.T) {
		t.Parallel()
		body := paddleEvent("evt_t3", "transaction.completed", `{
			"id":"txn_3","customer_id":"ctm_1","subscription_id":"sub_1","origin":"subscription_recurring",
			"currency_code":"USD","billing_period":{"starts_at":"2024-05-01T00:00:00Z","ends_at":"2024-06-01T00:00:00Z"},
			"details":{"totals":{"total":"2999"}}}`)
		ev, err := p.ParseEvent([]byte(body))
		require.NoError(t, err)
		inv := ev.Payload.(billing.PaymentSucceeded).Invoice
		assert.Equal(t, billing.KnownSubscription{ID: "sub_1"}, inv.Subscription)
		assert.Equal(t, "subscription_cycle", inv.BillingReason)
		assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), inv.PeriodEnd)
		assert.Equal(t, billing.Money{Amount: 2999, Currency: "USD"}, inv.AmountPaid)
	})

	t.Run("payment failed counts attempts", func(t *testing.T) {
		t.Parallel()
		body := paddleEvent("evt_f", "transaction.payment_failed", `{
			"id":"txn_4","subscription_id":"sub_1","origin":"subscription_recurring",
			"payments":[{"status":"error"},{"status":"error"},{"status":"error"}]}`)
		ev, err := p.ParseEvent([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, 3, ev.Payload.(billing.PaymentFailed).Invoice.AttemptCount)
	})

	t.Run("subscription scheduled cancel", func(t *testing.T) {
		t.Parallel()
		body := paddleEvent("evt_s", "subscription.updated", `{
			"id":"sub_1","status":"active","customer_id":"ctm_1","scheduled_change":{"action":"cancel"},
			"items":[{"price":{"id":"pri_pro_monthly","unit_price":{"amount":"2999","currency_code":"USD"},"billing_cycle":{"interval":"month","frequency":1}}}]}`)
		ev, err := p.ParseEvent([]byte(body))
		require.NoError(t, err)
		sub := ev.Payload.(billing.SubscriptionUpdated).Subscription
		assert.True(t, sub.CancelAtPeriodEnd)
		assert.Equal(t, "pri_pro_monthly", sub.PriceID)
		assert.Equal(t, billing.Pricing{Amount: 2999, Currency: "USD", Interval: billing.IntervalMonth}, sub.Pricing)
	})

	t.Run("subscription canceled", func(t *testing.T) {
		t.Parallel()
		ev, err := p.ParseEvent([]byte(paddleEvent("evt_c", "subscription.canceled", `{"id":"sub_1","status":"canceled"}`)))
		require.NoError(t, err)
		assert.Equal(t, billing.KindSubscriptionDeleted, ev.Kind())
	})

	t.Run("ignored and malformed", func(t *testing.T) {
		t.Parallel()
		ev, err := p.ParseEvent([]byte(paddleEvent("evt_i", "customer.created", `{"id":"ctm_1"}`)))
		require.NoError(t, err)
		assert.Equal(t, billing.KindIgnored, ev.Kind())

		_, err = p.ParseEvent([]byte(`{"event_type":"subscription.updated"}`))
		assert.ErrorIs(t, err, billing.ErrMalformedPayload)
	})
}

func TestPaddleProvider_CatalogUnsupported(t *testing.T) {
	t.Parallel()
	p := newPaddle(t)
	_, err := p.CreateProduct(context.Background(), billing.ProductParams{Name: "Pro"})
	assert.ErrorIs(t, err, billing.ErrUnsupported)
	_, err = p.CreatePrice(context.Background(), billing.PriceParams{ProductID: "pro_1"})
	assert.ErrorIs(t, err, billing.ErrUnsupported)
}
