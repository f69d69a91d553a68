package webhooks_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/svc/reconcile"
	"github.com/dmitrymomot/pixelcredits/svc/webhooks"
)

const webhookSecret = "whsec_test_secret"

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, ev *billing.Event) (*reconcile.Result, error) {
	args := m.Called(ctx, ev)
	res, _ := args.Get(0).(*reconcile.Result)
	return res, args.Error(1)
}

// txFunc runs fn without a real transaction.
type txFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func (f txFunc) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

var passthroughTx = txFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})

func stripeRegistry(t *testing.T) *billing.Registry {
	t.Helper()
	p, err := billing.NewStripeProvider(billing.StripeConfig{SecretKey: "sk_test_123", WebhookSecret: webhookSecret})
	require.NoError(t, err)
	reg, err := billing.NewRegistry(p)
	require.NoError(t, err)
	return reg
}

func stripeEvent(id, typ, object string) []byte {
	return fmt.Appendf(nil, `{"id":%q,"object":"event","type":%q,"created":1700000000,"data":{"object":%s}}`, id, typ, object)
}

func signed(payload []byte) http.Header {
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	h := http.Header{}
	h.Set(billing.StripeSignatureHeader, sp.Header)
	return h
}

func counterValue(t *testing.T, reg *prometheus.Registry, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != "pixelcredits_webhook_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == status {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

var _ webhooks.TxRunner = passthroughTx
