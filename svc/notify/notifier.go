package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/pkg/email"
	"github.com/dmitrymomot/pixelcredits/pkg/logger"
	"github.com/dmitrymomot/pixelcredits/svc/credits"
	"github.com/dmitrymomot/pixelcredits/svc/reconcile"
)

var _ reconcile.Notifier = (*Notifier)(nil)

// Message tags used for Postmark stats.
const (
	TagPlanActivated    = "plan-activated"
	TagCreditsPurchased = "credits-purchased"
	TagDowngraded       = "subscription-downgraded"
)

// defaultSendTimeout bounds rendering and sending one email.
const defaultSendTimeout = 10 * time.Second

// Notifier emails users about billing changes. Sending is best effort:
// failures are logged and never returned.
type Notifier struct {
	sender      email.EmailSender
	appURL      string
	sendTimeout time.Duration
	log         *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAppURL sets the base url for links in emails.
func WithAppURL(u string) Option {
	return func(n *Notifier) { n.appURL = u }
}

// WithSendTimeout bounds one send. Non-positive values are ignored.
func WithSendTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.sendTimeout = d
		}
	}
}

// WithLogger sets the logger for failed and skipped sends.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.log = l }
}

// New creates a Notifier.
// Panics if sender is nil.
func New(sender email.EmailSender, opts ...Option) *Notifier {
	if sender == nil {
		panic("notify: email sender is required")
	}
	n := &Notifier{sender: sender, sendTimeout: defaultSendTimeout, log: logger.Discard()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// PlanActivated sends the welcome email for a paid plan. The price line is
// left out when the user has no pricing snapshot.
func (n *Notifier) PlanActivated(ctx context.Context, user credits.User, plan billing.Plan) {
	price := ""
	if user.SubscriptionAmount > 0 && user.SubscriptionCurrency != "" {
		price = billing.Money{Amount: user.SubscriptionAmount, Currency: user.SubscriptionCurrency}.String()
	}
	n.send(ctx, user, "Your "+plan.Name+" plan is active", TagPlanActivated,
		planActivatedEmail(plan.Name, price, plan.MonthlyCredits, n.link("/dashboard")))
}

// CreditsPurchased confirms a credit pack together with the new total.
func (n *Notifier) CreditsPurchased(ctx context.Context, user credits.User, amount int64) {
	n.send(ctx, user, "Credits added to your account", TagCreditsPurchased,
		creditsPurchasedEmail(amount, user.TotalCredits(), n.link("/dashboard")))
}

// SubscriptionDowngraded tells the user the paid plan has ended and why.
func (n *Notifier) SubscriptionDowngraded(ctx context.Context, user credits.User, reason string) {
	n.send(ctx, user, "Your subscription has ended", TagDowngraded,
		downgradedEmail(reason, n.link("/billing")))
}

// send renders body and sends it to the user. Errors are logged only.
func (n *Notifier) send(ctx context.Context, user credits.User, subject, tag string, body templ.Component) {
	log := n.log.With(logger.UserID(user.ID), slog.String("tag", tag))
	if user.Email == "" {
		log.WarnContext(ctx, "user has no email address, notification skipped")
		return
	}

	// Runs after the webhook transaction committed; a cancelled request must
	// not drop the email.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.sendTimeout)
	defer cancel()

	html, err := email.Render(ctx, body)
	if err != nil {
		log.ErrorContext(ctx, "failed to render notification", logger.Error(err))
		return
	}
	if err := n.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   user.Email,
		Subject:  subject,
		BodyHTML: html,
		Tag:      tag,
	}); err != nil {
		log.ErrorContext(ctx, "failed to send notification", logger.Error(err))
		return
	}
	log.DebugContext(ctx, "notification sent")
}

// link joins the app url and path. Without an app url emails carry no links.
func (n *Notifier) link(path string) string {
	if n.appURL == "" {
		return ""
	}
	return n.appURL + path
}
