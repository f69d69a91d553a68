package notify

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/pixelcredits/svc/reconcile"
)

// layout wraps body in the shared email chrome.
func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><title>%s</title></head>`+
			`<body style="font-family:Helvetica,Arial,sans-serif;color:#1f2933;max-width:560px;margin:0 auto;padding:24px">`,
			templ.EscapeString(title)); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `<p style="color:#7b8794;font-size:12px">PixelCredits</p></body></html>`)
		return err
	})
}

// paragraphs renders each line as an escaped <p>.
func paragraphs(lines ...string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		for _, l := range lines {
			if _, err := fmt.Fprintf(w, "<p>%s</p>", templ.EscapeString(l)); err != nil {
				return err
			}
		}
		return nil
	})
}

// button renders a link styled as a button, or nothing when href is empty.
func button(label, href string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if href == "" {
			return nil
		}
		_, err := fmt.Fprintf(w,
			`<p><a href="%s" style="background:#3e4c59;color:#fff;padding:10px 18px;border-radius:4px;text-decoration:none">%s</a></p>`,
			templ.EscapeString(href), templ.EscapeString(label))
		return err
	})
}

// join renders parts in order.
func join(parts ...templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		for _, p := range parts {
			if err := p.Render(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

// planActivatedEmail is the body for TagPlanActivated.
func planActivatedEmail(planName, price string, monthlyCredits int64, dashboardURL string) templ.Component {
	lines := []string{
		fmt.Sprintf("Your %s plan is active.", planName),
		fmt.Sprintf("%d credits have been added to your account and renew every billing period.", monthlyCredits),
	}
	if price != "" {
		lines = append(lines, "You will be charged "+price+" per period.")
	}
	return layout("Your plan is active", join(paragraphs(lines...), button("Start creating", dashboardURL)))
}

// creditsPurchasedEmail is the body for TagCreditsPurchased.
func creditsPurchasedEmail(amount, total int64, dashboardURL string) templ.Component {
	return layout("Credits added", join(
		paragraphs(
			fmt.Sprintf("Thanks for your purchase. %d credits were added to your account.", amount),
			fmt.Sprintf("Your balance is now %d credits. Purchased credits do not expire.", total),
		),
		button("Open dashboard", dashboardURL),
	))
}

// downgradedEmail is the body for TagDowngraded. A failed payment gets its
// own wording; every other reason reads as a normal end of subscription.
func downgradedEmail(reason, billingURL string) templ.Component {
	msg := "Your subscription has ended and your account is now on the Free plan."
	if reason == reconcile.ReasonPaymentFailed {
		msg = "We could not collect your subscription payment, so your account was moved to the Free plan."
	}
	return layout("Your subscription ended", join(
		paragraphs(msg, "Purchased credits stay on your account."),
		button("Choose a plan", billingURL),
	))
}
