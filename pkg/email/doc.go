// Package email sends transactional billing mail.
//
// EmailSender is implemented by the Postmark client for production and by
// DevSender, which writes messages to disk, for local runs. NewSender picks
// one based on Config. Bodies are built from templ components with Render.
//
//	sender, err := email.NewSender(cfg)
//	body, err := email.Render(ctx, component)
//	err = sender.SendEmail(ctx, email.SendEmailParams{
//		SendTo:   user.Email,
//		Subject:  "Payment failed",
//		BodyHTML: body,
//		Tag:      "payment_failed",
//	})
//
// All failures wrap ErrInvalidConfig, ErrInvalidParams, ErrRenderFailed or
// ErrFailedToSendEmail.
package email
