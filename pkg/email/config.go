package email

import "fmt"

// Config holds outbound email settings. Without a Postmark server token the
// service falls back to DevSender, which writes messages to DevOutputDir.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"billing@pixelcredits.local"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@pixelcredits.local"`
	DevOutputDir         string `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
}

// Enabled reports whether real delivery is configured.
func (c Config) Enabled() bool {
	return c.PostmarkServerToken != ""
}

func (c Config) validate() error {
	if c.PostmarkServerToken == "" {
		return fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	for name, addr := range map[string]string{"sender": c.SenderEmail, "support": c.SupportEmail} {
		if !emailRegex.MatchString(addr) {
			return fmt.Errorf("%w: %s email %q is not a valid address", ErrInvalidConfig, name, addr)
		}
	}
	return nil
}
