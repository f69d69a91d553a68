package checkout

// Config for outbound billing operations and the internal API.
type Config struct {
	// DefaultProvider bills users that have no provider yet.
	DefaultProvider string `env:"BILLING_DEFAULT_PROVIDER" envDefault:"stripe"`
	SuccessURL      string `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:8080/billing/success"`
	CancelURL       string `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:8080/billing/cancel"`
	// APIToken guards the internal API. The API is not mounted when empty.
	APIToken string `env:"INTERNAL_API_TOKEN"`
}
