package generation

import "time"

// Config for the hosted inference API and the per-image price.
type Config struct {
	// APIURL must be an absolute http or https URL.
	APIURL string `env:"GENERATION_API_URL" envDefault:"https://api.replicate.com/v1/predictions"`
	APIKey string `env:"GENERATION_API_KEY"`
	Model  string `env:"GENERATION_MODEL" envDefault:"flux-schnell"`
	// CreditsPerImage is charged per successful image.
	CreditsPerImage int64 `env:"GENERATION_CREDITS_PER_IMAGE" envDefault:"1"`
	// Timeout bounds one attempt. With the retries it must fit into the HTTP
	// server's write timeout.
	Timeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"12s"`
	// MaxRetries counts retries after the first attempt.
	MaxRetries int `env:"GENERATION_MAX_RETRIES" envDefault:"1"`
}
