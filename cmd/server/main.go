// Command server runs the billing webhooks, the credits ledger and the
// internal API behind one HTTP listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/pixelcredits/internal/db"
	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/pkg/config"
	"github.com/dmitrymomot/pixelcredits/pkg/email"
	"github.com/dmitrymomot/pixelcredits/pkg/httpserver"
	"github.com/dmitrymomot/pixelcredits/pkg/logger"
	"github.com/dmitrymomot/pixelcredits/pkg/pg"
	"github.com/dmitrymomot/pixelcredits/pkg/redis"
	"github.com/dmitrymomot/pixelcredits/svc/checkout"
	"github.com/dmitrymomot/pixelcredits/svc/credits"
	"github.com/dmitrymomot/pixelcredits/svc/generation"
	"github.com/dmitrymomot/pixelcredits/svc/notify"
	"github.com/dmitrymomot/pixelcredits/svc/reconcile"
	"github.com/dmitrymomot/pixelcredits/svc/webhooks"
)

const serviceName = "pixelcredits"

type appConfig struct {
	Env            string        `env:"APP_ENV" envDefault:"development"`
	AppURL         string        `env:"APP_URL" envDefault:"http://localhost:8080"`
	PlansFile      string        `env:"BILLING_PLANS_FILE"`
	WelcomeCredits int64         `env:"WELCOME_CREDITS" envDefault:"10"`
	WebhookMaxBody int64         `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"`
	WebhookLockTTL time.Duration `env:"WEBHOOK_LOCK_TTL" envDefault:"2m"`

	HTTP       httpserver.Config
	Postgres   pg.Config
	Redis      redis.Config
	Email      email.Config
	Stripe     billing.StripeConfig
	Paddle     billing.PaddleConfig
	Generation generation.Config
	Checkout   checkout.Config
}

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("server stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	log := logger.New(
		logger.WithEnvironment(cfg.Env, serviceName),
		logger.WithContextValue("request_id", middleware.RequestIDKey),
	)
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.Postgres, db.Migrations, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	providers, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	catalog := billing.DefaultCatalog()
	if cfg.PlansFile != "" {
		if catalog, err = billing.LoadCatalog(cfg.PlansFile); err != nil {
			return err
		}
	}

	sender, err := email.NewSender(cfg.Email)
	if err != nil {
		return err
	}

	repo := db.NewRepository(pool)

	ledger := credits.NewService(repo,
		credits.WithWelcomeCredits(cfg.WelcomeCredits),
		credits.WithLogger(log.With(logger.Component("credits"))),
	)

	notifier := notify.New(sender,
		notify.WithAppURL(cfg.AppURL),
		notify.WithLogger(log.With(logger.Component("notify"))),
	)

	router := reconcile.NewRouter(repo, ledger, catalog, providers,
		reconcile.WithNotifier(notifier),
		reconcile.WithLogger(log.With(logger.Component("reconcile"))),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ingestor := webhooks.NewIngestor(providers, repo, repo, router,
		webhooks.WithLocker(webhooks.NewRedisLocker(rdb, serviceName+":webhooks:")),
		webhooks.WithLockTTL(cfg.WebhookLockTTL),
		webhooks.WithMetrics(webhooks.NewMetrics(registry)),
		webhooks.WithLogger(log.With(logger.Component("webhooks"))),
	)

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	mux.Get("/health/live", httpserver.HealthCheckHandler(log))
	mux.Get("/health/ready", httpserver.HealthCheckHandler(log, pg.Healthcheck(pool), redis.Healthcheck(rdb)))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.Mount("/webhooks", webhooks.NewHandler(ingestor,
		webhooks.WithMaxBodySize(cfg.WebhookMaxBody),
		webhooks.WithHandlerLogger(log.With(logger.Component("webhooks"))),
	).Routes())

	if cfg.Checkout.APIToken != "" {
		api, err := newInternalAPI(cfg, log, repo, ledger, catalog, providers)
		if err != nil {
			return err
		}
		mux.Mount("/internal", api.Routes())
	} else {
		log.WarnContext(ctx, "internal api disabled, INTERNAL_API_TOKEN is not set")
	}

	log.InfoContext(ctx, "billing providers enabled", slog.Any("providers", providers.Names()))

	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
	return srv.Run(ctx, mux)
}

func newRegistry(cfg appConfig) (*billing.Registry, error) {
	var list []billing.Provider
	if cfg.Stripe.Enabled() {
		p, err := billing.NewStripeProvider(cfg.Stripe)
		if err != nil {
			return nil, fmt.Errorf("stripe: %w", err)
		}
		list = append(list, p)
	}
	if cfg.Paddle.Enabled() {
		p, err := billing.NewPaddleProvider(cfg.Paddle)
		if err != nil {
			return nil, fmt.Errorf("paddle: %w", err)
		}
		list = append(list, p)
	}
	if len(list) == 0 {
		return nil, errors.New("no billing provider configured, set STRIPE_* or PADDLE_* variables")
	}
	return billing.NewRegistry(list...)
}

func newInternalAPI(
	cfg appConfig,
	log *slog.Logger,
	store credits.Store,
	ledger credits.Service,
	catalog *billing.Catalog,
	providers *billing.Registry,
) (*checkout.API, error) {
	client, err := generation.NewHTTPClient(cfg.Generation,
		generation.WithHTTPClient(&http.Client{Timeout: cfg.Generation.Timeout + 5*time.Second}),
		generation.WithCircuitBreaker(generation.NewCircuitBreaker(5, 2, 30*time.Second)),
	)
	if err != nil {
		return nil, err
	}

	generator := generation.NewService(ledger, client,
		generation.WithCreditsPerImage(cfg.Generation.CreditsPerImage),
		generation.WithLogger(log.With(logger.Component("generation"))),
	)

	billingSvc := checkout.NewService(store, catalog, providers, cfg.Checkout,
		checkout.WithLogger(log.With(logger.Component("checkout"))),
	)

	return checkout.NewAPI(cfg.Checkout.APIToken, ledger, billingSvc, generator,
		checkout.WithAPILogger(log.With(logger.Component("api"))),
	), nil
}
