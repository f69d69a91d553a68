package httpserver

import (
	"errors"
	"log/slog"
	"time"
)

var (
	// ErrStart wraps listener failures.
	ErrStart = errors.New("httpserver: failed to start")
	// ErrShutdown wraps graceful shutdown failures.
	ErrShutdown = errors.New("httpserver: graceful shutdown failed")
)

type Config struct {
	Addr              string        `env:"HTTP_ADDR" envDefault:":8080"`             // Addr is the address the server listens on.
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`       // ReadTimeout bounds reading the whole request.
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"` // ReadHeaderTimeout bounds reading request headers.
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`      // WriteTimeout bounds writing the response.
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`      // IdleTimeout is the keep-alive idle timeout.
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`   // ShutdownTimeout is the time allowed for in-flight requests to drain.
}

// Option configures the Server. Empty or non-positive values keep the default.
type Option func(*config)

func WithAddr(addr string) Option {
	return func(c *config) {
		if addr != "" {
			c.addr = addr
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(c *config) { setPositive(&c.readTimeout, d) }
}

func WithReadHeaderTimeout(d time.Duration) Option {
	return func(c *config) { setPositive(&c.readHeaderTimeout, d) }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) { setPositive(&c.writeTimeout, d) }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(c *config) { setPositive(&c.idleTimeout, d) }
}

// WithShutdownTimeout sets how long Shutdown waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *config) { setPositive(&c.shutdownTimeout, d) }
}

// WithLogger supplies the logger for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func setPositive(dst *time.Duration, d time.Duration) {
	if d > 0 {
		*dst = d
	}
}

// NewFromConfig creates a Server from cfg. Extra options are applied last.
func NewFromConfig(cfg Config, opts ...Option) *Server {
	return New(append([]Option{
		WithAddr(cfg.Addr),
		WithReadTimeout(cfg.ReadTimeout),
		WithReadHeaderTimeout(cfg.ReadHeaderTimeout),
		WithWriteTimeout(cfg.WriteTimeout),
		WithIdleTimeout(cfg.IdleTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}, opts...)...)
}
