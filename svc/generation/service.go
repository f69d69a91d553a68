package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pixelcredits/pkg/logger"
	"github.com/dmitrymomot/pixelcredits/svc/credits"
)

// MaxPromptLength is the prompt limit in characters.
const MaxPromptLength = 2000

// Request describes one image. Width and Height are optional; zero leaves
// the size to the model's default.
type Request struct {
	// Prompt is trimmed and must hold 1..MaxPromptLength characters.
	Prompt string `json:"prompt"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Image is a generated image as returned by the inference API. URL points to
// the provider's storage; the image is not copied.
type Image struct {
	ID    string `json:"id,omitempty"`
	URL   string `json:"url"`
	Seed  int64  `json:"seed,omitempty"`
	Model string `json:"model"`
}

// Result is a paid image together with the balance after payment.
type Result struct {
	Image   *Image          `json:"image"`
	Charged int64           `json:"charged"`
	Balance credits.Balance `json:"balance"`
}

// Service runs credit-consuming image generations.
type Service interface {
	// Generate reserves credits, runs the generation and releases the
	// reservation when the generation fails. Insufficient credits are
	// reported with credits.ErrInsufficientCredits before any paid work.
	Generate(ctx context.Context, userID uuid.UUID, req Request) (*Result, error)
}

// service implements Service on a credit ledger and an ImageClient.
type service struct {
	ledger credits.Service
	client ImageClient
	cost   int64
	log    *slog.Logger
}

// ServiceOption configures the Service.
type ServiceOption func(*service)

// WithCreditsPerImage sets the price of one image. Non-positive values keep
// the default of one credit.
func WithCreditsPerImage(n int64) ServiceOption {
	return func(s *service) {
		if n > 0 {
			s.cost = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) { s.log = l }
}

// NewService creates a Service.
// Panics if ledger or client is nil.
func NewService(ledger credits.Service, client ImageClient, opts ...ServiceOption) Service {
	if ledger == nil || client == nil {
		panic("generation: ledger and image client are required")
	}
	s := &service{ledger: ledger, client: client, cost: 1, log: logger.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate validates the request before reserving, so a malformed request
// never touches the ledger.
func (s *service) Generate(ctx context.Context, userID uuid.UUID, req Request) (*Result, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(req.Prompt) > MaxPromptLength {
		return nil, fmt.Errorf("%w: prompt exceeds %d characters", ErrInvalidRequest, MaxPromptLength)
	}
	if req.Width < 0 || req.Height < 0 {
		return nil, fmt.Errorf("%w: negative dimensions", ErrInvalidRequest)
	}

	reservation, err := s.ledger.Reserve(ctx, userID, s.cost, "Image generation")
	if err != nil {
		return nil, err
	}
	log := s.log.With(logger.UserID(userID), slog.String("reservation_id", reservation.ID.String()))

	img, err := s.client.Generate(ctx, req)
	if err != nil {
		// The caller may be gone; the refund must still land.
		if _, relErr := s.ledger.Release(context.WithoutCancel(ctx), reservation, "Image generation failed"); relErr != nil {
			log.ErrorContext(ctx, "failed to release credit reservation", logger.Error(relErr))
			return nil, errors.Join(ErrGenerationFailed, err, relErr)
		}
		log.WarnContext(ctx, "image generation failed, credits released", logger.Error(err))
		return nil, errors.Join(ErrGenerationFailed, err)
	}

	// The image is paid for at this point, so a failed balance read must not
	// cost the user the result. The reservation's snapshot is at most stale
	// by concurrent changes.
	bal, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		log.WarnContext(ctx, "balance read failed after generation, using reservation snapshot", logger.Error(err))
		bal = reservation.Balance
	}
	log.InfoContext(ctx, "image generated", logger.Credits("charged", s.cost))
	return &Result{Image: img, Charged: s.cost, Balance: bal}, nil
}
