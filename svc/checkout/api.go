package checkout

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/pkg/logger"
	"github.com/dmitrymomot/pixelcredits/svc/credits"
	"github.com/dmitrymomot/pixelcredits/svc/generation"
)

// maxHistoryPage is the largest ledger page the API returns.
const maxHistoryPage = 100

// API is the bearer-token protected JSON API used by the web app backend.
// It is not meant for browsers: the token is a shared service secret and
// user ids in the path are trusted as given.
type API struct {
	token     string
	ledger    credits.Service
	billing   Service
	generator generation.Service
	log       *slog.Logger
}

// APIOption configures an API.
type APIOption func(*API)

// WithAPILogger sets the logger used for 5xx responses.
func WithAPILogger(l *slog.Logger) APIOption {
	return func(a *API) { a.log = l }
}

// NewAPI creates the internal API.
// Panics on an empty token or a missing dependency, so a misconfigured
// server never starts with an open API.
func NewAPI(token string, ledger credits.Service, billingSvc Service, generator generation.Service, opts ...APIOption) *API {
	if token == "" {
		panic("checkout: internal api token is required")
	}
	if ledger == nil || billingSvc == nil || generator == nil {
		panic("checkout: ledger, billing service and generator are required")
	}
	a := &API{token: token, ledger: ledger, billing: billingSvc, generator: generator, log: logger.Discard()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes returns the API router. Mount it under /internal. Every route
// requires the bearer token.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(a.authenticate)

	r.Post("/users", a.signUp)
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/balance", a.balance)
		r.Get("/ledger", a.history)
		r.Post("/credits/deduct", a.deduct)
		r.Post("/credits/add", a.add)
		r.Post("/generations", a.generate)
		r.Post("/checkout/subscription", a.subscribe)
		r.Post("/checkout/credits", a.buyCredits)
		r.Post("/subscription/cancel", a.cancel)
	})
	r.Post("/catalog/{provider}/sync", a.syncCatalog)
	return r
}

// authenticate compares the bearer token in constant time.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// errorBody is the JSON error shape. Required and Available are set only
// for 402 responses.
type errorBody struct {
	Error     string `json:"error"`
	Required  int64  `json:"required,omitempty"`
	Available int64  `json:"available,omitempty"`
}

// userResponse is returned by sign-up.
type userResponse struct {
	ID       uuid.UUID       `json:"id"`
	Email    string          `json:"email"`
	Plan     billing.PlanID  `json:"plan"`
	Balance  credits.Balance `json:"balance"`
	Customer string          `json:"customer_id,omitempty"`
}

// ledgerEntryResponse is one ledger entry in the history listing.
type ledgerEntryResponse struct {
	ID          uuid.UUID         `json:"id"`
	Type        credits.EntryType `json:"type"`
	Amount      int64             `json:"amount"`
	Remaining   int64             `json:"remaining"`
	Source      string            `json:"source,omitempty"`
	Description string            `json:"description,omitempty"`
	ResetDate   *time.Time        `json:"reset_date,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// signUp serves POST /users with {"email": "..."}.
func (a *API) signUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	u, err := a.ledger.CreateUser(r.Context(), req.Email)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	bal, err := a.ledger.Balance(r.Context(), u.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{ID: u.ID, Email: u.Email, Plan: u.CurrentPlan, Balance: bal})
}

// balance serves GET /users/{userID}/balance.
func (a *API) balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	bal, err := a.ledger.Balance(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// history serves GET /users/{userID}/ledger?limit=&offset=.
func (a *API) history(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 20)
	if limit <= 0 || limit > maxHistoryPage {
		limit = maxHistoryPage
	}
	entries, err := a.ledger.History(r.Context(), userID, limit, max(queryInt(r, "offset", 0), 0))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryResponse{
			ID:          e.ID,
			Type:        e.Type,
			Amount:      e.Amount,
			Remaining:   e.Remaining,
			Source:      e.Source,
			Description: e.Description,
			ResetDate:   e.ResetDate,
			CreatedAt:   e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// deduct serves POST /users/{userID}/credits/deduct. A shortfall answers
// 402 with the required and available amounts.
func (a *API) deduct(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	bal, err := a.ledger.Deduct(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// add serves POST /users/{userID}/credits/add for support and promotions.
func (a *API) add(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount      int64          `json:"amount"`
		Bucket      credits.Bucket `json:"bucket"`
		Description string         `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	bal, err := a.ledger.Add(r.Context(), userID, req.Amount, req.Bucket, req.Description)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// generate serves POST /users/{userID}/generations.
func (a *API) generate(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	var req generation.Request
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.generator.Generate(r.Context(), userID, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// subscribe serves POST /users/{userID}/checkout/subscription.
func (a *API) subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Plan billing.PlanID `json:"plan"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	link, err := a.billing.SubscribeLink(r.Context(), userID, req.Plan)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// buyCredits serves POST /users/{userID}/checkout/credits.
func (a *API) buyCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	link, err := a.billing.CreditsPackLink(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// cancel serves POST /users/{userID}/subscription/cancel. It answers 202
// because the plan only changes once the provider confirms by webhook.
func (a *API) cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Immediately bool `json:"immediately"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.billing.CancelSubscription(r.Context(), userID, req.Immediately); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"requested": true})
}

// syncCatalog serves POST /catalog/{provider}/sync.
func (a *API) syncCatalog(w http.ResponseWriter, r *http.Request) {
	synced, err := a.billing.SyncCatalog(r.Context(), chi.URLParam(r, "provider"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if synced == nil {
		synced = []SyncedPlan{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": synced})
}

// userID parses the path id and answers 400 itself when it is invalid.
func (a *API) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}

// queryInt returns fallback for a missing or non-numeric parameter.
func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return v
}

// fail maps service errors to HTTP statuses. Messages of 5xx errors are
// replaced with the status text so internal details do not leak; the full
// error is logged instead.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error()}
	var status int

	var insufficient *credits.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		status = http.StatusPaymentRequired
		body.Required, body.Available = insufficient.Required, insufficient.Available
	case errors.Is(err, credits.ErrUserNotFound),
		errors.Is(err, billing.ErrPlanNotFound),
		errors.Is(err, billing.ErrUnknownProvider):
		status = http.StatusNotFound
	case errors.Is(err, credits.ErrEmailTaken),
		errors.Is(err, ErrAlreadySubscribed),
		errors.Is(err, ErrNoSubscription):
		status = http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, credits.ErrInvalidEmail),
		errors.Is(err, credits.ErrInvalidAmount),
		errors.Is(err, credits.ErrInvalidBucket),
		errors.Is(err, generation.ErrInvalidRequest),
		errors.Is(err, ErrPlanNotPurchasable):
		status = http.StatusBadRequest
	case errors.Is(err, billing.ErrUnsupported):
		status = http.StatusNotImplemented
	case errors.Is(err, billing.ErrProviderAPI),
		errors.Is(err, generation.ErrGenerationFailed):
		status = http.StatusBadGateway
		body.Error = http.StatusText(status)
	default:
		status = http.StatusInternalServerError
		body.Error = http.StatusText(status)
	}

	if status >= http.StatusInternalServerError {
		a.log.ErrorContext(r.Context(), "internal api request failed",
			slog.String("path", r.URL.Path), logger.Error(err))
	}
	writeJSON(w, status, body)
}
