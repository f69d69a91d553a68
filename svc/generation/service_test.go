package generation_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pixelcredits/svc/credits"
	"github.com/dmitrymomot/pixelcredits/svc/generation"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Generate(ctx context.Context, req generation.Request) (*generation.Image, error) {
	args := m.Called(ctx, req)
	img, _ := args.Get(0).(*generation.Image)
	return img, args.Error(1)
}

func setup(t *testing.T, monthly, purchased int64) (*credits.MemoryStore, credits.Service, uuid.UUID) {
	t.Helper()
	store := credits.NewMemoryStore()
	ledger := credits.NewService(store)
	u := &credits.User{ID: uuid.New(), Email: "artist@example.com", CurrentPlan: "free", MonthlyCredits: monthly, PurchasedCredits: purchased}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return store, ledger, u.ID
}

func TestGenerate_ChargesOnSuccess(t *testing.T) {
	t.Parallel()
	_, ledger, userID := setup(t, 1, 5)
	client := &mockClient{}
	client.On("Generate", mock.Anything, generation.Request{Prompt: "a red fox"}).
		Return(&generation.Image{URL: "https://cdn.example.com/fox.png", Model: "flux"}, nil).Once()

	svc := generation.NewService(ledger, client, generation.WithCreditsPerImage(2))
	res, err := svc.Generate(context.Background(), userID, generation.Request{Prompt: "  a red fox "})
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/fox.png", res.Image.URL)
	assert.EqualValues(t, 2, res.Charged)
	assert.EqualValues(t, 0, res.Balance.Monthly)
	assert.EqualValues(t, 4, res.Balance.Purchased)
	client.AssertExpectations(t)
}

// failingBalance is a ledger whose balance reads always fail.
type failingBalance struct {
	credits.Service
}

func (failingBalance) Balance(context.Context, uuid.UUID) (credits.Balance, error) {
	return credits.Balance{}, errors.New("connection reset")
}

func TestGenerate_BalanceFailureKeepsImage(t *testing.T) {
	t.Parallel()
	_, ledger, userID := setup(t, 1, 5)
	client := &mockClient{}
	client.On("Generate", mock.Anything, mock.Anything).
		Return(&generation.Image{URL: "https://cdn.example.com/fox.png", Model: "flux"}, nil).Once()

	svc := generation.NewService(failingBalance{ledger}, client, generation.WithCreditsPerImage(2))
	res, err := svc.Generate(context.Background(), userID, generation.Request{Prompt: "a red fox"})
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/fox.png", res.Image.URL)
	assert.EqualValues(t, 2, res.Charged)
	assert.EqualValues(t, 0, res.Balance.Monthly)
	assert.EqualValues(t, 4, res.Balance.Purchased)
	assert.EqualValues(t, 4, res.Balance.Total)

	bal, err := ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, bal, res.Balance)
}

func TestGenerate_ReleasesOnFailure(t *testing.T) {
	t.Parallel()
	store, ledger, userID := setup(t, 1, 5)
	client := &mockClient{}
	client.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("gpu on fire"))

	svc := generation.NewService(ledger, client, generation.WithCreditsPerImage(3))
	_, err := svc.Generate(context.Background(), userID, generation.Request{Prompt: "a red fox"})
	require.ErrorIs(t, err, generation.ErrGenerationFailed)

	bal, err := ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, bal.Monthly)
	assert.EqualValues(t, 5, bal.Purchased)

	entries, err := store.ListLedger(context.Background(), userID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, credits.EntryRefund, entries[0].Type)
	assert.EqualValues(t, 3, entries[0].Amount)
	assert.Equal(t, credits.EntryUsage, entries[1].Type)
	assert.EqualValues(t, -3, entries[1].Amount)
}

func TestGenerate_InsufficientCreditsSkipsPaidWork(t *testing.T) {
	t.Parallel()
	_, ledger, userID := setup(t, 0, 1)
	client := &mockClient{}

	svc := generation.NewService(ledger, client, generation.WithCreditsPerImage(2))
	_, err := svc.Generate(context.Background(), userID, generation.Request{Prompt: "a red fox"})

	var insufficient *credits.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.EqualValues(t, 2, insufficient.Required)
	assert.EqualValues(t, 1, insufficient.Available)
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerate_InvalidRequest(t *testing.T) {
	t.Parallel()
	_, ledger, userID := setup(t, 10, 0)
	client := &mockClient{}
	svc := generation.NewService(ledger, client)

	for _, req := range []generation.Request{
		{Prompt: "   "},
		{Prompt: strings.Repeat("a", generation.MaxPromptLength+1)},
		{Prompt: "ok", Width: -1},
	} {
		_, err := svc.Generate(context.Background(), userID, req)
		assert.ErrorIs(t, err, generation.ErrInvalidRequest)
	}
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestNewService_Panics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { generation.NewService(nil, nil) })
}
