package credits

import (
	"context"

	"github.com/google/uuid"
)

// Store persists users and the credit ledger.
// Methods called with a context from WithTx run in that transaction.
type Store interface {
	// WithTx runs fn in a transaction. Nested calls join the outer one.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// CreateUser returns ErrEmailTaken for a duplicate email.
	CreateUser(ctx context.Context, user *User) error
	// GetUser returns ErrUserNotFound if absent.
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	// GetUserForUpdate is GetUser with a row lock held until the transaction ends.
	GetUserForUpdate(ctx context.Context, id uuid.UUID) (*User, error)
	// FindUserBySubscriptionID returns ErrUserNotFound when no user carries
	// the id.
	FindUserBySubscriptionID(ctx context.Context, subscriptionID string) (*User, error)
	// FindUserByCustomerID returns ErrUserNotFound when no user carries the
	// id. Several users can share a customer id after account merges on the
	// provider side; the oldest one wins.
	FindUserByCustomerID(ctx context.Context, customerID string) (*User, error)
	// CountLinkage reports how many users carry each id, for diagnostics.
	CountLinkage(ctx context.Context, subscriptionID, customerID string) (bySubscription, byCustomer int, err error)
	// UpdateUser saves every field of user. It returns ErrUserNotFound when
	// the user is gone.
	UpdateUser(ctx context.Context, user *User) error

	// InsertLedgerEntry appends an entry. Entries are never updated.
	InsertLedgerEntry(ctx context.Context, entry *LedgerEntry) error
	// LedgerEntryExists is the dedupe check for grants.
	LedgerEntryExists(ctx context.Context, userID uuid.UUID, typ EntryType, source string) (bool, error)
	// ListLedger returns entries newest first. A zero limit means no limit.
	ListLedger(ctx context.Context, userID uuid.UUID, limit, offset int) ([]LedgerEntry, error)
}
