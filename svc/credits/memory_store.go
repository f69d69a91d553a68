package credits

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// memTxKey marks a context that is already inside a MemoryStore transaction.
type memTxKey struct{}

// MemoryStore is an in-process Store for tests and local runs.
// Transactions are serialized and roll back by restoring a snapshot.
type MemoryStore struct {
	txMu   sync.Mutex
	mu     sync.RWMutex
	users  map[uuid.UUID]User
	ledger []LedgerEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[uuid.UUID]User)}
}

// WithTx snapshots all data, runs fn and restores the snapshot when fn
// fails. A context already inside a transaction joins it.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	users := make(map[uuid.UUID]User, len(m.users))
	for id, u := range m.users {
		users[id] = cloneUser(u)
	}
	ledger := slices.Clone(m.ledger)
	m.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, struct{}{})); err != nil {
		m.mu.Lock()
		m.users, m.ledger = users, ledger
		m.mu.Unlock()
		return err
	}
	return nil
}

// cloneUser deep-copies the pointer fields so callers cannot mutate stored
// state.
func cloneUser(u User) User {
	if u.CreditsResetDate != nil {
		rd := *u.CreditsResetDate
		u.CreditsResetDate = &rd
	}
	return u
}

// CreateUser stores a copy of user.
func (m *MemoryStore) CreateUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return ErrEmailTaken
		}
	}
	m.users[user.ID] = cloneUser(*user)
	return nil
}

// GetUser returns a copy of the stored user.
func (m *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := cloneUser(u)
	return &out, nil
}

// GetUserForUpdate relies on WithTx serializing transactions.
func (m *MemoryStore) GetUserForUpdate(ctx context.Context, id uuid.UUID) (*User, error) {
	return m.GetUser(ctx, id)
}

// findUser returns the oldest matching user, like the SQL store.
func (m *MemoryStore) findUser(match func(User) bool) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *User
	for _, u := range m.users {
		if !match(u) {
			continue
		}
		if found == nil || u.CreatedAt.Before(found.CreatedAt) ||
			(u.CreatedAt.Equal(found.CreatedAt) && u.ID.String() < found.ID.String()) {
			c := cloneUser(u)
			found = &c
		}
	}
	if found == nil {
		return nil, ErrUserNotFound
	}
	return found, nil
}

// FindUserBySubscriptionID never matches an empty id.
func (m *MemoryStore) FindUserBySubscriptionID(_ context.Context, subscriptionID string) (*User, error) {
	if subscriptionID == "" {
		return nil, ErrUserNotFound
	}
	return m.findUser(func(u User) bool { return u.SubscriptionID == subscriptionID })
}

// FindUserByCustomerID never matches an empty id.
func (m *MemoryStore) FindUserByCustomerID(_ context.Context, customerID string) (*User, error) {
	if customerID == "" {
		return nil, ErrUserNotFound
	}
	return m.findUser(func(u User) bool { return u.CustomerID == customerID })
}

// CountLinkage counts users per id; empty ids count zero.
func (m *MemoryStore) CountLinkage(_ context.Context, subscriptionID, customerID string) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var bySub, byCustomer int
	for _, u := range m.users {
		if subscriptionID != "" && u.SubscriptionID == subscriptionID {
			bySub++
		}
		if customerID != "" && u.CustomerID == customerID {
			byCustomer++
		}
	}
	return bySub, byCustomer, nil
}

// UpdateUser replaces the stored user.
func (m *MemoryStore) UpdateUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return ErrUserNotFound
	}
	m.users[user.ID] = cloneUser(*user)
	return nil
}

// InsertLedgerEntry appends entry.
func (m *MemoryStore) InsertLedgerEntry(_ context.Context, entry *LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = append(m.ledger, *entry)
	return nil
}

// LedgerEntryExists reports whether the user has an entry of typ from source.
func (m *MemoryStore) LedgerEntryExists(_ context.Context, userID uuid.UUID, typ EntryType, source string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.ContainsFunc(m.ledger, func(e LedgerEntry) bool {
		return e.UserID == userID && e.Type == typ && e.Source == source
	}), nil
}

// ListLedger returns entries newest first.
func (m *MemoryStore) ListLedger(_ context.Context, userID uuid.UUID, limit, offset int) ([]LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []LedgerEntry
	for i := len(m.ledger) - 1; i >= 0; i-- {
		if m.ledger[i].UserID == userID {
			out = append(out, m.ledger[i])
		}
	}
	if offset >= len(out) {
		return []LedgerEntry{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
