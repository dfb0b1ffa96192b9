package quota

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/threadgate/threadgate/internal/core"
)

type memoryAccount struct {
	mu      sync.Mutex
	acct    core.Account
	deleted bool
}

// MemoryAccountStore keeps accounts in process memory with one lock per
// account.
type MemoryAccountStore struct {
	accounts sync.Map // string -> *memoryAccount
}

// NewMemoryAccountStore returns a store seeded with accts.
func NewMemoryAccountStore(accts ...core.Account) *MemoryAccountStore {
	m := &MemoryAccountStore{}
	for _, acct := range accts {
		m.accounts.Store(acct.ID, &memoryAccount{acct: acct})
	}
	return m
}

// CreateAccount implements AccountRegistry.
func (m *MemoryAccountStore) CreateAccount(_ context.Context, acct *core.Account) error {
	if acct == nil || acct.ID == "" {
		return fmt.Errorf("account id is required")
	}
	if _, loaded := m.accounts.LoadOrStore(acct.ID, &memoryAccount{acct: *acct}); loaded {
		return fmt.Errorf("%w: %s", ErrAccountExists, acct.ID)
	}
	return nil
}

// GetAccount implements AccountStore.
func (m *MemoryAccountStore) GetAccount(_ context.Context, id string) (*core.Account, error) {
	entry, ok := m.load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.deleted {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	acct := entry.acct
	return &acct, nil
}

// UpdateAccount implements AccountStore.
func (m *MemoryAccountStore) UpdateAccount(_ context.Context, id string, fn func(*core.Account) error) (*core.Account, error) {
	entry, ok := m.load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.deleted {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	working := entry.acct
	if err := fn(&working); err != nil {
		return nil, err
	}
	entry.acct = working
	return &working, nil
}

// DeleteAccount implements AccountRegistry.
func (m *MemoryAccountStore) DeleteAccount(_ context.Context, id string) error {
	entry, ok := m.load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.deleted {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	entry.deleted = true
	m.accounts.CompareAndDelete(id, entry)
	return nil
}

// ListAccounts implements AccountRegistry.
func (m *MemoryAccountStore) ListAccounts(_ context.Context) ([]core.Account, error) {
	var out []core.Account
	m.accounts.Range(func(_, val any) bool {
		entry := val.(*memoryAccount)
		entry.mu.Lock()
		if !entry.deleted {
			out = append(out, entry.acct)
		}
		entry.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryAccountStore) load(id string) (*memoryAccount, bool) {
	val, ok := m.accounts.Load(id)
	if !ok {
		return nil, false
	}
	return val.(*memoryAccount), true
}
