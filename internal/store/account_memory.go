package store

import (
	"context"
	"sync"
	"time"

	"github.com/alpinegear/identity/types"
	"github.com/google/uuid"
)

// MemoryAccountRepository keeps accounts in process memory.
// It backs DB_DRIVER=memory and the service tests.
type MemoryAccountRepository struct {
	mu      sync.RWMutex
	byID    map[string]types.Account
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		byID:    make(map[string]types.Account),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (r *MemoryAccountRepository) FindByEmail(ctx context.Context, email string) (types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryAccountRepository) FindByID(ctx context.Context, id string) (types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.byID[id]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	return account, nil
}

func (r *MemoryAccountRepository) InsertIfAbsent(ctx context.Context, account types.Account) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[account.Email]; exists {
		return types.Account{}, ErrDuplicateIdentity
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if _, exists := r.byID[account.ID]; exists {
		return types.Account{}, ErrDuplicateIdentity
	}

	now := r.now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	r.byID[account.ID] = account
	r.byEmail[account.Email] = account.ID
	return account, nil
}

func (r *MemoryAccountRepository) UpdateByID(ctx context.Context, id string, patch types.AccountPatch) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	if patch.IfCode != "" && account.Verification.Code != patch.IfCode {
		return types.Account{}, ErrNotFound
	}
	if patch.Empty() {
		return account, nil
	}

	account = patch.Apply(account)
	account.UpdatedAt = r.now().UTC()
	r.byID[id] = account
	return account, nil
}
