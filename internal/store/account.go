package store

import (
	"context"

	"github.com/alpinegear/identity/types"
)

// AccountRepository persists accounts and enforces email uniqueness.
// Emails passed in are expected to be normalized by the caller.
type AccountRepository interface {
	FindByEmail(ctx context.Context, email string) (types.Account, error)
	FindByID(ctx context.Context, id string) (types.Account, error)
	// InsertIfAbsent creates the account atomically, or fails with ErrDuplicateIdentity.
	// An empty ID is replaced with a new UUID.
	InsertIfAbsent(ctx context.Context, account types.Account) (types.Account, error)
	// UpdateByID applies patch and returns the updated account, or ErrNotFound when no
	// account has the id (or, with patch.IfCode set, the stored code differs).
	UpdateByID(ctx context.Context, id string, patch types.AccountPatch) (types.Account, error)
}
