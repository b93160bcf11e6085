package credit

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence contract the ledger consumes. Balance writes and
// transaction appends are separate calls and are not atomic together.
type Store interface {
	// CreateAccount inserts the account unless it exists; created reports which.
	CreateAccount(ctx context.Context, account *Account) (created bool, err error)
	// ReadBalance returns ErrAccountNotFound for unknown accounts.
	ReadBalance(ctx context.Context, accountID uuid.UUID) (int, error)
	WriteBalance(ctx context.Context, accountID uuid.UUID, balance int) error
	AppendTransaction(ctx context.Context, tx *Transaction) error
	// ListTransactions returns newest first.
	ListTransactions(ctx context.Context, accountID uuid.UUID, filter TransactionFilter) ([]Transaction, error)
}

// Auditor finds accounts whose balance differs from the sum of their transactions.
type Auditor interface {
	AuditBalances(ctx context.Context) ([]BalanceDrift, error)
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func normalizeFilter(f TransactionFilter) TransactionFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
