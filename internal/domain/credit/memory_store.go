package credit

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps the ledger in process memory. Used with PERSISTENCE=memory and in tests.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]*Account
	transactions []Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[uuid.UUID]*Account)}
}

func (s *MemoryStore) CreateAccount(ctx context.Context, account *Account) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return false, nil
	}
	copied := *account
	s.accounts[account.ID] = &copied
	return true, nil
}

func (s *MemoryStore) ReadBalance(ctx context.Context, accountID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return acc.Balance, nil
}

func (s *MemoryStore) WriteBalance(ctx context.Context, accountID uuid.UUID, balance int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	acc.Balance = balance
	return nil
}

func (s *MemoryStore) AppendTransaction(ctx context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions = append(s.transactions, *tx)
	return nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, accountID uuid.UUID, filter TransactionFilter) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter = normalizeFilter(filter)

	matched := make([]Transaction, 0)
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if tx.AccountID != accountID || !categoryIn(tx.Category, filter.Categories) {
			continue
		}
		matched = append(matched, tx)
	}

	if filter.Offset >= len(matched) {
		return []Transaction{}, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], nil
}

func (s *MemoryStore) AuditBalances(ctx context.Context) ([]BalanceDrift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[uuid.UUID]int, len(s.accounts))
	for _, tx := range s.transactions {
		sums[tx.AccountID] += tx.Amount
	}

	drifts := make([]BalanceDrift, 0)
	for id, acc := range s.accounts {
		if acc.Balance != sums[id] {
			drifts = append(drifts, BalanceDrift{AccountID: id, Balance: acc.Balance, LedgerSum: sums[id]})
		}
	}
	return drifts, nil
}

func categoryIn(c Category, list []Category) bool {
	if len(list) == 0 {
		return true
	}
	for _, item := range list {
		if item == c {
			return true
		}
	}
	return false
}
