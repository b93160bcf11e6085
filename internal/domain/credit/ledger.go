package credit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipcraft/clipcraft-api/internal/pkg/logger"
	"github.com/clipcraft/clipcraft-api/internal/pkg/metrics"
)

// Ledger is the only writer of balances. Charge and Grant decide on the
// stored balance, read under a per-account mutex, so instances sharing a
// store see each other's completed writes. Each account also keeps a cached
// balance for Balance: it is advisory, moves before the store confirms and
// is not rolled back when the store write fails. Reconcile replaces it with
// the stored value.
//
// Read-check-write is serialized within one process only. Two processes
// charging the same account at the same instant can still race.
type Ledger struct {
	store          Store
	initialCredits int
	now            func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
	cache map[uuid.UUID]int
}

// NewLedger opens unknown accounts with an initial grant of initialCredits.
func NewLedger(store Store, initialCredits int) *Ledger {
	return &Ledger{
		store:          store,
		initialCredits: initialCredits,
		now:            time.Now,
		locks:          make(map[uuid.UUID]*sync.Mutex),
		cache:          make(map[uuid.UUID]int),
	}
}

// Charge deducts amount as a generation_cost entry.
func (l *Ledger) Charge(ctx context.Context, accountID uuid.UUID, amount int, meta ChargeMeta) (*Transaction, error) {
	if accountID == uuid.Nil {
		metrics.RecordLedgerOperation("charge", string(CategoryGenerationCost), "rejected", amount)
		return nil, fmt.Errorf("%w: %w", ErrInsufficientCredits, ErrNoAccount)
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := l.lock(accountID)
	defer unlock()

	balance, err := l.current(ctx, accountID)
	if err != nil {
		metrics.RecordLedgerOperation("charge", string(CategoryGenerationCost), "store_error", amount)
		return nil, err
	}
	if balance < amount {
		metrics.RecordLedgerOperation("charge", string(CategoryGenerationCost), "rejected", amount)
		return nil, fmt.Errorf("%w: balance %d, required %d", ErrInsufficientCredits, balance, amount)
	}

	newBalance := balance - amount
	l.setCached(accountID, newBalance)

	if err := l.store.WriteBalance(ctx, accountID, newBalance); err != nil {
		metrics.RecordLedgerOperation("charge", string(CategoryGenerationCost), "store_error", amount)
		return nil, fmt.Errorf("%w: write balance: %w", ErrPersistence, err)
	}

	tx := l.newTransaction(accountID, -amount, CategoryGenerationCost, meta.Description, newBalance)
	if meta.ReferenceID != "" {
		ref := meta.ReferenceID
		tx.ReferenceID = &ref
	}
	if err := l.store.AppendTransaction(ctx, tx); err != nil {
		metrics.RecordLedgerOperation("charge", string(CategoryGenerationCost), "store_error", amount)
		return nil, fmt.Errorf("%w: append transaction: %w", ErrPersistence, err)
	}

	metrics.RecordLedgerOperation("charge", string(CategoryGenerationCost), "ok", amount)
	logger.FromContext(ctx).Info().
		Str("account_id", accountID.String()).
		Int("amount", amount).
		Int("balance", newBalance).
		Msg("credits charged")

	return tx, nil
}

// Grant adds amount to the balance. Store write failures are logged and not
// returned; the cached balance keeps the credit either way, and the returned
// transaction is nil because nothing was recorded. The returned error covers
// invalid input and an unreadable starting balance only.
func (l *Ledger) Grant(ctx context.Context, accountID uuid.UUID, amount int, category Category, description string) (*Transaction, error) {
	if accountID == uuid.Nil {
		return nil, ErrNoAccount
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if category == "" {
		category = CategoryPurchase
	}
	if !category.Valid() || category == CategoryGenerationCost {
		return nil, ErrInvalidCategory
	}

	unlock := l.lock(accountID)
	defer unlock()

	balance, err := l.current(ctx, accountID)
	if err != nil {
		metrics.RecordLedgerOperation("grant", string(category), "store_error", amount)
		return nil, err
	}

	newBalance := balance + amount
	l.setCached(accountID, newBalance)

	tx := l.newTransaction(accountID, amount, category, description, newBalance)
	log := logger.FromContext(ctx)

	if err := l.store.WriteBalance(ctx, accountID, newBalance); err != nil {
		log.Warn().Err(err).
			Str("account_id", accountID.String()).
			Str("category", string(category)).
			Int("amount", amount).
			Msg("grant balance write failed")
		metrics.RecordLedgerOperation("grant", string(category), "store_error", amount)
		return nil, nil
	}
	if err := l.store.AppendTransaction(ctx, tx); err != nil {
		log.Warn().Err(err).
			Str("account_id", accountID.String()).
			Str("transaction_id", tx.ID.String()).
			Msg("grant transaction append failed")
		metrics.RecordLedgerOperation("grant", string(category), "store_error", amount)
		return nil, nil
	}

	metrics.RecordLedgerOperation("grant", string(category), "ok", amount)
	log.Info().
		Str("account_id", accountID.String()).
		Str("category", string(category)).
		Int("amount", amount).
		Int("balance", newBalance).
		Msg("credits granted")

	return tx, nil
}

// Balance returns the cached balance, opening the account if needed.
func (l *Ledger) Balance(ctx context.Context, accountID uuid.UUID) (int, error) {
	if accountID == uuid.Nil {
		return 0, ErrNoAccount
	}
	unlock := l.lock(accountID)
	defer unlock()

	return l.load(ctx, accountID)
}

// Reconcile reads the stored balance and replaces the cached one.
func (l *Ledger) Reconcile(ctx context.Context, accountID uuid.UUID) (int, error) {
	if accountID == uuid.Nil {
		return 0, ErrNoAccount
	}
	unlock := l.lock(accountID)
	defer unlock()

	l.mu.Lock()
	cached, hadCache := l.cache[accountID]
	l.mu.Unlock()

	balance, err := l.current(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if hadCache && cached != balance {
		logger.FromContext(ctx).Warn().
			Str("account_id", accountID.String()).
			Int("cached", cached).
			Int("stored", balance).
			Msg("cached balance diverged from store")
	}
	return balance, nil
}

// ListTransactions returns the account history, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, accountID uuid.UUID, filter TransactionFilter) ([]Transaction, error) {
	if accountID == uuid.Nil {
		return nil, ErrNoAccount
	}
	for _, c := range filter.Categories {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCategory, c)
		}
	}
	if _, err := l.Balance(ctx, accountID); err != nil {
		return nil, err
	}

	txs, err := l.store.ListTransactions(ctx, accountID, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return txs, nil
}

// load returns the cached balance, falling back to the store.
// Caller holds the account lock.
func (l *Ledger) load(ctx context.Context, accountID uuid.UUID) (int, error) {
	l.mu.Lock()
	balance, ok := l.cache[accountID]
	l.mu.Unlock()
	if ok {
		return balance, nil
	}
	return l.current(ctx, accountID)
}

// current reads the stored balance, opening unknown accounts, and refreshes
// the cache. Caller holds the account lock.
func (l *Ledger) current(ctx context.Context, accountID uuid.UUID) (int, error) {
	balance, err := l.store.ReadBalance(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		balance, err = l.open(ctx, accountID)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read balance: %w", ErrPersistence, err)
	}

	l.setCached(accountID, balance)
	return balance, nil
}

func (l *Ledger) open(ctx context.Context, accountID uuid.UUID) (int, error) {
	now := l.now()
	created, err := l.store.CreateAccount(ctx, &Account{
		ID:        accountID,
		Balance:   l.initialCredits,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return 0, err
	}
	if !created {
		// opened concurrently elsewhere
		return l.store.ReadBalance(ctx, accountID)
	}

	if l.initialCredits > 0 {
		tx := l.newTransaction(accountID, l.initialCredits, CategoryInitialGrant, "Welcome credits", l.initialCredits)
		if err := l.store.AppendTransaction(ctx, tx); err != nil {
			logger.FromContext(ctx).Warn().Err(err).
				Str("account_id", accountID.String()).
				Msg("initial grant append failed")
		} else {
			metrics.RecordLedgerOperation("grant", string(CategoryInitialGrant), "ok", l.initialCredits)
		}
	}

	logger.FromContext(ctx).Info().
		Str("account_id", accountID.String()).
		Int("balance", l.initialCredits).
		Msg("credit account opened")

	return l.initialCredits, nil
}

func (l *Ledger) newTransaction(accountID uuid.UUID, amount int, category Category, description string, balanceAfter int) *Transaction {
	description = strings.TrimSpace(description)
	if description == "" {
		description = defaultDescription(category)
	}
	return &Transaction{
		ID:           uuid.New(),
		AccountID:    accountID,
		Amount:       amount,
		Category:     category,
		Description:  description,
		BalanceAfter: balanceAfter,
		CreatedAt:    l.now(),
	}
}

func defaultDescription(c Category) string {
	switch c {
	case CategoryGenerationCost:
		return "Video generation"
	case CategoryAdminTopup:
		return "Admin top-up"
	case CategoryInitialGrant:
		return "Welcome credits"
	case CategoryRefund:
		return "Refund"
	default:
		return "Credit purchase"
	}
}

func (l *Ledger) setCached(accountID uuid.UUID, balance int) {
	l.mu.Lock()
	l.cache[accountID] = balance
	l.mu.Unlock()
}

func (l *Ledger) lock(accountID uuid.UUID) func() {
	l.mu.Lock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
