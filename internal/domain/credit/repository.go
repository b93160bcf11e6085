package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

// Repository is the PostgreSQL Store.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateAccount(ctx context.Context, account *Account) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		INSERT INTO accounts (id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, account.ID, account.Balance, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("create account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create account rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *Repository) ReadBalance(ctx context.Context, accountID uuid.UUID) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int
	err := r.db.GetContext(ctx2, &balance, `SELECT balance FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

func (r *Repository) WriteBalance(ctx context.Context, accountID uuid.UUID, balance int) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		UPDATE accounts
		SET balance = $2, updated_at = NOW()
		WHERE id = $1
	`, accountID, balance)
	if err != nil {
		return fmt.Errorf("write balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("write balance rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *Repository) AppendTransaction(ctx context.Context, tx *Transaction) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO credit_transactions (
			id, account_id, amount, category, description, reference_id, balance_after, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tx.ID, tx.AccountID, tx.Amount, tx.Category, tx.Description, tx.ReferenceID, tx.BalanceAfter, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (r *Repository) ListTransactions(ctx context.Context, accountID uuid.UUID, filter TransactionFilter) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter = normalizeFilter(filter)

	query := `
		SELECT id, account_id, amount, category, description, reference_id, balance_after, created_at
		FROM credit_transactions
		WHERE account_id = $1`
	args := []interface{}{accountID}
	idx := 2

	if len(filter.Categories) > 0 {
		categories := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			categories[i] = string(c)
		}
		query += fmt.Sprintf(" AND category = ANY($%d)", idx)
		args = append(args, pq.Array(categories))
		idx++
	}

	query = strings.TrimSpace(query) + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, filter.Limit, filter.Offset)

	transactions := make([]Transaction, 0)
	if err := r.db.SelectContext(ctx2, &transactions, query, args...); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return transactions, nil
}

func (r *Repository) AuditBalances(ctx context.Context) ([]BalanceDrift, error) {
	drifts := make([]BalanceDrift, 0)
	err := r.db.SelectContext(ctx, &drifts, `
		SELECT a.id AS account_id, a.balance, COALESCE(SUM(t.amount), 0) AS ledger_sum
		FROM accounts a
		LEFT JOIN credit_transactions t ON t.account_id = a.id
		GROUP BY a.id, a.balance
		HAVING a.balance <> COALESCE(SUM(t.amount), 0)
		ORDER BY a.id
	`)
	if err != nil {
		return nil, fmt.Errorf("audit balances: %w", err)
	}
	return drifts, nil
}
