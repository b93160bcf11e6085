package credit

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies a ledger entry.
type Category string

const (
	CategoryPurchase       Category = "purchase"
	CategoryGenerationCost Category = "generation_cost"
	CategoryAdminTopup     Category = "admin_topup"
	CategoryInitialGrant   Category = "initial_grant"
	CategoryRefund         Category = "refund"
)

// Transaction list tabs shown by the credits page.
var (
	RechargeCategories = []Category{CategoryAdminTopup, CategoryPurchase, CategoryInitialGrant}
	SpendCategories    = []Category{CategoryGenerationCost}
)

func (c Category) Valid() bool {
	switch c {
	case CategoryPurchase, CategoryGenerationCost, CategoryAdminTopup, CategoryInitialGrant, CategoryRefund:
		return true
	}
	return false
}

// Account holds the balance backed by the transaction log.
type Account struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Balance   int       `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is an append-only ledger row. Amount is signed.
type Transaction struct {
	ID           uuid.UUID `db:"id" json:"id"`
	AccountID    uuid.UUID `db:"account_id" json:"account_id"`
	Amount       int       `db:"amount" json:"amount"`
	Category     Category  `db:"category" json:"category"`
	Description  string    `db:"description" json:"description"`
	ReferenceID  *string   `db:"reference_id" json:"reference_id,omitempty"`
	BalanceAfter int       `db:"balance_after" json:"balance_after"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ChargeMeta describes what a charge pays for.
type ChargeMeta struct {
	Description string
	ReferenceID string
}

// TransactionFilter narrows a history listing. Empty Categories means all.
type TransactionFilter struct {
	Categories []Category
	Limit      int
	Offset     int
}

// BalanceDrift reports an account whose stored balance disagrees with its log.
type BalanceDrift struct {
	AccountID uuid.UUID `db:"account_id" json:"account_id"`
	Balance   int       `db:"balance" json:"balance"`
	LedgerSum int       `db:"ledger_sum" json:"ledger_sum"`
}

func (d BalanceDrift) Delta() int { return d.Balance - d.LedgerSum }
