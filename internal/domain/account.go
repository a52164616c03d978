package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankAccount is one account under a connection (checking, savings, ...).
// Owned exclusively by its BankConnection and cascade-deleted with it.
type BankAccount struct {
	ID                string          `json:"id"`
	ConnectionID      string          `json:"connectionId"`
	ProviderAccountID string          `json:"providerAccountId"`
	Name              string          `json:"name"`
	Type              string          `json:"type"`
	Currency          string          `json:"currency"`
	Balance           decimal.Decimal `json:"balance"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// ProviderAccount is the provider's view of an account, as returned by the
// aggregator's account listing endpoint. The provider is authoritative for
// the balance.
type ProviderAccount struct {
	ID       string
	Name     string
	Type     string
	Currency string
	Balance  decimal.Decimal
}

// ProviderTransaction is a raw transaction record from the aggregator.
// Amounts follow the provider's card-feed convention: positive = money
// leaving the account. The importer negates on the way into the ledger,
// where negative = expense.
type ProviderTransaction struct {
	ID          string
	Description string
	Amount      decimal.Decimal
	Date        time.Time
}
