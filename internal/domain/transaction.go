package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisconnectNote is appended to a transaction's notes when its connection
// is disconnected and the provider linkage is removed.
const DisconnectNote = "Bank disconnected — no longer syncing"

// Transaction is the durable, tenant-owned ledger record.
//
// ProviderTransactionID is non-nil while the row is linked to a sync source;
// the pair (AccountID, ProviderTransactionID) is the sole deduplication key.
// Amount, date, and description are immutable once imported; a re-sync never
// overwrites user edits. Disconnect only nulls the provider linkage and
// appends DisconnectNote; the row itself survives.
type Transaction struct {
	ID                    string          `json:"id"`
	TenantID              string          `json:"tenantId"`
	AccountID             string          `json:"accountId"`
	ProviderTransactionID *string         `json:"providerTransactionId,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	Description           string          `json:"description"`
	Date                  time.Time       `json:"date"`
	CategoryID            *string         `json:"categoryId,omitempty"`
	Notes                 string          `json:"notes,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
}

// CategoryAssignment is the categorizer's verdict for one transaction.
// A nil CategoryID means "unknown".
type CategoryAssignment struct {
	CategoryID *string
	Confidence float64
}
