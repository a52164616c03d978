package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/boddenberg/ledgerlink-go/internal/domain"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Transactions — insert-only ledger rows via PostgREST
// ============================================================

// transactionRow maps the transactions table.
type transactionRow struct {
	ID                    string          `json:"id"`
	TenantID              string          `json:"tenant_id"`
	AccountID             string          `json:"account_id"`
	ProviderTransactionID *string         `json:"provider_transaction_id"`
	Amount                decimal.Decimal `json:"amount"`
	Description           string          `json:"description"`
	Date                  string          `json:"date"`
	CategoryID            *string         `json:"category_id"`
	Notes                 string          `json:"notes"`
	CreatedAt             time.Time       `json:"created_at"`
}

// dedupRow is the projection used for building the dedup set; fetching
// full rows for every known transaction would be wasteful.
type dedupRow struct {
	ProviderTransactionID *string `json:"provider_transaction_id"`
}

// ListProviderTransactionIDs returns the set of provider IDs already
// imported for an account. This is the importer's dedup index: a provider
// transaction whose ID is in the set is skipped, never re-inserted.
func (c *Client) ListProviderTransactionIDs(ctx context.Context, accountID string) (map[string]bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProviderTransactionIDs")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	var seen map[string]bool
	path := fmt.Sprintf("transactions?account_id=eq.%s&provider_transaction_id=not.is.null&select=provider_transaction_id",
		url.QueryEscape(accountID))

	err := c.get(ctx, path, func(body []byte) error {
		var rows []dedupRow
		if body != nil {
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode transaction ids: %w", err)
			}
		}
		seen = make(map[string]bool, len(rows))
		for _, r := range rows {
			if r.ProviderTransactionID != nil {
				seen[*r.ProviderTransactionID] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seen, nil
}

// InsertTransaction appends one imported row to the ledger. Rows are
// never updated after insert; a re-import of the same provider
// transaction is prevented by the dedup index, and the unique constraint
// on (account_id, provider_transaction_id) backs that up in the database.
func (c *Client) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	ctx, span := tracer.Start(ctx, "Supabase.InsertTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", tx.AccountID))

	_, err := c.doPost(ctx, "transactions", transactionRow{
		ID:                    tx.ID,
		TenantID:              tx.TenantID,
		AccountID:             tx.AccountID,
		ProviderTransactionID: tx.ProviderTransactionID,
		Amount:                tx.Amount,
		Description:           tx.Description,
		Date:                  tx.Date.Format("2006-01-02"),
		CategoryID:            tx.CategoryID,
		Notes:                 tx.Notes,
		CreatedAt:             tx.CreatedAt,
	})
	return err
}
