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
// Bank accounts — provider-owned rows via PostgREST
// ============================================================

// accountRow maps the bank_accounts table. Balances travel as strings to
// keep PostgREST's numeric columns exact.
type accountRow struct {
	ID                string          `json:"id"`
	ConnectionID      string          `json:"connection_id"`
	ProviderAccountID string          `json:"provider_account_id"`
	Name              string          `json:"name"`
	Type              string          `json:"type"`
	Currency          string          `json:"currency"`
	Balance           decimal.Decimal `json:"balance"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func rowToAccount(r accountRow) domain.BankAccount {
	return domain.BankAccount{
		ID:                r.ID,
		ConnectionID:      r.ConnectionID,
		ProviderAccountID: r.ProviderAccountID,
		Name:              r.Name,
		Type:              r.Type,
		Currency:          r.Currency,
		Balance:           r.Balance,
		UpdatedAt:         r.UpdatedAt,
	}
}

// ListAccounts returns all accounts under a connection.
func (c *Client) ListAccounts(ctx context.Context, connectionID string) ([]domain.BankAccount, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListAccounts")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", connectionID))

	var accounts []domain.BankAccount
	path := fmt.Sprintf("bank_accounts?connection_id=eq.%s&order=name.asc",
		url.QueryEscape(connectionID))

	err := c.get(ctx, path, func(body []byte) error {
		var rows []accountRow
		if body != nil {
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode accounts: %w", err)
			}
		}
		accounts = make([]domain.BankAccount, 0, len(rows))
		for _, r := range rows {
			accounts = append(accounts, rowToAccount(r))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// UpsertAccount inserts or refreshes an account keyed by its provider
// identity. Relies on the (connection_id, provider_account_id) unique
// constraint and PostgREST's merge-duplicates resolution.
func (c *Client) UpsertAccount(ctx context.Context, account *domain.BankAccount) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.provider_id", account.ProviderAccountID))

	return c.doUpsert(ctx,
		"bank_accounts", "connection_id,provider_account_id",
		accountRow{
			ID:                account.ID,
			ConnectionID:      account.ConnectionID,
			ProviderAccountID: account.ProviderAccountID,
			Name:              account.Name,
			Type:              account.Type,
			Currency:          account.Currency,
			Balance:           account.Balance,
			UpdatedAt:         account.UpdatedAt,
		})
}

// UpdateAccountBalance replaces an account's balance with the provider's
// authoritative figure.
func (c *Client) UpdateAccountBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateAccountBalance")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	path := fmt.Sprintf("bank_accounts?id=eq.%s", url.QueryEscape(accountID))
	return c.doPatch(ctx, path, map[string]any{
		"balance":    balance,
		"updated_at": time.Now().UTC(),
	})
}
