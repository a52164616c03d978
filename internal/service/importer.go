package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/ledgerlink-go/internal/domain"
	"github.com/boddenberg/ledgerlink-go/internal/infra/observability"
	"github.com/boddenberg/ledgerlink-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Importer pulls provider transactions into the ledger, idempotently.
// The dedup key is (accountId, providerTransactionId): a provider
// transaction already imported is skipped, never re-inserted and never
// used to overwrite the existing row.
type Importer struct {
	store        port.LedgerStore
	provider     port.BankProvider
	categorizer  port.Categorizer
	lookbackDays int
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewImporter creates an importer with a trailing lookback window of
// lookbackDays days.
func NewImporter(store port.LedgerStore, provider port.BankProvider, categorizer port.Categorizer, lookbackDays int, metrics *observability.Metrics, logger *zap.Logger) *Importer {
	return &Importer{
		store:        store,
		provider:     provider,
		categorizer:  categorizer,
		lookbackDays: lookbackDays,
		metrics:      metrics,
		logger:       logger,
	}
}

// ImportSummary is the per-attempt accounting of an import run.
// Succeeded counts accounts that fetched and persisted cleanly; an
// account whose window held only duplicates still counts.
type ImportSummary struct {
	Imported  int
	Skipped   int
	Succeeded int
	Errors    []string
}

// Run imports all accounts of a connection. A failing account is
// recorded in the summary and does not abort the others; only a failure
// to list accounts at the provider aborts the whole run.
func (im *Importer) Run(ctx context.Context, conn *domain.BankConnection, accessToken string) (*ImportSummary, error) {
	ctx, span := tracer.Start(ctx, "Importer.Run")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", conn.ID))

	summary := &ImportSummary{}

	provAccounts, err := im.provider.ListAccounts(ctx, accessToken)
	if err != nil {
		im.metrics.IncrProviderError("accounts")
		return summary, err
	}

	// Refresh account metadata before importing so new provider accounts
	// get ledger rows and renamed ones catch up.
	for _, pa := range provAccounts {
		account := &domain.BankAccount{
			ID:                uuid.New().String(),
			ConnectionID:      conn.ID,
			ProviderAccountID: pa.ID,
			Name:              pa.Name,
			Type:              pa.Type,
			Currency:          pa.Currency,
			Balance:           pa.Balance,
			UpdatedAt:         time.Now().UTC(),
		}
		if err := im.store.UpsertAccount(ctx, account); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("account %s: %v", pa.ID, err))
		}
	}

	localAccounts, err := im.store.ListAccounts(ctx, conn.ID)
	if err != nil {
		return summary, err
	}
	localByProviderID := make(map[string]domain.BankAccount, len(localAccounts))
	for _, a := range localAccounts {
		localByProviderID[a.ProviderAccountID] = a
	}

	since := time.Now().UTC().AddDate(0, 0, -im.lookbackDays)

	for _, pa := range provAccounts {
		local, ok := localByProviderID[pa.ID]
		if !ok {
			// Upsert above failed; already accounted for.
			continue
		}

		imported, skipped, err := im.importAccount(ctx, conn, local, accessToken, since)
		summary.Imported += imported
		summary.Skipped += skipped
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("account %s: %v", pa.ID, err))
			continue
		}
		summary.Succeeded++

		// The provider is authoritative for the balance.
		if err := im.store.UpdateAccountBalance(ctx, local.ID, pa.Balance); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("account %s balance: %v", pa.ID, err))
		}
	}

	im.metrics.AddImported(summary.Imported)
	im.metrics.AddSkipped(summary.Skipped)

	im.logger.Info("import finished",
		zap.String("connection_id", conn.ID),
		zap.Int("imported", summary.Imported),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", len(summary.Errors)),
	)
	return summary, nil
}

// importAccount fetches one account's transactions since the lookback
// cutoff and inserts the ones not seen before.
func (im *Importer) importAccount(ctx context.Context, conn *domain.BankConnection, account domain.BankAccount, accessToken string, since time.Time) (imported, skipped int, err error) {
	ctx, span := tracer.Start(ctx, "Importer.importAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", account.ID))

	provTxns, err := im.provider.ListTransactions(ctx, accessToken, account.ProviderAccountID, since)
	if err != nil {
		im.metrics.IncrProviderError("transactions")
		return 0, 0, err
	}

	seen, err := im.store.ListProviderTransactionIDs(ctx, account.ID)
	if err != nil {
		return 0, 0, err
	}

	for _, pt := range provTxns {
		if seen[pt.ID] {
			skipped++
			continue
		}

		tx := mapProviderTransaction(conn, account, pt)

		// Categorization must never block or fail an import: any error
		// just leaves the transaction uncategorized.
		assignment, catErr := im.categorizer.Categorize(ctx, conn.TenantID, tx.Description, tx.Amount)
		if catErr != nil {
			im.logger.Debug("categorizer unavailable, importing uncategorized",
				zap.String("account_id", account.ID),
				zap.Error(catErr),
			)
		} else if assignment != nil {
			tx.CategoryID = assignment.CategoryID
		}

		if err := im.store.InsertTransaction(ctx, tx); err != nil {
			return imported, skipped, fmt.Errorf("insert transaction %s: %w", pt.ID, err)
		}
		seen[pt.ID] = true
		imported++
	}

	return imported, skipped, nil
}

// mapProviderTransaction converts a provider record to a ledger row.
// The provider reports money out as positive; the ledger stores expenses
// as negative, so the amount is negated.
func mapProviderTransaction(conn *domain.BankConnection, account domain.BankAccount, pt domain.ProviderTransaction) *domain.Transaction {
	providerID := pt.ID
	return &domain.Transaction{
		ID:                    uuid.New().String(),
		TenantID:              conn.TenantID,
		AccountID:             account.ID,
		ProviderTransactionID: &providerID,
		Amount:                pt.Amount.Neg(),
		Description:           pt.Description,
		Date:                  pt.Date,
		CreatedAt:             time.Now().UTC(),
	}
}
