package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/ledgerlink-go/internal/domain"
	"github.com/boddenberg/ledgerlink-go/internal/infra/observability"
	"github.com/boddenberg/ledgerlink-go/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newImporter(store *memStore, provider *fakeProvider, cat *fakeCategorizer) *service.Importer {
	return service.NewImporter(store, provider, cat, 90, observability.NewMetrics(), zap.NewNop())
}

func TestRun_ImportIsIdempotent(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{
		accounts:     []domain.ProviderAccount{providerAccount("pa-1")},
		transactions: map[string][]domain.ProviderTransaction{"pa-1": providerTxns("t1", "t2", "t3")},
	}
	conn := activeConnection("conn-1", "tenant-1")
	store.CreateConnection(context.Background(), conn)
	im := newImporter(store, provider, &fakeCategorizer{})

	first, err := im.Run(context.Background(), conn, "token")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Imported != 3 || first.Skipped != 0 {
		t.Errorf("first run: expected 3 imported / 0 skipped, got %d / %d", first.Imported, first.Skipped)
	}

	second, err := im.Run(context.Background(), conn, "token")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Imported != 0 || second.Skipped != 3 {
		t.Errorf("second run: expected 0 imported / 3 skipped, got %d / %d", second.Imported, second.Skipped)
	}
	if second.Succeeded != 1 {
		t.Errorf("an all-duplicates account still succeeds, got Succeeded=%d", second.Succeeded)
	}

	account, err := mustFindAccount(store, "conn-1", "pa-1")
	if err != nil {
		t.Fatal(err)
	}
	if n := store.transactionCount(account.ID); n != 3 {
		t.Errorf("expected 3 ledger rows after two runs, got %d", n)
	}
}

func TestRun_OnlyNewTransactionsAreAdded(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{
		accounts:     []domain.ProviderAccount{providerAccount("pa-1")},
		transactions: map[string][]domain.ProviderTransaction{"pa-1": providerTxns("t1", "t2")},
	}
	conn := activeConnection("conn-1", "tenant-1")
	store.CreateConnection(context.Background(), conn)
	im := newImporter(store, provider, &fakeCategorizer{})

	if _, err := im.Run(context.Background(), conn, "token"); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// The provider window now also contains two newer transactions.
	provider.transactions["pa-1"] = providerTxns("t1", "t2", "t3", "t4")

	summary, err := im.Run(context.Background(), conn, "token")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Imported != 2 || summary.Skipped != 2 {
		t.Errorf("expected 2 imported / 2 skipped, got %d / %d", summary.Imported, summary.Skipped)
	}
}

func TestRun_AmountSignIsNormalized(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{
		accounts: []domain.ProviderAccount{providerAccount("pa-1")},
		transactions: map[string][]domain.ProviderTransaction{
			"pa-1": {{
				ID:          "t1",
				Description: "COFFEE SHOP",
				Amount:      decimal.RequireFromString("25.50"), // provider: money out
				Date:        providerTxns("x")[0].Date,
			}},
		},
	}
	conn := activeConnection("conn-1", "tenant-1")
	store.CreateConnection(context.Background(), conn)
	im := newImporter(store, provider, &fakeCategorizer{})

	if _, err := im.Run(context.Background(), conn, "token"); err != nil {
		t.Fatalf("run: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.transactions) != 1 {
		t.Fatalf("expected 1 row, got %d", len(store.transactions))
	}
	got := store.transactions[0]
	if !got.Amount.Equal(decimal.RequireFromString("-25.50")) {
		t.Errorf("expected ledger amount -25.50 (expense), got %s", got.Amount)
	}
	if got.Description != "COFFEE SHOP" {
		t.Errorf("description must be taken verbatim, got %q", got.Description)
	}
	if got.ProviderTransactionID == nil || *got.ProviderTransactionID != "t1" {
		t.Error("expected provider linkage on imported row")
	}
}

func TestRun_AccountFailureYieldsPartialSummary(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{
		accounts: []domain.ProviderAccount{providerAccount("pa-1"), providerAccount("pa-2")},
		transactions: map[string][]domain.ProviderTransaction{
			"pa-1": providerTxns("t1", "t2"),
		},
		txErr: map[string]error{
			"pa-2": &domain.ErrExternalService{Service: "provider/transactions", Transient: true, Err: errors.New("rate limited")},
		},
	}
	conn := activeConnection("conn-1", "tenant-1")
	store.CreateConnection(context.Background(), conn)
	im := newImporter(store, provider, &fakeCategorizer{})

	summary, err := im.Run(context.Background(), conn, "token")
	if err != nil {
		t.Fatalf("run should not abort on a per-account failure: %v", err)
	}
	if summary.Imported != 2 {
		t.Errorf("healthy account should still import, got %d", summary.Imported)
	}
	if summary.Succeeded != 1 {
		t.Errorf("expected 1 account to succeed, got %d", summary.Succeeded)
	}
	if len(summary.Errors) != 1 {
		t.Errorf("expected 1 recorded error, got %d: %v", len(summary.Errors), summary.Errors)
	}
}

func TestRun_AllAccountsFailingYieldsNoSuccess(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{
		accounts: []domain.ProviderAccount{providerAccount("pa-1")},
		txErr: map[string]error{
			"pa-1": &domain.ErrExternalService{Service: "provider/transactions", Transient: true, Err: errors.New("rate limited")},
		},
	}
	conn := activeConnection("conn-1", "tenant-1")
	store.CreateConnection(context.Background(), conn)
	im := newImporter(store, provider, &fakeCategorizer{})

	summary, err := im.Run(context.Background(), conn, "token")
	if err != nil {
		t.Fatalf("run should not abort on per-account failures: %v", err)
	}
	if summary.Succeeded != 0 {
		t.Errorf("no account succeeded, got Succeeded=%d", summary.Succeeded)
	}
	if summary.Imported != 0 || len(summary.Errors) != 1 {
		t.Errorf("unexpected accounting: %+v", summary)
	}
}

func TestRun_CategorizerAssignsCategory(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{
		accounts:     []domain.ProviderAccount{providerAccount("pa-1")},
		transactions: map[string][]domain.ProviderTransaction{"pa-1": providerTxns("t1")},
	}
	conn := activeConnection("conn-1", "tenant-1")
	store.CreateConnection(context.Background(), conn)
	im := newImporter(store, provider, &fakeCategorizer{categoryID: "cat-groceries"})

	if _, err := im.Run(context.Background(), conn, "token"); err != nil {
		t.Fatalf("run: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if got := store.transactions[0].CategoryID; got == nil || *got != "cat-groceries" {
		t.Errorf("expected category assigned, got %v", got)
	}
}

func TestRun_CategorizerFailureDoesNotBlockImport(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{
		accounts:     []domain.ProviderAccount{providerAccount("pa-1")},
		transactions: map[string][]domain.ProviderTransaction{"pa-1": providerTxns("t1", "t2")},
	}
	conn := activeConnection("conn-1", "tenant-1")
	store.CreateConnection(context.Background(), conn)
	cat := &fakeCategorizer{err: errors.New("categorizer down")}
	im := newImporter(store, provider, cat)

	summary, err := im.Run(context.Background(), conn, "token")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Imported != 2 || len(summary.Errors) != 0 {
		t.Errorf("categorizer failure must not fail the import: %+v", summary)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, tx := range store.transactions {
		if tx.CategoryID != nil {
			t.Error("expected uncategorized rows when the categorizer is down")
		}
	}
}

func TestRun_UpdatesAccountBalance(t *testing.T) {
	store := newMemStore()
	pa := providerAccount("pa-1")
	pa.Balance = decimal.RequireFromString("123.45")
	provider := &fakeProvider{
		accounts:     []domain.ProviderAccount{pa},
		transactions: map[string][]domain.ProviderTransaction{"pa-1": providerTxns("t1")},
	}
	conn := activeConnection("conn-1", "tenant-1")
	store.CreateConnection(context.Background(), conn)
	im := newImporter(store, provider, &fakeCategorizer{})

	if _, err := im.Run(context.Background(), conn, "token"); err != nil {
		t.Fatalf("run: %v", err)
	}

	account, err := mustFindAccount(store, "conn-1", "pa-1")
	if err != nil {
		t.Fatal(err)
	}
	if !account.Balance.Equal(decimal.RequireFromString("123.45")) {
		t.Errorf("expected provider-authoritative balance, got %s", account.Balance)
	}
}
