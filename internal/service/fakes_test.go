package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/ledgerlink-go/internal/domain"

	"github.com/shopspring/decimal"
)

// ============================================================
// In-memory fakes for the service tests
// ============================================================

// memStore is an in-memory port.LedgerStore.
type memStore struct {
	mu           sync.Mutex
	conns        map[string]*domain.BankConnection
	accounts     map[string]*domain.BankAccount // by account ID
	transactions []*domain.Transaction
	history      map[string]*domain.SyncHistory

	finalizeCalls int
}

func newMemStore() *memStore {
	return &memStore{
		conns:    make(map[string]*domain.BankConnection),
		accounts: make(map[string]*domain.BankAccount),
		history:  make(map[string]*domain.SyncHistory),
	}
}

func (m *memStore) CreateConnection(ctx context.Context, conn *domain.BankConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *conn
	m.conns[conn.ID] = &c
	return nil
}

func (m *memStore) GetConnection(ctx context.Context, tenantID, connectionID string) (*domain.BankConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connectionID]
	if !ok || c.TenantID != tenantID {
		return nil, &domain.ErrNotFound{Resource: "connection", ID: connectionID}
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListConnections(ctx context.Context, tenantID string) ([]domain.BankConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BankConnection
	for _, c := range m.conns {
		if c.TenantID == tenantID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) ListSyncableConnections(ctx context.Context) ([]domain.BankConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BankConnection
	for _, c := range m.conns {
		if c.Syncable() {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) UpdateConnectionTokens(ctx context.Context, connectionID string, pair *domain.TokenPair, status domain.ConnectionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connectionID]
	if !ok {
		return &domain.ErrNotFound{Resource: "connection", ID: connectionID}
	}
	c.AccessToken = pair.AccessToken
	c.RefreshToken = pair.RefreshToken
	c.TokenExpiresAt = pair.ExpiresAt
	c.Status = status
	return nil
}

func (m *memStore) UpdateConnectionStatus(ctx context.Context, connectionID string, status domain.ConnectionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connectionID]
	if !ok {
		return &domain.ErrNotFound{Resource: "connection", ID: connectionID}
	}
	c.Status = status
	return nil
}

func (m *memStore) UpdateConnectionSyncState(ctx context.Context, connectionID string, lastSyncAt time.Time, lastSyncStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connectionID]
	if !ok {
		return &domain.ErrNotFound{Resource: "connection", ID: connectionID}
	}
	c.LastSyncAt = &lastSyncAt
	c.LastSyncStatus = lastSyncStatus
	c.LastError = lastError
	return nil
}

func (m *memStore) ListAccounts(ctx context.Context, connectionID string) ([]domain.BankAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BankAccount
	for _, a := range m.accounts {
		if a.ConnectionID == connectionID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) UpsertAccount(ctx context.Context, account *domain.BankAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ConnectionID == account.ConnectionID && a.ProviderAccountID == account.ProviderAccountID {
			a.Name = account.Name
			a.Type = account.Type
			a.Currency = account.Currency
			a.Balance = account.Balance
			a.UpdatedAt = account.UpdatedAt
			return nil
		}
	}
	cp := *account
	m.accounts[account.ID] = &cp
	return nil
}

func (m *memStore) UpdateAccountBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	a.Balance = balance
	return nil
}

func (m *memStore) ListProviderTransactionIDs(ctx context.Context, accountID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, tx := range m.transactions {
		if tx.AccountID == accountID && tx.ProviderTransactionID != nil {
			seen[*tx.ProviderTransactionID] = true
		}
	}
	return seen, nil
}

func (m *memStore) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tx
	m.transactions = append(m.transactions, &cp)
	return nil
}

func (m *memStore) CreateSyncHistory(ctx context.Context, h *domain.SyncHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	m.history[h.ID] = &cp
	return nil
}

func (m *memStore) FinalizeSyncHistory(ctx context.Context, historyID string, status domain.SyncStatus, imported int, errorMessage string, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeCalls++
	h, ok := m.history[historyID]
	if !ok || h.Status != domain.SyncRunning {
		return nil // mirrors the status-filtered PATCH: no matching row
	}
	h.Status = status
	h.TransactionsImported = imported
	h.ErrorMessage = errorMessage
	h.FinishedAt = &finishedAt
	return nil
}

func (m *memStore) ListSyncHistory(ctx context.Context, connectionID string, limit int) ([]domain.SyncHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SyncHistory
	for _, h := range m.history {
		if h.ConnectionID == connectionID {
			out = append(out, *h)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) DisconnectConnection(ctx context.Context, connectionID string) (*domain.DisconnectResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns[connectionID]; !ok {
		return nil, &domain.ErrNotFound{Resource: "connection", ID: connectionID}
	}

	accountIDs := make(map[string]bool)
	for id, a := range m.accounts {
		if a.ConnectionID == connectionID {
			accountIDs[id] = true
		}
	}

	result := &domain.DisconnectResult{}
	for _, tx := range m.transactions {
		if accountIDs[tx.AccountID] && tx.ProviderTransactionID != nil {
			tx.ProviderTransactionID = nil
			if tx.Notes != "" {
				tx.Notes += "\n"
			}
			tx.Notes += domain.DisconnectNote
			result.TransactionsPreserved++
		}
	}
	for id := range accountIDs {
		delete(m.accounts, id)
		result.AccountsDeleted++
	}
	for id, h := range m.history {
		if h.ConnectionID == connectionID {
			delete(m.history, id)
		}
	}
	delete(m.conns, connectionID)
	return result, nil
}

// transactionCount counts ledger rows for one account.
func (m *memStore) transactionCount(accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tx := range m.transactions {
		if tx.AccountID == accountID {
			n++
		}
	}
	return n
}

// ============================================================
// Fake provider and categorizer
// ============================================================

type fakeProvider struct {
	mu sync.Mutex

	accounts     []domain.ProviderAccount
	accountsErr  error
	transactions map[string][]domain.ProviderTransaction
	txErr        map[string]error

	exchangePair *domain.TokenPair
	exchangeErr  error
	refreshPair  *domain.TokenPair
	refreshErr   error
	revokeErr    error

	refreshCalls int
	revokeCalls  int
	txCalls      int
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, authCode string) (*domain.TokenPair, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	if f.exchangePair != nil {
		return f.exchangePair, nil
	}
	return &domain.TokenPair{
		AccessToken:  "access-" + authCode,
		RefreshToken: "refresh-" + authCode,
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeProvider) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.refreshPair != nil {
		return f.refreshPair, nil
	}
	return &domain.TokenPair{
		AccessToken:  "rotated-access",
		RefreshToken: "rotated-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeProvider) RevokeToken(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	f.revokeCalls++
	f.mu.Unlock()
	return f.revokeErr
}

func (f *fakeProvider) ListAccounts(ctx context.Context, accessToken string) ([]domain.ProviderAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return f.accounts, nil
}

func (f *fakeProvider) ListTransactions(ctx context.Context, accessToken, providerAccountID string, since time.Time) ([]domain.ProviderTransaction, error) {
	f.mu.Lock()
	f.txCalls++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.txErr[providerAccountID]; err != nil {
		return nil, err
	}
	return f.transactions[providerAccountID], nil
}

type fakeCategorizer struct {
	categoryID string
	err        error
	calls      int
}

func (f *fakeCategorizer) Categorize(ctx context.Context, tenantID, description string, amount decimal.Decimal) (*domain.CategoryAssignment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.categoryID == "" {
		return &domain.CategoryAssignment{}, nil
	}
	id := f.categoryID
	return &domain.CategoryAssignment{CategoryID: &id, Confidence: 0.9}, nil
}

// ============================================================
// Builders
// ============================================================

func activeConnection(id, tenantID string) *domain.BankConnection {
	return &domain.BankConnection{
		ID:              id,
		TenantID:        tenantID,
		InstitutionName: "Test Bank",
		Status:          domain.ConnectionActive,
		AccessToken:     "access-" + id,
		RefreshToken:    "refresh-" + id,
		TokenExpiresAt:  time.Now().Add(time.Hour),
		CreatedAt:       time.Now(),
	}
}

func providerAccount(id string) domain.ProviderAccount {
	return domain.ProviderAccount{
		ID:       id,
		Name:     "Checking " + id,
		Type:     "checking",
		Currency: "EUR",
		Balance:  decimal.NewFromInt(1000),
	}
}

func providerTxns(ids ...string) []domain.ProviderTransaction {
	out := make([]domain.ProviderTransaction, 0, len(ids))
	for i, id := range ids {
		out = append(out, domain.ProviderTransaction{
			ID:          id,
			Description: strings.ToUpper(id),
			Amount:      decimal.NewFromInt(int64(10 + i)),
			Date:        time.Now().AddDate(0, 0, -i),
		})
	}
	return out
}

func mustFindAccount(store *memStore, connectionID, providerAccountID string) (domain.BankAccount, error) {
	accounts, _ := store.ListAccounts(context.Background(), connectionID)
	for _, a := range accounts {
		if a.ProviderAccountID == providerAccountID {
			return a, nil
		}
	}
	return domain.BankAccount{}, fmt.Errorf("no local account for provider account %s", providerAccountID)
}
