// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/ledgerlink-go/internal/domain"
	"github.com/shopspring/decimal"
)

// BankProvider is the external open-banking aggregator boundary.
// All calls may fail transiently (network/5xx/rate-limit) or terminally
// (401/invalid grant); implementations classify the two via
// domain.ErrExternalService and domain.ErrReauthRequired.
type BankProvider interface {
	ExchangeCode(ctx context.Context, authCode string) (*domain.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	// RevokeToken is best-effort; callers log but never abort on failure.
	RevokeToken(ctx context.Context, accessToken string) error
	ListAccounts(ctx context.Context, accessToken string) ([]domain.ProviderAccount, error)
	ListTransactions(ctx context.Context, accessToken, providerAccountID string, since time.Time) ([]domain.ProviderTransaction, error)
}

// Categorizer assigns a category to an imported transaction. It must
// tolerate being slow or unavailable without blocking import; callers
// treat any error as "unknown".
type Categorizer interface {
	Categorize(ctx context.Context, tenantID, description string, amount decimal.Decimal) (*domain.CategoryAssignment, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// LedgerStore defines all data operations for the sync engine.
// Implemented by the Supabase adapter (or an in-memory fake in tests).
type LedgerStore interface {
	// Connections
	CreateConnection(ctx context.Context, conn *domain.BankConnection) error
	GetConnection(ctx context.Context, tenantID, connectionID string) (*domain.BankConnection, error)
	ListConnections(ctx context.Context, tenantID string) ([]domain.BankConnection, error)
	ListSyncableConnections(ctx context.Context) ([]domain.BankConnection, error)
	UpdateConnectionTokens(ctx context.Context, connectionID string, pair *domain.TokenPair, status domain.ConnectionStatus) error
	UpdateConnectionStatus(ctx context.Context, connectionID string, status domain.ConnectionStatus) error
	UpdateConnectionSyncState(ctx context.Context, connectionID string, lastSyncAt time.Time, lastSyncStatus, lastError string) error

	// Accounts
	ListAccounts(ctx context.Context, connectionID string) ([]domain.BankAccount, error)
	UpsertAccount(ctx context.Context, account *domain.BankAccount) error
	UpdateAccountBalance(ctx context.Context, accountID string, balance decimal.Decimal) error

	// Transactions
	ListProviderTransactionIDs(ctx context.Context, accountID string) (map[string]bool, error)
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error

	// Sync history
	CreateSyncHistory(ctx context.Context, h *domain.SyncHistory) error
	FinalizeSyncHistory(ctx context.Context, historyID string, status domain.SyncStatus, imported int, errorMessage string, finishedAt time.Time) error
	ListSyncHistory(ctx context.Context, connectionID string, limit int) ([]domain.SyncHistory, error)

	// DisconnectConnection runs the disconnect unit atomically: unlink and
	// annotate the connection's transactions, then delete its sync history,
	// accounts, and the connection row itself.
	DisconnectConnection(ctx context.Context, connectionID string) (*domain.DisconnectResult, error)
}
