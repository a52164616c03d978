// Package service provides the business logic layer (use cases):
// connection lifecycle, token refresh, transaction import, sync
// orchestration, and disconnect reconciliation.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/boddenberg/ledgerlink-go/internal/domain"
	"github.com/boddenberg/ledgerlink-go/internal/infra/observability"
	"github.com/boddenberg/ledgerlink-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service")

// ConnectionService manages bank connection lifecycle and credentials.
type ConnectionService struct {
	store         port.LedgerStore
	provider      port.BankProvider
	refreshMargin time.Duration
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// NewConnectionService creates a connection service. refreshMargin is how
// close to expiry an access token may get before it is rotated eagerly.
func NewConnectionService(store port.LedgerStore, provider port.BankProvider, refreshMargin time.Duration, metrics *observability.Metrics, logger *zap.Logger) *ConnectionService {
	return &ConnectionService{
		store:         store,
		provider:      provider,
		refreshMargin: refreshMargin,
		metrics:       metrics,
		logger:        logger,
	}
}

// ============================================================
// Linking
// ============================================================

// CompleteLink finishes the OAuth flow: exchanges the authorization code
// for a token pair, persists the connection as active, and seeds its
// accounts from the provider. A rejected code is a validation failure,
// not a server error.
func (s *ConnectionService) CompleteLink(ctx context.Context, tenantID, institutionName, authCode string) (*domain.BankConnection, error) {
	ctx, span := tracer.Start(ctx, "ConnectionService.CompleteLink")
	defer span.End()

	if institutionName == "" {
		return nil, &domain.ErrValidation{Field: "institutionName", Message: "institution name is required"}
	}
	if authCode == "" {
		return nil, &domain.ErrValidation{Field: "authCode", Message: "authorization code is required"}
	}

	pair, err := s.provider.ExchangeCode(ctx, authCode)
	if err != nil {
		var invalid *domain.ErrInvalidGrant
		if errors.As(err, &invalid) {
			return nil, &domain.ErrValidation{Field: "authCode", Message: "authorization code was rejected by the provider"}
		}
		return nil, err
	}

	conn := &domain.BankConnection{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		InstitutionName: institutionName,
		Status:          domain.ConnectionActive,
		AccessToken:     pair.AccessToken,
		RefreshToken:    pair.RefreshToken,
		TokenExpiresAt:  pair.ExpiresAt,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateConnection(ctx, conn); err != nil {
		return nil, err
	}

	// Seed accounts so the connection is browsable before its first sync.
	// Failures here are not fatal: the next sync re-discovers accounts.
	if err := s.seedAccounts(ctx, conn, pair.AccessToken); err != nil {
		s.logger.Warn("failed to seed accounts after linking",
			zap.String("connection_id", conn.ID),
			zap.Error(err),
		)
	}

	s.logger.Info("bank connection linked",
		zap.String("connection_id", conn.ID),
		zap.String("institution", institutionName),
	)
	return conn, nil
}

func (s *ConnectionService) seedAccounts(ctx context.Context, conn *domain.BankConnection, accessToken string) error {
	provAccounts, err := s.provider.ListAccounts(ctx, accessToken)
	if err != nil {
		s.metrics.IncrProviderError("accounts")
		return err
	}
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
		if err := s.store.UpsertAccount(ctx, account); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================
// Queries
// ============================================================

func (s *ConnectionService) GetConnection(ctx context.Context, tenantID, connectionID string) (*domain.BankConnection, error) {
	ctx, span := tracer.Start(ctx, "ConnectionService.GetConnection")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", connectionID))

	return s.store.GetConnection(ctx, tenantID, connectionID)
}

func (s *ConnectionService) ListConnections(ctx context.Context, tenantID string) ([]domain.BankConnection, error) {
	ctx, span := tracer.Start(ctx, "ConnectionService.ListConnections")
	defer span.End()

	return s.store.ListConnections(ctx, tenantID)
}

// ListAccounts returns a connection's accounts, enforcing tenant ownership.
func (s *ConnectionService) ListAccounts(ctx context.Context, tenantID, connectionID string) ([]domain.BankAccount, error) {
	ctx, span := tracer.Start(ctx, "ConnectionService.ListAccounts")
	defer span.End()

	if _, err := s.store.GetConnection(ctx, tenantID, connectionID); err != nil {
		return nil, err
	}
	return s.store.ListAccounts(ctx, connectionID)
}

// ListSyncHistory returns a connection's recent sync attempts, enforcing
// tenant ownership.
func (s *ConnectionService) ListSyncHistory(ctx context.Context, tenantID, connectionID string, limit int) ([]domain.SyncHistory, error) {
	ctx, span := tracer.Start(ctx, "ConnectionService.ListSyncHistory")
	defer span.End()

	if _, err := s.store.GetConnection(ctx, tenantID, connectionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListSyncHistory(ctx, connectionID, limit)
}

// ============================================================
// Token refresh
// ============================================================

// EnsureValidToken returns an access token guaranteed to outlive the
// refresh margin, rotating the pair at the provider when needed. The
// rotated pair and resulting status are persisted before the token is
// handed out, so a crash mid-sync never strands newer credentials only
// in memory. conn is updated in place on rotation.
//
// A provider-side invalid_grant marks the connection expired and returns
// *domain.ErrReauthRequired: only the user can fix it by re-linking.
func (s *ConnectionService) EnsureValidToken(ctx context.Context, conn *domain.BankConnection) (string, error) {
	ctx, span := tracer.Start(ctx, "ConnectionService.EnsureValidToken")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", conn.ID))

	if time.Now().Add(s.refreshMargin).Before(conn.TokenExpiresAt) {
		return conn.AccessToken, nil
	}

	pair, err := s.provider.RefreshToken(ctx, conn.RefreshToken)
	if err != nil {
		var invalid *domain.ErrInvalidGrant
		if errors.As(err, &invalid) {
			s.metrics.IncrTokenRefresh("invalid_grant")
			if updErr := s.store.UpdateConnectionStatus(ctx, conn.ID, domain.ConnectionExpired); updErr != nil {
				s.logger.Error("failed to mark connection expired",
					zap.String("connection_id", conn.ID),
					zap.Error(updErr),
				)
			}
			conn.Status = domain.ConnectionExpired
			return "", &domain.ErrReauthRequired{ConnectionID: conn.ID}
		}
		s.metrics.IncrTokenRefresh("error")
		return "", err
	}

	// Persist first: the provider already invalidated the old refresh
	// token, so losing the new pair would orphan the connection.
	if err := s.store.UpdateConnectionTokens(ctx, conn.ID, pair, domain.ConnectionActive); err != nil {
		s.metrics.IncrTokenRefresh("error")
		return "", err
	}

	conn.AccessToken = pair.AccessToken
	conn.RefreshToken = pair.RefreshToken
	conn.TokenExpiresAt = pair.ExpiresAt
	conn.Status = domain.ConnectionActive

	s.metrics.IncrTokenRefresh("success")
	s.logger.Debug("access token rotated", zap.String("connection_id", conn.ID))
	return pair.AccessToken, nil
}
