package service

import (
	"context"

	"github.com/boddenberg/ledgerlink-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Disconnect
// ============================================================

// Disconnect severs a connection while preserving the tenant's ledger.
// Imported transactions survive with their provider linkage removed and
// a note appended; accounts, sync history, and the connection row are
// deleted in one atomic unit.
//
// Disconnect takes the connection's sync lock before touching anything,
// waiting for an in-flight sync to finish rather than racing it. Token
// revocation at the provider is best-effort: a provider outage must not
// leave the user unable to disconnect.
func (s *SyncService) Disconnect(ctx context.Context, tenantID, connectionID string) (*domain.DisconnectResult, error) {
	ctx, span := tracer.Start(ctx, "SyncService.Disconnect")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", connectionID))

	conn, err := s.store.GetConnection(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.AcquireWait(ctx, conn.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	if conn.AccessToken != "" && conn.Status != domain.ConnectionRevoked {
		if err := s.provider.RevokeToken(ctx, conn.AccessToken); err != nil {
			s.logger.Warn("token revocation failed, proceeding with local disconnect",
				zap.String("connection_id", conn.ID),
				zap.Error(err),
			)
		}
	}

	result, err := s.store.DisconnectConnection(ctx, conn.ID)
	if err != nil {
		return nil, err
	}

	s.metrics.IncrDisconnect()
	s.logger.Info("bank connection disconnected",
		zap.String("connection_id", conn.ID),
		zap.Int("transactions_preserved", result.TransactionsPreserved),
		zap.Int("accounts_deleted", result.AccountsDeleted),
	)
	return result, nil
}
