package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/boddenberg/ledgerlink-go/internal/domain"
	"github.com/boddenberg/ledgerlink-go/internal/infra/observability"
	"github.com/boddenberg/ledgerlink-go/internal/infra/resilience"
	"github.com/boddenberg/ledgerlink-go/internal/port"
	"github.com/boddenberg/ledgerlink-go/internal/synclock"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SyncService orchestrates sync attempts: one connection at a time under
// the per-connection lock, scheduled cycles fanning out under a bulkhead.
type SyncService struct {
	store       port.LedgerStore
	provider    port.BankProvider
	connections *ConnectionService
	importer    *Importer
	locks       *synclock.Store
	bulkhead    *resilience.Bulkhead
	syncTimeout time.Duration
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewSyncService creates the sync orchestrator.
func NewSyncService(store port.LedgerStore, provider port.BankProvider, connections *ConnectionService, importer *Importer, locks *synclock.Store, bulkhead *resilience.Bulkhead, syncTimeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *SyncService {
	return &SyncService{
		store:       store,
		provider:    provider,
		connections: connections,
		importer:    importer,
		locks:       locks,
		bulkhead:    bulkhead,
		syncTimeout: syncTimeout,
		metrics:     metrics,
		logger:      logger,
	}
}

// ============================================================
// Triggers
// ============================================================

// SyncNow runs a synchronous, user-triggered sync for one connection.
// If another sync holds the lock the caller gets ErrSyncInProgress
// immediately; manual triggers never queue behind the scheduler.
func (s *SyncService) SyncNow(ctx context.Context, tenantID, connectionID string) (*domain.SyncResult, error) {
	ctx, span := tracer.Start(ctx, "SyncService.SyncNow")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", connectionID))

	conn, err := s.store.GetConnection(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.Syncable() {
		return nil, &domain.ErrValidation{
			Field:   "status",
			Message: "connection is " + string(conn.Status) + " and cannot sync",
		}
	}

	release, err := s.locks.Acquire(conn.ID)
	if err != nil {
		s.metrics.IncrLockContention()
		return nil, err
	}
	defer release()

	return s.runSync(ctx, conn, "manual")
}

// RunScheduledSyncCycle visits every syncable connection once. Each
// connection syncs independently: a failure is recorded on that
// connection and never aborts the cycle. The bulkhead caps how many
// connections sync at once.
func (s *SyncService) RunScheduledSyncCycle(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "SyncService.RunScheduledSyncCycle")
	defer span.End()

	conns, err := s.store.ListSyncableConnections(ctx)
	if err != nil {
		s.logger.Error("failed to list syncable connections", zap.Error(err))
		return
	}

	s.logger.Info("starting scheduled sync cycle", zap.Int("connections", len(conns)))

	var g errgroup.Group
	for i := range conns {
		conn := conns[i]
		g.Go(func() error {
			if err := s.bulkhead.Acquire(ctx); err != nil {
				return nil // shutting down
			}
			defer s.bulkhead.Release()

			s.syncScheduled(ctx, &conn)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("scheduled sync cycle finished", zap.Int("connections", len(conns)))
}

// syncScheduled runs one connection's scheduled sync, skipping quietly
// when a manual sync already holds the lock.
func (s *SyncService) syncScheduled(ctx context.Context, conn *domain.BankConnection) {
	release, err := s.locks.Acquire(conn.ID)
	if err != nil {
		s.metrics.IncrLockContention()
		s.logger.Debug("sync already in flight, skipping",
			zap.String("connection_id", conn.ID),
		)
		return
	}
	defer release()

	if _, err := s.runSync(ctx, conn, "scheduled"); err != nil {
		var reauth *domain.ErrReauthRequired
		if errors.As(err, &reauth) {
			s.logger.Warn("connection needs reauthorization",
				zap.String("connection_id", conn.ID),
			)
			return
		}
		s.logger.Error("scheduled sync failed",
			zap.String("connection_id", conn.ID),
			zap.Error(err),
		)
	}
}

// ============================================================
// The sync attempt
// ============================================================

// runSync executes one sync attempt for a connection the caller has
// already locked. A history record is opened before any provider call
// and finalized exactly once with the outcome, whatever happens.
func (s *SyncService) runSync(ctx context.Context, conn *domain.BankConnection, trigger string) (*domain.SyncResult, error) {
	ctx, span := tracer.Start(ctx, "SyncService.runSync")
	defer span.End()
	span.SetAttributes(
		attribute.String("connection.id", conn.ID),
		attribute.String("sync.trigger", trigger),
	)

	start := time.Now()
	defer func() { s.metrics.RecordSyncDuration(trigger, time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	history := &domain.SyncHistory{
		ID:           uuid.New().String(),
		ConnectionID: conn.ID,
		StartedAt:    start.UTC(),
		Status:       domain.SyncRunning,
	}
	if err := s.store.CreateSyncHistory(ctx, history); err != nil {
		return nil, err
	}

	token, err := s.connections.EnsureValidToken(ctx, conn)
	if err != nil {
		// Reauth and transient refresh failures alike end the attempt
		// before any data is fetched.
		err = classifyDeadline(ctx, err)
		s.finish(ctx, conn, history.ID, domain.SyncFailed, 0, err.Error(), trigger)
		return nil, err
	}

	summary, err := s.importer.Run(ctx, conn, token)
	if err != nil {
		err = s.classifyImportError(ctx, conn, err)
		s.finish(ctx, conn, history.ID, domain.SyncFailed, summary.Imported, err.Error(), trigger)
		return nil, err
	}

	// Partial requires at least one account to have come through; an
	// attempt where every account failed is a failed attempt.
	status := domain.SyncSuccess
	switch {
	case len(summary.Errors) == 0:
	case summary.Succeeded > 0:
		status = domain.SyncPartial
	default:
		status = domain.SyncFailed
	}
	s.finish(ctx, conn, history.ID, status, summary.Imported, strings.Join(summary.Errors, "; "), trigger)

	return &domain.SyncResult{
		ConnectionID: conn.ID,
		Status:       status,
		Imported:     summary.Imported,
		Skipped:      summary.Skipped,
		Errors:       summary.Errors,
	}, nil
}

// classifyImportError handles the token being revoked between the margin
// check and the fetch: the provider rejects it mid-import with an
// invalid-grant error, which marks the connection expired the same way a
// failed refresh does. Everything else falls through to deadline
// classification.
func (s *SyncService) classifyImportError(ctx context.Context, conn *domain.BankConnection, err error) error {
	var invalid *domain.ErrInvalidGrant
	if errors.As(err, &invalid) {
		if updErr := s.store.UpdateConnectionStatus(context.WithoutCancel(ctx), conn.ID, domain.ConnectionExpired); updErr != nil {
			s.logger.Error("failed to mark connection expired",
				zap.String("connection_id", conn.ID),
				zap.Error(updErr),
			)
		}
		conn.Status = domain.ConnectionExpired
		return &domain.ErrReauthRequired{ConnectionID: conn.ID}
	}
	return classifyDeadline(ctx, err)
}

// classifyDeadline surfaces a blown per-attempt deadline as ErrTimeout
// instead of a bare context error.
func classifyDeadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: "sync"}
	}
	return err
}

// finish finalizes the history record and the connection's sync state.
// Persistence failures here are logged, not returned: the sync outcome
// is already decided.
func (s *SyncService) finish(ctx context.Context, conn *domain.BankConnection, historyID string, status domain.SyncStatus, imported int, errMsg, trigger string) {
	// The attempt's deadline may already be gone; bookkeeping still has
	// to land.
	ctx = context.WithoutCancel(ctx)

	now := time.Now().UTC()
	if err := s.store.FinalizeSyncHistory(ctx, historyID, status, imported, errMsg, now); err != nil {
		s.logger.Error("failed to finalize sync history",
			zap.String("history_id", historyID),
			zap.Error(err),
		)
	}
	if err := s.store.UpdateConnectionSyncState(ctx, conn.ID, now, string(status), errMsg); err != nil {
		s.logger.Error("failed to update connection sync state",
			zap.String("connection_id", conn.ID),
			zap.Error(err),
		)
	}
	s.metrics.IncrSyncAttempt(string(status))
}
