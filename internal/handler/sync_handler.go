package handler

import (
	"net/http"

	"github.com/boddenberg/ledgerlink-go/internal/infra/observability"
	"github.com/boddenberg/ledgerlink-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Sync and disconnect endpoints
// ============================================================

// POST /v1/connections/{connectionId}/sync: synchronous manual sync.
// Returns 409 when another sync already holds the connection's lock.
func syncNowHandler(syncSvc *service.SyncService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := syncSvc.SyncNow(r.Context(), TenantIDFromContext(r.Context()), chi.URLParam(r, "connectionId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// POST /v1/connections/{connectionId}/disconnect
func disconnectHandler(syncSvc *service.SyncService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := syncSvc.Disconnect(r.Context(), TenantIDFromContext(r.Context()), chi.URLParam(r, "connectionId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// GET /v1/sync/stats: counters snapshot for dashboards.
func syncStatsHandler(metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetSyncStats())
	}
}
