// Package handler exposes the sync engine over HTTP: connection
// lifecycle, manual sync triggers, disconnect, and operational endpoints.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/ledgerlink-go/internal/infra/observability"
	"github.com/boddenberg/ledgerlink-go/internal/port"
	"github.com/boddenberg/ledgerlink-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(connSvc *service.ConnectionService, syncSvc *service.SyncService, store port.LedgerStore, metrics *observability.Metrics, jwtSecret string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(store, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 (tenant-scoped) ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(JWTAuthMiddleware(jwtSecret, logger))

		// Connection lifecycle
		r.Post("/connections", createConnectionHandler(connSvc, logger))
		r.Get("/connections", listConnectionsHandler(connSvc, logger))
		r.Get("/connections/{connectionId}", getConnectionHandler(connSvc, logger))
		r.Get("/connections/{connectionId}/accounts", listConnectionAccountsHandler(connSvc, logger))
		r.Get("/connections/{connectionId}/history", syncHistoryHandler(connSvc, logger))

		// Sync engine
		r.Post("/connections/{connectionId}/sync", syncNowHandler(syncSvc, logger))
		r.Post("/connections/{connectionId}/disconnect", disconnectHandler(syncSvc, logger))
		r.Get("/sync/stats", syncStatsHandler(metrics, logger))
	})

	return r
}

type healthResponse struct {
	Status    string `json:"status"`
	Store     string `json:"store,omitempty"`
	LatencyMs int64  `json:"latencyMs,omitempty"`
	Time      string `json:"time"`
}

// healthzHandler reports process health plus a best-effort store probe.
func healthzHandler(store port.LedgerStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status: "healthy",
			Time:   time.Now().Format(time.RFC3339),
		}

		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			start := time.Now()
			_, err := store.ListSyncableConnections(ctx)
			resp.LatencyMs = time.Since(start).Milliseconds()
			resp.Store = "healthy"
			if err != nil {
				logger.Warn("healthz: store probe failed", zap.Error(err))
				resp.Store = "degraded"
				resp.Status = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
