package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/ledgerlink-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Connection lifecycle endpoints
// ============================================================

type createConnectionRequest struct {
	InstitutionName string `json:"institutionName"`
	AuthCode        string `json:"authCode"`
}

// POST /v1/connections: complete an OAuth link.
func createConnectionHandler(connSvc *service.ConnectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createConnectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		conn, err := connSvc.CompleteLink(r.Context(), TenantIDFromContext(r.Context()), req.InstitutionName, req.AuthCode)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, conn)
	}
}

// GET /v1/connections
func listConnectionsHandler(connSvc *service.ConnectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conns, err := connSvc.ListConnections(r.Context(), TenantIDFromContext(r.Context()))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, conns)
	}
}

// GET /v1/connections/{connectionId}
func getConnectionHandler(connSvc *service.ConnectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := connSvc.GetConnection(r.Context(), TenantIDFromContext(r.Context()), chi.URLParam(r, "connectionId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, conn)
	}
}

// GET /v1/connections/{connectionId}/accounts
func listConnectionAccountsHandler(connSvc *service.ConnectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := connSvc.ListAccounts(r.Context(), TenantIDFromContext(r.Context()), chi.URLParam(r, "connectionId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, accounts)
	}
}

// GET /v1/connections/{connectionId}/history
func syncHistoryHandler(connSvc *service.ConnectionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := connSvc.ListSyncHistory(r.Context(), TenantIDFromContext(r.Context()), chi.URLParam(r, "connectionId"), parseLimit(r, 20))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}
