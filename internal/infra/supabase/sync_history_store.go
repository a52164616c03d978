package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/boddenberg/ledgerlink-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Sync history — append-and-finalize rows via PostgREST
// ============================================================

// syncHistoryRow maps the sync_history table.
type syncHistoryRow struct {
	ID                   string     `json:"id"`
	ConnectionID         string     `json:"connection_id"`
	StartedAt            time.Time  `json:"started_at"`
	FinishedAt           *time.Time `json:"finished_at"`
	Status               string     `json:"status"`
	TransactionsImported int        `json:"transactions_imported"`
	ErrorMessage         string     `json:"error_message"`
}

func rowToSyncHistory(r syncHistoryRow) domain.SyncHistory {
	return domain.SyncHistory{
		ID:                   r.ID,
		ConnectionID:         r.ConnectionID,
		StartedAt:            r.StartedAt,
		FinishedAt:           r.FinishedAt,
		Status:               domain.SyncStatus(r.Status),
		TransactionsImported: r.TransactionsImported,
		ErrorMessage:         r.ErrorMessage,
	}
}

// CreateSyncHistory opens a history record for a sync attempt.
func (c *Client) CreateSyncHistory(ctx context.Context, h *domain.SyncHistory) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateSyncHistory")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", h.ConnectionID))

	_, err := c.doPost(ctx, "sync_history", syncHistoryRow{
		ID:           h.ID,
		ConnectionID: h.ConnectionID,
		StartedAt:    h.StartedAt,
		Status:       string(h.Status),
	})
	return err
}

// FinalizeSyncHistory closes a history record with its outcome. The
// status filter means a record can only move out of "running" once; a
// second finalize finds no matching row and changes nothing.
func (c *Client) FinalizeSyncHistory(ctx context.Context, historyID string, status domain.SyncStatus, imported int, errorMessage string, finishedAt time.Time) error {
	ctx, span := tracer.Start(ctx, "Supabase.FinalizeSyncHistory")
	defer span.End()
	span.SetAttributes(attribute.String("history.id", historyID))

	path := fmt.Sprintf("sync_history?id=eq.%s&status=eq.%s",
		url.QueryEscape(historyID), domain.SyncRunning)
	return c.doPatch(ctx, path, map[string]any{
		"status":                string(status),
		"transactions_imported": imported,
		"error_message":         errorMessage,
		"finished_at":           finishedAt,
	})
}

// ListSyncHistory returns a connection's most recent sync attempts.
func (c *Client) ListSyncHistory(ctx context.Context, connectionID string, limit int) ([]domain.SyncHistory, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListSyncHistory")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", connectionID))

	var history []domain.SyncHistory
	path := fmt.Sprintf("sync_history?connection_id=eq.%s&order=started_at.desc&limit=%d",
		url.QueryEscape(connectionID), limit)

	err := c.get(ctx, path, func(body []byte) error {
		var rows []syncHistoryRow
		if body != nil {
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode sync history: %w", err)
			}
		}
		history = make([]domain.SyncHistory, 0, len(rows))
		for _, r := range rows {
			history = append(history, rowToSyncHistory(r))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}
