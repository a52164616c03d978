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
// Bank connections — lifecycle rows via PostgREST
// ============================================================

// connectionRow maps the bank_connections table. Token columns hold
// ciphertext produced by the TokenCipher, never raw credentials.
type connectionRow struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	InstitutionName string     `json:"institution_name"`
	Status          string     `json:"status"`
	AccessToken     string     `json:"access_token"`
	RefreshToken    string     `json:"refresh_token"`
	TokenExpiresAt  time.Time  `json:"token_expires_at"`
	LastSyncAt      *time.Time `json:"last_sync_at"`
	LastSyncStatus  string     `json:"last_sync_status"`
	LastError       string     `json:"last_error"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (c *Client) rowToConnection(r connectionRow) (*domain.BankConnection, error) {
	access, err := c.cipher.Open(r.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", r.ID, err)
	}
	refresh, err := c.cipher.Open(r.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", r.ID, err)
	}
	return &domain.BankConnection{
		ID:              r.ID,
		TenantID:        r.TenantID,
		InstitutionName: r.InstitutionName,
		Status:          domain.ConnectionStatus(r.Status),
		AccessToken:     access,
		RefreshToken:    refresh,
		TokenExpiresAt:  r.TokenExpiresAt,
		LastSyncAt:      r.LastSyncAt,
		LastSyncStatus:  r.LastSyncStatus,
		LastError:       r.LastError,
		CreatedAt:       r.CreatedAt,
	}, nil
}

// CreateConnection persists a newly linked connection.
func (c *Client) CreateConnection(ctx context.Context, conn *domain.BankConnection) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateConnection")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", conn.ID))

	access, err := c.cipher.Seal(conn.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := c.cipher.Seal(conn.RefreshToken)
	if err != nil {
		return err
	}

	_, err = c.doPost(ctx, "bank_connections", connectionRow{
		ID:              conn.ID,
		TenantID:        conn.TenantID,
		InstitutionName: conn.InstitutionName,
		Status:          string(conn.Status),
		AccessToken:     access,
		RefreshToken:    refresh,
		TokenExpiresAt:  conn.TokenExpiresAt,
		LastSyncStatus:  conn.LastSyncStatus,
		LastError:       conn.LastError,
		CreatedAt:       conn.CreatedAt,
	})
	return err
}

// GetConnection fetches one connection scoped to its tenant.
func (c *Client) GetConnection(ctx context.Context, tenantID, connectionID string) (*domain.BankConnection, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetConnection")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", connectionID))

	var conn *domain.BankConnection
	path := fmt.Sprintf("bank_connections?tenant_id=eq.%s&id=eq.%s&limit=1",
		url.QueryEscape(tenantID), url.QueryEscape(connectionID))

	err := c.get(ctx, path, func(body []byte) error {
		var rows []connectionRow
		if body != nil {
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode connection: %w", err)
			}
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "connection", ID: connectionID}
		}
		decoded, err := c.rowToConnection(rows[0])
		if err != nil {
			return err
		}
		conn = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ListConnections returns a tenant's connections, newest first.
func (c *Client) ListConnections(ctx context.Context, tenantID string) ([]domain.BankConnection, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListConnections")
	defer span.End()

	var conns []domain.BankConnection
	path := fmt.Sprintf("bank_connections?tenant_id=eq.%s&order=created_at.desc",
		url.QueryEscape(tenantID))

	err := c.get(ctx, path, func(body []byte) error {
		var rows []connectionRow
		if body != nil {
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode connections: %w", err)
			}
		}
		conns = make([]domain.BankConnection, 0, len(rows))
		for _, r := range rows {
			decoded, err := c.rowToConnection(r)
			if err != nil {
				return err
			}
			conns = append(conns, *decoded)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conns, nil
}

// ListSyncableConnections returns every connection the scheduler should
// visit, across all tenants: active plus expired (a refresh may succeed
// again after a provider hiccup), never pending or revoked.
func (c *Client) ListSyncableConnections(ctx context.Context) ([]domain.BankConnection, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListSyncableConnections")
	defer span.End()

	var conns []domain.BankConnection
	path := "bank_connections?status=in.(active,expired)&order=last_sync_at.asc.nullsfirst"

	err := c.get(ctx, path, func(body []byte) error {
		var rows []connectionRow
		if body != nil {
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode connections: %w", err)
			}
		}
		conns = make([]domain.BankConnection, 0, len(rows))
		for _, r := range rows {
			decoded, err := c.rowToConnection(r)
			if err != nil {
				return err
			}
			conns = append(conns, *decoded)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conns, nil
}

// UpdateConnectionTokens stores a rotated token pair and the resulting
// status in one write, so a refresh can never persist half a rotation.
func (c *Client) UpdateConnectionTokens(ctx context.Context, connectionID string, pair *domain.TokenPair, status domain.ConnectionStatus) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateConnectionTokens")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", connectionID))

	access, err := c.cipher.Seal(pair.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := c.cipher.Seal(pair.RefreshToken)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("bank_connections?id=eq.%s", url.QueryEscape(connectionID))
	return c.doPatch(ctx, path, map[string]any{
		"access_token":     access,
		"refresh_token":    refresh,
		"token_expires_at": pair.ExpiresAt,
		"status":           string(status),
	})
}

// UpdateConnectionStatus transitions a connection's lifecycle state.
func (c *Client) UpdateConnectionStatus(ctx context.Context, connectionID string, status domain.ConnectionStatus) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateConnectionStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("connection.id", connectionID),
		attribute.String("connection.status", string(status)),
	)

	path := fmt.Sprintf("bank_connections?id=eq.%s", url.QueryEscape(connectionID))
	return c.doPatch(ctx, path, map[string]any{
		"status": string(status),
	})
}

// UpdateConnectionSyncState records the outcome of the latest sync attempt.
func (c *Client) UpdateConnectionSyncState(ctx context.Context, connectionID string, lastSyncAt time.Time, lastSyncStatus, lastError string) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateConnectionSyncState")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", connectionID))

	path := fmt.Sprintf("bank_connections?id=eq.%s", url.QueryEscape(connectionID))
	return c.doPatch(ctx, path, map[string]any{
		"last_sync_at":     lastSyncAt,
		"last_sync_status": lastSyncStatus,
		"last_error":       lastError,
	})
}

// disconnectRow is the return shape of the disconnect_connection function.
type disconnectRow struct {
	TransactionsPreserved int `json:"transactions_preserved"`
	AccountsDeleted       int `json:"accounts_deleted"`
}

// DisconnectConnection runs the disconnect unit as one database
// transaction: null out the provider linkage on the connection's
// transactions and append the disconnect note, then delete sync history,
// accounts, and the connection row. Either everything commits or the
// connection stays fully intact.
func (c *Client) DisconnectConnection(ctx context.Context, connectionID string) (*domain.DisconnectResult, error) {
	ctx, span := tracer.Start(ctx, "Supabase.DisconnectConnection")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", connectionID))

	body, err := c.doRPC(ctx, "disconnect_connection", map[string]any{
		"p_connection_id": connectionID,
		"p_note":          domain.DisconnectNote,
	})
	if err != nil {
		return nil, err
	}

	var row disconnectRow
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, fmt.Errorf("failed to decode disconnect result: %w", err)
	}
	return &domain.DisconnectResult{
		TransactionsPreserved: row.TransactionsPreserved,
		AccountsDeleted:       row.AccountsDeleted,
	}, nil
}
