package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/ledgerlink-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// HTTP helpers for POST, PATCH, RPC
// ============================================================

func (c *Client) doPost(ctx context.Context, table string, data any) ([]byte, error) {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return c.doRequest(ctx, http.MethodPost, table, bytes.NewReader(jsonBody))
}

func (c *Client) doPatch(ctx context.Context, path string, data map[string]any) error {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, http.MethodPatch, path, bytes.NewReader(jsonBody))
	return err
}

// doUpsert posts a row with merge-duplicates resolution so a conflict on
// the table's unique key becomes an update instead of an error.
func (c *Client) doUpsert(ctx context.Context, table, onConflict string, data any) error {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/rest/v1/%s?on_conflict=%s", c.baseURL, table, onConflict)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: upsert request failed",
			zap.String("table", table),
			zap.Error(err),
		)
		return &domain.ErrExternalService{Service: "supabase", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Warn("supabase: upsert non-2xx",
			zap.String("table", table),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return &domain.ErrExternalService{
			Service:   "supabase",
			Transient: resp.StatusCode >= 500,
			Err:       fmt.Errorf("upsert %s returned status %d: %s", table, resp.StatusCode, string(body)),
		}
	}
	return nil
}

// doRPC calls a Postgres function exposed by PostgREST. Used where a
// multi-table change must commit or roll back as one transaction.
func (c *Client) doRPC(ctx context.Context, fn string, args map[string]any) ([]byte, error) {
	jsonBody, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, fn)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: RPC request failed",
			zap.String("fn", fn),
			zap.Error(err),
		)
		return nil, &domain.ErrExternalService{Service: "supabase/rpc", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/rpc", Transient: true, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: RPC non-2xx",
			zap.String("fn", fn),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, &domain.ErrExternalService{
			Service:   "supabase/rpc",
			Transient: resp.StatusCode >= 500,
			Err:       fmt.Errorf("rpc %s returned status %d: %s", fn, resp.StatusCode, string(body)),
		}
	}

	c.logger.Debug("supabase: RPC OK", zap.String("fn", fn), zap.Int("status", resp.StatusCode))
	return body, nil
}
