// Package categorizer adapts the external categorization service to
// port.Categorizer. The service is treated as replaceable: import must
// never fail because categorization is slow or down.
package categorizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/boddenberg/ledgerlink-go/internal/domain"
	"github.com/boddenberg/ledgerlink-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("categorizer")

// HTTPClient calls the categorization service over HTTP.
// Verdicts are memoized by description through the injected cache, since
// recurring merchants dominate real transaction feeds.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	cache      port.Cache[*domain.CategoryAssignment]
	logger     *zap.Logger
}

// NewHTTPClient creates a categorizer client.
func NewHTTPClient(httpClient *http.Client, baseURL string, cache port.Cache[*domain.CategoryAssignment], logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cache:      cache,
		logger:     logger,
	}
}

type categorizeRequest struct {
	TenantID    string `json:"tenantId"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

type categorizeResponse struct {
	CategoryID string  `json:"categoryId"`
	Confidence float64 `json:"confidence"`
}

// Categorize returns a category assignment or "unknown" (nil CategoryID).
func (c *HTTPClient) Categorize(ctx context.Context, tenantID, description string, amount decimal.Decimal) (*domain.CategoryAssignment, error) {
	ctx, span := tracer.Start(ctx, "Categorizer.Categorize")
	defer span.End()

	cacheKey := tenantID + "|" + description
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached, nil
	}

	payload, err := json.Marshal(categorizeRequest{
		TenantID:    tenantID,
		Description: description,
		Amount:      amount.String(),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/categorize", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "categorizer", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.ErrExternalService{
			Service: "categorizer",
			Err:     fmt.Errorf("categorizer returned status %d", resp.StatusCode),
		}
	}

	var cr categorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("failed to decode categorizer response: %w", err)
	}

	assignment := &domain.CategoryAssignment{Confidence: cr.Confidence}
	if cr.CategoryID != "" {
		assignment.CategoryID = &cr.CategoryID
	}

	c.cache.Set(cacheKey, assignment)
	return assignment, nil
}

// Noop is the categorizer used when no service is configured: every
// transaction stays uncategorized.
type Noop struct{}

// Categorize always returns "unknown".
func (Noop) Categorize(ctx context.Context, tenantID, description string, amount decimal.Decimal) (*domain.CategoryAssignment, error) {
	return &domain.CategoryAssignment{}, nil
}
