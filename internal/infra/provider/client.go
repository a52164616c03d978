// Package provider wraps the external open-banking aggregator's HTTP API:
// OAuth code exchange, token refresh/revoke, account and transaction
// listing. The sync engine depends on it through port.BankProvider so it
// can be faked in tests.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/boddenberg/ledgerlink-go/internal/domain"
	"github.com/boddenberg/ledgerlink-go/internal/infra/resilience"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("provider")

// Client calls the aggregator API with retry, circuit breaking, and tracing.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
	cb           *gobreaker.CircuitBreaker
	cfg          resilience.Config
	logger       *zap.Logger
}

// New creates a provider client.
func New(httpClient *http.Client, baseURL, clientID, clientSecret string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	if cfg.Retryable == nil {
		cfg.Retryable = domain.IsTransient
	}
	return &Client{
		httpClient:   httpClient,
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		cb:           cb,
		cfg:          cfg,
		logger:       logger,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type providerAccount struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

type providerTransaction struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Date        string `json:"date"`
}

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeCode trades an OAuth authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, authCode string) (*domain.TokenPair, error) {
	ctx, span := tracer.Start(ctx, "Provider.ExchangeCode")
	defer span.End()

	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {authCode},
	}
	return c.tokenCall(ctx, form)
}

// RefreshToken rotates an expired access token. A provider-side rejection
// of the refresh token surfaces as *domain.ErrInvalidGrant.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	ctx, span := tracer.Start(ctx, "Provider.RefreshToken")
	defer span.End()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return c.tokenCall(ctx, form)
}

func (c *Client) tokenCall(ctx context.Context, form url.Values) (*domain.TokenPair, error) {
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	var pair *domain.TokenPair

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return &domain.ErrExternalService{Service: "provider/token", Transient: true, Err: err}
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return &domain.ErrExternalService{Service: "provider/token", Transient: true, Err: err}
			}

			if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
				var apiErr apiError
				_ = json.Unmarshal(body, &apiErr)
				return &domain.ErrInvalidGrant{Reason: apiErr.ErrorDescription}
			}
			if err := classifyStatus("provider/token", resp.StatusCode, body); err != nil {
				return err
			}

			var tr tokenResponse
			if err := json.Unmarshal(body, &tr); err != nil {
				return fmt.Errorf("failed to decode token response: %w", err)
			}

			pair = &domain.TokenPair{
				AccessToken:  tr.AccessToken,
				RefreshToken: tr.RefreshToken,
				ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
			}
			return nil
		})
	})
	if err != nil {
		return nil, breakerErr("provider/token", err)
	}
	return pair, nil
}

// RevokeToken invalidates an access token at the provider. Best-effort:
// callers log failures but proceed with the local disconnect.
func (c *Client) RevokeToken(ctx context.Context, accessToken string) error {
	ctx, span := tracer.Start(ctx, "Provider.RevokeToken")
	defer span.End()

	form := url.Values{
		"token":         {accessToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ErrExternalService{Service: "provider/revoke", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &domain.ErrExternalService{
			Service: "provider/revoke",
			Err:     fmt.Errorf("revoke returned status %d", resp.StatusCode),
		}
	}
	return nil
}

// ListAccounts fetches the accounts visible to the access token.
func (c *Client) ListAccounts(ctx context.Context, accessToken string) ([]domain.ProviderAccount, error) {
	ctx, span := tracer.Start(ctx, "Provider.ListAccounts")
	defer span.End()

	var accounts []domain.ProviderAccount

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.get(ctx, "provider/accounts", "/accounts", accessToken)
			if err != nil {
				return err
			}

			var rows []providerAccount
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode accounts: %w", err)
			}

			accounts = make([]domain.ProviderAccount, 0, len(rows))
			for _, r := range rows {
				balance, err := decimal.NewFromString(r.Balance)
				if err != nil {
					c.logger.Warn("provider: unparseable account balance",
						zap.String("account_id", r.ID),
						zap.String("balance", r.Balance),
					)
					balance = decimal.Zero
				}
				accounts = append(accounts, domain.ProviderAccount{
					ID:       r.ID,
					Name:     r.Name,
					Type:     r.Type,
					Currency: r.Currency,
					Balance:  balance,
				})
			}
			return nil
		})
	})
	if err != nil {
		return nil, breakerErr("provider/accounts", err)
	}
	return accounts, nil
}

// ListTransactions fetches an account's transactions since the given date.
// Malformed rows are skipped here and surfaced as mapping errors by the
// importer, not by the transport layer.
func (c *Client) ListTransactions(ctx context.Context, accessToken, providerAccountID string, since time.Time) ([]domain.ProviderTransaction, error) {
	ctx, span := tracer.Start(ctx, "Provider.ListTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("provider.account_id", providerAccountID))

	var txns []domain.ProviderTransaction

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			path := fmt.Sprintf("/accounts/%s/transactions?since=%s",
				url.PathEscape(providerAccountID), since.Format("2006-01-02"))
			body, err := c.get(ctx, "provider/transactions", path, accessToken)
			if err != nil {
				return err
			}

			var rows []providerTransaction
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode transactions: %w", err)
			}

			txns = make([]domain.ProviderTransaction, 0, len(rows))
			for _, r := range rows {
				amount, amtErr := decimal.NewFromString(r.Amount)
				date, dateErr := time.Parse("2006-01-02", r.Date)
				if dateErr != nil {
					date, dateErr = time.Parse(time.RFC3339, r.Date)
				}
				if amtErr != nil || dateErr != nil {
					c.logger.Warn("provider: skipping malformed transaction",
						zap.String("transaction_id", r.ID),
						zap.String("account_id", providerAccountID),
					)
					continue
				}
				txns = append(txns, domain.ProviderTransaction{
					ID:          r.ID,
					Description: r.Description,
					Amount:      amount,
					Date:        date,
				})
			}
			return nil
		})
	})
	if err != nil {
		return nil, breakerErr("provider/transactions", err)
	}
	return txns, nil
}

// get executes an authenticated GET and classifies the response status.
// A 401 means the access token was revoked or invalidated server-side
// and surfaces as *domain.ErrInvalidGrant so the orchestrator can flag
// the connection for reauthorization.
func (c *Client) get(ctx context.Context, service, path, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: service, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: service, Transient: true, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)
		reason := apiErr.ErrorDescription
		if reason == "" {
			reason = "access token rejected"
		}
		return nil, &domain.ErrInvalidGrant{Reason: reason}
	}
	if err := classifyStatus(service, resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// breakerErr converts gobreaker's sentinel errors to the domain taxonomy.
func breakerErr(service string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: service}
	}
	return err
}

// classifyStatus maps an HTTP status to the engine's error taxonomy:
// 429/5xx are transient, everything else non-2xx is terminal.
func classifyStatus(service string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return &domain.ErrExternalService{
			Service:   service,
			Transient: true,
			Err:       fmt.Errorf("provider returned status %d", status),
		}
	default:
		return &domain.ErrExternalService{
			Service: service,
			Err:     fmt.Errorf("provider returned status %d: %s", status, string(body)),
		}
	}
}
