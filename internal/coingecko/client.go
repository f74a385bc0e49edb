// Package coingecko implements the market-data provider against the
// CoinGecko /coins/markets endpoint.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfold/cryptolake/internal/config"
	"github.com/quantfold/cryptolake/internal/ingest"
	"github.com/quantfold/cryptolake/internal/models"
)

// Client is an HTTP client for the CoinGecko markets API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	currency   string
	logger     *logrus.Logger
}

// NewClient builds a client from provider configuration.
func NewClient(cfg config.ProviderConfig, logger *logrus.Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		currency:   cfg.Currency,
		logger:     logger,
	}
}

// FetchBatch requests price, market-cap, volume and supply fields for
// exactly the given ids, in one call. A 429 maps to ingest.ErrRateLimited
// and any other non-2xx status to ingest.ErrProviderStatus so the fetcher
// can apply its retry taxonomy.
func (c *Client) FetchBatch(ctx context.Context, ids []string) ([]models.RawSnapshotRecord, error) {
	params := url.Values{}
	params.Set("vs_currency", c.currency)
	params.Set("ids", strings.Join(ids, ","))
	params.Set("order", "market_cap_desc")
	params.Set("per_page", strconv.Itoa(len(ids)))
	params.Set("page", "1")
	params.Set("sparkline", "false")

	endpoint := c.baseURL + "/coins/markets?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "cryptolake/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call provider: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Warn("Error closing provider response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("coingecko (%d): %w", resp.StatusCode, ingest.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("coingecko (%d) %s: %w", resp.StatusCode, truncate(body, 200), ingest.ErrProviderStatus)
	}

	var records []models.RawSnapshotRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("malformed provider response: %w: %w", err, ingest.ErrProviderStatus)
	}
	return records, nil
}

func truncate(body []byte, n int) string {
	s := string(body)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
