// Package gsc is an HTTP client for the Google Search Console API: the
// search analytics (performance) query and the per-URL inspection call.
package gsc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seolens/seolens/internal/inspect"
)

const (
	// MaxRowsPerRequest is the row limit the search analytics query accepts.
	MaxRowsPerRequest = 25000

	defaultBaseURL  = "https://searchconsole.googleapis.com"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
)

// PerformanceRow is one row of the search analytics query result.
type PerformanceRow struct {
	Keys        []string `json:"keys"`
	Clicks      float64  `json:"clicks"`
	Impressions float64  `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}

// Client calls the Search Console API for a single site property.
type Client struct {
	mu           sync.RWMutex
	httpClient   *http.Client
	baseURL      string
	tokenURL     string
	siteURL      string
	accessToken  string
	clientID     string
	clientSecret string
	refreshToken string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host (tests).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(base, "/")
	}
}

// WithTokenURL points the client at a different OAuth token endpoint (tests).
func WithTokenURL(tokenURL string) Option {
	return func(c *Client) {
		c.tokenURL = tokenURL
	}
}

// New creates a Search Console client for the given site property.
func New(siteURL, clientID, clientSecret, refreshToken string, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      defaultBaseURL,
		tokenURL:     defaultTokenURL,
		siteURL:      siteURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RefreshAccessToken exchanges the refresh token for a new access token.
// Uses application/x-www-form-urlencoded as required by OAuth 2.0 RFC 6749.
func (c *Client) RefreshAccessToken(ctx context.Context) (string, error) {
	formData := url.Values{}
	formData.Set("client_id", c.clientID)
	formData.Set("client_secret", c.clientSecret)
	formData.Set("refresh_token", c.refreshToken)
	formData.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(formData.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute token refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token refresh response: %w", err)
	}

	log.Debug().Int("expires_in", tokenResp.ExpiresIn).Msg("Refreshed Search Console access token")

	c.mu.Lock()
	c.accessToken = tokenResp.AccessToken
	c.mu.Unlock()

	return tokenResp.AccessToken, nil
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// doJSON posts a JSON body and decodes the JSON response, refreshing the
// access token once on a 401.
func (c *Client) doJSON(ctx context.Context, endpoint string, reqBody, out any) error {
	if err := c.postJSON(ctx, endpoint, reqBody, out); err != nil {
		if !isUnauthorisedError(err) {
			return err
		}
		log.Info().Msg("Access token expired, refreshing and retrying")
		if _, refreshErr := c.RefreshAccessToken(ctx); refreshErr != nil {
			return fmt.Errorf("failed to refresh access token: %w", refreshErr)
		}
		if err := c.postJSON(ctx, endpoint, reqBody, out); err != nil {
			return fmt.Errorf("request failed after token refresh: %w", err)
		}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, reqBody, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("search console API returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// QueryPerformance runs the search analytics query for the given dimensions
// over a date range. An upstream result with no rows yields an empty slice,
// not an error.
func (c *Client) QueryPerformance(ctx context.Context, dimensions []string, startDate, endDate string) ([]PerformanceRow, error) {
	start := time.Now()

	reqBody := map[string]any{
		"startDate":  startDate,
		"endDate":    endDate,
		"dimensions": dimensions,
		"rowLimit":   MaxRowsPerRequest,
	}

	endpoint := fmt.Sprintf("/webmasters/v3/sites/%s/searchAnalytics/query", url.PathEscape(c.siteURL))

	var queryResp struct {
		Rows []PerformanceRow `json:"rows"`
	}
	if err := c.doJSON(ctx, endpoint, reqBody, &queryResp); err != nil {
		return nil, err
	}

	log.Info().
		Str("site", c.siteURL).
		Strs("dimensions", dimensions).
		Int("rows", len(queryResp.Rows)).
		Dur("duration", time.Since(start)).
		Msg("Search performance fetch completed")

	if queryResp.Rows == nil {
		return []PerformanceRow{}, nil
	}
	return queryResp.Rows, nil
}

// InspectURL runs one URL inspection call and normalises the result.
// Implements the inspect.API interface.
func (c *Client) InspectURL(ctx context.Context, pageURL string) (*inspect.Result, error) {
	reqBody := map[string]string{
		"inspectionUrl": pageURL,
		"siteUrl":       c.siteURL,
	}

	var inspectResp struct {
		InspectionResult struct {
			IndexStatusResult struct {
				CoverageState string `json:"coverageState"`
				IndexingState string `json:"indexingState"`
				Verdict       string `json:"verdict"`
				LastCrawlTime string `json:"lastCrawlTime"`
			} `json:"indexStatusResult"`
		} `json:"inspectionResult"`
	}

	if err := c.doJSON(ctx, "/v1/urlInspection/index:inspect", reqBody, &inspectResp); err != nil {
		return nil, err
	}

	status := inspectResp.InspectionResult.IndexStatusResult
	result := &inspect.Result{
		CoverageState: status.CoverageState,
		IndexingState: status.IndexingState,
		Verdict:       status.Verdict,
	}
	if status.LastCrawlTime != "" {
		if ts, err := time.Parse(time.RFC3339, status.LastCrawlTime); err == nil {
			result.LastCrawlTime = &ts
		} else {
			log.Warn().Str("value", status.LastCrawlTime).Msg("Failed to parse lastCrawlTime, leaving null")
		}
	}

	return result, nil
}

// isUnauthorisedError checks if an error indicates a 401 Unauthorised response
func isUnauthorisedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "status 401")
}
