// Package analytics fetches page engagement data from the Google Analytics 4
// Data API.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// GA4 API limits and constraints
const (
	// MaxRowsPerRequest is the maximum number of rows the GA4 Data API can
	// return per runReport call.
	MaxRowsPerRequest = 250000

	defaultBaseURL  = "https://analyticsdata.googleapis.com/v1beta"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
)

// engagementMetrics are the metrics requested per page, in column order.
var engagementMetrics = []string{"sessions", "engagedSessions", "screenPageViews"}

// PageEngagement represents GA4 engagement data for a single page.
type PageEngagement struct {
	HostName  string
	PagePath  string
	Sessions  int64
	Engaged   int64
	PageViews int64
}

// Client is an HTTP client for the Google Analytics 4 Data API.
type Client struct {
	mu           sync.RWMutex
	httpClient   *http.Client
	baseURL      string
	tokenURL     string
	propertyID   string
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
		c.baseURL = base
	}
}

// WithTokenURL points token refresh at a different host (tests).
func WithTokenURL(tokenURL string) Option {
	return func(c *Client) {
		c.tokenURL = tokenURL
	}
}

// New creates a GA4 Data API client for one property.
func New(propertyID, accessToken, clientID, clientSecret, refreshToken string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:      defaultBaseURL,
		tokenURL:     defaultTokenURL,
		propertyID:   propertyID,
		accessToken:  accessToken,
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// runReportRequest is the request structure for the GA4 runReport API
type runReportRequest struct {
	DateRanges []dateRange `json:"dateRanges"`
	Dimensions []dimension `json:"dimensions"`
	Metrics    []metric    `json:"metrics"`
	OrderBys   []orderBy   `json:"orderBys,omitempty"`
	Limit      int         `json:"limit"`
}

type dateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type dimension struct {
	Name string `json:"name"`
}

type metric struct {
	Name string `json:"name"`
}

type orderBy struct {
	Metric metricOrderBy `json:"metric"`
	Desc   bool          `json:"desc"`
}

type metricOrderBy struct {
	MetricName string `json:"metricName"`
}

// runReportResponse is the response structure from the GA4 runReport API
type runReportResponse struct {
	Rows []struct {
		DimensionValues []struct {
			Value string `json:"value"`
		} `json:"dimensionValues"`
		MetricValues []struct {
			Value string `json:"value"`
		} `json:"metricValues"`
	} `json:"rows"`
	RowCount int `json:"rowCount"`
}

// tokenRefreshResponse is the OAuth token refresh response
type tokenRefreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
	TokenType   string `json:"token_type"`
}

// RefreshAccessToken exchanges the refresh token for a new access token.
// Uses application/x-www-form-urlencoded as required by OAuth 2.0 RFC 6749.
func (c *Client) RefreshAccessToken(ctx context.Context) error {
	formData := url.Values{}
	formData.Set("client_id", c.clientID)
	formData.Set("client_secret", c.clientSecret)
	formData.Set("refresh_token", c.refreshToken)
	formData.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, "POST", c.tokenURL, strings.NewReader(formData.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create token refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute token refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp tokenRefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("failed to decode token refresh response: %w", err)
	}

	c.mu.Lock()
	c.accessToken = tokenResp.AccessToken
	c.mu.Unlock()

	log.Debug().
		Int("expires_in", tokenResp.ExpiresIn).
		Msg("Successfully refreshed Google access token")

	return nil
}

// FetchPageEngagement fetches per-page engagement for a date range, ordered
// by sessions descending. An empty result set is not an error. The combined
// three-metric request is tried first; if the API rejects it, each metric is
// fetched on its own and merged per page path.
func (c *Client) FetchPageEngagement(ctx context.Context, startDate, endDate string) ([]PageEngagement, error) {
	start := time.Now()

	rows, err := c.runReportWithRetry(ctx, engagementMetrics, startDate, endDate)
	if err != nil {
		log.Warn().Err(err).Msg("Combined GA4 metric request failed, falling back to per-metric requests")
		rows, err = c.fetchPerMetric(ctx, startDate, endDate)
		if err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("property_id", c.propertyID).
		Int("pages_count", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("GA4 engagement fetch completed")

	return rows, nil
}

// runReport executes one runReport call and parses rows into PageEngagement.
// Metric columns not present in metricNames stay zero.
func (c *Client) runReport(ctx context.Context, metricNames []string, startDate, endDate string) ([]PageEngagement, error) {
	metrics := make([]metric, 0, len(metricNames))
	for _, name := range metricNames {
		metrics = append(metrics, metric{Name: name})
	}

	reportReq := runReportRequest{
		DateRanges: []dateRange{{StartDate: startDate, EndDate: endDate}},
		Dimensions: []dimension{{Name: "hostName"}, {Name: "pagePath"}},
		Metrics:    metrics,
		OrderBys: []orderBy{
			{Metric: metricOrderBy{MetricName: metricNames[0]}, Desc: true},
		},
		Limit: MaxRowsPerRequest,
	}

	reqBody, err := json.Marshal(reportReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal runReport request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/properties/%s:runReport", c.baseURL, c.propertyID)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create runReport request: %w", err)
	}

	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()

	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute runReport request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GA4 API returned status %d: %s", resp.StatusCode, string(body))
	}

	var reportResp runReportResponse
	if err := json.NewDecoder(resp.Body).Decode(&reportResp); err != nil {
		return nil, fmt.Errorf("failed to decode runReport response: %w", err)
	}

	pages := make([]PageEngagement, 0, len(reportResp.Rows))
	for _, row := range reportResp.Rows {
		if len(row.DimensionValues) < 2 || len(row.MetricValues) < len(metricNames) {
			log.Warn().
				Int("dimensions", len(row.DimensionValues)).
				Int("metrics", len(row.MetricValues)).
				Msg("Skipping malformed GA4 row with insufficient dimensions or metrics")
			continue
		}

		page := PageEngagement{
			HostName: row.DimensionValues[0].Value,
			PagePath: row.DimensionValues[1].Value,
		}
		for i, name := range metricNames {
			value, err := strconv.ParseInt(row.MetricValues[i].Value, 10, 64)
			if err != nil {
				log.Warn().
					Str("metric", name).
					Str("value", row.MetricValues[i].Value).
					Err(err).
					Msg("Failed to parse GA4 metric value as integer")
				value = 0
			}
			switch name {
			case "sessions":
				page.Sessions = value
			case "engagedSessions":
				page.Engaged = value
			case "screenPageViews":
				page.PageViews = value
			}
		}
		pages = append(pages, page)
	}

	return pages, nil
}

// runReportWithRetry runs a report with automatic token refresh on 401.
func (c *Client) runReportWithRetry(ctx context.Context, metricNames []string, startDate, endDate string) ([]PageEngagement, error) {
	pages, err := c.runReport(ctx, metricNames, startDate, endDate)
	if err != nil {
		if isUnauthorisedError(err) {
			log.Info().Msg("Access token expired, refreshing and retrying")

			if refreshErr := c.RefreshAccessToken(ctx); refreshErr != nil {
				return nil, fmt.Errorf("failed to refresh access token: %w", refreshErr)
			}

			pages, err = c.runReport(ctx, metricNames, startDate, endDate)
			if err != nil {
				return nil, fmt.Errorf("request failed after token refresh: %w", err)
			}
			return pages, nil
		}
		return nil, err
	}
	return pages, nil
}

// fetchPerMetric requests each engagement metric on its own and merges the
// results per host and page path. A metric whose request fails is left zero
// for every page rather than failing the fetch, as long as at least one
// metric succeeds.
func (c *Client) fetchPerMetric(ctx context.Context, startDate, endDate string) ([]PageEngagement, error) {
	merged := make(map[string]*PageEngagement)
	var order []string
	succeeded := 0

	for _, name := range engagementMetrics {
		rows, err := c.runReportWithRetry(ctx, []string{name}, startDate, endDate)
		if err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Per-metric GA4 request failed, leaving metric empty")
			continue
		}
		succeeded++

		for _, row := range rows {
			key := row.HostName + row.PagePath
			page, ok := merged[key]
			if !ok {
				page = &PageEngagement{HostName: row.HostName, PagePath: row.PagePath}
				merged[key] = page
				order = append(order, key)
			}
			switch name {
			case "sessions":
				page.Sessions = row.Sessions
			case "engagedSessions":
				page.Engaged = row.Engaged
			case "screenPageViews":
				page.PageViews = row.PageViews
			}
		}
	}

	if succeeded == 0 {
		return nil, fmt.Errorf("all per-metric GA4 requests failed")
	}

	pages := make([]PageEngagement, 0, len(order))
	for _, key := range order {
		pages = append(pages, *merged[key])
	}
	return pages, nil
}

// isUnauthorisedError checks whether an error represents a 401 response
func isUnauthorisedError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "status 401")
}
