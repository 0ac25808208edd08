// Package pagespeed fetches Core Web Vitals measurements from the PageSpeed
// Insights API, one call per URL.
package pagespeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/seolens/seolens/internal/util"
)

const defaultBaseURL = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

// Metrics holds one page's Core Web Vitals. Every field is nullable: a
// failed fetch produces an all-null Metrics rather than dropping the page.
type Metrics struct {
	LCP *float64 `json:"lcp"` // largest contentful paint, ms
	INP *float64 `json:"inp"` // interaction to next paint, ms
	CLS *float64 `json:"cls"` // cumulative layout shift, unitless
	FCP *float64 `json:"fcp"` // first contentful paint, ms
}

// Client calls the PageSpeed Insights API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	strategy   string

	// Courtesy pause between sequential calls; zero disables (tests).
	minDelay time.Duration
	maxDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host (tests).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = base
	}
}

// WithDelay overrides the randomised pause between calls.
func WithDelay(min, max time.Duration) Option {
	return func(c *Client) {
		c.minDelay = min
		c.maxDelay = max
	}
}

// New creates a PageSpeed Insights client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		strategy:   "mobile",
		minDelay:   time.Second,
		maxDelay:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type runPagespeedResponse struct {
	LighthouseResult struct {
		Audits map[string]struct {
			NumericValue *float64 `json:"numericValue"`
		} `json:"audits"`
	} `json:"lighthouseResult"`
}

// Fetch runs one PageSpeed call for a URL. Missing audits stay null.
func (c *Client) Fetch(ctx context.Context, pageURL string) (*Metrics, error) {
	params := url.Values{}
	params.Set("url", pageURL)
	params.Set("strategy", c.strategy)
	params.Set("category", "performance")
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create pagespeed request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute pagespeed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("pagespeed API returned status %d: %s", resp.StatusCode, string(body))
	}

	var psiResp runPagespeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&psiResp); err != nil {
		return nil, fmt.Errorf("failed to decode pagespeed response: %w", err)
	}

	audit := func(key string) *float64 {
		if a, ok := psiResp.LighthouseResult.Audits[key]; ok {
			return a.NumericValue
		}
		return nil
	}

	return &Metrics{
		LCP: audit("largest-contentful-paint"),
		INP: audit("interaction-to-next-paint"),
		CLS: audit("cumulative-layout-shift"),
		FCP: audit("first-contentful-paint"),
	}, nil
}

// FetchBatch measures every URL with bounded fan-out and returns results
// keyed by normalised URL. A failed fetch yields an all-null Metrics for
// that URL; the batch itself never fails.
func (c *Client) FetchBatch(ctx context.Context, urls []string, concurrency int) map[string]*Metrics {
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	results := make(map[string]*Metrics, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, pageURL := range urls {
		g.Go(func() error {
			metrics, err := c.Fetch(ctx, pageURL)
			if err != nil {
				log.Warn().Err(err).Str("url", pageURL).Msg("CWV fetch failed, recording null metrics")
				metrics = &Metrics{}
			}

			mu.Lock()
			results[util.NormaliseURL(pageURL)] = metrics
			mu.Unlock()

			c.pause()
			return nil
		})
	}

	// Workers never return an error; Wait just joins them.
	_ = g.Wait()

	log.Info().
		Int("urls", len(urls)).
		Int("measured", len(results)).
		Msg("Completed Core Web Vitals batch")

	return results
}

func (c *Client) pause() {
	if c.maxDelay <= 0 {
		return
	}
	delay := c.minDelay
	if c.maxDelay > c.minDelay {
		delay += time.Duration(rand.Int63n(int64(c.maxDelay - c.minDelay)))
	}
	time.Sleep(delay)
}

// Strategy reports the configured measurement strategy (mobile or desktop).
func (c *Client) Strategy() string {
	return strings.ToLower(c.strategy)
}
