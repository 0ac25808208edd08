package crawler

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/rs/zerolog/log"

	"github.com/seolens/seolens/internal/util"
)

// Crawler checks the live HTTP status of page URLs and walks sitemap trees.
// Requests run through a shared colly collector so concurrency and pacing
// limits apply across the whole batch.
type Crawler struct {
	config *Config
	colly  *colly.Collector
	tech   *wappalyzer.Wappalyze

	mu      sync.Mutex
	results map[string]*StatusResult
	starts  sync.Map // url -> time.Time
}

// New creates a new Crawler instance with the given configuration.
// If config is nil, default configuration is used.
func New(config *Config) *Crawler {
	if config == nil {
		config = DefaultConfig()
	}

	c := colly.NewCollector(
		colly.UserAgent(config.UserAgent),
		colly.MaxDepth(1),
		colly.Async(true),
		colly.AllowURLRevisit(),
	)

	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: config.MaxConcurrency,
		RandomDelay: time.Second / time.Duration(config.RateLimit),
	})
	c.SetRequestTimeout(config.DefaultTimeout)

	crawler := &Crawler{
		config:  config,
		colly:   c,
		results: make(map[string]*StatusResult),
	}

	tech, err := wappalyzer.New()
	if err != nil {
		log.Warn().Err(err).Msg("Technology fingerprinting unavailable")
	} else {
		crawler.tech = tech
	}

	c.OnRequest(func(r *colly.Request) {
		crawler.starts.Store(r.URL.String(), time.Now())
	})

	c.OnResponse(func(r *colly.Response) {
		requested := r.Request.URL.String()
		result := &StatusResult{
			URL:          requested,
			StatusCode:   r.StatusCode,
			ResponseTime: crawler.elapsedMs(requested),
		}

		if strings.Contains(r.Headers.Get("Content-Type"), "text/html") {
			if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body)); err == nil {
				result.Title = strings.TrimSpace(doc.Find("title").First().Text())
			}
			result.Technologies = crawler.fingerprint(*r.Headers, r.Body)
		}

		crawler.store(result)
	})

	c.OnError(func(r *colly.Response, err error) {
		requested := r.Request.URL.String()
		result := &StatusResult{
			URL:          requested,
			ResponseTime: crawler.elapsedMs(requested),
			Error:        err.Error(),
		}
		// Some error responses still carry a status (4xx/5xx pages).
		if r.StatusCode > 0 {
			result.StatusCode = r.StatusCode
			result.Error = ""
		}
		crawler.store(result)
	})

	return crawler
}

// fingerprint identifies the technologies behind a page from its response
// headers and body. Results are sorted for stable output.
func (c *Crawler) fingerprint(headers map[string][]string, body []byte) []string {
	if c.tech == nil {
		return nil
	}

	matches := c.tech.Fingerprint(headers, body)
	if len(matches) == 0 {
		return nil
	}

	names := make([]string, 0, len(matches))
	for name := range matches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetUserAgent returns the user agent string for this crawler
func (c *Crawler) GetUserAgent() string {
	return c.config.UserAgent
}

func (c *Crawler) elapsedMs(url string) int64 {
	if start, ok := c.starts.LoadAndDelete(url); ok {
		return time.Since(start.(time.Time)).Milliseconds()
	}
	return 0
}

func (c *Crawler) store(result *StatusResult) {
	key := util.NormaliseURL(result.URL)

	c.mu.Lock()
	c.results[key] = result
	c.mu.Unlock()
}

// CheckStatus fetches every URL in the batch and returns results keyed by
// normalised URL. A failed fetch yields a StatusResult carrying the error
// rather than dropping the URL; the batch itself never fails.
func (c *Crawler) CheckStatus(ctx context.Context, urls []string) map[string]*StatusResult {
	c.mu.Lock()
	c.results = make(map[string]*StatusResult, len(urls))
	c.mu.Unlock()

	for _, u := range urls {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("Status check cancelled before batch completed")
			break
		}
		if err := c.colly.Visit(u); err != nil {
			c.store(&StatusResult{URL: u, Error: err.Error()})
		}
	}

	c.colly.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]*StatusResult, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}

	log.Info().
		Int("requested", len(urls)).
		Int("resolved", len(out)).
		Msg("Completed URL status checks")

	return out
}
