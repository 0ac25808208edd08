// Package inspect drives per-URL indexing inspections against an external
// inspection API, respecting a daily call quota.
package inspect

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultDailyQuota is the maximum number of successful inspection calls
// permitted in one run, matching the external API's daily rate limit.
const DefaultDailyQuota = 600

// Result is the normalised outcome of a single inspection API call.
type Result struct {
	CoverageState string
	IndexingState string
	Verdict       string
	LastCrawlTime *time.Time
}

// Record is one inspected URL as written into a daily snapshot.
type Record struct {
	URL           string
	CoverageState string
	IndexingState string
	Verdict       string
	LastCrawlTime *time.Time
}

// API is the external URL inspection call. Implementations wrap one request
// per URL and surface transport or API errors to the caller.
type API interface {
	InspectURL(ctx context.Context, pageURL string) (*Result, error)
}

// Inspector iterates a URL universe and records inspection results.
type Inspector struct {
	api        API
	dailyQuota int

	// Courtesy pause between calls; zero disables (tests).
	minDelay time.Duration
	maxDelay time.Duration
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithQuota overrides the daily inspection quota.
func WithQuota(quota int) Option {
	return func(i *Inspector) {
		i.dailyQuota = quota
	}
}

// WithDelay overrides the randomised pause between inspection calls.
func WithDelay(min, max time.Duration) Option {
	return func(i *Inspector) {
		i.minDelay = min
		i.maxDelay = max
	}
}

// New creates an Inspector over the given inspection API.
func New(api API, opts ...Option) *Inspector {
	i := &Inspector{
		api:        api,
		dailyQuota: DefaultDailyQuota,
		minDelay:   200 * time.Millisecond,
		maxDelay:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Inspect walks urls in order, inspecting each until the daily quota of
// successful calls is reached. A failed call skips that URL and continues;
// skipped URLs are returned as missing so a later run can retry them. The
// returned records preserve input order minus skipped and quota-cut entries.
func (i *Inspector) Inspect(ctx context.Context, urls []string) ([]Record, []string) {
	var records []Record
	var missing []string
	inspected := 0

	for _, pageURL := range urls {
		if inspected >= i.dailyQuota {
			log.Info().
				Int("quota", i.dailyQuota).
				Int("remaining", len(urls)-inspected-len(missing)).
				Msg("Daily inspection quota reached, deferring remaining URLs")
			break
		}
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("Inspection batch cancelled")
			break
		}

		log.Debug().Str("url", pageURL).Msg("Inspecting URL")

		result, err := i.api.InspectURL(ctx, pageURL)
		if err != nil {
			log.Warn().Err(err).Str("url", pageURL).Msg("Inspection failed, will retry on a future run")
			missing = append(missing, pageURL)
			continue
		}

		records = append(records, Record{
			URL:           pageURL,
			CoverageState: result.CoverageState,
			IndexingState: result.IndexingState,
			Verdict:       result.Verdict,
			LastCrawlTime: result.LastCrawlTime,
		})
		inspected++

		i.pause()
	}

	log.Info().
		Int("inspected", inspected).
		Int("missing", len(missing)).
		Int("universe", len(urls)).
		Msg("Inspection batch complete")

	return records, missing
}

func (i *Inspector) pause() {
	if i.maxDelay <= 0 {
		return
	}
	delay := i.minDelay
	if i.maxDelay > i.minDelay {
		delay += time.Duration(rand.Int63n(int64(i.maxDelay - i.minDelay)))
	}
	time.Sleep(delay)
}
