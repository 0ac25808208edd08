// Package pipeline orchestrates one analytics run: crawl, inspect,
// snapshot, reconcile, detect, aggregate, summarise and deliver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"html"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/seolens/seolens/internal/analytics"
	"github.com/seolens/seolens/internal/crawler"
	"github.com/seolens/seolens/internal/db"
	"github.com/seolens/seolens/internal/gsc"
	"github.com/seolens/seolens/internal/inspect"
	"github.com/seolens/seolens/internal/notifications"
	"github.com/seolens/seolens/internal/observability"
	"github.com/seolens/seolens/internal/pagespeed"
	"github.com/seolens/seolens/internal/report"
	"github.com/seolens/seolens/internal/snapshot"
)

// SiteCrawler discovers the URL universe and checks page status.
type SiteCrawler interface {
	ParseSitemapTree(ctx context.Context, rootSitemapURL string) []string
	CheckStatus(ctx context.Context, urls []string) map[string]*crawler.StatusResult
}

// URLInspector runs the quota-bounded inspection loop.
type URLInspector interface {
	Inspect(ctx context.Context, urls []string) ([]inspect.Record, []string)
}

// PerformanceSource queries search performance rows over a date range.
type PerformanceSource interface {
	QueryPerformance(ctx context.Context, dimensions []string, startDate, endDate string) ([]gsc.PerformanceRow, error)
}

// EngagementSource queries per-page engagement over a date range.
type EngagementSource interface {
	FetchPageEngagement(ctx context.Context, startDate, endDate string) ([]analytics.PageEngagement, error)
}

// ExperienceSource measures Core Web Vitals for a URL batch.
type ExperienceSource interface {
	FetchBatch(ctx context.Context, urls []string, concurrency int) map[string]*pagespeed.Metrics
}

// Summariser produces the prose summary from the narrative.
type Summariser interface {
	Summarise(ctx context.Context, narrative string) string
}

// DocumentRenderer writes the report document.
type DocumentRenderer interface {
	RenderToFile(title, body, path string) error
}

// EmailSender delivers the finished report.
type EmailSender interface {
	Send(ctx context.Context, recipients []string, subject, htmlBody, attachmentDir string) error
}

// Config holds the per-run settings. Built once, immutable afterwards.
type Config struct {
	Site            string
	SitemapURL      string
	OutputDir       string
	Recipients      []string
	LookbackDays    int
	NarrativeLimit  int
	CWVConcurrency  int
	RetentionDays   int
	ExcludePatterns []string
}

// Deps are the pipeline's collaborators. Store, Notifier and Email may be
// nil; those stages become no-ops.
type Deps struct {
	Crawler    SiteCrawler
	Inspector  URLInspector
	Snapshots  *snapshot.Store
	Search     PerformanceSource
	Engagement EngagementSource
	Experience ExperienceSource
	Summariser Summariser
	Renderer   DocumentRenderer
	Email      EmailSender
	Store      *db.DB
	Notifier   *notifications.Notifier
}

// Pipeline runs the fetch and report jobs for one site.
type Pipeline struct {
	config Config
	deps   Deps
	now    func() time.Time
}

// New creates a Pipeline, applying defaults for unset config values.
func New(config Config, deps Deps) *Pipeline {
	if config.LookbackDays <= 0 {
		config.LookbackDays = 28
	}
	if config.NarrativeLimit <= 0 {
		config.NarrativeLimit = report.DefaultNarrativeLimit
	}
	if config.CWVConcurrency <= 0 {
		config.CWVConcurrency = 4
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = snapshot.DefaultRetentionDays
	}
	if config.ExcludePatterns == nil {
		config.ExcludePatterns = crawler.DefaultExcludePatterns
	}
	return &Pipeline{config: config, deps: deps, now: time.Now}
}

// RunResult summarises a finished run.
type RunResult struct {
	JobID     string
	Pages     int
	Flagged   int
	Missing   int
	Expired   int
	Narrative string
	Summary   string
}

// RunFetch executes the full pipeline: sitemap crawl, URL inspection, a
// new daily snapshot, reconciliation, detection, aggregation, summary and
// email delivery of the CSV artifacts.
func (p *Pipeline) RunFetch(ctx context.Context, jobID string) (*RunResult, error) {
	started := p.now().UTC()
	ctx, span := observability.StartRunSpan(ctx, observability.RunSpanInfo{
		JobID: jobID, Site: p.config.Site, Type: "fetch",
	})
	defer span.End()

	p.recordStart(ctx, jobID, "fetch", started)

	// A fetch run cannot proceed without Search Console access. Fail the
	// job rather than the process so the trigger endpoint reports it.
	if p.deps.Inspector == nil {
		return nil, p.fail(ctx, jobID, "fetch", started,
			errors.New("url inspection not configured: GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GSC_REFRESH_TOKEN are required"))
	}

	log.Info().
		Str("job_id", jobID).
		Str("site", p.config.Site).
		Msg("Starting fetch run")

	urls := p.deps.Crawler.ParseSitemapTree(ctx, p.config.SitemapURL)
	filtered := crawler.FilterURLs(urls, p.config.ExcludePatterns)
	log.Info().
		Int("discovered", len(urls)).
		Int("after_filter", len(filtered)).
		Msg("Sitemap crawl complete")

	records, missing := p.deps.Inspector.Inspect(ctx, filtered)

	if err := p.deps.Snapshots.Write(started, records); err != nil {
		return nil, p.fail(ctx, jobID, "fetch", started, fmt.Errorf("failed to write daily snapshot: %w", err))
	}

	expired, err := p.deps.Snapshots.Expire(p.config.RetentionDays, started)
	if err != nil {
		log.Warn().Err(err).Msg("Snapshot expiry failed, continuing")
	}

	bundle, err := p.buildReport(ctx)
	if err != nil {
		return nil, p.fail(ctx, jobID, "fetch", started, err)
	}

	if err := p.deps.Store.StorePageMetrics(ctx, jobID, bundle.rows); err != nil {
		log.Warn().Err(err).Msg("Failed to persist page metrics, continuing")
	}

	if p.deps.Email != nil && len(p.config.Recipients) > 0 {
		subject := fmt.Sprintf("SEO report for %s (%s)", p.config.Site, started.Format("2006-01-02"))
		body := buildHTMLBody(p.config.Site, bundle.summary, bundle.narrative, bundle.tech)
		attachDir := filepath.Join(p.config.OutputDir, aggregatesDir)
		if err := p.deps.Email.Send(ctx, p.config.Recipients, subject, body, attachDir); err != nil {
			return nil, p.fail(ctx, jobID, "fetch", started, fmt.Errorf("failed to send report email: %w", err))
		}
	}

	result := &RunResult{
		JobID:     jobID,
		Pages:     len(bundle.rows),
		Flagged:   countFlagged(bundle.rows),
		Missing:   len(missing),
		Expired:   expired,
		Narrative: bundle.narrative,
		Summary:   bundle.summary,
	}

	p.recordComplete(ctx, jobID, "fetch", result, started)
	return result, nil
}

// RunReport rebuilds the report from the current master index, renders it
// to PDF and emails the document. No inspection quota is spent.
func (p *Pipeline) RunReport(ctx context.Context, jobID string) (*RunResult, error) {
	started := p.now().UTC()
	ctx, span := observability.StartRunSpan(ctx, observability.RunSpanInfo{
		JobID: jobID, Site: p.config.Site, Type: "report",
	})
	defer span.End()

	p.recordStart(ctx, jobID, "report", started)

	log.Info().
		Str("job_id", jobID).
		Str("site", p.config.Site).
		Msg("Starting report run")

	bundle, err := p.buildReport(ctx)
	if err != nil {
		return nil, p.fail(ctx, jobID, "report", started, err)
	}

	if p.deps.Renderer != nil {
		title := fmt.Sprintf("SEO Report: %s (%s)", p.config.Site, started.Format("2006-01-02"))
		body := bundle.summary + "\n\n" + bundle.narrative
		pdfPath := filepath.Join(p.config.OutputDir, reportDir,
			fmt.Sprintf("seo_report_%s.pdf", started.Format("2006-01-02")))
		if err := p.deps.Renderer.RenderToFile(title, body, pdfPath); err != nil {
			return nil, p.fail(ctx, jobID, "report", started, fmt.Errorf("failed to render report PDF: %w", err))
		}
	}

	if p.deps.Email != nil && len(p.config.Recipients) > 0 {
		subject := fmt.Sprintf("Weekly SEO report for %s", p.config.Site)
		body := buildHTMLBody(p.config.Site, bundle.summary, bundle.narrative, bundle.tech)
		attachDir := filepath.Join(p.config.OutputDir, reportDir)
		if err := p.deps.Email.Send(ctx, p.config.Recipients, subject, body, attachDir); err != nil {
			return nil, p.fail(ctx, jobID, "report", started, fmt.Errorf("failed to send report email: %w", err))
		}
	}

	result := &RunResult{
		JobID:     jobID,
		Pages:     len(bundle.rows),
		Flagged:   countFlagged(bundle.rows),
		Narrative: bundle.narrative,
		Summary:   bundle.summary,
	}

	p.recordComplete(ctx, jobID, "report", result, started)
	return result, nil
}

type reportBundle struct {
	master     []snapshot.MasterRecord
	rows       []report.Row
	aggregates []report.PageAggregate
	tallies    []report.ErrorTally
	engagement []analytics.PageEngagement
	tech       []string
	narrative  string
	summary    string
}

// buildReport runs the reporting stages shared by both job types, from
// the merged master index through to written artifacts.
func (p *Pipeline) buildReport(ctx context.Context) (*reportBundle, error) {
	master, err := p.deps.Snapshots.Merge()
	if err != nil {
		return nil, fmt.Errorf("failed to merge snapshots: %w", err)
	}

	endDate := p.now().UTC()
	startDate := endDate.AddDate(0, 0, -p.config.LookbackDays)

	var performance []report.Performance
	if p.deps.Search != nil {
		perfRows, err := p.deps.Search.QueryPerformance(ctx, []string{"page"},
			startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))
		if err != nil {
			log.Warn().Err(err).Msg("Search performance fetch failed, continuing without performance data")
		} else {
			table := report.NormaliseColumns(performanceTable(perfRows))
			performance = report.PerformanceRecords(table)
		}
	}

	var engagement []analytics.PageEngagement
	if p.deps.Engagement != nil {
		engagement, err = p.deps.Engagement.FetchPageEngagement(ctx,
			startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))
		if err != nil {
			log.Warn().Err(err).Msg("Engagement fetch failed, continuing without engagement data")
			engagement = nil
		}
	}

	urls := make([]string, 0, len(master))
	for i := range master {
		urls = append(urls, master[i].URL)
	}

	var statuses map[string]*crawler.StatusResult
	if p.deps.Crawler != nil && len(urls) > 0 {
		statuses = p.deps.Crawler.CheckStatus(ctx, urls)
	}

	var experience map[string]*pagespeed.Metrics
	if p.deps.Experience != nil && len(urls) > 0 {
		experience = p.deps.Experience.FetchBatch(ctx, urls, p.config.CWVConcurrency)
	}

	technologies := detectedTechnologies(statuses)

	rows := Reconcile(master, performance, statuses, experience)
	rows = report.Detect(rows)
	rows = report.Prioritise(rows)

	aggregates := report.AggregateByPage(rows)
	tallies := report.AggregateErrors(rows)
	narrative := report.BuildNarrative(aggregates, tallies, p.config.NarrativeLimit)

	summary := ""
	if p.deps.Summariser != nil {
		summary = p.deps.Summariser.Summarise(ctx, narrative)
	}

	bundle := &reportBundle{
		master:     master,
		rows:       rows,
		aggregates: aggregates,
		tallies:    tallies,
		engagement: engagement,
		tech:       technologies,
		narrative:  narrative,
		summary:    summary,
	}

	if err := p.writeArtifacts(bundle); err != nil {
		return nil, err
	}

	return bundle, nil
}

func (p *Pipeline) writeArtifacts(bundle *reportBundle) error {
	out := p.config.OutputDir

	if err := writeMasterCSV(filepath.Join(out, masterDir, "master_index.csv"), bundle.master); err != nil {
		return err
	}
	if err := writeReconciledCSV(filepath.Join(out, reconciledDir, "reconciled.csv"), bundle.rows); err != nil {
		return err
	}
	if err := writePageAggregatesCSV(filepath.Join(out, aggregatesDir, "page_aggregates.csv"), bundle.aggregates); err != nil {
		return err
	}
	if err := writeErrorTalliesCSV(filepath.Join(out, aggregatesDir, "error_aggregates.csv"), bundle.tallies); err != nil {
		return err
	}
	if len(bundle.engagement) > 0 {
		if err := writeEngagementCSV(filepath.Join(out, aggregatesDir, "page_engagement.csv"), bundle.engagement); err != nil {
			return err
		}
	}
	if err := writeText(filepath.Join(out, reportDir, "narrative.txt"), bundle.narrative); err != nil {
		return err
	}
	if bundle.summary != "" {
		if err := writeText(filepath.Join(out, reportDir, "summary.txt"), bundle.summary); err != nil {
			return err
		}
	}
	return nil
}

// performanceTable shapes API rows into the tabular form the column
// normaliser works on.
func performanceTable(rows []gsc.PerformanceRow) report.Table {
	t := report.Table{
		Headers: []string{"page", "clicks", "impressions", "ctr", "position"},
	}
	for _, row := range rows {
		page := ""
		if len(row.Keys) > 0 {
			page = row.Keys[0]
		}
		t.Rows = append(t.Rows, []string{
			page, fmtFloat(row.Clicks), fmtFloat(row.Impressions),
			fmtFloat(row.CTR), fmtFloat(row.Position),
		})
	}
	return t
}

// detectedTechnologies unions the per-page fingerprints into one sorted
// site-level list.
func detectedTechnologies(statuses map[string]*crawler.StatusResult) []string {
	seen := make(map[string]bool)
	for _, status := range statuses {
		if status == nil {
			continue
		}
		for _, name := range status.Technologies {
			seen[name] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func buildHTMLBody(site, summary, narrative string, technologies []string) string {
	var b strings.Builder
	b.WriteString("<h2>SEO report: " + html.EscapeString(site) + "</h2>")
	if summary != "" {
		b.WriteString("<p>" + html.EscapeString(summary) + "</p>")
	}
	if len(technologies) > 0 {
		b.WriteString("<p>Detected stack: " + html.EscapeString(strings.Join(technologies, ", ")) + "</p>")
	}
	if narrative != "" {
		b.WriteString("<pre>" + html.EscapeString(narrative) + "</pre>")
	}
	return b.String()
}

func countFlagged(rows []report.Row) int {
	flagged := 0
	for i := range rows {
		if rows[i].IsFlagged() {
			flagged++
		}
	}
	return flagged
}

func (p *Pipeline) recordStart(ctx context.Context, jobID, jobType string, started time.Time) {
	if err := p.deps.Store.RecordRunStart(ctx, jobID, p.config.Site, jobType, started); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to record run start")
	}
}

func (p *Pipeline) recordComplete(ctx context.Context, jobID, jobType string, result *RunResult, started time.Time) {
	if err := p.deps.Store.RecordRunComplete(ctx, jobID, result.Pages, result.Flagged); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to record run completion")
	}

	duration := p.now().UTC().Sub(started)
	observability.RecordRun(ctx, observability.RunMetrics{
		JobID:    jobID,
		Type:     jobType,
		Status:   "completed",
		Duration: duration,
	})
	if p.deps.Notifier != nil {
		p.deps.Notifier.NotifyRunComplete(ctx, notifications.RunSummary{
			JobID:    jobID,
			Site:     p.config.Site,
			Pages:    result.Pages,
			Flagged:  result.Flagged,
			Duration: duration,
		})
	}

	log.Info().
		Str("job_id", jobID).
		Int("pages", result.Pages).
		Int("flagged", result.Flagged).
		Dur("duration", duration).
		Msg("Run complete")
}

func (p *Pipeline) fail(ctx context.Context, jobID, jobType string, started time.Time, err error) error {
	sentry.CaptureException(err)
	log.Error().Err(err).Str("job_id", jobID).Msg("Run failed")

	observability.RecordRun(ctx, observability.RunMetrics{
		JobID:    jobID,
		Type:     jobType,
		Status:   "failed",
		Duration: p.now().UTC().Sub(started),
	})

	if dbErr := p.deps.Store.RecordRunFailed(ctx, jobID, err.Error()); dbErr != nil {
		log.Warn().Err(dbErr).Str("job_id", jobID).Msg("Failed to record run failure")
	}
	if p.deps.Notifier != nil {
		p.deps.Notifier.NotifyRunFailed(ctx, jobID, p.config.Site, err.Error())
	}
	return err
}
