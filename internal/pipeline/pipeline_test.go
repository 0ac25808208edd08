package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolens/seolens/internal/analytics"
	"github.com/seolens/seolens/internal/crawler"
	"github.com/seolens/seolens/internal/gsc"
	"github.com/seolens/seolens/internal/inspect"
	"github.com/seolens/seolens/internal/pagespeed"
	"github.com/seolens/seolens/internal/snapshot"
)

type fakeCrawler struct {
	urls     []string
	statuses map[string]*crawler.StatusResult
}

func (f *fakeCrawler) ParseSitemapTree(ctx context.Context, rootSitemapURL string) []string {
	return f.urls
}

func (f *fakeCrawler) CheckStatus(ctx context.Context, urls []string) map[string]*crawler.StatusResult {
	if f.statuses == nil {
		return map[string]*crawler.StatusResult{}
	}
	return f.statuses
}

type fakeInspector struct {
	failures map[string]bool
}

func (f *fakeInspector) Inspect(ctx context.Context, urls []string) ([]inspect.Record, []string) {
	var records []inspect.Record
	var missing []string
	for _, u := range urls {
		if f.failures[u] {
			missing = append(missing, u)
			continue
		}
		records = append(records, inspect.Record{URL: u, Verdict: "PASS", CoverageState: "Indexed"})
	}
	return records, missing
}

type fakeSearch struct {
	rows []gsc.PerformanceRow
	err  error
}

func (f *fakeSearch) QueryPerformance(ctx context.Context, dimensions []string, startDate, endDate string) ([]gsc.PerformanceRow, error) {
	return f.rows, f.err
}

type fakeExperience struct {
	metrics map[string]*pagespeed.Metrics
}

func (f *fakeExperience) FetchBatch(ctx context.Context, urls []string, concurrency int) map[string]*pagespeed.Metrics {
	if f.metrics == nil {
		return map[string]*pagespeed.Metrics{}
	}
	return f.metrics
}

type fakeEngagement struct {
	pages []analytics.PageEngagement
	err   error
}

func (f *fakeEngagement) FetchPageEngagement(ctx context.Context, startDate, endDate string) ([]analytics.PageEngagement, error) {
	return f.pages, f.err
}

type fakeSummariser struct{}

func (fakeSummariser) Summarise(ctx context.Context, narrative string) string {
	return "summary of: " + narrative[:min(20, len(narrative))]
}

type fakeEmail struct {
	sent      int
	subject   string
	body      string
	attachDir string
}

func (f *fakeEmail) Send(ctx context.Context, recipients []string, subject, htmlBody, attachmentDir string) error {
	f.sent++
	f.subject = subject
	f.body = htmlBody
	f.attachDir = attachmentDir
	return nil
}

type fakeRenderer struct {
	paths []string
}

func (f *fakeRenderer) RenderToFile(title, body, path string) error {
	f.paths = append(f.paths, path)
	return os.WriteFile(path, []byte("%PDF-1.4 "+title), 0644)
}

func newTestPipeline(t *testing.T, deps Deps) (*Pipeline, string) {
	t.Helper()
	outDir := t.TempDir()

	if deps.Snapshots == nil {
		store, err := snapshot.NewStore(filepath.Join(outDir, "snapshots"))
		require.NoError(t, err)
		deps.Snapshots = store
	}

	p := New(Config{
		Site:       "example.com",
		SitemapURL: "https://example.com/sitemap.xml",
		OutputDir:  outDir,
		Recipients: []string{"owner@example.com"},
	}, deps)
	return p, outDir
}

func TestRunFetchEndToEnd(t *testing.T) {
	// Three leaf URLs, one inspection failure. The master index keeps the
	// two inspected pages; reconciling against empty performance and
	// experience data still yields one row per master record with no
	// errors detected.
	email := &fakeEmail{}
	p, outDir := newTestPipeline(t, Deps{
		Crawler: &fakeCrawler{urls: []string{
			"https://example.com/",
			"https://example.com/pricing",
			"https://example.com/blog",
		}},
		Inspector: &fakeInspector{failures: map[string]bool{"https://example.com/blog": true}},
		Search:    &fakeSearch{},
		Engagement: &fakeEngagement{pages: []analytics.PageEngagement{
			{HostName: "example.com", PagePath: "/pricing", Sessions: 40, Engaged: 25, PageViews: 60},
		}},
		Experience: &fakeExperience{},
		Summariser: fakeSummariser{},
		Email:      email,
	})

	result, err := p.RunFetch(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 0, result.Flagged)
	assert.Equal(t, 1, result.Missing)

	// Every artifact category was written.
	for _, rel := range []string{
		"master/master_index.csv",
		"reconciled/reconciled.csv",
		"aggregates/page_aggregates.csv",
		"aggregates/error_aggregates.csv",
		"aggregates/page_engagement.csv",
		"report/narrative.txt",
		"report/summary.txt",
	} {
		_, statErr := os.Stat(filepath.Join(outDir, rel))
		assert.NoError(t, statErr, rel)
	}

	assert.Equal(t, 1, email.sent)
	assert.Contains(t, email.subject, "example.com")
	assert.Equal(t, filepath.Join(outDir, "aggregates"), email.attachDir)
}

func TestRunFetchFlagsErrors(t *testing.T) {
	status404 := &crawler.StatusResult{URL: "https://example.com/broken", StatusCode: 404}
	p, _ := newTestPipeline(t, Deps{
		Crawler: &fakeCrawler{
			urls: []string{"https://example.com/broken"},
			statuses: map[string]*crawler.StatusResult{
				"https://example.com/broken": status404,
			},
		},
		Inspector:  &fakeInspector{},
		Search:     &fakeSearch{},
		Experience: &fakeExperience{},
		Summariser: fakeSummariser{},
	})

	result, err := p.RunFetch(context.Background(), "job-2")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Pages)
	assert.Equal(t, 1, result.Flagged)
	assert.Contains(t, result.Narrative, "HTTP error")
}

func TestRunFetchSurvivesPerformanceFailure(t *testing.T) {
	p, _ := newTestPipeline(t, Deps{
		Crawler:    &fakeCrawler{urls: []string{"https://example.com/"}},
		Inspector:  &fakeInspector{},
		Search:     &fakeSearch{err: assert.AnError},
		Experience: &fakeExperience{},
		Summariser: fakeSummariser{},
	})

	result, err := p.RunFetch(context.Background(), "job-3")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pages)
}

func TestRunFetchWithoutInspectorFails(t *testing.T) {
	// Missing Search Console credentials leave the inspector unset. The
	// run must come back as a failed job, not crash the process.
	p, _ := newTestPipeline(t, Deps{
		Crawler:    &fakeCrawler{urls: []string{"https://example.com/"}},
		Summariser: fakeSummariser{},
	})

	result, err := p.RunFetch(context.Background(), "job-no-creds")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "url inspection not configured")
}

func TestRunFetchEmptySitemap(t *testing.T) {
	p, _ := newTestPipeline(t, Deps{
		Crawler:    &fakeCrawler{},
		Inspector:  &fakeInspector{},
		Search:     &fakeSearch{},
		Experience: &fakeExperience{},
		Summariser: fakeSummariser{},
	})

	result, err := p.RunFetch(context.Background(), "job-4")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pages)
	assert.Equal(t, "", result.Narrative)
}

func TestRunFetchJoinsPerformanceData(t *testing.T) {
	p, _ := newTestPipeline(t, Deps{
		Crawler:   &fakeCrawler{urls: []string{"https://example.com/pricing"}},
		Inspector: &fakeInspector{},
		Search: &fakeSearch{rows: []gsc.PerformanceRow{
			{Keys: []string{"https://example.com/pricing"}, Clicks: 12, Impressions: 300, CTR: 0.04, Position: 5},
		}},
		Experience: &fakeExperience{},
		Summariser: fakeSummariser{},
	})

	result, err := p.RunFetch(context.Background(), "job-5")
	require.NoError(t, err)
	assert.Contains(t, result.Narrative, "clicks 12")
	assert.Contains(t, result.Narrative, "impressions 300")
}

func TestDetectedTechnologies(t *testing.T) {
	statuses := map[string]*crawler.StatusResult{
		"https://example.com/":        {Technologies: []string{"WordPress", "PHP"}},
		"https://example.com/pricing": {Technologies: []string{"PHP", "MySQL"}},
		"https://example.com/blog":    nil,
	}

	assert.Equal(t, []string{"MySQL", "PHP", "WordPress"}, detectedTechnologies(statuses))
	assert.Nil(t, detectedTechnologies(nil))
}

func TestBuildHTMLBodyEscapesAndListsStack(t *testing.T) {
	body := buildHTMLBody("example.com", "all <good>", "Page /a: fine", []string{"WordPress"})

	assert.Contains(t, body, "all &lt;good&gt;")
	assert.Contains(t, body, "Detected stack: WordPress")
	assert.Contains(t, body, "<pre>Page /a: fine</pre>")
}

func TestRunReportRendersPDF(t *testing.T) {
	outDir := t.TempDir()
	store, err := snapshot.NewStore(filepath.Join(outDir, "snapshots"))
	require.NoError(t, err)

	renderer := &fakeRenderer{}
	email := &fakeEmail{}
	p := New(Config{
		Site:       "example.com",
		SitemapURL: "https://example.com/sitemap.xml",
		OutputDir:  outDir,
		Recipients: []string{"owner@example.com"},
	}, Deps{
		Crawler:    &fakeCrawler{urls: []string{"https://example.com/"}},
		Snapshots:  store,
		Search:     &fakeSearch{},
		Experience: &fakeExperience{},
		Summariser: fakeSummariser{},
		Renderer:   renderer,
		Email:      email,
	})

	// Seed one snapshot so the master index is not empty.
	fetchP := New(Config{Site: "example.com", OutputDir: outDir}, Deps{
		Crawler:    &fakeCrawler{urls: []string{"https://example.com/"}},
		Inspector:  &fakeInspector{},
		Snapshots:  store,
		Search:     &fakeSearch{},
		Experience: &fakeExperience{},
		Summariser: fakeSummariser{},
	})
	_, err = fetchP.RunFetch(context.Background(), "seed")
	require.NoError(t, err)

	result, err := p.RunReport(context.Background(), "job-6")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Pages)
	require.Len(t, renderer.paths, 1)
	assert.Contains(t, renderer.paths[0], "seo_report_")

	assert.Equal(t, 1, email.sent)
	assert.Equal(t, filepath.Join(outDir, "report"), email.attachDir)
}
