package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/seolens/seolens/internal/analytics"
	"github.com/seolens/seolens/internal/report"
	"github.com/seolens/seolens/internal/snapshot"
)

// Artifact directory names under the run output root. Each pipeline
// category writes into its own directory.
const (
	masterDir     = "master"
	reconciledDir = "reconciled"
	aggregatesDir = "aggregates"
	reportDir     = "report"
)

func writeCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func fmtOptFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return fmtFloat(*f)
}

func fmtOptInt(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

func fmtOptString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func writeMasterCSV(path string, master []snapshot.MasterRecord) error {
	rows := make([][]string, 0, len(master))
	for i := range master {
		r := &master[i]
		lastCrawl := ""
		if r.LastCrawlTime != nil {
			lastCrawl = r.LastCrawlTime.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		rows = append(rows, []string{
			r.URL, r.CoverageState, r.IndexingState, r.Verdict,
			lastCrawl, r.InspectionDate.Format("2006-01-02"),
		})
	}
	return writeCSV(path,
		[]string{"url", "coverage_state", "indexing_state", "verdict", "last_crawl", "inspection_date"},
		rows)
}

func writeReconciledCSV(path string, rows []report.Row) error {
	records := make([][]string, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		records = append(records, []string{
			r.Page,
			fmtFloat(r.Clicks), fmtFloat(r.Impressions), fmtFloat(r.CTR), fmtFloat(r.Position),
			fmtOptString(r.Verdict), fmtOptString(r.CoverageState), fmtOptString(r.IndexingState),
			fmtOptInt(r.HTTPStatus), fmtOptString(r.Title),
			strings.Join(r.Technologies, " | "),
			fmtOptFloat(r.LCP), fmtOptFloat(r.INP), fmtOptFloat(r.CLS), fmtOptFloat(r.FCP),
			strings.Join(r.Errors, " | "),
		})
	}
	return writeCSV(path,
		[]string{"page", "clicks", "impressions", "ctr", "position",
			"verdict", "coverage_state", "indexing_state", "http_status", "title", "technologies",
			"lcp", "inp", "cls", "fcp", "errors"},
		records)
}

func writePageAggregatesCSV(path string, aggregates []report.PageAggregate) error {
	rows := make([][]string, 0, len(aggregates))
	for i := range aggregates {
		a := &aggregates[i]
		rows = append(rows, []string{
			a.Page,
			fmtFloat(a.Clicks), fmtFloat(a.Impressions), fmtFloat(a.CTR), fmtFloat(a.Position),
			fmtOptFloat(a.LCP), fmtOptFloat(a.INP), fmtOptFloat(a.CLS),
		})
	}
	return writeCSV(path,
		[]string{"page", "total_clicks", "total_impressions", "avg_ctr", "avg_position",
			"avg_lcp", "avg_inp", "avg_cls"},
		rows)
}

func writeEngagementCSV(path string, engagement []analytics.PageEngagement) error {
	rows := make([][]string, 0, len(engagement))
	for _, e := range engagement {
		rows = append(rows, []string{
			e.HostName, e.PagePath,
			strconv.FormatInt(e.Sessions, 10),
			strconv.FormatInt(e.Engaged, 10),
			strconv.FormatInt(e.PageViews, 10),
		})
	}
	return writeCSV(path,
		[]string{"host", "path", "sessions", "engaged_sessions", "page_views"},
		rows)
}

func writeErrorTalliesCSV(path string, tallies []report.ErrorTally) error {
	rows := make([][]string, 0, len(tallies))
	for _, t := range tallies {
		rows = append(rows, []string{t.Page, t.Label, strconv.Itoa(t.Count)})
	}
	return writeCSV(path, []string{"page", "error", "count"}, rows)
}

func writeText(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write artifact file: %w", err)
	}
	return nil
}
