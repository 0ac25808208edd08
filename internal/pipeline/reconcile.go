package pipeline

import (
	"github.com/seolens/seolens/internal/crawler"
	"github.com/seolens/seolens/internal/pagespeed"
	"github.com/seolens/seolens/internal/report"
	"github.com/seolens/seolens/internal/snapshot"
	"github.com/seolens/seolens/internal/util"
)

// Reconcile left-joins the master index against performance, HTTP status
// and page-experience data keyed on the normalised URL. Every master
// record produces exactly one output row; right-side rows with no master
// match are dropped.
func Reconcile(master []snapshot.MasterRecord, performance []report.Performance,
	statuses map[string]*crawler.StatusResult, experience map[string]*pagespeed.Metrics) []report.Row {

	perfByURL := make(map[string]report.Performance, len(performance))
	for _, p := range performance {
		perfByURL[util.NormaliseURL(p.Page)] = p
	}

	rows := make([]report.Row, 0, len(master))
	for i := range master {
		record := &master[i]
		key := util.NormaliseURL(record.URL)

		row := report.Row{Page: key}

		if record.Verdict != "" {
			verdict := record.Verdict
			row.Verdict = &verdict
		}
		if record.CoverageState != "" {
			coverage := record.CoverageState
			row.CoverageState = &coverage
		}
		if record.IndexingState != "" {
			indexing := record.IndexingState
			row.IndexingState = &indexing
		}

		if p, ok := perfByURL[key]; ok {
			row.Clicks = p.Clicks
			row.Impressions = p.Impressions
			row.CTR = p.CTR
			row.Position = p.Position
		}

		if status, ok := statuses[key]; ok && status != nil {
			if status.StatusCode > 0 {
				code := status.StatusCode
				row.HTTPStatus = &code
			}
			if status.Title != "" {
				title := status.Title
				row.Title = &title
			}
			row.Technologies = status.Technologies
		}

		if metrics, ok := experience[key]; ok && metrics != nil {
			row.LCP = metrics.LCP
			row.INP = metrics.INP
			row.CLS = metrics.CLS
			row.FCP = metrics.FCP
		}

		rows = append(rows, row)
	}

	return rows
}
