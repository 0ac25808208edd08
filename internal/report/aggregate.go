package report

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultNarrativeLimit is how many top pages the narrative covers.
const DefaultNarrativeLimit = 20

// PageAggregate is the per-page rollup of reconciled rows. Clicks and
// impressions are summed; CTR and position are unweighted means; Core Web
// Vitals are means over non-null samples, nil when a page has none.
type PageAggregate struct {
	Page        string
	Clicks      float64
	Impressions float64
	CTR         float64
	Position    float64
	LCP         *float64
	INP         *float64
	CLS         *float64
}

// ErrorTally counts one error label on one page.
type ErrorTally struct {
	Page  string
	Label string
	Count int
}

type pageAccumulator struct {
	clicks      float64
	impressions float64
	ctrSum      float64
	positionSum float64
	rows        int
	lcpSum      float64
	lcpCount    int
	inpSum      float64
	inpCount    int
	clsSum      float64
	clsCount    int
}

// AggregateByPage groups rows by page. Output order follows first
// appearance of each page in the input.
func AggregateByPage(rows []Row) []PageAggregate {
	accums := make(map[string]*pageAccumulator)
	var order []string

	for i := range rows {
		row := &rows[i]
		acc, ok := accums[row.Page]
		if !ok {
			acc = &pageAccumulator{}
			accums[row.Page] = acc
			order = append(order, row.Page)
		}

		acc.clicks += row.Clicks
		acc.impressions += row.Impressions
		acc.ctrSum += row.CTR
		acc.positionSum += row.Position
		acc.rows++

		if row.LCP != nil {
			acc.lcpSum += *row.LCP
			acc.lcpCount++
		}
		if row.INP != nil {
			acc.inpSum += *row.INP
			acc.inpCount++
		}
		if row.CLS != nil {
			acc.clsSum += *row.CLS
			acc.clsCount++
		}
	}

	aggregates := make([]PageAggregate, 0, len(order))
	for _, page := range order {
		acc := accums[page]
		agg := PageAggregate{
			Page:        page,
			Clicks:      acc.clicks,
			Impressions: acc.impressions,
			CTR:         acc.ctrSum / float64(acc.rows),
			Position:    acc.positionSum / float64(acc.rows),
		}
		if acc.lcpCount > 0 {
			mean := acc.lcpSum / float64(acc.lcpCount)
			agg.LCP = &mean
		}
		if acc.inpCount > 0 {
			mean := acc.inpSum / float64(acc.inpCount)
			agg.INP = &mean
		}
		if acc.clsCount > 0 {
			mean := acc.clsSum / float64(acc.clsCount)
			agg.CLS = &mean
		}
		aggregates = append(aggregates, agg)
	}

	return aggregates
}

// AggregateErrors explodes each row's error list into per-page label
// tallies, sorted by count descending. Ties keep first-seen order.
func AggregateErrors(rows []Row) []ErrorTally {
	counts := make(map[string]*ErrorTally)
	var order []string

	for i := range rows {
		for _, label := range rows[i].Errors {
			key := rows[i].Page + "\x00" + label
			tally, ok := counts[key]
			if !ok {
				tally = &ErrorTally{Page: rows[i].Page, Label: label}
				counts[key] = tally
				order = append(order, key)
			}
			tally.Count++
		}
	}

	tallies := make([]ErrorTally, 0, len(order))
	for _, key := range order {
		tallies = append(tallies, *counts[key])
	}

	sort.SliceStable(tallies, func(i, j int) bool {
		return tallies[i].Count > tallies[j].Count
	})
	return tallies
}

// BuildNarrative renders one line per top page combining its aggregates
// and any error labels, joined with " | " only at this rendering boundary.
// The returned text is the sole input handed to the summariser.
func BuildNarrative(pages []PageAggregate, tallies []ErrorTally, limit int) string {
	if limit <= 0 {
		limit = DefaultNarrativeLimit
	}

	top := make([]PageAggregate, len(pages))
	copy(top, pages)
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].Impressions != top[j].Impressions {
			return top[i].Impressions > top[j].Impressions
		}
		return top[i].Clicks > top[j].Clicks
	})
	if len(top) > limit {
		top = top[:limit]
	}

	labelsByPage := make(map[string][]string)
	for _, tally := range tallies {
		labelsByPage[tally.Page] = append(labelsByPage[tally.Page], tally.Label)
	}

	var b strings.Builder
	for _, page := range top {
		errorText := "No critical errors"
		if labels := labelsByPage[page.Page]; len(labels) > 0 {
			errorText = strings.Join(labels, " | ")
		}

		fmt.Fprintf(&b, "Page %s: clicks %.0f, impressions %.0f, CTR %.4f, position %.1f",
			page.Page, page.Clicks, page.Impressions, page.CTR, page.Position)
		if page.LCP != nil {
			fmt.Fprintf(&b, ", LCP %.0fms", *page.LCP)
		}
		if page.INP != nil {
			fmt.Fprintf(&b, ", INP %.0fms", *page.INP)
		}
		if page.CLS != nil {
			fmt.Fprintf(&b, ", CLS %.2f", *page.CLS)
		}
		fmt.Fprintf(&b, ". Errors: %s\n", errorText)
	}

	return b.String()
}
