package report

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// canonicalColumns is the schema every performance table is normalised
// onto. The page column is textual; the other four are numeric.
var canonicalColumns = []string{"page", "clicks", "impressions", "ctr", "position"}

// columnSynonyms maps lowercased source header names onto the canonical
// schema. This table is configuration, not logic.
var columnSynonyms = map[string]string{
	"page":                 "page",
	"landing page":         "page",
	"url":                  "page",
	"pagepath":             "page",
	"page_location":        "page",
	"clicks":               "clicks",
	"total clicks":         "clicks",
	"totalclicks":          "clicks",
	"impressions":          "impressions",
	"total impressions":    "impressions",
	"totalimpressions":     "impressions",
	"ctr":                  "ctr",
	"click through rate":   "ctr",
	"clickthroughrate":     "ctr",
	"position":             "position",
	"avg position":         "position",
	"avgposition":          "position",
}

// NormaliseColumns maps a raw table onto the canonical schema. Headers are
// lowercased and trimmed, synonyms are renamed, missing canonical columns
// are created zero-filled, and the four numeric columns are coerced with
// unparseable values becoming zero. Columns outside the canonical schema
// are carried through untouched.
func NormaliseColumns(t Table) Table {
	out := Table{
		Headers: make([]string, len(t.Headers)),
		Rows:    make([][]string, len(t.Rows)),
	}

	for i, header := range t.Headers {
		key := strings.ToLower(strings.TrimSpace(header))
		if canonical, ok := columnSynonyms[key]; ok {
			key = canonical
		}
		out.Headers[i] = key
	}

	for i, row := range t.Rows {
		cells := make([]string, len(out.Headers))
		copy(cells, row)
		out.Rows[i] = cells
	}

	// Create any absent canonical column, zero-filled.
	for _, canonical := range canonicalColumns {
		if out.Column(canonical) >= 0 {
			continue
		}
		log.Debug().Str("column", canonical).Msg("Source table missing canonical column, zero-filling")
		out.Headers = append(out.Headers, canonical)
		for i := range out.Rows {
			out.Rows[i] = append(out.Rows[i], "0")
		}
	}

	// Coerce numeric columns; the page column stays textual.
	for _, canonical := range canonicalColumns[1:] {
		col := out.Column(canonical)
		for i := range out.Rows {
			out.Rows[i][col] = strconv.FormatFloat(parseNumeric(out.Rows[i][col]), 'f', -1, 64)
		}
	}

	return out
}

// Performance is one normalised search-performance record.
type Performance struct {
	Page        string
	Clicks      float64
	Impressions float64
	CTR         float64
	Position    float64
}

// PerformanceRecords converts a normalised table into typed records.
func PerformanceRecords(t Table) []Performance {
	pageCol := t.Column("page")
	clicksCol := t.Column("clicks")
	imprCol := t.Column("impressions")
	ctrCol := t.Column("ctr")
	posCol := t.Column("position")

	records := make([]Performance, 0, len(t.Rows))
	for _, row := range t.Rows {
		records = append(records, Performance{
			Page:        cell(row, pageCol),
			Clicks:      parseNumeric(cell(row, clicksCol)),
			Impressions: parseNumeric(cell(row, imprCol)),
			CTR:         parseNumeric(cell(row, ctrCol)),
			Position:    parseNumeric(cell(row, posCol)),
		})
	}
	return records
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// parseNumeric coerces a cell to float64, returning zero when the value
// cannot be parsed.
func parseNumeric(s string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return value
}
