// Package report holds the tabular model of the reconciled dataset along
// with column normalisation, error detection, prioritisation and
// per-page aggregation.
package report

// Table is a flat tabular dataset as read from an API response or a CSV
// file. Rows hold string cells positionally aligned with Headers.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Column returns the index of a header, or -1 when absent.
func (t Table) Column(name string) int {
	for i, h := range t.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

// Row is one reconciled page record. Search performance fields are always
// present (zero when unknown); indexing, HTTP and page-experience fields
// are optional and nil when the source had no data for the page.
type Row struct {
	Page        string
	Clicks      float64
	Impressions float64
	CTR         float64
	Position    float64

	Verdict       *string
	CoverageState *string
	IndexingState *string

	HTTPStatus   *int
	Title        *string
	Technologies []string

	LCP *float64
	INP *float64
	CLS *float64
	FCP *float64

	// Errors holds the fired rule labels in canonical rule order.
	Errors []string
}

// IsFlagged reports whether any detection rule fired for the row.
func (r *Row) IsFlagged() bool {
	return len(r.Errors) > 0
}
