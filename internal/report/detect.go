package report

import "sort"

// rule is one stateless detection check. Rules fire independently and
// their labels accumulate in declaration order.
type rule struct {
	Label   string
	Applies func(*Row) bool
}

// errorRules is the canonical rule table. Order here is the canonical
// label order on every annotated row.
var errorRules = []rule{
	{
		Label: "Indexing issue",
		Applies: func(r *Row) bool {
			return r.Verdict != nil && *r.Verdict != "PASS"
		},
	},
	{
		Label: "HTTP error",
		Applies: func(r *Row) bool {
			return r.HTTPStatus != nil && *r.HTTPStatus >= 400
		},
	},
	{
		Label: "Poor LCP",
		Applies: func(r *Row) bool {
			return r.LCP != nil && *r.LCP > 4000
		},
	},
	{
		Label: "Poor INP",
		Applies: func(r *Row) bool {
			return r.INP != nil && *r.INP > 500
		},
	},
	{
		Label: "High CLS",
		Applies: func(r *Row) bool {
			return r.CLS != nil && *r.CLS > 0.25
		},
	},
	{
		Label: "High impressions but no clicks",
		Applies: func(r *Row) bool {
			return r.Impressions > 1000 && r.Clicks == 0
		},
	},
}

// Detect annotates every row with the labels of the rules that fire for
// it. A row with no fired rules keeps an empty error list.
func Detect(rows []Row) []Row {
	for i := range rows {
		rows[i].Errors = nil
		for _, rule := range errorRules {
			if rule.Applies(&rows[i]) {
				rows[i].Errors = append(rows[i].Errors, rule.Label)
			}
		}
	}
	return rows
}

// Prioritise orders rows for reporting: flagged rows first, then
// impressions descending, then clicks descending. The sort is stable so
// rows with equal keys keep their original relative order.
func Prioritise(rows []Row) []Row {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].IsFlagged() != rows[j].IsFlagged() {
			return rows[i].IsFlagged()
		}
		if rows[i].Impressions != rows[j].Impressions {
			return rows[i].Impressions > rows[j].Impressions
		}
		return rows[i].Clicks > rows[j].Clicks
	})
	return rows
}
