package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateByPage(t *testing.T) {
	rows := []Row{
		{Page: "/a", Clicks: 3, Impressions: 10, CTR: 0.30, Position: 4},
		{Page: "/a", Clicks: 7, Impressions: 20, CTR: 0.35, Position: 6},
		{Page: "/b", Clicks: 1, Impressions: 5, CTR: 0.20, Position: 12},
	}

	aggregates := AggregateByPage(rows)
	require.Len(t, aggregates, 2)

	a := aggregates[0]
	assert.Equal(t, "/a", a.Page)
	assert.Equal(t, 10.0, a.Clicks)
	assert.Equal(t, 30.0, a.Impressions)
	assert.InDelta(t, 0.325, a.CTR, 1e-9)
	assert.InDelta(t, 5.0, a.Position, 1e-9)

	assert.Equal(t, "/b", aggregates[1].Page)
}

func TestAggregateByPageCWVIgnoresNulls(t *testing.T) {
	rows := []Row{
		{Page: "/a", LCP: floatPtr(2000), CLS: floatPtr(0.1)},
		{Page: "/a", LCP: floatPtr(4000)},
		{Page: "/no-cwv"},
	}

	aggregates := AggregateByPage(rows)
	require.Len(t, aggregates, 2)

	a := aggregates[0]
	require.NotNil(t, a.LCP)
	assert.InDelta(t, 3000.0, *a.LCP, 1e-9)
	require.NotNil(t, a.CLS)
	assert.InDelta(t, 0.1, *a.CLS, 1e-9)
	assert.Nil(t, a.INP)

	// A page with no samples aggregates to null, not zero.
	noCWV := aggregates[1]
	assert.Nil(t, noCWV.LCP)
	assert.Nil(t, noCWV.INP)
	assert.Nil(t, noCWV.CLS)
}

func TestAggregateErrors(t *testing.T) {
	rows := []Row{
		{Page: "/a", Errors: []string{"HTTP error", "Poor LCP"}},
		{Page: "/a", Errors: []string{"HTTP error"}},
		{Page: "/b", Errors: []string{"Indexing issue"}},
		{Page: "/c"},
	}

	tallies := AggregateErrors(rows)
	require.Len(t, tallies, 3)

	assert.Equal(t, ErrorTally{Page: "/a", Label: "HTTP error", Count: 2}, tallies[0])
	assert.Equal(t, 1, tallies[1].Count)
	assert.Equal(t, 1, tallies[2].Count)
}

func TestBuildNarrative(t *testing.T) {
	pages := []PageAggregate{
		{Page: "/quiet", Clicks: 1, Impressions: 50, CTR: 0.02, Position: 20},
		{Page: "/top", Clicks: 40, Impressions: 900, CTR: 0.044, Position: 3.2, LCP: floatPtr(2100)},
	}
	tallies := []ErrorTally{
		{Page: "/top", Label: "Poor LCP", Count: 1},
		{Page: "/top", Label: "High CLS", Count: 1},
	}

	narrative := BuildNarrative(pages, tallies, 20)

	lines := strings.Split(strings.TrimRight(narrative, "\n"), "\n")
	require.Len(t, lines, 2)

	// Top page by impressions comes first.
	assert.Contains(t, lines[0], "Page /top")
	assert.Contains(t, lines[0], "Poor LCP | High CLS")
	assert.Contains(t, lines[0], "LCP 2100ms")

	assert.Contains(t, lines[1], "Page /quiet")
	assert.Contains(t, lines[1], "No critical errors")
}

func TestBuildNarrativeRespectsLimit(t *testing.T) {
	var pages []PageAggregate
	for i := 0; i < 30; i++ {
		pages = append(pages, PageAggregate{
			Page:        "/page",
			Impressions: float64(100 - i),
		})
	}

	narrative := BuildNarrative(pages, nil, 20)
	assert.Equal(t, 20, strings.Count(narrative, "\n"))
}

func TestBuildNarrativeEmpty(t *testing.T) {
	assert.Equal(t, "", BuildNarrative(nil, nil, 20))
}
