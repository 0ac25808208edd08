package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolens/seolens/internal/inspect"
)

func mustStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestWriteAndRead(t *testing.T) {
	store := mustStore(t)

	crawled := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	records := []inspect.Record{
		{URL: "https://example.com/a", CoverageState: "Submitted and indexed", IndexingState: "INDEXING_ALLOWED", Verdict: "PASS", LastCrawlTime: &crawled},
		{URL: "https://example.com/b", CoverageState: "Discovered - currently not indexed", Verdict: "NEUTRAL"},
	}

	require.NoError(t, store.Write(date("2026-08-31"), records))

	loaded, err := store.Read(date("2026-08-31"))
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "PASS", loaded[0].Verdict)
	require.NotNil(t, loaded[0].LastCrawlTime)
	assert.True(t, crawled.Equal(*loaded[0].LastCrawlTime))
	assert.Nil(t, loaded[1].LastCrawlTime)
}

func TestWriteIsIdempotentPerDate(t *testing.T) {
	store := mustStore(t)
	day := date("2026-08-31")

	require.NoError(t, store.Write(day, []inspect.Record{{URL: "https://example.com/a", Verdict: "FAIL"}}))
	require.NoError(t, store.Write(day, []inspect.Record{{URL: "https://example.com/a", Verdict: "PASS"}}))

	loaded, err := store.Read(day)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "PASS", loaded[0].Verdict)

	dates, err := store.Dates()
	require.NoError(t, err)
	assert.Len(t, dates, 1)
}

func TestMergeLatestWins(t *testing.T) {
	store := mustStore(t)

	require.NoError(t, store.Write(date("2026-08-25"), []inspect.Record{
		{URL: "https://example.com/a", Verdict: "FAIL"},
		{URL: "https://example.com/old-only", Verdict: "PASS"},
	}))
	require.NoError(t, store.Write(date("2026-08-28"), []inspect.Record{
		{URL: "https://example.com/a", Verdict: "PASS"},
		{URL: "https://example.com/new-only", Verdict: "NEUTRAL"},
	}))

	master, err := store.Merge()
	require.NoError(t, err)
	require.Len(t, master, 3)

	byURL := make(map[string]MasterRecord)
	for _, record := range master {
		byURL[record.URL] = record
	}

	// Most recent snapshot wins for the overlapping URL.
	assert.Equal(t, "PASS", byURL["https://example.com/a"].Verdict)
	assert.True(t, date("2026-08-28").Equal(byURL["https://example.com/a"].InspectionDate))
	// Non-overlapping URLs survive from both snapshots.
	assert.Equal(t, "PASS", byURL["https://example.com/old-only"].Verdict)
	assert.Equal(t, "NEUTRAL", byURL["https://example.com/new-only"].Verdict)
}

func TestMergeDeduplicatesOnNormalisedURL(t *testing.T) {
	store := mustStore(t)

	require.NoError(t, store.Write(date("2026-08-25"), []inspect.Record{
		{URL: "https://example.com/a/", Verdict: "FAIL"},
	}))
	require.NoError(t, store.Write(date("2026-08-28"), []inspect.Record{
		{URL: "https://EXAMPLE.com/a", Verdict: "PASS"},
	}))

	master, err := store.Merge()
	require.NoError(t, err)
	require.Len(t, master, 1)
	assert.Equal(t, "PASS", master[0].Verdict)
}

func TestMergeEmptyStore(t *testing.T) {
	store := mustStore(t)

	master, err := store.Merge()
	require.NoError(t, err)
	assert.Empty(t, master)
}

func TestExpireRetentionBoundary(t *testing.T) {
	store := mustStore(t)
	reference := date("2026-08-31")

	require.NoError(t, store.Write(date("2026-08-22"), nil)) // 9 days old: expired
	require.NoError(t, store.Write(date("2026-08-23"), nil)) // 8 days old: expired
	require.NoError(t, store.Write(date("2026-08-24"), nil)) // exactly 7 days old: retained
	require.NoError(t, store.Write(date("2026-08-30"), nil)) // retained

	deleted, err := store.Expire(DefaultRetentionDays, reference)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	dates, err := store.Dates()
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.True(t, date("2026-08-24").Equal(dates[0]))
	assert.True(t, date("2026-08-30").Equal(dates[1]))
}

func TestExpireNoSnapshots(t *testing.T) {
	store := mustStore(t)

	deleted, err := store.Expire(DefaultRetentionDays, date("2026-08-31"))
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestDatesIgnoresForeignFiles(t *testing.T) {
	store := mustStore(t)
	require.NoError(t, store.Write(date("2026-08-30"), nil))

	// A master file in the same directory must not be treated as a snapshot.
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "url_indexing_status.csv"), []byte("url\n"), 0o644))

	dates, err := store.Dates()
	require.NoError(t, err)
	assert.Len(t, dates, 1)
}
