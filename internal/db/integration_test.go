package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolens/seolens/internal/report"
	"github.com/seolens/seolens/internal/testutil"
)

// TestRunLifecycleIntegration exercises the run history tables against a
// real PostgreSQL instance. Set TEST_DATABASE_URL in .env.test (or
// DATABASE_URL directly) to enable it.
func TestRunLifecycleIntegration(t *testing.T) {
	if testutil.LoadTestEnv(t) == "" {
		t.Skip("no test database configured, skipping integration test")
	}

	d, err := InitFromEnv()
	require.NoError(t, err)
	require.NotNil(t, d)
	defer d.Close()

	ctx := context.Background()
	runID := uuid.New().String()
	started := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, d.RecordRunStart(ctx, runID, "example.com", "fetch", started))

	status := 200
	verdict := "PASS"
	rows := []report.Row{
		{Page: "https://example.com/", Clicks: 5, Impressions: 100, CTR: 0.05, Position: 3.2,
			HTTPStatus: &status, Verdict: &verdict},
		{Page: "https://example.com/quiet", Impressions: 2000, Position: 9,
			Errors: []string{"High impressions but no clicks"}},
	}
	require.NoError(t, d.StorePageMetrics(ctx, runID, rows))
	require.NoError(t, d.RecordRunComplete(ctx, runID, len(rows), 1))

	runs, err := d.RecentRuns(ctx, 50)
	require.NoError(t, err)

	var found *RunRecord
	for i := range runs {
		if runs[i].ID == runID {
			found = &runs[i]
			break
		}
	}
	require.NotNil(t, found, "inserted run not returned by RecentRuns")
	assert.Equal(t, "completed", found.Status)
	assert.Equal(t, "fetch", found.JobType)
	assert.Equal(t, 2, found.Pages)
	assert.Equal(t, 1, found.Flagged)
	assert.True(t, found.CompletedAt.Valid)
}
