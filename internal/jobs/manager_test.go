package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolens/seolens/internal/pipeline"
)

// The pipeline must keep satisfying Runner so main can hand it to the
// manager directly.
var _ Runner = (*pipeline.Pipeline)(nil)

type fakeRunner struct {
	mu      sync.Mutex
	fetches int
	reports int
	active  int
	overlap bool
	err     error
	delay   time.Duration
}

func (f *fakeRunner) run(kind string) (*pipeline.RunResult, error) {
	f.mu.Lock()
	f.active++
	if f.active > 1 {
		f.overlap = true
	}
	if kind == "fetch" {
		f.fetches++
	} else {
		f.reports++
	}
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.RunResult{Pages: 3, Flagged: 1}, nil
}

func (f *fakeRunner) RunFetch(ctx context.Context, jobID string) (*pipeline.RunResult, error) {
	return f.run("fetch")
}

func (f *fakeRunner) RunReport(ctx context.Context, jobID string) (*pipeline.RunResult, error) {
	return f.run("report")
}

func waitForStatus(t *testing.T, m *Manager, jobID string, want JobStatus) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := m.Get(jobID)
		require.True(t, ok)
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestEnqueueAndComplete(t *testing.T) {
	runner := &fakeRunner{}
	m := NewManager(runner, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	job, err := m.Enqueue(JobTypeFetch)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	done := waitForStatus(t, m, job.ID, JobStatusCompleted)
	require.NotNil(t, done.Result)
	assert.Equal(t, 3, done.Result.Pages)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 1, runner.fetches)
}

func TestFailedJobRecordsError(t *testing.T) {
	runner := &fakeRunner{err: assert.AnError}
	m := NewManager(runner, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	job, err := m.Enqueue(JobTypeReport)
	require.NoError(t, err)

	failed := waitForStatus(t, m, job.ID, JobStatusFailed)
	assert.Equal(t, assert.AnError.Error(), failed.ErrorMessage)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 1, runner.reports)
}

func TestRunsNeverOverlap(t *testing.T) {
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	m := NewManager(runner, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	var last *Job
	for i := 0; i < 4; i++ {
		job, err := m.Enqueue(JobTypeFetch)
		require.NoError(t, err)
		last = job
	}

	waitForStatus(t, m, last.ID, JobStatusCompleted)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.False(t, runner.overlap, "two runs executed concurrently")
	assert.Equal(t, 4, runner.fetches)
}

func TestEnqueueUnknownType(t *testing.T) {
	m := NewManager(&fakeRunner{}, 4)

	_, err := m.Enqueue(JobType("bogus"))
	require.Error(t, err)
}

func TestEnqueueFullQueue(t *testing.T) {
	// Worker not started, so the queue fills up.
	m := NewManager(&fakeRunner{}, 1)

	_, err := m.Enqueue(JobTypeFetch)
	require.NoError(t, err)

	_, err = m.Enqueue(JobTypeFetch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue is full")
}

func TestGetUnknownJob(t *testing.T) {
	m := NewManager(&fakeRunner{}, 4)

	_, ok := m.Get("no-such-job")
	assert.False(t, ok)
}

func TestSchedulerEnqueuesOnInterval(t *testing.T) {
	runner := &fakeRunner{}
	m := NewManager(runner, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	s := NewScheduler(m, 15*time.Millisecond, 0)
	s.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		runner.mu.Lock()
		fetches := runner.fetches
		runner.mu.Unlock()
		if fetches >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.GreaterOrEqual(t, runner.fetches, 2)
	assert.Zero(t, runner.reports)
}
