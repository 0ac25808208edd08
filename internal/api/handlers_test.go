package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolens/seolens/internal/jobs"
)

type fakeQueue struct {
	jobs       map[string]*jobs.Job
	enqueueErr error
	lastType   jobs.JobType
}

func (f *fakeQueue) Enqueue(jobType jobs.JobType) (*jobs.Job, error) {
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	f.lastType = jobType
	job := &jobs.Job{ID: "job-123", Type: jobType, Status: jobs.JobStatusPending}
	if f.jobs == nil {
		f.jobs = make(map[string]*jobs.Job)
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeQueue) Get(jobID string) (*jobs.Job, bool) {
	job, ok := f.jobs[jobID]
	return job, ok
}

func newTestServer(queue JobQueue) *httptest.Server {
	h := NewHandler(queue, nil, "test")
	mux := http.NewServeMux()
	h.SetupRoutes(mux)
	return httptest.NewServer(RequestIDMiddleware(LoggingMiddleware(mux)))
}

func TestHealthCheck(t *testing.T) {
	server := newTestServer(&fakeQueue{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "seolens", health.Service)
}

func TestTriggerFetch(t *testing.T) {
	queue := &fakeQueue{}
	server := newTestServer(queue)
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/reports/run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, jobs.JobTypeFetch, queue.lastType)

	var body SuccessResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "accepted", body.Status)
	assert.NotEmpty(t, body.RequestID)
}

func TestTriggerReport(t *testing.T) {
	queue := &fakeQueue{}
	server := newTestServer(queue)
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/reports/pdf", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, jobs.JobTypeReport, queue.lastType)
}

func TestTriggerRejectsGet(t *testing.T) {
	server := newTestServer(&fakeQueue{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/reports/run")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestTriggerQueueFull(t *testing.T) {
	server := newTestServer(&fakeQueue{enqueueErr: assert.AnError})
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/reports/run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestJobStatus(t *testing.T) {
	queue := &fakeQueue{}
	_, err := queue.Enqueue(jobs.JobTypeFetch)
	require.NoError(t, err)

	server := newTestServer(queue)
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/jobs/job-123")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string   `json:"status"`
		Data   jobs.Job `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "job-123", body.Data.ID)
	assert.Equal(t, jobs.JobStatusPending, body.Data.Status)
}

func TestJobStatusNotFound(t *testing.T) {
	server := newTestServer(&fakeQueue{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/jobs/missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobStatusMissingID(t *testing.T) {
	server := newTestServer(&fakeQueue{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/jobs/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDatabaseHealthCheckUnconfigured(t *testing.T) {
	server := newTestServer(&fakeQueue{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/health/db")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
