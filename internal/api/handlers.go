// Package api exposes the trigger and status endpoints.
package api

import (
	"net/http"
	"strings"

	"github.com/seolens/seolens/internal/db"
	"github.com/seolens/seolens/internal/jobs"
)

// JobQueue is the manager surface the handlers drive.
type JobQueue interface {
	Enqueue(jobType jobs.JobType) (*jobs.Job, error)
	Get(jobID string) (*jobs.Job, bool)
}

// Handler holds the API dependencies.
type Handler struct {
	Queue   JobQueue
	DB      *db.DB
	Version string
}

// NewHandler creates an API handler.
func NewHandler(queue JobQueue, database *db.DB, version string) *Handler {
	return &Handler{
		Queue:   queue,
		DB:      database,
		Version: version,
	}
}

// SetupRoutes registers all endpoints on the mux.
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/health/db", h.DatabaseHealthCheck)

	mux.HandleFunc("/v1/reports/run", h.TriggerFetch)
	mux.HandleFunc("/v1/reports/pdf", h.TriggerReport)
	mux.HandleFunc("/v1/jobs/", h.JobStatus) // Note: trailing slash for path params
	mux.HandleFunc("/v1/runs", h.RunHistory)
}

// HealthCheck returns service liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	WriteHealthy(w, r, "seolens", h.Version)
}

// DatabaseHealthCheck verifies database connectivity.
func (h *Handler) DatabaseHealthCheck(w http.ResponseWriter, r *http.Request) {
	client := h.DB.Client()
	if client == nil {
		ServiceUnavailable(w, r, "database not configured")
		return
	}
	if err := client.PingContext(r.Context()); err != nil {
		ServiceUnavailable(w, r, "database unreachable")
		return
	}
	WriteHealthy(w, r, "seolens-db", h.Version)
}

// TriggerFetch enqueues a full fetch-and-email run.
func (h *Handler) TriggerFetch(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, jobs.JobTypeFetch)
}

// TriggerReport enqueues a PDF report run.
func (h *Handler) TriggerReport(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, jobs.JobTypeReport)
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request, jobType jobs.JobType) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	job, err := h.Queue.Enqueue(jobType)
	if err != nil {
		ServiceUnavailable(w, r, err.Error())
		return
	}

	WriteAccepted(w, r, job, "Job enqueued")
}

// JobStatus returns the state of one job by ID.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		BadRequest(w, r, "job ID is required")
		return
	}

	job, ok := h.Queue.Get(jobID)
	if !ok {
		NotFound(w, r, "job not found")
		return
	}

	WriteSuccess(w, r, job, "")
}

// RunHistory returns recent persisted runs.
func (h *Handler) RunHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	runs, err := h.DB.RecentRuns(r.Context(), 20)
	if err != nil {
		WriteErrorMessage(w, r, "failed to load run history", http.StatusInternalServerError, ErrCodeDatabaseError)
		return
	}

	WriteSuccess(w, r, map[string]interface{}{"runs": runs}, "")
}
