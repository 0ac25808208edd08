// Package jobs queues and executes pipeline runs. A single worker drains
// the queue so runs never overlap.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/seolens/seolens/internal/pipeline"
)

// JobType selects which pipeline entry point a job runs.
type JobType string

const (
	JobTypeFetch  JobType = "fetch"
	JobTypeReport JobType = "report"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job tracks one queued pipeline run.
type Job struct {
	ID           string              `json:"id"`
	Type         JobType             `json:"type"`
	Status       JobStatus           `json:"status"`
	ErrorMessage string              `json:"error_message,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	Result       *pipeline.RunResult `json:"result,omitempty"`
}

// Runner is the pipeline surface the manager drives.
type Runner interface {
	RunFetch(ctx context.Context, jobID string) (*pipeline.RunResult, error)
	RunReport(ctx context.Context, jobID string) (*pipeline.RunResult, error)
}

// Manager owns the job queue and the single worker that drains it.
type Manager struct {
	runner Runner

	mu   sync.RWMutex
	jobs map[string]*Job

	queue chan string
	wg    sync.WaitGroup
}

// NewManager creates a Manager with the given queue capacity.
func NewManager(runner Runner, queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Manager{
		runner: runner,
		jobs:   make(map[string]*Job),
		queue:  make(chan string, queueSize),
	}
}

// Start launches the worker. It runs until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case jobID := <-m.queue:
				m.run(ctx, jobID)
			}
		}
	}()
	log.Info().Msg("Job worker started")
}

// Wait blocks until the worker has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Enqueue creates a pending job and queues it for the worker. A full
// queue rejects the job rather than blocking the caller.
func (m *Manager) Enqueue(jobType JobType) (*Job, error) {
	if jobType != JobTypeFetch && jobType != JobTypeReport {
		return nil, fmt.Errorf("unknown job type: %s", jobType)
	}

	job := &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	select {
	case m.queue <- job.ID:
	default:
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("job queue is full")
	}

	log.Info().
		Str("job_id", job.ID).
		Str("type", string(jobType)).
		Msg("Job enqueued")

	return m.snapshotOf(job.ID), nil
}

// Get returns a copy of a job's current state.
func (m *Manager) Get(jobID string) (*Job, bool) {
	job := m.snapshotOf(jobID)
	return job, job != nil
}

func (m *Manager) snapshotOf(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}

func (m *Manager) run(ctx context.Context, jobID string) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	job.Status = JobStatusRunning
	job.StartedAt = &now
	jobType := job.Type
	m.mu.Unlock()

	var result *pipeline.RunResult
	var err error
	switch jobType {
	case JobTypeReport:
		result, err = m.runner.RunReport(ctx, jobID)
	default:
		result, err = m.runner.RunFetch(ctx, jobID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	completed := time.Now().UTC()
	job.CompletedAt = &completed
	if err != nil {
		job.Status = JobStatusFailed
		job.ErrorMessage = err.Error()
		return
	}
	job.Status = JobStatusCompleted
	job.Result = result
}
