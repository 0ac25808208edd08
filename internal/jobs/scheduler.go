package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler periodically enqueues pipeline runs: a fetch job on the
// fetch interval and a report (PDF) job on the report interval.
type Scheduler struct {
	manager        *Manager
	fetchInterval  time.Duration
	reportInterval time.Duration
	wg             sync.WaitGroup
}

// NewScheduler creates a Scheduler. Non-positive intervals disable that
// schedule.
func NewScheduler(manager *Manager, fetchInterval, reportInterval time.Duration) *Scheduler {
	return &Scheduler{
		manager:        manager,
		fetchInterval:  fetchInterval,
		reportInterval: reportInterval,
	}
}

// Start launches the schedule loops. They run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.fetchInterval > 0 {
		s.wg.Add(1)
		go s.loop(ctx, s.fetchInterval, JobTypeFetch)
		log.Info().Dur("interval", s.fetchInterval).Msg("Fetch schedule started")
	}
	if s.reportInterval > 0 {
		s.wg.Add(1)
		go s.loop(ctx, s.reportInterval, JobTypeReport)
		log.Info().Dur("interval", s.reportInterval).Msg("Report schedule started")
	}
}

// Wait blocks until all schedule loops have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, jobType JobType) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.manager.Enqueue(jobType); err != nil {
				log.Warn().Err(err).Str("type", string(jobType)).Msg("Scheduled enqueue failed")
			}
		}
	}
}
