// Package schedule triggers upload jobs on cron schedules.
package schedule

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"labelsync/internal/config"
	"labelsync/internal/domain"
)

// JobRunner runs one upload job.
type JobRunner interface {
	Run(ctx context.Context, j config.Job) (*domain.UploadResult, error)
}

// JobSource lists the jobs to schedule.
type JobSource func() ([]config.Job, error)

// ScheduledJob describes one cron entry.
type ScheduledJob struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next_run"`
	Prev     time.Time `json:"prev_run,omitzero"`
}

// Scheduler manages cron-based job execution. A job whose previous run is
// still in flight skips its next tick.
type Scheduler struct {
	cron    *cron.Cron
	runner  JobRunner
	jobs    JobSource
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID // job name → cron entry
	specs   map[string]string       // job name → schedule
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a new job scheduler.
func NewScheduler(runner JobRunner, jobs JobSource, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
		runner:  runner,
		jobs:    jobs,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start loads all scheduled jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.jobs()
	if err != nil {
		return err
	}
	s.addSchedules(jobs)
	s.cron.Start()
	s.logger.Info("job scheduler started", "jobs", len(s.entries))
	return nil
}

// Stop stops the scheduler, cancels in-flight runs and waits for them to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("job scheduler stop timed out with runs in flight")
	}
	s.logger.Info("job scheduler stopped")
}

// Reload replaces all cron entries with the jobs from the job source. If the
// source fails, the current entries stay scheduled.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.jobs()
	if err != nil {
		return err
	}
	for _, entryID := range s.entries {
		s.cron.Remove(entryID)
	}
	s.entries = make(map[string]cron.EntryID)
	s.specs = make(map[string]string)
	s.addSchedules(jobs)
	return nil
}

// Entries lists the scheduled jobs by name.
func (s *Scheduler) Entries() []ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduledJob, 0, len(s.entries))
	for name, id := range s.entries {
		e := s.cron.Entry(id)
		out = append(out, ScheduledJob{Name: name, Schedule: s.specs[name], Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// addSchedules adds every job with a schedule to cron. Invalid schedules
// are logged and skipped.
func (s *Scheduler) addSchedules(jobs []config.Job) {
	for _, j := range jobs {
		if j.Schedule == "" {
			continue
		}
		entryID, err := s.cron.AddFunc(j.Schedule, func() { s.trigger(j) })
		if err != nil {
			s.logger.Warn("invalid cron schedule", "job", j.Name, "schedule", j.Schedule, "error", err)
			continue
		}
		s.entries[j.Name] = entryID
		s.specs[j.Name] = j.Schedule
		s.logger.Info("scheduled job", "job", j.Name, "schedule", j.Schedule)
	}
}

func (s *Scheduler) trigger(j config.Job) {
	started := time.Now()
	result, err := s.runner.Run(s.ctx, j)
	if err != nil {
		s.logger.Warn("scheduled upload failed", "job", j.Name, "error", err)
		return
	}
	s.logger.Info("scheduled upload finished",
		"job", j.Name, "run_id", result.RunID, "status", result.Status(), "elapsed", time.Since(started))
}
