// Package jobs schedules timer jobs on top of robfig/cron.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/petrijr/procflow/pkg/api"
)

// expirationSchedule adapts an api.ExpirationTime to cron.Schedule. Next
// returns the zero time once the expiration is exhausted, which cron
// treats as "never".
type expirationSchedule struct {
	exp   api.ExpirationTime
	start time.Time
	calls int
}

func (s *expirationSchedule) Next(time.Time) time.Time {
	defer func() { s.calls++ }()
	if s.exp.IsExact() {
		if s.calls > 0 {
			return time.Time{}
		}
		return s.exp.At
	}
	if s.exp.RepeatCount >= 0 && s.calls >= s.exp.RepeatCount {
		return time.Time{}
	}
	if s.calls > 0 && s.exp.Period <= 0 {
		return time.Time{}
	}
	return s.start.Add(s.exp.Delay + time.Duration(s.calls)*s.exp.Period)
}

// exhausted reports whether no firing follows the fired-th one.
func (s *expirationSchedule) exhausted(fired int) bool {
	if s.exp.IsExact() {
		return fired >= 1
	}
	if s.exp.RepeatCount >= 0 && fired >= s.exp.RepeatCount {
		return true
	}
	return s.exp.Period <= 0
}

// Scheduler is an in-process api.JobsService.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ api.JobsService = (*Scheduler)(nil)

// NewScheduler creates a started scheduler. Call Stop to release it.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger))),
		logger:  logger.With("module", "jobs"),
		now:     time.Now,
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.cron.Start()
	return s
}

// ScheduleJob registers job and returns its id (job.ID when set).
func (s *Scheduler) ScheduleJob(_ context.Context, job api.JobDescription) (string, error) {
	if job.Fire == nil {
		return "", fmt.Errorf("job %q has no fire function", job.ID)
	}
	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return "", fmt.Errorf("job %q is already scheduled", id)
	}

	sched := &expirationSchedule{exp: job.ExpirationTime, start: s.now()}
	logger := s.logger.With(slog.String("job_id", id), slog.String("process_id", job.ProcessID))
	var (
		fireMu sync.Mutex
		fired  int
	)
	run := func() {
		fireMu.Lock()
		fired++
		last := sched.exhausted(fired)
		fireMu.Unlock()

		if err := job.Fire(s.ctx); err != nil {
			logger.Error("job_failed", slog.String("error", err.Error()))
		} else {
			logger.Debug("job_fired")
		}
		if last {
			s.forget(id)
		}
	}
	s.entries[id] = s.cron.Schedule(sched, cron.FuncJob(run))
	logger.Info("job_scheduled", slog.String("node_id", job.NodeID))
	return id, nil
}

// CancelJob removes the job and reports whether it was scheduled.
func (s *Scheduler) CancelJob(_ context.Context, id string) (bool, error) {
	return s.forget(id), nil
}

func (s *Scheduler) forget(id string) bool {
	s.mu.Lock()
	entry, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if ok {
		s.cron.Remove(entry)
	}
	return ok
}

// Scheduled returns the number of live jobs.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
