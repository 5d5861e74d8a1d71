// Package scheduler runs the pipeline's recurring jobs on cron schedules in
// exchange time.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"radar-trader/internal/config"
	"radar-trader/pkg/utils"
)

// Job is one scheduled task.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// JobStats counts the outcomes of a job's ticks.
type JobStats struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Runs     int64         `json:"runs"`
	Failures int64         `json:"failures"`
	Skipped  int64         `json:"skipped"`
	LastRun  time.Time     `json:"last_run"`
	LastErr  string        `json:"last_error,omitempty"`
	Duration time.Duration `json:"last_duration"`
	Next     time.Time     `json:"next"`
}

type entry struct {
	job     Job
	id      cron.EntryID
	running atomic.Bool

	mu    sync.Mutex
	stats JobStats
}

// Scheduler runs jobs on cron specs. A tick that fires while the previous
// run of the same job is still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger

	mu      sync.RWMutex
	ctx     context.Context
	entries []*entry
}

// New creates a scheduler evaluating specs in Indian market time.
func New(logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(utils.IndiaLocation),
			cron.WithChain(cron.Recover(cronLogger{logger})),
			cron.WithLogger(cronLogger{logger}),
		),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Add registers a job. An empty spec disables the job.
func (s *Scheduler) Add(job Job) error {
	if job.Spec == "" {
		s.logger.Debug().Str("job", job.Name).Msg("job disabled")
		return nil
	}
	if job.Run == nil {
		return fmt.Errorf("job %s has no function", job.Name)
	}

	e := &entry{job: job, stats: JobStats{Name: job.Name, Spec: job.Spec}}
	id, err := s.cron.AddFunc(job.Spec, s.tick(e))
	if err != nil {
		return fmt.Errorf("failed to schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	e.id = id

	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

// tick returns the function cron calls for e.
func (s *Scheduler) tick(e *entry) func() {
	return func() {
		if !e.running.CompareAndSwap(false, true) {
			e.mu.Lock()
			e.stats.Skipped++
			e.mu.Unlock()
			s.logger.Info().Str("job", e.job.Name).Msg("previous run still going, skipping tick")
			return
		}
		defer e.running.Store(false)

		s.mu.RLock()
		ctx := s.ctx
		s.mu.RUnlock()
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		err := e.job.Run(ctx)
		elapsed := time.Since(start)

		e.mu.Lock()
		e.stats.Runs++
		e.stats.LastRun = start
		e.stats.Duration = elapsed
		e.stats.LastErr = ""
		if err != nil {
			e.stats.Failures++
			e.stats.LastErr = err.Error()
		}
		e.mu.Unlock()

		if err != nil {
			s.logger.Error().Err(err).Str("job", e.job.Name).Dur("duration", elapsed).Msg("job failed")
			return
		}
		s.logger.Debug().Str("job", e.job.Name).Dur("duration", elapsed).Msg("job finished")
	}
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	n := len(s.entries)
	s.mu.Unlock()

	if n == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	s.cron.Start()
	s.logger.Info().Int("jobs", n).Msg("scheduler started")
	for _, st := range s.Stats() {
		s.logger.Info().Str("job", st.Name).Str("spec", st.Spec).Time("next", st.Next).Msg("job scheduled")
	}

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
	return nil
}

// Stats returns a snapshot of every job, sorted by name.
func (s *Scheduler) Stats() []JobStats {
	s.mu.RLock()
	entries := make([]*entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.RUnlock()

	out := make([]JobStats, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := e.stats
		e.mu.Unlock()
		st.Next = s.cron.Entry(e.id).Next
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tasks are the pipeline operations the scheduler can run. Nil tasks are
// not scheduled.
type Tasks struct {
	Premarket func(ctx context.Context) error
	Intraday  func(ctx context.Context) error
	Engine    func(ctx context.Context) error
	Monitor   func(ctx context.Context) error
	EndOfDay  func(ctx context.Context) error
	Cleanup   func(ctx context.Context) error
}

// Jobs pairs tasks with their configured specs.
func Jobs(cfg config.ScheduleConfig, t Tasks) []Job {
	candidates := []Job{
		{Name: "premarket", Spec: cfg.Premarket, Run: t.Premarket},
		{Name: "intraday", Spec: cfg.Intraday, Run: t.Intraday},
		{Name: "engine", Spec: cfg.Engine, Run: t.Engine},
		{Name: "monitor", Spec: cfg.Monitor, Run: t.Monitor},
		{Name: "end_of_day", Spec: cfg.EndOfDay, Run: t.EndOfDay},
		{Name: "cleanup", Spec: cfg.Cleanup, Run: t.Cleanup},
	}
	jobs := make([]Job, 0, len(candidates))
	for _, j := range candidates {
		if j.Run != nil && j.Spec != "" {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// cronLogger adapts zerolog to cron's logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
