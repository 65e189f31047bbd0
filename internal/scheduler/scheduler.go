// Package scheduler drives the engine's jobs on cron cadences. It is an
// explicitly constructed component owned by the host's startup routine, so
// tests build isolated instances instead of sharing process state.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "github.com/arlberg/backstop/internal/errors"
	"github.com/arlberg/backstop/internal/logger"
)

type JobStatus string

const (
	StatusIdle    JobStatus = "idle"
	StatusRunning JobStatus = "running"
	StatusError   JobStatus = "error"
)

// JobFunc is one job body. Errors are recorded in job status, never
// propagated: a failed backup must not crash the host process.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	schedule string
	fn       JobFunc

	active  bool
	status  JobStatus
	lastRun time.Time
	lastDur time.Duration
	lastErr error
	cronID  cron.EntryID

	// Guards the body against a manual trigger overlapping a scheduled
	// firing: the duplicate invocation is skipped, never queued.
	runMu sync.Mutex
}

// JobInfo is a read-only snapshot of one job.
type JobInfo struct {
	Name     string
	Schedule string
	Active   bool
	Status   JobStatus
	LastRun  time.Time
	NextRun  time.Time
	Duration time.Duration
	LastErr  error
}

type Scheduler struct {
	cron *cron.Cron
	log  *logger.Logger

	mu      sync.RWMutex
	jobs    map[string]*job
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(l *logger.Logger) *Scheduler {
	if l == nil {
		l = logger.New(logger.Config{})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		log:     l,
		jobs:    make(map[string]*job),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Register adds a named job bound to a cron cadence. The job stays inactive
// until StartJob or Start is called. The cadence is validated here so a typo
// fails registration, not the first firing.
func (s *Scheduler) Register(name, schedule string, fn JobFunc) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return apperrors.Wrap(err, apperrors.TypeConfig, fmt.Sprintf("invalid cadence %q for job %s", schedule, name), "Cadences use standard 5-field cron syntax.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job already registered: %s", name)
	}
	s.jobs[name] = &job{
		name:     name,
		schedule: schedule,
		fn:       fn,
		status:   StatusIdle,
	}
	return nil
}

// Start activates every registered job and begins firing.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range s.jobs {
		if err := s.startJobLocked(name); err != nil {
			return err
		}
	}
	s.cron.Start()
	return nil
}

// StartJob binds the job's cadence and begins firing it. Starting an already
// active job is a no-op, not an error.
func (s *Scheduler) StartJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.startJobLocked(name); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) startJobLocked(name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job not found: %s", name)
	}
	if j.active {
		return nil
	}

	id, err := s.cron.AddFunc(j.schedule, func() {
		s.execute(name)
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeConfig, fmt.Sprintf("invalid cadence %q for job %s", j.schedule, name), "")
	}
	j.cronID = id
	j.active = true
	s.log.Info("job started", "job", name, "schedule", j.schedule)
	return nil
}

// StopJob cancels future firings. An in-flight run completes naturally.
func (s *Scheduler) StopJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job not found: %s", name)
	}
	if !j.active {
		return nil
	}
	s.cron.Remove(j.cronID)
	j.active = false
	s.log.Info("job stopped", "job", name)
	return nil
}

// TriggerJob fires the job body immediately, regardless of cadence and of
// whether the job is active. The run happens on its own goroutine; if the
// body is already running the invocation is skipped.
func (s *Scheduler) TriggerJob(name string) error {
	s.mu.RLock()
	_, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job not found: %s", name)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(name)
	}()
	return nil
}

// execute runs one invocation of the job body with the overlap guard, status
// bookkeeping, and panic containment.
func (s *Scheduler) execute(name string) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return
	}

	if !j.runMu.TryLock() {
		s.log.Warn("skipping job invocation: already running", "job", name)
		return
	}
	defer j.runMu.Unlock()

	start := time.Now()
	s.mu.Lock()
	j.status = StatusRunning
	j.lastRun = start
	s.mu.Unlock()

	err := s.runBody(j)

	s.mu.Lock()
	j.lastDur = time.Since(start)
	j.lastErr = err
	if err != nil {
		j.status = StatusError
	} else {
		j.status = StatusIdle
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed", "job", name, "duration", time.Since(start).String(), "error", err)
	} else {
		s.log.Info("job finished", "job", name, "duration", time.Since(start).String())
	}
}

func (s *Scheduler) runBody(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.fn(s.baseCtx)
}

// Status returns a snapshot of one job.
func (s *Scheduler) Status(name string) (JobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[name]
	if !ok {
		return JobInfo{}, fmt.Errorf("job not found: %s", name)
	}
	return s.snapshotLocked(j), nil
}

// AllStatuses returns a snapshot of every registered job.
func (s *Scheduler) AllStatuses() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		infos = append(infos, s.snapshotLocked(j))
	}
	return infos
}

func (s *Scheduler) snapshotLocked(j *job) JobInfo {
	info := JobInfo{
		Name:     j.name,
		Schedule: j.schedule,
		Active:   j.active,
		Status:   j.status,
		LastRun:  j.lastRun,
		Duration: j.lastDur,
		LastErr:  j.lastErr,
	}
	if j.active {
		info.NextRun = s.cron.Entry(j.cronID).Next
	}
	return info
}

// Shutdown stops every job, cancels in-flight runs through the base context,
// and waits for manual triggers to drain. Runs once at host termination.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for _, j := range s.jobs {
		if j.active {
			s.cron.Remove(j.cronID)
			j.active = false
		}
	}
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	s.cancel()
	<-stopCtx.Done()
	s.wg.Wait()

	s.mu.Lock()
	s.jobs = make(map[string]*job)
	s.mu.Unlock()
	s.log.Info("scheduler shut down")
}
