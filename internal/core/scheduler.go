package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"autocall/internal/metrics"

	"github.com/robfig/cron/v3"
)

// Executor runs an automation. It returns the outcome counters of the run, or an
// error when the run as a whole failed.
type Executor interface {
	Execute(ctx context.Context, settings *Settings, run *Run) (RunOutcome, error)
}

// Notifier receives failure notifications.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// SchedulerOptions tune the sweep cadence and the worker pool.
type SchedulerOptions struct {
	SweepSpec string
	Workers   int
	QueueSize int
	Location  *time.Location
	Now       func() time.Time
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Due        int
	Dispatched []string
	Skipped    []string
	Failures   []SweepFailure
}

// SweepFailure records an entity the sweep could not start.
type SweepFailure struct {
	SettingsID string
	Err        error
}

// finishTimeout bounds the store writes and notification that close a run.
const finishTimeout = 10 * time.Second

type dispatch struct {
	settings *Settings
	run      *Run
}

// Scheduler finds due settings, records runs and hands them to a worker pool.
type Scheduler struct {
	store    Store
	executor Executor
	notifier Notifier
	logger   *slog.Logger
	location *time.Location
	now      func() time.Time

	cron      *cron.Cron
	sweepSpec string
	workers   int

	queue   chan dispatch
	mu      sync.RWMutex
	closed  bool
	workWG  sync.WaitGroup
	sweepWG sync.WaitGroup

	ctx context.Context
}

// NewScheduler constructs a scheduler with the given dependencies. notifier may be nil.
func NewScheduler(store Store, executor Executor, notifier Notifier, logger *slog.Logger, opts SchedulerOptions) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Scheduler{
		store:     store,
		executor:  executor,
		notifier:  notifier,
		logger:    logger,
		location:  opts.Location,
		now:       opts.Now,
		cron:      cron.New(cron.WithParser(sweepParser), cron.WithLocation(opts.Location)),
		sweepSpec: opts.SweepSpec,
		workers:   opts.Workers,
		queue:     make(chan dispatch, opts.QueueSize),
	}
}

// Start launches the worker pool and, when a sweep spec is configured, the
// periodic sweep. ctx is used for background store updates and executions.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	for i := 0; i < s.workers; i++ {
		s.workWG.Add(1)
		go s.worker()
	}
	if s.sweepSpec == "" {
		return nil
	}
	schedule, err := ParseSweepSpec(s.sweepSpec)
	if err != nil {
		return err
	}
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		if _, err := s.RunSweep(s.ctxOrBackground(), s.now()); err != nil {
			s.logger.Error("scheduled sweep", "err", err)
		}
	}))
	s.cron.Start()
	s.logger.Info("scheduler started", "sweep", s.sweepSpec, "workers", s.workers)
	return nil
}

// Stop halts periodic sweeps, lets queued runs finish and returns a context that
// is done once every worker has exited.
func (s *Scheduler) Stop() context.Context {
	cronCtx := s.cron.Stop()
	done, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		<-cronCtx.Done()
		s.sweepWG.Wait()
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.queue)
		}
		s.mu.Unlock()
		s.workWG.Wait()
	}()
	return done
}

// TriggerSweep starts a full sweep in the background and returns immediately.
func (s *Scheduler) TriggerSweep() {
	s.sweepWG.Add(1)
	go func() {
		defer s.sweepWG.Done()
		if _, err := s.RunSweep(s.ctxOrBackground(), s.now()); err != nil {
			s.logger.Error("manual sweep", "err", err)
		}
	}()
}

// RunSweep claims every due settings entity, records a running run for each and
// dispatches it. A failure on one entity does not stop the sweep.
func (s *Scheduler) RunSweep(ctx context.Context, now time.Time) (*SweepReport, error) {
	now = now.In(s.location)
	due, err := s.store.ListDueSettings(ctx, now)
	if err != nil {
		metrics.Sweeps.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list due settings: %w", err)
	}
	report := &SweepReport{Due: len(due)}
	for _, settings := range due {
		run, err := s.claim(ctx, settings, now)
		if errors.Is(err, ErrClaimLost) {
			s.logger.Info("settings claimed by another sweep", "settings_id", settings.ID)
			report.Skipped = append(report.Skipped, settings.ID)
			continue
		}
		if err != nil {
			s.logger.Error("start scheduled run", "settings_id", settings.ID, "err", err)
			report.Failures = append(report.Failures, SweepFailure{SettingsID: settings.ID, Err: err})
			continue
		}
		s.dispatch(ctx, settings, run)
		report.Dispatched = append(report.Dispatched, run.ID)
	}
	metrics.Sweeps.WithLabelValues("ok").Inc()
	if report.Due > 0 {
		s.logger.Info("sweep finished", "due", report.Due, "dispatched", len(report.Dispatched),
			"skipped", len(report.Skipped), "failed", len(report.Failures))
	}
	return report, nil
}

// RunNow records a running run for settings and dispatches it regardless of its
// enabled flag or next_run. next_run is left untouched.
func (s *Scheduler) RunNow(ctx context.Context, settings *Settings) (*Run, error) {
	start := s.now().In(s.location)
	run := &Run{
		ID:         NewID(),
		SettingsID: settings.ID,
		UserID:     settings.UserID,
		Trigger:    RunTriggerManual,
		Status:     RunStatusRunning,
		StartTime:  start,
	}
	if err := s.store.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	if err := s.store.UpdateSettingsLastRun(ctx, settings.ID, start); err != nil {
		s.logger.Warn("update last_run", "settings_id", settings.ID, "err", err)
	}
	s.dispatch(ctx, settings, run)
	return run, nil
}

func (s *Scheduler) claim(ctx context.Context, settings *Settings, now time.Time) (*Run, error) {
	if settings.NextRun == nil {
		return nil, fmt.Errorf("settings %s has no next_run", settings.ID)
	}
	sched := settings.Schedule()
	sched.LastRun = &now
	run := &Run{
		ID:         NewID(),
		SettingsID: settings.ID,
		UserID:     settings.UserID,
		Trigger:    RunTriggerSchedule,
		Status:     RunStatusRunning,
		StartTime:  now,
	}
	claim := Claim{
		SettingsID:      settings.ID,
		ExpectedNextRun: *settings.NextRun,
		LastRun:         now,
		NextRun:         ComputeNextRun(now, sched),
	}
	if err := s.store.ClaimAndStartRun(ctx, claim, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Scheduler) dispatch(ctx context.Context, settings *Settings, run *Run) {
	err := s.enqueue(dispatch{settings: settings, run: run})
	if err == nil {
		metrics.RunsDispatched.WithLabelValues(string(run.Trigger)).Inc()
		return
	}
	s.logger.Error("dispatch run", "settings_id", settings.ID, "run_id", run.ID, "err", err)
	s.finish(ctx, settings, run, RunOutcome{}, err)
}

func (s *Scheduler) enqueue(d dispatch) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrDriverStopped
	}
	select {
	case s.queue <- d:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Scheduler) worker() {
	defer s.workWG.Done()
	for d := range s.queue {
		ctx := s.ctxOrBackground()
		outcome, err := s.execute(ctx, d.settings, d.run)
		if err != nil {
			s.logger.Error("execute automation", "settings_id", d.settings.ID, "run_id", d.run.ID, "err", err)
		}
		s.finish(ctx, d.settings, d.run, outcome, err)
	}
}

func (s *Scheduler) execute(ctx context.Context, settings *Settings, run *Run) (outcome RunOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return s.executor.Execute(ctx, settings, run)
}

// finish moves the run to its terminal state and, for scheduled runs, recomputes
// the entity's next_run from its current definition.
func (s *Scheduler) finish(ctx context.Context, settings *Settings, run *Run, outcome RunOutcome, execErr error) {
	// The terminal write must land even when shutdown already cancelled ctx.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	status := RunStatusSucceeded
	var errMsg *string
	if execErr != nil {
		status = RunStatusFailed
		msg := execErr.Error()
		errMsg = &msg
	}
	end := s.now().In(s.location)
	if err := s.store.CompleteRun(ctx, run.ID, status, end, outcome, errMsg); err != nil {
		s.logger.Error("complete run", "run_id", run.ID, "err", err)
	} else {
		run.Status = status
		run.EndTime = &end
		run.Error = errMsg
		metrics.RunsFinished.WithLabelValues(string(status)).Inc()
	}
	if status == RunStatusFailed {
		s.notifyFailure(ctx, settings, run, execErr)
	}
	if run.Trigger != RunTriggerSchedule {
		return
	}

	current, err := s.store.GetSettingsByID(ctx, settings.ID)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Error("reload settings after run", "settings_id", settings.ID, "err", err)
		return
	}
	lastRun := run.StartTime
	current.LastRun = &lastRun
	var next *time.Time
	if current.Enabled {
		next = ComputeNextRun(end, current.Schedule())
	}
	if err := s.store.UpdateSettingsSchedule(ctx, current.ID, &lastRun, next); err != nil {
		s.logger.Error("update schedule after run", "settings_id", current.ID, "err", err)
	}
}

func (s *Scheduler) notifyFailure(ctx context.Context, settings *Settings, run *Run, execErr error) {
	if s.notifier == nil {
		return
	}
	name := settings.Name
	if name == "" {
		name = settings.ID
	}
	body := fmt.Sprintf("run %s failed: %v", run.ID, execErr)
	if err := s.notifier.Send(ctx, "Automation failed: "+name, body); err != nil {
		s.logger.Warn("send failure notification", "run_id", run.ID, "err", err)
	}
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
