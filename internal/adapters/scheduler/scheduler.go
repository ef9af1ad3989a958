package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/ports"
)

// PersistentScheduler fires recurring and one-shot jobs whose state lives
// in the shared durable store, so any of N stateless engine processes can
// pick up and fire a job exactly once. Clustered and single-instance
// deployments differ only in the claimer installed at construction.
type PersistentScheduler struct {
	jobs     *JobStore
	claimer  claimer
	logger   *slog.Logger
	config   domain.SchedulerConfig
	instance string

	mu       sync.RWMutex
	handlers map[string]ports.JobHandler

	standby atomic.Bool
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPersistentScheduler(storage ports.StoragePort, cfg domain.SchedulerConfig, instanceID string, logger *slog.Logger) *PersistentScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "persistent-scheduler", "instance_id", instanceID)

	var c claimer
	switch cfg.Mode {
	case domain.SchedulerModeClustered:
		c = newStoreClaimer(storage, instanceID, cfg.ClaimTTL)
	default:
		c = newLocalClaimer()
	}

	return &PersistentScheduler{
		jobs:     NewJobStore(storage, logger),
		claimer:  c,
		logger:   logger,
		config:   cfg,
		instance: instanceID,
		handlers: make(map[string]ports.JobHandler),
	}
}

func (s *PersistentScheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return domain.ErrAlreadyStarted
	}

	if err := s.jobs.Bootstrap(ctx); err != nil {
		s.running.Store(false)
		return err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.pollLoop(pollCtx)

	s.logger.Info("scheduler started",
		"mode", s.config.Mode,
		"poll_interval", s.config.PollInterval,
	)
	return nil
}

func (s *PersistentScheduler) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return domain.ErrNotStarted
	}

	s.cancel()
	s.wg.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}

func (s *PersistentScheduler) RegisterHandler(jobType string, handler ports.JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = handler
}

// Standby stops firing new triggers while in-flight work finishes.
// Registered jobs stay in the store untouched.
func (s *PersistentScheduler) Standby() error {
	s.standby.Store(true)
	s.logger.Info("scheduler standing by")
	return nil
}

func (s *PersistentScheduler) Resume() error {
	s.standby.Store(false)
	s.logger.Info("scheduler resumed")
	return nil
}

// ScheduleJob registers a job and its trigger and returns the first fire
// time. Losing a concurrent registration race for the same (name, group)
// is expected under multi-instance deployments and is swallowed.
func (s *PersistentScheduler) ScheduleJob(ctx context.Context, job domain.JobDetail, trigger domain.TriggerDetail) (time.Time, error) {
	if err := job.Key.Validate(); err != nil {
		return time.Time{}, err
	}
	if err := trigger.Validate(); err != nil {
		return time.Time{}, err
	}

	next, err := nextFireTime(trigger, time.Now())
	if err != nil {
		return time.Time{}, err
	}

	job.State = domain.JobStateScheduled
	job.CreatedAt = time.Now()

	created, err := s.jobs.CreateJob(ctx, job)
	if err != nil {
		return time.Time{}, err
	}
	if !created {
		s.logger.Debug("job already registered, skipping",
			"job_key", job.Key.String())
		existing, err := s.jobs.TriggersForJob(ctx, job.Key)
		if err != nil {
			return time.Time{}, err
		}
		if len(existing) > 0 {
			return existing[0].NextFireAt, nil
		}
	}

	trigger.JobKey = job.Key
	trigger.NextFireAt = next
	if err := s.jobs.SaveTrigger(ctx, trigger); err != nil {
		return time.Time{}, err
	}

	s.logger.Info("job scheduled",
		"job_key", job.Key.String(),
		"trigger_key", trigger.Key,
		"next_fire_at", next,
	)
	return next, nil
}

// EnsureJob reconciles an existing registration against the wanted
// definition: equal definitions and schedules no-op, a schedule-only
// change reschedules the trigger, a changed job definition deletes and
// recreates the pair.
func (s *PersistentScheduler) EnsureJob(ctx context.Context, job domain.JobDetail, trigger domain.TriggerDetail) (time.Time, error) {
	existing, err := s.jobs.GetJob(ctx, job.Key)
	if err != nil {
		return time.Time{}, err
	}
	if existing == nil {
		return s.ScheduleJob(ctx, job, trigger)
	}

	if !existing.SameDefinition(&job) {
		s.logger.Info("job definition changed, recreating",
			"job_key", job.Key.String())
		if _, err := s.jobs.DeleteJob(ctx, job.Key); err != nil {
			return time.Time{}, err
		}
		return s.ScheduleJob(ctx, job, trigger)
	}

	current, err := s.jobs.GetTrigger(ctx, trigger.Key)
	if err != nil {
		return time.Time{}, err
	}
	if current != nil && current.SameSchedule(&trigger) {
		return current.NextFireAt, nil
	}

	fireAt, err := s.RescheduleJob(ctx, trigger.Key, trigger)
	if err != nil {
		return time.Time{}, err
	}
	if fireAt == nil {
		// Trigger vanished between reads; register it fresh.
		return s.ScheduleJob(ctx, job, trigger)
	}
	return *fireAt, nil
}

func (s *PersistentScheduler) CheckExists(ctx context.Context, key domain.JobKey) (bool, error) {
	job, err := s.jobs.GetJob(ctx, key)
	if err != nil {
		return false, err
	}
	return job != nil, nil
}

func (s *PersistentScheduler) DeleteJob(ctx context.Context, key domain.JobKey) (bool, error) {
	deleted, err := s.jobs.DeleteJob(ctx, key)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info("job deleted", "job_key", key.String())
	}
	return deleted, nil
}

func (s *PersistentScheduler) PauseJob(ctx context.Context, key domain.JobKey) (bool, error) {
	return s.jobs.UpdateJobState(ctx, key, domain.JobStatePaused)
}

func (s *PersistentScheduler) ResumeJob(ctx context.Context, key domain.JobKey) (bool, error) {
	return s.jobs.UpdateJobState(ctx, key, domain.JobStateScheduled)
}

// RescheduleJob swaps a trigger's schedule and returns the new fire time,
// or nil when the trigger does not exist.
func (s *PersistentScheduler) RescheduleJob(ctx context.Context, triggerKey string, newTrigger domain.TriggerDetail) (*time.Time, error) {
	current, err := s.jobs.GetTrigger(ctx, triggerKey)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	next, err := nextFireTime(newTrigger, time.Now())
	if err != nil {
		return nil, err
	}

	current.CronExpression = newTrigger.CronExpression
	current.FireOnceAt = newTrigger.FireOnceAt
	current.Description = newTrigger.Description
	current.NextFireAt = next

	if err := s.jobs.SaveTrigger(ctx, *current); err != nil {
		return nil, err
	}

	s.logger.Info("trigger rescheduled",
		"trigger_key", triggerKey,
		"next_fire_at", next,
	)
	return &next, nil
}

// GetAllJobKeysForAccount scans all job groups and filters on the account
// identifier embedded in each job's data map.
func (s *PersistentScheduler) GetAllJobKeysForAccount(ctx context.Context, accountID string) ([]domain.JobKey, error) {
	jobs, err := s.jobs.ListJobs(ctx)
	if err != nil {
		return nil, err
	}

	var keys []domain.JobKey
	for _, job := range jobs {
		if job.AccountID() == accountID {
			keys = append(keys, job.Key)
		}
	}
	return keys, nil
}

func (s *PersistentScheduler) PauseAllForAccount(ctx context.Context, accountID string) error {
	return s.forEachAccountJob(ctx, accountID, func(key domain.JobKey) error {
		_, err := s.PauseJob(ctx, key)
		return err
	})
}

func (s *PersistentScheduler) ResumeAllForAccount(ctx context.Context, accountID string) error {
	return s.forEachAccountJob(ctx, accountID, func(key domain.JobKey) error {
		_, err := s.ResumeJob(ctx, key)
		return err
	})
}

func (s *PersistentScheduler) DeleteAllForAccount(ctx context.Context, accountID string) error {
	return s.forEachAccountJob(ctx, accountID, func(key domain.JobKey) error {
		_, err := s.DeleteJob(ctx, key)
		return err
	})
}

func (s *PersistentScheduler) forEachAccountJob(ctx context.Context, accountID string, fn func(domain.JobKey) error) error {
	keys, err := s.GetAllJobKeysForAccount(ctx, accountID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *PersistentScheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.standby.Load() {
				continue
			}
			s.pollOnce(ctx)
		}
	}
}

// pollOnce fires every due trigger this process manages to claim. A due
// time missed while no process was polling fires once on the next poll
// and then advances; there is no backfill of intermediate fires.
func (s *PersistentScheduler) pollOnce(ctx context.Context) {
	triggers, err := s.jobs.ListTriggers(ctx)
	if err != nil {
		s.logger.Error("failed to list triggers", "error", err.Error())
		return
	}

	now := time.Now()
	for _, trigger := range triggers {
		if trigger.NextFireAt.After(now) {
			continue
		}

		job, err := s.jobs.GetJob(ctx, trigger.JobKey)
		if err != nil {
			s.logger.Error("failed to load job for due trigger",
				"trigger_key", trigger.Key,
				"error", err.Error(),
			)
			continue
		}
		if job == nil || job.State == domain.JobStatePaused {
			continue
		}

		won, err := s.claimer.Claim(ctx, trigger.Key, trigger.NextFireAt)
		if err != nil {
			s.logger.Error("trigger claim failed",
				"trigger_key", trigger.Key,
				"error", err.Error(),
			)
			continue
		}
		if !won {
			continue
		}

		s.fire(ctx, *job, trigger, now)
	}
}

func (s *PersistentScheduler) fire(ctx context.Context, job domain.JobDetail, trigger domain.TriggerDetail, firedAt time.Time) {
	oneShot := trigger.CronExpression == ""

	var next time.Time
	if !oneShot {
		computed, err := nextFireTime(trigger, firedAt)
		if err != nil {
			s.logger.Error("failed to compute next fire time",
				"trigger_key", trigger.Key,
				"error", err.Error(),
			)
			return
		}
		next = computed
	}

	if err := s.jobs.AdvanceTrigger(ctx, trigger.Key, trigger.NextFireAt, next, oneShot); err != nil {
		s.logger.Error("failed to advance trigger",
			"trigger_key", trigger.Key,
			"error", err.Error(),
		)
		return
	}

	s.mu.RLock()
	handler := s.handlers[job.Type]
	s.mu.RUnlock()

	if handler == nil {
		s.logger.Error("no handler registered for job type",
			"job_type", job.Type,
			"job_key", job.Key.String(),
		)
		return
	}

	s.logger.Info("firing job",
		"job_key", job.Key.String(),
		"trigger_key", trigger.Key,
		"scheduled_for", trigger.NextFireAt,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := handler(ctx, job, trigger); err != nil {
			s.logger.Error("job handler failed",
				"job_key", job.Key.String(),
				"trigger_key", trigger.Key,
				"error", err.Error(),
			)
		}
	}()
}

// nextFireTime computes the next due instant after base: the cron
// expression's next occurrence for recurring triggers, the fixed fire
// time for one-shot triggers.
func nextFireTime(trigger domain.TriggerDetail, base time.Time) (time.Time, error) {
	if trigger.CronExpression != "" {
		schedule, err := cron.ParseStandard(trigger.CronExpression)
		if err != nil {
			return time.Time{}, domain.NewValidationError("cron_expression", err.Error())
		}
		return schedule.Next(base), nil
	}
	return trigger.FireOnceAt, nil
}
