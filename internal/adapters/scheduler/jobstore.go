package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/ports"
	"github.com/conveyorci/conveyor/internal/xjson"
)

// JobStore persists jobs and triggers in the shared durable store. All
// cross-process coordination happens through single-key atomic updates;
// the only lock taken is the one-time bootstrap lock.
type JobStore struct {
	storage ports.StoragePort
	logger  *slog.Logger
}

func NewJobStore(storage ports.StoragePort, logger *slog.Logger) *JobStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &JobStore{
		storage: storage,
		logger:  logger.With("component", "scheduler-job-store"),
	}
}

const (
	bootstrapLockKey   = "scheduler:bootstrap:lock"
	bootstrapMarkerKey = "scheduler:bootstrap:schema"
	schemaVersion      = "1"
)

// Bootstrap initializes the job-store schema marker exactly once across
// the fleet. Not a hot path; the explicit lock only guards first boot.
func (js *JobStore) Bootstrap(ctx context.Context) error {
	won, err := js.storage.PutIfAbsent(ctx, bootstrapLockKey, []byte(schemaVersion))
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	if err := js.storage.Put(ctx, bootstrapMarkerKey, []byte(schemaVersion)); err != nil {
		return err
	}

	js.logger.Info("scheduler job store bootstrapped", "schema_version", schemaVersion)
	return nil
}

// CreateJob registers a job, resolving creation races to a single winner.
// The loser reports created=false without error escalation.
func (js *JobStore) CreateJob(ctx context.Context, job domain.JobDetail) (created bool, err error) {
	data, err := xjson.Marshal(job)
	if err != nil {
		return false, domain.NewInternalError("failed to marshal job", err)
	}

	return js.storage.PutIfAbsent(ctx, domain.SchedulerJobKey(job.Key), data)
}

func (js *JobStore) GetJob(ctx context.Context, key domain.JobKey) (*domain.JobDetail, error) {
	data, err := js.storage.Get(ctx, domain.SchedulerJobKey(key))
	if err != nil {
		if domain.IsKeyNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	job := &domain.JobDetail{}
	if err := xjson.Unmarshal(data, job); err != nil {
		return nil, domain.NewInternalError("failed to unmarshal job", err)
	}
	return job, nil
}

// UpdateJobState flips a job between scheduled and paused. Reports false
// when the job does not exist.
func (js *JobStore) UpdateJobState(ctx context.Context, key domain.JobKey, state domain.JobState) (bool, error) {
	updated := false

	_, err := js.storage.Update(ctx, domain.SchedulerJobKey(key), func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, ports.ErrSkipUpdate
		}

		job := &domain.JobDetail{}
		if err := xjson.Unmarshal(current, job); err != nil {
			return nil, domain.NewInternalError("failed to unmarshal job", err)
		}

		job.State = state
		updated = true
		return xjson.Marshal(job)
	})
	if err != nil {
		return false, err
	}

	return updated, nil
}

// DeleteJob removes the job and every trigger bound to it.
func (js *JobStore) DeleteJob(ctx context.Context, key domain.JobKey) (bool, error) {
	job, err := js.GetJob(ctx, key)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	triggers, err := js.TriggersForJob(ctx, key)
	if err != nil {
		return false, err
	}

	ops := []ports.Operation{
		{Type: ports.OpDelete, Key: domain.SchedulerJobKey(key)},
	}
	for _, trigger := range triggers {
		ops = append(ops, ports.Operation{
			Type: ports.OpDelete,
			Key:  domain.SchedulerTriggerKey(trigger.Key),
		})
	}

	if err := js.storage.Batch(ctx, ops); err != nil {
		return false, err
	}
	return true, nil
}

// ListJobs scans every job group. Group enumeration rides the key prefix
// layout; no separate group index is needed.
func (js *JobStore) ListJobs(ctx context.Context) ([]domain.JobDetail, error) {
	entries, err := js.storage.List(ctx, domain.SchedulerJobPrefix)
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.JobDetail, 0, len(entries))
	for _, entry := range entries {
		job := domain.JobDetail{}
		if err := xjson.Unmarshal(entry.Value, &job); err != nil {
			js.logger.Error("skipping corrupt job record",
				"key", entry.Key,
				"error", err.Error(),
			)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (js *JobStore) SaveTrigger(ctx context.Context, trigger domain.TriggerDetail) error {
	data, err := xjson.Marshal(trigger)
	if err != nil {
		return domain.NewInternalError("failed to marshal trigger", err)
	}
	return js.storage.Put(ctx, domain.SchedulerTriggerKey(trigger.Key), data)
}

func (js *JobStore) GetTrigger(ctx context.Context, triggerKey string) (*domain.TriggerDetail, error) {
	data, err := js.storage.Get(ctx, domain.SchedulerTriggerKey(triggerKey))
	if err != nil {
		if domain.IsKeyNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	trigger := &domain.TriggerDetail{}
	if err := xjson.Unmarshal(data, trigger); err != nil {
		return nil, domain.NewInternalError("failed to unmarshal trigger", err)
	}
	return trigger, nil
}

func (js *JobStore) DeleteTrigger(ctx context.Context, triggerKey string) error {
	return js.storage.Delete(ctx, domain.SchedulerTriggerKey(triggerKey))
}

// ListTriggers returns every registered trigger; the poll loop filters
// for due ones.
func (js *JobStore) ListTriggers(ctx context.Context) ([]domain.TriggerDetail, error) {
	entries, err := js.storage.List(ctx, domain.SchedulerTriggerPrefix)
	if err != nil {
		return nil, err
	}

	triggers := make([]domain.TriggerDetail, 0, len(entries))
	for _, entry := range entries {
		trigger := domain.TriggerDetail{}
		if err := xjson.Unmarshal(entry.Value, &trigger); err != nil {
			js.logger.Error("skipping corrupt trigger record",
				"key", entry.Key,
				"error", err.Error(),
			)
			continue
		}
		triggers = append(triggers, trigger)
	}
	return triggers, nil
}

func (js *JobStore) TriggersForJob(ctx context.Context, key domain.JobKey) ([]domain.TriggerDetail, error) {
	triggers, err := js.ListTriggers(ctx)
	if err != nil {
		return nil, err
	}

	var bound []domain.TriggerDetail
	for _, trigger := range triggers {
		if trigger.JobKey == key {
			bound = append(bound, trigger)
		}
	}
	return bound, nil
}

// AdvanceTrigger conditionally moves a trigger past a fired due time. The
// update no-ops when another process already advanced it, which keeps the
// advance idempotent under racing pollers.
func (js *JobStore) AdvanceTrigger(ctx context.Context, triggerKey string, firedAt time.Time, next time.Time, oneShot bool) error {
	if oneShot {
		return js.DeleteTrigger(ctx, triggerKey)
	}

	_, err := js.storage.Update(ctx, domain.SchedulerTriggerKey(triggerKey), func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, ports.ErrSkipUpdate
		}

		trigger := &domain.TriggerDetail{}
		if err := xjson.Unmarshal(current, trigger); err != nil {
			return nil, domain.NewInternalError("failed to unmarshal trigger", err)
		}

		if trigger.NextFireAt.After(firedAt) {
			return nil, ports.ErrSkipUpdate
		}

		trigger.PrevFireAt = firedAt
		trigger.NextFireAt = next
		return xjson.Marshal(trigger)
	})
	return err
}
