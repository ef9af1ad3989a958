package ports

import (
	"context"
	"time"

	"github.com/conveyorci/conveyor/internal/domain"
)

// JobHandler executes one firing of a registered job type.
type JobHandler func(ctx context.Context, job domain.JobDetail, trigger domain.TriggerDetail) error

// Scheduler fires recurring or one-shot jobs exactly once across a fleet
// of stateless engine processes. The disabled configuration satisfies the
// same interface with universal successful no-ops, so callers never
// special-case deployment topologies.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop() error

	RegisterHandler(jobType string, handler JobHandler)

	// ScheduleJob registers a job and its trigger and returns the first
	// fire time. A concurrent registration of the same (name, group) is
	// swallowed; the loser silently no-ops.
	ScheduleJob(ctx context.Context, job domain.JobDetail, trigger domain.TriggerDetail) (time.Time, error)

	// EnsureJob reconciles an existing registration against the wanted
	// definition: equal definitions no-op, a changed trigger reschedules,
	// a changed job definition deletes and recreates.
	EnsureJob(ctx context.Context, job domain.JobDetail, trigger domain.TriggerDetail) (time.Time, error)

	CheckExists(ctx context.Context, key domain.JobKey) (bool, error)

	DeleteJob(ctx context.Context, key domain.JobKey) (bool, error)
	PauseJob(ctx context.Context, key domain.JobKey) (bool, error)
	ResumeJob(ctx context.Context, key domain.JobKey) (bool, error)

	RescheduleJob(ctx context.Context, triggerKey string, newTrigger domain.TriggerDetail) (*time.Time, error)

	GetAllJobKeysForAccount(ctx context.Context, accountID string) ([]domain.JobKey, error)
	PauseAllForAccount(ctx context.Context, accountID string) error
	ResumeAllForAccount(ctx context.Context, accountID string) error
	DeleteAllForAccount(ctx context.Context, accountID string) error

	// Standby stops firing new triggers while letting in-flight work
	// finish; Resume picks polling back up. Registered jobs survive both.
	Standby() error
	Resume() error
}
