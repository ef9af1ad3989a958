package scheduler

import (
	"context"
	"time"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/ports"
)

// NoopScheduler is the null object installed when no scheduler is
// configured. Every mutation succeeds as a no-op so callers never need to
// special-case the deployment topology.
type NoopScheduler struct{}

func NewNoopScheduler() *NoopScheduler {
	return &NoopScheduler{}
}

func (NoopScheduler) Start(context.Context) error { return nil }
func (NoopScheduler) Stop() error                 { return nil }
func (NoopScheduler) Standby() error              { return nil }
func (NoopScheduler) Resume() error               { return nil }

func (NoopScheduler) RegisterHandler(string, ports.JobHandler) {}

func (NoopScheduler) ScheduleJob(context.Context, domain.JobDetail, domain.TriggerDetail) (time.Time, error) {
	return time.Time{}, nil
}

func (NoopScheduler) EnsureJob(context.Context, domain.JobDetail, domain.TriggerDetail) (time.Time, error) {
	return time.Time{}, nil
}

func (NoopScheduler) CheckExists(context.Context, domain.JobKey) (bool, error) {
	return false, nil
}

func (NoopScheduler) DeleteJob(context.Context, domain.JobKey) (bool, error) { return true, nil }
func (NoopScheduler) PauseJob(context.Context, domain.JobKey) (bool, error)  { return true, nil }
func (NoopScheduler) ResumeJob(context.Context, domain.JobKey) (bool, error) { return true, nil }

func (NoopScheduler) RescheduleJob(context.Context, string, domain.TriggerDetail) (*time.Time, error) {
	return nil, nil
}

func (NoopScheduler) GetAllJobKeysForAccount(context.Context, string) ([]domain.JobKey, error) {
	return nil, nil
}

func (NoopScheduler) PauseAllForAccount(context.Context, string) error  { return nil }
func (NoopScheduler) ResumeAllForAccount(context.Context, string) error { return nil }
func (NoopScheduler) DeleteAllForAccount(context.Context, string) error { return nil }
