package conveyor

import (
	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/ports"
)

// Config drives construction of the orchestration core. Zero-valued fields
// are filled by ApplyDefaults during Open/New.
type Config = domain.Config

// ExecutorConfig tunes task dispatch: timeout budgets and the log stream
// key prefix.
type ExecutorConfig = domain.ExecutorConfig

// StoreConfig tunes the durable store: retry policy and default retention.
type StoreConfig = domain.StoreConfig

// SchedulerConfig selects the scheduler mode and its polling cadence.
type SchedulerConfig = domain.SchedulerConfig

// SchedulerMode selects clustered, single-instance, or disabled scheduling.
type SchedulerMode = domain.SchedulerMode

const (
	SchedulerModeSingle    = domain.SchedulerModeSingle
	SchedulerModeClustered = domain.SchedulerModeClustered
	SchedulerModeDisabled  = domain.SchedulerModeDisabled
)

// DefaultConfig returns a config with every tunable at its default. The
// instance id is generated on ApplyDefaults when left empty.
func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

// Dependencies are the external collaborators the core consumes through
// narrow interfaces. Transport and Notifier are required; the rest are
// optional.
type Dependencies struct {
	Transport ports.DelegationTransport
	Notifier  ports.CallbackNotifier
	Logs      ports.LogStreamClient
	Flags     ports.FeatureFlags
	Observers []ports.ExecutionObserver
}
