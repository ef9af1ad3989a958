// Package conveyor provides the asynchronous node-execution orchestration
// core of a continuous-delivery pipeline engine. It covers three concerns:
//   - dispatching long-running step work to remote executors without
//     blocking, correlated back by callback ids
//   - durably tracking state, inputs, and fan-out concurrency of every
//     executing pipeline node
//   - a persistence-backed scheduler that fires recurring jobs exactly
//     once across a fleet of stateless engine processes
//
// Basic usage:
//
//	orch, err := conveyor.Open(cfg, conveyor.Dependencies{
//	    Transport: transport,
//	    Notifier:  notifier,
//	})
//	resp, err := orch.Executor().Start(ctx, stepCtx, spec)
//	// register resp.CallbackIDs with the engine loop, resume on events
package conveyor

import (
	"context"
	"log/slog"

	"github.com/dgraph-io/badger/v3"

	"github.com/conveyorci/conveyor/internal/adapters/events"
	"github.com/conveyorci/conveyor/internal/adapters/execstore"
	executoradapter "github.com/conveyorci/conveyor/internal/adapters/executor"
	scheduleradapter "github.com/conveyorci/conveyor/internal/adapters/scheduler"
	"github.com/conveyorci/conveyor/internal/adapters/storage"
	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/ports"
)

// StepContext identifies one node execution and its scope timeout budget.
type StepContext = ports.StepContext

// StepSpec is the tagged-variant descriptor implemented per step kind.
type StepSpec = ports.StepSpec

// StepOutcome is the terminal result handed back to the engine loop.
type StepOutcome = ports.StepOutcome

// ResponseData is one remote response correlated back by callback id.
type ResponseData = ports.ResponseData

// TaskRequest is one remote dispatch requested by a step spec.
type TaskRequest = ports.TaskRequest

// TaskPayload is the opaque unit of work handed to the transport.
type TaskPayload = ports.TaskPayload

// JobDetail and TriggerDetail describe one scheduled unit of work.
type JobDetail = domain.JobDetail
type TriggerDetail = domain.TriggerDetail
type JobKey = domain.JobKey

// StrategyMetadata places a node within a matrix/loop/parallel expansion.
type StrategyMetadata = domain.StrategyMetadata

// StrategyLevel is one scope level in a nested strategy chain.
type StrategyLevel = domain.StrategyLevel

// AsyncExecutableResponse carries the callback ids to register after Start.
type AsyncExecutableResponse = ports.AsyncExecutableResponse

// StepDetail is one named opaque detail blob on a node execution.
type StepDetail = domain.StepDetail

// ConcurrentChildInstance tracks bounded-concurrency fan-out state.
type ConcurrentChildInstance = domain.ConcurrentChildInstance

// Status classifies node execution and remote response states.
type Status = domain.Status

const (
	StatusQueued    = domain.StatusQueued
	StatusRunning   = domain.StatusRunning
	StatusSucceeded = domain.StatusSucceeded
	StatusFailed    = domain.StatusFailed
	StatusSkipped   = domain.StatusSkipped
	StatusAborted   = domain.StatusAborted
	StatusExpired   = domain.StatusExpired
)

// JobState is a scheduled job's pause state.
type JobState = domain.JobState

const (
	JobStateScheduled = domain.JobStateScheduled
	JobStatePaused    = domain.JobStatePaused
)

// Consumer-side collaborator interfaces, aliased so callers can implement
// them without reaching into internal packages.
type (
	AsyncStepExecutor   = ports.AsyncStepExecutor
	NodeExecutionStore  = ports.NodeExecutionStore
	Scheduler           = ports.Scheduler
	JobHandler          = ports.JobHandler
	DelegationTransport = ports.DelegationTransport
	CallbackNotifier    = ports.CallbackNotifier
	LogStreamClient     = ports.LogStreamClient
	FeatureFlags        = ports.FeatureFlags
	ExecutionObserver   = ports.ExecutionObserver
)

// MatrixAxisNamesAsKeysFlag gates, per account, whether matrix axis values
// resolve under their axis names instead of a nested "matrix" map.
const MatrixAxisNamesAsKeysFlag = "matrix_axis_names_as_keys"

// Orchestrator wires the executor, the node execution store, and the
// scheduler over one durable store.
type Orchestrator struct {
	config    *domain.Config
	logger    *slog.Logger
	db        *badger.DB
	storage   ports.StoragePort
	store     *execstore.Store
	executor  *executoradapter.StepExecutor
	scheduler ports.Scheduler
	flags     ports.FeatureFlags
}

// Open builds the orchestration core on a badger database at
// cfg.DataDir. The scheduler mode in cfg selects clustered,
// single-instance, or the disabled null object.
func Open(cfg *Config, deps Dependencies) (*Orchestrator, error) {
	if cfg == nil {
		cfg = domain.DefaultConfig()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, domain.NewValidationError("transport", "cannot be nil")
	}
	if deps.Notifier == nil {
		return nil, domain.NewValidationError("notifier", "cannot be nil")
	}

	opts := badger.DefaultOptions(cfg.DataDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return New(cfg, db, deps)
}

// New builds the orchestration core on an already-open badger database.
// The caller keeps ownership of nothing; Close tears the database down.
func New(cfg *Config, db *badger.DB, deps Dependencies) (*Orchestrator, error) {
	cfg.ApplyDefaults()

	store := storage.NewBadgerStore(db, cfg.Store, cfg.Logger)

	subject := events.NewSubject(cfg.Logger)
	for _, observer := range deps.Observers {
		subject.Attach(observer)
	}

	execStore := execstore.NewStore(store, subject, cfg.Store, cfg.Logger)

	stepExecutor := executoradapter.NewStepExecutor(
		deps.Transport,
		deps.Notifier,
		execStore,
		deps.Logs,
		cfg.Executor,
		cfg.Logger,
	)

	var sched ports.Scheduler
	if cfg.Scheduler.Mode == domain.SchedulerModeDisabled {
		sched = scheduleradapter.NewNoopScheduler()
	} else {
		sched = scheduleradapter.NewPersistentScheduler(store, cfg.Scheduler, cfg.InstanceID, cfg.Logger)
	}

	return &Orchestrator{
		config:    cfg,
		logger:    cfg.Logger.With("component", "orchestrator"),
		db:        db,
		storage:   store,
		store:     execStore,
		executor:  stepExecutor,
		scheduler: sched,
		flags:     deps.Flags,
	}, nil
}

// StrategyContext resolves the flattened strategy variable map for a chain
// of nested scope levels, honoring the account's axis-naming flag.
func (o *Orchestrator) StrategyContext(ctx context.Context, accountID string, levels []StrategyLevel) (map[string]interface{}, error) {
	useAxisNames := o.flags != nil && o.flags.IsEnabled(MatrixAxisNamesAsKeysFlag, accountID)
	return o.store.ResolveStrategyContext(ctx, levels, useAxisNames)
}

// Start brings up the scheduler poll loop. The executor and store need no
// background work of their own.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.scheduler.Start(ctx)
}

func (o *Orchestrator) Executor() ports.AsyncStepExecutor {
	return o.executor
}

func (o *Orchestrator) ExecutionStore() ports.NodeExecutionStore {
	return o.store
}

func (o *Orchestrator) Scheduler() ports.Scheduler {
	return o.scheduler
}

func (o *Orchestrator) Close() error {
	if err := o.scheduler.Stop(); err != nil && err != domain.ErrNotStarted {
		o.logger.Error("scheduler stop failed", "error", err.Error())
	}
	return o.storage.Close()
}
