package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/ports"
	"github.com/conveyorci/conveyor/internal/xjson"
)

// SyntheticFailureMessage is pushed at outstanding sibling callbacks once
// one callback of the same dispatch resolves with terminal failure, so no
// callback is left permanently unresolved.
const SyntheticFailureMessage = "could not reach remote worker"

// StepExecutor drives the per-node async protocol: it dispatches remote
// tasks, returns immediately with callback ids, and correlates responses
// as they arrive. No thread is held across the remote round trip.
type StepExecutor struct {
	transport ports.DelegationTransport
	notifier  ports.CallbackNotifier
	store     ports.NodeExecutionStore
	logs      ports.LogStreamClient
	logger    *slog.Logger
	config    domain.ExecutorConfig

	mu           sync.Mutex
	correlations map[string]*correlation
}

// correlation is the transient accumulator for one logical step
// invocation: which callbacks were issued and which siblings already
// received a synthetic failure.
type correlation struct {
	callbackIDs []string
	logKeys     []string
	notified    map[string]bool
}

func NewStepExecutor(
	transport ports.DelegationTransport,
	notifier ports.CallbackNotifier,
	store ports.NodeExecutionStore,
	logs ports.LogStreamClient,
	cfg domain.ExecutorConfig,
	logger *slog.Logger,
) *StepExecutor {
	if logger == nil {
		logger = slog.Default()
	}

	return &StepExecutor{
		transport:    transport,
		notifier:     notifier,
		store:        store,
		logs:         logs,
		logger:       logger.With("component", "step-executor"),
		config:       cfg,
		correlations: make(map[string]*correlation),
	}
}

// Start builds the step's remote task payloads, persists the started
// record, submits every task, and returns the callback ids the enclosing
// engine must register for resumption. Submission failures surface the
// transport's own error unretried; retries belong to the transport.
func (e *StepExecutor) Start(ctx context.Context, sctx ports.StepContext, spec ports.StepSpec) (*ports.AsyncExecutableResponse, error) {
	if spec == nil {
		return nil, domain.NewValidationError("step_spec", "cannot be nil")
	}

	requests, err := spec.BuildTaskRequests(ctx, sctx)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, domain.NewValidationError("task_requests", "step spec produced no tasks")
	}

	if err := e.store.Initialize(ctx, sctx.NodeExecutionID, sctx.PlanExecutionID, sctx.StrategyMetadata); err != nil {
		return nil, err
	}

	timeout := RemainingTimeout(sctx, e.config)

	response := &ports.AsyncExecutableResponse{}
	for _, request := range requests {
		payload := request.Payload
		payload.AccountID = sctx.AccountID
		payload.Timeout = timeout

		taskID, err := e.transport.Submit(ctx, payload)
		if err != nil {
			e.logger.Error("task submission failed",
				"node_execution_id", sctx.NodeExecutionID,
				"task_type", payload.TaskType,
				"error", err.Error(),
			)
			e.cancelSubmitted(ctx, response.CallbackIDs)
			return nil, err
		}

		response.CallbackIDs = append(response.CallbackIDs, taskID)
		response.LogKeys = append(response.LogKeys, request.LogKey)
	}

	e.mu.Lock()
	e.correlations[sctx.NodeExecutionID] = &correlation{
		callbackIDs: response.CallbackIDs,
		logKeys:     response.LogKeys,
		notified:    make(map[string]bool),
	}
	e.mu.Unlock()

	e.logger.Debug("step dispatched",
		"node_execution_id", sctx.NodeExecutionID,
		"step_type", spec.Type(),
		"callback_count", len(response.CallbackIDs),
		"timeout", timeout,
	)

	return response, nil
}

// OnCallback absorbs one arriving remote response. A terminal failure or
// an explicit skip aborts every other outstanding callback of the same
// dispatch with a synthetic failure, exactly once per sibling.
func (e *StepExecutor) OnCallback(ctx context.Context, sctx ports.StepContext, allCallbackIDs []string, resolvedID string, response ports.ResponseData) error {
	if resolvedID == "" {
		return domain.NewValidationError("callback_id", "cannot be empty")
	}

	terminal := response.Status.IsFailure() || response.Status == domain.StatusSkipped
	if !terminal {
		e.logger.Debug("partial response absorbed",
			"node_execution_id", sctx.NodeExecutionID,
			"callback_id", resolvedID,
			"status", response.Status,
		)
		return nil
	}

	e.logger.Info("terminal response received, aborting siblings",
		"node_execution_id", sctx.NodeExecutionID,
		"callback_id", resolvedID,
		"status", response.Status,
		"error_message", response.ErrorMessage,
	)

	siblings := e.pendingSiblings(sctx.NodeExecutionID, allCallbackIDs, resolvedID)

	for _, siblingID := range siblings {
		synthetic := ports.ResponseData{
			Status:       domain.StatusFailed,
			ErrorMessage: SyntheticFailureMessage,
		}
		if err := e.notifier.Notify(ctx, siblingID, synthetic); err != nil {
			e.logger.Error("failed to deliver synthetic failure",
				"node_execution_id", sctx.NodeExecutionID,
				"callback_id", siblingID,
				"error", err.Error(),
			)
		}
	}

	return nil
}

// pendingSiblings returns the callbacks that still need a synthetic
// failure and marks them notified under the lock, so racing callbacks for
// the same dispatch cannot double-notify a sibling.
func (e *StepExecutor) pendingSiblings(nodeExecutionID string, allCallbackIDs []string, resolvedID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	corr := e.correlations[nodeExecutionID]
	if corr == nil {
		// Resumed on a fresh process; correlation state did not survive,
		// but the callback set travels with the event.
		corr = &correlation{
			callbackIDs: allCallbackIDs,
			notified:    make(map[string]bool),
		}
		e.correlations[nodeExecutionID] = corr
	}
	corr.notified[resolvedID] = true

	var siblings []string
	for _, id := range allCallbackIDs {
		if id == resolvedID || corr.notified[id] {
			continue
		}
		corr.notified[id] = true
		siblings = append(siblings, id)
	}

	return siblings
}

// Finish produces the terminal outcome once every expected callback has
// resolved, and releases the transient correlation state.
func (e *StepExecutor) Finish(ctx context.Context, sctx ports.StepContext, spec ports.StepSpec, responses map[string]ports.ResponseData) (*ports.StepOutcome, error) {
	defer func() {
		e.mu.Lock()
		delete(e.correlations, sctx.NodeExecutionID)
		e.mu.Unlock()
	}()

	for callbackID, response := range responses {
		if response.Status.IsFailure() {
			e.logger.Info("step failed",
				"node_execution_id", sctx.NodeExecutionID,
				"callback_id", callbackID,
				"error_message", response.ErrorMessage,
			)
			// The remote failure message is preserved verbatim for
			// operator visibility.
			return &ports.StepOutcome{
				Status:         domain.StatusFailed,
				FailureMessage: response.ErrorMessage,
			}, nil
		}
		if response.Status == domain.StatusSkipped {
			return &ports.StepOutcome{Status: domain.StatusSkipped}, nil
		}
	}

	outcome, err := spec.ProduceOutcome(ctx, sctx, responses)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("step finished",
		"node_execution_id", sctx.NodeExecutionID,
		"status", outcome.Status,
	)

	return outcome, nil
}

// Abort handles external cancellation. Safe to call when no remote task
// was ever dispatched; already-dispatched work is cancelled best-effort
// and left to complete or time out remotely.
func (e *StepExecutor) Abort(ctx context.Context, sctx ports.StepContext) error {
	e.mu.Lock()
	corr := e.correlations[sctx.NodeExecutionID]
	delete(e.correlations, sctx.NodeExecutionID)
	e.mu.Unlock()

	if corr == nil {
		return nil
	}

	e.cancelSubmitted(ctx, corr.callbackIDs)

	detail, _ := xjson.Marshal(map[string]interface{}{
		"aborted_at": time.Now(),
	})
	if err := e.store.AttachStepDetail(ctx, sctx.NodeExecutionID, "abort", detail); err != nil {
		e.logger.Error("failed to record abort detail",
			"node_execution_id", sctx.NodeExecutionID,
			"error", err.Error(),
		)
	}

	if e.logs != nil {
		prefix := e.config.LogStreamPrefix + "/" + sctx.NodeExecutionID
		if err := e.logs.CloseAllOpenStreamsWithPrefix(ctx, prefix); err != nil {
			// Cleanup failure never re-fails an execution.
			e.logger.Error("failed to close log streams",
				"node_execution_id", sctx.NodeExecutionID,
				"prefix", prefix,
				"error", err.Error(),
			)
		}
	}

	return nil
}

func (e *StepExecutor) cancelSubmitted(ctx context.Context, taskIDs []string) {
	for _, taskID := range taskIDs {
		if err := e.transport.Cancel(ctx, taskID); err != nil {
			e.logger.Error("failed to cancel dispatched task",
				"task_id", taskID,
				"error", err.Error(),
			)
		}
	}
}
