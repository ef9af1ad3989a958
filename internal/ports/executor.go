package ports

import (
	"context"
	"time"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/xjson"
)

// StepContext identifies one node execution and carries the enclosing
// scope's timeout budget. ScopeStartedAt is the start of the scope, not of
// this step, so retried or resumed steps inherit the shrinking remainder.
type StepContext struct {
	NodeExecutionID string
	PlanExecutionID string
	AccountID       string

	StrategyMetadata *domain.StrategyMetadata

	ScopeStartedAt time.Time
	ScopeTimeout   time.Duration
}

// TaskRequest is one remote dispatch a step spec asks for. A step may
// request several under one invocation, for example a parked
// capacity-reservation task next to the real work task.
type TaskRequest struct {
	Payload TaskPayload
	LogKey  string
}

// ResponseData is one remote response correlated back by callback id.
type ResponseData struct {
	Status       domain.Status    `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Data         xjson.RawMessage `json:"data,omitempty"`
}

// StepOutcome is the terminal result of one step invocation, handed back
// to the enclosing engine loop.
type StepOutcome struct {
	Status         domain.Status    `json:"status"`
	FailureMessage string           `json:"failure_message,omitempty"`
	Outputs        xjson.RawMessage `json:"outputs,omitempty"`
}

// StepSpec is the tagged-variant descriptor a step kind implements. Kind
// selection happens on Type; there is no inheritance chain behind it.
type StepSpec interface {
	Type() string
	BuildTaskRequests(ctx context.Context, sctx StepContext) ([]TaskRequest, error)
	ProduceOutcome(ctx context.Context, sctx StepContext, responses map[string]ResponseData) (*StepOutcome, error)
}

// AsyncExecutableResponse is what Start hands back so the enclosing engine
// can register callbacks for resumption. No thread is held afterwards.
type AsyncExecutableResponse struct {
	CallbackIDs []string
	LogKeys     []string
}

type AsyncStepExecutor interface {
	Start(ctx context.Context, sctx StepContext, spec StepSpec) (*AsyncExecutableResponse, error)
	OnCallback(ctx context.Context, sctx StepContext, allCallbackIDs []string, resolvedID string, response ResponseData) error
	Finish(ctx context.Context, sctx StepContext, spec StepSpec, responses map[string]ResponseData) (*StepOutcome, error)
	Abort(ctx context.Context, sctx StepContext) error
}
