package domain

import (
	"time"

	"github.com/conveyorci/conveyor/internal/xjson"
)

// StepDetailsUpdateEvent is broadcast after a named step detail has been
// durably applied to a node execution record. Events for one node are
// emitted in the order the attachments were applied.
type StepDetailsUpdateEvent struct {
	NodeExecutionID string           `json:"node_execution_id"`
	PlanExecutionID string           `json:"plan_execution_id"`
	Name            string           `json:"name"`
	Detail          xjson.RawMessage `json:"detail"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// StepInputsAddEvent is broadcast when resolved inputs are attached to a
// node execution, including the fresh attach performed by a retry copy.
type StepInputsAddEvent struct {
	NodeExecutionID string           `json:"node_execution_id"`
	PlanExecutionID string           `json:"plan_execution_id"`
	Inputs          xjson.RawMessage `json:"inputs"`
	AddedAt         time.Time        `json:"added_at"`
}
