package domain

import (
	"time"

	"github.com/conveyorci/conveyor/internal/xjson"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusAborted   Status = "aborted"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether a remote response with this status ends the
// step invocation. Terminal failure triggers sibling aborts.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusAborted, StatusExpired:
		return true
	}
	return false
}

func (s Status) IsFailure() bool {
	switch s {
	case StatusFailed, StatusAborted, StatusExpired:
		return true
	}
	return false
}

// StepDetail is one named opaque detail blob attached to a node execution.
// Insertion order is preserved so progress snapshots replay in the order
// they were durably applied.
type StepDetail struct {
	Name  string           `json:"name"`
	Value xjson.RawMessage `json:"value"`
}

// ConcurrentChildInstance tracks bounded-concurrency fan-out for a node.
// Cursor is monotonically non-decreasing; ChildStatuses grows by one per
// increment, in the order increments were durably applied.
type ConcurrentChildInstance struct {
	Cursor        int      `json:"cursor"`
	ChildStatuses []Status `json:"child_statuses"`
}

// NodeExecutionRecord is the durable record for one executing graph node.
// The record id is immutable and globally unique; a retry of the owning
// node produces a fresh record under a new id via CopyForRetry.
type NodeExecutionRecord struct {
	NodeExecutionID string           `json:"node_execution_id"`
	PlanExecutionID string           `json:"plan_execution_id"`
	ResolvedInputs  xjson.RawMessage `json:"resolved_inputs,omitempty"`
	StepDetails     []StepDetail     `json:"step_details,omitempty"`

	StrategyMetadata        *StrategyMetadata        `json:"strategy_metadata,omitempty"`
	ConcurrentChildInstance *ConcurrentChildInstance `json:"concurrent_child_instance,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// DetailByName returns the named detail blob, or nil when absent. Absence
// is not a failure condition on read paths.
func (r *NodeExecutionRecord) DetailByName(name string) xjson.RawMessage {
	for _, d := range r.StepDetails {
		if d.Name == name {
			return d.Value
		}
	}
	return nil
}

// UpsertDetail applies last-write-wins per name while the set of names
// grows by union.
func (r *NodeExecutionRecord) UpsertDetail(name string, value xjson.RawMessage) {
	for i, d := range r.StepDetails {
		if d.Name == name {
			r.StepDetails[i].Value = value
			return
		}
	}
	r.StepDetails = append(r.StepDetails, StepDetail{Name: name, Value: value})
}

func (r *NodeExecutionRecord) Validate() error {
	if r.NodeExecutionID == "" {
		return NewValidationError("node_execution_id", "cannot be empty")
	}
	if r.PlanExecutionID == "" {
		return NewValidationError("plan_execution_id", "cannot be empty")
	}
	return nil
}
