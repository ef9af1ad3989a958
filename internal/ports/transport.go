package ports

import (
	"context"
	"time"

	"github.com/conveyorci/conveyor/internal/xjson"
)

// TaskPayload is the opaque unit of remote work handed to the delegation
// transport. The transport owns queueing, capability matching, and its own
// retry policy; submission failures surface to the caller unretried.
type TaskPayload struct {
	TaskType     string           `json:"task_type"`
	Data         xjson.RawMessage `json:"data,omitempty"`
	Capabilities []string         `json:"capabilities,omitempty"`
	AccountID    string           `json:"account_id"`
	Timeout      time.Duration    `json:"timeout"`

	// Parked marks a capacity-reservation task that holds a worker slot
	// for a sibling work task of the same step invocation.
	Parked bool `json:"parked,omitempty"`
}

// DelegationTransport is the external collaborator that carries tasks to
// remote workers. The task id it returns doubles as the callback id the
// enclosing engine registers for resumption.
type DelegationTransport interface {
	Submit(ctx context.Context, payload TaskPayload) (taskID string, err error)
	Cancel(ctx context.Context, taskID string) error
}

// CallbackNotifier delivers a response to a registered callback id. The
// executor uses it to push synthetic failures at outstanding siblings so no
// callback is left permanently unresolved.
type CallbackNotifier interface {
	Notify(ctx context.Context, callbackID string, response ResponseData) error
}
