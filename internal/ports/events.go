package ports

import (
	"github.com/conveyorci/conveyor/internal/domain"
)

// ExecutionObserver receives change notifications from the node execution
// store. Observers are registered at store construction; there is no
// global registry.
type ExecutionObserver interface {
	OnStepDetailsUpdate(event domain.StepDetailsUpdateEvent)
	OnStepInputsAdd(event domain.StepInputsAddEvent)
}

// ExecutionSubject is the broadcast side handed to the store. This core
// only fires notifications; delivery is the subject's concern.
type ExecutionSubject interface {
	Attach(observer ExecutionObserver)
	FireStepDetailsUpdate(event domain.StepDetailsUpdateEvent)
	FireStepInputsAdd(event domain.StepInputsAddEvent)
}
