package events

import (
	"log/slog"
	"sync"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/ports"
)

// Subject is the change-notification broadcast handed to the node
// execution store at construction. Delivery is synchronous in attach
// order; a panicking observer is isolated so it cannot fail the durable
// write that triggered the notification.
type Subject struct {
	logger *slog.Logger

	mu        sync.RWMutex
	observers []ports.ExecutionObserver
}

func NewSubject(logger *slog.Logger) *Subject {
	if logger == nil {
		logger = slog.Default()
	}

	return &Subject{
		logger: logger.With("component", "execution-subject"),
	}
}

func (s *Subject) Attach(observer ports.ExecutionObserver) {
	if observer == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, observer)
}

func (s *Subject) FireStepDetailsUpdate(event domain.StepDetailsUpdateEvent) {
	s.mu.RLock()
	observers := make([]ports.ExecutionObserver, len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for _, observer := range observers {
		s.deliver(func() { observer.OnStepDetailsUpdate(event) })
	}
}

func (s *Subject) FireStepInputsAdd(event domain.StepInputsAddEvent) {
	s.mu.RLock()
	observers := make([]ports.ExecutionObserver, len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for _, observer := range observers {
		s.deliver(func() { observer.OnStepInputsAdd(event) })
	}
}

func (s *Subject) deliver(notify func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer panicked during notification",
				"panic", r)
		}
	}()

	notify()
}
