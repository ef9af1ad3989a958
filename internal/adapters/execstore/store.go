package execstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/ports"
	"github.com/conveyorci/conveyor/internal/xjson"
)

// Store is the durable node-execution state store. Every mutation is one
// store-level atomic update; cursor increments serialize on the record key.
type Store struct {
	storage ports.StoragePort
	subject ports.ExecutionSubject
	logger  *slog.Logger

	defaultRetention time.Duration
}

func NewStore(storage ports.StoragePort, subject ports.ExecutionSubject, cfg domain.StoreConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		storage:          storage,
		subject:          subject,
		logger:           logger.With("component", "node-execution-store"),
		defaultRetention: cfg.DefaultRetention,
	}
}

// Initialize creates the record for a node that has begun execution.
// Callers guarantee single creation per node; inputs may arrive later.
func (s *Store) Initialize(ctx context.Context, nodeExecutionID, planExecutionID string, metadata *domain.StrategyMetadata) error {
	record := &domain.NodeExecutionRecord{
		NodeExecutionID:  nodeExecutionID,
		PlanExecutionID:  planExecutionID,
		StrategyMetadata: metadata,
		CreatedAt:        time.Now(),
	}
	if err := record.Validate(); err != nil {
		return err
	}

	validUntil := record.CreatedAt.Add(s.defaultRetention)
	record.ValidUntil = &validUntil

	data, err := xjson.Marshal(record)
	if err != nil {
		return domain.NewInternalError("failed to marshal node execution record", err)
	}

	if err := s.storage.Put(ctx, domain.NodeExecutionKey(nodeExecutionID), data); err != nil {
		return err
	}

	indexKey := domain.NodeExecutionPlanIndexKey(planExecutionID, nodeExecutionID)
	if err := s.storage.Put(ctx, indexKey, []byte(nodeExecutionID)); err != nil {
		return err
	}

	s.logger.Debug("node execution initialized",
		"node_execution_id", nodeExecutionID,
		"plan_execution_id", planExecutionID,
		"has_strategy", metadata != nil,
	)

	return nil
}

// AttachStepDetail appends or replaces the named detail. Concurrent
// callers attaching different names race safely: each attachment is one
// atomic read-modify-write on the record key.
func (s *Store) AttachStepDetail(ctx context.Context, nodeExecutionID, name string, detail xjson.RawMessage) error {
	if name == "" {
		return domain.NewValidationError("step_detail_name", "cannot be empty")
	}

	var planExecutionID string

	_, err := s.storage.Update(ctx, domain.NodeExecutionKey(nodeExecutionID), func(current []byte, exists bool) ([]byte, error) {
		record := &domain.NodeExecutionRecord{NodeExecutionID: nodeExecutionID}
		if exists {
			if err := xjson.Unmarshal(current, record); err != nil {
				return nil, domain.NewInternalError("failed to unmarshal node execution record", err)
			}
		}

		record.UpsertDetail(name, xjson.Clone(detail))
		planExecutionID = record.PlanExecutionID

		return xjson.Marshal(record)
	})
	if err != nil {
		return err
	}

	s.subject.FireStepDetailsUpdate(domain.StepDetailsUpdateEvent{
		NodeExecutionID: nodeExecutionID,
		PlanExecutionID: planExecutionID,
		Name:            name,
		Detail:          detail,
		UpdatedAt:       time.Now(),
	})

	return nil
}

// AttachResolvedInputs sets the resolved parameter bag once. A second
// attach on the same record is absorbed without a write or notification;
// inputs are immutable once the step runs, except via CopyForRetry.
func (s *Store) AttachResolvedInputs(ctx context.Context, nodeExecutionID string, inputs xjson.RawMessage) error {
	var planExecutionID string
	attached := false

	_, err := s.storage.Update(ctx, domain.NodeExecutionKey(nodeExecutionID), func(current []byte, exists bool) ([]byte, error) {
		record := &domain.NodeExecutionRecord{NodeExecutionID: nodeExecutionID}
		if exists {
			if err := xjson.Unmarshal(current, record); err != nil {
				return nil, domain.NewInternalError("failed to unmarshal node execution record", err)
			}
		}

		if len(record.ResolvedInputs) > 0 {
			return nil, ports.ErrSkipUpdate
		}

		record.ResolvedInputs = xjson.Clone(inputs)
		planExecutionID = record.PlanExecutionID
		attached = true

		return xjson.Marshal(record)
	})
	if err != nil {
		return err
	}

	if attached {
		s.subject.FireStepInputsAdd(domain.StepInputsAddEvent{
			NodeExecutionID: nodeExecutionID,
			PlanExecutionID: planExecutionID,
			Inputs:          inputs,
			AddedAt:         time.Now(),
		})
	}

	return nil
}

// GetResolvedInputs returns an empty bag when the record or its inputs
// are absent. Absence of history is not a failure condition.
func (s *Store) GetResolvedInputs(ctx context.Context, nodeExecutionID string) (xjson.RawMessage, error) {
	record, err := s.load(ctx, nodeExecutionID)
	if err != nil {
		return nil, err
	}
	if record == nil || len(record.ResolvedInputs) == 0 {
		return xjson.RawMessage("{}"), nil
	}
	return record.ResolvedInputs, nil
}

func (s *Store) GetStepDetails(ctx context.Context, nodeExecutionID string) ([]domain.StepDetail, error) {
	record, err := s.load(ctx, nodeExecutionID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	return record.StepDetails, nil
}

// CopyForRetry duplicates step details, resolved inputs, and strategy
// metadata under a new node identity. The copy is deep; later mutation of
// the original leaves the copy untouched.
func (s *Store) CopyForRetry(ctx context.Context, originalID, newID, planExecutionID string) error {
	original, err := s.load(ctx, originalID)
	if err != nil {
		return err
	}
	if original == nil {
		return domain.NewNotFoundError("node execution", originalID)
	}

	now := time.Now()
	validUntil := now.Add(s.defaultRetention)

	copied := &domain.NodeExecutionRecord{
		NodeExecutionID: newID,
		PlanExecutionID: planExecutionID,
		ResolvedInputs:  xjson.Clone(original.ResolvedInputs),
		CreatedAt:       now,
		ValidUntil:      &validUntil,
	}
	for _, detail := range original.StepDetails {
		copied.StepDetails = append(copied.StepDetails, domain.StepDetail{
			Name:  detail.Name,
			Value: xjson.Clone(detail.Value),
		})
	}
	if original.StrategyMetadata != nil {
		metadata := *original.StrategyMetadata
		metadata.LoopItem = xjson.Clone(original.StrategyMetadata.LoopItem)
		if original.StrategyMetadata.MatrixValues != nil {
			metadata.MatrixValues = make(map[string]string, len(original.StrategyMetadata.MatrixValues))
			for axis, value := range original.StrategyMetadata.MatrixValues {
				metadata.MatrixValues[axis] = value
			}
		}
		copied.StrategyMetadata = &metadata
	}

	data, err := xjson.Marshal(copied)
	if err != nil {
		return domain.NewInternalError("failed to marshal retry copy", err)
	}

	ops := []ports.Operation{
		{Type: ports.OpPut, Key: domain.NodeExecutionKey(newID), Value: data},
		{Type: ports.OpPut, Key: domain.NodeExecutionPlanIndexKey(planExecutionID, newID), Value: []byte(newID)},
	}
	if err := s.storage.Batch(ctx, ops); err != nil {
		return err
	}

	s.logger.Debug("node execution copied for retry",
		"original_id", originalID,
		"new_id", newID,
		"plan_execution_id", planExecutionID,
	)

	s.subject.FireStepInputsAdd(domain.StepInputsAddEvent{
		NodeExecutionID: newID,
		PlanExecutionID: planExecutionID,
		Inputs:          copied.ResolvedInputs,
		AddedAt:         now,
	})

	return nil
}

// RecordConcurrencyCursor seeds the fan-out instance for a node that runs
// bounded-concurrency children.
func (s *Store) RecordConcurrencyCursor(ctx context.Context, nodeExecutionID string, instance domain.ConcurrentChildInstance) error {
	_, err := s.storage.Update(ctx, domain.NodeExecutionKey(nodeExecutionID), func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, domain.NewNotFoundError("node execution", nodeExecutionID)
		}

		record := &domain.NodeExecutionRecord{}
		if err := xjson.Unmarshal(current, record); err != nil {
			return nil, domain.NewInternalError("failed to unmarshal node execution record", err)
		}

		record.ConcurrentChildInstance = &instance
		return xjson.Marshal(record)
	})
	return err
}

// IncrementCursor atomically advances the cursor by one and appends the
// child status in the same store-level update. A missing record yields a
// nil instance, not an error; the caller treats it as nothing to report.
func (s *Store) IncrementCursor(ctx context.Context, nodeExecutionID string, childStatus domain.Status) (*domain.ConcurrentChildInstance, error) {
	var result *domain.ConcurrentChildInstance

	_, err := s.storage.Update(ctx, domain.NodeExecutionKey(nodeExecutionID), func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, ports.ErrSkipUpdate
		}

		record := &domain.NodeExecutionRecord{}
		if err := xjson.Unmarshal(current, record); err != nil {
			return nil, domain.NewInternalError("failed to unmarshal node execution record", err)
		}

		if record.ConcurrentChildInstance == nil {
			record.ConcurrentChildInstance = &domain.ConcurrentChildInstance{}
		}
		record.ConcurrentChildInstance.Cursor++
		record.ConcurrentChildInstance.ChildStatuses = append(record.ConcurrentChildInstance.ChildStatuses, childStatus)

		snapshot := *record.ConcurrentChildInstance
		snapshot.ChildStatuses = append([]domain.Status(nil), record.ConcurrentChildInstance.ChildStatuses...)
		result = &snapshot

		return xjson.Marshal(record)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// DeleteForIDs removes records and their plan-index entries in bulk.
// An empty id set is a no-op.
func (s *Store) DeleteForIDs(ctx context.Context, nodeExecutionIDs []string) error {
	if len(nodeExecutionIDs) == 0 {
		return nil
	}

	ops := make([]ports.Operation, 0, len(nodeExecutionIDs)*2)
	for _, id := range nodeExecutionIDs {
		record, err := s.load(ctx, id)
		if err != nil {
			return err
		}

		ops = append(ops, ports.Operation{Type: ports.OpDelete, Key: domain.NodeExecutionKey(id)})
		if record != nil && record.PlanExecutionID != "" {
			ops = append(ops, ports.Operation{
				Type: ports.OpDelete,
				Key:  domain.NodeExecutionPlanIndexKey(record.PlanExecutionID, id),
			})
		}
	}

	if err := s.storage.Batch(ctx, ops); err != nil {
		return err
	}

	s.logger.Debug("node executions deleted", "count", len(nodeExecutionIDs))
	return nil
}

// ExtendRetentionFor pushes ValidUntil for every node execution of one
// plan, typically ahead of a garbage-collection sweep.
func (s *Store) ExtendRetentionFor(ctx context.Context, planExecutionID string, until time.Time) error {
	if planExecutionID == "" {
		return nil
	}

	entries, err := s.storage.List(ctx, domain.NodeExecutionPlanScanPrefix(planExecutionID))
	if err != nil {
		return err
	}

	for _, entry := range entries {
		nodeExecutionID := string(entry.Value)

		_, err := s.storage.Update(ctx, domain.NodeExecutionKey(nodeExecutionID), func(current []byte, exists bool) ([]byte, error) {
			if !exists {
				return nil, ports.ErrSkipUpdate
			}

			record := &domain.NodeExecutionRecord{}
			if err := xjson.Unmarshal(current, record); err != nil {
				return nil, domain.NewInternalError("failed to unmarshal node execution record", err)
			}

			record.ValidUntil = &until
			return xjson.Marshal(record)
		})
		if err != nil {
			return err
		}

		if err := s.storage.ExpireAt(ctx, domain.NodeExecutionKey(nodeExecutionID), until); err != nil {
			return err
		}
	}

	s.logger.Debug("retention extended",
		"plan_execution_id", planExecutionID,
		"until", until,
		"count", len(entries),
	)

	return nil
}

func (s *Store) load(ctx context.Context, nodeExecutionID string) (*domain.NodeExecutionRecord, error) {
	data, err := s.storage.Get(ctx, domain.NodeExecutionKey(nodeExecutionID))
	if err != nil {
		if domain.IsKeyNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	record := &domain.NodeExecutionRecord{}
	if err := xjson.Unmarshal(data, record); err != nil {
		return nil, domain.NewInternalError("failed to unmarshal node execution record", err)
	}
	return record, nil
}
