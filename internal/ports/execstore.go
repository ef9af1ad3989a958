package ports

import (
	"context"
	"time"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/xjson"
)

// NodeExecutionStore is the durable record of every executing graph node.
// Read paths return empty values for unknown ids; absence of history is
// not a failure condition.
type NodeExecutionStore interface {
	Initialize(ctx context.Context, nodeExecutionID, planExecutionID string, metadata *domain.StrategyMetadata) error

	AttachStepDetail(ctx context.Context, nodeExecutionID, name string, detail xjson.RawMessage) error
	AttachResolvedInputs(ctx context.Context, nodeExecutionID string, inputs xjson.RawMessage) error
	GetResolvedInputs(ctx context.Context, nodeExecutionID string) (xjson.RawMessage, error)
	GetStepDetails(ctx context.Context, nodeExecutionID string) ([]domain.StepDetail, error)

	CopyForRetry(ctx context.Context, originalID, newID, planExecutionID string) error

	RecordConcurrencyCursor(ctx context.Context, nodeExecutionID string, instance domain.ConcurrentChildInstance) error
	IncrementCursor(ctx context.Context, nodeExecutionID string, childStatus domain.Status) (*domain.ConcurrentChildInstance, error)

	DeleteForIDs(ctx context.Context, nodeExecutionIDs []string) error
	ExtendRetentionFor(ctx context.Context, planExecutionID string, until time.Time) error

	ResolveStrategyContext(ctx context.Context, levels []domain.StrategyLevel, useAxisNameAsKey bool) (map[string]interface{}, error)
}
