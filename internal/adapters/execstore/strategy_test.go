package execstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/xjson"
)

func TestResolveStrategyContext_MatrixFromStore(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore()

	metadata := &domain.StrategyMetadata{
		CurrentIteration: 1,
		TotalIterations:  4,
		MatrixValues:     map[string]string{"os": "linux", "arch": "arm64"},
	}
	require.NoError(t, store.Initialize(ctx, "stage-1", "plan-1", metadata))

	levels := []domain.StrategyLevel{{NodeExecutionID: "stage-1"}}

	resolved, err := store.ResolveStrategyContext(ctx, levels, false)
	require.NoError(t, err)

	assert.Equal(t, 1, resolved[domain.StrategyVarIteration])
	assert.Equal(t, 4, resolved[domain.StrategyVarIterations])
	assert.Equal(t, map[string]interface{}{"os": "linux", "arch": "arm64"}, resolved[domain.StrategyVarMatrix])
	assert.Equal(t, "_arm64_linux", resolved[domain.StrategyVarIdentifier])
}

func TestResolveStrategyContext_MatrixAxisAsKey(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore()

	metadata := &domain.StrategyMetadata{
		TotalIterations: 2,
		MatrixValues:    map[string]string{"os": "darwin"},
	}
	require.NoError(t, store.Initialize(ctx, "stage-1", "plan-1", metadata))

	resolved, err := store.ResolveStrategyContext(ctx, []domain.StrategyLevel{{NodeExecutionID: "stage-1"}}, true)
	require.NoError(t, err)

	assert.Equal(t, "darwin", resolved["os"])
	assert.NotContains(t, resolved, domain.StrategyVarMatrix)
}

func TestResolveStrategyContext_LoopLevelFallback(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore()

	// No stored record for this level: the in-band metadata must be used.
	levels := []domain.StrategyLevel{{
		NodeExecutionID: "legacy-step",
		Metadata: &domain.StrategyMetadata{
			CurrentIteration: 3,
			TotalIterations:  6,
			LoopItem:         xjson.RawMessage(`{"name":"unit-tests"}`),
			LoopPartition:    2,
		},
	}}

	resolved, err := store.ResolveStrategyContext(ctx, levels, false)
	require.NoError(t, err)

	assert.Equal(t, 3, resolved[domain.StrategyVarIteration])
	assert.Equal(t, map[string]interface{}{"name": "unit-tests"}, resolved[domain.StrategyVarItem])
	assert.Equal(t, 2, resolved[domain.StrategyVarPartition])
	assert.Equal(t, "_3", resolved[domain.StrategyVarIdentifier])
}

func TestResolveStrategyContext_NestedLevelsOverrideAndConcatenate(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore()

	stageMeta := &domain.StrategyMetadata{
		CurrentIteration: 0,
		TotalIterations:  2,
	}
	stepMeta := &domain.StrategyMetadata{
		CurrentIteration: 1,
		TotalIterations:  3,
	}
	require.NoError(t, store.Initialize(ctx, "stage-1", "plan-1", stageMeta))
	require.NoError(t, store.Initialize(ctx, "step-1", "plan-1", stepMeta))

	levels := []domain.StrategyLevel{
		{NodeExecutionID: "stage-1"},
		{NodeExecutionID: "step-1"},
	}

	resolved, err := store.ResolveStrategyContext(ctx, levels, false)
	require.NoError(t, err)

	// The innermost level wins on conflicting variables.
	assert.Equal(t, 1, resolved[domain.StrategyVarIteration])
	assert.Equal(t, 3, resolved[domain.StrategyVarIterations])
	// Postfixes concatenate outermost first.
	assert.Equal(t, "_0_1", resolved[domain.StrategyVarIdentifier])
}

func TestResolveStrategyContext_NoMetadata(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore()

	require.NoError(t, store.Initialize(ctx, "plain-step", "plan-1", nil))

	resolved, err := store.ResolveStrategyContext(ctx, []domain.StrategyLevel{{NodeExecutionID: "plain-step"}}, false)
	require.NoError(t, err)
	assert.Empty(t, resolved)
}
