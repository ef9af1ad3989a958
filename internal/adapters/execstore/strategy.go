package execstore

import (
	"context"
	"strings"

	"dario.cat/mergo"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/xjson"
)

// ResolveStrategyContext flattens the strategy metadata of a chain of
// nested scope levels (pipeline, stage, step group, step) into one
// variable map. Metadata is looked up by node-execution id in the durable
// store first; a level's in-band metadata is only a fallback for records
// that predate externalized metadata.
func (s *Store) ResolveStrategyContext(ctx context.Context, levels []domain.StrategyLevel, useAxisNameAsKey bool) (map[string]interface{}, error) {
	resolved := map[string]interface{}{}
	var postfixes []string

	for _, level := range levels {
		metadata, err := s.lookupMetadata(ctx, level)
		if err != nil {
			return nil, err
		}
		if metadata == nil {
			continue
		}

		levelVars := strategyVariables(metadata, useAxisNameAsKey)
		if err := mergo.Merge(&resolved, levelVars, mergo.WithOverride); err != nil {
			return nil, domain.NewInternalError("failed to merge strategy variables", err)
		}

		if postfix := metadata.Postfix(); postfix != "" {
			postfixes = append(postfixes, postfix)
		}
	}

	if len(postfixes) > 0 {
		resolved[domain.StrategyVarIdentifier] = strings.Join(postfixes, "")
	}

	return resolved, nil
}

func (s *Store) lookupMetadata(ctx context.Context, level domain.StrategyLevel) (*domain.StrategyMetadata, error) {
	if level.NodeExecutionID != "" {
		record, err := s.load(ctx, level.NodeExecutionID)
		if err != nil {
			return nil, err
		}
		if record != nil && record.StrategyMetadata != nil {
			return record.StrategyMetadata, nil
		}
	}

	// Older records carry metadata in-band on the level itself.
	return level.Metadata, nil
}

func strategyVariables(metadata *domain.StrategyMetadata, useAxisNameAsKey bool) map[string]interface{} {
	vars := map[string]interface{}{
		domain.StrategyVarIteration:  metadata.CurrentIteration,
		domain.StrategyVarIterations: metadata.TotalIterations,
	}

	if metadata.IsLoop() {
		var item interface{}
		if err := xjson.Unmarshal(metadata.LoopItem, &item); err == nil {
			vars[domain.StrategyVarItem] = item
		}
		vars[domain.StrategyVarPartition] = metadata.LoopPartition
	}

	if metadata.IsMatrix() {
		if useAxisNameAsKey {
			for axis, value := range metadata.MatrixValues {
				vars[axis] = value
			}
		} else {
			matrix := make(map[string]interface{}, len(metadata.MatrixValues))
			for axis, value := range metadata.MatrixValues {
				matrix[axis] = value
			}
			vars[domain.StrategyVarMatrix] = matrix
		}
	}

	return vars
}
