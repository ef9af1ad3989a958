package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conveyorci/conveyor/internal/xjson"
)

// StrategyMetadata describes a node's position within a matrix, loop, or
// parallel expansion of its owning scope.
type StrategyMetadata struct {
	CurrentIteration int `json:"current_iteration"`
	TotalIterations  int `json:"total_iterations"`

	MatrixValues map[string]string `json:"matrix_values,omitempty"`

	LoopItem      xjson.RawMessage `json:"loop_item,omitempty"`
	LoopPartition int              `json:"loop_partition,omitempty"`

	IdentifierPostfix string `json:"identifier_postfix,omitempty"`
}

// IsMatrix reports whether this expansion carries matrix axis values.
func (m *StrategyMetadata) IsMatrix() bool {
	return m != nil && len(m.MatrixValues) > 0
}

func (m *StrategyMetadata) IsLoop() bool {
	return m != nil && len(m.LoopItem) > 0
}

// Postfix synthesizes the identifier suffix disambiguating repeated or
// matrixed siblings when no explicit postfix was recorded. Matrix nodes
// join axis values, looped nodes use the iteration index.
func (m *StrategyMetadata) Postfix() string {
	if m == nil {
		return ""
	}
	if m.IdentifierPostfix != "" {
		return m.IdentifierPostfix
	}
	if m.IsMatrix() {
		values := make([]string, 0, len(m.MatrixValues))
		for _, axis := range sortedAxes(m.MatrixValues) {
			values = append(values, m.MatrixValues[axis])
		}
		return "_" + strings.Join(values, "_")
	}
	if m.TotalIterations > 1 {
		return fmt.Sprintf("_%d", m.CurrentIteration)
	}
	return ""
}

func sortedAxes(values map[string]string) []string {
	axes := make([]string, 0, len(values))
	for axis := range values {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	return axes
}

// StrategyLevel is one element of the nested scope chain handed to the
// strategy-context resolver: pipeline, stage, step group, step. Metadata
// carried in-band is only a fallback for records that predate the
// externalized store lookup.
type StrategyLevel struct {
	NodeExecutionID string            `json:"node_execution_id"`
	Identifier      string            `json:"identifier"`
	Metadata        *StrategyMetadata `json:"metadata,omitempty"`
}

// Strategy context variable names exposed to expression resolution.
const (
	StrategyVarIteration  = "iteration"
	StrategyVarIterations = "iterations"
	StrategyVarItem       = "item"
	StrategyVarPartition  = "partition"
	StrategyVarIdentifier = "identifierPostFix"
	StrategyVarMatrix     = "matrix"
)
