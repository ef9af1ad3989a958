package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conveyorci/conveyor/internal/xjson"
)

func TestStrategyMetadataPostfix(t *testing.T) {
	tests := []struct {
		name     string
		metadata *StrategyMetadata
		want     string
	}{
		{"nil metadata", nil, ""},
		{"explicit postfix wins", &StrategyMetadata{IdentifierPostfix: "_custom", TotalIterations: 3, CurrentIteration: 1}, "_custom"},
		{
			"matrix joins sorted axis values",
			&StrategyMetadata{MatrixValues: map[string]string{"os": "linux", "arch": "arm64"}},
			"_arm64_linux",
		},
		{"loop uses iteration", &StrategyMetadata{CurrentIteration: 2, TotalIterations: 5}, "_2"},
		{"single iteration has no postfix", &StrategyMetadata{CurrentIteration: 0, TotalIterations: 1}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.metadata.Postfix())
		})
	}
}

func TestStrategyMetadataKinds(t *testing.T) {
	var nilMeta *StrategyMetadata
	assert.False(t, nilMeta.IsMatrix())
	assert.False(t, nilMeta.IsLoop())

	matrix := &StrategyMetadata{MatrixValues: map[string]string{"os": "linux"}}
	assert.True(t, matrix.IsMatrix())
	assert.False(t, matrix.IsLoop())

	loop := &StrategyMetadata{LoopItem: xjson.RawMessage(`"item"`)}
	assert.True(t, loop.IsLoop())
	assert.False(t, loop.IsMatrix())
}
