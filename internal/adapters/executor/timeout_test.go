package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/ports"
)

func TestRemainingTimeout(t *testing.T) {
	cfg := domain.ExecutorConfig{
		MinTaskTimeout: 10 * time.Second,
		DefaultTimeout: 10 * time.Minute,
	}

	tests := []struct {
		name string
		sctx ports.StepContext
		want func(t *testing.T, got time.Duration)
	}{
		{
			name: "fresh scope gets nearly the full budget",
			sctx: ports.StepContext{
				ScopeStartedAt: time.Now(),
				ScopeTimeout:   time.Hour,
			},
			want: func(t *testing.T, got time.Duration) {
				assert.InDelta(t, time.Hour, got, float64(time.Second))
			},
		},
		{
			name: "late retry inherits the shrinking remainder",
			sctx: ports.StepContext{
				ScopeStartedAt: time.Now().Add(-40 * time.Minute),
				ScopeTimeout:   time.Hour,
			},
			want: func(t *testing.T, got time.Duration) {
				assert.InDelta(t, 20*time.Minute, got, float64(time.Second))
			},
		},
		{
			name: "elapsed budget floors at the minimum",
			sctx: ports.StepContext{
				ScopeStartedAt: time.Now().Add(-2 * time.Hour),
				ScopeTimeout:   time.Hour,
			},
			want: func(t *testing.T, got time.Duration) {
				assert.Equal(t, 10*time.Second, got)
			},
		},
		{
			name: "no declared budget falls back to the default",
			sctx: ports.StepContext{
				ScopeStartedAt: time.Now(),
			},
			want: func(t *testing.T, got time.Duration) {
				assert.InDelta(t, 10*time.Minute, got, float64(time.Second))
			},
		},
		{
			name: "zero start time skips elapsed accounting",
			sctx: ports.StepContext{
				ScopeTimeout: 30 * time.Minute,
			},
			want: func(t *testing.T, got time.Duration) {
				assert.Equal(t, 30*time.Minute, got)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.want(t, RemainingTimeout(tt.sctx, cfg))
		})
	}
}
