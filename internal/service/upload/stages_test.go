package upload

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelsync/internal/domain"
)

func TestResolveStageOrder(t *testing.T) {
	tests := []struct {
		name       string
		stages     []stage
		wantLevels [][]string
		wantErr    bool
	}{
		{
			name:       "empty",
			stages:     nil,
			wantLevels: nil,
		},
		{
			name: "linear_chain",
			stages: []stage{
				{name: "create"},
				{name: "resolve", dependsOn: []string{"create"}},
				{name: "batch", dependsOn: []string{"resolve"}},
			},
			wantLevels: [][]string{{"create"}, {"resolve"}, {"batch"}},
		},
		{
			name: "fan_out_keeps_declaration_order",
			stages: []stage{
				{name: "create"},
				{name: "resolve", dependsOn: []string{"create"}},
				{name: "predict", dependsOn: []string{"resolve", "ground_truth"}},
				{name: "batch", dependsOn: []string{"resolve"}},
			},
			wantLevels: [][]string{{"create"}, {"resolve"}, {"predict", "batch"}},
		},
		{
			name: "missing_dependency_ignored",
			stages: []stage{
				{name: "create"},
				{name: "predict", dependsOn: []string{"ground_truth", "create"}},
			},
			wantLevels: [][]string{{"create"}, {"predict"}},
		},
		{
			name: "self_dependency",
			stages: []stage{
				{name: "create", dependsOn: []string{"create"}},
			},
			wantErr: true,
		},
		{
			name: "cycle",
			stages: []stage{
				{name: "a", dependsOn: []string{"b"}},
				{name: "b", dependsOn: []string{"a"}},
			},
			wantErr: true,
		},
		{
			name:    "duplicate",
			stages:  []stage{{name: "a"}, {name: "a"}},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			levels, err := resolveStageOrder(tc.stages)
			if tc.wantErr {
				require.Error(t, err)
				var valErr *domain.ValidationError
				assert.ErrorAs(t, err, &valErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantLevels, levels)
		})
	}
}

func TestForEachTarget(t *testing.T) {
	t.Run("isolates_failures_and_panics", func(t *testing.T) {
		results := forEachTarget(context.Background(), []string{"a", "b", "c"}, 2,
			func(_ context.Context, target string) domain.TargetResult {
				switch target {
				case "b":
					return domain.TargetResult{Target: target, Error: "failed"}
				case "c":
					panic("boom")
				}
				return domain.TargetResult{Target: target, Count: 1}
			})
		require.Len(t, results, 3)
		assert.Equal(t, domain.TargetResult{Target: "a", Count: 1}, results[0])
		assert.True(t, results[1].Failed())
		assert.Equal(t, "c", results[2].Target)
		assert.Contains(t, results[2].Error, "panic: boom")
	})

	t.Run("zero_limit_uses_default", func(t *testing.T) {
		var calls atomic.Int32
		results := forEachTarget(context.Background(), []string{"a", "b"}, 0,
			func(_ context.Context, target string) domain.TargetResult {
				calls.Add(1)
				return domain.TargetResult{Target: target}
			})
		assert.Len(t, results, 2)
		assert.EqualValues(t, 2, calls.Load())
	})
}
