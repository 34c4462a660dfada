package upload

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"labelsync/internal/domain"
)

// stage is one dispatch step. run returns errHalt when dependent stages
// cannot proceed.
type stage struct {
	name      string
	dependsOn []string
	enabled   func(a domain.ActionSet) bool
	run       func(ctx context.Context, st *dispatchState) error
}

// errHalt stops every stage that depends on the halting stage.
var errHalt = errors.New("halt dependent stages")

// resolveStageOrder computes a topological ordering of stages using Kahn's
// algorithm. Dependencies on stages that are not in the set are ignored, so
// callers may pass only the enabled stages. Within a level, stages keep
// their declaration order.
func resolveStageOrder(stages []stage) ([][]string, error) {
	if len(stages) == 0 {
		return nil, nil
	}

	position := make(map[string]int, len(stages))
	inDegree := make(map[string]int, len(stages))
	dependents := make(map[string][]string) // stage → stages that depend on it

	for i, s := range stages {
		if _, dup := position[s.name]; dup {
			return nil, domain.ErrValidation("duplicate stage: %s", s.name)
		}
		position[s.name] = i
		inDegree[s.name] = 0
	}

	for _, s := range stages {
		for _, dep := range s.dependsOn {
			if _, ok := position[dep]; !ok {
				continue
			}
			if dep == s.name {
				return nil, domain.ErrValidation("self dependency: %s", s.name)
			}
			dependents[dep] = append(dependents[dep], s.name)
			inDegree[s.name]++
		}
	}

	byPosition := func(names []string) {
		sort.Slice(names, func(i, j int) bool { return position[names[i]] < position[names[j]] })
	}

	var levels [][]string
	var queue []string
	for _, s := range stages {
		if inDegree[s.name] == 0 {
			queue = append(queue, s.name)
		}
	}

	processed := 0
	for len(queue) > 0 {
		level := make([]string, len(queue))
		copy(level, queue)
		byPosition(level)
		levels = append(levels, level)
		processed += len(level)

		var next []string
		for _, name := range queue {
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if processed != len(stages) {
		return nil, domain.ErrValidation("cycle detected in stage dependencies")
	}
	return levels, nil
}

// forEachTarget runs fn for every target with bounded parallelism. A failure
// or panic for one target never affects another. Results keep target order.
func forEachTarget(ctx context.Context, targets []string, limit int, fn func(ctx context.Context, target string) domain.TargetResult) []domain.TargetResult {
	if limit <= 0 {
		limit = domain.DefaultUploadWorkers
	}
	out := make([]domain.TargetResult, len(targets))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, target := range targets {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					out[i] = domain.TargetResult{Target: target, Error: fmt.Sprintf("panic: %v", r)}
				}
			}()
			out[i] = fn(ctx, target)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
