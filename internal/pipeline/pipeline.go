// Package pipeline runs ordered sequences of steps over a shared typed
// context, with compensating cleanup on failure, and fans independent inputs
// out in parallel.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Step is one stage of a sequence. Run mutates the shared context. Compensate,
// when set, undoes the step's effect; it only executes if a later step fails,
// and its own failure is logged and discarded so the causal error surfaces.
type Step[C any] struct {
	Name       string
	Run        func(ctx context.Context, pc *C) error
	Compensate func(ctx context.Context, pc *C) error
}

// Run executes steps strictly in order, each only after the previous one
// succeeded. On failure it walks the completed steps backwards running their
// compensations, then returns the original error.
func Run[C any](ctx context.Context, log *zap.Logger, pc *C, steps []Step[C]) error {
	for i, step := range steps {
		if err := step.Run(ctx, pc); err != nil {
			compensate(ctx, log, pc, steps[:i])
			return fmt.Errorf("%s: %w", step.Name, err)
		}
	}
	return nil
}

func compensate[C any](ctx context.Context, log *zap.Logger, pc *C, completed []Step[C]) {
	// The failure that triggered compensation may be a cancellation, and
	// under Parallel a sibling's failure cancels the group context.
	// Cleanup still has to run, so it gets a context detached from
	// cancellation while keeping the values.
	ctx = context.WithoutCancel(ctx)
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx, pc); err != nil {
			log.Warn("compensation failed",
				zap.String("step", step.Name),
				zap.Error(err),
			)
		}
	}
}

// Parallel runs fn over every input concurrently and waits for all of them.
// The first error cancels the group context and is returned; inputs already
// finished are not rolled back beyond their own step compensation.
func Parallel[T any](ctx context.Context, inputs []T, fn func(ctx context.Context, input T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, input := range inputs {
		input := input
		g.Go(func() error {
			return fn(ctx, input)
		})
	}
	return g.Wait()
}
