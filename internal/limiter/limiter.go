package limiter

import (
	"context"
	"sync"
)

// Result holds one task's outcome. Err is non-nil when the task failed or
// was never started because the context ended first.
type Result[T any] struct {
	Value T
	Err   error
}

// Run executes tasks with at most limit in flight at once. Tasks are
// started in slice order; results come back in the same order regardless
// of completion order. Run returns only after every started task has
// settled. A non-positive limit means unbounded.
//
// When ctx ends, tasks that have not started are skipped and their Result
// carries ctx.Err(); tasks already running are left to observe ctx
// themselves.
func Run[T any](ctx context.Context, tasks []func(context.Context) (T, error), limit int) []Result[T] {
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}

	if limit <= 0 || limit > len(tasks) {
		limit = len(tasks)
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, task := range tasks {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			for j := i; j < len(tasks); j++ {
				results[j].Err = ctx.Err()
			}
			wg.Wait()
			return results
		}

		wg.Add(1)
		go func(i int, task func(context.Context) (T, error)) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i].Value, results[i].Err = task(ctx)
		}(i, task)
	}

	wg.Wait()
	return results
}
