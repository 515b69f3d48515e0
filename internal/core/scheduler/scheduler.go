// Package scheduler runs independent tasks under a fixed concurrency ceiling.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

// Task 是一个独立的检测任务。返回的错误只用于记录, 不会影响其它任务。
type Task func(ctx context.Context) error

// Scheduler 按输入顺序派发任务, 同一时刻最多 concurrency 个任务在执行。
type Scheduler struct {
	log zerolog.Logger
}

// New creates a Scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// Run blocks until every task has settled. Task failures and panics are isolated.
// The only error returned comes from the pool itself.
func (s *Scheduler) Run(ctx context.Context, tasks []Task, concurrency int) error {
	if len(tasks) == 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(tasks) {
		concurrency = len(tasks)
	}

	pool, err := ants.NewPool(concurrency, ants.WithPanicHandler(func(p interface{}) {
		s.log.Error().Interface("panic", p).Msg("Task panicked.")
	}))
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, task := range tasks {
		idx, t := i, task
		wg.Add(1)
		// 池满时 Submit 阻塞, 因此派发顺序与输入顺序一致
		err := pool.Submit(func() {
			defer wg.Done()
			if err := t(ctx); err != nil {
				s.log.Debug().Err(err).Int("task", idx).Msg("Task finished with error.")
			}
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return fmt.Errorf("failed to submit task %d: %w", idx, err)
		}
	}

	wg.Wait()
	return nil
}
