package utils

import (
	"context"
	"sync"
)

type CompletedTask[T any] struct {
	Index  int
	Result T
	Error  error
}

// RunInPool runs worker over every input using at most maxWorkers goroutines.
// Results arrive on the returned channel in completion order, tagged with the
// index of their input; the channel is closed once every input has settled.
func RunInPool[In any, Out any](ctx context.Context, worker func(context.Context, In) (Out, error), inputs []In, maxWorkers int) <-chan CompletedTask[Out] {
	completed := make(chan CompletedTask[Out], len(inputs))

	workers := min(len(inputs), maxWorkers)
	if workers <= 0 {
		workers = len(inputs)
	}

	queue := make(chan int, len(inputs))
	for i := range inputs {
		queue <- i
	}
	close(queue)

	go func() {
		wg := sync.WaitGroup{}
		wg.Add(workers)

		for w := 0; w < workers; w++ {
			go func() {
				defer wg.Done()

				for i := range queue {
					if err := ctx.Err(); err != nil {
						completed <- CompletedTask[Out]{Index: i, Error: err}
						continue
					}

					res, err := worker(ctx, inputs[i])
					completed <- CompletedTask[Out]{Index: i, Result: res, Error: err}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()

	return completed
}
