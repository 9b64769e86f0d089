// Package worker runs bounded concurrent jobs and paces calls to rate
// limited upstreams (LLM providers, the OCR service).
package worker

import (
	"context"
	"sync"
)

// Job is one unit of work
type Job interface {
	Execute(ctx context.Context) Result
}

// Result is what a job produced
type Result interface {
	GetError() error
}

// FuncJob adapts a function to the Job interface
type FuncJob func(ctx context.Context) Result

// Execute calls the function
func (f FuncJob) Execute(ctx context.Context) Result {
	return f(ctx)
}

// NotRun stands in for a job that was never started because the context
// ended first
type NotRun struct {
	Err error
}

func (n NotRun) GetError() error { return n.Err }

// Run executes jobs on at most workers goroutines and returns one result
// per job, in job order. Once ctx ends no further jobs are started; their
// slots hold a NotRun carrying ctx's error. Jobs already running are
// passed ctx and are expected to return promptly.
func Run(ctx context.Context, workers int, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				results[i] = jobs[i].Execute(ctx)
			}
		}()
	}

feed:
	for i := range jobs {
		select {
		case <-ctx.Done():
			break feed
		case next <- i:
		}
	}
	close(next)
	wg.Wait()

	for i, r := range results {
		if r == nil {
			results[i] = NotRun{Err: ctx.Err()}
		}
	}
	return results
}

// FirstError returns the error of the earliest failed result
func FirstError(results []Result) error {
	for _, r := range results {
		if err := r.GetError(); err != nil {
			return err
		}
	}
	return nil
}
