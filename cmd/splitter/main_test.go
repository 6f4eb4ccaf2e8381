package main

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tanayk7/etl-lambdas/internal/queue"
)

// TestProcessJobs_RunsDeliveriesConcurrently verifies that two deliveries in
// the window run at the same time: each job blocks until the other has
// started, so sequential execution would deadlock past the timeout.
func TestProcessJobs_RunsDeliveriesConcurrently(t *testing.T) {
	t.Parallel()

	jobs := make(chan queue.Job, 2)
	jobs <- queue.Job{Bucket: "datasets", Key: "a.csv"}
	jobs <- queue.Job{Bucket: "datasets", Key: "b.csv"}
	close(jobs)

	var started sync.WaitGroup
	started.Add(2)

	done := make(chan struct{})
	go func() {
		processJobs(context.Background(), jobs, func(_ context.Context, _ queue.Job) {
			started.Done()
			started.Wait() // rendezvous: needs the other job running
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deliveries did not run concurrently")
	}
}

// TestProcessJobs_WaitsForAllJobs checks that processJobs only returns after
// every started job has finished.
func TestProcessJobs_WaitsForAllJobs(t *testing.T) {
	t.Parallel()

	const n = 5
	jobs := make(chan queue.Job, n)
	for i := 0; i < n; i++ {
		jobs <- queue.Job{Bucket: "datasets", Key: "train.csv"}
	}
	close(jobs)

	var finished atomic.Int32
	processJobs(context.Background(), jobs, func(_ context.Context, _ queue.Job) {
		time.Sleep(10 * time.Millisecond)
		finished.Add(1)
	})

	if got := finished.Load(); got != n {
		t.Fatalf("processJobs returned with %d/%d jobs finished", got, n)
	}
}
