package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Tanayk7/etl-lambdas/internal/chunk"
)

// Source yields chunks one at a time; *chunk.Splitter satisfies it. Next
// returns io.EOF when the sequence is exhausted.
type Source interface {
	Next() (*chunk.Chunk, error)
}

// Transformer is the remote call seam; *Client satisfies it and tests
// substitute fakes.
type Transformer interface {
	Transform(ctx context.Context, ck *chunk.Chunk) Result
}

// Dispatcher fans chunks out to the processor with at most Workers calls in
// flight. Completion order is not tracked; results are re-sorted by sequence
// index before return so diagnostics stay readable.
type Dispatcher struct {
	Client  Transformer
	Workers int
}

// Run pulls chunks from src until exhaustion, dispatching each to the
// processor. It guarantees one Result per dispatched chunk.
//
// After the first failure is observed, no further chunks are dispatched;
// calls already in flight are allowed to drain rather than being cancelled.
// This bounds wasted work but is not needed for correctness: the caller
// fails the whole job on any failed Result anyway.
//
// The returned error is non-nil only when the chunk source itself fails
// (malformed framing) or the context is cancelled; per-chunk failures are
// reported inside the Results.
func (d *Dispatcher) Run(ctx context.Context, src Source) ([]Result, error) {
	workers := d.Workers
	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))

	var (
		mu      sync.Mutex
		results []Result
		wg      sync.WaitGroup
		failed  atomic.Bool
	)

	start := time.Now()
	dispatched := 0

	var srcErr error
	for {
		if failed.Load() {
			log.Printf("dispatch: failure observed, stopping after %d chunks", dispatched)
			break
		}
		ck, err := src.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				srcErr = fmt.Errorf("dispatch: chunk source: %w", err)
			}
			break
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			srcErr = err
			break
		}
		dispatched++
		wg.Add(1)
		go func(ck *chunk.Chunk) {
			defer wg.Done()
			defer sem.Release(1)

			res := d.Client.Transform(ctx, ck)
			if res.Failed() {
				failed.Store(true)
				log.Printf("dispatch: chunk %d failed (rows=%d checksum=%x): %v",
					ck.Seq, ck.Rows, ck.Checksum(), res.Err)
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(ck)
	}

	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Seq < results[j].Seq })
	log.Printf("dispatch: done chunks=%d workers=%d elapsed=%s",
		dispatched, workers, time.Since(start).Truncate(time.Millisecond))

	return results, srcErr
}

// FirstFailure returns the first failed result in sequence order, or nil when
// every chunk succeeded.
func FirstFailure(results []Result) *Result {
	for i := range results {
		if results[i].Failed() {
			return &results[i]
		}
	}
	return nil
}
