package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tanayk7/etl-lambdas/internal/chunk"
)

// sliceSource feeds a fixed set of chunks.
type sliceSource struct {
	chunks []*chunk.Chunk
	pos    int
}

func (s *sliceSource) Next() (*chunk.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func makeChunks(n int) []*chunk.Chunk {
	out := make([]*chunk.Chunk, n)
	for i := range out {
		out[i] = &chunk.Chunk{Seq: i, Rows: 1, Payload: []byte(fmt.Sprintf("id\nid%d\n", i))}
	}
	return out
}

// fakeTransformer lets tests script per-chunk outcomes and observe
// concurrency.
type fakeTransformer struct {
	mu       sync.Mutex
	inFlight int32
	maxSeen  int32
	delay    time.Duration
	failSeq  map[int]bool
	calls    []int
}

func (f *fakeTransformer) Transform(_ context.Context, ck *chunk.Chunk) Result {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxSeen)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxSeen, prev, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls = append(f.calls, ck.Seq)
	f.mu.Unlock()

	res := Result{Seq: ck.Seq, Rows: ck.Rows}
	if f.failSeq[ck.Seq] {
		res.Message = "transform failed"
		res.Err = fmt.Errorf("chunk %d: scripted failure", ck.Seq)
		return res
	}
	res.Payload = append([]byte("ok:"), ck.Payload...)
	return res
}

// TestRun_OneResultPerChunk verifies every dispatched chunk yields exactly
// one result, ordered by sequence on return.
func TestRun_OneResultPerChunk(t *testing.T) {
	t.Parallel()

	ft := &fakeTransformer{}
	d := &Dispatcher{Client: ft, Workers: 4}
	results, err := d.Run(context.Background(), &sliceSource{chunks: makeChunks(9)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 9 {
		t.Fatalf("got %d results, want 9", len(results))
	}
	for i, r := range results {
		if r.Seq != i {
			t.Fatalf("results not sorted by Seq: pos %d has Seq %d", i, r.Seq)
		}
		if r.Failed() {
			t.Fatalf("chunk %d unexpectedly failed: %v", r.Seq, r.Err)
		}
	}
}

// TestRun_BoundedConcurrency checks that no more than Workers transforms are
// ever in flight at once.
func TestRun_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	ft := &fakeTransformer{delay: 20 * time.Millisecond}
	d := &Dispatcher{Client: ft, Workers: 3}
	if _, err := d.Run(context.Background(), &sliceSource{chunks: makeChunks(12)}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if max := atomic.LoadInt32(&ft.maxSeen); max > 3 {
		t.Fatalf("observed %d concurrent transforms, bound is 3", max)
	}
}

// TestRun_StopsDispatchingAfterFailure verifies that once a failure is
// observed no further chunks are newly dispatched, while already-dispatched
// calls drain and still report results.
func TestRun_StopsDispatchingAfterFailure(t *testing.T) {
	t.Parallel()

	// Workers=1 makes dispatch strictly sequential: chunk 0 fails, so the
	// dispatcher must observe the failure before pulling chunk 1.
	ft := &fakeTransformer{failSeq: map[int]bool{0: true}}
	d := &Dispatcher{Client: ft, Workers: 1}
	results, err := d.Run(context.Background(), &sliceSource{chunks: makeChunks(5)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// With a single worker, at most the failing chunk plus one already-pulled
	// chunk may have been dispatched.
	if len(results) > 2 {
		t.Fatalf("dispatched %d chunks after a first-chunk failure, want <= 2", len(results))
	}
	if FirstFailure(results) == nil {
		t.Fatal("expected a failure result")
	}
}

// TestRun_HTTPFailureMapping exercises the real client against an httptest
// processor: a 500 on one of five chunks becomes a failure Result, never a
// crash, and the failure carries the processor's message.
func TestRun_HTTPFailureMapping(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		var req struct {
			Chunk string `json:"chunk"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if n == 3 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{
				"message": "Error occurred while processing chunk.",
				"details": "boom",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"message": "Chunk processed successfully!",
			"chunk":   req.Chunk,
		})
	}))
	defer srv.Close()

	d := &Dispatcher{
		Client:  NewClient(ClientConfig{Endpoint: srv.URL, Timeout: 5 * time.Second}),
		Workers: 1,
	}
	results, err := d.Run(context.Background(), &sliceSource{chunks: makeChunks(5)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	fail := FirstFailure(results)
	if fail == nil {
		t.Fatal("expected one failed result")
	}
	if fail.Message != "Error occurred while processing chunk." {
		t.Fatalf("failure message = %q", fail.Message)
	}
	if fail.Details != "boom" {
		t.Fatalf("failure details = %q", fail.Details)
	}
}

// TestRun_TransportErrorBecomesResult verifies a connection failure maps to
// a failure Result instead of aborting the run.
func TestRun_TransportErrorBecomesResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connections now refused

	d := &Dispatcher{
		Client:  NewClient(ClientConfig{Endpoint: srv.URL, Timeout: time.Second}),
		Workers: 2,
	}
	results, err := d.Run(context.Background(), &sliceSource{chunks: makeChunks(1)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 || !results[0].Failed() {
		t.Fatalf("expected one failed result, got %+v", results)
	}
}
