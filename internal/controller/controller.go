// Package controller orchestrates one job end to end: fetch the dataset
// blob, split it into chunks, dispatch chunks to the processor, resolve the
// vendor dimension, bulk-load the fact rows, then acknowledge the message.
//
// A job is all-or-nothing at the load gate: if any chunk fails to transform,
// nothing is loaded. Acknowledgment on failure is a policy knob; with
// AckOnFailure false the message is released for redelivery, which is the
// system's only retry mechanism.
package controller

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Tanayk7/etl-lambdas/internal/blob"
	"github.com/Tanayk7/etl-lambdas/internal/chunk"
	"github.com/Tanayk7/etl-lambdas/internal/dispatch"
	"github.com/Tanayk7/etl-lambdas/internal/metrics"
	"github.com/Tanayk7/etl-lambdas/internal/storage"
	"github.com/Tanayk7/etl-lambdas/internal/trip"
)

// Status is the terminal state of a job.
type Status string

const (
	StatusAcknowledged Status = "acknowledged"
	StatusFailed       Status = "failed"
)

// JobResult summarizes one completed job for logging and tests.
type JobResult struct {
	JobID   string
	Status  Status
	Message string
	Detail  string

	Chunks     int
	RowsLoaded int64
}

// Acker is the message acknowledgment seam; *queue.Job satisfies it.
type Acker interface {
	// Ack terminates the message lifecycle.
	Ack() error
	// Release returns the message to the queue for redelivery.
	Release() error
}

// Config holds the controller's tunables.
type Config struct {
	// ChunkRows is the maximum data rows per chunk.
	ChunkRows int

	// BatchSize is the maximum rows per COPY batch.
	BatchSize int

	// Workers bounds concurrent transform calls.
	Workers int

	// AckOnFailure acknowledges failed jobs instead of releasing them. True
	// drops the message (no redelivery loops for permanently bad datasets);
	// false trades that for at-least-once processing of transient failures.
	AckOnFailure bool
}

// Controller runs jobs against its injected boundaries.
type Controller struct {
	Blobs   blob.Fetcher
	Client  dispatch.Transformer
	Vendors storage.VendorStore
	Trips   storage.TripStore
	Cfg     Config
}

// Run processes one job to a terminal state. It never returns an error: every
// failure path converges on a JobResult with StatusFailed and the message
// acknowledged or released per policy.
func (c *Controller) Run(ctx context.Context, bucket, key string, ack Acker) JobResult {
	jobID := uuid.NewString()
	log.Printf("controller: job=%s received bucket=%s key=%s", jobID, bucket, key)

	rows, chunks, err := c.process(ctx, jobID, bucket, key)
	res := JobResult{JobID: jobID, Chunks: chunks}
	if err == nil {
		res.Status = StatusAcknowledged
		res.Message = "job complete"
		res.RowsLoaded = rows
	} else {
		res.Status = StatusFailed
		res.Message = "job failed"
		res.Detail = err.Error()
	}

	c.finish(jobID, &res, ack)
	if err := metrics.Flush(); err != nil {
		log.Printf("controller: job=%s metrics flush: %v", jobID, err)
	}
	return res
}

// process runs the fetch-to-load pipeline and returns rows loaded and chunks
// dispatched.
func (c *Controller) process(ctx context.Context, jobID, bucket, key string) (int64, int, error) {
	// Fetch.
	start := time.Now()
	rc, err := c.Blobs.Fetch(ctx, bucket, key)
	metrics.RecordStep(jobID, "fetch", err, time.Since(start))
	if err != nil {
		return 0, 0, fmt.Errorf("fetch %s/%s: %w", bucket, key, err)
	}
	defer rc.Close()

	// Split lazily; the splitter is consumed by the dispatcher below, so the
	// split step only covers header validation here.
	start = time.Now()
	sp, err := chunk.NewSplitter(rc, c.Cfg.ChunkRows)
	metrics.RecordStep(jobID, "split", err, time.Since(start))
	if err != nil {
		return 0, 0, fmt.Errorf("split %s/%s: %w", bucket, key, err)
	}

	// Dispatch.
	start = time.Now()
	disp := &dispatch.Dispatcher{Client: c.Client, Workers: c.Cfg.Workers}
	results, err := disp.Run(ctx, sp)
	if err == nil {
		if f := dispatch.FirstFailure(results); f != nil {
			err = fmt.Errorf("chunk %d: %s: %w", f.Seq, f.Message, f.Err)
		}
	}
	metrics.RecordStep(jobID, "dispatch", err, time.Since(start))
	for _, r := range results {
		outcome := "ok"
		if r.Failed() {
			outcome = "failed"
		}
		metrics.RecordChunks(jobID, outcome, 1)
	}
	if err != nil {
		return 0, len(results), fmt.Errorf("dispatch: %w", err)
	}

	// Aggregate processed chunks into typed rows.
	var rows []trip.Row
	var rowsIn int
	for _, r := range results {
		decoded, err := trip.DecodeProcessed(bytes.NewReader(r.Payload))
		if err != nil {
			return 0, len(results), fmt.Errorf("decode chunk %d: %w", r.Seq, err)
		}
		rowsIn += r.Rows
		rows = append(rows, decoded...)
	}
	metrics.RecordRows(jobID, "transformed", int64(len(rows)))
	metrics.RecordRows(jobID, "dropped", int64(rowsIn-len(rows)))
	log.Printf("controller: job=%s transformed chunks=%d rows_in=%d rows_out=%d",
		jobID, len(results), rowsIn, len(rows))

	// Resolve the vendor dimension.
	start = time.Now()
	err = storage.ResolveVendors(ctx, c.Vendors, rows)
	metrics.RecordStep(jobID, "resolve", err, time.Since(start))
	if err != nil {
		return 0, len(results), err
	}

	// Load.
	start = time.Now()
	loaded, err := storage.LoadBatches(ctx, c.Trips, rows, c.Cfg.BatchSize)
	metrics.RecordStep(jobID, "load", err, time.Since(start))
	metrics.RecordRows(jobID, "loaded", loaded)
	if err != nil {
		return loaded, len(results), err
	}
	if c.Cfg.BatchSize > 0 {
		metrics.RecordBatches(jobID, int64((len(rows)+c.Cfg.BatchSize-1)/c.Cfg.BatchSize))
	}
	return loaded, len(results), nil
}

// finish acknowledges or releases the message per outcome and policy.
func (c *Controller) finish(jobID string, res *JobResult, ack Acker) {
	start := time.Now()
	var err error
	switch {
	case res.Status == StatusAcknowledged:
		err = ack.Ack()
	case c.Cfg.AckOnFailure:
		err = ack.Ack()
	default:
		err = ack.Release()
		if err == nil {
			log.Printf("controller: job=%s released for redelivery", jobID)
		}
	}
	metrics.RecordStep(jobID, "ack", err, time.Since(start))
	if err != nil {
		// The broker will redeliver an unacked message after the channel
		// drops; nothing more to do here than record it.
		log.Printf("controller: job=%s ack failed: %v", jobID, err)
		res.Detail = joinDetail(res.Detail, fmt.Sprintf("ack failed: %v", err))
		return
	}
	log.Printf("controller: job=%s %s chunks=%d rows_loaded=%d detail=%q",
		jobID, res.Status, res.Chunks, res.RowsLoaded, res.Detail)
}

func joinDetail(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
