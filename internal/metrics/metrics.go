// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from the trip pipeline.
//
// It exposes a narrow Backend interface (counters and duration observations)
// behind a global, pluggable backend that defaults to a no-op, so
// instrumentation calls are always safe even when no metrics system is
// configured. Concrete systems (Prometheus Pushgateway, Datadog) live in
// subpackages and are selected at startup; the rest of the codebase depends
// only on this package.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveDuration records a duration-style value.
	ObserveDuration(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend needs it.
	Flush() error
}

// nopBackend is used by default so metrics stay optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)      {}
func (nopBackend) ObserveDuration(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                             { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error { return backend.Flush() }

// RecordStep measures one job-controller step: latency plus a
// success/failure counter.
//
// Steps mirror the controller states: "fetch", "split", "dispatch",
// "resolve", "load", "ack".
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	backend.IncCounter("pipeline_step_total", 1, lbls)
	backend.ObserveDuration("pipeline_step_duration_seconds", d.Seconds(), lbls)
}

// RecordRows increments a record-level counter for the given job and kind.
//
// Typical kinds:
//   - "transformed"
//   - "dropped"
//   - "loaded"
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("pipeline_rows_total", float64(delta), Labels{"job": job, "kind": kind})
}

// RecordChunks increments the per-job chunk counter for the given outcome
// ("ok" or "failed").
func RecordChunks(job, outcome string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("pipeline_chunks_total", float64(delta), Labels{"job": job, "outcome": outcome})
}

// RecordBatches increments the per-job COPY batch counter.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("pipeline_batches_total", float64(delta), Labels{"job": job})
}
