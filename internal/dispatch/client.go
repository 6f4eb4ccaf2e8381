// Package dispatch sends chunks to the processor endpoint under a bounded
// concurrency limit and collects exactly one result per dispatched chunk.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Tanayk7/etl-lambdas/internal/chunk"
)

// Result is the outcome of transforming one chunk. Exactly one Result exists
// per dispatched chunk; transport errors and non-200 responses become failure
// Results rather than crashes, so no chunk is ever silently dropped.
type Result struct {
	Seq     int
	Rows    int    // input row count, for diagnostics
	Payload []byte // processed chunk CSV; nil on failure
	Message string // processor's message, or a transport description
	Details string // processor's diagnostic detail, when present
	Err     error  // non-nil marks this chunk as failed
}

// Failed reports whether this chunk's transformation failed.
func (r Result) Failed() bool { return r.Err != nil }

// transformRequest and transformResponse mirror the processor's wire framing.
type transformRequest struct {
	Chunk string `json:"chunk"`
}

type transformResponse struct {
	Message string `json:"message"`
	Chunk   string `json:"chunk,omitempty"`
	Details string `json:"details,omitempty"`
}

// ClientConfig configures the processor endpoint client. Zero values get
// defaults: Timeout 60s.
type ClientConfig struct {
	// Endpoint is the processor's transform URL.
	Endpoint string

	// Timeout bounds one transform call end-to-end. The transform step is
	// CPU-bound on chunk size, so this should comfortably exceed the worst
	// observed chunk latency.
	Timeout time.Duration

	// Transport optionally overrides the HTTP transport; tests inject a
	// RoundTripper here.
	Transport http.RoundTripper
}

// Client posts chunks to the processor endpoint. A transform call is made at
// most once per chunk: redelivery of the whole job is the only retry path, so
// the client never retries in-process.
type Client struct {
	endpoint string
	hc       *http.Client
}

// NewClient constructs a Client, applying defaults for zero config values.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	if cfg.Transport != nil {
		hc.Transport = cfg.Transport
	}
	return &Client{endpoint: cfg.Endpoint, hc: hc}
}

// Transform sends one chunk and maps every outcome, including transport
// errors and malformed responses, onto a Result.
func (c *Client) Transform(ctx context.Context, ck *chunk.Chunk) Result {
	res := Result{Seq: ck.Seq, Rows: ck.Rows}

	body, err := json.Marshal(transformRequest{Chunk: string(ck.Payload)})
	if err != nil {
		res.Err = fmt.Errorf("encode chunk %d: %w", ck.Seq, err)
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		res.Err = fmt.Errorf("build request for chunk %d: %w", ck.Seq, err)
		return res
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		res.Message = "transform call failed"
		res.Err = fmt.Errorf("transform chunk %d: %w", ck.Seq, err)
		return res
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		res.Message = "transform response unreadable"
		res.Err = fmt.Errorf("read response for chunk %d: %w", ck.Seq, err)
		return res
	}

	// Best-effort decode: a non-200 is a failure regardless of body shape.
	var tr transformResponse
	_ = json.Unmarshal(raw, &tr)
	res.Message = tr.Message
	res.Details = tr.Details

	if resp.StatusCode != http.StatusOK {
		if res.Message == "" {
			res.Message = fmt.Sprintf("processor returned status %d", resp.StatusCode)
		}
		res.Err = fmt.Errorf("transform chunk %d: status %d: %s", ck.Seq, resp.StatusCode, res.Message)
		return res
	}
	if tr.Chunk == "" {
		res.Err = fmt.Errorf("transform chunk %d: 200 response without chunk payload", ck.Seq)
		return res
	}
	res.Payload = []byte(tr.Chunk)
	return res
}
