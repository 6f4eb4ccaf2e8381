// Package processor exposes the chunk transform function over HTTP.
//
// Routes:
//
//	POST /process → transforms one chunk
//	GET  /healthz → liveness probe
//
// Request body: {"chunk": "<csv>"}. On success the response is
// 200 {"message","chunk"}; on any failure it is 500 {"message","details"},
// where details carries the underlying error for diagnostics. The handler is
// stateless; concurrency is bounded only by the HTTP server itself.
package processor

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/Tanayk7/etl-lambdas/internal/transform"
)

// Config controls server startup.
type Config struct {
	Addr string
}

// Server wraps an http.ServeMux with the processor routes.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// NewServer constructs a Server with routes installed.
func NewServer(cfg Config) *Server {
	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the root handler; tests mount it on httptest servers.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	log.Printf("processor: listening on %s", s.cfg.Addr)
	return http.ListenAndServe(s.cfg.Addr, s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/process", s.handleProcess)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
}

type processRequest struct {
	Chunk string `json:"chunk"`
}

type processResponse struct {
	Message string `json:"message"`
	Chunk   string `json:"chunk,omitempty"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusInternalServerError, processResponse{
			Message: "Error occurred while processing chunk.",
			Details: "decode request: " + err.Error(),
		})
		return
	}
	if req.Chunk == "" {
		writeJSON(w, http.StatusInternalServerError, processResponse{
			Message: "Error occurred while processing chunk.",
			Details: "request is missing the chunk field",
		})
		return
	}

	start := time.Now()
	out, stats, err := transform.Apply([]byte(req.Chunk))
	if err != nil {
		log.Printf("processor: chunk rejected: %v", err)
		writeJSON(w, http.StatusInternalServerError, processResponse{
			Message: "Error occurred while processing chunk.",
			Details: err.Error(),
		})
		return
	}

	log.Printf("processor: chunk ok rows_in=%d rows_out=%d dropped_null=%d dropped_duration=%d elapsed=%s",
		stats.RowsIn, stats.RowsOut, stats.DroppedNull, stats.DroppedDur,
		time.Since(start).Truncate(time.Millisecond))

	writeJSON(w, http.StatusOK, processResponse{
		Message: "Chunk processed successfully!",
		Chunk:   string(out),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("processor: write response: %v", err)
	}
}
