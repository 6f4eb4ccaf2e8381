package processor

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(Config{}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url string, body any) (*http.Response, processResponse) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var pr processResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, pr
}

// TestProcess_Success checks the 200 framing: message plus transformed chunk.
func TestProcess_Success(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	payload := "id,vendor_id,pickup_datetime,dropoff_datetime,passenger_count," +
		"pickup_longitude,pickup_latitude,dropoff_longitude,dropoff_latitude," +
		"store_and_fwd_flag,trip_duration\n" +
		"id1,2,2016-03-14 17:24:55,2016-03-14 17:32:30,1,-73.98,40.76,-73.96,40.76,N,455\n"

	resp, pr := post(t, srv.URL+"/process", map[string]string{"chunk": payload})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200 (details: %s)", resp.StatusCode, pr.Details)
	}
	if pr.Message == "" || pr.Chunk == "" {
		t.Fatalf("success response incomplete: %+v", pr)
	}
	if !strings.Contains(pr.Chunk, "trip_distance") {
		t.Fatalf("transformed chunk missing derived column: %q", pr.Chunk)
	}
}

// TestProcess_BadChunk checks the 500 framing for a chunk-level rejection.
func TestProcess_BadChunk(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp, pr := post(t, srv.URL+"/process", map[string]string{"chunk": "id,vendor_id\nid1,2\n"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", resp.StatusCode)
	}
	if pr.Message == "" || pr.Details == "" {
		t.Fatalf("failure response incomplete: %+v", pr)
	}
	if pr.Chunk != "" {
		t.Fatal("failure response must not carry a chunk")
	}
}

// TestProcess_MissingChunkField rejects requests without a chunk.
func TestProcess_MissingChunkField(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp, pr := post(t, srv.URL+"/process", map[string]string{})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", resp.StatusCode)
	}
	if !strings.Contains(pr.Details, "chunk") {
		t.Fatalf("details should mention the missing field: %q", pr.Details)
	}
}

// TestProcess_MethodNotAllowed rejects non-POST requests.
func TestProcess_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/process")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d, want 405", resp.StatusCode)
	}
}
