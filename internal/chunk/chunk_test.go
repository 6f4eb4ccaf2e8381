package chunk

import (
	"fmt"
	"io"
	"strings"
	"testing"
)

// dataset builds a CSV document with the given number of data rows.
func dataset(rows int) string {
	var sb strings.Builder
	sb.WriteString("id,vendor_id,trip_duration\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "id%d,%d,%d\n", i, i%3, 100+i)
	}
	return sb.String()
}

// drain pulls every chunk out of a splitter.
func drain(t *testing.T, s *Splitter) []*Chunk {
	t.Helper()
	var out []*Chunk
	for {
		c, err := s.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, c)
	}
}

// TestSplitter_ChunkCounts verifies that R rows with chunk size C yield
// ceil(R/C) chunks whose row counts sum to exactly R.
func TestSplitter_ChunkCounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rows, size, wantChunks int
	}{
		{rows: 10, size: 3, wantChunks: 4},
		{rows: 9, size: 3, wantChunks: 3},
		{rows: 1, size: 20000, wantChunks: 1},
		{rows: 0, size: 5, wantChunks: 0},
		{rows: 5, size: 5, wantChunks: 1},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("rows=%d size=%d", tc.rows, tc.size), func(t *testing.T) {
			s, err := NewSplitter(strings.NewReader(dataset(tc.rows)), tc.size)
			if err != nil {
				t.Fatalf("NewSplitter: %v", err)
			}
			chunks := drain(t, s)
			if len(chunks) != tc.wantChunks {
				t.Fatalf("got %d chunks, want %d", len(chunks), tc.wantChunks)
			}
			sum := 0
			for i, c := range chunks {
				if c.Seq != i {
					t.Fatalf("chunk %d has Seq=%d", i, c.Seq)
				}
				sum += c.Rows
			}
			if sum != tc.rows {
				t.Fatalf("row counts sum to %d, want %d", sum, tc.rows)
			}
		})
	}
}

// TestSplitter_PreservesEveryRowOnce reassembles the chunk payloads and
// checks the concatenation matches the source dataset row-for-row.
func TestSplitter_PreservesEveryRowOnce(t *testing.T) {
	t.Parallel()

	src := dataset(7)
	s, err := NewSplitter(strings.NewReader(src), 3)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}

	var rows []string
	for _, c := range drain(t, s) {
		lines := strings.Split(strings.TrimSpace(string(c.Payload)), "\n")
		if lines[0] != "id,vendor_id,trip_duration" {
			t.Fatalf("chunk %d header = %q", c.Seq, lines[0])
		}
		rows = append(rows, lines[1:]...)
	}

	want := strings.Split(strings.TrimSpace(src), "\n")[1:]
	if len(rows) != len(want) {
		t.Fatalf("reassembled %d rows, want %d", len(rows), len(want))
	}
	for i := range rows {
		if rows[i] != want[i] {
			t.Fatalf("row %d = %q, want %q", i, rows[i], want[i])
		}
	}
}

// TestSplitter_MalformedFraming verifies that a row with broken quoting
// fails the split instead of being dropped.
func TestSplitter_MalformedFraming(t *testing.T) {
	t.Parallel()

	src := "id,vendor_id\nid1,1\n\"broken,2\nid3,3\n"
	s, err := NewSplitter(strings.NewReader(src), 10)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}
	_, err = s.Next()
	if err == nil || err == io.EOF {
		t.Fatalf("expected framing error, got %v", err)
	}
}

// TestSplitter_EmptyInput ensures a completely empty payload fails at header
// read, before any chunks are produced.
func TestSplitter_EmptyInput(t *testing.T) {
	t.Parallel()

	if _, err := NewSplitter(strings.NewReader(""), 10); err == nil {
		t.Fatal("expected header error for empty input")
	}
}

// TestChunk_ChecksumStable verifies identical payloads hash identically and
// different payloads do not.
func TestChunk_ChecksumStable(t *testing.T) {
	t.Parallel()

	a := &Chunk{Payload: []byte("id\n1\n")}
	b := &Chunk{Payload: []byte("id\n1\n")}
	c := &Chunk{Payload: []byte("id\n2\n")}
	if a.Checksum() != b.Checksum() {
		t.Fatal("equal payloads should have equal checksums")
	}
	if a.Checksum() == c.Checksum() {
		t.Fatal("different payloads should not collide in this test")
	}
}
