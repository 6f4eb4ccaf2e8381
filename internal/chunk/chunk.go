// Package chunk splits a complete tabular dataset into bounded-size chunks.
//
// Splitting is purely structural: no values are inspected or rewritten, and
// every source row appears in exactly one chunk. Each chunk is a standalone
// CSV document carrying the dataset header, so the processor can transform it
// without any out-of-band schema.
package chunk

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"
)

// Chunk is one bounded slice of the source dataset. Seq is a 0-based sequence
// index used for diagnostics only; correctness does not depend on cross-chunk
// order.
type Chunk struct {
	Seq     int
	Rows    int
	Payload []byte
}

// Checksum returns an xxh3 hash of the payload, logged alongside Seq so a
// chunk seen on the splitter side can be matched to the one the processor
// received when debugging transport issues.
func (c *Chunk) Checksum() uint64 { return xxh3.Hash(c.Payload) }

// Splitter produces a lazy, finite, non-restartable sequence of Chunks from a
// CSV stream. Rows are pulled from the underlying reader only as Next is
// called, so peak memory stays around one chunk regardless of dataset size.
type Splitter struct {
	cr      *csv.Reader
	header  []string
	maxRows int
	seq     int
	done    bool
}

// NewSplitter wraps r and reads the dataset header immediately, so framing
// errors at the very start of the stream surface before any dispatch work
// begins. maxRows bounds the number of data rows per chunk.
func NewSplitter(r io.Reader, maxRows int) (*Splitter, error) {
	if maxRows <= 0 {
		return nil, fmt.Errorf("chunk: maxRows must be > 0, got %d", maxRows)
	}
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("chunk: read dataset header: %w", err)
	}
	hdr := make([]string, len(header))
	copy(hdr, header)

	return &Splitter{cr: cr, header: hdr, maxRows: maxRows}, nil
}

// Header returns the dataset header row.
func (s *Splitter) Header() []string { return s.header }

// Next returns the next chunk, or io.EOF when the dataset is exhausted. Any
// other error means the source framing is malformed and the whole job must
// fail: a row that cannot be parsed cannot be attributed to a chunk, so
// continuing would silently lose data.
func (s *Splitter) Next() (*Chunk, error) {
	if s.done {
		return nil, io.EOF
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(s.header); err != nil {
		return nil, err
	}

	rows := 0
	for rows < s.maxRows {
		rec, err := s.cr.Read()
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("chunk: read row: %w", err)
		}
		if err := cw.Write(rec); err != nil {
			return nil, err
		}
		rows++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}

	if rows == 0 {
		s.done = true
		return nil, io.EOF
	}

	c := &Chunk{Seq: s.seq, Rows: rows, Payload: buf.Bytes()}
	s.seq++
	return c, nil
}
