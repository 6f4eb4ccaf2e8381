// Package transform implements the stateless chunk transformation applied by
// the processor service. It is a pure function over one chunk's CSV payload:
// no I/O, no shared state, and deterministic output for a given input.
//
// For each chunk it:
//
//  1. Parses pickup_datetime/dropoff_datetime into canonical timestamps. An
//     unparseable timestamp on any row rejects the whole chunk; the upstream
//     contract treats a chunk with bad timestamps as bad data, not as a set
//     of salvageable rows.
//  2. Derives trip_distance with the haversine great-circle formula
//     (Earth radius 6371 km).
//  3. Drops rows with any missing pickup/dropoff coordinate and rows with
//     trip_duration <= 0.
//  4. Normalizes numeric columns to canonical int64/float64 values so the
//     serialized output carries fixed-width types only (inputs like "1.0" in
//     an integer column become "1").
//
// A chunk missing a required column is a malformed input and fails with a
// descriptive error; it is never silently skipped.
package transform

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Tanayk7/etl-lambdas/internal/trip"
)

// Haversine returns the great-circle distance in kilometers between two
// points given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1, lon1 = lat1*math.Pi/180, lon1*math.Pi/180
	lat2, lon2 = lat2*math.Pi/180, lon2*math.Pi/180

	dlat := lat2 - lat1
	dlon := lon2 - lon1
	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * math.Asin(math.Sqrt(a)) * trip.EarthRadiusKm
}

// Stats summarizes one chunk transformation for logging.
type Stats struct {
	RowsIn      int
	RowsOut     int
	DroppedNull int // rows dropped for a missing coordinate
	DroppedDur  int // rows dropped for trip_duration <= 0
}

// Apply transforms one chunk payload (CSV with an InputColumns header, any
// column order) and returns the processed payload (CSV with the LoadColumns
// header, canonical order). The error is a whole-chunk rejection: bad
// framing, a missing required column, or an unparseable value.
func Apply(payload []byte) ([]byte, Stats, error) {
	var stats Stats

	cr := csv.NewReader(bytes.NewReader(payload))
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, stats, fmt.Errorf("read chunk header: %w", err)
	}

	// Resolve each required column by name so column order in the source
	// dataset doesn't matter.
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	srcIx := make([]int, len(trip.InputColumns))
	for i, name := range trip.InputColumns {
		six, ok := idx[name]
		if !ok {
			return nil, stats, fmt.Errorf("chunk is missing required column %q", name)
		}
		srcIx[i] = six
	}

	var out bytes.Buffer
	cw := csv.NewWriter(&out)
	if err := cw.Write(trip.LoadColumns); err != nil {
		return nil, stats, err
	}

	rec := make([]string, len(trip.LoadColumns))
	for line := 2; ; line++ {
		src, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("chunk line %d: %w", line, err)
		}
		stats.RowsIn++

		keep, err := transformRecord(src, srcIx, rec, &stats)
		if err != nil {
			return nil, stats, fmt.Errorf("chunk line %d: %w", line, err)
		}
		if !keep {
			continue
		}
		if err := cw.Write(rec); err != nil {
			return nil, stats, err
		}
		stats.RowsOut++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, stats, err
	}
	return out.Bytes(), stats, nil
}

// transformRecord validates, normalizes, and derives one row into rec
// (aligned to trip.LoadColumns). It returns keep=false when the row is
// filtered out, and a non-nil error for conditions that reject the chunk.
func transformRecord(src []string, srcIx []int, rec []string, stats *Stats) (bool, error) {
	field := func(col int) string {
		six := srcIx[col]
		if six >= len(src) {
			return ""
		}
		return strings.TrimSpace(src[six])
	}

	// Timestamps first: a bad timestamp rejects the chunk regardless of
	// whether the row would later be filtered.
	for _, col := range []int{trip.ColPickupDatetime, trip.ColDropoffDatetime} {
		v := field(col)
		t, err := time.Parse(trip.TimestampLayout, v)
		if err != nil {
			return false, fmt.Errorf("column %q: invalid timestamp %q", trip.LoadColumns[col], v)
		}
		rec[col] = t.Format(trip.TimestampLayout)
	}

	// Coordinates: a missing value drops the row; a present but non-numeric
	// value is bad data and rejects the chunk.
	coords := make([]float64, 4)
	coordCols := []int{
		trip.ColPickupLatitude, trip.ColPickupLongitude,
		trip.ColDropoffLatitude, trip.ColDropoffLongitude,
	}
	for i, col := range coordCols {
		v := field(col)
		if v == "" {
			stats.DroppedNull++
			return false, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return false, fmt.Errorf("column %q: %q not a number", trip.LoadColumns[col], v)
		}
		coords[i] = f
		rec[col] = formatFloat(f)
	}

	// Duration: non-positive (or absent) rows are filtered, not errors.
	durRaw := field(trip.ColTripDuration)
	if durRaw == "" {
		stats.DroppedDur++
		return false, nil
	}
	dur, err := parseInt(durRaw)
	if err != nil {
		return false, fmt.Errorf("column %q: %q not an integer", trip.LoadColumns[trip.ColTripDuration], durRaw)
	}
	if dur <= 0 {
		stats.DroppedDur++
		return false, nil
	}
	rec[trip.ColTripDuration] = strconv.FormatInt(dur, 10)

	// Remaining integer columns.
	for _, col := range []int{trip.ColVendorID, trip.ColPassengerCount} {
		v := field(col)
		n, err := parseInt(v)
		if err != nil {
			return false, fmt.Errorf("column %q: %q not an integer", trip.LoadColumns[col], v)
		}
		rec[col] = strconv.FormatInt(n, 10)
	}

	rec[trip.ColID] = field(trip.ColID)
	rec[trip.ColStoreAndFwdFlag] = field(trip.ColStoreAndFwdFlag)

	dist := Haversine(coords[0], coords[1], coords[2], coords[3])
	rec[trip.ColTripDistance] = formatFloat(dist)
	return true, nil
}

// parseInt accepts plain integers and integral floats ("42.0"), which show up
// when an upstream producer serialized an integer column as wide floats.
func parseInt(s string) (int64, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	if strings.IndexByte(s, '.') >= 0 {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
			return int64(f), nil
		}
	}
	return 0, fmt.Errorf("parse int %q", s)
}

// formatFloat serializes a float64 in the shortest form that round-trips.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
