// Package trip defines the canonical trip-record data model shared by the
// splitter and processor services: the column set of the source dataset, the
// column set produced by the transform step, the timestamp layout, and the
// typed row representation used for vendor resolution and bulk loading.
//
// Columns are positional everywhere. Chunk payloads, the transform output,
// and the COPY into the trips table all use the orders declared here, so a
// single misalignment shows up immediately rather than as silently shifted
// data.
package trip

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// TimestampLayout is the wire format of pickup_datetime and dropoff_datetime
// in the source dataset.
const TimestampLayout = "2006-01-02 15:04:05"

// EarthRadiusKm is the Earth radius used by the haversine distance
// derivation. The value is fixed; loaded trip_distance values are only
// comparable across jobs because every job uses the same constant.
const EarthRadiusKm = 6371.0

// InputColumns is the header of the source dataset and of every chunk sent to
// the processor.
var InputColumns = []string{
	"id",
	"vendor_id",
	"pickup_datetime",
	"dropoff_datetime",
	"passenger_count",
	"pickup_longitude",
	"pickup_latitude",
	"dropoff_longitude",
	"dropoff_latitude",
	"store_and_fwd_flag",
	"trip_duration",
}

// LoadColumns is the header of a processed chunk and the positional column
// order of the COPY into the trips table: InputColumns plus the derived
// trip_distance.
var LoadColumns = append(append([]string{}, InputColumns...), "trip_distance")

// Positional indexes into InputColumns/LoadColumns. The first eleven are
// shared between both orders.
const (
	ColID = iota
	ColVendorID
	ColPickupDatetime
	ColDropoffDatetime
	ColPassengerCount
	ColPickupLongitude
	ColPickupLatitude
	ColDropoffLongitude
	ColDropoffLatitude
	ColStoreAndFwdFlag
	ColTripDuration
	ColTripDistance
)

// Row is one fact row aligned to LoadColumns, holding database-ready values:
// string, int64, float64, time.Time, or nil for NULL.
type Row []any

// VendorKey returns the row's vendor reference as an int64 natural (or, after
// resolution, surrogate) key.
func (r Row) VendorKey() (int64, bool) {
	v, ok := r[ColVendorID].(int64)
	return v, ok
}

// SetVendorKey rewrites the row's vendor reference in place.
func (r Row) SetVendorKey(id int64) { r[ColVendorID] = id }

// DecodeProcessed parses one processed chunk (CSV with a LoadColumns header)
// into typed rows ready for vendor resolution and COPY. The processor has
// already cleaned and normalized the data, so any parse failure here means
// the chunk payload is corrupt and fails the job.
func DecodeProcessed(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read processed header: %w", err)
	}
	if len(header) != len(LoadColumns) {
		return nil, fmt.Errorf("processed chunk has %d columns, want %d", len(header), len(LoadColumns))
	}
	for i, name := range LoadColumns {
		if header[i] != name {
			return nil, fmt.Errorf("processed chunk column %d is %q, want %q", i, header[i], name)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("processed chunk line %d: %w", line, err)
		}
		row, err := decodeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("processed chunk line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// decodeRecord converts one CSV record into a typed Row.
func decodeRecord(rec []string) (Row, error) {
	row := make(Row, len(LoadColumns))

	row[ColID] = rec[ColID]
	row[ColStoreAndFwdFlag] = rec[ColStoreAndFwdFlag]

	for _, ix := range []int{ColVendorID, ColPassengerCount, ColTripDuration} {
		v, err := strconv.ParseInt(rec[ix], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %q: %q not an integer", LoadColumns[ix], rec[ix])
		}
		row[ix] = v
	}
	for _, ix := range []int{
		ColPickupLongitude, ColPickupLatitude,
		ColDropoffLongitude, ColDropoffLatitude, ColTripDistance,
	} {
		v, err := strconv.ParseFloat(rec[ix], 64)
		if err != nil {
			return nil, fmt.Errorf("column %q: %q not a float", LoadColumns[ix], rec[ix])
		}
		row[ix] = v
	}
	for _, ix := range []int{ColPickupDatetime, ColDropoffDatetime} {
		t, err := time.Parse(TimestampLayout, rec[ix])
		if err != nil {
			return nil, fmt.Errorf("column %q: invalid timestamp %q", LoadColumns[ix], rec[ix])
		}
		row[ix] = t
	}
	return row, nil
}

// DistinctVendorKeys collects the set of natural vendor keys appearing in
// rows, in first-seen order.
func DistinctVendorKeys(rows []Row) []int64 {
	seen := make(map[int64]struct{}, 8)
	var keys []int64
	for _, r := range rows {
		k, ok := r.VendorKey()
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
