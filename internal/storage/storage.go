// Package storage persists transformed trip rows: it deduplicates the vendor
// dimension against the store and bulk-loads fact rows in fixed-size batches.
//
// The package is split along a narrow seam: the resolver and loader logic
// here depend only on the VendorStore and TripStore interfaces, while the
// pgx-backed implementation lives in postgres.go. Tests drive the logic with
// in-memory fakes; production wires in the Postgres repository.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Tanayk7/etl-lambdas/internal/trip"
)

// ErrUniqueViolation marks a dimension insert that lost a race with a
// concurrent job. Implementations wrap their driver's uniqueness error with
// this sentinel so the resolver can absorb it without knowing the driver.
var ErrUniqueViolation = errors.New("unique constraint violation")

// VendorStore is the dimension side of the store.
type VendorStore interface {
	// ExistingVendorKeys returns the set of natural keys already present.
	ExistingVendorKeys(ctx context.Context) (map[int64]struct{}, error)

	// InsertVendors bulk-inserts new dimension rows in one transaction.
	// On a uniqueness conflict the transaction is rolled back and the
	// returned error wraps ErrUniqueViolation.
	InsertVendors(ctx context.Context, keys []int64) error

	// VendorMap returns the full natural-key to surrogate-key mapping.
	VendorMap(ctx context.Context) (map[int64]int64, error)
}

// TripStore is the fact side of the store. CopyBatch streams one batch into
// the trips table inside its own transaction: commit on success, rollback on
// failure. It returns the number of rows written.
type TripStore interface {
	CopyBatch(ctx context.Context, columns []string, rows [][]any) (int64, error)
}

// ResolveVendors deduplicates the natural vendor keys appearing in rows
// against the store, inserts unseen ones, and rewrites every row's vendor
// reference to its surrogate key in place.
//
// Concurrent jobs may race to insert the same new key. The store's
// uniqueness constraint is the arbiter: a conflicting insert is rolled back
// and treated as "a concurrent job inserted it first", after which the
// re-queried mapping supplies the surrogate key. A row whose natural key
// still cannot be resolved after that is a hard error, never a drop.
func ResolveVendors(ctx context.Context, store VendorStore, rows []trip.Row) error {
	keys := trip.DistinctVendorKeys(rows)
	if len(keys) == 0 {
		return nil
	}

	existing, err := store.ExistingVendorKeys(ctx)
	if err != nil {
		return fmt.Errorf("resolve vendors: query existing: %w", err)
	}

	var fresh []int64
	for _, k := range keys {
		if _, ok := existing[k]; !ok {
			fresh = append(fresh, k)
		}
	}

	if len(fresh) > 0 {
		if err := store.InsertVendors(ctx, fresh); err != nil {
			if !errors.Is(err, ErrUniqueViolation) {
				return fmt.Errorf("resolve vendors: insert: %w", err)
			}
			// Lost the race: the conflicting keys were inserted by a
			// concurrent job. The re-query below picks them up.
			log.Printf("storage: vendor insert conflicted, assuming concurrent insert: %v", err)
		} else {
			log.Printf("storage: inserted %d new vendors", len(fresh))
		}
	}

	mapping, err := store.VendorMap(ctx)
	if err != nil {
		return fmt.Errorf("resolve vendors: query mapping: %w", err)
	}

	for i, r := range rows {
		k, ok := r.VendorKey()
		if !ok {
			return fmt.Errorf("resolve vendors: row %d has no integer vendor key", i)
		}
		id, ok := mapping[k]
		if !ok {
			return fmt.Errorf("resolve vendors: vendor_id %d not present after insert", k)
		}
		r.SetVendorKey(id)
	}
	return nil
}

// LoadBatches partitions rows into fixed-size batches in stable input order
// and streams each into the fact table via store.CopyBatch. Batches commit
// strictly in their assigned sequence.
//
// A batch failure aborts only that batch's transaction and propagates; prior
// batches stay committed. There is no cross-batch atomicity: a redelivered
// job re-inserts already-committed batches, which callers needing
// exactly-once must dedupe themselves.
func LoadBatches(ctx context.Context, store TripStore, rows []trip.Row, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("load: batchSize must be > 0")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	nBatches := (len(rows) + batchSize - 1) / batchSize
	var (
		total     int64
		start     = time.Now()
		lastFlush = start
	)

	for b := 0; b < nBatches; b++ {
		lo := b * batchSize
		hi := lo + batchSize
		if hi > len(rows) {
			hi = len(rows)
		}

		batch := make([][]any, hi-lo)
		for i, r := range rows[lo:hi] {
			batch[i] = r
		}

		n, err := store.CopyBatch(ctx, trip.LoadColumns, batch)
		if err != nil {
			// n may count rows of the rolled-back COPY; only committed
			// batches contribute to total.
			log.Printf("loader: batch %d/%d failed after total=%d: %v", b+1, nBatches, total, err)
			return total, fmt.Errorf("load batch %d/%d: %w", b+1, nBatches, err)
		}
		total += n

		now := time.Now()
		since := now.Sub(lastFlush)
		rps := float64(0)
		if since > 0 {
			rps = float64(n) / since.Seconds()
		}
		log.Printf("loader: batch %d/%d rows=%d total=%d rps=%.0f elapsed=%s",
			b+1, nBatches, n, total, rps, now.Sub(start).Truncate(time.Millisecond))
		lastFlush = now
	}
	return total, nil
}
