package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE for a Postgres unique constraint error.
const uniqueViolation = "23505"

// Config holds Postgres repository configuration.
type Config struct {
	// DSN is the connection string for pgxpool.
	DSN string

	// TripsTable and VendorsTable default to "trips" and "vendors".
	TripsTable   string
	VendorsTable string
}

// Repository is the pgx-backed implementation of VendorStore and TripStore.
// The pool is safe for use by concurrent jobs; the vendors uniqueness
// constraint is the only cross-job coordination point.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewRepository connects a pool and returns the repository plus a close
// function for shutdown.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if cfg.TripsTable == "" {
		cfg.TripsTable = "trips"
	}
	if cfg.VendorsTable == "" {
		cfg.VendorsTable = "vendors"
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &Repository{pool: pool, cfg: cfg}, pool.Close, nil
}

// ExistingVendorKeys implements VendorStore.
func (r *Repository) ExistingVendorKeys(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf("SELECT vendor_id FROM %s", r.cfg.VendorsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]struct{}{}
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out[k] = struct{}{}
	}
	return out, rows.Err()
}

// InsertVendors implements VendorStore. The whole set of new keys goes in
// one transaction via COPY; a uniqueness conflict rolls the transaction back
// and surfaces as ErrUniqueViolation so the resolver can absorb it.
func (r *Repository) InsertVendors(ctx context.Context, keys []int64) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	src := make([][]any, len(keys))
	for i, k := range keys {
		src[i] = []any{k}
	}
	_, err = tx.CopyFrom(ctx, pgx.Identifier{r.cfg.VendorsTable}, []string{"vendor_id"}, pgx.CopyFromRows(src))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert vendors: %v: %w", pgErr.Message, ErrUniqueViolation)
		}
		return fmt.Errorf("insert vendors: %w", err)
	}
	return tx.Commit(ctx)
}

// VendorMap implements VendorStore.
func (r *Repository) VendorMap(ctx context.Context) (map[int64]int64, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf("SELECT vendor_id, id FROM %s", r.cfg.VendorsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]int64{}
	for rows.Next() {
		var natural, surrogate int64
		if err := rows.Scan(&natural, &surrogate); err != nil {
			return nil, err
		}
		out[natural] = surrogate
	}
	return out, rows.Err()
}

// CopyBatch implements TripStore: one batch, one transaction, one COPY.
func (r *Repository) CopyBatch(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	n, err := tx.CopyFrom(ctx, pgx.Identifier{r.cfg.TripsTable}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return n, fmt.Errorf("copy trips: %s (%s)", pgErr.Detail, pgErr.SQLState())
		}
		return n, fmt.Errorf("copy trips: %w", err)
	}
	return n, tx.Commit(ctx)
}
