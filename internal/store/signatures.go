// Package store implements the L1 Signature Store and read-only access to
// the Pool/TokenMetadata entities, both backed by Postgres via
// github.com/lib/pq — the same driver the teacher's audit.PGStore uses.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/solindexer/core/internal/ingesterr"
)

// SignatureStore persists the recovery cursor described in spec.md §4.1.
// Set is the sole writer; callers must invoke it only after the events for
// a signature are durably persisted (spec.md's contract).
type SignatureStore struct {
	db *sql.DB
}

// NewSignatureStore constructs a Postgres-backed SignatureStore.
func NewSignatureStore(db *sql.DB) *SignatureStore {
	return &SignatureStore{db: db}
}

// Ping verifies connectivity, used by the ops /healthz endpoint.
func (s *SignatureStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get returns the recovery cursor for (dexName, pool). It returns
// ingesterr.ErrNoCursor if no cursor has ever been persisted for this pool.
func (s *SignatureStore) Get(ctx context.Context, dexName, pool string) (signature string, slot uint64, err error) {
	const q = `SELECT signature, last_slot FROM last_signatures WHERE pool_address = $1 AND dex = $2`
	row := s.db.QueryRowContext(ctx, q, pool, dexName)

	var sig string
	var lastSlot sql.NullInt64
	if err := row.Scan(&sig, &lastSlot); err != nil {
		if err == sql.ErrNoRows {
			return "", 0, ingesterr.ErrNoCursor
		}
		return "", 0, fmt.Errorf("query last_signatures: %w", err)
	}
	return sig, uint64(lastSlot.Int64), nil
}

// Set upserts the cursor for (dexName, pool), writing it only if the new
// slot is greater than or equal to the stored one (or the row doesn't exist
// yet); a lower slot leaves the row unchanged. A regression attempt
// is logged by the caller via the returned ingesterr.KindCursorRegression
// error rather than silently discarded, so callers can observe and count it
// (spec.md §7: "Logged at warn; no write performed").
func (s *SignatureStore) Set(ctx context.Context, dexName, pool, signature string, slot uint64) error {
	const q = `
		INSERT INTO last_signatures (pool_address, dex, signature, last_slot, last_updated)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (pool_address) DO UPDATE
		SET signature = EXCLUDED.signature,
		    last_slot = EXCLUDED.last_slot,
		    dex = EXCLUDED.dex,
		    last_updated = now()
		WHERE last_signatures.last_slot IS NULL OR last_signatures.last_slot <= EXCLUDED.last_slot
	`
	res, err := s.db.ExecContext(ctx, q, pool, dexName, signature, int64(slot))
	if err != nil {
		return fmt.Errorf("upsert last_signatures: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// The WHERE guard rejected the update because the stored slot is
		// higher. Re-read to report the regression against the stored value.
		existingSig, existingSlot, getErr := s.Get(ctx, dexName, pool)
		if getErr == nil && existingSig != signature && existingSlot >= slot {
			return ingesterr.New(ingesterr.KindCursorRegression, pool, signature, fmt.Errorf("attempted to set cursor to slot %d, current is %d", slot, existingSlot))
		}
	}
	return nil
}

// CursorTimestamp is exposed for diagnostics/tests; not part of the core
// ingestion contract.
type CursorTimestamp struct {
	Pool        string
	Dex         string
	Signature   string
	Slot        uint64
	LastUpdated time.Time
}
