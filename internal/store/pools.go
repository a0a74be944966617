package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/solindexer/core/internal/ingesterr"
)

// Pool mirrors the subscribed_pools schema contract spec.md §6 hands to an
// external loader: pool_mint is the primary key, matching how pools are
// addressed everywhere else in this codebase (signatures, cursors, events).
type Pool struct {
	PoolMint   string
	Dex        string
	TokenAMint string
	TokenBMint string
	CreatedAt  sql.NullTime
}

// TokenMetadata mirrors the TokenMetadata entity in spec.md §3.
type TokenMetadata struct {
	Mint     string
	Symbol   string
	Decimals int
}

// PoolStore reads the registered pool set and token metadata cache (plus
// the UpsertPool write below) — the coordinator's pool-resolution step (spec.md §4.7)
// reads from here when no CLI override is given. The subscribed_pools table
// it reads is populated by an external loader against spec.md §6's schema
// contract, so its name and column names are load-bearing, not incidental.
type PoolStore struct {
	db *sql.DB
}

// NewPoolStore constructs a Postgres-backed PoolStore.
func NewPoolStore(db *sql.DB) *PoolStore {
	return &PoolStore{db: db}
}

// ListByDex returns every pool registered for the given DEX family.
func (s *PoolStore) ListByDex(ctx context.Context, dexName string) ([]Pool, error) {
	const q = `SELECT pool_mint, dex, token_a_mint, token_b_mint, created_at FROM subscribed_pools WHERE dex = $1`
	rows, err := s.db.QueryContext(ctx, q, dexName)
	if err != nil {
		return nil, fmt.Errorf("query subscribed_pools: %w", err)
	}
	defer rows.Close()

	var pools []Pool
	for rows.Next() {
		var p Pool
		if err := rows.Scan(&p.PoolMint, &p.Dex, &p.TokenAMint, &p.TokenBMint, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscribed_pools row: %w", err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// TokenByMint looks up cached token metadata, returning ingesterr.ErrNotFound
// when the mint has never been observed. The decoders do not call it.
func (s *PoolStore) TokenByMint(ctx context.Context, mint string) (TokenMetadata, error) {
	const q = `SELECT mint, symbol, decimals FROM token_metadata WHERE mint = $1`
	row := s.db.QueryRowContext(ctx, q, mint)

	var t TokenMetadata
	if err := row.Scan(&t.Mint, &t.Symbol, &t.Decimals); err != nil {
		if err == sql.ErrNoRows {
			return TokenMetadata{}, ingesterr.ErrNotFound
		}
		return TokenMetadata{}, fmt.Errorf("query token_metadata: %w", err)
	}
	return t, nil
}

// UpsertPool registers or updates a pool's token pair. It is PoolStore's
// only write; the coordinator and backfill path do not call it.
func (s *PoolStore) UpsertPool(ctx context.Context, p Pool) error {
	const q = `
		INSERT INTO subscribed_pools (pool_mint, dex, token_a_mint, token_b_mint, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (pool_mint) DO UPDATE
		SET token_a_mint = EXCLUDED.token_a_mint,
		    token_b_mint = EXCLUDED.token_b_mint
	`
	_, err := s.db.ExecContext(ctx, q, p.PoolMint, p.Dex, p.TokenAMint, p.TokenBMint)
	if err != nil {
		return fmt.Errorf("upsert subscribed_pools: %w", err)
	}
	return nil
}
