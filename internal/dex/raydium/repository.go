package raydium

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/solindexer/core/internal/dex"
	"github.com/solindexer/core/internal/ingesterr"
)

// pqUniqueViolation is Postgres' SQLSTATE for a unique-constraint violation,
// mirrored from the teacher's pg_store.go duplicate-detection idiom.
const pqUniqueViolation = "23505"

// DefaultBatchSize bounds how many events SaveBatch commits per transaction,
// spec.md §4.2's chunked bulk-write responsibility.
const DefaultBatchSize = 500

// Repository is the L2 DEX Repository for Raydium: a transactional,
// idempotent writer that pairs EventBase with its EventDetail row in a
// single statement group, grounded on audit.PGStore.AppendAuditEvent's
// single-transaction insert pattern.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a Postgres-backed Repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save persists one decoded event atomically (base row + detail row in one
// transaction). A unique-constraint violation on (signature, pool,
// event_type) is reported as ingesterr.KindDuplicateSignature, which callers
// must treat as success.
func (r *Repository) Save(ctx context.Context, ev dex.ParsedEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ingesterr.New(ingesterr.KindRepositoryError, "", "", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	meta := ev.Meta()
	const insertBase = `
		INSERT INTO raydium_events (signature, pool, event_type, version, ts)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.ExecContext(ctx, insertBase, meta.Signature, meta.Pool, meta.EventType, meta.Version, meta.Timestamp); err != nil {
		if isUniqueViolation(err) {
			return ingesterr.New(ingesterr.KindDuplicateSignature, meta.Pool, meta.Signature, err)
		}
		return ingesterr.New(ingesterr.KindRepositoryError, meta.Pool, meta.Signature, fmt.Errorf("insert raydium_events: %w", err))
	}

	if err := r.insertDetail(ctx, tx, ev); err != nil {
		if isUniqueViolation(err) {
			return ingesterr.New(ingesterr.KindDuplicateSignature, meta.Pool, meta.Signature, err)
		}
		return ingesterr.New(ingesterr.KindRepositoryError, meta.Pool, meta.Signature, fmt.Errorf("insert detail: %w", err))
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ingesterr.New(ingesterr.KindDuplicateSignature, meta.Pool, meta.Signature, err)
		}
		return ingesterr.New(ingesterr.KindRepositoryError, meta.Pool, meta.Signature, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (r *Repository) insertDetail(ctx context.Context, tx *sql.Tx, ev dex.ParsedEvent) error {
	switch e := ev.(type) {
	case SwapEvent:
		const q = `
			INSERT INTO raydium_swap_details (signature, pool, amount_in, amount_out, min_amount_out, direction)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		_, err := tx.ExecContext(ctx, q, e.Signature, e.Pool, e.AmountIn, e.AmountOut, e.MinAmountOut, e.Direction)
		return err
	case LiquidityEvent:
		const q = `
			INSERT INTO raydium_liquidity_details (signature, pool, lp_amount, amount_a, amount_b, is_withdrawal)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		_, err := tx.ExecContext(ctx, q, e.Signature, e.Pool, e.LpAmount, e.AmountA, e.AmountB, e.IsWithdrawal)
		return err
	default:
		return fmt.Errorf("raydium: unhandled event type %T", ev)
	}
}

// SaveBatch persists many decoded events in chunks of DefaultBatchSize, one
// transaction per chunk, grounded on audit.PGStore.FetchPendingEventsForStreaming's
// bounded-chunk shape but for writes instead of reads. Unlike Save, a
// duplicate row inside a chunk does not abort that chunk: ON CONFLICT DO
// NOTHING skips it and the chunk's other rows still commit, since a replayed
// backlog is expected to overlap with what the live path already persisted.
// It returns the count of events, from the front of the slice, that were
// committed before the first chunk that failed (if any).
func (r *Repository) SaveBatch(ctx context.Context, events []dex.ParsedEvent) (int, error) {
	persisted := 0
	for start := 0; start < len(events); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(events) {
			end = len(events)
		}
		if err := r.saveChunk(ctx, events[start:end]); err != nil {
			return persisted, err
		}
		persisted = end
	}
	return persisted, nil
}

func (r *Repository) saveChunk(ctx context.Context, chunk []dex.ParsedEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ingesterr.New(ingesterr.KindRepositoryError, "", "", fmt.Errorf("begin batch tx: %w", err))
	}
	defer tx.Rollback()

	if err := insertEventBaseBatch(ctx, tx, chunk); err != nil {
		return err
	}

	var swaps, liquidity []dex.ParsedEvent
	for _, ev := range chunk {
		switch ev.(type) {
		case SwapEvent:
			swaps = append(swaps, ev)
		case LiquidityEvent:
			liquidity = append(liquidity, ev)
		}
	}
	if err := insertSwapDetailBatch(ctx, tx, swaps); err != nil {
		return err
	}
	if err := insertLiquidityDetailBatch(ctx, tx, liquidity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ingesterr.New(ingesterr.KindRepositoryError, "", "", fmt.Errorf("commit batch: %w", err))
	}
	return nil
}

func insertEventBaseBatch(ctx context.Context, tx *sql.Tx, events []dex.ParsedEvent) error {
	if len(events) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO raydium_events (signature, pool, event_type, version, ts) VALUES ")
	args := make([]any, 0, len(events)*5)
	for i, ev := range events {
		meta := ev.Meta()
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, meta.Signature, meta.Pool, meta.EventType, meta.Version, meta.Timestamp)
	}
	sb.WriteString(" ON CONFLICT (signature, pool, event_type) DO NOTHING")
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return ingesterr.New(ingesterr.KindRepositoryError, "", "", fmt.Errorf("batch insert raydium_events: %w", err))
	}
	return nil
}

func insertSwapDetailBatch(ctx context.Context, tx *sql.Tx, events []dex.ParsedEvent) error {
	if len(events) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO raydium_swap_details (signature, pool, amount_in, amount_out, min_amount_out, direction) VALUES ")
	args := make([]any, 0, len(events)*6)
	for i, ev := range events {
		e := ev.(SwapEvent)
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, e.Signature, e.Pool, e.AmountIn, e.AmountOut, e.MinAmountOut, e.Direction)
	}
	sb.WriteString(" ON CONFLICT (signature, pool) DO NOTHING")
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return ingesterr.New(ingesterr.KindRepositoryError, "", "", fmt.Errorf("batch insert raydium_swap_details: %w", err))
	}
	return nil
}

func insertLiquidityDetailBatch(ctx context.Context, tx *sql.Tx, events []dex.ParsedEvent) error {
	if len(events) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO raydium_liquidity_details (signature, pool, lp_amount, amount_a, amount_b, is_withdrawal) VALUES ")
	args := make([]any, 0, len(events)*6)
	for i, ev := range events {
		e := ev.(LiquidityEvent)
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, e.Signature, e.Pool, e.LpAmount, e.AmountA, e.AmountB, e.IsWithdrawal)
	}
	sb.WriteString(" ON CONFLICT (signature, pool) DO NOTHING")
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return ingesterr.New(ingesterr.KindRepositoryError, "", "", fmt.Errorf("batch insert raydium_liquidity_details: %w", err))
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}
