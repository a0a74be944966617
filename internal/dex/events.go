// Package dex defines the Indexer Contract (spec.md §4.4): a protocol-
// polymorphic interface each DEX family implements, plus the shared default
// behaviors (process_log_bundle, run_backfill, run_live) that the
// coordinator, backfill manager, and stream manager all drive through a
// common Runner rather than through per-DEX copies of the same plumbing.
package dex

import (
	"context"
	"time"

	"github.com/solindexer/core/internal/solana"
)

// EventMeta is the common envelope every decoded event carries, matching the
// EventBase entity in spec.md §3.
type EventMeta struct {
	Signature string
	Pool      string
	EventType string
	Version   int
	Timestamp time.Time
}

// ParsedEvent is the tagged-union member every DEX decoder produces. Each
// DEX's concrete event types (e.g. raydium.SwapEvent) embed EventMeta and
// implement Meta().
type ParsedEvent interface {
	Meta() EventMeta
}

// PoolSet is a read-only set of tracked pool addresses.
type PoolSet map[string]struct{}

// NewPoolSet builds a PoolSet from a slice of addresses.
func NewPoolSet(addrs []string) PoolSet {
	s := make(PoolSet, len(addrs))
	for _, a := range addrs {
		s[a] = struct{}{}
	}
	return s
}

// Contains reports whether addr is tracked.
func (s PoolSet) Contains(addr string) bool {
	_, ok := s[addr]
	return ok
}

// Slice returns the set's members in no particular order.
func (s PoolSet) Slice() []string {
	out := make([]string, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	return out
}

// Indexer is the capability set a DEX family supplies (spec.md §4.4). Shared
// behaviors (log-bundle processing, backfill, live consumption) live on
// Runner, which embeds an Indexer value — Go has no default interface
// methods, so composition stands in for the "shared defaults" the spec
// describes in prose.
type Indexer interface {
	// DexName identifies the DEX family for logging, metrics, and the
	// per-DEX event tables.
	DexName() string
	// ProgramIDs lists the on-chain programs whose logs this DEX consumes.
	ProgramIDs() []string
	// PoolFilter returns the currently tracked pool addresses.
	PoolFilter() PoolSet
	// DecodeLogs is spec.md §4.3: a pure function from a log bundle to zero
	// or more decoded events. It must make no network or database calls.
	DecodeLogs(bundle solana.LogBundle) ([]ParsedEvent, error)
	// HandleEvent persists a single decoded event. Implementations must be
	// idempotent on signature conflicts (DuplicateSignature is success).
	HandleEvent(ctx context.Context, ev ParsedEvent) error
}

// BatchHandler is an optional Indexer capability that persists many events
// in chunks of bounded size, one transaction per chunk (spec.md §4.2's
// batched-write responsibility), instead of one transaction per event. The
// backfill manager prefers this when an Indexer implements it, since a
// backfill pass naturally accumulates a backlog before any of it needs to be
// durable immediately, unlike the live path.
type BatchHandler interface {
	// HandleEventBatch persists events in order, committing in chunks. It
	// returns the count of events from the front of the slice that were
	// durably committed before the first failing chunk, if any — callers
	// use this to know exactly how far a contiguous prefix advanced.
	HandleEventBatch(ctx context.Context, events []ParsedEvent) (persisted int, err error)
}
