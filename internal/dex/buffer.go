package dex

import (
	"sync"

	"github.com/solindexer/core/internal/solana"
)

// DefaultBufferCapacity is the default bound on buffered live bundles during
// backfill (spec.md §4.4, default 10,000).
const DefaultBufferCapacity = 10_000

// Buffer is the single-writer (live feed) / single-reader (drain task) queue
// described in spec.md §5. It is safe for one writer and one reader to use
// concurrently; the overflow list Drain returns is read only after the writer
// side is done appending (i.e. after backfill completes and draining begins).
//
// A raw solana.LogBundle carries no pool address — that only exists after
// decoding — so Buffer keys and deduplicates by signature alone. Overflow
// attribution to a pool (for the secondary backfill pass, spec.md §4.4)
// requires decoding the dropped bundle, which is the caller's job (see
// Runner.Drain); Buffer itself only tracks which bundles were evicted.
type Buffer struct {
	mu        sync.Mutex
	cap       int
	entries   []bufferEntry
	overflow  []solana.LogBundle // bundles dropped before they could be drained
	seen      map[string]struct{}
}

type bufferEntry struct {
	signature string
	bundle    solana.LogBundle
}

// NewBuffer constructs a Buffer with the given capacity. A non-positive
// capacity falls back to DefaultBufferCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{
		cap:  capacity,
		seen: make(map[string]struct{}),
	}
}

// Push appends a bundle. When the buffer is at capacity, the oldest entry is
// dropped and recorded for the caller to resolve into an overflowed pool via
// Runner.Drain, per spec.md §4.4's overflow behavior.
func (b *Buffer) Push(bundle solana.LogBundle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.seen[bundle.Signature]; dup {
		return
	}
	b.seen[bundle.Signature] = struct{}{}

	if len(b.entries) >= b.cap {
		dropped := b.entries[0]
		b.entries = b.entries[1:]
		b.overflow = append(b.overflow, dropped.bundle)
	}
	b.entries = append(b.entries, bufferEntry{signature: bundle.Signature, bundle: bundle})
}

// Drain removes and returns all buffered bundles in the order they were
// pushed (chronological arrival order), along with the bundles that were
// evicted by overflow before they could be drained. The caller decodes the
// overflowed bundles to find which pools need a secondary backfill pass,
// since Buffer has no decoder of its own.
func (b *Buffer) Drain() ([]solana.LogBundle, []solana.LogBundle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bundles := make([]solana.LogBundle, len(b.entries))
	for i, e := range b.entries {
		bundles[i] = e.bundle
	}
	b.entries = nil
	b.seen = make(map[string]struct{})

	overflowed := b.overflow
	b.overflow = nil

	return bundles, overflowed
}

// Len reports the number of currently buffered bundles.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
