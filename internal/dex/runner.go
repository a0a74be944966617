package dex

import (
	"context"
	"log"

	"github.com/solindexer/core/internal/ingesterr"
	"github.com/solindexer/core/internal/solana"
)

// CursorStore is the L1 Signature Store capability Runner needs. It is
// defined here (rather than imported from internal/store) so this package
// depends only on the shape it uses — internal/store.SignatureStore
// satisfies it.
type CursorStore interface {
	Get(ctx context.Context, dexName, pool string) (signature string, slot uint64, err error)
	Set(ctx context.Context, dexName, pool, signature string, slot uint64) error
}

// Metrics is the subset of counters Runner increments. internal/metrics
// provides the production implementation; tests may pass a no-op.
type Metrics interface {
	IncDecodeMismatch(dexName string)
	IncDuplicateSignature(dexName string)
	IncRepositoryError(dexName string)
	ObserveBundleProcessed(dexName string)
	SetBackfillLagSlots(dexName, pool string, lag float64)
	SetStreamLagSeconds(dexName string, seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) IncDecodeMismatch(string)                    {}
func (noopMetrics) IncDuplicateSignature(string)                {}
func (noopMetrics) IncRepositoryError(string)                   {}
func (noopMetrics) ObserveBundleProcessed(string)               {}
func (noopMetrics) SetBackfillLagSlots(string, string, float64) {}
func (noopMetrics) SetStreamLagSeconds(string, float64)         {}

// Runner supplies the shared default behaviors spec.md §4.4 describes in
// prose — process_log_bundle, run_backfill orchestration hooks, and
// run_live — around an embedded Indexer. One Runner exists per DEX family
// per coordinator run.
type Runner struct {
	Indexer Indexer
	Cursors CursorStore
	Buffer  *Buffer
	Metrics Metrics

	state stateBox
}

// NewRunner constructs a Runner in the Created state.
func NewRunner(indexer Indexer, cursors CursorStore, bufferCapacity int, metrics Metrics) *Runner {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	r := &Runner{
		Indexer: indexer,
		Cursors: cursors,
		Buffer:  NewBuffer(bufferCapacity),
		Metrics: metrics,
	}
	r.state.Store(StateCreated)
	return r
}

// State returns the current lifecycle state.
func (r *Runner) State() RunState { return r.state.Load() }

// SetState transitions the lifecycle state. Callers (the coordinator) are
// responsible for only making valid transitions; Runner itself does not
// enforce the state graph since it is driven externally by the coordinator.
func (r *Runner) SetState(s RunState) { r.state.Store(s) }

// DecodeAndHandle runs spec.md §4.3's decode step followed by §4.4's
// handle_event for each decoded event, without touching the cursor. The
// backfill manager uses this directly so it can advance the cursor only
// across a contiguous persisted prefix (spec.md §4.5), rather than per
// bundle. It returns the count of events that were successfully persisted
// (including duplicates, which count as already-persisted) and the first
// non-duplicate error encountered, if any.
func (r *Runner) DecodeAndHandle(ctx context.Context, bundle solana.LogBundle) (persisted int, err error) {
	events, decErr := r.Indexer.DecodeLogs(bundle)
	if decErr != nil {
		if ingesterr.KindOf(decErr) == ingesterr.KindDecodeMismatch {
			r.Metrics.IncDecodeMismatch(r.Indexer.DexName())
		}
		return 0, decErr
	}

	for _, ev := range events {
		meta := ev.Meta()
		handleErr := r.Indexer.HandleEvent(ctx, ev)
		if handleErr == nil {
			persisted++
			continue
		}
		if ingesterr.IsDuplicate(handleErr) {
			r.Metrics.IncDuplicateSignature(r.Indexer.DexName())
			persisted++
			continue
		}
		kind := ingesterr.KindOf(handleErr)
		if kind == ingesterr.KindDecodeMismatch {
			r.Metrics.IncDecodeMismatch(r.Indexer.DexName())
			log.Printf("kind=%s dex=%s pool=%s signature=%s: %v", kind, r.Indexer.DexName(), meta.Pool, meta.Signature, handleErr)
			continue
		}
		r.Metrics.IncRepositoryError(r.Indexer.DexName())
		log.Printf("kind=%s dex=%s pool=%s signature=%s: %v", kind, r.Indexer.DexName(), meta.Pool, meta.Signature, handleErr)
		return persisted, handleErr
	}
	return persisted, nil
}

// ProcessLogBundle is spec.md §4.4's shared default: decode, handle every
// event, and on success advance the cursor for every pool the bundle
// touched, once per distinct signature. It is used by the live path and by
// the drain step; the backfill manager uses DecodeAndHandle instead so it
// can control cursor advancement at the prefix level.
func (r *Runner) ProcessLogBundle(ctx context.Context, bundle solana.LogBundle) error {
	events, decErr := r.Indexer.DecodeLogs(bundle)
	if decErr != nil {
		if ingesterr.KindOf(decErr) == ingesterr.KindDecodeMismatch {
			r.Metrics.IncDecodeMismatch(r.Indexer.DexName())
		}
		return decErr
	}

	touchedPools := make(map[string]struct{})
	for _, ev := range events {
		meta := ev.Meta()
		handleErr := r.Indexer.HandleEvent(ctx, ev)
		if handleErr == nil {
			touchedPools[meta.Pool] = struct{}{}
			continue
		}
		if ingesterr.IsDuplicate(handleErr) {
			r.Metrics.IncDuplicateSignature(r.Indexer.DexName())
			touchedPools[meta.Pool] = struct{}{}
			continue
		}
		kind := ingesterr.KindOf(handleErr)
		if kind == ingesterr.KindDecodeMismatch {
			r.Metrics.IncDecodeMismatch(r.Indexer.DexName())
			log.Printf("kind=%s dex=%s pool=%s signature=%s: %v", kind, r.Indexer.DexName(), meta.Pool, meta.Signature, handleErr)
			continue
		}
		r.Metrics.IncRepositoryError(r.Indexer.DexName())
		log.Printf("kind=%s dex=%s pool=%s signature=%s: %v", kind, r.Indexer.DexName(), meta.Pool, meta.Signature, handleErr)
		return handleErr
	}

	r.Metrics.ObserveBundleProcessed(r.Indexer.DexName())
	for pool := range touchedPools {
		if err := r.Cursors.Set(ctx, r.Indexer.DexName(), pool, bundle.Signature, bundle.Slot); err != nil {
			kind := ingesterr.KindOf(err)
			if kind == ingesterr.KindCursorRegression {
				log.Printf("warn kind=%s dex=%s pool=%s signature=%s: cursor not moved back: %v", kind, r.Indexer.DexName(), pool, bundle.Signature, err)
				continue
			}
			log.Printf("kind=%s dex=%s pool=%s signature=%s: cursor set failed: %v", kind, r.Indexer.DexName(), pool, bundle.Signature, err)
			return err
		}
	}
	return nil
}

// RunLive is spec.md §4.4's run_live: it consumes a log stream, delegating
// each bundle to ProcessLogBundle while Live, or to Buffer while
// Backfilling/Draining. It returns when the stream closes or ctx is
// cancelled.
func (r *Runner) RunLive(ctx context.Context, stream <-chan solana.LogBundle) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case bundle, ok := <-stream:
			if !ok {
				return nil
			}
			switch r.State() {
			case StateBackfilling, StateDraining:
				// The authoritative pool filter runs at decode time during
				// Drain; buffering here only needs to bound memory, not
				// pre-filter. A raw bundle carries no pool address, so Buffer
				// keys purely by signature.
				r.Buffer.Push(bundle)
			default:
				if err := r.ProcessLogBundle(ctx, bundle); err != nil && ingesterr.KindOf(err) != ingesterr.KindDecodeMismatch {
					return err
				}
			}
		}
	}
}

// Drain processes every buffered bundle in arrival order (spec.md §4.4's
// Draining state); entries already persisted by backfill are silently
// no-ops via the signature-uniqueness check in HandleEvent. It returns the
// set of pools that need a secondary backfill pass due to buffer overflow.
// Overflow is only discoverable by pool address after decoding, since the
// bundles Buffer dropped were never attributed to a pool at push time; a
// bundle that fails to decode touches no pool and is simply dropped from the
// secondary pass (there is nothing further backfill could resolve for it).
func (r *Runner) Drain(ctx context.Context) ([]string, error) {
	bundles, overflowed := r.Buffer.Drain()

	overflowPools := make(map[string]struct{})
	for _, bundle := range overflowed {
		events, decErr := r.Indexer.DecodeLogs(bundle)
		if decErr != nil {
			log.Printf("kind=%s dex=%s signature=%s: overflowed bundle failed to decode, dropping: %v", ingesterr.KindDecodeMismatch, r.Indexer.DexName(), bundle.Signature, decErr)
			continue
		}
		for _, ev := range events {
			overflowPools[ev.Meta().Pool] = struct{}{}
		}
	}
	overflowPoolList := make([]string, 0, len(overflowPools))
	for pool := range overflowPools {
		overflowPoolList = append(overflowPoolList, pool)
	}

	for _, bundle := range bundles {
		if err := r.ProcessLogBundle(ctx, bundle); err != nil && ingesterr.KindOf(err) != ingesterr.KindDecodeMismatch {
			return overflowPoolList, err
		}
	}
	return overflowPoolList, nil
}
