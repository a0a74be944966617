// Package backfill implements the L5 Backfill Manager (spec.md §4.5): paging
// through historical signatures newest-first down to the stored cursor,
// replaying them chronologically through a Runner with bounded concurrency,
// and advancing the cursor only across a contiguous persisted prefix.
package backfill

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/solindexer/core/internal/dex"
	"github.com/solindexer/core/internal/ingesterr"
	"github.com/solindexer/core/internal/solana"
)

// Defaults mirror spec.md §4.5.
const (
	DefaultPageSize          = 100
	DefaultFetchConcurrency  = 10
	DefaultMaxFetchAttempts  = 5
	DefaultRetryInitialDelay = 250 * time.Millisecond
	DefaultRetryMaxDelay     = 5 * time.Second
)

// Config tunes Manager's paging and concurrency behavior.
type Config struct {
	PageSize          int
	FetchConcurrency  int
	MaxFetchAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	// MaxPages bounds how many pages of signatures a single Run fetches
	// before stopping, even if the cursor hasn't been reached yet. Zero
	// means unbounded, the right default for the first backfill of a pool;
	// scheduled re-runs against an already-live pool set a small bound so a
	// re-run can't block the coordinator behind months of history.
	MaxPages int
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = DefaultFetchConcurrency
	}
	if c.MaxFetchAttempts <= 0 {
		c.MaxFetchAttempts = DefaultMaxFetchAttempts
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = DefaultRetryInitialDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	return c
}

// Manager drives one pool's historical replay against a Runner.
type Manager struct {
	rpc    solana.RPCClient
	cfg    Config
	runner *dex.Runner
}

// NewManager constructs a Manager for the given RPC client and Runner.
func NewManager(rpc solana.RPCClient, runner *dex.Runner, cfg Config) *Manager {
	return &Manager{rpc: rpc, cfg: cfg.withDefaults(), runner: runner}
}

// Run replays every signature for pool newer than its stored cursor,
// oldest-first, advancing the cursor across the contiguous persisted
// prefix. It returns when the pool is caught up to the point paging began,
// or ctx is cancelled.
func (m *Manager) Run(ctx context.Context, dexName, pool string) error {
	until, untilSlot, err := m.runner.Cursors.Get(ctx, dexName, pool)
	if err != nil && err != ingesterr.ErrNoCursor {
		return fmt.Errorf("read cursor for pool %s: %w", pool, err)
	}

	infos, err := m.page(ctx, pool, until)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return nil
	}

	// Signatures come back newest-first; replay chronologically.
	for i, j := 0, len(infos)-1; i < j; i, j = i+1, j-1 {
		infos[i], infos[j] = infos[j], infos[i]
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].Slot < infos[j].Slot })

	if newest := infos[len(infos)-1].Slot; newest > untilSlot {
		m.runner.Metrics.SetBackfillLagSlots(dexName, pool, float64(newest-untilSlot))
	}

	results, err := m.fetchAll(ctx, infos)
	if err != nil {
		return err
	}

	return m.replay(ctx, dexName, pool, results)
}

// page pages backwards from the most recent signature until it reaches
// `until` (exclusive), runs out of history, or hits cfg.MaxPages (if set).
func (m *Manager) page(ctx context.Context, pool, until string) ([]solana.SignatureInfo, error) {
	var all []solana.SignatureInfo
	cursor := ""
	for pagesFetched := 0; m.cfg.MaxPages <= 0 || pagesFetched < m.cfg.MaxPages; pagesFetched++ {
		page, err := m.rpc.SignaturesForAddress(ctx, pool, orUntil(cursor, until), m.cfg.PageSize)
		if err != nil {
			return nil, ingesterr.New(ingesterr.KindTransientRPC, pool, "", fmt.Errorf("page signatures: %w", err))
		}
		for _, s := range page.Signatures {
			if s.Err {
				continue // failed transactions are never indexed, spec.md §4.6
			}
			all = append(all, s)
		}
		if page.Exhausted || len(page.Signatures) == 0 {
			break
		}
		cursor = page.Signatures[len(page.Signatures)-1].Signature
	}
	return all, nil
}

func orUntil(pagingCursor, untilCursor string) string {
	if pagingCursor != "" {
		return pagingCursor
	}
	return untilCursor
}

// fetchResult carries one signature's fetch outcome at its original index so
// ordering survives the bounded-concurrency fan-out. A permanently-failed
// fetch (err set) is not discarded: replay needs to see it in sequence to
// know where the contiguous persisted prefix must stop.
type fetchResult struct {
	bundle solana.LogBundle
	ok     bool
	err    error
}

// fetchAll retrieves each signature's transaction logs with bounded
// concurrency and retry, grounded on audit.Streamer.Run's semaphore pattern.
// One signature exhausting its retries does not abort the others — every
// signature gets a result, successful or not, and replay decides how a
// failure affects cursor advancement. Only ctx cancellation aborts the batch
// outright.
func (m *Manager) fetchAll(ctx context.Context, infos []solana.SignatureInfo) ([]fetchResult, error) {
	sem := make(chan struct{}, m.cfg.FetchConcurrency)
	results := make([]fetchResult, len(infos))
	var wg sync.WaitGroup

	for i, info := range infos {
		i, info := i, info
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			bundle, ok, err := m.fetchWithRetry(ctx, info.Signature)
			results[i] = fetchResult{bundle: bundle, ok: ok, err: err}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *Manager) fetchWithRetry(ctx context.Context, signature string) (solana.LogBundle, bool, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.RetryInitialDelay
	b.Multiplier = 2
	b.MaxInterval = m.cfg.RetryMaxDelay
	b.RandomizationFactor = 0.2
	policy := backoff.WithMaxRetries(b, uint64(m.cfg.MaxFetchAttempts-1))

	var bundle solana.LogBundle
	var ok bool
	op := func() error {
		var err error
		bundle, ok, err = m.rpc.GetTransactionLogs(ctx, signature)
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return solana.LogBundle{}, false, ingesterr.New(ingesterr.KindTransientRPC, "", signature, fmt.Errorf("fetch transaction after retries: %w", err))
	}
	return bundle, ok, nil
}

// replay runs each fetched signature through the Runner in order, advancing
// the cursor across the contiguous persisted prefix only. A signature whose
// fetch permanently failed, or whose decode/handle failed with anything
// other than a decode mismatch, stops the prefix from advancing further so
// it and everything after it are retried on the next backfill run; a
// signature that simply decode-mismatched is skipped and does not stop the
// prefix, since there's nothing a retry could fix about a malformed payload.
func (m *Manager) replay(ctx context.Context, dexName, pool string, results []fetchResult) error {
	if batcher, ok := m.runner.Indexer.(dex.BatchHandler); ok {
		return m.replayBatched(ctx, dexName, pool, results, batcher)
	}
	return m.replaySequential(ctx, dexName, pool, results)
}

// replaySequential is the one-transaction-per-event fallback for an Indexer
// that does not implement dex.BatchHandler.
func (m *Manager) replaySequential(ctx context.Context, dexName, pool string, results []fetchResult) error {
	var lastGood *solana.LogBundle
	for i := range results {
		r := results[i]
		if r.err != nil {
			log.Printf("kind=%s dex=%s pool=%s: backfill fetch failed after retries, stopping prefix: %v", ingesterr.KindOf(r.err), dexName, pool, r.err)
			break
		}
		if !r.ok {
			continue
		}
		bundle := r.bundle
		_, err := m.runner.DecodeAndHandle(ctx, bundle)
		if err != nil && ingesterr.KindOf(err) != ingesterr.KindDecodeMismatch {
			break
		}
		lastGood = &bundle
	}

	if lastGood == nil {
		return nil
	}
	if err := m.runner.Cursors.Set(ctx, dexName, pool, lastGood.Signature, lastGood.Slot); err != nil {
		log.Printf("kind=%s dex=%s pool=%s signature=%s: backfill cursor set failed: %v", ingesterr.KindOf(err), dexName, pool, lastGood.Signature, err)
		return err
	}
	return nil
}

// decodedBundle pairs a fetched bundle with the events it decoded to, so
// replayBatched can map a batch-insert's persisted-count back to the last
// bundle it covers.
type decodedBundle struct {
	bundle solana.LogBundle
	events []dex.ParsedEvent
}

// replayBatched decodes the contiguous prefix of successfully-fetched
// bundles, hands every decoded event to the Indexer's BatchHandler in one
// call (which itself chunks into bounded transactions, spec.md §4.2), and
// advances the cursor only as far as the batch insert actually committed.
func (m *Manager) replayBatched(ctx context.Context, dexName, pool string, results []fetchResult, batcher dex.BatchHandler) error {
	var prefix []decodedBundle
	for i := range results {
		r := results[i]
		if r.err != nil {
			log.Printf("kind=%s dex=%s pool=%s: backfill fetch failed after retries, stopping prefix: %v", ingesterr.KindOf(r.err), dexName, pool, r.err)
			break
		}
		if !r.ok {
			continue
		}

		events, decErr := m.runner.Indexer.DecodeLogs(r.bundle)
		if decErr != nil {
			m.runner.Metrics.IncDecodeMismatch(dexName)
			log.Printf("kind=%s dex=%s pool=%s signature=%s: %v", ingesterr.KindOf(decErr), dexName, pool, r.bundle.Signature, decErr)
			prefix = append(prefix, decodedBundle{bundle: r.bundle})
			continue
		}
		prefix = append(prefix, decodedBundle{bundle: r.bundle, events: events})
	}

	if len(prefix) == 0 {
		return nil
	}

	var flat []dex.ParsedEvent
	boundaries := make([]int, len(prefix))
	for i, d := range prefix {
		flat = append(flat, d.events...)
		boundaries[i] = len(flat)
	}

	persisted, err := batcher.HandleEventBatch(ctx, flat)
	if err != nil {
		m.runner.Metrics.IncRepositoryError(dexName)
		log.Printf("kind=%s dex=%s pool=%s: batch persist failed after %d/%d events committed: %v", ingesterr.KindOf(err), dexName, pool, persisted, len(flat), err)
	}

	lastIdx := -1
	for i, boundary := range boundaries {
		if boundary > persisted {
			break
		}
		lastIdx = i
	}
	if lastIdx == -1 {
		return nil
	}
	for range prefix[:lastIdx+1] {
		m.runner.Metrics.ObserveBundleProcessed(dexName)
	}

	lastGood := prefix[lastIdx].bundle
	if cursorErr := m.runner.Cursors.Set(ctx, dexName, pool, lastGood.Signature, lastGood.Slot); cursorErr != nil {
		log.Printf("kind=%s dex=%s pool=%s signature=%s: backfill cursor set failed: %v", ingesterr.KindOf(cursorErr), dexName, pool, lastGood.Signature, cursorErr)
		return cursorErr
	}
	return nil
}
