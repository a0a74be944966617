// Package coordinator implements the L7 Coordinator (spec.md §4.7): the
// per-DEX startup sequence over pools the caller has already resolved
// (backfill while buffering live traffic, drain, go live) and graceful
// shutdown, grounded on
// kernel/cmd/kernel/main.go's wiring-then-serve-then-shutdown shape.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/solindexer/core/internal/backfill"
	"github.com/solindexer/core/internal/dex"
	"github.com/solindexer/core/internal/solana"
	"github.com/solindexer/core/internal/stream"
)

// ErrNoProgramIDs is returned synchronously by runOne for a DEX configured
// with no program IDs to watch, rather than surfacing asynchronously through
// the stream manager's own validation (which races against backfill
// completion when both resolve quickly).
var ErrNoProgramIDs = fmt.Errorf("coordinator: dex has no program IDs to watch")

// DefaultRescanInterval mirrors spec.md §4.5's "e.g., every 5 minutes"
// scheduled re-run, closing windows where the live subscription missed
// messages on reconnect or RPC drops.
const DefaultRescanInterval = 5 * time.Minute

// DefaultRescanMaxPages bounds a scheduled re-run's paging so it can't fall
// behind months of unseen history the way the unbounded first backfill can.
const DefaultRescanMaxPages = 3

// DEX bundles everything the coordinator needs to drive one DEX family
// through its lifecycle.
type DEX struct {
	Name           string
	Runner         *dex.Runner
	ProgramIDs     []string
	Pools          []string
	BackfillConfig backfill.Config
	StreamConfig   stream.Config
	// RescanInterval schedules periodic backfill re-runs once the DEX is
	// Live. Zero uses DefaultRescanInterval; negative disables rescans.
	RescanInterval time.Duration
}

// Coordinator drives N DEX families concurrently, each through
// Created -> Backfilling -> Draining -> Live -> Stopped (or Failed on a
// fatal condition).
type Coordinator struct {
	rpc solana.RPCClient
	ws  solana.WSClient
}

// New constructs a Coordinator over the given chain adapters.
func New(rpc solana.RPCClient, ws solana.WSClient) *Coordinator {
	return &Coordinator{rpc: rpc, ws: ws}
}

// Run drives every DEX concurrently until ctx is cancelled (graceful
// shutdown) or one of them hits a fatal condition, in which case Run
// returns that error after the others have been given a chance to stop.
func (c *Coordinator) Run(ctx context.Context, dexes []DEX) error {
	runID := uuid.NewString()
	log.Printf("run_id=%s starting coordinator for %d dex families", runID, len(dexes))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(dexes))
	for _, d := range dexes {
		d := d
		go func() {
			errCh <- c.runOne(ctx, runID, d)
		}()
	}

	var firstErr error
	for range dexes {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	if firstErr != nil {
		log.Printf("run_id=%s coordinator stopping with error: %v", runID, firstErr)
		return firstErr
	}
	log.Printf("run_id=%s coordinator stopped cleanly", runID)
	return nil
}

// runOne drives a single DEX family's lifecycle.
func (c *Coordinator) runOne(ctx context.Context, runID string, d DEX) error {
	r := d.Runner
	if len(d.ProgramIDs) == 0 {
		r.SetState(dex.StateFailed)
		return fmt.Errorf("dex %s: %w", d.Name, ErrNoProgramIDs)
	}

	r.SetState(dex.StateBackfilling)
	log.Printf("run_id=%s dex=%s state=%s pools=%d", runID, d.Name, r.State(), len(d.Pools))

	liveCtx, cancelLive := context.WithCancel(ctx)
	defer cancelLive()

	live := make(chan solana.LogBundle, 1024)
	streamErrCh := make(chan error, 1)
	go func() {
		mgr := stream.NewManager(c.ws, solana.LogsFilter{Mentions: d.ProgramIDs}, d.StreamConfig, d.Name, r.Metrics)
		err := mgr.Run(liveCtx, live)
		if err != nil && liveCtx.Err() == nil {
			log.Printf("run_id=%s dex=%s stream manager exited unexpectedly: %v", runID, d.Name, err)
		}
		streamErrCh <- err
	}()

	liveDoneCh := make(chan error, 1)
	go func() { liveDoneCh <- r.RunLive(liveCtx, live) }()

	backfillErrCh := make(chan error, 1)
	go func() { backfillErrCh <- c.backfillAll(ctx, d) }()

	select {
	case err := <-backfillErrCh:
		if err != nil {
			r.SetState(dex.StateFailed)
			cancelLive()
			return fmt.Errorf("dex %s: backfill failed: %w", d.Name, err)
		}
	case err := <-streamErrCh:
		// The stream manager only returns while liveCtx is still open on a
		// config error (e.g. an empty program filter); treat that as fatal
		// rather than silently running backfill-only.
		r.SetState(dex.StateFailed)
		cancelLive()
		return fmt.Errorf("dex %s: stream manager failed during backfill: %w", d.Name, err)
	}

	r.SetState(dex.StateDraining)
	log.Printf("run_id=%s dex=%s state=%s", runID, d.Name, r.State())
	overflowPools, err := r.Drain(ctx)
	if err != nil {
		r.SetState(dex.StateFailed)
		cancelLive()
		return fmt.Errorf("dex %s: drain failed: %w", d.Name, err)
	}
	if len(overflowPools) > 0 {
		log.Printf("run_id=%s dex=%s secondary backfill needed for pools=%v", runID, d.Name, overflowPools)
		secondary := d
		secondary.Pools = overflowPools
		if err := c.backfillAll(ctx, secondary); err != nil {
			r.SetState(dex.StateFailed)
			cancelLive()
			return fmt.Errorf("dex %s: secondary backfill failed: %w", d.Name, err)
		}
	}

	r.SetState(dex.StateLive)
	log.Printf("run_id=%s dex=%s state=%s", runID, d.Name, r.State())

	c.runLiveWithRescans(ctx, runID, d)

	cancelLive()
	<-liveDoneCh
	r.SetState(dex.StateStopped)
	log.Printf("run_id=%s dex=%s state=%s", runID, d.Name, r.State())
	return nil
}

// runLiveWithRescans blocks until ctx is cancelled, periodically re-running
// a bounded backfill pass to close any window the live subscription missed
// (reconnect gaps, RPC drops), per spec.md §4.5's scheduled re-run note. A
// rescan error is logged, not fatal: the live path and the next scheduled
// rescan are unaffected.
func (c *Coordinator) runLiveWithRescans(ctx context.Context, runID string, d DEX) {
	interval := d.RescanInterval
	if interval == 0 {
		interval = DefaultRescanInterval
	}
	if interval < 0 {
		<-ctx.Done()
		return
	}

	rescan := d
	rescan.BackfillConfig.MaxPages = DefaultRescanMaxPages

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("run_id=%s dex=%s starting scheduled backfill rescan", runID, d.Name)
			if err := c.backfillAll(ctx, rescan); err != nil {
				log.Printf("run_id=%s dex=%s scheduled rescan failed: %v", runID, d.Name, err)
			}
		}
	}
}

func (c *Coordinator) backfillAll(ctx context.Context, d DEX) error {
	mgr := backfill.NewManager(c.rpc, d.Runner, d.BackfillConfig)
	for _, pool := range d.Pools {
		if err := mgr.Run(ctx, d.Name, pool); err != nil {
			return fmt.Errorf("pool %s: %w", pool, err)
		}
	}
	return nil
}
