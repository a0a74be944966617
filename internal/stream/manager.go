// Package stream implements the L6 WebSocket Manager (spec.md §4.6):
// maintaining a live logs subscription, reconnecting with jittered
// exponential backoff on disconnect, and forcing a reconnect if no bundle
// arrives within an idle timeout.
package stream

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/solindexer/core/internal/dex"
	"github.com/solindexer/core/internal/solana"
)

// Defaults mirror spec.md §4.6.
const (
	DefaultIdleTimeout        = 90 * time.Second
	DefaultReconnectInitial   = time.Second
	DefaultReconnectMax       = 60 * time.Second
	DefaultReconnectRandomize = 0.2
)

// Config tunes Manager's reconnect and idle-detection behavior.
type Config struct {
	IdleTimeout        time.Duration
	ReconnectInitial   time.Duration
	ReconnectMax       time.Duration
	ReconnectRandomize float64
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = DefaultReconnectInitial
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = DefaultReconnectMax
	}
	if c.ReconnectRandomize <= 0 {
		c.ReconnectRandomize = DefaultReconnectRandomize
	}
	return c
}

// Manager owns the live subscription lifecycle for one set of program IDs,
// re-subscribing transparently on disconnect or idle timeout. Grounded on
// solana-token-lab's WSSwapEventSource.Subscribe merge-and-forward pattern,
// extended with reconnect/idle handling the reference implementation lacks.
type Manager struct {
	ws      solana.WSClient
	filter  solana.LogsFilter
	cfg     Config
	dexName string
	metrics dex.Metrics
}

// NewManager constructs a Manager for the given WS client and program
// filter. dexName/metrics label the stream-lag gauge; metrics may be nil,
// in which case lag is not recorded.
func NewManager(ws solana.WSClient, filter solana.LogsFilter, cfg Config, dexName string, metrics dex.Metrics) *Manager {
	return &Manager{ws: ws, filter: filter, cfg: cfg.withDefaults(), dexName: dexName, metrics: metrics}
}

// Run subscribes and forwards bundles to out until ctx is cancelled. It
// reconnects on subscribe failure, on the channel closing, and on idle
// timeout, backing off with jitter between reconnect attempts.
func (m *Manager) Run(ctx context.Context, out chan<- solana.LogBundle) error {
	if len(m.filter.Mentions) == 0 {
		return ErrFilterEmpty
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.ReconnectInitial
	b.Multiplier = 2
	b.MaxInterval = m.cfg.ReconnectMax
	b.RandomizationFactor = m.cfg.ReconnectRandomize
	b.MaxElapsedTime = 0 // retry forever; the coordinator owns overall lifetime

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		in, err := m.ws.SubscribeLogs(ctx, m.filter)
		if err != nil {
			delay := b.NextBackOff()
			log.Printf("stream subscribe failed, reconnecting in %s: %v", delay, err)
			if !sleepOrDone(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		disconnected, forwarded := m.forwardUntilIdleOrClosed(ctx, in, out)
		if !disconnected {
			return ctx.Err()
		}
		if forwarded {
			b.Reset()
		}
		delay := b.NextBackOff()
		log.Printf("stream disconnected, resubscribing in %s", delay)
		if !sleepOrDone(ctx, delay) {
			return ctx.Err()
		}
	}
}

// forwardUntilIdleOrClosed copies bundles from in to out until in closes,
// the idle timeout elapses, or ctx is cancelled. Its first result is true if
// the caller should resubscribe (disconnect/idle), false if ctx ended the
// loop; its second reports whether at least one bundle was forwarded.
func (m *Manager) forwardUntilIdleOrClosed(ctx context.Context, in <-chan solana.LogBundle, out chan<- solana.LogBundle) (bool, bool) {
	idle := time.NewTimer(m.cfg.IdleTimeout)
	defer idle.Stop()

	forwarded := false
	for {
		select {
		case <-ctx.Done():
			return false, forwarded
		case <-idle.C:
			log.Printf("stream idle for %s, forcing reconnect", m.cfg.IdleTimeout)
			if m.metrics != nil {
				m.metrics.SetStreamLagSeconds(m.dexName, m.cfg.IdleTimeout.Seconds())
			}
			return true, forwarded
		case bundle, ok := <-in:
			if !ok {
				return true, forwarded
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(m.cfg.IdleTimeout)
			if m.metrics != nil {
				m.metrics.SetStreamLagSeconds(m.dexName, 0)
			}

			select {
			case out <- bundle:
				forwarded = true
			case <-ctx.Done():
				return false, forwarded
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// ErrFilterEmpty is returned by Run when the Manager was constructed with a
// filter that mentions no program IDs, since such a subscription would
// never deliver anything.
var ErrFilterEmpty = fmt.Errorf("stream: logs filter has no mentions")
