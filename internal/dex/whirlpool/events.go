// Package whirlpool implements the Indexer Contract (internal/dex) for a
// concentrated-liquidity AMM in the style of Orca's Whirlpool program,
// exercising the glossary's "Concentrated liquidity" case: liquidity events
// are scoped to a tick range and a position, not the whole pool.
package whirlpool

import (
	"time"

	"github.com/solindexer/core/internal/dex"
)

// ProgramID is the concentrated-liquidity program address this Indexer
// tracks.
const ProgramID = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"

// DefaultPool is the compiled-in pool the indexer falls back to tracking
// when neither --pools nor storage names one (spec.md §4.7 step 1's third
// resolution tier): a SOL/USDC whirlpool.
const DefaultPool = "HJPjoWUrhoZzkNfRpHuieeFk9WcZWjwy6PBjZ81ngndJ"

// Discriminators match the first byte of a decoded instruction log payload,
// following the same log-scraping shape as raydium's ray_log but under this
// program's own event-log prefix.
const (
	DiscriminatorSwap              byte = 0x01
	DiscriminatorIncreaseLiquidity byte = 0x02
	DiscriminatorDecreaseLiquidity byte = 0x03
)

// SwapEvent is a concentrated-liquidity swap, which additionally reports the
// post-trade tick since price moves continuously through tick ranges.
type SwapEvent struct {
	dex.EventMeta
	AmountIn  uint64
	AmountOut uint64
	TickAfter int32
	AToB      bool
}

func (e SwapEvent) Meta() dex.EventMeta { return e.EventMeta }

// LiquidityEvent is scoped to a single position's tick range, unlike a
// constant-product pool where liquidity changes apply to the whole pool.
type LiquidityEvent struct {
	dex.EventMeta
	Position       string
	TickLower      int32
	TickUpper      int32
	LiquidityDelta uint64
	IsDecrease     bool
}

func (e LiquidityEvent) Meta() dex.EventMeta { return e.EventMeta }

func newMeta(signature, pool, eventType string, blockTime time.Time) dex.EventMeta {
	ts := blockTime
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return dex.EventMeta{
		Signature: signature,
		Pool:      pool,
		EventType: eventType,
		Version:   1,
		Timestamp: ts,
	}
}
