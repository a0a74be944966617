// Package raydium implements the Indexer Contract (internal/dex) for
// Raydium's constant-product AMM program, grounded on the discriminator
// table and log-prefix scraping approach in
// VladislavFirsov-solana-token-lab's internal/discovery/dex_parser.go and
// alex-sumner-solana-rabbitx-contract's cmd/event-poller/main.go.
package raydium

import (
	"time"

	"github.com/solindexer/core/internal/dex"
)

// ProgramID is Raydium's mainnet AMM v4 program address.
const ProgramID = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"

// DefaultPool is the compiled-in pool the indexer falls back to tracking
// when neither --pools nor storage names one (spec.md §4.7 step 1's third
// resolution tier): Raydium AMM v4's SOL/USDC pool.
const DefaultPool = "58oQChx4yWmvKdwLLZzBi4ChoCc121aERpnSqB6nuyVR"

// Discriminators match the first byte of a Raydium AMM instruction log
// payload, as scraped from "ray_log:" lines (dex_parser.go's rayLogPattern
// comments).
const (
	DiscriminatorSwapBaseIn  byte = 0x09
	DiscriminatorSwapBaseOut byte = 0x0b
	DiscriminatorDeposit     byte = 0x03
	DiscriminatorWithdraw    byte = 0x04
)

// SwapEvent is a constant-product AMM swap (spec.md's ParsedEvent.Details for
// EventType "swap").
type SwapEvent struct {
	dex.EventMeta
	AmountIn     uint64
	AmountOut    uint64
	MinAmountOut uint64
	Direction    string // "base_in" or "base_out"
}

func (e SwapEvent) Meta() dex.EventMeta { return e.EventMeta }

// LiquidityEvent is a deposit (increase) or withdraw (decrease) against the
// pool's reserves.
type LiquidityEvent struct {
	dex.EventMeta
	LpAmount     uint64
	AmountA      uint64
	AmountB      uint64
	IsWithdrawal bool
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
