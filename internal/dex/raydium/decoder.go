package raydium

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/solindexer/core/internal/dex"
	"github.com/solindexer/core/internal/ingesterr"
	"github.com/solindexer/core/internal/solana"
)

// rayLogPrefix is the string Raydium's AMM program emits before a
// base64-encoded instruction log, e.g. "Program log: ray_log: <base64>".
const rayLogPrefix = "ray_log: "

// Decoder is a pure function, spec.md §4.3, from a log bundle to zero or
// more ParsedEvents. It performs no I/O.
type Decoder struct {
	pools dex.PoolSet
}

// NewDecoder constructs a Decoder scoped to the given tracked pools.
func NewDecoder(pools dex.PoolSet) *Decoder {
	return &Decoder{pools: pools}
}

// DecodeLogs scans a transaction's log lines for ray_log payloads and
// decodes each into a typed event. Unknown discriminators are skipped (not
// an error) unless they look like a malformed instance of a known one, per
// spec.md's DecodeMismatch definition.
func (d *Decoder) DecodeLogs(bundle solana.LogBundle) ([]dex.ParsedEvent, error) {
	var out []dex.ParsedEvent
	for _, line := range bundle.Logs {
		payload, ok := extractRayLog(line)
		if !ok {
			continue
		}

		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, ingesterr.New(ingesterr.KindDecodeMismatch, "", bundle.Signature, fmt.Errorf("base64 decode ray_log: %w", err))
		}
		if len(raw) < 1 {
			continue
		}

		ev, err := d.decodeInstance(raw, bundle)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			out = append(out, ev)
		}
	}
	return out, nil
}

func extractRayLog(line string) (string, bool) {
	idx := strings.Index(line, rayLogPrefix)
	if idx == -1 {
		return "", false
	}
	return strings.TrimSpace(line[idx+len(rayLogPrefix):]), true
}

// decodeInstance decodes a single ray_log payload. Layout (little-endian,
// following the field order Raydium's program emits, mirrored from the
// offsets documented in dex_parser.go's RaydiumParser):
//
//	byte 0:      discriminator
//	bytes 1-32:  pool address (base58-decoded, 32 bytes), when present
//	remaining:   event-specific uint64 fields
func (d *Decoder) decodeInstance(raw []byte, bundle solana.LogBundle) (dex.ParsedEvent, error) {
	discriminator := raw[0]
	body := raw[1:]

	switch discriminator {
	case DiscriminatorSwapBaseIn, DiscriminatorSwapBaseOut:
		return d.decodeSwap(discriminator, body, bundle)
	case DiscriminatorDeposit, DiscriminatorWithdraw:
		return d.decodeLiquidity(discriminator, body, bundle)
	default:
		return nil, nil
	}
}

func (d *Decoder) decodeSwap(discriminator byte, body []byte, bundle solana.LogBundle) (dex.ParsedEvent, error) {
	const minLen = 32 + 8 + 8
	if len(body) < minLen {
		return nil, ingesterr.New(ingesterr.KindDecodeMismatch, "", bundle.Signature, fmt.Errorf("swap payload too short: got %d bytes, need %d", len(body), minLen))
	}

	pool := base58.Encode(body[0:32])
	if !d.pools.Contains(pool) {
		return nil, nil
	}

	amountIn := binary.LittleEndian.Uint64(body[32:40])
	amountOut := binary.LittleEndian.Uint64(body[40:48])
	if err := checkAmountRange(bundle.Signature, "amount_in", amountIn); err != nil {
		return nil, err
	}
	if err := checkAmountRange(bundle.Signature, "amount_out", amountOut); err != nil {
		return nil, err
	}

	direction := "base_in"
	if discriminator == DiscriminatorSwapBaseOut {
		direction = "base_out"
	}

	return SwapEvent{
		EventMeta: newMeta(bundle.Signature, pool, "swap", bundle.BlockTime),
		AmountIn:  amountIn,
		AmountOut: amountOut,
		Direction: direction,
	}, nil
}

func (d *Decoder) decodeLiquidity(discriminator byte, body []byte, bundle solana.LogBundle) (dex.ParsedEvent, error) {
	const minLen = 32 + 8 + 8 + 8
	if len(body) < minLen {
		return nil, ingesterr.New(ingesterr.KindDecodeMismatch, "", bundle.Signature, fmt.Errorf("liquidity payload too short: got %d bytes, need %d", len(body), minLen))
	}

	pool := base58.Encode(body[0:32])
	if !d.pools.Contains(pool) {
		return nil, nil
	}

	lpAmount := binary.LittleEndian.Uint64(body[32:40])
	amountA := binary.LittleEndian.Uint64(body[40:48])
	amountB := binary.LittleEndian.Uint64(body[48:56])
	if err := checkAmountRange(bundle.Signature, "lp_amount", lpAmount); err != nil {
		return nil, err
	}
	if err := checkAmountRange(bundle.Signature, "amount_a", amountA); err != nil {
		return nil, err
	}
	if err := checkAmountRange(bundle.Signature, "amount_b", amountB); err != nil {
		return nil, err
	}

	eventType := "liquidity_increase"
	if discriminator == DiscriminatorWithdraw {
		eventType = "liquidity_decrease"
	}

	return LiquidityEvent{
		EventMeta:    newMeta(bundle.Signature, pool, eventType, bundle.BlockTime),
		LpAmount:     lpAmount,
		AmountA:      amountA,
		AmountB:      amountB,
		IsWithdrawal: discriminator == DiscriminatorWithdraw,
	}, nil
}

// maxStorableAmount is the largest value that still round-trips through a
// signed 64-bit column (repository.go stores amounts as bigint).
// A raw uint64 above this is a decode mismatch, not a storage concern: it
// means the offset table or discriminator is wrong, so surfacing it as
// KindDecodeMismatch here keeps a single malformed payload from reaching the
// repository as a fatal parameter-conversion error.
const maxStorableAmount = uint64(1)<<63 - 1

func checkAmountRange(signature, field string, amount uint64) error {
	if amount > maxStorableAmount {
		return ingesterr.New(ingesterr.KindDecodeMismatch, "", signature, fmt.Errorf("%s overflows int64: %d", field, amount))
	}
	return nil
}
