package whirlpool

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

// eventLogPrefix is the marker this program's logs use to carry a
// base64-encoded event payload, analogous to Raydium's "ray_log:".
const eventLogPrefix = "whirlpool_event: "

// Decoder is a pure function from a log bundle to zero or more ParsedEvents.
type Decoder struct {
	pools dex.PoolSet
}

// NewDecoder constructs a Decoder scoped to the given tracked pools.
func NewDecoder(pools dex.PoolSet) *Decoder {
	return &Decoder{pools: pools}
}

func (d *Decoder) DecodeLogs(bundle solana.LogBundle) ([]dex.ParsedEvent, error) {
	var out []dex.ParsedEvent
	for _, line := range bundle.Logs {
		payload, ok := extractEventLog(line)
		if !ok {
			continue
		}

		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, ingesterr.New(ingesterr.KindDecodeMismatch, "", bundle.Signature, fmt.Errorf("base64 decode whirlpool event: %w", err))
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

func extractEventLog(line string) (string, bool) {
	idx := strings.Index(line, eventLogPrefix)
	if idx == -1 {
		return "", false
	}
	return strings.TrimSpace(line[idx+len(eventLogPrefix):]), true
}

func (d *Decoder) decodeInstance(raw []byte, bundle solana.LogBundle) (dex.ParsedEvent, error) {
	discriminator := raw[0]
	body := raw[1:]

	switch discriminator {
	case DiscriminatorSwap:
		return d.decodeSwap(body, bundle)
	case DiscriminatorIncreaseLiquidity, DiscriminatorDecreaseLiquidity:
		return d.decodeLiquidity(discriminator, body, bundle)
	default:
		return nil, nil
	}
}

// decodeSwap layout: pool(32) amountIn(8) amountOut(8) tickAfter(4) aToB(1).
func (d *Decoder) decodeSwap(body []byte, bundle solana.LogBundle) (dex.ParsedEvent, error) {
	const minLen = 32 + 8 + 8 + 4 + 1
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
	tickAfter := int32(binary.LittleEndian.Uint32(body[48:52]))
	aToB := body[52] != 0

	return SwapEvent{
		EventMeta: newMeta(bundle.Signature, pool, "swap", bundle.BlockTime),
		AmountIn:  amountIn,
		AmountOut: amountOut,
		TickAfter: tickAfter,
		AToB:      aToB,
	}, nil
}

// decodeLiquidity layout: pool(32) position(32) tickLower(4) tickUpper(4) liquidityDelta(8).
func (d *Decoder) decodeLiquidity(discriminator byte, body []byte, bundle solana.LogBundle) (dex.ParsedEvent, error) {
	const minLen = 32 + 32 + 4 + 4 + 8
	if len(body) < minLen {
		return nil, ingesterr.New(ingesterr.KindDecodeMismatch, "", bundle.Signature, fmt.Errorf("liquidity payload too short: got %d bytes, need %d", len(body), minLen))
	}

	pool := base58.Encode(body[0:32])
	if !d.pools.Contains(pool) {
		return nil, nil
	}

	position := base58.Encode(body[32:64])
	tickLower := int32(binary.LittleEndian.Uint32(body[64:68]))
	tickUpper := int32(binary.LittleEndian.Uint32(body[68:72]))
	liquidityDelta := binary.LittleEndian.Uint64(body[72:80])
	if err := checkAmountRange(bundle.Signature, "liquidity_delta", liquidityDelta); err != nil {
		return nil, err
	}

	eventType := "liquidity_increase"
	if discriminator == DiscriminatorDecreaseLiquidity {
		eventType = "liquidity_decrease"
	}

	return LiquidityEvent{
		EventMeta:      newMeta(bundle.Signature, pool, eventType, bundle.BlockTime),
		Position:       position,
		TickLower:      tickLower,
		TickUpper:      tickUpper,
		LiquidityDelta: liquidityDelta,
		IsDecrease:     discriminator == DiscriminatorDecreaseLiquidity,
	}, nil
}

// maxStorableAmount is the largest value that still round-trips through a
// signed 64-bit column (repository.go stores amounts as bigint). A
// raw uint64 above this means the offset table or discriminator is wrong, so
// it is caught here as KindDecodeMismatch rather than reaching the
// repository as a fatal parameter-conversion error.
const maxStorableAmount = uint64(1)<<63 - 1

func checkAmountRange(signature, field string, amount uint64) error {
	if amount > maxStorableAmount {
		return ingesterr.New(ingesterr.KindDecodeMismatch, "", signature, fmt.Errorf("%s overflows int64: %d", field, amount))
	}
	return nil
}
