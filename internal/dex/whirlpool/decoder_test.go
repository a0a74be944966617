package whirlpool

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/solindexer/core/internal/dex"
	"github.com/solindexer/core/internal/ingesterr"
	"github.com/solindexer/core/internal/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPool = "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1"
const testPosition = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func buildSwapPayload(pool string, amountIn, amountOut uint64, tickAfter int32, aToB bool) []byte {
	poolBytes, err := base58.Decode(pool)
	if err != nil {
		panic(err)
	}
	buf := make([]byte, 1+32+8+8+4+1)
	buf[0] = DiscriminatorSwap
	copy(buf[1:33], poolBytes)
	binary.LittleEndian.PutUint64(buf[33:41], amountIn)
	binary.LittleEndian.PutUint64(buf[41:49], amountOut)
	binary.LittleEndian.PutUint32(buf[49:53], uint32(tickAfter))
	if aToB {
		buf[53] = 1
	}
	return buf
}

func buildLiquidityPayload(discriminator byte, pool, position string, tickLower, tickUpper int32, delta uint64) []byte {
	poolBytes, err := base58.Decode(pool)
	if err != nil {
		panic(err)
	}
	posBytes, err := base58.Decode(position)
	if err != nil {
		panic(err)
	}
	buf := make([]byte, 1+32+32+4+4+8)
	buf[0] = discriminator
	copy(buf[1:33], poolBytes)
	copy(buf[33:65], posBytes)
	binary.LittleEndian.PutUint32(buf[65:69], uint32(tickLower))
	binary.LittleEndian.PutUint32(buf[69:73], uint32(tickUpper))
	binary.LittleEndian.PutUint64(buf[73:81], delta)
	return buf
}

func logLineFor(raw []byte) string {
	return "Program log: whirlpool_event: " + base64.StdEncoding.EncodeToString(raw)
}

func TestDecoder_DecodesSwap(t *testing.T) {
	raw := buildSwapPayload(testPool, 5000, 4950, -1024, true)
	bundle := solana.LogBundle{Signature: "sig1", Logs: []string{logLineFor(raw)}}

	d := NewDecoder(dex.NewPoolSet([]string{testPool}))
	events, err := d.DecodeLogs(bundle)
	require.NoError(t, err)
	require.Len(t, events, 1)

	swap, ok := events[0].(SwapEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(5000), swap.AmountIn)
	assert.Equal(t, int32(-1024), swap.TickAfter)
	assert.True(t, swap.AToB)
}

func TestDecoder_DecodesLiquidityIncreaseScopedToPosition(t *testing.T) {
	raw := buildLiquidityPayload(DiscriminatorIncreaseLiquidity, testPool, testPosition, -2048, 2048, 77)
	bundle := solana.LogBundle{Signature: "sig2", Logs: []string{logLineFor(raw)}}

	d := NewDecoder(dex.NewPoolSet([]string{testPool}))
	events, err := d.DecodeLogs(bundle)
	require.NoError(t, err)
	require.Len(t, events, 1)

	liq, ok := events[0].(LiquidityEvent)
	require.True(t, ok)
	assert.Equal(t, testPosition, liq.Position)
	assert.Equal(t, int32(-2048), liq.TickLower)
	assert.Equal(t, int32(2048), liq.TickUpper)
	assert.False(t, liq.IsDecrease)
}

func TestDecoder_SkipsUntrackedPool(t *testing.T) {
	raw := buildSwapPayload(DefaultPool, 1, 2, 0, false)
	bundle := solana.LogBundle{Signature: "sig3", Logs: []string{logLineFor(raw)}}

	d := NewDecoder(dex.NewPoolSet([]string{testPool}))
	events, err := d.DecodeLogs(bundle)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDecoder_TruncatedPayloadIsDecodeMismatch(t *testing.T) {
	raw := []byte{DiscriminatorSwap, 0x01}
	bundle := solana.LogBundle{Signature: "sig4", Logs: []string{logLineFor(raw)}}

	d := NewDecoder(dex.NewPoolSet([]string{testPool}))
	_, err := d.DecodeLogs(bundle)
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindDecodeMismatch, ingesterr.KindOf(err))
}

func TestDecoder_AmountOverflowIsDecodeMismatch(t *testing.T) {
	raw := buildSwapPayload(testPool, uint64(1)<<63, 4950, -1024, true)
	bundle := solana.LogBundle{Signature: "sig5", Logs: []string{logLineFor(raw)}}

	d := NewDecoder(dex.NewPoolSet([]string{testPool}))
	_, err := d.DecodeLogs(bundle)
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindDecodeMismatch, ingesterr.KindOf(err))
}
