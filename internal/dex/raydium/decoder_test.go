package raydium

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

func buildSwapPayload(discriminator byte, pool string, amountIn, amountOut uint64) []byte {
	poolBytes, err := base58.Decode(pool)
	if err != nil {
		panic(err)
	}
	buf := make([]byte, 1+32+8+8)
	buf[0] = discriminator
	copy(buf[1:33], poolBytes)
	binary.LittleEndian.PutUint64(buf[33:41], amountIn)
	binary.LittleEndian.PutUint64(buf[41:49], amountOut)
	return buf
}

func logLineFor(raw []byte) string {
	return "Program log: ray_log: " + base64.StdEncoding.EncodeToString(raw)
}

func TestDecoder_DecodesSwapBaseIn(t *testing.T) {
	raw := buildSwapPayload(DiscriminatorSwapBaseIn, testPool, 1000, 990)
	bundle := solana.LogBundle{
		Signature: "sig1",
		Slot:      42,
		Logs:      []string{logLineFor(raw)},
	}

	d := NewDecoder(dex.NewPoolSet([]string{testPool}))
	events, err := d.DecodeLogs(bundle)
	require.NoError(t, err)
	require.Len(t, events, 1)

	swap, ok := events[0].(SwapEvent)
	require.True(t, ok)
	assert.Equal(t, testPool, swap.Pool)
	assert.Equal(t, uint64(1000), swap.AmountIn)
	assert.Equal(t, uint64(990), swap.AmountOut)
	assert.Equal(t, "base_in", swap.Direction)
}

func TestDecoder_SkipsUntrackedPool(t *testing.T) {
	raw := buildSwapPayload(DiscriminatorSwapBaseIn, testPool, 1000, 990)
	bundle := solana.LogBundle{Signature: "sig2", Logs: []string{logLineFor(raw)}}

	d := NewDecoder(dex.NewPoolSet([]string{"someOtherPoolAddressNotTracked1111111111"}))
	events, err := d.DecodeLogs(bundle)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDecoder_SkipsUnknownDiscriminator(t *testing.T) {
	raw := buildSwapPayload(0xff, testPool, 1, 2)
	bundle := solana.LogBundle{Signature: "sig3", Logs: []string{logLineFor(raw)}}

	d := NewDecoder(dex.NewPoolSet([]string{testPool}))
	events, err := d.DecodeLogs(bundle)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDecoder_TruncatedPayloadIsDecodeMismatch(t *testing.T) {
	raw := []byte{DiscriminatorSwapBaseIn, 0x01, 0x02}
	bundle := solana.LogBundle{Signature: "sig4", Logs: []string{logLineFor(raw)}}

	d := NewDecoder(dex.NewPoolSet([]string{testPool}))
	_, err := d.DecodeLogs(bundle)
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindDecodeMismatch, ingesterr.KindOf(err))
}

func TestDecoder_AmountOverflowIsDecodeMismatch(t *testing.T) {
	raw := buildSwapPayload(DiscriminatorSwapBaseIn, testPool, uint64(1)<<63, 990)
	bundle := solana.LogBundle{Signature: "sig6", Logs: []string{logLineFor(raw)}}

	d := NewDecoder(dex.NewPoolSet([]string{testPool}))
	_, err := d.DecodeLogs(bundle)
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindDecodeMismatch, ingesterr.KindOf(err))
}

func TestDecoder_IgnoresNonRayLogLines(t *testing.T) {
	bundle := solana.LogBundle{
		Signature: "sig5",
		Logs:      []string{"Program 675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8 invoke [1]", "Program log: unrelated"},
	}

	d := NewDecoder(dex.NewPoolSet([]string{testPool}))
	events, err := d.DecodeLogs(bundle)
	require.NoError(t, err)
	assert.Empty(t, events)
}
