package dex

import (
	"context"
	"errors"
	"testing"

	"github.com/solindexer/core/internal/ingesterr"
	"github.com/solindexer/core/internal/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvent struct {
	meta EventMeta
}

func (e fakeEvent) Meta() EventMeta { return e.meta }

type fakeIndexer struct {
	name        string
	pools       PoolSet
	decodeFn    func(bundle solana.LogBundle) ([]ParsedEvent, error)
	handleCalls []ParsedEvent
	handleErr   error
}

func (f *fakeIndexer) DexName() string       { return f.name }
func (f *fakeIndexer) ProgramIDs() []string  { return []string{"prog1"} }
func (f *fakeIndexer) PoolFilter() PoolSet   { return f.pools }
func (f *fakeIndexer) DecodeLogs(bundle solana.LogBundle) ([]ParsedEvent, error) {
	return f.decodeFn(bundle)
}
func (f *fakeIndexer) HandleEvent(ctx context.Context, ev ParsedEvent) error {
	f.handleCalls = append(f.handleCalls, ev)
	return f.handleErr
}

type fakeCursors struct {
	sig  map[string]string
	slot map[string]uint64
}

func newFakeCursors() *fakeCursors {
	return &fakeCursors{sig: map[string]string{}, slot: map[string]uint64{}}
}

func (c *fakeCursors) Get(ctx context.Context, dexName, pool string) (string, uint64, error) {
	if s, ok := c.sig[pool]; ok {
		return s, c.slot[pool], nil
	}
	return "", 0, ingesterr.ErrNoCursor
}

func (c *fakeCursors) Set(ctx context.Context, dexName, pool, signature string, slot uint64) error {
	c.sig[pool] = signature
	c.slot[pool] = slot
	return nil
}

func TestRunner_ProcessLogBundleAdvancesCursorOnSuccess(t *testing.T) {
	indexer := &fakeIndexer{
		name:  "raydium",
		pools: NewPoolSet([]string{"poolA"}),
		decodeFn: func(bundle solana.LogBundle) ([]ParsedEvent, error) {
			return []ParsedEvent{fakeEvent{meta: EventMeta{Signature: bundle.Signature, Pool: "poolA"}}}, nil
		},
	}
	cursors := newFakeCursors()
	r := NewRunner(indexer, cursors, 10, nil)

	err := r.ProcessLogBundle(context.Background(), solana.LogBundle{Signature: "sig1", Slot: 5})
	require.NoError(t, err)

	sig, slot, err := cursors.Get(context.Background(), "raydium", "poolA")
	require.NoError(t, err)
	assert.Equal(t, "sig1", sig)
	assert.Equal(t, uint64(5), slot)
}

func TestRunner_ProcessLogBundleTreatsDuplicateAsSuccess(t *testing.T) {
	indexer := &fakeIndexer{
		name:  "raydium",
		pools: NewPoolSet([]string{"poolA"}),
		decodeFn: func(bundle solana.LogBundle) ([]ParsedEvent, error) {
			return []ParsedEvent{fakeEvent{meta: EventMeta{Signature: bundle.Signature, Pool: "poolA"}}}, nil
		},
		handleErr: ingesterr.New(ingesterr.KindDuplicateSignature, "poolA", "sig1", errors.New("dup")),
	}
	cursors := newFakeCursors()
	r := NewRunner(indexer, cursors, 10, nil)

	err := r.ProcessLogBundle(context.Background(), solana.LogBundle{Signature: "sig1", Slot: 5})
	require.NoError(t, err)
	_, _, err = cursors.Get(context.Background(), "raydium", "poolA")
	require.NoError(t, err)
}

func TestRunner_ProcessLogBundleDecodeMismatchIsNonFatal(t *testing.T) {
	indexer := &fakeIndexer{
		name:  "raydium",
		pools: NewPoolSet([]string{"poolA"}),
		decodeFn: func(bundle solana.LogBundle) ([]ParsedEvent, error) {
			return nil, ingesterr.New(ingesterr.KindDecodeMismatch, "", bundle.Signature, errors.New("bad"))
		},
	}
	cursors := newFakeCursors()
	r := NewRunner(indexer, cursors, 10, nil)

	err := r.ProcessLogBundle(context.Background(), solana.LogBundle{Signature: "sig1"})
	assert.Error(t, err)
	assert.Equal(t, ingesterr.KindDecodeMismatch, ingesterr.KindOf(err))
}

func TestRunner_RunLiveBuffersDuringBackfillThenDrains(t *testing.T) {
	var handled []string
	indexer := &fakeIndexer{
		name:  "raydium",
		pools: NewPoolSet([]string{"poolA"}),
		decodeFn: func(bundle solana.LogBundle) ([]ParsedEvent, error) {
			handled = append(handled, bundle.Signature)
			return []ParsedEvent{fakeEvent{meta: EventMeta{Signature: bundle.Signature, Pool: "poolA"}}}, nil
		},
	}
	cursors := newFakeCursors()
	r := NewRunner(indexer, cursors, 10, nil)
	r.SetState(StateBackfilling)

	stream := make(chan solana.LogBundle, 2)
	stream <- solana.LogBundle{Signature: "sig1", Slot: 1}
	stream <- solana.LogBundle{Signature: "sig2", Slot: 2}
	close(stream)

	err := r.RunLive(context.Background(), stream)
	require.NoError(t, err)
	assert.Empty(t, handled, "bundles should be buffered, not yet decoded, during backfill")
	assert.Equal(t, 2, r.Buffer.Len())

	overflow, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Empty(t, overflow)
	assert.Equal(t, []string{"sig1", "sig2"}, handled)
}

func TestRunner_DrainResolvesOverflowToPoolByDecodingDroppedBundle(t *testing.T) {
	indexer := &fakeIndexer{
		name:  "raydium",
		pools: NewPoolSet([]string{"poolA", "poolB"}),
		decodeFn: func(bundle solana.LogBundle) ([]ParsedEvent, error) {
			pool := map[string]string{"sig1": "poolA", "sig2": "poolB", "sig3": "poolB"}[bundle.Signature]
			return []ParsedEvent{fakeEvent{meta: EventMeta{Signature: bundle.Signature, Pool: pool}}}, nil
		},
	}
	cursors := newFakeCursors()
	r := NewRunner(indexer, cursors, 2, nil)
	r.SetState(StateBackfilling)

	// Capacity 2: pushing a 3rd bundle evicts sig1, whose pool (poolA) is only
	// discoverable by decoding the dropped bundle at drain time.
	stream := make(chan solana.LogBundle, 3)
	stream <- solana.LogBundle{Signature: "sig1", Slot: 1}
	stream <- solana.LogBundle{Signature: "sig2", Slot: 2}
	stream <- solana.LogBundle{Signature: "sig3", Slot: 3}
	close(stream)

	err := r.RunLive(context.Background(), stream)
	require.NoError(t, err)

	overflowPools, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"poolA"}, overflowPools, "overflow must resolve to a real pool address, not a signature")
}
