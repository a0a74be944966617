package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/solindexer/core/internal/dex"
	"github.com/solindexer/core/internal/ingesterr"
	"github.com/solindexer/core/internal/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndexer struct{ name string }

func (f fakeIndexer) DexName() string          { return f.name }
func (f fakeIndexer) ProgramIDs() []string     { return []string{"prog1"} }
func (f fakeIndexer) PoolFilter() dex.PoolSet  { return dex.NewPoolSet([]string{"poolA"}) }
func (f fakeIndexer) DecodeLogs(solana.LogBundle) ([]dex.ParsedEvent, error) {
	return nil, nil
}
func (f fakeIndexer) HandleEvent(context.Context, dex.ParsedEvent) error { return nil }

type fakeCursors struct{}

func (fakeCursors) Get(ctx context.Context, dexName, pool string) (string, uint64, error) {
	return "", 0, ingesterr.ErrNoCursor
}
func (fakeCursors) Set(ctx context.Context, dexName, pool, signature string, slot uint64) error {
	return nil
}

type emptyRPC struct{}

func (emptyRPC) SignaturesForAddress(ctx context.Context, address, until string, limit int) (solana.SignaturesPage, error) {
	return solana.SignaturesPage{Exhausted: true}, nil
}
func (emptyRPC) GetTransactionLogs(ctx context.Context, signature string) (solana.LogBundle, bool, error) {
	return solana.LogBundle{}, false, nil
}

type blockingWS struct{}

func (blockingWS) SubscribeLogs(ctx context.Context, filter solana.LogsFilter) (<-chan solana.LogBundle, error) {
	ch := make(chan solana.LogBundle)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
func (blockingWS) Close() error { return nil }

func TestCoordinator_RunReachesLiveThenStopsOnCancel(t *testing.T) {
	runner := dex.NewRunner(fakeIndexer{name: "raydium"}, fakeCursors{}, 10, nil)
	c := New(emptyRPC{}, blockingWS{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, []DEX{{
			Name:           "raydium",
			Runner:         runner,
			ProgramIDs:     []string{"prog1"},
			Pools:          []string{"poolA"},
			RescanInterval: -1, // disable ticking in this test
		}})
	}()

	require.Eventually(t, func() bool { return runner.State() == dex.StateLive }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop after cancellation")
	}
	assert.Equal(t, dex.StateStopped, runner.State())
}

func TestCoordinator_RunFailsOnEmptyProgramFilter(t *testing.T) {
	runner := dex.NewRunner(fakeIndexer{name: "raydium"}, fakeCursors{}, 10, nil)
	c := New(emptyRPC{}, blockingWS{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := c.Run(ctx, []DEX{{
		Name:       "raydium",
		Runner:     runner,
		ProgramIDs: nil, // no programs to watch: rejected before backfill/stream start
		Pools:      []string{"poolA"},
	}})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoProgramIDs)
	assert.Equal(t, dex.StateFailed, runner.State())
}
