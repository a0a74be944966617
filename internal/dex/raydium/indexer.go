package raydium

import (
	"context"

	"github.com/solindexer/core/internal/dex"
	"github.com/solindexer/core/internal/solana"
)

// Indexer is the concrete dex.Indexer for Raydium's constant-product AMM.
type Indexer struct {
	pools      dex.PoolSet
	decoder    *Decoder
	repository *Repository
}

// NewIndexer constructs a Raydium Indexer scoped to the given pools.
func NewIndexer(pools dex.PoolSet, repository *Repository) *Indexer {
	return &Indexer{
		pools:      pools,
		decoder:    NewDecoder(pools),
		repository: repository,
	}
}

func (i *Indexer) DexName() string { return "raydium" }

func (i *Indexer) ProgramIDs() []string { return []string{ProgramID} }

func (i *Indexer) PoolFilter() dex.PoolSet { return i.pools }

func (i *Indexer) DecodeLogs(bundle solana.LogBundle) ([]dex.ParsedEvent, error) {
	return i.decoder.DecodeLogs(bundle)
}

func (i *Indexer) HandleEvent(ctx context.Context, ev dex.ParsedEvent) error {
	return i.repository.Save(ctx, ev)
}

// HandleEventBatch implements dex.BatchHandler; the backfill manager uses it
// to persist a replayed backlog in chunked transactions instead of one
// transaction per event.
func (i *Indexer) HandleEventBatch(ctx context.Context, events []dex.ParsedEvent) (int, error) {
	return i.repository.SaveBatch(ctx, events)
}

var _ dex.Indexer = (*Indexer)(nil)
var _ dex.BatchHandler = (*Indexer)(nil)
