// Package solana defines the narrow interfaces the ingestion pipeline
// depends on for chain access, plus a concrete adapter over
// github.com/gagliardetto/solana-go. Callers in tests substitute fakes for
// RPCClient/WSClient; production wiring uses NewClient.
package solana

import (
	"context"
	"time"
)

// LogBundle is the ordered sequence of log lines emitted by a single
// transaction, plus the signature that produced them. It is the common
// currency between the WebSocket subscription and the backfill manager: both
// produce LogBundle values for the decoder to consume.
type LogBundle struct {
	Signature string
	Slot      uint64
	BlockTime time.Time
	Logs      []string
}

// SignatureInfo is one entry of a "signatures for address" page.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	Err       bool // true if the transaction failed on-chain
	BlockTime time.Time
}

// SignaturesPage is one page of historical signatures, newest-first, plus
// whether history is exhausted (the page came back shorter than the
// requested limit, so no more remain).
type SignaturesPage struct {
	Signatures []SignatureInfo
	Exhausted  bool
}

// RPCClient is the subset of request/response Solana RPC behavior the
// backfill manager needs. A real implementation wraps
// github.com/gagliardetto/solana-go/rpc; tests use a stub.
type RPCClient interface {
	// SignaturesForAddress returns a page of signatures newest-first,
	// stopping at `until` (exclusive) or `limit` entries, whichever first.
	SignaturesForAddress(ctx context.Context, address string, until string, limit int) (SignaturesPage, error)
	// GetTransactionLogs fetches a transaction's logs and metadata,
	// synthesizing the same LogBundle shape the live subscription emits.
	// ok is false when the transaction is not found or failed on-chain.
	GetTransactionLogs(ctx context.Context, signature string) (bundle LogBundle, ok bool, err error)
}

// LogsFilter selects which program-mentioning transactions a subscription
// should deliver.
type LogsFilter struct {
	Mentions []string
}

// WSClient is the subset of WebSocket log-subscription behavior the stream
// manager needs. A real implementation wraps
// github.com/gagliardetto/solana-go/rpc/ws; tests use a stub.
type WSClient interface {
	// SubscribeLogs opens a logs subscription and returns a channel of
	// bundles. Failed transactions are filtered out before delivery. The
	// channel closes when ctx is cancelled or the connection drops; callers
	// must resubscribe (Manager handles this).
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogBundle, error)
	// Close releases the underlying connection.
	Close() error
}
