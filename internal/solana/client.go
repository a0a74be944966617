package solana

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// programDataPrefix is the log-line prefix carrying a base64-encoded event
// payload, per spec.md §6's wire contract.
const programDataPrefix = "Program data: "

// Client adapts github.com/gagliardetto/solana-go's rpc.Client and
// rpc/ws.Client to the RPCClient/WSClient interfaces above.
type Client struct {
	rpcClient *rpc.Client
	wsURL     string
	timeout   time.Duration
}

// NewClient dials nothing eagerly: the RPC client is a thin HTTP wrapper and
// the WS connection is opened lazily per-subscription so reconnects (handled
// by internal/stream.Manager) don't need to reach back into this adapter.
func NewClient(rpcURL, wsURL string, perCallTimeout time.Duration) *Client {
	if perCallTimeout <= 0 {
		perCallTimeout = 30 * time.Second
	}
	return &Client{
		rpcClient: rpc.New(rpcURL),
		wsURL:     wsURL,
		timeout:   perCallTimeout,
	}
}

// SignaturesForAddress implements RPCClient.
func (c *Client) SignaturesForAddress(ctx context.Context, address string, until string, limit int) (SignaturesPage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return SignaturesPage{}, fmt.Errorf("parse pool address: %w", err)
	}

	opts := &rpc.GetSignaturesForAddressOpts{
		Commitment: rpc.CommitmentConfirmed,
	}
	if limit > 0 {
		opts.Limit = &limit
	}
	if until != "" {
		u := solana.MustSignatureFromBase58(until)
		opts.Until = u
	}

	out, err := c.rpcClient.GetSignaturesForAddressWithOpts(ctx, pub, opts)
	if err != nil {
		return SignaturesPage{}, fmt.Errorf("get signatures for address: %w", err)
	}

	page := SignaturesPage{Signatures: make([]SignatureInfo, 0, len(out))}
	for _, s := range out {
		info := SignatureInfo{
			Signature: s.Signature.String(),
			Slot:      s.Slot,
			Err:       s.Err != nil,
		}
		if s.BlockTime != nil {
			info.BlockTime = s.BlockTime.Time()
		}
		page.Signatures = append(page.Signatures, info)
	}
	page.Exhausted = limit <= 0 || len(out) < limit
	return page, nil
}

// GetTransactionLogs implements RPCClient.
func (c *Client) GetTransactionLogs(ctx context.Context, signature string) (LogBundle, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return LogBundle{}, false, fmt.Errorf("parse signature: %w", err)
	}

	maxVersion := uint64(0)
	tx, err := c.rpcClient.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return LogBundle{}, false, fmt.Errorf("get transaction: %w", err)
	}
	if tx == nil || tx.Meta == nil {
		return LogBundle{}, false, nil
	}
	if tx.Meta.Err != nil {
		// Failed transactions are never indexed, per spec.md §4.6.
		return LogBundle{}, false, nil
	}

	bundle := LogBundle{
		Signature: signature,
		Slot:      tx.Slot,
		Logs:      tx.Meta.LogMessages,
	}
	if tx.BlockTime != nil {
		bundle.BlockTime = tx.BlockTime.Time()
	}
	return bundle, true, nil
}

// SubscribeLogs implements WSClient by opening one logs subscription per
// mentioned program and merging them into a single channel, mirroring
// solana-token-lab's WSSwapEventSource.Subscribe merge pattern.
func (c *Client) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogBundle, error) {
	conn, err := ws.Connect(ctx, c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("ws connect: %w", err)
	}

	out := make(chan LogBundle, 256)
	go func() {
		defer close(out)
		defer conn.Close()

		subs := make([]*ws.LogSubscription, 0, len(filter.Mentions))
		for _, program := range filter.Mentions {
			pub, err := solana.PublicKeyFromBase58(program)
			if err != nil {
				continue
			}
			sub, err := conn.LogsSubscribeMentions(pub, rpc.CommitmentConfirmed)
			if err != nil {
				continue
			}
			subs = append(subs, sub)
		}
		defer func() {
			for _, sub := range subs {
				sub.Unsubscribe()
			}
		}()

		merged := make(chan *ws.LogResult, 1024)
		var recvWG sync.WaitGroup
		for _, sub := range subs {
			recvWG.Add(1)
			go func(sub *ws.LogSubscription) {
				defer recvWG.Done()
				for {
					result, err := sub.Recv(ctx)
					if err != nil {
						return
					}
					select {
					case merged <- result:
					case <-ctx.Done():
						return
					}
				}
			}(sub)
		}
		go func() {
			recvWG.Wait()
			close(merged)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case result, ok := <-merged:
				if !ok {
					return
				}
				if result == nil || result.Value.Err != nil {
					continue
				}
				bundle := LogBundle{
					Signature: result.Value.Signature.String(),
					Slot:      result.Context.Slot,
					Logs:      result.Value.Logs,
				}
				select {
				case out <- bundle:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close is a no-op: connections are scoped to each SubscribeLogs call.
func (c *Client) Close() error { return nil }

// ExtractProgramData strips the "Program data: " prefix from a log line.
// Returns ok=false for lines that don't carry program data.
func ExtractProgramData(logLine string) (string, bool) {
	if !strings.HasPrefix(logLine, programDataPrefix) {
		return "", false
	}
	return strings.TrimPrefix(logLine, programDataPrefix), true
}
