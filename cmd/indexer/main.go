// Command indexer runs the DEX event indexer (spec.md's Coordinator) for
// one or more DEX families, one subcommand per family, mirroring
// evm-node's cli.App + per-task subcommand shape.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/solindexer/core/internal/config"
	"github.com/solindexer/core/internal/coordinator"
	"github.com/solindexer/core/internal/dex"
	"github.com/solindexer/core/internal/dex/raydium"
	"github.com/solindexer/core/internal/dex/whirlpool"
	"github.com/solindexer/core/internal/httpserver"
	"github.com/solindexer/core/internal/metrics"
	"github.com/solindexer/core/internal/solana"
	"github.com/solindexer/core/internal/store"
)

const clientIdentifier = "solindexer"

var app = &cli.App{
	Name:    clientIdentifier,
	Usage:   "real-time and historical DEX event indexer",
	Version: "0.1.0",
}

var globalFlags = []cli.Flag{
	&cli.StringFlag{Name: "rpc-url", Usage: "Solana RPC endpoint, overrides SOLANA_RPC_URL"},
	&cli.StringFlag{Name: "ws-url", Usage: "Solana WebSocket endpoint, overrides SOLANA_WS_URL"},
	&cli.StringFlag{Name: "listen-addr", Usage: "ops HTTP listen address, overrides LISTEN_ADDR"},
	&cli.StringSliceFlag{Name: "pools", Usage: "pool addresses to track; defaults to every pool registered for this dex in storage"},
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	app.Flags = globalFlags
	app.Commands = []*cli.Command{
		{
			Name:  "raydium",
			Usage: "index Raydium constant-product AMM pools",
			Flags: globalFlags,
			Action: func(c *cli.Context) error {
				return runDex(c, "raydium", []string{raydium.DefaultPool}, func(pools dex.PoolSet, repo *sql.DB) dex.Indexer {
					return raydium.NewIndexer(pools, raydium.NewRepository(repo))
				})
			},
		},
		{
			Name:  "whirlpool",
			Usage: "index a concentrated-liquidity AMM's pools",
			Flags: globalFlags,
			Action: func(c *cli.Context) error {
				return runDex(c, "whirlpool", []string{whirlpool.DefaultPool}, func(pools dex.PoolSet, repo *sql.DB) dex.Indexer {
					return whirlpool.NewIndexer(pools, whirlpool.NewRepository(repo))
				})
			},
		},
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a top-level error to the process exit code spec.md §6
// assigns: 0 clean, 1 a runtime fatal condition (e.g. schema drift) that
// surfaced during Run, 2 a configuration/startup failure.
func exitCodeFor(err error) int {
	if _, ok := err.(*startupError); ok {
		return 2
	}
	return 1
}

type startupError struct{ error }

func runDex(c *cli.Context, dexName string, defaultPools []string, newIndexer func(dex.PoolSet, *sql.DB) dex.Indexer) error {
	cfg := config.LoadFromEnv()
	cfg.Override(c.String("rpc-url"), c.String("ws-url"), c.String("listen-addr"))
	if cfg.DatabaseURL == "" {
		return &startupError{fmt.Errorf("DATABASE_URL is required")}
	}
	if cfg.SolanaRPCURL == "" || cfg.SolanaWSURL == "" {
		return &startupError{fmt.Errorf("both --rpc-url/SOLANA_RPC_URL and --ws-url/SOLANA_WS_URL are required")}
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return &startupError{fmt.Errorf("open database: %w", err)}
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DatabaseMaxConnections)

	{
		pingCtx, cancel := context.WithTimeout(context.Background(), cfg.DatabaseConnectTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return &startupError{fmt.Errorf("ping database: %w", err)}
		}
	}

	cursors := store.NewSignatureStore(db)
	poolStore := store.NewPoolStore(db)

	pools, err := resolvePools(c, dexName, poolStore, defaultPools)
	if err != nil {
		return &startupError{err}
	}
	if len(pools) == 0 {
		return &startupError{fmt.Errorf("no pools to track for dex %s: pass --pools, register pools in storage, or ship a compiled-in default", dexName)}
	}

	poolSet := dex.NewPoolSet(pools)
	indexer := newIndexer(poolSet, db)

	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)

	runner := dex.NewRunner(indexer, cursors, dex.DefaultBufferCapacity, metricsReg)

	rpcClient := solana.NewClient(cfg.SolanaRPCURL, cfg.SolanaWSURL, 30*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: httpserver.New(cursors, reg)}
	go func() {
		log.Printf("starting ops server on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ops server failed: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	coord := coordinator.New(rpcClient, rpcClient)
	return coord.Run(ctx, []coordinator.DEX{
		{
			Name:       dexName,
			Runner:     runner,
			ProgramIDs: indexer.ProgramIDs(),
			Pools:      pools,
		},
	})
}

// resolvePools implements spec.md §4.7 step 1's three-tier pool resolution:
// a CLI override wins outright; otherwise pools registered in storage for
// this dex; otherwise the single compiled-in default this binary ships,
// so a fresh deployment with no --pools flag and an empty subscribed_pools
// table still has something to index.
func resolvePools(c *cli.Context, dexName string, poolStore *store.PoolStore, defaultPools []string) ([]string, error) {
	if cliPools := c.StringSlice("pools"); len(cliPools) > 0 {
		return cliPools, nil
	}
	registered, err := poolStore.ListByDex(context.Background(), dexName)
	if err != nil {
		return nil, fmt.Errorf("list registered pools: %w", err)
	}
	if len(registered) > 0 {
		pools := make([]string, 0, len(registered))
		for _, p := range registered {
			pools = append(pools, p.PoolMint)
		}
		return pools, nil
	}
	log.Printf("dex=%s no --pools flag and no pools registered in storage, falling back to compiled-in default %v", dexName, defaultPools)
	return defaultPools, nil
}

