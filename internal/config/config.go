// Package config provides a minimal environment-backed configuration loader,
// generalized from the kernel bootstrap's config.LoadFromEnv to this
// service's settings. CLI flags (wired in cmd/indexer) override whatever
// LoadFromEnv produces; env is the base layer, CLI is the top layer.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the runtime settings the indexer needs to connect to
// Postgres and to a Solana RPC/WS endpoint.
type Config struct {
	DatabaseURL            string        // DATABASE_URL
	DatabaseMaxConnections int           // DATABASE_MAX_CONNECTIONS (default 5)
	DatabaseConnectTimeout time.Duration // DATABASE_CONNECT_TIMEOUT (default 30s)

	SolanaRPCURL string // SOLANA_RPC_URL
	SolanaWSURL  string // SOLANA_WS_URL

	ListenAddr string // LISTEN_ADDR (default :8080), ops HTTP surface
}

// LoadFromEnv reads config values from environment variables, applying
// defaults for anything unset.
func LoadFromEnv() *Config {
	cfg := &Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SolanaRPCURL: os.Getenv("SOLANA_RPC_URL"),
		SolanaWSURL:  os.Getenv("SOLANA_WS_URL"),
		ListenAddr:   os.Getenv("LISTEN_ADDR"),
	}

	cfg.DatabaseMaxConnections = 5
	if v := os.Getenv("DATABASE_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DatabaseMaxConnections = n
		}
	}

	cfg.DatabaseConnectTimeout = 30 * time.Second
	if v := os.Getenv("DATABASE_CONNECT_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DatabaseConnectTimeout = time.Duration(n) * time.Second
		}
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	return cfg
}

// Override applies non-empty CLI-flag values on top of the env-derived
// config, giving CLI flags precedence over environment variables.
func (c *Config) Override(rpcURL, wsURL, listenAddr string) {
	if rpcURL != "" {
		c.SolanaRPCURL = rpcURL
	}
	if wsURL != "" {
		c.SolanaWSURL = wsURL
	}
	if listenAddr != "" {
		c.ListenAddr = listenAddr
	}
}
