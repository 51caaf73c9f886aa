// config/config.go
package config

import (
	"os"
	"strconv"
)

type Config struct {
	Chain  ChainConfig
	Store  StoreConfig
	Ledger LedgerConfig
}

type ChainConfig struct {
	Network       string // mainnet, amoy, sepolia
	RPCURL        string
	SigningKey    string
	WalletAddress string
}

type StoreConfig struct {
	URI      string
	Database string
}

type LedgerConfig struct {
	BackfillLimit int
	PageSize      int
}

func Load() (*Config, error) {
	// ============================================================================
	// Chain Configuration
	// ============================================================================
	network := getEnv("CHAIN_NETWORK", "amoy")
	rpcURL := getEnv("CHAIN_RPC_URL", "")

	// Default public RPC endpoints based on network
	if rpcURL == "" {
		switch network {
		case "mainnet":
			rpcURL = "https://polygon-rpc.com"
		case "amoy":
			rpcURL = "https://rpc-amoy.polygon.technology"
		case "sepolia":
			rpcURL = "https://rpc.sepolia.org"
		}
	}

	return &Config{
		Chain: ChainConfig{
			Network:       network,
			RPCURL:        rpcURL,
			SigningKey:    os.Getenv("WALLET_SIGNING_KEY"),
			WalletAddress: getEnv("FUND_WALLET_ADDRESS", ""),
		},
		Store: StoreConfig{
			URI:      getEnv("STORE_URI", ""),
			Database: getEnv("STORE_DATABASE", "relieffund"),
		},
		Ledger: LedgerConfig{
			BackfillLimit: getEnvAsInt("LEDGER_BACKFILL_LIMIT", 20),
			PageSize:      getEnvAsInt("LEDGER_PAGE_SIZE", 50),
		},
	}, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
