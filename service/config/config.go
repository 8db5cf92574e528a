package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string
	CORSOrigins []string // empty allows any origin

	// Chain configuration
	EthRPCURL           string
	ChainID             int64 // 0 means ask the node
	MarketAddress       string
	Currency            string
	ConfirmationTimeout time.Duration

	// Content store configuration
	IPFSAPIURL        string
	IPFSGatewayURL    string
	IPFSProjectID     string
	IPFSProjectSecret string
	StorageTimeout    time.Duration

	// Wallet configuration. Neither source being set is not an error: the
	// service starts without a signing capability and reports it on connect.
	WalletKeystoreDir string
	WalletMnemonic    string
	WalletPassphrase  string

	// Read path
	MetadataFetchConcurrency int // 0 means unlimited

	// NATS configuration (empty disables event fan-out)
	NATSURL string

	// Temporal configuration
	TemporalEnabled   bool
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.CORSOrigins = parseList(os.Getenv("CORS_ORIGINS"))

	// Chain configuration
	cfg.EthRPCURL = os.Getenv("ETH_RPC_URL")
	if cfg.EthRPCURL == "" {
		errs = append(errs, fmt.Errorf("ETH_RPC_URL is required"))
	}

	chainID, err := parseInt("CHAIN_ID", 0)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ChainID = int64(chainID)
	}

	cfg.MarketAddress = os.Getenv("MARKET_ADDRESS")
	if cfg.MarketAddress == "" {
		errs = append(errs, fmt.Errorf("MARKET_ADDRESS is required"))
	} else if !common.IsHexAddress(cfg.MarketAddress) {
		errs = append(errs, fmt.Errorf("MARKET_ADDRESS %q is not a hex address", cfg.MarketAddress))
	}

	cfg.Currency = getEnvOrDefault("NFT_CURRENCY", "ETH")

	confirmationTimeout, err := parseDuration("CONFIRMATION_TIMEOUT", "2m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmationTimeout = confirmationTimeout
	}

	// Content store configuration
	cfg.IPFSAPIURL = getEnvOrDefault("IPFS_API_URL", "http://127.0.0.1:5001")
	if _, err := url.ParseRequestURI(cfg.IPFSAPIURL); err != nil {
		errs = append(errs, fmt.Errorf("IPFS_API_URL: invalid url %q: %w", cfg.IPFSAPIURL, err))
	}
	cfg.IPFSGatewayURL = getEnvOrDefault("IPFS_GATEWAY_URL", "https://ipfs.io/ipfs")
	if _, err := url.ParseRequestURI(cfg.IPFSGatewayURL); err != nil {
		errs = append(errs, fmt.Errorf("IPFS_GATEWAY_URL: invalid url %q: %w", cfg.IPFSGatewayURL, err))
	}
	cfg.IPFSProjectID = os.Getenv("IPFS_PROJECT_ID")
	cfg.IPFSProjectSecret = os.Getenv("IPFS_PROJECT_SECRET")
	if (cfg.IPFSProjectID == "") != (cfg.IPFSProjectSecret == "") {
		errs = append(errs, fmt.Errorf("IPFS_PROJECT_ID and IPFS_PROJECT_SECRET must be set together"))
	}

	storageTimeout, err := parseDuration("STORAGE_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.StorageTimeout = storageTimeout
	}

	// Wallet configuration
	cfg.WalletKeystoreDir = os.Getenv("WALLET_KEYSTORE_DIR")
	cfg.WalletMnemonic = os.Getenv("WALLET_MNEMONIC")
	cfg.WalletPassphrase = os.Getenv("WALLET_PASSPHRASE")
	if cfg.WalletKeystoreDir != "" && cfg.WalletMnemonic != "" {
		errs = append(errs, fmt.Errorf("WALLET_KEYSTORE_DIR and WALLET_MNEMONIC are mutually exclusive"))
	}

	concurrency, err := parseInt("METADATA_FETCH_CONCURRENCY", 0)
	if err != nil {
		errs = append(errs, err)
	} else if concurrency < 0 {
		errs = append(errs, fmt.Errorf("METADATA_FETCH_CONCURRENCY cannot be negative"))
	} else {
		cfg.MetadataFetchConcurrency = concurrency
	}

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	temporalEnabled, err := parseBool("TEMPORAL_ENABLED", false)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TemporalEnabled = temporalEnabled
	}
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "nftmarket-listings")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.EthRPCURL == "" {
		errs = append(errs, fmt.Errorf("EthRPCURL is required"))
	}

	if !common.IsHexAddress(c.MarketAddress) {
		errs = append(errs, fmt.Errorf("MarketAddress must be a hex address"))
	}

	if c.IPFSAPIURL == "" {
		errs = append(errs, fmt.Errorf("IPFSAPIURL is required"))
	}

	if c.IPFSGatewayURL == "" {
		errs = append(errs, fmt.Errorf("IPFSGatewayURL is required"))
	}

	if c.WalletKeystoreDir != "" && c.WalletMnemonic != "" {
		errs = append(errs, fmt.Errorf("WalletKeystoreDir and WalletMnemonic are mutually exclusive"))
	}

	if c.ConfirmationTimeout < time.Second {
		errs = append(errs, fmt.Errorf("ConfirmationTimeout must be at least 1 second"))
	}

	if c.MetadataFetchConcurrency < 0 {
		errs = append(errs, fmt.Errorf("MetadataFetchConcurrency cannot be negative"))
	}

	if c.TemporalEnabled {
		if c.TemporalHost == "" {
			errs = append(errs, fmt.Errorf("TemporalHost is required"))
		}
		if c.TemporalNamespace == "" {
			errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
		}
		if c.TemporalTaskQueue == "" {
			errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// HasWallet reports whether a signing capability source is configured.
func (c *Config) HasWallet() bool {
	return c.WalletKeystoreDir != "" || c.WalletMnemonic != ""
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma-separated value, dropping blanks.
func parseList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
