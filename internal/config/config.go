package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/whalestrategy/whalestake/pkg/types"
)

// Config is the complete client configuration
type Config struct {
	Chain     ChainConfig     `yaml:"chain"`
	Contracts ContractsConfig `yaml:"contracts"`
	Gas       GasConfig       `yaml:"gas"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Staking   StakingConfig   `yaml:"staking"`
	PriceFeed PriceFeedConfig `yaml:"pricefeed"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// ChainConfig contains RPC connection settings
type ChainConfig struct {
	RPCURL        string   `yaml:"rpc_url"`       // Primary RPC endpoint (writes always go here)
	RPCURLs       []string `yaml:"rpc_urls"`      // Additional read endpoints for failover
	ChainID       int64    `yaml:"chain_id"`
	Confirmations uint64   `yaml:"confirmations"` // Blocks to wait after a receipt
	ReadRetries   int      `yaml:"read_retries"`
	Mock          bool     `yaml:"mock"` // In-memory ledger, no RPC
}

// ResolvedRPCURLs merges RPCURL with RPCURLs, deduplicating. The primary is first.
func (c *ChainConfig) ResolvedRPCURLs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range append([]string{c.RPCURL}, c.RPCURLs...) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// ContractsConfig holds deployed contract addresses
type ContractsConfig struct {
	Staking string       `yaml:"staking"`
	Owner   string       `yaml:"owner"` // Fallback when owner() cannot be read
	Tokens  TokensConfig `yaml:"tokens"`
}

// TokensConfig holds the ERC20 address of each supported token
type TokensConfig struct {
	USDT string `yaml:"usdt"`
	BTC  string `yaml:"btc"` // WBTC
	ETH  string `yaml:"eth"` // WETH
}

// Address returns the configured address for a token symbol
func (t TokensConfig) Address(sym types.TokenSymbol) string {
	switch sym {
	case types.TokenUSDT:
		return t.USDT
	case types.TokenBTC:
		return t.BTC
	case types.TokenETH:
		return t.ETH
	}
	return ""
}

// GasConfig holds explicit gas parameters for state-changing calls
type GasConfig struct {
	Limit        uint64  `yaml:"limit"`
	PriceGwei    float64 `yaml:"price_gwei"`     // 0 = use the node's suggestion
	MaxPriceGwei float64 `yaml:"max_price_gwei"` // cap applied to suggestions
}

// LedgerConfig controls snapshot refresh
type LedgerConfig struct {
	PollIntervalSecs int `yaml:"poll_interval_secs"`
	ReadTimeoutSecs  int `yaml:"read_timeout_secs"`
}

func (l LedgerConfig) PollInterval() time.Duration {
	return time.Duration(l.PollIntervalSecs) * time.Second
}

func (l LedgerConfig) ReadTimeout() time.Duration {
	return time.Duration(l.ReadTimeoutSecs) * time.Second
}

// StakingConfig holds user-facing staking terms
type StakingConfig struct {
	EarlyPenaltyPercent int      `yaml:"early_penalty_percent"` // shown in the early-unstake prompt
	DurationLabels      []string `yaml:"duration_labels"`
}

// PriceFeedConfig controls the optional USD price lookup
type PriceFeedConfig struct {
	Enabled           bool   `yaml:"enabled"`
	BaseURL           string `yaml:"base_url"`
	TTLSecs           int    `yaml:"ttl_secs"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	TimeoutSecs       int    `yaml:"timeout_secs"`
}

// WalletConfig locates the signing key
type WalletConfig struct {
	KeystoreDir    string `yaml:"keystore_dir"`
	Account        string `yaml:"account"` // Optional: pick this keystore account
	PasswordFile   string `yaml:"password_file"`
	KeyringService string `yaml:"keyring_service"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty = disabled
}

// LogConfig controls logging
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	base := filepath.Join(homeDir, ".whalestake")

	return &Config{
		Chain: ChainConfig{
			RPCURL:        "https://ethereum-rpc.publicnode.com",
			ChainID:       1,
			Confirmations: 1,
			ReadRetries:   2,
		},
		Gas: GasConfig{
			Limit:        300000,
			MaxPriceGwei: 200,
		},
		Ledger: LedgerConfig{
			PollIntervalSecs: 5,
			ReadTimeoutSecs:  10,
		},
		Staking: StakingConfig{
			EarlyPenaltyPercent: 6,
			DurationLabels:      []string{"30 Days", "6 Months", "1 Year"},
		},
		PriceFeed: PriceFeedConfig{
			Enabled:           true,
			BaseURL:           "https://api.coingecko.com/api/v3",
			TTLSecs:           60,
			RequestsPerMinute: 10,
			TimeoutSecs:       5,
		},
		Wallet: WalletConfig{
			KeystoreDir:    filepath.Join(base, "keystore"),
			KeyringService: "whalestake",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path, then applies environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		f = expandPath(f)
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Environment variable names
const (
	EnvContractAddress = "WHALESTAKE_CONTRACT_ADDRESS"
	EnvOwnerAddress    = "WHALESTAKE_OWNER_ADDRESS"
	EnvRPCURL          = "WHALESTAKE_RPC_URL"
	EnvChainID         = "WHALESTAKE_CHAIN_ID"
	EnvUSDTAddress     = "WHALESTAKE_USDT_ADDRESS"
	EnvBTCAddress      = "WHALESTAKE_BTC_ADDRESS"
	EnvETHAddress      = "WHALESTAKE_ETH_ADDRESS"
	EnvKeystoreDir     = "WHALESTAKE_KEYSTORE_DIR"
	EnvLogLevel        = "WHALESTAKE_LOG_LEVEL"
	EnvMock            = "WHALESTAKE_MOCK"
)

// ApplyEnv overrides file values with any WHALESTAKE_* variables that are set
func (c *Config) ApplyEnv() error {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Contracts.Staking, EnvContractAddress)
	set(&c.Contracts.Owner, EnvOwnerAddress)
	set(&c.Chain.RPCURL, EnvRPCURL)
	set(&c.Contracts.Tokens.USDT, EnvUSDTAddress)
	set(&c.Contracts.Tokens.BTC, EnvBTCAddress)
	set(&c.Contracts.Tokens.ETH, EnvETHAddress)
	set(&c.Wallet.KeystoreDir, EnvKeystoreDir)
	set(&c.Log.Level, EnvLogLevel)

	if v := strings.TrimSpace(os.Getenv(EnvChainID)); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvChainID, err)
		}
		c.Chain.ChainID = id
	}
	if v := strings.TrimSpace(os.Getenv(EnvMock)); v != "" {
		mock, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMock, err)
		}
		c.Chain.Mock = mock
	}
	return nil
}

// Save writes the configuration to path
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("invalid chain_id: %d", c.Chain.ChainID)
	}
	if c.Chain.ReadRetries < 0 {
		return fmt.Errorf("read_retries must be >= 0, got %d", c.Chain.ReadRetries)
	}
	if c.Ledger.PollIntervalSecs < 1 {
		return fmt.Errorf("poll_interval_secs must be >= 1, got %d", c.Ledger.PollIntervalSecs)
	}
	if c.Ledger.ReadTimeoutSecs < 1 {
		return fmt.Errorf("read_timeout_secs must be >= 1, got %d", c.Ledger.ReadTimeoutSecs)
	}
	if c.Staking.EarlyPenaltyPercent < 0 || c.Staking.EarlyPenaltyPercent > 100 {
		return fmt.Errorf("early_penalty_percent must be 0-100, got %d", c.Staking.EarlyPenaltyPercent)
	}
	if len(c.Staking.DurationLabels) == 0 {
		return fmt.Errorf("staking.duration_labels must not be empty")
	}
	if c.Gas.Limit == 0 {
		return fmt.Errorf("gas.limit must be > 0")
	}
	if c.Gas.PriceGwei < 0 || c.Gas.MaxPriceGwei < 0 {
		return fmt.Errorf("gas prices must not be negative")
	}
	if c.Gas.PriceGwei > 0 && c.Gas.MaxPriceGwei > 0 && c.Gas.PriceGwei > c.Gas.MaxPriceGwei {
		return fmt.Errorf("gas.price_gwei %.2f exceeds max_price_gwei %.2f", c.Gas.PriceGwei, c.Gas.MaxPriceGwei)
	}
	if c.PriceFeed.Enabled {
		if c.PriceFeed.BaseURL == "" {
			return fmt.Errorf("pricefeed.base_url is required when the price feed is enabled")
		}
		if c.PriceFeed.RequestsPerMinute < 1 {
			return fmt.Errorf("pricefeed.requests_per_minute must be >= 1")
		}
	}
	if c.Contracts.Owner != "" {
		if err := validateEthAddress("contracts.owner", c.Contracts.Owner); err != nil {
			return err
		}
	}
	if c.Wallet.Account != "" {
		if err := validateEthAddress("wallet.account", c.Wallet.Account); err != nil {
			return err
		}
	}

	if c.Chain.Mock {
		return nil
	}
	if len(c.Chain.ResolvedRPCURLs()) == 0 {
		return fmt.Errorf("chain.rpc_url is required when mock is false")
	}
	if err := validateEthAddress("contracts.staking", c.Contracts.Staking); err != nil {
		return err
	}
	for _, sym := range types.SupportedTokens {
		name := "contracts.tokens." + strings.ToLower(string(sym))
		if err := validateEthAddress(name, c.Contracts.Tokens.Address(sym)); err != nil {
			return err
		}
	}
	return nil
}

// validateEthAddress checks that an address is 0x-prefixed, 40 hex chars, and non-zero.
func validateEthAddress(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required when mock is false", name)
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("%s must start with 0x, got %q", name, addr)
	}
	hexPart := addr[2:]
	if len(hexPart) != 40 {
		return fmt.Errorf("%s must be 42 characters (0x + 40 hex), got %d", name, len(addr))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%s contains invalid hex characters: %w", name, err)
	}
	if strings.Trim(hexPart, "0") == "" {
		return fmt.Errorf("%s must not be the zero address", name)
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Wallet.KeystoreDir = expandPath(c.Wallet.KeystoreDir)
	c.Wallet.PasswordFile = expandPath(c.Wallet.PasswordFile)
}

// expandPath expands ~ to the home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".whalestake", "config.yaml")
}
