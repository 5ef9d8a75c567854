package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lottery/deploy"
	"lottery/keeper"
	"lottery/shared"
)

// Hardhat account #0
const defaultDeployerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// Hardhat accounts #0-#4, funded on development chains
var hardhatAccounts = []string{
	"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
	"0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
	"0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC",
	"0x90F79bf6EB2c4F870365E96eaD458bE0E3a1B5D8",
	"0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65",
}

// Delivery modes for the oracle worker
const (
	DeliveryDirect  = "direct"
	DeliveryWebhook = "webhook"
)

// Config is the daemon configuration
type Config struct {
	Network               string
	ChainID               uint64
	NetworksPath          string
	DeployerKey           string
	VRFKey                string // empty: mock words instead of proofs
	EtherscanAPIKey       string
	ExplorerAPIURL        string // empty: deploy.DefaultExplorerAPI
	VerifySourcePath      string // flattened Raffle.sol submitted for verification
	VerifyCompilerVersion string
	SQLitePath            string // empty: events are not persisted
	KeeperSchedule        string // empty: keeper disabled
	FulfillDelay          time.Duration
	DeliveryMode          string
	BlockTime             time.Duration
	FundAccounts          []common.Address
	FundAmountEther       string
}

// loadConfig reads the daemon configuration from the environment
func loadConfig() (Config, error) {
	cfg := Config{
		Network:               "hardhat",
		ChainID:               deploy.ChainIDHardhat,
		NetworksPath:          os.Getenv("NETWORKS_CONFIG"),
		DeployerKey:           os.Getenv("DEPLOYER_PRIVATE_KEY"),
		VRFKey:                os.Getenv("VRF_PRIVATE_KEY"),
		EtherscanAPIKey:       os.Getenv("ETHERSCAN_API_KEY"),
		ExplorerAPIURL:        os.Getenv("ETHERSCAN_API_URL"),
		VerifySourcePath:      os.Getenv("VERIFY_SOURCE_PATH"),
		VerifyCompilerVersion: os.Getenv("VERIFY_COMPILER_VERSION"),
		SQLitePath:            os.Getenv("SQLITE_PATH"),
		KeeperSchedule:        keeper.DefaultSchedule,
		FulfillDelay:          2 * time.Second,
		DeliveryMode:          DeliveryDirect,
		BlockTime:             2 * time.Second,
		FundAmountEther:       "10000",
	}

	if v := os.Getenv("NETWORK"); v != "" {
		cfg.Network = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &cfg.ChainID); err != nil {
			return cfg, fmt.Errorf("invalid CHAIN_ID: %w", err)
		}
	}
	if cfg.DeployerKey == "" {
		cfg.DeployerKey = defaultDeployerKey
	}
	if v, ok := os.LookupEnv("KEEPER_SCHEDULE"); ok {
		cfg.KeeperSchedule = v
	}
	if v := os.Getenv("FULFILL_DELAY_SECONDS"); v != "" {
		var seconds int
		if _, err := fmt.Sscanf(v, "%d", &seconds); err != nil {
			return cfg, fmt.Errorf("invalid FULFILL_DELAY_SECONDS: %w", err)
		}
		cfg.FulfillDelay = time.Duration(seconds) * time.Second
	}
	if v := os.Getenv("BLOCK_TIME_SECONDS"); v != "" {
		var seconds int
		if _, err := fmt.Sscanf(v, "%d", &seconds); err != nil {
			return cfg, fmt.Errorf("invalid BLOCK_TIME_SECONDS: %w", err)
		}
		cfg.BlockTime = time.Duration(seconds) * time.Second
	}
	if v := os.Getenv("VRF_DELIVERY"); v != "" {
		cfg.DeliveryMode = strings.ToLower(v)
	}
	if v := os.Getenv("FUND_AMOUNT_ETHER"); v != "" {
		cfg.FundAmountEther = v
	}
	if v := os.Getenv("FUND_ACCOUNTS"); v != "" {
		for _, a := range strings.Split(v, ",") {
			a = strings.TrimSpace(a)
			if err := shared.ValidateAddress(a); err != nil {
				return cfg, fmt.Errorf("FUND_ACCOUNTS: %w", err)
			}
			cfg.FundAccounts = append(cfg.FundAccounts, common.HexToAddress(a))
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Network == "" {
		return fmt.Errorf("network required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain id required")
	}
	if c.DeliveryMode != DeliveryDirect && c.DeliveryMode != DeliveryWebhook {
		return fmt.Errorf("VRF_DELIVERY must be %q or %q, got %q", DeliveryDirect, DeliveryWebhook, c.DeliveryMode)
	}
	if c.FulfillDelay < 0 {
		return fmt.Errorf("fulfill delay must not be negative")
	}
	if c.BlockTime < time.Second {
		return fmt.Errorf("block time must be at least 1s, got %s", c.BlockTime)
	}
	if _, err := shared.ParseEther(c.FundAmountEther); err != nil {
		return fmt.Errorf("FUND_AMOUNT_ETHER: %w", err)
	}
	return nil
}
