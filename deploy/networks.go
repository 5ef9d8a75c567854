package deploy

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"lottery/shared"
)

// Well-known chain ids
const (
	ChainIDHardhat = 31337
	ChainIDSepolia = 11155111
)

// DefaultGasLane is the 30 gwei Sepolia key hash, also used on local chains
const DefaultGasLane = "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c"

// Networks is the per-chain deployment configuration
type Networks struct {
	Networks          map[uint64]shared.NetworkConfig `yaml:"networks"`
	DevelopmentChains []string                        `yaml:"development_chains"`
}

// DefaultNetworks returns the built-in hardhat and sepolia entries
func DefaultNetworks() *Networks {
	return &Networks{
		Networks: map[uint64]shared.NetworkConfig{
			ChainIDHardhat: {
				Name:             "hardhat",
				GasLane:          DefaultGasLane,
				CallbackGasLimit: 500_000,
				Interval:         30 * time.Second,
				EntranceFee:      shared.DefaultEntranceFee,
			},
			ChainIDSepolia: {
				Name:               "sepolia",
				VRFCoordinator:     "0x8103B0A8A00be2DDC778e6e7eaa21791Cd364625",
				GasLane:            DefaultGasLane,
				CallbackGasLimit:   500_000,
				Interval:           30 * time.Second,
				EntranceFee:        shared.DefaultEntranceFee,
				BlockConfirmations: 6,
			},
		},
		DevelopmentChains: []string{"hardhat", "localhost"},
	}
}

// LoadNetworks reads network configuration from a YAML file layered over the
// defaults, then applies environment overrides. A missing file yields the
// defaults.
func LoadNetworks(path string) (*Networks, error) {
	n := DefaultNetworks()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read networks config: %w", err)
		}
		if len(data) > 0 {
			var file Networks
			if err := yaml.Unmarshal(data, &file); err != nil {
				return nil, fmt.Errorf("parse networks config: %w", err)
			}
			for id, cfg := range file.Networks {
				n.Networks[id] = cfg
			}
			if len(file.DevelopmentChains) > 0 {
				n.DevelopmentChains = file.DevelopmentChains
			}
		}
	}

	return n, nil
}

// ApplyEnv overrides the entry for chainID from VRF_COORDINATOR,
// VRF_SUBSCRIPTION_ID, GAS_LANE and ENTRANCE_FEE
func (n *Networks) ApplyEnv(chainID uint64) error {
	cfg, ok := n.Networks[chainID]
	if !ok {
		return nil
	}
	if v := os.Getenv("VRF_COORDINATOR"); v != "" {
		cfg.VRFCoordinator = v
	}
	if v := os.Getenv("VRF_SUBSCRIPTION_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("VRF_SUBSCRIPTION_ID: %w", err)
		}
		cfg.SubscriptionID = id
	}
	if v := os.Getenv("GAS_LANE"); v != "" {
		cfg.GasLane = v
	}
	if v := os.Getenv("ENTRANCE_FEE"); v != "" {
		cfg.EntranceFee = v
	}
	n.Networks[chainID] = cfg
	return nil
}

// IsDevelopment reports whether the named network gets mocks
func (n *Networks) IsDevelopment(name string) bool {
	for _, c := range n.DevelopmentChains {
		if c == name {
			return true
		}
	}
	return false
}

// Lookup returns the entry for chainID
func (n *Networks) Lookup(chainID uint64) (shared.NetworkConfig, error) {
	cfg, ok := n.Networks[chainID]
	if !ok {
		return shared.NetworkConfig{}, fmt.Errorf("no network config for chain id %d", chainID)
	}
	return cfg, nil
}
