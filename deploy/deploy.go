// Package deploy stands up a raffle on a network: mock coordinator on
// development chains, subscription setup, construction from the network
// config, confirmation wait and optional source verification.
package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lottery/internal/chain"
	"lottery/internal/logging"
	"lottery/internal/metrics"
	"lottery/raffle"
	"lottery/shared"
	"lottery/vrf"
)

// Env is everything a deployment needs
type Env struct {
	NetworkName string
	ChainID     uint64
	Networks    *Networks
	Chain       *chain.Network
	Deployer    common.Address
	Coordinator *vrf.Coordinator

	// Verification runs only off development chains when both are set
	Verifier        *Verifier
	EtherscanAPIKey string

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Sink    raffle.EventSink
}

// Deployment records a completed deployment
type Deployment struct {
	ID          uuid.UUID
	Tags        []string
	Network     string
	ChainID     uint64
	Address     common.Address
	Args        ConstructorArgs
	Raffle      *raffle.Raffle
	Block       uint64
	DeployedAt  time.Time
	Development bool
	Verified    bool
}

// Tags mirror the deploy script's tags
var (
	RaffleTags = []string{"all", "raffle"}
	MockTags   = []string{"all", "mocks"}
)

// DeployMocks deploys the coordinator mock on development chains. It returns
// nil on live networks.
func DeployMocks(ctx context.Context, env Env, opts ...vrf.Option) (*vrf.Coordinator, error) {
	logger := logging.OrNop(env.Logger)
	if !env.Networks.IsDevelopment(env.NetworkName) {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Info("Local network detected! Deploying mocks...", zap.String("network", env.NetworkName))
	addr := chain.ContractAddress(env.Deployer, env.Chain.Nonces.Next(env.Deployer))
	opts = append([]vrf.Option{vrf.WithLogger(logger), vrf.WithMetrics(env.Metrics)}, opts...)
	coordinator := vrf.NewCoordinator(addr, env.Chain.Clock, opts...)
	env.Chain.Clock.Mine()
	logger.Info("Mocks Deployed!", zap.String("vrf_coordinator", addr.Hex()))
	return coordinator, nil
}

// Deploy constructs and wires a raffle according to the network config
func Deploy(ctx context.Context, env Env) (*Deployment, error) {
	logger := logging.OrNop(env.Logger)
	if env.Networks == nil || env.Chain == nil || env.Coordinator == nil {
		return nil, fmt.Errorf("networks, chain and coordinator are required")
	}

	cfg, err := env.Networks.Lookup(env.ChainID)
	if err != nil {
		return nil, err
	}
	development := env.Networks.IsDevelopment(env.NetworkName)
	if err := cfg.Validate(development); err != nil {
		return nil, fmt.Errorf("network %s: %w", env.NetworkName, err)
	}
	fee, err := shared.ParseEther(cfg.EntranceFee)
	if err != nil {
		return nil, fmt.Errorf("entrance fee: %w", err)
	}

	var subID uint64
	if development {
		subID = env.Coordinator.CreateSubscription(env.Deployer)
		env.Chain.Clock.Mine()
		amount, err := shared.ParseLink(shared.FundSubscriptionAmount)
		if err != nil {
			return nil, err
		}
		if err := env.Coordinator.FundSubscription(subID, amount); err != nil {
			return nil, fmt.Errorf("fund subscription: %w", err)
		}
	} else {
		want := common.HexToAddress(cfg.VRFCoordinator)
		if env.Coordinator.Address() != want {
			return nil, fmt.Errorf("coordinator at %s, network config names %s", env.Coordinator.Address().Hex(), want.Hex())
		}
		subID = cfg.SubscriptionID
	}

	args := ConstructorArgs{
		VRFCoordinator:   env.Coordinator.Address(),
		EntranceFee:      fee,
		GasLane:          common.HexToHash(cfg.GasLane),
		SubscriptionID:   subID,
		CallbackGasLimit: cfg.CallbackGasLimit,
		Interval:         cfg.Interval,
	}

	addr := chain.ContractAddress(env.Deployer, env.Chain.Nonces.Next(env.Deployer))
	r, err := raffle.New(raffle.Config{
		Address:          addr,
		EntranceFee:      args.EntranceFee,
		Interval:         args.Interval,
		Coordinator:      args.VRFCoordinator,
		GasLane:          args.GasLane,
		SubscriptionID:   args.SubscriptionID,
		CallbackGasLimit: args.CallbackGasLimit,
	}, env.Coordinator, env.Chain.Ledger, env.Chain.Clock,
		raffle.WithLogger(logger),
		raffle.WithMetrics(env.Metrics),
		raffle.WithEventSink(env.Sink),
	)
	if err != nil {
		return nil, fmt.Errorf("construct raffle: %w", err)
	}
	env.Coordinator.Register(addr, r)

	if development {
		if err := env.Coordinator.AddConsumer(env.Deployer, subID, addr); err != nil {
			return nil, fmt.Errorf("add consumer: %w", err)
		}
	}

	confirmations := cfg.BlockConfirmations
	if confirmations < 1 {
		confirmations = 1
	}
	env.Chain.Clock.MineBlocks(confirmations)
	logger.Info(fmt.Sprintf("Raffle deployed at %s", addr.Hex()),
		zap.String("network", env.NetworkName),
		zap.Uint64("chain_id", env.ChainID),
		zap.Uint64("subscription_id", subID),
		zap.Int("confirmations", confirmations))

	d := &Deployment{
		ID:          uuid.New(),
		Tags:        RaffleTags,
		Network:     env.NetworkName,
		ChainID:     env.ChainID,
		Address:     addr,
		Args:        args,
		Raffle:      r,
		Block:       env.Chain.Clock.BlockNumber(),
		DeployedAt:  env.Chain.Clock.Now(),
		Development: development,
	}

	if !development && env.EtherscanAPIKey != "" && env.Verifier != nil {
		if err := env.Verifier.Verify(ctx, addr, args); err != nil {
			// The raffle is live either way
			logger.Error("Verification failed", zap.Error(err))
		} else {
			d.Verified = true
		}
	}

	return d, nil
}
