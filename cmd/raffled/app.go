package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"lottery/deploy"
	"lottery/gateway"
	"lottery/internal/chain"
	"lottery/internal/metrics"
	"lottery/internal/recorder"
	"lottery/keeper"
	"lottery/raffle"
	"lottery/shared"
	"lottery/vrf"
)

// app is the wired daemon
type app struct {
	cfg         Config
	logger      *zap.Logger
	chain       *chain.Network
	coordinator *vrf.Coordinator
	deployment  *deploy.Deployment
	recorder    recorder.Recorder
	gateway     *gateway.Server
	fulfiller   *vrf.Fulfiller
	keeper      *keeper.Keeper
}

// setup deploys the raffle and builds every worker without starting them
func setup(ctx context.Context, cfg Config, gcfg gateway.Config, reg prometheus.Registerer, gatherer prometheus.Gatherer, logger *zap.Logger) (*app, error) {
	m := metrics.New(reg)

	networks, err := deploy.LoadNetworks(cfg.NetworksPath)
	if err != nil {
		return nil, err
	}
	if err := networks.ApplyEnv(cfg.ChainID); err != nil {
		return nil, err
	}
	deployer, err := chain.AccountFromHex(cfg.DeployerKey)
	if err != nil {
		return nil, fmt.Errorf("deployer key: %w", err)
	}

	network := chain.NewNetwork(cfg.ChainID, cfg.Network, time.Now())
	development := networks.IsDevelopment(cfg.Network)
	amount, err := shared.ParseEther(cfg.FundAmountEther)
	if err != nil {
		return nil, err
	}
	funded := cfg.FundAccounts
	if development {
		funded = append(hardhatAccountAddresses(), funded...)
	}
	for _, a := range funded {
		network.Ledger.Fund(a, amount)
	}

	var coordOpts []vrf.Option
	if cfg.VRFKey != "" {
		source, err := vrf.NewProvingSource(cfg.VRFKey)
		if err != nil {
			return nil, fmt.Errorf("VRF key: %w", err)
		}
		coordOpts = append(coordOpts, vrf.WithSource(source))
		if err := alignGasLane(networks, cfg.ChainID, source.KeyHash(), development, logger); err != nil {
			return nil, err
		}
		logger.Info("Oracle proving key loaded", zap.String("key_hash", source.KeyHash().Hex()))
	}

	netCfg, err := networks.Lookup(cfg.ChainID)
	if err != nil {
		return nil, err
	}

	var verifier *deploy.Verifier
	if cfg.EtherscanAPIKey != "" && !development {
		verifier, err = deploy.NewVerifier(cfg.ExplorerAPIURL, cfg.EtherscanAPIKey, cfg.ChainID,
			cfg.VerifySourcePath, cfg.VerifyCompilerVersion, logger)
		switch {
		case errors.Is(err, deploy.ErrVerifierNotConfigured):
			logger.Warn("Skipping contract verification, set VERIFY_SOURCE_PATH and VERIFY_COMPILER_VERSION")
		case err != nil:
			return nil, err
		}
	}

	rec := recorder.Recorder(recorder.NewNoopRecorder())
	if cfg.SQLitePath != "" {
		sqlite, err := recorder.NewSQLiteRecorder(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		rec = sqlite
	}

	hub := gateway.NewHub(logger.Named("ws"), m)
	env := deploy.Env{
		NetworkName:     cfg.Network,
		ChainID:         cfg.ChainID,
		Networks:        networks,
		Chain:           network,
		Deployer:        deployer.Address,
		Verifier:        verifier,
		EtherscanAPIKey: cfg.EtherscanAPIKey,
		Logger:          logger,
		Metrics:         m,
		Sink:            raffle.MultiSink{hub, recorder.Sink(rec, logger)},
	}

	coordinator, err := deploy.DeployMocks(ctx, env, coordOpts...)
	if err != nil {
		rec.Close()
		return nil, err
	}
	if coordinator == nil {
		if coordinator, err = connectCoordinator(network, deployer.Address, netCfg, m, logger, coordOpts); err != nil {
			rec.Close()
			return nil, err
		}
	}
	env.Coordinator = coordinator

	d, err := deploy.Deploy(ctx, env)
	if err != nil {
		rec.Close()
		return nil, err
	}
	if !d.Development {
		if err := coordinator.AddConsumer(deployer.Address, d.Args.SubscriptionID, d.Address); err != nil {
			rec.Close()
			return nil, fmt.Errorf("add consumer: %w", err)
		}
	}

	var deliverer vrf.Deliverer = vrf.DirectDeliverer{Coordinator: coordinator}
	if cfg.DeliveryMode == DeliveryWebhook {
		deliverer = vrf.WebhookDeliverer{URL: "http://127.0.0.1" + gcfg.Port + "/webhook/vrf"}
	}
	var miner vrf.Miner
	if development {
		miner = network.Clock
	}

	gcfg.Version = Version
	srv, err := gateway.New(gcfg, d.Raffle, coordinator,
		gateway.WithLogger(logger.Named("gateway")),
		gateway.WithMetrics(m, gatherer),
		gateway.WithRecorder(rec),
		gateway.WithHub(hub),
	)
	if err != nil {
		rec.Close()
		return nil, err
	}

	a := &app{
		cfg:         cfg,
		logger:      logger,
		chain:       network,
		coordinator: coordinator,
		deployment:  d,
		recorder:    rec,
		gateway:     srv,
		fulfiller:   vrf.NewFulfiller(coordinator, deliverer, miner, vrf.FulfillerConfig{Delay: cfg.FulfillDelay}, logger),
	}
	if cfg.KeeperSchedule != "" {
		a.keeper = keeper.New(d.Raffle, cfg.KeeperSchedule, logger, m)
		if err := a.keeper.Register(ctx); err != nil {
			srv.Close()
			rec.Close()
			return nil, err
		}
	}
	return a, nil
}

// connectCoordinator stands in for the live coordinator at the configured
// address. The operator's subscriptions are recreated up to the configured id,
// which is funded.
func connectCoordinator(network *chain.Network, owner common.Address, netCfg shared.NetworkConfig, m *metrics.Metrics, logger *zap.Logger, opts []vrf.Option) (*vrf.Coordinator, error) {
	if err := shared.ValidateAddress(netCfg.VRFCoordinator); err != nil {
		return nil, fmt.Errorf("vrf_coordinator: %w", err)
	}
	opts = append([]vrf.Option{vrf.WithLogger(logger), vrf.WithMetrics(m)}, opts...)
	coordinator := vrf.NewCoordinator(common.HexToAddress(netCfg.VRFCoordinator), network.Clock, opts...)

	var subID uint64
	for subID < netCfg.SubscriptionID {
		subID = coordinator.CreateSubscription(owner)
	}
	if subID > 0 {
		amount, err := shared.ParseLink(shared.FundSubscriptionAmount)
		if err != nil {
			return nil, err
		}
		if err := coordinator.FundSubscription(subID, amount); err != nil {
			return nil, fmt.Errorf("fund subscription: %w", err)
		}
	}

	logger.Info("Connected to VRF coordinator",
		zap.String("vrf_coordinator", coordinator.Address().Hex()),
		zap.Uint64("subscription_id", subID))
	return coordinator, nil
}

// alignGasLane makes the network's gas lane match the oracle key. Development
// chains adopt the key hash; live chains must already name it.
func alignGasLane(networks *deploy.Networks, chainID uint64, keyHash common.Hash, development bool, logger *zap.Logger) error {
	netCfg, err := networks.Lookup(chainID)
	if err != nil {
		return err
	}
	if common.HexToHash(netCfg.GasLane) == keyHash {
		return nil
	}
	if !development {
		return fmt.Errorf("gas lane %s does not match oracle key hash %s", netCfg.GasLane, keyHash.Hex())
	}
	logger.Info("Using oracle key hash as gas lane",
		zap.String("configured", netCfg.GasLane),
		zap.String("key_hash", keyHash.Hex()))
	netCfg.GasLane = keyHash.Hex()
	networks.Networks[chainID] = netCfg
	return nil
}

// run starts every worker and blocks until ctx is canceled
func (a *app) run(ctx context.Context) error {
	defer a.recorder.Close()

	go a.chain.Clock.AutoMine(ctx, a.cfg.BlockTime)
	go a.fulfiller.Run(ctx)
	if a.keeper != nil {
		a.keeper.Start()
		defer a.keeper.Stop()
	}

	a.logger.Info("Raffle service started",
		zap.String("version", BuildInfo()),
		zap.String("network", a.cfg.Network),
		zap.String("raffle", a.deployment.Address.Hex()),
		zap.String("deployment_id", a.deployment.ID.String()),
		zap.String("vrf_delivery", a.cfg.DeliveryMode),
		zap.Bool("keeper", a.keeper != nil))

	return a.gateway.Run(ctx)
}

func hardhatAccountAddresses() []common.Address {
	out := make([]common.Address, len(hardhatAccounts))
	for i, a := range hardhatAccounts {
		out[i] = common.HexToAddress(a)
	}
	return out
}
