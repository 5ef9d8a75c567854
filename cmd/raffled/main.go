// Command raffled runs a raffle on a simulated chain: it deploys the raffle
// and the coordinator mock, then serves the gateway while the keeper and the
// oracle worker drive draws.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"lottery/gateway"
	"lottery/internal/logging"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	logger, err := logging.New(logging.OptionsFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	gcfg, err := gateway.LoadConfig()
	if err != nil {
		logger.Fatal("Invalid gateway configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cfg, gcfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer, logger)
	if err != nil {
		logger.Fatal("Deployment failed", zap.Error(err))
	}
	if err := a.run(ctx); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Raffle service stopped")
}
