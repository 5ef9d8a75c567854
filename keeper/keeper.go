// Package keeper automates upkeep: on a cron schedule it asks the raffle
// whether a draw is due and performs it.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"lottery/internal/logging"
	"lottery/internal/metrics"
	"lottery/raffle"
)

// DefaultSchedule runs every 10 seconds (cron with seconds field)
const DefaultSchedule = "*/10 * * * * *"

// Upkeeper is the part of the raffle the keeper drives
type Upkeeper interface {
	CheckUpkeep(ctx context.Context) (raffle.UpkeepStatus, error)
	PerformUpkeep(ctx context.Context) (*big.Int, error)
}

// Result values reported by RunOnce
const (
	ResultNotNeeded = "not_needed"
	ResultPerformed = "performed"
	ResultError     = "error"
)

// Keeper manages the upkeep cron task.
type Keeper struct {
	Cron     *cron.Cron
	target   Upkeeper
	schedule string
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New creates a Keeper. An empty schedule means DefaultSchedule.
func New(target Upkeeper, schedule string, logger *zap.Logger, m *metrics.Metrics) *Keeper {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Keeper{
		Cron:     cron.New(cron.WithSeconds()),
		target:   target,
		schedule: schedule,
		logger:   logging.OrNop(logger).Named("keeper"),
		metrics:  m,
	}
}

// Register adds the upkeep task to the cron scheduler. Each tick runs with ctx.
func (k *Keeper) Register(ctx context.Context) error {
	if _, err := k.Cron.AddFunc(k.schedule, func() {
		k.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("register upkeep task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (k *Keeper) Start() {
	k.Cron.Start()
	k.logger.Info("Keeper started", zap.String("schedule", k.schedule))
}

// Stop stops the scheduler and waits for a running tick to finish.
func (k *Keeper) Stop() {
	<-k.Cron.Stop().Done()
	k.logger.Info("Keeper stopped")
}

// RunOnce checks upkeep and performs it when needed. It returns the result
// label and, when performed, the request id.
func (k *Keeper) RunOnce(ctx context.Context) (string, *big.Int) {
	status, err := k.target.CheckUpkeep(ctx)
	if err != nil {
		k.logger.Error("CheckUpkeep failed", zap.Error(err))
		k.metrics.KeeperRuns.WithLabelValues(ResultError).Inc()
		return ResultError, nil
	}
	if !status.Needed {
		k.logger.Debug("Upkeep not needed",
			zap.Bool("is_open", status.IsOpen),
			zap.Bool("time_passed", status.TimePassed),
			zap.Int("players", status.NumberOfPlayers))
		k.metrics.KeeperRuns.WithLabelValues(ResultNotNeeded).Inc()
		return ResultNotNeeded, nil
	}

	requestID, err := k.target.PerformUpkeep(ctx)
	if err != nil {
		// Another caller may have performed upkeep between check and perform
		if errors.Is(err, raffle.ErrUpkeepNotNeeded) {
			k.metrics.KeeperRuns.WithLabelValues(ResultNotNeeded).Inc()
			return ResultNotNeeded, nil
		}
		k.logger.Error("PerformUpkeep failed", zap.Error(err))
		k.metrics.KeeperRuns.WithLabelValues(ResultError).Inc()
		return ResultError, nil
	}

	k.logger.Info("Upkeep performed", zap.String("request_id", requestID.String()))
	k.metrics.KeeperRuns.WithLabelValues(ResultPerformed).Inc()
	return ResultPerformed, requestID
}
