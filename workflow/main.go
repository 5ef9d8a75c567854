//go:build wasip1

package main

import (
	"fmt"
	"log/slog"

	pb "github.com/smartcontractkit/chainlink-protos/cre/go/sdk"
	"github.com/smartcontractkit/cre-sdk-go/capabilities/networking/http"
	"github.com/smartcontractkit/cre-sdk-go/capabilities/scheduler/cron"
	"github.com/smartcontractkit/cre-sdk-go/cre"
	"github.com/smartcontractkit/cre-sdk-go/cre/wasm"

	"lottery/automation"
	"lottery/shared"
)

// Raffle upkeep workflow for CRE/WASM execution.
// Each cron tick: check upkeep with DON consensus, then perform when needed.

// workflowConfig carries the parsed config plus the optional gateway key
type workflowConfig struct {
	*automation.Config
	APIKey string
}

// sendRequester adapts the CRE HTTP capability to automation.Requester
type sendRequester struct {
	sr *http.SendRequester
}

func (s sendRequester) Do(req *automation.Request) (*automation.Response, error) {
	resp, err := s.sr.SendRequest(&http.Request{
		Method:  req.Method,
		Url:     req.URL,
		Headers: req.Headers,
		Body:    req.Body,
	}).Await()
	if err != nil {
		return nil, err
	}
	return &automation.Response{StatusCode: int(resp.StatusCode), Body: resp.Body}, nil
}

// onCronTrigger checks upkeep and performs it when every node agrees it is needed
func onCronTrigger(config *automation.Config, runtime cre.Runtime, trigger *cron.Payload) (*automation.PerformOutcome, error) {
	logger := runtime.Logger()
	logger.Info("Cron trigger fired for upkeep", "scheduledTime", trigger.ScheduledExecutionTime.AsTime())

	wc := &workflowConfig{Config: config, APIKey: fetchAPIKey(runtime)}
	client := &http.Client{}

	status, err := http.SendRequest(wc, runtime, client,
		func(wc *workflowConfig, log *slog.Logger, sr *http.SendRequester) (*shared.UpkeepResponse, error) {
			return automation.CheckUpkeep(wc.Config, log, sendRequester{sr})
		},
		cre.ConsensusAggregationFromTags[*shared.UpkeepResponse](),
	).Await()
	if err != nil {
		logger.Error("Upkeep check failed", "error", err)
		return nil, fmt.Errorf("upkeep check failed: %w", err)
	}

	if !status.UpkeepNeeded {
		logger.Info("Upkeep not needed",
			"isOpen", status.IsOpen,
			"timePassed", status.TimePassed,
			"players", status.NumberOfPlayers)
		return &automation.PerformOutcome{Outcome: automation.OutcomeNotNeeded}, nil
	}

	outcome, err := http.SendRequest(wc, runtime, client,
		func(wc *workflowConfig, log *slog.Logger, sr *http.SendRequester) (*automation.PerformOutcome, error) {
			return automation.PerformUpkeep(wc.Config, wc.APIKey, log, sendRequester{sr})
		},
		cre.ConsensusAggregationFromTags[*automation.PerformOutcome](),
	).Await()
	if err != nil {
		logger.Error("Perform upkeep failed", "error", err)
		return nil, fmt.Errorf("perform upkeep failed: %w", err)
	}

	logger.Info("Upkeep round complete", "performed", outcome.Performed, "outcome", outcome.Outcome)
	return outcome, nil
}

// fetchAPIKey returns the gateway key secret, or "" when none is configured
func fetchAPIKey(runtime cre.Runtime) string {
	secret, err := runtime.GetSecret(&pb.SecretRequest{Id: automation.SecretAPIKey}).Await()
	if err != nil {
		runtime.Logger().Warn("No upkeep API key secret, calling gateway without one", "error", err)
		return ""
	}
	return secret.Value
}

// InitWorkflow validates the config and registers the cron trigger
func InitWorkflow(config *automation.Config, logger *slog.Logger, secrets cre.SecretsProvider) (cre.Workflow[*automation.Config], error) {
	if err := config.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		return cre.Workflow[*automation.Config]{}, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Info("Raffle upkeep workflow initialized",
		"network", config.Network,
		"gatewayUrl", config.GatewayURL,
		"schedule", config.CronSchedule)

	return cre.Workflow[*automation.Config]{
		cre.Handler(cron.Trigger(&cron.Config{Schedule: config.CronSchedule}), onCronTrigger),
	}, nil
}

func main() {
	wasm.NewRunner(cre.ParseJSON[automation.Config]).Run(InitWorkflow)
}
