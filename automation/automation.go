// Package automation holds the upkeep logic run by the CRE workflow. It talks
// to the gateway through a Requester so the same code runs inside the WASM
// runtime and under plain Go tests.
package automation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"lottery/shared"
)

// SecretAPIKey is the CRE secret holding the gateway upkeep key
const SecretAPIKey = "upkeep_api_key"

// Perform outcomes
const (
	OutcomePerformed = "performed"
	OutcomeNotNeeded = "not_needed"
)

// Config is the workflow configuration, parsed from JSON by the CRE runtime
type Config struct {
	GatewayURL   string `json:"gateway_url"`
	CronSchedule string `json:"cron_schedule"`
	Network      string `json:"network"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	u, err := url.Parse(c.GatewayURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("gateway_url must be an absolute http(s) URL, got %q", c.GatewayURL)
	}
	if c.CronSchedule == "" {
		return fmt.Errorf("cron_schedule required")
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.CronSchedule); err != nil {
		return fmt.Errorf("cron_schedule: %w", err)
	}
	return nil
}

// UpkeepURL is the gateway upkeep endpoint
func (c *Config) UpkeepURL() string {
	return strings.TrimRight(c.GatewayURL, "/") + "/api/upkeep"
}

// Request is one outbound HTTP call
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is the reply to a Request
type Response struct {
	StatusCode int
	Body       []byte
}

// Requester performs HTTP calls. Inside CRE it is backed by the DON's HTTP
// capability.
type Requester interface {
	Do(req *Request) (*Response, error)
}

// PerformOutcome is what every DON node must agree on after a perform attempt.
// Only the first node's POST wins; the rest see 409 with the raffle closed,
// which must report the identical outcome.
type PerformOutcome struct {
	Performed bool   `json:"performed" consensus_aggregation:"identical"`
	Outcome   string `json:"outcome" consensus_aggregation:"identical"`
}

// CheckUpkeep asks the gateway whether a draw should start
func CheckUpkeep(cfg *Config, logger *slog.Logger, r Requester) (*shared.UpkeepResponse, error) {
	resp, err := r.Do(&Request{
		Method:  "GET",
		URL:     cfg.UpkeepURL(),
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("upkeep check request failed: %w", err)
	}
	if resp.StatusCode != 200 {
		logger.Error("Non-success status from upkeep check", "status", resp.StatusCode, "body", string(resp.Body))
		return nil, fmt.Errorf("upkeep check returned status %d", resp.StatusCode)
	}

	var status shared.UpkeepResponse
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return nil, fmt.Errorf("upkeep check response parsing failed: %w", err)
	}

	logger.Info("Upkeep checked",
		"upkeepNeeded", status.UpkeepNeeded,
		"players", status.NumberOfPlayers,
		"balanceWei", status.BalanceWei)
	return &status, nil
}

// PerformUpkeep starts a draw through the gateway. apiKey may be empty when
// the gateway does not require one.
func PerformUpkeep(cfg *Config, apiKey string, logger *slog.Logger, r Requester) (*PerformOutcome, error) {
	headers := map[string]string{"Content-Type": "application/json"}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}

	resp, err := r.Do(&Request{
		Method:  "POST",
		URL:     cfg.UpkeepURL(),
		Headers: headers,
		Body:    []byte("{}"),
	})
	if err != nil {
		return nil, fmt.Errorf("perform upkeep request failed: %w", err)
	}

	switch resp.StatusCode {
	case 200:
		var status shared.UpkeepResponse
		if err := json.Unmarshal(resp.Body, &status); err != nil {
			return nil, fmt.Errorf("perform upkeep response parsing failed: %w", err)
		}
		logger.Info("Upkeep performed", "requestId", status.RequestID)
		return &PerformOutcome{Performed: true, Outcome: OutcomePerformed}, nil

	case 409:
		var status shared.UpkeepResponse
		if err := json.Unmarshal(resp.Body, &status); err != nil {
			return nil, fmt.Errorf("perform upkeep response parsing failed: %w", err)
		}
		if !status.IsOpen {
			// another node already started this draw
			logger.Info("Upkeep already performed")
			return &PerformOutcome{Performed: true, Outcome: OutcomePerformed}, nil
		}
		logger.Warn("Upkeep no longer needed", "players", status.NumberOfPlayers)
		return &PerformOutcome{Performed: false, Outcome: OutcomeNotNeeded}, nil

	default:
		logger.Error("Non-success status from perform upkeep", "status", resp.StatusCode, "body", string(resp.Body))
		return nil, fmt.Errorf("perform upkeep returned status %d", resp.StatusCode)
	}
}
