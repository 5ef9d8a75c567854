package shared

import (
	"fmt"
	"time"
)

// NetworkConfig holds per-chain deployment parameters
type NetworkConfig struct {
	Name               string        `yaml:"name" json:"name"`
	VRFCoordinator     string        `yaml:"vrf_coordinator,omitempty" json:"vrf_coordinator,omitempty"` // empty on development chains (mock deployed)
	GasLane            string        `yaml:"gas_lane" json:"gas_lane"`                                   // VRF key hash
	SubscriptionID     uint64        `yaml:"subscription_id,omitempty" json:"subscription_id,omitempty"` // created on development chains
	CallbackGasLimit   uint32        `yaml:"callback_gas_limit" json:"callback_gas_limit"`
	Interval           time.Duration `yaml:"interval" json:"interval"`
	EntranceFee        string        `yaml:"entrance_fee" json:"entrance_fee"` // ether, decimal string
	BlockConfirmations int           `yaml:"block_confirmations,omitempty" json:"block_confirmations,omitempty"`
}

// Validate validates a network entry. Coordinator address and subscription
// are only required on live networks.
func (n *NetworkConfig) Validate(development bool) error {
	if n == nil {
		return fmt.Errorf("network config is nil")
	}
	if n.Name == "" {
		return fmt.Errorf("name required")
	}
	if !IsValidKeyHash(n.GasLane) {
		return fmt.Errorf("gas_lane must be a 0x-prefixed 32-byte hex key hash, got %q", n.GasLane)
	}
	if n.CallbackGasLimit == 0 {
		return fmt.Errorf("callback_gas_limit required")
	}
	if n.CallbackGasLimit > MaxCallbackGasLimit {
		return fmt.Errorf("callback_gas_limit exceeds maximum %d, got %d", MaxCallbackGasLimit, n.CallbackGasLimit)
	}
	if n.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", n.Interval)
	}
	if _, err := ParseEther(n.EntranceFee); err != nil {
		return fmt.Errorf("entrance_fee: %w", err)
	}
	if n.BlockConfirmations < 0 {
		return fmt.Errorf("block_confirmations must not be negative, got %d", n.BlockConfirmations)
	}
	if !development {
		if err := ValidateAddress(n.VRFCoordinator); err != nil {
			return fmt.Errorf("vrf_coordinator: %w", err)
		}
		if n.SubscriptionID == 0 {
			return fmt.Errorf("subscription_id required on live networks")
		}
	}
	return nil
}

// EnterRequest is the signed payload for POST /api/enter
type EnterRequest struct {
	Player    string `json:"player"`
	ValueWei  string `json:"value_wei"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"` // 0x-prefixed 65-byte r||s||v
}

// Validate validates request shape; the signature itself is checked by the gateway
func (r *EnterRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("request is nil")
	}
	if err := ValidateAddress(r.Player); err != nil {
		return fmt.Errorf("player: %w", err)
	}
	if _, err := ParseWei(r.ValueWei); err != nil {
		return fmt.Errorf("value_wei: %w", err)
	}
	if r.Nonce == "" {
		return fmt.Errorf("nonce required")
	}
	if len(r.Nonce) > MaxNonceLength {
		return fmt.Errorf("nonce too long: max %d chars, got %d", MaxNonceLength, len(r.Nonce))
	}
	if !IsValidSignature(r.Signature) {
		return fmt.Errorf("signature must be 0x-prefixed 65-byte hex")
	}
	return nil
}

// EnterResponse is returned after a successful entry
type EnterResponse struct {
	Player          string `json:"player"`
	NumberOfPlayers int    `json:"number_of_players"`
	BalanceWei      string `json:"balance_wei"`
}

// UpkeepResponse reports CheckUpkeep (and PerformUpkeep) results
type UpkeepResponse struct {
	UpkeepNeeded    bool   `json:"upkeep_needed" consensus_aggregation:"identical"`
	IsOpen          bool   `json:"is_open" consensus_aggregation:"identical"`
	TimePassed      bool   `json:"time_passed" consensus_aggregation:"identical"`
	HasPlayers      bool   `json:"has_players" consensus_aggregation:"identical"`
	HasBalance      bool   `json:"has_balance" consensus_aggregation:"identical"`
	NumberOfPlayers int    `json:"number_of_players" consensus_aggregation:"identical"`
	BalanceWei      string `json:"balance_wei" consensus_aggregation:"identical"`
	RequestID       string `json:"request_id,omitempty" consensus_aggregation:"identical"`
}

// RaffleView is the public snapshot served by GET /api/raffle
type RaffleView struct {
	Address          string   `json:"address"`
	State            string   `json:"state"`
	EntranceFeeWei   string   `json:"entrance_fee_wei"`
	EntranceFeeEther string   `json:"entrance_fee_ether"`
	Players          []string `json:"players"`
	RecentWinner     string   `json:"recent_winner"`
	BalanceWei       string   `json:"balance_wei"`
	LatestTimestamp  int64    `json:"latest_timestamp"`
	IntervalSeconds  int64    `json:"interval_seconds"`
	PendingRequestID string   `json:"pending_request_id,omitempty"`
}

// FulfillmentWebhook is the oracle callback payload for POST /webhook/vrf
type FulfillmentWebhook struct {
	RequestID string `json:"request_id"`
	Consumer  string `json:"consumer,omitempty"`
}

// Validate validates the webhook payload
func (w *FulfillmentWebhook) Validate() error {
	if w == nil {
		return fmt.Errorf("payload is nil")
	}
	if _, err := ParseWei(w.RequestID); err != nil {
		return fmt.Errorf("request_id: %w", err)
	}
	if w.Consumer != "" {
		if err := ValidateAddress(w.Consumer); err != nil {
			return fmt.Errorf("consumer: %w", err)
		}
	}
	return nil
}

// EventMessage is the JSON frame pushed to websocket subscribers
type EventMessage struct {
	Kind      string `json:"kind"`
	Raffle    string `json:"raffle"`
	Player    string `json:"player,omitempty"`
	Winner    string `json:"winner,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	AmountWei string `json:"amount_wei,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// FulfillmentResponse reports the outcome of a delivered VRF request
type FulfillmentResponse struct {
	RequestID    string   `json:"request_id"`
	Consumer     string   `json:"consumer"`
	Success      bool     `json:"success"`
	RandomWords  []string `json:"random_words"`
	PaymentJuels string   `json:"payment_juels"`
	Error        string   `json:"error,omitempty"`
	Status       string   `json:"status,omitempty"` // "duplicate" when already delivered
}

// ErrorResponse is the JSON body of every non-2xx gateway reply
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
