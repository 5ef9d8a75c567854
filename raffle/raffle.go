// Package raffle implements the lottery state machine: players enter by
// paying the entrance fee, an upkeep moves the round to CALCULATING and
// requests randomness, and the coordinator callback picks and pays a winner.
package raffle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"lottery/internal/logging"
	"lottery/internal/metrics"
	"lottery/shared"
)

// Coordinator issues randomness requests on behalf of the raffle
type Coordinator interface {
	RequestRandomWords(ctx context.Context, sender common.Address, keyHash common.Hash, subID uint64,
		minConfirmations uint16, callbackGasLimit, numWords uint32) (*big.Int, error)
}

// Ledger holds the raffle's and the players' balances
type Ledger interface {
	BalanceOf(addr common.Address) *big.Int
	Transfer(from, to common.Address, amount *big.Int) error
}

// Clock supplies block time
type Clock interface {
	Now() time.Time
	BlockNumber() uint64
}

// Config holds the constructor parameters
type Config struct {
	Address          common.Address // the raffle's own account
	EntranceFee      *big.Int       // wei
	Interval         time.Duration
	Coordinator      common.Address // only this caller may fulfill
	GasLane          common.Hash    // VRF key hash
	SubscriptionID   uint64
	CallbackGasLimit uint32
}

// Validate checks constructor parameters
func (c *Config) Validate() error {
	if c.Address == (common.Address{}) {
		return fmt.Errorf("raffle address required")
	}
	if c.EntranceFee == nil || c.EntranceFee.Sign() < 0 {
		return fmt.Errorf("entrance fee must be non-negative")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.Coordinator == (common.Address{}) {
		return fmt.Errorf("coordinator address required")
	}
	if c.CallbackGasLimit == 0 || c.CallbackGasLimit > shared.MaxCallbackGasLimit {
		return fmt.Errorf("callback gas limit must be in (0, %d], got %d", shared.MaxCallbackGasLimit, c.CallbackGasLimit)
	}
	return nil
}

// UpkeepStatus is the result of CheckUpkeep with each condition broken out
type UpkeepStatus struct {
	Needed          bool
	IsOpen          bool
	TimePassed      bool
	HasPlayers      bool
	HasBalance      bool
	Balance         *big.Int
	NumberOfPlayers int
}

// Snapshot is a consistent copy of the raffle's public state
type Snapshot struct {
	Address          common.Address
	State            State
	EntranceFee      *big.Int
	Players          []common.Address
	RecentWinner     common.Address
	Balance          *big.Int
	LatestTimestamp  time.Time
	Interval         time.Duration
	PendingRequestID *big.Int
}

// View converts the snapshot to its JSON wire form
func (s Snapshot) View() shared.RaffleView {
	players := make([]string, len(s.Players))
	for i, p := range s.Players {
		players[i] = p.Hex()
	}
	v := shared.RaffleView{
		Address:          s.Address.Hex(),
		State:            s.State.String(),
		EntranceFeeWei:   s.EntranceFee.String(),
		EntranceFeeEther: shared.FormatEther(s.EntranceFee),
		Players:          players,
		RecentWinner:     s.RecentWinner.Hex(),
		BalanceWei:       s.Balance.String(),
		LatestTimestamp:  s.LatestTimestamp.Unix(),
		IntervalSeconds:  int64(s.Interval / time.Second),
	}
	if s.PendingRequestID != nil {
		v.PendingRequestID = s.PendingRequestID.String()
	}
	return v
}

// Option configures a Raffle
type Option func(*Raffle)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Raffle) { r.logger = logging.OrNop(l) }
}

// WithEventSink sets where events are delivered
func WithEventSink(s EventSink) Option {
	return func(r *Raffle) {
		if s != nil {
			r.sink = s
		}
	}
}

// WithMetrics sets the Prometheus collectors
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Raffle) {
		if m != nil {
			r.metrics = m
		}
	}
}

// Raffle is one lottery instance. All methods are safe for concurrent use and
// each runs as a single atomic step.
type Raffle struct {
	mu sync.Mutex

	cfg         Config
	coordinator Coordinator
	ledger      Ledger
	clock       Clock
	sink        EventSink
	logger      *zap.Logger
	metrics     *metrics.Metrics
	label       string

	players          []common.Address
	state            State
	latestTimestamp  time.Time
	recentWinner     common.Address
	pendingRequestID *big.Int
}

// New constructs an open raffle whose interval starts at the current block time
func New(cfg Config, coordinator Coordinator, ledger Ledger, clock Clock, opts ...Option) (*Raffle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if coordinator == nil || ledger == nil || clock == nil {
		return nil, fmt.Errorf("coordinator, ledger and clock are required")
	}
	cfg.EntranceFee = new(big.Int).Set(cfg.EntranceFee)

	r := &Raffle{
		cfg:             cfg,
		coordinator:     coordinator,
		ledger:          ledger,
		clock:           clock,
		sink:            nopSink{},
		logger:          zap.NewNop(),
		state:           Open,
		latestTimestamp: clock.Now(),
		label:           cfg.Address.Hex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.Discard()
	}
	r.logger = r.logger.With(zap.String("raffle", r.label))
	return r, nil
}

// Enter records player as an entrant, collecting payment into the raffle
func (r *Raffle) Enter(ctx context.Context, player common.Address, payment *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if payment == nil || payment.Cmp(r.cfg.EntranceFee) < 0 {
		if payment == nil {
			payment = new(big.Int)
		}
		r.metrics.EntryRejections.WithLabelValues(r.label, ErrCodeInsufficientPayment).Inc()
		return errInsufficientPayment(payment, r.cfg.EntranceFee)
	}
	if r.state != Open {
		r.metrics.EntryRejections.WithLabelValues(r.label, ErrCodeNotOpen).Inc()
		return ErrNotOpen
	}

	if err := r.ledger.Transfer(player, r.cfg.Address, payment); err != nil {
		r.metrics.EntryRejections.WithLabelValues(r.label, ErrCodeInsufficientPayment).Inc()
		r.logger.Warn("Entry payment failed",
			zap.String("player", player.Hex()),
			zap.Error(err))
		return errPaymentFailed(err)
	}

	r.players = append(r.players, player)
	r.metrics.Entries.WithLabelValues(r.label).Inc()
	r.metrics.Players.WithLabelValues(r.label).Set(float64(len(r.players)))

	r.logger.Info("Raffle entered",
		zap.String("player", player.Hex()),
		zap.String("value_wei", payment.String()),
		zap.Int("players", len(r.players)))

	r.emit(ctx, Event{
		Kind:   shared.EventEntered,
		Player: player,
		Amount: new(big.Int).Set(payment),
	})
	return nil
}

// CheckUpkeep reports whether a winner draw should start. It does not modify state.
func (r *Raffle) CheckUpkeep(ctx context.Context) (UpkeepStatus, error) {
	if err := ctx.Err(); err != nil {
		return UpkeepStatus{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkUpkeep(), nil
}

func (r *Raffle) checkUpkeep() UpkeepStatus {
	balance := r.ledger.BalanceOf(r.cfg.Address)
	s := UpkeepStatus{
		IsOpen:          r.state == Open,
		TimePassed:      r.clock.Now().Sub(r.latestTimestamp) >= r.cfg.Interval,
		HasPlayers:      len(r.players) > 0,
		HasBalance:      balance.Sign() > 0,
		Balance:         balance,
		NumberOfPlayers: len(r.players),
	}
	s.Needed = s.IsOpen && s.TimePassed && s.HasPlayers && s.HasBalance
	return s
}

// PerformUpkeep closes entries and requests randomness. It returns the request id.
func (r *Raffle) PerformUpkeep(ctx context.Context) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := r.checkUpkeep()
	if !status.Needed {
		r.metrics.Upkeeps.WithLabelValues(r.label, "not_needed").Inc()
		return nil, &UpkeepNotNeededError{
			Balance:         status.Balance,
			NumberOfPlayers: status.NumberOfPlayers,
			State:           r.state,
		}
	}

	requestID, err := r.coordinator.RequestRandomWords(ctx,
		r.cfg.Address,
		r.cfg.GasLane,
		r.cfg.SubscriptionID,
		shared.RaffleRequestConfirmations,
		r.cfg.CallbackGasLimit,
		shared.RaffleNumWords,
	)
	if err != nil {
		r.metrics.Upkeeps.WithLabelValues(r.label, "error").Inc()
		r.logger.Error("Randomness request rejected", zap.Error(err))
		return nil, errRequestFailed(err)
	}

	r.state = Calculating
	r.pendingRequestID = new(big.Int).Set(requestID)
	r.metrics.Upkeeps.WithLabelValues(r.label, "performed").Inc()

	r.logger.Info("Requested raffle winner",
		zap.String("request_id", requestID.String()),
		zap.Int("players", len(r.players)))

	r.emit(ctx, Event{
		Kind:      shared.EventCalculationRequested,
		RequestID: new(big.Int).Set(requestID),
	})
	return new(big.Int).Set(requestID), nil
}

// RawFulfillRandomWords is the coordinator callback. It picks the winner from
// words[0], pays out the whole balance and reopens the raffle.
func (r *Raffle) RawFulfillRandomWords(ctx context.Context, caller common.Address, requestID *big.Int, words []*big.Int) error {
	if caller != r.cfg.Coordinator {
		return &Error{
			Code:    ErrCodeOnlyCoordinator,
			Message: fmt.Sprintf("have %s, want %s", caller.Hex(), r.cfg.Coordinator.Hex()),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if requestID == nil || r.state != Calculating || r.pendingRequestID == nil || r.pendingRequestID.Cmp(requestID) != 0 {
		if requestID == nil {
			requestID = new(big.Int)
		}
		return errUnknownRequest(requestID)
	}
	if len(words) == 0 || words[0] == nil {
		return ErrNoRandomWords
	}
	if len(r.players) == 0 {
		// Unreachable through PerformUpkeep, which requires players
		return errUnknownRequest(requestID)
	}

	// Modulo bias is negligible while len(players) is far below 2^256
	idx := new(big.Int).Mod(words[0], big.NewInt(int64(len(r.players)))).Int64()
	winner := r.players[idx]
	prize := r.ledger.BalanceOf(r.cfg.Address)

	if err := r.ledger.Transfer(r.cfg.Address, winner, prize); err != nil {
		r.logger.Error("Prize transfer failed",
			zap.String("request_id", requestID.String()),
			zap.String("winner", winner.Hex()),
			zap.Error(err))
		return errTransferFailed(err)
	}

	r.recentWinner = winner
	r.players = nil
	r.state = Open
	r.latestTimestamp = r.clock.Now()
	r.pendingRequestID = nil

	r.metrics.Winners.WithLabelValues(r.label).Inc()
	r.metrics.Players.WithLabelValues(r.label).Set(0)
	prizeEther, _ := new(big.Float).Quo(new(big.Float).SetInt(prize), big.NewFloat(1e18)).Float64()
	r.metrics.PrizeEther.WithLabelValues(r.label).Add(prizeEther)

	r.logger.Info("Winner picked",
		zap.String("request_id", requestID.String()),
		zap.String("winner", winner.Hex()),
		zap.String("prize_eth", shared.FormatEther(prize)))

	r.emit(ctx, Event{
		Kind:      shared.EventWinnerPicked,
		Winner:    winner,
		RequestID: new(big.Int).Set(requestID),
		Amount:    prize,
	})
	return nil
}

func (r *Raffle) emit(ctx context.Context, e Event) {
	e.Raffle = r.cfg.Address
	e.Block = r.clock.BlockNumber()
	e.Timestamp = r.clock.Now()
	r.sink.Emit(ctx, e)
}

// IsUpkeepNotNeeded reports whether err is an upkeep rejection and returns its detail
func IsUpkeepNotNeeded(err error) (*UpkeepNotNeededError, bool) {
	var u *UpkeepNotNeededError
	if errors.As(err, &u) {
		return u, true
	}
	return nil, false
}

// Getters

func (r *Raffle) Address() common.Address     { return r.cfg.Address }
func (r *Raffle) EntranceFee() *big.Int       { return new(big.Int).Set(r.cfg.EntranceFee) }
func (r *Raffle) Interval() time.Duration     { return r.cfg.Interval }
func (r *Raffle) Coordinator() common.Address { return r.cfg.Coordinator }
func (r *Raffle) GasLane() common.Hash        { return r.cfg.GasLane }
func (r *Raffle) SubscriptionID() uint64      { return r.cfg.SubscriptionID }
func (r *Raffle) CallbackGasLimit() uint32    { return r.cfg.CallbackGasLimit }
func (r *Raffle) NumWords() uint32            { return shared.RaffleNumWords }
func (r *Raffle) RequestConfirmations() uint16 {
	return shared.RaffleRequestConfirmations
}

// Player returns the entrant at index i
func (r *Raffle) Player(i int) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.players) {
		return common.Address{}, fmt.Errorf("player index %d out of range [0, %d)", i, len(r.players))
	}
	return r.players[i], nil
}

func (r *Raffle) NumberOfPlayers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

func (r *Raffle) RecentWinner() common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recentWinner
}

func (r *Raffle) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Raffle) LatestTimestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestTimestamp
}

// PendingRequestID returns the outstanding request id, or nil when open
func (r *Raffle) PendingRequestID() *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingRequestID == nil {
		return nil
	}
	return new(big.Int).Set(r.pendingRequestID)
}

// Balance returns the raffle account's balance
func (r *Raffle) Balance() *big.Int {
	return r.ledger.BalanceOf(r.cfg.Address)
}

// Snapshot returns a consistent copy of the public state
func (r *Raffle) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		Address:         r.cfg.Address,
		State:           r.state,
		EntranceFee:     new(big.Int).Set(r.cfg.EntranceFee),
		Players:         append([]common.Address(nil), r.players...),
		RecentWinner:    r.recentWinner,
		Balance:         r.ledger.BalanceOf(r.cfg.Address),
		LatestTimestamp: r.latestTimestamp,
		Interval:        r.cfg.Interval,
	}
	if r.pendingRequestID != nil {
		s.PendingRequestID = new(big.Int).Set(r.pendingRequestID)
	}
	return s
}
