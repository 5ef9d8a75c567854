// Package vrf is the randomness oracle: subscriptions that pay for requests,
// request bookkeeping, and the callback into consumers.
package vrf

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"lottery/crypto"
	"lottery/internal/logging"
	"lottery/internal/metrics"
	"lottery/shared"
)

// MaxConsumers bounds consumers per subscription
const MaxConsumers = 100

// DefaultBaseFee is charged per fulfillment (0.1 LINK)
var DefaultBaseFee = big.NewInt(100_000_000_000_000_000)

// Consumer receives fulfilled words
type Consumer interface {
	RawFulfillRandomWords(ctx context.Context, caller common.Address, requestID *big.Int, words []*big.Int) error
}

// Clock supplies block height and time
type Clock interface {
	Now() time.Time
	BlockNumber() uint64
}

// Subscription pays for the requests of its consumers
type Subscription struct {
	ID        uint64
	Owner     common.Address
	Balance   *big.Int // juels
	ReqCount  uint64
	Consumers []common.Address
}

// Request is an outstanding randomness request
type Request struct {
	ID               *big.Int
	PreSeed          *big.Int
	SubID            uint64
	Sender           common.Address
	KeyHash          common.Hash
	MinConfirmations uint16
	CallbackGasLimit uint32
	NumWords         uint32
	BlockNumber      uint64
	CreatedAt        time.Time
}

// FulfillResult describes a completed fulfillment. Success reports whether
// the consumer accepted the callback; the request is consumed either way.
type FulfillResult struct {
	RequestID *big.Int
	Consumer  common.Address
	Words     []*big.Int
	Proof     []byte
	BlockTime time.Time
	Payment   *big.Int
	Success   bool
	Err       error
}

// Option configures a Coordinator
type Option func(*Coordinator)

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithBaseFee overrides the flat per-fulfillment fee
func WithBaseFee(fee *big.Int) Option {
	return func(c *Coordinator) { c.baseFee = new(big.Int).Set(fee) }
}

// WithSource sets the word source. The default is MockSource.
func WithSource(s WordSource) Option {
	return func(c *Coordinator) { c.source = s }
}

// WithQueueSize sets the capacity of the Requested notification channel
func WithQueueSize(n int) Option {
	return func(c *Coordinator) { c.requested = make(chan Request, n) }
}

// Coordinator tracks subscriptions and requests and calls back consumers
type Coordinator struct {
	mu sync.Mutex

	address   common.Address
	clock     Clock
	source    WordSource
	baseFee   *big.Int
	logger    *zap.Logger
	metrics   *metrics.Metrics
	requested chan Request

	nextSubID uint64
	subs      map[uint64]*Subscription
	nonces    map[nonceKey]uint64
	requests  map[string]*Request
	consumers map[common.Address]Consumer
}

type nonceKey struct {
	consumer common.Address
	subID    uint64
}

// NewCoordinator creates a coordinator living at address
func NewCoordinator(address common.Address, clock Clock, opts ...Option) *Coordinator {
	c := &Coordinator{
		address:   address,
		clock:     clock,
		source:    MockSource{},
		baseFee:   new(big.Int).Set(DefaultBaseFee),
		logger:    zap.NewNop(),
		requested: make(chan Request, 256),
		subs:      make(map[uint64]*Subscription),
		nonces:    make(map[nonceKey]uint64),
		requests:  make(map[string]*Request),
		consumers: make(map[common.Address]Consumer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.Discard()
	}
	return c
}

// Address returns the coordinator's address, the only valid fulfill caller
func (c *Coordinator) Address() common.Address { return c.address }

// Requested delivers a notification for each accepted request. Notifications
// are dropped when the buffer is full; Pending still lists those requests.
func (c *Coordinator) Requested() <-chan Request { return c.requested }

// Register binds a consumer implementation to its address
func (c *Coordinator) Register(addr common.Address, consumer Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers[addr] = consumer
}

// CreateSubscription opens an empty subscription owned by owner
func (c *Coordinator) CreateSubscription(owner common.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSubID++
	id := c.nextSubID
	c.subs[id] = &Subscription{ID: id, Owner: owner, Balance: new(big.Int)}
	c.logger.Info("Subscription created", zap.Uint64("sub_id", id), zap.String("owner", owner.Hex()))
	return id
}

// FundSubscription adds juels to a subscription
func (c *Coordinator) FundSubscription(subID uint64, juels *big.Int) error {
	if juels == nil || juels.Sign() <= 0 {
		return ErrInvalidAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[subID]
	if !ok {
		return ErrInvalidSubscription
	}
	sub.Balance = new(big.Int).Add(sub.Balance, juels)
	c.logger.Info("Subscription funded",
		zap.Uint64("sub_id", subID),
		zap.String("amount_link", shared.FormatLink(juels)),
		zap.String("balance_link", shared.FormatLink(sub.Balance)))
	return nil
}

// AddConsumer authorizes consumer to request against subID
func (c *Coordinator) AddConsumer(caller common.Address, subID uint64, consumer common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, err := c.ownedSub(caller, subID)
	if err != nil {
		return err
	}
	for _, a := range sub.Consumers {
		if a == consumer {
			return nil
		}
	}
	if len(sub.Consumers) >= MaxConsumers {
		return ErrTooManyConsumers
	}
	sub.Consumers = append(sub.Consumers, consumer)
	c.logger.Info("Consumer added", zap.Uint64("sub_id", subID), zap.String("consumer", consumer.Hex()))
	return nil
}

// RemoveConsumer revokes consumer from subID
func (c *Coordinator) RemoveConsumer(caller common.Address, subID uint64, consumer common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, err := c.ownedSub(caller, subID)
	if err != nil {
		return err
	}
	for i, a := range sub.Consumers {
		if a == consumer {
			sub.Consumers = append(sub.Consumers[:i], sub.Consumers[i+1:]...)
			return nil
		}
	}
	return ErrInvalidConsumer
}

// GetSubscription returns a copy of the subscription
func (c *Coordinator) GetSubscription(subID uint64) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[subID]
	if !ok {
		return Subscription{}, ErrInvalidSubscription
	}
	return Subscription{
		ID:        sub.ID,
		Owner:     sub.Owner,
		Balance:   new(big.Int).Set(sub.Balance),
		ReqCount:  sub.ReqCount,
		Consumers: append([]common.Address(nil), sub.Consumers...),
	}, nil
}

func (c *Coordinator) ownedSub(caller common.Address, subID uint64) (*Subscription, error) {
	sub, ok := c.subs[subID]
	if !ok {
		return nil, ErrInvalidSubscription
	}
	if sub.Owner != caller {
		return nil, ErrMustBeSubOwner
	}
	return sub, nil
}

// RequestRandomWords records a request from sender and returns its id
func (c *Coordinator) RequestRandomWords(ctx context.Context, sender common.Address, keyHash common.Hash, subID uint64,
	minConfirmations uint16, callbackGasLimit, numWords uint32) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[subID]
	if !ok {
		c.metrics.VRFRequests.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidSubscription
	}
	if !contains(sub.Consumers, sender) {
		c.metrics.VRFRequests.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %s on subscription %d", ErrInvalidConsumer, sender.Hex(), subID)
	}
	if minConfirmations > shared.MaxRequestConfirmations {
		c.metrics.VRFRequests.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: have %d, max %d", ErrInvalidRequestConfirmations, minConfirmations, shared.MaxRequestConfirmations)
	}
	if callbackGasLimit > shared.MaxCallbackGasLimit {
		c.metrics.VRFRequests.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: have %d, max %d", ErrGasLimitTooBig, callbackGasLimit, shared.MaxCallbackGasLimit)
	}
	if numWords > shared.MaxNumWords {
		c.metrics.VRFRequests.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: have %d, max %d", ErrNumWordsTooBig, numWords, shared.MaxNumWords)
	}
	if k, ok := c.source.(interface{ KeyHash() common.Hash }); ok && k.KeyHash() != keyHash {
		c.metrics.VRFRequests.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %s", ErrInvalidKeyHash, keyHash.Hex())
	}

	key := nonceKey{sender, subID}
	nonce := c.nonces[key] + 1
	c.nonces[key] = nonce
	id, preSeed := crypto.ComputeRequestID(keyHash, sender, subID, nonce)
	sub.ReqCount++

	req := Request{
		ID:               id,
		PreSeed:          preSeed,
		SubID:            subID,
		Sender:           sender,
		KeyHash:          keyHash,
		MinConfirmations: minConfirmations,
		CallbackGasLimit: callbackGasLimit,
		NumWords:         numWords,
		BlockNumber:      c.clock.BlockNumber(),
		CreatedAt:        c.clock.Now(),
	}
	c.requests[id.String()] = &req
	c.metrics.VRFRequests.WithLabelValues("accepted").Inc()
	c.metrics.VRFPending.Set(float64(len(c.requests)))

	c.logger.Info("Random words requested",
		zap.String("request_id", id.String()),
		zap.String("sender", sender.Hex()),
		zap.Uint64("sub_id", subID),
		zap.Uint32("num_words", numWords))

	select {
	case c.requested <- req:
	default:
		c.logger.Warn("Request notification dropped, queue full", zap.String("request_id", id.String()))
	}

	return new(big.Int).Set(id), nil
}

// Pending lists unfulfilled requests, oldest first
func (c *Coordinator) Pending() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, 0, len(c.requests))
	for _, r := range c.requests {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].ID.Cmp(out[j].ID) < 0
	})
	return out
}

// Lookup returns the pending request with the given id
func (c *Coordinator) Lookup(requestID *big.Int) (Request, bool) {
	if requestID == nil {
		return Request{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.requests[requestID.String()]
	if !ok {
		return Request{}, false
	}
	return *r, true
}

// FulfillRandomWords generates words from the configured source and delivers
// them to consumer, which must be the request's sender. A mismatch fails with
// ErrInvalidConsumer and leaves the request pending.
func (c *Coordinator) FulfillRandomWords(ctx context.Context, requestID *big.Int, consumer common.Address) (FulfillResult, error) {
	return c.fulfill(ctx, requestID, consumer, nil)
}

// FulfillWithWords delivers caller-chosen words. An empty slice falls back to
// the configured source.
func (c *Coordinator) FulfillWithWords(ctx context.Context, requestID *big.Int, consumer common.Address, words []*big.Int) (FulfillResult, error) {
	return c.fulfill(ctx, requestID, consumer, words)
}

func (c *Coordinator) fulfill(ctx context.Context, requestID *big.Int, consumerAddr common.Address, override []*big.Int) (FulfillResult, error) {
	if requestID == nil {
		return FulfillResult{}, ErrNonexistentRequest
	}

	c.mu.Lock()
	req, ok := c.requests[requestID.String()]
	if !ok {
		c.mu.Unlock()
		return FulfillResult{}, ErrNonexistentRequest
	}
	// Words are only ever delivered to the contract that asked for them
	if consumerAddr != req.Sender {
		c.mu.Unlock()
		return FulfillResult{}, fmt.Errorf("%w: request %s belongs to %s, not %s",
			ErrInvalidConsumer, requestID, req.Sender.Hex(), consumerAddr.Hex())
	}
	if len(override) != 0 && uint32(len(override)) != req.NumWords {
		c.mu.Unlock()
		return FulfillResult{}, fmt.Errorf("%w: got %d words, want %d", ErrInvalidRandomWords, len(override), req.NumWords)
	}
	sub, ok := c.subs[req.SubID]
	if !ok {
		c.mu.Unlock()
		return FulfillResult{}, ErrInvalidSubscription
	}
	if sub.Balance.Cmp(c.baseFee) < 0 {
		c.mu.Unlock()
		return FulfillResult{}, fmt.Errorf("%w: subscription %d has %s LINK, fee is %s LINK",
			ErrInsufficientBalance, req.SubID, shared.FormatLink(sub.Balance), shared.FormatLink(c.baseFee))
	}

	blockTime := c.clock.Now()
	words := override
	var proof []byte
	if len(words) == 0 {
		var err error
		words, proof, err = c.source.RandomWords(*req, blockTime)
		if err != nil {
			c.mu.Unlock()
			return FulfillResult{}, fmt.Errorf("generate random words: %w", err)
		}
	}

	sub.Balance = new(big.Int).Sub(sub.Balance, c.baseFee)
	delete(c.requests, requestID.String())
	consumer := c.consumers[consumerAddr]
	c.metrics.VRFPending.Set(float64(len(c.requests)))
	c.mu.Unlock()

	result := FulfillResult{
		RequestID: new(big.Int).Set(requestID),
		Consumer:  consumerAddr,
		Words:     words,
		Proof:     proof,
		BlockTime: blockTime,
		Payment:   new(big.Int).Set(c.baseFee),
	}

	// Consumer is called without the coordinator lock held
	if consumer == nil {
		result.Err = fmt.Errorf("%w: no contract at %s", ErrInvalidConsumer, consumerAddr.Hex())
	} else {
		result.Err = consumer.RawFulfillRandomWords(ctx, c.address, requestID, words)
	}
	result.Success = result.Err == nil

	c.metrics.VRFFulfillments.WithLabelValues(fmt.Sprintf("%t", result.Success)).Inc()
	fields := []zap.Field{
		zap.String("request_id", requestID.String()),
		zap.String("consumer", consumerAddr.Hex()),
		zap.String("payment_link", shared.FormatLink(result.Payment)),
		zap.Bool("success", result.Success),
	}
	if result.Err != nil {
		c.logger.Warn("Random words fulfilled, consumer callback failed", append(fields, zap.Error(result.Err))...)
	} else {
		c.logger.Info("Random words fulfilled", fields...)
	}
	return result, nil
}

func contains(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}
