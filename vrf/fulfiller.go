package vrf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"lottery/internal/logging"
	"lottery/shared"
)

// Deliverer hands a request to whatever performs the fulfillment
type Deliverer interface {
	Deliver(ctx context.Context, req Request) error
}

// DirectDeliverer fulfills in-process on the coordinator
type DirectDeliverer struct {
	Coordinator *Coordinator
}

func (d DirectDeliverer) Deliver(ctx context.Context, req Request) error {
	_, err := d.Coordinator.FulfillRandomWords(ctx, req.ID, req.Sender)
	return err
}

// WebhookDeliverer posts the request id to the gateway's oracle webhook, which
// performs the fulfillment
type WebhookDeliverer struct {
	URL    string
	Client *http.Client
}

func (w WebhookDeliverer) Deliver(ctx context.Context, req Request) error {
	payload, err := json.Marshal(shared.FulfillmentWebhook{
		RequestID: req.ID.String(),
		Consumer:  req.Sender.Hex(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Miner seals blocks, used to reach a request's confirmation depth on an
// auto-mining development chain
type Miner interface {
	Mine() time.Time
}

// FulfillerConfig tunes the worker
type FulfillerConfig struct {
	Delay         time.Duration // wait before delivering each request
	SweepInterval time.Duration // rescan Pending for dropped notifications
}

// Fulfiller is the oracle node: it waits for requests and delivers them
type Fulfiller struct {
	coordinator *Coordinator
	deliverer   Deliverer
	miner       Miner
	cfg         FulfillerConfig
	logger      *zap.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// NewFulfiller creates a worker. miner may be nil on chains that mine on
// their own.
func NewFulfiller(coordinator *Coordinator, deliverer Deliverer, miner Miner, cfg FulfillerConfig, logger *zap.Logger) *Fulfiller {
	if deliverer == nil {
		deliverer = DirectDeliverer{Coordinator: coordinator}
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	return &Fulfiller{
		coordinator: coordinator,
		deliverer:   deliverer,
		miner:       miner,
		cfg:         cfg,
		logger:      logging.OrNop(logger).Named("fulfiller"),
		inflight:    make(map[string]bool),
	}
}

// Run processes requests until ctx is canceled
func (f *Fulfiller) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.SweepInterval)
	defer ticker.Stop()

	f.logger.Info("Fulfiller started",
		zap.Duration("delay", f.cfg.Delay),
		zap.Duration("sweep_interval", f.cfg.SweepInterval))

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Fulfiller stopped")
			return ctx.Err()
		case req := <-f.coordinator.Requested():
			f.handle(ctx, req)
		case <-ticker.C:
			for _, req := range f.coordinator.Pending() {
				if f.coordinator.clock.Now().Sub(req.CreatedAt) >= f.cfg.Delay {
					f.handle(ctx, req)
				}
			}
		}
	}
}

func (f *Fulfiller) handle(ctx context.Context, req Request) {
	key := req.ID.String()
	f.mu.Lock()
	if f.inflight[key] {
		f.mu.Unlock()
		return
	}
	f.inflight[key] = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.inflight, key)
		f.mu.Unlock()
	}()

	if f.cfg.Delay > 0 {
		timer := time.NewTimer(f.cfg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if f.miner != nil {
		for i := uint16(0); i < req.MinConfirmations; i++ {
			f.miner.Mine()
		}
	}

	if err := f.deliverer.Deliver(ctx, req); err != nil {
		f.logger.Error("Fulfillment failed",
			zap.String("request_id", key),
			zap.Error(err))
		return
	}
	f.logger.Debug("Fulfillment delivered", zap.String("request_id", key))
}
