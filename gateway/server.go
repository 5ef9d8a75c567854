// Package gateway serves the raffle over HTTP: signed entries, upkeep checks
// for external automation, the oracle fulfillment webhook, a websocket event
// stream, and the usual health and metrics endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lottery/internal/logging"
	"lottery/internal/metrics"
	"lottery/internal/recorder"
	"lottery/raffle"
	"lottery/vrf"
)

// Raffle is the part of *raffle.Raffle the gateway drives
type Raffle interface {
	Address() common.Address
	Enter(ctx context.Context, player common.Address, payment *big.Int) error
	CheckUpkeep(ctx context.Context) (raffle.UpkeepStatus, error)
	PerformUpkeep(ctx context.Context) (*big.Int, error)
	Snapshot() raffle.Snapshot
}

// Oracle is the part of *vrf.Coordinator the gateway drives
type Oracle interface {
	FulfillRandomWords(ctx context.Context, requestID *big.Int, consumer common.Address) (vrf.FulfillResult, error)
	Pending() []vrf.Request
}

// Server is the HTTP gateway
type Server struct {
	cfg      Config
	raffle   Raffle
	oracle   Oracle
	history  recorder.Recorder
	hub      *Hub
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	metrics  *metrics.Metrics

	webhooks *TTLCache
	nonces   *TTLCache
	limiters *clientLimiters
	started  time.Time
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

// WithMetrics sets the collectors and the gatherer served on /metrics
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithRecorder enables GET /api/history
func WithRecorder(r recorder.Recorder) Option {
	return func(s *Server) {
		if r != nil {
			s.history = r
		}
	}
}

// WithHub serves hub on /ws/events. The hub should also be registered as a
// raffle event sink.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// New builds a gateway for r, with oracle receiving fulfillment webhooks
func New(cfg Config, r Raffle, oracle Oracle, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}
	if r == nil || oracle == nil {
		return nil, fmt.Errorf("raffle and oracle are required")
	}

	s := &Server{
		cfg:      cfg,
		raffle:   r,
		oracle:   oracle,
		history:  recorder.NewNoopRecorder(),
		gatherer: prometheus.DefaultGatherer,
		logger:   zap.NewNop(),
		metrics:  metrics.Discard(),
		limiters: newClientLimiters(cfg.RateLimit, cfg.RateBurst),
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = NewHub(s.logger, s.metrics)
	}
	s.webhooks = NewTTLCache(cfg.WebhookTTL, cfg.MaxCacheSize, cfg.CleanupInterval)
	s.nonces = NewTTLCache(cfg.NonceTTL, cfg.MaxCacheSize, cfg.CleanupInterval)
	return s, nil
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/enter", s.metricsMiddleware("enter", http.HandlerFunc(s.handleEnter)))
	mux.Handle("/api/raffle", s.metricsMiddleware("raffle", http.HandlerFunc(s.handleRaffle)))
	mux.Handle("/api/upkeep", s.metricsMiddleware("upkeep", http.HandlerFunc(s.handleUpkeep)))
	mux.Handle("/api/history", s.metricsMiddleware("history", http.HandlerFunc(s.handleHistory)))
	mux.Handle("/webhook/vrf", s.metricsMiddleware("webhook", http.HandlerFunc(s.handleWebhook)))
	// not wrapped: the upgrade needs the raw ResponseWriter
	mux.Handle("/ws/events", s.hub)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/readiness", s.handleReadiness)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Run serves until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Gateway listening",
		zap.String("port", s.cfg.Port),
		zap.String("raffle", s.raffle.Address().Hex()),
		zap.Strings("endpoints", []string{
			"POST /api/enter",
			"GET  /api/raffle",
			"GET  /api/upkeep",
			"POST /api/upkeep",
			"GET  /api/history",
			"POST /webhook/vrf",
			"GET  /ws/events",
			"GET  /health",
			"GET  /readiness",
			"GET  /metrics",
		}),
	)

	go s.pruneLimiters(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway server: %w", err)
	case <-ctx.Done():
	}

	// hijacked websocket connections are not tracked by Shutdown
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	s.logger.Info("Gateway stopped")
	return err
}

// Close releases background resources
func (s *Server) Close() {
	s.webhooks.Close()
	s.nonces.Close()
}

func (s *Server) pruneLimiters(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiters.prune(s.cfg.CleanupInterval); n > 0 {
				s.logger.Debug("Pruned idle rate limiters", zap.Int("removed", n))
			}
		}
	}
}

func (s *Server) metricsMiddleware(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		status := fmt.Sprintf("%d", rw.statusCode)
		s.metrics.HTTPRequests.WithLabelValues(endpoint, r.Method, status).Inc()
		s.metrics.HTTPDuration.WithLabelValues(endpoint, r.Method).Observe(time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
