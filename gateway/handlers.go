package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"lottery/internal/ethsign"
	"lottery/raffle"
	"lottery/shared"
	"lottery/vrf"
)

// Gateway-level error codes. Raffle failures keep their own codes.
const (
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInvalidSignature    = "INVALID_SIGNATURE"
	CodeNonceReused         = "NONCE_REUSED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNonexistentRequest  = "NONEXISTENT_REQUEST"
	CodeInsufficientBalance = "INSUFFICIENT_SUBSCRIPTION_BALANCE"
	CodeInternal            = "INTERNAL_ERROR"
)

const (
	maxBodyBytes   = 1 << 16
	defaultHistory = 50
	maxHistory     = 500
)

// handleEnter handles POST /api/enter.
//
// The body is a shared.EnterRequest whose signature must recover to the
// player over ethsign.EnterMessage. Each (player, nonce) pair is accepted once.
//
//   - 200: entered; shared.EnterResponse
//   - 400: malformed body
//   - 401: signature does not match player
//   - 402: payment below the entrance fee or not collectable
//   - 409: raffle calculating, or nonce reused
//   - 429: rate limited
func (s *Server) handleEnter(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r, http.MethodPost) {
		return
	}

	label := s.raffle.Address().Hex()
	if !s.limiters.Allow(clientIP(r)) {
		s.metrics.EntryRejections.WithLabelValues(label, CodeRateLimited).Inc()
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, "Too many requests")
		return
	}

	var req shared.EnterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.metrics.EntryRejections.WithLabelValues(label, CodeInvalidRequest).Inc()
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.metrics.EntryRejections.WithLabelValues(label, CodeInvalidRequest).Inc()
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	player := common.HexToAddress(req.Player)
	value, _ := shared.ParseWei(req.ValueWei)
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "signature is not valid hex")
		return
	}

	signer, err := ethsign.RecoverAddress(ethsign.EnterMessage(s.raffle.Address(), player, value, req.Nonce), sig)
	if err != nil || signer != player {
		s.metrics.EntryRejections.WithLabelValues(label, CodeInvalidSignature).Inc()
		s.logger.Warn("Entry signature mismatch",
			zap.String("player", player.Hex()),
			zap.String("signer", signer.Hex()),
			zap.Error(err))
		writeError(w, http.StatusUnauthorized, CodeInvalidSignature, "signature does not match player")
		return
	}

	nonceKey := player.Hex() + ":" + req.Nonce
	if !s.nonces.Add(nonceKey) {
		s.metrics.EntryRejections.WithLabelValues(label, CodeNonceReused).Inc()
		writeError(w, http.StatusConflict, CodeNonceReused, "nonce already used")
		return
	}

	if err := s.raffle.Enter(r.Context(), player, value); err != nil {
		// the signed entry never took effect, so it may be retried
		s.nonces.Remove(nonceKey)
		s.writeRaffleError(w, err)
		return
	}

	snap := s.raffle.Snapshot()
	writeJSON(w, http.StatusOK, shared.EnterResponse{
		Player:          player.Hex(),
		NumberOfPlayers: len(snap.Players),
		BalanceWei:      snap.Balance.String(),
	})
}

// handleRaffle handles GET /api/raffle
func (s *Server) handleRaffle(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.raffle.Snapshot().View())
}

// handleUpkeep handles GET /api/upkeep (check) and POST /api/upkeep (perform).
// A POST when no upkeep is needed answers 409 with the upkeep fields.
func (s *Server) handleUpkeep(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodPost && !s.authorizedUpkeep(r) {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing or invalid upkeep key")
		return
	}

	status, err := s.raffle.CheckUpkeep(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, CodeInternal, "upkeep check canceled")
		return
	}
	resp := upkeepResponse(status)

	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	requestID, err := s.raffle.PerformUpkeep(r.Context())
	if err != nil {
		if notNeeded, ok := raffle.IsUpkeepNotNeeded(err); ok {
			resp.UpkeepNeeded = false
			resp.NumberOfPlayers = notNeeded.NumberOfPlayers
			resp.BalanceWei = notNeeded.Balance.String()
			resp.IsOpen = notNeeded.State == raffle.Open
			writeJSON(w, http.StatusConflict, resp)
			return
		}
		s.writeRaffleError(w, err)
		return
	}

	resp.RequestID = requestID.String()
	s.logger.Info("Upkeep performed via gateway",
		zap.String("request_id", resp.RequestID),
		zap.String("remote", clientIP(r)))
	writeJSON(w, http.StatusOK, resp)
}

// handleWebhook handles POST /webhook/vrf, the oracle's fulfillment callback.
// Words go only to this gateway's raffle; any other consumer is rejected
// before the request id is marked delivered. Redelivery of a request id
// answers 200 with status "duplicate".
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r, http.MethodPost) {
		return
	}

	var payload shared.FulfillmentWebhook
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	requestID, _ := shared.ParseWei(payload.RequestID)
	consumer := s.raffle.Address()
	if payload.Consumer != "" && common.HexToAddress(payload.Consumer) != consumer {
		s.metrics.WebhooksReceived.WithLabelValues("no_match").Inc()
		writeError(w, http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("consumer %s is not this raffle (%s)", payload.Consumer, consumer.Hex()))
		return
	}

	if !s.webhooks.Add(requestID.String()) {
		s.metrics.WebhooksReceived.WithLabelValues("duplicate").Inc()
		s.logger.Info("Duplicate fulfillment webhook ignored", zap.String("request_id", requestID.String()))
		writeJSON(w, http.StatusOK, shared.FulfillmentResponse{
			RequestID: requestID.String(),
			Consumer:  consumer.Hex(),
			Status:    "duplicate",
		})
		return
	}

	result, err := s.oracle.FulfillRandomWords(r.Context(), requestID, consumer)
	if err != nil {
		// not consumed; let the oracle retry
		s.webhooks.Remove(requestID.String())
		switch {
		case errors.Is(err, vrf.ErrNonexistentRequest):
			s.metrics.WebhooksReceived.WithLabelValues("no_match").Inc()
			writeError(w, http.StatusNotFound, CodeNonexistentRequest, fmt.Sprintf("request %s is not pending", requestID))
		case errors.Is(err, vrf.ErrInvalidConsumer):
			s.metrics.WebhooksReceived.WithLabelValues("no_match").Inc()
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		case errors.Is(err, vrf.ErrInsufficientBalance):
			s.metrics.WebhooksReceived.WithLabelValues("matched").Inc()
			writeError(w, http.StatusPaymentRequired, CodeInsufficientBalance, err.Error())
		default:
			s.metrics.WebhooksReceived.WithLabelValues("matched").Inc()
			s.logger.Error("Fulfillment failed",
				zap.String("request_id", requestID.String()),
				zap.Error(err))
			writeError(w, http.StatusInternalServerError, CodeInternal, "fulfillment failed")
		}
		return
	}

	s.metrics.WebhooksReceived.WithLabelValues("matched").Inc()
	writeJSON(w, http.StatusOK, fulfillmentResponse(result))
}

// handleHistory handles GET /api/history?limit=N, newest first
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r, http.MethodGet) {
		return
	}

	limit := defaultHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistory {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest,
				fmt.Sprintf("limit must be between 1 and %d", maxHistory))
			return
		}
		limit = n
	}

	events, err := s.history.History(r.Context(), s.raffle.Address(), limit)
	if err != nil {
		s.logger.Error("History query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal, "history unavailable")
		return
	}

	out := make([]shared.EventMessage, 0, len(events))
	for _, e := range events {
		out = append(out, e.Message())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) authorizedUpkeep(r *http.Request) bool {
	if s.cfg.UpkeepAPIKey == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.UpkeepAPIKey)) == 1
}

// preflight sets CORS headers, answers OPTIONS, and rejects other methods.
// Returns false when the response has been written.
func (s *Server) preflight(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed")
	return false
}

// writeRaffleError maps raffle failures to status codes. Internal detail is
// logged, never returned.
func (s *Server) writeRaffleError(w http.ResponseWriter, err error) {
	var rerr *raffle.Error
	if !errors.As(err, &rerr) {
		s.logger.Error("Unexpected raffle error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch rerr.Code {
	case raffle.ErrCodeInsufficientPayment:
		status = http.StatusPaymentRequired
	case raffle.ErrCodeNotOpen, raffle.ErrCodeUpkeepNotNeeded:
		status = http.StatusConflict
	case raffle.ErrCodeRequestFailed:
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError || errors.Unwrap(rerr) != nil {
		s.logger.Warn("Raffle operation failed",
			zap.String("code", rerr.Code),
			zap.Error(errors.Unwrap(rerr)))
	}
	writeError(w, status, rerr.Code, rerr.Message)
}

func upkeepResponse(st raffle.UpkeepStatus) shared.UpkeepResponse {
	return shared.UpkeepResponse{
		UpkeepNeeded:    st.Needed,
		IsOpen:          st.IsOpen,
		TimePassed:      st.TimePassed,
		HasPlayers:      st.HasPlayers,
		HasBalance:      st.HasBalance,
		NumberOfPlayers: st.NumberOfPlayers,
		BalanceWei:      st.Balance.String(),
	}
}

func fulfillmentResponse(res vrf.FulfillResult) shared.FulfillmentResponse {
	words := make([]string, len(res.Words))
	for i, w := range res.Words {
		words[i] = w.String()
	}
	resp := shared.FulfillmentResponse{
		RequestID:    res.RequestID.String(),
		Consumer:     res.Consumer.Hex(),
		Success:      res.Success,
		RandomWords:  words,
		PaymentJuels: res.Payment.String(),
	}
	if res.Err != nil {
		var rerr *raffle.Error
		if errors.As(res.Err, &rerr) {
			resp.Error = rerr.Code
		} else {
			resp.Error = res.Err.Error()
		}
	}
	return resp
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, shared.ErrorResponse{Code: code, Message: message})
}
