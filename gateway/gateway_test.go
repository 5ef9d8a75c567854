package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"lottery/internal/chain"
	"lottery/internal/ethsign"
	"lottery/internal/metrics"
	"lottery/raffle"
	"lottery/shared"
	"lottery/vrf"
)

var (
	raffleAddr = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	coordAddr  = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	owner      = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	gasLane    = common.HexToHash("0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c")
	genesis    = time.Unix(1_700_000_000, 0)
)

type fixture struct {
	srv    *Server
	ts     *httptest.Server
	raffle *raffle.Raffle
	coord  *vrf.Coordinator
	ledger *chain.Ledger
	clock  *chain.Clock
}

func newFixture(t *testing.T, cfg Config, coordOpts []vrf.Option, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		ledger: chain.NewLedger(),
		clock:  chain.NewClock(genesis),
	}
	f.coord = vrf.NewCoordinator(coordAddr, f.clock, coordOpts...)
	subID := f.coord.CreateSubscription(owner)
	juels, _ := shared.ParseLink("3")
	if err := f.coord.FundSubscription(subID, juels); err != nil {
		t.Fatalf("FundSubscription() error = %v", err)
	}

	hub := NewHub(nil, nil)
	r, err := raffle.New(raffle.Config{
		Address:          raffleAddr,
		EntranceFee:      shared.MustParseEther("0.01"),
		Interval:         30 * time.Second,
		Coordinator:      coordAddr,
		GasLane:          gasLane,
		SubscriptionID:   subID,
		CallbackGasLimit: 500000,
	}, f.coord, f.ledger, f.clock, raffle.WithEventSink(hub))
	if err != nil {
		t.Fatalf("raffle.New() error = %v", err)
	}
	if err := f.coord.AddConsumer(owner, subID, raffleAddr); err != nil {
		t.Fatalf("AddConsumer() error = %v", err)
	}
	f.coord.Register(raffleAddr, r)
	f.raffle = r

	f.srv, err = New(cfg, r, f.coord, append([]Option{WithHub(hub)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.ts = httptest.NewServer(f.srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		f.ts.Close()
		f.srv.Close()
	})
	return f
}

// player returns a fresh account funded with 1 ETH
func (f *fixture) player(t *testing.T) *chain.Account {
	t.Helper()
	acct, err := chain.NewAccount()
	if err != nil {
		t.Fatalf("NewAccount() error = %v", err)
	}
	f.ledger.Fund(acct.Address, shared.MustParseEther("1"))
	return acct
}

func signedEntry(t *testing.T, signer *chain.Account, player common.Address, value, nonce string) shared.EnterRequest {
	t.Helper()
	wei := shared.MustParseEther(value)
	sig, err := ethsign.SignEthereumMessage(signer.Key, ethsign.EnterMessage(raffleAddr, player, wei, nonce))
	if err != nil {
		t.Fatalf("SignEthereumMessage() error = %v", err)
	}
	return shared.EnterRequest{
		Player:    player.Hex(),
		ValueWei:  wei.String(),
		Nonce:     nonce,
		Signature: hexutil.Encode(sig),
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, f.ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp, out
}

func decodeErr(t *testing.T, body []byte) shared.ErrorResponse {
	t.Helper()
	var e shared.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("error body %q: %v", body, err)
	}
	return e
}

// readyToDraw enters one player and moves past the interval
func (f *fixture) readyToDraw(t *testing.T) *chain.Account {
	t.Helper()
	p := f.player(t)
	if err := f.raffle.Enter(context.Background(), p.Address, shared.MustParseEther("0.01")); err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	f.clock.IncreaseTime(31 * time.Second)
	f.clock.Mine()
	return p
}

func TestHandleEnter(t *testing.T) {
	tests := []struct {
		name       string
		build      func(t *testing.T, f *fixture) any
		wantStatus int
		wantCode   string
	}{
		{
			name: "valid entry",
			build: func(t *testing.T, f *fixture) any {
				p := f.player(t)
				return signedEntry(t, p, p.Address, "0.01", "n-1")
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "signed by someone else",
			build: func(t *testing.T, f *fixture) any {
				p, other := f.player(t), f.player(t)
				return signedEntry(t, other, p.Address, "0.01", "n-1")
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   CodeInvalidSignature,
		},
		{
			name: "below entrance fee",
			build: func(t *testing.T, f *fixture) any {
				p := f.player(t)
				return signedEntry(t, p, p.Address, "0.001", "n-1")
			},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   raffle.ErrCodeInsufficientPayment,
		},
		{
			name: "unfunded player",
			build: func(t *testing.T, f *fixture) any {
				acct, _ := chain.NewAccount()
				return signedEntry(t, acct, acct.Address, "0.01", "n-1")
			},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   raffle.ErrCodeInsufficientPayment,
		},
		{
			name:       "malformed json",
			build:      func(*testing.T, *fixture) any { return "{not json" },
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidRequest,
		},
		{
			name: "bad player address",
			build: func(t *testing.T, f *fixture) any {
				p := f.player(t)
				req := signedEntry(t, p, p.Address, "0.01", "n-1")
				req.Player = "0x1234"
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidRequest,
		},
		{
			name: "unknown field",
			build: func(*testing.T, *fixture) any {
				return `{"player":"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266","extra":1}`
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig(), nil)

			resp, body := f.do(t, http.MethodPost, "/api/enter", tt.build(t, f))
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantCode != "" {
				if got := decodeErr(t, body).Code; got != tt.wantCode {
					t.Errorf("code = %q, want %q", got, tt.wantCode)
				}
				if n := f.raffle.NumberOfPlayers(); n != 0 {
					t.Errorf("NumberOfPlayers() = %d, want 0", n)
				}
				return
			}

			var out shared.EnterResponse
			if err := json.Unmarshal(body, &out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.NumberOfPlayers != 1 {
				t.Errorf("NumberOfPlayers = %d, want 1", out.NumberOfPlayers)
			}
			if want := shared.MustParseEther("0.01").String(); out.BalanceWei != want {
				t.Errorf("BalanceWei = %s, want %s", out.BalanceWei, want)
			}
		})
	}
}

func TestHandleEnterNonceReplay(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	p := f.player(t)
	req := signedEntry(t, p, p.Address, "0.01", "replay")

	if resp, body := f.do(t, http.MethodPost, "/api/enter", req); resp.StatusCode != http.StatusOK {
		t.Fatalf("first entry status = %d (body %s)", resp.StatusCode, body)
	}
	resp, body := f.do(t, http.MethodPost, "/api/enter", req)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("replay status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	if got := decodeErr(t, body).Code; got != CodeNonceReused {
		t.Errorf("code = %q, want %q", got, CodeNonceReused)
	}
	if n := f.raffle.NumberOfPlayers(); n != 1 {
		t.Errorf("NumberOfPlayers() = %d, want 1", n)
	}
}

func TestHandleEnterRetryAfterRejection(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.readyToDraw(t)
	if _, err := f.raffle.PerformUpkeep(context.Background()); err != nil {
		t.Fatalf("PerformUpkeep() error = %v", err)
	}

	p := f.player(t)
	req := signedEntry(t, p, p.Address, "0.01", "retry")
	resp, body := f.do(t, http.MethodPost, "/api/enter", req)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status while calculating = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	if got := decodeErr(t, body).Code; got != raffle.ErrCodeNotOpen {
		t.Errorf("code = %q, want %q", got, raffle.ErrCodeNotOpen)
	}

	if _, err := f.coord.FulfillRandomWords(context.Background(), f.raffle.PendingRequestID(), raffleAddr); err != nil {
		t.Fatalf("FulfillRandomWords() error = %v", err)
	}

	if resp, body := f.do(t, http.MethodPost, "/api/enter", req); resp.StatusCode != http.StatusOK {
		t.Errorf("status after reopen = %d, want 200 (body %s)", resp.StatusCode, body)
	}
}

func TestHandleEnterRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 2
	f := newFixture(t, cfg, nil)
	p := f.player(t)

	var statuses []int
	for i := 0; i < 3; i++ {
		resp, _ := f.do(t, http.MethodPost, "/api/enter", signedEntry(t, p, p.Address, "0.01", fmt.Sprintf("n-%d", i)))
		statuses = append(statuses, resp.StatusCode)
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("request %d status = %d, want %d", i, statuses[i], want[i])
		}
	}
}

func TestMethodsAndCORS(t *testing.T) {
	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodGet, "/api/enter", http.StatusMethodNotAllowed},
		{http.MethodOptions, "/api/enter", http.StatusNoContent},
		{http.MethodPost, "/api/raffle", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/upkeep", http.StatusMethodNotAllowed},
		{http.MethodGet, "/webhook/vrf", http.StatusMethodNotAllowed},
		{http.MethodOptions, "/webhook/vrf", http.StatusNoContent},
		{http.MethodPost, "/api/history", http.StatusMethodNotAllowed},
	}

	f := newFixture(t, DefaultConfig(), nil)
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp, _ := f.do(t, tt.method, tt.path, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
			}
		})
	}
}

func TestHandleRaffle(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	p := f.readyToDraw(t)

	resp, body := f.do(t, http.MethodGet, "/api/raffle", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var view shared.RaffleView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if view.State != shared.StateOpen {
		t.Errorf("State = %q, want %q", view.State, shared.StateOpen)
	}
	if view.EntranceFeeEther != "0.01" {
		t.Errorf("EntranceFeeEther = %q, want 0.01", view.EntranceFeeEther)
	}
	if len(view.Players) != 1 || view.Players[0] != p.Address.Hex() {
		t.Errorf("Players = %v, want [%s]", view.Players, p.Address.Hex())
	}
	if view.IntervalSeconds != 30 {
		t.Errorf("IntervalSeconds = %d, want 30", view.IntervalSeconds)
	}
}

func TestHandleUpkeep(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	var check shared.UpkeepResponse
	_, body := f.do(t, http.MethodGet, "/api/upkeep", nil)
	json.Unmarshal(body, &check)
	if check.UpkeepNeeded || !check.IsOpen || check.HasPlayers {
		t.Errorf("empty raffle upkeep = %+v, want not needed, open, no players", check)
	}

	resp, body := f.do(t, http.MethodPost, "/api/upkeep", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("perform on empty raffle status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	f.readyToDraw(t)

	_, body = f.do(t, http.MethodGet, "/api/upkeep", nil)
	check = shared.UpkeepResponse{}
	json.Unmarshal(body, &check)
	if !check.UpkeepNeeded || !check.TimePassed || check.NumberOfPlayers != 1 {
		t.Errorf("upkeep = %+v, want needed with 1 player", check)
	}

	resp, body = f.do(t, http.MethodPost, "/api/upkeep", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("perform status = %d (body %s)", resp.StatusCode, body)
	}
	var performed shared.UpkeepResponse
	json.Unmarshal(body, &performed)
	if want := f.raffle.PendingRequestID().String(); performed.RequestID != want {
		t.Errorf("RequestID = %q, want %q", performed.RequestID, want)
	}
	if f.raffle.State() != raffle.Calculating {
		t.Errorf("State() = %v, want Calculating", f.raffle.State())
	}

	resp, body = f.do(t, http.MethodPost, "/api/upkeep", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second perform status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	var rejected shared.UpkeepResponse
	json.Unmarshal(body, &rejected)
	if rejected.IsOpen || rejected.UpkeepNeeded {
		t.Errorf("rejected = %+v, want closed and not needed", rejected)
	}
}

func TestHandleWebhook(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	p := f.readyToDraw(t)
	requestID, err := f.raffle.PerformUpkeep(context.Background())
	if err != nil {
		t.Fatalf("PerformUpkeep() error = %v", err)
	}
	payload := shared.FulfillmentWebhook{RequestID: requestID.String()}

	resp, body := f.do(t, http.MethodPost, "/webhook/vrf", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d (body %s)", resp.StatusCode, body)
	}
	var out shared.FulfillmentResponse
	json.Unmarshal(body, &out)
	if !out.Success || len(out.RandomWords) != 1 {
		t.Errorf("response = %+v, want success with 1 word", out)
	}
	if out.Consumer != raffleAddr.Hex() {
		t.Errorf("Consumer = %s, want %s", out.Consumer, raffleAddr.Hex())
	}
	if got := f.raffle.RecentWinner(); got != p.Address {
		t.Errorf("RecentWinner() = %s, want %s", got.Hex(), p.Address.Hex())
	}

	resp, body = f.do(t, http.MethodPost, "/webhook/vrf", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate status = %d", resp.StatusCode)
	}
	out = shared.FulfillmentResponse{}
	json.Unmarshal(body, &out)
	if out.Status != "duplicate" {
		t.Errorf("duplicate Status = %q, want duplicate", out.Status)
	}
}

func TestHandleWebhookErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"nonexistent request", shared.FulfillmentWebhook{RequestID: "12345"}, http.StatusNotFound, CodeNonexistentRequest},
		{"non-decimal id", shared.FulfillmentWebhook{RequestID: "0xabc"}, http.StatusBadRequest, CodeInvalidRequest},
		{"bad consumer", shared.FulfillmentWebhook{RequestID: "1", Consumer: "nope"}, http.StatusBadRequest, CodeInvalidRequest},
		{"malformed", "[]", http.StatusBadRequest, CodeInvalidRequest},
	}

	f := newFixture(t, DefaultConfig(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/webhook/vrf", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := decodeErr(t, body).Code; got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}

	// a 404 must not poison the dedupe cache
	resp, _ := f.do(t, http.MethodPost, "/webhook/vrf", shared.FulfillmentWebhook{RequestID: "12345"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("repeat nonexistent status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleWebhookForeignConsumer(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	p := f.readyToDraw(t)
	requestID, err := f.raffle.PerformUpkeep(context.Background())
	if err != nil {
		t.Fatalf("PerformUpkeep() error = %v", err)
	}

	foreign := shared.FulfillmentWebhook{
		RequestID: requestID.String(),
		Consumer:  "0x000000000000000000000000000000000000dEaD",
	}
	resp, body := f.do(t, http.MethodPost, "/webhook/vrf", foreign)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("foreign consumer status = %d, want %d (body %s)", resp.StatusCode, http.StatusBadRequest, body)
	}
	if got := decodeErr(t, body).Code; got != CodeInvalidRequest {
		t.Errorf("code = %q, want %q", got, CodeInvalidRequest)
	}
	if len(f.coord.Pending()) != 1 {
		t.Fatalf("coordinator pending = %d, want 1", len(f.coord.Pending()))
	}
	if f.raffle.State() != raffle.Calculating {
		t.Errorf("State() = %s, want %s", f.raffle.State(), raffle.Calculating)
	}

	// the coordinator refuses a mismatched consumer even without the gateway check
	if _, err := f.coord.FulfillRandomWords(context.Background(), requestID, common.HexToAddress(foreign.Consumer)); !errors.Is(err, vrf.ErrInvalidConsumer) {
		t.Errorf("FulfillRandomWords(foreign) error = %v, want ErrInvalidConsumer", err)
	}

	resp, body = f.do(t, http.MethodPost, "/webhook/vrf", shared.FulfillmentWebhook{RequestID: requestID.String()})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("real delivery status = %d, want %d (body %s)", resp.StatusCode, http.StatusOK, body)
	}
	var out shared.FulfillmentResponse
	json.Unmarshal(body, &out)
	if !out.Success || out.Status == "duplicate" {
		t.Errorf("response = %+v, want a fresh successful delivery", out)
	}
	if f.raffle.State() != raffle.Open {
		t.Errorf("State() = %s, want %s", f.raffle.State(), raffle.Open)
	}
	if got := f.raffle.RecentWinner(); got != p.Address {
		t.Errorf("RecentWinner() = %s, want %s", got.Hex(), p.Address.Hex())
	}
}

func TestHandleWebhookInsufficientBalance(t *testing.T) {
	fee, _ := shared.ParseLink("5")
	f := newFixture(t, DefaultConfig(), []vrf.Option{vrf.WithBaseFee(fee)})
	f.readyToDraw(t)
	requestID, err := f.raffle.PerformUpkeep(context.Background())
	if err != nil {
		t.Fatalf("PerformUpkeep() error = %v", err)
	}
	payload := shared.FulfillmentWebhook{RequestID: requestID.String()}

	for i := 0; i < 2; i++ {
		resp, body := f.do(t, http.MethodPost, "/webhook/vrf", payload)
		if resp.StatusCode != http.StatusPaymentRequired {
			t.Fatalf("attempt %d status = %d, want %d", i, resp.StatusCode, http.StatusPaymentRequired)
		}
		if got := decodeErr(t, body).Code; got != CodeInsufficientBalance {
			t.Errorf("code = %q, want %q", got, CodeInsufficientBalance)
		}
	}
	if f.raffle.State() != raffle.Calculating {
		t.Errorf("State() = %v, want Calculating", f.raffle.State())
	}
}

type fakeHistory struct {
	events []raffle.Event
	err    error
	limit  int
}

func (h *fakeHistory) Record(context.Context, raffle.Event) error { return nil }
func (h *fakeHistory) History(_ context.Context, _ common.Address, limit int) ([]raffle.Event, error) {
	h.limit = limit
	return h.events, h.err
}
func (h *fakeHistory) Close() error { return nil }

func TestHandleHistory(t *testing.T) {
	winner := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	hist := &fakeHistory{events: []raffle.Event{
		{Kind: shared.EventWinnerPicked, Raffle: raffleAddr, Winner: winner, Amount: big.NewInt(42), Timestamp: genesis},
		{Kind: shared.EventEntered, Raffle: raffleAddr, Player: winner, Amount: big.NewInt(42), Timestamp: genesis},
	}}
	f := newFixture(t, DefaultConfig(), nil, WithRecorder(hist))

	tests := []struct {
		query      string
		wantStatus int
		wantLimit  int
	}{
		{"", http.StatusOK, defaultHistory},
		{"?limit=5", http.StatusOK, 5},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
		{"?limit=100000", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			hist.limit = 0
			resp, body := f.do(t, http.MethodGet, "/api/history"+tt.query, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if hist.limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", hist.limit, tt.wantLimit)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var msgs []shared.EventMessage
			json.Unmarshal(body, &msgs)
			if len(msgs) != 2 || msgs[0].Kind != shared.EventWinnerPicked || msgs[0].Winner != winner.Hex() {
				t.Errorf("messages = %+v", msgs)
			}
		})
	}

	hist.err = errors.New("disk gone")
	if resp, _ := f.do(t, http.MethodGet, "/api/history", nil); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status with failing store = %d, want 500", resp.StatusCode)
	}
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	resp, body := f.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]string
	json.Unmarshal(body, &out)
	if out["status"] != "healthy" {
		t.Errorf("status = %q, want healthy", out["status"])
	}
	if out["uptime"] == "" {
		t.Error("uptime missing")
	}
}

func TestHandleReadiness(t *testing.T) {
	tests := []struct {
		name       string
		maxPending int
		pending    bool
		storeErr   error
		wantStatus int
		wantState  string
	}{
		{"healthy", 10, false, nil, http.StatusOK, "healthy"},
		{"store down", 10, false, errors.New("locked"), http.StatusOK, "degraded"},
		{"backlog full", 1, true, nil, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MaxPending = tt.maxPending
			f := newFixture(t, cfg, nil, WithRecorder(&fakeHistory{err: tt.storeErr}))
			if tt.pending {
				f.readyToDraw(t)
				if _, err := f.raffle.PerformUpkeep(context.Background()); err != nil {
					t.Fatalf("PerformUpkeep() error = %v", err)
				}
			}

			resp, body := f.do(t, http.MethodGet, "/readiness", nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var out HealthResponse
			if err := json.Unmarshal(body, &out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Status != tt.wantState {
				t.Errorf("Status = %q, want %q", out.Status, tt.wantState)
			}
			for _, dep := range []string{"raffle", "vrf_coordinator", "recorder"} {
				if _, ok := out.Dependencies[dep]; !ok {
					t.Errorf("dependency %q missing", dep)
				}
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, DefaultConfig(), nil, WithMetrics(metrics.New(reg), reg))

	f.do(t, http.MethodGet, "/api/raffle", nil)
	resp, body := f.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !bytes.Contains(body, []byte(`raffle_http_requests_total{endpoint="raffle",method="GET",status="200"} 1`)) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.srv.Hub().Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	p := f.player(t)
	if resp, body := f.do(t, http.MethodPost, "/api/enter", signedEntry(t, p, p.Address, "0.01", "ws")); resp.StatusCode != http.StatusOK {
		t.Fatalf("enter status = %d (body %s)", resp.StatusCode, body)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg shared.EventMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Kind != shared.EventEntered || msg.Player != p.Address.Hex() {
		t.Errorf("event = %+v, want %s for %s", msg, shared.EventEntered, p.Address.Hex())
	}
	if msg.Raffle != raffleAddr.Hex() {
		t.Errorf("Raffle = %s, want %s", msg.Raffle, raffleAddr.Hex())
	}
}

func TestHubCloseRefusesClients(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.srv.Hub().Close()

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() error = %v, want close going away", err)
	}
}

func TestHandleUpkeepAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpkeepAPIKey = "s3cret"

	tests := []struct {
		name       string
		auth       string
		wantStatus int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"no bearer prefix", "s3cret", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, cfg, nil)
			f.readyToDraw(t)

			req, _ := http.NewRequest(http.MethodPost, f.ts.URL+"/api/upkeep", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			resp, err := f.ts.Client().Do(req)
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}

	// checks stay open
	f := newFixture(t, cfg, nil)
	if resp, _ := f.do(t, http.MethodGet, "/api/upkeep", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("GET status = %d, want 200", resp.StatusCode)
	}
}
