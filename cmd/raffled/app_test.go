package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"lottery/deploy"
	"lottery/gateway"
	"lottery/internal/recorder"
	"lottery/shared"
	"lottery/vrf"
)

const testOracleKey = "e0144cfbe97dcb2554ebf918b1ee12c1a51d4db1385aea75ec96d6632806bb2c"

func clearNetworkEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"VRF_COORDINATOR", "VRF_SUBSCRIPTION_ID", "GAS_LANE", "ENTRANCE_FEE"} {
		t.Setenv(k, "")
	}
}

func testConfig() Config {
	return Config{
		Network:         "hardhat",
		ChainID:         deploy.ChainIDHardhat,
		DeployerKey:     defaultDeployerKey,
		DeliveryMode:    DeliveryDirect,
		BlockTime:       time.Second,
		FundAmountEther: "10000",
	}
}

func testGatewayConfig() gateway.Config {
	cfg := gateway.DefaultConfig()
	cfg.Port = "127.0.0.1:0"
	return cfg
}

func newTestApp(t *testing.T, cfg Config) *app {
	t.Helper()
	a, err := setup(context.Background(), cfg, testGatewayConfig(), prometheus.NewRegistry(), prometheus.NewRegistry(), zap.NewNop())
	if err != nil {
		t.Fatalf("setup() error = %v", err)
	}
	t.Cleanup(func() {
		a.gateway.Close()
		a.recorder.Close()
	})
	return a
}

func TestSetupDevelopment(t *testing.T) {
	clearNetworkEnv(t)
	a := newTestApp(t, testConfig())

	d := a.deployment
	if !d.Development {
		t.Error("Development = false, want true on hardhat")
	}
	if a.keeper != nil {
		t.Error("keeper created with an empty schedule")
	}

	sub, err := a.coordinator.GetSubscription(d.Args.SubscriptionID)
	if err != nil {
		t.Fatalf("GetSubscription() error = %v", err)
	}
	wantBalance, _ := shared.ParseLink(shared.FundSubscriptionAmount)
	if sub.Balance.Cmp(wantBalance) != 0 {
		t.Errorf("subscription balance = %s, want %s", sub.Balance, wantBalance)
	}
	if len(sub.Consumers) != 1 || sub.Consumers[0] != d.Address {
		t.Errorf("consumers = %v, want [%s]", sub.Consumers, d.Address.Hex())
	}

	want := shared.MustParseEther("10000")
	for _, addr := range hardhatAccountAddresses() {
		if got := a.chain.Ledger.BalanceOf(addr); got.Cmp(want) != 0 {
			t.Errorf("balance of %s = %s, want %s", addr.Hex(), got, want)
		}
	}

	rec := httptest.NewRecorder()
	a.gateway.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/raffle", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/raffle status = %d, want %d", rec.Code, http.StatusOK)
	}
	var view shared.RaffleView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Address != d.Address.Hex() {
		t.Errorf("address = %s, want %s", view.Address, d.Address.Hex())
	}
	if view.State != shared.StateOpen {
		t.Errorf("state = %s, want %s", view.State, shared.StateOpen)
	}
}

func TestSetupLiveNetwork(t *testing.T) {
	clearNetworkEnv(t)
	t.Setenv("VRF_SUBSCRIPTION_ID", "2")

	extra := common.HexToAddress("0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc")
	cfg := testConfig()
	cfg.Network = "sepolia"
	cfg.ChainID = deploy.ChainIDSepolia
	cfg.FundAccounts = []common.Address{extra}
	a := newTestApp(t, cfg)

	d := a.deployment
	if d.Development {
		t.Error("Development = true, want false on sepolia")
	}
	if want := common.HexToAddress("0x8103B0A8A00be2DDC778e6e7eaa21791Cd364625"); a.coordinator.Address() != want {
		t.Errorf("coordinator = %s, want %s", a.coordinator.Address().Hex(), want.Hex())
	}
	if d.Args.SubscriptionID != 2 {
		t.Errorf("subscription id = %d, want 2", d.Args.SubscriptionID)
	}

	sub, err := a.coordinator.GetSubscription(2)
	if err != nil {
		t.Fatalf("GetSubscription() error = %v", err)
	}
	if len(sub.Consumers) != 1 || sub.Consumers[0] != d.Address {
		t.Errorf("consumers = %v, want [%s]", sub.Consumers, d.Address.Hex())
	}
	if sub.Balance.Sign() <= 0 {
		t.Errorf("subscription balance = %s, want funded", sub.Balance)
	}

	if got := a.chain.Ledger.BalanceOf(extra); got.Cmp(shared.MustParseEther("10000")) != 0 {
		t.Errorf("balance of FUND_ACCOUNTS entry = %s, want 10000 ETH", got)
	}
	if got := a.chain.Ledger.BalanceOf(common.HexToAddress(hardhatAccounts[1])); got.Sign() != 0 {
		t.Errorf("hardhat account funded on a live network: %s", got)
	}
}

func TestSetupGasLane(t *testing.T) {
	clearNetworkEnv(t)
	source, err := vrf.NewProvingSource(testOracleKey)
	if err != nil {
		t.Fatalf("NewProvingSource() error = %v", err)
	}

	t.Run("development adopts key hash", func(t *testing.T) {
		cfg := testConfig()
		cfg.VRFKey = testOracleKey
		a := newTestApp(t, cfg)
		if a.deployment.Args.GasLane != source.KeyHash() {
			t.Errorf("gas lane = %s, want %s", a.deployment.Args.GasLane.Hex(), source.KeyHash().Hex())
		}
	})

	t.Run("live network mismatch", func(t *testing.T) {
		t.Setenv("VRF_SUBSCRIPTION_ID", "1")
		cfg := testConfig()
		cfg.Network = "sepolia"
		cfg.ChainID = deploy.ChainIDSepolia
		cfg.VRFKey = testOracleKey
		_, err := setup(context.Background(), cfg, testGatewayConfig(), prometheus.NewRegistry(), prometheus.NewRegistry(), zap.NewNop())
		if err == nil || !strings.Contains(err.Error(), "gas lane") {
			t.Errorf("setup() error = %v, want gas lane mismatch", err)
		}
	})

	t.Run("live network match", func(t *testing.T) {
		t.Setenv("VRF_SUBSCRIPTION_ID", "1")
		t.Setenv("GAS_LANE", source.KeyHash().Hex())
		cfg := testConfig()
		cfg.Network = "sepolia"
		cfg.ChainID = deploy.ChainIDSepolia
		cfg.VRFKey = testOracleKey
		a := newTestApp(t, cfg)
		if a.deployment.Args.GasLane != source.KeyHash() {
			t.Errorf("gas lane = %s, want %s", a.deployment.Args.GasLane.Hex(), source.KeyHash().Hex())
		}
	})
}

func TestSetupVerification(t *testing.T) {
	var form url.Values
	explorer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		form = r.PostForm
		w.Write([]byte(`{"status":"1","message":"OK","result":"guid-1"}`))
	}))
	defer explorer.Close()

	source := filepath.Join(t.TempDir(), "Raffle.sol")
	if err := os.WriteFile(source, []byte("pragma solidity ^0.8.7;\ncontract Raffle {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	live := func() Config {
		cfg := testConfig()
		cfg.Network = "sepolia"
		cfg.ChainID = deploy.ChainIDSepolia
		cfg.EtherscanAPIKey = "key"
		cfg.ExplorerAPIURL = explorer.URL
		return cfg
	}

	t.Run("with source", func(t *testing.T) {
		clearNetworkEnv(t)
		t.Setenv("VRF_SUBSCRIPTION_ID", "1")
		form = nil
		cfg := live()
		cfg.VerifySourcePath = source
		cfg.VerifyCompilerVersion = "v0.8.7+commit.e28d00a7"

		a := newTestApp(t, cfg)
		if !a.deployment.Verified {
			t.Error("Verified = false, want true")
		}
		if form.Get("contractaddress") != a.deployment.Address.Hex() || form.Get("sourceCode") == "" {
			t.Errorf("form = %v", form)
		}
	})

	t.Run("without source", func(t *testing.T) {
		clearNetworkEnv(t)
		t.Setenv("VRF_SUBSCRIPTION_ID", "1")
		form = nil
		a := newTestApp(t, live())
		if a.deployment.Verified {
			t.Error("Verified = true without contract source")
		}
		if form != nil {
			t.Errorf("explorer called without contract source: %v", form)
		}
	})

	t.Run("unreadable source", func(t *testing.T) {
		clearNetworkEnv(t)
		t.Setenv("VRF_SUBSCRIPTION_ID", "1")
		cfg := live()
		cfg.VerifySourcePath = filepath.Join(t.TempDir(), "absent.sol")
		cfg.VerifyCompilerVersion = "v0.8.7+commit.e28d00a7"
		_, err := setup(context.Background(), cfg, testGatewayConfig(), prometheus.NewRegistry(), prometheus.NewRegistry(), zap.NewNop())
		if err == nil || !strings.Contains(err.Error(), "contract source") {
			t.Errorf("setup() error = %v, want contract source error", err)
		}
	})
}

func TestSetupErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown chain", func(c *Config) { c.ChainID = 5 }, "no network config"},
		{"bad deployer key", func(c *Config) { c.DeployerKey = "zz" }, "deployer key"},
		{"bad VRF key", func(c *Config) { c.VRFKey = "zz" }, "VRF key"},
		{"bad keeper schedule", func(c *Config) { c.KeeperSchedule = "whenever" }, "upkeep task"},
		{"live network without subscription", func(c *Config) {
			c.Network = "sepolia"
			c.ChainID = deploy.ChainIDSepolia
		}, "subscription_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearNetworkEnv(t)
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := setup(context.Background(), cfg, testGatewayConfig(), prometheus.NewRegistry(), prometheus.NewRegistry(), zap.NewNop())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("setup() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSetupRecordsEvents(t *testing.T) {
	clearNetworkEnv(t)
	cfg := testConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "events.db")
	a := newTestApp(t, cfg)

	if _, ok := a.recorder.(*recorder.SQLiteRecorder); !ok {
		t.Fatalf("recorder = %T, want *recorder.SQLiteRecorder", a.recorder)
	}

	ctx := context.Background()
	player := common.HexToAddress(hardhatAccounts[1])
	if err := a.deployment.Raffle.Enter(ctx, player, a.deployment.Raffle.EntranceFee()); err != nil {
		t.Fatalf("Enter() error = %v", err)
	}

	events, err := a.recorder.History(ctx, a.deployment.Address, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("History() = %d events, want 1", len(events))
	}
	if events[0].Kind != shared.EventEntered || events[0].Player != player {
		t.Errorf("event = %s/%s, want %s/%s", events[0].Kind, events[0].Player.Hex(), shared.EventEntered, player.Hex())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	clearNetworkEnv(t)
	cfg := testConfig()
	cfg.KeeperSchedule = "@every 1h"
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want nil", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}
