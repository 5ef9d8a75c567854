// Command raffle-enter signs an entry with PLAYER_PRIVATE_KEY and submits it to
// a running gateway.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"lottery/internal/chain"
	"lottery/internal/ethsign"
	"lottery/shared"
)

// Hardhat account #1, funded on the development network
const defaultPlayerKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

type options struct {
	gatewayURL string
	value      string // ether; empty means the entrance fee
	nonce      string
	playerKey  string
}

func main() {
	gatewayURL := flag.String("gateway", "http://localhost:8080", "Gateway base URL")
	value := flag.String("value", "", "Amount to pay in ether (default: the raffle's entrance fee)")
	nonce := flag.String("nonce", "", "Entry nonce (default: random UUID)")
	flag.Parse()

	playerKey := os.Getenv("PLAYER_PRIVATE_KEY")
	if playerKey == "" {
		fmt.Println("PLAYER_PRIVATE_KEY not set, using hardhat account #1")
		playerKey = defaultPlayerKey
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := run(ctx, &http.Client{Timeout: 30 * time.Second}, options{
		gatewayURL: *gatewayURL,
		value:      *value,
		nonce:      *nonce,
		playerKey:  playerKey,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Success!\n\n")
	pretty, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Printf("%s\n", pretty)
}

// run fetches the raffle, signs the entry, and posts it
func run(ctx context.Context, client *http.Client, opts options) (*shared.EnterResponse, error) {
	player, err := chain.AccountFromHex(opts.playerKey)
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(opts.gatewayURL, "/")

	var view shared.RaffleView
	if err := getJSON(ctx, client, base+"/api/raffle", &view); err != nil {
		return nil, fmt.Errorf("fetch raffle: %w", err)
	}
	fee, err := shared.ParseWei(view.EntranceFeeWei)
	if err != nil {
		return nil, fmt.Errorf("entrance fee: %w", err)
	}

	value := fee
	if opts.value != "" {
		if value, err = shared.ParseEther(opts.value); err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}
	}

	nonce := opts.nonce
	if nonce == "" {
		nonce = uuid.New().String()
	}

	raffleAddr := common.HexToAddress(view.Address)
	sig, err := ethsign.SignEthereumMessage(player.Key, ethsign.EnterMessage(raffleAddr, player.Address, value, nonce))
	if err != nil {
		return nil, err
	}

	fmt.Printf("Raffle:  %s (%s, fee %s ETH)\n", view.Address, view.State, view.EntranceFeeEther)
	fmt.Printf("Player:  %s\n", player.Address.Hex())
	fmt.Printf("Value:   %s ETH\n", shared.FormatEther(value))
	fmt.Printf("Nonce:   %s\n\n", nonce)

	body, err := json.Marshal(shared.EnterRequest{
		Player:    player.Address.Hex(),
		ValueWei:  value.String(),
		Nonce:     nonce,
		Signature: hexutil.Encode(sig),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/enter", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		var e shared.ErrorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Code != "" {
			return nil, fmt.Errorf("HTTP %d: %s: %s", httpResp.StatusCode, e.Code, e.Message)
		}
		return nil, fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, string(respBody))
	}

	var out shared.EnterResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &out, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
