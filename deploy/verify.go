package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"lottery/internal/logging"
)

// DefaultExplorerAPI is the Etherscan v2 endpoint
const DefaultExplorerAPI = "https://api.etherscan.io/v2/api"

// ErrVerifierNotConfigured means there is no contract source or compiler
// version to submit
var ErrVerifierNotConfigured = errors.New("verifier needs contract source and compiler version")

// Verifier submits contract source to an Etherscan-compatible explorer
type Verifier struct {
	APIURL          string
	APIKey          string
	ChainID         uint64
	ContractName    string
	CompilerVersion string
	SourceCode      string
	Client          *http.Client
	Logger          *zap.Logger
}

// NewVerifier loads the single-file contract source at sourcePath. An empty
// path or compiler version yields ErrVerifierNotConfigured.
func NewVerifier(apiURL, apiKey string, chainID uint64, sourcePath, compilerVersion string, logger *zap.Logger) (*Verifier, error) {
	if sourcePath == "" || compilerVersion == "" {
		return nil, ErrVerifierNotConfigured
	}
	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("read contract source: %w", err)
	}
	if strings.TrimSpace(string(source)) == "" {
		return nil, fmt.Errorf("contract source %s is empty", sourcePath)
	}
	return &Verifier{
		APIURL:          apiURL,
		APIKey:          apiKey,
		ChainID:         chainID,
		CompilerVersion: compilerVersion,
		SourceCode:      string(source),
		Logger:          logger,
	}, nil
}

type explorerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// Verify submits address for verification. A contract that is already
// verified counts as success.
func (v *Verifier) Verify(ctx context.Context, address common.Address, args ConstructorArgs) error {
	logger := logging.OrNop(v.Logger)
	if v.SourceCode == "" || v.CompilerVersion == "" {
		return ErrVerifierNotConfigured
	}
	logger.Info("Verifying contract...", zap.String("address", address.Hex()))

	encoded, err := args.EncodeHex()
	if err != nil {
		return fmt.Errorf("encode constructor args: %w", err)
	}

	form := url.Values{}
	form.Set("apikey", v.APIKey)
	form.Set("chainid", fmt.Sprintf("%d", v.ChainID))
	form.Set("module", "contract")
	form.Set("action", "verifysourcecode")
	form.Set("contractaddress", address.Hex())
	form.Set("sourceCode", v.SourceCode)
	form.Set("codeformat", "solidity-single-file")
	form.Set("contractname", v.contractName())
	form.Set("compilerversion", v.CompilerVersion)
	form.Set("optimizationUsed", "0")
	// Etherscan's parameter name is misspelled
	form.Set("constructorArguements", encoded)

	apiURL := v.APIURL
	if apiURL == "" {
		apiURL = DefaultExplorerAPI
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := v.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send verify request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read verify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("explorer returned status %d: %s", resp.StatusCode, string(body))
	}

	var out explorerResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("parse verify response: %w", err)
	}

	if strings.Contains(strings.ToLower(out.Result), "already verified") {
		logger.Info("Already verified!", zap.String("address", address.Hex()))
		return nil
	}
	if out.Status != "1" {
		return fmt.Errorf("verification rejected: %s: %s", out.Message, out.Result)
	}

	logger.Info("Verification submitted",
		zap.String("address", address.Hex()),
		zap.String("guid", out.Result))
	return nil
}

func (v *Verifier) contractName() string {
	if v.ContractName == "" {
		return "Raffle"
	}
	return v.ContractName
}
