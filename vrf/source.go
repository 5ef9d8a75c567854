package vrf

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lottery/crypto"
)

// WordSource produces the random words for a request. Proof is nil for
// sources that do not prove their output.
type WordSource interface {
	RandomWords(req Request, blockTime time.Time) (words []*big.Int, proof []byte, err error)
}

// MockSource derives words from the request id alone, like the coordinator
// mock used on development chains
type MockSource struct{}

func (MockSource) RandomWords(req Request, _ time.Time) ([]*big.Int, []byte, error) {
	return crypto.MockRandomWords(req.ID, req.NumWords), nil, nil
}

// ProvingSource signs each request seed with the oracle key. The signature is
// published as the proof and its hash is the randomness.
type ProvingSource struct {
	privateKey []byte
	publicKey  []byte
	keyHash    common.Hash
}

// NewProvingSource loads the oracle key
func NewProvingSource(privateKeyHex string) (*ProvingSource, error) {
	keys, err := crypto.DeriveKeys(privateKeyHex)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.HexToBytes(keys.SchnorrPubkey)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	return &ProvingSource{
		privateKey: keys.PrivateKey,
		publicKey:  pub,
		keyHash:    keys.KeyHash,
	}, nil
}

// KeyHash is the gas lane requests must name
func (p *ProvingSource) KeyHash() common.Hash { return p.keyHash }

// PublicKey returns the x-only Schnorr public key
func (p *ProvingSource) PublicKey() []byte { return append([]byte(nil), p.publicKey...) }

func (p *ProvingSource) RandomWords(req Request, blockTime time.Time) ([]*big.Int, []byte, error) {
	seed := crypto.RequestSeed(req.PreSeed, blockTime.Unix())
	proof, err := crypto.GenerateProof(p.privateKey, seed)
	if err != nil {
		return nil, nil, err
	}
	return crypto.ExpandRandomWords(crypto.RandomnessFromProof(proof), req.NumWords), proof, nil
}

// VerifyFulfillment checks a proving source's output against its public key
func VerifyFulfillment(publicKey []byte, req Request, result FulfillResult) error {
	seed := crypto.RequestSeed(req.PreSeed, result.BlockTime.Unix())
	if err := crypto.VerifyProof(publicKey, seed, result.Proof); err != nil {
		return err
	}
	want := crypto.ExpandRandomWords(crypto.RandomnessFromProof(result.Proof), req.NumWords)
	if len(want) != len(result.Words) {
		return fmt.Errorf("%w: got %d words, want %d", ErrInvalidRandomWords, len(result.Words), len(want))
	}
	for i := range want {
		if want[i].Cmp(result.Words[i]) != 0 {
			return fmt.Errorf("%w: word %d does not match proof", ErrInvalidRandomWords, i)
		}
	}
	return nil
}
