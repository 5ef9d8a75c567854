package crypto

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Domain separator mixed into every randomness seed
const DomainSeparatorSeed = "RAFFLE_VRF_SEED_V1"

// KeyDerivation contains the oracle's derived keys
type KeyDerivation struct {
	PrivateKey    []byte
	SchnorrPubkey string      // 32-byte x-only key, hex
	KeyHash       common.Hash // gas lane identifier
}

// Zero clears the private key bytes
func (k *KeyDerivation) Zero() {
	for i := range k.PrivateKey {
		k.PrivateKey[i] = 0
	}
}

// HexToBytes decodes hex string to bytes, accepting an optional 0x prefix
func HexToBytes(hexStr string) ([]byte, error) {
	if len(hexStr) >= 2 && hexStr[0:2] == "0x" {
		hexStr = hexStr[2:]
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// DeriveKeys derives the Schnorr public key and key hash from a secp256k1 private key
func DeriveKeys(privateKeyHex string) (*KeyDerivation, error) {
	privKeyBytes, err := HexToBytes(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex encoding: %w", err)
	}

	if len(privKeyBytes) != 32 {
		return nil, fmt.Errorf("invalid private key length: expected 32 bytes, got %d", len(privKeyBytes))
	}

	_, pubKey := btcec.PrivKeyFromBytes(privKeyBytes)
	xOnly := schnorr.SerializePubKey(pubKey)

	return &KeyDerivation{
		PrivateKey:    privKeyBytes,
		SchnorrPubkey: hex.EncodeToString(xOnly),
		KeyHash:       KeyHash(xOnly),
	}, nil
}

// KeyHash is keccak256 of the oracle public key, used as the gas lane id
func KeyHash(pubKey []byte) common.Hash {
	return ethcrypto.Keccak256Hash(pubKey)
}

// word left-pads a big integer into a 32-byte ABI word
func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

// ComputeRequestID derives a request id the way the coordinator does:
// preSeed = keccak(keyHash, sender, subID, nonce); id = keccak(keyHash, preSeed).
// It returns both values.
func ComputeRequestID(keyHash common.Hash, sender common.Address, subID, nonce uint64) (*big.Int, *big.Int) {
	preSeed := ethcrypto.Keccak256(
		keyHash.Bytes(),
		common.LeftPadBytes(sender.Bytes(), 32),
		word(new(big.Int).SetUint64(subID)),
		word(new(big.Int).SetUint64(nonce)),
	)
	id := ethcrypto.Keccak256(keyHash.Bytes(), preSeed)
	return new(big.Int).SetBytes(id), new(big.Int).SetBytes(preSeed)
}

// RequestSeed binds a pre-seed to the block in which the request landed
func RequestSeed(preSeed *big.Int, blockTime int64) []byte {
	return ethcrypto.Keccak256(
		[]byte(DomainSeparatorSeed),
		word(preSeed),
		word(big.NewInt(blockTime)),
	)
}

// MockRandomWords returns keccak(abi.encode(requestID, i)) for i < n
func MockRandomWords(requestID *big.Int, n uint32) []*big.Int {
	words := make([]*big.Int, n)
	for i := uint32(0); i < n; i++ {
		h := ethcrypto.Keccak256(word(requestID), word(big.NewInt(int64(i))))
		words[i] = new(big.Int).SetBytes(h)
	}
	return words
}

// GenerateProof signs the 32-byte seed with BIP-340 Schnorr. The signature is
// the proof; anyone holding the public key can check it.
func GenerateProof(privKeyBytes, seed []byte) ([]byte, error) {
	if len(privKeyBytes) != 32 {
		return nil, fmt.Errorf("invalid private key length: expected 32 bytes, got %d", len(privKeyBytes))
	}
	if len(seed) != 32 {
		return nil, fmt.Errorf("invalid seed length: expected 32 bytes, got %d", len(seed))
	}

	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)

	sig, err := schnorr.Sign(privKey, seed)
	if err != nil {
		return nil, fmt.Errorf("schnorr signing failed: %w", err)
	}
	return sig.Serialize(), nil
}

// VerifyProof verifies a proof produced by GenerateProof
func VerifyProof(pubKey, seed, proof []byte) error {
	sig, err := schnorr.ParseSignature(proof)
	if err != nil {
		return fmt.Errorf("invalid schnorr signature: %w", err)
	}

	pk, err := schnorr.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("invalid schnorr public key: %w", err)
	}

	if !sig.Verify(seed, pk) {
		return fmt.Errorf("schnorr signature verification failed")
	}
	return nil
}

// RandomnessFromProof hashes a verified proof into 256 bits of output
func RandomnessFromProof(proof []byte) *big.Int {
	return new(big.Int).SetBytes(ethcrypto.Keccak256(proof))
}

// ExpandRandomWords derives n words as keccak(randomness, i)
func ExpandRandomWords(randomness *big.Int, n uint32) []*big.Int {
	words := make([]*big.Int, n)
	for i := uint32(0); i < n; i++ {
		h := ethcrypto.Keccak256(word(randomness), word(big.NewInt(int64(i))))
		words[i] = new(big.Int).SetBytes(h)
	}
	return words
}
