// Package crypto wraps validator key generation, signing, and the did:key
// identity derivation used to give a human-readable label to a consensus
// public key. Adapted from the teacher's internal/crypto/keys.go: same PEM
// load/save and did:key shape, but secp256k1 instead of stdlib P-256 ECDSA,
// matching the signing curve the rest of the retrieval pack (Litechain,
// go-ethereum) uses for blockchain validator keys.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multicodec"
)

var (
	ErrKeyGeneration      = errors.New("crypto: key generation failed")
	ErrInvalidKeyFormat   = errors.New("crypto: invalid key format")
	ErrPEMDecoding        = errors.New("crypto: pem decoding error")
	ErrUnsupportedPEMType = errors.New("crypto: unsupported pem block type")
	ErrSignatureInvalid   = errors.New("crypto: signature verification failed")
)

// PrivateKeyLen and PublicKeyLen are the raw encoded lengths for secp256k1
// keys used throughout the wire format and storage layout.
const (
	PrivateKeyLen = 32
	PublicKeyLen  = 33 // compressed point
)

// secp256k1PubKeyMulticodec is the multicodec tag for a compressed
// secp256k1 public key, used when constructing a did:key identifier.
const secp256k1PubKeyMulticodec multicodec.Code = 0xe7

// GenerateKeyPair creates a new secp256k1 validator signing key.
func GenerateKeyPair() (*secp256k1.PrivateKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return priv, nil
}

// PublicKeyBytes returns the compressed public key encoding used as a
// validator's on-wire and on-disk identity.
func PublicKeyBytes(priv *secp256k1.PrivateKey) []byte {
	return priv.PubKey().SerializeCompressed()
}

// Sign signs msg (already canonically encoded by package canon) and returns
// the DER encoding of the signature (variable length, at most 72 bytes).
func Sign(priv *secp256k1.PrivateKey, msg []byte) []byte {
	digest := sha256.Sum256(msg)
	sig := ecdsa.Sign(priv, digest[:])
	return sig.Serialize()
}

// Verify checks a signature produced by Sign against a compressed public
// key.
func Verify(pubKeyBytes, msg, sig []byte) error {
	pub, err := secp256k1.ParsePubKey(pubKeyBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	signature, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	digest := sha256.Sum256(msg)
	if !signature.Verify(digest[:], pub) {
		return ErrSignatureInvalid
	}
	return nil
}

// DIDKey derives a did:key identifier from a compressed secp256k1 public
// key, for logging and audit trails only — consensus never parses it back
// into a key, it only compares the raw PublicKeyBytes.
func DIDKey(pubKeyBytes []byte) (string, error) {
	if len(pubKeyBytes) != PublicKeyLen {
		return "", fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeyFormat, PublicKeyLen, len(pubKeyBytes))
	}
	prefixed := append(multicodec.Header(secp256k1PubKeyMulticodec), pubKeyBytes...)
	encoded, err := multibase.Encode(multibase.Base58BTC, prefixed)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to encode did:key: %w", err)
	}
	return "did:key:" + encoded, nil
}

// SavePrivateKeyPEM writes priv to filePath as an unencrypted "EC PRIVATE
// KEY"-tagged PEM block (SEC1-style raw scalar, since secp256k1 has no
// stdlib x509 marshaller).
func SavePrivateKeyPEM(priv *secp256k1.PrivateKey, filePath string) error {
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: priv.Serialize()}
	return os.WriteFile(filePath, pem.EncodeToMemory(block), 0o600)
}

// LoadPrivateKeyPEM reads a key written by SavePrivateKeyPEM.
func LoadPrivateKeyPEM(filePath string) (*secp256k1.PrivateKey, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to read private key file %q: %w", filePath, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, ErrPEMDecoding
	}
	if block.Type != "EC PRIVATE KEY" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPEMType, block.Type)
	}
	if len(block.Bytes) != PrivateKeyLen {
		return nil, fmt.Errorf("%w: private key scalar must be %d bytes, got %d", ErrInvalidKeyFormat, PrivateKeyLen, len(block.Bytes))
	}
	priv := secp256k1.PrivKeyFromBytes(block.Bytes)
	return priv, nil
}

// randomSalt returns 8 random bytes. It is not part of the signing path,
// and no code in this module calls it.
func randomSalt() []byte {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return b
}
