// Package genesis loads and hashes the bootstrap validator set every node
// in a chain must agree on before it can verify block 1's prev_block_hash,
// per spec.md's "genesis hash if H=1" rule and spec.md §7's treatment of
// "inability to verify the genesis block" as a fatal failure. The document
// format is a plain JSON file (github.com/pallaschain/pallas has no JSON
// dependency in the retrieval pack worth reaching for here; this is the
// one piece of node bootstrap that is read once, by a human-edited file,
// rather than gossiped or persisted on the hot path, so stdlib
// encoding/json carries it) listing each validator's compressed
// secp256k1 public key.
package genesis

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"lukechampine.com/blake3"

	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/types"
)

// genesisDomainTag distinguishes a genesis hash from every other blake3
// digest this module computes, the same domain-separation discipline
// internal/canon applies to message hashes.
const genesisDomainTag = "pallas-genesis-v1"

// Validator is one bootstrap validator entry in a genesis document.
type Validator struct {
	PublicKey string `json:"public_key"` // hex-encoded compressed secp256k1 key
}

// Document is the on-disk genesis file format: a chain identifier and the
// ordered validator set effective from height 1.
type Document struct {
	ChainID    string      `json:"chain_id"`
	Validators []Validator `json:"validators"`
}

// Load reads and parses a genesis document from path.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %q: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("genesis: parse %q: %w", path, err)
	}
	if len(doc.Validators) == 0 {
		return nil, fmt.Errorf("genesis: %q declares no validators", path)
	}
	return &doc, nil
}

// Save writes doc to path as indented JSON.
func Save(doc *Document, path string) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("genesis: marshal: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// ValidatorSet decodes doc's validator public keys into the height-1
// ValidatorSet the consensus core starts from, deriving each validator's
// did:key identity for logging.
func (doc *Document) ValidatorSet() (*types.ValidatorSet, error) {
	pubKeys := make([][]byte, len(doc.Validators))
	dids := make([]string, len(doc.Validators))
	for i, v := range doc.Validators {
		pk, err := hex.DecodeString(v.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("genesis: validator %d: decode public key: %w", i, err)
		}
		if len(pk) != crypto.PublicKeyLen {
			return nil, fmt.Errorf("genesis: validator %d: public key must be %d bytes, got %d", i, crypto.PublicKeyLen, len(pk))
		}
		pubKeys[i] = pk
		did, err := crypto.DIDKey(pk)
		if err != nil {
			return nil, fmt.Errorf("genesis: validator %d: %w", i, err)
		}
		dids[i] = did
	}
	return types.NewValidatorSet(1, pubKeys, dids), nil
}

// Hash computes the content hash honest nodes use as prev_block_hash for
// the height-1 block: a domain-tagged blake3 digest over the chain ID and
// every validator's public key in document order.
func (doc *Document) Hash() types.Hash {
	h := blake3.New(32, nil)
	h.Write([]byte(genesisDomainTag))
	h.Write([]byte(doc.ChainID))
	for _, v := range doc.Validators {
		pk, _ := hex.DecodeString(v.PublicKey)
		h.Write(pk)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}
