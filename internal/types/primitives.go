// Package types holds the data model shared by every consensus package:
// heights, rounds, validators, hashes, and the signed message kinds that
// travel between validators.
package types

import (
	"encoding/hex"
	"fmt"
)

// Height is a block index. Genesis is height 0; consensus runs for height 1
// onward.
type Height uint64

// Round is a non-negative ordinal within a height. Round 0 is always tried
// first; later rounds retry consensus with a different proposer.
type Round uint32

// ValidatorIndex is a small integer index into a height's ordered
// ValidatorSet.
type ValidatorIndex uint16

// NoRound marks the absence of a round value (locked_round, valid_round).
const NoRound Round = ^Round(0)

// HashSize is the width of a content digest in bytes.
const HashSize = 32

// Hash is a fixed-width content digest.
type Hash [HashSize]byte

// ZeroHash is the canonical genesis predecessor hash.
var ZeroHash = Hash{}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == ZeroHash }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// BytesToHash copies b into a Hash, returning an error unless b is exactly
// HashSize bytes long; it does not hash b. This helper exists for
// round-tripping stored/wire bytes of exactly HashSize length.
func BytesToHash(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("types: expected %d hash bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Signature is a cryptographic signature over a canonical byte encoding.
type Signature []byte
