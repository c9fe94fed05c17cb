// Package canon implements the deterministic byte encoding required by
// spec.md §9 "Determinism": fixed field order, fixed-width big-endian
// integers, no floating point, no map-iteration dependence, for every value
// that contributes to a message hash or the proposal/block content hash.
// This is hand-rolled rather than delegated to a third-party codec because
// none of the pack's serialization libraries (encoding/gob, protobuf) give
// the bit-for-bit stability across versions that a consensus hash requires;
// see DESIGN.md for the justification.
//
// It is deliberately separate from the wire envelope framing in package
// p2p: canon encodes only the fields that must hash identically on every
// honest node, while p2p.Envelope may evolve its framing independently.
package canon

import (
	"encoding/binary"

	"lukechampine.com/blake3"

	"github.com/pallaschain/pallas/internal/types"
)

// encoder accumulates a canonical byte stream. All multi-byte integers are
// written big-endian; all variable-length fields are length-prefixed with a
// fixed-width uint32 so that decoding (where needed, e.g. tests) is
// unambiguous and so that no two distinct field sequences can collide onto
// the same byte stream.
type encoder struct {
	buf []byte
}

func newEncoder() *encoder { return &encoder{buf: make([]byte, 0, 256)} }

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) hash(h types.Hash) { e.buf = append(e.buf, h[:]...) }

func (e *encoder) hashes(hs []types.Hash) {
	e.u32(uint32(len(hs)))
	for _, h := range hs {
		e.hash(h)
	}
}

func (e *encoder) bool(b bool) {
	if b {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

// sum computes the blake3-256 digest of the accumulated bytes, matching the
// teacher's dependency on lukechampine.com/blake3 for content hashing
// (originally unused retrieval noise in the teacher's state package, given
// a concrete home here).
func (e *encoder) sum() types.Hash {
	return types.Hash(blake3.Sum256(e.buf))
}

// domain tags prevent a Proposal, Prevote, Precommit, or Block from ever
// hashing to the same digest as another kind carrying coincidentally
// identical field bytes.
const (
	domainProposal  uint8 = 1
	domainPrevote   uint8 = 2
	domainPrecommit uint8 = 3
	domainBlock     uint8 = 4
)

// HashProposal computes a Proposal's content hash, excluding its signature
// (the signature is computed over this hash, not the other way around).
func HashProposal(p *types.Proposal) types.Hash {
	e := newEncoder()
	e.u8(domainProposal)
	e.u64(uint64(p.Height))
	e.u32(uint32(p.Round))
	e.u16(uint16(p.ProposerIndex))
	e.hash(p.PrevBlockHash)
	e.hashes(p.TxHashes)
	e.u32(uint32(p.ValidRound))
	return e.sum()
}

// HashPrevote computes a Prevote's content hash.
func HashPrevote(v *types.Prevote) types.Hash {
	e := newEncoder()
	e.u8(domainPrevote)
	e.u64(uint64(v.Height))
	e.u32(uint32(v.Round))
	e.u16(uint16(v.ValidatorIndex))
	e.hash(v.ProposalHash)
	e.bool(v.IsNil)
	e.u32(uint32(v.LockedRound))
	return e.sum()
}

// HashPrecommit computes a Precommit's content hash.
func HashPrecommit(v *types.Precommit) types.Hash {
	e := newEncoder()
	e.u8(domainPrecommit)
	e.u64(uint64(v.Height))
	e.u32(uint32(v.Round))
	e.u16(uint16(v.ValidatorIndex))
	e.hash(v.ProposalHash)
	e.bool(v.IsNil)
	return e.sum()
}

// HashBlock computes a committed Block's content hash, the value stored as
// the previous-block-hash of the next height.
func HashBlock(b *types.Block) types.Hash {
	e := newEncoder()
	e.u8(domainBlock)
	e.u64(uint64(b.Height))
	e.u32(uint32(b.Round))
	e.u16(uint16(b.ProposerIndex))
	e.hash(b.PrevBlockHash)
	e.hashes(b.TxHashes)
	e.hash(b.StateHash)
	e.hash(b.ErrorHash)
	return e.sum()
}

// SigningBytesProposal returns the bytes a proposer signs: the content hash
// alone, so that Sign/Verify never need to re-walk field order.
func SigningBytesProposal(p *types.Proposal) []byte {
	h := HashProposal(p)
	return h[:]
}

// SigningBytesPrevote returns the bytes a validator signs for a Prevote.
func SigningBytesPrevote(v *types.Prevote) []byte {
	h := HashPrevote(v)
	return h[:]
}

// SigningBytesPrecommit returns the bytes a validator signs for a Precommit.
func SigningBytesPrecommit(v *types.Precommit) []byte {
	h := HashPrecommit(v)
	return h[:]
}

// HashTransaction hashes a transaction's sender and payload, excluding its
// signature, matching the pattern used for votes and proposals.
func HashTransaction(from, payload []byte) types.Hash {
	e := newEncoder()
	e.bytes(from)
	e.bytes(payload)
	return e.sum()
}
