// Package store implements the message store of spec.md §4.1: deduplicated,
// signature-validated storage of consensus messages for the current and
// tail heights, indexed by content hash and by (height, round, kind).
//
// Like the teacher's internal/consensus package, the store is driven
// exclusively from the single-threaded consensus event loop; its exported
// methods assume single-goroutine access and take no internal lock, mirroring
// spec.md §5's "Message store ... protected by being accessed only from the
// main loop" policy.
package store

import (
	"fmt"

	"github.com/pallaschain/pallas/internal/canon"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/types"
)

// InsertResult is the outcome of Insert, per spec.md §4.1.
type InsertResult uint8

const (
	ResultNew InsertResult = iota
	ResultDuplicate
	ResultConflict
)

func (r InsertResult) String() string {
	switch r {
	case ResultNew:
		return "new"
	case ResultDuplicate:
		return "duplicate"
	case ResultConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// slotKey identifies a (validator, height, round, kind) election slot: at
// most one message per slot counts toward quorum, per spec.md §8's
// equivocation invariant.
type slotKey struct {
	validator types.ValidatorIndex
	height    types.Height
	round     types.Round
	kind      types.VoteKind
}

// Entry is a stored message together with its derived content hash.
type Entry struct {
	Hash      types.Hash
	Kind      types.MessageKind
	Height    types.Height
	Round     types.Round
	Validator types.ValidatorIndex
	Prevote   *types.Prevote
	Precommit *types.Precommit
	Proposal  *types.Proposal
}

// ValidatorSetSource resolves the ValidatorSet effective at a height. New
// takes one, but the Insert* methods do not consult it: they verify each
// signature against the public key their caller passes, which callers
// resolve from the validator set effective at the message's height.
type ValidatorSetSource interface {
	ValidatorSet(height types.Height) (*types.ValidatorSet, bool)
}

// Store holds signed consensus messages for the active height window.
type Store struct {
	validatorSets ValidatorSetSource

	byHash map[types.Hash]*Entry
	bySlot map[slotKey][]*Entry // all entries ever seen in a slot, including equivocations

	minHeight types.Height
}

// New constructs an empty Store.
func New(validatorSets ValidatorSetSource) *Store {
	return &Store{
		validatorSets: validatorSets,
		byHash:        make(map[types.Hash]*Entry),
		bySlot:        make(map[slotKey][]*Entry),
	}
}

// Insert verifies and records a prevote. See InsertProposal/InsertPrecommit
// for the other two signed kinds.
func (s *Store) InsertPrevote(v *types.Prevote, pubKey []byte) (InsertResult, error) {
	if v.Height < s.minHeight {
		return ResultConflict, nil
	}
	h := canon.HashPrevote(v)
	if _, ok := s.byHash[h]; ok {
		return ResultDuplicate, nil
	}
	if err := crypto.Verify(pubKey, canon.SigningBytesPrevote(v), v.Signature); err != nil {
		return 0, fmt.Errorf("store: prevote signature: %w", err)
	}
	key := slotKey{validator: v.ValidatorIndex, height: v.Height, round: v.Round, kind: types.VoteKindPrevote}
	entry := &Entry{Hash: h, Kind: types.KindPrevote, Height: v.Height, Round: v.Round, Validator: v.ValidatorIndex, Prevote: v}
	result := s.recordSlot(key, h, entry)
	return result, nil
}

// InsertPrecommit verifies and records a precommit.
func (s *Store) InsertPrecommit(v *types.Precommit, pubKey []byte) (InsertResult, error) {
	if v.Height < s.minHeight {
		return ResultConflict, nil
	}
	h := canon.HashPrecommit(v)
	if _, ok := s.byHash[h]; ok {
		return ResultDuplicate, nil
	}
	if err := crypto.Verify(pubKey, canon.SigningBytesPrecommit(v), v.Signature); err != nil {
		return 0, fmt.Errorf("store: precommit signature: %w", err)
	}
	key := slotKey{validator: v.ValidatorIndex, height: v.Height, round: v.Round, kind: types.VoteKindPrecommit}
	entry := &Entry{Hash: h, Kind: types.KindPrecommit, Height: v.Height, Round: v.Round, Validator: v.ValidatorIndex, Precommit: v}
	result := s.recordSlot(key, h, entry)
	return result, nil
}

// InsertProposal verifies and records a proposal. Proposals have no
// (round, kind) conflict slot beyond "one proposer per round" — a second
// distinct proposal from the same proposer in the same round is itself
// equivocation evidence, recorded the same way as a doubled vote.
func (s *Store) InsertProposal(p *types.Proposal, pubKey []byte) (InsertResult, error) {
	if p.Height < s.minHeight {
		return ResultConflict, nil
	}
	h := canon.HashProposal(p)
	if _, ok := s.byHash[h]; ok {
		return ResultDuplicate, nil
	}
	if err := crypto.Verify(pubKey, canon.SigningBytesProposal(p), p.Signature); err != nil {
		return 0, fmt.Errorf("store: proposal signature: %w", err)
	}
	// Proposals get their own slot kind, proposalSlotKind, as a "one
	// proposal per (proposer, height, round)" bucket, so they never mix
	// with the prevote or precommit slots that vote tallies enumerate.
	key := slotKey{validator: p.ProposerIndex, height: p.Height, round: p.Round, kind: proposalSlotKind}
	entry := &Entry{Hash: h, Kind: types.KindProposal, Height: p.Height, Round: p.Round, Validator: p.ProposerIndex, Proposal: p}
	result := s.recordSlot(key, h, entry)
	return result, nil
}

// proposalSlotKind is a private extension of types.VoteKind's value space,
// safe because VoteKind is only ever compared for equality within this
// package's slotKey map, never round-tripped through canon or the wire.
const proposalSlotKind types.VoteKind = 255

func (s *Store) recordSlot(key slotKey, hash types.Hash, entry *Entry) InsertResult {
	s.byHash[hash] = entry
	existing := s.bySlot[key]
	s.bySlot[key] = append(existing, entry)
	if len(existing) > 0 {
		return ResultConflict
	}
	return ResultNew
}

// Lookup returns the entry for a content hash, if present.
func (s *Store) Lookup(hash types.Hash) (*Entry, bool) {
	e, ok := s.byHash[hash]
	return e, ok
}

// EnumeratePrevotes returns every prevote stored for (height, round),
// including equivocating duplicates — callers doing quorum counting must
// dedup by ValidatorIndex themselves, per spec.md §4.3.5.
func (s *Store) EnumeratePrevotes(height types.Height, round types.Round) []*types.Prevote {
	var out []*types.Prevote
	for key, entries := range s.bySlot {
		if key.height != height || key.round != round || key.kind != types.VoteKindPrevote {
			continue
		}
		for _, e := range entries {
			out = append(out, e.Prevote)
		}
	}
	return out
}

// EnumeratePrecommits returns every precommit stored for (height, round).
func (s *Store) EnumeratePrecommits(height types.Height, round types.Round) []*types.Precommit {
	var out []*types.Precommit
	for key, entries := range s.bySlot {
		if key.height != height || key.round != round || key.kind != types.VoteKindPrecommit {
			continue
		}
		for _, e := range entries {
			out = append(out, e.Precommit)
		}
	}
	return out
}

// ProposalFor returns the stored proposal from a given proposer for
// (height, round), if any.
func (s *Store) ProposalFor(height types.Height, round types.Round, proposer types.ValidatorIndex) (*types.Proposal, bool) {
	key := slotKey{validator: proposer, height: height, round: round, kind: proposalSlotKind}
	entries := s.bySlot[key]
	if len(entries) == 0 {
		return nil, false
	}
	return entries[0].Proposal, true
}

// Prune discards all messages for heights strictly below minHeight. The
// store retains the new floor so a later Insert for a pruned height is
// rejected as Conflict rather than silently re-admitted.
func (s *Store) Prune(belowHeight types.Height) {
	s.minHeight = belowHeight
	for hash, e := range s.byHash {
		if e.Height < belowHeight {
			delete(s.byHash, hash)
		}
	}
	for key := range s.bySlot {
		if key.height < belowHeight {
			delete(s.bySlot, key)
		}
	}
}

// Floor reports the lowest height the store still retains.
func (s *Store) Floor() types.Height { return s.minHeight }
