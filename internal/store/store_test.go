package store

import (
	"testing"

	"github.com/pallaschain/pallas/internal/canon"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/types"
)

type fixedValidatorSets struct {
	vs *types.ValidatorSet
}

func (f fixedValidatorSets) ValidatorSet(height types.Height) (*types.ValidatorSet, bool) {
	return f.vs, true
}

func newTestStore(t *testing.T) (*Store, []byte, func(*types.Prevote)) {
	t.Helper()
	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	pub := crypto.PublicKeyBytes(priv)
	vs := types.NewValidatorSet(1, [][]byte{pub}, []string{"validator-0"})
	s := New(fixedValidatorSets{vs: vs})
	sign := func(v *types.Prevote) {
		v.Signature = crypto.Sign(priv, canon.SigningBytesPrevote(v))
	}
	return s, pub, sign
}

func TestInsertPrevoteNewThenDuplicate(t *testing.T) {
	s, pub, sign := newTestStore(t)
	v := &types.Prevote{Height: 1, Round: 0, ValidatorIndex: 0, LockedRound: types.NoRound}
	sign(v)

	res, err := s.InsertPrevote(v, pub)
	if err != nil {
		t.Fatalf("InsertPrevote: %v", err)
	}
	if res != ResultNew {
		t.Fatalf("expected ResultNew, got %s", res)
	}

	res, err = s.InsertPrevote(v, pub)
	if err != nil {
		t.Fatalf("InsertPrevote (dup): %v", err)
	}
	if res != ResultDuplicate {
		t.Fatalf("expected ResultDuplicate, got %s", res)
	}
}

func TestInsertPrevoteConflictOnEquivocation(t *testing.T) {
	s, pub, sign := newTestStore(t)
	v1 := &types.Prevote{Height: 1, Round: 0, ValidatorIndex: 0, ProposalHash: types.Hash{0x1}, LockedRound: types.NoRound}
	sign(v1)
	if _, err := s.InsertPrevote(v1, pub); err != nil {
		t.Fatalf("InsertPrevote v1: %v", err)
	}

	v2 := &types.Prevote{Height: 1, Round: 0, ValidatorIndex: 0, ProposalHash: types.Hash{0x2}, LockedRound: types.NoRound}
	sign(v2)
	res, err := s.InsertPrevote(v2, pub)
	if err != nil {
		t.Fatalf("InsertPrevote v2: %v", err)
	}
	if res != ResultConflict {
		t.Fatalf("expected ResultConflict for equivocating vote, got %s", res)
	}

	// Both must remain queryable.
	votes := s.EnumeratePrevotes(1, 0)
	if len(votes) != 2 {
		t.Fatalf("expected both equivocating votes stored, got %d", len(votes))
	}
}

func TestInsertPrevoteBadSignatureRejected(t *testing.T) {
	s, pub, _ := newTestStore(t)
	v := &types.Prevote{Height: 1, Round: 0, ValidatorIndex: 0, LockedRound: types.NoRound, Signature: types.Signature("garbage")}
	if _, err := s.InsertPrevote(v, pub); err == nil {
		t.Fatalf("expected signature verification failure")
	}
}

func TestPruneDropsOldHeightAndFutureInsertsConflict(t *testing.T) {
	s, pub, sign := newTestStore(t)
	v := &types.Prevote{Height: 1, Round: 0, ValidatorIndex: 0, LockedRound: types.NoRound}
	sign(v)
	if _, err := s.InsertPrevote(v, pub); err != nil {
		t.Fatalf("InsertPrevote: %v", err)
	}

	s.Prune(2)
	if _, ok := s.Lookup(canon.HashPrevote(v)); ok {
		t.Fatalf("expected pruned message to be gone")
	}

	res, err := s.InsertPrevote(v, pub)
	if err != nil {
		t.Fatalf("InsertPrevote after prune: %v", err)
	}
	if res != ResultConflict {
		t.Fatalf("expected ResultConflict for height below floor, got %s", res)
	}
}
