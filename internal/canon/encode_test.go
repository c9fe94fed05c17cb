package canon

import (
	"testing"

	"github.com/pallaschain/pallas/internal/types"
)

func TestHashProposalDeterministic(t *testing.T) {
	p := &types.Proposal{
		Height:        7,
		Round:         2,
		ProposerIndex: 1,
		PrevBlockHash: types.Hash{0xaa},
		TxHashes:      []types.Hash{{0x01}, {0x02}},
		ValidRound:    types.NoRound,
	}
	h1 := HashProposal(p)
	h2 := HashProposal(p)
	if h1 != h2 {
		t.Fatalf("HashProposal is not deterministic: %s != %s", h1, h2)
	}
}

func TestHashProposalSignatureExcluded(t *testing.T) {
	base := &types.Proposal{Height: 1, Round: 0, ProposerIndex: 0, ValidRound: types.NoRound}
	withSig := *base
	withSig.Signature = types.Signature("some-signature-bytes")

	if HashProposal(base) != HashProposal(&withSig) {
		t.Fatalf("HashProposal must not depend on Signature")
	}
}

func TestHashDistinguishesKinds(t *testing.T) {
	prop := &types.Proposal{Height: 1, Round: 0, ValidRound: types.NoRound}
	vote := &types.Prevote{Height: 1, Round: 0, LockedRound: types.NoRound}

	hp := HashProposal(prop)
	hv := HashPrevote(vote)
	if hp == hv {
		t.Fatalf("domain-tagged hashes collided across message kinds")
	}
}

func TestHashBlockFieldSensitivity(t *testing.T) {
	b1 := &types.Block{Height: 5, Round: 1, StateHash: types.Hash{0x1}}
	b2 := &types.Block{Height: 5, Round: 1, StateHash: types.Hash{0x2}}
	if HashBlock(b1) == HashBlock(b2) {
		t.Fatalf("HashBlock ignored a StateHash difference")
	}
}

func TestHashTransactionFieldBoundaries(t *testing.T) {
	h1 := HashTransaction([]byte("alice"), []byte("payload"))
	h2 := HashTransaction([]byte("alicepay"), []byte("load"))
	if h1 == h2 {
		t.Fatalf("length-prefix framing failed to prevent field concatenation collision")
	}
}
