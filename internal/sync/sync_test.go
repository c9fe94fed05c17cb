package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pallaschain/pallas/internal/canon"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/executor"
	"github.com/pallaschain/pallas/internal/p2p"
	"github.com/pallaschain/pallas/internal/storage"
	"github.com/pallaschain/pallas/internal/store"
	"github.com/pallaschain/pallas/internal/types"
)

// memLink is an in-process PeerLink pair used to exercise two Syncers
// talking to each other without real networking.
type memLink struct {
	id   string
	peer *memLink
	ch   chan p2p.Inbound
}

func newMemLinkPair() (*memLink, *memLink) {
	a := &memLink{id: "node-a", ch: make(chan p2p.Inbound, 256)}
	b := &memLink{id: "node-b", ch: make(chan p2p.Inbound, 256)}
	a.peer, b.peer = b, a
	return a, b
}

func (l *memLink) Broadcast(e *p2p.Envelope) error { return l.Send(l.peer.id, e) }
func (l *memLink) Send(peerID string, e *p2p.Envelope) error {
	l.peer.ch <- p2p.Inbound{PeerID: l.id, Envelope: e}
	return nil
}
func (l *memLink) Receive() <-chan p2p.Inbound { return l.ch }
func (l *memLink) Close() error                { close(l.ch); return nil }

type fixedHeight struct {
	h       types.Height
	genesis types.Hash
}

func (f *fixedHeight) Height() types.Height    { return f.h }
func (f *fixedHeight) GenesisHash() types.Hash { return f.genesis }

type fixedValidatorSets struct{ vs *types.ValidatorSet }

func (f *fixedValidatorSets) ValidatorSet(types.Height) (*types.ValidatorSet, bool) { return f.vs, true }

func openTestEngine(t *testing.T) *storage.Engine {
	t.Helper()
	e, err := storage.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestRunBlockSyncAppliesRemoteBlock(t *testing.T) {
	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	pub := crypto.PublicKeyBytes(priv)
	vs := types.NewValidatorSet(1, [][]byte{pub}, []string{"validator-0"})
	vsSource := &fixedValidatorSets{vs: vs}

	linkA, linkB := newMemLinkPair()

	engineA := openTestEngine(t)
	engineB := openTestEngine(t)

	// Seed node B with one committed, empty block (the noop executor's
	// state hash over zero transactions) so it can answer a block request
	// with a certificate node A can verify. genesisHash is the block's
	// declared PrevBlockHash, matching what node A's HeightProvider
	// reports, so the height-1 chain check passes.
	genesisHash := types.Hash{0x7}
	block := &types.Block{Height: 1, Round: 0, PrevBlockHash: genesisHash}
	seedFork, err := engineB.Fork()
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	_, stateHash, _, err := executor.NewNoopExecutor().ExecuteBlock(seedFork, nil)
	if err != nil {
		t.Fatalf("ExecuteBlock: %v", err)
	}
	engineB.Discard(seedFork)
	block.StateHash = stateHash

	proposalHash := canon.HashProposal(&types.Proposal{
		Height:        block.Height,
		Round:         block.Round,
		ProposerIndex: block.ProposerIndex,
		PrevBlockHash: block.PrevBlockHash,
		TxHashes:      block.TxHashes,
		ValidRound:    block.ValidRound,
	})
	precommit := types.Precommit{Height: 1, Round: 0, ValidatorIndex: 0, ProposalHash: proposalHash}
	precommit.Signature = crypto.Sign(priv, canon.SigningBytesPrecommit(&precommit))
	cert := &types.CommitCertificate{
		Height:       1,
		Round:        0,
		ProposalHash: proposalHash,
		Precommits:   []types.Precommit{precommit},
	}
	if err := engineB.SaveBlock(block, cert, nil, nil); err != nil {
		t.Fatalf("seed SaveBlock: %v", err)
	}

	storeA := store.New(vsSource)
	syncerA := New(linkA, storeA, engineA, executor.NewNoopExecutor(), nil, vsSource, &fixedHeight{h: 1, genesis: genesisHash}, nil, nil, time.Hour, time.Hour)
	syncerB := New(linkB, store.New(vsSource), engineB, executor.NewNoopExecutor(), nil, vsSource, &fixedHeight{h: 2, genesis: genesisHash}, nil, nil, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	syncerA.Start(ctx)
	syncerB.Start(ctx)
	defer syncerA.Stop()
	defer syncerB.Stop()

	go syncerA.runBlockSync(linkB.id, 2)

	deadline := time.After(2 * time.Second)
	for {
		if _, ok, _ := engineA.Block(1); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("node A never synced block 1 from node B")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRequestMessageDeliversStoredProposal(t *testing.T) {
	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	pub := crypto.PublicKeyBytes(priv)
	vs := types.NewValidatorSet(1, [][]byte{pub}, []string{"validator-0"})
	vsSource := &fixedValidatorSets{vs: vs}

	linkA, linkB := newMemLinkPair()
	engineA := openTestEngine(t)
	engineB := openTestEngine(t)

	storeA := store.New(vsSource)
	storeB := store.New(vsSource)

	p := &types.Proposal{Height: 1, Round: 0, ProposerIndex: 0}
	p.Signature = crypto.Sign(priv, canon.SigningBytesProposal(p))
	if _, err := storeB.InsertProposal(p, pub); err != nil {
		t.Fatalf("pre-seed InsertProposal: %v", err)
	}

	syncerA := New(linkA, storeA, engineA, executor.NewNoopExecutor(), nil, vsSource, &fixedHeight{h: 1}, nil, nil, time.Hour, time.Hour)
	syncerB := New(linkB, storeB, engineB, executor.NewNoopExecutor(), nil, vsSource, &fixedHeight{h: 1}, nil, nil, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	syncerA.Start(ctx)
	syncerB.Start(ctx)
	defer syncerA.Stop()
	defer syncerB.Stop()

	// RequestMessage only targets peers the Syncer already knows about;
	// a status exchange (normally driven by statusGossipLoop) is what
	// populates that peer list in production.
	status := &statusMessage{Height: 1}
	payload, err := p2p.EncodePayload(status)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	linkB.Send(linkA.id, &p2p.Envelope{Kind: types.KindStatus, Payload: payload})
	time.Sleep(50 * time.Millisecond)

	hash := canon.HashProposal(p)
	syncerA.RequestMessage(types.KindProposalRequest, hash, 1)

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := storeA.Lookup(hash); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("node A never received the requested proposal")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
