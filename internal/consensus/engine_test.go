package consensus

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pallaschain/pallas/internal/config"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/executor"
	"github.com/pallaschain/pallas/internal/mempool"
	"github.com/pallaschain/pallas/internal/p2p"
	"github.com/pallaschain/pallas/internal/storage"
	"github.com/pallaschain/pallas/internal/store"
	"github.com/pallaschain/pallas/internal/types"
)

// loopbackLink is a single-node PeerLink: everything broadcast or sent is
// delivered back to the same node's Receive() channel, letting a
// one-validator network exercise the full propose/prevote/precommit/commit
// path without real networking.
type loopbackLink struct {
	ch chan p2p.Inbound
}

func newLoopbackLink() *loopbackLink { return &loopbackLink{ch: make(chan p2p.Inbound, 256)} }

func (l *loopbackLink) Broadcast(e *p2p.Envelope) error {
	l.ch <- p2p.Inbound{PeerID: "self", Envelope: e}
	return nil
}
func (l *loopbackLink) Send(peerID string, e *p2p.Envelope) error { return l.Broadcast(e) }
func (l *loopbackLink) Receive() <-chan p2p.Inbound               { return l.ch }
func (l *loopbackLink) Close() error                              { close(l.ch); return nil }

func TestSingleValidatorCommitsHeightOne(t *testing.T) {
	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	pub := crypto.PublicKeyBytes(priv)
	vs := types.NewValidatorSet(1, [][]byte{pub}, []string{"validator-0"})
	registry := NewValidatorSetRegistry(vs)

	msgStore := store.New(registry)
	pool := mempool.New(1000, 4096, nil)
	link := newLoopbackLink()

	storeEngine, err := storage.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer storeEngine.Close()

	cfg := config.Default().Consensus
	cfg.FirstRoundTimeout = 200 * time.Millisecond
	cfg.MinProposeTimeout = 50 * time.Millisecond
	cfg.MaxProposeTimeout = 500 * time.Millisecond

	committed := make(chan struct{}, 1)
	eng := New(Config{
		PrivateKey:    priv,
		SelfIndex:     0,
		ValidatorSets: registry,
		MessageStore:  msgStore,
		Pool:          pool,
		Link:          link,
		Executor:      executor.NewNoopExecutor(),
		Storage:       storeEngine,
		Consensus:     cfg,
		MaxMessageLen: 4096,
		OnFatal: func(err error) {
			t.Errorf("unexpected fatal error: %v", err)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	defer eng.Stop()

	deadline := time.After(3 * time.Second)
	for {
		b, ok, err := storeEngine.Block(1)
		if err != nil {
			t.Fatalf("Block: %v", err)
		}
		if ok {
			if b.Height != 1 {
				t.Fatalf("expected committed block at height 1, got %d", b.Height)
			}
			close(committed)
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for height 1 to commit")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
