package consensus

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/pallaschain/pallas/internal/config"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/executor"
	"github.com/pallaschain/pallas/internal/mempool"
	"github.com/pallaschain/pallas/internal/p2p"
	"github.com/pallaschain/pallas/internal/storage"
	"github.com/pallaschain/pallas/internal/store"
	"github.com/pallaschain/pallas/internal/types"
)

// mesh wires a set of in-process PeerLinks together so multiple Engines
// can run a real round protocol against each other without real
// networking. Broadcast from one peer is delivered to every other peer,
// mirroring a libp2p Host only ever sending to its connected peers (not
// back to itself).
type mesh struct {
	links map[int]*meshLink
}

func newMesh(n int) *mesh {
	m := &mesh{links: make(map[int]*meshLink, n)}
	for i := 0; i < n; i++ {
		m.links[i] = &meshLink{id: i, mesh: m, ch: make(chan p2p.Inbound, 256)}
	}
	return m
}

type meshLink struct {
	id   int
	mesh *mesh
	ch   chan p2p.Inbound
}

func (l *meshLink) Broadcast(e *p2p.Envelope) error {
	for id, peer := range l.mesh.links {
		if id == l.id {
			continue
		}
		peer.ch <- p2p.Inbound{PeerID: "self", Envelope: e}
	}
	return nil
}
func (l *meshLink) Send(peerID string, e *p2p.Envelope) error { return l.Broadcast(e) }
func (l *meshLink) Receive() <-chan p2p.Inbound               { return l.ch }
func (l *meshLink) Close() error                              { return nil }

// TestThreeOfFourValidatorsCommitDespiteOneOffline exercises the liveness
// guarantee an N=3f+1 validator set provides: with f=1, a quorum of 3 out
// of 4 validators must still be able to commit a height even though the
// fourth never participates.
func TestThreeOfFourValidatorsCommitDespiteOneOffline(t *testing.T) {
	const n = 4
	const active = 3 // only 3 of the 4 validators are started

	privKeys := make([]*secp256k1.PrivateKey, n)
	pubKeys := make([][]byte, n)
	dids := make([]string, n)
	for i := 0; i < n; i++ {
		priv, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		privKeys[i] = priv
		pubKeys[i] = crypto.PublicKeyBytes(priv)
	}

	vs := types.NewValidatorSet(1, pubKeys, dids)
	registry := NewValidatorSetRegistry(vs)

	m := newMesh(n)
	cfg := config.Default().Consensus
	cfg.FirstRoundTimeout = 300 * time.Millisecond
	cfg.MinProposeTimeout = 50 * time.Millisecond
	cfg.MaxProposeTimeout = 500 * time.Millisecond

	var engines []*Engine
	var storeEngines []*storage.Engine
	for i := 0; i < active; i++ {
		storeEngine, err := storage.Open(filepath.Join(t.TempDir(), "state.db"))
		if err != nil {
			t.Fatalf("storage.Open: %v", err)
		}
		storeEngines = append(storeEngines, storeEngine)

		msgStore := store.New(registry)
		pool := mempool.New(1000, 4096, nil)

		eng := New(Config{
			PrivateKey:    privKeys[i],
			SelfIndex:     types.ValidatorIndex(i),
			ValidatorSets: registry,
			MessageStore:  msgStore,
			Pool:          pool,
			Link:          m.links[i],
			Executor:      executor.NewNoopExecutor(),
			Storage:       storeEngine,
			Consensus:     cfg,
			MaxMessageLen: 4096,
			OnFatal: func(err error) {
				t.Errorf("validator %d: unexpected fatal error: %v", i, err)
			},
		})
		engines = append(engines, eng)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, eng := range engines {
		eng.Start(ctx)
	}
	defer func() {
		for _, eng := range engines {
			eng.Stop()
		}
	}()
	for _, storeEngine := range storeEngines {
		defer storeEngine.Close()
	}

	deadline := time.After(5 * time.Second)
	for {
		allCommitted := true
		for _, storeEngine := range storeEngines {
			_, ok, err := storeEngine.Block(1)
			if err != nil {
				t.Fatalf("Block: %v", err)
			}
			if !ok {
				allCommitted = false
			}
		}
		if allCommitted {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for all %d online validators to commit height 1", active)
		case <-time.After(20 * time.Millisecond):
		}
	}
}
