package mempool

import (
	"testing"

	"github.com/pallaschain/pallas/internal/canon"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/types"
)

type noLedger struct{}

func (noLedger) Committed(types.Hash) bool { return false }

func makeTx(t *testing.T, payload []byte) (*types.Transaction, []byte) {
	t.Helper()
	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	pub := crypto.PublicKeyBytes(priv)
	hash := canon.HashTransaction(pub, payload)
	tx := &types.Transaction{Hash: hash, From: pub, Payload: payload}
	tx.Signature = crypto.Sign(priv, hash[:])
	return tx, pub
}

func TestSubmitAcceptsValidTransaction(t *testing.T) {
	p := New(10, 1024, noLedger{})
	tx, pub := makeTx(t, []byte("payload-a"))

	if kind := p.Submit(tx, pub); kind != RejectNone {
		t.Fatalf("expected admission, got reject kind %s", kind)
	}
	if !p.Contains(tx.Hash) {
		t.Fatalf("expected pool to contain submitted tx")
	}
}

func TestSubmitRejectsDuplicate(t *testing.T) {
	p := New(10, 1024, noLedger{})
	tx, pub := makeTx(t, []byte("payload-b"))
	p.Submit(tx, pub)

	if kind := p.Submit(tx, pub); kind != RejectDuplicate {
		t.Fatalf("expected RejectDuplicate, got %s", kind)
	}
}

func TestSubmitRejectsWhenPoolFull(t *testing.T) {
	p := New(1, 1024, noLedger{})
	tx1, pub1 := makeTx(t, []byte("a"))
	tx2, pub2 := makeTx(t, []byte("b"))

	if kind := p.Submit(tx1, pub1); kind != RejectNone {
		t.Fatalf("expected first tx admitted, got %s", kind)
	}
	if kind := p.Submit(tx2, pub2); kind != RejectPoolFull {
		t.Fatalf("expected RejectPoolFull, got %s", kind)
	}
}

func TestIterateForProposalOrdersByArrivalThenHash(t *testing.T) {
	p := New(10, 1024, noLedger{})
	tx1, pub1 := makeTx(t, []byte("first"))
	tx2, pub2 := makeTx(t, []byte("second"))
	p.Submit(tx1, pub1)
	p.Submit(tx2, pub2)

	out := p.IterateForProposal(10, 1<<20)
	if len(out) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(out))
	}
	if out[0].Hash != tx1.Hash || out[1].Hash != tx2.Hash {
		t.Fatalf("expected arrival order tx1,tx2; got %s,%s", out[0].Hash, out[1].Hash)
	}
}

func TestCommitEvictsTransactions(t *testing.T) {
	p := New(10, 1024, noLedger{})
	tx, pub := makeTx(t, []byte("payload-c"))
	p.Submit(tx, pub)

	p.Commit([]types.Hash{tx.Hash})
	if p.Contains(tx.Hash) {
		t.Fatalf("expected committed tx to be evicted")
	}
}

func TestIterateForProposalRespectsMaxBytes(t *testing.T) {
	p := New(10, 1024, noLedger{})
	tx1, pub1 := makeTx(t, make([]byte, 100))
	tx2, pub2 := makeTx(t, make([]byte, 100))
	p.Submit(tx1, pub1)
	p.Submit(tx2, pub2)

	out := p.IterateForProposal(10, 150)
	if len(out) != 1 {
		t.Fatalf("expected byte budget to admit only 1 tx, got %d", len(out))
	}
}
