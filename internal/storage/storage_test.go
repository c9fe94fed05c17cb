package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pallaschain/pallas/internal/types"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestForkWritesInvisibleUntilMerge(t *testing.T) {
	e := openTestEngine(t)

	f, err := e.Fork()
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	f.Put([]byte("k"), []byte("v"))

	if _, ok := f.Get([]byte("k")); !ok {
		t.Fatalf("expected fork to see its own write")
	}

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, ok := snap.Get([]byte("k")); ok {
		t.Fatalf("expected committed snapshot to not see unmerged fork write")
	}

	if err := e.Merge(f); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	snap2, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot after merge: %v", err)
	}
	if v, ok := snap2.Get([]byte("k")); !ok || string(v) != "v" {
		t.Fatalf("expected merged write visible, got %q ok=%v", v, ok)
	}
}

func TestDiscardDropsForkWrites(t *testing.T) {
	e := openTestEngine(t)

	f, err := e.Fork()
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	f.Put([]byte("k"), []byte("v"))
	e.Discard(f)

	// A new fork must be obtainable: the slot was released.
	f2, err := e.Fork()
	if err != nil {
		t.Fatalf("Fork after discard: %v", err)
	}
	if _, ok := f2.Get([]byte("k")); ok {
		t.Fatalf("expected discarded write to be absent")
	}
	e.Discard(f2)
}

func TestOnlyOneForkOutstanding(t *testing.T) {
	e := openTestEngine(t)
	f, err := e.Fork()
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if _, err := e.Fork(); err == nil {
		t.Fatalf("expected second concurrent Fork to fail")
	}
	e.Discard(f)
}

func TestSaveAndLoadBlock(t *testing.T) {
	e := openTestEngine(t)
	b := &types.Block{Height: 1, Round: 0, StateHash: types.Hash{0xab}}
	cert := &types.CommitCertificate{Height: 1, Round: 0}
	txs := []types.Transaction{{Hash: types.Hash{0x1}, Payload: []byte("p")}}
	outcomes := []types.TxOutcome{{TxHash: types.Hash{0x1}, Success: true}}

	if err := e.SaveBlock(b, cert, txs, outcomes); err != nil {
		t.Fatalf("SaveBlock: %v", err)
	}

	loaded, ok, err := e.Block(1)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if !ok {
		t.Fatalf("expected block to be found")
	}
	if loaded.StateHash != b.StateHash {
		t.Fatalf("state hash mismatch after round trip")
	}

	if !e.Committed(types.Hash{0x1}) {
		t.Fatalf("expected committed transaction hash to be found")
	}

	_, loadedCert, loadedTxs, ok, err := e.BlockWithCertificate(1)
	if err != nil {
		t.Fatalf("BlockWithCertificate: %v", err)
	}
	if !ok {
		t.Fatalf("expected block with certificate to be found")
	}
	if loadedCert.Height != cert.Height {
		t.Fatalf("certificate height mismatch after round trip")
	}
	if len(loadedTxs) != 1 || loadedTxs[0].Hash != txs[0].Hash {
		t.Fatalf("transaction bodies mismatch after round trip: %+v", loadedTxs)
	}
}

func TestEngineOpenCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	e, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected db file to exist: %v", err)
	}
}
