package executor

import (
	"path/filepath"
	"testing"

	"github.com/pallaschain/pallas/internal/storage"
	"github.com/pallaschain/pallas/internal/types"
)

func openTestEngine(t *testing.T) *storage.Engine {
	t.Helper()
	e, err := storage.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNoopExecutorDeterministic(t *testing.T) {
	e := openTestEngine(t)
	ex := NewNoopExecutor()

	txs := []*types.Transaction{
		{Hash: types.Hash{0x1}},
		{Hash: types.Hash{0x2}},
	}

	f1, err := e.Fork()
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	outcomes1, stateHash1, errorHash1, err := ex.ExecuteBlock(f1, txs)
	if err != nil {
		t.Fatalf("ExecuteBlock: %v", err)
	}
	e.Discard(f1)

	f2, err := e.Fork()
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	outcomes2, stateHash2, errorHash2, err := ex.ExecuteBlock(f2, txs)
	if err != nil {
		t.Fatalf("ExecuteBlock: %v", err)
	}
	e.Discard(f2)

	if stateHash1 != stateHash2 {
		t.Fatalf("expected identical state hash across runs over identical fork state")
	}
	if errorHash1 != errorHash2 {
		t.Fatalf("expected identical error hash across runs")
	}
	if len(outcomes1) != 2 || len(outcomes2) != 2 {
		t.Fatalf("expected one outcome per transaction")
	}
	for _, o := range outcomes1 {
		if !o.Success {
			t.Fatalf("expected noop executor to mark every tx successful")
		}
	}
}

func TestNoopExecutorEmptyBlock(t *testing.T) {
	e := openTestEngine(t)
	ex := NewNoopExecutor()
	f, err := e.Fork()
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	defer e.Discard(f)

	outcomes, _, _, err := ex.ExecuteBlock(f, nil)
	if err != nil {
		t.Fatalf("ExecuteBlock: %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("expected no outcomes for an empty block")
	}
}
