// Package executor defines the external executor boundary of spec.md §6.1
// and ships a deterministic reference implementation so the consensus core
// can run end to end without a real application plugged in, the same way
// the teacher keeps consensus, storage, and application concerns in
// separate packages behind narrow interfaces.
package executor

import (
	"errors"

	"lukechampine.com/blake3"

	"github.com/pallaschain/pallas/internal/storage"
	"github.com/pallaschain/pallas/internal/types"
)

// ErrExecutorFailure signals a block-level executor failure, which spec.md
// §7 classifies as fatal: "indicates non-determinism or genesis
// misconfiguration."
var ErrExecutorFailure = errors.New("executor: block-level execution failure")

// Executor applies an ordered transaction list to a storage fork and
// reports a state hash and an aggregate error hash. Implementations MUST be
// deterministic: identical (fork contents, transactions) input must yield
// identical output on every honest node.
type Executor interface {
	ExecuteBlock(fork storage.Fork, txs []*types.Transaction) (outcomes []types.TxOutcome, stateHash types.Hash, errorHash types.Hash, err error)
}

// NoopExecutor marks every transaction successful and writes nothing to the
// fork. It exists to exercise the
// full propose/vote/commit path and the storage fork lifecycle without
// requiring a real application layer; production deployments supply their
// own Executor.
type NoopExecutor struct{}

// NewNoopExecutor constructs a NoopExecutor.
func NewNoopExecutor() *NoopExecutor { return &NoopExecutor{} }

// ExecuteBlock marks every transaction successful and folds the fork's
// current digest together with the ordered transaction hashes into the
// state hash. Since nothing is written to the fork, two blocks with the
// same transaction list over the same state (for example two empty blocks)
// get the same state hash.
func (e *NoopExecutor) ExecuteBlock(fork storage.Fork, txs []*types.Transaction) ([]types.TxOutcome, types.Hash, types.Hash, error) {
	outcomes := make([]types.TxOutcome, len(txs))
	hasher := blake3.New(32, nil)
	prior := fork.Digest()
	hasher.Write(prior[:])

	errHasher := blake3.New(32, nil)
	for i, tx := range txs {
		outcomes[i] = types.TxOutcome{TxHash: tx.Hash, Success: true}
		hasher.Write(tx.Hash[:])
		errHasher.Write(tx.Hash[:])
		errHasher.Write([]byte{1}) // success marker, part of the error_hash Merkle aggregator
	}

	var stateHash, errorHash types.Hash
	copy(stateHash[:], hasher.Sum(nil))
	copy(errorHash[:], errHasher.Sum(nil))
	return outcomes, stateHash, errorHash, nil
}
