package consensus

import (
	"fmt"

	"github.com/pallaschain/pallas/internal/canon"
	"github.com/pallaschain/pallas/internal/types"
)

// commitRound executes the Commit step of spec.md §4.3.3 for a precommit
// quorum on proposalHash observed at round. It may run while the engine's
// own e.round is behind round, per the straggler-liveness rule of
// spec.md §4.3.5.
func (e *Engine) commitRound(round types.Round, proposalHash types.Hash, precommits []*types.Precommit) {
	e.committedAnyThisRnd = true

	proposerSet, ok := e.currentValidatorSet()
	if !ok {
		e.fatal(fmt.Errorf("%w: no validator set for height %d", ErrGenesisUnverifiable, e.height))
		return
	}
	var proposal *types.Proposal
	for idx := range proposerSet.Validators {
		if p, found := e.msgStore.ProposalFor(e.height, round, types.ValidatorIndex(idx)); found {
			if canon.HashProposal(p) == proposalHash {
				proposal = p
				break
			}
		}
	}
	if proposal == nil {
		// We have a precommit quorum but lack the proposal body itself —
		// spec.md §4.4 hands this to the requester; the round simply
		// cannot commit locally until the proposal arrives. The commit is
		// re-attempted only when a new precommit for this round is
		// processed; the proposal's arrival alone does not trigger it.
		e.committedAnyThisRnd = false
		if e.requester != nil {
			e.requester.RequestMessage(types.KindProposalRequest, proposalHash, e.height)
		}
		return
	}

	cert := &types.CommitCertificate{Height: e.height, Round: round, ProposalHash: proposalHash, Precommits: dedupPrecommits(precommits)}
	if !cert.Valid(proposerSet.QuorumThreshold()) {
		e.committedAnyThisRnd = false
		return
	}

	txs := make([]*types.Transaction, 0, len(proposal.TxHashes))
	for _, h := range proposal.TxHashes {
		tx, ok := e.lookupTransaction(h)
		if !ok {
			if e.requester != nil {
				e.requester.RequestMessage(types.KindTransactionsRequest, h, e.height)
			}
			e.committedAnyThisRnd = false
			return
		}
		txs = append(txs, tx)
	}

	fork, err := e.storageEngine.Fork()
	if err != nil {
		e.fatal(fmt.Errorf("%w: acquire fork: %v", ErrStorageFailure, err))
		return
	}

	outcomes, stateHash, errorHash, err := e.exec.ExecuteBlock(fork, txs)
	if err != nil {
		e.storageEngine.Discard(fork)
		e.fatal(fmt.Errorf("%w: %v", ErrExecutorFailure, err))
		return
	}

	block := &types.Block{
		Height:        e.height,
		Round:         round,
		ProposerIndex: proposal.ProposerIndex,
		PrevBlockHash: proposal.PrevBlockHash,
		TxHashes:      proposal.TxHashes,
		ValidRound:    proposal.ValidRound,
		StateHash:     stateHash,
		ErrorHash:     errorHash,
	}

	if err := e.storageEngine.Merge(fork); err != nil {
		e.fatal(fmt.Errorf("%w: merge fork: %v", ErrStorageFailure, err))
		return
	}
	txBodies := make([]types.Transaction, len(txs))
	for i, tx := range txs {
		txBodies[i] = *tx
	}
	if err := e.storageEngine.SaveBlock(block, cert, txBodies, outcomes); err != nil {
		e.fatal(fmt.Errorf("%w: save block: %v", ErrStorageFailure, err))
		return
	}

	e.pool.Commit(proposal.TxHashes)
	e.msgStore.Prune(e.height)
	if e.requester != nil {
		e.requester.CancelPullsBelow(e.height)
	}
	if e.metrics != nil {
		e.metrics.HeightsCommitted.Inc()
		e.metrics.RoundsPerHeight.Observe(float64(round) + 1)
	}

	e.prevBlockHash = canon.HashBlock(block)
	e.height++
	e.heightGauge.Store(uint64(e.height))
	e.enterNewHeight()
}

// lookupTransaction resolves a transaction hash referenced by a proposal
// against the local pool. A miss here means the proposal referenced a
// transaction this node never received; commitRound asks e.requester to
// backfill it via a TransactionsRequest pull. The transaction's arrival in
// the pool does not itself re-run the commit; it is re-attempted only when
// a new precommit for the round is processed.
func (e *Engine) lookupTransaction(hash types.Hash) (*types.Transaction, bool) {
	return e.pool.Get(hash)
}

// dedupPrecommits keeps at most one precommit per validator, the shape
// CommitCertificate.Valid expects.
func dedupPrecommits(in []*types.Precommit) []types.Precommit {
	seen := make(map[types.ValidatorIndex]bool, len(in))
	out := make([]types.Precommit, 0, len(in))
	for _, v := range in {
		if seen[v.ValidatorIndex] {
			continue
		}
		seen[v.ValidatorIndex] = true
		out = append(out, *v)
	}
	return out
}
