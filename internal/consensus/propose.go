package consensus

import (
	"go.uber.org/zap"

	"github.com/pallaschain/pallas/internal/canon"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/p2p"
	"github.com/pallaschain/pallas/internal/types"
)

// enterNewHeight resets all per-height round state and enters (R=0,
// Propose) for the current e.height, per spec.md §4.3.1's "Initial state
// at each height."
func (e *Engine) enterNewHeight() {
	e.round = 0
	e.lockedSet = false
	e.lockedRound = types.NoRound
	e.validSet = false
	e.validRound = types.NoRound
	e.replayQueuedMessages()
	e.enterNewRound(0)
}

// enterNewRound transitions to (R, Propose), bumping the timer generation
// so any timer still in flight for the previous round is recognized as
// stale on arrival.
func (e *Engine) enterNewRound(round types.Round) {
	e.round = round
	e.step = StepPropose
	e.generation++
	e.prevoteTimerArmed = false
	e.precommitTimerArmed = false
	e.committedAnyThisRnd = false

	vs, ok := e.currentValidatorSet()
	if !ok {
		e.logger.Error("no validator set known for height, cannot propose", zap.Uint64("height", uint64(e.height)))
		return
	}
	proposer := vs.Proposer(round)

	if proposer.Index == e.self {
		e.propose(vs)
	} else {
		e.armTimer(timerPropose, e.proposeTimeout(round))
		// The proposal may already be stored (e.g. arrived before we
		// reached this round via the round-skip rule); check immediately
		// rather than waiting for a new inbound event.
		if p, ok := e.msgStore.ProposalFor(e.height, e.round, proposer.Index); ok {
			e.onProposalAvailable(p)
		}
	}
}

// propose builds and broadcasts a proposal for (e.height, e.round), per
// spec.md §4.3.3's Propose step: "pick valid_value if set, else assemble a
// new block from pool."
func (e *Engine) propose(vs *types.ValidatorSet) {
	var txHashes []types.Hash
	validRound := types.NoRound

	if e.validSet {
		// Re-propose the locked-in valid value; its transaction list was
		// already fixed when it first reached a prevote quorum, so we look
		// it up from the stored proposal that carried it rather than
		// re-reading the pool.
		if prev, ok := e.msgStore.Lookup(e.validValue); ok && prev.Proposal != nil {
			txHashes = prev.Proposal.TxHashes
		}
		validRound = e.validRound
	} else {
		txs := e.pool.IterateForProposal(e.cfg.TxsBlockLimit, e.maxMessageLen)
		txHashes = make([]types.Hash, len(txs))
		for i, tx := range txs {
			txHashes[i] = tx.Hash
		}
	}

	p := &types.Proposal{
		Height:        e.height,
		Round:         e.round,
		ProposerIndex: e.self,
		PrevBlockHash: e.prevBlockHash,
		TxHashes:      txHashes,
		ValidRound:    validRound,
	}
	p.Signature = crypto.Sign(e.privKey, canon.SigningBytesProposal(p))

	if _, err := e.msgStore.InsertProposal(p, e.pubKey); err != nil {
		e.logger.Error("failed to insert own proposal", zap.Error(err))
		return
	}
	e.broadcastProposal(p)
	e.onProposalAvailable(p)
}

func (e *Engine) broadcastProposal(p *types.Proposal) {
	payload, err := p2p.EncodePayload(p)
	if err != nil {
		e.logger.Error("failed to encode proposal", zap.Error(err))
		return
	}
	env := &p2p.Envelope{Kind: types.KindProposal, Height: p.Height, Round: p.Round, ValidatorIndex: p.ProposerIndex, Payload: payload, Signature: p.Signature}
	if err := e.link.Broadcast(env); err != nil {
		e.logger.Warn("proposal broadcast failed", zap.Error(err))
	}
}

// onProposalAvailable runs the Prevote-step entry conditions of spec.md
// §4.3.3 against a just-available proposal for the current round, whether
// it arrived from the network or was just built locally.
func (e *Engine) onProposalAvailable(p *types.Proposal) {
	if e.step != StepPropose {
		return
	}
	if p.Height != e.height || p.Round != e.round {
		return
	}
	e.enterPrevote(p)
}

func (e *Engine) onProposeTimeout() {
	e.enterPrevote(nil)
}

// enterPrevote evaluates the Prevote-step condition of spec.md §4.3.3 and
// broadcasts the resulting vote. p is nil when the propose timeout fired
// without a known proposal.
func (e *Engine) enterPrevote(p *types.Proposal) {
	e.step = StepPrevote

	vote := &types.Prevote{Height: e.height, Round: e.round, ValidatorIndex: e.self, IsNil: true, LockedRound: e.lockedRound}

	if p != nil {
		ph := canon.HashProposal(p)
		canVote := !e.lockedSet ||
			e.lockedValue == ph ||
			(p.ValidRound != types.NoRound && p.ValidRound >= e.lockedRound && e.hasPrevoteQuorumAt(e.height, p.ValidRound, ph))
		if canVote {
			vote.ProposalHash = ph
			vote.IsNil = false
		}
	}

	vote.Signature = crypto.Sign(e.privKey, canon.SigningBytesPrevote(vote))
	if _, err := e.msgStore.InsertPrevote(vote, e.pubKey); err != nil {
		e.logger.Error("failed to insert own prevote", zap.Error(err))
	}
	e.broadcastPrevote(vote)

	// Our own vote may itself complete the quorum in a small validator set.
	e.tryPrevoteQuorum(e.round)
}

func (e *Engine) broadcastPrevote(v *types.Prevote) {
	payload, err := p2p.EncodePayload(v)
	if err != nil {
		e.logger.Error("failed to encode prevote", zap.Error(err))
		return
	}
	env := &p2p.Envelope{Kind: types.KindPrevote, Height: v.Height, Round: v.Round, ValidatorIndex: v.ValidatorIndex, Payload: payload, Signature: v.Signature}
	if err := e.link.Broadcast(env); err != nil {
		e.logger.Warn("prevote broadcast failed", zap.Error(err))
	}
}
