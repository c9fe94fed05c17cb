package consensus

import (
	"go.uber.org/zap"

	"github.com/pallaschain/pallas/internal/canon"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/p2p"
	"github.com/pallaschain/pallas/internal/types"
)

// hasPrevoteQuorumAt reports whether a prevote quorum for proposalHash
// already exists at (height, round), used by the valid_round re-proposal
// check in enterPrevote.
func (e *Engine) hasPrevoteQuorumAt(height types.Height, round types.Round, proposalHash types.Hash) bool {
	vs, ok := e.validatorSets.ValidatorSet(height)
	if !ok {
		return false
	}
	tally := tallyPrevotes(e.msgStore.EnumeratePrevotes(height, round), proposalHash)
	return tally >= vs.QuorumThreshold()
}

func tallyPrevotes(votes []*types.Prevote, hash types.Hash) int {
	seen := make(map[types.ValidatorIndex]bool, len(votes))
	count := 0
	for _, v := range votes {
		if v.IsNil || v.ProposalHash != hash {
			continue
		}
		if seen[v.ValidatorIndex] {
			continue
		}
		seen[v.ValidatorIndex] = true
		count++
	}
	return count
}

// tryPrevoteQuorum checks whether round has reached a 2f+1 prevote
// agreement — either for a single non-NIL value or for NIL — and applies
// the resulting state updates / broadcasts of spec.md §4.3.3. It is safe
// to call repeatedly; each call that finds a quorum re-applies the same
// round-variable updates.
func (e *Engine) tryPrevoteQuorum(round types.Round) {
	vs, ok := e.currentValidatorSet()
	if !ok {
		return
	}
	votes := e.msgStore.EnumeratePrevotes(e.height, round)
	threshold := vs.QuorumThreshold()

	byValue := make(map[types.Hash]int)
	seen := make(map[types.ValidatorIndex]bool)
	nilCount := 0
	var selfVotedHash types.Hash
	selfVoted := false
	for _, v := range votes {
		if seen[v.ValidatorIndex] {
			continue
		}
		seen[v.ValidatorIndex] = true
		if v.IsNil {
			nilCount++
			continue
		}
		byValue[v.ProposalHash]++
		if v.ValidatorIndex == e.self {
			selfVotedHash = v.ProposalHash
			selfVoted = true
		}
	}

	for hash, count := range byValue {
		if count < threshold {
			continue
		}
		if round == e.round {
			e.validValue = hash
			e.validSet = true
			e.validRound = round
			if selfVoted && selfVotedHash == hash {
				e.lockedValue = hash
				e.lockedSet = true
				e.lockedRound = round
			}
		}
		if round == e.round && e.step == StepPrevote {
			e.enterPrecommitForValue(hash)
		}
		return
	}

	if nilCount >= threshold && round == e.round && e.step == StepPrevote {
		e.enterPrecommitForValue(types.ZeroHash)
		return
	}

	// Neither a single-value nor a NIL quorum yet: arm the prevote timeout
	// once any 2f+1 prevotes (of any mix of values) have arrived, per
	// spec.md §4.3.4.
	if round == e.round && e.step == StepPrevote && !e.prevoteTimerArmed && len(seen) >= threshold {
		e.prevoteTimerArmed = true
		e.armTimer(timerPrevote, e.cfg.MinProposeTimeout)
	}
}

func (e *Engine) onPrevoteTimeout() {
	e.enterPrecommitForValue(types.ZeroHash)
}

// enterPrecommitForValue broadcasts a precommit for hash (ZeroHash means
// NIL) and transitions to the Precommit step.
func (e *Engine) enterPrecommitForValue(hash types.Hash) {
	if e.step != StepPrevote {
		return
	}
	e.step = StepPrecommit

	vote := &types.Precommit{Height: e.height, Round: e.round, ValidatorIndex: e.self}
	if hash != types.ZeroHash {
		vote.ProposalHash = hash
	} else {
		vote.IsNil = true
	}
	vote.Signature = crypto.Sign(e.privKey, canon.SigningBytesPrecommit(vote))

	if _, err := e.msgStore.InsertPrecommit(vote, e.pubKey); err != nil {
		e.logger.Error("failed to insert own precommit", zap.Error(err))
	}
	e.broadcastPrecommit(vote)
	e.tryPrecommitQuorum(e.round)
}

func (e *Engine) broadcastPrecommit(v *types.Precommit) {
	payload, err := p2p.EncodePayload(v)
	if err != nil {
		e.logger.Error("failed to encode precommit", zap.Error(err))
		return
	}
	env := &p2p.Envelope{Kind: types.KindPrecommit, Height: v.Height, Round: v.Round, ValidatorIndex: v.ValidatorIndex, Payload: payload, Signature: v.Signature}
	if err := e.link.Broadcast(env); err != nil {
		e.logger.Warn("precommit broadcast failed", zap.Error(err))
	}
}

// tryPrecommitQuorum checks round for a 2f+1 precommit agreement. A
// non-NIL quorum triggers an immediate commit regardless of the engine's
// current round, per spec.md §4.3.5's straggler-liveness rule; a NIL
// quorum (or precommit timeout) advances to round+1, but only when round
// is the engine's active round — a stale round's NIL quorum carries no
// action once we have moved on.
func (e *Engine) tryPrecommitQuorum(round types.Round) {
	vs, ok := e.currentValidatorSet()
	if !ok {
		return
	}
	votes := e.msgStore.EnumeratePrecommits(e.height, round)
	threshold := vs.QuorumThreshold()

	byValue := make(map[types.Hash]int)
	seen := make(map[types.ValidatorIndex]bool)
	nilCount := 0
	for _, v := range votes {
		if seen[v.ValidatorIndex] {
			continue
		}
		seen[v.ValidatorIndex] = true
		if v.IsNil {
			nilCount++
			continue
		}
		byValue[v.ProposalHash]++
	}

	for hash, count := range byValue {
		if count < threshold {
			continue
		}
		if !e.committedAnyThisRnd {
			e.commitRound(round, hash, votes)
		}
		return
	}

	if nilCount >= threshold && round == e.round && e.step == StepPrecommit {
		e.advanceRound()
		return
	}

	if round == e.round && e.step == StepPrecommit && !e.precommitTimerArmed && len(seen) >= threshold {
		e.precommitTimerArmed = true
		e.armTimer(timerPrecommit, e.cfg.MinProposeTimeout)
	}
}

func (e *Engine) onPrecommitTimeout() {
	e.advanceRound()
}

// advanceRound moves to round+1 at the same height, per spec.md §4.3.3's
// "If quorum is precommit-NIL, or timeout fires: advance to R+1."
func (e *Engine) advanceRound() {
	e.enterNewRound(e.round + 1)
}
