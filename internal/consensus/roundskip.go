package consensus

import "github.com/pallaschain/pallas/internal/types"

// checkRoundSkip implements spec.md §4.3.5's round-skip rule: "Messages
// from a future round of the current height are accepted and may
// fast-forward the local round if a f+1 quorum of messages exists at that
// round." senderIndex is the validator whose message at round just caused
// a store insertion; it is not used separately, because that message is
// already in the store and distinctSendersAtRound's scan counts it.
func (e *Engine) checkRoundSkip(round types.Round, senderIndex types.ValidatorIndex) {
	if round <= e.round {
		return
	}
	vs, ok := e.currentValidatorSet()
	if !ok {
		return
	}
	if e.distinctSendersAtRound(round) >= vs.BlockingThreshold() {
		e.enterNewRound(round)
	}
}

// distinctSendersAtRound counts distinct validators who have sent any
// prevote or precommit at (height, round); proposals are excluded since a
// single proposer's future proposal alone must never move the round.
func (e *Engine) distinctSendersAtRound(round types.Round) int {
	seen := make(map[types.ValidatorIndex]bool)
	for _, v := range e.msgStore.EnumeratePrevotes(e.height, round) {
		seen[v.ValidatorIndex] = true
	}
	for _, v := range e.msgStore.EnumeratePrecommits(e.height, round) {
		seen[v.ValidatorIndex] = true
	}
	return len(seen)
}
