package consensus

import (
	"time"

	"github.com/pallaschain/pallas/internal/types"
)

// proposeTimeout computes propose_timeout(R) per spec.md §4.3.4: a base
// duration that SHOULD scale with R up to a cap, here linear, with the cap
// reached sooner when the pool is backed up past propose_timeout_threshold
// (an eventual-synchrony nudge: a congested pool means proposal assembly
// itself takes longer, so don't let a tight max timeout starve it).
func (e *Engine) proposeTimeout(round types.Round) time.Duration {
	base := e.cfg.FirstRoundTimeout
	step := e.cfg.MinProposeTimeout
	timeout := base + time.Duration(round)*step

	max := e.cfg.MaxProposeTimeout
	if e.pool.Size() > e.cfg.ProposeTimeoutThreshold {
		return max
	}
	if timeout > max {
		return max
	}
	if timeout < e.cfg.MinProposeTimeout {
		return e.cfg.MinProposeTimeout
	}
	return timeout
}

// armTimer schedules a timerFiredEvent after d, tagged with the engine's
// current (height, round, generation) so a stale firing (the round having
// already moved on) is detected and discarded on arrival rather than
// cancelled up front — matching spec.md §5's "the loop checks relevance on
// completion" cancellation policy.
func (e *Engine) armTimer(kind timerKind, d time.Duration) {
	height, round, gen := e.height, e.round, e.generation
	time.AfterFunc(d, func() {
		select {
		case e.events <- timerFiredEvent{kind: kind, height: uint64(height), round: uint32(round), generation: gen}:
		case <-e.ctx.Done():
		}
	})
}

func (e *Engine) handleTimer(v timerFiredEvent) {
	if v.generation != e.generation {
		return // stale: the round or height has already moved on
	}
	if e.metrics != nil {
		e.metrics.TimeoutsFired.WithLabelValues(v.kind.String()).Inc()
	}
	switch v.kind {
	case timerPropose:
		if e.step == StepPropose {
			e.onProposeTimeout()
		}
	case timerPrevote:
		if e.step == StepPrevote {
			e.onPrevoteTimeout()
		}
	case timerPrecommit:
		if e.step == StepPrecommit {
			e.onPrecommitTimeout()
		}
	}
}
