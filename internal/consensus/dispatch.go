package consensus

import (
	"go.uber.org/zap"

	"github.com/pallaschain/pallas/internal/p2p"
	"github.com/pallaschain/pallas/internal/store"
	"github.com/pallaschain/pallas/internal/types"
)

// handleInbound classifies an arriving envelope by height (spec.md
// §4.3.5: queue future heights, process current height, discard stale
// ones) and dispatches current-height messages by kind.
func (e *Engine) handleInbound(v inboundMessageEvent) {
	env := v.envelope

	switch {
	case env.Height < e.height:
		if e.metrics != nil {
			e.metrics.MessagesDropped.WithLabelValues("conflict").Inc()
		}
		return // ErrConflict: old height, drop silently
	case env.Height > e.height:
		e.queueFutureMessage(env)
		return
	}

	e.dispatchCurrentHeight(v.peerID, env)
}

func (e *Engine) queueFutureMessage(env *p2p.Envelope) {
	if env.Height > e.height+futureHeightWindow {
		if e.metrics != nil {
			e.metrics.MessagesDropped.WithLabelValues("future_height_window").Inc()
		}
		return
	}
	e.futureHeights[env.Height] = append(e.futureHeights[env.Height], pendingMessage{envelope: env})
}

// replayQueuedMessages re-dispatches messages queued for the height the
// engine just entered, and drops everything queued for heights now in the
// past.
func (e *Engine) replayQueuedMessages() {
	for h := range e.futureHeights {
		if h < e.height {
			delete(e.futureHeights, h)
		}
	}
	pending := e.futureHeights[e.height]
	delete(e.futureHeights, e.height)
	for _, pm := range pending {
		e.dispatchCurrentHeight(pm.peerID, pm.envelope)
	}
}

func (e *Engine) dispatchCurrentHeight(peerID string, env *p2p.Envelope) {
	vs, ok := e.currentValidatorSet()
	if !ok {
		return
	}
	validator, ok := vs.ByIndex(env.ValidatorIndex)
	if !ok {
		if e.metrics != nil {
			e.metrics.MessagesDropped.WithLabelValues("unknown_validator").Inc()
		}
		return
	}

	switch env.Kind {
	case types.KindProposal:
		e.handleProposalEnvelope(env, validator.PubKey)
	case types.KindPrevote:
		e.handlePrevoteEnvelope(env, validator.PubKey)
	case types.KindPrecommit:
		e.handlePrecommitEnvelope(env, validator.PubKey)
	default:
		// Status/PeersGossip/*Request kinds belong to internal/sync, which
		// receives its own copy of every envelope through a separate
		// p2p.Router view; here they are simply outside this engine's
		// concern.
		e.logger.Debug("ignoring envelope kind outside consensus dispatch", zap.Stringer("kind", env.Kind), zap.String("peer", peerID))
	}
}

func (e *Engine) handleProposalEnvelope(env *p2p.Envelope, pubKey []byte) {
	var p types.Proposal
	if err := p2p.DecodePayload(env.Payload, &p); err != nil {
		if e.metrics != nil {
			e.metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		}
		return
	}
	result, err := e.msgStore.InsertProposal(&p, pubKey)
	if err != nil {
		if e.metrics != nil {
			e.metrics.MessagesDropped.WithLabelValues("bad_signature").Inc()
		}
		return
	}
	if result == store.ResultConflict {
		if e.metrics != nil {
			e.metrics.MessagesDropped.WithLabelValues("equivocation").Inc()
		}
	}
	if result == store.ResultNew {
		e.checkRoundSkip(p.Round, p.ProposerIndex)
		e.onProposalAvailable(&p)
	}
}

func (e *Engine) handlePrevoteEnvelope(env *p2p.Envelope, pubKey []byte) {
	var v types.Prevote
	if err := p2p.DecodePayload(env.Payload, &v); err != nil {
		if e.metrics != nil {
			e.metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		}
		return
	}
	result, err := e.msgStore.InsertPrevote(&v, pubKey)
	if err != nil {
		if e.metrics != nil {
			e.metrics.MessagesDropped.WithLabelValues("bad_signature").Inc()
		}
		return
	}
	if result != store.ResultNew {
		return
	}
	e.checkRoundSkip(v.Round, v.ValidatorIndex)
	e.tryPrevoteQuorum(v.Round)
}

func (e *Engine) handlePrecommitEnvelope(env *p2p.Envelope, pubKey []byte) {
	var v types.Precommit
	if err := p2p.DecodePayload(env.Payload, &v); err != nil {
		if e.metrics != nil {
			e.metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		}
		return
	}
	result, err := e.msgStore.InsertPrecommit(&v, pubKey)
	if err != nil {
		if e.metrics != nil {
			e.metrics.MessagesDropped.WithLabelValues("bad_signature").Inc()
		}
		return
	}
	if result != store.ResultNew {
		return
	}
	e.checkRoundSkip(v.Round, v.ValidatorIndex)
	// Precommit quorum at ANY round of the current height triggers an
	// immediate commit, per spec.md §4.3.5.
	e.tryPrecommitQuorum(v.Round)
}
