package consensus

import "github.com/pallaschain/pallas/internal/p2p"

// event is the unified event stream of spec.md §5: network messages,
// transaction submissions, and timer firings, drained in strict arrival
// order by the single-threaded run loop.
type event interface{ isEvent() }

// inboundMessageEvent carries a decoded, not-yet-verified envelope from a
// peer. Signature verification happens on the main loop via internal/store,
// not before enqueueing, so that arrival order across the unified stream is
// preserved exactly as received.
type inboundMessageEvent struct {
	peerID   string
	envelope *p2p.Envelope
}

func (inboundMessageEvent) isEvent() {}

// txSubmittedEvent carries a transaction handed to the node directly (e.g.
// via a local RPC), to be routed to the mempool from the main loop.
type txSubmittedEvent struct {
	raw    []byte
	pubKey []byte
}

func (txSubmittedEvent) isEvent() {}

// timerFiredEvent is delivered when a scheduled timeout elapses. generation
// lets the handler discard a timer that fired for a round the engine has
// already left (spec.md §5's cancellation-by-relevance-check policy).
type timerFiredEvent struct {
	kind       timerKind
	height     uint64
	round      uint32
	generation uint64
}

func (timerFiredEvent) isEvent() {}

type timerKind uint8

const (
	timerPropose timerKind = iota
	timerPrevote
	timerPrecommit
)

func (k timerKind) String() string {
	switch k {
	case timerPropose:
		return "propose"
	case timerPrevote:
		return "prevote"
	case timerPrecommit:
		return "precommit"
	default:
		return "unknown"
	}
}
