package p2p

import "context"

// Router fans one physical PeerLink's inbound stream out to multiple
// independent consumers. consensus.Engine and internal/sync's Syncer each
// need to see every envelope — the engine dispatches Proposal/Prevote/
// Precommit and ignores the rest, the syncer dispatches Status/*Request/
// BlockRequest and ignores the rest — so rather than run two libp2p hosts
// per node, one physical Host is shared and demultiplexed at this layer.
type Router struct {
	underlying PeerLink
	views      []*routedView
}

// NewRouter wraps underlying for fan-out. Call View once per consumer
// before Run starts pumping.
func NewRouter(underlying PeerLink) *Router {
	return &Router{underlying: underlying}
}

// View returns a PeerLink handle that sees every envelope underlying
// receives, alongside underlying's own Broadcast/Send. Its Close is a
// no-op; the caller that owns underlying is responsible for closing it.
func (r *Router) View() PeerLink {
	v := &routedView{router: r, ch: make(chan Inbound, 1024)}
	r.views = append(r.views, v)
	return v
}

// Run pumps underlying.Receive() and copies each Inbound to every View,
// blocking until ctx is done or underlying's channel closes. Must be
// called after every View() the caller needs has been created.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-r.underlying.Receive():
			if !ok {
				return
			}
			for _, v := range r.views {
				select {
				case v.ch <- in:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

type routedView struct {
	router *Router
	ch     chan Inbound
}

func (v *routedView) Broadcast(e *Envelope) error          { return v.router.underlying.Broadcast(e) }
func (v *routedView) Send(peerID string, e *Envelope) error { return v.router.underlying.Send(peerID, e) }
func (v *routedView) Receive() <-chan Inbound               { return v.ch }
func (v *routedView) Close() error                          { return nil }
