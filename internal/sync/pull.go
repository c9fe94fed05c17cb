package sync

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pallaschain/pallas/internal/p2p"
	"github.com/pallaschain/pallas/internal/types"
)

// maxConcurrentPulls bounds how many per-message pulls retry in parallel,
// so a proposal referencing many unknown transactions at once can't spawn
// an unbounded number of outstanding retry goroutines.
const maxConcurrentPulls = 32

// pullRequest is the payload of a ProposalRequest/TransactionsRequest
// envelope: a correlated ask for a specific content hash. BlockRequest
// envelopes carry a blockRequest instead (see blocksync.go).
type pullRequest struct {
	RequestID string
	Hash      types.Hash
}

// pulledMessage is the payload of a pull response. The response envelope
// reuses the request's own Kind (KindProposalRequest/KindTransactionsRequest)
// with ResponseTo set, per the "response envelopes share a request's kind"
// convention documented on types.MessageKind; Hash lets the requester match
// the response to the right outstanding pull without depending on kind
// alone, and EncodedKind/Body carry the actual message so the requester can
// decode and insert it into the right place (message store or pool).
type pulledMessage struct {
	RequestID   string
	Hash        types.Hash
	EncodedKind types.MessageKind
	Body        []byte
}

// RequestMessage issues a per-message pull for an unknown hash referenced
// by the consensus core (spec.md §4.3.5's UnknownDependency handling
// feeding §4.4's requester), targeting a random known peer, preferring
// peers with a non-zero liveness score; peers are not filtered by whether
// they advertised the hash. It retries with exponential backoff up to
// maxPullAttempts, rotating to a different peer on each retry. It is
// cancelled when a pull response delivers the target or when
// CancelPullsBelow passes its height; a copy of the target arriving by
// another path (e.g. a regular broadcast) does not cancel it.
func (s *Syncer) RequestMessage(kind types.MessageKind, hash types.Hash, height types.Height) {
	s.mu.Lock()
	if _, exists := s.pulls[hash]; exists {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	pp := &pendingPull{requestID: newRequestID(), hash: hash, kind: kind, height: height, cancel: cancel}
	s.pulls[hash] = pp
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runPull(ctx, pp)
}

func (s *Syncer) runPull(ctx context.Context, pp *pendingPull) {
	defer s.wg.Done()
	if err := s.pullSem.Acquire(ctx, 1); err != nil {
		s.mu.Lock()
		delete(s.pulls, pp.hash)
		s.mu.Unlock()
		return
	}
	defer s.pullSem.Release(1)

	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < maxPullAttempts; attempt++ {
		peerID := s.pickPeer(pp.peerID)
		if peerID == "" {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		pp.peerID = peerID
		pp.attempts++

		req := &pullRequest{RequestID: pp.requestID, Hash: pp.hash}
		payload, err := p2p.EncodePayload(req)
		if err == nil {
			env := &p2p.Envelope{Kind: pp.kind, Payload: payload}
			_ = s.link.Send(peerID, env)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	s.logger.Debug("pull exhausted retry budget", zap.String("hash", pp.hash.String()), zap.Int("attempts", pp.attempts))
	s.mu.Lock()
	delete(s.pulls, pp.hash)
	s.mu.Unlock()
}

// pickPeer chooses a random known peer other than exclude, preferring
// peers with a non-zero liveness score.
func (s *Syncer) pickPeer(exclude string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidates := make([]string, 0, len(s.peers))
	for id, p := range s.peers {
		if id == exclude || p.score <= 0 {
			continue
		}
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		for id := range s.peers {
			if id != exclude {
				candidates = append(candidates, id)
			}
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	return candidates[rand.Intn(len(candidates))]
}

// cancelPull cancels and removes an outstanding pull for hash. It is
// called by handlePulledMessage once a pull response has delivered the
// target.
func (s *Syncer) cancelPull(hash types.Hash) {
	s.mu.Lock()
	pp, ok := s.pulls[hash]
	if ok {
		delete(s.pulls, hash)
	}
	s.mu.Unlock()
	if ok {
		pp.cancel()
	}
}

// CancelPullsBelow cancels every outstanding pull whose target height has
// been passed, called by consensus.Engine after a height commits, per
// spec.md §4.4: "cancelled automatically when ... the height advances past
// the request."
func (s *Syncer) CancelPullsBelow(height types.Height) {
	s.mu.Lock()
	var stale []*pendingPull
	for hash, pp := range s.pulls {
		if pp.height < height {
			stale = append(stale, pp)
			delete(s.pulls, hash)
		}
	}
	s.mu.Unlock()
	for _, pp := range stale {
		pp.cancel()
	}
}

// handleMessageRequest serves one peer's pull for a proposal/vote (looked up
// in the local message store) or a transaction body (looked up in the local
// mempool), replying with the request's own Kind and ResponseTo set, per the
// response-sharing-kind convention on types.MessageKind.
func (s *Syncer) handleMessageRequest(in p2p.Inbound) {
	var req pullRequest
	if err := p2p.DecodePayload(in.Envelope.Payload, &req); err != nil {
		return
	}

	var encodedKind types.MessageKind
	var body []byte

	switch in.Envelope.Kind {
	case types.KindProposalRequest:
		entry, ok := s.msgStore.Lookup(req.Hash)
		if !ok {
			return
		}
		switch {
		case entry.Proposal != nil:
			encodedKind = types.KindProposal
			body, _ = p2p.EncodePayload(entry.Proposal)
		case entry.Prevote != nil:
			encodedKind = types.KindPrevote
			body, _ = p2p.EncodePayload(entry.Prevote)
		case entry.Precommit != nil:
			encodedKind = types.KindPrecommit
			body, _ = p2p.EncodePayload(entry.Precommit)
		default:
			return
		}
	case types.KindTransactionsRequest:
		if s.pool == nil {
			return
		}
		tx, ok := s.pool.Get(req.Hash)
		if !ok {
			return
		}
		encodedKind = types.KindTransactionsRequest
		body, _ = p2p.EncodePayload(tx)
	default:
		return
	}
	if body == nil {
		return
	}

	pulled := &pulledMessage{RequestID: req.RequestID, Hash: req.Hash, EncodedKind: encodedKind, Body: body}
	encoded, err := p2p.EncodePayload(pulled)
	if err != nil {
		return
	}
	resp := &p2p.Envelope{Kind: in.Envelope.Kind, Payload: encoded, ResponseTo: req.RequestID}
	_ = s.link.Send(in.PeerID, resp)
}

// handlePulledMessage decodes a pull response and, if it matches an
// outstanding pull, inserts the delivered message into the local message
// store or pool and cancels the pull.
func (s *Syncer) handlePulledMessage(in p2p.Inbound) {
	var pulled pulledMessage
	if err := p2p.DecodePayload(in.Envelope.Payload, &pulled); err != nil {
		return
	}
	s.mu.Lock()
	_, outstanding := s.pulls[pulled.Hash]
	s.mu.Unlock()
	if !outstanding {
		return
	}

	switch pulled.EncodedKind {
	case types.KindProposal:
		var p types.Proposal
		if p2p.DecodePayload(pulled.Body, &p) == nil {
			s.insertProposal(&p)
		}
	case types.KindPrevote:
		var v types.Prevote
		if p2p.DecodePayload(pulled.Body, &v) == nil {
			s.insertPrevote(&v)
		}
	case types.KindPrecommit:
		var v types.Precommit
		if p2p.DecodePayload(pulled.Body, &v) == nil {
			s.insertPrecommit(&v)
		}
	case types.KindTransactionsRequest:
		var tx types.Transaction
		if p2p.DecodePayload(pulled.Body, &tx) == nil && s.pool != nil {
			s.pool.Submit(&tx, tx.From)
		}
	}
	s.cancelPull(pulled.Hash)
}

// insertProposal/insertPrevote/insertPrecommit resolve the signer's public
// key from the validator set effective at the message's height before
// inserting into the message store, matching the signature-verification
// contract store.Store.Insert* requires of every caller.
func (s *Syncer) insertProposal(p *types.Proposal) {
	vs, ok := s.validatorSets.ValidatorSet(p.Height)
	if !ok {
		return
	}
	v, ok := vs.ByIndex(p.ProposerIndex)
	if !ok {
		return
	}
	_, _ = s.msgStore.InsertProposal(p, v.PubKey)
}

func (s *Syncer) insertPrevote(v *types.Prevote) {
	vs, ok := s.validatorSets.ValidatorSet(v.Height)
	if !ok {
		return
	}
	validator, ok := vs.ByIndex(v.ValidatorIndex)
	if !ok {
		return
	}
	_, _ = s.msgStore.InsertPrevote(v, validator.PubKey)
}

func (s *Syncer) insertPrecommit(v *types.Precommit) {
	vs, ok := s.validatorSets.ValidatorSet(v.Height)
	if !ok {
		return
	}
	validator, ok := vs.ByIndex(v.ValidatorIndex)
	if !ok {
		return
	}
	_, _ = s.msgStore.InsertPrecommit(v, validator.PubKey)
}
