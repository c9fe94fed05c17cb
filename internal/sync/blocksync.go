package sync

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pallaschain/pallas/internal/canon"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/p2p"
	"github.com/pallaschain/pallas/internal/types"
)

// blockRequestTimeout bounds how long runBlockSync waits for one batch's
// response before giving up on the peer and returning.
const blockRequestTimeout = 5 * time.Second

// blockRequest asks a peer for a contiguous range of committed blocks.
type blockRequest struct {
	RequestID  string
	FromHeight types.Height
	ToHeight   types.Height
}

// syncedBlock bundles everything applyBlock needs to verify and apply a
// block without re-running the round protocol, per spec.md §4.4: "Sync
// advances height without running the round protocol."
type syncedBlock struct {
	Block        types.Block
	Certificate  types.CommitCertificate
	Transactions []types.Transaction
}

// blockResponse is the payload of a BlockRequest's response envelope.
type blockResponse struct {
	RequestID string
	Blocks    []syncedBlock
}

// runBlockSync batch-fetches blocks [myHeight .. peerHeight-1] from peerID
// and applies each by re-executing its transaction list, verifying the
// resulting state_hash and the attached commit certificate, per
// spec.md §4.4. myHeight and peerHeight both follow consensus.Engine's
// height convention: the next height not yet committed, so a peer at
// peerHeight has committed blocks [1 .. peerHeight-1].
func (s *Syncer) runBlockSync(peerID string, peerHeight types.Height) {
	for {
		myHeight := s.heights.Height()
		if peerHeight <= myHeight {
			return
		}
		to := myHeight + blockSyncBatchSize - 1
		if to > peerHeight-1 {
			to = peerHeight - 1
		}

		resp, err := s.fetchBlocks(peerID, myHeight, to)
		if err != nil {
			s.logger.Warn("block sync request failed", zap.String("peer", peerID), zap.Error(err))
			return
		}
		if len(resp.Blocks) == 0 {
			return
		}
		for i := range resp.Blocks {
			if err := s.applyBlock(&resp.Blocks[i]); err != nil {
				s.logger.Warn("block sync apply failed", zap.String("peer", peerID), zap.Error(err))
				return
			}
		}
	}
}

// fetchBlocks sends a BlockRequest and blocks until the matching response
// arrives on the inbound loop (registered by RequestID in s.blockWaiters) or
// blockRequestTimeout elapses.
func (s *Syncer) fetchBlocks(peerID string, from, to types.Height) (*blockResponse, error) {
	req := &blockRequest{RequestID: newRequestID(), FromHeight: from, ToHeight: to}
	waiter := make(chan *blockResponse, 1)
	s.mu.Lock()
	s.blockWaiters[req.RequestID] = waiter
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.blockWaiters, req.RequestID)
		s.mu.Unlock()
	}()

	payload, err := p2p.EncodePayload(req)
	if err != nil {
		return nil, fmt.Errorf("sync: encode block request: %w", err)
	}
	env := &p2p.Envelope{Kind: types.KindBlockRequest, Payload: payload}
	if err := s.link.Send(peerID, env); err != nil {
		return nil, fmt.Errorf("sync: send block request: %w", err)
	}

	select {
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	case resp := <-waiter:
		return resp, nil
	case <-time.After(blockRequestTimeout):
		return nil, fmt.Errorf("sync: block request to %s timed out", peerID)
	}
}

// handleBlockRequest serves a range of previously-committed blocks from
// local storage in response to a peer's blockRequest.
func (s *Syncer) handleBlockRequest(in p2p.Inbound) {
	var req blockRequest
	if err := p2p.DecodePayload(in.Envelope.Payload, &req); err != nil {
		return
	}
	var blocks []syncedBlock
	for h := req.FromHeight; h <= req.ToHeight; h++ {
		b, cert, txs, ok, err := s.storageEngine.BlockWithCertificate(h)
		if err != nil || !ok {
			break
		}
		blocks = append(blocks, syncedBlock{Block: *b, Certificate: *cert, Transactions: txs})
	}
	resp := &blockResponse{RequestID: req.RequestID, Blocks: blocks}
	encoded, err := p2p.EncodePayload(resp)
	if err != nil {
		return
	}
	env := &p2p.Envelope{Kind: types.KindBlockRequest, Payload: encoded, ResponseTo: req.RequestID}
	_ = s.link.Send(in.PeerID, env)
}

// handleBlockResponse routes an inbound BlockRequest response to the
// fetchBlocks call awaiting it, if any is still outstanding.
func (s *Syncer) handleBlockResponse(in p2p.Inbound) {
	var resp blockResponse
	if err := p2p.DecodePayload(in.Envelope.Payload, &resp); err != nil {
		return
	}
	s.mu.Lock()
	waiter, ok := s.blockWaiters[resp.RequestID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case waiter <- &resp:
	default:
	}
}

// applyBlock re-executes sb's transactions against a fresh fork, verifies
// the resulting state hash matches sb.Block.StateHash, verifies the commit
// certificate carries a quorum of cryptographically valid
// ValidatorSet(height) signatures over sb.Block's own content, verifies
// sb.Block chains onto the already-persisted previous block (or the
// genesis hash, at height 1), and — only if every check holds — persists
// the block and advances height. Per spec.md §4.4's integrity rule, a
// block failing any check is rejected and never persisted.
func (s *Syncer) applyBlock(sb *syncedBlock) error {
	height := sb.Block.Height
	vs, ok := s.validatorSets.ValidatorSet(height)
	if !ok {
		return fmt.Errorf("sync: no validator set known for height %d", height)
	}
	if !sb.Certificate.Valid(vs.QuorumThreshold()) {
		return fmt.Errorf("sync: commit certificate for height %d lacks quorum", height)
	}

	// The certificate must be signed over sb.Block itself, not merely some
	// proposal the peer also happens to know about: recompute the
	// proposal hash from the block's own fields and require it matches
	// what the precommits actually certify.
	proposalHash := canon.HashProposal(&types.Proposal{
		Height:        sb.Block.Height,
		Round:         sb.Block.Round,
		ProposerIndex: sb.Block.ProposerIndex,
		PrevBlockHash: sb.Block.PrevBlockHash,
		TxHashes:      sb.Block.TxHashes,
		ValidRound:    sb.Block.ValidRound,
	})
	if proposalHash != sb.Certificate.ProposalHash {
		return fmt.Errorf("sync: commit certificate at height %d does not certify the delivered block", height)
	}

	for i := range sb.Certificate.Precommits {
		pc := &sb.Certificate.Precommits[i]
		validator, ok := vs.ByIndex(pc.ValidatorIndex)
		if !ok {
			return fmt.Errorf("sync: certificate references unknown validator %d", pc.ValidatorIndex)
		}
		if err := crypto.Verify(validator.PubKey, canon.SigningBytesPrecommit(pc), pc.Signature); err != nil {
			return fmt.Errorf("sync: invalid precommit signature from validator %d at height %d: %w", pc.ValidatorIndex, height, err)
		}
	}

	if height == 1 {
		if sb.Block.PrevBlockHash != s.heights.GenesisHash() {
			return fmt.Errorf("sync: height 1 block's prev_block_hash does not match genesis hash")
		}
	} else {
		prevBlock, ok, err := s.storageEngine.Block(height - 1)
		if err != nil {
			return fmt.Errorf("sync: load block %d to verify chaining: %w", height-1, err)
		}
		if !ok {
			return fmt.Errorf("sync: missing locally persisted block %d to verify block %d chains onto it", height-1, height)
		}
		if sb.Block.PrevBlockHash != canon.HashBlock(prevBlock) {
			return fmt.Errorf("sync: block %d's prev_block_hash does not chain onto block %d", height, height-1)
		}
	}

	fork, err := s.storageEngine.Fork()
	if err != nil {
		return fmt.Errorf("sync: acquire fork: %w", err)
	}
	txs := make([]*types.Transaction, len(sb.Transactions))
	for i := range sb.Transactions {
		txs[i] = &sb.Transactions[i]
	}
	outcomes, stateHash, _, err := s.exec.ExecuteBlock(fork, txs)
	if err != nil {
		s.storageEngine.Discard(fork)
		return fmt.Errorf("sync: re-execution failed: %w", err)
	}
	if stateHash != sb.Block.StateHash {
		s.storageEngine.Discard(fork)
		return fmt.Errorf("sync: state_hash mismatch at height %d", height)
	}
	if err := s.storageEngine.Merge(fork); err != nil {
		return fmt.Errorf("sync: merge fork: %w", err)
	}
	block := sb.Block
	if err := s.storageEngine.SaveBlock(&block, &sb.Certificate, sb.Transactions, outcomes); err != nil {
		return fmt.Errorf("sync: save block: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SyncBlocksApplied.Inc()
	}
	return nil
}
