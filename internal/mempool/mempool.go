// Package mempool implements the transaction pool of spec.md §4.2: admits
// transactions that pass static validation, orders them deterministically
// for proposal assembly, and evicts on commit.
//
// Structurally this follows the teacher's internal/consensus/mempool.go
// (a mutex-guarded map plus an order-tracking slice) but the ordering key
// changes from pure FIFO insertion order to the spec's
// (arrival-epoch, tx_hash) sort, and admission adds a duplicate/known-hash
// check ahead of the signature check to match spec.md §4.2's "signature,
// known service, not already committed" validation chain.
package mempool

import (
	"bytes"
	"sort"
	"sync"

	"github.com/pallaschain/pallas/internal/canon"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/types"
)

// RejectKind enumerates why Submit refused a transaction, per spec.md §4.2's
// `rejected(kind)`.
type RejectKind uint8

const (
	RejectNone RejectKind = iota
	RejectDuplicate
	RejectBadSignature
	RejectAlreadyCommitted
	RejectPoolFull
	RejectTooLarge
)

func (k RejectKind) String() string {
	switch k {
	case RejectDuplicate:
		return "duplicate"
	case RejectBadSignature:
		return "bad_signature"
	case RejectAlreadyCommitted:
		return "already_committed"
	case RejectPoolFull:
		return "pool_full"
	case RejectTooLarge:
		return "too_large"
	default:
		return "none"
	}
}

// CommittedLedger answers whether a transaction hash has already been
// committed to a prior block, so the pool can refuse to re-admit it. In
// production this is backed by internal/storage's persisted block index.
type CommittedLedger interface {
	Committed(hash types.Hash) bool
}

// Pool is a bounded, deterministically-ordered transaction pool.
type Pool struct {
	mu       sync.RWMutex
	byHash   map[types.Hash]*types.Transaction
	capacity int
	maxTxLen int
	nextSeq  uint64
	ledger   CommittedLedger
}

// New constructs a pool bounded to capacity transactions, rejecting any
// single transaction payload larger than maxTxLen bytes.
func New(capacity, maxTxLen int, ledger CommittedLedger) *Pool {
	return &Pool{
		byHash:   make(map[types.Hash]*types.Transaction),
		capacity: capacity,
		maxTxLen: maxTxLen,
		ledger:   ledger,
	}
}

// Submit validates and admits tx, assigning it the next arrival epoch on
// success.
func (p *Pool) Submit(tx *types.Transaction, pubKey []byte) RejectKind {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(tx.Payload) > p.maxTxLen {
		return RejectTooLarge
	}
	if _, exists := p.byHash[tx.Hash]; exists {
		return RejectDuplicate
	}
	if p.ledger != nil && p.ledger.Committed(tx.Hash) {
		return RejectAlreadyCommitted
	}
	wantHash := canon.HashTransaction(tx.From, tx.Payload)
	if wantHash != tx.Hash {
		return RejectBadSignature
	}
	if err := crypto.Verify(pubKey, tx.Hash[:], tx.Signature); err != nil {
		return RejectBadSignature
	}
	if len(p.byHash) >= p.capacity {
		return RejectPoolFull
	}

	tx.ArrivalEpoch = p.nextSeq
	p.nextSeq++
	p.byHash[tx.Hash] = tx
	return RejectNone
}

// IterateForProposal returns up to maxCount transactions, never exceeding
// maxBytes of combined payload, ordered by (arrival-epoch, tx_hash) so that
// every honest node holding the same pool contents produces the same
// sequence.
func (p *Pool) IterateForProposal(maxCount, maxBytes int) []*types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	all := make([]*types.Transaction, 0, len(p.byHash))
	for _, tx := range p.byHash {
		all = append(all, tx)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ArrivalEpoch != all[j].ArrivalEpoch {
			return all[i].ArrivalEpoch < all[j].ArrivalEpoch
		}
		return bytes.Compare(all[i].Hash[:], all[j].Hash[:]) < 0
	})

	out := make([]*types.Transaction, 0, maxCount)
	total := 0
	for _, tx := range all {
		if len(out) >= maxCount {
			break
		}
		if total+len(tx.Payload) > maxBytes {
			continue
		}
		out = append(out, tx)
		total += len(tx.Payload)
	}
	return out
}

// Contains reports whether a transaction hash is currently pending.
func (p *Pool) Contains(hash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byHash[hash]
	return ok
}

// Get returns the pending transaction with the given hash, if any.
func (p *Pool) Get(hash types.Hash) (*types.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tx, ok := p.byHash[hash]
	return tx, ok
}

// Commit removes every listed transaction hash from the pool, called after
// a block containing them is committed.
func (p *Pool) Commit(hashes []types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range hashes {
		delete(p.byHash, h)
	}
}

// Size reports the current pending transaction count.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byHash)
}
