// Package storage implements the storage engine of spec.md §6.2 and the
// persisted layout of §6.5, backed by github.com/boltdb/bolt (the
// teacher's own storage dependency). Forks are in-memory overlays over the
// bolt-backed committed state; merge applies the overlay in a single bolt
// transaction, and dropping a fork without merging discards its writes
// entirely, matching the "scoped acquisitions" ownership note in spec.md
// §4 ("Ownership in design terms").
package storage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/boltdb/bolt"
	"lukechampine.com/blake3"

	"github.com/pallaschain/pallas/internal/types"
)

var (
	bucketBlocks       = []byte("blocks")
	bucketCommits      = []byte("commits")
	bucketOutcomes     = []byte("tx_outcomes")
	bucketStateLeaves  = []byte("state_tree")
	bucketConfig       = []byte("config")
	bucketTransactions = []byte("transactions")
)

// Snapshot is an immutable read view over committed state.
type Snapshot interface {
	Get(key []byte) ([]byte, bool)
	Digest() types.Hash
}

// Fork is a mutable, uncommitted write view. Writes are visible to reads on
// the same Fork but invisible to everyone else until Merge succeeds.
type Fork interface {
	Snapshot
	Put(key, value []byte)
	Delete(key []byte)
}

// Engine is the storage engine: it owns the bolt database and issues
// Snapshots and Forks over the state tree bucket.
type Engine struct {
	db *bolt.DB

	mu           sync.Mutex // guards issuing a fork / merging it; at most one in-flight fork per spec.md §5
	forkOutstanding bool
}

// Open opens (creating if absent) a bolt database at path and ensures the
// buckets in spec.md §6.5 exist.
func Open(path string) (*Engine, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketCommits, bucketOutcomes, bucketStateLeaves, bucketConfig, bucketTransactions} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}
	return &Engine{db: db}, nil
}

// Close releases the underlying bolt database.
func (e *Engine) Close() error { return e.db.Close() }

// Snapshot returns an immutable read view over the committed state tree.
func (e *Engine) Snapshot() (Snapshot, error) {
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("storage: begin snapshot: %w", err)
	}
	return &snapshot{tx: tx}, nil
}

// Fork acquires a scoped, mutable write view. Only one fork may be
// outstanding at a time, matching spec.md §5's "each fork is owned by a
// single in-flight commit."
func (e *Engine) Fork() (Fork, error) {
	e.mu.Lock()
	if e.forkOutstanding {
		e.mu.Unlock()
		return nil, fmt.Errorf("storage: a fork is already outstanding")
	}
	e.forkOutstanding = true
	e.mu.Unlock()

	tx, err := e.db.Begin(false)
	if err != nil {
		e.mu.Lock()
		e.forkOutstanding = false
		e.mu.Unlock()
		return nil, fmt.Errorf("storage: begin fork read tx: %w", err)
	}
	return &fork{engine: e, base: tx, overlay: make(map[string][]byte), deleted: make(map[string]bool)}, nil
}

// Merge atomically applies a fork's overlay to committed state and releases
// the fork slot. Dropping a fork instead of merging (calling Discard)
// discards its writes, per spec.md §6.2.
func (e *Engine) Merge(f Fork) error {
	fk, ok := f.(*fork)
	if !ok {
		return fmt.Errorf("storage: merge: not a fork issued by this engine")
	}
	defer fk.release()

	err := e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStateLeaves)
		for k := range fk.deleted {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		for k, v := range fk.overlay {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: merge: %w", err)
	}
	return nil
}

// Discard releases a fork's slot without applying its writes.
func (e *Engine) Discard(f Fork) {
	if fk, ok := f.(*fork); ok {
		fk.release()
	}
}

// SaveBlock atomically persists a committed block, its commit certificate,
// the full bodies of the transactions it included, and per-transaction
// outcomes, per spec.md §6.2/§6.5. Transaction bodies are persisted
// alongside the block (not just their hashes) because the mempool evicts
// committed transactions on Commit, and block sync (spec.md §4.4) needs the
// full bodies of past blocks to re-execute and verify them for a lagging
// peer.
func (e *Engine) SaveBlock(block *types.Block, cert *types.CommitCertificate, txs []types.Transaction, outcomes []types.TxOutcome) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		commits := tx.Bucket(bucketCommits)
		outcomesBucket := tx.Bucket(bucketOutcomes)
		txsBucket := tx.Bucket(bucketTransactions)

		key := heightKey(block.Height)
		if err := blocks.Put(key, encodeBlock(block)); err != nil {
			return err
		}
		if err := commits.Put(key, encodeCertificate(cert)); err != nil {
			return err
		}
		for i, o := range outcomes {
			okey := append(append([]byte{}, key...), indexKey(uint32(i))...)
			if err := outcomesBucket.Put(okey, encodeOutcome(o)); err != nil {
				return err
			}
		}
		for i, txn := range txs {
			tkey := append(append([]byte{}, key...), indexKey(uint32(i))...)
			if err := txsBucket.Put(tkey, encodeTransaction(txn)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Block loads a committed block by height.
func (e *Engine) Block(height types.Height) (*types.Block, bool, error) {
	var b *types.Block
	err := e.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlocks).Get(heightKey(height))
		if raw == nil {
			return nil
		}
		decoded, err := decodeBlock(raw)
		if err != nil {
			return err
		}
		b = decoded
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("storage: load block %d: %w", height, err)
	}
	return b, b != nil, nil
}

// BlockWithCertificate loads a committed block together with its commit
// certificate and the full bodies of the transactions it included, for
// serving block-sync requests (spec.md §4.4).
func (e *Engine) BlockWithCertificate(height types.Height) (*types.Block, *types.CommitCertificate, []types.Transaction, bool, error) {
	var (
		b    *types.Block
		cert *types.CommitCertificate
		txs  []types.Transaction
	)
	err := e.db.View(func(tx *bolt.Tx) error {
		key := heightKey(height)
		raw := tx.Bucket(bucketBlocks).Get(key)
		if raw == nil {
			return nil
		}
		decodedBlock, err := decodeBlock(raw)
		if err != nil {
			return err
		}
		rawCert := tx.Bucket(bucketCommits).Get(key)
		if rawCert == nil {
			return fmt.Errorf("missing commit certificate for height %d", height)
		}
		decodedCert, err := decodeCertificate(rawCert)
		if err != nil {
			return err
		}
		c := tx.Bucket(bucketTransactions).Cursor()
		prefix := key
		for k, v := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, v = c.Next() {
			txn, err := decodeTransaction(v)
			if err != nil {
				return err
			}
			txs = append(txs, *txn)
		}
		b = decodedBlock
		cert = decodedCert
		return nil
	})
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("storage: load block %d with certificate: %w", height, err)
	}
	return b, cert, txs, b != nil, nil
}

// Committed reports whether a transaction hash appears in any saved
// block's outcome set. It linearly scans outcomes, acceptable because the
// mempool only consults it on admission, not on the hot consensus path.
func (e *Engine) Committed(hash types.Hash) bool {
	found := false
	_ = e.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOutcomes).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			o, err := decodeOutcome(v)
			if err != nil {
				continue
			}
			if o.TxHash == hash {
				found = true
				return nil
			}
		}
		return nil
	})
	return found
}

func heightKey(h types.Height) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(h))
	return b
}

func indexKey(i uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, i)
	return b
}

// snapshot is a read-only view backed by a bolt read transaction.
type snapshot struct {
	tx *bolt.Tx
}

func (s *snapshot) Get(key []byte) ([]byte, bool) {
	v := s.tx.Bucket(bucketStateLeaves).Get(key)
	if v == nil {
		return nil, false
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true
}

func (s *snapshot) Digest() types.Hash {
	return digestBucket(s.tx)
}

// fork is a mutable overlay over a bolt read transaction. Writes land in
// overlay/deleted maps, visible to Get/Digest on this fork but nowhere
// else, until Engine.Merge copies them into the committed bucket.
type fork struct {
	engine  *Engine
	base    *bolt.Tx
	overlay map[string][]byte
	deleted map[string]bool
	once    sync.Once
}

func (f *fork) Get(key []byte) ([]byte, bool) {
	k := string(key)
	if f.deleted[k] {
		return nil, false
	}
	if v, ok := f.overlay[k]; ok {
		return v, true
	}
	v := f.base.Bucket(bucketStateLeaves).Get(key)
	if v == nil {
		return nil, false
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true
}

func (f *fork) Put(key, value []byte) {
	k := string(key)
	delete(f.deleted, k)
	cp := make([]byte, len(value))
	copy(cp, value)
	f.overlay[k] = cp
}

func (f *fork) Delete(key []byte) {
	k := string(key)
	delete(f.overlay, k)
	f.deleted[k] = true
}

// Digest computes a content digest over the fork's visible state: the
// committed digest folded with every overlay write and deletion, in
// deterministic key order. Deterministic because map iteration never
// drives the byte stream directly — keys are sorted first.
func (f *fork) Digest() types.Hash {
	base := digestBucket(f.base)
	if len(f.overlay) == 0 && len(f.deleted) == 0 {
		return base
	}
	keys := make([]string, 0, len(f.overlay)+len(f.deleted))
	for k := range f.overlay {
		keys = append(keys, k)
	}
	for k := range f.deleted {
		keys = append(keys, k)
	}
	sortStrings(keys)

	hasher := blake3.New(32, nil)
	hasher.Write(base[:])
	for _, k := range keys {
		hasher.Write([]byte(k))
		if v, ok := f.overlay[k]; ok {
			hasher.Write([]byte{1})
			hasher.Write(v)
		} else {
			hasher.Write([]byte{0})
		}
	}
	var out types.Hash
	copy(out[:], hasher.Sum(nil))
	return out
}

func (f *fork) release() {
	f.once.Do(func() {
		_ = f.base.Rollback()
		f.engine.mu.Lock()
		f.engine.forkOutstanding = false
		f.engine.mu.Unlock()
	})
}

// digestBucket hashes every key/value in the state_tree bucket in bolt's
// natural (lexicographically sorted, B+tree) key order, which is already
// deterministic across nodes holding identical state.
func digestBucket(tx *bolt.Tx) types.Hash {
	hasher := blake3.New(32, nil)
	b := tx.Bucket(bucketStateLeaves)
	if b != nil {
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			hasher.Write(k)
			hasher.Write(v)
		}
	}
	var out types.Hash
	copy(out[:], hasher.Sum(nil))
	return out
}

func sortStrings(s []string) {
	// Small inputs (overlay sizes per block are bounded by txs_block_limit);
	// insertion sort keeps this allocation-free and avoids importing sort
	// for a single call site.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
