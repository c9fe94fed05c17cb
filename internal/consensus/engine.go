// Package consensus implements the consensus state machine of spec.md
// §4.3: one BFT round-protocol instance per height, run as a
// single-threaded cooperative event loop per spec.md §5. Structurally this
// follows the teacher's internal/consensus package's ctx/cancel/wg
// lifecycle and startOnce/stopOnce guards, but the engine loop itself
// replaces the teacher's polling "check chain height every second" shape
// with a blocking select over a unified event channel, since spec.md §5
// mandates strict-arrival-order draining rather than periodic polling.
package consensus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"go.uber.org/zap"

	"github.com/pallaschain/pallas/internal/config"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/executor"
	"github.com/pallaschain/pallas/internal/mempool"
	"github.com/pallaschain/pallas/internal/metrics"
	"github.com/pallaschain/pallas/internal/p2p"
	"github.com/pallaschain/pallas/internal/storage"
	"github.com/pallaschain/pallas/internal/store"
	"github.com/pallaschain/pallas/internal/types"
)

// Step is a position within a round's Propose→Prevote→Precommit→Commit
// cycle (spec.md §4.3.1).
type Step uint8

const (
	StepPropose Step = iota
	StepPrevote
	StepPrecommit
	StepCommit
)

func (s Step) String() string {
	switch s {
	case StepPropose:
		return "propose"
	case StepPrevote:
		return "prevote"
	case StepPrecommit:
		return "precommit"
	case StepCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// futureHeightWindow bounds how many heights beyond the current one the
// engine will queue messages for, per spec.md §4.3.5: "Messages from a
// future height are queued, not executed, up to a small window; older ones
// are discarded."
const futureHeightWindow = 5

// Engine runs the round protocol for one node. All fields below the event
// loop section are owned exclusively by the run-loop goroutine once
// Start() is called; spec.md §5 requires no locking for per-height state
// because only the single loop goroutine ever touches it.
type Engine struct {
	privKey *secp256k1.PrivateKey
	pubKey  []byte
	self    types.ValidatorIndex

	validatorSets ValidatorSetSource
	msgStore      *store.Store
	pool          *mempool.Pool
	link          p2p.PeerLink
	exec          executor.Executor
	storageEngine *storage.Engine
	logger        *zap.Logger
	metrics       *metrics.Metrics
	cfg           config.ConsensusConfig
	maxMessageLen int

	events chan event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool

	// Round state (spec.md §4.3.2), touched only from the run loop.
	height types.Height
	round  types.Round
	step   Step

	// heightGauge mirrors height for cross-goroutine reads (Height()),
	// since height itself is owned exclusively by the run loop per
	// spec.md §5 and must never be read from another goroutine directly.
	heightGauge atomic.Uint64

	lockedValue types.Hash
	lockedSet   bool
	lockedRound types.Round

	validValue types.Hash
	validSet   bool
	validRound types.Round

	prevBlockHash types.Hash
	genesisHash   types.Hash // immutable after construction, unlike prevBlockHash
	roundStart    time.Time

	generation           uint64 // bumped on every enterNewRound; stale timer events carry a stale generation
	prevoteTimerArmed    bool
	precommitTimerArmed  bool
	committedAnyThisRnd  bool // guards against re-entrant commit attempts within one handler pass

	futureHeights map[types.Height][]pendingMessage

	requester Requester // optional; nil means unknown dependencies are never pulled

	onFatal func(error) // invoked once, from the run loop, on a fatal error
}

// Requester is the subset of internal/sync's Syncer the consensus engine
// needs: issuing a bounded-retry pull for a referenced-but-missing message
// (spec.md §4.3.5's UnknownDependency handling, which hands off to
// spec.md §4.4's requester), and cancelling outstanding pulls once a height
// they targeted is behind us. Declared here, not in package sync, so
// consensus never imports sync (sync already imports consensus-adjacent
// packages only one level deep; this keeps the dependency graph acyclic).
type Requester interface {
	RequestMessage(kind types.MessageKind, hash types.Hash, height types.Height)
	CancelPullsBelow(height types.Height)
}

// pendingMessage is a deferred future-height message, per spec.md §4.3.5.
type pendingMessage struct {
	peerID   string
	envelope *p2p.Envelope
}

// Config bundles everything New needs to construct an Engine.
type Config struct {
	PrivateKey    *secp256k1.PrivateKey
	SelfIndex     types.ValidatorIndex
	ValidatorSets ValidatorSetSource
	MessageStore  *store.Store
	Pool          *mempool.Pool
	Link          p2p.PeerLink
	Executor      executor.Executor
	Storage       *storage.Engine
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Consensus     config.ConsensusConfig
	MaxMessageLen int
	GenesisHash   types.Hash
	Requester     Requester
	OnFatal       func(error)
}

// New constructs an Engine ready to Start at height 1.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onFatal := cfg.OnFatal
	if onFatal == nil {
		onFatal = func(error) {}
	}
	eng := &Engine{
		privKey:       cfg.PrivateKey,
		pubKey:        crypto.PublicKeyBytes(cfg.PrivateKey),
		self:          cfg.SelfIndex,
		validatorSets: cfg.ValidatorSets,
		msgStore:      cfg.MessageStore,
		pool:          cfg.Pool,
		link:          cfg.Link,
		exec:          cfg.Executor,
		storageEngine: cfg.Storage,
		logger:        logger,
		metrics:       cfg.Metrics,
		cfg:           cfg.Consensus,
		maxMessageLen: cfg.MaxMessageLen,
		events:        make(chan event, 4096),
		height:        1,
		round:         0,
		step:          StepPropose,
		lockedRound:   types.NoRound,
		validRound:    types.NoRound,
		prevBlockHash: cfg.GenesisHash,
		genesisHash:   cfg.GenesisHash,
		futureHeights: make(map[types.Height][]pendingMessage),
		requester:     cfg.Requester,
		onFatal:       onFatal,
	}
	eng.heightGauge.Store(1)
	return eng
}

// Start launches the run loop and the inbound-message pump from the peer
// transport.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.ctx, e.cancel = context.WithCancel(ctx)
		e.running.Store(true)

		e.wg.Add(2)
		go e.pumpInbound()
		go e.run()
	})
}

// Stop cancels the run loop and waits for it to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		e.running.Store(false)
	})
}

// SubmitTransaction enqueues a transaction submission event. Safe to call
// from any goroutine; actual pool admission happens on the run loop.
func (e *Engine) SubmitTransaction(raw, pubKey []byte) {
	select {
	case e.events <- txSubmittedEvent{raw: raw, pubKey: pubKey}:
	case <-e.ctx.Done():
	}
}

func (e *Engine) pumpInbound() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case in, ok := <-e.link.Receive():
			if !ok {
				return
			}
			select {
			case e.events <- inboundMessageEvent{peerID: in.PeerID, envelope: in.Envelope}:
			case <-e.ctx.Done():
				return
			}
		}
	}
}

// run is the single-threaded cooperative loop of spec.md §5: it drains
// e.events in strict arrival order; only waiting on the channel itself or
// on a worker-offloaded task (none are offloaded yet in this
// implementation — signature verification is cheap enough to run inline,
// matching the teacher's synchronous validation.go) may suspend it.
func (e *Engine) run() {
	defer e.wg.Done()
	e.enterNewHeight()

	for {
		select {
		case <-e.ctx.Done():
			return
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

func (e *Engine) handle(ev event) {
	switch v := ev.(type) {
	case inboundMessageEvent:
		e.handleInbound(v)
	case txSubmittedEvent:
		e.handleTxSubmitted(v)
	case timerFiredEvent:
		e.handleTimer(v)
	}
}

func (e *Engine) handleTxSubmitted(v txSubmittedEvent) {
	var tx types.Transaction
	if err := p2p.DecodePayload(v.raw, &tx); err != nil {
		e.logger.Debug("dropping malformed transaction submission", zap.Error(err))
		return
	}
	kind := e.pool.Submit(&tx, v.pubKey)
	if kind != mempool.RejectNone {
		e.logger.Debug("transaction rejected", zap.String("reason", kind.String()))
	}
	if e.metrics != nil {
		e.metrics.MempoolSize.Set(float64(e.pool.Size()))
	}
}

func (e *Engine) fatal(err error) {
	e.logger.Error("fatal consensus error, aborting", zap.Error(err))
	e.onFatal(err)
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) currentValidatorSet() (*types.ValidatorSet, bool) {
	return e.validatorSets.ValidatorSet(e.height)
}

// SetRequester wires the dependency-pull collaborator after construction,
// breaking the otherwise-circular New(): internal/sync's Syncer needs an
// Engine as its HeightProvider, and the Engine needs the Syncer as its
// Requester. Callers must call this before Start.
func (e *Engine) SetRequester(r Requester) { e.requester = r }

// Height reports the height the engine is currently working to commit, safe
// to call from any goroutine (e.g. internal/sync's HeightProvider). It
// mirrors e.height, which is otherwise owned exclusively by the run loop.
func (e *Engine) Height() types.Height {
	return types.Height(e.heightGauge.Load())
}

// GenesisHash reports the chain's genesis hash, fixed at construction and
// safe to call from any goroutine — unlike e.prevBlockHash, it never
// changes after New returns. internal/sync's block-sync path needs it to
// verify a height-1 block's PrevBlockHash without re-deriving it.
func (e *Engine) GenesisHash() types.Hash {
	return e.genesisHash
}
