// Package cli builds pallasd's command tree with github.com/spf13/cobra,
// the same root/subcommand shape the teacher's cmd/empower1d/cli/cli.go
// uses, generalized from its single addblock/printchain pair to the three
// subcommands a validator node actually needs: run, init, and keygen.
package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pallaschain/pallas/internal/config"
	"github.com/pallaschain/pallas/internal/consensus"
	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/executor"
	"github.com/pallaschain/pallas/internal/genesis"
	"github.com/pallaschain/pallas/internal/mempool"
	"github.com/pallaschain/pallas/internal/metrics"
	"github.com/pallaschain/pallas/internal/p2p"
	"github.com/pallaschain/pallas/internal/storage"
	"github.com/pallaschain/pallas/internal/store"
	"github.com/pallaschain/pallas/internal/sync"
	"github.com/pallaschain/pallas/internal/types"
)

// mempoolCapacity bounds the pending-transaction pool. spec.md §6.6 does
// not expose a config key for it, so a single generous default is used
// rather than inventing a new config surface for one constant.
const mempoolCapacity = 8192

// NewRoot builds the pallasd root command.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "pallasd",
		Short: "pallasd runs one validator node of a pallas BFT network.",
	}
	root.AddCommand(newRunCmd(), newInitCmd(), newKeygenCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a validator node until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional; defaults layer underneath)")
	return cmd
}

// runNode's cleanup accumulates independent close errors (storage, transport,
// logger) via go.uber.org/multierr rather than reporting only the first one
// encountered, since each resource closing is an unrelated failure a
// shutting-down operator needs to see in full.
func runNode(configPath string) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("pallasd: %w", err)
	}
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("pallasd: %w", err)
	}
	defer func() { err = multierr.Append(err, logger.Sync()) }()

	doc, err := genesis.Load(cfg.Node.GenesisFile)
	if err != nil {
		return fmt.Errorf("pallasd: %w: %w", consensus.ErrGenesisUnverifiable, err)
	}
	genesisSet, err := doc.ValidatorSet()
	if err != nil {
		return fmt.Errorf("pallasd: %w: %w", consensus.ErrGenesisUnverifiable, err)
	}

	priv, err := crypto.LoadPrivateKeyPEM(cfg.Node.KeyFile)
	if err != nil {
		return fmt.Errorf("pallasd: load validator key: %w", err)
	}
	pub := crypto.PublicKeyBytes(priv)
	selfIndex, ok := indexOf(genesisSet, pub)
	if !ok {
		return fmt.Errorf("pallasd: this node's key is not a member of the genesis validator set")
	}
	did, _ := crypto.DIDKey(pub)
	logger.Info("node identity", zap.Uint16("validator_index", uint16(selfIndex)), zap.String("did", did))

	storageEngine, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("pallasd: open storage: %w", err)
	}
	defer func() { err = multierr.Append(err, storageEngine.Close()) }()

	validatorSets := consensus.NewValidatorSetRegistry(genesisSet)
	msgStore := store.New(validatorSets)
	pool := mempool.New(mempoolCapacity, cfg.Network.MaxMessageLen, storageEngine)
	exec := executor.NewNoopExecutor()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		serveMetrics(cfg.Metrics.Address, reg, logger)
	}

	host, err := p2p.NewHost(cfg.Network.ListenAddr, logger)
	if err != nil {
		return fmt.Errorf("pallasd: start transport: %w", err)
	}
	defer func() { err = multierr.Append(err, host.Close()) }()
	logger.Info("listening", zap.Strings("addrs", addrStrings(host)), zap.String("peer_id", host.ID()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, addr := range cfg.Network.Bootstrap {
		if err := host.Connect(ctx, addr); err != nil {
			logger.Warn("bootstrap peer unreachable", zap.String("addr", addr), zap.Error(err))
		}
	}

	router := p2p.NewRouter(host)
	consensusLink := router.View()
	syncLink := router.View()

	engine := consensus.New(consensus.Config{
		PrivateKey:    priv,
		SelfIndex:     selfIndex,
		ValidatorSets: validatorSets,
		MessageStore:  msgStore,
		Pool:          pool,
		Link:          consensusLink,
		Executor:      exec,
		Storage:       storageEngine,
		Logger:        logger.Named("consensus"),
		Metrics:       m,
		Consensus:     cfg.Consensus,
		MaxMessageLen: cfg.Network.MaxMessageLen,
		GenesisHash:   doc.Hash(),
		OnFatal: func(err error) {
			logger.Error("consensus engine halted", zap.Error(err))
			cancel()
		},
	})

	syncer := sync.New(syncLink, msgStore, storageEngine, exec, pool, validatorSets, engine,
		logger.Named("sync"), m, cfg.Network.StatusTimeout, cfg.Network.PeersTimeout)
	engine.SetRequester(syncer)

	go router.Run(ctx)
	engine.Start(ctx)
	syncer.Start(ctx)

	<-ctx.Done()
	logger.Info("shutting down")
	syncer.Stop()
	engine.Stop()
	return nil
}

func indexOf(vs *types.ValidatorSet, pubKey []byte) (types.ValidatorIndex, bool) {
	for _, v := range vs.Validators {
		if bytes.Equal(v.PubKey, pubKey) {
			return v.Index, true
		}
	}
	return 0, false
}

func addrStrings(h *p2p.Host) []string {
	addrs := h.Addrs()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

// buildLogger constructs a zap.Logger from the node's logging config,
// matching the teacher's go.mod choice of go.uber.org/zap even though the
// teacher's own main.go never called it.
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	var zcfg zap.Config
	if cfg.Encoding == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.Encoding = cfg.Encoding
	return zcfg.Build()
}
