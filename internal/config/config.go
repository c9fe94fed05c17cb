// Package config loads node configuration via github.com/spf13/viper, the
// same viper+mapstructure pattern the retrieval pack's REChain and
// Litechain config packages use, adapted to the configuration keys this
// repository actually recognizes (spec.md §6.6) plus the ambient node,
// network, and storage sections every running node needs.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a node.
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Network   NetworkConfig   `mapstructure:"network"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// NodeConfig holds node identity and filesystem layout.
type NodeConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	KeyFile    string `mapstructure:"key_file"`
	GenesisFile string `mapstructure:"genesis_file"`
}

// NetworkConfig holds peer transport configuration.
type NetworkConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	Bootstrap      []string      `mapstructure:"bootstrap"`
	StatusTimeout  time.Duration `mapstructure:"status_timeout"`
	PeersTimeout   time.Duration `mapstructure:"peers_timeout"`
	MaxMessageLen  int           `mapstructure:"max_message_len"`
}

// StorageConfig holds the boltdb-backed storage engine's path.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// ConsensusConfig holds the round-timing and block-size keys of spec.md
// §6.6: `{first_round_timeout, min_propose_timeout, max_propose_timeout,
// propose_timeout_threshold, txs_block_limit}` (status_timeout,
// peers_timeout and max_message_len live under NetworkConfig, since they
// govern internal/sync's gossip cadence and message size rather than round
// timing).
type ConsensusConfig struct {
	FirstRoundTimeout       time.Duration `mapstructure:"first_round_timeout"`
	MinProposeTimeout       time.Duration `mapstructure:"min_propose_timeout"`
	MaxProposeTimeout       time.Duration `mapstructure:"max_propose_timeout"`
	ProposeTimeoutThreshold int           `mapstructure:"propose_timeout_threshold"`
	TxsBlockLimit           int           `mapstructure:"txs_block_limit"`
}

// LoggingConfig mirrors the zap setup the teacher's cmd/empower1d CLI
// wires: a level and an encoding format.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// MetricsConfig controls the Prometheus exporter in internal/metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Default returns the out-of-the-box configuration, the same role the
// teacher's (and REChain's) DefaultConfig plays: every viper default is set
// from here so a node can run with zero configuration files.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir:     "./data",
			KeyFile:     "./data/validator.key",
			GenesisFile: "./genesis.json",
		},
		Network: NetworkConfig{
			ListenAddr:    "/ip4/0.0.0.0/tcp/26656",
			Bootstrap:     []string{},
			StatusTimeout: 5 * time.Second,
			PeersTimeout:  15 * time.Second,
			MaxMessageLen: 1 << 20,
		},
		Storage: StorageConfig{
			Path: "./data/state.db",
		},
		Consensus: ConsensusConfig{
			FirstRoundTimeout:       3 * time.Second,
			MinProposeTimeout:       1 * time.Second,
			MaxProposeTimeout:       8 * time.Second,
			ProposeTimeoutThreshold: 1000,
			TxsBlockLimit:           5000,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "0.0.0.0:9091",
		},
	}
}

// Load reads configuration from configPath (if non-empty) layered over
// Default()'s values, with RECHAIN-style environment variable overrides
// under the PALLAS_ prefix.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	v.SetDefault("node.data_dir", cfg.Node.DataDir)
	v.SetDefault("node.key_file", cfg.Node.KeyFile)
	v.SetDefault("node.genesis_file", cfg.Node.GenesisFile)
	v.SetDefault("network.listen_addr", cfg.Network.ListenAddr)
	v.SetDefault("network.bootstrap", cfg.Network.Bootstrap)
	v.SetDefault("network.status_timeout", cfg.Network.StatusTimeout)
	v.SetDefault("network.peers_timeout", cfg.Network.PeersTimeout)
	v.SetDefault("network.max_message_len", cfg.Network.MaxMessageLen)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("consensus.first_round_timeout", cfg.Consensus.FirstRoundTimeout)
	v.SetDefault("consensus.min_propose_timeout", cfg.Consensus.MinProposeTimeout)
	v.SetDefault("consensus.max_propose_timeout", cfg.Consensus.MaxProposeTimeout)
	v.SetDefault("consensus.propose_timeout_threshold", cfg.Consensus.ProposeTimeoutThreshold)
	v.SetDefault("consensus.txs_block_limit", cfg.Consensus.TxsBlockLimit)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.encoding", cfg.Logging.Encoding)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.address", cfg.Metrics.Address)

	v.SetEnvPrefix("PALLAS")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
