package config

import "testing"

func TestDefaultIsSelfConsistent(t *testing.T) {
	cfg := Default()
	if cfg.Consensus.MinProposeTimeout >= cfg.Consensus.MaxProposeTimeout {
		t.Fatalf("expected min_propose_timeout < max_propose_timeout")
	}
	if cfg.Consensus.TxsBlockLimit <= 0 {
		t.Fatalf("expected a positive txs_block_limit")
	}
}

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Path != Default().Storage.Path {
		t.Fatalf("expected default storage path when no config file given")
	}
}
