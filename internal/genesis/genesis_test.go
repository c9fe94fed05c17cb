package genesis

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/pallaschain/pallas/internal/crypto"
)

func mustValidator(t *testing.T) Validator {
	t.Helper()
	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return Validator{PublicKey: hex.EncodeToString(crypto.PublicKeyBytes(priv))}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	doc := &Document{ChainID: "pallas-test", Validators: []Validator{mustValidator(t), mustValidator(t)}}
	path := filepath.Join(t.TempDir(), "genesis.json")

	if err := Save(doc, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ChainID != doc.ChainID || len(loaded.Validators) != len(doc.Validators) {
		t.Fatalf("round trip mismatch: got %+v", loaded)
	}
}

func TestLoadRejectsEmptyValidatorSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := Save(&Document{ChainID: "pallas-test"}, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected Load to reject a genesis document with no validators")
	}
}

func TestValidatorSetRejectsBadPublicKeyLength(t *testing.T) {
	doc := &Document{ChainID: "pallas-test", Validators: []Validator{{PublicKey: hex.EncodeToString([]byte{1, 2, 3})}}}
	if _, err := doc.ValidatorSet(); err == nil {
		t.Fatalf("expected ValidatorSet to reject a short public key")
	}
}

func TestValidatorSetDerivesDIDPerValidator(t *testing.T) {
	doc := &Document{ChainID: "pallas-test", Validators: []Validator{mustValidator(t), mustValidator(t)}}
	vs, err := doc.ValidatorSet()
	if err != nil {
		t.Fatalf("ValidatorSet: %v", err)
	}
	if len(vs.Validators) != 2 {
		t.Fatalf("expected 2 validators, got %d", len(vs.Validators))
	}
	for _, v := range vs.Validators {
		if v.DID == "" {
			t.Fatalf("validator %d has no did:key identity", v.Index)
		}
	}
}

func TestHashIsStableAndOrderSensitive(t *testing.T) {
	v1, v2 := mustValidator(t), mustValidator(t)
	docA := &Document{ChainID: "pallas-test", Validators: []Validator{v1, v2}}
	docB := &Document{ChainID: "pallas-test", Validators: []Validator{v2, v1}}

	if docA.Hash() != docA.Hash() {
		t.Fatalf("Hash is not deterministic across calls")
	}
	if docA.Hash() == docB.Hash() {
		t.Fatalf("Hash should depend on validator order")
	}

	docC := &Document{ChainID: "other-chain", Validators: []Validator{v1, v2}}
	if docA.Hash() == docC.Hash() {
		t.Fatalf("Hash should depend on chain ID")
	}
}
