package cli

import (
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pallaschain/pallas/internal/crypto"
	"github.com/pallaschain/pallas/internal/genesis"
)

func newKeygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new validator signing key.",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := crypto.GenerateKeyPair()
			if err != nil {
				return fmt.Errorf("pallasd keygen: %w", err)
			}
			if err := crypto.SavePrivateKeyPEM(priv, out); err != nil {
				return fmt.Errorf("pallasd keygen: %w", err)
			}
			pub := crypto.PublicKeyBytes(priv)
			did, err := crypto.DIDKey(pub)
			if err != nil {
				return fmt.Errorf("pallasd keygen: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key written to %s\npublic_key: %s\n%s\n", out, hex.EncodeToString(pub), did)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "./data/validator.key", "output path for the generated PEM key")
	return cmd
}

func newInitCmd() *cobra.Command {
	var chainID string
	var validatorCount int
	var outFile string
	var keysDir string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a genesis document and a signing key per validator.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if validatorCount < 1 {
				return fmt.Errorf("pallasd init: --validators must be at least 1")
			}
			doc := &genesis.Document{ChainID: chainID}
			for i := 0; i < validatorCount; i++ {
				priv, err := crypto.GenerateKeyPair()
				if err != nil {
					return fmt.Errorf("pallasd init: %w", err)
				}
				keyPath := filepath.Join(keysDir, fmt.Sprintf("validator-%d.key", i))
				if err := crypto.SavePrivateKeyPEM(priv, keyPath); err != nil {
					return fmt.Errorf("pallasd init: %w", err)
				}
				pub := crypto.PublicKeyBytes(priv)
				doc.Validators = append(doc.Validators, genesis.Validator{PublicKey: hex.EncodeToString(pub)})
				fmt.Fprintf(cmd.OutOrStdout(), "validator %d: key=%s\n", i, keyPath)
			}
			if err := genesis.Save(doc, outFile); err != nil {
				return fmt.Errorf("pallasd init: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "genesis written to %s (hash %x)\n", outFile, doc.Hash())
			return nil
		},
	}
	cmd.Flags().StringVar(&chainID, "chain-id", "pallas-devnet", "chain identifier recorded in the genesis document")
	cmd.Flags().IntVar(&validatorCount, "validators", 4, "number of validators to bootstrap (N = 3f+1)")
	cmd.Flags().StringVar(&outFile, "out", "./genesis.json", "output path for the genesis document")
	cmd.Flags().StringVar(&keysDir, "keys-dir", "./data", "directory to write each validator's signing key into")
	return cmd
}
