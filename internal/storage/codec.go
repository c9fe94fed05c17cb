package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/pallaschain/pallas/internal/types"
)

// Persisted blocks, commit certificates, and outcomes are framed with
// encoding/gob, matching the teacher's own internal/core/transaction.go,
// which gobs transactions for both disk and network use. Gob is only ever
// used for storage/wire framing here, never for anything that feeds a
// content hash — see internal/canon's package doc.

func encodeBlock(b *types.Block) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		panic(fmt.Sprintf("storage: encodeBlock: %v", err)) // gob-encoding a plain struct cannot fail
	}
	return buf.Bytes()
}

func decodeBlock(raw []byte) (*types.Block, error) {
	var b types.Block
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return &b, nil
}

func encodeCertificate(c *types.CommitCertificate) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		panic(fmt.Sprintf("storage: encodeCertificate: %v", err))
	}
	return buf.Bytes()
}

func decodeCertificate(raw []byte) (*types.CommitCertificate, error) {
	var c types.CommitCertificate
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode certificate: %w", err)
	}
	return &c, nil
}

func encodeOutcome(o types.TxOutcome) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(o); err != nil {
		panic(fmt.Sprintf("storage: encodeOutcome: %v", err))
	}
	return buf.Bytes()
}

func decodeOutcome(raw []byte) (types.TxOutcome, error) {
	var o types.TxOutcome
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&o); err != nil {
		return types.TxOutcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	return o, nil
}

func encodeTransaction(t types.Transaction) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(t); err != nil {
		panic(fmt.Sprintf("storage: encodeTransaction: %v", err))
	}
	return buf.Bytes()
}

func decodeTransaction(raw []byte) (*types.Transaction, error) {
	var t types.Transaction
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &t, nil
}
