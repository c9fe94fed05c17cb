package types

// Transaction is an opaque unit of work for the external executor. The
// consensus core never interprets Payload; it only orders, hashes, and
// signs-checks transactions well enough to admit them to the pool and
// reference them from proposals. Service/application semantics (what
// Payload means) are explicitly out of scope per spec.md §1.
type Transaction struct {
	Hash      Hash
	From      []byte // sender's consensus-style public key, for signature checks
	Payload   []byte
	Signature Signature
	// ArrivalEpoch orders transactions deterministically across honest
	// nodes that received them at different wall-clock times but admitted
	// them in the same relative order (spec.md §4.2: "sort by
	// (arrival-epoch, tx_hash)"). It is a logical counter assigned by the
	// pool on admission, not a timestamp.
	ArrivalEpoch uint64
}

// TxOutcome records the per-transaction result of executing a block, per
// spec.md §6.1.
type TxOutcome struct {
	TxHash  Hash
	Success bool
	Error   string
}
