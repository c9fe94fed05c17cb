package consensus

import "errors"

// Error kinds from spec.md §7. These are sentinel values rather than a
// language-level exception hierarchy, matching how the teacher's packages
// expose var-declared sentinel errors (see internal/crypto's Err* values).
var (
	// ErrMalformedMessage: decoding failure or field-level violation.
	// Handling: drop message, log at debug level. Non-fatal.
	ErrMalformedMessage = errors.New("consensus: malformed message")

	// ErrBadSignature: signature verification failed.
	// Handling: drop message and count it in the messages-dropped metric
	// (reason "bad_signature"); peer scores are not changed. Non-fatal.
	ErrBadSignature = errors.New("consensus: bad signature")

	// ErrEquivocation: two signed messages from the same validator in one
	// slot. Handling: store both, do not double-count, surface as evidence.
	// Non-fatal.
	ErrEquivocation = errors.New("consensus: equivocation")

	// ErrUnknownDependency: a valid message references an unknown proposal
	// or transaction. Handling: keep the message, trigger the requester.
	// Non-fatal.
	ErrUnknownDependency = errors.New("consensus: unknown dependency")

	// ErrConflict: message conflicts with local history (e.g. old height).
	// Handling: drop silently. Non-fatal.
	ErrConflict = errors.New("consensus: conflict with local history")

	// ErrPoolRejected: transaction admission refused. Handling: report to
	// submitter. Non-fatal.
	ErrPoolRejected = errors.New("consensus: transaction rejected by pool")

	// ErrStorageFailure: underlying store failed. Fatal — aborts the node.
	ErrStorageFailure = errors.New("consensus: storage failure")

	// ErrExecutorFailure: executor returned a block-level failure,
	// indicating non-determinism or genesis misconfiguration. Fatal.
	ErrExecutorFailure = errors.New("consensus: executor failure")

	// ErrGenesisUnverifiable: the genesis block could not be verified at
	// startup. Fatal.
	ErrGenesisUnverifiable = errors.New("consensus: genesis block unverifiable")

	// ErrKeyUnavailable: the local signing key could not be loaded. Fatal.
	ErrKeyUnavailable = errors.New("consensus: signing key unavailable")
)

// IsFatal reports whether err (or one it wraps) is one of the four fatal
// kinds: storage failure, executor failure, unverifiable genesis, or an
// unavailable signing key (spec.md §4.3.6 / §7).
func IsFatal(err error) bool {
	return errors.Is(err, ErrStorageFailure) ||
		errors.Is(err, ErrExecutorFailure) ||
		errors.Is(err, ErrGenesisUnverifiable) ||
		errors.Is(err, ErrKeyUnavailable)
}
