package types

import "fmt"

// Validator is one member of a height's ValidatorSet: a consensus public key
// and the did:key identity derived from it. Unlike the teacher's PoS
// Validator, there is no stake field — quorum weight here is one vote per
// validator, not proportional to stake.
type Validator struct {
	Index  ValidatorIndex
	PubKey []byte // compressed secp256k1 public key
	DID    string // did:key identity, for logging/audit only
}

func (v Validator) String() string {
	return fmt.Sprintf("validator#%d(%s)", v.Index, v.DID)
}

// ValidatorSet is the ordered list of consensus public keys effective at a
// height. It is immutable once constructed; a height transition installs a
// new ValidatorSet rather than mutating one in place.
type ValidatorSet struct {
	Height     Height
	Validators []Validator
}

// NewValidatorSet builds a set, assigning Index in slice order.
func NewValidatorSet(height Height, pubKeys [][]byte, dids []string) *ValidatorSet {
	vs := &ValidatorSet{Height: height, Validators: make([]Validator, len(pubKeys))}
	for i, pk := range pubKeys {
		did := ""
		if i < len(dids) {
			did = dids[i]
		}
		vs.Validators[i] = Validator{Index: ValidatorIndex(i), PubKey: pk, DID: did}
	}
	return vs
}

// Size is N, the total validator count (N = 3f+1).
func (vs *ValidatorSet) Size() int { return len(vs.Validators) }

// MaxFaulty is f, the maximum tolerated number of Byzantine validators.
func (vs *ValidatorSet) MaxFaulty() int {
	n := vs.Size()
	if n == 0 {
		return 0
	}
	return (n - 1) / 3
}

// QuorumThreshold is the smallest vote count that guarantees overlap with any
// other quorum: floor(2N/3)+1, which equals 2f+1 when N = 3f+1 exactly
// (3 for N=4, 1 for N=1).
func (vs *ValidatorSet) QuorumThreshold() int {
	n := vs.Size()
	return (2*n)/3 + 1
}

// BlockingThreshold is f+1, the smallest count that cannot consist solely of
// Byzantine validators — used by the round-skip rule.
func (vs *ValidatorSet) BlockingThreshold() int { return vs.MaxFaulty() + 1 }

// ByIndex looks up a validator by its position in the set.
func (vs *ValidatorSet) ByIndex(idx ValidatorIndex) (Validator, bool) {
	if int(idx) < 0 || int(idx) >= len(vs.Validators) {
		return Validator{}, false
	}
	return vs.Validators[idx], true
}

// Proposer returns the validator scheduled to propose at round, by plain
// round-robin over the validator index (round mod N), per spec.md §4.3.1.
// The height does not affect the choice.
func (vs *ValidatorSet) Proposer(round Round) Validator {
	n := vs.Size()
	if n == 0 {
		return Validator{}
	}
	idx := ValidatorIndex(uint64(round) % uint64(n))
	v, _ := vs.ByIndex(idx)
	return v
}
