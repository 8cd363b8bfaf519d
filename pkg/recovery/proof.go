package recovery

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"time"
)

var (
	ErrInsufficientVouchers = errors.New("recovery: fewer than threshold distinct valid vouchers")
	ErrProofExpired         = errors.New("recovery: proof has expired")
	ErrMismatchedBinding    = errors.New("recovery: voucher does not bind the proof's (old_pk, new_pk) pair")
)

// Proof is spec.md §4.7's RecoveryProof: a bag of vouchers the recovering
// user aggregates and uploads to the Broker under mailbox-id =
// hash(old_pk). ClaimTimestamp is carried alongside so a receiver who never
// saw the original Claim can still re-check the 48h acceptance window
// independently of whoever built the Proof.
type Proof struct {
	OldPublic      []byte
	NewPublic      []byte
	Threshold      int
	ClaimTimestamp time.Time
	Vouchers       []Voucher
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// MailboxIDFor is the Broker routing key a Proof is uploaded/retrieved
// under: hash(old_pk).
func MailboxIDFor(oldPublic []byte) [32]byte {
	return sha256.Sum256(oldPublic)
}

// BuildProof aggregates vouchers gathered for claim into a Proof. Vouchers
// that don't bind claim's exact (old_pk, new_pk) pair, fall outside the
// 48h acceptance window, carry a duplicate voucher_pk, or fail signature
// verification are dropped rather than causing the whole aggregation to
// fail; BuildProof only fails if fewer than threshold distinct valid
// vouchers remain.
func BuildProof(claim Claim, vouchers []Voucher, threshold int, now time.Time) (Proof, error) {
	if threshold < MinThreshold || threshold > MaxThreshold {
		return Proof{}, ErrThresholdOutOfRange
	}

	seen := make(map[string]struct{}, len(vouchers))
	distinct := make([]Voucher, 0, len(vouchers))
	for _, v := range vouchers {
		if !bytes.Equal(v.OldPublic, claim.OldPublic) || !bytes.Equal(v.NewPublic, claim.NewPublic) {
			continue
		}
		if v.Timestamp.Before(claim.Timestamp) || v.Timestamp.Sub(claim.Timestamp) > VoucherWindow {
			continue
		}
		if err := VerifyVoucher(v); err != nil {
			continue
		}
		key := string(v.VoucherPublic)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		distinct = append(distinct, v)
	}

	if len(distinct) < threshold {
		return Proof{}, ErrInsufficientVouchers
	}

	createdAt := now.UTC()
	return Proof{
		OldPublic:      claim.OldPublic,
		NewPublic:      claim.NewPublic,
		Threshold:      threshold,
		ClaimTimestamp: claim.Timestamp,
		Vouchers:       distinct,
		CreatedAt:      createdAt,
		ExpiresAt:      createdAt.Add(ProofTTL),
	}, nil
}

// Confidence is the trust level a verifying peer assigns to an accepted
// Proof, based on how many of its vouchers come from the peer's own
// contacts.
type Confidence int

const (
	Low Confidence = iota
	Medium
	High
)

func (c Confidence) String() string {
	switch c {
	case High:
		return "high"
	case Medium:
		return "medium"
	default:
		return "low"
	}
}

// VerifyProof re-validates every voucher in proof (signature, binding,
// window, distinctness) independent of whatever aggregation the uploader
// did, checks the K-of-N threshold, and scores confidence by how many
// voucher_pks appear in the verifying peer's own mutual-contact set.
func VerifyProof(proof Proof, now time.Time, mutualContacts map[string]struct{}, verificationThreshold int) (Confidence, error) {
	if proof.Threshold < MinThreshold || proof.Threshold > MaxThreshold {
		return Low, ErrThresholdOutOfRange
	}
	if now.After(proof.ExpiresAt) {
		return Low, ErrProofExpired
	}

	seen := make(map[string]struct{}, len(proof.Vouchers))
	mutual := 0
	for _, v := range proof.Vouchers {
		if !bytes.Equal(v.OldPublic, proof.OldPublic) || !bytes.Equal(v.NewPublic, proof.NewPublic) {
			return Low, ErrMismatchedBinding
		}
		if v.Timestamp.Before(proof.ClaimTimestamp) || v.Timestamp.Sub(proof.ClaimTimestamp) > VoucherWindow {
			return Low, ErrVoucherOutOfWindow
		}
		if err := VerifyVoucher(v); err != nil {
			return Low, err
		}
		key := string(v.VoucherPublic)
		if _, dup := seen[key]; dup {
			return Low, ErrInsufficientVouchers
		}
		seen[key] = struct{}{}

		if _, ok := mutualContacts[key]; ok {
			mutual++
		}
	}

	if len(seen) < proof.Threshold {
		return Low, ErrInsufficientVouchers
	}

	switch {
	case mutual >= verificationThreshold:
		return High, nil
	case mutual > 0:
		return Medium, nil
	default:
		return Low, nil
	}
}

// Conflicts reports whether a and b are two Proofs for the same old
// identity claiming different new identities — spec.md §4.7's conflict
// case, which clients must surface to the user rather than resolve
// automatically.
func Conflicts(a, b Proof) bool {
	return bytes.Equal(a.OldPublic, b.OldPublic) && !bytes.Equal(a.NewPublic, b.NewPublic)
}
