// Package recovery implements the K-of-N social recovery protocol of
// spec.md §4.7: a user who has lost their seed produces a signed Claim
// binding their old identity to a freshly generated one, existing contacts
// vouch for that binding after in-person verification, and the recovering
// user aggregates K-of-N vouchers into a Proof other contacts can verify
// and act on.
package recovery

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/vauchi-app/core/pkg/attest"
	"github.com/vauchi-app/core/pkg/identity"
)

const (
	// DefaultThreshold is spec.md's recovery-threshold K.
	DefaultThreshold = 3
	MinThreshold     = 1
	MaxThreshold     = 10

	// DefaultVerificationThreshold is the mutual-contact count a receiver
	// requires to auto-accept a Proof at High confidence.
	DefaultVerificationThreshold = 2

	// VoucherWindow bounds how long after a Claim's own timestamp a
	// Voucher may be issued.
	VoucherWindow = 48 * time.Hour

	// ProofTTL bounds how long an aggregated Proof remains acceptable.
	ProofTTL = 90 * 24 * time.Hour
)

var (
	ErrInvalidSignature    = errors.New("recovery: invalid signature")
	ErrVoucherOutOfWindow  = errors.New("recovery: voucher issued outside the claim's acceptance window")
	ErrThresholdOutOfRange = errors.New("recovery: threshold must be between 1 and 10")
)

// Claim is spec.md §4.7's RecoveryClaim: generated by the recovering user
// and displayed as a QR code for contacts to scan during verification.
type Claim struct {
	OldPublic []byte
	NewPublic []byte
	Timestamp time.Time
	Signature []byte
}

func claimMessage(oldPublic, newPublic []byte, ts time.Time) []byte {
	buf := make([]byte, 0, len(oldPublic)+len(newPublic)+8)
	buf = append(buf, oldPublic...)
	buf = append(buf, newPublic...)
	return binary.BigEndian.AppendUint64(buf, uint64(ts.Unix()))
}

// NewClaim signs a Claim with newIdentity's key, proving the recovering
// user actually controls the new identity they're asking contacts to
// rebind to.
func NewClaim(newIdentity *identity.Identity, oldPublic []byte, now time.Time) (Claim, error) {
	newPublic := newIdentity.PublicID().Marshal()
	ts := now.UTC()
	sig, err := newIdentity.Sign(claimMessage(oldPublic, newPublic, ts))
	if err != nil {
		return Claim{}, fmt.Errorf("sign recovery claim: %w", err)
	}
	return Claim{OldPublic: oldPublic, NewPublic: newPublic, Timestamp: ts, Signature: sig}, nil
}

// VerifyClaim checks a Claim's self-signature under its own NewPublic key.
func VerifyClaim(c Claim) error {
	pub, err := attest.ParsePublicKey(c.NewPublic)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !attest.Verify(pub, claimMessage(c.OldPublic, c.NewPublic, c.Timestamp), c.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// Voucher is spec.md §4.7's RecoveryVoucher: produced by an existing
// contact after in-person verification of a Claim, bound to the exact
// (old_pk, new_pk) pair and to the claim's 48h acceptance window.
type Voucher struct {
	OldPublic     []byte
	NewPublic     []byte
	VoucherPublic []byte
	Timestamp     time.Time
	Signature     []byte
}

func voucherMessage(oldPublic, newPublic, voucherPublic []byte, ts time.Time) []byte {
	buf := make([]byte, 0, len(oldPublic)+len(newPublic)+len(voucherPublic)+8)
	buf = append(buf, oldPublic...)
	buf = append(buf, newPublic...)
	buf = append(buf, voucherPublic...)
	return binary.BigEndian.AppendUint64(buf, uint64(ts.Unix()))
}

// NewVoucher lets witness vouch for claim, refusing to sign if now falls
// outside the claim's 48h acceptance window.
func NewVoucher(witness *identity.Identity, claim Claim, now time.Time) (Voucher, error) {
	ts := now.UTC()
	if ts.Before(claim.Timestamp) || ts.Sub(claim.Timestamp) > VoucherWindow {
		return Voucher{}, ErrVoucherOutOfWindow
	}
	voucherPublic := witness.PublicID().Marshal()
	sig, err := witness.Sign(voucherMessage(claim.OldPublic, claim.NewPublic, voucherPublic, ts))
	if err != nil {
		return Voucher{}, fmt.Errorf("sign voucher: %w", err)
	}
	return Voucher{
		OldPublic:     claim.OldPublic,
		NewPublic:     claim.NewPublic,
		VoucherPublic: voucherPublic,
		Timestamp:     ts,
		Signature:     sig,
	}, nil
}

// VerifyVoucher checks a Voucher's signature under its own VoucherPublic
// key. It does not check the acceptance window or binding to a particular
// claim — callers aggregating or verifying a Proof do that against the
// claim they hold, since a Voucher alone carries no claim to compare to
// beyond the (old_pk, new_pk) pair it names.
func VerifyVoucher(v Voucher) error {
	pub, err := attest.ParsePublicKey(v.VoucherPublic)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !attest.Verify(pub, voucherMessage(v.OldPublic, v.NewPublic, v.VoucherPublic, v.Timestamp), v.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// Revocation is a signature under an old identity's own key invalidating
// any outstanding Proof for it — spec.md §4.7's revocation path, used when
// the true owner still controls old_pk and wants to kill a forged recovery
// bid.
type Revocation struct {
	OldPublic []byte
	Timestamp time.Time
	Signature []byte
}

func revocationMessage(oldPublic []byte, ts time.Time) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), oldPublic...), uint64(ts.Unix()))
}

// NewRevocation signs a Revocation with the original identity's own key.
func NewRevocation(oldIdentity *identity.Identity, now time.Time) (Revocation, error) {
	oldPublic := oldIdentity.PublicID().Marshal()
	ts := now.UTC()
	sig, err := oldIdentity.Sign(revocationMessage(oldPublic, ts))
	if err != nil {
		return Revocation{}, fmt.Errorf("sign revocation: %w", err)
	}
	return Revocation{OldPublic: oldPublic, Timestamp: ts, Signature: sig}, nil
}

// VerifyRevocation checks a Revocation's signature under OldPublic.
func VerifyRevocation(r Revocation) error {
	pub, err := attest.ParsePublicKey(r.OldPublic)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !attest.Verify(pub, revocationMessage(r.OldPublic, r.Timestamp), r.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
