package recovery

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vauchi-app/core/pkg/attest"
	"github.com/vauchi-app/core/pkg/identity"
)

func mustIdentity(t *testing.T, name string) *identity.Identity {
	t.Helper()
	seed := make([]byte, 32)
	_, err := rand.Read(seed)
	require.NoError(t, err)
	id, err := identity.Create(seed, name, attest.Ed25519Algorithm)
	require.NoError(t, err)
	return id
}

func TestClaimSignAndVerifyRoundTrip(t *testing.T) {
	r := require.New(t)
	oldID := mustIdentity(t, "alice-old")
	newID := mustIdentity(t, "alice-new")
	now := time.Now()

	claim, err := NewClaim(newID, oldID.PublicID().Marshal(), now)
	r.NoError(err)
	r.NoError(VerifyClaim(claim))
}

func TestVoucherRejectsOutsideAcceptanceWindow(t *testing.T) {
	r := require.New(t)
	oldID := mustIdentity(t, "alice-old")
	newID := mustIdentity(t, "alice-new")
	bob := mustIdentity(t, "bob")
	now := time.Now()

	claim, err := NewClaim(newID, oldID.PublicID().Marshal(), now)
	r.NoError(err)

	_, err = NewVoucher(bob, claim, now.Add(49*time.Hour))
	r.ErrorIs(err, ErrVoucherOutOfWindow)

	v, err := NewVoucher(bob, claim, now.Add(10*time.Hour))
	r.NoError(err)
	r.NoError(VerifyVoucher(v))
}

func buildScenario(t *testing.T) (Claim, []Voucher, map[string]struct{}) {
	t.Helper()
	oldID := mustIdentity(t, "alice-old")
	newID := mustIdentity(t, "alice-new")
	bob := mustIdentity(t, "bob")
	carol := mustIdentity(t, "carol")
	betty := mustIdentity(t, "betty")
	now := time.Now()

	claim, err := NewClaim(newID, oldID.PublicID().Marshal(), now)
	require.NoError(t, err)

	var vouchers []Voucher
	for _, witness := range []*identity.Identity{bob, carol, betty} {
		v, err := NewVoucher(witness, claim, now.Add(time.Hour))
		require.NoError(t, err)
		vouchers = append(vouchers, v)
	}

	// Dave is mutual contacts with Bob and Carol but not Betty.
	daveContacts := map[string]struct{}{
		string(bob.PublicID().Marshal()):   {},
		string(carol.PublicID().Marshal()): {},
	}
	return claim, vouchers, daveContacts
}

func TestBuildProofRequiresThresholdDistinctVouchers(t *testing.T) {
	r := require.New(t)
	claim, vouchers, _ := buildScenario(t)
	now := time.Now()

	proof, err := BuildProof(claim, vouchers, 3, now)
	r.NoError(err)
	r.Len(proof.Vouchers, 3)
	r.Equal(3, proof.Threshold)

	_, err = BuildProof(claim, vouchers[:1], 3, now)
	r.ErrorIs(err, ErrInsufficientVouchers)
}

func TestBuildProofDropsDuplicateVoucherKeys(t *testing.T) {
	r := require.New(t)
	claim, vouchers, _ := buildScenario(t)
	duplicated := append(append([]Voucher{}, vouchers...), vouchers[0])

	proof, err := BuildProof(claim, duplicated, 3, time.Now())
	r.NoError(err)
	r.Len(proof.Vouchers, 3)
}

func TestVerifyProofScoresHighConfidenceOnMutualContacts(t *testing.T) {
	r := require.New(t)
	claim, vouchers, daveContacts := buildScenario(t)
	proof, err := BuildProof(claim, vouchers, 3, time.Now())
	r.NoError(err)

	confidence, err := VerifyProof(proof, time.Now(), daveContacts, DefaultVerificationThreshold)
	r.NoError(err)
	r.Equal(High, confidence)
}

func TestVerifyProofScoresMediumAndLowConfidence(t *testing.T) {
	r := require.New(t)
	claim, vouchers, _ := buildScenario(t)
	proof, err := BuildProof(claim, vouchers, 3, time.Now())
	r.NoError(err)

	oneMutual := map[string]struct{}{string(vouchers[0].VoucherPublic): {}}
	confidence, err := VerifyProof(proof, time.Now(), oneMutual, DefaultVerificationThreshold)
	r.NoError(err)
	r.Equal(Medium, confidence)

	noMutual := map[string]struct{}{}
	confidence, err = VerifyProof(proof, time.Now(), noMutual, DefaultVerificationThreshold)
	r.NoError(err)
	r.Equal(Low, confidence)
}

func TestVerifyProofRejectsExpiredProof(t *testing.T) {
	r := require.New(t)
	claim, vouchers, daveContacts := buildScenario(t)
	proof, err := BuildProof(claim, vouchers, 3, time.Now().Add(-91*24*time.Hour))
	r.NoError(err)

	_, err = VerifyProof(proof, time.Now(), daveContacts, DefaultVerificationThreshold)
	r.ErrorIs(err, ErrProofExpired)
}

func TestConflictsDetectsDivergentProofsForSameOldIdentity(t *testing.T) {
	r := require.New(t)
	oldID := mustIdentity(t, "alice-old")
	newA := mustIdentity(t, "alice-new-a")
	newB := mustIdentity(t, "alice-new-b")

	claimA, err := NewClaim(newA, oldID.PublicID().Marshal(), time.Now())
	r.NoError(err)
	claimB, err := NewClaim(newB, oldID.PublicID().Marshal(), time.Now())
	r.NoError(err)

	a := Proof{OldPublic: claimA.OldPublic, NewPublic: claimA.NewPublic}
	b := Proof{OldPublic: claimB.OldPublic, NewPublic: claimB.NewPublic}
	r.True(Conflicts(a, b))
	r.False(Conflicts(a, a))
}

func TestRevocationSignAndVerify(t *testing.T) {
	r := require.New(t)
	oldID := mustIdentity(t, "alice-old")
	rev, err := NewRevocation(oldID, time.Now())
	r.NoError(err)
	r.NoError(VerifyRevocation(rev))
}
