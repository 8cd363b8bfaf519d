package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vauchi-app/core/pkg/attest"
)

func testSeed(t *testing.T, b byte) []byte {
	t.Helper()
	seed := make([]byte, SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return seed
}

func TestCreateRejectsBadSeedLength(t *testing.T) {
	r := require.New(t)
	_, err := Create([]byte{1, 2, 3}, "alice", attest.Ed25519Algorithm)
	r.ErrorIs(err, ErrInvalidSeed)
}

func TestCreateIsDeterministic(t *testing.T) {
	r := require.New(t)
	seed := testSeed(t, 0x42)

	a, err := Create(seed, "alice", attest.Ed25519Algorithm)
	r.NoError(err)
	b, err := Create(seed, "alice", attest.Ed25519Algorithm)
	r.NoError(err)

	r.True(a.PublicID().Equal(b.PublicID()))
	r.Equal(a.ExchangePublic().Bytes(), b.ExchangePublic().Bytes())
}

func TestDifferentSeedsDiverge(t *testing.T) {
	r := require.New(t)
	a, err := Create(testSeed(t, 0x01), "alice", attest.Ed25519Algorithm)
	r.NoError(err)
	b, err := Create(testSeed(t, 0x02), "bob", attest.Ed25519Algorithm)
	r.NoError(err)

	r.False(a.PublicID().Equal(b.PublicID()))
}

func TestSignAndVerify(t *testing.T) {
	r := require.New(t)
	id, err := Create(testSeed(t, 0x09), "alice", attest.Ed25519Algorithm)
	r.NoError(err)

	msg := []byte("hello contact")
	sig, err := id.Sign(msg)
	r.NoError(err)

	r.NoError(Verify(id.Algorithm(), id.PublicID(), msg, sig))
	r.ErrorIs(Verify(id.Algorithm(), id.PublicID(), []byte("tampered"), sig), ErrRejectedSignature)
}

func TestSignedPrekeyRotationKeepsPriorInWindow(t *testing.T) {
	r := require.New(t)
	id, err := Create(testSeed(t, 0x07), "alice", attest.Ed25519Algorithm)
	r.NoError(err)

	first := id.current
	second, err := id.RotateSignedPrekey()
	r.NoError(err)
	r.NotEqual(first.Public, second.Public)

	accepted := id.AcceptedSignedPrekeys()
	r.Len(accepted, 2)
}

func TestOneTimePrekeyConsumedOnce(t *testing.T) {
	r := require.New(t)
	id, err := Create(testSeed(t, 0x0a), "alice", attest.Ed25519Algorithm)
	r.NoError(err)

	otp, err := id.FreshOneTimePrekey()
	r.NoError(err)

	priv, err := id.ConsumeOneTimePrekey(otp.ID)
	r.NoError(err)
	r.Len(priv, 32)

	_, err = id.ConsumeOneTimePrekey(otp.ID)
	r.ErrorIs(err, ErrNoOneTimePrekey)
}

func TestBundleIncludesOneTimeWhenRequested(t *testing.T) {
	r := require.New(t)
	id, err := Create(testSeed(t, 0x0b), "alice", attest.Ed25519Algorithm)
	r.NoError(err)

	b, err := id.Bundle(true)
	r.NoError(err)
	r.NotEmpty(b.OneTimeExchange)

	b2, err := id.Bundle(false)
	r.NoError(err)
	r.Empty(b2.OneTimeExchange)
}
