package ratchet

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vauchi-app/core/pkg/exchange"
)

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func TestRoundTripEncryption(t *testing.T) {
	a := assert.New(t)

	rootSecret := randomBytes(32)
	sessionID := string(randomBytes(20))

	alice, err := NewFromSecret(rootSecret)
	a.NoError(err, "Alice init")

	bob, err := NewFromSecret(rootSecret)
	a.NoError(err, "Bob init")

	alicePub := alice.OurPublic()
	bobPub := bob.OurPublic()

	a.NoError(alice.SetTheirPublic(bobPub, sessionID), "Alice set peer")
	a.NoError(bob.SetTheirPublic(alicePub, sessionID), "Bob set peer")

	plaintext := []byte("Hello, Bob! This is Alice.")
	h, ciphertext, err := alice.Encrypt(plaintext)
	a.NoError(err, "Alice encrypt")

	decrypted, err := bob.Decrypt(h, ciphertext, sessionID)
	a.NoError(err, "Bob decrypt")

	a.Equal(plaintext, decrypted, "decrypted text mismatch")
	a.Equal(uint64(1), alice.Send(), "Alice send counter")
	a.Equal(uint64(1), bob.Received(), "Bob recv counter")
}

func TestDHRatchetStepOnDirectionSwitch(t *testing.T) {
	a := assert.New(t)
	rootSecret := randomBytes(32)
	sessionID := string(randomBytes(20))

	alice, err := NewFromSecret(rootSecret)
	a.NoError(err, "Alice init")
	bob, err := NewFromSecret(rootSecret)
	a.NoError(err, "Bob init")

	alicePub := alice.OurPublic()
	bobPub := bob.OurPublic()
	a.NoError(alice.SetTheirPublic(bobPub, sessionID), "Alice set peer")
	a.NoError(bob.SetTheirPublic(alicePub, sessionID), "Bob set peer")

	// Alice sends first.
	h1, ct1, err := alice.Encrypt([]byte("first"))
	a.NoError(err)
	_, err = bob.Decrypt(h1, ct1, sessionID)
	a.NoError(err)

	// Bob replies; his header carries a new DH public, forcing Alice to
	// perform a DH ratchet step on decrypt.
	h2, ct2, err := bob.Encrypt([]byte("reply"))
	a.NoError(err)
	pt2, err := alice.Decrypt(h2, ct2, sessionID)
	a.NoError(err)
	a.Equal([]byte("reply"), pt2)
}

func TestOutOfOrderDelivery(t *testing.T) {
	a := assert.New(t)
	rootSecret := randomBytes(32)
	sessionID := string(randomBytes(20))

	alice, err := NewFromSecret(rootSecret)
	a.NoError(err)
	bob, err := NewFromSecret(rootSecret)
	a.NoError(err)
	a.NoError(alice.SetTheirPublic(bob.OurPublic(), sessionID))
	a.NoError(bob.SetTheirPublic(alice.OurPublic(), sessionID))

	h1, ct1, err := alice.Encrypt([]byte("m1"))
	a.NoError(err)
	h2, ct2, err := alice.Encrypt([]byte("m2"))
	a.NoError(err)
	h3, ct3, err := alice.Encrypt([]byte("m3"))
	a.NoError(err)

	// Arrive m2, m1, m3.
	pt2, err := bob.Decrypt(h2, ct2, sessionID)
	a.NoError(err)
	a.Equal([]byte("m2"), pt2)

	pt1, err := bob.Decrypt(h1, ct1, sessionID)
	a.NoError(err)
	a.Equal([]byte("m1"), pt1)

	pt3, err := bob.Decrypt(h3, ct3, sessionID)
	a.NoError(err)
	a.Equal([]byte("m3"), pt3)

	a.Empty(bob.skipped, "skipped-key store drained after all three arrive")
}

func TestReplayIsRejected(t *testing.T) {
	a := assert.New(t)
	rootSecret := randomBytes(32)
	sessionID := string(randomBytes(20))

	alice, err := NewFromSecret(rootSecret)
	a.NoError(err)
	bob, err := NewFromSecret(rootSecret)
	a.NoError(err)
	a.NoError(alice.SetTheirPublic(bob.OurPublic(), sessionID))
	a.NoError(bob.SetTheirPublic(alice.OurPublic(), sessionID))

	h, ct, err := alice.Encrypt([]byte("once"))
	a.NoError(err)

	_, err = bob.Decrypt(h, ct, sessionID)
	a.NoError(err)

	_, err = bob.Decrypt(h, ct, sessionID)
	a.Error(err)
	var terr *TransportError
	a.ErrorAs(err, &terr)
	a.Equal(Duplicate, terr.Kind)
}

func TestSkipMsgKeysRejectsBeyondMaxSkip(t *testing.T) {
	a := assert.New(t)
	rootSecret := randomBytes(32)
	sessionID := string(randomBytes(20))

	alice, err := NewFromSecret(rootSecret, WithMaxSkip(2))
	a.NoError(err)
	bob, err := NewFromSecret(rootSecret, WithMaxSkip(2))
	a.NoError(err)
	a.NoError(alice.SetTheirPublic(bob.OurPublic(), sessionID))
	a.NoError(bob.SetTheirPublic(alice.OurPublic(), sessionID))

	for i := 0; i < 4; i++ {
		_, _, err := alice.Encrypt([]byte("m"))
		a.NoError(err)
	}
	h, ct, err := alice.Encrypt([]byte("late"))
	a.NoError(err)

	_, err = bob.Decrypt(h, ct, sessionID)
	a.Error(err)
	var terr *TransportError
	a.ErrorAs(err, &terr)
	a.Equal(Expired, terr.Kind)
}

func TestDHExchange(t *testing.T) {
	a := assert.New(t)
	aliceKey, err := exchange.NewECDH()
	a.NoError(err, "alice key gen")
	bobKey, err := exchange.NewECDH()
	a.NoError(err, "bob key gen")

	alicePub := aliceKey.MarshalPublicKey()
	bobPub := bobKey.MarshalPublicKey()

	aliceShared, err := aliceKey.Exchange(bobPub)
	a.NoError(err, "alice exchange")
	bobShared, err := bobKey.Exchange(alicePub)
	a.NoError(err, "bob exchange")

	a.Equal(aliceShared, bobShared, "shared secrets differ")
}

func TestKDFChainDeterministic(t *testing.T) {
	a := assert.New(t)
	ck := randomBytes(32)
	next1, msg1, err := kdfChain(ck)
	a.NoError(err, "kdfChain first")
	next2, msg2, err := kdfChain(ck)
	a.NoError(err, "kdfChain second")
	a.Equal(next1, next2, "kdfChain nextCK deterministic")
	a.Equal(msg1, msg2, "kdfChain msgKey deterministic")
}

func TestKDFRootRoles(t *testing.T) {
	a := assert.New(t)
	root := randomBytes(32)
	sessionID := randomBytes(20)
	dh := randomBytes(32)

	rk1, ckA1, ckB1, err := kdfRoot(root, dh, sessionID, true)
	a.NoError(err, "kdfRoot initiator")
	rk2, ckA2, ckB2, err := kdfRoot(root, dh, sessionID, false)
	a.NoError(err, "kdfRoot responder")

	a.Equal(rk1, rk2, "root keys equal")
	a.NotEqual(ckA1, ckA2, "chain keys swapped")
	a.NotEqual(ckB1, ckB2, "chain keys swapped")
}

func TestEncryptWithoutChain(t *testing.T) {
	a := assert.New(t)
	r, err := NewFromSecret(randomBytes(32))
	a.NoError(err, "init ratchet")
	_, _, err = r.Encrypt([]byte("test"))
	a.Error(err, "expected error when encrypting without chain")
}

func TestDecryptWithoutChain(t *testing.T) {
	a := assert.New(t)
	r, err := NewFromSecret(randomBytes(32))
	a.NoError(err, "init ratchet")
	_, err = r.Decrypt(Header{DHPub: randomBytes(32)}, []byte{0x00}, "sess")
	a.Error(err, "expected error when decrypting without chain")
}
