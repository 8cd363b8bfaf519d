// Package identity derives every key an installation owns — the long-term
// signing key, the exchange prekeys, and per-device subkeys — from a single
// 32-byte master seed with domain-separated contexts, following the same
// HKDF-over-context-string idiom pkg/ratchet and internal/enigma already use
// for chain derivation.
package identity

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/vauchi-app/core/internal/enigma"
	"github.com/vauchi-app/core/pkg/attest"
)

const SeedSize = 32

const (
	contextSign      = "wb/identity/sign"
	contextExchange  = "wb/identity/x"
	contextPrekeyFmt = "wb/identity/prekey/%d"
	contextDeviceFmt = "wb/device/%d"
)

// SignedPrekeyWindow is how long a rotated-out signed prekey is still
// accepted, to tolerate an exchange that was already in flight.
const SignedPrekeyWindow = 48 * time.Hour

// RotationPeriod is the recommended interval between signed-prekey rotations.
const RotationPeriod = 7 * 24 * time.Hour

var (
	ErrInvalidSeed       = errors.New("identity: seed must be exactly 32 bytes")
	ErrRejectedSignature = errors.New("identity: signature rejected")
	ErrNoOneTimePrekey   = errors.New("identity: no one-time prekey available")
)

// SignedPrekey is a long-lived exchange public key, signed by the identity's
// signing key, with a bounded acceptance window past its rotation.
type SignedPrekey struct {
	Public    []byte    `json:"public"`
	Signature []byte    `json:"signature"`
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is when this prekey stops being accepted entirely, i.e.
	// CreatedAt + RotationPeriod + SignedPrekeyWindow.
	ExpiresAt time.Time `json:"expires_at"`

	priv *ecdh.PrivateKey
}

// OneTimePrekey is a single-use exchange public key. Its private half is
// consumed and erased the first time a responder completes an X3DH using it.
type OneTimePrekey struct {
	ID        uint64 `json:"id"`
	Public    []byte `json:"public"`
	consumed  bool
	privBytes []byte
}

// PrekeyBundle is the publicly-shareable form of an Identity, exchanged via
// the QR code handoff and consumed by pkg/x3dh.
type PrekeyBundle struct {
	SigningPublic []byte           `json:"signing_public"`
	Algorithm     attest.Algorithm `json:"algorithm"`
	// LongTermExchange is the identity's stable X25519 public key (DH3's
	// responder-long-term operand), distinct from the rotating SignedExchange.
	LongTermExchange  []byte `json:"long_term_exchange"`
	SignedExchange    []byte `json:"signed_exchange"`
	SignedExchangeSig []byte `json:"signed_exchange_sig"`
	OneTimeExchange   []byte `json:"one_time_exchange,omitempty"`
	OneTimePrekeyID   uint64 `json:"one_time_prekey_id,omitempty"`
}

// Identity is a single installation's key hierarchy. The master seed and all
// derived private scalars are the only secrets; everything else is safe to
// publish.
type Identity struct {
	seed        []byte
	signing     attest.Attester
	algorithm   attest.Algorithm
	displayName string

	exchangePriv *ecdh.PrivateKey
	exchangePub  *ecdh.PublicKey

	current *SignedPrekey
	prior   []*SignedPrekey

	oneTime      map[uint64]*OneTimePrekey
	nextOneTime  uint64
}

// Create derives a full key hierarchy from seed. A nil seed generates a
// fresh random one; an explicit seed is how a backup is restored.
func Create(seed []byte, displayName string, algorithm attest.Algorithm) (*Identity, error) {
	if seed == nil {
		fresh := make([]byte, SeedSize)
		if _, err := rand.Read(fresh); err != nil {
			return nil, fmt.Errorf("generating seed: %w", err)
		}
		seed = fresh
	}
	if len(seed) != SeedSize {
		return nil, ErrInvalidSeed
	}

	signKeyMaterial, err := enigma.Derive(seed, nil, []byte(contextSign), 32)
	if err != nil {
		return nil, fmt.Errorf("deriving signing seed: %w", err)
	}

	var signer attest.Attester
	switch algorithm {
	case attest.Ed25519Algorithm, 0:
		algorithm = attest.Ed25519Algorithm
		signer, err = attest.NewEd25519FromSeed(signKeyMaterial)
	case attest.MLDSAAlgorithm:
		// ML-DSA has no seed-derivation API in circl; installations that
		// select it get a randomly generated key instead of a seed-derived
		// one (documented in DESIGN.md as an accepted gap).
		signer, err = attest.NewMLDSA()
	default:
		return nil, fmt.Errorf("%w: %d", attest.ErrUnknownAlgorithm, algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("deriving signing key: %w", err)
	}

	xMaterial, err := enigma.Derive(seed, nil, []byte(contextExchange), 32)
	if err != nil {
		return nil, fmt.Errorf("deriving exchange key: %w", err)
	}
	xPriv, err := ecdh.X25519().NewPrivateKey(xMaterial)
	if err != nil {
		return nil, fmt.Errorf("constructing exchange private key: %w", err)
	}

	id := &Identity{
		seed:         append([]byte(nil), seed...),
		signing:      signer,
		algorithm:    algorithm,
		displayName:  displayName,
		exchangePriv: xPriv,
		exchangePub:  xPriv.PublicKey(),
		oneTime:      make(map[uint64]*OneTimePrekey),
	}

	if _, err := id.RotateSignedPrekey(); err != nil {
		return nil, fmt.Errorf("creating initial signed prekey: %w", err)
	}

	return id, nil
}

// PublicID is the identity's stable public identifier: its signing public key.
func (id *Identity) PublicID() attest.PublicKey { return id.signing.PublicKey() }

// Algorithm reports which signature scheme this identity signs with.
func (id *Identity) Algorithm() attest.Algorithm { return id.algorithm }

// DisplayName is the user-chosen label attached to this identity.
func (id *Identity) DisplayName() string { return id.displayName }

// Sign signs msg with the long-term signing key.
func (id *Identity) Sign(msg []byte) ([]byte, error) { return id.signing.Sign(msg) }

// Verify checks sig over msg against pub using this identity's algorithm.
// It returns ErrRejectedSignature rather than a bare bool so callers get a
// typed failure to surface, per spec's "never panics" requirement.
func Verify(algorithm attest.Algorithm, pub attest.PublicKey, msg, sig []byte) error {
	if !algorithm.Verify(pub, msg, sig) {
		return ErrRejectedSignature
	}
	return nil
}

// RotateSignedPrekey derives the next signed exchange prekey, retiring the
// previous one into a bounded acceptance window rather than discarding it
// immediately.
func (id *Identity) RotateSignedPrekey() (*SignedPrekey, error) {
	gen := len(id.prior)
	if id.current != nil {
		gen++
	}
	material, err := enigma.Derive(id.seed, nil, []byte(fmt.Sprintf(contextPrekeyFmt, gen)), 32)
	if err != nil {
		return nil, fmt.Errorf("deriving signed prekey: %w", err)
	}
	priv, err := ecdh.X25519().NewPrivateKey(material)
	if err != nil {
		return nil, fmt.Errorf("constructing signed prekey: %w", err)
	}
	pub := priv.PublicKey().Bytes()

	sig, err := id.signing.Sign(pub)
	if err != nil {
		return nil, fmt.Errorf("signing prekey: %w", err)
	}

	now := time.Now()
	sp := &SignedPrekey{
		Public:    pub,
		Signature: sig,
		CreatedAt: now,
		ExpiresAt: now.Add(RotationPeriod + SignedPrekeyWindow),
		priv:      priv,
	}

	if id.current != nil {
		id.prior = append(id.prior, id.current)
	}
	id.current = sp
	return sp, nil
}

// AcceptedSignedPrekeys returns the current signed prekey plus any prior
// ones still inside their acceptance window, for validating in-flight
// exchanges against a prekey the sender fetched before a rotation landed.
func (id *Identity) AcceptedSignedPrekeys() []*SignedPrekey {
	now := time.Now()
	out := make([]*SignedPrekey, 0, len(id.prior)+1)
	if id.current != nil {
		out = append(out, id.current)
	}
	for _, sp := range id.prior {
		if now.Before(sp.ExpiresAt) {
			out = append(out, sp)
		}
	}
	return out
}

// ErrUnknownSignedPrekey is returned when pub doesn't match any signed
// prekey this identity currently accepts.
var ErrUnknownSignedPrekey = errors.New("identity: unknown signed prekey")

// SignedPrekeyPrivate finds the private half of the accepted signed prekey
// matching pub, for completing the responder side of X3DH.
func (id *Identity) SignedPrekeyPrivate(pub []byte) (*ecdh.PrivateKey, error) {
	for _, sp := range id.AcceptedSignedPrekeys() {
		if bytes.Equal(sp.Public, pub) {
			return sp.priv, nil
		}
	}
	return nil, ErrUnknownSignedPrekey
}

// FreshOneTimePrekey derives and registers a new single-use exchange key,
// returning its public half for publication in a prekey bundle.
func (id *Identity) FreshOneTimePrekey() (*OneTimePrekey, error) {
	n := id.nextOneTime
	id.nextOneTime++

	material, err := enigma.Derive(id.seed, nil, []byte(fmt.Sprintf(contextPrekeyFmt+"/ot", n)), 32)
	if err != nil {
		return nil, fmt.Errorf("deriving one-time prekey: %w", err)
	}
	priv, err := ecdh.X25519().NewPrivateKey(material)
	if err != nil {
		return nil, fmt.Errorf("constructing one-time prekey: %w", err)
	}

	otp := &OneTimePrekey{ID: n, Public: priv.PublicKey().Bytes(), privBytes: material}
	id.oneTime[n] = otp
	return otp, nil
}

// ConsumeOneTimePrekey marks a previously published one-time prekey as
// consumed and returns its private scalar for the final DH. Callers must
// do this inside the same storage transaction that records the contact
// rebind, per spec's at-most-once requirement.
func (id *Identity) ConsumeOneTimePrekey(prekeyID uint64) ([]byte, error) {
	otp, ok := id.oneTime[prekeyID]
	if !ok || otp.consumed {
		return nil, ErrNoOneTimePrekey
	}
	otp.consumed = true
	priv := otp.privBytes
	otp.privBytes = nil
	delete(id.oneTime, prekeyID)
	return priv, nil
}

// Bundle produces a PrekeyBundle for QR publication, optionally attaching
// a fresh one-time prekey.
func (id *Identity) Bundle(includeOneTime bool) (*PrekeyBundle, error) {
	if id.current == nil {
		return nil, errors.New("identity: no signed prekey available")
	}
	b := &PrekeyBundle{
		SigningPublic:     id.PublicID().Marshal(),
		Algorithm:         id.algorithm,
		LongTermExchange:  id.exchangePub.Bytes(),
		SignedExchange:    id.current.Public,
		SignedExchangeSig: id.current.Signature,
	}
	if includeOneTime {
		otp, err := id.FreshOneTimePrekey()
		if err != nil {
			return nil, err
		}
		b.OneTimeExchange = otp.Public
		b.OneTimePrekeyID = otp.ID
	}
	return b, nil
}

// ExchangePrivate exposes the long-term exchange private key for pkg/x3dh's
// DH computations. It is never serialized directly; only identity's own
// persisted seed is.
func (id *Identity) ExchangePrivate() *ecdh.PrivateKey { return id.exchangePriv }

// ExchangePublic is the long-term exchange public key, also reachable via
// LongTermExchange in the current bundle for external callers.
func (id *Identity) ExchangePublic() *ecdh.PublicKey { return id.exchangePub }

// Seed returns the master seed for persistence. Callers must store it only
// in the encrypted device keystore (pkg/store), never in plaintext.
func (id *Identity) Seed() []byte { return append([]byte(nil), id.seed...) }

// DeviceKey derives a per-device symmetric key for device N, used to wrap
// the storage encryption key on a specific installed device rather than on
// the account as a whole.
func (id *Identity) DeviceKey(deviceIndex uint64, size int) ([]byte, error) {
	return enigma.Derive(id.seed, nil, []byte(fmt.Sprintf(contextDeviceFmt, deviceIndex)), size)
}
