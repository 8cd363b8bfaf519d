// Package x3dh computes the initial shared secret between an initiator and
// a responder from a published prekey bundle, following the X3DH DH1..DH4
// concatenation structure. The four Diffie-Hellman computations reuse
// crypto/ecdh directly (the same stdlib primitive pkg/exchange.ECDH wraps);
// the bundle shape and signature check are grounded on
// pkg/identity.PrekeyBundle and pkg/attest.Verify.
package x3dh

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/vauchi-app/core/internal/enigma"
	"github.com/vauchi-app/core/pkg/identity"
)

const (
	sharedSecretSize = 32
	kdfInfo          = "wb/x3dh/shared-secret"
)

// ErrInvalidBundle is returned when the bundle's signed prekey signature
// doesn't verify, matching spec's externally-visible InvalidBundle error
// code.
var ErrInvalidBundle = errors.New("x3dh: invalid prekey bundle")

// InitiatorResult is what an initiator keeps after deriving the shared
// secret: the secret itself and the ephemeral public key to send to the
// responder. The ephemeral private key is discarded immediately.
type InitiatorResult struct {
	SharedSecret []byte
	EphemeralPub []byte
	UsedOneTime  bool
}

// Initiate runs the initiator's side of X3DH against a responder's bundle.
// ourExchangePriv is the initiator's long-term exchange key (from their own
// Identity).
//
// DH1 = responder-signed-prekey x initiator-long-term
// DH2 = responder-signed-prekey x initiator-ephemeral
// DH3 = responder-long-term x initiator-ephemeral
// DH4 = responder-one-time-prekey x initiator-ephemeral (if present)
func Initiate(ourExchangePriv *ecdh.PrivateKey, bundle *identity.PrekeyBundle) (*InitiatorResult, error) {
	if err := verifyBundle(bundle); err != nil {
		return nil, err
	}

	signedPrekey, err := ecdh.X25519().NewPublicKey(bundle.SignedExchange)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing signed prekey: %v", ErrInvalidBundle, err)
	}
	longTerm, err := ecdh.X25519().NewPublicKey(bundle.LongTermExchange)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing long-term exchange key: %v", ErrInvalidBundle, err)
	}

	ephemeralPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}

	dh1, err := ourExchangePriv.ECDH(signedPrekey)
	if err != nil {
		return nil, fmt.Errorf("dh1: %w", err)
	}
	dh2, err := ephemeralPriv.ECDH(signedPrekey)
	if err != nil {
		return nil, fmt.Errorf("dh2: %w", err)
	}
	dh3, err := ephemeralPriv.ECDH(longTerm)
	if err != nil {
		return nil, fmt.Errorf("dh3: %w", err)
	}

	concat := concatDH(dh1, dh2, dh3)

	usedOneTime := false
	if len(bundle.OneTimeExchange) > 0 {
		oneTime, err := ecdh.X25519().NewPublicKey(bundle.OneTimeExchange)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing one-time prekey: %v", ErrInvalidBundle, err)
		}
		dh4, err := ephemeralPriv.ECDH(oneTime)
		if err != nil {
			return nil, fmt.Errorf("dh4: %w", err)
		}
		concat = append(concat, dh4...)
		usedOneTime = true
	}

	secret, err := enigma.Derive(concat, nil, []byte(kdfInfo), sharedSecretSize)
	if err != nil {
		return nil, fmt.Errorf("deriving shared secret: %w", err)
	}

	return &InitiatorResult{
		SharedSecret: secret,
		EphemeralPub: ephemeralPriv.PublicKey().Bytes(),
		UsedOneTime:  usedOneTime,
	}, nil
}

// Respond runs the responder's side of X3DH. ourExchangePriv is the
// responder's long-term exchange key; signedPrekeyPriv is the private half
// of whichever SignedPrekey the initiator used — the caller looks it up by
// public key among Identity.AcceptedSignedPrekeys. oneTimePrekeyPriv is
// non-nil only when the bundle the initiator fetched included a one-time
// prekey, and must already have been consumed atomically in storage before
// this is called.
func Respond(
	ourExchangePriv, signedPrekeyPriv *ecdh.PrivateKey,
	initiatorLongTermPub, initiatorEphemeralPub []byte,
	oneTimePrekeyPriv []byte,
) ([]byte, error) {
	longTerm, err := ecdh.X25519().NewPublicKey(initiatorLongTermPub)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing initiator long-term key: %v", ErrInvalidBundle, err)
	}
	ephemeral, err := ecdh.X25519().NewPublicKey(initiatorEphemeralPub)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing initiator ephemeral key: %v", ErrInvalidBundle, err)
	}

	dh1, err := signedPrekeyPriv.ECDH(longTerm)
	if err != nil {
		return nil, fmt.Errorf("dh1: %w", err)
	}
	dh2, err := signedPrekeyPriv.ECDH(ephemeral)
	if err != nil {
		return nil, fmt.Errorf("dh2: %w", err)
	}
	dh3, err := ourExchangePriv.ECDH(ephemeral)
	if err != nil {
		return nil, fmt.Errorf("dh3: %w", err)
	}

	concat := concatDH(dh1, dh2, dh3)

	if len(oneTimePrekeyPriv) > 0 {
		otPriv, err := ecdh.X25519().NewPrivateKey(oneTimePrekeyPriv)
		if err != nil {
			return nil, fmt.Errorf("restoring one-time prekey: %w", err)
		}
		dh4, err := otPriv.ECDH(ephemeral)
		if err != nil {
			return nil, fmt.Errorf("dh4: %w", err)
		}
		concat = append(concat, dh4...)
	}

	secret, err := enigma.Derive(concat, nil, []byte(kdfInfo), sharedSecretSize)
	if err != nil {
		return nil, fmt.Errorf("deriving shared secret: %w", err)
	}
	return secret, nil
}

func concatDH(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func verifyBundle(bundle *identity.PrekeyBundle) error {
	pub, err := bundle.Algorithm.ParsePublicKey(bundle.SigningPublic)
	if err != nil {
		return fmt.Errorf("%w: parsing signing key: %v", ErrInvalidBundle, err)
	}
	if err := identity.Verify(bundle.Algorithm, pub, bundle.SignedExchange, bundle.SignedExchangeSig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	return nil
}
