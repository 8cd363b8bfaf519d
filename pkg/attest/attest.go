// Package attest provides the signing-key abstraction identities are built
// on: Ed25519 for everyday use, ML-DSA-65 for installations that want a
// post-quantum signature algorithm. Nothing above this package cares which
// one is in use; it only ever sees Attester and PublicKey.
package attest

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"golang.org/x/crypto/ed25519"
)

var (
	ErrInvalidKey       = errors.New("invalid key type")
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
)

// Attester signs on behalf of a single keypair.
type Attester interface {
	PublicKey() PublicKey
	Sign(msg []byte) ([]byte, error)
	// Marshal returns the private key bytes, suitable for storing in an
	// encrypted-at-rest record. It is never logged.
	Marshal() ([]byte, error)
}

// PublicKey is the public half of an Attester's keypair.
type PublicKey interface {
	Marshal() []byte
	Base64Encoding() string
	Equal(PublicKey) bool
}

// Verify checks a signature against a public key, dispatching on its
// concrete algorithm. It never panics: an unknown key type simply fails
// verification.
func Verify(publicKey PublicKey, msg, sig []byte) bool {
	switch p := publicKey.(type) {
	case *ed25519PublicKey:
		return ed25519.Verify(p.key, msg, sig)
	case *mldsaPublicKey:
		return mldsa65.Verify(p.key, msg, nil, sig)
	default:
		return false
	}
}

// ParsePublicKey tries every known algorithm in turn. Prefer
// Algorithm.ParsePublicKey when the algorithm is already known, since it
// never misclassifies a malformed key as the wrong scheme.
func ParsePublicKey(remote []byte) (PublicKey, error) {
	mlPub, err := mldsa65.Scheme().UnmarshalBinaryPublicKey(remote)
	if err == nil {
		return &mldsaPublicKey{mlPub.(*mldsa65.PublicKey)}, nil
	}

	pk, err := x509.ParsePKIXPublicKey(remote)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	edPub, ok := pk.(ed25519.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return &ed25519PublicKey{key: edPub}, nil
}
