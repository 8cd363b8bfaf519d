package attest

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/ed25519"
)

type Ed25519 struct {
	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
}

func NewEd25519() (Attester, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Ed25519{privateKey: private, publicKey: public}, nil
}

// NewEd25519FromSeed derives a deterministic keypair from a 32-byte seed,
// used by pkg/identity to derive the signing key from the master seed.
func NewEd25519FromSeed(seed []byte) (Attester, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes", ErrInvalidKey, ed25519.SeedSize)
	}
	private := ed25519.NewKeyFromSeed(seed)
	return &Ed25519{privateKey: private, publicKey: private.Public().(ed25519.PublicKey)}, nil
}

func loadEd25519(data []byte) (Attester, error) {
	key, err := x509.ParsePKCS8PrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return &Ed25519{
		privateKey: priv,
		publicKey:  priv.Public().(ed25519.PublicKey),
	}, nil
}

func (e *Ed25519) PublicKey() PublicKey {
	return &ed25519PublicKey{e.publicKey}
}

func (e *Ed25519) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(e.privateKey, msg), nil
}

func (e *Ed25519) Marshal() ([]byte, error) {
	b, err := x509.MarshalPKCS8PrivateKey(e.privateKey)
	if err != nil {
		return nil, fmt.Errorf("marshalling private key: %w", err)
	}
	return b, nil
}

type ed25519PublicKey struct {
	key ed25519.PublicKey
}

func parseEd25519PublicKey(remote []byte) (PublicKey, error) {
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

func (p *ed25519PublicKey) Marshal() []byte {
	b, err := x509.MarshalPKIXPublicKey(p.key)
	if err != nil {
		panic(fmt.Errorf("marshalling public key: %w", err))
	}
	return b
}

func (p *ed25519PublicKey) Base64Encoding() string {
	return base64.RawStdEncoding.EncodeToString(p.Marshal())
}

func (p *ed25519PublicKey) Equal(x PublicKey) bool {
	pk, ok := x.(*ed25519PublicKey)
	if !ok {
		return false
	}
	return p.key.Equal(pk.key)
}
