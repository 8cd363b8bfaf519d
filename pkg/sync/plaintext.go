package sync

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vauchi-app/core/pkg/attest"
	"github.com/vauchi-app/core/pkg/card"
	"github.com/vauchi-app/core/pkg/identity"
)

// SignedDelta is the plaintext carried inside a Ratchet-encrypted envelope.
// The broker and the transport never see SenderPublic; it only exists
// inside the AEAD ciphertext. The first successful Ratchet.Decrypt against
// a known contact's session, followed by a passing signature check, is
// what binds an inbound envelope to a sender contact (spec.md §4.5).
type SignedDelta struct {
	SenderPublic []byte           `json:"sender_public"`
	Algorithm    attest.Algorithm `json:"algorithm"`
	Delta        card.Delta       `json:"delta"`
	Signature    []byte           `json:"signature"`
}

var ErrSignatureMismatch = errors.New("sync: signed delta failed verification")

// signPlaintext builds and signs the plaintext an Engine hands to the
// Ratchet for one outbound Delta.
func signPlaintext(self *identity.Identity, delta card.Delta) ([]byte, error) {
	payload, err := json.Marshal(delta)
	if err != nil {
		return nil, fmt.Errorf("marshal delta: %w", err)
	}
	sig, err := self.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign delta: %w", err)
	}

	sd := SignedDelta{
		SenderPublic: self.PublicID().Marshal(),
		Algorithm:    self.Algorithm(),
		Delta:        delta,
		Signature:    sig,
	}
	out, err := json.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("marshal signed delta: %w", err)
	}
	return out, nil
}

// verifyPlaintext parses a decrypted Ratchet payload, checks the embedded
// signature is valid and was made by expectedSigner, and returns the
// carried Delta.
func verifyPlaintext(plaintext []byte, expectedSigner []byte) (card.Delta, error) {
	var sd SignedDelta
	if err := json.Unmarshal(plaintext, &sd); err != nil {
		return card.Delta{}, fmt.Errorf("unmarshal signed delta: %w", err)
	}
	if len(expectedSigner) > 0 && string(sd.SenderPublic) != string(expectedSigner) {
		return card.Delta{}, ErrSignatureMismatch
	}

	payload, err := json.Marshal(sd.Delta)
	if err != nil {
		return card.Delta{}, fmt.Errorf("marshal delta for verify: %w", err)
	}
	pub, err := sd.Algorithm.ParsePublicKey(sd.SenderPublic)
	if err != nil {
		return card.Delta{}, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	if err := identity.Verify(sd.Algorithm, pub, payload, sd.Signature); err != nil {
		return card.Delta{}, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	return sd.Delta, nil
}
