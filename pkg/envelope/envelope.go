// Package envelope implements the broker-visible wire frame of spec.md §6:
// a magic-tagged, versioned header carrying a recipient mailbox-id and a
// Double Ratchet header, wrapping an opaque AEAD ciphertext the broker
// never decrypts. Both pkg/sync (the client) and the relay module (the
// broker) depend on this package so the two sides of the wire agree on one
// definition.
package envelope

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vauchi-app/core/pkg/ratchet"
)

const (
	magic        = "wb"
	version      = 1
	dhPubSize    = 32
	maxEnvelope  = 1 << 20 // 1 MiB, per spec.md §6
	mailboxIDLen = 32
)

var (
	ErrMalformed  = errors.New("envelope: malformed frame")
	ErrTooLarge   = errors.New("envelope: exceeds maximum size")
	ErrBadVersion = errors.New("envelope: unsupported version")
)

// MailboxID is hash(recipient signing public key) — the broker's only
// routing key, carrying no information about sender identity.
type MailboxID [mailboxIDLen]byte

// MailboxIDFor derives the mailbox-id for a signing public key.
func MailboxIDFor(signingPublic []byte) MailboxID {
	return MailboxID(sha256.Sum256(signingPublic))
}

func (m MailboxID) String() string {
	return fmt.Sprintf("%x", m[:])
}

// Envelope is the broker-visible frame. The sender identity never appears
// outside Ciphertext.
type Envelope struct {
	MailboxID  MailboxID
	ID         uuid.UUID
	CreatedAt  time.Time
	Header     ratchet.Header
	Ciphertext []byte
}

// Encode serializes e into the compact wire format: magic, version,
// mailbox-id(32), envelope-id(16), created-at(u64 unix seconds),
// ratchet-header (dh_pub 32, pn u32, n u32), ciphertext.
func Encode(e Envelope) ([]byte, error) {
	if len(e.Header.DHPub) != dhPubSize {
		return nil, fmt.Errorf("%w: dh public key must be %d bytes", ErrMalformed, dhPubSize)
	}
	if e.Header.N > 0xFFFFFFFF || e.Header.PN > 0xFFFFFFFF {
		return nil, fmt.Errorf("%w: ratchet counter exceeds 32 bits", ErrMalformed)
	}

	out := make([]byte, 0, len(magic)+1+mailboxIDLen+16+8+dhPubSize+4+4+len(e.Ciphertext))
	out = append(out, magic...)
	out = append(out, version)
	out = append(out, e.MailboxID[:]...)
	idBytes, err := e.ID.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal envelope id: %w", err)
	}
	out = append(out, idBytes...)
	out = binary.BigEndian.AppendUint64(out, uint64(e.CreatedAt.Unix()))
	out = append(out, e.Header.DHPub...)
	out = binary.BigEndian.AppendUint32(out, uint32(e.Header.PN))
	out = binary.BigEndian.AppendUint32(out, uint32(e.Header.N))
	out = append(out, e.Ciphertext...)

	if len(out) > maxEnvelope {
		return nil, ErrTooLarge
	}
	return out, nil
}

// Decode parses a wire frame produced by Encode. It never looks at
// Ciphertext's contents — the broker calls this only to route and expire
// frames, not to read them.
func Decode(data []byte) (Envelope, error) {
	if len(data) > maxEnvelope {
		return Envelope{}, ErrTooLarge
	}
	minLen := len(magic) + 1 + mailboxIDLen + 16 + 8 + dhPubSize + 4 + 4
	if len(data) < minLen {
		return Envelope{}, fmt.Errorf("%w: frame shorter than fixed header", ErrMalformed)
	}
	if string(data[:len(magic)]) != magic {
		return Envelope{}, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	pos := len(magic)
	if data[pos] != version {
		return Envelope{}, fmt.Errorf("%w: got %d", ErrBadVersion, data[pos])
	}
	pos++

	var e Envelope
	copy(e.MailboxID[:], data[pos:pos+mailboxIDLen])
	pos += mailboxIDLen

	if err := e.ID.UnmarshalBinary(data[pos : pos+16]); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope id: %v", ErrMalformed, err)
	}
	pos += 16

	e.CreatedAt = time.Unix(int64(binary.BigEndian.Uint64(data[pos:pos+8])), 0).UTC()
	pos += 8

	dhPub := make([]byte, dhPubSize)
	copy(dhPub, data[pos:pos+dhPubSize])
	pos += dhPubSize

	pn := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4
	n := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4

	e.Header = ratchet.Header{DHPub: dhPub, N: uint64(n), PN: uint64(pn)}
	e.Ciphertext = append([]byte(nil), data[pos:]...)

	return e, nil
}
