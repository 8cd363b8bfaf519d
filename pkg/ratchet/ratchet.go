package ratchet

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/vauchi-app/core/internal/enigma"
	"github.com/vauchi-app/core/pkg/exchange"
)

// This is a Double Ratchet implementation with a per-message header (DH
// public, message number, previous-chain length), a bounded skipped-message-
// key cache, and replay/out-of-order handling up to MaxSkip and MaxSkipAge.

const (
	keySize = 32

	infoRoot  = "DR:root"
	infoChain = "DR:chain"
	infoMsg   = "DR:msg"

	// DefaultMaxSkip bounds how many message keys from a single receiving
	// chain may be buffered waiting for a message that never arrives.
	DefaultMaxSkip = 1000

	// DefaultMaxSkipAge bounds how long a buffered skipped key is honored.
	// A skipped key older than this is treated as Expired rather than
	// retried indefinitely.
	DefaultMaxSkipAge = 7 * 24 * time.Hour
)

var (
	ErrChainNotInitialized = errors.New("ratchet: chain not initialized")
	ErrHeaderTooShort      = errors.New("ratchet: header is too short")
)

// TransportErrorKind classifies why a Decrypt call failed, matching the
// externally-visible error taxonomy callers must be able to branch on.
type TransportErrorKind int

const (
	_ TransportErrorKind = iota
	Duplicate
	OutOfOrder
	Undecipherable
	Expired
)

func (k TransportErrorKind) String() string {
	switch k {
	case Duplicate:
		return "duplicate"
	case OutOfOrder:
		return "out-of-order"
	case Undecipherable:
		return "undecipherable"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// TransportError wraps a Decrypt failure with the kind a caller needs to
// decide whether to drop, retry, or flag a contact for re-keying.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ratchet: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("ratchet: %s", e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Err }

func newTransportErr(kind TransportErrorKind, err error) *TransportError {
	return &TransportError{Kind: kind, Err: err}
}

// Header is sent alongside every ciphertext so the receiver can locate the
// correct chain and message key. It is authenticated as AEAD associated
// data rather than encrypted.
type Header struct {
	DHPub []byte `json:"dh_pub"`
	N     uint64 `json:"n"`
	PN    uint64 `json:"pn"`
}

func (h Header) marshal() []byte {
	buf := make([]byte, len(h.DHPub)+16)
	copy(buf, h.DHPub)
	putUint64(buf[len(h.DHPub):], h.N)
	putUint64(buf[len(h.DHPub)+8:], h.PN)
	return buf
}

func parseHeader(dhLen int, data []byte) (Header, []byte, error) {
	if len(data) < dhLen+16 {
		return Header{}, nil, ErrHeaderTooShort
	}
	h := Header{
		DHPub: append([]byte(nil), data[:dhLen]...),
		N:     getUint64(data[dhLen : dhLen+8]),
		PN:    getUint64(data[dhLen+8 : dhLen+16]),
	}
	return h, data[dhLen+16:], nil
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// skippedKey is one buffered message key from a past receiving chain.
type skippedKey struct {
	dhPub    string
	n        uint64
	key      []byte
	storedAt time.Time
}

// Ratchet holds one contact's Double Ratchet session.
type Ratchet struct {
	rootKey []byte
	sendCK  []byte
	recvCK  []byte

	ourDH    *exchange.ECDH
	theirPub []byte

	sendN     uint64
	recvN     uint64
	prevSendN uint64

	maxSkip    int
	maxSkipAge time.Duration

	skipped []skippedKey

	undecipherableStreak int
}

// Option configures non-default ratchet bounds.
type Option func(*Ratchet)

// WithMaxSkip overrides DefaultMaxSkip.
func WithMaxSkip(n int) Option { return func(r *Ratchet) { r.maxSkip = n } }

// WithMaxSkipAge overrides DefaultMaxSkipAge.
func WithMaxSkipAge(d time.Duration) Option { return func(r *Ratchet) { r.maxSkipAge = d } }

// NewFromSecret creates a Ratchet from an X3DH-derived root secret and a
// fresh local DH keypair. Call SetTheirPublic before the first Encrypt.
func NewFromSecret(rootSecret []byte, opts ...Option) (*Ratchet, error) {
	dh, err := exchange.NewECDH()
	if err != nil {
		return nil, fmt.Errorf("generating dh keypair: %w", err)
	}

	r := &Ratchet{
		rootKey:    append([]byte(nil), rootSecret...),
		ourDH:      dh,
		maxSkip:    DefaultMaxSkip,
		maxSkipAge: DefaultMaxSkipAge,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// SetTheirPublic installs the peer's initial DH public key and performs the
// first DH ratchet step, bringing up sending and receiving chains.
func (r *Ratchet) SetTheirPublic(their []byte, sessionID string) error {
	r.theirPub = append([]byte(nil), their...)

	shared, err := r.ourDH.Exchange(their)
	if err != nil {
		return fmt.Errorf("exchanging: %w", err)
	}

	initiator := bytes.Compare(r.ourDH.MarshalPublicKey(), their) < 0
	newRoot, sendCK, recvCK, err := kdfRoot(r.rootKey, shared, []byte(sessionID), initiator)
	if err != nil {
		return err
	}
	r.rootKey = newRoot
	r.sendCK = sendCK
	r.recvCK = recvCK
	return nil
}

// dhRatchetStep advances to a new DH keypair against the peer's latest
// public key, rotating both chains.
func (r *Ratchet) dhRatchetStep(sessionID string) error {
	newDH, err := exchange.NewECDH()
	if err != nil {
		return fmt.Errorf("creating new dh: %w", err)
	}

	shared, err := newDH.Exchange(r.theirPub)
	if err != nil {
		return fmt.Errorf("exchanging with their pub: %w", err)
	}

	initiator := bytes.Compare(newDH.MarshalPublicKey(), r.theirPub) < 0
	newRoot, sendCK, recvCK, err := kdfRoot(r.rootKey, shared, []byte(sessionID), initiator)
	if err != nil {
		return fmt.Errorf("kdfRoot: %w", err)
	}

	r.rootKey = newRoot
	r.ourDH = newDH
	r.prevSendN = r.sendN
	r.sendN = 0
	r.recvN = 0
	r.sendCK = sendCK
	r.recvCK = recvCK
	return nil
}

// OurPublic returns this side's current DH public key.
func (r *Ratchet) OurPublic() []byte { return r.ourDH.MarshalPublicKey() }

// Encrypt derives the next send-chain message key, encrypts plaintext under
// it with the message header as AEAD associated data, and returns the
// header alongside the ciphertext.
func (r *Ratchet) Encrypt(plaintext []byte) (Header, []byte, error) {
	if r.sendCK == nil {
		return Header{}, nil, ErrChainNotInitialized
	}

	nextCK, msgKey, err := kdfChain(r.sendCK)
	if err != nil {
		return Header{}, nil, err
	}
	r.sendCK = nextCK

	h := Header{DHPub: r.OurPublic(), N: r.sendN, PN: r.prevSendN}
	r.sendN++

	enc, err := enigma.NewEnigma(msgKey, nil, []byte(infoMsg))
	if err != nil {
		return Header{}, nil, fmt.Errorf("create enigma: %w", err)
	}
	ct := enc.EncryptWithAAD(plaintext, h.marshal())
	return h, ct, nil
}

// Decrypt locates or derives the message key named by header and decrypts
// ciphertext, verifying the header as associated data. On any failure it
// returns a *TransportError naming why.
func (r *Ratchet) Decrypt(h Header, ciphertext []byte, sessionID string) ([]byte, error) {
	r.evictExpiredSkipped()

	if !bytes.Equal(h.DHPub, r.theirPub) {
		if err := r.skipMsgKeys(h.PN); err != nil {
			return nil, newTransportErr(Expired, err)
		}
		r.theirPub = append([]byte(nil), h.DHPub...)
		if err := r.dhRatchetStep(sessionID); err != nil {
			return nil, newTransportErr(Undecipherable, err)
		}
	}

	var msgKey []byte
	switch {
	case h.N < r.recvN:
		k, ok := r.takeSkipped(h.DHPub, h.N)
		if !ok {
			return nil, newTransportErr(Duplicate, fmt.Errorf("message %d already consumed", h.N))
		}
		msgKey = k

	case h.N > r.recvN:
		if err := r.skipMsgKeys(h.N); err != nil {
			return nil, newTransportErr(Expired, err)
		}
		fallthrough

	default:
		if r.recvCK == nil {
			return nil, newTransportErr(Undecipherable, ErrChainNotInitialized)
		}
		nextCK, k, err := kdfChain(r.recvCK)
		if err != nil {
			return nil, newTransportErr(Undecipherable, err)
		}
		r.recvCK = nextCK
		r.recvN++
		msgKey = k
	}

	enc, err := enigma.NewEnigma(msgKey, nil, []byte(infoMsg))
	if err != nil {
		return nil, newTransportErr(Undecipherable, err)
	}
	pt, err := enc.DecryptWithAAD(ciphertext, h.marshal())
	if err != nil {
		r.recordUndecipherable()
		return nil, newTransportErr(Undecipherable, err)
	}

	r.undecipherableStreak = 0
	return pt, nil
}

// recordUndecipherable tracks consecutive decrypt failures so a caller can
// decide the session needs fresh X3DH rather than continued retries.
func (r *Ratchet) recordUndecipherable() { r.undecipherableStreak++ }

// UndecipherableStreak reports how many Decrypt calls have failed in a row.
func (r *Ratchet) UndecipherableStreak() int { return r.undecipherableStreak }

// skipMsgKeys buffers message keys from the current receiving chain up to
// (but excluding) until, bounded by maxSkip entries total.
func (r *Ratchet) skipMsgKeys(until uint64) error {
	if r.recvCK == nil {
		return nil
	}
	if until < r.recvN {
		return nil
	}
	if int(until-r.recvN)+len(r.skipped) > r.maxSkip {
		return fmt.Errorf("refusing to skip to %d: exceeds MAX_SKIP=%d", until, r.maxSkip)
	}

	for ; r.recvN < until; r.recvN++ {
		nextCK, msgKey, err := kdfChain(r.recvCK)
		if err != nil {
			return err
		}
		r.recvCK = nextCK
		r.skipped = append(r.skipped, skippedKey{
			dhPub:    string(r.theirPub),
			n:        r.recvN,
			key:      msgKey,
			storedAt: r.now(),
		})
	}
	return nil
}

func (r *Ratchet) takeSkipped(dhPub []byte, n uint64) ([]byte, bool) {
	for i, sk := range r.skipped {
		if sk.n == n && sk.dhPub == string(dhPub) {
			r.skipped = append(r.skipped[:i], r.skipped[i+1:]...)
			return sk.key, true
		}
	}
	return nil, false
}

func (r *Ratchet) evictExpiredSkipped() {
	if len(r.skipped) == 0 {
		return
	}
	cutoff := r.now().Add(-r.maxSkipAge)
	kept := r.skipped[:0]
	for _, sk := range r.skipped {
		if sk.storedAt.After(cutoff) {
			kept = append(kept, sk)
		}
	}
	r.skipped = kept
}

// nowFn is a seam so tests can control skipped-key aging without sleeping.
var nowFn = time.Now

func (r *Ratchet) now() time.Time { return nowFn() }

func (r *Ratchet) Send() uint64     { return r.sendN }
func (r *Ratchet) Received() uint64 { return r.recvN }

func kdfRoot(root, dh, info []byte, initiator bool) (newRoot, sender, receiver []byte, err error) {
	seed := make([]byte, len(root)+len(dh))
	copy(seed, root)
	copy(seed[len(root):], dh)

	h := hkdf.New(sha256.New, seed, nil, append([]byte(infoRoot+":"), info...))
	newRoot = make([]byte, keySize)
	if _, err = io.ReadFull(h, newRoot); err != nil {
		return
	}
	ck1 := make([]byte, keySize)
	if _, err = io.ReadFull(h, ck1); err != nil {
		return
	}
	ck2 := make([]byte, keySize)
	if _, err = io.ReadFull(h, ck2); err != nil {
		return
	}
	if initiator {
		return newRoot, ck1, ck2, nil
	}
	return newRoot, ck2, ck1, nil
}

func kdfChain(ck []byte) (nextCK, msgKey []byte, err error) {
	h := hkdf.New(sha256.New, ck, nil, []byte(infoChain))
	nextCK = make([]byte, keySize)
	if _, err = io.ReadFull(h, nextCK); err != nil {
		return
	}
	msgKey = make([]byte, keySize)
	if _, err = io.ReadFull(h, msgKey); err != nil {
		return
	}
	return
}
