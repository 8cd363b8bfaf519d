package fingerprint

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/vauchi-app/core/pkg/identity"
	"github.com/vauchi-app/core/pkg/recovery"
)

const (
	payloadMagic   = "wb"
	payloadVersion = 1

	// payloadKeySize is the fixed key width this wire format assumes.
	// Ed25519 keys fit; ML-DSA-65 identities are far larger and cannot be
	// round-tripped through a practically scannable QR code, so Encode
	// rejects them rather than silently truncating.
	payloadKeySize = 32
	signatureSize  = 64

	// Expiry is how long after IssuerTimestamp a scanned payload is still
	// accepted, per spec.md §6.
	Expiry = 10 * time.Minute
)

// PayloadKind tags which QR payload shape follows the version byte.
type PayloadKind byte

const (
	_ PayloadKind = iota
	KindExchange
	KindDeviceLink
	KindRecoveryClaim
)

func (k PayloadKind) String() string {
	switch k {
	case KindExchange:
		return "exchange"
	case KindDeviceLink:
		return "device-link"
	case KindRecoveryClaim:
		return "recovery-claim"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

var (
	ErrMalformedPayload      = errors.New("fingerprint: malformed QR payload")
	ErrBadPayloadVersion     = errors.New("fingerprint: unsupported QR payload version")
	ErrUnsupportedKeySize    = errors.New("fingerprint: key too large for a QR payload")
	ErrUnsupportedDeviceLink = errors.New("fingerprint: device-link QR payloads are not issued by this build")
	ErrPayloadExpired        = errors.New("fingerprint: QR payload expired")
)

// ExchangePayload is the Exchange QR kind: enough of a PrekeyBundle for a
// scanning party to run X3DH against, plus the freshness fields spec.md §6
// requires. LongTermExchange rides alongside SignedExchange because
// pkg/identity's PrekeyBundle distinguishes the two (see DESIGN.md); this
// is an addition to spec.md's literal field list, not a departure from it.
type ExchangePayload struct {
	SigningPublic      []byte
	LongTermExchange   []byte
	SignedExchange     []byte
	SignedExchangeSig  []byte
	OneTimeExchange    []byte // nil if none offered
	SignedPrekeyExpiry time.Time
	IssuerTimestamp    time.Time
}

// EncodeExchange renders bundle as a versioned, base64 QR payload.
func EncodeExchange(bundle *identity.PrekeyBundle, signedPrekeyExpiry, issuedAt time.Time) (string, error) {
	if len(bundle.SigningPublic) != payloadKeySize {
		return "", fmt.Errorf("%w: signing key is %d bytes", ErrUnsupportedKeySize, len(bundle.SigningPublic))
	}
	if len(bundle.LongTermExchange) != payloadKeySize || len(bundle.SignedExchange) != payloadKeySize {
		return "", fmt.Errorf("%w: exchange key must be %d bytes", ErrUnsupportedKeySize, payloadKeySize)
	}
	if len(bundle.SignedExchangeSig) != signatureSize {
		return "", fmt.Errorf("%w: signature must be %d bytes", ErrMalformedPayload, signatureSize)
	}

	hasOneTime := len(bundle.OneTimeExchange) == payloadKeySize

	body := make([]byte, 0, payloadKeySize*3+signatureSize+1+payloadKeySize+16)
	body = append(body, bundle.SigningPublic...)
	body = append(body, bundle.LongTermExchange...)
	body = append(body, bundle.SignedExchange...)
	body = append(body, bundle.SignedExchangeSig...)
	if hasOneTime {
		body = append(body, 1)
		body = append(body, bundle.OneTimeExchange...)
	} else {
		body = append(body, 0)
	}
	body = binary.BigEndian.AppendUint64(body, uint64(signedPrekeyExpiry.Unix()))
	body = binary.BigEndian.AppendUint64(body, uint64(issuedAt.Unix()))

	return encodeFrame(KindExchange, body), nil
}

// DecodeExchange parses a payload produced by EncodeExchange, enforcing the
// 10-minute freshness window against now.
func DecodeExchange(payload string, now time.Time) (ExchangePayload, error) {
	kind, body, err := decodeFrame(payload)
	if err != nil {
		return ExchangePayload{}, err
	}
	if kind != KindExchange {
		return ExchangePayload{}, fmt.Errorf("%w: expected exchange, got %s", ErrMalformedPayload, kind)
	}

	const fixedLen = payloadKeySize*3 + signatureSize + 1
	if len(body) < fixedLen {
		return ExchangePayload{}, fmt.Errorf("%w: short exchange body", ErrMalformedPayload)
	}

	pos := 0
	signingPublic := body[pos : pos+payloadKeySize]
	pos += payloadKeySize
	longTerm := body[pos : pos+payloadKeySize]
	pos += payloadKeySize
	signedExchange := body[pos : pos+payloadKeySize]
	pos += payloadKeySize
	sig := body[pos : pos+signatureSize]
	pos += signatureSize

	hasOneTime := body[pos] == 1
	pos++

	var oneTime []byte
	if hasOneTime {
		if len(body) < pos+payloadKeySize {
			return ExchangePayload{}, fmt.Errorf("%w: truncated one-time key", ErrMalformedPayload)
		}
		oneTime = append([]byte(nil), body[pos:pos+payloadKeySize]...)
		pos += payloadKeySize
	}

	if len(body) < pos+16 {
		return ExchangePayload{}, fmt.Errorf("%w: missing timestamps", ErrMalformedPayload)
	}
	expiry := time.Unix(int64(binary.BigEndian.Uint64(body[pos:pos+8])), 0).UTC()
	pos += 8
	issued := time.Unix(int64(binary.BigEndian.Uint64(body[pos:pos+8])), 0).UTC()

	if now.After(issued.Add(Expiry)) {
		return ExchangePayload{}, ErrPayloadExpired
	}

	return ExchangePayload{
		SigningPublic:      append([]byte(nil), signingPublic...),
		LongTermExchange:   append([]byte(nil), longTerm...),
		SignedExchange:     append([]byte(nil), signedExchange...),
		SignedExchangeSig:  append([]byte(nil), sig...),
		OneTimeExchange:    oneTime,
		SignedPrekeyExpiry: expiry,
		IssuerTimestamp:    issued,
	}, nil
}

// RecoveryClaimPayload is the RecoveryClaim QR kind: a recovery.Claim in
// wire form, scanned by an existing contact during in-person verification.
type RecoveryClaimPayload struct {
	Claim           recovery.Claim
	IssuerTimestamp time.Time
}

// EncodeRecoveryClaim renders claim as a versioned, base64 QR payload.
func EncodeRecoveryClaim(claim recovery.Claim, issuedAt time.Time) (string, error) {
	if len(claim.OldPublic) != payloadKeySize || len(claim.NewPublic) != payloadKeySize {
		return "", fmt.Errorf("%w: claim keys must be %d bytes", ErrUnsupportedKeySize, payloadKeySize)
	}
	if len(claim.Signature) != signatureSize {
		return "", fmt.Errorf("%w: signature must be %d bytes", ErrMalformedPayload, signatureSize)
	}

	body := make([]byte, 0, payloadKeySize*2+signatureSize+16)
	body = append(body, claim.OldPublic...)
	body = append(body, claim.NewPublic...)
	body = binary.BigEndian.AppendUint64(body, uint64(claim.Timestamp.Unix()))
	body = append(body, claim.Signature...)
	body = binary.BigEndian.AppendUint64(body, uint64(issuedAt.Unix()))

	return encodeFrame(KindRecoveryClaim, body), nil
}

// DecodeRecoveryClaim parses a payload produced by EncodeRecoveryClaim.
func DecodeRecoveryClaim(payload string, now time.Time) (RecoveryClaimPayload, error) {
	kind, body, err := decodeFrame(payload)
	if err != nil {
		return RecoveryClaimPayload{}, err
	}
	if kind != KindRecoveryClaim {
		return RecoveryClaimPayload{}, fmt.Errorf("%w: expected recovery-claim, got %s", ErrMalformedPayload, kind)
	}

	const fixedLen = payloadKeySize*2 + 8 + signatureSize + 8
	if len(body) != fixedLen {
		return RecoveryClaimPayload{}, fmt.Errorf("%w: wrong recovery-claim body length", ErrMalformedPayload)
	}

	pos := 0
	oldPublic := append([]byte(nil), body[pos:pos+payloadKeySize]...)
	pos += payloadKeySize
	newPublic := append([]byte(nil), body[pos:pos+payloadKeySize]...)
	pos += payloadKeySize
	ts := time.Unix(int64(binary.BigEndian.Uint64(body[pos:pos+8])), 0).UTC()
	pos += 8
	sig := append([]byte(nil), body[pos:pos+signatureSize]...)
	pos += signatureSize
	issued := time.Unix(int64(binary.BigEndian.Uint64(body[pos:pos+8])), 0).UTC()

	if now.After(issued.Add(Expiry)) {
		return RecoveryClaimPayload{}, ErrPayloadExpired
	}

	return RecoveryClaimPayload{
		Claim: recovery.Claim{
			OldPublic: oldPublic,
			NewPublic: newPublic,
			Timestamp: ts,
			Signature: sig,
		},
		IssuerTimestamp: issued,
	}, nil
}

// DecodeKind peeks at a payload's kind without fully parsing its body, so a
// scanner can dispatch to DecodeExchange/DecodeRecoveryClaim.
func DecodeKind(payload string) (PayloadKind, error) {
	kind, _, err := decodeFrame(payload)
	return kind, err
}

func encodeFrame(kind PayloadKind, body []byte) string {
	frame := make([]byte, 0, len(payloadMagic)+2+len(body))
	frame = append(frame, payloadMagic...)
	frame = append(frame, payloadVersion, byte(kind))
	frame = append(frame, body...)
	return base64.RawURLEncoding.EncodeToString(frame)
}

func decodeFrame(payload string) (PayloadKind, []byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(raw) < len(payloadMagic)+2 {
		return 0, nil, fmt.Errorf("%w: too short", ErrMalformedPayload)
	}
	if string(raw[:len(payloadMagic)]) != payloadMagic {
		return 0, nil, fmt.Errorf("%w: bad magic", ErrMalformedPayload)
	}
	pos := len(payloadMagic)
	if raw[pos] != payloadVersion {
		return 0, nil, fmt.Errorf("%w: got %d", ErrBadPayloadVersion, raw[pos])
	}
	pos++
	kind := PayloadKind(raw[pos])
	pos++
	if kind == KindDeviceLink {
		return 0, nil, ErrUnsupportedDeviceLink
	}
	return kind, raw[pos:], nil
}
