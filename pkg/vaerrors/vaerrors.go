// Package vaerrors is the externally-visible error taxonomy every
// transport and UI surface branches on, generalizing the per-package
// Kind/Error wrapping pattern pkg/ratchet.TransportError already uses into
// the full code set spec.md §6 names.
package vaerrors

import (
	"errors"
	"fmt"

	"github.com/vauchi-app/core/pkg/card"
	"github.com/vauchi-app/core/pkg/envelope"
	"github.com/vauchi-app/core/pkg/fingerprint"
	"github.com/vauchi-app/core/pkg/identity"
	"github.com/vauchi-app/core/pkg/ratchet"
	"github.com/vauchi-app/core/pkg/recovery"
	"github.com/vauchi-app/core/pkg/store"
	"github.com/vauchi-app/core/pkg/sync"
	"github.com/vauchi-app/core/pkg/x3dh"
)

// Code is one of the externally-visible error codes named in spec.md §6.
type Code int

const (
	_ Code = iota
	InvalidBundle
	InvalidSignature
	Duplicate
	Expired
	OutOfOrder
	Undecipherable
	RateLimited
	NotFound
	TooLarge
	TransportClosed
	Conflict
	RecoveryInsufficient
)

func (c Code) String() string {
	switch c {
	case InvalidBundle:
		return "invalid_bundle"
	case InvalidSignature:
		return "invalid_signature"
	case Duplicate:
		return "duplicate"
	case Expired:
		return "expired"
	case OutOfOrder:
		return "out_of_order"
	case Undecipherable:
		return "undecipherable"
	case RateLimited:
		return "rate_limited"
	case NotFound:
		return "not_found"
	case TooLarge:
		return "too_large"
	case TransportClosed:
		return "transport_closed"
	case Conflict:
		return "conflict"
	case RecoveryInsufficient:
		return "recovery_insufficient"
	default:
		return "unknown"
	}
}

// Category is the four-way bucket spec.md §6 sorts every failure into, and
// decides how a caller should react: retry, surface, degrade, or abort.
type Category int

const (
	_ Category = iota
	// Input errors: malformed or rejected input. No session state changes.
	Input
	// Transient errors: the operation may succeed if retried with backoff.
	Transient
	// Session errors: a single contact's session is degraded; others are
	// unaffected.
	Session
	// Fatal errors: the core cannot continue and must surface once.
	Fatal
)

func (cat Category) String() string {
	switch cat {
	case Input:
		return "input"
	case Transient:
		return "transient"
	case Session:
		return "session"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Category reports which of the four taxonomy buckets a code belongs to.
// Undecipherable is deliberately Session, not Input: a single bad message
// degrades one contact's ratchet without touching anything else, per
// spec.md's "persistent Undecipherable degrades the specific per-contact
// session" rule. RateLimited and TransportClosed are Transient: both are
// expected to resolve on their own and warrant automatic backoff-retry.
func (c Code) Category() Category {
	switch c {
	case InvalidBundle, InvalidSignature, Duplicate, OutOfOrder, TooLarge, Conflict, RecoveryInsufficient:
		return Input
	case RateLimited, TransportClosed:
		return Transient
	case Undecipherable, Expired:
		return Session
	case NotFound:
		return Input
	default:
		return Fatal
	}
}

// Error pairs a Code with the underlying cause, so Unwrap still lets
// callers errors.Is/As against package-specific sentinels while also
// letting transports branch on a single flat Code.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Classify maps an error surfaced by any core package onto the externally
// visible taxonomy. It tries the most specific match first; an error this
// function doesn't recognize is reported as a bare wrap with no code match,
// i.e. callers should treat an unrecognized error as Fatal.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var asErr *Error
	if errors.As(err, &asErr) {
		return asErr
	}

	var terr *ratchet.TransportError
	if errors.As(err, &terr) {
		switch terr.Kind {
		case ratchet.Duplicate:
			return newError(Duplicate, err)
		case ratchet.OutOfOrder:
			return newError(OutOfOrder, err)
		case ratchet.Undecipherable:
			return newError(Undecipherable, err)
		case ratchet.Expired:
			return newError(Expired, err)
		}
	}

	switch {
	case errors.Is(err, x3dh.ErrInvalidBundle),
		errors.Is(err, identity.ErrRejectedSignature),
		errors.Is(err, identity.ErrInvalidSeed),
		errors.Is(err, identity.ErrUnknownSignedPrekey),
		errors.Is(err, identity.ErrNoOneTimePrekey):
		return newError(InvalidBundle, err)

	case errors.Is(err, recovery.ErrInvalidSignature):
		return newError(InvalidSignature, err)
	case errors.Is(err, recovery.ErrInsufficientVouchers):
		return newError(RecoveryInsufficient, err)
	case errors.Is(err, recovery.ErrProofExpired):
		return newError(Expired, err)
	case errors.Is(err, recovery.ErrMismatchedBinding),
		errors.Is(err, recovery.ErrVoucherOutOfWindow),
		errors.Is(err, recovery.ErrThresholdOutOfRange):
		return newError(InvalidBundle, err)

	case errors.Is(err, envelope.ErrTooLarge):
		return newError(TooLarge, err)
	case errors.Is(err, envelope.ErrMalformed), errors.Is(err, envelope.ErrBadVersion):
		return newError(InvalidBundle, err)

	case errors.Is(err, fingerprint.ErrPayloadExpired):
		return newError(Expired, err)
	case errors.Is(err, fingerprint.ErrMalformedPayload),
		errors.Is(err, fingerprint.ErrBadPayloadVersion),
		errors.Is(err, fingerprint.ErrUnsupportedKeySize),
		errors.Is(err, fingerprint.ErrUnsupportedDeviceLink):
		return newError(InvalidBundle, err)

	case errors.Is(err, sync.ErrSignatureMismatch):
		return newError(InvalidSignature, err)
	case errors.Is(err, sync.ErrUnknownContact), errors.Is(err, sync.ErrNoMatchingSession):
		return newError(NotFound, err)

	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrMissingBucket):
		return newError(NotFound, err)
	case errors.Is(err, store.ErrFailedDecryption):
		return newError(Undecipherable, err)

	case errors.Is(err, card.ErrUnknownField):
		return newError(InvalidBundle, err)

	default:
		return newError(0, err)
	}
}

// Is reports whether err classifies to the given code, so callers can write
// `if vaerrors.Is(err, vaerrors.Duplicate)` without holding onto a Classify
// result.
func Is(err error, code Code) bool {
	classified := Classify(err)
	return classified != nil && classified.Code == code
}
