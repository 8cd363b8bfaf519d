package services

import (
	"errors"
	"time"

	"github.com/vauchi-app/core/pkg/envelope"
)

// ErrNotImplemented is returned by Federate: broker-to-broker routing is
// specified at a contract level only (spec.md §4.6, §9) and is explicitly
// out of scope for an MVP core.
var ErrNotImplemented = errors.New("services: federation is not implemented")

// ForwardingHint is the record spec.md §4.6 asks a broker at >80% capacity
// to leave behind when it transfers a mailbox's envelopes to a peer
// broker: readers who still poll the original mailbox-id can follow it to
// where their envelopes actually live, for a bounded time.
type ForwardingHint struct {
	Mailbox   envelope.MailboxID
	PeerURL   string
	ExpiresAt time.Time
}

// Federate would transfer mailbox's envelopes to a mutually-authenticated
// peer broker, preserving remaining TTL and integrity, and record a
// ForwardingHint under the same mailbox-id. Full inter-broker routing is
// out of scope for the core (spec.md §9), so this always fails closed.
func (s *Service) Federate(mailbox envelope.MailboxID, peerURL string) (ForwardingHint, error) {
	return ForwardingHint{}, ErrNotImplemented
}
