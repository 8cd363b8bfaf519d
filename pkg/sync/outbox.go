package sync

import (
	"fmt"
	"time"

	"github.com/vauchi-app/core/internal/enigma"
	"github.com/vauchi-app/core/pkg/card"
)

// OpID identifies one outbox delivery attempt cycle, following the same
// random-text idiom internal/enigma.Text already provides for session and
// challenge identifiers elsewhere in this module.
type OpID string

func newOpID() OpID { return OpID(enigma.Text(16)) }

// State is the per-contact outbox state of spec.md §4.5.
type State int

const (
	Idle State = iota
	Pending
	AwaitingAck
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case AwaitingAck:
		return "awaiting-ack"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// contactOutbox is the state machine for one contact's deliveries.
type contactOutbox struct {
	state       State
	opID        OpID
	attempts    int
	nextRetryAt time.Time
}

// Outbox tracks per-contact delivery state. It does not itself hold queued
// payloads — the payload for "what to send next" is always recomputed from
// card.Engine.PendingDelta, which already coalesces multiple field
// mutations into one diff, matching spec.md §4.5's coalescing rule for
// free: a newer mutation on the same field simply changes what the next
// diff contains before it's ever sent.
type Outbox struct {
	backoff  Backoff
	contacts map[card.ContactID]*contactOutbox
}

// NewOutbox builds an empty Outbox using backoff for retry scheduling.
func NewOutbox(backoff Backoff) *Outbox {
	return &Outbox{backoff: backoff, contacts: make(map[card.ContactID]*contactOutbox)}
}

func (o *Outbox) entry(contact card.ContactID) *contactOutbox {
	c, ok := o.contacts[contact]
	if !ok {
		c = &contactOutbox{state: Idle}
		o.contacts[contact] = c
	}
	return c
}

// MarkDirty records that contact has a pending mutation to deliver. Idle
// transitions to Pending with a fresh op-id; an already-Pending or
// AwaitingAck contact is left alone — the next attempt (or the next ack)
// will pick up the newer diff regardless.
func (o *Outbox) MarkDirty(contact card.ContactID) {
	c := o.entry(contact)
	if c.state == Idle {
		c.state = Pending
		c.opID = newOpID()
		c.attempts = 0
		c.nextRetryAt = time.Time{}
	}
}

// State returns the current outbox state for a contact (Idle if never
// seen).
func (o *Outbox) State(contact card.ContactID) State {
	c, ok := o.contacts[contact]
	if !ok {
		return Idle
	}
	return c.state
}

// ReadyToSend reports whether contact is Pending and its retry backoff (if
// any) has elapsed as of now.
func (o *Outbox) ReadyToSend(contact card.ContactID, now time.Time) bool {
	c, ok := o.contacts[contact]
	if !ok || c.state != Pending {
		return false
	}
	return !now.Before(c.nextRetryAt)
}

// MarkSendSucceeded transitions Pending -> AwaitingAck after a successful
// Ratchet.Encrypt + Broker.Put.
func (o *Outbox) MarkSendSucceeded(contact card.ContactID) {
	c := o.entry(contact)
	c.state = AwaitingAck
	c.attempts = 0
}

// MarkSendFailed keeps the contact Pending but schedules the next retry
// per the exponential-backoff-with-jitter policy.
func (o *Outbox) MarkSendFailed(contact card.ContactID, now time.Time) time.Duration {
	c := o.entry(contact)
	c.state = Pending
	delay := o.backoff.Next(c.attempts)
	c.attempts++
	c.nextRetryAt = now.Add(delay)
	return delay
}

// MarkAcked transitions AwaitingAck -> Idle, or -> Pending if a fresh
// mutation arrived while the ack was in flight (dirty is the result of a
// PendingDelta check performed by the caller after the ack).
func (o *Outbox) MarkAcked(contact card.ContactID, dirty bool) {
	c := o.entry(contact)
	if dirty {
		c.state = Pending
		c.opID = newOpID()
		c.attempts = 0
		c.nextRetryAt = time.Time{}
		return
	}
	c.state = Idle
	c.opID = ""
}

// MarkNothingToSend transitions Pending -> Idle when a dirty contact turns
// out, after visibility filtering, to have nothing actually due to send.
func (o *Outbox) MarkNothingToSend(contact card.ContactID) {
	c := o.entry(contact)
	c.state = Idle
	c.opID = ""
	c.attempts = 0
}

// OpID returns the current in-flight op-id for a contact, empty if Idle.
func (o *Outbox) OpID(contact card.ContactID) OpID {
	c, ok := o.contacts[contact]
	if !ok {
		return ""
	}
	return c.opID
}

// Remove purges a contact's outbox entry entirely (contact deletion).
func (o *Outbox) Remove(contact card.ContactID) {
	delete(o.contacts, contact)
}
