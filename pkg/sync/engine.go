// Package sync is the Sync Engine of spec.md §4.5: a durable per-contact
// outbox state machine, retry with backoff, and inbox application that
// binds an inbound envelope to a sender contact by the signature carried
// inside the decrypted plaintext. It sits between pkg/card (what to send)
// and the Ratchet/broker transport (how to send it).
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vauchi-app/core/pkg/attest"
	"github.com/vauchi-app/core/pkg/card"
	"github.com/vauchi-app/core/pkg/envelope"
	"github.com/vauchi-app/core/pkg/identity"
	"github.com/vauchi-app/core/pkg/ratchet"
)

// ContactID is card.ContactID under another name, so callers working only
// with this package don't need to import pkg/card just for the type.
type ContactID = card.ContactID

// Ratchet is the subset of *pkg/ratchet.Ratchet the sync engine drives.
// Declared as an interface so tests can substitute a fake without needing
// a real X3DH-derived session.
type Ratchet interface {
	Encrypt(plaintext []byte) (ratchet.Header, []byte, error)
	Decrypt(h ratchet.Header, ciphertext []byte, sessionID string) ([]byte, error)
	Save() (*ratchet.State, error)
}

// Broker is the subset of the store-and-forward client the sync engine
// needs: durable Put and envelope Ack. Stream/inbound delivery is fed into
// ApplyInbound by whatever loop reads the broker's Stream.
type Broker interface {
	Put(ctx context.Context, env envelope.Envelope) error
	Ack(ctx context.Context, mailbox envelope.MailboxID, envelopeID uuid.UUID) error
}

// Contact is the sync-relevant slice of spec.md §3's Contact entity: enough
// to address and encrypt to a peer.
type Contact struct {
	ID            ContactID
	SigningPublic []byte
	Algorithm     attest.Algorithm
	MailboxID     envelope.MailboxID
	Ratchet       Ratchet
}

var (
	ErrUnknownContact    = errors.New("sync: unknown contact")
	ErrNoMatchingSession = errors.New("sync: no contact session decrypted this envelope")
)

// Engine is the Sync Engine. One Engine serves one local Identity across
// all of its contacts.
type Engine struct {
	mu       sync.Mutex
	self     *identity.Identity
	card     *card.Engine
	broker   Broker
	outbox   *Outbox
	contacts map[ContactID]*Contact
}

// NewEngine wires an identity, its Card & Visibility Engine, and a broker
// client into a Sync Engine with the default backoff policy.
func NewEngine(self *identity.Identity, cardEngine *card.Engine, broker Broker) *Engine {
	return &Engine{
		self:     self,
		card:     cardEngine,
		broker:   broker,
		outbox:   NewOutbox(DefaultBackoff()),
		contacts: make(map[ContactID]*Contact),
	}
}

// AddContact registers a contact's transport identity with the engine.
func (e *Engine) AddContact(c *Contact) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contacts[c.ID] = c
}

// RemoveContact purges a contact's outbox state and, via pkg/card, their
// visibility rule and cached replica — spec.md §3's delete lifecycle.
func (e *Engine) RemoveContact(id ContactID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.contacts, id)
	e.outbox.Remove(id)
	e.card.RemoveContact(id)
}

// MarkDirty enqueues contact for delivery after a local card mutation.
func (e *Engine) MarkDirty(contact ContactID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outbox.MarkDirty(contact)
}

// MarkAllDirty enqueues every known contact — called once per local card
// mutation, since a single field edit can affect what every contact should
// see depending on their individual VisibilityRule.
func (e *Engine) MarkAllDirty() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.contacts {
		e.outbox.MarkDirty(id)
	}
}

// State returns a contact's current outbox state.
func (e *Engine) State(contact ContactID) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outbox.State(contact)
}

// ReadyContacts returns every contact whose outbox is Pending and whose
// retry backoff has elapsed, suitable for a driver loop to call Attempt on.
func (e *Engine) ReadyContacts(now time.Time) []ContactID {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ready []ContactID
	for id := range e.contacts {
		if e.outbox.ReadyToSend(id, now) {
			ready = append(ready, id)
		}
	}
	return ready
}

// Attempt performs one send attempt for contact: compute the pending
// Delta, sign and Ratchet-encrypt it, and Put the resulting envelope to
// the broker. On success the contact moves to AwaitingAck and the Card
// Engine records the delta as delivered; on failure it stays Pending with
// its retry backoff advanced.
func (e *Engine) Attempt(ctx context.Context, contact ContactID) error {
	e.mu.Lock()
	c, ok := e.contacts[contact]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownContact
	}
	if !e.outbox.ReadyToSend(contact, time.Now()) {
		e.mu.Unlock()
		return nil
	}
	delta, hasDelta := e.card.PendingDelta(contact)
	if !hasDelta {
		e.outbox.MarkNothingToSend(contact)
		e.mu.Unlock()
		return nil
	}
	r := c.Ratchet
	mailbox := c.MailboxID
	e.mu.Unlock()

	plaintext, err := signPlaintext(e.self, delta)
	if err != nil {
		return fmt.Errorf("sign outbound delta: %w", err)
	}

	header, ciphertext, err := r.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("ratchet encrypt: %w", err)
	}

	env := envelope.Envelope{
		MailboxID:  mailbox,
		ID:         uuid.New(),
		CreatedAt:  time.Now().UTC(),
		Header:     header,
		Ciphertext: ciphertext,
	}

	if err := e.broker.Put(ctx, env); err != nil {
		e.mu.Lock()
		delay := e.outbox.MarkSendFailed(contact, time.Now())
		e.mu.Unlock()
		return fmt.Errorf("broker put (retry in %s): %w", delay, err)
	}

	e.mu.Lock()
	e.outbox.MarkSendSucceeded(contact)
	e.card.MarkSent(contact, delta)
	e.mu.Unlock()
	return nil
}

// HandleAck processes a broker acknowledgement for a prior Put, moving the
// contact to Idle, or straight back to Pending if another mutation arrived
// while the ack was in flight.
func (e *Engine) HandleAck(contact ContactID, opID OpID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.outbox.OpID(contact) != opID {
		return // stale or duplicate ack
	}
	_, dirty := e.card.PendingDelta(contact)
	e.outbox.MarkAcked(contact, dirty)
}

// ApplyInbound tries an envelope's ciphertext against every known
// contact's Ratchet session until one decrypts successfully, verifies the
// embedded signature, and applies the carried Delta via the Card Engine.
// Each trial snapshots the contact's ratchet state first and rolls back to
// it on any failure, so a trial against the wrong contact — or a malformed
// envelope tried against every contact in turn — never leaves that
// contact's session mutated (spec.md §7: "input errors … no session state
// changes"; §8's per-contact isolation). A session is only left advanced
// once its Decrypt and the embedded signature both succeed.
// The caller is responsible for acking the envelope with the broker once
// this returns without error, per spec.md §4.5.
func (e *Engine) ApplyInbound(ctx context.Context, env envelope.Envelope) (ContactID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, c := range e.contacts {
		snapshot, err := c.Ratchet.Save()
		if err != nil {
			continue
		}

		plaintext, err := c.Ratchet.Decrypt(env.Header, env.Ciphertext, string(id))
		if err != nil {
			restoreRatchet(c, snapshot)
			continue
		}

		delta, err := verifyPlaintext(plaintext, c.SigningPublic)
		if err != nil {
			restoreRatchet(c, snapshot)
			return "", fmt.Errorf("contact %s: %w", id, err)
		}

		if err := e.card.ApplyRemoteDelta(id, delta); err != nil {
			return "", fmt.Errorf("apply delta from %s: %w", id, err)
		}
		return id, nil
	}
	return "", ErrNoMatchingSession
}

// restoreRatchet rolls c's session back to a pre-trial snapshot. Decrypt
// mutates its receiver in place (DH ratchet step, chain advance, buffered
// skip keys) before the AEAD check runs, so a failed trial against the
// wrong contact must be undone rather than left in place.
func restoreRatchet(c *Contact, snapshot *ratchet.State) {
	if restored, err := ratchet.Restore(snapshot); err == nil {
		c.Ratchet = restored
	}
}
