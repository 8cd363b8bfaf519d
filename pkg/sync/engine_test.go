package sync

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vauchi-app/core/pkg/attest"
	"github.com/vauchi-app/core/pkg/card"
	"github.com/vauchi-app/core/pkg/envelope"
	"github.com/vauchi-app/core/pkg/identity"
	"github.com/vauchi-app/core/pkg/ratchet"
)

// fakeBroker is an in-memory Broker that records every Put in delivered, so
// tests can pass those envelopes to Engine.ApplyInbound themselves without a
// real relay client.
type fakeBroker struct {
	delivered []envelope.Envelope
	acked     []uuid.UUID
	failNext  bool
}

func (b *fakeBroker) Put(_ context.Context, env envelope.Envelope) error {
	if b.failNext {
		b.failNext = false
		return assert.AnError
	}
	b.delivered = append(b.delivered, env)
	return nil
}

func (b *fakeBroker) Ack(_ context.Context, _ envelope.MailboxID, id uuid.UUID) error {
	b.acked = append(b.acked, id)
	return nil
}

func mustIdentity(t *testing.T, name string) *identity.Identity {
	t.Helper()
	seed := make([]byte, 32)
	_, err := rand.Read(seed)
	require.NoError(t, err)
	id, err := identity.Create(seed, name, attest.Ed25519Algorithm)
	require.NoError(t, err)
	return id
}

// pairedRatchets builds two Ratchets sharing a root secret and each other's
// initial DH public key, as pkg/ratchet's own tests do.
func pairedRatchets(t *testing.T) (*ratchet.Ratchet, *ratchet.Ratchet) {
	t.Helper()
	rootSecret := make([]byte, 32)
	_, err := rand.Read(rootSecret)
	require.NoError(t, err)

	a, err := ratchet.NewFromSecret(rootSecret)
	require.NoError(t, err)
	b, err := ratchet.NewFromSecret(rootSecret)
	require.NoError(t, err)

	require.NoError(t, a.SetTheirPublic(b.OurPublic(), "alice-bob"))
	require.NoError(t, b.SetTheirPublic(a.OurPublic(), "alice-bob"))
	return a, b
}

// harness wires one full Alice/Bob pair of Engines, each believing the
// other is its sole contact.
type harness struct {
	aliceID, bobID *identity.Identity
	aliceOwnCard   *card.Card
	aliceCard      *card.Engine
	bobCard        *card.Engine
	aliceBroker    *fakeBroker
	bobBroker      *fakeBroker
	alice          *Engine
	bob            *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	aliceID := mustIdentity(t, "alice")
	bobID := mustIdentity(t, "bob")

	aliceRatchet, bobRatchet := pairedRatchets(t)

	aliceOwnCard := card.NewCard("Alice")
	aliceCardEngine := card.NewEngine(aliceOwnCard)
	bobCardEngine := card.NewEngine(card.NewCard("Bob"))

	aliceBroker := &fakeBroker{}
	bobBroker := &fakeBroker{}

	alice := NewEngine(aliceID, aliceCardEngine, aliceBroker)
	bob := NewEngine(bobID, bobCardEngine, bobBroker)

	bobMailbox := envelope.MailboxIDFor(bobID.PublicID().Marshal())
	aliceMailbox := envelope.MailboxIDFor(aliceID.PublicID().Marshal())

	alice.AddContact(&Contact{
		ID:            ContactID("bob"),
		SigningPublic: bobID.PublicID().Marshal(),
		Algorithm:     bobID.Algorithm(),
		MailboxID:     bobMailbox,
		Ratchet:       aliceRatchet,
	})
	bob.AddContact(&Contact{
		ID:            ContactID("alice"),
		SigningPublic: aliceID.PublicID().Marshal(),
		Algorithm:     aliceID.Algorithm(),
		MailboxID:     aliceMailbox,
		Ratchet:       bobRatchet,
	})

	return &harness{
		aliceID: aliceID, bobID: bobID,
		aliceOwnCard: aliceOwnCard,
		aliceCard:    aliceCardEngine, bobCard: bobCardEngine,
		aliceBroker: aliceBroker, bobBroker: bobBroker,
		alice: alice, bob: bob,
	}
}

func TestOutboxStartsIdleAndBecomesPendingOnDirty(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, Idle, h.alice.State("bob"))
	h.alice.MarkDirty("bob")
	assert.Equal(t, Pending, h.alice.State("bob"))
}

func TestAttemptSendsFullSnapshotAndAwaitsAck(t *testing.T) {
	h := newHarness(t)
	h.alice.MarkDirty("bob")

	require.NoError(t, h.alice.Attempt(context.Background(), "bob"))
	assert.Equal(t, AwaitingAck, h.alice.State("bob"))
	require.Len(t, h.aliceBroker.delivered, 1)

	env := h.aliceBroker.delivered[0]
	sender, err := h.bob.ApplyInbound(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, ContactID("alice"), sender)

	peer, ok := h.bobCard.PeerCard("alice")
	require.True(t, ok)
	name, _ := peer.DisplayName()
	assert.Equal(t, "Alice", name)
}

func TestAttemptWithNothingPendingStaysIdle(t *testing.T) {
	h := newHarness(t)
	err := h.alice.Attempt(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, Idle, h.alice.State("bob"))
	assert.Empty(t, h.aliceBroker.delivered)
}

func TestAttemptFailureKeepsPendingAndSchedulesRetry(t *testing.T) {
	h := newHarness(t)
	h.alice.MarkDirty("bob")
	h.aliceBroker.failNext = true

	err := h.alice.Attempt(context.Background(), "bob")
	require.Error(t, err)
	assert.Equal(t, Pending, h.alice.State("bob"))
	assert.False(t, h.alice.outbox.ReadyToSend("bob", time.Now()))
}

func TestHandleAckStaleOpIDIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.alice.MarkDirty("bob")
	require.NoError(t, h.alice.Attempt(context.Background(), "bob"))

	h.alice.HandleAck("bob", OpID("not-the-real-op-id"))
	assert.Equal(t, AwaitingAck, h.alice.State("bob"))
}

func TestHandleAckTransitionsToIdleWhenNothingElsePending(t *testing.T) {
	h := newHarness(t)
	h.alice.MarkDirty("bob")
	require.NoError(t, h.alice.Attempt(context.Background(), "bob"))

	opID := h.alice.outbox.OpID("bob")
	h.alice.HandleAck("bob", opID)
	assert.Equal(t, Idle, h.alice.State("bob"))
}

func TestHandleAckReturnsToPendingWhenDirtiedDuringFlight(t *testing.T) {
	h := newHarness(t)
	h.alice.MarkDirty("bob")
	require.NoError(t, h.alice.Attempt(context.Background(), "bob"))
	opID := h.alice.outbox.OpID("bob")

	// Mutate Alice's own card while the send is in flight: Bob's next
	// PendingDelta now has something new to report before the ack lands.
	h.aliceOwnCard.SetField(uuid.New(), card.KindEmail, "", "Email", "alice@example.com")

	h.alice.HandleAck("bob", opID)
	assert.Equal(t, Pending, h.alice.State("bob"))
}

func TestApplyInboundWithNoMatchingSessionReturnsSentinel(t *testing.T) {
	h := newHarness(t)
	bogus := envelope.Envelope{
		MailboxID:  envelope.MailboxIDFor(h.bobID.PublicID().Marshal()),
		ID:         uuid.New(),
		CreatedAt:  time.Now().UTC(),
		Header:     ratchet.Header{DHPub: make([]byte, 32), N: 0, PN: 0},
		Ciphertext: []byte("not a real ciphertext"),
	}
	_, err := h.bob.ApplyInbound(context.Background(), bogus)
	require.ErrorIs(t, err, ErrNoMatchingSession)
}

// TestApplyInboundBogusEnvelopeDoesNotCorruptSession guards against a
// trial decrypt permanently mutating the wrong contact's ratchet: after a
// bogus envelope fails against bob's sole contact session, a legitimate
// envelope from alice must still decrypt normally.
func TestApplyInboundBogusEnvelopeDoesNotCorruptSession(t *testing.T) {
	h := newHarness(t)
	bogus := envelope.Envelope{
		MailboxID:  envelope.MailboxIDFor(h.bobID.PublicID().Marshal()),
		ID:         uuid.New(),
		CreatedAt:  time.Now().UTC(),
		Header:     ratchet.Header{DHPub: make([]byte, 32), N: 0, PN: 0},
		Ciphertext: []byte("not a real ciphertext"),
	}
	_, err := h.bob.ApplyInbound(context.Background(), bogus)
	require.Error(t, err)

	h.alice.MarkDirty("bob")
	require.NoError(t, h.alice.Attempt(context.Background(), "bob"))
	require.Len(t, h.aliceBroker.delivered, 1)

	env := h.aliceBroker.delivered[0]
	sender, err := h.bob.ApplyInbound(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, ContactID("alice"), sender)
}

func TestRemoveContactClearsOutboxAndCardState(t *testing.T) {
	h := newHarness(t)
	h.alice.MarkDirty("bob")
	h.alice.RemoveContact("bob")
	assert.Equal(t, Idle, h.alice.State("bob"))
	_, ok := h.aliceCard.PeerCard("bob")
	assert.False(t, ok)
}
