package card

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFirstDeltaIsFullSnapshotFilteredByVisibility(t *testing.T) {
	r := require.New(t)
	c := NewCard("alice")
	work := c.SetField(uuid.Nil, KindEmail, "", "work", "a@w")
	personal := c.SetField(uuid.Nil, KindPhone, "", "cell", "555-0100")

	eng := NewEngine(c)
	bobRule := NewVisibilityRule()
	bobRule.Hide(personal.ID)
	eng.SetVisibility("bob", bobRule)

	delta, ok := eng.PendingDelta("bob")
	r.True(ok)
	r.Equal(DeltaFullSnapshot, delta.Kind)
	r.Len(delta.Snapshot.Fields, 1)
	r.Equal(work.ID, delta.Snapshot.Fields[0].ID)

	eng.MarkSent("bob", delta)
	_, ok = eng.PendingDelta("bob")
	r.False(ok)
}

func TestVisibilityUpdatePropagation(t *testing.T) {
	// Mirrors spec.md's scenario: Alice's card has a Work-email visible to
	// Bob and a Personal-phone hidden from Bob. Alice flips Personal-phone
	// to visible; the next delta to Bob carries exactly that field, and the
	// delta to Carol (for whom it stays hidden) carries nothing for it.
	r := require.New(t)
	c := NewCard("alice")
	_ = c.SetField(uuid.Nil, KindEmail, "", "work", "a@w")
	phone := c.SetField(uuid.Nil, KindPhone, "", "cell", "p")

	eng := NewEngine(c)

	bobRule := NewVisibilityRule()
	bobRule.Hide(phone.ID)
	eng.SetVisibility("bob", bobRule)

	carolRule := NewVisibilityRule()
	carolRule.Hide(phone.ID)
	eng.SetVisibility("carol", carolRule)

	for _, who := range []ContactID{"bob", "carol"} {
		d, ok := eng.PendingDelta(who)
		r.True(ok)
		eng.MarkSent(who, d)
	}

	bobRule.Show(phone.ID)

	bobDelta, ok := eng.PendingDelta("bob")
	r.True(ok)
	r.Equal(DeltaPatch, bobDelta.Kind)
	r.Len(bobDelta.Patches, 1)
	r.Equal(OpSetField, bobDelta.Patches[0].Op)
	r.Equal(phone.ID, bobDelta.Patches[0].FieldID)
	r.Equal("p", bobDelta.Patches[0].Value)
	r.Equal(uint64(1), bobDelta.Patches[0].Version)

	_, ok = eng.PendingDelta("carol")
	r.False(ok)
}

func TestVisibleToHiddenEmitsDeleteFieldPatch(t *testing.T) {
	r := require.New(t)
	c := NewCard("alice")
	email := c.SetField(uuid.Nil, KindEmail, "", "work", "a@w")

	eng := NewEngine(c)
	rule := NewVisibilityRule()
	eng.SetVisibility("bob", rule)
	d, ok := eng.PendingDelta("bob")
	r.True(ok)
	eng.MarkSent("bob", d)

	rule.Hide(email.ID)
	d2, ok := eng.PendingDelta("bob")
	r.True(ok)
	r.Len(d2.Patches, 1)
	r.Equal(OpDeleteField, d2.Patches[0].Op)
	r.Equal(email.ID, d2.Patches[0].FieldID)
}

func TestTombstoneEmitsDeleteUnconditionallyToAnyoneWhoSawIt(t *testing.T) {
	r := require.New(t)
	c := NewCard("alice")
	email := c.SetField(uuid.Nil, KindEmail, "", "work", "a@w")

	eng := NewEngine(c)
	eng.SetVisibility("bob", NewVisibilityRule())
	d, _ := eng.PendingDelta("bob")
	eng.MarkSent("bob", d)

	_, err := c.DeleteField(email.ID)
	r.NoError(err)

	d2, ok := eng.PendingDelta("bob")
	r.True(ok)
	r.Len(d2.Patches, 1)
	r.Equal(OpDeleteField, d2.Patches[0].Op)
}

func TestApplyRemoteDeltaRoundTrip(t *testing.T) {
	r := require.New(t)
	alice := NewCard("alice")
	field := alice.SetField(uuid.Nil, KindEmail, "", "work", "a@w")

	eng := NewEngine(alice)
	eng.SetVisibility("bob", NewVisibilityRule())
	delta, _ := eng.PendingDelta("bob")
	eng.MarkSent("bob", delta)

	bobEngine := NewEngine(NewCard("bob"))
	err := bobEngine.ApplyRemoteDelta("alice", delta)
	r.NoError(err)

	peer, ok := bobEngine.PeerCard("alice")
	r.True(ok)
	name, _ := peer.DisplayName()
	r.Equal("alice", name)
	fields := peer.Fields()
	r.Len(fields, 1)
	r.Equal(field.Value, fields[0].Value)
}

func TestApplyRemoteDeltaIsIdempotentUnderRedelivery(t *testing.T) {
	r := require.New(t)
	alice := NewCard("alice")
	alice.SetField(uuid.Nil, KindEmail, "", "work", "a@w")

	eng := NewEngine(alice)
	eng.SetVisibility("bob", NewVisibilityRule())
	delta, _ := eng.PendingDelta("bob")

	bobEngine := NewEngine(NewCard("bob"))
	r.NoError(bobEngine.ApplyRemoteDelta("alice", delta))
	r.NoError(bobEngine.ApplyRemoteDelta("alice", delta)) // redelivered envelope

	peer, _ := bobEngine.PeerCard("alice")
	r.Len(peer.Fields(), 1)
}

func TestApplyRemoteDeltaIgnoresStaleVersion(t *testing.T) {
	r := require.New(t)
	bobEngine := NewEngine(NewCard("bob"))

	newer := Delta{Kind: DeltaPatch, Patches: []Patch{
		{Op: OpSetField, FieldID: uuid.New(), Kind: KindEmail, Label: "work", Value: "new", Version: 5},
	}}
	id := newer.Patches[0].FieldID
	r.NoError(bobEngine.ApplyRemoteDelta("alice", newer))

	stale := Delta{Kind: DeltaPatch, Patches: []Patch{
		{Op: OpSetField, FieldID: id, Kind: KindEmail, Label: "work", Value: "old", Version: 3},
	}}
	r.NoError(bobEngine.ApplyRemoteDelta("alice", stale))

	peer, _ := bobEngine.PeerCard("alice")
	fields := peer.Fields()
	r.Len(fields, 1)
	r.Equal("new", fields[0].Value)
}
