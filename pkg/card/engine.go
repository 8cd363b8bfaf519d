package card

import "sync"

// ContactID identifies a contact for the purposes of visibility and delta
// tracking. Callers pass the same opaque string they use to key a Contact
// elsewhere (spec.md §3 keys a Contact by peer signing public key; the
// caller is expected to pass a stable encoding of that key, e.g. the
// contact's mailbox-id hex).
type ContactID string

// contactState tracks, for one contact, what the Engine last told them:
// the display name/revision they last received, and the version of each
// field they last saw as visible — enough to decide whether the next
// diff needs a set-field, a delete-field, or nothing.
type contactState struct {
	sentSnapshot    bool
	lastDisplayName string
	lastRevision    uint64
	visibleFieldVer map[FieldID]uint64
}

// Engine is the Card & Visibility Engine of spec.md §4.4: it owns one local
// Card, a VisibilityRule per contact, and computes/applies Deltas.
type Engine struct {
	mu         sync.Mutex
	own        *Card
	visibility map[ContactID]*VisibilityRule
	state      map[ContactID]*contactState
	peers      map[ContactID]*Card
}

// NewEngine wraps an existing Card (typically the identity's own) with the
// per-contact visibility and diffing machinery.
func NewEngine(own *Card) *Engine {
	return &Engine{
		own:        own,
		visibility: make(map[ContactID]*VisibilityRule),
		state:      make(map[ContactID]*contactState),
		peers:      make(map[ContactID]*Card),
	}
}

// SetVisibility installs (or replaces) the VisibilityRule for a contact. A
// contact with no rule installed defaults to "everything visible".
func (e *Engine) SetVisibility(contact ContactID, rule *VisibilityRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.visibility[contact] = rule
}

func (e *Engine) visibilityFor(contact ContactID) *VisibilityRule {
	if r, ok := e.visibility[contact]; ok {
		return r
	}
	return NewVisibilityRule()
}

func (e *Engine) contactStateFor(contact ContactID) *contactState {
	st, ok := e.state[contact]
	if !ok {
		st = &contactState{visibleFieldVer: make(map[FieldID]uint64)}
		e.state[contact] = st
	}
	return st
}

// PendingDelta computes what should be sent to contact right now, given
// every mutation applied to the own Card since the last MarkSent call for
// that contact. It returns ok=false when there is nothing to send.
func (e *Engine) PendingDelta(contact ContactID) (Delta, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule := e.visibilityFor(contact)
	st := e.contactStateFor(contact)

	if !st.sentSnapshot {
		visible := make([]Field, 0)
		for _, f := range e.own.Fields() {
			if !rule.IsHidden(f.ID) {
				visible = append(visible, f)
			}
		}
		name, rev := e.own.DisplayName()
		return Delta{
			Kind: DeltaFullSnapshot,
			Snapshot: &FullSnapshot{
				DisplayName: name,
				Revision:    rev,
				Fields:      visible,
			},
		}, true
	}

	var patches []Patch

	name, rev := e.own.DisplayName()
	if rev != st.lastRevision || name != st.lastDisplayName {
		patches = append(patches, Patch{Op: OpSetDisplayName, DisplayName: name, Revision: rev})
	}

	for _, f := range e.own.allFields() {
		id := f.ID
		hidden := rule.IsHidden(id)
		lastVer, wasVisible := st.visibleFieldVer[id]

		switch {
		case f.deleted:
			if wasVisible {
				patches = append(patches, Patch{Op: OpDeleteField, FieldID: id, Version: f.Version})
			}
		case hidden:
			if wasVisible {
				patches = append(patches, Patch{Op: OpDeleteField, FieldID: id, Version: f.Version})
			}
		default:
			if !wasVisible || lastVer != f.Version {
				patches = append(patches, Patch{
					Op:        OpSetField,
					FieldID:   f.ID,
					Kind:      f.Kind,
					NetworkID: f.NetworkID,
					Label:     f.Label,
					Value:     f.Value,
					Version:   f.Version,
				})
			}
		}
	}

	if len(patches) == 0 {
		return Delta{Kind: DeltaPatch}, false
	}
	return Delta{Kind: DeltaPatch, Patches: patches}, true
}

// MarkSent records that delta was successfully delivered to contact,
// updating the per-contact tracking state so the next PendingDelta call
// only reports further changes.
func (e *Engine) MarkSent(contact ContactID, delta Delta) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.contactStateFor(contact)

	switch delta.Kind {
	case DeltaFullSnapshot:
		st.sentSnapshot = true
		st.lastDisplayName = delta.Snapshot.DisplayName
		st.lastRevision = delta.Snapshot.Revision
		st.visibleFieldVer = make(map[FieldID]uint64, len(delta.Snapshot.Fields))
		for _, f := range delta.Snapshot.Fields {
			st.visibleFieldVer[f.ID] = f.Version
		}
	case DeltaPatch:
		for _, p := range delta.Patches {
			switch p.Op {
			case OpSetField:
				st.visibleFieldVer[p.FieldID] = p.Version
			case OpDeleteField:
				delete(st.visibleFieldVer, p.FieldID)
			case OpSetDisplayName:
				st.lastDisplayName = p.DisplayName
				st.lastRevision = p.Revision
			}
		}
	}
}

// ApplyRemoteDelta applies a Delta received (and already authenticated by
// the Ratchet) from contact into the local replica of their card, with
// per-field last-writer-wins by version. Patches whose version is ≤ the
// already-applied version are silently ignored, making application
// idempotent under at-least-once broker delivery.
func (e *Engine) ApplyRemoteDelta(contact ContactID, delta Delta) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	peer, ok := e.peers[contact]
	if !ok {
		peer = NewCard("")
		e.peers[contact] = peer
	}

	switch delta.Kind {
	case DeltaFullSnapshot:
		peer.replaceSnapshot(delta.Snapshot.DisplayName, delta.Snapshot.Revision, delta.Snapshot.Fields)
	case DeltaPatch:
		for _, p := range delta.Patches {
			if p.Op == OpSetDisplayName {
				peer.applyDisplayNamePatch(p.DisplayName, p.Revision)
			} else {
				peer.applyFieldPatch(p)
			}
		}
	}
	return nil
}

// PeerCard returns the local replica of a contact's card, built entirely
// from applied remote Deltas.
func (e *Engine) PeerCard(contact ContactID) (*Card, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.peers[contact]
	return c, ok
}

// RemoveContact purges every trace of a contact from the engine — their
// visibility rule, diff-tracking state, and cached card replica — per
// spec.md §3's Contact deletion lifecycle ("revokes future visibility and
// purges ... cached card").
func (e *Engine) RemoveContact(contact ContactID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.visibility, contact)
	delete(e.state, contact)
	delete(e.peers, contact)
}
