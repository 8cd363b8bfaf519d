// Package card models an identity's Card — an ordered set of Fields with a
// monotonic per-field version and a card-wide monotonic revision — plus the
// per-contact visibility engine that turns local mutations into the Deltas
// actually sent on the wire. Field-ids are stable 128-bit identifiers
// (github.com/google/uuid, following the same field-id/envelope-id idiom
// the rest of the module uses) and are never reused after deletion.
package card

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FieldID is the stable 128-bit identifier of a Field. It never changes
// across edits and is never reused after a field is deleted.
type FieldID = uuid.UUID

// FieldKind enumerates the typed kinds a Field can carry. Kind values
// outside this enum are preserved as opaque on receipt, for forward
// compatibility with newer peers (spec.md §4.4).
type FieldKind int

const (
	KindPhone FieldKind = iota
	KindEmail
	KindWebsite
	KindAddress
	KindSocial
	KindCustom
)

func (k FieldKind) String() string {
	switch k {
	case KindPhone:
		return "phone"
	case KindEmail:
		return "email"
	case KindWebsite:
		return "website"
	case KindAddress:
		return "address"
	case KindSocial:
		return "social"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseFieldKind maps a wire/CLI kind name to its FieldKind, falling back to
// KindCustom for anything unrecognized (spec.md §4.4's forward-compatibility
// rule: an unknown kind is preserved, never rejected).
func ParseFieldKind(s string) FieldKind {
	switch s {
	case "phone":
		return KindPhone
	case "email":
		return KindEmail
	case "website":
		return KindWebsite
	case "address":
		return KindAddress
	case "social":
		return KindSocial
	default:
		return KindCustom
	}
}

// Field is one entry on a Card. NetworkID is only meaningful when Kind is
// KindSocial (e.g. "mastodon", "signal"); it is ignored otherwise.
type Field struct {
	ID        FieldID
	Kind      FieldKind
	NetworkID string
	Label     string
	Value     string
	Version   uint64
	deleted   bool
}

// Card is owned by a single Identity. It is the source of truth the
// Engine diffs against to compute what each Contact should receive.
type Card struct {
	mu          sync.Mutex
	displayName string
	revision    uint64
	order       []FieldID
	fields      map[FieldID]*Field
}

// NewCard starts a fresh Card at revision 0 with no fields.
func NewCard(displayName string) *Card {
	return &Card{
		displayName: displayName,
		fields:      make(map[FieldID]*Field),
	}
}

// DisplayName returns the card's current display name and the card's
// current revision, which field changes advance as well.
func (c *Card) DisplayName() (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayName, c.revision
}

// SetDisplayName updates the display name and advances the card revision.
func (c *Card) SetDisplayName(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displayName = name
	c.revision++
	return c.revision
}

// SetField creates a new field (when id is uuid.Nil, unknown, or the id of a
// deleted field) or updates an existing one, bumping both the field's own
// version and the card revision. It returns the resulting Field.
func (c *Card) SetField(id FieldID, kind FieldKind, networkID, label, value string) Field {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.fields[id]
	if id == uuid.Nil || !ok || existing.deleted {
		id = uuid.New()
		existing = &Field{ID: id, Version: 0}
		c.order = append(c.order, id)
		c.fields[id] = existing
	}

	existing.Kind = kind
	existing.NetworkID = networkID
	existing.Label = label
	existing.Value = value
	existing.Version++
	existing.deleted = false
	c.revision++

	return *existing
}

var ErrUnknownField = fmt.Errorf("card: unknown field id")

// DeleteField tombstones a field: it disappears from Fields() but its id
// and version counter are retained forever, so a later SetField reusing
// the slot is impossible and any stale patch referencing its old version
// is still rejected as non-monotonic.
func (c *Card) DeleteField(id FieldID) (Field, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.fields[id]
	if !ok {
		return Field{}, ErrUnknownField
	}
	if f.deleted {
		return *f, nil
	}
	f.deleted = true
	f.Version++
	c.revision++
	return *f, nil
}

// Fields returns the currently live (non-deleted) fields, in creation
// order.
func (c *Card) Fields() []Field {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Field, 0, len(c.order))
	for _, id := range c.order {
		f := c.fields[id]
		if !f.deleted {
			out = append(out, *f)
		}
	}
	return out
}

// allFields returns every field including tombstones, in creation order —
// used by the Engine to diff against a contact's last-seen state.
func (c *Card) allFields() []Field {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Field, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.fields[id])
	}
	return out
}

// Revision returns the card's current monotonic revision.
func (c *Card) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// replaceSnapshot overwrites the whole card with a FullSnapshot's contents —
// used only by the Engine to (re)build a peer's replica.
func (c *Card) replaceSnapshot(displayName string, revision uint64, fields []Field) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displayName = displayName
	c.revision = revision
	c.order = c.order[:0]
	c.fields = make(map[FieldID]*Field, len(fields))
	for _, f := range fields {
		fCopy := f
		c.order = append(c.order, f.ID)
		c.fields[f.ID] = &fCopy
	}
}

// FieldSnapshot is the persisted form of a Field, including tombstones —
// unlike Fields(), which hides deleted fields from the wire protocol.
type FieldSnapshot struct {
	ID        FieldID   `json:"id"`
	Kind      FieldKind `json:"kind"`
	NetworkID string    `json:"network_id"`
	Label     string    `json:"label"`
	Value     string    `json:"value"`
	Version   uint64    `json:"version"`
	Deleted   bool      `json:"deleted"`
}

// Export is the persisted form of an entire Card, the row spec.md §9's
// "one row per Identity" storage contract asks for: everything SetField/
// DeleteField ever produced, including tombstones, so no version number is
// ever reused across a restart.
type Export struct {
	DisplayName string          `json:"display_name"`
	Revision    uint64          `json:"revision"`
	Fields      []FieldSnapshot `json:"fields"`
}

// Export captures the Card's full persisted state.
func (c *Card) Export() Export {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Export{DisplayName: c.displayName, Revision: c.revision}
	for _, id := range c.order {
		f := c.fields[id]
		out.Fields = append(out.Fields, FieldSnapshot{
			ID: f.ID, Kind: f.Kind, NetworkID: f.NetworkID, Label: f.Label,
			Value: f.Value, Version: f.Version, Deleted: f.deleted,
		})
	}
	return out
}

// Restore rebuilds a Card exactly as Export captured it, so persisted
// version counters and tombstones survive a process restart.
func Restore(snap Export) *Card {
	c := &Card{displayName: snap.DisplayName, revision: snap.Revision, fields: make(map[FieldID]*Field, len(snap.Fields))}
	for _, fs := range snap.Fields {
		c.order = append(c.order, fs.ID)
		c.fields[fs.ID] = &Field{
			ID: fs.ID, Kind: fs.Kind, NetworkID: fs.NetworkID, Label: fs.Label,
			Value: fs.Value, Version: fs.Version, deleted: fs.Deleted,
		}
	}
	return c
}

// applyDisplayNamePatch applies a last-writer-wins set-display-name patch.
func (c *Card) applyDisplayNamePatch(name string, revision uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if revision > c.revision {
		c.displayName = name
		c.revision = revision
	}
}

// applyFieldPatch applies a last-writer-wins set-field or delete-field
// patch by version, creating the field if this is the first patch seen
// for its id.
func (c *Card) applyFieldPatch(p Patch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.fields[p.FieldID]
	if !ok {
		existing = &Field{ID: p.FieldID}
		c.order = append(c.order, p.FieldID)
		c.fields[p.FieldID] = existing
	} else if p.Version <= existing.Version {
		return
	}

	switch p.Op {
	case OpSetField:
		existing.Kind = p.Kind
		existing.NetworkID = p.NetworkID
		existing.Label = p.Label
		existing.Value = p.Value
		existing.Version = p.Version
		existing.deleted = false
	case OpDeleteField:
		existing.Version = p.Version
		existing.deleted = true
	}
}
