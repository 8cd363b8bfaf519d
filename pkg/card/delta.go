package card

// DeltaKind distinguishes the two wire shapes a Delta can take.
type DeltaKind int

const (
	DeltaFullSnapshot DeltaKind = iota
	DeltaPatch
)

func (k DeltaKind) String() string {
	if k == DeltaFullSnapshot {
		return "full-snapshot"
	}
	return "patch"
}

// PatchOp is one operation inside a Patch-kind Delta.
type PatchOp int

const (
	OpSetField PatchOp = iota
	OpDeleteField
	OpSetDisplayName
)

func (o PatchOp) String() string {
	switch o {
	case OpSetField:
		return "set-field"
	case OpDeleteField:
		return "delete-field"
	case OpSetDisplayName:
		return "set-display-name"
	default:
		return "unknown"
	}
}

// Patch is a single idempotent mutation toward a contact, identified by
// (FieldID, Version) for set/delete-field, or by Revision for
// set-display-name. A receiver ignores any patch whose version is ≤ the
// version it already applied.
type Patch struct {
	Op PatchOp

	FieldID   FieldID
	Kind      FieldKind
	NetworkID string
	Label     string
	Value     string
	Version   uint64

	DisplayName string
	Revision    uint64
}

// FullSnapshot is the payload of the first Delta ever sent to a contact:
// every field currently visible to them, plus the display name.
type FullSnapshot struct {
	DisplayName string
	Revision    uint64
	Fields      []Field
}

// Delta is the wire payload of one card change toward one contact.
type Delta struct {
	Kind     DeltaKind
	Snapshot *FullSnapshot
	Patches  []Patch
}

// Empty reports whether a patch-kind Delta carries no operations and so
// need not be sent.
func (d *Delta) Empty() bool {
	return d.Kind == DeltaPatch && len(d.Patches) == 0
}
