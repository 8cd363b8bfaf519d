package card

// VisibilityRule is the per-Contact set of hidden field-ids. The zero value
// is the default rule: every field is visible.
type VisibilityRule struct {
	hidden map[FieldID]struct{}
}

// NewVisibilityRule returns the default rule: nothing hidden.
func NewVisibilityRule() *VisibilityRule {
	return &VisibilityRule{hidden: make(map[FieldID]struct{})}
}

// Hide marks a field hidden from this contact.
func (v *VisibilityRule) Hide(id FieldID) {
	if v.hidden == nil {
		v.hidden = make(map[FieldID]struct{})
	}
	v.hidden[id] = struct{}{}
}

// Show marks a field visible to this contact again (the default state).
func (v *VisibilityRule) Show(id FieldID) {
	delete(v.hidden, id)
}

// IsHidden reports whether id is currently hidden under this rule.
func (v *VisibilityRule) IsHidden(id FieldID) bool {
	if v == nil {
		return false
	}
	_, hidden := v.hidden[id]
	return hidden
}

// HiddenFields lists every field-id currently hidden, for persistence.
func (v *VisibilityRule) HiddenFields() []FieldID {
	out := make([]FieldID, 0, len(v.hidden))
	for id := range v.hidden {
		out = append(out, id)
	}
	return out
}

// RuleFromHidden rebuilds a VisibilityRule from a persisted hidden-field list.
func RuleFromHidden(hidden []FieldID) *VisibilityRule {
	v := NewVisibilityRule()
	for _, id := range hidden {
		v.Hide(id)
	}
	return v
}
