package card

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSetFieldCreatesThenUpdates(t *testing.T) {
	r := require.New(t)
	c := NewCard("alice")

	f := c.SetField(uuid.Nil, KindEmail, "", "work", "a@w")
	r.Equal(uint64(1), f.Version)
	r.NotEqual(uuid.Nil, f.ID)

	f2 := c.SetField(f.ID, KindEmail, "", "work", "a@w2")
	r.Equal(f.ID, f2.ID)
	r.Equal(uint64(2), f2.Version)
	r.Len(c.Fields(), 1)
}

func TestDeleteFieldTombstonesAndNeverReuses(t *testing.T) {
	r := require.New(t)
	c := NewCard("alice")
	f := c.SetField(uuid.Nil, KindPhone, "", "cell", "555")

	deleted, err := c.DeleteField(f.ID)
	r.NoError(err)
	r.Equal(uint64(2), deleted.Version)
	r.Empty(c.Fields())

	_, err = c.DeleteField(f.ID)
	r.NoError(err) // deleting an already-deleted field is idempotent at the card level
}

func TestDeleteUnknownFieldFails(t *testing.T) {
	r := require.New(t)
	c := NewCard("alice")
	_, err := c.DeleteField(uuid.New())
	r.ErrorIs(err, ErrUnknownField)
}
