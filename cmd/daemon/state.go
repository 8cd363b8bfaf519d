package main

import (
	"time"

	"github.com/vauchi-app/core/internal/appstate"
	"github.com/vauchi-app/core/pkg/card"
	"github.com/vauchi-app/core/pkg/identity"
	"github.com/vauchi-app/core/pkg/ratchet"
	"github.com/vauchi-app/core/pkg/store"
)

// contactRecord is an alias, not a copy: cmd/vauchictl persists through the
// exact same internal/appstate rows, so a contact added via one binary is
// visible to the other against the same storage path.
type contactRecord = appstate.ContactRecord

func saveIdentity(s *store.Store, id *identity.Identity) error { return appstate.SaveIdentity(s, id) }

func loadIdentity(s *store.Store) (*identity.Identity, error) { return appstate.LoadIdentity(s) }

func saveOwnCard(s *store.Store, c *card.Card) error { return appstate.SaveOwnCard(s, c) }

func loadOwnCard(s *store.Store) (*card.Card, error) { return appstate.LoadOwnCard(s) }

func saveContact(s *store.Store, rec contactRecord, ratchetState *ratchet.State) error {
	return appstate.SaveContact(s, rec, ratchetState)
}

func loadContact(s *store.Store, id string) (contactRecord, *ratchet.State, error) {
	return appstate.LoadContact(s, id)
}

func listContactIDs(s *store.Store) ([]string, error) { return appstate.ListContactIDs(s) }

func deleteContact(s *store.Store, id string) error { return appstate.DeleteContact(s, id) }

func saveInboxWatermark(s *store.Store, contactID string, at time.Time) error {
	return appstate.SaveInboxWatermark(s, contactID, at)
}

func exportToSnapshot(e card.Export) *card.FullSnapshot { return appstate.ExportToSnapshot(e) }
