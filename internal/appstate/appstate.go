// Package appstate is the encrypted-at-rest persistence layer shared by
// every local process that owns an Identity: cmd/daemon and cmd/vauchictl
// both read and write the same pkg/store buckets through this package, so
// a card edited from the CLI shows up the next time the daemon opens the
// same storage path, and vice versa.
package appstate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vauchi-app/core/pkg/attest"
	"github.com/vauchi-app/core/pkg/card"
	"github.com/vauchi-app/core/pkg/envelope"
	"github.com/vauchi-app/core/pkg/identity"
	"github.com/vauchi-app/core/pkg/ratchet"
	"github.com/vauchi-app/core/pkg/store"
)

// SelfKey is the fixed row key both the owner's Identity and own Card are
// stored under — there is exactly one of each per storage path.
const SelfKey = "self"

// IdentityRecord is the persisted row spec.md §9 calls for "one row per
// Identity": the master seed everything else derives from, plus the
// metadata identity.Create needs to rebuild it.
type IdentityRecord struct {
	Seed        []byte           `json:"seed"`
	DisplayName string           `json:"display_name"`
	Algorithm   attest.Algorithm `json:"algorithm"`
}

func SaveIdentity(s *store.Store, id *identity.Identity) error {
	rec := IdentityRecord{Seed: id.Seed(), DisplayName: id.DisplayName(), Algorithm: id.Algorithm()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	return s.Update(func(c *store.Command) error {
		return c.PutEncrypted([]byte(store.BucketIdentity), []byte(SelfKey), data)
	})
}

func LoadIdentity(s *store.Store) (*identity.Identity, error) {
	var rec IdentityRecord
	err := s.View(func(q *store.Query) error {
		data, err := q.GetEncrypted([]byte(store.BucketIdentity), []byte(SelfKey))
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return identity.Create(rec.Seed, rec.DisplayName, rec.Algorithm)
}

func SaveOwnCard(s *store.Store, c *card.Card) error {
	data, err := json.Marshal(c.Export())
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}
	return s.Update(func(cmd *store.Command) error {
		return cmd.PutEncrypted([]byte(store.BucketCardFields), []byte(SelfKey), data)
	})
}

func LoadOwnCard(s *store.Store) (*card.Card, error) {
	var snap card.Export
	err := s.View(func(q *store.Query) error {
		data, err := q.GetEncrypted([]byte(store.BucketCardFields), []byte(SelfKey))
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, err
	}
	return card.Restore(snap), nil
}

// ContactRecord is the persisted row spec.md §9 calls for "one row per
// Contact" plus the visibility rule and Ratchet-state blob it references.
type ContactRecord struct {
	ID            string             `json:"id"`
	DisplayName   string             `json:"display_name"`
	SigningPublic []byte             `json:"signing_public"`
	Algorithm     attest.Algorithm   `json:"algorithm"`
	MailboxID     envelope.MailboxID `json:"mailbox_id"`
	HiddenFields  []card.FieldID     `json:"hidden_fields"`
	PeerCard      *card.Export       `json:"peer_card,omitempty"`
}

func SaveContact(s *store.Store, rec ContactRecord, ratchetState *ratchet.State) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal contact: %w", err)
	}
	stateData, err := json.Marshal(ratchetState)
	if err != nil {
		return fmt.Errorf("marshal ratchet state: %w", err)
	}
	return s.Update(func(c *store.Command) error {
		if err := c.PutEncrypted([]byte(store.BucketContacts), []byte(rec.ID), data); err != nil {
			return fmt.Errorf("put contact: %w", err)
		}
		return c.PutEncrypted([]byte(store.BucketRatchetState), []byte(rec.ID), stateData)
	})
}

func LoadContact(s *store.Store, id string) (ContactRecord, *ratchet.State, error) {
	var rec ContactRecord
	var state ratchet.State
	err := s.View(func(q *store.Query) error {
		data, err := q.GetEncrypted([]byte(store.BucketContacts), []byte(id))
		if err != nil {
			return fmt.Errorf("get contact: %w", err)
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal contact: %w", err)
		}
		stateData, err := q.GetEncrypted([]byte(store.BucketRatchetState), []byte(id))
		if err != nil {
			return fmt.Errorf("get ratchet state: %w", err)
		}
		return json.Unmarshal(stateData, &state)
	})
	return rec, &state, err
}

func ListContactIDs(s *store.Store) ([]string, error) {
	var ids []string
	err := s.View(func(q *store.Query) error {
		for k, _ := range q.IteratePlain([]byte(store.BucketContacts)) {
			ids = append(ids, string(k))
		}
		return nil
	})
	return ids, err
}

func DeleteContact(s *store.Store, id string) error {
	return s.Update(func(c *store.Command) error {
		if err := c.Delete([]byte(store.BucketContacts), []byte(id)); err != nil {
			return err
		}
		return c.Delete([]byte(store.BucketRatchetState), []byte(id))
	})
}

// SaveInboxWatermark records, per contact, the CreatedAt time of the most
// recently applied envelope. Nothing in this package reads it back, so a
// restart does not use it to skip an already-applied backlog.
func SaveInboxWatermark(s *store.Store, contactID string, at time.Time) error {
	return s.Update(func(c *store.Command) error {
		return c.PutPlain([]byte(store.BucketInboxWatermark), []byte(contactID), []byte(at.UTC().Format(time.RFC3339Nano)))
	})
}

// ExportToSnapshot converts a persisted peer-card export into the
// FullSnapshot shape pkg/card.Engine.ApplyRemoteDelta expects, dropping
// already-tombstoned fields that a fresh replica has no use for.
func ExportToSnapshot(e card.Export) *card.FullSnapshot {
	fields := make([]card.Field, 0, len(e.Fields))
	for _, fs := range e.Fields {
		if fs.Deleted {
			continue
		}
		fields = append(fields, card.Field{
			ID: fs.ID, Kind: fs.Kind, NetworkID: fs.NetworkID,
			Label: fs.Label, Value: fs.Value, Version: fs.Version,
		})
	}
	return &card.FullSnapshot{DisplayName: e.DisplayName, Revision: e.Revision, Fields: fields}
}
