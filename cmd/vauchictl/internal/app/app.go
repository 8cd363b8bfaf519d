// Package app wires the storage, identity, and card dependencies vauchictl's
// commands share, after _examples/wbd2023-UNSW-COMP6841-Ciphera's
// internal/app.Wire dependency graph; each sub-command builds its own Wire
// when it runs.
package app

import (
	"fmt"

	"github.com/vauchi-app/core/internal/appstate"
	"github.com/vauchi-app/core/pkg/attest"
	"github.com/vauchi-app/core/pkg/card"
	"github.com/vauchi-app/core/pkg/identity"
	"github.com/vauchi-app/core/pkg/store"
)

// Wire bundles the opened storage, the local Identity, and the owner's own
// Card for a single vauchictl invocation.
type Wire struct {
	Store *store.Store
	Self  *identity.Identity
	Own   *card.Card
}

// Open loads an existing identity and card from storagePath.
func Open(storagePath string, passphrase []byte) (*Wire, error) {
	st, err := store.New(passphrase, storagePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	self, err := appstate.LoadIdentity(st)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load identity: %w", err)
	}
	own, err := appstate.LoadOwnCard(st)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load card: %w", err)
	}
	return &Wire{Store: st, Self: self, Own: own}, nil
}

// Bootstrap creates a fresh identity and card at storagePath. A nil seed
// generates a new random one; an explicit seed is how a recovery backup is
// restored into a brand-new local installation.
func Bootstrap(storagePath string, passphrase []byte, displayName string, algo attest.Algorithm, seed []byte) (*Wire, error) {
	self, err := identity.Create(seed, displayName, algo)
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	st, err := store.New(passphrase, storagePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := appstate.SaveIdentity(st, self); err != nil {
		_ = st.Close()
		return nil, err
	}
	own := card.NewCard(displayName)
	if err := appstate.SaveOwnCard(st, own); err != nil {
		_ = st.Close()
		return nil, err
	}
	return &Wire{Store: st, Self: self, Own: own}, nil
}

// SaveCard persists w.Own after a mutation.
func (w *Wire) SaveCard() error { return appstate.SaveOwnCard(w.Store, w.Own) }

// Close releases the underlying storage handle.
func (w *Wire) Close() error { return w.Store.Close() }
