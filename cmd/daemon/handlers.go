package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vauchi-app/core/pkg/attest"
	"github.com/vauchi-app/core/pkg/broker"
	"github.com/vauchi-app/core/pkg/card"
	"github.com/vauchi-app/core/pkg/envelope"
	"github.com/vauchi-app/core/pkg/identity"
	"github.com/vauchi-app/core/pkg/ratchet"
	"github.com/vauchi-app/core/pkg/recovery"
	"github.com/vauchi-app/core/pkg/store"
	"github.com/vauchi-app/core/pkg/sync"
	"github.com/vauchi-app/core/pkg/x3dh"
)

func (d *Daemon) respond(cmd Command, data any) { d.emit(EvtResponse, cmd.ID, data) }

// --- identity -----------------------------------------------------------

type createIdentityParams struct {
	StoragePath string `json:"storage_path"`
	Passphrase  string `json:"passphrase"`
	DisplayName string `json:"display_name"`
	Algorithm   string `json:"algorithm"` // "ed25519" or "mldsa"
	RelayURL    string `json:"relay_url"`
	SeedBase64  string `json:"seed_base64,omitempty"`
}

func (d *Daemon) handleCreateIdentity(cmd Command) {
	var p createIdentityParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid params: %w", err))
		return
	}

	algo, err := attest.ParseAlgorithm(p.Algorithm)
	if err != nil {
		d.emitError(cmd.ID, err)
		return
	}

	// A nil seed tells identity.Create to generate a fresh random one;
	// an explicit seed is how a recovery backup is restored.
	var seed []byte
	if p.SeedBase64 != "" {
		raw, err := decodeB64(p.SeedBase64)
		if err != nil {
			d.emitError(cmd.ID, fmt.Errorf("decoding seed: %w", err))
			return
		}
		seed = raw
	}

	self, err := identity.Create(seed, p.DisplayName, algo)
	if err != nil {
		d.emitError(cmd.ID, err)
		return
	}

	st, err := store.New([]byte(p.Passphrase), p.StoragePath)
	if err != nil {
		d.emitError(cmd.ID, fmt.Errorf("open storage: %w", err))
		return
	}
	if err := saveIdentity(st, self); err != nil {
		_ = st.Close()
		d.emitError(cmd.ID, err)
		return
	}
	own := card.NewCard(p.DisplayName)
	if err := saveOwnCard(st, own); err != nil {
		_ = st.Close()
		d.emitError(cmd.ID, err)
		return
	}

	d.installEngines(st, self, own, p.RelayURL)

	d.respond(cmd, map[string]string{"mailbox_id": ourMailboxB64(self)})
	d.emit(EvtIdentityReady, "", map[string]string{"display_name": self.DisplayName()})
}

type openParams struct {
	StoragePath string `json:"storage_path"`
	Passphrase  string `json:"passphrase"`
	RelayURL    string `json:"relay_url"`
}

func (d *Daemon) handleOpen(cmd Command) {
	var p openParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid params: %w", err))
		return
	}

	st, err := store.New([]byte(p.Passphrase), p.StoragePath)
	if err != nil {
		d.emitError(cmd.ID, fmt.Errorf("open storage: %w", err))
		return
	}
	self, err := loadIdentity(st)
	if err != nil {
		_ = st.Close()
		d.emitError(cmd.ID, fmt.Errorf("load identity: %w", err))
		return
	}
	own, err := loadOwnCard(st)
	if err != nil {
		_ = st.Close()
		d.emitError(cmd.ID, fmt.Errorf("load card: %w", err))
		return
	}

	d.installEngines(st, self, own, p.RelayURL)

	ids, err := listContactIDs(st)
	if err != nil {
		d.emitError(cmd.ID, fmt.Errorf("list contacts: %w", err))
		return
	}
	for _, id := range ids {
		if err := d.restoreContact(id); err != nil {
			slog.Warn("failed to restore contact", "contact_id", id, "error", err)
		}
	}

	d.respond(cmd, map[string]any{
		"mailbox_id":    ourMailboxB64(self),
		"display_name":  self.DisplayName(),
		"contact_count": len(ids),
	})
}

func (d *Daemon) installEngines(st *store.Store, self *identity.Identity, own *card.Card, relayURL string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store = st
	d.self = self
	d.own = own
	d.cards = card.NewEngine(own)
	d.relayURL = relayURL
	d.brokerC = broker.NewClient(relayURL, self)
	d.sEngine = sync.NewEngine(self, d.cards, d.brokerC)
}

func ourMailbox(self *identity.Identity) envelope.MailboxID {
	return envelope.MailboxIDFor(self.PublicID().Marshal())
}

func ourMailboxB64(self *identity.Identity) string {
	mailbox := ourMailbox(self)
	return encodeB64(mailbox[:])
}

// --- bundle / QR export --------------------------------------------------

type getBundleParams struct {
	IncludeOneTime bool `json:"include_one_time"`
}

func (d *Daemon) handleGetBundle(cmd Command) {
	var p getBundleParams
	_ = json.Unmarshal(cmd.Params, &p)

	d.mu.Lock()
	self := d.self
	d.mu.Unlock()
	if self == nil {
		d.emitError(cmd.ID, errNotOpen)
		return
	}

	bundle, err := self.Bundle(p.IncludeOneTime)
	if err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	d.respond(cmd, bundle)
}

// --- card mutation ---------------------------------------------------------

type setDisplayNameParams struct {
	Name string `json:"name"`
}

func (d *Daemon) handleSetDisplayName(cmd Command) {
	var p setDisplayNameParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid params: %w", err))
		return
	}
	d.mu.Lock()
	own, st, eng := d.own, d.store, d.sEngine
	d.mu.Unlock()
	if own == nil {
		d.emitError(cmd.ID, errNotOpen)
		return
	}
	rev := own.SetDisplayName(p.Name)
	if err := saveOwnCard(st, own); err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	eng.MarkAllDirty()
	d.respond(cmd, map[string]uint64{"revision": rev})
}

type setFieldParams struct {
	ID        string `json:"id,omitempty"`
	Kind      string `json:"kind"`
	NetworkID string `json:"network_id"`
	Label     string `json:"label"`
	Value     string `json:"value"`
}

func fieldKindFromString(s string) card.FieldKind { return card.ParseFieldKind(s) }

func (d *Daemon) handleSetField(cmd Command) {
	var p setFieldParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid params: %w", err))
		return
	}
	d.mu.Lock()
	own, st, eng := d.own, d.store, d.sEngine
	d.mu.Unlock()
	if own == nil {
		d.emitError(cmd.ID, errNotOpen)
		return
	}

	var id card.FieldID
	if p.ID != "" {
		parsed, err := uuid.Parse(p.ID)
		if err != nil {
			d.emitError(cmd.ID, fmt.Errorf("invalid field id: %w", err))
			return
		}
		id = parsed
	}
	f := own.SetField(id, fieldKindFromString(p.Kind), p.NetworkID, p.Label, p.Value)
	if err := saveOwnCard(st, own); err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	eng.MarkAllDirty()
	d.respond(cmd, f)
}

type deleteFieldParams struct {
	ID string `json:"id"`
}

func (d *Daemon) handleDeleteField(cmd Command) {
	var p deleteFieldParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid params: %w", err))
		return
	}
	id, err := uuid.Parse(p.ID)
	if err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid field id: %w", err))
		return
	}
	d.mu.Lock()
	own, st, eng := d.own, d.store, d.sEngine
	d.mu.Unlock()
	if own == nil {
		d.emitError(cmd.ID, errNotOpen)
		return
	}
	f, err := own.DeleteField(id)
	if err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	if err := saveOwnCard(st, own); err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	eng.MarkAllDirty()
	d.respond(cmd, f)
}

type setVisibilityParams struct {
	ContactID    string   `json:"contact_id"`
	HiddenFields []string `json:"hidden_field_ids"`
}

func (d *Daemon) handleSetVisibility(cmd Command) {
	var p setVisibilityParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid params: %w", err))
		return
	}
	hidden := make([]card.FieldID, 0, len(p.HiddenFields))
	for _, s := range p.HiddenFields {
		id, err := uuid.Parse(s)
		if err != nil {
			d.emitError(cmd.ID, fmt.Errorf("invalid field id %q: %w", s, err))
			return
		}
		hidden = append(hidden, id)
	}

	d.mu.Lock()
	eng, sEngine, st := d.cards, d.sEngine, d.store
	entry, ok := d.contacts[sync.ContactID(p.ContactID)]
	d.mu.Unlock()
	if eng == nil {
		d.emitError(cmd.ID, errNotOpen)
		return
	}
	eng.SetVisibility(sync.ContactID(p.ContactID), card.RuleFromHidden(hidden))
	sEngine.MarkDirty(sync.ContactID(p.ContactID))

	if ok {
		entry.record.HiddenFields = hidden
		if err := d.persistContact(st, entry); err != nil {
			d.emitError(cmd.ID, err)
			return
		}
	}
	d.respond(cmd, map[string]string{"status": "ok"})
}

func (d *Daemon) handleGetPeerCard(cmd Command) {
	var p struct {
		ContactID string `json:"contact_id"`
	}
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid params: %w", err))
		return
	}
	d.mu.Lock()
	eng := d.cards
	d.mu.Unlock()
	if eng == nil {
		d.emitError(cmd.ID, errNotOpen)
		return
	}
	peer, ok := eng.PeerCard(sync.ContactID(p.ContactID))
	if !ok {
		d.emitError(cmd.ID, fmt.Errorf("%s: no card received yet", p.ContactID))
		return
	}
	d.respond(cmd, peer.Export())
}

func (d *Daemon) handleListContacts(cmd Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.contacts))
	for id := range d.contacts {
		ids = append(ids, string(id))
	}
	d.respond(cmd, map[string]any{"contacts": ids})
}

// --- contact pairing (X3DH) ------------------------------------------------

type addContactInitiatorParams struct {
	ContactID string                  `json:"contact_id"`
	Bundle    identity.PrekeyBundle   `json:"bundle"`
}

// handleAddContactInitiator runs the initiator's side of X3DH against a
// bundle scanned from the peer's QR code. The resulting ephemeral_public
// (and whether a one-time prekey was consumed) must be handed to the
// responder out-of-band — spec.md's QR payload carries only the bundle one
// direction; completing the handshake is the UI layer's job.
func (d *Daemon) handleAddContactInitiator(cmd Command) {
	var p addContactInitiatorParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid params: %w", err))
		return
	}
	d.mu.Lock()
	self := d.self
	d.mu.Unlock()
	if self == nil {
		d.emitError(cmd.ID, errNotOpen)
		return
	}

	result, err := x3dh.Initiate(self.ExchangePrivate(), &p.Bundle)
	if err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	r, err := ratchet.NewFromSecret(result.SharedSecret)
	if err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	if err := r.SetTheirPublic(p.Bundle.SignedExchange, p.ContactID); err != nil {
		d.emitError(cmd.ID, err)
		return
	}

	rec := contactRecord{
		ID:            p.ContactID,
		SigningPublic: p.Bundle.SigningPublic,
		Algorithm:     p.Bundle.Algorithm,
		MailboxID:     envelope.MailboxIDFor(p.Bundle.SigningPublic),
	}
	d.registerContact(rec, r)
	if err := d.persistContact(d.store, &contactEntry{record: rec, ratchet: r}); err != nil {
		d.emitError(cmd.ID, err)
		return
	}

	d.emit(EvtContactAdded, "", map[string]string{"contact_id": p.ContactID})
	d.respond(cmd, map[string]any{
		"ephemeral_public": encodeB64(result.EphemeralPub),
		"used_one_time":    result.UsedOneTime,
	})
}

type addContactResponderParams struct {
	ContactID             string `json:"contact_id"`
	SigningPublicB64      string `json:"signing_public"`
	Algorithm             string `json:"algorithm"`
	InitiatorLongTermB64  string `json:"initiator_long_term_pub"`
	InitiatorEphemeralB64 string `json:"initiator_ephemeral_pub"`
	OneTimePrekeyID       uint64 `json:"one_time_prekey_id,omitempty"`
}

func (d *Daemon) handleAddContactResponder(cmd Command) {
	var p addContactResponderParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid params: %w", err))
		return
	}
	d.mu.Lock()
	self := d.self
	d.mu.Unlock()
	if self == nil {
		d.emitError(cmd.ID, errNotOpen)
		return
	}

	signingPub, err := decodeB64(p.SigningPublicB64)
	if err != nil {
		d.emitError(cmd.ID, fmt.Errorf("decoding signing key: %w", err))
		return
	}
	longTerm, err := decodeB64(p.InitiatorLongTermB64)
	if err != nil {
		d.emitError(cmd.ID, fmt.Errorf("decoding initiator long-term key: %w", err))
		return
	}
	ephemeral, err := decodeB64(p.InitiatorEphemeralB64)
	if err != nil {
		d.emitError(cmd.ID, fmt.Errorf("decoding initiator ephemeral key: %w", err))
		return
	}
	algo, err := attest.ParseAlgorithm(p.Algorithm)
	if err != nil {
		d.emitError(cmd.ID, err)
		return
	}

	var oneTimePriv []byte
	signedPrekeys := self.AcceptedSignedPrekeys()
	if len(signedPrekeys) == 0 {
		d.emitError(cmd.ID, fmt.Errorf("no signed prekey available"))
		return
	}
	signedPrekeyPriv, err := self.SignedPrekeyPrivate(signedPrekeys[0].Public)
	if err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	if p.OneTimePrekeyID != 0 {
		oneTimePriv, err = self.ConsumeOneTimePrekey(p.OneTimePrekeyID)
		if err != nil {
			d.emitError(cmd.ID, err)
			return
		}
	}

	secret, err := x3dh.Respond(self.ExchangePrivate(), signedPrekeyPriv, longTerm, ephemeral, oneTimePriv)
	if err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	r, err := ratchet.NewFromSecret(secret)
	if err != nil {
		d.emitError(cmd.ID, err)
		return
	}

	rec := contactRecord{
		ID:            p.ContactID,
		SigningPublic: signingPub,
		Algorithm:     algo,
		MailboxID:     envelope.MailboxIDFor(signingPub),
	}
	d.registerContact(rec, r)
	if err := d.persistContact(d.store, &contactEntry{record: rec, ratchet: r}); err != nil {
		d.emitError(cmd.ID, err)
		return
	}

	d.emit(EvtContactAdded, "", map[string]string{"contact_id": p.ContactID})
	d.respond(cmd, map[string]string{"status": "ok"})
}

func (d *Daemon) registerContact(rec contactRecord, r *ratchet.Ratchet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[sync.ContactID(rec.ID)] = &contactEntry{record: rec, ratchet: r}
	d.sEngine.AddContact(&sync.Contact{
		ID:            sync.ContactID(rec.ID),
		SigningPublic: rec.SigningPublic,
		Algorithm:     rec.Algorithm,
		MailboxID:     rec.MailboxID,
		Ratchet:       r,
	})
}

func (d *Daemon) restoreContact(id string) error {
	rec, state, err := loadContact(d.store, id)
	if err != nil {
		return err
	}
	r, err := ratchet.Restore(state)
	if err != nil {
		return err
	}
	if rec.PeerCard != nil {
		if peer, ok := d.cards.PeerCard(sync.ContactID(id)); !ok || peer == nil {
			// Engine builds the replica lazily from ApplyRemoteDelta; seed
			// it once here so a restart doesn't forget what was received.
			_ = d.cards.ApplyRemoteDelta(sync.ContactID(id), card.Delta{
				Kind:     card.DeltaFullSnapshot,
				Snapshot: exportToSnapshot(*rec.PeerCard),
			})
		}
	}
	if len(rec.HiddenFields) > 0 {
		d.cards.SetVisibility(sync.ContactID(id), card.RuleFromHidden(rec.HiddenFields))
	}
	d.registerContact(rec, r)
	return nil
}

func (d *Daemon) persistContact(st *store.Store, entry *contactEntry) error {
	state, err := entry.ratchet.Save()
	if err != nil {
		return fmt.Errorf("save ratchet state: %w", err)
	}
	if peer, ok := d.cards.PeerCard(sync.ContactID(entry.record.ID)); ok {
		snap := peer.Export()
		entry.record.PeerCard = &snap
	}
	return saveContact(st, entry.record, state)
}

type removeContactParams struct {
	ContactID string `json:"contact_id"`
}

func (d *Daemon) handleRemoveContact(cmd Command) {
	var p removeContactParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid params: %w", err))
		return
	}
	d.mu.Lock()
	st, eng := d.store, d.sEngine
	delete(d.contacts, sync.ContactID(p.ContactID))
	d.mu.Unlock()
	if eng == nil {
		d.emitError(cmd.ID, errNotOpen)
		return
	}

	eng.RemoveContact(sync.ContactID(p.ContactID))
	if err := deleteContact(st, p.ContactID); err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	d.emit(EvtContactRemoved, "", map[string]string{"contact_id": p.ContactID})
	d.respond(cmd, map[string]string{"status": "ok"})
}

// --- sync / stream ----------------------------------------------------------

func (d *Daemon) handleSyncOnce(cmd Command) {
	d.mu.Lock()
	eng, st := d.sEngine, d.store
	d.mu.Unlock()
	if eng == nil {
		d.emitError(cmd.ID, errNotOpen)
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()

	attempted := 0
	for _, id := range eng.ReadyContacts(time.Now()) {
		if err := eng.Attempt(ctx, id); err != nil {
			slog.Warn("sync attempt failed", "contact_id", string(id), "error", err)
			continue
		}
		attempted++
		d.mu.Lock()
		entry, ok := d.contacts[id]
		d.mu.Unlock()
		if ok {
			_ = d.persistContact(st, entry)
		}
	}
	d.emit(EvtSyncAttempted, cmd.ID, map[string]int{"attempted": attempted})
}

func (d *Daemon) handleStartStream(cmd Command) {
	d.mu.Lock()
	if d.streamCancel != nil {
		d.mu.Unlock()
		d.emitError(cmd.ID, fmt.Errorf("stream already running"))
		return
	}
	brokerC, self := d.brokerC, d.self
	if self == nil {
		d.mu.Unlock()
		d.emitError(cmd.ID, errNotOpen)
		return
	}
	ctx, cancel := context.WithCancel(d.ctx)
	d.streamCancel = cancel
	d.mu.Unlock()

	mailbox := ourMailbox(self)
	go d.runStream(ctx, brokerC, mailbox)

	d.emit(EvtStreamStarted, cmd.ID, map[string]string{"mailbox_id": encodeB64(mailbox[:])})
}

func (d *Daemon) runStream(ctx context.Context, brokerC *broker.Client, mailbox envelope.MailboxID) {
	session, err := brokerC.OpenStream(ctx, mailbox)
	if err != nil {
		d.emitError("", fmt.Errorf("open stream: %w", err))
		return
	}
	defer session.Close()

	for {
		env, err := session.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.emitError("", fmt.Errorf("stream: %w", err))
			}
			return
		}

		d.mu.Lock()
		eng, st := d.sEngine, d.store
		d.mu.Unlock()

		contactID, err := eng.ApplyInbound(ctx, env)
		if err != nil {
			slog.Warn("dropping undecipherable envelope", "envelope_id", env.ID.String(), "error", err)
			continue
		}
		if err := session.Ack(ctx, env.ID); err != nil {
			slog.Warn("ack failed", "envelope_id", env.ID.String(), "error", err)
		}
		_ = saveInboxWatermark(st, string(contactID), env.CreatedAt)

		d.mu.Lock()
		entry, ok := d.contacts[contactID]
		d.mu.Unlock()
		if ok {
			_ = d.persistContact(st, entry)
		}

		d.emit(EvtCardReceived, "", map[string]string{"contact_id": string(contactID)})
	}
}

func (d *Daemon) handleStopStream(cmd Command) {
	d.mu.Lock()
	cancel := d.streamCancel
	d.streamCancel = nil
	d.mu.Unlock()
	if cancel == nil {
		d.emitError(cmd.ID, fmt.Errorf("stream not running"))
		return
	}
	cancel()
	d.emit(EvtStreamStopped, cmd.ID, map[string]string{"status": "ok"})
}

// --- recovery ---------------------------------------------------------------

type recoveryClaimParams struct {
	OldPublicB64 string `json:"old_public"`
}

func (d *Daemon) handleRecoveryClaim(cmd Command) {
	var p recoveryClaimParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid params: %w", err))
		return
	}
	oldPublic, err := decodeB64(p.OldPublicB64)
	if err != nil {
		d.emitError(cmd.ID, fmt.Errorf("decoding old public key: %w", err))
		return
	}
	d.mu.Lock()
	self := d.self
	d.mu.Unlock()
	if self == nil {
		d.emitError(cmd.ID, errNotOpen)
		return
	}
	claim, err := recovery.NewClaim(self, oldPublic, time.Now())
	if err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	d.respond(cmd, claim)
}

func (d *Daemon) handleRecoveryVoucher(cmd Command) {
	var claim recovery.Claim
	if err := json.Unmarshal(cmd.Params, &claim); err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid params: %w", err))
		return
	}
	if err := recovery.VerifyClaim(claim); err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	d.mu.Lock()
	self := d.self
	d.mu.Unlock()
	if self == nil {
		d.emitError(cmd.ID, errNotOpen)
		return
	}
	voucher, err := recovery.NewVoucher(self, claim, time.Now())
	if err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	d.respond(cmd, voucher)
}

type recoveryProofParams struct {
	Claim     recovery.Claim    `json:"claim"`
	Vouchers  []recovery.Voucher `json:"vouchers"`
	Threshold int               `json:"threshold"`
}

func (d *Daemon) handleRecoveryProof(cmd Command) {
	var p recoveryProofParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid params: %w", err))
		return
	}
	proof, err := recovery.BuildProof(p.Claim, p.Vouchers, p.Threshold, time.Now())
	if err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	d.respond(cmd, proof)
}

type recoveryVerifyProofParams struct {
	Proof                 recovery.Proof `json:"proof"`
	VerificationThreshold int            `json:"verification_threshold,omitempty"`
}

// handleRecoveryVerifyProof independently re-validates an aggregated Proof
// (spec.md §4.7) and scores it against this daemon's own contact list:
// a Proof vouched for by enough of the receiver's own mutual contacts
// earns High confidence without any additional out-of-band check.
func (d *Daemon) handleRecoveryVerifyProof(cmd Command) {
	var p recoveryVerifyProofParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		d.emitError(cmd.ID, fmt.Errorf("invalid params: %w", err))
		return
	}
	threshold := p.VerificationThreshold
	if threshold == 0 {
		threshold = recovery.DefaultVerificationThreshold
	}

	d.mu.Lock()
	mutual := make(map[string]struct{}, len(d.contacts))
	for _, entry := range d.contacts {
		mutual[string(entry.record.SigningPublic)] = struct{}{}
	}
	d.mu.Unlock()

	confidence, err := recovery.VerifyProof(p.Proof, time.Now(), mutual, threshold)
	if err != nil {
		d.emitError(cmd.ID, err)
		return
	}
	d.respond(cmd, map[string]string{"confidence": confidence.String()})
}

var errNotOpen = fmt.Errorf("no identity open: call %q or %q first", CmdCreateIdentity, CmdOpen)
