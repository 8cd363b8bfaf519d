package ratchet

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vauchi-app/core/pkg/exchange"
)

var (
	ErrInvalidState = errors.New("invalid ratchet state")
)

// SkippedKeyState is the persisted form of one buffered skipped message key.
type SkippedKeyState struct {
	DHPub    []byte    `json:"dh_pub"`
	N        uint64    `json:"n"`
	Key      []byte    `json:"key"`
	StoredAt time.Time `json:"stored_at"`
}

// State represents a serializable snapshot of the Ratchet's internal state.
// This allows persisting and restoring ratchet sessions across process
// restarts, matching spec §6's contract that Ratchet state is a single
// encrypted-at-rest blob per contact.
type State struct {
	RootKey   []byte `json:"root_key"`
	SendCK    []byte `json:"send_ck"`
	RecvCK    []byte `json:"recv_ck"`
	OurDHPriv []byte `json:"our_dh_priv"`
	OurDHPub  []byte `json:"our_dh_pub"`
	TheirPub  []byte `json:"their_pub"`

	SendN     uint64 `json:"send_n"`
	RecvN     uint64 `json:"recv_n"`
	PrevSendN uint64 `json:"prev_send_n"`

	MaxSkip    int           `json:"max_skip"`
	MaxSkipAge time.Duration `json:"max_skip_age"`

	Skipped []SkippedKeyState `json:"skipped"`

	UndecipherableStreak int `json:"undecipherable_streak"`
}

// Save captures the current state of the ratchet into a serializable State object.
func (r *Ratchet) Save() (*State, error) {
	if r.ourDH == nil {
		return nil, errors.New("ratchet DH keypair is nil")
	}

	skipped := make([]SkippedKeyState, len(r.skipped))
	for i, sk := range r.skipped {
		skipped[i] = SkippedKeyState{
			DHPub:    []byte(sk.dhPub),
			N:        sk.n,
			Key:      copyBytes(sk.key),
			StoredAt: sk.storedAt,
		}
	}

	state := &State{
		RootKey:              copyBytes(r.rootKey),
		SendCK:               copyBytes(r.sendCK),
		RecvCK:               copyBytes(r.recvCK),
		OurDHPriv:            r.ourDH.MarshalPrivateKey(),
		OurDHPub:             r.ourDH.MarshalPublicKey(),
		TheirPub:             copyBytes(r.theirPub),
		SendN:                r.sendN,
		RecvN:                r.recvN,
		PrevSendN:            r.prevSendN,
		MaxSkip:              r.maxSkip,
		MaxSkipAge:           r.maxSkipAge,
		Skipped:              skipped,
		UndecipherableStreak: r.undecipherableStreak,
	}

	return state, nil
}

// Restore reconstructs a Ratchet from a previously saved State.
func Restore(state *State) (*Ratchet, error) {
	if state == nil {
		return nil, ErrInvalidState
	}

	if len(state.RootKey) == 0 {
		return nil, fmt.Errorf("%w: missing root key", ErrInvalidState)
	}
	if len(state.OurDHPriv) == 0 {
		return nil, fmt.Errorf("%w: missing our DH private key", ErrInvalidState)
	}
	if len(state.OurDHPub) == 0 {
		return nil, fmt.Errorf("%w: missing our DH public key", ErrInvalidState)
	}

	dh, err := exchange.RestoreECDH(state.OurDHPriv, state.OurDHPub)
	if err != nil {
		return nil, fmt.Errorf("restoring ECDH keypair: %w", err)
	}

	maxSkip := state.MaxSkip
	if maxSkip == 0 {
		maxSkip = DefaultMaxSkip
	}
	maxSkipAge := state.MaxSkipAge
	if maxSkipAge == 0 {
		maxSkipAge = DefaultMaxSkipAge
	}

	skipped := make([]skippedKey, len(state.Skipped))
	for i, sk := range state.Skipped {
		skipped[i] = skippedKey{
			dhPub:    string(sk.DHPub),
			n:        sk.N,
			key:      copyBytes(sk.Key),
			storedAt: sk.StoredAt,
		}
	}

	r := &Ratchet{
		rootKey:              copyBytes(state.RootKey),
		sendCK:               copyBytes(state.SendCK),
		recvCK:               copyBytes(state.RecvCK),
		ourDH:                dh,
		theirPub:             copyBytes(state.TheirPub),
		sendN:                state.SendN,
		recvN:                state.RecvN,
		prevSendN:            state.PrevSendN,
		maxSkip:              maxSkip,
		maxSkipAge:           maxSkipAge,
		skipped:              skipped,
		undecipherableStreak: state.UndecipherableStreak,
	}

	return r, nil
}

// MarshalJSON serializes the State to JSON format.
func (s *State) MarshalJSON() ([]byte, error) {
	type Alias State
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(s),
	})
}

// UnmarshalJSON deserializes the State from JSON format.
func (s *State) UnmarshalJSON(data []byte) error {
	type Alias State
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(s),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return nil
}

// Serialize encodes the State to JSON bytes.
func (s *State) Serialize() ([]byte, error) {
	return json.Marshal(s)
}

// Deserialize decodes a State from JSON bytes.
func Deserialize(data []byte) (*State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("deserializing state: %w", err)
	}
	return &state, nil
}

// Clone creates a deep copy of the State.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	skipped := make([]SkippedKeyState, len(s.Skipped))
	for i, sk := range s.Skipped {
		skipped[i] = SkippedKeyState{
			DHPub:    copyBytes(sk.DHPub),
			N:        sk.N,
			Key:      copyBytes(sk.Key),
			StoredAt: sk.StoredAt,
		}
	}
	return &State{
		RootKey:              copyBytes(s.RootKey),
		SendCK:               copyBytes(s.SendCK),
		RecvCK:               copyBytes(s.RecvCK),
		OurDHPriv:            copyBytes(s.OurDHPriv),
		OurDHPub:             copyBytes(s.OurDHPub),
		TheirPub:             copyBytes(s.TheirPub),
		SendN:                s.SendN,
		RecvN:                s.RecvN,
		PrevSendN:            s.PrevSendN,
		MaxSkip:              s.MaxSkip,
		MaxSkipAge:           s.MaxSkipAge,
		Skipped:              skipped,
		UndecipherableStreak: s.UndecipherableStreak,
	}
}

// copyBytes creates a copy of a byte slice, returning nil if the input is nil.
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	result := make([]byte, len(b))
	copy(result, b)
	return result
}
