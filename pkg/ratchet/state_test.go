package ratchet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateSaveAndRestore(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	rootSecret := randomBytes(32)
	sessionID := string(randomBytes(20))

	alice, err := NewFromSecret(rootSecret)
	r.NoError(err, "Alice init")
	bob, err := NewFromSecret(rootSecret)
	r.NoError(err, "Bob init")

	r.NoError(alice.SetTheirPublic(bob.OurPublic(), sessionID), "Alice set peer")
	r.NoError(bob.SetTheirPublic(alice.OurPublic(), sessionID), "Bob set peer")

	for i := 0; i < 3; i++ {
		plaintext := []byte("Test message")
		h, ct, err := alice.Encrypt(plaintext)
		r.NoError(err, "Alice encrypt")

		decrypted, err := bob.Decrypt(h, ct, sessionID)
		r.NoError(err, "Bob decrypt")
		a.Equal(plaintext, decrypted)
	}

	aliceState, err := alice.Save()
	r.NoError(err, "Save Alice state")

	aliceRestored, err := Restore(aliceState)
	r.NoError(err, "Restore Alice state")

	a.Equal(alice.rootKey, aliceRestored.rootKey, "root key mismatch")
	a.Equal(alice.sendCK, aliceRestored.sendCK, "send chain key mismatch")
	a.Equal(alice.recvCK, aliceRestored.recvCK, "recv chain key mismatch")
	a.Equal(alice.theirPub, aliceRestored.theirPub, "their public key mismatch")
	a.Equal(alice.sendN, aliceRestored.sendN, "send count mismatch")
	a.Equal(alice.recvN, aliceRestored.recvN, "recv count mismatch")

	plaintext := []byte("Message after restore")
	h, ct, err := aliceRestored.Encrypt(plaintext)
	r.NoError(err, "Restored Alice encrypt")

	decrypted, err := bob.Decrypt(h, ct, sessionID)
	r.NoError(err, "Bob decrypt from restored")
	a.Equal(plaintext, decrypted)
}

func TestStateSerializeDeserialize(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	rootSecret := randomBytes(32)
	sessionID := string(randomBytes(20))

	alice, err := NewFromSecret(rootSecret)
	r.NoError(err, "Alice init")
	bob, err := NewFromSecret(rootSecret)
	r.NoError(err, "Bob init")

	r.NoError(alice.SetTheirPublic(bob.OurPublic(), sessionID), "Alice set peer")

	state, err := alice.Save()
	r.NoError(err, "Save state")

	jsonBytes, err := state.Serialize()
	r.NoError(err, "Serialize state")
	a.NotEmpty(jsonBytes)

	deserializedState, err := Deserialize(jsonBytes)
	r.NoError(err, "Deserialize state")

	a.Equal(state.RootKey, deserializedState.RootKey)
	a.Equal(state.SendCK, deserializedState.SendCK)
	a.Equal(state.RecvCK, deserializedState.RecvCK)
	a.Equal(state.OurDHPriv, deserializedState.OurDHPriv)
	a.Equal(state.OurDHPub, deserializedState.OurDHPub)
	a.Equal(state.TheirPub, deserializedState.TheirPub)
	a.Equal(state.SendN, deserializedState.SendN)
	a.Equal(state.RecvN, deserializedState.RecvN)

	restored, err := Restore(deserializedState)
	r.NoError(err, "Restore from deserialized state")
	a.NotNil(restored)
}

func TestStateJSONMarshalUnmarshal(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	state := &State{
		RootKey:   randomBytes(32),
		SendCK:    randomBytes(32),
		RecvCK:    randomBytes(32),
		OurDHPriv: randomBytes(32),
		OurDHPub:  randomBytes(32),
		TheirPub:  randomBytes(32),
		SendN:     42,
		RecvN:     24,
	}

	jsonBytes, err := json.Marshal(state)
	r.NoError(err, "Marshal to JSON")

	var unmarshaled State
	err = json.Unmarshal(jsonBytes, &unmarshaled)
	r.NoError(err, "Unmarshal from JSON")

	a.Equal(state.RootKey, unmarshaled.RootKey)
	a.Equal(state.SendCK, unmarshaled.SendCK)
	a.Equal(state.RecvCK, unmarshaled.RecvCK)
	a.Equal(state.OurDHPriv, unmarshaled.OurDHPriv)
	a.Equal(state.OurDHPub, unmarshaled.OurDHPub)
	a.Equal(state.TheirPub, unmarshaled.TheirPub)
	a.Equal(state.SendN, unmarshaled.SendN)
	a.Equal(state.RecvN, unmarshaled.RecvN)
}

func TestStateClone(t *testing.T) {
	a := assert.New(t)

	state := &State{
		RootKey:   randomBytes(32),
		SendCK:    randomBytes(32),
		RecvCK:    randomBytes(32),
		OurDHPriv: randomBytes(32),
		OurDHPub:  randomBytes(32),
		TheirPub:  randomBytes(32),
		SendN:     100,
		RecvN:     200,
	}

	cloned := state.Clone()
	a.NotNil(cloned)

	a.Equal(state.RootKey, cloned.RootKey)
	a.Equal(state.SendCK, cloned.SendCK)
	a.Equal(state.RecvCK, cloned.RecvCK)
	a.Equal(state.OurDHPriv, cloned.OurDHPriv)
	a.Equal(state.OurDHPub, cloned.OurDHPub)
	a.Equal(state.TheirPub, cloned.TheirPub)
	a.Equal(state.SendN, cloned.SendN)
	a.Equal(state.RecvN, cloned.RecvN)

	cloned.RootKey[0] ^= 0xFF
	a.NotEqual(state.RootKey[0], cloned.RootKey[0])

	cloned.SendN = 999
	a.NotEqual(state.SendN, cloned.SendN)
}

func TestStateCloneNil(t *testing.T) {
	a := assert.New(t)
	var state *State
	cloned := state.Clone()
	a.Nil(cloned)
}

func TestRestoreInvalidState(t *testing.T) {
	a := assert.New(t)

	_, err := Restore(nil)
	a.Error(err)
	a.ErrorIs(err, ErrInvalidState)

	state := &State{
		OurDHPriv: randomBytes(32),
		OurDHPub:  randomBytes(32),
	}
	_, err = Restore(state)
	a.Error(err)
	a.ErrorIs(err, ErrInvalidState)

	state = &State{
		RootKey:  randomBytes(32),
		OurDHPub: randomBytes(32),
	}
	_, err = Restore(state)
	a.Error(err)
	a.ErrorIs(err, ErrInvalidState)

	state = &State{
		RootKey:   randomBytes(32),
		OurDHPriv: randomBytes(32),
	}
	_, err = Restore(state)
	a.Error(err)
	a.ErrorIs(err, ErrInvalidState)
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	rootSecret := randomBytes(32)
	sessionID := string(randomBytes(20))

	alice, err := NewFromSecret(rootSecret)
	r.NoError(err)
	bob, err := NewFromSecret(rootSecret)
	r.NoError(err)

	r.NoError(alice.SetTheirPublic(bob.OurPublic(), sessionID))
	r.NoError(bob.SetTheirPublic(alice.OurPublic(), sessionID))

	messages := []string{"First message", "Second message", "Third message"}

	for _, msg := range messages {
		h, ct, err := alice.Encrypt([]byte(msg))
		r.NoError(err)
		pt, err := bob.Decrypt(h, ct, sessionID)
		r.NoError(err)
		a.Equal(msg, string(pt))
	}

	aliceState, err := alice.Save()
	r.NoError(err)
	bobState, err := bob.Save()
	r.NoError(err)

	aliceJSON, err := aliceState.Serialize()
	r.NoError(err)
	bobJSON, err := bobState.Serialize()
	r.NoError(err)

	aliceStateRestored, err := Deserialize(aliceJSON)
	r.NoError(err)
	bobStateRestored, err := Deserialize(bobJSON)
	r.NoError(err)

	aliceNew, err := Restore(aliceStateRestored)
	r.NoError(err)
	bobNew, err := Restore(bobStateRestored)
	r.NoError(err)

	newMessages := []string{"Fourth message after restore", "Fifth message after restore"}

	for _, msg := range newMessages {
		h, ct, err := aliceNew.Encrypt([]byte(msg))
		r.NoError(err)
		pt, err := bobNew.Decrypt(h, ct, sessionID)
		r.NoError(err)
		a.Equal(msg, string(pt))
	}

	a.Equal(uint64(5), aliceNew.Send())
	a.Equal(uint64(5), bobNew.Received())
}

func TestStateWithNilChainKeys(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	rootSecret := randomBytes(32)
	alice, err := NewFromSecret(rootSecret)
	r.NoError(err)

	state, err := alice.Save()
	r.NoError(err)
	a.Nil(state.SendCK)
	a.Nil(state.RecvCK)
	a.Nil(state.TheirPub)

	restored, err := Restore(state)
	r.NoError(err)
	a.NotNil(restored)
	a.Nil(restored.sendCK)
	a.Nil(restored.recvCK)
	a.Nil(restored.theirPub)
}

func TestDeserializeInvalidJSON(t *testing.T) {
	a := assert.New(t)

	_, err := Deserialize([]byte("not valid json"))
	a.Error(err)

	_, err = Deserialize([]byte("{}"))
	a.NoError(err)

	_, err = Deserialize([]byte("{incomplete"))
	a.Error(err)
}

func TestStateCopyBytes(t *testing.T) {
	a := assert.New(t)

	result := copyBytes(nil)
	a.Nil(result)

	empty := []byte{}
	result = copyBytes(empty)
	a.NotNil(result)
	a.Equal(0, len(result))

	data := []byte{1, 2, 3, 4, 5}
	result = copyBytes(data)
	a.Equal(data, result)

	result[0] = 99
	a.NotEqual(data[0], result[0])
}

func TestRestoreAfterDHRatchetStep(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	rootSecret := randomBytes(32)
	sessionID := string(randomBytes(20))

	alice, err := NewFromSecret(rootSecret)
	r.NoError(err)
	bob, err := NewFromSecret(rootSecret)
	r.NoError(err)

	r.NoError(alice.SetTheirPublic(bob.OurPublic(), sessionID))
	r.NoError(bob.SetTheirPublic(alice.OurPublic(), sessionID))

	// Bob replies first, forcing Alice through a DH ratchet step on decrypt.
	h, ct, err := bob.Encrypt([]byte("hello"))
	r.NoError(err)
	_, err = alice.Decrypt(h, ct, sessionID)
	r.NoError(err)

	aliceState, err := alice.Save()
	r.NoError(err)

	aliceRestored, err := Restore(aliceState)
	r.NoError(err)

	msg := []byte("Message after ratchet and restore")
	h2, ct2, err := aliceRestored.Encrypt(msg)
	r.NoError(err)
	pt, err := bob.Decrypt(h2, ct2, sessionID)
	r.NoError(err)
	a.Equal(msg, pt)
}

func TestMultipleRestoresFromSameState(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	rootSecret := randomBytes(32)
	sessionID := string(randomBytes(20))

	alice, err := NewFromSecret(rootSecret)
	r.NoError(err)
	bob, err := NewFromSecret(rootSecret)
	r.NoError(err)

	r.NoError(alice.SetTheirPublic(bob.OurPublic(), sessionID))
	r.NoError(bob.SetTheirPublic(alice.OurPublic(), sessionID))

	msg := []byte("Test")
	h, ct, err := alice.Encrypt(msg)
	r.NoError(err)
	_, err = bob.Decrypt(h, ct, sessionID)
	r.NoError(err)

	state, err := alice.Save()
	r.NoError(err)

	restored1, err := Restore(state)
	r.NoError(err)
	restored2, err := Restore(state)
	r.NoError(err)

	a.Equal(restored1.sendN, restored2.sendN)
	a.Equal(restored1.rootKey, restored2.rootKey)

	_, ct1, err := restored1.Encrypt(msg)
	r.NoError(err)
	a.NotEmpty(ct1)

	state1After, err := restored1.Save()
	r.NoError(err)

	_, ct2, err := restored2.Encrypt(msg)
	r.NoError(err)
	a.NotEmpty(ct2)

	state2After, err := restored2.Save()
	r.NoError(err)
	a.Equal(state1After.SendN, state2After.SendN)
	a.Equal(state1After.SendCK, state2After.SendCK)
	a.Equal(state1After.RootKey, state2After.RootKey)
}
