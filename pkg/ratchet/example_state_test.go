package ratchet_test

import (
	"fmt"
	"log"

	"github.com/vauchi-app/core/pkg/ratchet"
)

// ExampleState_Serialize demonstrates how to save and restore a ratchet state.
func ExampleState_Serialize() {
	rootSecret := make([]byte, 32)
	sessionID := "example-session"

	alice, err := ratchet.NewFromSecret(rootSecret)
	if err != nil {
		log.Fatal(err)
	}
	bob, err := ratchet.NewFromSecret(rootSecret)
	if err != nil {
		log.Fatal(err)
	}

	if err := alice.SetTheirPublic(bob.OurPublic(), sessionID); err != nil {
		log.Fatal(err)
	}
	if err := bob.SetTheirPublic(alice.OurPublic(), sessionID); err != nil {
		log.Fatal(err)
	}

	plaintext := []byte("Hello, Bob!")
	h, ciphertext, err := alice.Encrypt(plaintext)
	if err != nil {
		log.Fatal(err)
	}

	decrypted, err := bob.Decrypt(h, ciphertext, sessionID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Decrypted: %s\n", decrypted)

	aliceState, err := alice.Save()
	if err != nil {
		log.Fatal(err)
	}

	jsonData, err := aliceState.Serialize()
	if err != nil {
		log.Fatal(err)
	}

	restoredState, err := ratchet.Deserialize(jsonData)
	if err != nil {
		log.Fatal(err)
	}

	aliceRestored, err := ratchet.Restore(restoredState)
	if err != nil {
		log.Fatal(err)
	}

	plaintext2 := []byte("Message after restore")
	h2, ciphertext2, err := aliceRestored.Encrypt(plaintext2)
	if err != nil {
		log.Fatal(err)
	}

	decrypted2, err := bob.Decrypt(h2, ciphertext2, sessionID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Decrypted after restore: %s\n", decrypted2)

	// Output:
	// Decrypted: Hello, Bob!
	// Decrypted after restore: Message after restore
}

// ExampleState_Clone demonstrates how to clone a state for backup purposes.
func ExampleState_Clone() {
	rootSecret := make([]byte, 32)
	sessionID := "clone-session"

	alice, err := ratchet.NewFromSecret(rootSecret)
	if err != nil {
		log.Fatal(err)
	}
	bob, err := ratchet.NewFromSecret(rootSecret)
	if err != nil {
		log.Fatal(err)
	}

	if err := alice.SetTheirPublic(bob.OurPublic(), sessionID); err != nil {
		log.Fatal(err)
	}

	state, err := alice.Save()
	if err != nil {
		log.Fatal(err)
	}

	backup := state.Clone()

	state.SendN = 9999

	fmt.Printf("Original state send count: %d\n", state.SendN)
	fmt.Printf("Backup state send count: %d\n", backup.SendN)

	// Output:
	// Original state send count: 9999
	// Backup state send count: 0
}

// ExampleRestore demonstrates restoring a ratchet from a previously saved state.
func ExampleRestore() {
	rootSecret := make([]byte, 32)
	sessionID := "restore-session"

	alice, err := ratchet.NewFromSecret(rootSecret)
	if err != nil {
		log.Fatal(err)
	}
	bob, err := ratchet.NewFromSecret(rootSecret)
	if err != nil {
		log.Fatal(err)
	}

	if err := alice.SetTheirPublic(bob.OurPublic(), sessionID); err != nil {
		log.Fatal(err)
	}
	if err := bob.SetTheirPublic(alice.OurPublic(), sessionID); err != nil {
		log.Fatal(err)
	}

	if _, _, err = alice.Encrypt([]byte("First message")); err != nil {
		log.Fatal(err)
	}

	state, err := alice.Save()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Messages sent before save: %d\n", state.SendN)

	aliceRestored, err := ratchet.Restore(state)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Messages sent in restored ratchet: %d\n", aliceRestored.Send())

	// Output:
	// Messages sent before save: 1
	// Messages sent in restored ratchet: 1
}

// ExampleRatchet_Save demonstrates saving a ratchet's current state.
func ExampleRatchet_Save() {
	rootSecret := make([]byte, 32)

	r, err := ratchet.NewFromSecret(rootSecret)
	if err != nil {
		log.Fatal(err)
	}

	state, err := r.Save()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("State saved successfully\n")
	fmt.Printf("Root key length: %d\n", len(state.RootKey))

	// Output:
	// State saved successfully
	// Root key length: 32
}

// ExampleDeserialize demonstrates deserializing a state from JSON.
func ExampleDeserialize() {
	rootSecret := make([]byte, 32)

	r, err := ratchet.NewFromSecret(rootSecret)
	if err != nil {
		log.Fatal(err)
	}

	state, err := r.Save()
	if err != nil {
		log.Fatal(err)
	}

	jsonData, err := state.Serialize()
	if err != nil {
		log.Fatal(err)
	}

	deserializedState, err := ratchet.Deserialize(jsonData)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Successfully deserialized state\n")
	fmt.Printf("Send count: %d\n", deserializedState.SendN)
	fmt.Printf("Receive count: %d\n", deserializedState.RecvN)

	// Output:
	// Successfully deserialized state
	// Send count: 0
	// Receive count: 0
}
