// Package store is the client-side encrypted key/value layer every other
// core package persists through. It wraps go.etcd.io/bbolt with a
// passphrase-derived data-encryption key (internal/enigma), and exposes the
// capability set spec's storage layer asks for — read-kv, write-kv-atomic,
// scan-prefix — as the Query/Command pair handed into every transaction.
package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vauchi-app/core/internal/enigma"
)

// Bucket names for the persisted-state contract of spec.md §6: one row per
// Identity, one per Contact, one per Ratchet-state, an append-only outbox,
// an inbox high-water mark per contact, a consumed-one-time-prekey set, and
// the recovery claim/voucher/proof tables.
const (
	BucketIdentity       = "identity"
	BucketContacts       = "contacts"
	BucketCardFields     = "card_fields"
	BucketVisibility     = "visibility"
	BucketRatchetState   = "ratchet_state"
	BucketOutbox         = "outbox"
	BucketInboxWatermark = "inbox_watermark"
	BucketConsumedOTP    = "consumed_one_time_prekeys"
	BucketRecoveryClaim  = "recovery_claims"
	BucketRecoveryVouch  = "recovery_vouchers"
	BucketRecoveryProof  = "recovery_proofs"

	bucketAuth = "auth"
)

var allBuckets = []string{
	BucketIdentity,
	BucketContacts,
	BucketCardFields,
	BucketVisibility,
	BucketRatchetState,
	BucketOutbox,
	BucketInboxWatermark,
	BucketConsumedOTP,
	BucketRecoveryClaim,
	BucketRecoveryVouch,
	BucketRecoveryProof,
	bucketAuth,
}

const (
	kek = "key-encryption-key"
	dek = "data-encryption-key"
	dpk = "derived-passphrase-key"

	wrappedSaltKey = "wrapped-salt"
	wrappedKey     = "wrapped-key"
	deriveSaltKey  = "derive-salt"
	secretSaltKey  = "secret-salt"
)

var (
	ErrMissingBucket    = errors.New("store: bucket not found")
	ErrNotFound         = errors.New("store: item not found")
	ErrFailedDecryption = errors.New("store: decryption failed")
)

// Store owns the bbolt handle and the data-encryption cipher derived from
// the caller's passphrase. All access beyond open/close goes through a
// View/Update transaction handing out a Query or Command.
type Store struct {
	db     *bolt.DB
	cipher *enigma.Enigma
}

// New opens (creating if absent) an encrypted store at path, unlocking it
// with passphrase. A fresh store generates a random data-encryption key and
// wraps it under a passphrase-derived key-encryption key, mirroring
// pkg/attest's key-wrapping idiom.
func New(passphrase []byte, path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	cipher, err := unlock(passphrase, db)
	if errors.Is(err, ErrNotFound) {
		cipher, err = bootstrap(passphrase, db)
	}
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}

	return &Store{db: db, cipher: cipher}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// View runs a read-only transaction, handing the callback a Query capable
// of read-kv and scan-prefix over any bucket.
func (s *Store) View(fn func(*Query) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&Query{tx: tx, store: s})
	})
}

// Update runs a single atomic read-write transaction, handing the callback
// a Command capable of write-kv-atomic over any bucket. Every state change
// crossing a process boundary goes through exactly one Update call, per
// spec.md §5's single-transaction discipline.
func (s *Store) Update(fn func(*Command) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&Command{tx: tx, store: s})
	})
}

func unlock(pass []byte, db *bolt.DB) (*enigma.Enigma, error) {
	var secretSalt, deriveSalt, wrappedSalt, wrapped []byte
	err := db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketAuth))
		wrapped = bucket.Get([]byte(wrappedKey))
		deriveSalt = bucket.Get([]byte(deriveSaltKey))
		wrappedSalt = bucket.Get([]byte(wrappedSaltKey))
		secretSalt = bucket.Get([]byte(secretSaltKey))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get values: %w", err)
	}
	if secretSalt == nil || deriveSalt == nil || wrappedSalt == nil || wrapped == nil {
		return nil, ErrNotFound
	}
	derivedPass, err := enigma.Derive(pass, deriveSalt, []byte(dpk), 32)
	if err != nil {
		return nil, fmt.Errorf("derive from pass: %w", err)
	}
	keyCipher, err := enigma.NewEnigma(derivedPass, wrappedSalt, []byte(kek))
	if err != nil {
		return nil, fmt.Errorf("key cipher: %w", err)
	}
	secret, err := keyCipher.Decrypt(wrapped)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret: %w", err)
	}
	dataCipher, err := enigma.NewEnigma(secret, secretSalt, []byte(dek))
	if err != nil {
		return nil, fmt.Errorf("data cipher: %w", err)
	}
	return dataCipher, nil
}

func bootstrap(pass []byte, db *bolt.DB) (*enigma.Enigma, error) {
	secret, secretSalt := random32Bits(), random32Bits()
	deriveSalt, wrappedSalt := random32Bits(), random32Bits()

	derivedPass, err := enigma.Derive(pass, deriveSalt, []byte(dpk), 32)
	if err != nil {
		return nil, fmt.Errorf("derive from pass: %w", err)
	}
	keyCipher, err := enigma.NewEnigma(derivedPass, wrappedSalt, []byte(kek))
	if err != nil {
		return nil, fmt.Errorf("key cipher: %w", err)
	}
	wrapped := keyCipher.Encrypt(secret)
	dataCipher, err := enigma.NewEnigma(secret, secretSalt, []byte(dek))
	if err != nil {
		return nil, fmt.Errorf("data cipher: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketAuth))
		for k, v := range map[string][]byte{
			wrappedKey:     wrapped,
			wrappedSaltKey: wrappedSalt,
			deriveSaltKey:  deriveSalt,
			secretSaltKey:  secretSalt,
		} {
			if err := bucket.Put([]byte(k), v); err != nil {
				return fmt.Errorf("put %s: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap auth bucket: %w", err)
	}

	return dataCipher, nil
}

func random32Bits() []byte {
	src := make([]byte, 32)
	_, _ = rand.Read(src)
	return src
}
