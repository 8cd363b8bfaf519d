package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/vauchi-app/core/pkg/attest"
	"github.com/vauchi-app/core/pkg/envelope"
	"github.com/vauchi-app/core/relay/internal/model"
	"github.com/vauchi-app/core/relay/internal/storage"
	"github.com/vauchi-app/core/relay/pkg/span"
)

var (
	mailboxNS = model.NewNameSpace("mbox")
	nonceNS   = model.NewNameSpace("mbxnonce")
)

var (
	ErrMailboxFull      = errors.New("mailbox at capacity")
	ErrEnvelopeTooLarge = errors.New("envelope exceeds the configured maximum size")
	ErrBadAuthProof     = errors.New("auth-proof does not match the claimed mailbox-id")
	ErrNonceExpired     = errors.New("nonce expired or unknown")
)

const nonceSize = 24

// IssueNonce returns a fresh nonce for mailbox, to be signed by the
// identity key as the Open auth-proof (spec.md §4.6).
func (s *Service) IssueNonce(mailbox envelope.MailboxID) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	ttl := s.cfg.Storage.NonceTTL
	err := s.store.Command(func(c model.Command) error {
		return c.SetTTL(nonceNS, mailbox[:], nonce, ttl)
	})
	if err != nil {
		return nil, fmt.Errorf("storing nonce: %w", err)
	}
	return nonce, nil
}

// OpenMailbox verifies that signature is a valid signature by publicKey
// over the previously issued nonce, and that hash(publicKey) == mailbox,
// proving the caller owns the mailbox it is trying to open.
func (s *Service) OpenMailbox(mailbox envelope.MailboxID, publicKey, signature []byte) error {
	if envelope.MailboxIDFor(publicKey) != mailbox {
		return ErrBadAuthProof
	}

	var nonce []byte
	err := s.store.Command(func(c model.Command) error {
		var err error
		nonce, err = c.Get(nonceNS, mailbox[:])
		if err != nil {
			return err
		}
		return c.Delete(nonceNS, mailbox[:])
	})
	if err != nil {
		if errors.Is(err, storage.ErrMissing) {
			return ErrNonceExpired
		}
		return fmt.Errorf("loading nonce: %w", err)
	}

	pub, err := attest.ParsePublicKey(publicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadAuthProof, err)
	}
	if !attest.Verify(pub, nonce, signature) {
		return ErrBadAuthProof
	}
	return nil
}

// PutEnvelope stores env durably under its mailbox, enforcing the
// per-envelope size cap and per-mailbox capacity from config.
func (s *Service) PutEnvelope(env envelope.Envelope) error {
	raw, err := envelope.Encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if s.cfg.Storage.MaxMessageSize > 0 && len(raw) > s.cfg.Storage.MaxMessageSize {
		return ErrEnvelopeTooLarge
	}

	return s.store.Command(func(c model.Command) error {
		if s.cfg.Storage.MaxMailboxSize > 0 {
			existing, err := c.ScanPrefix(mailboxNS, env.MailboxID[:])
			if err != nil {
				return fmt.Errorf("counting mailbox contents: %w", err)
			}
			if uint64(len(existing)) >= s.cfg.Storage.MaxMailboxSize {
				return ErrMailboxFull
			}
		}
		return c.SetTTL(mailboxNS, mailboxItemKey(env.MailboxID, env.ID), raw, s.cfg.Storage.EnvelopeTTL)
	})
}

// RetainedEnvelope pairs a decoded envelope with the remaining time the
// broker will hold it, the "Retained" metadata spec.md §6 mentions
// alongside a streamed frame.
type RetainedEnvelope struct {
	Envelope envelope.Envelope
	Retained span.Duration
}

// StreamMailbox returns every envelope currently retained for mailbox, in
// creation-timestamp order, for best-effort at-least-once delivery.
func (s *Service) StreamMailbox(mailbox envelope.MailboxID) ([]RetainedEnvelope, error) {
	var out []RetainedEnvelope
	err := s.store.Query(func(q model.Query) error {
		entries, err := q.ScanPrefix(mailboxNS, mailbox[:])
		if err != nil {
			return fmt.Errorf("scanning mailbox: %w", err)
		}
		for name, raw := range entries {
			env, err := envelope.Decode(raw)
			if err != nil {
				// A corrupt stored frame can't be served; drop it rather
				// than block every other envelope in the mailbox.
				continue
			}
			ttl, err := q.TTL(mailboxNS, []byte(name))
			if err != nil {
				ttl = 0
			}
			out = append(out, RetainedEnvelope{Envelope: env, Retained: span.New(ttl)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Envelope.CreatedAt.Before(out[j].Envelope.CreatedAt)
	})
	return out, nil
}

// AckEnvelope deletes id from mailbox, the broker's side of ClientAck.
func (s *Service) AckEnvelope(mailbox envelope.MailboxID, id uuid.UUID) error {
	return s.store.Command(func(c model.Command) error {
		return c.Delete(mailboxNS, mailboxItemKey(mailbox, id))
	})
}

func mailboxItemKey(mailbox envelope.MailboxID, id uuid.UUID) []byte {
	idBytes, _ := id.MarshalBinary()
	key := make([]byte, 0, len(mailbox)+len(idBytes))
	key = append(key, mailbox[:]...)
	key = append(key, idBytes...)
	return key
}
