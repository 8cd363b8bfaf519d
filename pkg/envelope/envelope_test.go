package envelope

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vauchi-app/core/pkg/ratchet"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := require.New(t)
	dh := make([]byte, 32)
	for i := range dh {
		dh[i] = byte(i)
	}

	e := Envelope{
		MailboxID:  MailboxIDFor([]byte("peer signing key")),
		ID:         uuid.New(),
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		Header:     ratchet.Header{DHPub: dh, N: 7, PN: 3},
		Ciphertext: []byte("opaque ciphertext"),
	}

	wire, err := Encode(e)
	r.NoError(err)

	got, err := Decode(wire)
	r.NoError(err)
	r.Equal(e.MailboxID, got.MailboxID)
	r.Equal(e.ID, got.ID)
	r.Equal(e.CreatedAt, got.CreatedAt)
	r.Equal(e.Header.DHPub, got.Header.DHPub)
	r.Equal(e.Header.N, got.Header.N)
	r.Equal(e.Header.PN, got.Header.PN)
	r.Equal(e.Ciphertext, got.Ciphertext)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	r := require.New(t)
	_, err := Decode(make([]byte, 100))
	r.ErrorIs(err, ErrMalformed)
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	r := require.New(t)
	_, err := Decode([]byte("wb"))
	r.ErrorIs(err, ErrMalformed)
}

func TestEncodeRejectsOversizedFrame(t *testing.T) {
	r := require.New(t)
	e := Envelope{
		MailboxID:  MailboxIDFor([]byte("k")),
		ID:         uuid.New(),
		CreatedAt:  time.Now(),
		Header:     ratchet.Header{DHPub: make([]byte, 32)},
		Ciphertext: make([]byte, maxEnvelope),
	}
	_, err := Encode(e)
	r.ErrorIs(err, ErrTooLarge)
}
