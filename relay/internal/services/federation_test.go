package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vauchi-app/core/pkg/envelope"
)

func TestFederateIsNotImplemented(t *testing.T) {
	s := &Service{}
	hint, err := s.Federate(envelope.MailboxID{}, "https://peer.example.com")
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.Zero(t, hint)
}
