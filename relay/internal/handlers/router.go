package handlers

import (
	"github.com/hossein1376/grape"
)

func newRouter(h *Handler) *grape.Router {
	r := grape.NewRouter()
	r.UseAll(
		grape.RequestIDMiddleware,
		grape.LoggerMiddleware,
		grape.RecoverMiddleware,
		grape.CORSMiddleware,
	)

	r.Get("/identity", h.IdentityHandler)
	r.Get("/ip", h.EchoIPHandler)

	mailbox := r.Group("/mailbox/{id}")
	mailbox.Post("/nonce", h.MailboxNonceHandler)
	mailbox.Post("/envelopes", h.PutEnvelopeHandler)
	mailbox.Get("/envelopes", h.StreamMailboxHandler)
	mailbox.Delete("/envelopes/{envelope_id}", h.AckEnvelopeHandler)
	mailbox.Get("/stream", h.StreamWSHandler)

	return r
}
