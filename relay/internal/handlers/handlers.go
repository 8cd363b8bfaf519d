package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/hossein1376/grape"
	"github.com/hossein1376/grape/errs"

	"github.com/vauchi-app/core/pkg/envelope"
	"github.com/vauchi-app/core/pkg/vaerrors"
	"github.com/vauchi-app/core/relay/internal/config"
	"github.com/vauchi-app/core/relay/internal/services"
)

type Handler struct {
	service *services.Service
	cfg     config.Config
}

func New(service *services.Service, cfg config.Config) *grape.Router {
	h := &Handler{service: service, cfg: cfg}
	return newRouter(h)
}

func (h *Handler) IdentityHandler(w http.ResponseWriter, r *http.Request) {
	grape.Respond(r.Context(), w, http.StatusOK, grape.Map{"key": h.service.PublicKey()})
}

func (h *Handler) EchoIPHandler(w http.ResponseWriter, r *http.Request) {
	grape.Respond(r.Context(), w, http.StatusOK, grape.Map{"ip": clientIP(r)})
}

// MailboxNonceHandler issues the nonce an Open auth-proof is computed over.
func (h *Handler) MailboxNonceHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mailbox, err := decodeMailboxID(r.PathValue("id"))
	if err != nil {
		grape.RespondFromErr(ctx, w, errs.BadRequest(err))
		return
	}
	nonce, err := h.service.IssueNonce(mailbox)
	if err != nil {
		grape.RespondFromErr(ctx, w, err)
		return
	}
	grape.Respond(ctx, w, http.StatusOK, grape.Map{"nonce": encodeBase64(nonce)})
}

// PutEnvelopeHandler accepts a raw envelope.Encode frame and stores it
// under the mailbox named in the path. Anyone may Put into any mailbox —
// only reading one back requires the Open auth-proof — so only the
// per-connection rate limit from spec.md §4.6 applies here.
func (h *Handler) PutEnvelopeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cfg.RateLimit.Enabled {
		ok, err := h.service.RateLimit(clientIP(r))
		if err != nil {
			grape.RespondFromErr(ctx, w, fmt.Errorf("rate limit: %w", err))
			return
		}
		if !ok {
			grape.Respond(ctx, w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
			return
		}
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		grape.RespondFromErr(ctx, w, errs.BadRequest(err))
		return
	}
	env, err := envelope.Decode(raw)
	if err != nil {
		grape.RespondFromErr(ctx, w, errs.BadRequest(err))
		return
	}

	mailbox, err := decodeMailboxID(r.PathValue("id"))
	if err != nil {
		grape.RespondFromErr(ctx, w, errs.BadRequest(err))
		return
	}
	if mailbox != env.MailboxID {
		grape.RespondFromErr(ctx, w, errs.BadRequest(errors.New("path mailbox-id does not match envelope")))
		return
	}

	if err := h.service.PutEnvelope(env); err != nil {
		switch {
		case errors.Is(err, services.ErrEnvelopeTooLarge):
			grape.Respond(ctx, w, http.StatusRequestEntityTooLarge, grape.Map{"error": err.Error()})
		case errors.Is(err, services.ErrMailboxFull):
			grape.Respond(ctx, w, http.StatusInsufficientStorage, grape.Map{"error": err.Error()})
		default:
			grape.RespondFromErr(ctx, w, err)
		}
		return
	}

	grape.Respond(ctx, w, http.StatusCreated, grape.Map{
		"id":         env.ID,
		"created_at": env.CreatedAt,
	})
}

func (h *Handler) authenticateMailboxRequest(r *http.Request) (envelope.MailboxID, error) {
	mailbox, err := decodeMailboxID(r.PathValue("id"))
	if err != nil {
		return mailbox, err
	}
	q := r.URL.Query()
	pub, err := decodeBase64(q.Get("public_key"))
	if err != nil {
		return mailbox, fmt.Errorf("%w: %v", ErrMissingPubKey, err)
	}
	sig, err := decodeBase64(q.Get("signature"))
	if err != nil {
		return mailbox, fmt.Errorf("decoding signature: %w", err)
	}
	if err := h.service.OpenMailbox(mailbox, pub, sig); err != nil {
		return mailbox, err
	}
	return mailbox, nil
}

type retainedEnvelopeView struct {
	ID         uuid.UUID `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	DHPub      string    `json:"dh_pub"`
	PN         uint64    `json:"pn"`
	N          uint64    `json:"n"`
	Ciphertext string    `json:"ciphertext"`
	RetainedIn string    `json:"retained_in"`
}

// StreamMailboxHandler is the poll-based half of spec.md §4.6's Stream: a
// client that already holds a valid Open auth-proof lists every envelope
// currently retained for its mailbox.
func (h *Handler) StreamMailboxHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mailbox, err := h.authenticateMailboxRequest(r)
	if err != nil {
		grape.Respond(ctx, w, http.StatusForbidden, grape.Map{"error": err.Error()})
		return
	}

	retained, err := h.service.StreamMailbox(mailbox)
	if err != nil {
		grape.RespondFromErr(ctx, w, err)
		return
	}

	views := make([]retainedEnvelopeView, 0, len(retained))
	for _, re := range retained {
		views = append(views, retainedEnvelopeView{
			ID:         re.Envelope.ID,
			CreatedAt:  re.Envelope.CreatedAt,
			DHPub:      encodeBase64(re.Envelope.Header.DHPub),
			PN:         re.Envelope.Header.PN,
			N:          re.Envelope.Header.N,
			Ciphertext: encodeBase64(re.Envelope.Ciphertext),
			RetainedIn: re.Retained.Duration().String(),
		})
	}
	grape.Respond(ctx, w, http.StatusOK, grape.Map{"envelopes": views})
}

// AckEnvelopeHandler is the poll-based client's ClientAck.
func (h *Handler) AckEnvelopeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mailbox, err := h.authenticateMailboxRequest(r)
	if err != nil {
		grape.Respond(ctx, w, http.StatusForbidden, grape.Map{"error": err.Error()})
		return
	}
	id, err := uuid.Parse(r.PathValue("envelope_id"))
	if err != nil {
		grape.RespondFromErr(ctx, w, errs.BadRequest(err))
		return
	}
	if err := h.service.AckEnvelope(mailbox, id); err != nil {
		grape.RespondFromErr(ctx, w, err)
		return
	}
	grape.Respond(ctx, w, http.StatusNoContent, nil)
}

// wsOpenFrame is the first message a client sends after upgrading, proving
// ownership of the mailbox it wants to stream (spec.md §4.6's Open).
type wsOpenFrame struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

type wsClientAckFrame struct {
	EnvelopeID uuid.UUID `json:"envelope_id"`
}

type wsServerErrFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StreamWSHandler implements the persistent-connection shape of spec.md
// §4.6/§6: Open, then a backlog of Envelope frames, then ClientAck frames
// read back from the client as they arrive, for as long as the socket
// stays up. Reconnects are the client's responsibility; re-delivery across
// reconnects is expected and harmless (idempotent apply happens upstream).
func (h *Handler) StreamWSHandler(w http.ResponseWriter, r *http.Request) {
	mailbox, err := decodeMailboxID(r.PathValue("id"))
	if err != nil {
		grape.RespondFromErr(r.Context(), w, errs.BadRequest(err))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	openCtx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	_, openRaw, err := conn.Read(openCtx)
	cancel()
	if err != nil {
		return
	}
	var open wsOpenFrame
	if err := json.Unmarshal(openRaw, &open); err != nil {
		h.wsSendErr(r.Context(), conn, vaerrors.InvalidBundle, "malformed open frame")
		conn.Close(websocket.StatusPolicyViolation, "malformed open frame")
		return
	}
	pub, errPub := decodeBase64(open.PublicKey)
	sig, errSig := decodeBase64(open.Signature)
	if errPub != nil || errSig != nil {
		h.wsSendErr(r.Context(), conn, vaerrors.InvalidSignature, "malformed public key or signature")
		conn.Close(websocket.StatusPolicyViolation, "malformed open frame")
		return
	}
	if err := h.service.OpenMailbox(mailbox, pub, sig); err != nil {
		h.wsSendErr(r.Context(), conn, vaerrors.InvalidSignature, err.Error())
		conn.Close(websocket.StatusPolicyViolation, "auth-proof rejected")
		return
	}

	retained, err := h.service.StreamMailbox(mailbox)
	if err != nil {
		h.wsSendErr(r.Context(), conn, vaerrors.NotFound, err.Error())
		conn.Close(websocket.StatusInternalError, "stream failed")
		return
	}
	for _, re := range retained {
		frame, err := envelope.Encode(re.Envelope)
		if err != nil {
			continue
		}
		writeCtx, writeCancel := context.WithTimeout(r.Context(), 10*time.Second)
		err = conn.Write(writeCtx, websocket.MessageBinary, frame)
		writeCancel()
		if err != nil {
			return
		}
	}

	for {
		readCtx, readCancel := context.WithTimeout(r.Context(), 5*time.Minute)
		_, ackRaw, err := conn.Read(readCtx)
		readCancel()
		if err != nil {
			return
		}
		var ack wsClientAckFrame
		if err := json.Unmarshal(ackRaw, &ack); err != nil {
			h.wsSendErr(r.Context(), conn, vaerrors.InvalidBundle, "could not parse ClientAck frame")
			continue
		}
		if err := h.service.AckEnvelope(mailbox, ack.EnvelopeID); err != nil {
			h.wsSendErr(r.Context(), conn, vaerrors.NotFound, err.Error())
		}
	}
}

func (h *Handler) wsSendErr(ctx context.Context, conn *websocket.Conn, code vaerrors.Code, message string) {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	payload, err := json.Marshal(wsServerErrFrame{Type: "server_err", Code: code.String(), Message: message})
	if err != nil {
		return
	}
	_ = conn.Write(writeCtx, websocket.MessageText, payload)
}
