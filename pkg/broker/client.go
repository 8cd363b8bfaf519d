// Package broker is the client side of the store-and-forward mailbox
// protocol the relay module serves (spec.md §4.6): Open an authenticated
// session for a mailbox, Put envelopes addressed to others, Stream a
// backlog over a persistent connection, and ClientAck what's been applied.
// It implements pkg/sync.Broker so an Engine can drive delivery over it.
package broker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/vauchi-app/core/pkg/attest"
	"github.com/vauchi-app/core/pkg/envelope"
)

// Signer is the subset of *pkg/identity.Identity a Client needs to prove
// mailbox ownership during Open.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	PublicID() attest.PublicKey
}

// Client talks to one relay instance on behalf of one local identity.
type Client struct {
	baseURL string
	http    *http.Client
	self    Signer
}

// NewClient builds a broker client against baseURL (e.g.
// "https://relay.example.com"). baseURL's scheme also picks the WebSocket
// scheme OpenStream dials: https -> wss, http -> ws.
func NewClient(baseURL string, self Signer) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		self:    self,
	}
}

func encodeID(id envelope.MailboxID) string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

func (c *Client) mailboxURL(mailbox envelope.MailboxID, suffix string) string {
	return fmt.Sprintf("%s/mailbox/%s%s", c.baseURL, encodeID(mailbox), suffix)
}

// Put deposits env at the broker. Anyone may Put into any mailbox; no
// Open auth-proof is required, per spec.md §4.6.
func (c *Client) Put(ctx context.Context, env envelope.Envelope) error {
	raw, err := envelope.Encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.mailboxURL(env.MailboxID, "/envelopes"), bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build put request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("put envelope: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("put envelope: %s", statusErr(resp))
	}
	return nil
}

// nonce fetches a fresh Open challenge for mailbox.
func (c *Client) nonce(ctx context.Context, mailbox envelope.MailboxID) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.mailboxURL(mailbox, "/nonce"), nil)
	if err != nil {
		return nil, fmt.Errorf("build nonce request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("issue nonce: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("issue nonce: %s", statusErr(resp))
	}
	var body struct {
		Nonce string `json:"nonce"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode nonce response: %w", err)
	}
	return base64.RawURLEncoding.DecodeString(body.Nonce)
}

// authProof signs a fresh nonce for mailbox, the Open auth-proof spec.md
// §4.6 describes: a signature by the identity key proving ownership of
// mailbox-id = hash(identity-pk).
func (c *Client) authProof(ctx context.Context, mailbox envelope.MailboxID) (pub, sig []byte, err error) {
	nonce, err := c.nonce(ctx, mailbox)
	if err != nil {
		return nil, nil, err
	}
	sig, err = c.self.Sign(nonce)
	if err != nil {
		return nil, nil, fmt.Errorf("sign auth-proof: %w", err)
	}
	return c.self.PublicID().Marshal(), sig, nil
}

// Ack acknowledges envelope id in mailbox, the poll-based half of
// ClientAck, for callers that aren't holding a live OpenStream session.
func (c *Client) Ack(ctx context.Context, mailbox envelope.MailboxID, id uuid.UUID) error {
	pub, sig, err := c.authProof(ctx, mailbox)
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	u := c.mailboxURL(mailbox, fmt.Sprintf("/envelopes/%s", id)) + "?" + url.Values{
		"public_key": {base64.RawURLEncoding.EncodeToString(pub)},
		"signature":  {base64.RawURLEncoding.EncodeToString(sig)},
	}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("build ack request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ack envelope: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("ack envelope: %s", statusErr(resp))
	}
	return nil
}

func statusErr(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Sprintf("%s: %s", resp.Status, string(body))
}

// wsOpenFrame mirrors relay/internal/handlers.wsOpenFrame; the two sides
// of this wire format live in separate Go modules with no shared type.
type wsOpenFrame struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

type wsClientAckFrame struct {
	EnvelopeID uuid.UUID `json:"envelope_id"`
}

// Session is a live Open+Stream connection: a backlog of envelopes
// followed by further deliveries for as long as the socket stays up.
// Re-delivery across reconnects is expected; callers should apply
// idempotently and Ack what they've successfully applied.
type Session struct {
	conn *websocket.Conn
}

// OpenStream performs Open and begins Stream over a persistent WebSocket
// connection, per spec.md §4.6/§6.
func (c *Client) OpenStream(ctx context.Context, mailbox envelope.MailboxID) (*Session, error) {
	pub, sig, err := c.authProof(ctx, mailbox)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	wsURL := c.mailboxURL(mailbox, "/stream")
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	open := wsOpenFrame{
		PublicKey: base64.RawURLEncoding.EncodeToString(pub),
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}
	payload, err := json.Marshal(open)
	if err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("marshal open frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("send open frame: %w", err)
	}

	return &Session{conn: conn}, nil
}

// Next blocks for the next streamed envelope, or returns an error once the
// connection closes or ctx is done. A ServerErr frame from the broker is
// surfaced as an error rather than an envelope.
func (s *Session) Next(ctx context.Context) (envelope.Envelope, error) {
	for {
		msgType, raw, err := s.conn.Read(ctx)
		if err != nil {
			return envelope.Envelope{}, fmt.Errorf("read stream: %w", err)
		}
		switch msgType {
		case websocket.MessageBinary:
			return envelope.Decode(raw)
		case websocket.MessageText:
			var serverErr struct {
				Type    string `json:"type"`
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(raw, &serverErr); err == nil && serverErr.Type == "server_err" {
				return envelope.Envelope{}, fmt.Errorf("broker: %s: %s", serverErr.Code, serverErr.Message)
			}
		}
	}
}

// Ack sends a ClientAck frame over the live connection.
func (s *Session) Ack(ctx context.Context, id uuid.UUID) error {
	payload, err := json.Marshal(wsClientAckFrame{EnvelopeID: id})
	if err != nil {
		return fmt.Errorf("marshal ack frame: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, payload)
}

// Close ends the stream session.
func (s *Session) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
