// Package main implements a daemon wrapper around the core contact-sync
// library. It exposes a JSON-over-stdio protocol for integration with
// external applications (mobile/desktop/terminal UIs, per spec.md's
// out-of-scope list — those own the window, this owns the core state
// machine).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/vauchi-app/core/pkg/broker"
	"github.com/vauchi-app/core/pkg/card"
	"github.com/vauchi-app/core/pkg/identity"
	"github.com/vauchi-app/core/pkg/ratchet"
	"github.com/vauchi-app/core/pkg/store"
	syncengine "github.com/vauchi-app/core/pkg/sync"
	"github.com/vauchi-app/core/pkg/vaerrors"
)

// Command types
const (
	CmdCreateIdentity      = "create_identity"
	CmdOpen                = "open"
	CmdGetBundle           = "get_bundle"
	CmdSetDisplayName      = "set_display_name"
	CmdSetField            = "set_field"
	CmdDeleteField         = "delete_field"
	CmdSetVisibility       = "set_visibility"
	CmdListContacts        = "list_contacts"
	CmdGetPeerCard         = "get_peer_card"
	CmdAddContactInitiator = "add_contact_initiator"
	CmdAddContactResponder = "add_contact_responder"
	CmdRemoveContact       = "remove_contact"
	CmdSyncOnce            = "sync_once"
	CmdStartStream         = "start_stream"
	CmdStopStream          = "stop_stream"
	CmdRecoveryClaim       = "recovery_claim"
	CmdRecoveryVoucher     = "recovery_voucher"
	CmdRecoveryProof       = "recovery_proof"
	CmdRecoveryVerifyProof = "recovery_verify_proof"
	CmdShutdown            = "shutdown"
)

// Event types
const (
	EvtReady           = "ready"
	EvtIdentityReady    = "identity_ready"
	EvtContactAdded     = "contact_added"
	EvtContactRemoved   = "contact_removed"
	EvtCardReceived     = "card_received"
	EvtStreamStarted    = "stream_started"
	EvtStreamStopped    = "stream_stopped"
	EvtSyncAttempted    = "sync_attempted"
	EvtError            = "error"
	EvtResponse         = "response"
)

// Command represents an incoming command from stdin
type Command struct {
	Type   string          `json:"type"` // Always "cmd"
	Cmd    string          `json:"cmd"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Event represents an outgoing event to stdout
type Event struct {
	Type string `json:"type"` // Always "evt"
	Evt  string `json:"evt"`
	ID   string `json:"id,omitempty"` // Correlation ID for responses
	Data any    `json:"data"`
}

// Daemon owns one local Identity and drives its Card, Sync, and Broker
// Stream for as long as the process runs.
type Daemon struct {
	mu sync.Mutex

	store    *store.Store
	self     *identity.Identity
	own      *card.Card
	cards    *card.Engine
	sEngine  *syncengine.Engine
	brokerC  *broker.Client
	relayURL string

	contacts map[syncengine.ContactID]*contactEntry

	streamCancel context.CancelFunc

	output   *json.Encoder
	outputMu sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
}

// contactEntry is the in-memory side of a persisted contactRecord: enough
// to re-derive sync.Contact and persist the Ratchet state after every use.
type contactEntry struct {
	record  contactRecord
	ratchet *ratchet.Ratchet
}

func NewDaemon() *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		contacts: make(map[syncengine.ContactID]*contactEntry),
		output:   json.NewEncoder(os.Stdout),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (d *Daemon) emit(evt string, correlationID string, data any) {
	d.outputMu.Lock()
	defer d.outputMu.Unlock()
	if err := d.output.Encode(Event{Type: "evt", Evt: evt, ID: correlationID, Data: data}); err != nil {
		slog.Error("failed to emit event", slog.Any("error", err))
	}
}

func (d *Daemon) emitError(correlationID string, err error) {
	d.emit(EvtError, correlationID, map[string]string{"error": err.Error(), "code": vaerrors.Classify(err).Code.String()})
}

// Run starts the daemon's main loop.
func (d *Daemon) Run() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case <-sigCh:
			slog.Info("received shutdown signal")
			d.Shutdown()
		case <-d.ctx.Done():
		}
	}()

	d.emit(EvtReady, "", map[string]string{"pid": fmt.Sprintf("%d", os.Getpid())})

	scanner := bufio.NewScanner(os.Stdin)
	const maxScanTokenSize = 4 * 1024 * 1024
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	for scanner.Scan() {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		var cmd Command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			d.emitError("", fmt.Errorf("invalid JSON: %w", err))
			continue
		}
		if cmd.Type != "cmd" {
			d.emitError(cmd.ID, fmt.Errorf("unknown message type: %s", cmd.Type))
			continue
		}
		d.handleCommand(cmd)
	}

	if err := scanner.Err(); err != nil {
		slog.Error("stdin scanner error", slog.Any("error", err))
	}
}

func (d *Daemon) handleCommand(cmd Command) {
	switch cmd.Cmd {
	case CmdCreateIdentity:
		d.handleCreateIdentity(cmd)
	case CmdOpen:
		d.handleOpen(cmd)
	case CmdGetBundle:
		d.handleGetBundle(cmd)
	case CmdSetDisplayName:
		d.handleSetDisplayName(cmd)
	case CmdSetField:
		d.handleSetField(cmd)
	case CmdDeleteField:
		d.handleDeleteField(cmd)
	case CmdSetVisibility:
		d.handleSetVisibility(cmd)
	case CmdListContacts:
		d.handleListContacts(cmd)
	case CmdGetPeerCard:
		d.handleGetPeerCard(cmd)
	case CmdAddContactInitiator:
		d.handleAddContactInitiator(cmd)
	case CmdAddContactResponder:
		d.handleAddContactResponder(cmd)
	case CmdRemoveContact:
		d.handleRemoveContact(cmd)
	case CmdSyncOnce:
		d.handleSyncOnce(cmd)
	case CmdStartStream:
		d.handleStartStream(cmd)
	case CmdStopStream:
		d.handleStopStream(cmd)
	case CmdRecoveryClaim:
		d.handleRecoveryClaim(cmd)
	case CmdRecoveryVoucher:
		d.handleRecoveryVoucher(cmd)
	case CmdRecoveryProof:
		d.handleRecoveryProof(cmd)
	case CmdRecoveryVerifyProof:
		d.handleRecoveryVerifyProof(cmd)
	case CmdShutdown:
		d.Shutdown()
	default:
		d.emitError(cmd.ID, fmt.Errorf("unknown command: %s", cmd.Cmd))
	}
}

func (d *Daemon) Shutdown() {
	d.mu.Lock()
	if d.streamCancel != nil {
		d.streamCancel()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	d.mu.Unlock()

	d.emit(EvtResponse, "", map[string]string{"status": "shutdown"})
	d.cancel()
	os.Exit(0)
}

func main() {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))

	daemon := NewDaemon()
	daemon.Run()
}
