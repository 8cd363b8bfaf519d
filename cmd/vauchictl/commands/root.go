package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vauchi-app/core/cmd/vauchictl/internal/app"
	"github.com/vauchi-app/core/pkg/attest"
)

var (
	// Global flags shared by every sub-command.
	storagePath string
	passphrase  string
	algorithm   string
	relayURL    string
)

// Execute builds and runs the vauchictl command tree.
func Execute() error {
	root := &cobra.Command{
		Use:   "vauchictl",
		Short: "Operator CLI for a local WebBook/Vauchi identity",
	}

	root.PersistentFlags().StringVar(&storagePath, "storage", "vauchi.db", "path to the encrypted storage file")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "storage passphrase (prompted if omitted)")
	root.PersistentFlags().StringVar(&algorithm, "algorithm", "ed25519", "signature algorithm: ed25519 or mldsa")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL, e.g. https://relay.example.com")

	root.AddCommand(
		initCmd(),
		bundleCmd(),
		fingerprintCmd(),
		cardCmd(),
		recoveryCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	root.SetContext(ctx)

	return root.Execute()
}

// resolvePassphrase returns the --passphrase flag value, or prompts for one
// with echo disabled — the same term.ReadPassword fallback the teacher's
// own storage layer uses when no out-of-band secret is available.
func resolvePassphrase() ([]byte, error) {
	if passphrase != "" {
		return []byte(passphrase), nil
	}
	fmt.Fprint(os.Stderr, "Enter passphrase: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return bytes.TrimSpace(pass), nil
}

func parseAlgorithm() (attest.Algorithm, error) {
	return attest.ParseAlgorithm(algorithm)
}

// openWire loads an existing identity+card from --storage for commands that
// operate on an already-initialized installation.
func openWire() (*app.Wire, error) {
	pass, err := resolvePassphrase()
	if err != nil {
		return nil, err
	}
	return app.Open(storagePath, pass)
}
