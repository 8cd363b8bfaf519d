package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vauchi-app/core/cmd/vauchictl/internal/app"
	"github.com/vauchi-app/core/pkg/fingerprint"
)

var displayName string

// initCmd bootstraps a brand-new local identity and card at --storage.
func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new local identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := resolvePassphrase()
			if err != nil {
				return err
			}
			algo, err := parseAlgorithm()
			if err != nil {
				return err
			}
			w, err := app.Bootstrap(storagePath, pass, displayName, algo, nil)
			if err != nil {
				return fmt.Errorf("bootstrap identity: %w", err)
			}
			defer w.Close()

			fmt.Printf("Identity created: %s\n", w.Self.DisplayName())
			fmt.Printf("Fingerprint: %s\n", fingerprintEmoji(w))
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "name", "", "display name for the new identity")
	return cmd
}

func fingerprintEmoji(w *app.Wire) string {
	emojis := fingerprint.Emoji(w.Self.PublicID().Marshal())
	out := ""
	for i, e := range emojis {
		if i > 0 {
			out += " "
		}
		out += e
	}
	return out
}

// fingerprintCmd prints both the emoji and hex fingerprint of the stored
// identity's signing public key, for out-of-band verification.
func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print this identity's fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWire()
			if err != nil {
				return err
			}
			defer w.Close()

			pub := w.Self.PublicID().Marshal()
			fmt.Printf("Emoji: %s\n", fingerprintEmoji(w))
			fmt.Printf("Hex:   %s\n", fingerprint.Hex(pub))
			return nil
		},
	}
}

var (
	bundleIncludeOneTime bool
	bundleShowQR         bool
)

// bundleCmd prints this identity's X3DH prekey bundle, optionally as a
// scannable terminal QR code for a contact-pairing handoff.
func bundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Print this identity's prekey bundle for contact pairing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWire()
			if err != nil {
				return err
			}
			defer w.Close()

			bundle, err := w.Self.Bundle(bundleIncludeOneTime)
			if err != nil {
				return fmt.Errorf("build bundle: %w", err)
			}

			if bundleShowQR {
				accepted := w.Self.AcceptedSignedPrekeys()
				if len(accepted) == 0 {
					return fmt.Errorf("no signed prekey available")
				}
				payload, err := fingerprint.EncodeExchange(bundle, accepted[0].ExpiresAt, time.Now())
				if err != nil {
					return fmt.Errorf("encode QR payload: %w", err)
				}
				qr, err := fingerprint.QrCode([]byte(payload))
				if err != nil {
					return fmt.Errorf("render QR code: %w", err)
				}
				fmt.Println(string(qr))
				return nil
			}

			data, err := json.MarshalIndent(bundle, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal bundle: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&bundleIncludeOneTime, "one-time", false, "attach a fresh one-time prekey")
	cmd.Flags().BoolVar(&bundleShowQR, "qr", false, "render as a terminal QR code instead of JSON")
	return cmd
}
