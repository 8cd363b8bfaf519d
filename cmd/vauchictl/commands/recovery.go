package commands

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vauchi-app/core/pkg/fingerprint"
	"github.com/vauchi-app/core/pkg/recovery"
)

func decodeB64(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

func recoveryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recovery",
		Short: "K-of-N social recovery (spec.md §4.7)",
	}
	cmd.AddCommand(
		recoveryClaimCmd(),
		recoveryVoucherCmd(),
		recoveryProofCmd(),
		recoveryVerifyCmd(),
	)
	return cmd
}

var claimOldPublicB64 string

// recoveryClaimCmd signs, with the identity already in --storage, a Claim
// binding it to the lost identity's public key, for display as a QR code
// contacts scan during in-person verification.
func recoveryClaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Produce a recovery claim for this identity, to show contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWire()
			if err != nil {
				return err
			}
			defer w.Close()

			oldPublic, err := decodeB64(claimOldPublicB64)
			if err != nil {
				return fmt.Errorf("invalid --old-public: %w", err)
			}
			claim, err := recovery.NewClaim(w.Self, oldPublic, time.Now())
			if err != nil {
				return fmt.Errorf("build claim: %w", err)
			}

			payload, err := fingerprint.EncodeRecoveryClaim(claim, time.Now())
			if err != nil {
				return fmt.Errorf("encode QR payload: %w", err)
			}
			qr, err := fingerprint.QrCode([]byte(payload))
			if err != nil {
				return fmt.Errorf("render QR code: %w", err)
			}
			fmt.Println(string(qr))
			return printJSON(claim)
		},
	}
	cmd.Flags().StringVar(&claimOldPublicB64, "old-public", "", "base64 signing public key of the identity being recovered")
	_ = cmd.MarkFlagRequired("old-public")
	return cmd
}

var claimFile string

// recoveryVoucherCmd lets an existing contact vouch for a Claim they just
// verified in person, signing with this installation's own identity.
func recoveryVoucherCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voucher",
		Short: "Vouch for a scanned recovery claim",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWire()
			if err != nil {
				return err
			}
			defer w.Close()

			var claim recovery.Claim
			if err := readJSONFile(claimFile, &claim); err != nil {
				return fmt.Errorf("reading claim: %w", err)
			}
			if err := recovery.VerifyClaim(claim); err != nil {
				return fmt.Errorf("claim failed self-verification: %w", err)
			}

			voucher, err := recovery.NewVoucher(w.Self, claim, time.Now())
			if err != nil {
				return fmt.Errorf("build voucher: %w", err)
			}
			return printJSON(voucher)
		},
	}
	cmd.Flags().StringVar(&claimFile, "claim", "", "path to a claim JSON file (from 'recovery claim')")
	_ = cmd.MarkFlagRequired("claim")
	return cmd
}

var (
	proofClaimFile    string
	proofVoucherFiles []string
	proofThreshold    int
)

// recoveryProofCmd aggregates gathered vouchers into a Proof the recovering
// user can publish to the Broker under hash(old_pk).
func recoveryProofCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof",
		Short: "Aggregate vouchers into a recovery proof",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var claim recovery.Claim
			if err := readJSONFile(proofClaimFile, &claim); err != nil {
				return fmt.Errorf("reading claim: %w", err)
			}
			vouchers := make([]recovery.Voucher, 0, len(proofVoucherFiles))
			for _, f := range proofVoucherFiles {
				var v recovery.Voucher
				if err := readJSONFile(f, &v); err != nil {
					return fmt.Errorf("reading voucher %s: %w", f, err)
				}
				vouchers = append(vouchers, v)
			}

			proof, err := recovery.BuildProof(claim, vouchers, proofThreshold, time.Now())
			if err != nil {
				return fmt.Errorf("build proof: %w", err)
			}
			return printJSON(proof)
		},
	}
	cmd.Flags().StringVar(&proofClaimFile, "claim", "", "path to the claim JSON file")
	cmd.Flags().StringSliceVar(&proofVoucherFiles, "voucher", nil, "path to a voucher JSON file (repeatable)")
	cmd.Flags().IntVar(&proofThreshold, "threshold", recovery.DefaultThreshold, "minimum distinct vouchers required")
	_ = cmd.MarkFlagRequired("claim")
	_ = cmd.MarkFlagRequired("voucher")
	return cmd
}

var (
	verifyProofFile      string
	verifyThreshold      int
	verifyMutualContacts []string
)

// recoveryVerifyCmd independently re-validates a Proof and scores its
// confidence against a caller-supplied mutual-contact set (base64 signing
// public keys) — the receiving side of spec.md §4.7's aggregation step.
func recoveryVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a recovery proof and score its confidence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var proof recovery.Proof
			if err := readJSONFile(verifyProofFile, &proof); err != nil {
				return fmt.Errorf("reading proof: %w", err)
			}

			mutual := make(map[string]struct{}, len(verifyMutualContacts))
			for _, b64 := range verifyMutualContacts {
				raw, err := decodeB64(b64)
				if err != nil {
					return fmt.Errorf("invalid --mutual value %q: %w", b64, err)
				}
				mutual[string(raw)] = struct{}{}
			}

			confidence, err := recovery.VerifyProof(proof, time.Now(), mutual, verifyThreshold)
			if err != nil {
				return fmt.Errorf("proof rejected: %w", err)
			}
			fmt.Printf("Proof accepted: confidence=%s\n", confidence)
			return nil
		},
	}
	cmd.Flags().StringVar(&verifyProofFile, "proof", "", "path to the proof JSON file")
	cmd.Flags().StringSliceVar(&verifyMutualContacts, "mutual", nil, "base64 signing public key of a mutual contact (repeatable)")
	cmd.Flags().IntVar(&verifyThreshold, "verification-threshold", recovery.DefaultVerificationThreshold, "mutual-contact count required for high confidence")
	_ = cmd.MarkFlagRequired("proof")
	return cmd
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
