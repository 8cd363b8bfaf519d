package commands

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vauchi-app/core/pkg/card"
)

func cardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Inspect and edit this identity's own card",
	}
	cmd.AddCommand(cardShowCmd(), cardSetNameCmd(), cardSetFieldCmd(), cardDeleteFieldCmd())
	return cmd
}

func cardShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the card's fields as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWire()
			if err != nil {
				return err
			}
			defer w.Close()

			data, err := json.MarshalIndent(w.Own.Export(), "", "  ")
			if err != nil {
				return fmt.Errorf("marshal card: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func cardSetNameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-name <name>",
		Short: "Set the card's display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWire()
			if err != nil {
				return err
			}
			defer w.Close()

			rev := w.Own.SetDisplayName(args[0])
			if err := w.SaveCard(); err != nil {
				return fmt.Errorf("save card: %w", err)
			}
			fmt.Printf("Display name set (revision %d).\n", rev)
			fmt.Println("Run sync (from the daemon) to push this change to contacts.")
			return nil
		},
	}
}

var (
	fieldID        string
	fieldKind      string
	fieldNetworkID string
	fieldLabel     string
)

func cardSetFieldCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-field <value>",
		Short: "Add or update a card field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWire()
			if err != nil {
				return err
			}
			defer w.Close()

			var id card.FieldID
			if fieldID != "" {
				parsed, err := uuid.Parse(fieldID)
				if err != nil {
					return fmt.Errorf("invalid --id: %w", err)
				}
				id = parsed
			}

			f := w.Own.SetField(id, card.ParseFieldKind(fieldKind), fieldNetworkID, fieldLabel, args[0])
			if err := w.SaveCard(); err != nil {
				return fmt.Errorf("save card: %w", err)
			}
			fmt.Printf("Field %s set (version %d).\n", f.ID, f.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&fieldID, "id", "", "existing field id to update (new field if omitted)")
	cmd.Flags().StringVar(&fieldKind, "kind", "custom", "field kind: phone, email, website, address, social, custom")
	cmd.Flags().StringVar(&fieldNetworkID, "network", "", "network id, only meaningful for kind=social")
	cmd.Flags().StringVar(&fieldLabel, "label", "", "human-readable label")
	return cmd
}

func cardDeleteFieldCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-field <id>",
		Short: "Tombstone a card field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid field id: %w", err)
			}
			w, err := openWire()
			if err != nil {
				return err
			}
			defer w.Close()

			if _, err := w.Own.DeleteField(id); err != nil {
				return fmt.Errorf("delete field: %w", err)
			}
			if err := w.SaveCard(); err != nil {
				return fmt.Errorf("save card: %w", err)
			}
			fmt.Println("Field deleted.")
			return nil
		},
	}
}
