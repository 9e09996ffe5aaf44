package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var contextCmd = &cobra.Command{
	Use:   "context <external-id>",
	Short: "Print a user's current context window as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		externalID, err := parseExternalID(args[0])
		if err != nil {
			return err
		}
		res, err := build(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer res.Cleanup()

		messages, err := res.Sessions.Context(cmd.Context(), externalID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(messages)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <external-id>",
	Short: "Delete every stored turn of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		externalID, err := parseExternalID(args[0])
		if err != nil {
			return err
		}
		res, err := build(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer res.Cleanup()

		deleted, err := res.Sessions.ClearContext(cmd.Context(), externalID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d turns for user %d\n", deleted, externalID)
		return nil
	},
}
