package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func unpairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpair <agent-id>",
		Short: "Revoke an agent's pairing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.UnpairAgent(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := store.RemovePairedAgent(args[0]); err != nil {
				return err
			}
			fmt.Printf("Unpaired %s\n", args[0])
			return nil
		},
	}
}
