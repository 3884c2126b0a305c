package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func unlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink",
		Short: "Drop the linked wallet, its credential and all paired agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.ReplacePairedAgents(nil); err != nil {
				return err
			}
			if err := store.ClearLinkedWallet(); err != nil {
				return err
			}
			fmt.Println("Unlinked.")
			return nil
		},
	}
}
