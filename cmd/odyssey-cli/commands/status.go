package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the linked wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := store.LinkedWallet()
			if err != nil {
				return err
			}
			if wallet == nil {
				fmt.Println("Not linked.")
				return nil
			}
			fmt.Printf("Wallet:    %s\n", wallet.Pubkey)
			fmt.Printf("Linked at: %s\n", wallet.LinkedAt.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
}
