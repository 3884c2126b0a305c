package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the linked wallet's balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			balance, err := client.Balance(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", balance.Address)
			fmt.Printf("  %.6f SOL ($%.2f)\n", balance.BalanceSol, balance.BalanceUsd)
			return nil
		},
	}
}
