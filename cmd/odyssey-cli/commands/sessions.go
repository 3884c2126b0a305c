package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <agent-id> [session-id]",
		Short: "List an agent's sessions, or show one session with its transactions",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				sessions, err := client.AgentSessions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%d session(s):\n", len(sessions))
				for _, session := range sessions {
					fmt.Printf("  %s  %-8s  expires at slot %d  (%s)\n",
						session.ID, session.Status, session.ExpiresAtSlot, session.CreatedAt)
				}
				return nil
			}

			session, err := client.SessionDetail(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Session %s\n", session.ID)
			fmt.Printf("  Agent:   %s\n", session.AgentID)
			fmt.Printf("  Status:  %s\n", session.Status)
			fmt.Printf("  Expires: slot %d\n", session.ExpiresAtSlot)

			transactions, err := client.SessionTransactions(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%d transaction(s):\n", len(transactions))
			for _, tx := range transactions {
				fmt.Printf("  %s  %.6f SOL -> %s  [%s]\n",
					tx.Signature, tx.AmountSol, tx.Destination, tx.Status)
			}
			return nil
		},
	}
}
