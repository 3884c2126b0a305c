package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func agentsCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List paired agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if refresh {
				wallet, err := store.LinkedWallet()
				if err != nil {
					return err
				}
				if wallet == nil {
					return fmt.Errorf("not linked")
				}
				remoteAgents, err := client.PairedAgents(cmd.Context(), wallet.Pubkey)
				if err != nil {
					return err
				}
				fmt.Printf("%d agent(s) paired:\n", len(remoteAgents))
				for _, agent := range remoteAgents {
					fmt.Printf("  %s  %s\n", agent.AgentID, agent.AgentName)
				}
				return nil
			}

			agents, err := store.PairedAgents()
			if err != nil {
				return err
			}
			fmt.Printf("%d agent(s) paired:\n", len(agents))
			for _, agent := range agents {
				fmt.Printf("  %s  %s\n", agent.AgentID, agent.AgentName)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch the list from the backend instead of local storage")
	return cmd
}
