package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/getodyssey/odyssey-companion-go/internal/gate"
	"github.com/getodyssey/odyssey-companion-go/pkg/agentpairing"
	"github.com/getodyssey/odyssey-companion-go/signal"
)

func pairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Display a pairing code and approve or deny the agent that claims it",
		RunE: func(cmd *cobra.Command, args []string) error {
			requests := make(chan agentpairing.RequestEvent, 1)
			results := make(chan agentpairing.ResultEvent, 1)

			signal.SetCompanionSignalHandler(func(data []byte) {
				var envelope struct {
					Type  string          `json:"type"`
					Event json.RawMessage `json:"event"`
				}
				if err := json.Unmarshal(data, &envelope); err != nil {
					return
				}

				switch envelope.Type {
				case agentpairing.SignalPairingCode:
					var event agentpairing.CodeEvent
					if err := json.Unmarshal(envelope.Event, &event); err == nil {
						fmt.Printf("Pairing code: %s (expires %s)\n", event.Code, event.ExpiresAt)
					}
				case agentpairing.SignalPairingRequest:
					var event agentpairing.RequestEvent
					if err := json.Unmarshal(envelope.Event, &event); err == nil {
						requests <- event
					}
				case agentpairing.SignalPairingResult:
					var event agentpairing.ResultEvent
					if err := json.Unmarshal(envelope.Event, &event); err == nil {
						results <- event
					}
				}
			})
			defer signal.ResetCompanionSignalHandler()

			flow := agentpairing.NewFlow(client, store, authenticator, &gate.Gate{})
			if err := flow.Start(); err != nil {
				return err
			}
			defer flow.Stop()

			request := <-requests
			fmt.Printf("Agent %q (%s) wants to pair", request.AgentName, request.AgentID)
			if !request.Verified {
				fmt.Print(" [identity NOT verified]")
			}
			fmt.Println()

			fmt.Print("Approve? [y/N]: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return err
			}

			if strings.EqualFold(strings.TrimSpace(line), "y") {
				if err := flow.Approve(cmd.Context(), request.RequestID); err != nil {
					return err
				}
			} else {
				if err := flow.Deny(cmd.Context(), request.RequestID); err != nil {
					return err
				}
			}

			result := <-results
			fmt.Printf("Pairing %s.\n", result.Status)
			return nil
		},
	}
}
