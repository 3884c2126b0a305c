package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getodyssey/odyssey-companion-go/pkg/flowerr"
	"github.com/getodyssey/odyssey-companion-go/pkg/pairing"
	"github.com/getodyssey/odyssey-companion-go/signal"
)

func linkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <pairing-url>",
		Short: "Link this device to a wallet from a scanned pairing URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, ok := pairing.ParseTokenFromURL(args[0])
			if !ok {
				return fmt.Errorf("not a valid pairing URL")
			}

			done := make(chan error, 1)
			signal.SetCompanionSignalHandler(func(data []byte) {
				var envelope struct {
					Type  string          `json:"type"`
					Event json.RawMessage `json:"event"`
				}
				if err := json.Unmarshal(data, &envelope); err != nil {
					return
				}

				switch envelope.Type {
				case pairing.SignalLinkStatus:
					var event pairing.StatusEvent
					if err := json.Unmarshal(envelope.Event, &event); err == nil {
						fmt.Printf("... %s\n", event.State)
					}
				case pairing.SignalLinkResult:
					var event pairing.ResultEvent
					if err := json.Unmarshal(envelope.Event, &event); err != nil {
						done <- err
						return
					}
					if event.State == pairing.StateDone {
						fmt.Printf("Linked to wallet %s\n", event.WalletPubkey)
						done <- nil
					} else {
						done <- flowerr.New(event.Category, event.Error)
					}
				}
			})
			defer signal.ResetCompanionSignalHandler()

			flow := pairing.NewLinkFlow(client, store, authenticator)
			if err := flow.Start(token); err != nil {
				return err
			}
			return <-done
		},
	}
}
