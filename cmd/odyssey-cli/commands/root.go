// Package commands is the headless companion CLI. It drives the same
// flow packages as the server, useful for development and scripted
// testing against a backend.
package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/getodyssey/odyssey-companion-go/internal/authn"
	"github.com/getodyssey/odyssey-companion-go/internal/logging"
	"github.com/getodyssey/odyssey-companion-go/internal/remote"
	"github.com/getodyssey/odyssey-companion-go/internal/storage"
)

var (
	home        string
	secret      string
	baseURL     string
	verbose     bool
	softPasskey bool

	store         *storage.Store
	client        *remote.Client
	authenticator authn.Authenticator
)

func Execute() error {
	root := &cobra.Command{
		Use:   "odyssey-cli",
		Short: "Headless Odyssey wallet companion",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.BuildConsoleLogger(verbose)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".odyssey-companion")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			store, err = storage.Open(filepath.Join(home, "companion.db"), []byte(secret))
			if err != nil {
				return err
			}

			clientOpts := []remote.Option{}
			if baseURL != "" {
				clientOpts = append(clientOpts, remote.WithBaseURL(baseURL))
			}
			client = remote.NewClient(clientOpts...)

			// No platform passkeys on a headless box. The software
			// authenticator only works against dev backends that skip
			// attestation checks.
			if softPasskey {
				authenticator = authn.NewSoftAuthenticator()
			} else {
				authenticator = authn.Unavailable{}
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if store != nil {
				return store.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.odyssey-companion)")
	root.PersistentFlags().StringVarP(&secret, "secret", "s", "", "secret protecting the local store")
	root.PersistentFlags().StringVar(&baseURL, "base-url", "", "backend base URL (default "+remote.DefaultBaseURL+")")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&softPasskey, "soft-passkey", false, "use the software authenticator (dev backends only)")

	root.AddCommand(linkCmd(), statusCmd(), agentsCmd(), pairCmd(), sessionsCmd(), unpairCmd(), unlinkCmd(), balanceCmd())
	return root.Execute()
}
