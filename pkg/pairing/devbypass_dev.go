//go:build dev

package pairing

import (
	"time"

	"github.com/getodyssey/odyssey-companion-go/internal/storage"
	"github.com/getodyssey/odyssey-companion-go/signal"
)

// Fixed identity used by dev builds to skip the linking flow entirely.
const (
	devWalletPubkey = "6Y7LNzkTAqvtySFMvqUEUFxrLLcN32KpFG9TZFEGLWvP"
	devTelegramID   = 190383402
	devCredentialID = "ZGV2LWJ5cGFzcy1jcmVkZW50aWFs"
)

// DevBypass loads the hardcoded device identity without talking to the
// backend. Compiled only under the dev tag; release builds reject it.
func (f *LinkFlow) DevBypass() error {
	wallet := &storage.LinkedWallet{
		Pubkey:       devWalletPubkey,
		TelegramID:   devTelegramID,
		CredentialID: devCredentialID,
		LinkedAt:     time.Now().UTC(),
	}
	if err := f.store.SaveLinkedWallet(wallet); err != nil {
		return err
	}

	f.mu.Lock()
	f.state = StateDone
	f.mu.Unlock()

	signal.Send(SignalLinkResult, ResultEvent{State: StateDone, WalletPubkey: wallet.Pubkey})
	return nil
}
