// Package session discovers pending agent session requests and drives the
// approve/deny decision: fresh approval data, the 89-byte challenge, a
// passkey assertion over its SHA-256 hash, and the create-session call.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/getodyssey/odyssey-companion-go/internal/authn"
	"github.com/getodyssey/odyssey-companion-go/internal/gate"
	"github.com/getodyssey/odyssey-companion-go/internal/remote"
	"github.com/getodyssey/odyssey-companion-go/internal/storage"
	"github.com/getodyssey/odyssey-companion-go/pkg/challenge"
	"github.com/getodyssey/odyssey-companion-go/pkg/codec"
	"github.com/getodyssey/odyssey-companion-go/pkg/flowerr"
	"github.com/getodyssey/odyssey-companion-go/signal"
)

// Signals emitted by the watcher.
const (
	SignalSessionRequest = "companion.session-request"
	SignalSessionResult  = "companion.session-result"
)

const defaultDiscoveryInterval = 3 * time.Second

// ResultEvent is the payload of SignalSessionResult.
type ResultEvent struct {
	RequestID   string `json:"requestId"`
	Status      string `json:"status"` // approved | denied
	TxSignature string `json:"txSignature,omitempty"`
}

// Watcher polls for pending sessions while the owning surface is focused
// and no approval modal is open, surfaces the first request found, and
// carries the user's decision back to the backend. Additional requests
// queue behind the modal gate and surface on later polls.
type Watcher struct {
	client        *remote.Client
	store         *storage.Store
	authenticator authn.Authenticator
	modal         *gate.Gate
	logger        *zap.Logger
	interval      time.Duration

	focused atomic.Bool
	polling atomic.Bool

	mu      sync.Mutex
	current *remote.PendingSession
	cancel  context.CancelFunc
}

type Option func(*Watcher)

func WithDiscoveryInterval(interval time.Duration) Option {
	return func(w *Watcher) {
		w.interval = interval
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

func NewWatcher(client *remote.Client, store *storage.Store, authenticator authn.Authenticator, modal *gate.Gate, opts ...Option) *Watcher {
	w := &Watcher{
		client:        client,
		store:         store,
		authenticator: authenticator,
		modal:         modal,
		logger:        zap.L().Named("session"),
		interval:      defaultDiscoveryInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetFocused gates discovery on whether the owning surface is visible.
func (w *Watcher) SetFocused(focused bool) {
	w.focused.Store(focused)
}

// Start begins the discovery loop. Stop cancels it.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return errors.New("session watcher already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.loop(ctx)
	return nil
}

// Stop halts discovery. In-flight responses arriving afterwards are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

func (w *Watcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.discover(ctx)
		}
	}
}

func (w *Watcher) discover(ctx context.Context) {
	if !w.focused.Load() || w.modal.Held() {
		return
	}
	// Suppress overlapping polls while a previous one is in flight.
	if !w.polling.CompareAndSwap(false, true) {
		return
	}
	defer w.polling.Store(false)

	wallet, err := w.store.LinkedWallet()
	if err != nil || wallet == nil {
		return
	}

	pending, err := w.client.PendingSessions(ctx, wallet.Pubkey)
	if err != nil {
		w.logger.Debug("pending sessions poll failed", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	if !w.modal.TryAcquire() {
		return
	}

	w.mu.Lock()
	w.current = &pending[0]
	w.mu.Unlock()

	w.logger.Info("session request surfaced",
		zap.String("requestId", pending[0].RequestID),
		zap.String("agent", pending[0].AgentName))
	signal.Send(SignalSessionRequest, pending[0])
}

// Approve authorizes the surfaced request. Approval data is fetched fresh
// on every attempt — slots advance, so a challenge is never reused. On
// failure the modal stays open for retry; on success the request leaves
// the pending set and the gate is released.
func (w *Watcher) Approve(ctx context.Context, requestID string) (*remote.CreateSessionResult, error) {
	current := w.currentRequest(requestID)
	if current == nil {
		return nil, errors.New("no surfaced session request with this id")
	}

	data, err := w.client.SessionApprovalData(ctx, requestID)
	if err != nil {
		return nil, err
	}

	buf, err := challenge.Build(challenge.Params{
		SessionPubkey: data.SessionPubkey,
		ExpiresAtSlot: data.ExpiresAtSlot,
		Mint:          data.Mint,
		MaxAmount:     data.MaxAmount,
		CurrentSlot:   data.CurrentSlot,
	})
	if err != nil {
		return nil, err
	}

	digest := challenge.Hash(buf)

	credentialID := data.CredentialID
	if credentialID == "" {
		if record, err := w.store.Credential(); err == nil && record != nil {
			credentialID = record.CredentialID
		}
	}

	assertion, err := w.authenticator.Get(ctx, &authn.GetRequest{
		RPID:         data.RPID,
		Challenge:    digest[:],
		CredentialID: credentialID,
	})
	if err != nil {
		return nil, flowerr.Wrap(flowerr.CategoryPasskeyFailed, err, "passkey assertion failed")
	}

	result, err := w.client.CreateSession(ctx, remote.CreateSessionParams{
		RequestID:         requestID,
		WalletPubkey:      data.WalletPubkey,
		SessionPubkey:     data.SessionPubkey,
		ExpiresAtSlot:     data.ExpiresAtSlot,
		Limits:            current.Limits,
		Signature:         codec.EncodeBase64(assertion.Signature),
		AuthenticatorData: codec.EncodeBase64(assertion.AuthenticatorData),
		ClientDataJSON:    codec.EncodeBase64(assertion.ClientDataJSON),
	})
	if err != nil {
		return nil, err
	}

	w.resolve(requestID)
	signal.Send(SignalSessionResult, ResultEvent{
		RequestID:   requestID,
		Status:      "approved",
		TxSignature: result.TxSignature,
	})
	return result, nil
}

// Deny rejects the surfaced request. Denial is best-effort from this side:
// the request leaves the local pending set even if the remote call fails,
// because the authoritative state lives server-side.
func (w *Watcher) Deny(ctx context.Context, requestID string) error {
	if w.currentRequest(requestID) == nil {
		return errors.New("no surfaced session request with this id")
	}

	if err := w.client.DenySession(ctx, requestID); err != nil {
		w.logger.Warn("session deny failed", zap.String("requestId", requestID), zap.Error(err))
	}

	w.resolve(requestID)
	signal.Send(SignalSessionResult, ResultEvent{RequestID: requestID, Status: "denied"})
	return nil
}

// currentRequest returns a copy of the surfaced request, so callers never
// touch the guarded struct outside the lock.
func (w *Watcher) currentRequest(requestID string) *remote.PendingSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil || w.current.RequestID != requestID {
		return nil
	}
	current := *w.current
	return &current
}

// resolve clears the surfaced request. The gate is released only when the
// ID actually matched; an unknown ID must not free the modal out from
// under an unresolved request.
func (w *Watcher) resolve(requestID string) {
	w.mu.Lock()
	matched := w.current != nil && w.current.RequestID == requestID
	if matched {
		w.current = nil
	}
	w.mu.Unlock()

	if matched {
		w.modal.Release()
	}
}
