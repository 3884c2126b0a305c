// Package agentpairing runs the code-based flow that authorizes a new
// agent: mint a short-lived pairing code, poll it until an agent claims
// it, verify the agent's Ed25519 identity proof, then carry the user's
// approve/deny decision back with a passkey assertion.
package agentpairing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/getodyssey/odyssey-companion-go/internal/authn"
	"github.com/getodyssey/odyssey-companion-go/internal/gate"
	"github.com/getodyssey/odyssey-companion-go/internal/remote"
	"github.com/getodyssey/odyssey-companion-go/internal/storage"
	"github.com/getodyssey/odyssey-companion-go/pkg/codec"
	"github.com/getodyssey/odyssey-companion-go/pkg/flowerr"
	"github.com/getodyssey/odyssey-companion-go/pkg/identity"
	"github.com/getodyssey/odyssey-companion-go/signal"
)

// Signals emitted while the flow runs.
const (
	SignalPairingCode    = "companion.agent-pairing-code"
	SignalPairingRequest = "companion.agent-pairing-request"
	SignalPairingResult  = "companion.agent-pairing-result"
)

const defaultPollInterval = 2 * time.Second

// CodeEvent is the payload of SignalPairingCode.
type CodeEvent struct {
	Code      string `json:"code"`
	ExpiresAt string `json:"expiresAt"`
}

// RequestEvent is the payload of SignalPairingRequest: an agent has
// claimed the displayed code and awaits the user's decision.
type RequestEvent struct {
	RequestID string `json:"requestId"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Verified  bool   `json:"verified"` // identity proof present and valid
}

// ResultEvent is the payload of SignalPairingResult.
type ResultEvent struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"` // approved | denied
	AgentID   string `json:"agentId,omitempty"`
	AgentName string `json:"agentName,omitempty"`
}

// Flow drives one pairing-code lifecycle. The flow keeps regenerating
// codes as they expire until stopped, so the displayed code is always
// claimable.
type Flow struct {
	client        *remote.Client
	store         *storage.Store
	authenticator authn.Authenticator
	modal         *gate.Gate
	logger        *zap.Logger

	interval         time.Duration
	requireSignature bool

	mu      sync.Mutex
	code    string
	pending *remote.CodeStatus
	cancel  context.CancelFunc
}

type Option func(*Flow)

func WithPollInterval(interval time.Duration) Option {
	return func(f *Flow) {
		f.interval = interval
	}
}

// WithRequireAgentSignature rejects claims that carry no identity proof.
// Off by default: older agents never signed, and the backend still admits
// them.
func WithRequireAgentSignature(require bool) Option {
	return func(f *Flow) {
		f.requireSignature = require
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}

func NewFlow(client *remote.Client, store *storage.Store, authenticator authn.Authenticator, modal *gate.Gate, opts ...Option) *Flow {
	f := &Flow{
		client:        client,
		store:         store,
		authenticator: authenticator,
		modal:         modal,
		logger:        zap.L().Named("agentpairing"),
		interval:      defaultPollInterval,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start mints the first code and begins polling it. The code reaches the
// UI through SignalPairingCode.
func (f *Flow) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return errors.New("agent pairing already running")
	}

	wallet, err := f.store.LinkedWallet()
	if err != nil {
		return err
	}
	if wallet == nil {
		return errors.New("no linked wallet")
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.run(ctx, wallet)
	return nil
}

// Stop halts polling and discards the displayed code. A held modal gate is
// released so session discovery can resume.
func (f *Flow) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel == nil {
		return
	}
	f.cancel()
	f.cancel = nil
	f.code = ""
	if f.pending != nil {
		f.pending = nil
		f.modal.Release()
	}
}

func (f *Flow) run(ctx context.Context, wallet *storage.LinkedWallet) {
	if err := f.regenerate(ctx, wallet); err != nil {
		f.logger.Warn("failed to generate pairing code", zap.Error(err))
		return
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll(ctx, wallet)
		}
	}
}

func (f *Flow) regenerate(ctx context.Context, wallet *storage.LinkedWallet) error {
	code, err := f.client.GeneratePairingCode(ctx, wallet.Pubkey, wallet.TelegramID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.code = code.Code
	f.mu.Unlock()

	f.logger.Info("pairing code generated", zap.String("code", code.Code))
	signal.Send(SignalPairingCode, CodeEvent{Code: code.Code, ExpiresAt: code.ExpiresAt})
	return nil
}

func (f *Flow) poll(ctx context.Context, wallet *storage.LinkedWallet) {
	f.mu.Lock()
	code := f.code
	waiting := f.pending != nil
	f.mu.Unlock()

	// While a claim is on screen the code is consumed; nothing to poll.
	if code == "" || waiting {
		return
	}

	status, err := f.client.CodeStatus(ctx, code)
	if err != nil {
		if flowerr.Classify(err) == flowerr.CategoryTokenExpired {
			if err := f.regenerate(ctx, wallet); err != nil {
				f.logger.Warn("failed to regenerate pairing code", zap.Error(err))
			}
			return
		}
		f.logger.Debug("code status poll failed", zap.Error(err))
		return
	}

	switch status.Status {
	case "expired":
		if err := f.regenerate(ctx, wallet); err != nil {
			f.logger.Warn("failed to regenerate pairing code", zap.Error(err))
		}
	case "pending_approval":
		f.surface(code, status)
	}
}

// surface validates an agent's claim and raises the approval modal. A
// claim with a bad signature is discarded silently: the code stays live
// and an attacker learns nothing about why the claim vanished.
func (f *Flow) surface(code string, status *remote.CodeStatus) {
	verified := false
	if status.Signature != "" {
		message := identity.AgentPairingMessage(code, status.AgentID, status.Timestamp)
		if !identity.VerifyAgentSignature(message, status.Signature, status.AgentID) {
			f.logger.Warn("discarding agent claim with invalid signature",
				zap.String("agentId", status.AgentID))
			return
		}
		verified = true
	} else {
		if f.requireSignature {
			f.logger.Warn("discarding unsigned agent claim",
				zap.String("agentId", status.AgentID))
			return
		}
		f.logger.Warn("agent claim carries no identity proof",
			zap.String("agentId", status.AgentID))
	}

	if !f.modal.TryAcquire() {
		return
	}

	f.mu.Lock()
	f.pending = status
	f.mu.Unlock()

	f.logger.Info("agent pairing request surfaced",
		zap.String("requestId", status.RequestID),
		zap.String("agent", status.AgentName),
		zap.Bool("verified", verified))
	signal.Send(SignalPairingRequest, RequestEvent{
		RequestID: status.RequestID,
		AgentID:   status.AgentID,
		AgentName: status.AgentName,
		Verified:  verified,
	})
}

// Approve authorizes the surfaced claim with a passkey assertion and
// persists the agent locally. On failure the modal stays open for retry.
func (f *Flow) Approve(ctx context.Context, requestID string) error {
	pending := f.pendingRequest(requestID)
	if pending == nil {
		return errors.New("no surfaced agent pairing request with this id")
	}

	// Freshness-bound challenge; raw bytes, not pre-hashed, because the
	// backend rebuilds the exact string to verify the assertion.
	challenge := []byte(fmt.Sprintf("approve-agent:%s:%d", requestID, time.Now().UnixMilli()))

	credentialID := ""
	if record, err := f.store.Credential(); err == nil && record != nil {
		credentialID = record.CredentialID
	}

	assertion, err := f.authenticator.Get(ctx, &authn.GetRequest{
		RPID:         "app.getodyssey.xyz",
		Challenge:    challenge,
		CredentialID: credentialID,
	})
	if err != nil {
		return flowerr.Wrap(flowerr.CategoryPasskeyFailed, err, "passkey assertion failed")
	}

	approval, err := f.client.ApproveAgentPairing(ctx, remote.ApproveAgentParams{
		RequestID:         requestID,
		Signature:         codec.EncodeBase64(assertion.Signature),
		AuthenticatorData: codec.EncodeBase64(assertion.AuthenticatorData),
		ClientDataJSON:    codec.EncodeBase64(assertion.ClientDataJSON),
	})
	if err != nil {
		return err
	}

	agentName := approval.AgentName
	if agentName == "" {
		agentName = pending.AgentName
	}
	if err := f.store.SavePairedAgent(&storage.PairedAgent{
		AgentID:   approval.AgentID,
		AgentName: norm.NFKC.String(agentName),
		PairedAt:  time.Now().UTC(),
	}); err != nil {
		f.logger.Warn("failed to persist paired agent", zap.Error(err))
	}

	f.resolve(requestID)
	signal.Send(SignalPairingResult, ResultEvent{
		RequestID: requestID,
		Status:    "approved",
		AgentID:   approval.AgentID,
		AgentName: agentName,
	})
	return nil
}

// Deny rejects the surfaced claim and mints a fresh code, since the
// denied agent has seen the old one.
func (f *Flow) Deny(ctx context.Context, requestID string) error {
	pending := f.pendingRequest(requestID)
	if pending == nil {
		return errors.New("no surfaced agent pairing request with this id")
	}

	if err := f.client.DenyAgentPairing(ctx, requestID); err != nil {
		f.logger.Warn("agent pairing deny failed", zap.Error(err))
	}

	f.resolve(requestID)
	signal.Send(SignalPairingResult, ResultEvent{RequestID: requestID, Status: "denied"})

	if wallet, err := f.store.LinkedWallet(); err == nil && wallet != nil {
		if err := f.regenerate(ctx, wallet); err != nil {
			f.logger.Warn("failed to regenerate pairing code", zap.Error(err))
		}
	}
	return nil
}

// pendingRequest returns a copy of the surfaced claim, so callers never
// touch the guarded struct outside the lock.
func (f *Flow) pendingRequest(requestID string) *remote.CodeStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil || f.pending.RequestID != requestID {
		return nil
	}
	pending := *f.pending
	return &pending
}

// resolve clears the surfaced claim. The gate is released only when the ID
// matched, so a stray ID cannot free the modal under an unresolved claim.
func (f *Flow) resolve(requestID string) {
	f.mu.Lock()
	matched := f.pending != nil && f.pending.RequestID == requestID
	if matched {
		f.pending = nil
	}
	f.mu.Unlock()

	if matched {
		f.modal.Release()
	}
}
