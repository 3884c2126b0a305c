package pairing

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/getodyssey/odyssey-companion-go/internal/authn"
	"github.com/getodyssey/odyssey-companion-go/internal/remote"
	"github.com/getodyssey/odyssey-companion-go/internal/storage"
	"github.com/getodyssey/odyssey-companion-go/pkg/codec"
	"github.com/getodyssey/odyssey-companion-go/pkg/flowerr"
	"github.com/getodyssey/odyssey-companion-go/pkg/poller"
	"github.com/getodyssey/odyssey-companion-go/signal"
)

// State is the linking flow's observable position.
type State string

const (
	StateIdle            State = "idle"
	StateLinking         State = "linking"
	StateCreatingPasskey State = "creating_passkey"
	StateRegistering     State = "registering"
	StateWaitingApproval State = "waiting_approval"
	StateDone            State = "done"
	StateError           State = "error"
)

// Signals emitted while the flow runs.
const (
	SignalLinkStatus = "companion.link-status"
	SignalLinkResult = "companion.link-result"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 300 * time.Second
	defaultDeviceName   = "Odyssey Companion"
)

// StatusEvent is the payload of SignalLinkStatus.
type StatusEvent struct {
	State State `json:"state"`
}

// ResultEvent is the terminal payload of SignalLinkResult.
type ResultEvent struct {
	State        State            `json:"state"`
	Category     flowerr.Category `json:"category,omitempty"`
	Error        string           `json:"error,omitempty"`
	WalletPubkey string           `json:"walletPubkey,omitempty"`
}

// LinkFlow runs one token's linking attempt: fetch details, create a
// passkey credential bound to the wallet, register the device, then poll
// until the wallet owner approves or the deadline passes. Steps are
// strictly sequential; cancellation stops all timers and prevents any
// late-arriving response from mutating state.
type LinkFlow struct {
	client        *remote.Client
	store         *storage.Store
	authenticator authn.Authenticator
	logger        *zap.Logger

	deviceName   string
	pollInterval time.Duration
	pollTimeout  time.Duration

	mu      sync.Mutex
	state   State
	lastErr error
	cancel  context.CancelFunc
}

type Option func(*LinkFlow)

func WithDeviceName(name string) Option {
	return func(f *LinkFlow) {
		f.deviceName = name
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(f *LinkFlow) {
		f.pollInterval = interval
	}
}

func WithPollTimeout(timeout time.Duration) Option {
	return func(f *LinkFlow) {
		f.pollTimeout = timeout
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(f *LinkFlow) {
		f.logger = logger
	}
}

func NewLinkFlow(client *remote.Client, store *storage.Store, authenticator authn.Authenticator, opts ...Option) *LinkFlow {
	f := &LinkFlow{
		client:        client,
		store:         store,
		authenticator: authenticator,
		logger:        zap.L().Named("pairing"),
		deviceName:    defaultDeviceName,
		pollInterval:  defaultPollInterval,
		pollTimeout:   defaultPollTimeout,
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns the flow's current state.
func (f *LinkFlow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LastError returns the error that moved the flow to StateError.
func (f *LinkFlow) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Start consumes a pairing token and runs the flow in the background.
// Restarting from StateError clears the previous error; a flow already in
// flight cannot be started again.
func (f *LinkFlow) Start(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case StateIdle, StateDone, StateError:
	default:
		return errors.New("link flow already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.lastErr = nil
	f.state = StateLinking

	go f.run(ctx, token)
	return nil
}

// Cancel aborts the flow. No state mutation or signal emission happens
// after Cancel returns.
func (f *LinkFlow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.state = StateIdle
	f.lastErr = nil
}

func (f *LinkFlow) run(ctx context.Context, token string) {
	wallet, err := f.link(ctx, token)

	// The cancellation check and the terminal mutation/emission happen
	// under one critical section: Cancel holds the same mutex while it
	// cancels, so nothing can escape after Cancel returns.
	f.mu.Lock()
	defer f.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	if err != nil {
		f.state = StateError
		f.lastErr = err

		category := flowerr.Classify(err)
		f.logger.Warn("linking failed", zap.String("category", string(category)), zap.Error(err))
		signal.Send(SignalLinkResult, ResultEvent{State: StateError, Category: category, Error: err.Error()})
		return
	}

	f.state = StateDone

	f.logger.Info("device linked", zap.String("walletPubkey", wallet.Pubkey))
	signal.Send(SignalLinkResult, ResultEvent{State: StateDone, WalletPubkey: wallet.Pubkey})
}

func (f *LinkFlow) link(ctx context.Context, token string) (*storage.LinkedWallet, error) {
	details, err := f.client.PairingDetails(ctx, token)
	if err != nil {
		return nil, err
	}
	if details.Status == "expired" {
		return nil, flowerr.New(flowerr.CategoryTokenExpired, "pairing token expired")
	}

	f.setState(ctx, StateCreatingPasskey)

	if !f.authenticator.IsSupported() {
		return nil, authn.ErrNotSupported
	}

	credential, err := f.createCredential(ctx, details)
	if err != nil {
		return nil, flowerr.Wrap(flowerr.CategoryPasskeyFailed, err, "passkey creation failed")
	}

	f.setState(ctx, StateRegistering)

	requestID, err := f.client.RegisterDevice(ctx, remote.RegisterDeviceParams{
		Token:        token,
		DeviceName:   norm.NFKC.String(f.deviceName),
		PublicKey:    codec.EncodeBase64(credential.PublicKey),
		CredentialID: credential.ID,
		RPIDHash:     codec.EncodeBase64(credential.RPIDHash),
	})
	if err != nil {
		return nil, err
	}

	f.setState(ctx, StateWaitingApproval)

	status, err := f.awaitApproval(ctx, requestID)
	if err != nil {
		return nil, err
	}

	walletPubkey := status.WalletPubkey
	if walletPubkey == "" {
		walletPubkey = details.WalletPubkey
	}

	wallet := &storage.LinkedWallet{
		Pubkey:       walletPubkey,
		TelegramID:   details.TelegramID,
		CredentialID: credential.ID,
		LinkedAt:     time.Now().UTC(),
	}
	if err := f.store.SaveLinkedWallet(wallet); err != nil {
		return nil, errors.Wrap(err, "failed to persist wallet")
	}
	if err := f.store.SaveCredential(&storage.CredentialRecord{
		CredentialID: credential.ID,
		PublicKey:    codec.EncodeBase64(credential.PublicKey),
		RPIDHash:     codec.EncodeBase64(credential.RPIDHash),
	}); err != nil {
		return nil, errors.Wrap(err, "failed to persist credential")
	}

	f.syncPairedAgents(ctx, wallet.Pubkey)

	return wallet, nil
}

func (f *LinkFlow) createCredential(ctx context.Context, details *remote.PairingDetails) (*authn.Credential, error) {
	createChallenge := make([]byte, 32)
	if _, err := rand.Read(createChallenge); err != nil {
		return nil, errors.Wrap(err, "failed to generate challenge")
	}

	credential, err := f.authenticator.Create(ctx, &authn.CreateRequest{
		RelyingParty: authn.RelyingParty{ID: PairingHost, Name: "Odyssey"},
		User: authn.User{
			ID:          []byte(details.WalletPubkey),
			Name:        f.deviceName,
			DisplayName: f.deviceName,
		},
		Challenge: createChallenge,
	})
	if err != nil {
		return nil, err
	}

	// Platform authenticators only hand back the attestation object; the
	// public key and rpId hash then come from its CBOR payload.
	if len(credential.PublicKey) == 0 {
		parsed, err := authn.ParseAttestationObject(credential.AttestationObject)
		if err != nil {
			return nil, err
		}
		credential.PublicKey = parsed.PublicKey
		credential.RPIDHash = parsed.RPIDHash
	}

	return credential, nil
}

func (f *LinkFlow) awaitApproval(ctx context.Context, requestID string) (*remote.ApprovalStatus, error) {
	var approved *remote.ApprovalStatus

	err := poller.Run(ctx, poller.Config{Interval: f.pollInterval, Timeout: f.pollTimeout},
		func(ctx context.Context) (bool, error) {
			status, err := f.client.ApprovalStatus(ctx, requestID)
			if err != nil {
				// Transient failures keep polling until the hard deadline.
				f.logger.Debug("approval poll failed", zap.Error(err))
				return false, nil
			}

			switch status.Status {
			case "approved":
				approved = status
				return true, nil
			case "denied":
				return true, flowerr.New(flowerr.CategoryApprovalDenied, "linking denied on wallet side")
			default:
				return false, nil
			}
		})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// syncPairedAgents pulls the paired-agent list after a successful link.
// Best-effort: a failure here must not fail the link.
func (f *LinkFlow) syncPairedAgents(ctx context.Context, walletPubkey string) {
	agents, err := f.client.PairedAgents(ctx, walletPubkey)
	if err != nil {
		f.logger.Warn("failed to sync paired agents", zap.Error(err))
		return
	}

	records := make([]storage.PairedAgent, 0, len(agents))
	for _, agent := range agents {
		pairedAt, _ := time.Parse(time.RFC3339, agent.PairedAt)
		records = append(records, storage.PairedAgent{
			AgentID:   agent.AgentID,
			AgentName: norm.NFKC.String(agent.AgentName),
			PairedAt:  pairedAt,
		})
	}
	if err := f.store.ReplacePairedAgents(records); err != nil {
		f.logger.Warn("failed to persist paired agents", zap.Error(err))
	}
}

// setState publishes an intermediate state unless the flow was cancelled.
// The check and the emission share the mutex Cancel holds, same as run.
func (f *LinkFlow) setState(ctx context.Context, state State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	f.state = state
	signal.Send(SignalLinkStatus, StatusEvent{State: state})
}
