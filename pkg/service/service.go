// Package service exposes the companion's operations as a JSON-RPC
// service: start/stop, wallet linking, agent pairing, session approval
// and the linked wallet's read surface. Long-running flows push progress
// through signals; the RPC methods only start, decide and stop.
package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/getodyssey/odyssey-companion-go/internal/authn"
	"github.com/getodyssey/odyssey-companion-go/internal/gate"
	"github.com/getodyssey/odyssey-companion-go/internal/remote"
	"github.com/getodyssey/odyssey-companion-go/internal/storage"
	"github.com/getodyssey/odyssey-companion-go/pkg/agentpairing"
	"github.com/getodyssey/odyssey-companion-go/pkg/pairing"
	"github.com/getodyssey/odyssey-companion-go/pkg/session"
)

var errServiceNotStarted = errors.New("companion service not started")

var globalCompanionService CompanionService

// CompanionService is the RPC surface. A single instance is registered
// with the RPC server; Start wires the whole stack, Stop tears it down.
type CompanionService struct {
	store         *storage.Store
	client        *remote.Client
	authenticator authn.Authenticator
	modal         *gate.Gate

	linkFlow  *pairing.LinkFlow
	watcher   *session.Watcher
	agentFlow *agentpairing.Flow

	logger *zap.Logger
}

// SetAuthenticator injects the platform passkey capability. Must be called
// before Start; the software double is only for tests.
func (s *CompanionService) SetAuthenticator(authenticator authn.Authenticator) {
	s.authenticator = authenticator
}

type StartRequest struct {
	StoragePath   string `json:"storagePath" validate:"required"`
	StorageSecret string `json:"storageSecret" validate:"required"`
	BaseURL       string `json:"baseUrl"`
	DeviceName    string `json:"deviceName"`
}

func (s *CompanionService) Start(args *StartRequest, reply *struct{}) error {
	if err := validateRequest(args); err != nil {
		return err
	}
	if s.store != nil {
		return errors.New("companion service already started")
	}

	store, err := storage.Open(args.StoragePath, []byte(args.StorageSecret))
	if err != nil {
		return err
	}

	clientOpts := []remote.Option{}
	if args.BaseURL != "" {
		clientOpts = append(clientOpts, remote.WithBaseURL(args.BaseURL))
	}

	s.store = store
	s.client = remote.NewClient(clientOpts...)
	s.modal = &gate.Gate{}
	s.logger = zap.L().Named("service")

	if s.authenticator == nil {
		s.authenticator = authn.Unavailable{}
	}

	linkOpts := []pairing.Option{}
	if args.DeviceName != "" {
		linkOpts = append(linkOpts, pairing.WithDeviceName(args.DeviceName))
	}
	s.linkFlow = pairing.NewLinkFlow(s.client, s.store, s.authenticator, linkOpts...)
	s.watcher = session.NewWatcher(s.client, s.store, s.authenticator, s.modal)
	s.agentFlow = agentpairing.NewFlow(s.client, s.store, s.authenticator, s.modal)

	if err := s.watcher.Start(); err != nil {
		return err
	}

	s.logger.Info("companion service started", zap.String("storagePath", args.StoragePath))
	return nil
}

func (s *CompanionService) Stop(args *struct{}, reply *struct{}) error {
	if s.store == nil {
		return nil
	}

	s.linkFlow.Cancel()
	s.watcher.Stop()
	s.agentFlow.Stop()

	err := s.store.Close()

	s.store = nil
	s.client = nil
	s.linkFlow = nil
	s.watcher = nil
	s.agentFlow = nil
	return err
}

type Status struct {
	Linked       bool   `json:"linked"`
	WalletPubkey string `json:"walletPubkey,omitempty"`
	LinkState    string `json:"linkState"`
}

// GetStatus reports the linked wallet and link-flow position. Flow progress
// is also pushed via signals; this exists for polling clients and debugging.
func (s *CompanionService) GetStatus(args *struct{}, reply *Status) error {
	if s.store == nil {
		return errServiceNotStarted
	}

	wallet, err := s.store.LinkedWallet()
	if err != nil {
		return err
	}
	if wallet != nil {
		reply.Linked = true
		reply.WalletPubkey = wallet.Pubkey
	}
	reply.LinkState = string(s.linkFlow.State())
	return nil
}

type LinkRequest struct {
	URL string `json:"url" validate:"required"`
}

// Link starts the wallet-linking flow from a scanned QR URL. Progress and
// the terminal result arrive via companion.link-status / link-result.
func (s *CompanionService) Link(args *LinkRequest, reply *struct{}) error {
	if s.store == nil {
		return errServiceNotStarted
	}
	if err := validateRequest(args); err != nil {
		return err
	}

	token, ok := pairing.ParseTokenFromURL(args.URL)
	if !ok {
		return errors.New("not a valid pairing URL")
	}
	return s.linkFlow.Start(token)
}

func (s *CompanionService) CancelLink(args *struct{}, reply *struct{}) error {
	if s.store == nil {
		return errServiceNotStarted
	}
	s.linkFlow.Cancel()
	return nil
}

// Unlink drops the linked wallet, its credential and all paired agents.
func (s *CompanionService) Unlink(args *struct{}, reply *struct{}) error {
	if s.store == nil {
		return errServiceNotStarted
	}

	s.agentFlow.Stop()
	if err := s.store.ReplacePairedAgents(nil); err != nil {
		return err
	}
	return s.store.ClearLinkedWallet()
}

type PairedAgentsResponse struct {
	Agents []storage.PairedAgent `json:"agents"`
}

func (s *CompanionService) PairedAgents(args *struct{}, reply *PairedAgentsResponse) error {
	if s.store == nil {
		return errServiceNotStarted
	}

	agents, err := s.store.PairedAgents()
	if err != nil {
		return err
	}
	reply.Agents = agents
	return nil
}

// RefreshAgents re-syncs the local paired-agent list from the backend.
func (s *CompanionService) RefreshAgents(args *struct{}, reply *PairedAgentsResponse) error {
	if s.store == nil {
		return errServiceNotStarted
	}

	wallet, err := s.store.LinkedWallet()
	if err != nil {
		return err
	}
	if wallet == nil {
		return errors.New("no linked wallet")
	}

	remoteAgents, err := s.client.PairedAgents(context.Background(), wallet.Pubkey)
	if err != nil {
		return err
	}

	records := make([]storage.PairedAgent, 0, len(remoteAgents))
	for _, agent := range remoteAgents {
		pairedAt, _ := time.Parse(time.RFC3339, agent.PairedAt)
		records = append(records, storage.PairedAgent{
			AgentID:   agent.AgentID,
			AgentName: agent.AgentName,
			PairedAt:  pairedAt,
		})
	}
	if err := s.store.ReplacePairedAgents(records); err != nil {
		return err
	}
	reply.Agents = records
	return nil
}

type UnpairAgentRequest struct {
	AgentID string `json:"agentId" validate:"required,base58pubkey"`
}

func (s *CompanionService) UnpairAgent(args *UnpairAgentRequest, reply *struct{}) error {
	if s.store == nil {
		return errServiceNotStarted
	}
	if err := validateRequest(args); err != nil {
		return err
	}

	if err := s.client.UnpairAgent(context.Background(), args.AgentID); err != nil {
		return err
	}
	return s.store.RemovePairedAgent(args.AgentID)
}

// StartAgentPairing mints a pairing code and begins polling it. The code
// arrives via companion.agent-pairing-code.
func (s *CompanionService) StartAgentPairing(args *struct{}, reply *struct{}) error {
	if s.store == nil {
		return errServiceNotStarted
	}
	return s.agentFlow.Start()
}

func (s *CompanionService) StopAgentPairing(args *struct{}, reply *struct{}) error {
	if s.store == nil {
		return errServiceNotStarted
	}
	s.agentFlow.Stop()
	return nil
}

type AgentDecisionRequest struct {
	RequestID string `json:"requestId" validate:"required"`
}

func (s *CompanionService) ApproveAgentPairing(args *AgentDecisionRequest, reply *struct{}) error {
	if s.store == nil {
		return errServiceNotStarted
	}
	if err := validateRequest(args); err != nil {
		return err
	}
	return s.agentFlow.Approve(context.Background(), args.RequestID)
}

func (s *CompanionService) DenyAgentPairing(args *AgentDecisionRequest, reply *struct{}) error {
	if s.store == nil {
		return errServiceNotStarted
	}
	if err := validateRequest(args); err != nil {
		return err
	}
	return s.agentFlow.Deny(context.Background(), args.RequestID)
}

type SessionDecisionRequest struct {
	RequestID string `json:"requestId" validate:"required"`
}

type ApproveSessionResponse struct {
	TxSignature   string `json:"txSignature"`
	SessionPubkey string `json:"sessionPubkey"`
	ExpiresAtSlot int64  `json:"expiresAtSlot"`
}

func (s *CompanionService) ApproveSession(args *SessionDecisionRequest, reply *ApproveSessionResponse) error {
	if s.store == nil {
		return errServiceNotStarted
	}
	if err := validateRequest(args); err != nil {
		return err
	}

	result, err := s.watcher.Approve(context.Background(), args.RequestID)
	if err != nil {
		return err
	}
	reply.TxSignature = result.TxSignature
	reply.SessionPubkey = result.SessionPubkey
	reply.ExpiresAtSlot = result.ExpiresAtSlot
	return nil
}

func (s *CompanionService) DenySession(args *SessionDecisionRequest, reply *struct{}) error {
	if s.store == nil {
		return errServiceNotStarted
	}
	if err := validateRequest(args); err != nil {
		return err
	}
	return s.watcher.Deny(context.Background(), args.RequestID)
}

type AgentSessionsRequest struct {
	AgentID string `json:"agentId" validate:"required"`
}

type AgentSessionsResponse struct {
	Sessions []remote.Session `json:"sessions"`
}

// AgentSessions lists the sessions ever granted to one agent.
func (s *CompanionService) AgentSessions(args *AgentSessionsRequest, reply *AgentSessionsResponse) error {
	if s.store == nil {
		return errServiceNotStarted
	}
	if err := validateRequest(args); err != nil {
		return err
	}

	sessions, err := s.client.AgentSessions(context.Background(), args.AgentID)
	if err != nil {
		return err
	}
	reply.Sessions = sessions
	return nil
}

type SessionHistoryRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

type SessionHistoryResponse struct {
	Session      remote.Session       `json:"session"`
	Transactions []remote.Transaction `json:"transactions"`
}

// SessionHistory fetches one session and the spends executed under it.
func (s *CompanionService) SessionHistory(args *SessionHistoryRequest, reply *SessionHistoryResponse) error {
	if s.store == nil {
		return errServiceNotStarted
	}
	if err := validateRequest(args); err != nil {
		return err
	}

	session, err := s.client.SessionDetail(context.Background(), args.SessionID)
	if err != nil {
		return err
	}
	transactions, err := s.client.SessionTransactions(context.Background(), args.SessionID)
	if err != nil {
		return err
	}
	reply.Session = *session
	reply.Transactions = transactions
	return nil
}

type SetFocusedRequest struct {
	Focused bool `json:"focused"`
}

// SetFocused tells the session watcher whether the UI is in the
// foreground; discovery only runs while focused.
func (s *CompanionService) SetFocused(args *SetFocusedRequest, reply *struct{}) error {
	if s.store == nil {
		return errServiceNotStarted
	}
	s.watcher.SetFocused(args.Focused)
	return nil
}

type BalanceResponse struct {
	Address    string  `json:"address"`
	BalanceSol float64 `json:"balanceSol"`
	BalanceUsd float64 `json:"balanceUsd"`
}

func (s *CompanionService) Balance(args *struct{}, reply *BalanceResponse) error {
	if s.store == nil {
		return errServiceNotStarted
	}

	balance, err := s.client.Balance(context.Background())
	if err != nil {
		return err
	}
	reply.Address = balance.Address
	reply.BalanceSol = balance.BalanceSol
	reply.BalanceUsd = balance.BalanceUsd
	return nil
}
