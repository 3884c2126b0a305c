package remote

// PairingDetails describes the wallet a scanned QR token belongs to.
type PairingDetails struct {
	WalletPubkey string `json:"walletPubkey"`
	TelegramID   int64  `json:"telegramId"`
	Status       string `json:"status"` // pending | approved | denied | expired
}

// RegisterDeviceParams registers this device's passkey as a signer.
type RegisterDeviceParams struct {
	Token        string `json:"token"`
	DeviceName   string `json:"deviceName"`
	PublicKey    string `json:"publicKey"`    // base64 compressed secp256r1
	CredentialID string `json:"credentialId"` // base64
	RPIDHash     string `json:"rpIdHash,omitempty"`
}

type registerDeviceResponse struct {
	RequestID string `json:"requestId"`
}

// ApprovalStatus is the polled state of a device-registration request.
type ApprovalStatus struct {
	Status       string `json:"status"` // pending | approved | denied
	WalletPubkey string `json:"walletPubkey,omitempty"`
}

// PairingCode is a freshly minted agent-pairing code.
type PairingCode struct {
	Code      string `json:"code"`
	ExpiresAt string `json:"expiresAt"`
}

// CodeStatus is the polled state of an agent-pairing code. Signature and
// Timestamp, when present, prove the requesting agent controls AgentID.
type CodeStatus struct {
	Code        string `json:"code"`
	Status      string `json:"status"` // waiting | pending_approval | approved | expired
	RequestID   string `json:"requestId,omitempty"`
	AgentID     string `json:"agentId,omitempty"`
	AgentName   string `json:"agentName,omitempty"`
	RequestedAt string `json:"requestedAt,omitempty"`
	Signature   string `json:"signature,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// ApproveAgentParams carries the passkey assertion authorizing an agent pairing.
type ApproveAgentParams struct {
	RequestID         string `json:"requestId"`
	Signature         string `json:"signature"`
	AuthenticatorData string `json:"authenticatorData"`
	ClientDataJSON    string `json:"clientDataJSON"`
}

// AgentApproval is the backend's acknowledgement of an approved pairing.
type AgentApproval struct {
	Success   bool   `json:"success"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
}

// PairedAgent is an agent currently authorized to request sessions.
type PairedAgent struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	PairedAt  string `json:"pairedAt"`
}

// SessionLimit bounds spending for one mint within a session.
type SessionLimit struct {
	Mint     string `json:"mint"`
	Amount   uint64 `json:"amount"`
	Decimals int    `json:"decimals"`
	Symbol   string `json:"symbol,omitempty"`
}

// PendingSession is one agent's outstanding session ask.
type PendingSession struct {
	RequestID       string         `json:"requestId"`
	AgentID         string         `json:"agentId"`
	AgentName       string         `json:"agentName"`
	SessionPubkey   string         `json:"sessionPubkey"`
	DurationSeconds int64          `json:"durationSeconds"`
	Mint            string         `json:"mint"`
	MaxAmount       uint64         `json:"maxAmount"`
	Limits          []SessionLimit `json:"limits"`
	Status          string         `json:"status"`
	CreatedAt       string         `json:"createdAt"`
}

// SessionApprovalData is fetched fresh per approval attempt and consumed to
// build exactly one challenge. It is never persisted.
type SessionApprovalData struct {
	SessionPubkey   string `json:"sessionPubkey"`
	WalletPubkey    string `json:"walletPubkey"`
	DurationSeconds int64  `json:"durationSeconds"`
	Mint            string `json:"mint"`
	MaxAmount       uint64 `json:"maxAmount"`
	CredentialID    string `json:"credentialId,omitempty"`
	CurrentSlot     uint64 `json:"currentSlot"`
	ExpiresAtSlot   int64  `json:"expiresAtSlot"`
	RPID            string `json:"rpId"`
}

// CreateSessionParams submits the signed session-approval assertion.
type CreateSessionParams struct {
	RequestID         string         `json:"requestId"`
	WalletPubkey      string         `json:"walletPubkey"`
	SessionPubkey     string         `json:"sessionPubkey"`
	ExpiresAtSlot     int64          `json:"expiresAtSlot"`
	Limits            []SessionLimit `json:"limits"`
	Signature         string         `json:"signature"`
	AuthenticatorData string         `json:"authenticatorData"`
	ClientDataJSON    string         `json:"clientDataJSON"`
}

// CreateSessionResult reports the on-chain session created by the backend.
type CreateSessionResult struct {
	TxSignature   string `json:"txSignature"`
	SessionPubkey string `json:"sessionPubkey"`
	ExpiresAtSlot int64  `json:"expiresAtSlot"`
}

// Session is an established delegated-spending session.
type Session struct {
	ID            string `json:"id"`
	AgentID       string `json:"agentId"`
	SessionPubkey string `json:"sessionPubkey"`
	Status        string `json:"status"`
	ExpiresAtSlot int64  `json:"expiresAtSlot"`
	CreatedAt     string `json:"createdAt"`
}

// Transaction is one spend executed under a session.
type Transaction struct {
	ID          string  `json:"id"`
	SessionID   string  `json:"sessionId"`
	Signature   string  `json:"signature"`
	AmountSol   float64 `json:"amountSol"`
	Destination string  `json:"destination"`
	Timestamp   string  `json:"timestamp"`
	Status      string  `json:"status"` // pending | confirmed | failed
}

// WalletBalance is the linked wallet's current balance.
type WalletBalance struct {
	Address    string  `json:"address"`
	BalanceSol float64 `json:"balanceSol"`
	BalanceUsd float64 `json:"balanceUsd"`
}
