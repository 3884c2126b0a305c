// Package remote is the HTTP client for the Odyssey backend. Every call
// returns either decoded response data or an error tagged with a flowerr
// category at the point of failure: connection-level problems are tagged
// network, HTTP-status problems are mapped per endpoint. Callers never
// parse prose to find out what happened.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/getodyssey/odyssey-companion-go/pkg/flowerr"
)

// DefaultBaseURL is the production backend.
const DefaultBaseURL = "https://app.getodyssey.xyz"

const requestTimeout = 15 * time.Second

// HTTPError is a non-2xx response with the message extracted from the body.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     zap.L().Named("remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PairingDetails resolves a scanned QR token. An unknown or consumed token
// comes back as 404/410 and is tagged token_expired.
func (c *Client) PairingDetails(ctx context.Context, token string) (*PairingDetails, error) {
	var details PairingDetails
	err := c.get(ctx, "/api/pair-mobile/"+url.PathEscape(token), &details)
	if err != nil {
		return nil, tagStatus(err, map[int]flowerr.Category{
			http.StatusNotFound: flowerr.CategoryTokenExpired,
			http.StatusGone:     flowerr.CategoryTokenExpired,
		})
	}
	return &details, nil
}

// RegisterDevice submits this device's passkey public key and returns the
// approval request ID to poll.
func (c *Client) RegisterDevice(ctx context.Context, params RegisterDeviceParams) (string, error) {
	var resp registerDeviceResponse
	err := c.post(ctx, "/api/pair-mobile/register", params, &resp)
	if err != nil {
		return "", tagStatus(err, map[int]flowerr.Category{
			http.StatusNotFound: flowerr.CategoryTokenExpired,
			http.StatusGone:     flowerr.CategoryTokenExpired,
		})
	}
	return resp.RequestID, nil
}

// ApprovalStatus polls a device-registration request.
func (c *Client) ApprovalStatus(ctx context.Context, requestID string) (*ApprovalStatus, error) {
	var status ApprovalStatus
	err := c.get(ctx, "/api/pair-mobile/status/"+url.PathEscape(requestID), &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// PairedAgents lists the agents currently paired with a wallet.
func (c *Client) PairedAgents(ctx context.Context, walletPubkey string) ([]PairedAgent, error) {
	var resp struct {
		Agents []PairedAgent `json:"agents"`
	}
	err := c.get(ctx, "/api/agents/paired?walletPubkey="+url.QueryEscape(walletPubkey), &resp)
	if err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// GeneratePairingCode mints a new agent-pairing code for the linked wallet.
func (c *Client) GeneratePairingCode(ctx context.Context, walletPubkey string, telegramID int64) (*PairingCode, error) {
	body := struct {
		WalletPubkey string `json:"walletPubkey"`
		TelegramID   int64  `json:"telegramId"`
	}{walletPubkey, telegramID}

	var code PairingCode
	if err := c.post(ctx, "/api/pairing/generate-code", body, &code); err != nil {
		return nil, err
	}
	return &code, nil
}

// CodeStatus polls an agent-pairing code.
func (c *Client) CodeStatus(ctx context.Context, code string) (*CodeStatus, error) {
	var status CodeStatus
	err := c.get(ctx, "/api/pairing/code/"+url.PathEscape(code)+"/status", &status)
	if err != nil {
		return nil, tagStatus(err, map[int]flowerr.Category{
			http.StatusNotFound: flowerr.CategoryTokenExpired,
			http.StatusGone:     flowerr.CategoryTokenExpired,
		})
	}
	return &status, nil
}

// ApproveAgentPairing submits the passkey assertion authorizing an agent.
func (c *Client) ApproveAgentPairing(ctx context.Context, params ApproveAgentParams) (*AgentApproval, error) {
	var approval AgentApproval
	if err := c.post(ctx, "/api/pairing/approve-mobile", params, &approval); err != nil {
		return nil, tagStatus(err, map[int]flowerr.Category{
			http.StatusUnauthorized: flowerr.CategoryApprovalDenied,
			http.StatusForbidden:    flowerr.CategoryApprovalDenied,
		})
	}
	return &approval, nil
}

// DenyAgentPairing rejects an agent-pairing request.
func (c *Client) DenyAgentPairing(ctx context.Context, requestID string) error {
	body := struct {
		RequestID string `json:"requestId"`
	}{requestID}
	return c.post(ctx, "/api/pairing/deny", body, nil)
}

// PendingSessions lists the session requests awaiting a decision. The
// backend returns either a bare array or a wrapped object.
func (c *Client) PendingSessions(ctx context.Context, walletPubkey string) ([]PendingSession, error) {
	var raw json.RawMessage
	err := c.get(ctx, "/api/sessions/pending?walletPubkey="+url.QueryEscape(walletPubkey), &raw)
	if err != nil {
		return nil, err
	}

	var sessions []PendingSession
	if err := json.Unmarshal(raw, &sessions); err == nil {
		return sessions, nil
	}

	var wrapped struct {
		Sessions []PendingSession `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, errors.Wrap(err, "unexpected pending sessions payload")
	}
	return wrapped.Sessions, nil
}

// SessionApprovalData fetches fresh challenge material for one request.
func (c *Client) SessionApprovalData(ctx context.Context, requestID string) (*SessionApprovalData, error) {
	var data SessionApprovalData
	err := c.get(ctx, "/api/sessions/"+url.PathEscape(requestID)+"/approval-data", &data)
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// CreateSession submits the signed approval and creates the on-chain session.
func (c *Client) CreateSession(ctx context.Context, params CreateSessionParams) (*CreateSessionResult, error) {
	var result CreateSessionResult
	if err := c.post(ctx, "/api/v2/session/create", params, &result); err != nil {
		return nil, tagStatus(err, map[int]flowerr.Category{
			http.StatusUnauthorized: flowerr.CategoryApprovalDenied,
			http.StatusForbidden:    flowerr.CategoryApprovalDenied,
		})
	}
	return &result, nil
}

// DenySession rejects a session request.
func (c *Client) DenySession(ctx context.Context, requestID string) error {
	body := struct {
		RequestID string `json:"requestId"`
	}{requestID}
	return c.post(ctx, "/api/sessions/deny", body, nil)
}

// UnpairAgent revokes an agent's pairing.
func (c *Client) UnpairAgent(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodDelete, "/api/agents/"+url.PathEscape(agentID), nil, nil)
}

// AgentSessions lists the sessions ever granted to an agent.
func (c *Client) AgentSessions(ctx context.Context, agentID string) ([]Session, error) {
	var resp struct {
		Sessions []Session `json:"sessions"`
	}
	err := c.get(ctx, "/api/agents/"+url.PathEscape(agentID)+"/sessions", &resp)
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// SessionDetail fetches one session.
func (c *Client) SessionDetail(ctx context.Context, sessionID string) (*Session, error) {
	var resp struct {
		Session Session `json:"session"`
	}
	err := c.get(ctx, "/api/sessions/"+url.PathEscape(sessionID), &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Session, nil
}

// SessionTransactions lists the spends executed under a session.
func (c *Client) SessionTransactions(ctx context.Context, sessionID string) ([]Transaction, error) {
	var resp struct {
		Transactions []Transaction `json:"transactions"`
	}
	err := c.get(ctx, "/api/sessions/"+url.PathEscape(sessionID)+"/transactions", &resp)
	if err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// Balance fetches the linked wallet's balance.
func (c *Client) Balance(ctx context.Context) (*WalletBalance, error) {
	var balance WalletBalance
	if err := c.get(ctx, "/api/wallet/balance", &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport-level failure: no HTTP status exists, so this is a
		// network error by construction, not by message inspection.
		return flowerr.Wrap(flowerr.CategoryNetwork, err, "request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return flowerr.Wrap(flowerr.CategoryNetwork, err, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := extractMessage(data)
		c.logger.Debug("backend error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "failed to decode %s response", path)
	}
	return nil
}

// extractMessage pulls the message/error field out of a JSON error body;
// non-JSON bodies are treated as a plain-text message.
func extractMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	if len(body) > 0 {
		return string(body)
	}
	return "request failed"
}

// tagStatus lifts an HTTPError into a category-tagged error using the
// endpoint's status mapping; everything else passes through unchanged.
func tagStatus(err error, mapping map[int]flowerr.Category) error {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}
	if category, ok := mapping[httpErr.StatusCode]; ok {
		return flowerr.Wrap(category, err, httpErr.Message)
	}
	return err
}
