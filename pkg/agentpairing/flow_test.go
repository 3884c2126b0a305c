package agentpairing

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getodyssey/odyssey-companion-go/internal/authn"
	"github.com/getodyssey/odyssey-companion-go/internal/gate"
	"github.com/getodyssey/odyssey-companion-go/internal/remote"
	"github.com/getodyssey/odyssey-companion-go/internal/storage"
	"github.com/getodyssey/odyssey-companion-go/pkg/codec"
	"github.com/getodyssey/odyssey-companion-go/pkg/identity"
	"github.com/getodyssey/odyssey-companion-go/signal"
)

var testWalletPubkey = codec.EncodeBase58(bytes.Repeat([]byte{0x22}, 32))

type agentIdentity struct {
	id   string
	priv ed25519.PrivateKey
}

func newAgentIdentity(t *testing.T) agentIdentity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return agentIdentity{id: codec.EncodeBase58(pub), priv: priv}
}

func (a agentIdentity) sign(code string, timestamp int64) string {
	message := identity.AgentPairingMessage(code, a.id, timestamp)
	return codec.EncodeBase64(ed25519.Sign(a.priv, []byte(message)))
}

func openLinkedStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "companion.db"), []byte("test-secret"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SaveLinkedWallet(&storage.LinkedWallet{
		Pubkey:     testWalletPubkey,
		TelegramID: 7,
		LinkedAt:   time.Now().UTC(),
	}))
	return store
}

func testAuthenticator(t *testing.T) *authn.SoftAuthenticator {
	t.Helper()
	authenticator := authn.NewSoftAuthenticator()
	_, err := authenticator.Create(context.Background(), &authn.CreateRequest{
		RelyingParty: authn.RelyingParty{ID: "app.getodyssey.xyz", Name: "Odyssey"},
		User:         authn.User{ID: []byte(testWalletPubkey), Name: "test"},
		Challenge:    bytes.Repeat([]byte{0x01}, 32),
	})
	require.NoError(t, err)
	return authenticator
}

func captureSignals(t *testing.T, wanted string) <-chan json.RawMessage {
	t.Helper()
	events := make(chan json.RawMessage, 8)
	signal.SetCompanionSignalHandler(func(data []byte) {
		var envelope struct {
			Type  string          `json:"type"`
			Event json.RawMessage `json:"event"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return
		}
		if envelope.Type == wanted {
			events <- envelope.Event
		}
	})
	t.Cleanup(signal.ResetCompanionSignalHandler)
	return events
}

func waitForEvent(t *testing.T, events <-chan json.RawMessage, what string) json.RawMessage {
	t.Helper()
	select {
	case raw := <-events:
		return raw
	case <-time.After(2 * time.Second):
		t.Fatalf("%s never arrived", what)
		return nil
	}
}

func generateCodeHandler(t *testing.T, code string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			WalletPubkey string `json:"walletPubkey"`
			TelegramID   int64  `json:"telegramId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testWalletPubkey, body.WalletPubkey)
		_ = json.NewEncoder(w).Encode(remote.PairingCode{Code: code, ExpiresAt: "2026-08-30T12:00:00Z"})
	}
}

func TestFlowEmitsCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pairing/generate-code", generateCodeHandler(t, "ABC123"))
	mux.HandleFunc("GET /api/pairing/code/ABC123/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.CodeStatus{Code: "ABC123", Status: "waiting"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := openLinkedStore(t)
	codes := captureSignals(t, SignalPairingCode)

	flow := NewFlow(
		remote.NewClient(remote.WithBaseURL(srv.URL)),
		store,
		testAuthenticator(t),
		&gate.Gate{},
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, flow.Start())
	defer flow.Stop()

	var event CodeEvent
	require.NoError(t, json.Unmarshal(waitForEvent(t, codes, "pairing code"), &event))
	assert.Equal(t, "ABC123", event.Code)
}

func TestFlowSurfacesVerifiedClaim(t *testing.T) {
	agent := newAgentIdentity(t)
	timestamp := time.Now().UnixMilli()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pairing/generate-code", generateCodeHandler(t, "ABC123"))
	mux.HandleFunc("GET /api/pairing/code/ABC123/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.CodeStatus{
			Code:      "ABC123",
			Status:    "pending_approval",
			RequestID: "pair-req-1",
			AgentID:   agent.id,
			AgentName: "Trader",
			Signature: agent.sign("ABC123", timestamp),
			Timestamp: timestamp,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := openLinkedStore(t)
	requests := captureSignals(t, SignalPairingRequest)
	modal := &gate.Gate{}

	flow := NewFlow(
		remote.NewClient(remote.WithBaseURL(srv.URL)),
		store,
		testAuthenticator(t),
		modal,
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, flow.Start())
	defer flow.Stop()

	var event RequestEvent
	require.NoError(t, json.Unmarshal(waitForEvent(t, requests, "pairing request"), &event))
	assert.Equal(t, "pair-req-1", event.RequestID)
	assert.Equal(t, agent.id, event.AgentID)
	assert.True(t, event.Verified)
	assert.True(t, modal.Held())
}

func TestFlowDiscardsInvalidSignature(t *testing.T) {
	agent := newAgentIdentity(t)
	timestamp := time.Now().UnixMilli()

	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pairing/generate-code", generateCodeHandler(t, "ABC123"))
	mux.HandleFunc("GET /api/pairing/code/ABC123/status", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		// Signature over a different code: must not verify.
		_ = json.NewEncoder(w).Encode(remote.CodeStatus{
			Code:      "ABC123",
			Status:    "pending_approval",
			RequestID: "pair-req-1",
			AgentID:   agent.id,
			AgentName: "Mallory",
			Signature: agent.sign("XYZ789", timestamp),
			Timestamp: timestamp,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := openLinkedStore(t)
	requests := captureSignals(t, SignalPairingRequest)
	modal := &gate.Gate{}

	flow := NewFlow(
		remote.NewClient(remote.WithBaseURL(srv.URL)),
		store,
		testAuthenticator(t),
		modal,
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, flow.Start())
	defer flow.Stop()

	// The forged claim is discarded silently: no modal, and polling goes on.
	select {
	case <-requests:
		t.Fatal("forged claim surfaced")
	case <-time.After(200 * time.Millisecond):
	}
	assert.False(t, modal.Held())
	assert.Greater(t, polls.Load(), int32(1))
}

func TestFlowUnsignedClaimDefaultAccepted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pairing/generate-code", generateCodeHandler(t, "ABC123"))
	mux.HandleFunc("GET /api/pairing/code/ABC123/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.CodeStatus{
			Code:      "ABC123",
			Status:    "pending_approval",
			RequestID: "pair-req-1",
			AgentID:   "legacy-agent",
			AgentName: "Legacy",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := openLinkedStore(t)
	requests := captureSignals(t, SignalPairingRequest)

	flow := NewFlow(
		remote.NewClient(remote.WithBaseURL(srv.URL)),
		store,
		testAuthenticator(t),
		&gate.Gate{},
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, flow.Start())
	defer flow.Stop()

	var event RequestEvent
	require.NoError(t, json.Unmarshal(waitForEvent(t, requests, "pairing request"), &event))
	assert.False(t, event.Verified)
}

func TestFlowUnsignedClaimRejectedInStrictMode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pairing/generate-code", generateCodeHandler(t, "ABC123"))
	mux.HandleFunc("GET /api/pairing/code/ABC123/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.CodeStatus{
			Code:      "ABC123",
			Status:    "pending_approval",
			RequestID: "pair-req-1",
			AgentID:   "legacy-agent",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := openLinkedStore(t)
	requests := captureSignals(t, SignalPairingRequest)

	flow := NewFlow(
		remote.NewClient(remote.WithBaseURL(srv.URL)),
		store,
		testAuthenticator(t),
		&gate.Gate{},
		WithPollInterval(10*time.Millisecond),
		WithRequireAgentSignature(true),
	)
	require.NoError(t, flow.Start())
	defer flow.Stop()

	select {
	case <-requests:
		t.Fatal("unsigned claim surfaced in strict mode")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFlowRegeneratesExpiredCode(t *testing.T) {
	var generated atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pairing/generate-code", func(w http.ResponseWriter, r *http.Request) {
		n := generated.Add(1)
		_ = json.NewEncoder(w).Encode(remote.PairingCode{
			Code:      fmt.Sprintf("CODE-%d", n),
			ExpiresAt: "2026-08-30T12:00:00Z",
		})
	})
	mux.HandleFunc("GET /api/pairing/code/CODE-1/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.CodeStatus{Code: "CODE-1", Status: "expired"})
	})
	mux.HandleFunc("GET /api/pairing/code/CODE-2/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.CodeStatus{Code: "CODE-2", Status: "waiting"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := openLinkedStore(t)
	codes := captureSignals(t, SignalPairingCode)

	flow := NewFlow(
		remote.NewClient(remote.WithBaseURL(srv.URL)),
		store,
		testAuthenticator(t),
		&gate.Gate{},
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, flow.Start())
	defer flow.Stop()

	var first, second CodeEvent
	require.NoError(t, json.Unmarshal(waitForEvent(t, codes, "first code"), &first))
	require.NoError(t, json.Unmarshal(waitForEvent(t, codes, "second code"), &second))
	assert.Equal(t, "CODE-1", first.Code)
	assert.Equal(t, "CODE-2", second.Code)
}

func TestFlowApprove(t *testing.T) {
	agent := newAgentIdentity(t)
	timestamp := time.Now().UnixMilli()
	var approveParams remote.ApproveAgentParams

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pairing/generate-code", generateCodeHandler(t, "ABC123"))
	mux.HandleFunc("GET /api/pairing/code/ABC123/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.CodeStatus{
			Code:      "ABC123",
			Status:    "pending_approval",
			RequestID: "pair-req-1",
			AgentID:   agent.id,
			AgentName: "Trader",
			Signature: agent.sign("ABC123", timestamp),
			Timestamp: timestamp,
		})
	})
	mux.HandleFunc("POST /api/pairing/approve-mobile", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&approveParams))
		_ = json.NewEncoder(w).Encode(remote.AgentApproval{
			Success:   true,
			AgentID:   agent.id,
			AgentName: "Trader",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := openLinkedStore(t)
	requests := captureSignals(t, SignalPairingRequest)
	modal := &gate.Gate{}

	flow := NewFlow(
		remote.NewClient(remote.WithBaseURL(srv.URL)),
		store,
		testAuthenticator(t),
		modal,
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, flow.Start())
	defer flow.Stop()

	waitForEvent(t, requests, "pairing request")

	require.NoError(t, flow.Approve(context.Background(), "pair-req-1"))
	assert.False(t, modal.Held())

	assert.Equal(t, "pair-req-1", approveParams.RequestID)
	assert.NotEmpty(t, approveParams.Signature)
	assert.NotEmpty(t, approveParams.AuthenticatorData)
	assert.NotEmpty(t, approveParams.ClientDataJSON)

	agents, err := store.PairedAgents()
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, agent.id, agents[0].AgentID)
	assert.Equal(t, "Trader", agents[0].AgentName)
}

func TestFlowDenyUnknownIDKeepsModal(t *testing.T) {
	agent := newAgentIdentity(t)
	timestamp := time.Now().UnixMilli()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pairing/generate-code", generateCodeHandler(t, "ABC123"))
	mux.HandleFunc("GET /api/pairing/code/ABC123/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.CodeStatus{
			Code:      "ABC123",
			Status:    "pending_approval",
			RequestID: "pair-req-1",
			AgentID:   agent.id,
			AgentName: "Trader",
			Signature: agent.sign("ABC123", timestamp),
			Timestamp: timestamp,
		})
	})
	mux.HandleFunc("POST /api/pairing/deny", func(w http.ResponseWriter, r *http.Request) {
		t.Error("deny with unknown id reached the backend")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := openLinkedStore(t)
	requests := captureSignals(t, SignalPairingRequest)
	modal := &gate.Gate{}

	flow := NewFlow(
		remote.NewClient(remote.WithBaseURL(srv.URL)),
		store,
		testAuthenticator(t),
		modal,
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, flow.Start())
	defer flow.Stop()

	waitForEvent(t, requests, "pairing request")

	// A deny with a stale ID is rejected; the claim on screen keeps the
	// modal and no second request can surface behind it.
	require.Error(t, flow.Deny(context.Background(), "bogus-id"))
	assert.True(t, modal.Held())

	select {
	case <-requests:
		t.Fatal("unresolved claim surfaced a second time")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFlowPendingRequestReturnsCopy(t *testing.T) {
	flow := NewFlow(nil, nil, nil, &gate.Gate{})
	flow.pending = &remote.CodeStatus{RequestID: "pair-req-1", AgentName: "Trader"}

	got := flow.pendingRequest("pair-req-1")
	require.NotNil(t, got)

	got.AgentName = "mutated"
	assert.Equal(t, "Trader", flow.pending.AgentName)
}

func TestFlowDenyRegeneratesCode(t *testing.T) {
	agent := newAgentIdentity(t)
	timestamp := time.Now().UnixMilli()
	var generated atomic.Int32
	denied := make(chan string, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pairing/generate-code", func(w http.ResponseWriter, r *http.Request) {
		n := generated.Add(1)
		_ = json.NewEncoder(w).Encode(remote.PairingCode{
			Code:      fmt.Sprintf("CODE-%d", n),
			ExpiresAt: "2026-08-30T12:00:00Z",
		})
	})
	mux.HandleFunc("GET /api/pairing/code/CODE-1/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.CodeStatus{
			Code:      "CODE-1",
			Status:    "pending_approval",
			RequestID: "pair-req-1",
			AgentID:   agent.id,
			AgentName: "Trader",
			Signature: agent.sign("CODE-1", timestamp),
			Timestamp: timestamp,
		})
	})
	mux.HandleFunc("GET /api/pairing/code/CODE-2/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.CodeStatus{Code: "CODE-2", Status: "waiting"})
	})
	mux.HandleFunc("POST /api/pairing/deny", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RequestID string `json:"requestId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		denied <- body.RequestID
		fmt.Fprint(w, `{}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := openLinkedStore(t)
	requests := captureSignals(t, SignalPairingRequest)
	modal := &gate.Gate{}

	flow := NewFlow(
		remote.NewClient(remote.WithBaseURL(srv.URL)),
		store,
		testAuthenticator(t),
		modal,
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, flow.Start())
	defer flow.Stop()

	waitForEvent(t, requests, "pairing request")

	require.NoError(t, flow.Deny(context.Background(), "pair-req-1"))
	assert.False(t, modal.Held())

	select {
	case requestID := <-denied:
		assert.Equal(t, "pair-req-1", requestID)
	case <-time.After(time.Second):
		t.Fatal("deny never reached the backend")
	}

	// A denied agent has seen the old code, so a fresh one is minted.
	assert.Equal(t, int32(2), generated.Load())

	agents, err := store.PairedAgents()
	require.NoError(t, err)
	assert.Empty(t, agents)
}
