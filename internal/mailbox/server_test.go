package mailbox

import (
	"bytes"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zrcore/zrc/internal/ratelimit"
)

func newTestMailboxServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(ServerConfig{}, NewStore(DefaultQueueConfig()), nil, nil)
}

func TestMailboxServer_PostThenGet(t *testing.T) {
	s := newTestMailboxServer(t)
	recipient := testRecipient(1)
	recipientHex := hex.EncodeToString(recipient[:])

	postReq := httptest.NewRequest(http.MethodPost, "/v1/mailbox/"+recipientHex, bytes.NewReader([]byte("envelope-bytes")))
	postW := httptest.NewRecorder()
	s.handleMailbox(postW, postReq)
	if postW.Code != http.StatusAccepted {
		t.Fatalf("POST status = %d, want 202", postW.Code)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/v1/mailbox/"+recipientHex+"?wait_ms=0", nil)
	getW := httptest.NewRecorder()
	s.handleMailbox(getW, getReq)
	if getW.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200, body=%s", getW.Code, getW.Body.String())
	}
	if getW.Body.String() != "envelope-bytes" {
		t.Fatalf("GET body = %q, want envelope-bytes", getW.Body.String())
	}
	if getW.Header().Get("X-Message-Sequence") != "1" {
		t.Fatalf("X-Message-Sequence = %q, want 1", getW.Header().Get("X-Message-Sequence"))
	}
}

func TestMailboxServer_GetOnEmptyReturns204(t *testing.T) {
	s := newTestMailboxServer(t)
	recipient := testRecipient(2)
	req := httptest.NewRequest(http.MethodGet, "/v1/mailbox/"+hex.EncodeToString(recipient[:])+"?wait_ms=0", nil)
	w := httptest.NewRecorder()
	s.handleMailbox(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
}

func TestMailboxServer_PostRejectsOversized(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.MaxEnvelopeSize = 4
	s := NewServer(ServerConfig{}, NewStore(cfg), nil, nil)
	recipient := testRecipient(3)

	req := httptest.NewRequest(http.MethodPost, "/v1/mailbox/"+hex.EncodeToString(recipient[:]), bytes.NewReader([]byte("too big for this mailbox")))
	w := httptest.NewRecorder()
	s.handleMailbox(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}

func TestMailboxServer_PostRejectsWhenFull(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.MaxQueueLength = 1
	s := NewServer(ServerConfig{}, NewStore(cfg), nil, nil)
	recipient := testRecipient(4)
	recipientHex := hex.EncodeToString(recipient[:])

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/mailbox/"+recipientHex, bytes.NewReader([]byte("x")))
		w := httptest.NewRecorder()
		s.handleMailbox(w, req)
		if i == 1 && w.Code != http.StatusInsufficientStorage {
			t.Fatalf("second POST status = %d, want 507", w.Code)
		}
	}
}

func TestMailboxServer_RejectsUnauthenticated(t *testing.T) {
	s := NewServer(ServerConfig{
		Authenticate: func(r *http.Request) bool { return false },
	}, NewStore(DefaultQueueConfig()), nil, nil)
	recipient := testRecipient(5)

	req := httptest.NewRequest(http.MethodGet, "/v1/mailbox/"+hex.EncodeToString(recipient[:]), nil)
	w := httptest.NewRecorder()
	s.handleMailbox(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestMailboxServer_MalformedRecipientRejected(t *testing.T) {
	s := newTestMailboxServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/mailbox/not-hex", nil)
	w := httptest.NewRecorder()
	s.handleMailbox(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestMailboxServer_RateLimited(t *testing.T) {
	s := newTestMailboxServer(t)
	s.cfg.RateLimit = func(source string, now time.Time) (time.Duration, error) {
		return 15 * time.Second, ratelimit.ErrRejected
	}
	recipient := testRecipient(1)
	recipientHex := hex.EncodeToString(recipient[:])

	req := httptest.NewRequest(http.MethodPost, "/v1/mailbox/"+recipientHex, bytes.NewReader([]byte("envelope-bytes")))
	w := httptest.NewRecorder()
	s.handleMailbox(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "15" {
		t.Errorf("Retry-After = %q, want 15", w.Header().Get("Retry-After"))
	}
}

func TestMailboxServer_Health(t *testing.T) {
	s := newTestMailboxServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
