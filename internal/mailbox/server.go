package mailbox

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zrcore/zrc/internal/recovery"
)

// ServerConfig configures the mailbox HTTP server.
type ServerConfig struct {
	Address           string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	DefaultLongPollMs int64
	MaxLongPollMs     int64

	// Authenticate selects bearer-token checking; nil disables auth (for
	// local/dev deployments only).
	Authenticate func(r *http.Request) bool

	// RateLimit, if set, is consulted once per request keyed by the
	// recipient's hex device ID, enforcing spec §6's per-recipient
	// request cap. A non-nil error yields HTTP 429 with Retry-After.
	RateLimit func(source string, now time.Time) (retryAfter time.Duration, err error)
}

// Server serves the mailbox HTTP/S API (spec §6).
type Server struct {
	cfg     ServerConfig
	store   *Store
	metrics *Metrics
	logger  *slog.Logger

	httpServer *http.Server
	listener   net.Listener
	running    atomic.Bool
}

// NewServer builds a mailbox server backed by store.
func NewServer(cfg ServerConfig, store *Store, metrics *Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultLongPollMs == 0 {
		cfg.DefaultLongPollMs = 25_000
	}
	if cfg.MaxLongPollMs == 0 {
		cfg.MaxLongPollMs = 60_000
	}
	s := &Server{cfg: cfg, store: store, metrics: metrics, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/mailbox/", s.handleMailbox)
	mux.HandleFunc("/health", s.handleHealth)
	if metrics != nil {
		mux.Handle("/metrics", promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start begins listening and serving in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)
	go func() {
		defer recovery.RecoverWithLog(s.logger, "mailbox.httpServer.Serve")
		s.httpServer.Serve(ln)
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's bound listen address.
func (s *Server) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

func (s *Server) handleMailbox(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Authenticate != nil && !s.cfg.Authenticate(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	recipientHex := strings.TrimPrefix(r.URL.Path, "/v1/mailbox/")
	recipient, err := decodeRecipient(recipientHex)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if s.cfg.RateLimit != nil {
		if retryAfter, err := s.cfg.RateLimit(recipientHex, time.Now()); err != nil {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
	}

	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r, recipient)
	case http.MethodGet:
		s.handleGet(w, r, recipient)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request, recipient [32]byte) {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.store.cfg.MaxEnvelopeSize)+1))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	now := time.Now()
	if err := s.store.Post(recipient, body, now); err != nil {
		switch err {
		case ErrEnvelopeTooLarge:
			s.countError("too_large")
			w.WriteHeader(http.StatusRequestEntityTooLarge)
		case ErrQueueFull:
			s.countError("queue_full")
			w.WriteHeader(http.StatusInsufficientStorage)
		default:
			s.countError("unknown")
			w.WriteHeader(http.StatusBadRequest)
		}
		return
	}
	if s.metrics != nil {
		s.metrics.EnvelopesPosted.Inc()
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, recipient [32]byte) {
	waitMs := s.cfg.DefaultLongPollMs
	if v := r.URL.Query().Get("wait_ms"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			waitMs = parsed
		}
	}
	if waitMs > s.cfg.MaxLongPollMs {
		waitMs = s.cfg.MaxLongPollMs
	}
	if waitMs < 0 {
		waitMs = 0
	}

	payload, seq, queueLen, ok := s.store.Poll(recipient, time.Duration(waitMs)*time.Millisecond, time.Now())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if s.metrics != nil {
		s.metrics.EnvelopesDelivered.Inc()
	}
	w.Header().Set("X-Message-Sequence", strconv.FormatUint(seq, 10))
	w.Header().Set("X-Queue-Length", strconv.Itoa(queueLen))
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) countError(reason string) {
	if s.metrics != nil {
		s.metrics.PostErrors.WithLabelValues(reason).Inc()
	}
}

func decodeRecipient(s string) ([32]byte, error) {
	var id [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return id, errBadRecipientHex
	}
	copy(id[:], b)
	return id, nil
}

var errBadRecipientHex = recipientHexError{}

type recipientHexError struct{}

func (recipientHexError) Error() string { return "mailbox: malformed recipient_id hex" }
