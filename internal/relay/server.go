package relay

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zrcore/zrc/internal/crypto"
	"github.com/zrcore/zrc/internal/recovery"
)

// ALPNProtocol identifies the relay wire protocol during the QUIC
// handshake (spec §6).
const ALPNProtocol = "zrc-relay"

const (
	keepAlivePeriod = 15 * time.Second
	idleTimeout     = 30 * time.Second
)

// ServerConfig configures the relay QUIC server.
type ServerConfig struct {
	Address        string
	TLSConfig      *tls.Config
	AllocationTTL  time.Duration
	MaxAllocations int
}

// tokenMessage is the wire form of Token carried on the first bidi stream
// of a new connection.
type tokenMessage struct {
	RelayID        [16]byte `json:"relay_id"`
	AllocationID   [16]byte `json:"allocation_id"`
	DeviceID       [32]byte `json:"device_id"`
	PeerID         [32]byte `json:"peer_id"`
	ExpiresAtUnix  int64    `json:"expires_at"`
	BandwidthLimit uint32   `json:"bandwidth_limit"`
	QuotaBytes     uint64   `json:"quota_bytes"`
	Signature      [64]byte `json:"signature"`
}

func (m tokenMessage) toToken() Token {
	return Token{
		RelayID:        m.RelayID,
		AllocationID:   m.AllocationID,
		DeviceID:       m.DeviceID,
		PeerID:         m.PeerID,
		ExpiresAt:      time.Unix(m.ExpiresAtUnix, 0),
		BandwidthLimit: m.BandwidthLimit,
		QuotaBytes:     m.QuotaBytes,
		Signature:      m.Signature,
	}
}

type allocationResponse struct {
	Status string `json:"status"` // "allocation_accepted" or "error"
	Reason string `json:"reason,omitempty"`
}

// DevicePublicKeyLookup resolves a device's signing public key, e.g. from
// a directory or pairing record store, so the server can verify a relay
// token without the caller pre-pinning every device.
type DevicePublicKeyLookup func(deviceID [32]byte) ([crypto.Ed25519PublicKeySize]byte, bool)

// Server accepts relay connections, verifies their opening token, and pumps
// bytes between the two legs of each resulting allocation.
type Server struct {
	cfg       ServerConfig
	manager   *Manager
	bandwidth *BandwidthLimiter
	verifier  *TokenVerifier
	forwarder *Forwarder
	lookup    DevicePublicKeyLookup
	logger    *slog.Logger

	mu       sync.Mutex
	pending  map[[16]byte]*pendingAllocation
	listener *quic.Listener
}

type pendingAllocation struct {
	deviceConn quic.Connection
	peerConn   quic.Connection
	ready      chan struct{}
	closeOnce  sync.Once
}

// NewServer builds a relay server over cfg, backed by manager for
// allocation bookkeeping and lookup for resolving a token's claimed device
// to its signing key.
func NewServer(cfg ServerConfig, manager *Manager, bandwidth *BandwidthLimiter, metrics *Metrics, lookup DevicePublicKeyLookup, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		manager:   manager,
		bandwidth: bandwidth,
		verifier:  NewTokenVerifier(),
		forwarder: NewForwarder(manager, bandwidth, metrics, logger),
		lookup:    lookup,
		logger:    logger,
		pending:   make(map[[16]byte]*pendingAllocation),
	}
}

// Serve listens and accepts connections until ctx is cancelled or Close is
// called.
func (s *Server) Serve(ctx context.Context) error {
	tlsConfig := s.cfg.TLSConfig
	if tlsConfig == nil {
		return errors.New("relay: TLS config required")
	}
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig = tlsConfig.Clone()
	}
	tlsConfig.NextProtos = []string{ALPNProtocol}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: keepAlivePeriod,
	}

	ln, err := quic.ListenAddr(s.cfg.Address, tlsConfig, quicConfig)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			return err
		}
		go func() {
			defer recovery.RecoverWithLog(s.logger, "relay.handleConnection")
			s.handleConnection(ctx, conn)
		}()
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// Address returns the server's bound listen address.
func (s *Server) Address() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConnection(ctx context.Context, conn quic.Connection) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "no opening stream")
		return
	}

	var msg tokenMessage
	if err := json.NewDecoder(stream).Decode(&msg); err != nil {
		s.reject(stream, "malformed token")
		conn.CloseWithError(1, "malformed token")
		return
	}
	token := msg.toToken()

	devicePub, ok := s.resolveDeviceKey(token.DeviceID)
	if !ok {
		s.reject(stream, "unknown device")
		conn.CloseWithError(2, "unknown device")
		return
	}

	now := time.Now()
	if err := s.verifier.Verify(&token, devicePub, now); err != nil {
		s.reject(stream, err.Error())
		conn.CloseWithError(3, "token rejected")
		return
	}

	alloc, err := s.manager.Create(&token, now)
	if err != nil {
		s.reject(stream, err.Error())
		conn.CloseWithError(4, "allocation failed")
		return
	}

	s.accept(stream)
	s.joinAllocation(ctx, alloc.ID, conn, stream)
}

func (s *Server) resolveDeviceKey(deviceID [32]byte) ([crypto.Ed25519PublicKeySize]byte, bool) {
	if pub, ok := s.verifier.PinnedKey(deviceID); ok {
		return pub, true
	}
	if s.lookup != nil {
		return s.lookup(deviceID)
	}
	var zero [crypto.Ed25519PublicKeySize]byte
	return zero, false
}

func (s *Server) reject(stream quic.Stream, reason string) {
	_ = json.NewEncoder(stream).Encode(allocationResponse{Status: "error", Reason: reason})
	stream.Close()
}

func (s *Server) accept(stream quic.Stream) {
	_ = json.NewEncoder(stream).Encode(allocationResponse{Status: "allocation_accepted"})
}

// joinAllocation pairs this connection with its allocation's other leg (if
// already waiting) and starts the bidirectional pump once both legs are
// present.
func (s *Server) joinAllocation(ctx context.Context, allocationID [16]byte, conn quic.Connection, controlStream quic.Stream) {
	s.mu.Lock()
	pending, exists := s.pending[allocationID]
	fromDevice := !exists // first arrival is treated as the device leg
	if !exists {
		pending = &pendingAllocation{ready: make(chan struct{})}
		s.pending[allocationID] = pending
	}
	if fromDevice {
		pending.deviceConn = conn
	} else {
		pending.peerConn = conn
	}
	bothPresent := pending.deviceConn != nil && pending.peerConn != nil
	s.mu.Unlock()

	if bothPresent {
		pending.closeOnce.Do(func() { close(pending.ready) })
		s.pumpBothDirections(ctx, allocationID, pending)
		return
	}

	select {
	case <-pending.ready:
		s.mu.Lock()
		p := s.pending[allocationID]
		s.mu.Unlock()
		if p != nil {
			s.pumpBothDirections(ctx, allocationID, p)
		}
	case <-ctx.Done():
	case <-conn.Context().Done():
	}
}

func (s *Server) pumpBothDirections(ctx context.Context, allocationID [16]byte, p *pendingAllocation) {
	deviceStream, err := p.deviceConn.AcceptStream(ctx)
	if err != nil {
		return
	}
	peerStream, err := p.peerConn.AcceptStream(ctx)
	if err != nil {
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer recovery.RecoverWithLog(s.logger, "relay.pump.deviceToPeer")
		s.forwarder.Pump(allocationID, true, deviceStream, peerStream)
	}()
	go func() {
		defer wg.Done()
		defer recovery.RecoverWithLog(s.logger, "relay.pump.peerToDevice")
		s.forwarder.Pump(allocationID, false, peerStream, deviceStream)
	}()
	wg.Wait()

	s.mu.Lock()
	delete(s.pending, allocationID)
	s.mu.Unlock()
	s.manager.Remove(allocationID)
}
