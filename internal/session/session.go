// Package session implements the session-establishment state machines
// (spec §4.7): the controller's SessionInitRequest, the host's policy
// evaluation and ticket issuance, and the shared transcript that binds a
// session to the pairing it descends from.
package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/zrcore/zrc/internal/crypto"
	"github.com/zrcore/zrc/internal/ticket"
	"github.com/zrcore/zrc/internal/transcript"
)

const (
	IDSize = 16

	requestTranscriptLabel = "zrc-session-init-v1"
)

var (
	ErrRequestBadSignature   = errors.New("session: operator_signature verification failed")
	ErrCancelled             = errors.New("session: reconnection cancelled")
	ErrMaxAttemptsExceeded   = errors.New("session: reconnection attempts exhausted")
	ErrAllTransportsFailed   = errors.New("session: every transport rung failed")
)

// Capability bits requested in a SessionInitRequest. Mirrors the
// permission bits policy.Engine evaluates against.
const (
	CapView uint64 = 1 << iota
	CapControl
	CapClipboard
	CapFileTransfer
	CapAudio
)

// TransportKind names one rung of the transport ladder, in the order a
// controller tries them.
type TransportKind string

const (
	TransportDirect  TransportKind = "direct"
	TransportRelay   TransportKind = "relay"
	TransportMailbox TransportKind = "mailbox"
)

// SessionInitRequest is built by the controller and sealed to the
// device's pinned kex key, then posted to the mailbox.
type SessionInitRequest struct {
	OperatorID           [32]byte
	DeviceID             [32]byte
	SessionID            [IDSize]byte
	RequestedCapabilities uint64
	TransportPreference  []TransportKind
	TicketBindingNonce   [ticket.BindingNonceSize]byte
	CreatedAt            time.Time
	OperatorSignature    [crypto.Ed25519SignatureSize]byte
}

func requestTranscript(r SessionInitRequest) []byte {
	b := transcript.New(requestTranscriptLabel).
		AppendBytes(1, r.OperatorID[:]).
		AppendBytes(2, r.DeviceID[:]).
		AppendBytes(3, r.SessionID[:]).
		AppendU64(4, r.RequestedCapabilities).
		AppendU64(5, uint64(r.CreatedAt.Unix())).
		AppendBytes(6, r.TicketBindingNonce[:])
	for i, t := range r.TransportPreference {
		b.AppendString(uint32(100+i), string(t))
	}
	return b.Bytes()
}

// NewSessionInitRequest builds and signs a fresh request with a random
// session_id and ticket_binding_nonce.
func NewSessionInitRequest(operatorSignPriv [crypto.Ed25519PrivateKeySize]byte, operatorID, deviceID [32]byte, requestedCapabilities uint64, transportPreference []TransportKind) (SessionInitRequest, error) {
	var sessionID [IDSize]byte
	if _, err := rand.Read(sessionID[:]); err != nil {
		return SessionInitRequest{}, fmt.Errorf("generate session_id: %w", err)
	}
	var bindingNonce [ticket.BindingNonceSize]byte
	if _, err := rand.Read(bindingNonce[:]); err != nil {
		return SessionInitRequest{}, fmt.Errorf("generate ticket_binding_nonce: %w", err)
	}

	r := SessionInitRequest{
		OperatorID:            operatorID,
		DeviceID:              deviceID,
		SessionID:             sessionID,
		RequestedCapabilities: requestedCapabilities,
		TransportPreference:   transportPreference,
		TicketBindingNonce:    bindingNonce,
		CreatedAt:             time.Now(),
	}
	digest := crypto.SHA256(requestTranscript(r))
	r.OperatorSignature = crypto.Sign(operatorSignPriv, digest[:])
	return r, nil
}

// VerifyRequest checks a request's operator_signature.
func VerifyRequest(r SessionInitRequest, operatorSignPub [crypto.Ed25519PublicKeySize]byte) error {
	digest := crypto.SHA256(requestTranscript(r))
	if !crypto.Verify(operatorSignPub, digest[:], r.OperatorSignature) {
		return ErrRequestBadSignature
	}
	return nil
}

// TransportNegotiation is the host's response listing endpoints in
// preference order alongside the issued ticket.
type TransportNegotiation struct {
	Ticket       *ticket.Ticket
	Endpoints    []TransportEndpoint
}

// TransportEndpoint describes one reachable rung of the transport ladder.
type TransportEndpoint struct {
	Kind TransportKind
	Addr string
	// CertFingerprint pins the direct-QUIC self-signed certificate
	// (spec §4.7); empty for non-direct rungs.
	CertFingerprint [32]byte
}
