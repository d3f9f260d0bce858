package session

import (
	"errors"
	"sync"
	"time"

	"github.com/zrcore/zrc/internal/crypto"
	"github.com/zrcore/zrc/internal/pairing"
	"github.com/zrcore/zrc/internal/policy"
	"github.com/zrcore/zrc/internal/ticket"
)

// HostState is a state in the host side of the session-establishment
// protocol (spec §4.7).
type HostState int

const (
	HostIdle HostState = iota
	HostAuthorising
	HostAccepted
	HostStreaming
	HostClosed
)

func (s HostState) String() string {
	switch s {
	case HostIdle:
		return "Idle"
	case HostAuthorising:
		return "Authorising"
	case HostAccepted:
		return "Accepted"
	case HostStreaming:
		return "Streaming"
	case HostClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ControllerState is a state in the controller side of the session
// establishment protocol.
type ControllerState int

const (
	ControllerIdle ControllerState = iota
	ControllerRequested
	ControllerNegotiated
	ControllerConnecting
	ControllerStreaming
	ControllerClosed
)

func (s ControllerState) String() string {
	switch s {
	case ControllerIdle:
		return "Idle"
	case ControllerRequested:
		return "Requested"
	case ControllerNegotiated:
		return "Negotiated"
	case ControllerConnecting:
		return "Connecting"
	case ControllerStreaming:
		return "Streaming"
	case ControllerClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

var (
	ErrWrongState           = errors.New("session: operation invalid in current state")
	ErrSessionAlreadyActive = errors.New("session: pairing already has an active session")
	ErrRateLimited          = errors.New("session: request rate limited")
)

// CloseReason records why a session transitioned to Closed, for audit and
// diagnostics; it is never surfaced verbatim to the end user (spec §7).
type CloseReason string

const (
	CloseReasonPolicyDenied   CloseReason = "policy-denied"
	CloseReasonTransportFailed CloseReason = "transport-failed"
	CloseReasonAuthFailed     CloseReason = "auth-failed"
	CloseReasonLocal          CloseReason = "local-close"
	CloseReasonTimeout        CloseReason = "timeout"
)

// HostMachine drives one session-establishment attempt from the host's
// side. State transitions are serialised under a single mutex per
// spec §5's per-endpoint linearisation requirement.
type HostMachine struct {
	mu     sync.Mutex
	state  HostState
	record *pairing.PairingRecord
	req    SessionInitRequest
	ticket *ticket.Ticket
	reason CloseReason

	// HasActiveSession reports whether record's pairing already has a
	// Streaming session elsewhere, enforcing the one-session-per-pairing
	// invariant (spec open question: one active session per pairing).
	HasActiveSession func(deviceID, operatorID [32]byte) bool

	// RateLimit, if set, is consulted by Authorise before signature
	// verification, enforcing spec §4.11's 10/min session-establishment
	// cap per device.
	RateLimit func(deviceID, operatorID [32]byte, now time.Time) (retryAfter time.Duration, err error)
}

// NewHostMachine starts a host machine in the Idle state for record.
func NewHostMachine(record *pairing.PairingRecord) *HostMachine {
	return &HostMachine{state: HostIdle, record: record}
}

// State returns the current state.
func (m *HostMachine) State() HostState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CloseReason returns the reason the machine closed, if it has.
func (m *HostMachine) CloseReason() CloseReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Authorise transitions Idle -> Authorising after verifying req's
// signature and enforcing the single-active-session invariant.
func (m *HostMachine) Authorise(req SessionInitRequest, operatorSignPub [crypto.Ed25519PublicKeySize]byte, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != HostIdle {
		return ErrWrongState
	}
	if m.RateLimit != nil {
		if _, err := m.RateLimit(m.record.DeviceID, m.record.OperatorID, now); err != nil {
			m.state = HostClosed
			m.reason = CloseReasonPolicyDenied
			return ErrRateLimited
		}
	}
	if err := VerifyRequest(req, operatorSignPub); err != nil {
		m.state = HostClosed
		m.reason = CloseReasonAuthFailed
		return err
	}
	if m.HasActiveSession != nil && m.HasActiveSession(m.record.DeviceID, m.record.OperatorID) {
		m.state = HostClosed
		m.reason = CloseReasonPolicyDenied
		return ErrSessionAlreadyActive
	}
	m.req = req
	m.state = HostAuthorising
	return nil
}

// Decide evaluates the policy engine against req and, on approval,
// issues a SessionTicket and transitions Authorising -> Accepted. On
// denial it transitions to Closed and returns the policy error.
func (m *HostMachine) Decide(engine *policy.Engine, now time.Time, deviceSignPriv [crypto.Ed25519PrivateKeySize]byte, pairingSessionBinding [32]byte, notAfterTTL time.Duration) (*ticket.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != HostAuthorising {
		return nil, ErrWrongState
	}

	effective, err := engine.Decide(m.record.OperatorID, m.req.RequestedCapabilities, m.record.PermissionsGranted, now)
	if err != nil {
		m.state = HostClosed
		m.reason = CloseReasonPolicyDenied
		return nil, err
	}

	binding, err := ticket.DeriveSessionBinding(m.req.TicketBindingNonce, pairingSessionBinding, m.req.SessionID)
	if err != nil {
		m.state = HostClosed
		m.reason = CloseReasonAuthFailed
		return nil, err
	}

	tk, err := ticket.IssueWithBindingNonce(deviceSignPriv, m.req.TicketBindingNonce, binding, effective, now, now.Add(notAfterTTL))
	if err != nil {
		return nil, err
	}
	m.ticket = tk
	m.state = HostAccepted
	return tk, nil
}

// Reject transitions Authorising -> Closed, e.g. on explicit user denial.
func (m *HostMachine) Reject() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != HostAuthorising {
		return ErrWrongState
	}
	m.state = HostClosed
	m.reason = CloseReasonPolicyDenied
	return nil
}

// BeginStreaming transitions Accepted -> Streaming once the controller
// has connected and presented a verified ticket on the control channel.
func (m *HostMachine) BeginStreaming() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != HostAccepted {
		return ErrWrongState
	}
	m.state = HostStreaming
	return nil
}

// Close transitions to Closed from any non-terminal state, recording reason.
func (m *HostMachine) Close(reason CloseReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == HostClosed {
		return
	}
	m.state = HostClosed
	m.reason = reason
}

// ControllerMachine drives one session-establishment attempt from the
// controller's side.
type ControllerMachine struct {
	mu      sync.Mutex
	state   ControllerState
	req     SessionInitRequest
	ticket  *ticket.Ticket
	transport TransportKind
	reason  CloseReason
}

// NewControllerMachine starts a controller machine in the Idle state.
func NewControllerMachine() *ControllerMachine {
	return &ControllerMachine{state: ControllerIdle}
}

// State returns the current state.
func (m *ControllerMachine) State() ControllerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CloseReason returns the reason the machine closed, if it has.
func (m *ControllerMachine) CloseReason() CloseReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// SendRequest records req and transitions Idle -> Requested.
func (m *ControllerMachine) SendRequest(req SessionInitRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ControllerIdle {
		return ErrWrongState
	}
	m.req = req
	m.state = ControllerRequested
	return nil
}

// ReceiveNegotiation validates the device's ticket signature and the
// derived session binding, then transitions Requested -> Negotiated.
func (m *ControllerMachine) ReceiveNegotiation(neg TransportNegotiation, deviceSignPub [crypto.Ed25519PublicKeySize]byte, now time.Time, clockSkew time.Duration, pairingSessionBinding [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ControllerRequested {
		return ErrWrongState
	}
	if err := ticket.Verify(neg.Ticket, deviceSignPub, now, clockSkew); err != nil {
		m.state = ControllerClosed
		m.reason = CloseReasonAuthFailed
		return err
	}
	expectedBinding, err := ticket.DeriveSessionBinding(neg.Ticket.BindingNonce, pairingSessionBinding, m.req.SessionID)
	if err != nil {
		m.state = ControllerClosed
		m.reason = CloseReasonAuthFailed
		return err
	}
	if expectedBinding != neg.Ticket.SessionBinding {
		m.state = ControllerClosed
		m.reason = CloseReasonAuthFailed
		return ErrRequestBadSignature
	}
	m.ticket = neg.Ticket
	m.state = ControllerNegotiated
	return nil
}

// BeginConnecting transitions Negotiated -> Connecting once the
// controller starts attempting the transport ladder.
func (m *ControllerMachine) BeginConnecting() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ControllerNegotiated {
		return ErrWrongState
	}
	m.state = ControllerConnecting
	return nil
}

// ConnectionEstablished transitions Connecting -> Streaming, recording
// which transport rung succeeded.
func (m *ControllerMachine) ConnectionEstablished(t TransportKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ControllerConnecting {
		return ErrWrongState
	}
	m.transport = t
	m.state = ControllerStreaming
	return nil
}

// Close transitions to Closed from any non-terminal state, recording
// reason. Per spec §4.7, a closed session is never automatically
// retried; the caller decides whether to start a fresh request.
func (m *ControllerMachine) Close(reason CloseReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == ControllerClosed {
		return
	}
	m.state = ControllerClosed
	m.reason = reason
}
