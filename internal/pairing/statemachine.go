package pairing

import (
	"errors"
	"sync"
	"time"

	"github.com/zrcore/zrc/internal/crypto"
)

// HostState is a state in the host side of the pairing protocol (spec §4.6).
type HostState int

const (
	HostReady HostState = iota
	HostInviteGenerated
	HostAwaitingRequest
	HostPendingConsent
	HostAwaitingConfirm
	HostPaired
	HostRejected
	HostExpired
)

func (s HostState) String() string {
	switch s {
	case HostReady:
		return "Ready"
	case HostInviteGenerated:
		return "InviteGenerated"
	case HostAwaitingRequest:
		return "AwaitingRequest"
	case HostPendingConsent:
		return "PendingConsent"
	case HostAwaitingConfirm:
		return "AwaitingConfirm"
	case HostPaired:
		return "Paired"
	case HostRejected:
		return "Rejected"
	case HostExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// ControllerState is a state in the controller side of the pairing protocol.
type ControllerState int

const (
	ControllerReady ControllerState = iota
	ControllerInviteImported
	ControllerRequestSent
	ControllerAwaitingReceipt
	ControllerSasPresented
	ControllerPaired
	ControllerRejected
	ControllerExpired
)

func (s ControllerState) String() string {
	switch s {
	case ControllerReady:
		return "Ready"
	case ControllerInviteImported:
		return "InviteImported"
	case ControllerRequestSent:
		return "RequestSent"
	case ControllerAwaitingReceipt:
		return "AwaitingReceipt"
	case ControllerSasPresented:
		return "SasPresented"
	case ControllerPaired:
		return "Paired"
	case ControllerRejected:
		return "Rejected"
	case ControllerExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

var (
	ErrWrongState   = errors.New("pairing: operation invalid in current state")
	ErrRateLimited  = errors.New("pairing: request rate limited")
)

// HostMachine drives one pairing attempt from the host's perspective. State
// transitions are serialised under a single mutex per spec §5's
// per-endpoint linearisation requirement.
type HostMachine struct {
	mu     sync.Mutex
	state  HostState
	secret [SecretSize]byte
	invite Invite
	req    PairRequest
	sas    string

	// RateLimit, if set, is consulted by ReceiveRequest before validating
	// the invite proof, enforcing spec §4.11's 3/min pairing-request cap
	// per device. Returning a non-nil error rejects the request and
	// leaves the state machine in AwaitingRequest so the caller can retry
	// after the returned backoff.
	RateLimit func(deviceID [32]byte, now time.Time) (retryAfter time.Duration, err error)
}

// NewHostMachine starts a host machine in the Ready state.
func NewHostMachine() *HostMachine {
	return &HostMachine{state: HostReady}
}

// State returns the current state.
func (m *HostMachine) State() HostState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GenerateInvite transitions Ready -> InviteGenerated.
func (m *HostMachine) GenerateInvite(deviceID [32]byte, deviceSignPub [32]byte, ttl time.Duration, hints []string) (Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != HostReady {
		return Invite{}, ErrWrongState
	}
	invite, secret, err := NewInvite(deviceID, deviceSignPub, ttl, hints)
	if err != nil {
		return Invite{}, err
	}
	m.invite = invite
	m.secret = secret
	m.state = HostInviteGenerated
	return invite, nil
}

// AwaitRequest transitions InviteGenerated -> AwaitingRequest.
func (m *HostMachine) AwaitRequest() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != HostInviteGenerated {
		return ErrWrongState
	}
	m.state = HostAwaitingRequest
	return nil
}

// ReceiveRequest validates an incoming PairRequest's invite proof and invite
// expiry, then transitions AwaitingRequest -> PendingConsent on success, or
// -> Rejected/Expired on failure.
func (m *HostMachine) ReceiveRequest(req PairRequest, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != HostAwaitingRequest {
		return ErrWrongState
	}
	if m.RateLimit != nil {
		if _, err := m.RateLimit(m.invite.DeviceID, now); err != nil {
			return ErrRateLimited
		}
	}
	if m.invite.Expired(now) {
		m.state = HostExpired
		return ErrInviteExpired
	}
	if !VerifyInviteProof(req, m.secret, m.invite.DeviceID) {
		m.state = HostRejected
		return ErrInviteProofMismatch
	}
	m.req = req
	m.state = HostPendingConsent
	return nil
}

// ApproveConsent transitions PendingConsent -> AwaitingConfirm, building the
// receipt and SAS the host will display and send back.
func (m *HostMachine) ApproveConsent(deviceSignPriv [crypto.Ed25519PrivateKeySize]byte, grantedPermissions uint64, sharedSecret [32]byte) (PairReceipt, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != HostPendingConsent {
		return PairReceipt{}, "", ErrWrongState
	}
	sessionBinding, err := DeriveSessionBinding(sharedSecret, m.req.Nonce)
	if err != nil {
		return PairReceipt{}, "", err
	}
	receipt := NewPairReceipt(deviceSignPriv, m.invite.DeviceID, m.req.OperatorID, grantedPermissions, sessionBinding)
	sas := ComputeSAS(m.invite.DeviceID, m.req.OperatorID, receipt.SessionBindingHint)
	m.sas = sas
	m.state = HostAwaitingConfirm
	return receipt, sas, nil
}

// RejectConsent transitions PendingConsent -> Rejected.
func (m *HostMachine) RejectConsent() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != HostPendingConsent {
		return ErrWrongState
	}
	m.state = HostRejected
	return nil
}

// ConfirmPairing transitions AwaitingConfirm -> Paired on receipt of
// PairConfirm, or -> Rejected on a reported SAS mismatch.
func (m *HostMachine) ConfirmPairing(sasMatched bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != HostAwaitingConfirm {
		return ErrWrongState
	}
	if !sasMatched {
		m.state = HostRejected
		return ErrSASMismatch
	}
	m.state = HostPaired
	return nil
}

// ControllerMachine drives one pairing attempt from the controller's
// perspective.
type ControllerMachine struct {
	mu      sync.Mutex
	state   ControllerState
	invite  Invite
	secret  [SecretSize]byte
	req     PairRequest
	receipt PairReceipt
	sas     string
}

// NewControllerMachine starts a controller machine in the Ready state.
func NewControllerMachine() *ControllerMachine {
	return &ControllerMachine{state: ControllerReady}
}

// State returns the current state.
func (m *ControllerMachine) State() ControllerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ImportInvite transitions Ready -> InviteImported.
func (m *ControllerMachine) ImportInvite(invite Invite, secret [SecretSize]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ControllerReady {
		return ErrWrongState
	}
	m.invite = invite
	m.secret = secret
	m.state = ControllerInviteImported
	return nil
}

// SendRequest builds a PairRequest and transitions InviteImported -> RequestSent.
func (m *ControllerMachine) SendRequest(operatorID [32]byte, operatorSignPub [32]byte, operatorKexPub [32]byte, requestedPermissions uint64) (PairRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ControllerInviteImported {
		return PairRequest{}, ErrWrongState
	}
	req, err := NewPairRequest(m.invite, m.secret, operatorID, operatorSignPub, operatorKexPub, requestedPermissions)
	if err != nil {
		return PairRequest{}, err
	}
	m.req = req
	m.state = ControllerRequestSent
	return req, nil
}

// AwaitReceipt transitions RequestSent -> AwaitingReceipt.
func (m *ControllerMachine) AwaitReceipt() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ControllerRequestSent {
		return ErrWrongState
	}
	m.state = ControllerAwaitingReceipt
	return nil
}

// ReceiveReceipt validates the device signature, independently re-derives
// the session_binding, and checks it against the receipt's hint. On
// success transitions AwaitingReceipt -> SasPresented.
func (m *ControllerMachine) ReceiveReceipt(receipt PairReceipt, sharedSecret [32]byte) (sessionBinding [32]byte, sas string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ControllerAwaitingReceipt {
		return sessionBinding, "", ErrWrongState
	}
	if err := VerifyReceipt(receipt, m.invite.DeviceSignPub); err != nil {
		m.state = ControllerRejected
		return sessionBinding, "", err
	}
	sessionBinding, err = DeriveSessionBinding(sharedSecret, m.req.Nonce)
	if err != nil {
		return sessionBinding, "", err
	}
	hint := crypto.SHA256(sessionBinding[:])
	if hint != receipt.SessionBindingHint {
		m.state = ControllerRejected
		return sessionBinding, "", ErrSessionBindingMismatch
	}
	m.receipt = receipt
	sas = ComputeSAS(m.invite.DeviceID, m.req.OperatorID, receipt.SessionBindingHint)
	m.sas = sas
	m.state = ControllerSasPresented
	return sessionBinding, sas, nil
}

// ConfirmSAS transitions SasPresented -> Paired if the user confirms both
// displayed SAS values matched, or -> Rejected otherwise.
func (m *ControllerMachine) ConfirmSAS(userConfirmedMatch bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ControllerSasPresented {
		return ErrWrongState
	}
	if !userConfirmedMatch {
		m.state = ControllerRejected
		return ErrSASMismatch
	}
	m.state = ControllerPaired
	return nil
}
