package session

import (
	"testing"
	"time"

	"github.com/zrcore/zrc/internal/crypto"
	"github.com/zrcore/zrc/internal/pairing"
	"github.com/zrcore/zrc/internal/policy"
	"github.com/zrcore/zrc/internal/ratelimit"
)

func newTestPairing(t *testing.T, permissions uint64) (*pairing.PairingRecord, *crypto.SigningKeypair, *crypto.SigningKeypair) {
	t.Helper()
	device := mustSigningKeypair(t)
	operator := mustSigningKeypair(t)

	var operatorID, deviceID, binding [32]byte
	operatorID[0] = 0xAA
	deviceID[0] = 0xBB
	binding[0] = 0xCC

	record := &pairing.PairingRecord{
		DeviceID:           deviceID,
		OperatorID:         operatorID,
		DeviceSignPub:      device.PublicKey,
		OperatorSignPub:    operator.PublicKey,
		PermissionsGranted: permissions,
		SessionBinding:     binding,
		PairedAt:           time.Now(),
	}
	return record, device, operator
}

func TestSessionHappyPath_DirectTransport(t *testing.T) {
	record, device, operator := newTestPairing(t, CapView|CapControl|policy.PermUnattended)

	req, err := NewSessionInitRequest(operator.PrivateKey, record.OperatorID, record.DeviceID, CapView|CapControl, []TransportKind{TransportDirect, TransportRelay})
	if err != nil {
		t.Fatalf("NewSessionInitRequest: %v", err)
	}

	host := NewHostMachine(record)
	if err := host.Authorise(req, operator.PublicKey, time.Now()); err != nil {
		t.Fatalf("Authorise: %v", err)
	}
	if host.State() != HostAuthorising {
		t.Fatalf("host state = %v, want Authorising", host.State())
	}

	engine := &policy.Engine{Mode: policy.UnattendedAllowed, Limits: policy.AllPermissions}
	tk, err := host.Decide(engine, time.Now(), device.PrivateKey, record.SessionBinding, 5*time.Minute)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if host.State() != HostAccepted {
		t.Fatalf("host state = %v, want Accepted", host.State())
	}

	ctrl := NewControllerMachine()
	if err := ctrl.SendRequest(req); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	neg := TransportNegotiation{
		Ticket: tk,
		Endpoints: []TransportEndpoint{
			{Kind: TransportDirect, Addr: "127.0.0.1:4433"},
		},
	}
	if err := ctrl.ReceiveNegotiation(neg, device.PublicKey, time.Now(), time.Minute, record.SessionBinding); err != nil {
		t.Fatalf("ReceiveNegotiation: %v", err)
	}
	if ctrl.State() != ControllerNegotiated {
		t.Fatalf("controller state = %v, want Negotiated", ctrl.State())
	}

	if err := ctrl.BeginConnecting(); err != nil {
		t.Fatalf("BeginConnecting: %v", err)
	}
	if err := ctrl.ConnectionEstablished(TransportDirect); err != nil {
		t.Fatalf("ConnectionEstablished: %v", err)
	}
	if ctrl.State() != ControllerStreaming {
		t.Fatalf("controller state = %v, want Streaming", ctrl.State())
	}

	if err := host.BeginStreaming(); err != nil {
		t.Fatalf("BeginStreaming: %v", err)
	}
	if host.State() != HostStreaming {
		t.Fatalf("host state = %v, want Streaming", host.State())
	}
}

func TestHostMachine_AuthoriseWrongStateErrors(t *testing.T) {
	record, _, operator := newTestPairing(t, CapView)
	req, err := NewSessionInitRequest(operator.PrivateKey, record.OperatorID, record.DeviceID, CapView, nil)
	if err != nil {
		t.Fatalf("NewSessionInitRequest: %v", err)
	}
	host := NewHostMachine(record)
	if err := host.Authorise(req, operator.PublicKey, time.Now()); err != nil {
		t.Fatalf("Authorise: %v", err)
	}
	if err := host.Authorise(req, operator.PublicKey, time.Now()); err != ErrWrongState {
		t.Fatalf("second Authorise() error = %v, want ErrWrongState", err)
	}
}

func TestHostMachine_AuthoriseRejectsBadSignature(t *testing.T) {
	record, _, operator := newTestPairing(t, CapView)
	other := mustSigningKeypair(t)
	req, err := NewSessionInitRequest(other.PrivateKey, record.OperatorID, record.DeviceID, CapView, nil)
	if err != nil {
		t.Fatalf("NewSessionInitRequest: %v", err)
	}
	host := NewHostMachine(record)
	if err := host.Authorise(req, operator.PublicKey, time.Now()); err != ErrRequestBadSignature {
		t.Fatalf("Authorise() error = %v, want ErrRequestBadSignature", err)
	}
	if host.State() != HostClosed {
		t.Fatalf("host state = %v, want Closed", host.State())
	}
	if host.CloseReason() != CloseReasonAuthFailed {
		t.Fatalf("close reason = %v, want CloseReasonAuthFailed", host.CloseReason())
	}
}

func TestHostMachine_AuthoriseRejectsActiveSession(t *testing.T) {
	record, _, operator := newTestPairing(t, CapView)
	req, err := NewSessionInitRequest(operator.PrivateKey, record.OperatorID, record.DeviceID, CapView, nil)
	if err != nil {
		t.Fatalf("NewSessionInitRequest: %v", err)
	}
	host := NewHostMachine(record)
	host.HasActiveSession = func(deviceID, operatorID [32]byte) bool { return true }
	if err := host.Authorise(req, operator.PublicKey, time.Now()); err != ErrSessionAlreadyActive {
		t.Fatalf("Authorise() error = %v, want ErrSessionAlreadyActive", err)
	}
}

func TestHostMachine_AuthoriseRejectsRateLimited(t *testing.T) {
	record, _, operator := newTestPairing(t, CapView)
	req, err := NewSessionInitRequest(operator.PrivateKey, record.OperatorID, record.DeviceID, CapView, nil)
	if err != nil {
		t.Fatalf("NewSessionInitRequest: %v", err)
	}
	host := NewHostMachine(record)
	host.RateLimit = func(deviceID, operatorID [32]byte, now time.Time) (time.Duration, error) {
		return time.Minute, ratelimit.ErrRejected
	}
	if err := host.Authorise(req, operator.PublicKey, time.Now()); err != ErrRateLimited {
		t.Fatalf("Authorise() error = %v, want ErrRateLimited", err)
	}
	if host.State() != HostClosed {
		t.Fatalf("host state = %v, want Closed", host.State())
	}
	if host.CloseReason() != CloseReasonPolicyDenied {
		t.Fatalf("close reason = %v, want CloseReasonPolicyDenied", host.CloseReason())
	}
}

func TestHostMachine_DecideRejectsPermissionEscalation(t *testing.T) {
	record, device, operator := newTestPairing(t, CapView)
	req, err := NewSessionInitRequest(operator.PrivateKey, record.OperatorID, record.DeviceID, CapView|CapControl, nil)
	if err != nil {
		t.Fatalf("NewSessionInitRequest: %v", err)
	}
	host := NewHostMachine(record)
	if err := host.Authorise(req, operator.PublicKey, time.Now()); err != nil {
		t.Fatalf("Authorise: %v", err)
	}

	engine := &policy.Engine{Mode: policy.UnattendedAllowed, Limits: policy.AllPermissions}
	if _, err := host.Decide(engine, time.Now(), device.PrivateKey, record.SessionBinding, time.Minute); err != policy.ErrPolicyViolation {
		t.Fatalf("Decide() error = %v, want ErrPolicyViolation", err)
	}
	if host.State() != HostClosed {
		t.Fatalf("host state = %v, want Closed", host.State())
	}
}

func TestControllerMachine_ReceiveNegotiationRejectsBadTicketSignature(t *testing.T) {
	record, device, operator := newTestPairing(t, CapView)
	req, err := NewSessionInitRequest(operator.PrivateKey, record.OperatorID, record.DeviceID, CapView, nil)
	if err != nil {
		t.Fatalf("NewSessionInitRequest: %v", err)
	}
	host := NewHostMachine(record)
	host.Authorise(req, operator.PublicKey, time.Now())

	engine := &policy.Engine{Mode: policy.UnattendedAllowed, Limits: policy.AllPermissions}
	tk, err := host.Decide(engine, time.Now(), device.PrivateKey, record.SessionBinding, time.Minute)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	ctrl := NewControllerMachine()
	ctrl.SendRequest(req)

	wrongDevice := mustSigningKeypair(t)
	neg := TransportNegotiation{Ticket: tk}
	if err := ctrl.ReceiveNegotiation(neg, wrongDevice.PublicKey, time.Now(), time.Minute, record.SessionBinding); err == nil {
		t.Fatal("expected ReceiveNegotiation to reject a ticket signed by the wrong device key")
	}
	if ctrl.State() != ControllerClosed {
		t.Fatalf("controller state = %v, want Closed", ctrl.State())
	}
}

func TestControllerMachine_ReceiveNegotiationRejectsWrongPairingBinding(t *testing.T) {
	record, device, operator := newTestPairing(t, CapView)
	req, err := NewSessionInitRequest(operator.PrivateKey, record.OperatorID, record.DeviceID, CapView, nil)
	if err != nil {
		t.Fatalf("NewSessionInitRequest: %v", err)
	}
	host := NewHostMachine(record)
	host.Authorise(req, operator.PublicKey, time.Now())

	engine := &policy.Engine{Mode: policy.UnattendedAllowed, Limits: policy.AllPermissions}
	tk, err := host.Decide(engine, time.Now(), device.PrivateKey, record.SessionBinding, time.Minute)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	ctrl := NewControllerMachine()
	ctrl.SendRequest(req)

	var wrongBinding [32]byte
	wrongBinding[0] = 0xFF
	neg := TransportNegotiation{Ticket: tk}
	if err := ctrl.ReceiveNegotiation(neg, device.PublicKey, time.Now(), time.Minute, wrongBinding); err == nil {
		t.Fatal("expected ReceiveNegotiation to reject a mismatched pairing session binding")
	}
}

func TestHostMachine_RejectTransitionsToClosed(t *testing.T) {
	record, _, operator := newTestPairing(t, CapView)
	req, err := NewSessionInitRequest(operator.PrivateKey, record.OperatorID, record.DeviceID, CapView, nil)
	if err != nil {
		t.Fatalf("NewSessionInitRequest: %v", err)
	}
	host := NewHostMachine(record)
	host.Authorise(req, operator.PublicKey, time.Now())

	if err := host.Reject(); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if host.State() != HostClosed {
		t.Fatalf("host state = %v, want Closed", host.State())
	}
	if host.CloseReason() != CloseReasonPolicyDenied {
		t.Fatalf("close reason = %v, want CloseReasonPolicyDenied", host.CloseReason())
	}
}

func TestHostMachine_CloseIsIdempotent(t *testing.T) {
	record, _, _ := newTestPairing(t, CapView)
	host := NewHostMachine(record)
	host.Close(CloseReasonLocal)
	host.Close(CloseReasonTimeout)
	if host.CloseReason() != CloseReasonLocal {
		t.Fatalf("close reason = %v, want first reason CloseReasonLocal to stick", host.CloseReason())
	}
}
