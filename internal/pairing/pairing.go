// Package pairing implements the host/controller first-contact protocol:
// invite generation, the PairRequest/PairReceipt/PairConfirm exchange, SAS
// verification, and the persistent PairingRecord each side keeps once paired.
package pairing

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/zrcore/zrc/internal/crypto"
	"github.com/zrcore/zrc/internal/transcript"
)

const (
	SecretSize = 32

	inviteProofInfo  = "pair_proof_v1"
	sessionBindInfo  = "pair_bind_v1"
	sasInfo          = "sas_v1"
	receiptLabel     = "zrc-pair-receipt-v1"

	// SASDigits is the number of base-10 digits shown to the user for
	// out-of-band verification.
	SASDigits = 6
)

var (
	ErrInviteExpired        = errors.New("pairing: invite has expired")
	ErrInviteProofMismatch  = errors.New("pairing: invite proof does not match")
	ErrReceiptBadSignature  = errors.New("pairing: receipt signature verification failed")
	ErrSessionBindingMismatch = errors.New("pairing: derived session_binding does not match receipt hint")
	ErrSASMismatch          = errors.New("pairing: SAS confirmation failed")
)

// Invite is the host-originated, one-shot artifact shared out-of-band (QR
// code, displayed string) that lets a controller begin pairing.
type Invite struct {
	DeviceID      [32]byte
	DeviceSignPub [crypto.Ed25519PublicKeySize]byte
	SecretHash    [32]byte
	ExpiresAt     time.Time
	EndpointHints []string
}

// NewInvite generates a fresh random secret and builds the invite that
// advertises its hash, never the secret itself.
func NewInvite(deviceID [32]byte, deviceSignPub [crypto.Ed25519PublicKeySize]byte, ttl time.Duration, hints []string) (invite Invite, secret [SecretSize]byte, err error) {
	if _, err = rand.Read(secret[:]); err != nil {
		return Invite{}, secret, fmt.Errorf("generate invite secret: %w", err)
	}
	invite = Invite{
		DeviceID:      deviceID,
		DeviceSignPub: deviceSignPub,
		SecretHash:    crypto.SHA256(secret[:]),
		ExpiresAt:     time.Now().Add(ttl),
		EndpointHints: hints,
	}
	return invite, secret, nil
}

// Expired reports whether the invite's expires_at has passed as of now.
func (i Invite) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// inviteProof computes H("pair_proof_v1" || secret || device_id || operator_id).
func inviteProof(secret [SecretSize]byte, deviceID, operatorID [32]byte) [32]byte {
	buf := make([]byte, 0, len(inviteProofInfo)+SecretSize+64)
	buf = append(buf, []byte(inviteProofInfo)...)
	buf = append(buf, secret[:]...)
	buf = append(buf, deviceID[:]...)
	buf = append(buf, operatorID[:]...)
	return crypto.SHA256(buf)
}

// PairRequest is sent controller-to-host, sealed in an envelope to the
// device's mailbox, to begin a pairing attempt against an imported invite.
type PairRequest struct {
	OperatorID             [32]byte
	OperatorSignPub        [crypto.Ed25519PublicKeySize]byte
	OperatorKexPub         [crypto.KeySize]byte
	InviteProof            [32]byte
	RequestedPermissions   uint64
	Nonce                  [32]byte
	Timestamp              time.Time
}

// NewPairRequest builds a PairRequest from an imported invite and the
// controller's own identity material.
func NewPairRequest(invite Invite, secret [SecretSize]byte, operatorID [32]byte, operatorSignPub [crypto.Ed25519PublicKeySize]byte, operatorKexPub [crypto.KeySize]byte, requestedPermissions uint64) (PairRequest, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return PairRequest{}, fmt.Errorf("generate request nonce: %w", err)
	}
	return PairRequest{
		OperatorID:           operatorID,
		OperatorSignPub:      operatorSignPub,
		OperatorKexPub:       operatorKexPub,
		InviteProof:          inviteProof(secret, invite.DeviceID, operatorID),
		RequestedPermissions: requestedPermissions,
		Nonce:                nonce,
		Timestamp:            time.Now(),
	}, nil
}

// VerifyInviteProof checks a request's invite_proof against the secret the
// host generated for this invite. The host never reveals which check
// failed beyond this boolean to the caller.
func VerifyInviteProof(req PairRequest, secret [SecretSize]byte, deviceID [32]byte) bool {
	expected := inviteProof(secret, deviceID, req.OperatorID)
	return expected == req.InviteProof
}

// DeriveSessionBinding computes the long-lived pairing root secret:
// HKDF(salt=nonce_32, ikm=X25519(device_kex_priv, operator_kex_pub), info="pair_bind_v1").
func DeriveSessionBinding(sharedSecret [crypto.KeySize]byte, nonce [32]byte) ([32]byte, error) {
	return crypto.HKDFExpand32(nonce[:], sharedSecret[:], sessionBindInfo)
}

// PairReceipt is the host's signed response to an approved PairRequest.
type PairReceipt struct {
	DeviceID           [32]byte
	OperatorID         [32]byte
	PermissionsGranted uint64
	PairedAt           time.Time
	SessionBindingHint [32]byte
	DeviceSignature    [crypto.Ed25519SignatureSize]byte
}

func receiptTranscript(r PairReceipt) []byte {
	return transcript.New(receiptLabel).
		AppendBytes(1, r.DeviceID[:]).
		AppendBytes(2, r.OperatorID[:]).
		AppendU64(3, r.PermissionsGranted).
		AppendU64(4, uint64(r.PairedAt.Unix())).
		AppendBytes(5, r.SessionBindingHint[:]).
		Bytes()
}

// NewPairReceipt builds and signs a receipt for an approved request.
func NewPairReceipt(deviceSignPriv [crypto.Ed25519PrivateKeySize]byte, deviceID, operatorID [32]byte, permissionsGranted uint64, sessionBinding [32]byte) PairReceipt {
	r := PairReceipt{
		DeviceID:           deviceID,
		OperatorID:         operatorID,
		PermissionsGranted: permissionsGranted,
		PairedAt:           time.Now(),
		SessionBindingHint: crypto.SHA256(sessionBinding[:]),
	}
	digest := crypto.SHA256(receiptTranscript(r))
	r.DeviceSignature = crypto.Sign(deviceSignPriv, digest[:])
	return r
}

// VerifyReceipt checks the device signature over the receipt transcript.
func VerifyReceipt(r PairReceipt, deviceSignPub [crypto.Ed25519PublicKeySize]byte) error {
	digest := crypto.SHA256(receiptTranscript(r))
	if !crypto.Verify(deviceSignPub, digest[:], r.DeviceSignature) {
		return ErrReceiptBadSignature
	}
	return nil
}

// ComputeSAS derives the 6-digit short-authentication-string both sides
// display for the user to compare out-of-band: truncated base-10 encoding
// of H("sas_v1" || device_id || operator_id || session_binding_hint).
func ComputeSAS(deviceID, operatorID, sessionBindingHint [32]byte) string {
	buf := make([]byte, 0, len(sasInfo)+96)
	buf = append(buf, []byte(sasInfo)...)
	buf = append(buf, deviceID[:]...)
	buf = append(buf, operatorID[:]...)
	buf = append(buf, sessionBindingHint[:]...)
	digest := crypto.SHA256(buf)

	n := binary.BigEndian.Uint32(digest[:4])
	mod := uint32(1)
	for i := 0; i < SASDigits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", SASDigits, n%mod)
}

// PairingRecord is the symmetric, persistent artifact both sides keep once
// pairing completes: pinned keys, granted permissions, and the long-lived
// session_binding root secret.
type PairingRecord struct {
	DeviceID           [32]byte
	OperatorID         [32]byte
	DeviceSignPub      [crypto.Ed25519PublicKeySize]byte
	DeviceKexPub       [crypto.KeySize]byte
	OperatorSignPub    [crypto.Ed25519PublicKeySize]byte
	OperatorKexPub     [crypto.KeySize]byte
	PermissionsGranted uint64
	SessionBinding     [32]byte
	PairedAt           time.Time
	LastSeen           time.Time
	SessionCount       uint64
}

// TouchSession updates last-seen and session-count bookkeeping after a
// successful session, without otherwise mutating the pinned record.
func (p *PairingRecord) TouchSession(now time.Time) {
	p.LastSeen = now
	p.SessionCount++
}
