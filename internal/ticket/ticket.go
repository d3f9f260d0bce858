// Package ticket implements the short-lived per-session SessionTicket: its
// canonical transcript, device signature, and the clock-skew-tolerant
// validity check performed by the controller on receipt.
package ticket

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/zrcore/zrc/internal/crypto"
	"github.com/zrcore/zrc/internal/transcript"
)

const (
	IDSize             = 16
	BindingNonceSize   = 16
	transcriptLabel    = "zrc-session-ticket-v1"
	sessionBindingInfo = "ticket_bind_v1"
)

var (
	ErrTicketExpired      = errors.New("ticket: not_after has passed")
	ErrTicketNotYetValid  = errors.New("ticket: not_before has not arrived")
	ErrTicketBadSignature = errors.New("ticket: signature verification failed")
)

// Ticket is the host-issued, device-signed grant that authorizes a single
// session for a bounded validity window and a fixed permission set.
type Ticket struct {
	TicketID          [IDSize]byte
	SessionBinding    [32]byte
	NotBefore         time.Time
	NotAfter          time.Time
	Permissions       uint64
	BindingNonce      [BindingNonceSize]byte
	Signature         [crypto.Ed25519SignatureSize]byte
}

func transcriptBytes(t Ticket) []byte {
	return transcript.New(transcriptLabel).
		AppendBytes(1, t.TicketID[:]).
		AppendBytes(2, t.SessionBinding[:]).
		AppendU64(3, uint64(t.NotBefore.Unix())).
		AppendU64(4, uint64(t.NotAfter.Unix())).
		AppendU64(5, t.Permissions).
		AppendBytes(6, t.BindingNonce[:]).
		Bytes()
}

// DeriveSessionBinding computes session_binding_ticket per spec §4.7:
// HKDF(salt=ticket_binding_nonce, ikm=pairing.session_binding||session_id, info="ticket_bind_v1").
func DeriveSessionBinding(bindingNonce [BindingNonceSize]byte, pairingSessionBinding [32]byte, sessionID [16]byte) ([32]byte, error) {
	ikm := make([]byte, 0, 48)
	ikm = append(ikm, pairingSessionBinding[:]...)
	ikm = append(ikm, sessionID[:]...)
	return crypto.HKDFExpand32(bindingNonce[:], ikm, sessionBindingInfo)
}

// Issue builds and signs a new ticket with a fresh random ticket_id,
// generating its own binding nonce. notBefore/notAfter define the validity
// window. Use IssueWithBindingNonce when the caller and verifier must agree
// on the binding nonce ahead of time (spec §4.7's session ticket binding).
func Issue(deviceSignPriv [crypto.Ed25519PrivateKeySize]byte, sessionBinding [32]byte, permissions uint64, notBefore, notAfter time.Time) (*Ticket, error) {
	var bindingNonce [BindingNonceSize]byte
	if _, err := rand.Read(bindingNonce[:]); err != nil {
		return nil, fmt.Errorf("generate binding nonce: %w", err)
	}
	return IssueWithBindingNonce(deviceSignPriv, bindingNonce, sessionBinding, permissions, notBefore, notAfter)
}

// IssueWithBindingNonce is Issue with an explicit binding nonce, for callers
// that already agreed on one with the verifying side (e.g. the nonce a
// controller supplied in its SessionInitRequest).
func IssueWithBindingNonce(deviceSignPriv [crypto.Ed25519PrivateKeySize]byte, bindingNonce [BindingNonceSize]byte, sessionBinding [32]byte, permissions uint64, notBefore, notAfter time.Time) (*Ticket, error) {
	var ticketID [IDSize]byte
	if _, err := rand.Read(ticketID[:]); err != nil {
		return nil, fmt.Errorf("generate ticket_id: %w", err)
	}

	t := Ticket{
		TicketID:       ticketID,
		SessionBinding: sessionBinding,
		NotBefore:      notBefore,
		NotAfter:       notAfter,
		Permissions:    permissions,
		BindingNonce:   bindingNonce,
	}
	digest := crypto.SHA256(transcriptBytes(t))
	t.Signature = crypto.Sign(deviceSignPriv, digest[:])
	return &t, nil
}

// Verify checks the ticket's signature against the device's public signing
// key and that now falls within [NotBefore, NotAfter], allowing skew of
// clockSkew on both edges.
func Verify(t *Ticket, deviceSignPub [crypto.Ed25519PublicKeySize]byte, now time.Time, clockSkew time.Duration) error {
	digest := crypto.SHA256(transcriptBytes(*t))
	if !crypto.Verify(deviceSignPub, digest[:], t.Signature) {
		return ErrTicketBadSignature
	}
	if now.Before(t.NotBefore.Add(-clockSkew)) {
		return ErrTicketNotYetValid
	}
	if !now.Before(t.NotAfter.Add(clockSkew)) {
		return ErrTicketExpired
	}
	return nil
}
