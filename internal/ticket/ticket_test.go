package ticket

import (
	"testing"
	"time"

	"github.com/zrcore/zrc/internal/crypto"
)

func TestIssueVerify_RoundTrip(t *testing.T) {
	signing, err := crypto.GenerateSigningKeypair()
	if err != nil {
		t.Fatalf("GenerateSigningKeypair: %v", err)
	}

	var binding [32]byte
	binding[0] = 0xAB

	now := time.Now()
	tk, err := Issue(signing.PrivateKey, binding, 0x3, now.Add(-time.Minute), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := Verify(tk, signing.PublicKey, now, 5*time.Minute); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_BadSignature(t *testing.T) {
	signing, _ := crypto.GenerateSigningKeypair()
	other, _ := crypto.GenerateSigningKeypair()

	var binding [32]byte
	now := time.Now()
	tk, err := Issue(signing.PrivateKey, binding, 0, now.Add(-time.Minute), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := Verify(tk, other.PublicKey, now, 5*time.Minute); err != ErrTicketBadSignature {
		t.Fatalf("Verify() error = %v, want ErrTicketBadSignature", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	signing, _ := crypto.GenerateSigningKeypair()
	var binding [32]byte
	now := time.Now()
	tk, err := Issue(signing.PrivateKey, binding, 0, now.Add(-2*time.Hour), now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := Verify(tk, signing.PublicKey, now, 5*time.Minute); err != ErrTicketExpired {
		t.Fatalf("Verify() error = %v, want ErrTicketExpired", err)
	}
}

func TestVerify_NotYetValid(t *testing.T) {
	signing, _ := crypto.GenerateSigningKeypair()
	var binding [32]byte
	now := time.Now()
	tk, err := Issue(signing.PrivateKey, binding, 0, now.Add(time.Hour), now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := Verify(tk, signing.PublicKey, now, 5*time.Minute); err != ErrTicketNotYetValid {
		t.Fatalf("Verify() error = %v, want ErrTicketNotYetValid", err)
	}
}

func TestVerify_WithinClockSkewTolerance(t *testing.T) {
	signing, _ := crypto.GenerateSigningKeypair()
	var binding [32]byte
	now := time.Now()
	// Ticket expired 2 minutes ago, within the 5-minute skew tolerance.
	tk, err := Issue(signing.PrivateKey, binding, 0, now.Add(-time.Hour), now.Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := Verify(tk, signing.PublicKey, now, 5*time.Minute); err != nil {
		t.Fatalf("Verify() within clock skew tolerance should succeed, got %v", err)
	}
}

func TestDeriveSessionBinding_Deterministic(t *testing.T) {
	var nonce [BindingNonceSize]byte
	nonce[0] = 1
	var pairingBinding [32]byte
	pairingBinding[0] = 2
	var sessionID [16]byte
	sessionID[0] = 3

	a, err := DeriveSessionBinding(nonce, pairingBinding, sessionID)
	if err != nil {
		t.Fatalf("DeriveSessionBinding: %v", err)
	}
	b, err := DeriveSessionBinding(nonce, pairingBinding, sessionID)
	if err != nil {
		t.Fatalf("DeriveSessionBinding: %v", err)
	}
	if a != b {
		t.Error("expected deterministic derivation for identical inputs")
	}

	sessionID[1] = 9
	c, err := DeriveSessionBinding(nonce, pairingBinding, sessionID)
	if err != nil {
		t.Fatalf("DeriveSessionBinding: %v", err)
	}
	if a == c {
		t.Error("expected different session_id to change the derived binding")
	}
}
