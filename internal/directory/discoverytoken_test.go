package directory

import (
	"testing"
	"time"

	"github.com/zrcore/zrc/internal/crypto"
)

func TestTokenIssuer_IssueVerifyRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateSigningKeypair()
	if err != nil {
		t.Fatalf("GenerateSigningKeypair: %v", err)
	}
	issuer := NewTokenIssuer(kp.PrivateKey, kp.PublicKey)

	var subject [32]byte
	subject[0] = 1
	token, _, err := issuer.Issue(subject, ScopeSessionOnly, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := issuer.Verify(token, subject, ScopeSessionOnly); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestTokenIssuer_FullScopeSatisfiesAnyRequirement(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	issuer := NewTokenIssuer(kp.PrivateKey, kp.PublicKey)

	var subject [32]byte
	token, _, err := issuer.Issue(subject, ScopeFull, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := issuer.Verify(token, subject, ScopePairingOnly); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestTokenIssuer_RejectsWrongSubject(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	issuer := NewTokenIssuer(kp.PrivateKey, kp.PublicKey)

	var subject, other [32]byte
	subject[0] = 1
	other[0] = 2
	token, _, err := issuer.Issue(subject, ScopeFull, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := issuer.Verify(token, other, ScopeFull); err != ErrTokenScopeDenied {
		t.Fatalf("Verify() error = %v, want ErrTokenScopeDenied", err)
	}
}

func TestTokenIssuer_RejectsNarrowerScope(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	issuer := NewTokenIssuer(kp.PrivateKey, kp.PublicKey)

	var subject [32]byte
	token, _, err := issuer.Issue(subject, ScopePairingOnly, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := issuer.Verify(token, subject, ScopeSessionOnly); err != ErrTokenScopeDenied {
		t.Fatalf("Verify() error = %v, want ErrTokenScopeDenied", err)
	}
}

func TestTokenIssuer_Revoke(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	issuer := NewTokenIssuer(kp.PrivateKey, kp.PublicKey)

	var subject [32]byte
	token, id, err := issuer.Issue(subject, ScopeFull, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	issuer.Revoke(id)
	if err := issuer.Verify(token, subject, ScopeFull); err != ErrTokenRevoked {
		t.Fatalf("Verify() error = %v, want ErrTokenRevoked", err)
	}
}

func TestTokenIssuer_RejectsExpiredToken(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	issuer := NewTokenIssuer(kp.PrivateKey, kp.PublicKey)

	var subject [32]byte
	token, _, err := issuer.Issue(subject, ScopeFull, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := issuer.Verify(token, subject, ScopeFull); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestTokenIssuer_RejectsWrongSigningKey(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	other, _ := crypto.GenerateSigningKeypair()
	issuer := NewTokenIssuer(kp.PrivateKey, kp.PublicKey)
	otherIssuer := NewTokenIssuer(other.PrivateKey, other.PublicKey)

	var subject [32]byte
	token, _, err := issuer.Issue(subject, ScopeFull, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := otherIssuer.Verify(token, subject, ScopeFull); err == nil {
		t.Fatal("expected verification under a different signing key to fail")
	}
}
