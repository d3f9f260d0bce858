package directory

import (
	"testing"
	"time"

	"github.com/zrcore/zrc/internal/crypto"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	kp, err := crypto.GenerateSigningKeypair()
	if err != nil {
		t.Fatalf("GenerateSigningKeypair: %v", err)
	}
	r, err := Sign(kp.PrivateKey, kp.PublicKey, []byte("endpoint-list"), time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(r); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !r.Live(time.Now()) {
		t.Error("expected freshly signed record to be live")
	}
}

func TestVerify_RejectsSubjectIDMismatch(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	r, err := Sign(kp.PrivateKey, kp.PublicKey, nil, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	r.SubjectID[0] ^= 0xFF
	if err := Verify(r); err != ErrSubjectIDMismatch {
		t.Fatalf("Verify() error = %v, want ErrSubjectIDMismatch", err)
	}
}

func TestVerify_RejectsTamperedSignature(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	r, err := Sign(kp.PrivateKey, kp.PublicKey, nil, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	r.EndpointsEncoded = []byte("tampered")
	if err := Verify(r); err != ErrBadSignature {
		t.Fatalf("Verify() error = %v, want ErrBadSignature", err)
	}
}

func TestSign_RejectsOversizedEndpoints(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	big := make([]byte, MaxRecordSize+1)
	if _, err := Sign(kp.PrivateKey, kp.PublicKey, big, time.Hour); err != ErrRecordTooLarge {
		t.Fatalf("Sign() error = %v, want ErrRecordTooLarge", err)
	}
}

func TestSign_RejectsTTLTooLarge(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	if _, err := Sign(kp.PrivateKey, kp.PublicKey, nil, MaxTTL+time.Hour); err != ErrTTLTooLarge {
		t.Fatalf("Sign() error = %v, want ErrTTLTooLarge", err)
	}
}

func TestRecord_LiveExpiry(t *testing.T) {
	kp, _ := crypto.GenerateSigningKeypair()
	r, err := Sign(kp.PrivateKey, kp.PublicKey, nil, time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if r.Live(time.Now().Add(2 * time.Minute)) {
		t.Error("expected record to be expired after ttl elapses")
	}
}
