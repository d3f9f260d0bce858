package audit

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/zrcore/zrc/internal/crypto"
)

func mustSigningKeypair(t *testing.T) *crypto.SigningKeypair {
	t.Helper()
	kp, err := crypto.GenerateSigningKeypair()
	if err != nil {
		t.Fatalf("GenerateSigningKeypair: %v", err)
	}
	return kp
}

func TestLogger_LogThenVerify(t *testing.T) {
	kp := mustSigningKeypair(t)
	mem := NewMemoryWriter()
	logger := NewLogger(kp.PrivateKey, kp.PublicKey, mem)

	if err := logger.Log(AuthenticationAttempt(true, "10.0.0.1")); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := logger.Log(SessionStarted("sess-1", "op-1", "dev-1")); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries := mem.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].EventType != EventAuthenticationAttempt {
		t.Fatalf("entries[0].EventType = %v, want %v", entries[0].EventType, EventAuthenticationAttempt)
	}
	if err := logger.VerifyAll(entries); err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}
}

func TestLogger_VerifyAll_RejectsTamperedEntry(t *testing.T) {
	kp := mustSigningKeypair(t)
	mem := NewMemoryWriter()
	logger := NewLogger(kp.PrivateKey, kp.PublicKey, mem)

	logger.Log(PairingRequest("op-1", "dev-1"))
	entries := mem.Entries()
	entries[0].Actor = "op-attacker"

	if err := logger.VerifyAll(entries); err != ErrSignatureInvalid {
		t.Fatalf("VerifyAll() error = %v, want ErrSignatureInvalid", err)
	}
}

func TestLogger_VerifyAll_RejectsWrongKey(t *testing.T) {
	kp := mustSigningKeypair(t)
	other := mustSigningKeypair(t)
	mem := NewMemoryWriter()
	logger := NewLogger(kp.PrivateKey, kp.PublicKey, mem)
	logger.Log(ReplayAttempt(42))

	wrongLogger := NewLogger(other.PrivateKey, other.PublicKey, mem)
	if err := wrongLogger.VerifyAll(mem.Entries()); err != ErrSignatureInvalid {
		t.Fatalf("VerifyAll() under wrong key error = %v, want ErrSignatureInvalid", err)
	}
}

func TestEntry_Verify_RejectsShortSignature(t *testing.T) {
	kp := mustSigningKeypair(t)
	entry := Entry{Signature: []byte{1, 2, 3}}
	if err := entry.Verify(kp.PublicKey); err != ErrBadSignatureLength {
		t.Fatalf("Verify() error = %v, want ErrBadSignatureLength", err)
	}
}

func TestFileWriter_AppendsAndReadsBack(t *testing.T) {
	kp := mustSigningKeypair(t)
	path := filepath.Join(t.TempDir(), "audit.log")

	fw, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	logger := NewLogger(kp.PrivateKey, kp.PublicKey, fw)

	if err := logger.Log(IdentityMismatch("peer-xyz")); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := logger.Log(RateLimitExceeded("10.0.0.2", "pairing")); err != nil {
		t.Fatalf("Log: %v", err)
	}
	fw.Close()

	entries, err := ReadEntries(path)
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if err := logger.VerifyAll(entries); err != nil {
		t.Fatalf("VerifyAll on read-back entries: %v", err)
	}
}

func TestEvent_DetailsRoundTripThroughJSON(t *testing.T) {
	kp := mustSigningKeypair(t)
	mem := NewMemoryWriter()
	logger := NewLogger(kp.PrivateKey, kp.PublicKey, mem)

	if err := logger.Log(PermissionEscalation("sess-9", 0x3F)); err != nil {
		t.Fatalf("Log: %v", err)
	}
	entries := mem.Entries()
	if string(entries[0].Details) == "" {
		t.Fatal("Details should not be empty for a populated event")
	}
	var details struct {
		SessionID      string `json:"session_id"`
		NewPermissions uint64 `json:"new_permissions"`
	}
	if err := json.Unmarshal(entries[0].Details, &details); err != nil {
		t.Fatalf("Unmarshal details: %v", err)
	}
	if details.SessionID != "sess-9" || details.NewPermissions != 0x3F {
		t.Fatalf("details = %+v, want session_id sess-9 and new_permissions 0x3F", details)
	}
}
