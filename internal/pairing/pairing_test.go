package pairing

import (
	"testing"
	"time"

	"github.com/zrcore/zrc/internal/crypto"
)

func testDeviceID(b byte) (id [32]byte) {
	id[0] = b
	return id
}

func TestInvite_ExpiredReporting(t *testing.T) {
	signing, _ := crypto.GenerateSigningKeypair()
	invite, secret, err := NewInvite(testDeviceID(1), signing.PublicKey, -time.Minute, nil)
	if err != nil {
		t.Fatalf("NewInvite: %v", err)
	}
	if !invite.Expired(time.Now()) {
		t.Error("expected invite with negative ttl to already be expired")
	}
	if secret == ([SecretSize]byte{}) {
		t.Error("expected non-zero secret")
	}
}

func TestInviteProof_RoundTrip(t *testing.T) {
	signing, _ := crypto.GenerateSigningKeypair()
	invite, secret, err := NewInvite(testDeviceID(1), signing.PublicKey, time.Hour, nil)
	if err != nil {
		t.Fatalf("NewInvite: %v", err)
	}

	opID := testDeviceID(2)
	opSigning, _ := crypto.GenerateSigningKeypair()
	_, opKexPub, _ := crypto.GenerateEphemeralKeypair()

	req, err := NewPairRequest(invite, secret, opID, opSigning.PublicKey, opKexPub, 0x1)
	if err != nil {
		t.Fatalf("NewPairRequest: %v", err)
	}
	if !VerifyInviteProof(req, secret, invite.DeviceID) {
		t.Error("expected invite proof to verify with correct secret")
	}

	var wrongSecret [SecretSize]byte
	wrongSecret[0] = 0xFF
	if VerifyInviteProof(req, wrongSecret, invite.DeviceID) {
		t.Error("expected invite proof to fail to verify with wrong secret")
	}
}

func TestDeriveSessionBinding_Deterministic(t *testing.T) {
	var shared [crypto.KeySize]byte
	shared[0] = 7
	var nonce [32]byte
	nonce[0] = 9

	a, err := DeriveSessionBinding(shared, nonce)
	if err != nil {
		t.Fatalf("DeriveSessionBinding: %v", err)
	}
	b, err := DeriveSessionBinding(shared, nonce)
	if err != nil {
		t.Fatalf("DeriveSessionBinding: %v", err)
	}
	if a != b {
		t.Error("expected deterministic derivation for identical inputs")
	}

	nonce[1] = 1
	c, err := DeriveSessionBinding(shared, nonce)
	if err != nil {
		t.Fatalf("DeriveSessionBinding: %v", err)
	}
	if a == c {
		t.Error("expected different nonce to change the derived binding")
	}
}

func TestPairReceipt_RoundTrip(t *testing.T) {
	signing, _ := crypto.GenerateSigningKeypair()
	deviceID := testDeviceID(1)
	operatorID := testDeviceID(2)
	var sessionBinding [32]byte
	sessionBinding[0] = 3

	receipt := NewPairReceipt(signing.PrivateKey, deviceID, operatorID, 0x7, sessionBinding)
	if err := VerifyReceipt(receipt, signing.PublicKey); err != nil {
		t.Fatalf("VerifyReceipt: %v", err)
	}

	other, _ := crypto.GenerateSigningKeypair()
	if err := VerifyReceipt(receipt, other.PublicKey); err != ErrReceiptBadSignature {
		t.Fatalf("VerifyReceipt() error = %v, want ErrReceiptBadSignature", err)
	}

	tampered := receipt
	tampered.PermissionsGranted = 0xFFFF
	if err := VerifyReceipt(tampered, signing.PublicKey); err != ErrReceiptBadSignature {
		t.Fatalf("VerifyReceipt() on tampered receipt error = %v, want ErrReceiptBadSignature", err)
	}
}

func TestComputeSAS_DeterministicAndFormatted(t *testing.T) {
	deviceID := testDeviceID(1)
	operatorID := testDeviceID(2)
	var hint [32]byte
	hint[0] = 5

	sas1 := ComputeSAS(deviceID, operatorID, hint)
	sas2 := ComputeSAS(deviceID, operatorID, hint)
	if sas1 != sas2 {
		t.Error("expected ComputeSAS to be deterministic")
	}
	if len(sas1) != SASDigits {
		t.Errorf("expected %d-digit SAS, got %q", SASDigits, sas1)
	}
	for _, r := range sas1 {
		if r < '0' || r > '9' {
			t.Fatalf("expected all-numeric SAS, got %q", sas1)
		}
	}

	hint[1] = 1
	sas3 := ComputeSAS(deviceID, operatorID, hint)
	if sas1 == sas3 {
		t.Error("expected different hint to produce a different SAS with high probability")
	}
}

func TestPairingRecord_TouchSession(t *testing.T) {
	rec := PairingRecord{DeviceID: testDeviceID(1)}
	if rec.SessionCount != 0 {
		t.Fatalf("expected zero initial session count")
	}
	now := time.Now()
	rec.TouchSession(now)
	if rec.SessionCount != 1 || !rec.LastSeen.Equal(now) {
		t.Errorf("TouchSession did not update bookkeeping correctly: %+v", rec)
	}
	rec.TouchSession(now.Add(time.Minute))
	if rec.SessionCount != 2 {
		t.Errorf("expected session count 2, got %d", rec.SessionCount)
	}
}
