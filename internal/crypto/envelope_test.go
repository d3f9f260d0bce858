package crypto

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func mustKeypairs(t *testing.T) (sender *SigningKeypair, senderKex [KeySize]byte, senderKexPriv [KeySize]byte, recipientKexPriv, recipientKexPub [KeySize]byte) {
	t.Helper()
	sender, err := GenerateSigningKeypair()
	if err != nil {
		t.Fatalf("generate signing keypair: %v", err)
	}
	senderKexPriv, senderKex, err = GenerateEphemeralKeypair()
	if err != nil {
		t.Fatalf("generate sender kex keypair: %v", err)
	}
	recipientKexPriv, recipientKexPub, err = GenerateEphemeralKeypair()
	if err != nil {
		t.Fatalf("generate recipient kex keypair: %v", err)
	}
	return sender, senderKex, senderKexPriv, recipientKexPriv, recipientKexPub
}

func TestEnvelope_SealOpenRoundTrip(t *testing.T) {
	sender, _, _, recipientKexPriv, recipientKexPub := mustKeypairs(t)

	senderIDHash := idFromSignPub(sender.PublicKey)
	var recipientID [32]byte
	copy(recipientID[:], bytes.Repeat([]byte{0x42}, 32))

	env, err := SealEnvelope(sender.PrivateKey, senderIDHash, recipientID, recipientKexPub, 7, []byte("hello host"), 1_700_000_000)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	plaintext, err := OpenEnvelope(env, sender.PublicKey, recipientKexPriv)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(plaintext) != "hello host" {
		t.Fatalf("unexpected plaintext: %q", plaintext)
	}
}

func TestEnvelope_MutatedFieldFailsOpen(t *testing.T) {
	sender, _, _, recipientKexPriv, recipientKexPub := mustKeypairs(t)
	senderIDHash := idFromSignPub(sender.PublicKey)
	var recipientID [32]byte

	env, err := SealEnvelope(sender.PrivateKey, senderIDHash, recipientID, recipientKexPub, 1, []byte("payload"), 100)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	env.Header.Timestamp++
	if _, err := OpenEnvelope(env, sender.PublicKey, recipientKexPriv); err == nil {
		t.Fatalf("expected open to fail after mutating header timestamp")
	}
}

func TestEnvelope_WrongSenderIDFailsOpen(t *testing.T) {
	sender, _, _, recipientKexPriv, recipientKexPub := mustKeypairs(t)
	var wrongSenderID, recipientID [32]byte
	wrongSenderID[0] = 0xFF

	env, err := SealEnvelope(sender.PrivateKey, wrongSenderID, recipientID, recipientKexPub, 1, []byte("payload"), 100)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := OpenEnvelope(env, sender.PublicKey, recipientKexPriv); err != ErrEnvelopeSenderIDMismatch {
		t.Fatalf("expected ErrEnvelopeSenderIDMismatch, got %v", err)
	}
}

func TestEnvelope_TamperedCiphertextFailsOpen(t *testing.T) {
	sender, _, _, recipientKexPriv, recipientKexPub := mustKeypairs(t)
	senderIDHash := idFromSignPub(sender.PublicKey)
	var recipientID [32]byte

	env, err := SealEnvelope(sender.PrivateKey, senderIDHash, recipientID, recipientKexPub, 1, []byte("payload"), 100)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	env.EncryptedPayload[0] ^= 0xFF

	if _, err := OpenEnvelope(env, sender.PublicKey, recipientKexPriv); err == nil {
		t.Fatalf("expected open to fail after tampering with ciphertext")
	}
}

func idFromSignPub(pub [Ed25519PublicKeySize]byte) [32]byte {
	return sha256.Sum256(pub[:])
}
