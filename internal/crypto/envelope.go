package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/zrcore/zrc/internal/transcript"
)

// Envelope-related sentinel errors. These classify the fail-closed checks
// performed by OpenEnvelope; callers should never leak which specific check
// failed to an end user (spec §7) but may use these for logging/audit.
var (
	ErrEnvelopeBadSignature    = errors.New("envelope: signature verification failed")
	ErrEnvelopeSenderIDMismatch = errors.New("envelope: sender_id does not match signing key")
	ErrEnvelopeBadAAD          = errors.New("envelope: recomputed aad does not match carried aad")
	ErrEnvelopeDecryptFailed   = errors.New("envelope: decryption failed")
	ErrEnvelopeTooShort        = errors.New("envelope: ciphertext shorter than AEAD overhead")
)

const (
	// EnvelopeNonceSize is the size, in bytes, of the header nonce used both
	// as transcript material and as the HKDF salt for per-envelope keys.
	EnvelopeNonceSize = 24

	envelopeAADLabel = "zrc-env-aad-v1"
	envelopeSigLabel = "zrc-env-sig-v1"
	envelopeKDFKeyInfo   = "env_v1_key"
	envelopeKDFNonceInfo = "env_v1_nonce"
)

// EnvelopeHeader carries the fields common to every sealed envelope. It is
// never encrypted - its fields are bound into the AAD and the signature so
// that tampering with any of them invalidates the envelope.
type EnvelopeHeader struct {
	Version     uint32
	MsgType     uint32
	SenderID    [32]byte
	RecipientID [32]byte
	Timestamp   uint64
	Nonce       [EnvelopeNonceSize]byte
}

// Envelope is a signed, asymmetrically sealed message carrying a serialised
// payload between two identities (spec §3 SessionEnvelope, §4.3).
type Envelope struct {
	Header           EnvelopeHeader
	SenderKexPub     [KeySize]byte
	EncryptedPayload []byte
	Signature        [Ed25519SignatureSize]byte
	AAD              []byte
}

func envelopeAAD(h EnvelopeHeader) []byte {
	t := transcript.New(envelopeAADLabel)
	t.AppendBytes(1, h.SenderID[:])
	t.AppendBytes(2, h.RecipientID[:])
	t.AppendU64(3, h.Timestamp)
	t.AppendBytes(4, h.Nonce[:])
	return t.Bytes()
}

func envelopeSigInput(h EnvelopeHeader, senderKexPub [KeySize]byte, aad, ciphertext []byte) [32]byte {
	t := transcript.New(envelopeSigLabel)
	t.AppendU64(1, uint64(h.Version))
	t.AppendU64(2, uint64(h.MsgType))
	t.AppendBytes(3, h.SenderID[:])
	t.AppendBytes(4, h.RecipientID[:])
	t.AppendU64(5, h.Timestamp)
	t.AppendBytes(6, h.Nonce[:])
	t.AppendBytes(7, senderKexPub[:])
	t.AppendBytes(8, aad)
	t.AppendBytes(9, ciphertext)
	return sha256.Sum256(t.Bytes())
}

func envelopeKDF(sharedSecret [KeySize]byte, salt [EnvelopeNonceSize]byte) (key [KeySize]byte, nonce [NonceSize]byte, err error) {
	reader := hkdf.New(sha256.New, sharedSecret[:], salt[:], []byte(envelopeKDFKeyInfo))
	if _, err = io.ReadFull(reader, key[:]); err != nil {
		return key, nonce, fmt.Errorf("derive envelope key: %w", err)
	}
	reader = hkdf.New(sha256.New, sharedSecret[:], salt[:], []byte(envelopeKDFNonceInfo))
	if _, err = io.ReadFull(reader, nonce[:]); err != nil {
		return key, nonce, fmt.Errorf("derive envelope nonce: %w", err)
	}
	return key, nonce, nil
}

// SealEnvelope seals plaintext from sender (identified by senderID and
// signing with senderSignPriv) to a recipient identified by recipientID and
// recipientKexPub, per spec §4.3.
func SealEnvelope(
	senderSignPriv [Ed25519PrivateKeySize]byte,
	senderID, recipientID [32]byte,
	recipientKexPub [KeySize]byte,
	msgType uint32,
	plaintext []byte,
	timestamp uint64,
) (*Envelope, error) {
	var nonce [EnvelopeNonceSize]byte
	if err := RandomBytes(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate envelope nonce: %w", err)
	}

	header := EnvelopeHeader{
		Version:     1,
		MsgType:     msgType,
		SenderID:    senderID,
		RecipientID: recipientID,
		Timestamp:   timestamp,
		Nonce:       nonce,
	}
	aad := envelopeAAD(header)

	ephPriv, ephPub, err := GenerateEphemeralKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	defer ZeroKey(&ephPriv)

	shared, err := ComputeECDH(ephPriv, recipientKexPub)
	if err != nil {
		return nil, fmt.Errorf("compute ECDH: %w", err)
	}
	defer ZeroKey(&shared)

	key, aeadNonce, err := envelopeKDF(shared, nonce)
	if err != nil {
		return nil, err
	}
	defer ZeroKey(&key)

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	ciphertext := aead.Seal(nil, aeadNonce[:], plaintext, aad)

	sigInput := envelopeSigInput(header, ephPub, aad, ciphertext)
	signature := Sign(senderSignPriv, sigInput[:])

	return &Envelope{
		Header:           header,
		SenderKexPub:     ephPub,
		EncryptedPayload: ciphertext,
		Signature:        signature,
		AAD:              aad,
	}, nil
}

// OpenEnvelope verifies env's signature, validates the carried AAD matches
// the recomputed AAD, then decrypts the payload using recipientKexPriv.
// Per spec §4.3, the signature is checked before any cryptographic work on
// the ciphertext (fail closed). It also checks that
// H(senderSignPub) == env.Header.SenderID, returning
// ErrEnvelopeSenderIDMismatch otherwise; whether senderSignPub belongs to a
// trusted peer is left to the caller.
func OpenEnvelope(env *Envelope, senderSignPub [Ed25519PublicKeySize]byte, recipientKexPriv [KeySize]byte) (plaintext []byte, err error) {
	if len(env.EncryptedPayload) < TagSize {
		return nil, ErrEnvelopeTooShort
	}

	derivedID := sha256.Sum256(senderSignPub[:])
	if derivedID != env.Header.SenderID {
		return nil, ErrEnvelopeSenderIDMismatch
	}

	sigInput := envelopeSigInput(env.Header, env.SenderKexPub, env.AAD, env.EncryptedPayload)
	if !Verify(senderSignPub, sigInput[:], env.Signature) {
		return nil, ErrEnvelopeBadSignature
	}

	expectedAAD := envelopeAAD(env.Header)
	if !constantTimeEqual(expectedAAD, env.AAD) {
		return nil, ErrEnvelopeBadAAD
	}

	shared, err := ComputeECDH(recipientKexPriv, env.SenderKexPub)
	if err != nil {
		return nil, fmt.Errorf("compute ECDH: %w", err)
	}
	defer ZeroKey(&shared)

	key, aeadNonce, err := envelopeKDF(shared, env.Header.Nonce)
	if err != nil {
		return nil, err
	}
	defer ZeroKey(&key)

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	plaintext, err = aead.Open(nil, aeadNonce[:], env.EncryptedPayload, env.AAD)
	if err != nil {
		return nil, ErrEnvelopeDecryptFailed
	}
	return plaintext, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

// EncodeHeader writes header's fields as fixed-width big-endian values in
// the order version, msg_type, sender_id, recipient_id, timestamp, nonce.
// The AAD is built separately by envelopeAAD and does not use this encoding.
func (h EnvelopeHeader) EncodeHeader() []byte {
	buf := make([]byte, 0, 4+4+32+32+8+EnvelopeNonceSize)
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], h.Version)
	buf = append(buf, tmp4[:]...)
	binary.BigEndian.PutUint32(tmp4[:], h.MsgType)
	buf = append(buf, tmp4[:]...)
	buf = append(buf, h.SenderID[:]...)
	buf = append(buf, h.RecipientID[:]...)
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], h.Timestamp)
	buf = append(buf, tmp8[:]...)
	buf = append(buf, h.Nonce[:]...)
	return buf
}
