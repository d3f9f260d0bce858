package crypto

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/zrcore/zrc/internal/transcript"
)

func newChaCha20Poly1305(key [KeySize]byte) (cipher.AEAD, error) {
	return chacha20poly1305.New(key[:])
}

// NoncePrefixSize is the size, in bytes, of a channel subkey's nonce
// prefix. The full 12-byte AEAD nonce is nonce_prefix || counter_u32_be.
const NoncePrefixSize = 8

// ChannelSubkey is one directional, per-channel AEAD key together with its
// nonce prefix and monotonic send counter. Reusing a counter value for a
// given subkey is a fatal invariant violation (spec §4.5); Seal panics
// rather than silently reusing a nonce.
type ChannelSubkey struct {
	key         [KeySize]byte
	noncePrefix [NoncePrefixSize]byte
	counter     uint32
}

// Seal encrypts plaintext under the next nonce for this subkey, then
// advances the counter. It panics if the counter has wrapped - per spec
// this must never happen in practice since a session is re-keyed long
// before 2^32 messages on one channel.
func (k *ChannelSubkey) Seal(plaintext, aad []byte) []byte {
	if k.counter == ^uint32(0) {
		panic("channel subkey counter exhausted: session must be re-keyed")
	}
	nonce := k.nonceFor(k.counter)
	k.counter++

	aead, err := newChaCha20Poly1305(k.key)
	if err != nil {
		panic(fmt.Sprintf("create cipher: %v", err))
	}
	return aead.Seal(nil, nonce[:], plaintext, aad)
}

// Open decrypts ciphertext that was sealed under the given counter value.
// Callers are responsible for replay-filtering the counter (spec §4.4)
// before calling Open.
func (k *ChannelSubkey) Open(counter uint32, ciphertext, aad []byte) ([]byte, error) {
	nonce := k.nonceFor(counter)
	aead, err := newChaCha20Poly1305(k.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, ErrEnvelopeDecryptFailed
	}
	return plaintext, nil
}

func (k *ChannelSubkey) nonceFor(counter uint32) [NonceSize]byte {
	var nonce [NonceSize]byte
	copy(nonce[:NoncePrefixSize], k.noncePrefix[:])
	binary.BigEndian.PutUint32(nonce[NoncePrefixSize:], counter)
	return nonce
}

// Zero clears this subkey's key material.
func (k *ChannelSubkey) Zero() {
	ZeroKey(&k.key)
	for i := range k.noncePrefix {
		k.noncePrefix[i] = 0
	}
}

// SessionKeySet holds the six directional/channel subkeys derived from a
// session's master secret (spec §4.5): initiator-to-responder and
// responder-to-initiator, each for the control, frames, and files channels.
type SessionKeySet struct {
	I2RControl ChannelSubkey
	R2IControl ChannelSubkey
	I2RFrames  ChannelSubkey
	R2IFrames  ChannelSubkey
	I2RFiles   ChannelSubkey
	R2IFiles   ChannelSubkey
}

const sessionKeyDeriveLabel = "zrc-session-keys-v1"

// DeriveSessionKeys computes the six channel subkeys from masterSecret,
// sessionID, initiatorID and responderID. masterSecret is the HKDF input
// key material and the other three inputs are bound into the HKDF salt, so
// keys are deterministic given the inputs and distinct across
// sessions/initiators/responders.
func DeriveSessionKeys(masterSecret [KeySize]byte, sessionID [16]byte, initiatorID, responderID [32]byte) (*SessionKeySet, error) {
	salt := transcript.New(sessionKeyDeriveLabel).
		AppendBytes(1, sessionID[:]).
		AppendBytes(2, initiatorID[:]).
		AppendBytes(3, responderID[:]).
		Bytes()

	labels := []string{
		"i2r_control", "r2i_control",
		"i2r_frames", "r2i_frames",
		"i2r_files", "r2i_files",
	}

	derived := make([]ChannelSubkey, len(labels))
	for i, label := range labels {
		sub, err := deriveChannelSubkey(masterSecret, salt, label)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", label, err)
		}
		derived[i] = sub
	}

	return &SessionKeySet{
		I2RControl: derived[0],
		R2IControl: derived[1],
		I2RFrames:  derived[2],
		R2IFrames:  derived[3],
		I2RFiles:   derived[4],
		R2IFiles:   derived[5],
	}, nil
}

func deriveChannelSubkey(masterSecret [KeySize]byte, salt []byte, info string) (ChannelSubkey, error) {
	var sub ChannelSubkey
	reader := hkdf.New(sha256.New, masterSecret[:], salt, []byte(info))
	if _, err := io.ReadFull(reader, sub.key[:]); err != nil {
		return sub, err
	}
	if _, err := io.ReadFull(reader, sub.noncePrefix[:]); err != nil {
		return sub, err
	}
	return sub, nil
}

// Zero clears all six subkeys' key material.
func (s *SessionKeySet) Zero() {
	s.I2RControl.Zero()
	s.R2IControl.Zero()
	s.I2RFrames.Zero()
	s.R2IFrames.Zero()
	s.I2RFiles.Zero()
	s.R2IFiles.Zero()
}
