// Package identity manages the long-lived Ed25519 signing and X25519
// key-exchange keypairs that anchor a host or controller's identity, and
// persists them to disk using the same atomic write-then-rename idiom
// used throughout the rest of zrc's on-disk state.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zrcore/zrc/internal/crypto"
)

const (
	// IDSize is the size of an identity's stable identifier in bytes.
	IDSize = 32

	identityFileName = "identity.json"
)

var (
	// ErrInvalidIDLength is returned when an ID byte slice has the wrong length.
	ErrInvalidIDLength = errors.New("invalid identity ID length: expected 32 bytes")

	// ErrInvalidHexString is returned when a hex string cannot be parsed as an ID.
	ErrInvalidHexString = errors.New("invalid hex string for identity ID")

	// ZeroID represents an uninitialized identity identifier.
	ZeroID = ID{}
)

// ID is an identity's stable 32-byte identifier, defined as
// SHA-256(sign_pub) (spec §3).
type ID [IDSize]byte

// IDFromSignPub computes the stable identifier for a signing public key.
func IDFromSignPub(signPub [crypto.Ed25519PublicKeySize]byte) ID {
	return ID(sha256.Sum256(signPub[:]))
}

// ParseID parses an ID from a hex string.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")

	if len(s) != IDSize*2 {
		return ZeroID, fmt.Errorf("%w: got %d hex chars, expected %d", ErrInvalidHexString, len(s), IDSize*2)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ZeroID, fmt.Errorf("%w: %v", ErrInvalidHexString, err)
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

// FromBytes creates an ID from a byte slice of exactly IDSize bytes.
func FromBytes(b []byte) (ID, error) {
	if len(b) != IDSize {
		return ZeroID, fmt.Errorf("%w: got %d bytes", ErrInvalidIDLength, len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// String returns the full hex representation of the ID.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString returns a shortened hex representation (first 8 chars), for
// log lines and diagnostics.
func (id ID) ShortString() string {
	return hex.EncodeToString(id[:4])
}

// Bytes returns the ID as a byte slice.
func (id ID) Bytes() []byte {
	return id[:]
}

// IsZero returns true if the ID is uninitialized (all zeros).
func (id ID) IsZero() bool {
	return id == ZeroID
}

// Equal returns true if two IDs are identical.
func (id ID) Equal(other ID) bool {
	return id == other
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PublicKeyBundle is the public half of an Identity: the material that is
// shared with peers and pinned into pairing records and tickets.
type PublicKeyBundle struct {
	SignPub [crypto.Ed25519PublicKeySize]byte
	KexPub  [crypto.KeySize]byte
}

// ID computes the stable identifier of this bundle.
func (b PublicKeyBundle) ID() ID {
	return IDFromSignPub(b.SignPub)
}

// Identity holds both the Ed25519 signing keypair and the X25519
// key-exchange keypair that together form a long-lived host or controller
// identity. Private material is zeroed when Close is called and is never
// cloned; callers should hold exactly one Identity per process.
type Identity struct {
	signing *crypto.SigningKeypair
	kexPub  [crypto.KeySize]byte
	kexPriv [crypto.KeySize]byte
	closed  bool
}

// Generate produces a fresh Identity with new Ed25519 and X25519 keypairs.
func Generate() (*Identity, error) {
	signing, err := crypto.GenerateSigningKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate signing keypair: %w", err)
	}
	kexPriv, kexPub, err := crypto.GenerateEphemeralKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate kex keypair: %w", err)
	}
	return &Identity{signing: signing, kexPub: kexPub, kexPriv: kexPriv}, nil
}

// ID returns the identity's stable 32-byte identifier.
func (i *Identity) ID() ID {
	return IDFromSignPub(i.signing.PublicKey)
}

// PublicKeys returns the identity's public key bundle.
func (i *Identity) PublicKeys() PublicKeyBundle {
	return PublicKeyBundle{SignPub: i.signing.PublicKey, KexPub: i.kexPub}
}

// SignPub returns the Ed25519 public key.
func (i *Identity) SignPub() [crypto.Ed25519PublicKeySize]byte {
	return i.signing.PublicKey
}

// KexPub returns the X25519 public key.
func (i *Identity) KexPub() [crypto.KeySize]byte {
	return i.kexPub
}

// Sign signs msg with the identity's Ed25519 private key.
func (i *Identity) Sign(msg []byte) [crypto.Ed25519SignatureSize]byte {
	return crypto.Sign(i.signing.PrivateKey, msg)
}

// SignPrivate exposes the raw signing private key for callers (e.g.
// envelope sealing) that need it directly rather than through Sign.
func (i *Identity) SignPrivate() [crypto.Ed25519PrivateKeySize]byte {
	return i.signing.PrivateKey
}

// KeyExchange performs X25519 Diffie-Hellman with a peer's key-exchange
// public key, returning the raw shared secret.
func (i *Identity) KeyExchange(peerKexPub [crypto.KeySize]byte) ([crypto.KeySize]byte, error) {
	return crypto.ComputeECDH(i.kexPriv, peerKexPub)
}

// Close zeroes all private key material. The Identity must not be used
// afterwards.
func (i *Identity) Close() {
	if i.closed {
		return
	}
	crypto.ZeroSigningKey(&i.signing.PrivateKey)
	crypto.ZeroKey(&i.kexPriv)
	i.closed = true
}

// persistedIdentity is the on-disk JSON representation. Private key bytes
// are hex-encoded; file permissions (0600) are the sole protection since
// zrc has no separate secrets vault.
type persistedIdentity struct {
	SignPub  string `json:"sign_pub"`
	SignPriv string `json:"sign_priv"`
	KexPub   string `json:"kex_pub"`
	KexPriv  string `json:"kex_priv"`
}

// Store persists the identity to dataDir, writing to a temp file and
// renaming into place so a crash mid-write never leaves a truncated file.
func (i *Identity) Store(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	p := persistedIdentity{
		SignPub:  hex.EncodeToString(i.signing.PublicKey[:]),
		SignPriv: hex.EncodeToString(i.signing.PrivateKey[:]),
		KexPub:   hex.EncodeToString(i.kexPub[:]),
		KexPriv:  hex.EncodeToString(i.kexPriv[:]),
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	filePath := filepath.Join(dataDir, identityFileName)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("persist identity: %w", err)
	}
	return nil
}

// Load reads an Identity previously written by Store.
func Load(dataDir string) (*Identity, error) {
	filePath := filepath.Join(dataDir, identityFileName)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("identity not found at %s", filePath)
		}
		return nil, fmt.Errorf("read identity: %w", err)
	}

	var p persistedIdentity
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse identity: %w", err)
	}

	id := &Identity{signing: &crypto.SigningKeypair{}}
	if err := decodeHexInto(id.signing.PublicKey[:], p.SignPub); err != nil {
		return nil, fmt.Errorf("decode sign_pub: %w", err)
	}
	if err := decodeHexInto(id.signing.PrivateKey[:], p.SignPriv); err != nil {
		return nil, fmt.Errorf("decode sign_priv: %w", err)
	}
	if err := decodeHexInto(id.kexPub[:], p.KexPub); err != nil {
		return nil, fmt.Errorf("decode kex_pub: %w", err)
	}
	if err := decodeHexInto(id.kexPriv[:], p.KexPriv); err != nil {
		return nil, fmt.Errorf("decode kex_priv: %w", err)
	}
	return id, nil
}

func decodeHexInto(dst []byte, s string) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}

// LoadOrCreate loads an existing Identity from dataDir, or generates and
// persists a new one if none exists. The boolean return reports whether a
// new identity was created.
func LoadOrCreate(dataDir string) (*Identity, bool, error) {
	id, err := Load(dataDir)
	if err == nil {
		return id, false, nil
	}
	if !strings.Contains(err.Error(), "not found") {
		return nil, false, err
	}

	id, err = Generate()
	if err != nil {
		return nil, false, err
	}
	if err := id.Store(dataDir); err != nil {
		return nil, false, err
	}
	return id, true, nil
}

// Exists reports whether an identity file exists in dataDir.
func Exists(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, identityFileName))
	return err == nil
}
