// Package relay implements the quota-bounded two-party forwarding service
// (spec §4.12): allocations are created from a signed RelayToken, bytes
// forwarded in both directions are metered against the token's quota and
// bandwidth limit, and the relay never reads beyond the outer framing of
// what it forwards.
package relay

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/zrcore/zrc/internal/crypto"
)

var (
	ErrInvalidSignature     = errors.New("relay: invalid token signature")
	ErrTokenExpired         = errors.New("relay: token expired")
	ErrAllocationIDMismatch = errors.New("relay: allocation_id does not match requested")
)

// Token authorizes a single allocation: a two-party forwarding path between
// a device and its peer, rate- and quota-bounded, signed by the device.
type Token struct {
	RelayID        [16]byte
	AllocationID   [16]byte
	DeviceID       [32]byte
	PeerID         [32]byte
	ExpiresAt      time.Time
	BandwidthLimit uint32 // bytes/sec
	QuotaBytes     uint64
	Signature      [crypto.Ed25519SignatureSize]byte
}

func (t *Token) signatureInput() []byte {
	h := sha256.New()
	h.Write(t.RelayID[:])
	h.Write(t.AllocationID[:])
	h.Write(t.DeviceID[:])
	h.Write(t.PeerID[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.ExpiresAt.Unix()))
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:4], t.BandwidthLimit)
	h.Write(buf[:4])
	binary.BigEndian.PutUint64(buf[:], t.QuotaBytes)
	h.Write(buf[:])
	return h.Sum(nil)
}

// Sign produces a device-signed token for the given allocation parameters.
func Sign(devicePriv [crypto.Ed25519PrivateKeySize]byte, relayID, allocationID [16]byte, deviceID, peerID [32]byte, expiresAt time.Time, bandwidthLimit uint32, quotaBytes uint64) Token {
	t := Token{
		RelayID:        relayID,
		AllocationID:   allocationID,
		DeviceID:       deviceID,
		PeerID:         peerID,
		ExpiresAt:      expiresAt,
		BandwidthLimit: bandwidthLimit,
		QuotaBytes:     quotaBytes,
	}
	t.Signature = crypto.Sign(devicePriv, t.signatureInput())
	return t
}

// Verify checks the token's signature under devicePub and rejects expired
// tokens as of now.
func (t *Token) Verify(devicePub [crypto.Ed25519PublicKeySize]byte, now time.Time) error {
	if t.IsExpired(now) {
		return ErrTokenExpired
	}
	if !crypto.Verify(devicePub, t.signatureInput(), t.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// IsExpired reports whether the token's expiry has passed as of now.
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// VerifyAllocationID confirms the token authorizes requestedID.
func (t *Token) VerifyAllocationID(requestedID [16]byte) error {
	if t.AllocationID != requestedID {
		return ErrAllocationIDMismatch
	}
	return nil
}

type verifiedEntry struct {
	deviceID  [32]byte
	expiresAt time.Time
}

// TokenVerifier verifies relay tokens and caches successful verifications
// keyed by allocation_id, so a rapid sequence of forwarding calls against
// the same allocation does not re-run signature verification on every
// packet.
type TokenVerifier struct {
	mu     sync.Mutex
	cache  map[[16]byte]verifiedEntry
	pinned map[[32]byte][crypto.Ed25519PublicKeySize]byte
}

// NewTokenVerifier builds an empty verifier.
func NewTokenVerifier() *TokenVerifier {
	return &TokenVerifier{
		cache:  make(map[[16]byte]verifiedEntry),
		pinned: make(map[[32]byte][crypto.Ed25519PublicKeySize]byte),
	}
}

// PinDevice records a known device's signing key, so future tokens for it
// need not carry an out-of-band key exchange.
func (v *TokenVerifier) PinDevice(deviceID [32]byte, pub [crypto.Ed25519PublicKeySize]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pinned[deviceID] = pub
}

// PinnedKey returns a previously pinned public key for deviceID, if any.
func (v *TokenVerifier) PinnedKey(deviceID [32]byte) ([crypto.Ed25519PublicKeySize]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pub, ok := v.pinned[deviceID]
	return pub, ok
}

// Verify checks token, using the cache to skip signature verification when
// the same allocation_id was already verified for the same device and
// expiry.
func (v *TokenVerifier) Verify(token *Token, devicePub [crypto.Ed25519PublicKeySize]byte, now time.Time) error {
	if token.IsExpired(now) {
		v.mu.Lock()
		delete(v.cache, token.AllocationID)
		v.mu.Unlock()
		return ErrTokenExpired
	}

	v.mu.Lock()
	cached, ok := v.cache[token.AllocationID]
	v.mu.Unlock()
	if ok && cached.deviceID == token.DeviceID && cached.expiresAt.Equal(token.ExpiresAt) {
		return nil
	}

	if err := token.Verify(devicePub, now); err != nil {
		return err
	}

	v.mu.Lock()
	v.cache[token.AllocationID] = verifiedEntry{deviceID: token.DeviceID, expiresAt: token.ExpiresAt}
	v.mu.Unlock()
	return nil
}

// VerifyWithAllocationID additionally confirms token authorizes requestedID.
func (v *TokenVerifier) VerifyWithAllocationID(token *Token, devicePub [crypto.Ed25519PublicKeySize]byte, requestedID [16]byte, now time.Time) error {
	if err := token.VerifyAllocationID(requestedID); err != nil {
		return err
	}
	return v.Verify(token, devicePub, now)
}

// CleanupExpired drops cache entries for tokens that have since expired.
func (v *TokenVerifier) CleanupExpired(now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, entry := range v.cache {
		if !entry.expiresAt.After(now) {
			delete(v.cache, id)
		}
	}
}

// ClearCache discards any cached verification for allocationID, forcing the
// next Verify to check the signature again.
func (v *TokenVerifier) ClearCache(allocationID [16]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cache, allocationID)
}
