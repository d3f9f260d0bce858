package directory

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zrcore/zrc/internal/crypto"
)

// Scope limits what a discovery token's bearer may look up.
type Scope string

const (
	ScopePairingOnly Scope = "PairingOnly"
	ScopeSessionOnly Scope = "SessionOnly"
	ScopeFull        Scope = "Full"
)

var (
	ErrTokenRevoked     = errors.New("directory: discovery token has been revoked")
	ErrTokenScopeDenied = errors.New("directory: discovery token scope does not permit this operation")
)

// tokenClaims is the JWT claim set backing a discovery token, carrying the
// fields spec §4.10 names alongside the registered exp/jti claims.
type tokenClaims struct {
	jwt.RegisteredClaims
	SubjectID [32]byte `json:"subject_id"`
	Scope     Scope    `json:"scope"`
}

// TokenIssuer mints and verifies Ed25519-signed discovery tokens for a
// directory server's admin API.
type TokenIssuer struct {
	mu       sync.Mutex
	signPriv ed25519.PrivateKey
	signPub  ed25519.PublicKey
	revoked  map[string]struct{}
}

// NewTokenIssuer builds an issuer from the directory server's own signing
// keypair (distinct from any device's identity key).
func NewTokenIssuer(priv [crypto.Ed25519PrivateKeySize]byte, pub [crypto.Ed25519PublicKeySize]byte) *TokenIssuer {
	return &TokenIssuer{
		signPriv: ed25519.PrivateKey(priv[:]),
		signPub:  ed25519.PublicKey(pub[:]),
		revoked:  make(map[string]struct{}),
	}
}

// Issue mints a token bound to subjectID and scope, valid until ttl
// elapses.
func (i *TokenIssuer) Issue(subjectID [32]byte, scope Scope, ttl time.Duration) (string, string, error) {
	id := uuid.NewString()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		SubjectID: subjectID,
		Scope:     scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(i.signPriv)
	if err != nil {
		return "", "", fmt.Errorf("sign discovery token: %w", err)
	}
	return signed, id, nil
}

// Revoke blocks a previously issued token's ID (jti) from further use.
func (i *TokenIssuer) Revoke(tokenID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.revoked[tokenID] = struct{}{}
}

// Verify parses and validates a bearer token string, checking its
// signature, expiry, revocation status, and that it authorizes scope for
// subjectID.
func (i *TokenIssuer) Verify(bearer string, subjectID [32]byte, requiredScope Scope) error {
	parsed, err := jwt.ParseWithClaims(bearer, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		return i.signPub, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil {
		return fmt.Errorf("directory: parse discovery token: %w", err)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return errors.New("directory: discovery token claims invalid")
	}
	i.mu.Lock()
	_, blocked := i.revoked[claims.ID]
	i.mu.Unlock()
	if blocked {
		return ErrTokenRevoked
	}
	if claims.SubjectID != subjectID {
		return ErrTokenScopeDenied
	}
	if claims.Scope != ScopeFull && claims.Scope != requiredScope {
		return ErrTokenScopeDenied
	}
	return nil
}
