package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/zrcore/zrc/internal/crypto"
)

// Entry is one append-only, signed audit record (spec §4.13).
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	EventType EventType       `json:"event_type"`
	Actor     string          `json:"actor,omitempty"`
	Target    string          `json:"target,omitempty"`
	Details   json.RawMessage `json:"details"`
	Signature []byte          `json:"signature"`
}

// canonicalBytes renders the entry as JSON with the signature field held
// at its zero value, matching the bytes that were originally signed.
func (e Entry) canonicalBytes() ([]byte, error) {
	unsigned := e
	unsigned.Signature = nil
	return json.Marshal(unsigned)
}

// Verify checks that Signature is a valid Ed25519 signature over the
// entry's canonical form under signPub.
func (e Entry) Verify(signPub [crypto.Ed25519PublicKeySize]byte) error {
	if len(e.Signature) != crypto.Ed25519SignatureSize {
		return ErrBadSignatureLength
	}
	msg, err := e.canonicalBytes()
	if err != nil {
		return err
	}
	var sig [crypto.Ed25519SignatureSize]byte
	copy(sig[:], e.Signature)
	if !crypto.Verify(signPub, msg, sig) {
		return ErrSignatureInvalid
	}
	return nil
}
