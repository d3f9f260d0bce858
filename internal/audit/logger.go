package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zrcore/zrc/internal/crypto"
)

var (
	ErrBadSignatureLength = errors.New("audit: signature has wrong length")
	ErrSignatureInvalid   = errors.New("audit: signature verification failed")
)

// Writer persists a signed entry; implementations must be append-only and
// must never rewrite or reorder previously written entries.
type Writer interface {
	Write(entry Entry) error
}

// Logger signs and appends security events to its Writer.
type Logger struct {
	signPriv [crypto.Ed25519PrivateKeySize]byte
	signPub  [crypto.Ed25519PublicKeySize]byte
	writer   Writer
}

// NewLogger builds a logger that signs entries with signPriv and appends
// them via writer.
func NewLogger(signPriv [crypto.Ed25519PrivateKeySize]byte, signPub [crypto.Ed25519PublicKeySize]byte, writer Writer) *Logger {
	return &Logger{signPriv: signPriv, signPub: signPub, writer: writer}
}

// Log signs event and appends it to the underlying writer.
func (l *Logger) Log(event Event) error {
	entry := Entry{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		EventType: event.Type,
		Actor:     event.Actor,
		Target:    event.Target,
		Details:   event.detailsJSON(),
	}

	msg, err := entry.canonicalBytes()
	if err != nil {
		return err
	}
	sig := crypto.Sign(l.signPriv, msg)
	entry.Signature = sig[:]

	return l.writer.Write(entry)
}

// VerifyAll checks every entry's signature against the logger's configured
// signing key, returning the first verification failure encountered.
func (l *Logger) VerifyAll(entries []Entry) error {
	for _, e := range entries {
		if err := e.Verify(l.signPub); err != nil {
			return err
		}
	}
	return nil
}
