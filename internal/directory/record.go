// Package directory implements the signed presence-advertisement service
// (spec §4.10): DirectoryRecord signing/verification, the bounded record
// store, enumeration-detecting search protection, and short-lived
// discovery tokens gating non-public lookups.
package directory

import (
	"errors"
	"time"

	"github.com/zrcore/zrc/internal/crypto"
	"github.com/zrcore/zrc/internal/transcript"
)

const (
	recordTranscriptLabel = "dir_record_v1"

	// MaxRecordSize bounds a record's encoded endpoint list (spec §4.10).
	MaxRecordSize = 4 << 10

	// MaxTTL bounds how long a record may claim to stay live.
	MaxTTL = 24 * time.Hour
)

var (
	ErrSubjectIDMismatch = errors.New("directory: subject_id does not match H(device_sign_pub)")
	ErrBadSignature      = errors.New("directory: record signature verification failed")
	ErrRecordExpired     = errors.New("directory: record is no longer live")
	ErrRecordTooLarge    = errors.New("directory: endpoints_encoded exceeds MaxRecordSize")
	ErrTTLTooLarge       = errors.New("directory: ttl exceeds MaxTTL")
)

// Record is a signed presence advertisement mapping a device's identity to
// its current reachable endpoints.
type Record struct {
	SubjectID       [32]byte
	DeviceSignPub   [crypto.Ed25519PublicKeySize]byte
	EndpointsEncoded []byte
	TTL             time.Duration
	Timestamp       time.Time
	Signature       [crypto.Ed25519SignatureSize]byte
}

func recordTranscript(r Record) []byte {
	return transcript.New(recordTranscriptLabel).
		AppendBytes(1, r.SubjectID[:]).
		AppendBytes(2, r.DeviceSignPub[:]).
		AppendBytes(3, r.EndpointsEncoded).
		AppendU64(4, uint64(r.TTL.Seconds())).
		AppendU64(5, uint64(r.Timestamp.Unix())).
		Bytes()
}

// Sign builds and signs a fresh record, deriving subject_id from the
// device's own signing public key.
func Sign(deviceSignPriv [crypto.Ed25519PrivateKeySize]byte, deviceSignPub [crypto.Ed25519PublicKeySize]byte, endpointsEncoded []byte, ttl time.Duration) (Record, error) {
	if len(endpointsEncoded) > MaxRecordSize {
		return Record{}, ErrRecordTooLarge
	}
	if ttl > MaxTTL {
		return Record{}, ErrTTLTooLarge
	}
	r := Record{
		SubjectID:        crypto.SHA256(deviceSignPub[:]),
		DeviceSignPub:    deviceSignPub,
		EndpointsEncoded: endpointsEncoded,
		TTL:              ttl,
		Timestamp:        time.Now(),
	}
	digest := crypto.SHA256(recordTranscript(r))
	r.Signature = crypto.Sign(deviceSignPriv, digest[:])
	return r, nil
}

// Verify checks signature validity, the subject_id binding, and record
// size/TTL limits, but not liveness; callers check Live separately so that
// a soon-to-expire-but-valid record can still be rejected with a distinct
// error from a tampered one.
func Verify(r Record) error {
	if len(r.EndpointsEncoded) > MaxRecordSize {
		return ErrRecordTooLarge
	}
	if r.TTL > MaxTTL {
		return ErrTTLTooLarge
	}
	expectedSubject := crypto.SHA256(r.DeviceSignPub[:])
	if expectedSubject != r.SubjectID {
		return ErrSubjectIDMismatch
	}
	digest := crypto.SHA256(recordTranscript(r))
	if !crypto.Verify(r.DeviceSignPub, digest[:], r.Signature) {
		return ErrBadSignature
	}
	return nil
}

// Live reports whether now < timestamp + ttl.
func (r Record) Live(now time.Time) bool {
	return now.Before(r.Timestamp.Add(r.TTL))
}
