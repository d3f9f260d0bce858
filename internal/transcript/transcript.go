// Package transcript builds domain-separated transcript digests used to
// bind signatures and key derivations to the exact protocol step that
// produced them, preventing cross-protocol and cross-step signature reuse.
//
// Encoding: len_u32_be || label || for each appended field: tag_u32_be || len_u32_be || value.
// Tags disambiguate fields of the same type appearing in different
// positions; lengths prevent field-boundary ambiguity. Determinism is
// required: identical (label, fields) must always produce the same digest.
package transcript

import (
	"crypto/sha256"
	"encoding/binary"
)

// Builder accumulates tagged, length-prefixed fields under a domain label.
type Builder struct {
	buf []byte
}

// New starts a transcript with a domain-separation label, itself encoded
// as a length-prefixed field so it cannot be confused with caller data.
func New(label string) *Builder {
	b := &Builder{}
	b.appendRaw([]byte(label))
	return b
}

func (b *Builder) appendRaw(data []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	b.buf = append(b.buf, lenBuf[:]...)
	b.buf = append(b.buf, data...)
}

func (b *Builder) appendTagged(tag uint32, data []byte) {
	var tagBuf [4]byte
	binary.BigEndian.PutUint32(tagBuf[:], tag)
	b.buf = append(b.buf, tagBuf[:]...)
	b.appendRaw(data)
}

// AppendBytes appends a tagged, length-prefixed byte field.
func (b *Builder) AppendBytes(tag uint32, data []byte) *Builder {
	b.appendTagged(tag, data)
	return b
}

// AppendString appends a tagged, length-prefixed UTF-8 string field.
func (b *Builder) AppendString(tag uint32, s string) *Builder {
	b.appendTagged(tag, []byte(s))
	return b
}

// AppendU64 appends a tagged field holding a fixed-width 8-byte big-endian
// integer.
func (b *Builder) AppendU64(tag uint32, v uint64) *Builder {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	b.appendTagged(tag, buf[:])
	return b
}

// Digest finalizes the transcript and returns its SHA-256 digest. The
// builder may continue to be appended to after calling Digest; each call
// hashes the accumulated field bytes from scratch.
func (b *Builder) Digest() [32]byte {
	return sha256.Sum256(b.buf)
}

// Bytes returns the raw accumulated field bytes, for callers that sign or
// hash the transcript some other way than Digest (e.g. Ed25519 signs the
// SHA-256 digest of these bytes directly, per the envelope signing step).
func (b *Builder) Bytes() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}
