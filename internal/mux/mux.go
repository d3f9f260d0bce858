// Package mux implements the channel multiplexer that runs over a single
// QUIC-like stream: channel framing, per-channel priority and replay
// protection, and the backpressure policy applied when a channel's send
// buffer is full.
package mux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ChannelID identifies one of the fixed logical channels sharing a
// session's transport.
type ChannelID uint8

const (
	ChannelControl   ChannelID = 1
	ChannelFrames    ChannelID = 2
	ChannelClipboard ChannelID = 3
	ChannelFiles     ChannelID = 4
	ChannelAudio     ChannelID = 5
)

func (c ChannelID) String() string {
	switch c {
	case ChannelControl:
		return "Control"
	case ChannelFrames:
		return "Frames"
	case ChannelClipboard:
		return "Clipboard"
	case ChannelFiles:
		return "Files"
	case ChannelAudio:
		return "Audio"
	default:
		return fmt.Sprintf("Channel(%d)", uint8(c))
	}
}

// Priority returns the channel's scheduling priority: 0 is highest.
func (c ChannelID) Priority() int {
	switch c {
	case ChannelControl:
		return 0
	case ChannelClipboard:
		return 1
	case ChannelFiles:
		return 2
	case ChannelAudio:
		return 3
	case ChannelFrames:
		return 4
	default:
		return 4
	}
}

// Lossy reports whether frames on this channel may be dropped under
// backpressure rather than blocking the sender.
func (c ChannelID) Lossy() bool {
	return c == ChannelFrames || c == ChannelAudio
}

const (
	// StreamVersion is the version byte every stream opens with.
	StreamVersion uint8 = 1

	// streamHeaderSize is [version][channel_id].
	streamHeaderSize = 2

	// frameLengthPrefixSize is the u32_be length prefix before each payload.
	frameLengthPrefixSize = 4

	// MaxFramePayloadSize bounds a single frame's payload to guard
	// against a malicious or corrupt length prefix forcing a huge alloc.
	MaxFramePayloadSize = 64 << 20 // 64 MiB
)

var (
	ErrFrameTooLarge  = errors.New("mux: frame payload exceeds maximum size")
	ErrUnsupportedVersion = errors.New("mux: unsupported stream version")
)

// WriteStreamHeader writes the [version][channel_id] prefix that opens
// every stream.
func WriteStreamHeader(w io.Writer, channel ChannelID) error {
	_, err := w.Write([]byte{StreamVersion, uint8(channel)})
	return err
}

// ReadStreamHeader reads and validates the [version][channel_id] prefix.
func ReadStreamHeader(r io.Reader) (ChannelID, error) {
	var hdr [streamHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, fmt.Errorf("read stream header: %w", err)
	}
	if hdr[0] != StreamVersion {
		return 0, ErrUnsupportedVersion
	}
	return ChannelID(hdr[1]), nil
}

// FrameWriter writes length-prefixed frame payloads to a stream after its
// header has already been written.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes one [u32_be length][payload] frame.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	if len(payload) > MaxFramePayloadSize {
		return ErrFrameTooLarge
	}
	var lenBuf [frameLengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := fw.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := fw.w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// FrameReader reads length-prefixed frame payloads from a stream after
// its header has already been consumed.
type FrameReader struct {
	r io.Reader
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame reads one [u32_be length][payload] frame.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var lenBuf [frameLengthPrefixSize]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFramePayloadSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return payload, nil
}
