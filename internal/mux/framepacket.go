package mux

import (
	"encoding/binary"
	"fmt"
)

// framePacketHeaderSize is width(4) + height(4) + stride(4) + format(1) +
// pixels length prefix(4) = 17 bytes.
const framePacketHeaderSize = 17

// PixelFormat identifies the encoding of a FramePacket's pixel buffer.
type PixelFormat uint8

const (
	PixelFormatRGBA8 PixelFormat = iota
	PixelFormatBGRA8
	PixelFormatJPEG
	PixelFormatH264
)

// FramePacket is the wire representation of a single captured video
// frame sent on the Frames channel.
type FramePacket struct {
	Width  uint32
	Height uint32
	Stride uint32
	Format PixelFormat
	Pixels []byte
}

// Encode serializes the packet as its 17-byte header followed by Pixels.
func (f *FramePacket) Encode() []byte {
	buf := make([]byte, framePacketHeaderSize+len(f.Pixels))
	binary.BigEndian.PutUint32(buf[0:4], f.Width)
	binary.BigEndian.PutUint32(buf[4:8], f.Height)
	binary.BigEndian.PutUint32(buf[8:12], f.Stride)
	buf[12] = uint8(f.Format)
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(f.Pixels)))
	copy(buf[framePacketHeaderSize:], f.Pixels)
	return buf
}

// DecodeFramePacket parses a FramePacket previously produced by Encode.
func DecodeFramePacket(buf []byte) (*FramePacket, error) {
	if len(buf) < framePacketHeaderSize {
		return nil, fmt.Errorf("mux: FramePacket header too short: %d bytes", len(buf))
	}
	f := &FramePacket{
		Width:  binary.BigEndian.Uint32(buf[0:4]),
		Height: binary.BigEndian.Uint32(buf[4:8]),
		Stride: binary.BigEndian.Uint32(buf[8:12]),
		Format: PixelFormat(buf[12]),
	}
	pixelsLen := binary.BigEndian.Uint32(buf[13:17])
	if uint32(len(buf)-framePacketHeaderSize) < pixelsLen {
		return nil, fmt.Errorf("mux: FramePacket pixels truncated: want %d, have %d", pixelsLen, len(buf)-framePacketHeaderSize)
	}
	f.Pixels = make([]byte, pixelsLen)
	copy(f.Pixels, buf[framePacketHeaderSize:framePacketHeaderSize+int(pixelsLen)])
	return f, nil
}
