package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the length of the command ID prefix of every frame.
	HeaderSize     = 4
	MaxPayloadSize = 10 * 1024 * 1024 // 10MB max payload size
	// MaxFrameSize is the largest frame Decode accepts.
	MaxFrameSize = HeaderSize + MaxPayloadSize
)

var (
	ErrFrameTooShort   = errors.New("frame shorter than command header")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
)

// Encode frames payload behind its command ID (big-endian).
func Encode(commandID uint32, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	out := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[:HeaderSize], commandID)
	copy(out[HeaderSize:], payload)
	return out, nil
}

// Decode splits a frame into its command ID and payload.
// The payload slice references frame - do not modify it.
func Decode(frame []byte) (uint32, []byte, error) {
	if len(frame) < HeaderSize {
		return 0, nil, ErrFrameTooShort
	}

	if n := len(frame) - HeaderSize; n > MaxPayloadSize {
		return 0, nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, n, MaxPayloadSize)
	}

	return binary.BigEndian.Uint32(frame[:HeaderSize]), frame[HeaderSize:], nil
}
