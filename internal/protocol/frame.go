package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameType identifies the kind of request or notification a frame carries.
type FrameType int32

const (
	SvrConnect    FrameType = 1 // C<->S: connect handshake
	SvrDisconnect FrameType = 2 // C->S: orderly disconnect
	SvrMessage    FrameType = 3 // S->C: server notice
	ChConnect     FrameType = 4 // C<->S: join or create a channel
	ChDisconnect  FrameType = 5 // C<->S: leave a channel
	ChMessage     FrameType = 6 // C<->S, broadcast to members
	ChCommand     FrameType = 7 // C<->S, broadcast to members
	ChDestroy     FrameType = 8 // S->C: channel was destroyed
)

// Command is the first payload byte of a CH_COMMAND frame.
type Command byte

const (
	CmdRename         Command = 1
	CmdPin            Command = 2
	CmdPromoteEmperor Command = 3
	CmdPromoteMod     Command = 4
	CmdKick           Command = 5
	CmdInvite         Command = 6
	CmdPrivacy        Command = 7
)

// Server-generated response ids. Requests echo the caller-chosen id instead.
const (
	IDProtocolError int32 = -1
	IDInvalidField  int32 = -2
	IDCapacity      int32 = -3
)

const (
	headerSize  = 12 // size + id + type
	trailerSize = 2  // two NUL bytes closing every frame
	minFrame    = headerSize + trailerSize

	// MaxFrame bounds a single frame on the wire. Anything larger is a
	// protocol violation and fatal for the connection, since the byte
	// stream cannot be resynchronised.
	MaxFrame = 64 << 10
)

var (
	ErrFrameTooSmall = errors.New("protocol: frame size below minimum")
	ErrFrameTooLarge = errors.New("protocol: frame size exceeds limit")
	ErrBadTrailer    = errors.New("protocol: frame not NUL-terminated")
	ErrShortPayload  = errors.New("protocol: payload shorter than layout")
)

// Frame is one decoded protocol unit. Payload excludes the trailing NULs.
type Frame struct {
	ID      int32
	Type    FrameType
	Payload []byte
}

// Encode serialises a frame: size:u32LE | id:i32LE | type:i32LE | payload | 00 00.
// size covers the entire frame, trailer included.
func Encode(id int32, typ FrameType, payload []byte) []byte {
	size := minFrame + len(payload)
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(id))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(typ))
	copy(buf[12:], payload)
	// buf[size-2:] is already zero
	return buf
}

// ReadFrame reads exactly one frame from r. Any read failure, including a
// short read mid-frame, is fatal for the connection and returned as-is.
func ReadFrame(r io.Reader) (Frame, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Frame{}, err
	}
	size := int(binary.LittleEndian.Uint32(head[:]))
	if size < minFrame {
		return Frame{}, ErrFrameTooSmall
	}
	if size > MaxFrame {
		return Frame{}, ErrFrameTooLarge
	}

	rest := make([]byte, size-4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Frame{}, err
	}
	if rest[len(rest)-1] != 0 || rest[len(rest)-2] != 0 {
		return Frame{}, ErrBadTrailer
	}

	return Frame{
		ID:      int32(binary.LittleEndian.Uint32(rest[0:4])),
		Type:    FrameType(binary.LittleEndian.Uint32(rest[4:8])),
		Payload: rest[8 : len(rest)-trailerSize],
	}, nil
}

// Decode parses a complete frame from buf, which must hold exactly one frame.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < minFrame {
		return Frame{}, ErrFrameTooSmall
	}
	size := int(binary.LittleEndian.Uint32(buf[0:4]))
	if size != len(buf) {
		return Frame{}, fmt.Errorf("protocol: size field %d does not match buffer length %d", size, len(buf))
	}
	if buf[len(buf)-1] != 0 || buf[len(buf)-2] != 0 {
		return Frame{}, ErrBadTrailer
	}
	return Frame{
		ID:      int32(binary.LittleEndian.Uint32(buf[4:8])),
		Type:    FrameType(binary.LittleEndian.Uint32(buf[8:12])),
		Payload: buf[12 : len(buf)-trailerSize],
	}, nil
}
