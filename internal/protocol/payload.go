package protocol

import "encoding/binary"

// Payload layouts. All numeric fields are little-endian, text is raw UTF-8.

// ChannelInfo builds the CH_CONNECT success payload: id:u32 | secret:u8 | name.
func ChannelInfo(id uint32, secret bool, name string) []byte {
	buf := make([]byte, 5+len(name))
	binary.LittleEndian.PutUint32(buf[0:4], id)
	if secret {
		buf[4] = 1
	}
	copy(buf[5:], name)
	return buf
}

// JoinRequest parses a CH_CONNECT request payload: create_flag:u8 | channel_id:u32.
// Trailing bytes (an optional invite token) are ignored; admission to secret
// channels is decided by the actor's pending invitation, not the token.
func JoinRequest(p []byte) (create bool, channel uint32, err error) {
	if len(p) < 5 {
		return false, 0, ErrShortPayload
	}
	return p[0] == 1, binary.LittleEndian.Uint32(p[1:5]), nil
}

// ChannelID parses a CH_DISCONNECT payload: channel_id:u32.
func ChannelID(p []byte) (uint32, error) {
	if len(p) < 4 {
		return 0, ErrShortPayload
	}
	return binary.LittleEndian.Uint32(p[0:4]), nil
}

// ChatRequest parses a C->S CH_MESSAGE payload: channel_id:u32 | text.
func ChatRequest(p []byte) (channel uint32, text []byte, err error) {
	if len(p) < 4 {
		return 0, nil, ErrShortPayload
	}
	return binary.LittleEndian.Uint32(p[0:4]), p[4:], nil
}

// ChatBroadcast builds the S->C CH_MESSAGE payload:
// channel_id:u32 | sender_id:u32 | text.
func ChatBroadcast(channel, sender uint32, text []byte) []byte {
	buf := make([]byte, 8+len(text))
	binary.LittleEndian.PutUint32(buf[0:4], channel)
	binary.LittleEndian.PutUint32(buf[4:8], sender)
	copy(buf[8:], text)
	return buf
}

// CommandRequest parses a CH_COMMAND request payload: cmd:u8 | channel_id:u32 | arg.
func CommandRequest(p []byte) (cmd Command, channel uint32, arg []byte, err error) {
	if len(p) < 5 {
		return 0, 0, nil, ErrShortPayload
	}
	return Command(p[0]), binary.LittleEndian.Uint32(p[1:5]), p[5:], nil
}

// CommandText builds a CH_COMMAND broadcast payload whose argument is text.
func CommandText(cmd Command, text string) []byte {
	buf := make([]byte, 1+len(text))
	buf[0] = byte(cmd)
	copy(buf[1:], text)
	return buf
}

// CommandID builds a CH_COMMAND broadcast payload whose argument is a u32 id.
func CommandID(cmd Command, id uint32) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(cmd)
	binary.LittleEndian.PutUint32(buf[1:5], id)
	return buf
}

// TargetID parses a u32 command argument (kick, invite, promote targets).
func TargetID(arg []byte) (uint32, error) {
	if len(arg) < 4 {
		return 0, ErrShortPayload
	}
	return binary.LittleEndian.Uint32(arg[0:4]), nil
}

// DestroyNotice builds the CH_DESTROY broadcast payload: channel_id:u32 | reason.
func DestroyNotice(channel uint32, reason string) []byte {
	buf := make([]byte, 4+len(reason))
	binary.LittleEndian.PutUint32(buf[0:4], channel)
	copy(buf[4:], reason)
	return buf
}
