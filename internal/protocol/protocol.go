// Package protocol defines the binary wire format spoken between the game
// server and its clients. Every datagram carries exactly one message: a
// 1-byte type tag followed by the message fields in a fixed order,
// little-endian. The tag set is closed; decoding an unknown tag is an error
// the caller is expected to count and drop, never a crash.
package protocol

import (
	"errors"
	"fmt"
)

// MsgType is the 1-byte wire tag at the start of every message.
type MsgType uint8

const (
	MsgPlayerJoin     MsgType = 1
	MsgPlayerLeave    MsgType = 2
	MsgPlayerUpdate   MsgType = 3 // legacy full-transform update, still accepted
	MsgGameState      MsgType = 4
	MsgPlayerList     MsgType = 5
	MsgPlayerIDAssign MsgType = 6
	MsgPing           MsgType = 7
	MsgPong           MsgType = 8
	MsgPlayerInput    MsgType = 9
	MsgInputAck       MsgType = 10
	MsgBulletSpawn    MsgType = 11
	MsgBulletUpdate   MsgType = 12
	MsgBulletDestroy  MsgType = 13
	MsgPlayerDeath    MsgType = 14
	MsgPlayerRespawn  MsgType = 15
)

// String returns a human-readable name for logs.
func (t MsgType) String() string {
	switch t {
	case MsgPlayerJoin:
		return "PlayerJoin"
	case MsgPlayerLeave:
		return "PlayerLeave"
	case MsgPlayerUpdate:
		return "PlayerUpdate"
	case MsgGameState:
		return "GameState"
	case MsgPlayerList:
		return "PlayerList"
	case MsgPlayerIDAssign:
		return "PlayerIDAssign"
	case MsgPing:
		return "Ping"
	case MsgPong:
		return "Pong"
	case MsgPlayerInput:
		return "PlayerInput"
	case MsgInputAck:
		return "InputAck"
	case MsgBulletSpawn:
		return "BulletSpawn"
	case MsgBulletUpdate:
		return "BulletUpdate"
	case MsgBulletDestroy:
		return "BulletDestroy"
	case MsgPlayerDeath:
		return "PlayerDeath"
	case MsgPlayerRespawn:
		return "PlayerRespawn"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

var (
	// ErrShortPacket means the datagram ended before the message did.
	ErrShortPacket = errors.New("short packet")
	// ErrUnknownType means the tag byte maps to no known message.
	ErrUnknownType = errors.New("unknown message type")
	// ErrStringTooLong guards string fields against hostile lengths.
	ErrStringTooLong = errors.New("string field too long")
)

// Message is implemented by every wire message.
type Message interface {
	Type() MsgType
	encodeTo(w *writer)
}

// Encode serializes a message, tag byte first.
func Encode(m Message) []byte {
	w := newWriter(64)
	w.u8(uint8(m.Type()))
	m.encodeTo(w)
	return w.bytes()
}

// Decode parses one message from a datagram. The concrete type of the
// returned Message matches the wire tag; callers type-switch on it.
func Decode(data []byte) (Message, error) {
	r := &reader{buf: data}
	tag := MsgType(r.u8())
	if r.err != nil {
		return nil, r.err
	}

	var m Message
	switch tag {
	case MsgPlayerJoin:
		m = decodePlayerJoin(r)
	case MsgPlayerLeave:
		m = decodePlayerLeave(r)
	case MsgPlayerUpdate:
		m = decodePlayerUpdate(r)
	case MsgGameState:
		m = decodeGameState(r)
	case MsgPlayerList:
		m = decodePlayerList(r)
	case MsgPlayerIDAssign:
		m = decodePlayerIDAssign(r)
	case MsgPing:
		m = decodePing(r)
	case MsgPong:
		m = decodePong(r)
	case MsgPlayerInput:
		m = decodePlayerInput(r)
	case MsgInputAck:
		m = decodeInputAck(r)
	case MsgBulletSpawn:
		m = decodeBulletSpawn(r)
	case MsgBulletUpdate:
		m = decodeBulletUpdate(r)
	case MsgBulletDestroy:
		m = decodeBulletDestroy(r)
	case MsgPlayerDeath:
		m = decodePlayerDeath(r)
	case MsgPlayerRespawn:
		m = decodePlayerRespawn(r)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(tag))
	}

	if r.err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag, r.err)
	}
	return m, nil
}
