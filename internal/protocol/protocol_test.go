package protocol

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// appendWire builds raw datagrams by hand so tests pin the byte layout, not
// just encode/decode symmetry.
type wireBuf []byte

func (b wireBuf) u8(v uint8) wireBuf   { return append(b, v) }
func (b wireBuf) u32(v uint32) wireBuf { return binary.LittleEndian.AppendUint32(b, v) }
func (b wireBuf) i64(v int64) wireBuf  { return binary.LittleEndian.AppendUint64(b, uint64(v)) }
func (b wireBuf) f32(v float32) wireBuf {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
}
func (b wireBuf) str(s string) wireBuf {
	b = b.u32(uint32(len(s)))
	return append(b, s...)
}

func TestPlayerInputWireOrder(t *testing.T) {
	// Barrel rotation is the last field on the wire, after timestamp and
	// sequence. A server or client that reads it earlier desyncs silently.
	raw := wireBuf{}.
		u8(uint8(MsgPlayerInput)).
		u32(7).        // player id
		u8(1).u8(0).   // forward, backward
		u8(0).u8(1).   // left, right
		i64(123456789). // timestamp
		u32(42).       // sequence
		f32(270.5)     // barrel rotation

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	input, ok := msg.(*PlayerInput)
	if !ok {
		t.Fatalf("expected *PlayerInput, got %T", msg)
	}
	if input.PlayerID != 7 {
		t.Errorf("expected player id 7, got %d", input.PlayerID)
	}
	if !input.Forward || input.Backward || input.Left || !input.Right {
		t.Errorf("movement flags wrong: %+v", input)
	}
	if input.Timestamp != 123456789 {
		t.Errorf("expected timestamp 123456789, got %d", input.Timestamp)
	}
	if input.Sequence != 42 {
		t.Errorf("expected sequence 42, got %d", input.Sequence)
	}
	if input.BarrelRotation != 270.5 {
		t.Errorf("expected barrel 270.5, got %f", input.BarrelRotation)
	}
}

func TestEncodeMatchesHandBuiltJoin(t *testing.T) {
	want := wireBuf{}.
		u8(uint8(MsgPlayerJoin)).
		str("Alice").
		str("blue").
		i64(1700000000000).
		u32(1)

	got := Encode(&PlayerJoin{
		Name:      "Alice",
		Color:     "blue",
		Timestamp: 1700000000000,
		Sequence:  1,
	})

	if len(got) != len(want) {
		t.Fatalf("expected %d bytes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: expected %#x, got %#x", i, want[i], got[i])
		}
	}
}

func TestEncodeDecodeGameState(t *testing.T) {
	original := &GameState{
		Players: []PlayerData{
			{
				ID: 1, Name: "Alice", X: 640, Y: 480,
				BodyRotation: 90, BarrelRotation: 45, Color: "blue",
				Forward: true, Health: 80, MaxHealth: 100, Score: 30,
			},
			{
				ID: 2, Name: "Bob", X: 200, Y: 300,
				BodyRotation: 180, BarrelRotation: 181.5, Color: "red",
				Health: 0, MaxHealth: 100, Score: -0, Dead: true,
			},
		},
		Enemies: []EnemyData{
			{ID: 1000, EnemyType: EnemyRed, X: 500, Y: 500, BodyRotation: 10, BarrelRotation: 20, Health: 100, MaxHealth: 100},
			{ID: 1001, EnemyType: EnemyOrange, X: 900, Y: 700, BodyRotation: 350, BarrelRotation: 5, Health: 150, MaxHealth: 300},
		},
		Timestamp:      987654321,
		Sequence:       5000,
		LastAckedInput: 77,
	}

	msg, err := Decode(Encode(original))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	state, ok := msg.(*GameState)
	if !ok {
		t.Fatalf("expected *GameState, got %T", msg)
	}
	if len(state.Players) != 2 || len(state.Enemies) != 2 {
		t.Fatalf("expected 2 players and 2 enemies, got %d and %d",
			len(state.Players), len(state.Enemies))
	}
	if state.Players[0].Name != "Alice" || state.Players[1].Name != "Bob" {
		t.Errorf("player names wrong: %q, %q", state.Players[0].Name, state.Players[1].Name)
	}
	if !state.Players[1].Dead {
		t.Error("expected second player dead")
	}
	if state.Enemies[1].EnemyType != EnemyOrange {
		t.Errorf("expected orange enemy, got type %d", state.Enemies[1].EnemyType)
	}
	if state.LastAckedInput != 77 {
		t.Errorf("expected lastAckedInput 77, got %d", state.LastAckedInput)
	}
	if state.Timestamp != 987654321 || state.Sequence != 5000 {
		t.Errorf("tail fields wrong: ts=%d seq=%d", state.Timestamp, state.Sequence)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte{99, 0, 0, 0})
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeEmpty(t *testing.T) {
	_, err := Decode(nil)
	if !errors.Is(err, ErrShortPacket) {
		t.Errorf("expected ErrShortPacket, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	full := Encode(&BulletDestroy{
		BulletID: 10001, Reason: DestroyHitEnemy, HitTargetID: 1000,
		HitX: 100, HitY: 200, Timestamp: 5, Sequence: 6,
	})

	// Every proper prefix must fail cleanly, none may panic.
	for n := 1; n < len(full); n++ {
		if _, err := Decode(full[:n]); !errors.Is(err, ErrShortPacket) {
			t.Errorf("prefix %d: expected ErrShortPacket, got %v", n, err)
		}
	}
}

func TestDecodeHostileStringLength(t *testing.T) {
	// A join message claiming a 4 GB name must be rejected, not allocated.
	raw := wireBuf{}.u8(uint8(MsgPlayerJoin)).u32(0xFFFFFFFF)
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected error for hostile string length")
	}
}

func TestDecodeHostileListCount(t *testing.T) {
	raw := wireBuf{}.u8(uint8(MsgGameState)).u32(0xFFFFFF)
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected error for hostile list count")
	}
}

func TestBulletFaction(t *testing.T) {
	playerShot := &BulletData{OwnerID: 3}
	enemyShot := &BulletData{OwnerID: EnemyIDBase}

	if playerShot.OwnerIsEnemy() {
		t.Error("owner id 3 should be a player bullet")
	}
	if !enemyShot.OwnerIsEnemy() {
		t.Error("owner id 1000 should be an enemy bullet")
	}
}

func TestMsgTypeString(t *testing.T) {
	tests := []struct {
		tag  MsgType
		name string
	}{
		{MsgPlayerJoin, "PlayerJoin"},
		{MsgGameState, "GameState"},
		{MsgPlayerInput, "PlayerInput"},
		{MsgBulletDestroy, "BulletDestroy"},
		{MsgType(200), "Unknown(200)"},
	}

	for _, tt := range tests {
		if got := tt.tag.String(); got != tt.name {
			t.Errorf("expected %s, got %s", tt.name, got)
		}
	}
}

func BenchmarkEncodeGameState(b *testing.B) {
	state := &GameState{
		Players: make([]PlayerData, 8),
		Enemies: make([]EnemyData, 10),
	}
	for i := range state.Players {
		state.Players[i] = PlayerData{ID: uint32(i + 1), Name: "Player", Color: "green", Health: 100, MaxHealth: 100}
	}
	for i := range state.Enemies {
		state.Enemies[i] = EnemyData{ID: EnemyIDBase + uint32(i), Health: 100, MaxHealth: 100}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Encode(state)
	}
}

func BenchmarkDecodeGameState(b *testing.B) {
	state := &GameState{
		Players: make([]PlayerData, 8),
		Enemies: make([]EnemyData, 10),
	}
	data := Encode(state)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Decode(data)
	}
}
