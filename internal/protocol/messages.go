package protocol

// maxListCount bounds count-prefixed lists on decode. The server never
// tracks anywhere near this many entities; a bigger count is garbage.
const maxListCount = 1024

// PlayerJoin is sent by a client asking to enter the game.
type PlayerJoin struct {
	Name      string
	Color     string
	Timestamp int64
	Sequence  uint32
}

func (*PlayerJoin) Type() MsgType { return MsgPlayerJoin }

func (m *PlayerJoin) encodeTo(w *writer) {
	w.str(m.Name)
	w.str(m.Color)
	w.i64(m.Timestamp)
	w.u32(m.Sequence)
}

func decodePlayerJoin(r *reader) *PlayerJoin {
	return &PlayerJoin{
		Name:      r.str(),
		Color:     r.str(),
		Timestamp: r.i64(),
		Sequence:  r.u32(),
	}
}

// PlayerLeave announces a departure, client initiated or server timeout.
type PlayerLeave struct {
	PlayerID  uint32
	Timestamp int64
	Sequence  uint32
}

func (*PlayerLeave) Type() MsgType { return MsgPlayerLeave }

func (m *PlayerLeave) encodeTo(w *writer) {
	w.u32(m.PlayerID)
	w.i64(m.Timestamp)
	w.u32(m.Sequence)
}

func decodePlayerLeave(r *reader) *PlayerLeave {
	return &PlayerLeave{
		PlayerID:  r.u32(),
		Timestamp: r.i64(),
		Sequence:  r.u32(),
	}
}

// PlayerUpdate is the legacy client->server message carrying a full
// transform. Superseded by PlayerInput but still decoded and applied.
type PlayerUpdate struct {
	PlayerID       uint32
	X, Y           float32
	BodyRotation   float32
	BarrelRotation float32
	Forward        bool
	Backward       bool
	Left           bool
	Right          bool
	Timestamp      int64
	Sequence       uint32
}

func (*PlayerUpdate) Type() MsgType { return MsgPlayerUpdate }

func (m *PlayerUpdate) encodeTo(w *writer) {
	w.u32(m.PlayerID)
	w.f32(m.X)
	w.f32(m.Y)
	w.f32(m.BodyRotation)
	w.f32(m.BarrelRotation)
	w.flag(m.Forward)
	w.flag(m.Backward)
	w.flag(m.Left)
	w.flag(m.Right)
	w.i64(m.Timestamp)
	w.u32(m.Sequence)
}

func decodePlayerUpdate(r *reader) *PlayerUpdate {
	return &PlayerUpdate{
		PlayerID:       r.u32(),
		X:              r.f32(),
		Y:              r.f32(),
		BodyRotation:   r.f32(),
		BarrelRotation: r.f32(),
		Forward:        r.flag(),
		Backward:       r.flag(),
		Left:           r.flag(),
		Right:          r.flag(),
		Timestamp:      r.i64(),
		Sequence:       r.u32(),
	}
}

// GameState is the authoritative server broadcast: every player, every
// enemy, and the receiver's last acknowledged input sequence.
type GameState struct {
	Players        []PlayerData
	Enemies        []EnemyData
	Timestamp      int64
	Sequence       uint32
	LastAckedInput uint32
}

func (*GameState) Type() MsgType { return MsgGameState }

func (m *GameState) encodeTo(w *writer) {
	w.u32(uint32(len(m.Players)))
	for i := range m.Players {
		m.Players[i].encodeTo(w)
	}
	w.u32(uint32(len(m.Enemies)))
	for i := range m.Enemies {
		m.Enemies[i].encodeTo(w)
	}
	w.i64(m.Timestamp)
	w.u32(m.Sequence)
	w.u32(m.LastAckedInput)
}

func decodeGameState(r *reader) *GameState {
	m := &GameState{}
	playerCount := r.u32()
	if r.err == nil && playerCount > maxListCount {
		r.err = ErrShortPacket
		return m
	}
	for i := uint32(0); i < playerCount && r.err == nil; i++ {
		m.Players = append(m.Players, decodePlayerData(r))
	}
	enemyCount := r.u32()
	if r.err == nil && enemyCount > maxListCount {
		r.err = ErrShortPacket
		return m
	}
	for i := uint32(0); i < enemyCount && r.err == nil; i++ {
		m.Enemies = append(m.Enemies, decodeEnemyData(r))
	}
	m.Timestamp = r.i64()
	m.Sequence = r.u32()
	m.LastAckedInput = r.u32()
	return m
}

// PlayerList carries just the player records, without enemies.
type PlayerList struct {
	Players   []PlayerData
	Timestamp int64
	Sequence  uint32
}

func (*PlayerList) Type() MsgType { return MsgPlayerList }

func (m *PlayerList) encodeTo(w *writer) {
	w.u32(uint32(len(m.Players)))
	for i := range m.Players {
		m.Players[i].encodeTo(w)
	}
	w.i64(m.Timestamp)
	w.u32(m.Sequence)
}

func decodePlayerList(r *reader) *PlayerList {
	m := &PlayerList{}
	count := r.u32()
	if r.err == nil && count > maxListCount {
		r.err = ErrShortPacket
		return m
	}
	for i := uint32(0); i < count && r.err == nil; i++ {
		m.Players = append(m.Players, decodePlayerData(r))
	}
	m.Timestamp = r.i64()
	m.Sequence = r.u32()
	return m
}

// PlayerIDAssign is the server's reply to a join: your numeric id.
type PlayerIDAssign struct {
	PlayerID uint32
}

func (*PlayerIDAssign) Type() MsgType { return MsgPlayerIDAssign }

func (m *PlayerIDAssign) encodeTo(w *writer) {
	w.u32(m.PlayerID)
}

func decodePlayerIDAssign(r *reader) *PlayerIDAssign {
	return &PlayerIDAssign{PlayerID: r.u32()}
}

// Ping carries the sender's clock for RTT measurement.
type Ping struct {
	Timestamp int64
	Sequence  uint32
}

func (*Ping) Type() MsgType { return MsgPing }

func (m *Ping) encodeTo(w *writer) {
	w.i64(m.Timestamp)
	w.u32(m.Sequence)
}

func decodePing(r *reader) *Ping {
	return &Ping{Timestamp: r.i64(), Sequence: r.u32()}
}

// Pong echoes a Ping's timestamp and sequence back.
type Pong struct {
	EchoedTimestamp int64
	Sequence        uint32
}

func (*Pong) Type() MsgType { return MsgPong }

func (m *Pong) encodeTo(w *writer) {
	w.i64(m.EchoedTimestamp)
	w.u32(m.Sequence)
}

func decodePong(r *reader) *Pong {
	return &Pong{EchoedTimestamp: r.i64(), Sequence: r.u32()}
}

// PlayerInput is the lightweight client->server message: movement intent
// plus the aim-driven barrel angle. The barrel angle is the last wire
// field, after timestamp and sequence.
type PlayerInput struct {
	PlayerID       uint32
	Forward        bool
	Backward       bool
	Left           bool
	Right          bool
	Timestamp      int64
	Sequence       uint32
	BarrelRotation float32
}

func (*PlayerInput) Type() MsgType { return MsgPlayerInput }

func (m *PlayerInput) encodeTo(w *writer) {
	w.u32(m.PlayerID)
	w.flag(m.Forward)
	w.flag(m.Backward)
	w.flag(m.Left)
	w.flag(m.Right)
	w.i64(m.Timestamp)
	w.u32(m.Sequence)
	w.f32(m.BarrelRotation)
}

func decodePlayerInput(r *reader) *PlayerInput {
	return &PlayerInput{
		PlayerID:       r.u32(),
		Forward:        r.flag(),
		Backward:       r.flag(),
		Left:           r.flag(),
		Right:          r.flag(),
		Timestamp:      r.i64(),
		Sequence:       r.u32(),
		BarrelRotation: r.f32(),
	}
}

// InputAck tells a client the newest input sequence the server applied.
type InputAck struct {
	PlayerID        uint32
	AckedSequence   uint32
	ServerTimestamp int64
}

func (*InputAck) Type() MsgType { return MsgInputAck }

func (m *InputAck) encodeTo(w *writer) {
	w.u32(m.PlayerID)
	w.u32(m.AckedSequence)
	w.i64(m.ServerTimestamp)
}

func decodeInputAck(r *reader) *InputAck {
	return &InputAck{
		PlayerID:        r.u32(),
		AckedSequence:   r.u32(),
		ServerTimestamp: r.i64(),
	}
}

// BulletSpawn is a client's shot request: where the barrel tip is and
// which way it points. The server validates before spawning anything.
type BulletSpawn struct {
	OwnerID        uint32
	SpawnX, SpawnY float32
	DirX, DirY     float32
	BarrelRotation float32
	Timestamp      int64
	Sequence       uint32
}

func (*BulletSpawn) Type() MsgType { return MsgBulletSpawn }

func (m *BulletSpawn) encodeTo(w *writer) {
	w.u32(m.OwnerID)
	w.f32(m.SpawnX)
	w.f32(m.SpawnY)
	w.f32(m.DirX)
	w.f32(m.DirY)
	w.f32(m.BarrelRotation)
	w.i64(m.Timestamp)
	w.u32(m.Sequence)
}

func decodeBulletSpawn(r *reader) *BulletSpawn {
	return &BulletSpawn{
		OwnerID:        r.u32(),
		SpawnX:         r.f32(),
		SpawnY:         r.f32(),
		DirX:           r.f32(),
		DirY:           r.f32(),
		BarrelRotation: r.f32(),
		Timestamp:      r.i64(),
		Sequence:       r.u32(),
	}
}

// BulletUpdate is the server's periodic snapshot of every live bullet.
type BulletUpdate struct {
	Bullets   []BulletData
	Timestamp int64
	Sequence  uint32
}

func (*BulletUpdate) Type() MsgType { return MsgBulletUpdate }

func (m *BulletUpdate) encodeTo(w *writer) {
	w.u32(uint32(len(m.Bullets)))
	for i := range m.Bullets {
		m.Bullets[i].encodeTo(w)
	}
	w.i64(m.Timestamp)
	w.u32(m.Sequence)
}

func decodeBulletUpdate(r *reader) *BulletUpdate {
	m := &BulletUpdate{}
	count := r.u32()
	if r.err == nil && count > maxListCount {
		r.err = ErrShortPacket
		return m
	}
	for i := uint32(0); i < count && r.err == nil; i++ {
		m.Bullets = append(m.Bullets, decodeBulletData(r))
	}
	m.Timestamp = r.i64()
	m.Sequence = r.u32()
	return m
}

// BulletDestroy is broadcast exactly once per bullet with the reason.
type BulletDestroy struct {
	BulletID    uint32
	Reason      uint8
	HitTargetID uint32
	HitX, HitY  float32
	Timestamp   int64
	Sequence    uint32
}

func (*BulletDestroy) Type() MsgType { return MsgBulletDestroy }

func (m *BulletDestroy) encodeTo(w *writer) {
	w.u32(m.BulletID)
	w.u8(m.Reason)
	w.u32(m.HitTargetID)
	w.f32(m.HitX)
	w.f32(m.HitY)
	w.i64(m.Timestamp)
	w.u32(m.Sequence)
}

func decodeBulletDestroy(r *reader) *BulletDestroy {
	return &BulletDestroy{
		BulletID:    r.u32(),
		Reason:      r.u8(),
		HitTargetID: r.u32(),
		HitX:        r.f32(),
		HitY:        r.f32(),
		Timestamp:   r.i64(),
		Sequence:    r.u32(),
	}
}

// PlayerDeath announces a kill. KillerID 0 means an enemy did it.
type PlayerDeath struct {
	PlayerID     uint32
	KillerID     uint32
	X, Y         float32
	ScorePenalty int32
	Timestamp    int64
	Sequence     uint32
}

func (*PlayerDeath) Type() MsgType { return MsgPlayerDeath }

func (m *PlayerDeath) encodeTo(w *writer) {
	w.u32(m.PlayerID)
	w.u32(m.KillerID)
	w.f32(m.X)
	w.f32(m.Y)
	w.i32(m.ScorePenalty)
	w.i64(m.Timestamp)
	w.u32(m.Sequence)
}

func decodePlayerDeath(r *reader) *PlayerDeath {
	return &PlayerDeath{
		PlayerID:     r.u32(),
		KillerID:     r.u32(),
		X:            r.f32(),
		Y:            r.f32(),
		ScorePenalty: r.i32(),
		Timestamp:    r.i64(),
		Sequence:     r.u32(),
	}
}

// PlayerRespawn announces a player returning at full health.
type PlayerRespawn struct {
	PlayerID  uint32
	X, Y      float32
	Health    float32
	Timestamp int64
	Sequence  uint32
}

func (*PlayerRespawn) Type() MsgType { return MsgPlayerRespawn }

func (m *PlayerRespawn) encodeTo(w *writer) {
	w.u32(m.PlayerID)
	w.f32(m.X)
	w.f32(m.Y)
	w.f32(m.Health)
	w.i64(m.Timestamp)
	w.u32(m.Sequence)
}

func decodePlayerRespawn(r *reader) *PlayerRespawn {
	return &PlayerRespawn{
		PlayerID:  r.u32(),
		X:         r.f32(),
		Y:         r.f32(),
		Health:    r.f32(),
		Timestamp: r.i64(),
		Sequence:  r.u32(),
	}
}
