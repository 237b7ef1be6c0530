// Package client implements the game-facing side of the wire protocol:
// join handshake, client-side prediction with server reconciliation,
// and snapshot interpolation for remote entities. Everything here is
// single-threaded: one goroutine drives Step, Update, and
// SyncAuthoritative once per tick, and the socket is polled rather
// than blocked on.
package client

import (
	"fmt"
	"log"
	"math"
	"net"
	"time"

	"github.com/ferrumgames/tankserver/internal/protocol"
	"github.com/ferrumgames/tankserver/internal/transport"
	"github.com/ferrumgames/tankserver/internal/world"
)

// Bullet constants mirrored from the server's per-type stats, used to
// advance bullets locally between the slower bullet broadcasts.
const (
	playerBulletSpeed = 500.0
	enemyBulletSpeed  = 450.0
	bulletLifetimeSec = 3.0

	// syntheticBulletBase ids locally spawned bullet echoes far above
	// the server's bullet range so the next broadcast replaces them
	// without collisions.
	syntheticBulletBase = 1 << 30

	readBufSize = 8192
)

// Config holds client tuning.
type Config struct {
	// Name and Color are sent with the join request.
	Name  string
	Color string

	// PingInterval is seconds between RTT probes.
	PingInterval float32

	// MaxPacketsPerUpdate bounds how many datagrams one Update drains.
	MaxPacketsPerUpdate int

	// JoinAttempts and JoinRetryDelay govern the initial handshake.
	JoinAttempts   int
	JoinRetryDelay time.Duration

	// MaxConsecutiveErrors is how many socket failures in a row mark
	// the connection dead.
	MaxConsecutiveErrors int

	// Prediction toggles client-side prediction. When off the client
	// integrates movement locally and ships full transforms over the
	// legacy update message instead of inputs.
	Prediction bool
}

// DefaultConfig returns the standard client tuning.
func DefaultConfig() Config {
	return Config{
		Name:                 "Player",
		PingInterval:         1.0,
		MaxPacketsPerUpdate:  100,
		JoinAttempts:         3,
		JoinRetryDelay:       500 * time.Millisecond,
		MaxConsecutiveErrors: 5,
		Prediction:           true,
	}
}

// authoritativeState is the server's latest word on the local player,
// held until SyncAuthoritative consumes it.
type authoritativeState struct {
	pos            world.Vec2
	bodyRotation   float32
	barrelRotation float32
	health         float32
	maxHealth      float32
	score          int32
	dead           bool
	pending        bool
}

// Client talks to one game server over a datagram connection. Not safe
// for concurrent use; drive it from a single loop.
type Client struct {
	conn transport.Conn
	cfg  Config

	predictor *Predictor
	interp    *Interpolator
	tracker   *EntityTracker
	stats     *netStats

	tank     Tank
	playerID uint32

	others  map[uint32]protocol.PlayerData
	enemies map[uint32]protocol.EnemyData
	bullets map[uint32]protocol.BulletData

	authoritative authoritativeState

	lastServerTimestamp int64
	statesSeen          int

	outSeq            uint32
	nextSyntheticID   uint32
	pingTimer         float32
	consecutiveErrors int
	connected         bool

	readBuf []byte
}

// NewClient wraps an open connection. Call Connect to join the game.
func NewClient(conn transport.Conn, cfg Config) *Client {
	c := &Client{
		conn:            conn,
		cfg:             cfg,
		predictor:       NewPredictor(),
		interp:          NewInterpolator(),
		tracker:         NewEntityTracker(),
		stats:           newNetStats(),
		others:          make(map[uint32]protocol.PlayerData),
		enemies:         make(map[uint32]protocol.EnemyData),
		bullets:         make(map[uint32]protocol.BulletData),
		nextSyntheticID: syntheticBulletBase,
		readBuf:         make([]byte, readBufSize),
	}
	c.predictor.SetEnabled(cfg.Prediction)
	c.tank = Tank{
		Pos:       world.Center(),
		Health:    100,
		MaxHealth: 100,
	}
	return c
}

// nextSeq returns the next outgoing sequence number. Joins, pings, and
// bullet spawns share one counter; inputs carry their own sequence from
// the prediction history.
func (c *Client) nextSeq() uint32 {
	seq := c.outSeq
	c.outSeq++
	return seq
}

// Connect sends the join request, retrying a few times on send
// failure. The player id arrives asynchronously; poll PlayerID or wait
// for the first game state.
func (c *Client) Connect() error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.JoinAttempts; attempt++ {
		if attempt > 1 {
			log.Printf("⚠️ Join attempt %d of %d", attempt, c.cfg.JoinAttempts)
			time.Sleep(c.cfg.JoinRetryDelay)
		}

		join := &protocol.PlayerJoin{
			Name:      c.cfg.Name,
			Color:     c.cfg.Color,
			Timestamp: time.Now().UnixMilli(),
			Sequence:  c.nextSeq(),
		}
		if lastErr = c.conn.Send(protocol.Encode(join)); lastErr == nil {
			c.stats.recordSent(join.Sequence, join.Timestamp)
			c.connected = true
			log.Printf("🌐 Join request sent as %q", c.cfg.Name)
			return nil
		}
	}
	return fmt.Errorf("join request failed after %d attempts: %w", c.cfg.JoinAttempts, lastErr)
}

// Close sends a leave for a joined player and closes the socket.
func (c *Client) Close() error {
	if c.connected && c.playerID != 0 {
		leave := &protocol.PlayerLeave{
			PlayerID:  c.playerID,
			Timestamp: time.Now().UnixMilli(),
			Sequence:  c.nextSeq(),
		}
		if err := c.conn.Send(protocol.Encode(leave)); err == nil {
			log.Printf("👋 Left game as player %d", c.playerID)
		}
	}
	c.connected = false
	return c.conn.Close()
}

// Update drains pending datagrams, runs periodic sends, and advances
// the interpolation clock and local bullets. Call once per tick.
func (c *Client) Update(dt float32) {
	if !c.connected {
		return
	}

	c.drain()

	c.pingTimer += dt
	if c.pingTimer >= c.cfg.PingInterval {
		c.sendPing()
		c.pingTimer = 0
	}

	c.predictor.History().AgeBuffer(dt)
	if dropped := c.predictor.History().DropTimedOut(); dropped > 0 {
		log.Printf("⚠️ Dropped %d inputs the server never acknowledged", dropped)
	}

	c.interp.Advance(dt)
	c.advanceBullets(dt)
}

// drain polls the socket until it is empty or the per-tick budget is
// spent. An immediate read deadline turns every Recv into a
// non-blocking poll.
func (c *Client) drain() {
	for i := 0; i < c.cfg.MaxPacketsPerUpdate; i++ {
		c.conn.SetReadDeadline(time.Now())
		n, err := c.conn.Recv(c.readBuf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return
			}
			c.fault(fmt.Errorf("recv: %w", err))
			return
		}
		c.stats.recordReceived()
		c.consecutiveErrors = 0
		c.handlePacket(c.readBuf[:n])
	}
	log.Printf("⚠️ Hit per-tick packet budget (%d), leaving rest queued", c.cfg.MaxPacketsPerUpdate)
}

// fault counts a socket error, declaring the connection dead after too
// many in a row.
func (c *Client) fault(err error) {
	c.consecutiveErrors++
	log.Printf("⚠️ Network error (%d/%d): %v", c.consecutiveErrors, c.cfg.MaxConsecutiveErrors, err)
	if c.consecutiveErrors >= c.cfg.MaxConsecutiveErrors {
		log.Printf("🛑 Connection lost after %d consecutive errors", c.consecutiveErrors)
		c.connected = false
	}
}

// transmit encodes and sends one message, tracking it for statistics.
func (c *Client) transmit(m protocol.Message, seq uint32, ts int64) bool {
	if err := c.conn.Send(protocol.Encode(m)); err != nil {
		c.fault(fmt.Errorf("send %s: %w", m.Type(), err))
		return false
	}
	c.stats.recordSent(seq, ts)
	c.consecutiveErrors = 0
	return true
}

func (c *Client) sendPing() {
	ping := &protocol.Ping{
		Timestamp: time.Now().UnixMilli(),
		Sequence:  c.nextSeq(),
	}
	c.transmit(ping, ping.Sequence, ping.Timestamp)

	s := c.stats.snapshot()
	if s.Sent > protocol.LossWindow && s.PacketLoss >= protocol.LossReportThreshold {
		log.Printf("⚠️ High packet loss: %.1f%% (sent %d, received %d)",
			s.PacketLoss, s.Sent, s.Received)
	}
}

// Step runs one tick of local control: set the movement flags, move the
// tank immediately, and ship the input. Dead tanks hold still until the
// server respawns them.
func (c *Client) Step(forward, backward, left, right bool, aim world.Vec2, dt float32) {
	if !c.connected || c.playerID == 0 {
		return
	}
	if c.tank.Dead {
		c.tank.Forward = false
		c.tank.Backward = false
		c.tank.Left = false
		c.tank.Right = false
		return
	}

	c.tank.Forward = forward
	c.tank.Backward = backward
	c.tank.Left = left
	c.tank.Right = right

	if !c.cfg.Prediction {
		in := Input{Forward: forward, Backward: backward, Left: left, Right: right, DeltaTime: dt}
		applyInputToTank(&c.tank, in, aim)
		c.sendLegacyUpdate()
		return
	}

	in := c.predictor.Step(&c.tank, aim, dt, time.Now().UnixMilli())
	c.sendInput(in)
}

func (c *Client) sendInput(in Input) {
	msg := &protocol.PlayerInput{
		PlayerID:       c.playerID,
		Forward:        in.Forward,
		Backward:       in.Backward,
		Left:           in.Left,
		Right:          in.Right,
		Timestamp:      in.Timestamp,
		Sequence:       in.Sequence,
		BarrelRotation: c.tank.BarrelRotation,
	}
	c.transmit(msg, msg.Sequence, msg.Timestamp)
}

// sendLegacyUpdate ships the whole transform, clamped and normalized
// the same way the server will re-check it.
func (c *Client) sendLegacyUpdate() {
	msg := &protocol.PlayerUpdate{
		PlayerID:       c.playerID,
		X:              protocol.ClampPositionX(c.tank.Pos.X),
		Y:              protocol.ClampPositionY(c.tank.Pos.Y),
		BodyRotation:   protocol.NormalizeRotation(c.tank.BodyRotation),
		BarrelRotation: protocol.NormalizeRotation(c.tank.BarrelRotation),
		Forward:        c.tank.Forward,
		Backward:       c.tank.Backward,
		Left:           c.tank.Left,
		Right:          c.tank.Right,
		Timestamp:      time.Now().UnixMilli(),
		Sequence:       c.nextSeq(),
	}
	c.transmit(msg, msg.Sequence, msg.Timestamp)
}

// Fire asks the server to spawn a bullet at the barrel tip. The spawn
// point is clamped into the movement rectangle so the server's position
// check cannot reject a shot fired while hugging a wall.
func (c *Client) Fire() {
	if !c.connected || c.playerID == 0 || c.tank.Dead {
		return
	}

	muzzle := c.tank.BarrelEnd()
	muzzle.X = protocol.ClampPositionX(muzzle.X)
	muzzle.Y = protocol.ClampPositionY(muzzle.Y)

	rad := float64(c.tank.BarrelRotation) * math.Pi / 180
	msg := &protocol.BulletSpawn{
		OwnerID:        c.playerID,
		SpawnX:         muzzle.X,
		SpawnY:         muzzle.Y,
		DirX:           float32(math.Cos(rad)),
		DirY:           float32(math.Sin(rad)),
		BarrelRotation: c.tank.BarrelRotation,
		Timestamp:      time.Now().UnixMilli(),
		Sequence:       c.nextSeq(),
	}
	c.transmit(msg, msg.Sequence, msg.Timestamp)
}

// SyncAuthoritative applies the latest server state to the local tank:
// positional reconciliation first, then health, score, and death
// state. Between fresh states it advances any in-progress blend. Call
// once per tick after Update.
func (c *Client) SyncAuthoritative() {
	if !c.authoritative.pending {
		c.predictor.ContinueBlend(&c.tank)
		return
	}

	c.predictor.Reconcile(&c.tank, c.authoritative.pos, c.authoritative.bodyRotation)

	c.tank.Health = c.authoritative.health
	c.tank.MaxHealth = c.authoritative.maxHealth
	c.tank.Score = c.authoritative.score
	c.tank.Dead = c.authoritative.dead

	c.authoritative.pending = false
}

// handlePacket decodes and dispatches one datagram. Malformed packets
// are dropped like any other lossy-transport garbage.
func (c *Client) handlePacket(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Printf("⚠️ Dropping malformed packet (%d bytes): %v", len(data), err)
		return
	}

	switch m := msg.(type) {
	case *protocol.GameState:
		c.handleGameState(m)
	case *protocol.PlayerIDAssign:
		c.handleIDAssign(m)
	case *protocol.Pong:
		c.handlePong(m)
	case *protocol.InputAck:
		c.handleInputAck(m)
	case *protocol.BulletUpdate:
		c.handleBulletUpdate(m)
	case *protocol.BulletDestroy:
		c.handleBulletDestroy(m)
	case *protocol.BulletSpawn:
		c.handleBulletSpawn(m)
	case *protocol.PlayerDeath:
		c.handlePlayerDeath(m)
	case *protocol.PlayerRespawn:
		c.handlePlayerRespawn(m)
	case *protocol.PlayerLeave:
		c.handlePlayerLeave(m)
	case *protocol.PlayerList:
		// Legacy roster message, superseded by the full game state.
	default:
		log.Printf("⚠️ Unexpected %s from server", msg.Type())
	}
}

// handlePlayerLeave is the server's departure notice, sent for explicit
// leaves and timeouts. One for our own id means the server dropped us.
func (c *Client) handlePlayerLeave(m *protocol.PlayerLeave) {
	if m.PlayerID == c.playerID && c.playerID != 0 {
		log.Printf("❎ Server dropped our session (player %d)", m.PlayerID)
		c.connected = false
		return
	}
	if _, ok := c.others[m.PlayerID]; ok {
		log.Printf("👋 Player %d left", m.PlayerID)
	}
	delete(c.others, m.PlayerID)
	c.interp.RemoveEntity(m.PlayerID)
	c.tracker.Forget(m.PlayerID)
}

// handleGameState ingests one authoritative snapshot: repairs suspect
// fields, captures the local player's state for reconciliation, feeds
// remote entities into interpolation, and applies the piggybacked
// input ack.
func (c *Client) handleGameState(m *protocol.GameState) {
	now := time.Now().UnixMilli()
	if !protocol.ValidTimestamp(m.Timestamp, now) {
		log.Printf("⚠️ Game state timestamp %d outside drift window, dropping", m.Timestamp)
		return
	}

	if c.stats.recordSequence(m.Sequence) {
		log.Printf("Out-of-order game state %d", m.Sequence)
	}
	c.lastServerTimestamp = m.Timestamp
	c.statesSeen++

	for id := range c.others {
		delete(c.others, id)
	}
	for id := range c.enemies {
		delete(c.enemies, id)
	}
	current := make([]uint32, 0, len(m.Players)+len(m.Enemies))

	for i := range m.Players {
		p := m.Players[i]
		if !protocol.ValidPlayerID(p.ID) {
			log.Printf("⚠️ Invalid player id %d in game state", p.ID)
			continue
		}
		// The server is trusted, the path is not: repair each field
		// rather than discarding the whole record.
		if !protocol.ValidPlayerName(p.Name) {
			p.Name = fmt.Sprintf("Player%d", p.ID)
		}
		if !protocol.ValidPosition(p.X, p.Y) {
			p.X = protocol.ClampPositionX(p.X)
			p.Y = protocol.ClampPositionY(p.Y)
		}
		if !protocol.ValidRotation(p.BodyRotation) {
			p.BodyRotation = protocol.NormalizeRotation(p.BodyRotation)
		}
		if !protocol.ValidRotation(p.BarrelRotation) {
			p.BarrelRotation = protocol.NormalizeRotation(p.BarrelRotation)
		}
		if !protocol.ValidColor(p.Color) {
			p.Color = "green"
		}

		if c.playerID == 0 {
			continue
		}
		if p.ID == c.playerID {
			c.authoritative = authoritativeState{
				pos:            world.Vec2{X: p.X, Y: p.Y},
				bodyRotation:   p.BodyRotation,
				barrelRotation: p.BarrelRotation,
				health:         p.Health,
				maxHealth:      p.MaxHealth,
				score:          p.Score,
				dead:           p.Dead,
				pending:        true,
			}
			continue
		}

		c.others[p.ID] = p
		current = append(current, p.ID)
		c.interp.AddSnapshot(p.ID, Snapshot{
			Timestamp:      m.Timestamp,
			Pos:            world.Vec2{X: p.X, Y: p.Y},
			BodyRotation:   p.BodyRotation,
			BarrelRotation: p.BarrelRotation,
			Forward:        p.Forward,
			Backward:       p.Backward,
			Left:           p.Left,
			Right:          p.Right,
		})
	}

	for i := range m.Enemies {
		e := m.Enemies[i]
		c.enemies[e.ID] = e
		current = append(current, e.ID)
		c.interp.AddSnapshot(e.ID, Snapshot{
			Timestamp:      m.Timestamp,
			Pos:            world.Vec2{X: e.X, Y: e.Y},
			BodyRotation:   e.BodyRotation,
			BarrelRotation: e.BarrelRotation,
		})
	}

	appeared, vanished := c.tracker.Diff(current)
	for _, id := range appeared {
		if id < protocol.EnemyIDBase {
			log.Printf("✅ Player %d (%s) joined", id, c.others[id].Name)
		}
	}
	for _, id := range vanished {
		c.interp.RemoveEntity(id)
		if id < protocol.EnemyIDBase {
			log.Printf("❎ Player %d left", id)
		}
	}

	// The render clock starts on the second state, once an RTT estimate
	// exists to size the delay.
	if c.statesSeen >= 2 && !c.interp.Initialized() {
		delay := int64(c.stats.snapshot().AverageRTT * 2)
		if delay < defaultDelayMs {
			delay = defaultDelayMs
		}
		c.interp.SetDelay(delay)
		c.interp.Initialize(m.Timestamp)
	}

	if m.LastAckedInput > 0 {
		c.predictor.Acknowledge(m.LastAckedInput)
	}
}

func (c *Client) handleIDAssign(m *protocol.PlayerIDAssign) {
	if !protocol.ValidPlayerID(m.PlayerID) {
		log.Printf("⚠️ Invalid player id assignment %d", m.PlayerID)
		return
	}
	if c.playerID == m.PlayerID {
		return
	}
	c.playerID = m.PlayerID
	log.Printf("🎮 Assigned player id %d", c.playerID)
}

func (c *Client) handlePong(m *protocol.Pong) {
	if m.EchoedTimestamp <= 0 {
		log.Printf("⚠️ Pong with invalid timestamp %d", m.EchoedTimestamp)
		return
	}
	rtt := float32(time.Now().UnixMilli() - m.EchoedTimestamp)
	if !c.stats.addRTT(rtt) {
		log.Printf("⚠️ Discarding implausible RTT sample %.0fms", rtt)
		return
	}
	c.stats.resolvePing(m.Sequence)
}

func (c *Client) handleInputAck(m *protocol.InputAck) {
	if m.PlayerID != c.playerID {
		return
	}
	c.predictor.Acknowledge(m.AckedSequence)
}

// handleBulletUpdate replaces the whole bullet table; the broadcast is
// a full snapshot, not a delta.
func (c *Client) handleBulletUpdate(m *protocol.BulletUpdate) {
	for id := range c.bullets {
		delete(c.bullets, id)
	}
	for i := range m.Bullets {
		c.bullets[m.Bullets[i].ID] = m.Bullets[i]
	}
}

func (c *Client) handleBulletDestroy(m *protocol.BulletDestroy) {
	delete(c.bullets, m.BulletID)
	if m.HitTargetID != 0 && m.HitTargetID == c.playerID {
		log.Printf("💥 Hit by bullet %d (%s)", m.BulletID, destroyReasonName(m.Reason))
	}
}

// handleBulletSpawn mirrors a server-announced muzzle flash as a local
// bullet so it renders before the next bullet broadcast names it.
func (c *Client) handleBulletSpawn(m *protocol.BulletSpawn) {
	speed := float32(playerBulletSpeed)
	bulletType := protocol.BulletPlayer
	if m.OwnerID >= protocol.EnemyIDBase {
		speed = enemyBulletSpeed
		bulletType = protocol.BulletEnemy
	}

	id := c.nextSyntheticID
	c.nextSyntheticID++
	c.bullets[id] = protocol.BulletData{
		ID:         id,
		OwnerID:    m.OwnerID,
		BulletType: bulletType,
		X:          m.SpawnX,
		Y:          m.SpawnY,
		VelocityX:  m.DirX * speed,
		VelocityY:  m.DirY * speed,
		Rotation:   m.BarrelRotation,
		Lifetime:   bulletLifetimeSec,
		SpawnTime:  m.Timestamp,
	}
}

func (c *Client) handlePlayerDeath(m *protocol.PlayerDeath) {
	if m.PlayerID == c.playerID {
		log.Printf("💥 You died at (%.0f, %.0f), -%d points", m.X, m.Y, m.ScorePenalty)
		return
	}
	log.Printf("💥 Player %d died", m.PlayerID)
}

func (c *Client) handlePlayerRespawn(m *protocol.PlayerRespawn) {
	if m.PlayerID == c.playerID {
		log.Printf("✅ Respawned at (%.0f, %.0f) with %.0f health", m.X, m.Y, m.Health)
		return
	}
	log.Printf("✅ Player %d respawned", m.PlayerID)
}

// advanceBullets integrates bullet motion between server snapshots so
// rendering stays smooth at the lower bullet broadcast rate.
func (c *Client) advanceBullets(dt float32) {
	for id, b := range c.bullets {
		b.X += b.VelocityX * dt
		b.Y += b.VelocityY * dt
		b.Lifetime -= dt
		if b.Lifetime <= 0 || !world.InPlayableArea(b.X, b.Y) {
			delete(c.bullets, id)
			continue
		}
		c.bullets[id] = b
	}
}

func destroyReasonName(reason uint8) string {
	switch reason {
	case protocol.DestroyExpired:
		return "expired"
	case protocol.DestroyHitPlayer:
		return "hit player"
	case protocol.DestroyHitEnemy:
		return "hit enemy"
	case protocol.DestroyHitBorder:
		return "hit border"
	default:
		return "unknown"
	}
}

func (c *Client) Connected() bool {
	return c.connected
}

func (c *Client) PlayerID() uint32 {
	return c.playerID
}

// Tank returns the locally controlled tank for reading and for setting
// movement state.
func (c *Client) Tank() *Tank {
	return &c.tank
}

func (c *Client) Stats() Stats {
	return c.stats.snapshot()
}

func (c *Client) Interpolator() *Interpolator {
	return c.interp
}

func (c *Client) Predictor() *Predictor {
	return c.predictor
}

func (c *Client) LastServerTimestamp() int64 {
	return c.lastServerTimestamp
}

// OtherPlayers returns a copy of the remote player table.
func (c *Client) OtherPlayers() map[uint32]protocol.PlayerData {
	out := make(map[uint32]protocol.PlayerData, len(c.others))
	for id, p := range c.others {
		out[id] = p
	}
	return out
}

// Enemies returns a copy of the enemy table.
func (c *Client) Enemies() map[uint32]protocol.EnemyData {
	out := make(map[uint32]protocol.EnemyData, len(c.enemies))
	for id, e := range c.enemies {
		out[id] = e
	}
	return out
}

// Bullets returns a copy of the live bullet table.
func (c *Client) Bullets() map[uint32]protocol.BulletData {
	out := make(map[uint32]protocol.BulletData, len(c.bullets))
	for id, b := range c.bullets {
		out[id] = b
	}
	return out
}
