package game

import (
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ferrumgames/tankserver/internal/protocol"
	"github.com/ferrumgames/tankserver/internal/world"
)

// packet is one raw datagram waiting in the engine's inbox.
type packet struct {
	addr string
	data []byte
}

// Engine runs the authoritative tick loop: it drains the network inbox,
// steps the simulation, and broadcasts state on its configured cadences.
// Everything runs on the tick goroutine; the transport only enqueues.
type Engine struct {
	config      Config
	state       *State
	broadcaster Broadcaster

	inbox   chan packet
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool

	// joinLimiter throttles joins from new addresses. Rejoins from a
	// known address bypass it.
	joinLimiter *rate.Limiter

	// outSeq numbers every outgoing message, shared across all types.
	outSeq uint32

	stateTimer  float32
	bulletTimer float32
	statsTimer  float32
}

// NewEngine creates an engine around a fresh game state.
func NewEngine(config Config, broadcaster Broadcaster) *Engine {
	return &Engine{
		config:      config,
		state:       NewState(config),
		broadcaster: broadcaster,
		inbox:       make(chan packet, config.InboxSize),
		stopCh:      make(chan struct{}),
		joinLimiter: rate.NewLimiter(config.JoinRate, config.JoinBurst),
	}
}

// State returns the game state for external readers.
func (e *Engine) State() *State {
	return e.state
}

// PlayerCount returns the current player count.
func (e *Engine) PlayerCount() int {
	return e.state.PlayerCount()
}

// HandlePacket enqueues a raw datagram for the next tick. Safe to call
// from transport goroutines; packets are dropped when the inbox is full.
func (e *Engine) HandlePacket(addr string, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case e.inbox <- packet{addr: addr, data: buf}:
	default:
		log.Printf("⚠️ Inbox full, dropping packet from %s", addr)
	}
}

// Start begins the tick loop.
func (e *Engine) Start() {
	if e.running {
		return
	}
	e.running = true
	e.wg.Add(1)
	go e.tickLoop()
	log.Printf("🎮 Engine started: %d Hz tick, state every %.0fms, bullets every %.0fms",
		e.config.TickRate, e.config.StateInterval*1000, e.config.BulletInterval*1000)
}

// Stop stops the tick loop and waits for it to exit.
func (e *Engine) Stop() {
	if !e.running {
		return
	}
	e.running = false
	close(e.stopCh)
	e.wg.Wait()
	log.Println("🛑 Engine stopped")
}

func (e *Engine) tickLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(e.config.TickRate))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			dt := float32(now.Sub(last).Seconds())
			last = now
			e.tick(dt)
		}
	}
}

// tick runs one frame. Phase order matters: inputs before movement,
// movement before enemies, bullets before separation, deaths after all
// damage has landed.
func (e *Engine) tick(dt float32) {
	e.drainInbox()

	e.state.SimulateMovement(dt)

	now := time.Now().UnixMilli()
	for _, shot := range e.state.UpdateEnemies(dt) {
		e.broadcaster.Broadcast(&protocol.BulletSpawn{
			OwnerID:        shot.OwnerID,
			SpawnX:         shot.X,
			SpawnY:         shot.Y,
			DirX:           shot.DirX,
			DirY:           shot.DirY,
			BarrelRotation: shot.BarrelRotation,
			Timestamp:      now,
			Sequence:       e.nextSeq(),
		})
	}

	for _, ev := range e.state.UpdateBullets(dt) {
		e.broadcaster.Broadcast(&protocol.BulletDestroy{
			BulletID:    ev.BulletID,
			Reason:      ev.Reason,
			HitTargetID: ev.TargetID,
			HitX:        ev.X,
			HitY:        ev.Y,
			Timestamp:   now,
			Sequence:    e.nextSeq(),
		})
	}

	e.state.ResolveCollisions(dt)

	for _, ev := range e.state.CheckDeaths() {
		e.broadcaster.Broadcast(&protocol.PlayerDeath{
			PlayerID:     ev.PlayerID,
			KillerID:     0, // enemies are the only source of damage
			X:            ev.X,
			Y:            ev.Y,
			ScorePenalty: ev.Penalty,
			Timestamp:    now,
			Sequence:     e.nextSeq(),
		})
	}

	for _, ev := range e.state.UpdateDead(dt) {
		e.broadcaster.Broadcast(&protocol.PlayerRespawn{
			PlayerID:  ev.PlayerID,
			X:         ev.X,
			Y:         ev.Y,
			Health:    ev.Health,
			Timestamp: now,
			Sequence:  e.nextSeq(),
		})
	}

	e.stateTimer += dt
	if e.stateTimer >= e.config.StateInterval {
		e.broadcastGameState()
		e.stateTimer = 0
	}

	e.bulletTimer += dt
	if e.bulletTimer >= e.config.BulletInterval {
		e.broadcastBullets()
		e.bulletTimer = 0
	}

	timedOut := e.state.TimeoutPlayers(dt)
	for _, p := range timedOut {
		log.Printf("⚠️ Player %d (%s) timed out", p.ID, p.Name)
		leave := &protocol.PlayerLeave{
			PlayerID:  p.ID,
			Timestamp: now,
			Sequence:  e.nextSeq(),
		}
		// The broadcast walks the player table, which no longer holds the
		// victim; tell it directly in case it is still listening.
		e.sendTo(p.Addr, leave)
		e.broadcaster.Broadcast(leave)
	}
	if len(timedOut) > 0 {
		e.broadcastGameState()
	}

	e.statsTimer += dt
	if e.statsTimer >= e.config.StatsInterval {
		e.logStats()
		e.statsTimer = 0
	}
}

func (e *Engine) drainInbox() {
	for i := 0; i < e.config.MaxPacketsPerTick; i++ {
		select {
		case pkt := <-e.inbox:
			e.handlePacket(pkt.addr, pkt.data)
		default:
			return
		}
	}
	log.Println("⚠️ Hit per-tick packet limit, leaving rest for next tick")
}

func (e *Engine) handlePacket(addr string, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Printf("⚠️ Dropping malformed packet from %s: %v", addr, err)
		return
	}

	switch m := msg.(type) {
	case *protocol.PlayerJoin:
		e.handleJoin(addr, m)
	case *protocol.PlayerInput:
		e.handleInput(addr, m)
	case *protocol.PlayerUpdate:
		e.handleUpdate(addr, m)
	case *protocol.BulletSpawn:
		e.handleBulletSpawn(addr, m)
	case *protocol.Ping:
		e.handlePing(addr, m)
	case *protocol.PlayerLeave:
		e.handleLeave(addr, m)
	default:
		log.Printf("⚠️ Unexpected %s from %s", msg.Type(), addr)
	}
}

func (e *Engine) handleJoin(addr string, m *protocol.PlayerJoin) {
	if !protocol.ValidPlayerName(m.Name) {
		log.Printf("⚠️ Invalid player name from %s (%d bytes)", addr, len(m.Name))
		return
	}
	// A bad color is worth noting but not worth refusing a player over.
	if m.Color != "" && !protocol.ValidColor(m.Color) {
		log.Printf("⚠️ Invalid color from %s (%d bytes)", addr, len(m.Color))
	}
	now := time.Now().UnixMilli()
	if !protocol.ValidTimestamp(m.Timestamp, now) {
		log.Printf("⚠️ Join timestamp from %s outside drift window", addr)
	}

	log.Printf("🌐 Join request from %s: %q (seq %d)", addr, m.Name, m.Sequence)

	if p, ok := e.state.GetPlayerByAddr(addr); ok {
		log.Printf("Player %d already connected from %s, resending assignment", p.ID, addr)
		p.Idle = 0
		p.Name = m.Name
		e.sendTo(addr, &protocol.PlayerIDAssign{PlayerID: p.ID})
		e.sendTo(addr, e.gameStateMessage())
		return
	}

	if !e.joinLimiter.Allow() {
		log.Printf("⚠️ Join rate limit exceeded, dropping request from %s", addr)
		return
	}

	p, err := e.state.AddPlayer(m.Name, m.Color, addr)
	if err != nil {
		log.Printf("⚠️ Refusing join from %s: %v", addr, err)
		return
	}
	p.RecordSequence(m.Sequence)

	log.Printf("✅ Player %d (%s) joined with color %s", p.ID, p.Name, p.Color)

	e.sendTo(addr, &protocol.PlayerIDAssign{PlayerID: p.ID})
	e.sendTo(addr, e.gameStateMessage())
	e.broadcastGameState()
}

func (e *Engine) handleInput(addr string, m *protocol.PlayerInput) {
	if !protocol.ValidPlayerID(m.PlayerID) {
		log.Printf("⚠️ Invalid player id %d in input from %s", m.PlayerID, addr)
		return
	}
	now := time.Now().UnixMilli()
	if !protocol.ValidTimestamp(m.Timestamp, now) {
		log.Printf("Input timestamp from player %d outside drift window", m.PlayerID)
	}
	if !protocol.ValidRotation(m.BarrelRotation) {
		log.Printf("Off-range barrel rotation %.1f from player %d", m.BarrelRotation, m.PlayerID)
	}

	p, ok := e.state.GetPlayer(m.PlayerID)
	if !ok {
		return
	}
	if p.Addr != addr {
		log.Printf("⚠️ Input for player %d from wrong address %s", m.PlayerID, addr)
		return
	}

	// Duplicate and late inputs are logged but still applied; the flags
	// are absolute state, so replaying one is harmless.
	if !p.ValidSequence(m.Sequence) {
		log.Printf("Out-of-order input from player %d (seq %d)", m.PlayerID, m.Sequence)
	}

	p.Forward = m.Forward
	p.Backward = m.Backward
	p.Left = m.Left
	p.Right = m.Right
	p.BarrelRotation = protocol.NormalizeRotation(m.BarrelRotation)
	p.Idle = 0
	p.RecordSequence(m.Sequence)
	p.LastAckedInput = m.Sequence

	e.sendTo(addr, &protocol.InputAck{
		PlayerID:        m.PlayerID,
		AckedSequence:   m.Sequence,
		ServerTimestamp: now,
	})
}

// handleUpdate accepts the legacy full-transform message. Unlike inputs,
// a bad position or rotation rejects the whole update since the client
// is claiming authority over its transform.
func (e *Engine) handleUpdate(addr string, m *protocol.PlayerUpdate) {
	if !protocol.ValidPlayerID(m.PlayerID) {
		return
	}
	if !protocol.ValidPosition(m.X, m.Y) {
		return
	}
	if !protocol.ValidRotation(m.BodyRotation) || !protocol.ValidRotation(m.BarrelRotation) {
		return
	}
	if !protocol.ValidTimestamp(m.Timestamp, time.Now().UnixMilli()) {
		log.Printf("Update timestamp from player %d outside drift window", m.PlayerID)
	}

	p, ok := e.state.GetPlayer(m.PlayerID)
	if !ok || p.Addr != addr {
		return
	}

	if !p.ValidSequence(m.Sequence) {
		log.Printf("Out-of-order update from player %d (seq %d)", m.PlayerID, m.Sequence)
	}

	p.Pos.X = protocol.ClampPositionX(m.X)
	p.Pos.Y = protocol.ClampPositionY(m.Y)
	p.BodyRotation = protocol.NormalizeRotation(m.BodyRotation)
	p.BarrelRotation = protocol.NormalizeRotation(m.BarrelRotation)
	p.Forward = m.Forward
	p.Backward = m.Backward
	p.Left = m.Left
	p.Right = m.Right
	p.Idle = 0
	p.RecordSequence(m.Sequence)
}

func (e *Engine) handleBulletSpawn(addr string, m *protocol.BulletSpawn) {
	p, ok := e.state.GetPlayer(m.OwnerID)
	if !ok {
		log.Printf("⚠️ Bullet spawn from unknown player %d", m.OwnerID)
		return
	}
	if p.Addr != addr {
		log.Printf("⚠️ Bullet spawn for player %d from wrong address %s", m.OwnerID, addr)
		return
	}

	if !protocol.ValidPosition(m.SpawnX, m.SpawnY) ||
		!protocol.ValidBulletDirection(m.DirX, m.DirY) ||
		!protocol.ValidTimestamp(m.Timestamp, time.Now().UnixMilli()) {
		log.Printf("⚠️ Invalid bullet spawn request from player %d", m.OwnerID)
		return
	}

	b := e.state.SpawnPlayerBullet(m.OwnerID,
		world.Vec2{X: m.SpawnX, Y: m.SpawnY},
		world.Vec2{X: m.DirX, Y: m.DirY})

	log.Printf("🎯 Player %d spawned bullet %d", m.OwnerID, b.ID)

	e.broadcastBullets()
}

func (e *Engine) handlePing(addr string, m *protocol.Ping) {
	e.sendTo(addr, &protocol.Pong{
		EchoedTimestamp: m.Timestamp,
		Sequence:        m.Sequence,
	})
}

func (e *Engine) handleLeave(addr string, m *protocol.PlayerLeave) {
	p, ok := e.state.GetPlayerByAddr(addr)
	if !ok {
		return
	}
	if m.PlayerID != 0 && m.PlayerID != p.ID {
		log.Printf("⚠️ Leave for player %d from address of player %d", m.PlayerID, p.ID)
		return
	}

	e.state.RemovePlayer(p.ID)
	log.Printf("❎ Player %d (%s) left", p.ID, p.Name)
	e.broadcaster.Broadcast(&protocol.PlayerLeave{
		PlayerID:  p.ID,
		Timestamp: time.Now().UnixMilli(),
		Sequence:  e.nextSeq(),
	})
	e.broadcastGameState()
}

// gameStateMessage builds the full authoritative snapshot. The ack field
// stays zero; per-input acks travel on their own message.
func (e *Engine) gameStateMessage() *protocol.GameState {
	players, enemies := e.state.Snapshot()
	return &protocol.GameState{
		Players:   players,
		Enemies:   enemies,
		Timestamp: time.Now().UnixMilli(),
		Sequence:  e.nextSeq(),
	}
}

func (e *Engine) broadcastGameState() {
	if e.state.PlayerCount() == 0 {
		return
	}
	e.broadcaster.Broadcast(e.gameStateMessage())
}

func (e *Engine) broadcastBullets() {
	bullets := e.state.BulletSnapshot()
	if len(bullets) == 0 || e.state.PlayerCount() == 0 {
		return
	}
	e.broadcaster.Broadcast(&protocol.BulletUpdate{
		Bullets:   bullets,
		Timestamp: time.Now().UnixMilli(),
		Sequence:  e.nextSeq(),
	})
}

func (e *Engine) logStats() {
	players := e.state.AllPlayers()
	if len(players) == 0 {
		log.Printf("Server running: no players, %d enemies", e.state.EnemyCount())
		return
	}

	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, p.Name)
	}
	log.Printf("Server running: %d players (%s), %d enemies, %d bullets",
		len(players), strings.Join(names, ", "), e.state.EnemyCount(), e.state.BulletCount())

	for _, p := range players {
		if loss := p.PacketLoss(); loss >= protocol.LossReportThreshold {
			log.Printf("⚠️ Player %d (%s) inbound packet loss %.1f%%", p.ID, p.Name, loss)
		}
	}
}

// sendTo sends one message to a single address, logging failures.
func (e *Engine) sendTo(addr string, msg protocol.Message) {
	if err := e.broadcaster.SendTo(addr, msg); err != nil {
		log.Printf("⚠️ Send %s to %s failed: %v", msg.Type(), addr, err)
	}
}

// nextSeq returns the next outgoing sequence number. Only the tick
// goroutine sends, so no locking is needed.
func (e *Engine) nextSeq() uint32 {
	s := e.outSeq
	e.outSeq++
	return s
}
