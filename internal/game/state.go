// Package game implements the authoritative tank game simulation: player
// movement, enemy AI, bullets, and the tick engine that broadcasts state.
package game

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ferrumgames/tankserver/internal/protocol"
	"github.com/ferrumgames/tankserver/internal/world"
)

// ErrServerFull is returned when the player cap is reached.
var ErrServerFull = errors.New("server full")

// availableColors are handed out in order to new players; when all are
// taken a random one is reused.
var availableColors = []string{"red", "blue", "green", "black"}

// seqHistoryLimit bounds per-player sequence tracking; entries older than
// the newest minus the limit are pruned.
const seqHistoryLimit = 200

// Player is one connected tank, addressed by numeric id on the wire and
// by remote address on the socket.
type Player struct {
	ID    uint32
	Name  string
	Addr  string
	Color string

	Pos            world.Vec2
	BodyRotation   float32
	BarrelRotation float32

	Forward  bool
	Backward bool
	Left     bool
	Right    bool

	Health    float32
	MaxHealth float32
	Score     int32

	Dead         bool
	RespawnTimer float32

	// Idle accumulates seconds since the last movement packet. The tick
	// loop grows it; input handlers reset it.
	Idle float32

	// LastAckedInput is the newest input sequence applied for this
	// player, echoed back in acknowledgments.
	LastAckedInput uint32

	highestSeq uint32
	seenSeqs   map[uint32]struct{}
}

// ValidSequence reports whether an incoming sequence number is neither a
// duplicate nor older than the reorder window. Inputs failing the check
// are still applied; the result only drives logging and loss stats.
func (p *Player) ValidSequence(seq uint32) bool {
	if _, dup := p.seenSeqs[seq]; dup {
		return false
	}
	if seq+protocol.SequenceWindow < p.highestSeq {
		return false
	}
	return true
}

// RecordSequence notes a received sequence number and prunes tracking
// state that fell out of the history window.
func (p *Player) RecordSequence(seq uint32) {
	p.seenSeqs[seq] = struct{}{}
	if seq > p.highestSeq {
		p.highestSeq = seq
	}

	if len(p.seenSeqs) > seqHistoryLimit {
		var min uint32
		if p.highestSeq > seqHistoryLimit {
			min = p.highestSeq - seqHistoryLimit
		}
		for s := range p.seenSeqs {
			if s < min {
				delete(p.seenSeqs, s)
			}
		}
	}
}

// PacketLoss estimates recent inbound loss for this player as a
// percentage over the tracking window. Too little history reports 0.
func (p *Player) PacketLoss() float32 {
	if p.highestSeq <= protocol.LossWindow {
		return 0
	}
	received := len(p.seenSeqs)
	if received >= protocol.LossWindow {
		return 0
	}
	return float32(protocol.LossWindow-received) / float32(protocol.LossWindow) * 100
}

// Data flattens the player into its wire record.
func (p *Player) Data() protocol.PlayerData {
	return protocol.PlayerData{
		ID:             p.ID,
		Name:           p.Name,
		X:              p.Pos.X,
		Y:              p.Pos.Y,
		BodyRotation:   p.BodyRotation,
		BarrelRotation: p.BarrelRotation,
		Color:          p.Color,
		Forward:        p.Forward,
		Backward:       p.Backward,
		Left:           p.Left,
		Right:          p.Right,
		Health:         p.Health,
		MaxHealth:      p.MaxHealth,
		Score:          p.Score,
		Dead:           p.Dead,
	}
}

// State holds the complete authoritative game state: players, enemies,
// and bullets. The tick goroutine is the only mutator; the lock exists
// for snapshot reads from other goroutines.
type State struct {
	mu     sync.RWMutex
	config Config

	players map[uint32]*Player
	byAddr  map[string]uint32
	enemies map[uint32]*Enemy
	bullets map[uint32]*Bullet

	nextPlayerID uint32
	nextEnemyID  uint32
	nextBulletID uint32

	enemySpawnTimer float32

	rng *rand.Rand
}

// NewState creates an empty game state.
func NewState(config Config) *State {
	return &State{
		config:       config,
		players:      make(map[uint32]*Player),
		byAddr:       make(map[string]uint32),
		enemies:      make(map[uint32]*Enemy),
		bullets:      make(map[uint32]*Bullet),
		nextPlayerID: 1,
		nextEnemyID:  protocol.EnemyIDBase,
		nextBulletID: protocol.BulletIDBase,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Config returns the state's configuration.
func (s *State) Config() Config {
	return s.config
}

// AddPlayer registers a new player at the world center with full health.
// An empty preferred color gets the first unused color.
func (s *State) AddPlayer(name, color, addr string) (*Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.players) >= s.config.MaxPlayers {
		return nil, ErrServerFull
	}

	if color == "" {
		color = s.assignColor()
	}

	p := &Player{
		ID:        s.nextPlayerID,
		Name:      name,
		Addr:      addr,
		Color:     color,
		Pos:       world.Center(),
		Health:    100,
		MaxHealth: 100,
		seenSeqs:  make(map[uint32]struct{}),
	}
	s.nextPlayerID++
	s.players[p.ID] = p
	s.byAddr[addr] = p.ID
	return p, nil
}

// assignColor picks the first color no current player uses, falling back
// to a random one. Caller holds the lock.
func (s *State) assignColor() string {
	used := make(map[string]bool, len(s.players))
	for _, p := range s.players {
		used[p.Color] = true
	}
	for _, c := range availableColors {
		if !used[c] {
			return c
		}
	}
	return availableColors[s.rng.Intn(len(availableColors))]
}

// RemovePlayer drops a player and its address mapping.
func (s *State) RemovePlayer(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.players[id]; ok {
		delete(s.byAddr, p.Addr)
		delete(s.players, id)
	}
}

// GetPlayer returns a player by id.
func (s *State) GetPlayer(id uint32) (*Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	return p, ok
}

// GetPlayerByAddr returns the player registered at a remote address.
func (s *State) GetPlayerByAddr(addr string) (*Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAddr[addr]
	if !ok {
		return nil, false
	}
	p, ok := s.players[id]
	return p, ok
}

// PlayerCount returns the number of connected players.
func (s *State) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// EnemyCount returns the number of live enemies.
func (s *State) EnemyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.enemies)
}

// BulletCount returns the number of in-flight bullets.
func (s *State) BulletCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bullets)
}

// AllPlayers returns the players sorted by id.
func (s *State) AllPlayers() []*Player {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players
}

// GetEnemy returns an enemy by id.
func (s *State) GetEnemy(id uint32) (*Enemy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.enemies[id]
	return e, ok
}

// Snapshot returns wire records for every player and enemy, sorted by id
// so broadcasts are deterministic.
func (s *State) Snapshot() ([]protocol.PlayerData, []protocol.EnemyData) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]protocol.PlayerData, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p.Data())
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })

	enemies := make([]protocol.EnemyData, 0, len(s.enemies))
	for _, e := range s.enemies {
		enemies = append(enemies, e.Data())
	}
	sort.Slice(enemies, func(i, j int) bool { return enemies[i].ID < enemies[j].ID })

	return players, enemies
}

// BulletSnapshot returns wire records for every live bullet, sorted by id.
func (s *State) BulletSnapshot() []protocol.BulletData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bullets := make([]protocol.BulletData, 0, len(s.bullets))
	for _, b := range s.bullets {
		if !b.Destroyed {
			bullets = append(bullets, b.Data())
		}
	}
	sort.Slice(bullets, func(i, j int) bool { return bullets[i].ID < bullets[j].ID })
	return bullets
}
