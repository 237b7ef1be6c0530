// Package room tracks the lobby side of the service: short shareable
// room codes, the players inside each room, and the port the room's
// dedicated game server listens on.
package room

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Config holds registry tuning.
type Config struct {
	// MaxPlayers caps each room.
	MaxPlayers int

	// MaxRooms bounds the registry; it also sizes the port pool.
	MaxRooms int

	// BasePort is the first game-server port handed out. Room N runs
	// on BasePort+N until ports are recycled.
	BasePort int

	// RoomTTL is how long an empty room lingers before expiry.
	RoomTTL time.Duration

	// CleanupPeriod is the expiry sweep cadence.
	CleanupPeriod time.Duration
}

// DefaultConfig returns the standard lobby tuning.
func DefaultConfig() Config {
	return Config{
		MaxPlayers:    8,
		MaxRooms:      50,
		BasePort:      9100,
		RoomTTL:       5 * time.Minute,
		CleanupPeriod: 30 * time.Second,
	}
}

// Player is one lobby member.
type Player struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
	IsHost   bool      `json:"is_host"`
}

// Room pairs a shareable code with the game server that backs it.
type Room struct {
	ID         string
	Port       int
	CreatedAt  time.Time
	HostID     string
	MaxPlayers int

	players      map[string]Player
	lastActivity time.Time
	ttl          time.Duration
	mu           sync.RWMutex
}

// Info is a race-free copy of a room for JSON responses.
type Info struct {
	ID         string    `json:"id"`
	Port       int       `json:"port"`
	CreatedAt  time.Time `json:"created_at"`
	HostID     string    `json:"host_id"`
	MaxPlayers int       `json:"max_players"`
	Players    []Player  `json:"players"`
}

// Registry manages all rooms and their server ports.
type Registry struct {
	rooms     map[string]*Room
	freePorts []int
	config    Config
	mu        sync.RWMutex

	// onExpired must be set before the first room can expire.
	onExpired func(*Room)

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry starts a registry and its background expiry sweep. Call
// Close to stop the sweep.
func NewRegistry(config Config) *Registry {
	ports := make([]int, 0, config.MaxRooms)
	for i := 0; i < config.MaxRooms; i++ {
		ports = append(ports, config.BasePort+i)
	}
	r := &Registry{
		rooms:     make(map[string]*Room),
		freePorts: ports,
		config:    config,
		stop:      make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Close stops the expiry sweep. Rooms are left in place.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// OnExpired registers a callback invoked for each expired room after it
// leaves the registry, typically to stop the room's game server.
func (r *Registry) OnExpired(callback func(*Room)) {
	r.onExpired = callback
}

// generateID creates a short, shareable room code.
func generateID() string {
	b := make([]byte, 3)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Create allocates a room code and a game-server port.
func (r *Registry) Create() (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.freePorts) == 0 {
		return nil, ErrNoPortsFree
	}

	id := generateID()
	for r.rooms[id] != nil {
		id = generateID()
	}

	port := r.freePorts[0]
	r.freePorts = r.freePorts[1:]

	room := &Room{
		ID:           id,
		Port:         port,
		CreatedAt:    time.Now(),
		MaxPlayers:   r.config.MaxPlayers,
		players:      make(map[string]Player),
		lastActivity: time.Now(),
		ttl:          r.config.RoomTTL,
	}
	r.rooms[id] = room
	return room, nil
}

// Get retrieves a room by code.
func (r *Registry) Get(id string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[id]
}

// Join adds a player to a room by code.
func (r *Registry) Join(roomID, playerID, playerName string) (*Room, *Player, error) {
	r.mu.RLock()
	room, exists := r.rooms[roomID]
	r.mu.RUnlock()
	if !exists {
		return nil, nil, ErrRoomNotFound
	}

	player, err := room.Join(playerID, playerName)
	if err != nil {
		return nil, nil, err
	}
	return room, player, nil
}

// Delete removes a room and returns its port to the pool.
func (r *Registry) Delete(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(roomID)
}

// remove must be called with the registry lock held.
func (r *Registry) remove(roomID string) {
	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(r.rooms, roomID)
	r.freePorts = append(r.freePorts, room.Port)
}

// AllRooms returns the active rooms.
func (r *Registry) AllRooms() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Count returns the number of active rooms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// FreePorts returns how many game-server ports remain.
func (r *Registry) FreePorts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.freePorts)
}

// cleanupLoop sweeps expired rooms until Close.
func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.config.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep removes expired rooms, then runs the callback outside the lock.
func (r *Registry) sweep() {
	var expired []*Room
	r.mu.Lock()
	for id, room := range r.rooms {
		if room.IsExpired() {
			expired = append(expired, room)
			r.remove(id)
		}
	}
	r.mu.Unlock()

	for _, room := range expired {
		if r.onExpired != nil {
			r.onExpired(room)
		}
	}
}

// Join adds a player to the room. Rejoining with a known id returns the
// existing membership unchanged.
func (room *Room) Join(playerID, playerName string) (*Player, error) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if p, exists := room.players[playerID]; exists {
		return &p, nil
	}
	if len(room.players) >= room.MaxPlayers {
		return nil, ErrRoomFull
	}

	// First player in becomes host.
	isHost := len(room.players) == 0
	if isHost {
		room.HostID = playerID
	}

	player := Player{
		ID:       playerID,
		Name:     playerName,
		JoinedAt: time.Now(),
		IsHost:   isHost,
	}
	room.players[playerID] = player
	room.lastActivity = time.Now()

	return &player, nil
}

// Leave removes a player. If the host leaves, another member inherits
// the role.
func (room *Room) Leave(playerID string) {
	room.mu.Lock()
	defer room.mu.Unlock()

	delete(room.players, playerID)
	room.lastActivity = time.Now()

	if playerID == room.HostID && len(room.players) > 0 {
		for id, p := range room.players {
			p.IsHost = true
			room.players[id] = p
			room.HostID = id
			break
		}
	}
}

// Touch bumps the activity clock, keeping a trafficked room alive.
func (room *Room) Touch() {
	room.mu.Lock()
	room.lastActivity = time.Now()
	room.mu.Unlock()
}

// PlayerCount returns the number of players in the room.
func (room *Room) PlayerCount() int {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.players)
}

// PlayerIDs returns the ids of the players in the room.
func (room *Room) PlayerIDs() []string {
	room.mu.RLock()
	defer room.mu.RUnlock()
	ids := make([]string, 0, len(room.players))
	for id := range room.players {
		ids = append(ids, id)
	}
	return ids
}

// Member reports whether a player id is in the room.
func (room *Room) Member(playerID string) bool {
	room.mu.RLock()
	defer room.mu.RUnlock()
	_, ok := room.players[playerID]
	return ok
}

// IsEmpty reports whether the room has no players.
func (room *Room) IsEmpty() bool {
	return room.PlayerCount() == 0
}

// IsExpired reports whether the room has sat empty past its TTL.
func (room *Room) IsExpired() bool {
	room.mu.RLock()
	defer room.mu.RUnlock()

	if len(room.players) > 0 {
		return false
	}
	return time.Since(room.lastActivity) > room.ttl
}

// Info returns a copy safe to serialize while the room keeps running.
func (room *Room) Info() Info {
	room.mu.RLock()
	defer room.mu.RUnlock()

	players := make([]Player, 0, len(room.players))
	for _, p := range room.players {
		players = append(players, p)
	}
	return Info{
		ID:         room.ID,
		Port:       room.Port,
		CreatedAt:  room.CreatedAt,
		HostID:     room.HostID,
		MaxPlayers: room.MaxPlayers,
		Players:    players,
	}
}
