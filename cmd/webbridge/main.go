// Command webbridge exposes the tank server to browsers. The front side
// speaks JSON over WebSocket, the back side is the binary game protocol.
// Every room runs its own engine in-process and also listens on a UDP
// port from the registry pool, so native clients can join the same match
// a browser created.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/ferrumgames/tankserver/internal/game"
	"github.com/ferrumgames/tankserver/internal/protocol"
	"github.com/ferrumgames/tankserver/internal/room"
	"github.com/ferrumgames/tankserver/internal/transport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsAddrPrefix marks synthetic engine addresses that belong to browser
// clients. The prefix keeps them out of the UDP address space.
const wsAddrPrefix = "ws:"

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// BrowserClient is one WebSocket connection. The addr is derived from
// the bridge-level player id, so a rejoin with a valid token lands on
// the same engine player as long as the server has not timed it out.
type BrowserClient struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	playerID string // bridge identity, stable across rejoins
	addr     string // wsAddrPrefix + playerID
	name     string
	roomID   string
	gamePID  uint32 // engine-assigned id, 0 until the assignment arrives
}

func (c *BrowserClient) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// GameRoom holds the engine and UDP listener for one room.
type GameRoom struct {
	ID     string
	Port   int
	Engine *game.Engine
	Trans  transport.Transport
}

type Bridge struct {
	clients   map[*websocket.Conn]*BrowserClient
	byAddr    map[string]*BrowserClient
	gameRooms map[string]*GameRoom
	mu        sync.RWMutex

	rooms         *room.Registry
	createLimiter *rate.Limiter
	jwtSecret     []byte
}

func NewBridge() *Bridge {
	b := &Bridge{
		clients:       make(map[*websocket.Conn]*BrowserClient),
		byAddr:        make(map[string]*BrowserClient),
		gameRooms:     make(map[string]*GameRoom),
		rooms:         room.NewRegistry(room.DefaultConfig()),
		createLimiter: rate.NewLimiter(rate.Every(2*time.Second), 5),
		jwtSecret:     []byte(getEnv("JWT_SECRET", "dev-secret-change-me")),
	}

	b.rooms.OnExpired(func(rm *room.Room) {
		log.Printf("🗑️ Room %s expired, stopping engine", rm.ID)
		b.stopGameRoom(rm.ID)
	})

	return b
}

// ================== Room engines ==================

// ensureGameRoom starts the engine and UDP listener for a room if they
// are not already running.
func (b *Bridge) ensureGameRoom(rm *room.Room) (*GameRoom, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gr, exists := b.gameRooms[rm.ID]; exists {
		return gr, nil
	}

	cfg := game.DefaultConfig()
	cfg.MaxPlayers = rm.MaxPlayers

	t, err := transport.New("udp", transport.DefaultConfig())
	if err != nil {
		return nil, err
	}

	bb := &bridgeBroadcaster{bridge: b, trans: t}
	eng := game.NewEngine(cfg, bb)
	bb.bind(eng.State())

	t.OnMessage(func(addr string, data []byte, reliable bool) {
		eng.HandlePacket(addr, data)
	})

	if err := t.Listen(fmt.Sprintf(":%d", rm.Port)); err != nil {
		return nil, fmt.Errorf("listen on room port %d: %w", rm.Port, err)
	}
	eng.Start()

	gr := &GameRoom{ID: rm.ID, Port: rm.Port, Engine: eng, Trans: t}
	b.gameRooms[rm.ID] = gr

	log.Printf("🚀 Room %s engine started on UDP :%d", rm.ID, rm.Port)
	return gr, nil
}

// stopGameRoom shuts down a room's engine. The engine is stopped outside
// the bridge lock since its tick goroutine takes that lock to broadcast.
func (b *Bridge) stopGameRoom(roomID string) {
	b.mu.Lock()
	gr, exists := b.gameRooms[roomID]
	if exists {
		delete(b.gameRooms, roomID)
	}
	b.mu.Unlock()

	if !exists {
		return
	}
	gr.Engine.Stop()
	if err := gr.Trans.Close(); err != nil {
		log.Printf("Error closing transport for room %s: %v", roomID, err)
	}
	log.Printf("🛑 Room %s engine stopped", roomID)
}

func (b *Bridge) getGameRoom(roomID string) *GameRoom {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gameRooms[roomID]
}

// ================== Broadcaster ==================

// bridgeBroadcaster routes engine output by address family: synthetic
// ws addresses become JSON frames, everything else goes out over UDP.
type bridgeBroadcaster struct {
	bridge *Bridge
	trans  transport.Transport
	state  *game.State
}

func (bb *bridgeBroadcaster) bind(state *game.State) {
	bb.state = state
}

func (bb *bridgeBroadcaster) Broadcast(msg protocol.Message) {
	var raw []byte // encoded lazily, only rooms with UDP players pay for it
	for _, p := range bb.state.AllPlayers() {
		if strings.HasPrefix(p.Addr, wsAddrPrefix) {
			bb.bridge.sendWS(p.Addr, msg)
			continue
		}
		if raw == nil {
			raw = protocol.Encode(msg)
		}
		if err := bb.trans.SendUnreliable(p.Addr, raw); err != nil {
			log.Printf("⚠️ Broadcast %s to %s failed: %v", msg.Type(), p.Addr, err)
		}
	}
}

func (bb *bridgeBroadcaster) SendTo(addr string, msg protocol.Message) error {
	if strings.HasPrefix(addr, wsAddrPrefix) {
		return bb.bridge.sendWS(addr, msg)
	}
	return bb.trans.SendUnreliable(addr, protocol.Encode(msg))
}

// sendWS translates one engine message to JSON for a browser client. An
// id assignment passing through is also recorded on the client so input
// messages can be stamped with the engine player id.
func (b *Bridge) sendWS(addr string, msg protocol.Message) error {
	b.mu.RLock()
	client := b.byAddr[addr]
	b.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("no browser client for %s", addr)
	}

	if assign, ok := msg.(*protocol.PlayerIDAssign); ok {
		b.mu.Lock()
		client.gamePID = assign.PlayerID
		b.mu.Unlock()
	}

	env := wsEnvelope(msg)
	if env == nil {
		return nil
	}
	return client.writeJSON(env)
}

// ================== JSON envelopes ==================

type PlayerMsg struct {
	ID        uint32  `json:"id"`
	Name      string  `json:"name"`
	X         float32 `json:"x"`
	Y         float32 `json:"y"`
	BodyRot   float32 `json:"bodyRot"`
	BarrelRot float32 `json:"barrelRot"`
	Color     string  `json:"color"`
	Health    float32 `json:"health"`
	MaxHealth float32 `json:"maxHealth"`
	Score     int32   `json:"score"`
	Dead      bool    `json:"dead"`
}

type EnemyMsg struct {
	ID        uint32  `json:"id"`
	Kind      uint8   `json:"kind"`
	X         float32 `json:"x"`
	Y         float32 `json:"y"`
	BodyRot   float32 `json:"bodyRot"`
	BarrelRot float32 `json:"barrelRot"`
	Health    float32 `json:"health"`
	MaxHealth float32 `json:"maxHealth"`
}

type StateMsg struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	LastAck   uint32      `json:"lastAck"`
	Players   []PlayerMsg `json:"players"`
	Enemies   []EnemyMsg  `json:"enemies"`
}

type BulletMsg struct {
	ID      uint32  `json:"id"`
	OwnerID uint32  `json:"ownerId"`
	Kind    uint8   `json:"kind"`
	X       float32 `json:"x"`
	Y       float32 `json:"y"`
	VX      float32 `json:"vx"`
	VY      float32 `json:"vy"`
}

type BulletsMsg struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Bullets   []BulletMsg `json:"bullets"`
}

// wsEnvelope maps an engine message to its JSON form. Returns nil for
// message types browsers have no use for.
func wsEnvelope(msg protocol.Message) interface{} {
	switch m := msg.(type) {
	case *protocol.GameState:
		players := make([]PlayerMsg, 0, len(m.Players))
		for _, p := range m.Players {
			players = append(players, PlayerMsg{
				ID: p.ID, Name: p.Name, X: p.X, Y: p.Y,
				BodyRot: p.BodyRotation, BarrelRot: p.BarrelRotation,
				Color: p.Color, Health: p.Health, MaxHealth: p.MaxHealth,
				Score: p.Score, Dead: p.Dead,
			})
		}
		enemies := make([]EnemyMsg, 0, len(m.Enemies))
		for _, e := range m.Enemies {
			enemies = append(enemies, EnemyMsg{
				ID: e.ID, Kind: e.EnemyType, X: e.X, Y: e.Y,
				BodyRot: e.BodyRotation, BarrelRot: e.BarrelRotation,
				Health: e.Health, MaxHealth: e.MaxHealth,
			})
		}
		return StateMsg{
			Type: "state", Timestamp: m.Timestamp, LastAck: m.LastAckedInput,
			Players: players, Enemies: enemies,
		}

	case *protocol.BulletUpdate:
		bullets := make([]BulletMsg, 0, len(m.Bullets))
		for _, bl := range m.Bullets {
			bullets = append(bullets, BulletMsg{
				ID: bl.ID, OwnerID: bl.OwnerID, Kind: bl.BulletType,
				X: bl.X, Y: bl.Y, VX: bl.VelocityX, VY: bl.VelocityY,
			})
		}
		return BulletsMsg{Type: "bullets", Timestamp: m.Timestamp, Bullets: bullets}

	case *protocol.PlayerIDAssign:
		return map[string]interface{}{"type": "id_assign", "playerId": m.PlayerID}

	case *protocol.Pong:
		return map[string]interface{}{
			"type": "pong", "echoedTimestamp": m.EchoedTimestamp, "sequence": m.Sequence,
		}

	case *protocol.InputAck:
		return map[string]interface{}{
			"type": "input_ack", "sequence": m.AckedSequence, "serverTimestamp": m.ServerTimestamp,
		}

	case *protocol.BulletSpawn:
		return map[string]interface{}{
			"type": "bullet_spawn", "ownerId": m.OwnerID,
			"x": m.SpawnX, "y": m.SpawnY, "dirX": m.DirX, "dirY": m.DirY,
			"barrelRot": m.BarrelRotation, "timestamp": m.Timestamp,
		}

	case *protocol.BulletDestroy:
		return map[string]interface{}{
			"type": "bullet_destroy", "bulletId": m.BulletID, "reason": m.Reason,
			"hitTargetId": m.HitTargetID, "x": m.HitX, "y": m.HitY,
		}

	case *protocol.PlayerLeave:
		return map[string]interface{}{"type": "leave", "playerId": m.PlayerID}

	case *protocol.PlayerDeath:
		return map[string]interface{}{
			"type": "death", "playerId": m.PlayerID, "killerId": m.KillerID,
			"x": m.X, "y": m.Y, "scorePenalty": m.ScorePenalty,
		}

	case *protocol.PlayerRespawn:
		return map[string]interface{}{
			"type": "respawn", "playerId": m.PlayerID,
			"x": m.X, "y": m.Y, "health": m.Health,
		}
	}
	return nil
}

// ================== Tokens ==================

type roomClaims struct {
	RoomID     string `json:"room"`
	PlayerID   string `json:"player"`
	PlayerName string `json:"name"`
	jwt.RegisteredClaims
}

func (b *Bridge) issueToken(roomID, playerID, name string) (string, error) {
	claims := roomClaims{
		RoomID:     roomID,
		PlayerID:   playerID,
		PlayerName: name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.jwtSecret)
}

func (b *Bridge) parseToken(token string) (*roomClaims, error) {
	claims := &roomClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return b.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// ================== HTTP API ==================

type CreateRoomResponse struct {
	RoomID    string `json:"roomId"`
	UDPPort   int    `json:"udpPort"`
	JoinLink  string `json:"joinLink"`
	CreatedAt int64  `json:"createdAt"`
}

type RoomInfoResponse struct {
	room.Info
	ActivePlayers int `json:"activePlayers"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (b *Bridge) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
		return
	}
	if !b.createLimiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "room creation rate exceeded"})
		return
	}

	rm, err := b.rooms.Create()
	if err != nil {
		if errors.Is(err, room.ErrNoPortsFree) {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "no room slots free"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}

	writeJSON(w, http.StatusOK, CreateRoomResponse{
		RoomID:    rm.ID,
		UDPPort:   rm.Port,
		JoinLink:  fmt.Sprintf("%s://%s/room/%s", scheme, r.Host, rm.ID),
		CreatedAt: rm.CreatedAt.Unix(),
	})

	log.Printf("🏠 Room created: %s (udp :%d)", rm.ID, rm.Port)
}

func (b *Bridge) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := strings.Split(strings.TrimPrefix(r.URL.Path, "/rooms/"), "/")[0]
	if roomID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "room id required"})
		return
	}

	rm := b.rooms.Get(roomID)
	if rm == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}

	resp := RoomInfoResponse{Info: rm.Info()}
	if gr := b.getGameRoom(roomID); gr != nil {
		resp.ActivePlayers = gr.Engine.PlayerCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b *Bridge) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := strings.Split(strings.TrimPrefix(r.URL.Path, "/rooms/"), "/")[0]

	rm := b.rooms.Get(roomID)
	if rm == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}

	b.stopGameRoom(roomID)
	b.rooms.Delete(roomID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	log.Printf("🗑️ Room deleted: %s", roomID)
}

func (b *Bridge) handleRoomRoutes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		b.handleGetRoom(w, r)
	case http.MethodDelete:
		b.handleDeleteRoom(w, r)
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (b *Bridge) handleStatus(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	clientCount := len(b.clients)
	engineCount := len(b.gameRooms)
	b.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"browser_clients":%d,"engines":%d,"rooms":%d,"free_ports":%d}`,
		clientCount, engineCount, b.rooms.Count(), b.rooms.FreePorts())
}

// ================== WebSocket ==================

// ClientMessage is every JSON message a browser can send, flattened.
// The Type field picks which of the rest matter.
type ClientMessage struct {
	Type string `json:"type"`

	RoomID string `json:"roomId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Token  string `json:"token"`

	Sequence uint32  `json:"seq"`
	Forward  bool    `json:"forward"`
	Backward bool    `json:"backward"`
	Left     bool    `json:"left"`
	Right    bool    `json:"right"`
	Barrel   float32 `json:"barrel"`

	X    float32 `json:"x"`
	Y    float32 `json:"y"`
	DirX float32 `json:"dirX"`
	DirY float32 `json:"dirY"`

	Timestamp int64 `json:"timestamp"`
}

func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := &BrowserClient{
		ws:       conn,
		playerID: uuid.New().String()[:8],
		name:     "Player",
	}
	client.addr = wsAddrPrefix + client.playerID

	b.mu.Lock()
	b.clients[conn] = client
	b.byAddr[client.addr] = client
	b.mu.Unlock()

	log.Printf("📱 Browser connected: %s", client.playerID)

	client.writeJSON(map[string]interface{}{
		"type": "welcome",
		"id":   client.playerID,
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			client.writeJSON(map[string]interface{}{"type": "error", "error": "bad json"})
			continue
		}

		switch msg.Type {
		case "join_room":
			b.handleJoinRoom(client, &msg)
		case "rejoin":
			b.handleRejoin(client, &msg)
		case "leave_room":
			b.handleLeaveRoom(client)
		case "input":
			b.handleInput(client, &msg)
		case "fire":
			b.handleFire(client, &msg)
		case "ping":
			b.forward(client, &protocol.Ping{
				Timestamp: stamp(msg.Timestamp),
				Sequence:  msg.Sequence,
			})
		default:
			client.writeJSON(map[string]interface{}{"type": "error", "error": "unknown message type"})
		}
	}

	b.disconnect(conn, client)
}

func (b *Bridge) handleJoinRoom(client *BrowserClient, msg *ClientMessage) {
	if msg.Name != "" {
		client.name = msg.Name
	}

	b.mu.RLock()
	current := client.roomID
	b.mu.RUnlock()
	if current != "" && current != msg.RoomID {
		client.writeJSON(map[string]interface{}{"type": "error", "error": "already in a room"})
		return
	}

	rm, player, err := b.rooms.Join(msg.RoomID, client.playerID, client.name)
	if err != nil {
		client.writeJSON(map[string]interface{}{"type": "error", "error": err.Error()})
		return
	}

	gr, err := b.ensureGameRoom(rm)
	if err != nil {
		log.Printf("⚠️ Failed to start engine for room %s: %v", rm.ID, err)
		rm.Leave(client.playerID)
		client.writeJSON(map[string]interface{}{"type": "error", "error": "failed to start game"})
		return
	}

	b.mu.Lock()
	client.roomID = rm.ID
	b.mu.Unlock()

	// The engine answers with an id assignment and a full state snapshot
	// through the broadcaster.
	gr.Engine.HandlePacket(client.addr, protocol.Encode(&protocol.PlayerJoin{
		Name:      client.name,
		Color:     msg.Color,
		Timestamp: time.Now().UnixMilli(),
		Sequence:  msg.Sequence,
	}))

	token, err := b.issueToken(rm.ID, client.playerID, client.name)
	if err != nil {
		log.Printf("⚠️ Token issue failed for %s: %v", client.playerID, err)
	}

	client.writeJSON(map[string]interface{}{
		"type":        "room_joined",
		"roomId":      rm.ID,
		"playerId":    client.playerID,
		"isHost":      player.IsHost,
		"playerCount": rm.PlayerCount(),
		"udpPort":     rm.Port,
		"token":       token,
	})

	b.broadcastToRoom(rm.ID, client, map[string]interface{}{
		"type":        "player_joined",
		"playerId":    client.playerID,
		"playerName":  client.name,
		"playerCount": rm.PlayerCount(),
	})

	log.Printf("🚪 %s joined room %s (%d players)", client.playerID, rm.ID, rm.PlayerCount())
}

// handleRejoin restores identity from a token. The synthetic address is
// derived from the restored id, so the engine sees the same player and
// resends its assignment instead of allocating a new tank.
func (b *Bridge) handleRejoin(client *BrowserClient, msg *ClientMessage) {
	claims, err := b.parseToken(msg.Token)
	if err != nil {
		client.writeJSON(map[string]interface{}{"type": "error", "error": "invalid token"})
		return
	}

	rm := b.rooms.Get(claims.RoomID)
	if rm == nil {
		client.writeJSON(map[string]interface{}{"type": "error", "error": "room not found"})
		return
	}

	b.mu.Lock()
	delete(b.byAddr, client.addr)
	client.playerID = claims.PlayerID
	client.name = claims.PlayerName
	client.addr = wsAddrPrefix + client.playerID
	b.byAddr[client.addr] = client
	b.mu.Unlock()

	join := &ClientMessage{RoomID: claims.RoomID, Name: claims.PlayerName}
	b.handleJoinRoom(client, join)
	log.Printf("🔁 %s rejoined room %s by token", client.playerID, claims.RoomID)
}

func (b *Bridge) handleLeaveRoom(client *BrowserClient) {
	b.mu.Lock()
	roomID := client.roomID
	pid := client.gamePID
	client.roomID = ""
	client.gamePID = 0
	b.mu.Unlock()

	if roomID == "" {
		return
	}

	if gr := b.getGameRoom(roomID); gr != nil {
		gr.Engine.HandlePacket(client.addr, protocol.Encode(&protocol.PlayerLeave{
			PlayerID:  pid,
			Timestamp: time.Now().UnixMilli(),
		}))
	}

	if rm := b.rooms.Get(roomID); rm != nil {
		rm.Leave(client.playerID)
		b.broadcastToRoom(roomID, client, map[string]interface{}{
			"type":       "player_left",
			"playerId":   client.playerID,
			"playerName": client.name,
		})
	}
}

func (b *Bridge) handleInput(client *BrowserClient, msg *ClientMessage) {
	b.mu.RLock()
	pid := client.gamePID
	b.mu.RUnlock()
	if pid == 0 {
		return
	}
	b.forward(client, &protocol.PlayerInput{
		PlayerID:       pid,
		Forward:        msg.Forward,
		Backward:       msg.Backward,
		Left:           msg.Left,
		Right:          msg.Right,
		Timestamp:      stamp(msg.Timestamp),
		Sequence:       msg.Sequence,
		BarrelRotation: msg.Barrel,
	})
}

func (b *Bridge) handleFire(client *BrowserClient, msg *ClientMessage) {
	b.mu.RLock()
	pid := client.gamePID
	b.mu.RUnlock()
	if pid == 0 {
		return
	}
	b.forward(client, &protocol.BulletSpawn{
		OwnerID:        pid,
		SpawnX:         msg.X,
		SpawnY:         msg.Y,
		DirX:           msg.DirX,
		DirY:           msg.DirY,
		BarrelRotation: msg.Barrel,
		Timestamp:      stamp(msg.Timestamp),
		Sequence:       msg.Sequence,
	})
}

// forward hands a protocol message to the client's room engine.
func (b *Bridge) forward(client *BrowserClient, msg protocol.Message) {
	b.mu.RLock()
	roomID := client.roomID
	b.mu.RUnlock()
	if roomID == "" {
		return
	}
	if gr := b.getGameRoom(roomID); gr != nil {
		gr.Engine.HandlePacket(client.addr, protocol.Encode(msg))
	}
}

// stamp substitutes the bridge clock when a browser omits its own.
func stamp(ts int64) int64 {
	if ts != 0 {
		return ts
	}
	return time.Now().UnixMilli()
}

// broadcastToRoom sends a notice to every browser in a room except the
// originator.
func (b *Bridge) broadcastToRoom(roomID string, from *BrowserClient, msg interface{}) {
	b.mu.RLock()
	targets := make([]*BrowserClient, 0, len(b.clients))
	for _, c := range b.clients {
		if c.roomID == roomID && c != from {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range targets {
		c.writeJSON(msg)
	}
}

func (b *Bridge) disconnect(conn *websocket.Conn, client *BrowserClient) {
	b.handleLeaveRoom(client)

	b.mu.Lock()
	delete(b.clients, conn)
	// A rejoin on a newer connection may own this addr now.
	if b.byAddr[client.addr] == client {
		delete(b.byAddr, client.addr)
	}
	b.mu.Unlock()

	log.Printf("📱 Browser disconnected: %s", client.playerID)
}

// ================== Main ==================

func main() {
	godotenv.Load() // .env is optional

	bridge := NewBridge()

	http.HandleFunc("/rooms", bridge.handleCreateRoom)
	http.HandleFunc("/rooms/", bridge.handleRoomRoutes)
	http.HandleFunc("/ws", bridge.handleWS)
	http.HandleFunc("/status", bridge.handleStatus)

	port := getEnv("PORT", "8081")
	log.Printf("🌐 Web bridge: http://localhost:%s", port)
	log.Printf("📡 Room engines bind UDP ports from %d", room.DefaultConfig().BasePort)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}
