package game

import (
	"log"

	"github.com/ferrumgames/tankserver/internal/protocol"
)

// Broadcaster sends wire messages to players.
type Broadcaster interface {
	Broadcast(msg protocol.Message)
	SendTo(addr string, msg protocol.Message) error
}

// TransportBroadcaster implements Broadcaster over a raw send function,
// keeping the engine independent of the transport in use.
type TransportBroadcaster struct {
	state *State
	send  func(addr string, data []byte) error
}

// NewTransportBroadcaster creates a broadcaster using a send function.
// Bind the engine's state before the first broadcast.
func NewTransportBroadcaster(send func(addr string, data []byte) error) *TransportBroadcaster {
	return &TransportBroadcaster{send: send}
}

// Bind attaches the player table the broadcaster fans out to.
func (b *TransportBroadcaster) Bind(state *State) {
	b.state = state
}

// Broadcast encodes a message once and sends the same bytes to every
// connected player. Per-player send failures are logged, not fatal.
func (b *TransportBroadcaster) Broadcast(msg protocol.Message) {
	data := protocol.Encode(msg)
	for _, p := range b.state.AllPlayers() {
		if err := b.send(p.Addr, data); err != nil {
			log.Printf("⚠️ Broadcast %s to player %d (%s) failed: %v", msg.Type(), p.ID, p.Addr, err)
		}
	}
}

// SendTo sends a message to one address.
func (b *TransportBroadcaster) SendTo(addr string, msg protocol.Message) error {
	return b.send(addr, protocol.Encode(msg))
}
