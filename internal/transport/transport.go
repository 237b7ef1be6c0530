// Package transport abstracts the network layer so UDP, KCP, and mock
// implementations swap without touching game logic.
package transport

import (
	"fmt"
	"net"
	"time"
)

// Transport is the server-side interface for network communication.
type Transport interface {
	// Listen binds the transport to addr and starts the receive loop.
	Listen(addr string) error

	// Close shuts down the transport.
	Close() error

	// SendUnreliable sends one message with no delivery guarantee.
	SendUnreliable(addr string, data []byte) error

	// SendReliable sends with guaranteed delivery where the underlying
	// transport offers it (KCP); plain UDP falls back to unreliable
	// send.
	SendReliable(addr string, data []byte) error

	// OnMessage registers the handler for incoming messages.
	OnMessage(handler MessageHandler)

	// OnConnect registers the handler for first contact from an address.
	OnConnect(handler ConnectHandler)

	// OnDisconnect registers the handler for idle-timeout disconnects.
	OnDisconnect(handler DisconnectHandler)

	// LocalAddr reports the bound address.
	LocalAddr() string
}

// MessageHandler is called for every received message. Handlers must not
// block; the game engine's handler only enqueues into its inbox.
type MessageHandler func(addr string, data []byte, reliable bool)

// ConnectHandler is called the first time an address is seen.
type ConnectHandler func(addr string)

// DisconnectHandler is called when an address goes idle past the
// transport's IdleTimeout.
type DisconnectHandler func(addr string)

// Conn is a client-side message-oriented connection. Send writes one whole
// message; Recv returns one whole message. Framing differences between
// datagram (UDP) and stream (KCP) transports stay inside this package.
type Conn interface {
	Send(data []byte) error
	Recv(buf []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// Dial opens a client connection over the named transport ("udp" or "kcp").
func Dial(network, addr string, config Config) (Conn, error) {
	switch network {
	case "udp":
		return dialUDP(addr, config)
	case "kcp":
		return dialKCP(addr, config)
	default:
		return nil, fmt.Errorf("unsupported transport %q", network)
	}
}

// New creates a server transport of the named kind.
func New(network string, config Config) (Transport, error) {
	switch network {
	case "udp":
		return NewUDPTransport(config), nil
	case "kcp":
		return NewKCPTransport(config), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", network)
	}
}

// Config carries the knobs shared by every transport kind.
type Config struct {
	// MaxMessageSize bounds a single message. Game-state broadcasts grow
	// with player and enemy count, so this is well above a single MTU.
	MaxMessageSize int

	WriteTimeout time.Duration

	// IdleTimeout is how long a client may stay silent before the
	// transport reports it disconnected. The game layer runs its own,
	// shorter timeout; this one only reclaims tracking state.
	IdleTimeout time.Duration
}

// DefaultConfig returns the defaults both binaries start from.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: 8192,
		WriteTimeout:   5 * time.Second,
		IdleTimeout:    30 * time.Second,
	}
}
