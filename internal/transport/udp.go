package transport

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// UDPTransport implements Transport over plain UDP datagrams. One datagram
// carries one message; there is no reliability layer, which is what the
// game protocol expects.
type UDPTransport struct {
	config Config
	conn   *net.UDPConn
	addr   string

	handlers struct {
		message    MessageHandler
		connect    ConnectHandler
		disconnect DisconnectHandler
	}

	// Track known clients so sends skip address resolution and silent
	// peers eventually fire a disconnect event.
	clients   map[string]*udpPeer
	clientsMu sync.RWMutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type udpPeer struct {
	addr     *net.UDPAddr
	lastSeen time.Time
}

func NewUDPTransport(config Config) *UDPTransport {
	return &UDPTransport{
		config:  config,
		clients: make(map[string]*udpPeer),
		stopCh:  make(chan struct{}),
	}
}

// Listen binds the socket and starts the receive and sweep loops.
func (t *UDPTransport) Listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve udp addr: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}

	t.conn = conn
	t.addr = addr

	t.wg.Add(2)
	go t.receiveLoop()
	go t.sweepLoop()

	log.Printf("🌐 UDP transport listening on %s", conn.LocalAddr())
	return nil
}

// Close stops both loops and closes the socket.
func (t *UDPTransport) Close() error {
	close(t.stopCh)
	if t.conn != nil {
		t.conn.Close()
	}
	t.wg.Wait()
	return nil
}

// SendUnreliable writes one datagram to addr. Known peers skip address
// resolution.
func (t *UDPTransport) SendUnreliable(addr string, data []byte) error {
	if len(data) > t.config.MaxMessageSize {
		return fmt.Errorf("message too large: %d > %d", len(data), t.config.MaxMessageSize)
	}

	t.clientsMu.RLock()
	peer, known := t.clients[addr]
	t.clientsMu.RUnlock()

	var udpAddr *net.UDPAddr
	if known {
		udpAddr = peer.addr
	} else {
		resolved, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return fmt.Errorf("resolve addr: %w", err)
		}
		udpAddr = resolved
	}

	_, err := t.conn.WriteToUDP(data, udpAddr)
	return err
}

// SendReliable degrades to an unreliable send over plain UDP. Run the KCP
// transport when delivery guarantees matter.
func (t *UDPTransport) SendReliable(addr string, data []byte) error {
	return t.SendUnreliable(addr, data)
}

func (t *UDPTransport) OnMessage(handler MessageHandler) {
	t.handlers.message = handler
}

func (t *UDPTransport) OnConnect(handler ConnectHandler) {
	t.handlers.connect = handler
}

func (t *UDPTransport) OnDisconnect(handler DisconnectHandler) {
	t.handlers.disconnect = handler
}

// LocalAddr reports the bound address, or the configured one before
// Listen.
func (t *UDPTransport) LocalAddr() string {
	if t.conn != nil {
		return t.conn.LocalAddr().String()
	}
	return t.addr
}

// receiveLoop reads datagrams until the transport closes.
func (t *UDPTransport) receiveLoop() {
	defer t.wg.Done()

	buf := make([]byte, t.config.MaxMessageSize)

	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			// Read errors during shutdown are the closed socket.
			select {
			case <-t.stopCh:
				return
			default:
				continue
			}
		}
		if n == 0 {
			continue
		}

		// buf is reused on the next read.
		data := make([]byte, n)
		copy(data, buf[:n])

		addrStr := addr.String()
		t.trackClient(addrStr, addr)

		if t.handlers.message != nil {
			t.handlers.message(addrStr, data, false)
		}
	}
}

// trackClient refreshes the peer table and fires connect on first sight
// of an address.
func (t *UDPTransport) trackClient(addrStr string, addr *net.UDPAddr) {
	t.clientsMu.Lock()
	peer, exists := t.clients[addrStr]
	if !exists {
		peer = &udpPeer{addr: addr}
		t.clients[addrStr] = peer
	}
	peer.lastSeen = time.Now()
	t.clientsMu.Unlock()

	if !exists && t.handlers.connect != nil {
		go t.handlers.connect(addrStr)
	}
}

// sweepLoop forgets clients that have gone silent past the idle timeout
// and fires the disconnect handler for each.
func (t *UDPTransport) sweepLoop() {
	defer t.wg.Done()

	interval := t.config.IdleTimeout / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-t.config.IdleTimeout)

			var gone []string
			t.clientsMu.Lock()
			for addr, peer := range t.clients {
				if peer.lastSeen.Before(cutoff) {
					delete(t.clients, addr)
					gone = append(gone, addr)
				}
			}
			t.clientsMu.Unlock()

			for _, addr := range gone {
				log.Printf("🔌 UDP peer %s idle, dropping", addr)
				if t.handlers.disconnect != nil {
					t.handlers.disconnect(addr)
				}
			}
		}
	}
}

// udpConn is the client half of a UDP connection. A datagram is one
// message, so Send and Recv map straight onto Write and Read.
type udpConn struct {
	conn *net.UDPConn
}

func dialUDP(addr string, config Config) (Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp addr: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &udpConn{conn: conn}, nil
}

func (c *udpConn) Send(data []byte) error {
	_, err := c.conn.Write(data)
	return err
}

func (c *udpConn) Recv(buf []byte) (int, error) {
	return c.conn.Read(buf)
}

func (c *udpConn) SetReadDeadline(deadline time.Time) error {
	return c.conn.SetReadDeadline(deadline)
}

func (c *udpConn) Close() error {
	return c.conn.Close()
}

func (c *udpConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}
