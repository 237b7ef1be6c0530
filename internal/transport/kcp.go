package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"
)

// KCPTransport implements Transport over KCP sessions. KCP multiplexes a
// reliable ordered stream over UDP, so every send is delivered; messages
// are framed with a 4-byte big-endian length prefix.
type KCPTransport struct {
	config   Config
	listener *kcp.Listener
	addr     string

	handlers struct {
		message    MessageHandler
		connect    ConnectHandler
		disconnect DisconnectHandler
	}

	sessions   map[string]*kcpSession
	sessionsMu sync.RWMutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type kcpSession struct {
	sess    *kcp.UDPSession
	writeMu sync.Mutex
}

// NewKCPTransport creates a new KCP transport.
func NewKCPTransport(config Config) *KCPTransport {
	return &KCPTransport{
		config:   config,
		sessions: make(map[string]*kcpSession),
		stopCh:   make(chan struct{}),
	}
}

// Listen starts accepting KCP sessions on the given address.
func (t *KCPTransport) Listen(addr string) error {
	// No FEC; the game protocol tolerates loss and KCP already
	// retransmits.
	listener, err := kcp.ListenWithOptions(addr, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("listen kcp: %w", err)
	}

	t.listener = listener
	t.addr = addr

	t.wg.Add(1)
	go t.acceptLoop()

	log.Printf("🌐 KCP transport listening on %s", listener.Addr())
	return nil
}

// Close shuts down the transport and all sessions.
func (t *KCPTransport) Close() error {
	close(t.stopCh)
	if t.listener != nil {
		t.listener.Close()
	}

	t.sessionsMu.Lock()
	for _, s := range t.sessions {
		s.sess.Close()
	}
	t.sessionsMu.Unlock()

	t.wg.Wait()
	return nil
}

// SendUnreliable sends a message to the given session. KCP has no
// unreliable mode, so this delivers reliably like SendReliable.
func (t *KCPTransport) SendUnreliable(addr string, data []byte) error {
	return t.send(addr, data)
}

// SendReliable sends a message with guaranteed delivery.
func (t *KCPTransport) SendReliable(addr string, data []byte) error {
	return t.send(addr, data)
}

func (t *KCPTransport) send(addr string, data []byte) error {
	if len(data) > t.config.MaxMessageSize {
		return fmt.Errorf("message too large: %d > %d", len(data), t.config.MaxMessageSize)
	}

	t.sessionsMu.RLock()
	s, ok := t.sessions[addr]
	t.sessionsMu.RUnlock()
	if !ok {
		return fmt.Errorf("no kcp session for %s", addr)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if t.config.WriteTimeout > 0 {
		s.sess.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	}
	frame := appendFrame(make([]byte, 0, len(data)+4), data)
	if _, err := s.sess.Write(frame); err != nil {
		return fmt.Errorf("write kcp: %w", err)
	}
	return nil
}

// OnMessage registers a handler for incoming messages.
func (t *KCPTransport) OnMessage(handler MessageHandler) {
	t.handlers.message = handler
}

// OnConnect registers a handler for new connections.
func (t *KCPTransport) OnConnect(handler ConnectHandler) {
	t.handlers.connect = handler
}

// OnDisconnect registers a handler for disconnections.
func (t *KCPTransport) OnDisconnect(handler DisconnectHandler) {
	t.handlers.disconnect = handler
}

// LocalAddr returns the local address.
func (t *KCPTransport) LocalAddr() string {
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// acceptLoop accepts sessions until the listener closes.
func (t *KCPTransport) acceptLoop() {
	defer t.wg.Done()

	for {
		sess, err := t.listener.AcceptKCP()
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
				log.Printf("⚠️ KCP accept error: %v", err)
				continue
			}
		}

		tuneSession(sess)
		addr := sess.RemoteAddr().String()

		t.sessionsMu.Lock()
		t.sessions[addr] = &kcpSession{sess: sess}
		t.sessionsMu.Unlock()

		if t.handlers.connect != nil {
			go t.handlers.connect(addr)
		}

		t.wg.Add(1)
		go t.readLoop(addr, sess)
	}
}

// readLoop reads framed messages from one session until it errors out.
func (t *KCPTransport) readLoop(addr string, sess *kcp.UDPSession) {
	defer t.wg.Done()

	for {
		payload, err := readFrame(sess, t.config.MaxMessageSize)
		if err != nil {
			break
		}
		if t.handlers.message != nil {
			t.handlers.message(addr, payload, true)
		}
	}

	sess.Close()
	t.sessionsMu.Lock()
	delete(t.sessions, addr)
	t.sessionsMu.Unlock()

	if t.handlers.disconnect != nil {
		t.handlers.disconnect(addr)
	}
}

// tuneSession applies low-latency settings suitable for game traffic.
func tuneSession(sess *kcp.UDPSession) {
	sess.SetStreamMode(true)
	sess.SetNoDelay(1, 10, 2, 1)
	sess.SetWindowSize(256, 256)
}

// appendFrame appends payload to dst with a 4-byte big-endian length
// prefix and returns the extended slice.
func appendFrame(dst []byte, payload []byte) []byte {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// readFrame reads one length-prefixed message from r. Frames larger than
// maxSize are rejected rather than read.
func readFrame(r io.Reader, maxSize int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if size == 0 || int(size) > maxSize {
		return nil, fmt.Errorf("bad frame size %d", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// kcpConn is the client half of a KCP connection, framing messages the
// same way the server does.
type kcpConn struct {
	sess    *kcp.UDPSession
	maxSize int
	writeMu sync.Mutex
}

func dialKCP(addr string, config Config) (Conn, error) {
	sess, err := kcp.DialWithOptions(addr, nil, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("dial kcp: %w", err)
	}
	tuneSession(sess)
	return &kcpConn{sess: sess, maxSize: config.MaxMessageSize}, nil
}

func (c *kcpConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	frame := appendFrame(make([]byte, 0, len(data)+4), data)
	_, err := c.sess.Write(frame)
	return err
}

func (c *kcpConn) Recv(buf []byte) (int, error) {
	payload, err := readFrame(c.sess, c.maxSize)
	if err != nil {
		return 0, err
	}
	if len(payload) > len(buf) {
		return 0, fmt.Errorf("frame exceeds buffer: %d > %d", len(payload), len(buf))
	}
	return copy(buf, payload), nil
}

func (c *kcpConn) SetReadDeadline(deadline time.Time) error {
	return c.sess.SetReadDeadline(deadline)
}

func (c *kcpConn) Close() error {
	return c.sess.Close()
}

func (c *kcpConn) LocalAddr() net.Addr {
	return c.sess.LocalAddr()
}
