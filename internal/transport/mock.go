package transport

import (
	"sync"
)

// MockTransport records traffic instead of touching the network. Tests
// drive the receive side through the Simulate methods.
type MockTransport struct {
	addr      string
	messages  []MockMessage
	sent      []MockMessage
	failSends error
	mu        sync.Mutex
	handlers  struct {
		message    MessageHandler
		connect    ConnectHandler
		disconnect DisconnectHandler
	}
}

// MockMessage is one recorded send or receive.
type MockMessage struct {
	Addr     string
	Data     []byte
	Reliable bool
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		messages: make([]MockMessage, 0),
		sent:     make([]MockMessage, 0),
	}
}

// Listen only remembers the address.
func (t *MockTransport) Listen(addr string) error {
	t.addr = addr
	return nil
}

func (t *MockTransport) Close() error {
	return nil
}

// SendUnreliable records the message instead of sending it.
func (t *MockTransport) SendUnreliable(addr string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failSends != nil {
		return t.failSends
	}
	t.sent = append(t.sent, MockMessage{Addr: addr, Data: data, Reliable: false})
	return nil
}

// SendReliable records the message with the reliable flag set.
func (t *MockTransport) SendReliable(addr string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failSends != nil {
		return t.failSends
	}
	t.sent = append(t.sent, MockMessage{Addr: addr, Data: data, Reliable: true})
	return nil
}

func (t *MockTransport) OnMessage(handler MessageHandler) {
	t.handlers.message = handler
}

func (t *MockTransport) OnConnect(handler ConnectHandler) {
	t.handlers.connect = handler
}

func (t *MockTransport) OnDisconnect(handler DisconnectHandler) {
	t.handlers.disconnect = handler
}

func (t *MockTransport) LocalAddr() string {
	return t.addr
}

// --- Test helpers ---

// SimulateMessage delivers a message as if it arrived from addr.
func (t *MockTransport) SimulateMessage(addr string, data []byte, reliable bool) {
	t.mu.Lock()
	t.messages = append(t.messages, MockMessage{Addr: addr, Data: data, Reliable: reliable})
	t.mu.Unlock()

	if t.handlers.message != nil {
		t.handlers.message(addr, data, reliable)
	}
}

// SimulateConnect fires the connect handler for addr.
func (t *MockTransport) SimulateConnect(addr string) {
	if t.handlers.connect != nil {
		t.handlers.connect(addr)
	}
}

// SimulateDisconnect fires the disconnect handler for addr.
func (t *MockTransport) SimulateDisconnect(addr string) {
	if t.handlers.disconnect != nil {
		t.handlers.disconnect(addr)
	}
}

// FailSendsWith makes every subsequent send return err. Pass nil to
// restore normal sending.
func (t *MockTransport) FailSendsWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failSends = err
}

// SentMessages returns a copy of everything sent so far.
func (t *MockTransport) SentMessages() []MockMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]MockMessage{}, t.sent...)
}

// SentTo returns the messages sent to one address.
func (t *MockTransport) SentTo(addr string) []MockMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []MockMessage
	for _, m := range t.sent {
		if m.Addr == addr {
			out = append(out, m)
		}
	}
	return out
}

// LastSent returns the most recently sent message, if any.
func (t *MockTransport) LastSent() (MockMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return MockMessage{}, false
	}
	return t.sent[len(t.sent)-1], true
}

// ReceivedMessages returns a copy of everything delivered so far.
func (t *MockTransport) ReceivedMessages() []MockMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]MockMessage{}, t.messages...)
}

// Clear drops all recorded traffic.
func (t *MockTransport) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = t.messages[:0]
	t.sent = t.sent[:0]
}
