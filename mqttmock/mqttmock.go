// Package mqttmock provides an in-memory MQTT.Client for tests.
package mqttmock

import (
	"errors"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

// ErrAlreadyConnected is returned by Connect on a connected client, as
// paho does when auto reconnect is off.
var ErrAlreadyConnected = errors.New("already connected")

type PublishCall struct {
	Payload  interface{}
	Topic    string
	QoS      byte
	Retained bool
}

type SubscribeCall struct {
	Handler MQTT.MessageHandler
	Topic   string
	QoS     byte
}

// Client records publishes and subscriptions. ConnectErr, PublishErr and
// SubscribeErr are returned through the tokens of the matching calls.
// ConnectErr applies to the first FailConnects connects, or to all of them
// when FailConnects is 0.
type Client struct {
	ConnectErr   error
	FailConnects int
	PublishErr   error
	SubscribeErr error

	// PendingPublish makes Publish return tokens that never complete.
	PendingPublish bool
	// LateConnect makes the first Connect return a token that never
	// completes while the session still comes up behind it.
	LateConnect bool

	mu             sync.RWMutex
	connected      bool
	connects       int
	publishCalls   []PublishCall
	subscribeCalls []SubscribeCall
}

func (m *Client) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *Client) IsConnectionOpen() bool { return m.IsConnected() }

func (m *Client) Connect() MQTT.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if m.connected {
		return &Token{err: ErrAlreadyConnected}
	}
	if m.LateConnect && m.connects == 1 {
		m.connected = true
		return &Token{pending: true}
	}
	if m.ConnectErr != nil && (m.FailConnects == 0 || m.connects <= m.FailConnects) {
		return &Token{err: m.ConnectErr}
	}
	m.connected = true
	return &Token{}
}

func (m *Client) Disconnect(quiesce uint) {
	m.SetConnected(false)
}

// SetConnected flips the connection state, e.g. to simulate a lost session.
func (m *Client) SetConnected(c bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = c
}

func (m *Client) Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishCalls = append(m.publishCalls, PublishCall{
		Topic:    topic,
		QoS:      qos,
		Retained: retained,
		Payload:  payload,
	})
	if m.PendingPublish {
		return &Token{pending: true}
	}
	return &Token{err: m.PublishErr}
}

func (m *Client) Subscribe(topic string, qos byte, callback MQTT.MessageHandler) MQTT.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeCalls = append(m.subscribeCalls, SubscribeCall{
		Topic:   topic,
		QoS:     qos,
		Handler: callback,
	})
	return &Token{err: m.SubscribeErr}
}

func (m *Client) SubscribeMultiple(filters map[string]byte, callback MQTT.MessageHandler) MQTT.Token {
	return &Token{}
}
func (m *Client) Unsubscribe(topics ...string) MQTT.Token             { return &Token{} }
func (m *Client) AddRoute(topic string, callback MQTT.MessageHandler) {}
func (m *Client) OptionsReader() MQTT.ClientOptionsReader             { return MQTT.ClientOptionsReader{} }

func (m *Client) Publishes() []PublishCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PublishCall(nil), m.publishCalls...)
}

func (m *Client) Subscriptions() []SubscribeCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SubscribeCall(nil), m.subscribeCalls...)
}

func (m *Client) Connects() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connects
}

type Token struct {
	err     error
	pending bool
}

func (t *Token) Wait() bool                     { return !t.pending }
func (t *Token) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}
func (t *Token) Error() error { return t.err }

type Message struct {
	TopicName string
	Body      []byte
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return 0 }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.TopicName }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.Body }
func (m *Message) Ack()              {}
