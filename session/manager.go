// Package session owns the network association and the MQTT broker session.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/elijahnyp/climate_node/retry"
	"github.com/rs/zerolog"
)

var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrSessionUnavailable = errors.New("broker session unavailable")
)

type Config struct {
	BrokerURI         string
	Username          string
	Password          string
	ClientIDPrefix    string
	ConnectTimeout    time.Duration
	AutoReconnect     bool
	AvailabilityTopic string
	NetworkPolicy     retry.Policy
	BrokerPolicy      retry.Policy
}

type Manager struct {
	cfg       Config
	network   Network
	sleeper   retry.Sleeper
	logger    zerolog.Logger
	newClient func(*MQTT.ClientOptions) MQTT.Client

	mu            sync.RWMutex
	client        MQTT.Client
	clientID      string
	connected     bool
	subscriptions map[string]MQTT.MessageHandler
	connectHooks  map[string]func(MQTT.Client)
}

func NewManager(cfg Config, network Network, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:           cfg,
		network:       network,
		sleeper:       retry.RealSleeper{},
		logger:        logger,
		newClient:     MQTT.NewClient,
		subscriptions: make(map[string]MQTT.MessageHandler),
		connectHooks:  make(map[string]func(MQTT.Client)),
	}
}

// WithSleeper replaces the backoff sleeper, mainly for tests.
func (m *Manager) WithSleeper(s retry.Sleeper) *Manager {
	m.sleeper = s
	return m
}

// WithClientFactory replaces paho's client constructor.
func (m *Manager) WithClientFactory(f func(*MQTT.ClientOptions) MQTT.Client) *Manager {
	m.newClient = f
	return m
}

// Bootstrap blocks until the network is associated and the broker session
// is up, retrying each under its own policy.
func (m *Manager) Bootstrap(ctx context.Context) error {
	err := m.cfg.NetworkPolicy.Do(ctx, m.sleeper, func(attempt int) error {
		err := m.network.Associate()
		if err != nil {
			m.logger.Info().Msgf("Connecting to %s... (attempt %d)", m.network.Name(), attempt)
			m.logger.Debug().Msgf("association failed: %v", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("associate network %s: %w", m.network.Name(), err)
	}
	m.logger.Info().Msgf("Connected to %s", m.network.Name())

	clientID := ClientID(m.cfg.ClientIDPrefix, m.network.HardwareAddr())
	client := m.newClient(m.clientOptions(clientID))
	m.mu.Lock()
	m.client = client
	m.clientID = clientID
	m.mu.Unlock()

	err = m.cfg.BrokerPolicy.Do(ctx, m.sleeper, func(attempt int) error {
		// an earlier attempt may have completed after it was given up on
		if client.IsConnected() {
			return nil
		}
		m.logger.Info().Msgf("The client %s connects to broker %s", clientID, m.cfg.BrokerURI)
		// paho bounds the attempt with the ConnectTimeout option
		token := client.Connect()
		if !token.Wait() {
			m.logger.Warn().Msg("Failed with state incomplete")
			return fmt.Errorf("%w: connect did not complete", ErrSessionUnavailable)
		}
		if token.Error() != nil {
			if client.IsConnected() {
				return nil
			}
			m.logger.Warn().Msgf("Failed with state %d: %v", returnCode(token), token.Error())
			return fmt.Errorf("%w: %w", ErrSessionUnavailable, token.Error())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect broker %s: %w", m.cfg.BrokerURI, err)
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	m.logger.Info().Msgf("Broker %s connected", m.cfg.BrokerURI)
	return nil
}

func (m *Manager) clientOptions(clientID string) *MQTT.ClientOptions {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(m.cfg.BrokerURI)
	opts.SetClientID(clientID)
	opts.SetUsername(m.cfg.Username)
	opts.SetPassword(m.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(m.cfg.AutoReconnect)
	opts.SetConnectRetry(false)
	if m.cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(m.cfg.ConnectTimeout)
	}
	if m.cfg.AvailabilityTopic != "" {
		opts.SetWill(m.cfg.AvailabilityTopic, "offline", 0, false)
	}
	opts.OnConnectionLost = m.connectLostHandler
	opts.OnConnect = m.connectHandler
	opts.SetDefaultPublishHandler(m.receiver)
	return opts
}

// returnCode extracts the CONNACK code when paho reports one.
func returnCode(token MQTT.Token) int {
	if ct, ok := token.(*MQTT.ConnectToken); ok {
		return int(ct.ReturnCode())
	}
	return -1
}

func (m *Manager) connectHandler(client MQTT.Client) {
	m.logger.Info().Msg("Connected")
	if m.cfg.AvailabilityTopic != "" {
		client.Publish(m.cfg.AvailabilityTopic, 0, false, "online")
	}
	m.subscribe(client)

	m.mu.RLock()
	hooks := make([]func(MQTT.Client), 0, len(m.connectHooks))
	for _, hook := range m.connectHooks {
		hooks = append(hooks, hook)
	}
	m.mu.RUnlock()
	for _, hook := range hooks {
		hook(client)
	}
}

func (m *Manager) connectLostHandler(client MQTT.Client, err error) {
	m.logger.Warn().Msgf("Connect lost: %v", err)
}

func (m *Manager) receiver(client MQTT.Client, message MQTT.Message) {
	m.logger.Info().Msgf("Message arrived in topic %s: %s", message.Topic(), string(message.Payload()))
}

func (m *Manager) subscribe(client MQTT.Client) {
	m.mu.RLock()
	subs := make(map[string]MQTT.MessageHandler, len(m.subscriptions))
	for topic, handler := range m.subscriptions {
		subs[topic] = handler
	}
	m.mu.RUnlock()
	for topic, handler := range subs {
		if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			m.logger.Error().Msgf("Error Subscribing to %s: %v", topic, token.Error())
		}
	}
}

// Handle registers an inbound handler, applied on every connect. A nil
// handler removes the subscription from future connects.
func (m *Manager) Handle(topic string, handler MQTT.MessageHandler) {
	m.mu.Lock()
	if handler == nil {
		delete(m.subscriptions, topic)
	} else {
		m.subscriptions[topic] = handler
	}
	client, connected := m.client, m.connected
	m.mu.Unlock()

	if handler != nil && connected && client != nil {
		if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			m.logger.Error().Msgf("Error Subscribing to %s: %v", topic, token.Error())
		}
	}
}

// OnConnect registers a hook run after every successful connect. A nil
// hook removes the named entry.
func (m *Manager) OnConnect(name string, hook func(MQTT.Client)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hook == nil {
		delete(m.connectHooks, name)
	} else {
		m.connectHooks[name] = hook
	}
}

// Service runs once per sampling cycle. paho processes inbound traffic and
// keepalives on its own goroutines, so this only tracks the session state
// and reports transitions. It returns whether the session is open.
func (m *Manager) Service() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return false
	}
	open := m.client.IsConnectionOpen()
	switch {
	case m.connected && !open:
		if m.cfg.AutoReconnect {
			m.logger.Warn().Msg("broker session lost, waiting for reconnect")
		} else {
			m.logger.Warn().Msg("broker session lost, publishes will be dropped")
		}
	case !m.connected && open:
		m.logger.Info().Msg("broker session restored")
	}
	m.connected = open
	return open
}

func (m *Manager) Client() MQTT.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

func (m *Manager) ClientID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clientID
}

func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Close announces the node offline and disconnects.
func (m *Manager) Close() {
	m.mu.Lock()
	client := m.client
	m.connected = false
	m.mu.Unlock()
	if client == nil {
		return
	}
	if client.IsConnected() {
		if m.cfg.AvailabilityTopic != "" {
			client.Publish(m.cfg.AvailabilityTopic, 0, false, "offline").WaitTimeout(time.Second)
		}
		client.Disconnect(250)
	}
}

// ClientID joins the prefix with the hardware address. Without an address
// a random suffix keeps the identity unique.
func ClientID(prefix, hardwareAddr string) string {
	if hardwareAddr == "" {
		return prefix + GetRandString(6)
	}
	return prefix + hardwareAddr
}

func GetRandString(n int) string {
	const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	b := make([]byte, n)
	for i := range b {
		randBytes := make([]byte, 1)
		if _, err := rand.Read(randBytes); err != nil {
			b[i] = letterBytes[i%len(letterBytes)]
		} else {
			b[i] = letterBytes[int(randBytes[0])%len(letterBytes)]
		}
	}
	return string(b)
}
