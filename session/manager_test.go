package session

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/elijahnyp/climate_node/mqttmock"
	"github.com/elijahnyp/climate_node/retry"
	"github.com/rs/zerolog"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.slept = append(f.slept, d)
	return ctx.Err()
}

type fakeNetwork struct {
	failures int
	calls    int
	hw       string
}

func (f *fakeNetwork) Associate() error {
	f.calls++
	if f.calls <= f.failures {
		return ErrNetworkUnavailable
	}
	return nil
}

func (f *fakeNetwork) HardwareAddr() string { return f.hw }
func (f *fakeNetwork) Name() string         { return "test-net" }

func testConfig() Config {
	return Config{
		BrokerURI:      "tcp://broker.test:1883",
		Username:       "emqx",
		Password:       "public",
		ClientIDPrefix: "esp32-client-",
		ConnectTimeout: time.Second,
		NetworkPolicy:  retry.Unbounded(500 * time.Millisecond),
		BrokerPolicy:   retry.Unbounded(2 * time.Second),
	}
}

type capturedOptions struct {
	*MQTT.ClientOptions
}

func newTestManager(cfg Config, n Network, client *mqttmock.Client, s retry.Sleeper) (*Manager, *capturedOptions) {
	captured := &capturedOptions{}
	m := NewManager(cfg, n, zerolog.Nop()).
		WithSleeper(s).
		WithClientFactory(func(o *MQTT.ClientOptions) MQTT.Client {
			captured.ClientOptions = o
			return client
		})
	return m, captured
}

func TestBootstrapRetriesThenConnects(t *testing.T) {
	sleeper := &fakeSleeper{}
	network := &fakeNetwork{failures: 3, hw: "24:6F:28:AA:BB:CC"}
	client := &mqttmock.Client{ConnectErr: errors.New("refused"), FailConnects: 2}
	m, opts := newTestManager(testConfig(), network, client, sleeper)

	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap returned %v", err)
	}

	if network.calls != 4 {
		t.Errorf("Expected 4 association attempts, got %d", network.calls)
	}
	if client.Connects() != 3 {
		t.Errorf("Expected 3 connect attempts, got %d", client.Connects())
	}
	want := []time.Duration{
		500 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond,
		2 * time.Second, 2 * time.Second,
	}
	if len(sleeper.slept) != len(want) {
		t.Fatalf("slept %v, expected %v", sleeper.slept, want)
	}
	for i := range want {
		if sleeper.slept[i] != want[i] {
			t.Errorf("sleep %d = %v, expected %v", i, sleeper.slept[i], want[i])
		}
	}

	if m.ClientID() != "esp32-client-24:6F:28:AA:BB:CC" {
		t.Errorf("client id = %s", m.ClientID())
	}
	if opts.ClientID != m.ClientID() || opts.Username != "emqx" || opts.Password != "public" {
		t.Errorf("unexpected options id=%s user=%s", opts.ClientID, opts.Username)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].Host != "broker.test:1883" {
		t.Errorf("unexpected servers %v", opts.Servers)
	}
	if opts.AutoReconnect {
		t.Error("auto reconnect should follow the config and default off")
	}
	if !m.Connected() || m.Client() != client {
		t.Error("manager should hold the connected client")
	}
}

func TestBootstrapBoundedBrokerPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.BrokerPolicy = retry.Policy{MaxAttempts: 2, Backoff: time.Second}
	client := &mqttmock.Client{ConnectErr: errors.New("bad credentials")}
	m, _ := newTestManager(cfg, &fakeNetwork{}, client, &fakeSleeper{})

	err := m.Bootstrap(context.Background())
	if !errors.Is(err, ErrSessionUnavailable) {
		t.Errorf("Expected ErrSessionUnavailable, got %v", err)
	}
	if !errors.Is(err, retry.ErrExhausted) {
		t.Errorf("Expected ErrExhausted, got %v", err)
	}
	if m.Connected() {
		t.Error("manager should not report connected")
	}
}

func TestBootstrapAcceptsLateConnect(t *testing.T) {
	cfg := testConfig()
	cfg.BrokerPolicy = retry.Policy{MaxAttempts: 2, Backoff: time.Second}
	client := &mqttmock.Client{LateConnect: true}
	m, _ := newTestManager(cfg, &fakeNetwork{hw: "AA"}, client, &fakeSleeper{})

	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap should accept a session that came up late, got %v", err)
	}
	if client.Connects() != 1 {
		t.Errorf("a connected client must not be asked to connect again, got %d connects", client.Connects())
	}
	if !m.Connected() {
		t.Error("manager should report connected")
	}
}

func TestBootstrapAlreadyConnectedIsSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.BrokerPolicy = retry.Policy{MaxAttempts: 1}
	client := &mqttmock.Client{}
	client.SetConnected(true)
	m, _ := newTestManager(cfg, &fakeNetwork{hw: "AA"}, client, &fakeSleeper{})

	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap returned %v", err)
	}
	if c := client.Connect(); !errors.Is(c.Error(), mqttmock.ErrAlreadyConnected) {
		t.Errorf("mock should refuse a second connect, got %v", c.Error())
	}
}

func TestBootstrapCancelledDuringAssociation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m, _ := newTestManager(testConfig(), &fakeNetwork{failures: 1000}, &mqttmock.Client{}, &fakeSleeper{})

	err := m.Bootstrap(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if m.Client() != nil {
		t.Error("no client should be created before the network is up")
	}
}

func TestServiceReportsLostSession(t *testing.T) {
	client := &mqttmock.Client{}
	m, _ := newTestManager(testConfig(), &fakeNetwork{hw: "AA"}, client, &fakeSleeper{})

	if m.Service() {
		t.Error("Service before bootstrap should report not connected")
	}
	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap returned %v", err)
	}
	if !m.Service() {
		t.Error("Service should report connected")
	}

	client.SetConnected(false)
	if m.Service() || m.Connected() {
		t.Error("Service should detect the lost session")
	}
	if client.Connects() != 1 {
		t.Error("a lost session must not trigger a reconnect from Service")
	}

	client.SetConnected(true)
	if !m.Service() {
		t.Error("Service should notice a restored session")
	}
}

func TestConnectHandlerRunsHooksAndSubscriptions(t *testing.T) {
	cfg := testConfig()
	cfg.AvailabilityTopic = "node/online"
	client := &mqttmock.Client{}
	m, opts := newTestManager(cfg, &fakeNetwork{hw: "AA"}, client, &fakeSleeper{})

	hookCalls := 0
	m.OnConnect("count", func(MQTT.Client) { hookCalls++ })
	m.OnConnect("removed", func(MQTT.Client) { t.Error("removed hook should not run") })
	m.OnConnect("removed", nil)
	m.Handle("node/cmd", func(MQTT.Client, MQTT.Message) {})

	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap returned %v", err)
	}
	if !opts.WillEnabled || opts.WillTopic != "node/online" || string(opts.WillPayload) != "offline" {
		t.Errorf("unexpected will %v %s %s", opts.WillEnabled, opts.WillTopic, opts.WillPayload)
	}

	m.connectHandler(client)

	if hookCalls != 1 {
		t.Errorf("Expected 1 hook call, got %d", hookCalls)
	}
	pubs := client.Publishes()
	if len(pubs) != 1 || pubs[0].Topic != "node/online" || pubs[0].Payload != "online" {
		t.Errorf("unexpected publishes %+v", pubs)
	}
	subs := client.Subscriptions()
	if len(subs) != 1 || subs[0].Topic != "node/cmd" {
		t.Errorf("unexpected subscriptions %+v", subs)
	}

	m.Handle("node/extra", func(MQTT.Client, MQTT.Message) {})
	if len(client.Subscriptions()) != 2 {
		t.Error("Handle on a live session should subscribe immediately")
	}

	m.Close()
	pubs = client.Publishes()
	if last := pubs[len(pubs)-1]; last.Topic != "node/online" || last.Payload != "offline" {
		t.Errorf("Close should announce offline, got %+v", last)
	}
	if client.IsConnected() {
		t.Error("Close should disconnect")
	}
}

func TestReceiverDoesNotPanic(t *testing.T) {
	m := NewManager(testConfig(), &fakeNetwork{}, zerolog.Nop())
	m.receiver(&mqttmock.Client{}, &mqttmock.Message{TopicName: "x", Body: []byte("y")})
	m.connectLostHandler(&mqttmock.Client{}, errors.New("eof"))
	m.Close()
}

func TestClientID(t *testing.T) {
	if got := ClientID("esp32-client-", "24:6F:28:AA:BB:CC"); got != "esp32-client-24:6F:28:AA:BB:CC" {
		t.Errorf("ClientID = %s", got)
	}
	got := ClientID("esp32-client-", "")
	if !strings.HasPrefix(got, "esp32-client-") || len(got) != len("esp32-client-")+6 {
		t.Errorf("ClientID without hardware address = %s", got)
	}
}

func TestGetRandString(t *testing.T) {
	for _, n := range []int{0, 1, 6, 20} {
		s := GetRandString(n)
		if len(s) != n {
			t.Errorf("GetRandString(%d) length %d", n, len(s))
		}
		for _, c := range s {
			if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
				t.Errorf("GetRandString(%d) contains invalid character %c", n, c)
			}
		}
	}
}

func TestHostNetworkAssociate(t *testing.T) {
	eth := net.Interface{Name: "eth0", Flags: net.FlagUp, HardwareAddr: net.HardwareAddr{0x24, 0x6f, 0x28, 0xaa, 0xbb, 0xcc}}
	lo := net.Interface{Name: "lo", Flags: net.FlagUp | net.FlagLoopback}
	down := net.Interface{Name: "wlan0", HardwareAddr: net.HardwareAddr{1, 2, 3, 4, 5, 6}}
	addr := []net.Addr{&net.IPNet{IP: net.IPv4(10, 0, 0, 2), Mask: net.CIDRMask(24, 32)}}

	n := NewHostNetwork("lab", "")
	n.interfaces = func() ([]net.Interface, error) { return []net.Interface{lo, down, eth}, nil }
	n.addrs = func(net.Interface) ([]net.Addr, error) { return addr, nil }

	if n.HardwareAddr() != "" {
		t.Error("hardware address should be empty before association")
	}
	if err := n.Associate(); err != nil {
		t.Fatalf("Associate returned %v", err)
	}
	if n.HardwareAddr() != "24:6F:28:AA:BB:CC" {
		t.Errorf("hardware address = %s", n.HardwareAddr())
	}

	named := NewHostNetwork("lab", "wlan0")
	named.interfaces = n.interfaces
	named.addrs = n.addrs
	if err := named.Associate(); !errors.Is(err, ErrNetworkUnavailable) {
		t.Errorf("Expected ErrNetworkUnavailable for a down interface, got %v", err)
	}

	noAddr := NewHostNetwork("lab", "")
	noAddr.interfaces = n.interfaces
	noAddr.addrs = func(net.Interface) ([]net.Addr, error) { return nil, nil }
	if err := noAddr.Associate(); !errors.Is(err, ErrNetworkUnavailable) {
		t.Errorf("Expected ErrNetworkUnavailable without addresses, got %v", err)
	}

	broken := NewHostNetwork("lab", "")
	broken.interfaces = func() ([]net.Interface, error) { return nil, errors.New("netlink") }
	if err := broken.Associate(); !errors.Is(err, ErrNetworkUnavailable) {
		t.Errorf("Expected ErrNetworkUnavailable, got %v", err)
	}
	if broken.Name() != "lab" {
		t.Errorf("Name = %s", broken.Name())
	}
}
