package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NickAnderegg/kasa-server/internal/config"
	devicedomain "github.com/NickAnderegg/kasa-server/internal/domain/device"
	"github.com/NickAnderegg/kasa-server/internal/events"
)

type fakeToken struct {
	err      error
	timedOut bool
}

func (t *fakeToken) Wait() bool                     { return !t.timedOut }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	pahomqtt.Client

	mu           sync.Mutex
	connected    bool
	publishErr   error
	subscribed   map[string]pahomqtt.MessageHandler
	subscribes   int
	published    []published
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true, subscribed: make(map[string]pahomqtt.MessageHandler)}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return &fakeToken{err: c.publishErr}
	}
	c.published = append(c.published, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, handler pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed[topic] = handler
	c.subscribes++
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeClient) last() published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published[len(c.published)-1]
}

func (c *fakeClient) publishCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type command struct {
	name   string
	action devicedomain.PowerAction
}

type fakeCommander struct {
	found bool
	err   error
	calls []command
}

func (c *fakeCommander) SetPower(_ context.Context, name string, action devicedomain.PowerAction) (bool, error) {
	c.calls = append(c.calls, command{name: name, action: action})
	return c.found, c.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startedBridge(t *testing.T, commander Commander) (*Bridge, *fakeClient) {
	t.Helper()
	client := newFakeClient()
	b := newBridge(client, "home/kasa", commander, quietLogger())
	require.NoError(t, b.handleConnect())
	return b, client
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "/home/kasa/"}
	assert.Equal(t, "home/kasa/10.0.0.5/state", topics.State("10.0.0.5"))
	assert.Equal(t, "home/kasa/status", topics.Status())
	assert.Equal(t, "home/kasa/command", topics.Command())

	assert.Equal(t, "kasa/status", Topics{}.Status())
}

func TestConnectAnnouncesOnlineAndSubscribes(t *testing.T) {
	_, client := startedBridge(t, &fakeCommander{})

	first := client.last()
	assert.Equal(t, "home/kasa/status", first.topic)
	assert.True(t, first.retained)
	assert.Equal(t, statusOnline, string(first.payload))
	assert.Contains(t, client.subscribed, "home/kasa/command")
}

func TestReconnectRestoresSessionState(t *testing.T) {
	b, client := startedBridge(t, &fakeCommander{})

	// Broker drop: the retained status now reads offline and the clean
	// session has forgotten the subscription.
	client.published = append(client.published, published{topic: "home/kasa/status", retained: true, payload: []byte(statusOffline)})
	delete(client.subscribed, "home/kasa/command")

	require.NoError(t, b.handleConnect())

	msg := client.last()
	assert.Equal(t, "home/kasa/status", msg.topic)
	assert.True(t, msg.retained)
	assert.Equal(t, statusOnline, string(msg.payload))
	assert.Contains(t, client.subscribed, "home/kasa/command")
	assert.Equal(t, 2, client.subscribes)
}

func TestPublishStateIsRetainedJSON(t *testing.T) {
	b, client := startedBridge(t, &fakeCommander{})
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := b.PublishState(events.Event{Address: "10.0.0.5", Alias: "Entry Lamp", IsOn: true, Timestamp: ts})
	require.NoError(t, err)

	msg := client.last()
	assert.Equal(t, "home/kasa/10.0.0.5/state", msg.topic)
	assert.True(t, msg.retained)

	var body statePayload
	require.NoError(t, json.Unmarshal(msg.payload, &body))
	assert.Equal(t, statePayload{Name: "Entry Lamp", IPAddress: "10.0.0.5", IsOn: true, Timestamp: ts}, body)
}

func TestPublishFailures(t *testing.T) {
	b, client := startedBridge(t, &fakeCommander{})

	client.publishErr = errors.New("broker said no")
	err := b.PublishState(events.Event{Address: "10.0.0.5"})
	assert.ErrorIs(t, err, ErrPublishFailed)

	client.connected = false
	err = b.PublishState(events.Event{Address: "10.0.0.5"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestRunForwardsUntilChannelCloses(t *testing.T) {
	b, client := startedBridge(t, &fakeCommander{})
	before := client.publishCount()

	in := make(chan events.Event, 2)
	in <- events.NewStateChanged("10.0.0.5", "Lamp", true, events.SourceCommand)
	in <- events.NewStateChanged("10.0.0.9", "Fan", false, events.SourceRefresh)
	close(in)

	done := make(chan struct{})
	go func() {
		b.Run(context.Background(), in)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}

	assert.Equal(t, before+2, client.publishCount())
	assert.Equal(t, "home/kasa/10.0.0.9/state", client.last().topic)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	b, _ := startedBridge(t, &fakeCommander{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		b.Run(ctx, make(chan events.Event))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCommandMessagesReachCommander(t *testing.T) {
	commander := &fakeCommander{found: true}
	_, client := startedBridge(t, commander)
	handler := client.subscribed["home/kasa/command"]

	handler(client, fakeMessage{topic: "home/kasa/command", payload: []byte(`{"name":"Entry Lamp","action":"toggle"}`)})
	handler(client, fakeMessage{topic: "home/kasa/command", payload: []byte(`{"name":"Entry Lamp","action":"explode"}`)})
	handler(client, fakeMessage{topic: "home/kasa/command", payload: []byte(`not json`)})

	require.Len(t, commander.calls, 1)
	assert.Equal(t, command{name: "Entry Lamp", action: devicedomain.PowerToggle}, commander.calls[0])
}

func TestDecodeCommand(t *testing.T) {
	name, action, err := decodeCommand([]byte(`{"name":"  Fan ","action":"OFF"}`))
	require.NoError(t, err)
	assert.Equal(t, "Fan", name)
	assert.Equal(t, devicedomain.PowerOff, action)

	_, _, err = decodeCommand([]byte(`{"action":"on"}`))
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestCloseAnnouncesOffline(t *testing.T) {
	b, client := startedBridge(t, &fakeCommander{})
	b.Close()

	msg := client.last()
	assert.Equal(t, "home/kasa/status", msg.topic)
	assert.Equal(t, statusOffline, string(msg.payload))
	assert.True(t, client.disconnected)
}

func TestBuildClientOptions(t *testing.T) {
	opts := buildClientOptions(config.MQTTConfig{
		Broker:      "tcp://broker:1883",
		ClientID:    "kasa-test",
		Username:    "user",
		Password:    "secret",
		TopicPrefix: "home/kasa",
	})

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
	assert.Equal(t, "kasa-test", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "home/kasa/status", opts.WillTopic)
	assert.Equal(t, []byte(statusOffline), opts.WillPayload)
	assert.True(t, opts.WillRetained)
}
