// Package mqtt mirrors device state changes to an MQTT broker and accepts
// power commands from it.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/NickAnderegg/kasa-server/internal/config"
	devicedomain "github.com/NickAnderegg/kasa-server/internal/domain/device"
	"github.com/NickAnderegg/kasa-server/internal/events"
)

// Commander executes power commands received from the broker.
type Commander interface {
	SetPower(ctx context.Context, name string, action devicedomain.PowerAction) (bool, error)
}

// Bridge publishes retained device state and availability, and forwards
// command messages to the registry.
type Bridge struct {
	client    pahomqtt.Client
	topics    Topics
	commander Commander
	logger    *slog.Logger
}

type statePayload struct {
	Name      string    `json:"name"`
	IPAddress string    `json:"ip_address"`
	IsOn      bool      `json:"is_on"`
	Timestamp time.Time `json:"timestamp"`
}

type commandPayload struct {
	Name   string `json:"name"`
	Action string `json:"action"`
}

// Connect dials the broker. On every connection, including automatic
// reconnects, the bridge announces availability and re-subscribes to the
// command topic.
func Connect(cfg config.MQTTConfig, commander Commander, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(nil, cfg.TopicPrefix, commander, logger)

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		if err := b.handleConnect(); err != nil {
			b.logger.Error("mqtt session setup failed", "err", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		b.logger.Warn("mqtt connection lost", "err", err)
	})

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		b.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	b.logger.Info("mqtt bridge connected", "broker", cfg.Broker, "prefix", b.topics.prefix())
	return b, nil
}

func newBridge(client pahomqtt.Client, prefix string, commander Commander, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{client: client, topics: Topics{Prefix: prefix}, commander: commander, logger: logger}
}

// handleConnect replaces the retained LWT with online and restores the
// command subscription, which a clean session drops on reconnect.
func (b *Bridge) handleConnect() error {
	if err := b.publish(b.topics.Status(), []byte(statusOnline), true); err != nil {
		return err
	}
	token := b.client.Subscribe(b.topics.Command(), qosAtLeastOnce, b.handleCommand)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Run publishes every received event as retained device state until the
// channel closes or ctx is done.
func (b *Bridge) Run(ctx context.Context, in <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-in:
			if !ok {
				return
			}
			if err := b.PublishState(evt); err != nil {
				b.logger.Warn("mqtt state publish failed", "addr", evt.Address, "err", err)
			}
		}
	}
}

// PublishState publishes one device's state to its retained topic.
func (b *Bridge) PublishState(evt events.Event) error {
	payload, err := json.Marshal(statePayload{
		Name:      evt.Alias,
		IPAddress: evt.Address,
		IsOn:      evt.IsOn,
		Timestamp: evt.Timestamp,
	})
	if err != nil {
		return err
	}
	return b.publish(b.topics.State(evt.Address), payload, true)
}

// Close announces a graceful shutdown and disconnects.
func (b *Bridge) Close() {
	if b.client.IsConnected() {
		if err := b.publish(b.topics.Status(), []byte(statusOffline), true); err != nil {
			b.logger.Warn("mqtt offline publish failed", "err", err)
		}
	}
	b.client.Disconnect(defaultDisconnectQuiesce)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) error {
	if !b.client.IsConnected() {
		return ErrNotConnected
	}
	token := b.client.Publish(topic, qosAtLeastOnce, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (b *Bridge) handleCommand(_ pahomqtt.Client, msg pahomqtt.Message) {
	name, action, err := decodeCommand(msg.Payload())
	if err != nil {
		b.logger.Warn("ignoring mqtt command", "topic", msg.Topic(), "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultCommandTimeout)
	defer cancel()
	found, err := b.commander.SetPower(ctx, name, action)
	switch {
	case err != nil:
		b.logger.Warn("mqtt command failed", "name", name, "action", action, "err", err)
	case !found:
		b.logger.Warn("mqtt command for unknown device", "name", name, "action", action)
	default:
		b.logger.Info("mqtt command applied", "name", name, "action", action)
	}
}

func decodeCommand(raw []byte) (string, devicedomain.PowerAction, error) {
	var cmd commandPayload
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return "", "", fmt.Errorf("%w: missing name", ErrInvalidCommand)
	}
	action, err := devicedomain.ParsePowerAction(cmd.Action)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	return name, action, nil
}
