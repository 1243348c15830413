// Package mqtt connects the bridge to the broker: inbound commands are
// relayed onto the from_mqtt bus, and the to_mqtt bus is drained into
// broker publishes.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/celsworth/lxp-bridge-sub000/internal/bus"
	"github.com/celsworth/lxp-bridge-sub000/internal/config"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	clientID       = "lxp-bridge"
)

type Mqtt struct {
	cfg       config.Mqtt
	inverters []config.Inverter
	fromMqtt  *bus.Bus[Event]
	toMqtt    *bus.Bus[Event]

	// retained discovery payloads published once the broker session is up
	discovery []Message
}

func New(cfg config.Mqtt, inverters []config.Inverter, fromMqtt, toMqtt *bus.Bus[Event], discovery []Message) *Mqtt {
	return &Mqtt{
		cfg:       cfg,
		inverters: inverters,
		fromMqtt:  fromMqtt,
		toMqtt:    toMqtt,
		discovery: discovery,
	}
}

// AvailabilityTopic is where the broker's last-will marks the bridge
// offline, relative to the namespace.
const AvailabilityTopic = "LWT"

// Start connects and runs the publish loop until ctx is cancelled.
func (m *Mqtt) Start(ctx context.Context) error {
	if !m.cfg.IsEnabled() {
		slog.Info("mqtt disabled, skipping")
		return nil
	}

	broker := fmt.Sprintf("tcp://%s:%d", m.cfg.Host, m.cfg.Port)
	slog.Info("initializing mqtt", "broker", broker)

	lwt := fmt.Sprintf("%s/%s", m.cfg.Namespace, AvailabilityTopic)

	opts := paho.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetAutoReconnect(true).SetConnectRetry(true).SetConnectTimeout(5 * time.Second)
	opts.SetWill(lwt, "offline", 0, true)

	opts.SetOnConnectHandler(func(client paho.Client) {
		slog.Info("mqtt connected", "broker", broker)
		m.subscribe(client)

		token := client.Publish(lwt, 0, true, "online")
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			slog.Warn("mqtt availability publish failed", "err", token.Error())
		}

		// discovery topics are absolute (homeassistant/...), so no
		// namespace prefix here
		for _, msg := range m.discovery {
			token := client.Publish(msg.Topic, 0, msg.Retain, msg.Payload)
			if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
				slog.Warn("mqtt discovery publish failed", "topic", msg.Topic, "err", token.Error())
			}
		}
	})
	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		slog.Warn("mqtt connection lost", "err", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	defer client.Disconnect(2000)

	return m.sender(ctx, client)
}

// Stop asks the coordinator's mqtt receiver to exit.
func (m *Mqtt) Stop() {
	m.fromMqtt.Send(ShutdownEvent())
}

// subscribe registers the command topics and forwards inbound publishes
// onto the from_mqtt bus.
func (m *Mqtt) subscribe(client paho.Client) {
	topics := []string{fmt.Sprintf("%s/cmd/all/#", m.cfg.Namespace)}
	for _, inv := range m.inverters {
		topics = append(topics, fmt.Sprintf("%s/cmd/%s/#", m.cfg.Namespace, inv.Datalog))
	}

	handler := func(client paho.Client, msg paho.Message) {
		// remove the namespace including the first slash; doing it by
		// length means a namespace containing a slash still works
		topic := msg.Topic()
		if len(topic) <= len(m.cfg.Namespace)+1 {
			return
		}
		message := Message{
			Topic:   topic[len(m.cfg.Namespace)+1:],
			Payload: string(msg.Payload()),
			Retain:  msg.Retained(),
		}
		slog.Debug("mqtt rx", "topic", message.Topic, "payload", message.Payload)
		m.fromMqtt.Send(MessageEvent(message))
	}

	for _, topic := range topics {
		token := client.Subscribe(topic, 0, handler)
		if token.Wait() && token.Error() != nil {
			slog.Warn("mqtt subscribe failed", "topic", topic, "err", token.Error())
		} else {
			slog.Info("mqtt subscribed", "topic", topic)
		}
	}
}

// sender drains the to_mqtt bus into broker publishes.
func (m *Mqtt) sender(ctx context.Context, client paho.Client) error {
	sub := m.toMqtt.Subscribe()
	defer sub.Close()

	for {
		event, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrLagged) {
				slog.Warn("mqtt sender lagged, some publishes were dropped")
				continue
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		switch event.Kind {
		case EventShutdown:
			slog.Info("mqtt sender exiting")
			return nil
		case EventMessage:
			msg := event.Message
			topic := fmt.Sprintf("%s/%s", m.cfg.Namespace, msg.Topic)
			slog.Debug("mqtt tx", "topic", topic, "payload", msg.Payload)
			token := client.Publish(topic, 0, msg.Retain, msg.Payload)
			if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
				slog.Warn("mqtt publish failed, skipping", "topic", topic, "err", token.Error())
			}
		}
	}
}
