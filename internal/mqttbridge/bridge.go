// Package mqttbridge implements the optional MQTT command bridge:
// messages on the "door" topic map to lock/unlock/open/toggle facade
// operations, executed strictly serially (spec.md §6, §9 "Global
// LAST_STATE" fix applied as a field on Bridge rather than a package
// global). Grounded on the reference project's mqttdoorer.py, which
// shells out to the CLI per message; this bridge calls the session
// operations in-process instead since it is part of the same binary.
package mqttbridge

import (
	"context"
	"log/slog"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Locker is the subset of session.Device the bridge drives. Declared
// locally so this package does not import internal/session, mirroring
// the reference implementation's subprocess boundary.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	Open(ctx context.Context) error
}

// Bridge subscribes to one MQTT topic and serializes lock/unlock/open
// actions against a single Locker.
type Bridge struct {
	client Locker

	mu        sync.Mutex // serializes action execution
	lastState string     // "lock" or "unlock", for toggle
}

// New creates a Bridge driving locker.
func New(locker Locker) *Bridge {
	return &Bridge{client: locker}
}

// Connect dials broker, subscribes to topic, and installs the message
// handler. It returns once the connection is established.
func (b *Bridge) Connect(broker, topic string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if token := c.Subscribe(topic, 0, b.onMessage); token.Wait() && token.Error() != nil {
			slog.Error("mqtt subscribe failed", "topic", topic, "error", token.Error())
		}
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return client, nil
}

func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	action := string(msg.Payload())
	if err := b.Do(context.Background(), action); err != nil {
		slog.Error("mqtt bridge action failed", "action", action, "error", err)
	}
}

// Do runs one bridge action ("lock", "unlock", "open", "toggle"),
// serialized against any action already in flight.
func (b *Bridge) Do(ctx context.Context, action string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch action {
	case "lock":
		if err := b.client.Lock(ctx); err != nil {
			return err
		}
		b.lastState = "lock"
		return nil
	case "unlock":
		if err := b.client.Unlock(ctx); err != nil {
			return err
		}
		b.lastState = "unlock"
		return nil
	case "open":
		return b.client.Open(ctx)
	case "toggle":
		next := "unlock"
		if b.lastState == "unlock" {
			next = "lock"
		}
		return b.doLocked(ctx, next)
	default:
		slog.Warn("mqtt bridge: unknown action", "action", action)
		return nil
	}
}

// doLocked runs a resolved lock/unlock action; b.mu is already held by
// the caller (toggle resolving to a concrete action).
func (b *Bridge) doLocked(ctx context.Context, action string) error {
	switch action {
	case "lock":
		if err := b.client.Lock(ctx); err != nil {
			return err
		}
	case "unlock":
		if err := b.client.Unlock(ctx); err != nil {
			return err
		}
	}
	b.lastState = action
	return nil
}
