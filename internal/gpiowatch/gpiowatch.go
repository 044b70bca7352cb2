// Package gpiowatch watches a GPIO line exported over D-Bus (the
// gpiod-style org.freedesktop.DBus.Properties interface) for a falling
// edge and invokes a callback, standing in for a physical close button
// wired to the lock (original_source/contrib/close_button_watcher.py).
// Uses godbus/dbus/v5, already pulled in transitively by
// tinygo.org/x/bluetooth's BlueZ backend, so no second GPIO stack is
// introduced for this one watcher.
package gpiowatch

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Watcher observes one GPIO line's PropertiesChanged signal and invokes
// the callback passed to Run on a falling edge (value transitioning to 0).
type Watcher struct {
	conn   *dbus.Conn
	chip   string
	line   int
	signal chan *dbus.Signal
}

// New connects to the system bus and arms a match rule for
// PropertiesChanged signals on the given gpiochip/line D-Bus object.
func New(chip string, line int) (*Watcher, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	objectPath := dbus.ObjectPath(fmt.Sprintf("/org/gpiod/%s/line%d", chip, line))
	rule := fmt.Sprintf(
		"type='signal',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',path='%s'",
		objectPath,
	)
	if call := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
		conn.Close()
		return nil, fmt.Errorf("add match rule: %w", call.Err)
	}

	signalCh := make(chan *dbus.Signal, 8)
	conn.Signal(signalCh)

	return &Watcher{conn: conn, chip: chip, line: line, signal: signalCh}, nil
}

// Run blocks, invoking onPressed once per falling edge observed, until
// ctx is cancelled or the D-Bus connection closes.
func (w *Watcher) Run(ctx context.Context, onPressed func()) error {
	defer w.conn.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-w.signal:
			if !ok {
				return fmt.Errorf("gpiowatch: dbus signal channel closed")
			}
			if sig == nil || sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" {
				continue
			}
			if isFallingEdge(sig.Body) {
				onPressed()
			}
		}
	}
}

// isFallingEdge inspects a PropertiesChanged signal body
// (interface_name, changed_properties map, invalidated_properties) for a
// "Value" property transitioning to 0.
func isFallingEdge(body []interface{}) bool {
	if len(body) < 2 {
		return false
	}
	changed, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return false
	}
	v, ok := changed["Value"]
	if !ok {
		return false
	}
	value, ok := v.Value().(int32)
	if !ok {
		return false
	}
	return value == 0
}
