package transport

import (
	"context"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/lynxis/keyblepy/internal/keyerr"
)

// BluetoothAdapter is the real BLE transport, backed by
// tinygo.org/x/bluetooth. On Linux this talks to BlueZ over D-Bus; the
// adapter itself never knows that, it just sees a GATT characteristic.
type BluetoothAdapter struct {
	adapter *bluetooth.Adapter

	mu       sync.Mutex
	device   bluetooth.Device
	sendChar bluetooth.DeviceCharacteristic
	recvChar bluetooth.DeviceCharacteristic
	notifyCh chan []byte
	connected bool
}

// NewBluetoothAdapter returns a Notifier backed by the host's default BLE
// adapter. The adapter must be enabled once per process; Enable is
// idempotent across multiple KEY-BLE sessions.
func NewBluetoothAdapter() (*BluetoothAdapter, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, keyerr.WrapTransport("enable BLE adapter", err)
	}
	return &BluetoothAdapter{adapter: adapter}, nil
}

func (b *BluetoothAdapter) Connect(ctx context.Context, mac string) error {
	addr, err := bluetooth.ParseMAC(mac)
	if err != nil {
		return keyerr.NewConfig("invalid BLE MAC address %q: %v", mac, err)
	}

	device, err := b.adapter.Connect(bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: addr}}, bluetooth.ConnectionParams{})
	if err != nil {
		return wrapConnectErr(mac, err)
	}

	serviceUUID, err := bluetooth.ParseUUID(LockServiceUUID)
	if err != nil {
		return keyerr.WrapTransport("parse service UUID", err)
	}
	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		_ = device.Disconnect()
		return keyerr.WrapTransport("discover lock service", err)
	}

	sendUUID, err := bluetooth.ParseUUID(LockSendCharUUID)
	if err != nil {
		return keyerr.WrapTransport("parse send characteristic UUID", err)
	}
	recvUUID, err := bluetooth.ParseUUID(LockRecvCharUUID)
	if err != nil {
		return keyerr.WrapTransport("parse recv characteristic UUID", err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{sendUUID, recvUUID})
	if err != nil {
		_ = device.Disconnect()
		return keyerr.WrapTransport("discover lock characteristics", err)
	}

	var sendChar, recvChar bluetooth.DeviceCharacteristic
	var haveSend, haveRecv bool
	for _, c := range chars {
		switch c.UUID() {
		case sendUUID:
			sendChar, haveSend = c, true
		case recvUUID:
			recvChar, haveRecv = c, true
		}
	}
	if !haveSend || !haveRecv {
		_ = device.Disconnect()
		return keyerr.NewProtocol("lock did not advertise both send and recv characteristics")
	}

	notifyCh := make(chan []byte, 16)
	if err := recvChar.EnableNotifications(func(buf []byte) {
		frame := append([]byte{}, buf...)
		select {
		case notifyCh <- frame:
		default:
			// a slow consumer drops the oldest-pending notification
			// rather than block the BLE event-loop callback.
			<-notifyCh
			notifyCh <- frame
		}
	}); err != nil {
		_ = device.Disconnect()
		return keyerr.WrapTransport("enable recv notifications", err)
	}

	b.mu.Lock()
	b.device = device
	b.sendChar = sendChar
	b.recvChar = recvChar
	b.notifyCh = notifyCh
	b.connected = true
	b.mu.Unlock()
	return nil
}

func (b *BluetoothAdapter) Write(ctx context.Context, fragment []byte) error {
	b.mu.Lock()
	connected := b.connected
	sendChar := b.sendChar
	b.mu.Unlock()
	if !connected {
		return errNotConnected
	}
	if _, err := sendChar.Write(fragment); err != nil {
		return keyerr.WrapTransport("write fragment", err)
	}
	return nil
}

func (b *BluetoothAdapter) Notifications() <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.notifyCh
}

func (b *BluetoothAdapter) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	b.connected = false
	if b.notifyCh != nil {
		close(b.notifyCh)
		b.notifyCh = nil
	}
	if err := b.device.Disconnect(); err != nil {
		return keyerr.WrapTransport("disconnect", err)
	}
	return nil
}

// ScanResult is one discovered KEY-BLE device.
type ScanResult struct {
	MAC  string
	RSSI int
}

// Scan performs a BLE discovery inquiry lasting duration, filtered to
// devices advertising the local name "KEY-BLE" (spec.md §6 --scan,
// behavior specified in SPEC_FULL.md from keyble.py's filter_keyble).
func Scan(ctx context.Context, duration time.Duration) ([]ScanResult, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, keyerr.WrapTransport("enable BLE adapter", err)
	}

	var results []ScanResult
	var mu sync.Mutex

	go func() {
		_ = adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if result.LocalName() != "KEY-BLE" {
				return
			}
			mu.Lock()
			results = append(results, ScanResult{MAC: result.Address.String(), RSSI: int(result.RSSI)})
			mu.Unlock()
		})
	}()

	select {
	case <-time.After(duration):
	case <-ctx.Done():
	}
	_ = adapter.StopScan()

	mu.Lock()
	defer mu.Unlock()
	return append([]ScanResult{}, results...), nil
}
