// Package transport abstracts the BLE notification channel a KEY-BLE
// lock is reached over. It does not interpret any byte: it is a byte
// conduit keyed by the lock's service and characteristic UUIDs, the way
// pcsc.Connection in the sibling NFC tooling is a byte conduit keyed by
// reader index rather than by protocol knowledge.
package transport

import (
	"context"
	"fmt"

	"github.com/lynxis/keyblepy/internal/keyerr"
)

// UUIDs of the lock's GATT service and characteristics (spec.md §6).
const (
	LockServiceUUID = "58e06900-15d8-11e6-b737-0002a5d5c51b"
	LockSendCharUUID = "3141dd40-15db-11e6-a24b-0002a5d5c51b"
	LockRecvCharUUID = "359d4820-15db-11e6-82bd-0002a5d5c51b"
)

// Notifier is the abstract BLE transport contract. One fragment at a
// time is written; inbound fragments surface on the channel returned by
// Notifications.
type Notifier interface {
	// Connect opens a BLE connection to mac, discovers the lock
	// service, and locates the send/recv characteristics.
	Connect(ctx context.Context, mac string) error
	// Write sends one 16-byte fragment as a GATT write-with-response.
	Write(ctx context.Context, fragment []byte) error
	// Notifications returns the channel inbound 16-byte frames are
	// delivered on. It is closed when the connection is torn down.
	Notifications() <-chan []byte
	// Disconnect closes the BLE connection.
	Disconnect() error
}

// errNotConnected is returned by Write calls made before a successful
// Connect.
var errNotConnected = keyerr.NewConfig("transport: not connected")

func wrapConnectErr(mac string, err error) error {
	return keyerr.WrapTransport(fmt.Sprintf("connect to %s", mac), err)
}
