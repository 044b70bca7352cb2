package session

import (
	"context"
	"testing"
	"time"

	"github.com/lynxis/keyblepy/internal/codec"
	"github.com/lynxis/keyblepy/internal/crypto"
	"github.com/lynxis/keyblepy/internal/transport"
)

// driveConnect injects the ConnectionInfo answer a real lock would send
// in reply to the ConnectionRequest Connect emits, then waits for
// Connect to return.
func driveConnect(t *testing.T, fake *transport.FakeAdapter, userID byte, remoteNonce uint64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(fake.Written()) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(fake.Written()) == 0 {
		t.Fatal("ConnectionRequest was never sent")
	}

	info := codec.ConnectionInfo{UserID: userID, RemoteNonce: remoteNonce, Bootloader: 1, Application: 2}
	fragments, err := codec.EncodeFragment(info.Encode())
	if err != nil {
		t.Fatalf("EncodeFragment: %v", err)
	}
	for _, f := range fragments {
		fake.Inject(f)
	}
}

func TestDeviceConnectCompletesNonceExchange(t *testing.T) {
	fake := transport.NewFakeAdapter()
	key := make([]byte, 16)
	d := New(fake, 5, key)
	t.Cleanup(d.Close)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Connect(context.Background(), "aa:bb:cc:dd:ee:ff") }()

	driveConnect(t, fake, 5, 0xAABBCCDD)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Connect: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Connect")
	}

	boot, app, err := d.Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if boot != 1 || app != 2 {
		t.Fatalf("Discover = (%d,%d), want (1,2)", boot, app)
	}
}

func TestDeviceLockSendsEncryptedCommandAndDecryptsAck(t *testing.T) {
	fake := transport.NewFakeAdapter()
	key := make([]byte, 16)
	d := New(fake, 5, key)
	t.Cleanup(d.Close)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Connect(context.Background(), "aa:bb:cc:dd:ee:ff") }()
	driveConnect(t, fake, 5, 0)
	if err := <-errCh; err != nil {
		t.Fatalf("Connect: %v", err)
	}

	lockErrCh := make(chan error, 1)
	go func() { lockErrCh <- d.Lock(context.Background()) }()

	// wait for the encrypted Command fragment(s) to be written, then
	// answer with an encrypted StatusInfo the lock would send back.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(fake.Written()) < 2 {
		time.Sleep(time.Millisecond)
	}

	d.mu.Lock()
	localNonce := d.localNonce
	d.mu.Unlock()

	ack := crypto.EncryptMessage(codec.TypeStatusInfo, []byte{0x01}, localNonce, 1, key)
	fragments, err := codec.EncodeFragment(ack)
	if err != nil {
		t.Fatalf("EncodeFragment: %v", err)
	}
	for _, f := range fragments {
		fake.Inject(f)
	}

	select {
	case err := <-lockErrCh:
		if err != nil {
			t.Fatalf("Lock: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Lock")
	}
}
