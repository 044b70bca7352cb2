package transport

import (
	"context"
	"sync"
)

// FakeAdapter is an in-memory Notifier for fragment-layer and
// session-layer tests: Write records outbound fragments, and a test
// feeds inbound fragments via Inject. No real adapter or device is
// involved.
type FakeAdapter struct {
	mu       sync.Mutex
	written  [][]byte
	notifyCh chan []byte
	connected bool
	failConnect error
	failWrite   error
}

// NewFakeAdapter returns a disconnected FakeAdapter.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{notifyCh: make(chan []byte, 64)}
}

// FailNextConnect makes the next Connect call return err.
func (f *FakeAdapter) FailNextConnect(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failConnect = err
}

// FailWrites makes every subsequent Write call return err.
func (f *FakeAdapter) FailWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrite = err
}

func (f *FakeAdapter) Connect(ctx context.Context, mac string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failConnect != nil {
		err := f.failConnect
		f.failConnect = nil
		return err
	}
	f.connected = true
	return nil
}

func (f *FakeAdapter) Write(ctx context.Context, fragment []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errNotConnected
	}
	if f.failWrite != nil {
		return f.failWrite
	}
	cp := append([]byte{}, fragment...)
	f.written = append(f.written, cp)
	return nil
}

func (f *FakeAdapter) Notifications() <-chan []byte {
	return f.notifyCh
}

func (f *FakeAdapter) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

// Written returns every fragment handed to Write so far, in order.
func (f *FakeAdapter) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte{}, f.written...)
}

// Inject delivers fragment on the Notifications channel, as if the BLE
// peripheral had sent it.
func (f *FakeAdapter) Inject(fragment []byte) {
	f.notifyCh <- fragment
}
