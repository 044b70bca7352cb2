// Package session implements the KEY-BLE session state machine:
// connection-request/connection-info nonce exchange, and the encrypted
// command/status/pairing exchanges built on top of it. It owns one
// lowerlayer.Layer and drives it exclusively through single-slot
// channels, never touching the transport directly (spec.md §4.E, §5).
package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/lynxis/keyblepy/internal/codec"
	"github.com/lynxis/keyblepy/internal/crypto"
	"github.com/lynxis/keyblepy/internal/keyerr"
	"github.com/lynxis/keyblepy/internal/lowerlayer"
	"github.com/lynxis/keyblepy/internal/transport"
)

// DefaultTimeout bounds every synchronous operation below: nonce
// exchange, status round-trip, command acknowledgement.
const DefaultTimeout = 10 * time.Second

type state int

const (
	stateDisconnected state = iota
	stateConnected
	stateNonceExchanged
	stateSecured
	stateUnsecured
)

// Device is one KEY-BLE session: the caller-facing, synchronous
// operations (Connect, Discover, Pair, Status, Lock, Unlock, Open) on top
// of the asynchronous fragment layer.
type Device struct {
	layer *lowerlayer.Layer

	userID  byte
	userKey []byte // 16 bytes; nil if New got none, until Pair supplies one

	mu                sync.Mutex
	state             state
	localNonce        uint64
	remoteNonce       uint64
	localCounter      uint16
	remoteCounter     uint16
	bootloader        byte
	application       byte

	nonceCh chan error // single-slot: signalled once on ConnectionInfo or teardown

	awaitMu   sync.Mutex
	awaitType byte
	awaitCh   chan awaitResult
}

type awaitResult struct {
	msg codec.Message
	err error
}

// New creates a Device bound to notifier, for the given user id. userKey
// may be nil for discover-only or pairing use, since those operations
// precede having one.
func New(notifier transport.Notifier, userID byte, userKey []byte) *Device {
	d := &Device{
		layer:   lowerlayer.New(notifier),
		userID:  userID,
		userKey: userKey,
	}
	d.layer.SetOnReceive(d.handleMessage)
	d.layer.SetOnError(d.handleError)
	return d
}

// Connect opens the BLE connection, sends ConnectionRequest, and blocks
// until ConnectionInfo arrives (or ctx/the default timeout expires). On
// failure the lower layer is torn down so the next Connect starts clean.
func (d *Device) Connect(ctx context.Context, mac string) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	if err := d.layer.Connect(ctx, mac); err != nil {
		return err
	}

	nonce, err := randomNonce()
	if err != nil {
		_ = d.layer.Disconnect()
		return keyerr.WrapTransport("generate local nonce", err)
	}

	d.mu.Lock()
	d.state = stateConnected
	d.localNonce = nonce
	d.localCounter = 0
	d.remoteCounter = 0
	d.mu.Unlock()

	done := make(chan error, 1)
	d.mu.Lock()
	d.nonceCh = done
	d.mu.Unlock()

	req := codec.ConnectionRequest{UserID: d.userID, LocalNonce: nonce}
	if err := d.layer.Send(req.Encode()); err != nil {
		_ = d.layer.Disconnect()
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			_ = d.layer.Disconnect()
			d.setState(stateDisconnected)
			return err
		}
		return nil
	case <-ctx.Done():
		_ = d.layer.Disconnect()
		d.setState(stateDisconnected)
		return keyerr.NewTimeout("NonceExchanged")
	}
}

// Disconnect tears down the BLE connection and the fragment layer.
func (d *Device) Disconnect() error {
	d.setState(stateDisconnected)
	return d.layer.Disconnect()
}

// Close stops the background worker permanently; the Device cannot be
// reused afterward.
func (d *Device) Close() { d.layer.Stop() }

// Discover returns the bootloader and application firmware versions
// reported in ConnectionInfo during Connect.
func (d *Device) Discover() (bootloader, application byte, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state < stateNonceExchanged {
		return 0, 0, keyerr.NewProtocol("discover requires a completed nonce exchange")
	}
	return d.bootloader, d.application, nil
}

// Pair registers newUserKey with the lock under cardKey, the temporary
// symmetric key shared by the lock and the paired QR card (spec.md
// §4.E PairingRequest construction). It returns the user id the lock
// assigned (0xFF in the request means "assign one").
func (d *Device) Pair(ctx context.Context, cardKey [16]byte, newUserKey [16]byte) (assignedUserID byte, err error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	d.mu.Lock()
	if d.state < stateNonceExchanged {
		d.mu.Unlock()
		return 0, keyerr.NewProtocol("pair requires a completed nonce exchange")
	}
	remoteNonce := d.remoteNonce
	d.localCounter++
	counter := d.localCounter
	d.mu.Unlock()

	encryptedKey := crypto.CryptData(newUserKey[:], codec.TypePairingRequest, remoteNonce, counter, cardKey[:])
	encryptedKey = zeroPadTo(encryptedKey, 22)

	tagInput := make([]byte, 0, 1+22)
	tagInput = append(tagInput, d.userID)
	tagInput = append(tagInput, zeroPadTo(newUserKey[:], 21)...)
	tag := crypto.ComputeAuthenticationValue(tagInput, codec.TypePairingRequest, remoteNonce, counter, cardKey[:])

	req := codec.PairingRequest{UserID: d.userID, Counter: counter}
	copy(req.EncryptedUserKey[:], encryptedKey)
	copy(req.Tag[:], tag)

	resp, err := d.sendAndAwait(req.Encode(), codec.TypeAnswerWithoutSecurity, ctx)
	if err != nil {
		return 0, err
	}
	answer := resp.(codec.AnswerWithoutSecurity)
	if answer.Answer != 0 {
		return 0, keyerr.NewProtocol("pairing request rejected by lock")
	}

	d.mu.Lock()
	d.userKey = append([]byte{}, newUserKey[:]...)
	d.mu.Unlock()
	return d.userID, nil
}

// Status requests and decrypts the lock's current status.
func (d *Device) Status(ctx context.Context) ([]byte, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	return d.encryptedRoundTrip(ctx, codec.TypeStatusRequest, codec.TypeStatusInfo, []byte{})
}

// Lock, Unlock and Open send the encrypted Command message with the
// corresponding command byte and await the lock's acknowledgement
// (an encrypted StatusInfo the lock sends unsolicited
// after acting, reused here as the ack envelope).
func (d *Device) Lock(ctx context.Context) error   { return d.command(ctx, codec.CommandLock) }
func (d *Device) Unlock(ctx context.Context) error { return d.command(ctx, codec.CommandUnlock) }
func (d *Device) Open(ctx context.Context) error   { return d.command(ctx, codec.CommandOpen) }

func (d *Device) command(ctx context.Context, cmd byte) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	_, err := d.encryptedRoundTrip(ctx, codec.TypeCommand, codec.TypeStatusInfo, []byte{cmd})
	return err
}

// encryptedRoundTrip encrypts body under typeID with the current session
// key material, sends it, and waits for an envelope of answerType,
// decrypting and returning its plaintext body.
func (d *Device) encryptedRoundTrip(ctx context.Context, typeID, answerType byte, body []byte) ([]byte, error) {
	d.mu.Lock()
	if d.state < stateNonceExchanged {
		d.mu.Unlock()
		return nil, keyerr.NewProtocol("operation requires a completed nonce exchange")
	}
	if d.userKey == nil {
		d.mu.Unlock()
		return nil, keyerr.NewConfig("no user key available for encrypted operation")
	}
	d.localCounter++
	envelope := crypto.EncryptMessage(typeID, body, d.remoteNonce, d.localCounter, d.userKey)
	d.mu.Unlock()

	resp, err := d.sendAndAwait(envelope, answerType, ctx)
	if err != nil {
		return nil, err
	}

	env := resp.(codec.EncryptedEnvelope)
	d.mu.Lock()
	key := d.userKey
	localNonce := d.localNonce
	remoteCounter := d.remoteCounter
	d.mu.Unlock()

	_, plainBody, counter, err := crypto.DecryptMessage(env.Encode(), localNonce, remoteCounter, key)
	if err != nil {
		_ = d.Disconnect()
		return nil, keyerr.WrapProtocol("decrypt response", err)
	}
	d.mu.Lock()
	d.remoteCounter = counter
	d.state = stateSecured
	d.mu.Unlock()
	return plainBody, nil
}

// sendAndAwait sends raw on the wire and blocks until a message of
// wantType arrives, ctx expires, or the lower layer reports an error. On
// timeout the session is torn down per spec.md §5 cancellation policy.
func (d *Device) sendAndAwait(raw []byte, wantType byte, ctx context.Context) (codec.Message, error) {
	ch := make(chan awaitResult, 1)
	d.awaitMu.Lock()
	d.awaitType = wantType
	d.awaitCh = ch
	d.awaitMu.Unlock()

	if err := d.layer.Send(raw); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.msg, res.err
	case <-ctx.Done():
		_ = d.Disconnect()
		return nil, keyerr.NewTimeout("response")
	}
}

// handleMessage runs on the lower layer's worker goroutine. It resolves
// the nonce-exchange signal or the currently awaited response, per
// spec.md §9's channel/future replacement for condition-variable
// signalling.
func (d *Device) handleMessage(msg codec.Message) {
	if info, ok := msg.(codec.ConnectionInfo); ok {
		d.mu.Lock()
		d.remoteNonce = info.RemoteNonce
		d.bootloader = info.Bootloader
		d.application = info.Application
		if d.userID == 0xFF {
			d.userID = info.UserID
		}
		d.state = stateNonceExchanged
		ch := d.nonceCh
		d.nonceCh = nil
		d.mu.Unlock()
		if ch != nil {
			ch <- nil
		}
		return
	}

	if msg.Type() == codec.TypeConnectionClose {
		d.setState(stateDisconnected)
		return
	}

	d.awaitMu.Lock()
	wantType := d.awaitType
	ch := d.awaitCh
	d.awaitCh = nil
	d.awaitMu.Unlock()

	if ch == nil {
		return
	}
	if msg.Type() != wantType {
		ch <- awaitResult{err: keyerr.NewProtocol("unexpected response type")}
		return
	}
	ch <- awaitResult{msg: msg}
}

// handleError runs on the lower layer's worker goroutine when retries
// are exhausted or a protocol violation occurs. It unblocks whichever
// caller is currently waiting.
func (d *Device) handleError(err error) {
	d.mu.Lock()
	d.state = stateUnsecured
	nonceCh := d.nonceCh
	d.nonceCh = nil
	d.mu.Unlock()
	if nonceCh != nil {
		nonceCh <- err
	}

	d.awaitMu.Lock()
	ch := d.awaitCh
	d.awaitCh = nil
	d.awaitMu.Unlock()
	if ch != nil {
		ch <- awaitResult{err: err}
	}
}

func (d *Device) setState(s state) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}

// zeroPadTo zero-extends data to exactly length bytes; data already at
// or past length is returned unchanged.
func zeroPadTo(data []byte, length int) []byte {
	if len(data) >= length {
		return data
	}
	out := make([]byte, length)
	copy(out, data)
	return out
}

func randomNonce() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
