// Package lowerlayer drives fragment send/ack/reassembly over a
// transport.Notifier: retry and timeout handling, outbound message
// queueing, and inbound reassembly. It owns a single background worker
// goroutine; every external call only enqueues a control record onto a
// channel the worker drains, so no caller ever touches the state machine
// directly (spec.md §4.D, §5).
package lowerlayer

import (
	"context"
	"log/slog"
	"time"

	"github.com/lynxis/keyblepy/internal/codec"
	"github.com/lynxis/keyblepy/internal/keyerr"
	"github.com/lynxis/keyblepy/internal/transport"
)

// state is the explicit tagged variant replacing the dynamic FSM library
// the original client used (DESIGN NOTES in SPEC_FULL.md).
type state int

const (
	stateDisconnected state = iota
	stateConnected
	stateSend
	stateWaitAck
	stateWaitAnswer
	stateError
)

func (s state) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnected:
		return "connected"
	case stateSend:
		return "send"
	case stateWaitAck:
		return "wait_ack"
	case stateWaitAnswer:
		return "wait_answer"
	case stateError:
		return "error"
	default:
		return "unknown"
	}
}

// FragmentTimeout is how long the worker waits for a FragmentAck or a
// reassembled answer before resending, mirroring the reference client's
// per-state 5-second timeout. Var rather than const so tests can shrink
// it instead of waiting out the real 5 seconds.
var FragmentTimeout = 5 * time.Second

// setFragmentTimeoutForTest overrides FragmentTimeout and returns the
// previous value; used only from tests in this package.
func setFragmentTimeoutForTest(d time.Duration) time.Duration {
	prev := FragmentTimeout
	FragmentTimeout = d
	return prev
}

// MaxFragmentRetries bounds resends per fragment: the fragment is
// transmitted at most MaxFragmentRetries+1 times in total.
const MaxFragmentRetries = 3

type controlKind int

const (
	ctrlConnect controlKind = iota
	ctrlDisconnect
	ctrlSend
)

type control struct {
	kind    controlKind
	mac     string
	message []byte
	done    chan error
}

// Layer is the fragment-layer state machine plus its I/O worker.
type Layer struct {
	notifier transport.Notifier

	ctrl chan control
	stop chan struct{}
	done chan struct{}

	onReceive func(codec.Message)
	onError   func(error)

	state state

	outboundQueue     [][]byte
	outboundFragments [][]byte
	outboundIndex     int
	outboundTry       int

	inbound codec.Reassembler

	notifyCh <-chan []byte
}

// New creates a Layer and starts its worker goroutine. The worker runs
// until Stop is called.
func New(notifier transport.Notifier) *Layer {
	l := &Layer{
		notifier: notifier,
		ctrl:     make(chan control, 32),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    stateDisconnected,
	}
	go l.run()
	return l
}

// SetOnReceive registers the callback invoked, on the worker goroutine,
// with every fully reassembled and decoded inbound message. The callback
// must not call back into Layer's Connect/Send/Disconnect (spec.md §5:
// "must not re-enter transport operations").
func (l *Layer) SetOnReceive(cb func(codec.Message)) { l.onReceive = cb }

// SetOnError registers the callback invoked, on the worker goroutine,
// when retry exhaustion or a protocol violation moves the layer to the
// Error state.
func (l *Layer) SetOnError(cb func(error)) { l.onError = cb }

// Connect enqueues a connect control record and blocks until the BLE
// connection attempt completes or ctx is done.
func (l *Layer) Connect(ctx context.Context, mac string) error {
	done := make(chan error, 1)
	select {
	case l.ctrl <- control{kind: ctrlConnect, mac: mac, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect enqueues a disconnect control record and blocks until it is
// processed.
func (l *Layer) Disconnect() error {
	done := make(chan error, 1)
	select {
	case l.ctrl <- control{kind: ctrlDisconnect, done: done}:
	case <-l.done:
		return nil
	}
	select {
	case err := <-done:
		return err
	case <-l.done:
		return nil
	}
}

// Send enqueues a whole application message for fragmented
// transmission. It does not block for delivery; completion (or failure)
// surfaces via the inbound message stream / error callback, matching the
// reference client's fire-and-forget queueing at this layer.
func (l *Layer) Send(message []byte) error {
	if len(message) == 0 {
		return keyerr.NewInvalidData("cannot send an empty message")
	}
	select {
	case l.ctrl <- control{kind: ctrlSend, message: message}:
		return nil
	case <-l.done:
		return keyerr.NewProtocol("lower layer is stopped")
	}
}

// Stop shuts the worker goroutine down.
func (l *Layer) Stop() {
	close(l.stop)
	<-l.done
}

// State reports the current FSM state; exposed for tests.
func (l *Layer) State() string { return l.state.String() }

func (l *Layer) run() {
	defer close(l.done)

	var timer *time.Timer
	var timerCh <-chan time.Time

	armTimeout := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(FragmentTimeout)
		timerCh = timer.C
	}
	disarmTimeout := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		timerCh = nil
	}

	for {
		select {
		case <-l.stop:
			if l.notifier != nil {
				_ = l.notifier.Disconnect()
			}
			return

		case c := <-l.ctrl:
			l.handleControl(c, armTimeout, disarmTimeout)

		case frag, ok := <-l.notifyCh:
			if !ok {
				l.notifyCh = nil
				continue
			}
			l.handleFragment(frag, armTimeout, disarmTimeout)

		case <-timerCh:
			l.handleTimeout(armTimeout, disarmTimeout)
		}
	}
}

func (l *Layer) handleControl(c control, armTimeout, disarmTimeout func()) {
	switch c.kind {
	case ctrlConnect:
		err := l.notifier.Connect(context.Background(), c.mac)
		if err != nil {
			c.done <- err
			return
		}
		l.notifyCh = l.notifier.Notifications()
		l.state = stateConnected
		c.done <- nil
		if len(l.outboundQueue) > 0 {
			l.enterSend(armTimeout)
		}

	case ctrlDisconnect:
		disarmTimeout()
		_ = l.notifier.Disconnect()
		l.state = stateDisconnected
		l.outboundQueue = nil
		l.outboundFragments = nil
		l.inbound = codec.Reassembler{}
		c.done <- nil

	case ctrlSend:
		l.outboundQueue = append(l.outboundQueue, c.message)
		if l.state == stateConnected {
			l.enterSend(armTimeout)
		}
	}
}

// enterSend sends the next outbound fragment, pulling a new message off
// the queue if the current one is exhausted (spec.md §4.D Send/WaitAck).
func (l *Layer) enterSend(armTimeout func()) {
	l.state = stateSend

	if len(l.outboundFragments) == 0 {
		if len(l.outboundQueue) == 0 {
			l.state = stateConnected
			return
		}
		message := l.outboundQueue[0]
		l.outboundQueue = l.outboundQueue[1:]

		fragments, err := codec.EncodeFragment(message)
		if err != nil {
			l.fail(err)
			return
		}
		l.outboundFragments = fragments
		l.outboundIndex = -1
	}

	l.outboundIndex++
	l.outboundTry = 1
	fragment := l.outboundFragments[l.outboundIndex]
	if err := l.notifier.Write(context.Background(), fragment); err != nil {
		l.fail(keyerr.WrapTransport("write fragment", err))
		return
	}

	isLast := l.outboundIndex == len(l.outboundFragments)-1
	if isLast {
		l.state = stateWaitAnswer
		l.inbound = codec.Reassembler{}
	} else {
		l.state = stateWaitAck
	}
	armTimeout()
}

func (l *Layer) handleFragment(frag []byte, armTimeout, disarmTimeout func()) {
	if len(frag) < 2 {
		l.fail(keyerr.NewInvalidData("fragment shorter than 2 bytes"))
		return
	}

	if l.state == stateWaitAck && isAckFor(frag, l.currentOutboundFragment()) {
		disarmTimeout()
		l.enterSend(armTimeout)
		return
	}

	// Any other inbound fragment, even while WaitAck, is reassembly
	// input (spec.md §4.D ack recognition).
	complete, err := l.inbound.Feed(frag)
	if err != nil {
		l.fail(err)
		return
	}

	status := frag[0]
	isFinalFragmentOfStream := status&0x7F == 0
	if !isFinalFragmentOfStream {
		// acknowledge every inbound non-terminal fragment.
		ack := codec.FragmentAck{FragmentID: status}.Encode()
		if werr := l.notifier.Write(context.Background(), ack); werr != nil {
			l.fail(keyerr.WrapTransport("write fragment ack", werr))
			return
		}
	}

	if complete == nil {
		return
	}

	msg, derr := codec.Dispatch(complete)
	if derr != nil {
		l.fail(derr)
		return
	}

	if l.state == stateWaitAnswer {
		disarmTimeout()
		l.outboundFragments = nil
		l.outboundIndex = 0
		l.state = stateConnected
		if len(l.outboundQueue) > 0 {
			l.enterSend(armTimeout)
		}
	}

	if l.onReceive != nil {
		l.onReceive(msg)
	}
}

func (l *Layer) currentOutboundFragment() []byte {
	if l.outboundFragments == nil || l.outboundIndex < 0 || l.outboundIndex >= len(l.outboundFragments) {
		return nil
	}
	return l.outboundFragments[l.outboundIndex]
}

// isAckFor reports whether frag is a FragmentAck acknowledging outbound.
func isAckFor(frag, outbound []byte) bool {
	if len(frag) < 2 || outbound == nil {
		return false
	}
	if frag[0] != codec.TypeFragmentAck {
		return false
	}
	return frag[1] == outbound[0]
}

func (l *Layer) handleTimeout(armTimeout, disarmTimeout func()) {
	switch l.state {
	case stateWaitAck:
		if l.outboundTry >= MaxFragmentRetries+1 {
			disarmTimeout()
			l.fail(keyerr.NewTimeout("FragmentAck"))
			return
		}
		l.outboundTry++
		if err := l.notifier.Write(context.Background(), l.currentOutboundFragment()); err != nil {
			l.fail(keyerr.WrapTransport("resend fragment", err))
			return
		}
		armTimeout()

	case stateWaitAnswer:
		if l.outboundTry >= MaxFragmentRetries+1 {
			disarmTimeout()
			l.fail(keyerr.NewTimeout("answer"))
			return
		}
		l.outboundTry++
		if err := l.notifier.Write(context.Background(), l.currentOutboundFragment()); err != nil {
			l.fail(keyerr.WrapTransport("resend fragment", err))
			return
		}
		armTimeout()

	default:
		// a stray timer fire after a state change; nothing to do.
	}
}

func (l *Layer) fail(err error) {
	slog.Error("lower layer error", "state", l.state.String(), "error", err)
	l.state = stateError
	if l.onError != nil {
		l.onError(err)
	}
}
