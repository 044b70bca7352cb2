package lowerlayer

import (
	"context"
	"testing"
	"time"

	"github.com/lynxis/keyblepy/internal/codec"
	"github.com/lynxis/keyblepy/internal/transport"
)

func connectLayer(t *testing.T, fake *transport.FakeAdapter) *Layer {
	t.Helper()
	l := New(fake)
	t.Cleanup(l.Stop)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Connect(ctx, "aa:bb:cc:dd:ee:ff"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return l
}

func waitForWritten(t *testing.T, fake *transport.FakeAdapter, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if w := fake.Written(); len(w) >= n {
			return w
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d written fragments, got %d", n, len(fake.Written()))
	return nil
}

func TestLayerSendsSingleFragmentAndAwaitsAnswer(t *testing.T) {
	fake := transport.NewFakeAdapter()
	l := connectLayer(t, fake)

	received := make(chan codec.Message, 1)
	l.SetOnReceive(func(m codec.Message) { received <- m })

	if err := l.Send((codec.ConnectionRequest{UserID: 1, LocalNonce: 42}).Encode()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	written := waitForWritten(t, fake, 1)
	if written[0][0]&0x80 == 0 {
		t.Fatalf("expected start-fragment status bit set, got 0x%02X", written[0][0])
	}

	answer := codec.ConnectionInfo{UserID: 1, RemoteNonce: 7}.Encode()
	fragments, err := codec.EncodeFragment(answer)
	if err != nil {
		t.Fatalf("EncodeFragment: %v", err)
	}
	for _, f := range fragments {
		fake.Inject(f)
	}

	select {
	case msg := <-received:
		info, ok := msg.(codec.ConnectionInfo)
		if !ok {
			t.Fatalf("got %T, want ConnectionInfo", msg)
		}
		if info.RemoteNonce != 7 {
			t.Fatalf("RemoteNonce = %d, want 7", info.RemoteNonce)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reassembled answer")
	}
}

func TestLayerAcksMultiFragmentSend(t *testing.T) {
	fake := transport.NewFakeAdapter()
	l := connectLayer(t, fake)

	big := make([]byte, 40) // needs 3 fragments of 15 bytes each
	for i := range big {
		big[i] = byte(i)
	}
	if err := l.Send(big); err != nil {
		t.Fatalf("Send: %v", err)
	}

	first := waitForWritten(t, fake, 1)[0]
	fake.Inject(codec.FragmentAck{FragmentID: first[0]}.Encode())

	second := waitForWritten(t, fake, 2)[1]
	fake.Inject(codec.FragmentAck{FragmentID: second[0]}.Encode())

	third := waitForWritten(t, fake, 3)[2]
	if third[0]&0x7F != 0 {
		t.Fatalf("final fragment status low bits = 0x%02X, want 0", third[0]&0x7F)
	}
}

func TestLayerAcknowledgesInboundNonFinalFragment(t *testing.T) {
	fake := transport.NewFakeAdapter()
	l := connectLayer(t, fake)
	l.SetOnReceive(func(codec.Message) {})

	msg := make([]byte, 20) // 2 fragments
	fragments, err := codec.EncodeFragment(msg)
	if err != nil {
		t.Fatalf("EncodeFragment: %v", err)
	}
	fake.Inject(fragments[0])

	acks := waitForWritten(t, fake, 1)
	if acks[0][0] != codec.TypeFragmentAck {
		t.Fatalf("expected a FragmentAck write, got type 0x%02X", acks[0][0])
	}
	if acks[0][1] != fragments[0][0] {
		t.Fatalf("ack FragmentID = 0x%02X, want 0x%02X", acks[0][1], fragments[0][0])
	}
}

func TestLayerRetriesThenFailsAfterMaxRetries(t *testing.T) {
	origTimeout := FragmentTimeout
	setFragmentTimeoutForTest(5 * time.Millisecond)
	defer setFragmentTimeoutForTest(origTimeout)

	fake := transport.NewFakeAdapter()
	l := connectLayer(t, fake)

	failed := make(chan error, 1)
	l.SetOnError(func(err error) { failed <- err })

	if err := l.Send((codec.ConnectionRequest{UserID: 1, LocalNonce: 1}).Encode()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case err := <-failed:
		if err == nil {
			t.Fatal("expected non-nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for retry exhaustion")
	}

	// initial send + 3 retries = 4 total writes of the single fragment.
	written := fake.Written()
	if len(written) != MaxFragmentRetries+1 {
		t.Fatalf("got %d writes, want %d", len(written), MaxFragmentRetries+1)
	}
	if l.State() != "error" {
		t.Fatalf("state = %q, want error", l.State())
	}
}
