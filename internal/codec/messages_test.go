package codec

import (
	"testing"
)

func TestConnectionRequestRoundTrip(t *testing.T) {
	m := ConnectionRequest{UserID: 5, LocalNonce: 0x0102030405060708}
	encoded := m.Encode()
	got, err := decodeConnectionRequest(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != m {
		t.Fatalf("got %+v, want %+v", got, m)
	}
}

func TestConnectionInfoRoundTrip(t *testing.T) {
	m := ConnectionInfo{UserID: 7, RemoteNonce: 0xAABBCCDDEEFF0011, Bootloader: 1, Application: 2}
	encoded := m.Encode()
	// simulate the fragment-layer zero padding to a 15-byte boundary.
	padded := append(append([]byte{}, encoded...), make([]byte, 2)...)
	got, err := decodeConnectionInfo(padded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != m {
		t.Fatalf("got %+v, want %+v", got, m)
	}
}

func TestFragmentAckRoundTrip(t *testing.T) {
	m := FragmentAck{FragmentID: 0x82}
	got, err := decodeFragmentAck(m.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != m {
		t.Fatalf("got %+v, want %+v", got, m)
	}
}

func TestPairingRequestRoundTrip(t *testing.T) {
	var m PairingRequest
	m.UserID = 0xFF
	for i := range m.EncryptedUserKey {
		m.EncryptedUserKey[i] = byte(i)
	}
	m.Counter = 1
	m.Tag = [4]byte{0xDE, 0xAD, 0xBE, 0xEF}

	got, err := decodePairingRequest(m.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != m {
		t.Fatalf("got %+v, want %+v", got, m)
	}
}

func TestDispatchRoutesByType(t *testing.T) {
	ack := FragmentAck{FragmentID: 3}
	msg, err := Dispatch(ack.Encode())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	decoded, ok := msg.(FragmentAck)
	if !ok {
		t.Fatalf("Dispatch returned %T, want FragmentAck", msg)
	}
	if decoded != ack {
		t.Fatalf("got %+v, want %+v", decoded, ack)
	}
}

func TestDispatchEncryptedEnvelopeTypes(t *testing.T) {
	for _, typ := range []byte{TypeAnswerWithSecurity, TypeStatusRequest, TypeStatusInfo, TypeCommand, TypeUserInfo, TypeUserNameSet} {
		data := append([]byte{typ}, make([]byte, 6)...) // empty cipher body + counter(2) + tag(4)
		msg, err := Dispatch(data)
		if err != nil {
			t.Fatalf("type 0x%02X: Dispatch: %v", typ, err)
		}
		env, ok := msg.(EncryptedEnvelope)
		if !ok {
			t.Fatalf("type 0x%02X: Dispatch returned %T, want EncryptedEnvelope", typ, msg)
		}
		if env.MsgType != typ {
			t.Fatalf("type 0x%02X: env.MsgType = 0x%02X", typ, env.MsgType)
		}
	}
}

func TestDispatchUnknownType(t *testing.T) {
	if _, err := Dispatch([]byte{0xFE}); err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestDispatchEmptyMessage(t *testing.T) {
	if _, err := Dispatch(nil); err == nil {
		t.Fatal("expected error for empty message")
	}
}
