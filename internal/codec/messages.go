package codec

import (
	"encoding/binary"

	"github.com/lynxis/keyblepy/internal/keyerr"
)

// Message type ids, tagged by the first byte of the reassembled payload.
const (
	TypeFragmentAck            = 0x00
	TypeAnswerWithoutSecurity  = 0x01
	TypeConnectionRequest      = 0x02
	TypeConnectionInfo         = 0x03
	TypePairingRequest         = 0x04
	TypeStatusChanged          = 0x05
	TypeConnectionClose        = 0x06
	TypeAnswerWithSecurity     = 0x81
	TypeStatusRequest          = 0x82
	TypeStatusInfo             = 0x83
	TypeCommand                = 0x87
	TypeUserInfo               = 0x8F
	TypeUserNameSet            = 0x90
)

// Command bytes carried inside a TypeCommand encrypted envelope's body.
const (
	CommandLock   = 0x00
	CommandUnlock = 0x01
	CommandOpen   = 0x02
)

// Message is implemented by every KEY-BLE wire message.
type Message interface {
	Type() byte
	Encode() []byte
}

// FragmentAck acknowledges receipt of one inbound fragment, identified by
// the status byte of the fragment being acked.
type FragmentAck struct {
	FragmentID byte
}

func (m FragmentAck) Type() byte   { return TypeFragmentAck }
func (m FragmentAck) Encode() []byte { return []byte{TypeFragmentAck, m.FragmentID} }

func decodeFragmentAck(data []byte) (FragmentAck, error) {
	if len(data) < 2 {
		return FragmentAck{}, keyerr.NewInvalidData("FragmentAck: need 2 bytes, got %d", len(data))
	}
	if data[0] != TypeFragmentAck {
		return FragmentAck{}, keyerr.NewInvalidData("FragmentAck: wrong type byte 0x%02X", data[0])
	}
	return FragmentAck{FragmentID: data[1]}, nil
}

// AnswerWithoutSecurity answers a plaintext request with a single status
// byte.
type AnswerWithoutSecurity struct {
	Answer byte
}

func (m AnswerWithoutSecurity) Type() byte     { return TypeAnswerWithoutSecurity }
func (m AnswerWithoutSecurity) Encode() []byte { return []byte{TypeAnswerWithoutSecurity, m.Answer} }

func decodeAnswerWithoutSecurity(data []byte) (AnswerWithoutSecurity, error) {
	if len(data) < 2 {
		return AnswerWithoutSecurity{}, keyerr.NewInvalidData("AnswerWithoutSecurity: need 2 bytes, got %d", len(data))
	}
	if data[0] != TypeAnswerWithoutSecurity {
		return AnswerWithoutSecurity{}, keyerr.NewInvalidData("AnswerWithoutSecurity: wrong type byte 0x%02X", data[0])
	}
	return AnswerWithoutSecurity{Answer: data[1]}, nil
}

// ConnectionRequest opens a session: our user id and our freshly-chosen
// local nonce.
type ConnectionRequest struct {
	UserID     byte
	LocalNonce uint64
}

func (m ConnectionRequest) Type() byte { return TypeConnectionRequest }
func (m ConnectionRequest) Encode() []byte {
	out := make([]byte, 0, 10)
	out = append(out, TypeConnectionRequest, m.UserID)
	out = binary.BigEndian.AppendUint64(out, m.LocalNonce)
	return out
}

func decodeConnectionRequest(data []byte) (ConnectionRequest, error) {
	if len(data) < 10 {
		return ConnectionRequest{}, keyerr.NewInvalidData("ConnectionRequest: need 10 bytes, got %d", len(data))
	}
	if data[0] != TypeConnectionRequest {
		return ConnectionRequest{}, keyerr.NewInvalidData("ConnectionRequest: wrong type byte 0x%02X", data[0])
	}
	return ConnectionRequest{
		UserID:     data[1],
		LocalNonce: binary.BigEndian.Uint64(data[2:10]),
	}, nil
}

// ConnectionInfo answers a ConnectionRequest with the lock's nonce and
// firmware version.
type ConnectionInfo struct {
	UserID      byte
	RemoteNonce uint64
	Bootloader  byte
	Application byte
}

func (m ConnectionInfo) Type() byte { return TypeConnectionInfo }
func (m ConnectionInfo) Encode() []byte {
	out := make([]byte, 0, 13)
	out = append(out, TypeConnectionInfo, m.UserID)
	out = binary.BigEndian.AppendUint64(out, m.RemoteNonce)
	out = append(out, 0x00, m.Bootloader, m.Application)
	return out
}

func decodeConnectionInfo(data []byte) (ConnectionInfo, error) {
	if len(data) < 13 {
		return ConnectionInfo{}, keyerr.NewInvalidData("ConnectionInfo: need 13 bytes, got %d", len(data))
	}
	if data[0] != TypeConnectionInfo {
		return ConnectionInfo{}, keyerr.NewInvalidData("ConnectionInfo: wrong type byte 0x%02X", data[0])
	}
	return ConnectionInfo{
		UserID:      data[1],
		RemoteNonce: binary.BigEndian.Uint64(data[2:10]),
		Bootloader:  data[11],
		Application: data[12],
	}, nil
}

// StatusChanged notifies that the lock's state changed asynchronously; it
// carries no body.
type StatusChanged struct{}

func (m StatusChanged) Type() byte     { return TypeStatusChanged }
func (m StatusChanged) Encode() []byte { return []byte{TypeStatusChanged} }

func decodeStatusChanged(data []byte) (StatusChanged, error) {
	if len(data) < 1 || data[0] != TypeStatusChanged {
		return StatusChanged{}, keyerr.NewInvalidData("StatusChanged: wrong type byte")
	}
	return StatusChanged{}, nil
}

// ConnectionClose tears the session down, sent by either side.
type ConnectionClose struct{}

func (m ConnectionClose) Type() byte     { return TypeConnectionClose }
func (m ConnectionClose) Encode() []byte { return []byte{TypeConnectionClose} }

func decodeConnectionClose(data []byte) (ConnectionClose, error) {
	if len(data) < 1 || data[0] != TypeConnectionClose {
		return ConnectionClose{}, keyerr.NewInvalidData("ConnectionClose: wrong type byte")
	}
	return ConnectionClose{}, nil
}

// PairingRequest registers a new user's key with the lock during the
// pairing ceremony. EncryptedUserKey is always exactly 22 bytes
// (zero-padded if the crypt_data output is shorter).
type PairingRequest struct {
	UserID           byte
	EncryptedUserKey [22]byte
	Counter          uint16
	Tag              [4]byte
}

func (m PairingRequest) Type() byte { return TypePairingRequest }
func (m PairingRequest) Encode() []byte {
	out := make([]byte, 0, 30)
	out = append(out, TypePairingRequest, m.UserID)
	out = append(out, m.EncryptedUserKey[:]...)
	out = binary.BigEndian.AppendUint16(out, m.Counter)
	out = append(out, m.Tag[:]...)
	return out
}

func decodePairingRequest(data []byte) (PairingRequest, error) {
	const wantLen = 1 + 1 + 22 + 2 + 4
	if len(data) < wantLen {
		return PairingRequest{}, keyerr.NewInvalidData("PairingRequest: need %d bytes, got %d", wantLen, len(data))
	}
	if data[0] != TypePairingRequest {
		return PairingRequest{}, keyerr.NewInvalidData("PairingRequest: wrong type byte 0x%02X", data[0])
	}
	var m PairingRequest
	m.UserID = data[1]
	copy(m.EncryptedUserKey[:], data[2:24])
	m.Counter = binary.BigEndian.Uint16(data[24:26])
	copy(m.Tag[:], data[26:30])
	return m, nil
}

// AnswerWithSecurity, StatusRequest, StatusInfo, Command, UserInfo and
// UserNameSet all carry an encrypted envelope (see crypto.EncryptMessage
// / crypto.DecryptMessage) as their entire body after the type byte.
// EncryptedEnvelope holds that envelope verbatim; session.go is
// responsible for decryption, since that requires session key material
// this package does not hold.
type EncryptedEnvelope struct {
	MsgType byte
	Body    []byte // cipher_body || counter:2 || tag:4
}

func (m EncryptedEnvelope) Type() byte { return m.MsgType }
func (m EncryptedEnvelope) Encode() []byte {
	out := make([]byte, 0, 1+len(m.Body))
	out = append(out, m.MsgType)
	out = append(out, m.Body...)
	return out
}

func decodeEncryptedEnvelope(expectedType byte, data []byte) (EncryptedEnvelope, error) {
	const minLen = 1 + 2 + 4 // type + counter + tag, empty cipher body
	if len(data) < minLen {
		return EncryptedEnvelope{}, keyerr.NewInvalidData("encrypted message 0x%02X: need at least %d bytes, got %d", expectedType, minLen, len(data))
	}
	if data[0] != expectedType {
		return EncryptedEnvelope{}, keyerr.NewInvalidData("encrypted message: wrong type byte 0x%02X, want 0x%02X", data[0], expectedType)
	}
	return EncryptedEnvelope{MsgType: expectedType, Body: data[1:]}, nil
}

// Dispatch decodes a reassembled message by its leading type byte.
func Dispatch(data []byte) (Message, error) {
	if len(data) < 1 {
		return nil, keyerr.NewInvalidData("empty message")
	}
	switch data[0] {
	case TypeFragmentAck:
		return decodeFragmentAck(data)
	case TypeAnswerWithoutSecurity:
		return decodeAnswerWithoutSecurity(data)
	case TypeConnectionRequest:
		return decodeConnectionRequest(data)
	case TypeConnectionInfo:
		return decodeConnectionInfo(data)
	case TypePairingRequest:
		return decodePairingRequest(data)
	case TypeStatusChanged:
		return decodeStatusChanged(data)
	case TypeConnectionClose:
		return decodeConnectionClose(data)
	case TypeAnswerWithSecurity, TypeStatusRequest, TypeStatusInfo, TypeCommand, TypeUserInfo, TypeUserNameSet:
		return decodeEncryptedEnvelope(data[0], data)
	default:
		return nil, keyerr.NewInvalidData("unknown message type byte 0x%02X", data[0])
	}
}
