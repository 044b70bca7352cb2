// Package codec implements the KEY-BLE wire format: splitting an
// application message into fixed-size 16-byte BLE fragments and
// reassembling them, plus the typed encode/decode for every message on
// the wire.
package codec

import "github.com/lynxis/keyblepy/internal/keyerr"

// FragmentSize is the fixed size of one BLE notification frame: one
// status byte plus 15 payload bytes.
const FragmentSize = 16

// payloadSize is the number of application-message bytes one fragment
// carries.
const payloadSize = 15

// maxFragments is the largest fragment count the 7-bit sequence field can
// express (0x7F), giving a largest single message of maxFragments*15
// bytes.
const maxFragments = 0x7F

// EncodeFragment splits message into fixed-size fragments. Fragment i
// carries message[15*i : 15*(i+1)], a status byte with the high bit set
// only on the first fragment and the low 7 bits holding the number of
// fragments remaining *after* this one (so the final fragment's status
// has a zero low-7 field), zero-padded to 16 bytes.
func EncodeFragment(message []byte) ([][]byte, error) {
	count := len(message) / payloadSize
	if len(message)%payloadSize != 0 {
		count++
	}
	if count == 0 {
		count = 1
	}
	if count > maxFragments {
		return nil, keyerr.NewInvalidData("message too big to fragment: %d bytes needs %d fragments (max %d)", len(message), count, maxFragments)
	}

	fragments := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		status := byte((count - 1 - i) & 0x7F)
		if i == 0 {
			status |= 0x80
		}

		pdu := make([]byte, FragmentSize)
		pdu[0] = status
		start := i * payloadSize
		end := start + payloadSize
		if end > len(message) {
			end = len(message)
		}
		copy(pdu[1:], message[start:end])
		fragments = append(fragments, pdu)
	}
	return fragments, nil
}

// Reassembler accumulates fragments of one in-progress message. The
// zero value is ready to use.
type Reassembler struct {
	payload   []byte
	remaining int
	active    bool
}

// Feed adds one fragment to the reassembly. It returns the complete
// message once the final fragment arrives, or nil while assembly is
// still in progress. An out-of-sequence or misplaced start fragment is a
// protocol-layer error reported via keyerr.ProtocolError.
func (r *Reassembler) Feed(fragment []byte) ([]byte, error) {
	if len(fragment) < 1 {
		return nil, keyerr.NewInvalidData("empty fragment")
	}
	status := fragment[0]
	isStart := status&0x80 != 0
	seq := status & 0x7F

	if isStart {
		if r.active {
			return nil, keyerr.NewProtocol("start fragment received while a reassembly is already in progress")
		}
		r.active = true
		r.remaining = int(seq)
		r.payload = append([]byte{}, fragment[1:]...)
	} else {
		if !r.active {
			return nil, keyerr.NewProtocol("non-start fragment received with no reassembly in progress")
		}
		if int(seq) != r.remaining-1 {
			r.active = false
			r.payload = nil
			return nil, keyerr.NewProtocol("fragment received out of sequence")
		}
		r.remaining--
		r.payload = append(r.payload, fragment[1:]...)
	}

	if r.remaining == 0 {
		complete := r.payload
		r.active = false
		r.payload = nil
		return complete, nil
	}
	return nil, nil
}

// DecodeFragment reassembles a sequence of fragments into complete
// messages, mirroring the reference implementation's behavior: pdus are
// fed in order; any pdus belonging to a still-incomplete message are
// returned as the second value ("undecoded").
func DecodeFragment(pdus [][]byte) ([][]byte, [][]byte, error) {
	var messages [][]byte
	var undecoded [][]byte
	r := &Reassembler{}

	for _, pdu := range pdus {
		undecoded = append(undecoded, pdu)
		complete, err := r.Feed(pdu)
		if err != nil {
			return messages, undecoded, err
		}
		if complete != nil {
			messages = append(messages, complete)
			undecoded = nil
		}
	}
	return messages, undecoded, nil
}
