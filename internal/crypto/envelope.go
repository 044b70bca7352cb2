package crypto

import "encoding/binary"

// EncryptMessage builds the on-wire encrypted envelope for a message whose
// first byte is typeID and whose remaining bytes are body (the plaintext
// excluding the type byte). The wire form is:
//
//	[type_id:1][cipher_body][counter:2 be][tag:4]
func EncryptMessage(typeID byte, body []byte, peerNonce uint64, counter uint16, key []byte) []byte {
	bodyPadded := Pad(body, 15, 8)
	cipherBody := CryptData(bodyPadded, typeID, peerNonce, counter, key)
	tag := ComputeAuthenticationValue(bodyPadded, typeID, peerNonce, counter, key)

	out := make([]byte, 0, 1+len(cipherBody)+2+4)
	out = append(out, typeID)
	out = append(out, cipherBody...)
	out = binary.BigEndian.AppendUint16(out, counter)
	out = append(out, tag...)
	return out
}

// DecryptMessage verifies and decrypts an encrypted envelope as produced by
// EncryptMessage. peerNonce is our own local nonce when verifying an
// inbound message (the peer's nonce was used to encrypt it from their
// side, the counter was chosen by them). remoteSecurityCounter is the
// last-accepted counter for this direction; the envelope is rejected if
// its counter does not strictly exceed it.
//
// Returns the decrypted, unpadded-to-wire-length body (the 15/8 padding
// applied before encryption is NOT stripped here — callers that know the
// true body length trim it themselves, since the pad length is not
// self-describing on the wire).
func DecryptMessage(envelope []byte, peerNonce uint64, remoteSecurityCounter uint16, key []byte) (typeID byte, body []byte, counter uint16, err error) {
	if len(envelope) < 1+2+4 {
		return 0, nil, 0, errShortEnvelope
	}
	typeID = envelope[0]
	tail := len(envelope)
	tagStart := tail - 4
	counterStart := tagStart - 2
	cipherBody := envelope[1:counterStart]
	counter = binary.BigEndian.Uint16(envelope[counterStart:tagStart])
	tag := envelope[tagStart:]

	if counter <= remoteSecurityCounter {
		return typeID, nil, counter, errStaleCounter
	}

	plainBody := CryptData(cipherBody, typeID, peerNonce, counter, key)
	expectedTag := ComputeAuthenticationValue(plainBody, typeID, peerNonce, counter, key)
	if !constantTimeEqual(tag, expectedTag) {
		return typeID, nil, counter, errTagMismatch
	}
	return typeID, plainBody, counter, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

type envelopeError string

func (e envelopeError) Error() string { return string(e) }

const (
	errShortEnvelope envelopeError = "encrypted envelope shorter than the fixed counter+tag trailer"
	errStaleCounter   envelopeError = "security counter is not greater than the last accepted value"
	errTagMismatch    envelopeError = "authentication tag mismatch"
)
