// Package crypto implements the KEY-BLE authenticated-encryption
// construction: AES-128-ECB used as a PRP building block for a
// CTR-like keystream and a CBC-MAC-style authentication tag, combined
// under a per-session nonce and a monotonic security counter.
//
// The construction is adapted from the NTAG424 secure-messaging layer
// this client's sibling NFC tooling uses (ECB as the single hardware
// primitive, derive a keystream, CBC-chain a MAC) but the KEY-BLE wire
// construction differs: a 13-byte nonce of
// [type_id | peer_nonce | 0x00 | 0x00 | counter] feeds both the
// keystream and the MAC, rather than a transaction identifier.
package crypto

import (
	"crypto/aes"
	"encoding/binary"
)

// aesECBEncrypt runs AES-128 on one 16-byte block: the first 16 bytes of
// blockIn if more are given, matching the reference construction where a
// few header blocks pad out past 16 bytes but only the first cipher
// block ever feeds the result.
func aesECBEncrypt(key, blockIn []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		// key is always validated to be 16 bytes by callers; a failure
		// here means a programming error, not a runtime condition.
		panic(err)
	}
	out := make([]byte, 16)
	block.Encrypt(out, blockIn[:16])
	return out
}

// Pad returns the smallest multiple-of-step-plus-minimum length that is
// >= len(data), zero-extending data to that length. It never truncates:
// if data is already longer than the computed target, data is returned
// unchanged.
func Pad(data []byte, step, minimum int) []byte {
	target := paddingLength(len(data), step, minimum)
	if len(data) >= target {
		return data
	}
	out := make([]byte, target)
	copy(out, data)
	return out
}

// paddingLength returns the smallest value >= length equal to
// minimum + k*step for a natural number k.
func paddingLength(length, step, minimum int) int {
	if length <= minimum {
		return minimum
	}
	k := (length - minimum + step - 1) / step
	return minimum + k*step
}

// ComputeNonce builds the 13-byte crypto nonce:
// [message_type_id | session_open_nonce:u64be | 0x00 | 0x00 | counter:u16be].
// session_open_nonce is the *peer's* nonce: the remote side's nonce when
// encrypting outbound, our own local nonce when verifying inbound.
func ComputeNonce(messageTypeID byte, sessionOpenNonce uint64, counter uint16) []byte {
	nonce := make([]byte, 13)
	nonce[0] = messageTypeID
	binary.BigEndian.PutUint64(nonce[1:9], sessionOpenNonce)
	nonce[9] = 0
	nonce[10] = 0
	binary.BigEndian.PutUint16(nonce[11:13], counter)
	return nonce
}

// XorArray xors data with xorData, wrapping xorData at offset via modulo
// indexing so a short xorData can stretch over a longer data.
func XorArray(data, xorData []byte, offset int) []byte {
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ xorData[(offset+i)%len(xorData)]
	}
	return out
}

// CryptData is the CTR-like body cipher. It is its own inverse: calling
// it again on the output with the same parameters recovers the input.
//
// For each 16-byte block of output (block index i = 1..ceil(len/16)), the
// keystream block is AES-ECB(key, [0x01 || nonce || i:u16be] padded to 16).
func CryptData(messageData []byte, messageTypeID byte, sessionOpenNonce uint64, counter uint16, key []byte) []byte {
	nonce := ComputeNonce(messageTypeID, sessionOpenNonce, counter)
	blocks := paddingLength(len(messageData), 16, 0) / 16

	keystream := make([]byte, 0, blocks*16)
	for index := 1; index <= blocks; index++ {
		in := make([]byte, 0, 16)
		in = append(in, 0x01)
		in = append(in, nonce...)
		in = binary.BigEndian.AppendUint16(in, uint16(index))
		in = Pad(in, 16, 0)
		keystream = append(keystream, aesECBEncrypt(key, in)...)
	}
	return XorArray(messageData, keystream, 0)
}

// ComputeAuthenticationValue is the CBC-MAC-style authentication tag over
// zero-padded message data. length is the *unpadded* length of
// messageData and goes into the header block; the CBC iteration runs
// over the 16-byte-zero-padded body. This asymmetry is deliberate: the
// MAC covers the declared length, the cipher chaining covers whole
// blocks.
func ComputeAuthenticationValue(messageData []byte, messageTypeID byte, sessionNonce uint64, counter uint16, userKey []byte) []byte {
	nonce := ComputeNonce(messageTypeID, sessionNonce, counter)
	length := len(messageData)
	paddedLength := paddingLength(length, 16, 0)
	paddedData := Pad(messageData, 16, 0)

	header := make([]byte, 0, 16)
	header = append(header, 0x09)
	header = append(header, nonce...)
	header = binary.BigEndian.AppendUint16(header, uint16(length))
	x := aesECBEncrypt(userKey, header)

	for i := 0; i < paddedLength; i += 16 {
		x = aesECBEncrypt(userKey, XorArray(x, paddedData, i))
	}

	keystreamHeader := make([]byte, 0, 16)
	keystreamHeader = append(keystreamHeader, 0x01)
	keystreamHeader = append(keystreamHeader, nonce...)
	keystreamHeader = append(keystreamHeader, 0x00, 0x00)
	keystreamHeader = binary.BigEndian.AppendUint16(keystreamHeader, uint16(paddedLength))
	keystreamHeader = Pad(keystreamHeader, 16, 0)
	s := aesECBEncrypt(userKey, keystreamHeader)

	return XorArray(x[:4], s, 0)
}
