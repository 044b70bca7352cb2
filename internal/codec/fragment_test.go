package codec

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestEncodeFragmentSingleFragment(t *testing.T) {
	message := mustHex(t, "0301310ce17b261f821700101700")
	fragments, err := EncodeFragment(message)
	if err != nil {
		t.Fatalf("EncodeFragment: %v", err)
	}
	if len(fragments) != 1 {
		t.Fatalf("got %d fragments, want 1", len(fragments))
	}
	if len(fragments[0]) != FragmentSize {
		t.Fatalf("fragment length = %d, want %d", len(fragments[0]), FragmentSize)
	}
	if fragments[0][0]&0x80 == 0 {
		t.Fatal("single fragment must have the start bit set")
	}
	if fragments[0][0]&0x7F != 0 {
		t.Fatal("single fragment must have a zero remaining-count")
	}
}

func TestEncodeFragmentMatchesReferenceVectors(t *testing.T) {
	wantFragments := [][]byte{
		mustHex(t, "818f4d24bc21179af3dc74e0984c36b4"),
		mustHex(t, "00ce544580d09412264100030eedbc6b"),
	}
	message := append(append([]byte{}, wantFragments[0][1:]...), wantFragments[1][1:]...)

	got, err := EncodeFragment(message)
	if err != nil {
		t.Fatalf("EncodeFragment: %v", err)
	}
	if len(got) != len(wantFragments) {
		t.Fatalf("got %d fragments, want %d", len(got), len(wantFragments))
	}
	for i := range wantFragments {
		if !bytes.Equal(got[i], wantFragments[i]) {
			t.Fatalf("fragment %d = % X, want % X", i, got[i], wantFragments[i])
		}
	}
}

func TestDecodeFragmentTwoFragments(t *testing.T) {
	pdus := [][]byte{
		mustHex(t, "818f4d24bc21179af3dc74e0984c36b4"),
		mustHex(t, "00ce544580d09412264100030eedbc6b"),
	}
	want := append(append([]byte{}, pdus[0][1:]...), pdus[1][1:]...)

	messages, undecoded, err := DecodeFragment(pdus)
	if err != nil {
		t.Fatalf("DecodeFragment: %v", err)
	}
	if len(undecoded) != 0 {
		t.Fatalf("expected no undecoded pdus, got %d", len(undecoded))
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 complete message, got %d", len(messages))
	}
	if !bytes.Equal(messages[0], want) {
		t.Fatalf("message = % X, want % X", messages[0], want)
	}
}

func TestFragmentRoundTrip(t *testing.T) {
	sizes := []int{1, 2, 15, 16, 30, 31, 15 * 0x7F}
	for _, size := range sizes {
		message := make([]byte, size)
		for i := range message {
			message[i] = byte(i)
		}
		fragments, err := EncodeFragment(message)
		if err != nil {
			t.Fatalf("size %d: EncodeFragment: %v", size, err)
		}
		for i, f := range fragments {
			if len(f) != FragmentSize {
				t.Fatalf("size %d: fragment %d length = %d, want %d", size, i, len(f), FragmentSize)
			}
			isStart := f[0]&0x80 != 0
			if i == 0 && !isStart {
				t.Fatalf("size %d: first fragment missing start bit", size)
			}
			if i != 0 && isStart {
				t.Fatalf("size %d: fragment %d unexpectedly has start bit", size, i)
			}
		}
		last := fragments[len(fragments)-1]
		if last[0]&0x7F != 0 {
			t.Fatalf("size %d: last fragment sequence counter = %d, want 0", size, last[0]&0x7F)
		}

		messages, undecoded, err := DecodeFragment(fragments)
		if err != nil {
			t.Fatalf("size %d: DecodeFragment: %v", size, err)
		}
		if len(undecoded) != 0 {
			t.Fatalf("size %d: expected no undecoded pdus", size)
		}
		if len(messages) != 1 {
			t.Fatalf("size %d: expected 1 message, got %d", size, len(messages))
		}
		// the reassembled message is zero-padded to a 15-byte boundary.
		got := messages[0][:size]
		if !bytes.Equal(got, message) {
			t.Fatalf("size %d: round trip mismatch", size)
		}
	}
}

func TestEncodeFragmentRejectsOversizeMessage(t *testing.T) {
	message := make([]byte, 15*0x7F+1)
	if _, err := EncodeFragment(message); err == nil {
		t.Fatal("expected error for oversize message")
	}
}

func TestDecodeFragmentRejectsNonStartIntoEmptyBuffer(t *testing.T) {
	pdu := make([]byte, FragmentSize) // status byte 0x00: not a start fragment
	if _, _, err := DecodeFragment([][]byte{pdu}); err == nil {
		t.Fatal("expected protocol error for non-start fragment into empty buffer")
	}
}

func TestDecodeFragmentRejectsStartMidReassembly(t *testing.T) {
	pdus := [][]byte{
		append([]byte{0x81}, make([]byte, 15)...), // start, 1 remaining
		append([]byte{0x80}, make([]byte, 15)...), // another start before prior finished
	}
	if _, _, err := DecodeFragment(pdus); err == nil {
		t.Fatal("expected protocol error for start fragment mid-reassembly")
	}
}
