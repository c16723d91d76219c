package encoding

import (
	"bytes"
	"testing"
)

func TestStatesRoundTrip(t *testing.T) {
	in := make([]byte, 0, 260)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 200; i++ {
		in = append(in, 0)
	}
	in = append(in, 3, 1, 1, 1)

	enc := EncodeStates(in)
	if len(enc) >= len(in) {
		t.Fatalf("no compression: %d >= %d", len(enc), len(in))
	}
	out, err := DecodeStates(enc)
	if err != nil {
		t.Fatalf("DecodeStates: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecodeStatesRejectsTruncated(t *testing.T) {
	enc := EncodeStates([]byte{1, 1, 2})
	if _, err := DecodeStates(enc[:1]); err == nil {
		t.Fatalf("expected error for truncated input")
	}
}
