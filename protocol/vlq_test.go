package protocol

import "testing"

func TestVLQIntRoundTrip(t *testing.T) {
	values := []int32{0, 1, -1, 63, -64, 1000, -1000, 1 << 20, -(1 << 20), 1 << 27, -(1 << 27)}

	for _, v := range values {
		buf := AppendVLQInt(nil, v)
		got, rest, err := DecodeVLQInt(buf)
		if err != nil {
			t.Fatalf("DecodeVLQInt(%d): unexpected error %v", v, err)
		}
		if got != v {
			t.Errorf("round-trip %d -> %v -> %d", v, buf, got)
		}
		if len(rest) != 0 {
			t.Errorf("round-trip %d left %d unconsumed bytes", v, len(rest))
		}
	}
}

func TestVLQUintRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 1 << 20}

	for _, v := range values {
		buf := AppendVLQUint(nil, v)
		got, _, err := DecodeVLQUint(buf)
		if err != nil {
			t.Fatalf("DecodeVLQUint(%d): unexpected error %v", v, err)
		}
		if got != v {
			t.Errorf("round-trip %d -> %d", v, got)
		}
	}
}

func TestDecodeVLQTruncated(t *testing.T) {
	if _, _, err := DecodeVLQInt(nil); err != ErrTruncatedVLQ {
		t.Errorf("expected ErrTruncatedVLQ, got %v", err)
	}
}
