package protocol

import "testing"

func TestCRC16Consistency(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}

	if CRC16(data) != CRC16(data) {
		t.Errorf("CRC16 not consistent across calls")
	}
}

func TestCRC16Different(t *testing.T) {
	data1 := []byte{0x01, 0x02, 0x03}
	data2 := []byte{0x01, 0x02, 0x04}

	if CRC16(data1) == CRC16(data2) {
		t.Errorf("CRC16 collision: both inputs produced the same checksum")
	}
}

func TestCRC16Empty(t *testing.T) {
	if got := CRC16(nil); got != 0xFFFF {
		t.Errorf("CRC16(nil) = %04X, want FFFF", got)
	}
}
