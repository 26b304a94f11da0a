package util

import (
	"bytes"
	"testing"
)

func TestDecodeULEB128(t *testing.T) {
	var tests = []struct {
		data []byte
		want uint64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
	}

	for _, tt := range tests {
		got, _ := DecodeULEB128(bytes.NewBuffer(tt.data))
		if got != tt.want {
			t.Errorf("DecodeULEB128(% x) = %d, want %d", tt.data, got, tt.want)
		}
	}
}

func TestDecodeSLEB128(t *testing.T) {
	var tests = []struct {
		data []byte
		want int64
	}{
		{[]byte{0x02}, 2},
		{[]byte{0x7e}, -2},
		{[]byte{0x68}, -24},
		{[]byte{0xff, 0x00}, 127},
		{[]byte{0x80, 0x7f}, -128},
	}

	for _, tt := range tests {
		got, _ := DecodeSLEB128(bytes.NewBuffer(tt.data))
		if got != tt.want {
			t.Errorf("DecodeSLEB128(% x) = %d, want %d", tt.data, got, tt.want)
		}
	}
}
