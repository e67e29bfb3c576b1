package codec

import (
	"testing"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{
			name:     "empty data",
			data:     []byte{},
			expected: 0x00,
		},
		{
			name:     "tester present",
			data:     []byte{0x02, 0x3E, 0x00},
			expected: 0x40,
		},
		{
			name:     "wraps modulo 256",
			data:     []byte{0x81, 0x10, 0xF1, 0x3E},
			expected: 0xC0,
		},
		{
			name:     "all ones",
			data:     []byte{0xFF, 0xFF},
			expected: 0xFE,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Checksum(tt.data)
			if result != tt.expected {
				t.Errorf("Checksum(%v) = %02x, want %02x", tt.data, result, tt.expected)
			}
		})
	}
}

func TestValidateChecksum(t *testing.T) {
	data := []byte{0x81, 0x10, 0xF1, 0x81}
	checksum := Checksum(data)

	if !ValidateChecksum(data, checksum) {
		t.Error("ValidateChecksum should return true for correct checksum")
	}

	if ValidateChecksum(data, checksum+1) {
		t.Error("ValidateChecksum should return false for incorrect checksum")
	}
}
