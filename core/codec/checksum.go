package codec

// Checksum computes the KWP2000 checksum of the given data: the sum of all
// bytes modulo 256.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// ValidateChecksum verifies that the calculated checksum matches the received checksum.
func ValidateChecksum(data []byte, received byte) bool {
	return Checksum(data) == received
}
