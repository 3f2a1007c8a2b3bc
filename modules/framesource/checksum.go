package framesource

// Checksum returns the byte sum of the pixel and telemetry buffers as the
// sensor interface computes it: each 16-bit word contributes its low and high
// byte.
func Checksum(pixels, telemetry []uint16) uint32 {
	var sum uint32
	for _, w := range pixels {
		sum += uint32(w&0xFF) + uint32(w>>8)
	}
	for _, w := range telemetry {
		sum += uint32(w&0xFF) + uint32(w>>8)
	}
	return sum
}
