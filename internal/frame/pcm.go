package frame

import (
	"encoding/binary"
	"math"
)

// PCM16 converts one float sample in [-1.0, 1.0] to a 16-bit signed linear
// PCM sample, scaled to the full int16 range and clamped so that 1.0 maps to
// 32767 and -1.0 maps to -32768. The conversion is exact and deterministic
// for identical input.
func PCM16(s float32) int16 {
	v := math.Round(float64(s) * 32768)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// EncodePCM16 converts a window of float samples to little-endian 16-bit
// signed PCM bytes.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(PCM16(s)))
	}
	return out
}

// DecodePCM16 converts little-endian 16-bit signed PCM bytes back to int16
// samples. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}
