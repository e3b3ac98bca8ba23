// Package audio handles PCM encoding, WAV muxing, sample-rate
// conversion, and output-format conversion for the speech endpoints.
//
// The wire unit throughout the server is signed 16-bit little-endian
// mono PCM; executors produce it, the pipeline carries it, and the
// muxers wrap it.
package audio

import (
	"encoding/binary"
	"math"
)

// EncodePCM16 converts float32 samples to little-endian 16-bit signed
// PCM bytes. Samples are clamped to [-1, 1].
func EncodePCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		clamped := math.Max(-1.0, math.Min(1.0, float64(s)))
		v := int16(clamped * 32767)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// DecodePCM16 converts little-endian 16-bit signed PCM bytes to
// float32 samples in [-1, 1]. A trailing odd byte is dropped.
func DecodePCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples
}
