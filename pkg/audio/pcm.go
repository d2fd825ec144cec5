// Package audio provides the PCM primitives behind Echo's sound output and
// capture: WAV encoding, energy measurement, programmatic alert tones, a
// priority-scheduled playback queue, and a VAD-gated microphone.
//
// All PCM in this package is signed 16-bit little-endian mono.
package audio

import (
	"encoding/binary"
	"math"
)

// EncodeWAV wraps raw PCM16 samples in a standard 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	dataLen := len(pcm)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 0, 44+dataLen)

	// RIFF chunk.
	buf = append(buf, 'R', 'I', 'F', 'F')
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+dataLen))
	buf = append(buf, 'W', 'A', 'V', 'E')

	// fmt sub-chunk (PCM).
	buf = append(buf, 'f', 'm', 't', ' ')
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(channels))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(byteRate))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(blockAlign))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(bitsPerSample))

	// data sub-chunk.
	buf = append(buf, 'd', 'a', 't', 'a')
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dataLen))
	buf = append(buf, pcm...)

	return buf
}

// RMS computes the root-mean-square energy of PCM16 samples, normalized to
// [0, 1]. An empty or odd-length buffer yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n*2; i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// pcm16FromFloat converts float32 samples in [-1, 1] to little-endian int16
// bytes, scaling by 32767 and clamping out-of-range values.
func pcm16FromFloat(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}
