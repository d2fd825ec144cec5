package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 320)
	wav := EncodeWAV(pcm, 16000, 1, 16)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad RIFF/WAVE magic: %q %q", wav[0:4], wav[8:12])
	}
	if got := binary.LittleEndian.Uint32(wav[4:]); got != uint32(36+len(pcm)) {
		t.Errorf("riff size = %d, want %d", got, 36+len(pcm))
	}
	if got := binary.LittleEndian.Uint16(wav[22:]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:]); got != 16 {
		t.Errorf("bits per sample = %d, want 16", got)
	}
	if string(wav[36:40]) != "data" {
		t.Errorf("data magic = %q", wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[40:]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS(make([]byte, 64)); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}

	// A full-scale square wave has RMS ~1.
	loud := make([]byte, 64)
	for i := 0; i < len(loud); i += 2 {
		binary.LittleEndian.PutUint16(loud[i:], uint16(int16(32767)))
	}
	if got := RMS(loud); math.Abs(got-1.0) > 0.001 {
		t.Errorf("RMS(full-scale) = %v, want ~1", got)
	}

	// A half-scale sine has RMS ~0.5/sqrt(2).
	sine := make([]byte, 2*1600)
	for i := range 1600 {
		v := 0.5 * math.Sin(2*math.Pi*440*float64(i)/16000)
		binary.LittleEndian.PutUint16(sine[i*2:], uint16(int16(v*32767)))
	}
	want := 0.5 / math.Sqrt2
	if got := RMS(sine); math.Abs(got-want) > 0.01 {
		t.Errorf("RMS(half sine) = %v, want ~%v", got, want)
	}
}

func TestPCM16FromFloatClamps(t *testing.T) {
	t.Parallel()

	out := pcm16FromFloat([]float32{0, 1, -1, 2, -2})
	want := []int16{0, 32767, -32767, 32767, -32767}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(out[i*2:]))
		if got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}
