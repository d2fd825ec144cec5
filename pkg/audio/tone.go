package audio

import (
	"math"
	"time"
)

// toneFade is the linear fade-in/fade-out applied to every non-silent
// segment to prevent clicks at segment boundaries.
const toneFade = 5 * time.Millisecond

// ToneSegment is one piece of an alert tone: a sine at Freq hertz for the
// given duration. Freq == 0 means silence.
type ToneSegment struct {
	Freq    float64
	Seconds float64
}

// toneVariants maps a block reason to its alert tone shape. The empty key is
// the default variant, also used for unknown reasons.
var toneVariants = map[string][]ToneSegment{
	"permission_prompt": {
		{880, 0.12}, {0, 0.04}, {1320, 0.12}, {0, 0.04},
		{880, 0.12}, {0, 0.04}, {1320, 0.12},
	},
	"question":    {{660, 0.15}, {0, 0.05}, {880, 0.15}},
	"idle_prompt": {{440, 0.20}, {0, 0.05}, {550, 0.15}},
	"":            {{880, 0.15}, {0, 0.05}, {1320, 0.15}},
}

// ToneForReason renders the alert tone for a block reason as PCM16 at the
// given sample rate. Unknown reasons render the default variant. The output
// is deterministic for a given (reason, sampleRate) pair.
func ToneForReason(reason string, sampleRate int) []byte {
	segments, ok := toneVariants[reason]
	if !ok {
		segments = toneVariants[""]
	}
	return RenderTone(segments, sampleRate)
}

// RenderTone synthesizes a segment sequence into PCM16 bytes.
func RenderTone(segments []ToneSegment, sampleRate int) []byte {
	var samples []float32
	fade := int(float64(sampleRate) * toneFade.Seconds())

	for _, seg := range segments {
		n := int(float64(sampleRate) * seg.Seconds)
		if seg.Freq == 0 {
			samples = append(samples, make([]float32, n)...)
			continue
		}
		step := 2 * math.Pi * seg.Freq / float64(sampleRate)
		for i := range n {
			v := math.Sin(step * float64(i))
			gain := 1.0
			if fade > 0 {
				if i < fade {
					gain = float64(i) / float64(fade)
				}
				if tail := n - 1 - i; tail < fade {
					if g := float64(tail) / float64(fade); g < gain {
						gain = g
					}
				}
			}
			samples = append(samples, float32(v*gain))
		}
	}
	return pcm16FromFloat(samples)
}
