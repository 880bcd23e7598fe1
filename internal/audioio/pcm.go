// Package audioio handles the canonical audio format used on the wire:
// 16-bit signed little-endian PCM, 16 kHz, single channel.
package audioio

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/typelesshq/typeless-core/internal/fault"
)

// SampleRate is the canonical rate every buffer is normalized to.
const SampleRate = 16000

// BytesPerSample for 16-bit PCM.
const BytesPerSample = 2

// Frame is an immutable block of mono 16-bit PCM samples. Concatenation
// produces a new frame; callers must not mutate the sample slice.
type Frame struct {
	samples []int16
}

// FrameFromBytes validates that b holds a whole number of 16-bit samples and
// decodes it into a Frame.
func FrameFromBytes(b []byte) (Frame, error) {
	if len(b)%BytesPerSample != 0 {
		return Frame{}, fault.New(fault.InvalidInput, "pcm payload is %d bytes, not a whole number of 16-bit samples", len(b))
	}
	samples := make([]int16, len(b)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:]))
	}
	return Frame{samples: samples}, nil
}

// FrameFromSamples wraps a sample slice. The caller yields ownership.
func FrameFromSamples(samples []int16) Frame {
	return Frame{samples: samples}
}

// Samples exposes the underlying samples for read-only use.
func (f Frame) Samples() []int16 { return f.samples }

// Len returns the frame length in samples.
func (f Frame) Len() int { return len(f.samples) }

// Duration of the frame at the canonical rate.
func (f Frame) Duration() time.Duration {
	return time.Duration(len(f.samples)) * time.Second / SampleRate
}

// Bytes re-encodes the frame as little-endian PCM.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.samples)*BytesPerSample)
	for i, s := range f.samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// Concat joins frames into a single new frame in order.
func Concat(frames []Frame) Frame {
	total := 0
	for _, f := range frames {
		total += len(f.samples)
	}
	joined := make([]int16, 0, total)
	for _, f := range frames {
		joined = append(joined, f.samples...)
	}
	return Frame{samples: joined}
}

// ToFloat32 converts 16-bit samples into the ±1.0 range.
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// FromFloat32 converts ±1.0 samples back to 16-bit, clipping out-of-range
// values.
func FromFloat32(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// RMS computes the root mean square of a sample window in full-scale units
// (0.0 silence to 1.0 max).
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// MixMono averages interleaved channels down to one.
func MixMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// Resample converts samples from srcRate to dstRate by linear interpolation.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen == 0 {
		outLen = 1
	}
	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}
