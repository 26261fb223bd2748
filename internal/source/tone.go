// ABOUTME: Sine wave generator source
// ABOUTME: Produces a continuous test tone in the stream format

package source

import (
	"math"

	"github.com/snapstream/snapstream-go/pkg/audio"
)

// Tone generates a continuous sine wave. The phase carries across Read
// calls so consecutive chunks join without clicks.
type Tone struct {
	format      audio.Format
	frequency   float64
	sampleIndex uint64
}

// NewTone creates a tone source at the given pitch.
func NewTone(format audio.Format, frequency float64) *Tone {
	return &Tone{
		format:    format,
		frequency: frequency,
	}
}

func (t *Tone) Read(p []byte) (int, error) {
	bytesPerSample := t.format.BitDepth / 8
	frameSize := t.format.FrameSize()
	frames := len(p) / frameSize

	for i := 0; i < frames; i++ {
		at := float64(t.sampleIndex+uint64(i)) / float64(t.format.SampleRate)
		// 50% volume keeps headroom for downstream encoders.
		v := math.Sin(2*math.Pi*t.frequency*at) * 0.5

		var sample int32
		switch t.format.BitDepth {
		case 16:
			sample = int32(v * 32767)
		case 24:
			sample = int32(v * 8388607)
		}

		for ch := 0; ch < t.format.Channels; ch++ {
			off := i*frameSize + ch*bytesPerSample
			p[off] = byte(sample)
			p[off+1] = byte(sample >> 8)
			if bytesPerSample == 3 {
				p[off+2] = byte(sample >> 16)
			}
		}
	}

	t.sampleIndex += uint64(frames)
	return frames * frameSize, nil
}

func (t *Tone) Format() audio.Format {
	return t.format
}

func (t *Tone) Metadata() (string, string) {
	return "Test Tone", "Snapstream"
}

func (t *Tone) Close() error {
	return nil
}
