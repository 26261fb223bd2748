// ABOUTME: Audio format type and PCM sample helpers
// ABOUTME: Byte-rate math and int16/24-bit sample conversions

package audio

import (
	"fmt"
	"time"
)

// Format describes a raw PCM stream: interleaved channels, little-endian
// samples of BitDepth bits.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Validate checks that the format is one the pipeline can carry.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 8 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	if f.BitDepth != 16 && f.BitDepth != 24 {
		return fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", f.BitDepth)
	}
	return nil
}

// FrameSize returns the size in bytes of one sample frame (all channels).
func (f Format) FrameSize() int {
	return f.Channels * f.BitDepth / 8
}

// ByteRate returns the number of PCM bytes per second of playback.
func (f Format) ByteRate() int {
	return f.SampleRate * f.FrameSize()
}

// BytesToDuration returns the nominal playback duration of n PCM bytes.
func (f Format) BytesToDuration(n int) time.Duration {
	rate := f.ByteRate()
	if rate == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// DurationToBytes returns the number of PCM bytes covering d, rounded
// down to a whole sample frame.
func (f Format) DurationToBytes(d time.Duration) int {
	n := int(int64(f.ByteRate()) * int64(d) / int64(time.Second))
	fs := f.FrameSize()
	if fs == 0 {
		return 0
	}
	return n - n%fs
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch", f.SampleRate, f.BitDepth, f.Channels)
}

// Samples decodes interleaved little-endian PCM bytes into int32 samples.
// The trailing remainder of a partial sample, if any, is ignored.
func (f Format) Samples(data []byte) []int32 {
	switch f.BitDepth {
	case 24:
		n := len(data) / 3
		out := make([]int32, n)
		for i := 0; i < n; i++ {
			out[i] = SampleFrom24Bit([3]byte{data[i*3], data[i*3+1], data[i*3+2]})
		}
		return out
	default: // 16
		n := len(data) / 2
		out := make([]int32, n)
		for i := 0; i < n; i++ {
			out[i] = int32(int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8))
		}
		return out
	}
}

// SampleFrom24Bit converts 24-bit packed little-endian bytes to a
// sign-extended int32.
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	if val&0x800000 != 0 {
		val |= ^int32(0xFFFFFF)
	}
	return val
}

// SampleTo24Bit converts an int32 sample to 24-bit packed little-endian
// bytes.
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}
