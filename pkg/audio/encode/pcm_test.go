// ABOUTME: Unit tests for the PCM passthrough encoder
// ABOUTME: Tests WAV header layout, passthrough framing, and the factory

package encode

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/snapstream/snapstream-go/pkg/audio"
)

func TestNewUnknownCodec(t *testing.T) {
	_, err := New("mp3", audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err == nil {
		t.Error("New() expected error for unknown codec")
	}
}

func TestNewInvalidFormat(t *testing.T) {
	_, err := New("pcm", audio.Format{SampleRate: 0, Channels: 2, BitDepth: 16})
	if err == nil {
		t.Error("New() expected error for invalid format")
	}
}

func TestPCMHeader(t *testing.T) {
	format := audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}
	enc, err := New("pcm", format)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer enc.Close()

	h := enc.Header()
	if len(h) != 44 {
		t.Fatalf("Header() len = %d, want 44", len(h))
	}
	if !bytes.Equal(h[0:4], []byte("RIFF")) {
		t.Errorf("missing RIFF magic: %q", h[0:4])
	}
	if !bytes.Equal(h[8:12], []byte("WAVE")) {
		t.Errorf("missing WAVE magic: %q", h[8:12])
	}
	if got := binary.LittleEndian.Uint16(h[22:24]); got != 2 {
		t.Errorf("channels = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint32(h[24:28]); got != 48000 {
		t.Errorf("sample rate = %d, want 48000", got)
	}
	if got := binary.LittleEndian.Uint32(h[28:32]); got != 192000 {
		t.Errorf("byte rate = %d, want 192000", got)
	}
	if got := binary.LittleEndian.Uint16(h[34:36]); got != 16 {
		t.Errorf("bit depth = %d, want 16", got)
	}
}

func TestPCMEncodePassthrough(t *testing.T) {
	format := audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}
	enc, err := New("pcm", format)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer enc.Close()

	// 20ms of audio at 48kHz stereo 16-bit
	pcm := make([]byte, 3840)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	frames, err := enc.Encode(pcm)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("Encode() returned %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Data, pcm) {
		t.Error("Encode() did not pass PCM through unchanged")
	}
	if frames[0].Duration != 20*time.Millisecond {
		t.Errorf("Duration = %v, want 20ms", frames[0].Duration)
	}

	// The returned frame must not alias the caller's buffer.
	pcm[0] ^= 0xFF
	if frames[0].Data[0] == pcm[0] {
		t.Error("Encode() aliases the input buffer")
	}
}

func TestPCMEncodeEmpty(t *testing.T) {
	enc, err := New("pcm", audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer enc.Close()

	frames, err := enc.Encode(nil)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("Encode(nil) returned %d frames, want 0", len(frames))
	}
}

func TestPCMFlushEmpty(t *testing.T) {
	enc, err := New("pcm", audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer enc.Close()

	frames, err := enc.Flush()
	if err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("Flush() returned %d frames, want 0", len(frames))
	}
}
