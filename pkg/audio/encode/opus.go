// ABOUTME: Opus encoder with 20ms frame buffering
// ABOUTME: Wraps libopus; emits one Opus packet per wire frame

package encode

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/snapstream/snapstream-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

const (
	opusFrameMs      = 20
	opusMaxPacket    = 4000 // libopus packet size ceiling
	opusHeaderMagic  = "OPUS"
)

// opusEncoder buffers PCM into fixed 20ms frames and encodes each as one
// Opus packet. Input that does not fill a whole frame stays buffered
// until the next Encode or a Flush.
type opusEncoder struct {
	enc        *opus.Encoder
	format     audio.Format
	header     []byte
	frameBytes int
	buf        []byte
}

func newOpus(format audio.Format) (Encoder, error) {
	switch format.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("sample rate %d not supported by opus", format.SampleRate)
	}
	if format.Channels > 2 {
		return nil, fmt.Errorf("opus supports at most 2 channels, got %d", format.Channels)
	}

	enc, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}

	// 64 kbps per channel is transparent enough for music.
	if err := enc.SetBitrate(64000 * format.Channels); err != nil {
		return nil, fmt.Errorf("set opus bitrate: %w", err)
	}

	return &opusEncoder{
		enc:        enc,
		format:     format,
		header:     opusHeader(format),
		frameBytes: format.DurationToBytes(opusFrameMs * time.Millisecond),
	}, nil
}

func (e *opusEncoder) Header() []byte {
	return e.header
}

func (e *opusEncoder) Encode(pcm []byte) ([]Frame, error) {
	e.buf = append(e.buf, pcm...)

	var frames []Frame
	for len(e.buf) >= e.frameBytes {
		frame, err := e.encodeFrame(e.buf[:e.frameBytes])
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
		e.buf = e.buf[e.frameBytes:]
	}
	return frames, nil
}

func (e *opusEncoder) Flush() ([]Frame, error) {
	if len(e.buf) == 0 {
		return nil, nil
	}

	// Pad the remainder with silence up to a full frame.
	padded := make([]byte, e.frameBytes)
	copy(padded, e.buf)
	e.buf = e.buf[:0]

	frame, err := e.encodeFrame(padded)
	if err != nil {
		return nil, err
	}
	return []Frame{frame}, nil
}

func (e *opusEncoder) Close() error {
	return nil
}

func (e *opusEncoder) encodeFrame(pcm []byte) (Frame, error) {
	samples := e.format.Samples(pcm)
	in := make([]int16, len(samples))
	for i, s := range samples {
		if e.format.BitDepth == 24 {
			in[i] = int16(s >> 8)
		} else {
			in[i] = int16(s)
		}
	}

	out := make([]byte, opusMaxPacket)
	n, err := e.enc.Encode(in, out)
	if err != nil {
		return Frame{}, fmt.Errorf("opus encode: %w", err)
	}

	return Frame{
		Data:     out[:n],
		Duration: e.format.BytesToDuration(len(pcm)),
	}, nil
}

// opusHeader is the 12-byte codec header: magic, sample rate, bit depth,
// channel count.
func opusHeader(f audio.Format) []byte {
	h := make([]byte, 0, 12)
	h = append(h, opusHeaderMagic...)
	h = binary.LittleEndian.AppendUint32(h, uint32(f.SampleRate))
	h = binary.LittleEndian.AppendUint16(h, uint16(f.BitDepth))
	h = binary.LittleEndian.AppendUint16(h, uint16(f.Channels))
	return h
}
