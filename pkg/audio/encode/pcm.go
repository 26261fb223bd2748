// ABOUTME: PCM passthrough encoder
// ABOUTME: Emits raw PCM frames with a RIFF/WAVE codec header

package encode

import (
	"encoding/binary"

	"github.com/snapstream/snapstream-go/pkg/audio"
)

// pcmEncoder passes PCM through unchanged. The codec header is a standard
// 44-byte RIFF/WAVE header describing the format, with stream-length
// fields pinned to the maximum since the stream is unbounded.
type pcmEncoder struct {
	format audio.Format
	header []byte
}

func newPCM(format audio.Format) (Encoder, error) {
	return &pcmEncoder{
		format: format,
		header: wavHeader(format),
	}, nil
}

func (e *pcmEncoder) Header() []byte {
	return e.header
}

func (e *pcmEncoder) Encode(pcm []byte) ([]Frame, error) {
	if len(pcm) == 0 {
		return nil, nil
	}
	return []Frame{{
		Data:     append([]byte(nil), pcm...),
		Duration: e.format.BytesToDuration(len(pcm)),
	}}, nil
}

func (e *pcmEncoder) Flush() ([]Frame, error) {
	// Nothing is ever buffered.
	return nil, nil
}

func (e *pcmEncoder) Close() error {
	return nil
}

// wavHeader builds a 44-byte RIFF/WAVE header for a live PCM stream.
func wavHeader(f audio.Format) []byte {
	const streamSize = 0xFFFFFFFF

	h := make([]byte, 0, 44)
	h = append(h, "RIFF"...)
	h = binary.LittleEndian.AppendUint32(h, streamSize)
	h = append(h, "WAVE"...)

	h = append(h, "fmt "...)
	h = binary.LittleEndian.AppendUint32(h, 16)
	h = binary.LittleEndian.AppendUint16(h, 1) // PCM
	h = binary.LittleEndian.AppendUint16(h, uint16(f.Channels))
	h = binary.LittleEndian.AppendUint32(h, uint32(f.SampleRate))
	h = binary.LittleEndian.AppendUint32(h, uint32(f.ByteRate()))
	h = binary.LittleEndian.AppendUint16(h, uint16(f.FrameSize()))
	h = binary.LittleEndian.AppendUint16(h, uint16(f.BitDepth))

	h = append(h, "data"...)
	h = binary.LittleEndian.AppendUint32(h, streamSize)
	return h
}
