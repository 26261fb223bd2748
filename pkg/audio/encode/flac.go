// ABOUTME: FLAC encoder with block buffering
// ABOUTME: Emits verbatim-predicted FLAC frames via mewkiz/flac

package encode

import (
	"bytes"
	"fmt"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
	"github.com/snapstream/snapstream-go/pkg/audio"
)

// flacBlockSize is the number of sample frames per FLAC frame. At 48kHz
// this is ~85ms of audio per wire frame.
const flacBlockSize = 4096

// flacEncoder buffers PCM until a full block is available and encodes
// each block as one FLAC frame. The stream uses variable block sizes so
// a Flush can emit a short block mid-stream.
type flacEncoder struct {
	enc    *flac.Encoder
	buf    *bytes.Buffer
	format audio.Format
	header []byte

	samples []int32 // interleaved, buffered input
	written uint64  // sample frames encoded so far
}

func newFLAC(format audio.Format) (Encoder, error) {
	if format.Channels > 2 {
		return nil, fmt.Errorf("flac encoder supports at most 2 channels, got %d", format.Channels)
	}

	buf := new(bytes.Buffer)
	info := &meta.StreamInfo{
		BlockSizeMin:  16,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(format.SampleRate),
		NChannels:     uint8(format.Channels),
		BitsPerSample: uint8(format.BitDepth),
	}

	enc, err := flac.NewEncoder(buf, info)
	if err != nil {
		return nil, fmt.Errorf("create flac encoder: %w", err)
	}

	// NewEncoder has written the fLaC marker and StreamInfo; that is the
	// codec header clients need before the first frame.
	header := append([]byte(nil), buf.Bytes()...)
	buf.Reset()

	return &flacEncoder{
		enc:    enc,
		buf:    buf,
		format: format,
		header: header,
	}, nil
}

func (e *flacEncoder) Header() []byte {
	return e.header
}

func (e *flacEncoder) Encode(pcm []byte) ([]Frame, error) {
	e.samples = append(e.samples, e.format.Samples(pcm)...)

	blockSamples := flacBlockSize * e.format.Channels
	var frames []Frame
	for len(e.samples) >= blockSamples {
		f, err := e.encodeBlock(e.samples[:blockSamples])
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
		e.samples = e.samples[blockSamples:]
	}
	return frames, nil
}

func (e *flacEncoder) Flush() ([]Frame, error) {
	n := len(e.samples) - len(e.samples)%e.format.Channels
	if n == 0 {
		return nil, nil
	}

	f, err := e.encodeBlock(e.samples[:n])
	if err != nil {
		return nil, err
	}
	e.samples = e.samples[:0]
	return []Frame{f}, nil
}

func (e *flacEncoder) Close() error {
	return e.enc.Close()
}

// encodeBlock encodes interleaved samples as one FLAC frame and returns
// the frame bytes.
func (e *flacEncoder) encodeBlock(interleaved []int32) (Frame, error) {
	channels := e.format.Channels
	n := len(interleaved) / channels

	subframes := make([]*frame.Subframe, channels)
	for ch := 0; ch < channels; ch++ {
		samples := make([]int32, n)
		for i := 0; i < n; i++ {
			samples[i] = interleaved[i*channels+ch]
		}
		subframes[ch] = &frame.Subframe{
			SubHeader: frame.SubHeader{
				Pred: frame.PredVerbatim,
			},
			Samples:  samples,
			NSamples: n,
		}
	}

	ch := frame.ChannelsMono
	if channels == 2 {
		ch = frame.ChannelsLR
	}

	f := &frame.Frame{
		Header: frame.Header{
			HasFixedBlockSize: false,
			BlockSize:         uint16(n),
			SampleRate:        uint32(e.format.SampleRate),
			Channels:          ch,
			BitsPerSample:     uint8(e.format.BitDepth),
			Num:               e.written,
		},
		Subframes: subframes,
	}

	if err := e.enc.WriteFrame(f); err != nil {
		return Frame{}, fmt.Errorf("flac encode: %w", err)
	}
	e.written += uint64(n)

	data := append([]byte(nil), e.buf.Bytes()...)
	e.buf.Reset()

	return Frame{
		Data:     data,
		Duration: e.format.BytesToDuration(n * e.format.FrameSize()),
	}, nil
}
