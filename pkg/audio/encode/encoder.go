// ABOUTME: Encoder interface, frame type, and codec factory
// ABOUTME: Common contract for the pcm, opus, and flac encoders

package encode

import (
	"fmt"
	"time"

	"github.com/snapstream/snapstream-go/pkg/audio"
)

// Frame is one transport-ready unit of encoded audio plus its nominal
// playback duration.
type Frame struct {
	Data     []byte
	Duration time.Duration
}

// Encoder turns raw PCM into transport-ready frames. Implementations may
// buffer input internally; Flush drains that buffer. An encoder remains
// valid for further Encode calls after a Flush.
type Encoder interface {
	// Header returns the one-time codec header sent to every client
	// before any frame.
	Header() []byte

	// Encode consumes one PCM chunk and returns zero or more frames.
	Encode(pcm []byte) ([]Frame, error)

	// Flush drains internally buffered input and returns the resulting
	// frames, if any.
	Flush() ([]Frame, error)

	// Close releases encoder resources.
	Close() error
}

// New creates an encoder for the named codec.
func New(codec string, format audio.Format) (Encoder, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	switch codec {
	case "pcm":
		return newPCM(format)
	case "opus":
		return newOpus(format)
	case "flac":
		return newFLAC(format)
	default:
		return nil, fmt.Errorf("unknown codec: %q", codec)
	}
}
