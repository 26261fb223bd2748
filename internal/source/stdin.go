// ABOUTME: Raw PCM source reading from standard input
// ABOUTME: Pipes interleaved little-endian samples straight through

package source

import (
	"io"
	"os"

	"github.com/snapstream/snapstream-go/pkg/audio"
)

// Stdin reads raw PCM from standard input. The bytes are assumed to
// already be in the stream format; partial frames at EOF are dropped.
type Stdin struct {
	r      io.Reader
	format audio.Format
}

// NewStdin creates a source reading from os.Stdin.
func NewStdin(format audio.Format) *Stdin {
	return &Stdin{r: os.Stdin, format: format}
}

func (s *Stdin) Read(p []byte) (int, error) {
	n, err := io.ReadFull(s.r, p)
	if err == io.ErrUnexpectedEOF {
		// Trim to whole frames and deliver what we got.
		n -= n % s.format.FrameSize()
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	return n, err
}

func (s *Stdin) Format() audio.Format {
	return s.format
}

func (s *Stdin) Metadata() (string, string) {
	return "Standard Input", ""
}

func (s *Stdin) Close() error {
	return nil
}
