// ABOUTME: Audio source abstraction feeding the stream server
// ABOUTME: Factory for tone, MP3 file, and stdin PCM sources

package source

import (
	"fmt"

	"github.com/snapstream/snapstream-go/pkg/audio"
)

// Source delivers interleaved little-endian PCM in a fixed format.
type Source interface {
	// Read fills p with PCM bytes and returns how many were written.
	Read(p []byte) (int, error)

	// Format returns the PCM format the source produces.
	Format() audio.Format

	// Metadata returns a human-readable title and artist.
	Metadata() (title, artist string)

	Close() error
}

// Config selects and parameterizes a source.
type Config struct {
	// Type is one of "tone", "mp3", or "stdin".
	Type string

	// Path is the input file for the mp3 source.
	Path string

	// Frequency is the tone pitch in Hz.
	Frequency float64
}

// New builds the source named by cfg, producing audio in the given
// format. The mp3 source must match the format natively; there is no
// resampling.
func New(cfg Config, format audio.Format) (Source, error) {
	switch cfg.Type {
	case "tone":
		return NewTone(format, cfg.Frequency), nil
	case "mp3":
		return NewMP3(cfg.Path, format)
	case "stdin":
		return NewStdin(format), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}
