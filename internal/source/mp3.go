// ABOUTME: MP3 file source using the go-mp3 decoder
// ABOUTME: Loops the file on EOF for continuous streaming

package source

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/snapstream/snapstream-go/pkg/audio"
)

// MP3 streams a local MP3 file. The decoder emits 16-bit stereo PCM at
// the file's native rate, which must match the configured stream format.
type MP3 struct {
	file    *os.File
	decoder *mp3.Decoder
	format  audio.Format
	title   string
}

// NewMP3 opens path and checks its decoded output against format.
func NewMP3(path string, format audio.Format) (*MP3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	if format.BitDepth != 16 || format.Channels != 2 {
		f.Close()
		return nil, fmt.Errorf("mp3 source produces 16-bit stereo, stream format is %s", format)
	}
	if decoder.SampleRate() != format.SampleRate {
		f.Close()
		return nil, fmt.Errorf("mp3 sample rate %d Hz does not match stream rate %d Hz",
			decoder.SampleRate(), format.SampleRate)
	}

	name := filepath.Base(path)
	return &MP3{
		file:    f,
		decoder: decoder,
		format:  format,
		title:   strings.TrimSuffix(name, filepath.Ext(name)),
	}, nil
}

func (m *MP3) Read(p []byte) (int, error) {
	n, err := m.decoder.Read(p)
	if err != nil && err != io.EOF {
		return n, err
	}

	if err == io.EOF {
		// Loop: rewind and rebuild the decoder.
		if _, seekErr := m.file.Seek(0, io.SeekStart); seekErr != nil {
			return n, fmt.Errorf("failed to rewind MP3: %w", seekErr)
		}
		decoder, decErr := mp3.NewDecoder(m.file)
		if decErr != nil {
			return n, fmt.Errorf("failed to restart MP3 decoder: %w", decErr)
		}
		m.decoder = decoder
	}

	return n, nil
}

func (m *MP3) Format() audio.Format {
	return m.format
}

func (m *MP3) Metadata() (string, string) {
	return m.title, "Unknown Artist"
}

func (m *MP3) Close() error {
	return m.file.Close()
}
