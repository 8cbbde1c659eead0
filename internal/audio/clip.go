// Package audio validates synthesized speech clips before they are offered for playback.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

// ErrInvalidWAV indicates that a payload is not a playable WAV file.
var ErrInvalidWAV = errors.New("payload is not a valid WAV file")

// Info describes a WAV clip.
type Info struct {
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	BitDepth   int           `json:"bit_depth"`
	Size       int           `json:"size"`
}

// Inspect decodes the WAV headers of data.
func Inspect(data []byte) (Info, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return Info{}, ErrInvalidWAV
	}

	// IsValidFile consumes the header reader, so the duration comes from a fresh decoder.
	duration, err := wav.NewDecoder(bytes.NewReader(data)).Duration()
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	return Info{
		Duration:   duration,
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
		Size:       len(data),
	}, nil
}

// Label renders the info for the result panel, e.g. "0:03 · 16 kHz mono".
func (i Info) Label() string {
	seconds := int(i.Duration.Round(time.Second) / time.Second)

	channels := "mono"
	if i.Channels > 1 {
		channels = "stereo"
	}

	return fmt.Sprintf("%d:%02d · %g kHz %s", seconds/60, seconds%60, float64(i.SampleRate)/1000, channels)
}
