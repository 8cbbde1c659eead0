// Package audiotest provides WAV fixtures for tests.
package audiotest

import (
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// SampleRate is the rate of every generated fixture.
const SampleRate = 16000

// WAV returns a mono 16-bit clip of the given number of samples at SampleRate.
func WAV(tb testing.TB, samples int) []byte {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "clip.wav")

	file, err := os.Create(path)
	if err != nil {
		tb.Fatalf("create wav fixture: %v", err)
	}

	encoder := wav.NewEncoder(file, SampleRate, 16, 1, 1)

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: SampleRate},
		Data:           make([]int, samples),
		SourceBitDepth: 16,
	}
	for i := range buffer.Data {
		buffer.Data[i] = (i % 200) * 100
	}

	err = encoder.Write(buffer)
	if err != nil {
		tb.Fatalf("write wav fixture: %v", err)
	}

	err = encoder.Close()
	if err != nil {
		tb.Fatalf("close wav encoder: %v", err)
	}

	err = file.Close()
	if err != nil {
		tb.Fatalf("close wav fixture: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		tb.Fatalf("read wav fixture: %v", err)
	}

	return data
}
