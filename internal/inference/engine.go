package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/inference-studio/internal/audio"
	"github.com/book-expert/inference-studio/internal/core"
	"github.com/book-expert/logger"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// Static errors.
var (
	ErrOutputDirEmpty  = errors.New("output directory cannot be empty")
	ErrOutputPathEmpty = errors.New("output path cannot be empty")
	ErrNoChunksFound   = errors.New("no chunks found")
)

const (
	logFmtGeneratedAudio        = "Generated audio: %s (%s)"
	logFmtChunkProcessingFailed = "Failed to process chunk %d: %v"
	logFmtChunkProcessed        = "Processed chunk %d/%d"
	outputFileFormat            = "chunk_%04d.wav"
	errFmtChunkFailed           = "chunk %d failed: %w"
)

// Engine writes synthesized speech to disk, one request per chunk, with a
// bounded number of requests in flight.
type Engine struct {
	synthesizer core.Synthesizer
	workers     int
	log         *logger.Logger
}

// NewEngine creates an engine that runs at most workers requests at a time.
func NewEngine(synthesizer core.Synthesizer, workers int, log *logger.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}

	return &Engine{
		synthesizer: synthesizer,
		workers:     workers,
		log:         log,
	}
}

// SynthesizeToFile synthesizes text and writes the validated WAV to outputPath.
func (e *Engine) SynthesizeToFile(ctx context.Context, text, outputPath string) error {
	if outputPath == "" {
		return ErrOutputPathEmpty
	}

	audioData, err := e.synthesizer.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to generate speech: %w", err)
	}

	info, err := audio.Inspect(audioData)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(outputPath), dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	err = os.WriteFile(outputPath, audioData, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	e.log.Info(logFmtGeneratedAudio, outputPath, info.Label())

	return nil
}

// SynthesizeChunks writes chunk_0001.wav, chunk_0002.wav, ... into outputDir.
// A failing chunk does not stop the others; the last failure is returned.
func (e *Engine) SynthesizeChunks(ctx context.Context, chunks []string, outputDir string) ([]string, error) {
	if outputDir == "" {
		return nil, ErrOutputDirEmpty
	}

	if len(chunks) == 0 {
		return nil, ErrNoChunksFound
	}

	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		lastError error
	)

	outputs := make([]string, len(chunks))
	workerPool := make(chan struct{}, e.workers)

	for chunkIndex, chunk := range chunks {
		waitGroup.Add(1)

		go func(index int, text string) {
			defer waitGroup.Done()

			workerPool <- struct{}{}

			defer func() { <-workerPool }()

			outputPath := filepath.Join(outputDir, fmt.Sprintf(outputFileFormat, index+1))

			err := e.SynthesizeToFile(ctx, text, outputPath)
			if err != nil {
				mutex.Lock()
				lastError = fmt.Errorf(errFmtChunkFailed, index+1, err)
				mutex.Unlock()

				e.log.Error(logFmtChunkProcessingFailed, index+1, err)

				return
			}

			outputs[index] = outputPath

			e.log.Info(logFmtChunkProcessed, index+1, len(chunks))
		}(chunkIndex, chunk)
	}

	waitGroup.Wait()

	return outputs, lastError
}

// ReadChunksFile reads a JSON array of text chunks.
func ReadChunksFile(chunksPath string) ([]string, error) {
	data, err := os.ReadFile(chunksPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var chunks []string

	err = json.Unmarshal(data, &chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunks JSON: %w", err)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoChunksFound, chunksPath)
	}

	return chunks, nil
}
