// Package core defines the shared types and interfaces of the inference studio.
package core

import (
	"context"

	"github.com/book-expert/events"
)

// Asset is a file payload as it travels to the inference service.
type Asset struct {
	Name        string
	ContentType string
	Data        []byte
}

// Classification is one prediction returned by the inference service.
type Classification struct {
	Filename    string  `json:"filename"`
	ClassName   string  `json:"class_name"`
	Probability float64 `json:"probability"`
}

// Classifier sends images to the remote classification endpoints.
type Classifier interface {
	Classify(ctx context.Context, asset Asset) (Classification, error)
	ClassifyBatch(ctx context.Context, assets []Asset) ([]Classification, error)
}

// Synthesizer sends text to the remote speech-synthesis endpoint and returns WAV audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Publisher announces stored audio clips.
type Publisher interface {
	PublishAudioCreated(ctx context.Context, event *events.AudioChunkCreatedEvent) error
}

// Corrector asks the speech service to normalize text before synthesis.
type Corrector interface {
	Correct(ctx context.Context, text string) (string, error)
}
