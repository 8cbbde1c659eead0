// Package worker provides a NATS worker that synthesizes speech for text
// objects announced by other services.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/inference-studio/internal/audio"
	"github.com/book-expert/inference-studio/internal/core"
	"github.com/book-expert/inference-studio/internal/intake"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	handleMessageTimeout = 2 * time.Minute
	queueGroup           = "inference-studio-synthesis"
	audioKeySuffix       = ".wav"
)

var (
	// ErrTextKeyEmpty indicates that the event names no text object.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrPageRange indicates that the page number lies outside the document.
	ErrPageRange = errors.New("page number must be within total pages")
)

// NatsWorker listens for TextProcessed events on a NATS subject and answers
// each with an AudioChunkCreated event.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	synthesizer    core.Synthesizer
	publisher      core.Publisher
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. Requests carrying a
// reply subject are answered directly; other results go through publisher.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	synthesizer core.Synthesizer,
	publisher core.Publisher,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		synthesizer:    synthesizer,
		publisher:      publisher,
		log:            log,
	}
}

// Run starts the worker and blocks until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.subject, queueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for text on subject %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	audioKey, processErr := w.processSpeechJob(ctx, event)
	if processErr != nil {
		w.log.Error("Failed to synthesize speech for workflow %s: %v", event.Header.WorkflowID, processErr)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}
	replyEvent.Header.EventID = uuid.NewString()
	replyEvent.Header.Timestamp = time.Now()

	if msg.Reply == "" {
		err = w.publisher.PublishAudioCreated(ctx, replyEvent)
	} else {
		err = publishReplyEvent(msg, replyEvent)
	}

	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)

		return
	}

	w.log.Info("Synthesized %s for workflow %s", audioKey, event.Header.WorkflowID)
}

// processSpeechJob downloads the text, synthesizes it and uploads the audio.
func (w *NatsWorker) processSpeechJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	text, err := intake.NormalizeText(string(textData))
	if err != nil {
		return "", fmt.Errorf("text object '%s': %w", event.TextKey, err)
	}

	audioData, err := w.synthesizer.Synthesize(ctx, text)
	if err != nil {
		return "", fmt.Errorf("failed to synthesize speech: %w", err)
	}

	info, err := audio.Inspect(audioData)
	if err != nil {
		return "", fmt.Errorf("synthesized audio for '%s': %w", event.TextKey, err)
	}

	audioKey := uuid.NewString() + audioKeySuffix

	err = w.store.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	w.log.Info("Uploaded %s (%s)", audioKey, info.Label())

	return audioKey, nil
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseAndValidateEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	if event.PageNumber < 0 || (event.TotalPages > 0 && event.PageNumber > event.TotalPages) {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageRange, event.PageNumber, event.TotalPages)
	}

	return &event, nil
}
