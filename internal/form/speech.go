package form

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/inference-studio/internal/audio"
	"github.com/book-expert/inference-studio/internal/core"
	"github.com/book-expert/inference-studio/internal/inference"
	"github.com/book-expert/inference-studio/internal/intake"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

// Messages shown on the speech page.
const (
	MessageEmptyText      = "Vui lòng nhập văn bản cần chuyển đổi"
	MessageSynthesisError = "Có lỗi xảy ra khi tạo âm thanh"
	MessageConnection     = "Không thể kết nối đến máy chủ. Vui lòng kiểm tra lại."

	clipKeySuffix  = ".wav"
	clipURLPrefix  = "/audio/"
	cleanupTimeout = 10 * time.Second
)

// ErrExampleIndex is returned by UseExample for an index outside Examples.
var ErrExampleIndex = errors.New("example index out of range")

// Clip is a synthesized audio clip held in the object store.
type Clip struct {
	Key   string     `json:"key"`
	URL   string     `json:"url"`
	Info  audio.Info `json:"-"`
	Label string     `json:"label"`
}

// SpeechSnapshot is an immutable view of a SpeechForm.
type SpeechSnapshot struct {
	State   RequestState `json:"state"`
	Loading bool         `json:"loading"`
	Text    string       `json:"text"`
	Error   string       `json:"error,omitempty"`
	Clip    *Clip        `json:"clip,omitempty"`
	Version uint64       `json:"version"`
}

// SpeechServices are the collaborators of a SpeechForm.
type SpeechServices struct {
	Synthesizer core.Synthesizer
	Corrector   core.Corrector
	Store       core.ObjectStore
	Publisher   core.Publisher
}

// SpeechForm turns text into a playable clip.
type SpeechForm struct {
	lifecycle

	services SpeechServices
	owner    string
	log      *logger.Logger
	text     string
	message  string
	clip     *Clip
}

// NewSpeechForm creates an empty speech form. owner identifies the visitor in
// published events.
func NewSpeechForm(services SpeechServices, owner string, timeout time.Duration, log *logger.Logger) *SpeechForm {
	form := &SpeechForm{
		services: services,
		owner:    owner,
		log:      log,
	}
	form.init(timeout)

	return form
}

// SetText replaces the text to synthesize.
func (f *SpeechForm) SetText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busyLocked() {
		return ErrBusy
	}

	f.text = text
	f.touchLocked()

	return nil
}

// UseExample loads one of the bundled sample texts and clears the error.
func (f *SpeechForm) UseExample(index int) error {
	if index < 0 || index >= len(Examples) {
		return fmt.Errorf("%w: %d", ErrExampleIndex, index)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busyLocked() {
		return ErrBusy
	}

	f.text = Examples[index]
	f.message = ""
	f.touchLocked()

	return nil
}

// Submit synthesizes the current text and waits for the clip. Blank text is
// refused locally with an error message and no request is made.
func (f *SpeechForm) Submit(ctx context.Context) error {
	run, err := f.prepareSynthesis(ctx)
	if err != nil {
		return err
	}

	return run()
}

// Start begins a synthesis and returns without waiting for the clip.
func (f *SpeechForm) Start(ctx context.Context) error {
	run, err := f.prepareSynthesis(ctx)
	if err != nil {
		return err
	}

	go func() { _ = run() }()

	return nil
}

// Correct replaces the text with the service's normalized version.
func (f *SpeechForm) Correct(ctx context.Context) error {
	f.mu.Lock()

	if f.busyLocked() {
		f.mu.Unlock()

		return ErrBusy
	}

	text, err := f.acceptTextLocked()
	if err != nil {
		f.mu.Unlock()

		return err
	}

	requestCtx, generation := f.beginLocked(ctx)
	f.mu.Unlock()

	corrected, err := f.services.Corrector.Correct(requestCtx, text)

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.finishLocked(generation, err == nil) {
		return ErrSuperseded
	}

	if err != nil {
		f.log.Error("Failed to correct text: %v", err)
		f.message = failureMessage(err)

		return err
	}

	f.text = corrected

	return nil
}

// Clear empties the text, the error and the clip, and cancels an in-flight request.
func (f *SpeechForm) Clear() {
	f.mu.Lock()
	previous := f.clip
	f.text = ""
	f.message = ""
	f.clip = nil
	f.resetLocked()
	f.mu.Unlock()

	f.discard(previous)
}

// Snapshot returns the current view of the form.
func (f *SpeechForm) Snapshot() SpeechSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := SpeechSnapshot{
		State:   f.state,
		Loading: f.state == Submitting,
		Text:    f.text,
		Error:   f.message,
		Version: f.version,
	}

	if f.clip != nil {
		clip := *f.clip
		snapshot.Clip = &clip
	}

	return snapshot
}

// acceptTextLocked validates the current text, recording the message on failure.
func (f *SpeechForm) acceptTextLocked() (string, error) {
	text, err := intake.NormalizeText(f.text)
	if err != nil {
		f.message = MessageEmptyText
		f.touchLocked()

		return "", err
	}

	f.message = ""

	return text, nil
}

func (f *SpeechForm) prepareSynthesis(parent context.Context) (func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busyLocked() {
		return nil, ErrBusy
	}

	text, err := f.acceptTextLocked()
	if err != nil {
		return nil, err
	}

	previous := f.clip
	f.clip = nil
	ctx, generation := f.beginLocked(parent)

	return func() error {
		f.discard(previous)

		clip, err := f.synthesize(ctx, text)

		f.mu.Lock()

		if !f.finishLocked(generation, err == nil) {
			f.mu.Unlock()
			f.discard(clip)

			return ErrSuperseded
		}

		if err != nil {
			f.message = failureMessage(err)
			f.mu.Unlock()
			f.log.Error("Failed to synthesize speech: %v", err)

			return err
		}

		f.clip = clip
		f.mu.Unlock()

		f.announce(ctx, clip)

		return nil
	}, nil
}

// synthesize requests the audio, validates it and stores it.
func (f *SpeechForm) synthesize(ctx context.Context, text string) (*Clip, error) {
	data, err := f.services.Synthesizer.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}

	info, err := audio.Inspect(data)
	if err != nil {
		return nil, err
	}

	key := uuid.NewString() + clipKeySuffix

	err = f.services.Store.Upload(ctx, key, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store clip %s: %w", key, err)
	}

	f.log.Info("Stored clip %s (%s)", key, info.Label())

	return &Clip{
		Key:   key,
		URL:   clipURLPrefix + key,
		Info:  info,
		Label: info.Label(),
	}, nil
}

func (f *SpeechForm) announce(ctx context.Context, clip *Clip) {
	event := &events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: f.owner,
			EventID:    uuid.NewString(),
			UserID:     f.owner,
			TenantID:   "",
		},
		AudioKey:   clip.Key,
		PageNumber: 1,
		TotalPages: 1,
	}

	err := f.services.Publisher.PublishAudioCreated(context.WithoutCancel(ctx), event)
	if err != nil {
		f.log.Warn("Failed to announce clip %s: %v", clip.Key, err)
	}
}

// discard removes a clip that is no longer shown.
func (f *SpeechForm) discard(clip *Clip) {
	if clip == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	err := f.services.Store.Delete(ctx, clip.Key)
	if err != nil {
		f.log.Warn("Failed to delete clip %s: %v", clip.Key, err)
	}
}

// failureMessage picks what the speech page shows for err.
func failureMessage(err error) string {
	var statusErr *inference.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Message != "" {
			return statusErr.Message
		}

		return MessageSynthesisError
	}

	if errors.Is(err, audio.ErrInvalidWAV) || errors.Is(err, inference.ErrEmptyAudio) ||
		errors.Is(err, inference.ErrUnexpectedContentType) {
		return MessageSynthesisError
	}

	return MessageConnection
}
