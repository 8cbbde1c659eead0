package form

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/book-expert/inference-studio/internal/core"
	"github.com/book-expert/inference-studio/internal/display"
	"github.com/book-expert/inference-studio/internal/intake"
	"github.com/book-expert/logger"
)

// ClassifierSnapshot is an immutable view of a ClassifierForm.
type ClassifierSnapshot struct {
	State       RequestState         `json:"state"`
	Loading     bool                 `json:"loading"`
	FileName    string               `json:"file_name,omitempty"`
	PreviewURL  string               `json:"preview_url,omitempty"`
	Predictions []display.Prediction `json:"predictions,omitempty"`
	Notice      string               `json:"notice,omitempty"`
	Version     uint64               `json:"version"`
}

// HasAsset reports whether an image is selected.
func (s ClassifierSnapshot) HasAsset() bool {
	return s.PreviewURL != ""
}

// CanSubmit reports whether the submit control is enabled.
func (s ClassifierSnapshot) CanSubmit() bool {
	return s.HasAsset() && !s.Loading
}

// ClassifierForm is the single-image classification form.
type ClassifierForm struct {
	lifecycle

	classifier  core.Classifier
	labels      []string
	log         *logger.Logger
	asset       *intake.UploadedAsset
	predictions []display.Prediction
	notice      string
}

// NewClassifierForm creates an empty form. labels is the model's label pair.
func NewClassifierForm(
	classifier core.Classifier,
	labels []string,
	timeout time.Duration,
	log *logger.Logger,
) *ClassifierForm {
	form := &ClassifierForm{
		classifier: classifier,
		labels:     labels,
		log:        log,
	}
	form.init(timeout)

	return form
}

// Select replaces the selected image and drops the previous result. A file
// that is not an image is refused: the current selection stays and a notice
// explains the rejection.
func (f *ClassifierForm) Select(name, declaredType string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busyLocked() {
		return ErrBusy
	}

	asset, err := intake.NewAsset(name, declaredType, data)
	if err != nil {
		f.notice = rejectionNotice(intake.Rejection{Name: name, Err: err})
		f.touchLocked()

		return err
	}

	f.asset = &asset
	f.predictions = nil
	f.notice = ""
	f.state = Idle
	f.touchLocked()

	return nil
}

// Submit classifies the selected image and waits for the result. Transport
// and status errors are mapped to a single generic error entry and returned.
func (f *ClassifierForm) Submit(ctx context.Context) error {
	run, err := f.prepare(ctx)
	if err != nil {
		return err
	}

	return run()
}

// Start begins a submission and returns without waiting for the result.
func (f *ClassifierForm) Start(ctx context.Context) error {
	run, err := f.prepare(ctx)
	if err != nil {
		return err
	}

	go func() { _ = run() }()

	return nil
}

// Clear resets preview, result and error, and cancels an in-flight request.
func (f *ClassifierForm) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.asset = nil
	f.predictions = nil
	f.notice = ""
	f.resetLocked()
}

// Snapshot returns the current view of the form.
func (f *ClassifierForm) Snapshot() ClassifierSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := ClassifierSnapshot{
		State:       f.state,
		Loading:     f.state == Submitting,
		Predictions: append([]display.Prediction(nil), f.predictions...),
		Notice:      f.notice,
		Version:     f.version,
	}

	if f.asset != nil {
		snapshot.FileName = f.asset.Name
		snapshot.PreviewURL = f.asset.PreviewURL
	}

	return snapshot
}

func (f *ClassifierForm) prepare(parent context.Context) (func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busyLocked() {
		return nil, ErrBusy
	}

	if f.asset == nil {
		return nil, ErrNothingToSubmit
	}

	asset := f.asset.Asset
	f.predictions = nil
	f.notice = ""
	ctx, generation := f.beginLocked(parent)

	return func() error {
		result, err := f.classifier.Classify(ctx, asset)

		f.mu.Lock()
		defer f.mu.Unlock()

		if !f.finishLocked(generation, err == nil) {
			return ErrSuperseded
		}

		if err != nil {
			f.log.Error("Failed to classify %s: %v", asset.Name, err)
			f.predictions = display.ErrorPrediction()

			return err
		}

		f.predictions = display.SinglePredictions(result, f.labels)
		f.log.Info("Classified %s as %s (%.4f)", asset.Name, result.ClassName, result.Probability)

		return nil
	}, nil
}

// rejectionNotice explains why files were left out, grouped by reason.
func rejectionNotice(rejected ...intake.Rejection) string {
	var empty, unsupported []string

	for _, rejection := range rejected {
		if errors.Is(rejection.Err, intake.ErrEmptyFile) {
			empty = append(empty, rejection.Name)

			continue
		}

		unsupported = append(unsupported, rejection.Name)
	}

	var parts []string
	if len(unsupported) > 0 {
		parts = append(parts, notAdded(unsupported)+": only image files are accepted.")
	}

	switch len(empty) {
	case 0:
	case 1:
		parts = append(parts, notAdded(empty)+": the file is empty.")
	default:
		parts = append(parts, notAdded(empty)+": the files are empty.")
	}

	return strings.Join(parts, " ")
}

func notAdded(names []string) string {
	if len(names) == 1 {
		return names[0] + " was not added"
	}

	return joinNames(names) + " were not added"
}
