package form

import (
	"context"
	"strings"
	"time"

	"github.com/book-expert/inference-studio/internal/core"
	"github.com/book-expert/inference-studio/internal/display"
	"github.com/book-expert/inference-studio/internal/intake"
	"github.com/book-expert/logger"
	"github.com/samber/lo"
)

// Preview is one tile of the batch selection grid.
type Preview struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
}

// BatchSnapshot is an immutable view of a BatchForm.
type BatchSnapshot struct {
	State    RequestState         `json:"state"`
	Loading  bool                 `json:"loading"`
	Previews []Preview            `json:"previews,omitempty"`
	Entries  []display.BatchEntry `json:"entries,omitempty"`
	Notice   string               `json:"notice,omitempty"`
	Version  uint64               `json:"version"`
}

// CanSubmit reports whether the submit control is enabled.
func (s BatchSnapshot) CanSubmit() bool {
	return len(s.Previews) > 0 && !s.Loading
}

// BatchForm classifies several images in one request.
type BatchForm struct {
	lifecycle

	classifier core.Classifier
	log        *logger.Logger
	assets     []intake.UploadedAsset
	entries    []display.BatchEntry
	notice     string
}

// NewBatchForm creates an empty batch form.
func NewBatchForm(classifier core.Classifier, timeout time.Duration, log *logger.Logger) *BatchForm {
	form := &BatchForm{
		classifier: classifier,
		log:        log,
	}
	form.init(timeout)

	return form
}

// Select replaces the selection with the images among candidates. Non-image
// files are dropped and named in the notice. When no candidate is an image the
// previous selection is kept and ErrNothingToSubmit is returned.
func (f *BatchForm) Select(candidates []core.Asset) ([]intake.Rejection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busyLocked() {
		return nil, ErrBusy
	}

	accepted, rejected := intake.FilterAssets(candidates)

	f.notice = ""
	if len(rejected) > 0 {
		f.notice = rejectionNotice(rejected...)
	}

	if len(accepted) == 0 {
		f.touchLocked()

		return rejected, ErrNothingToSubmit
	}

	f.assets = accepted
	f.entries = nil
	f.state = Idle
	f.touchLocked()

	return rejected, nil
}

// Submit sends the whole selection in one request and waits for the result.
func (f *BatchForm) Submit(ctx context.Context) error {
	run, err := f.prepare(ctx)
	if err != nil {
		return err
	}

	return run()
}

// Start begins a submission and returns without waiting for the result.
func (f *BatchForm) Start(ctx context.Context) error {
	run, err := f.prepare(ctx)
	if err != nil {
		return err
	}

	go func() { _ = run() }()

	return nil
}

// Clear drops the selection, the results and any notice.
func (f *BatchForm) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.assets = nil
	f.entries = nil
	f.notice = ""
	f.resetLocked()
}

// Snapshot returns the current view of the form.
func (f *BatchForm) Snapshot() BatchSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	return BatchSnapshot{
		State:   f.state,
		Loading: f.state == Submitting,
		Previews: lo.Map(f.assets, func(asset intake.UploadedAsset, _ int) Preview {
			return Preview{
				Name:        asset.Name,
				DisplayName: intake.DisplayName(asset.Name),
				URL:         asset.PreviewURL,
			}
		}),
		Entries: append([]display.BatchEntry(nil), f.entries...),
		Notice:  f.notice,
		Version: f.version,
	}
}

func (f *BatchForm) prepare(parent context.Context) (func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busyLocked() {
		return nil, ErrBusy
	}

	if len(f.assets) == 0 {
		return nil, ErrNothingToSubmit
	}

	assets := intake.CoreAssets(f.assets)
	f.entries = nil
	f.notice = ""
	ctx, generation := f.beginLocked(parent)

	return func() error {
		results, err := f.classifier.ClassifyBatch(ctx, assets)

		f.mu.Lock()
		defer f.mu.Unlock()

		if !f.finishLocked(generation, err == nil) {
			return ErrSuperseded
		}

		if err != nil {
			f.log.Error("Failed to classify batch of %d images: %v", len(assets), err)
			f.entries = display.ErrorBatchEntry()

			return err
		}

		f.entries = display.BatchEntries(results)
		f.log.Info("Classified batch of %d images", len(results))

		return nil
	}, nil
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}
