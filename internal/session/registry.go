// Package session gives every visitor a private set of forms.
package session

import (
	"sync"
	"time"

	"github.com/book-expert/inference-studio/internal/core"
	"github.com/book-expert/inference-studio/internal/form"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

// Workspace holds the forms of one visitor.
type Workspace struct {
	ID         string
	Classifier *form.ClassifierForm
	Batch      *form.BatchForm
	Speech     *form.SpeechForm

	lastSeen time.Time
}

// Clear resets every form of the workspace.
func (w *Workspace) Clear() {
	w.Classifier.Clear()
	w.Batch.Clear()
	w.Speech.Clear()
}

// Services are the backends shared by all workspaces.
type Services struct {
	Classifier  core.Classifier
	Synthesizer core.Synthesizer
	Corrector   core.Corrector
	Store       core.ObjectStore
	Publisher   core.Publisher
	Labels      []string
	Timeout     time.Duration
}

// Registry owns the workspaces keyed by visitor id.
type Registry struct {
	mu         sync.Mutex
	services   Services
	log        *logger.Logger
	now        func() time.Time
	workspaces map[string]*Workspace
}

// NewRegistry creates an empty registry.
func NewRegistry(services Services, log *logger.Logger) *Registry {
	return &Registry{
		services:   services,
		log:        log,
		now:        time.Now,
		workspaces: make(map[string]*Workspace),
	}
}

// NewID returns a fresh visitor id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id could have been issued by NewID.
func ValidID(id string) bool {
	return uuid.Validate(id) == nil
}

// Workspace returns the workspace of id, creating it on first use.
func (r *Registry) Workspace(id string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()

	workspace, ok := r.workspaces[id]
	if !ok {
		workspace = r.newWorkspace(id)
		r.workspaces[id] = workspace
		r.log.Info("Created workspace %s", id)
	}

	workspace.lastSeen = r.now()

	return workspace
}

// Len returns the number of live workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.workspaces)
}

// Sweep drops workspaces idle for longer than maxIdle and clears their forms.
// It returns the number of dropped workspaces.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()

	var expired []*Workspace

	for id, workspace := range r.workspaces {
		if workspace.lastSeen.Before(cutoff) && !workspace.busy() {
			expired = append(expired, workspace)
			delete(r.workspaces, id)
		}
	}

	r.mu.Unlock()

	for _, workspace := range expired {
		workspace.Clear()
		r.log.Info("Expired workspace %s", workspace.ID)
	}

	return len(expired)
}

// Close clears every workspace.
func (r *Registry) Close() {
	r.mu.Lock()
	workspaces := r.workspaces
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()

	for _, workspace := range workspaces {
		workspace.Clear()
	}
}

func (r *Registry) newWorkspace(id string) *Workspace {
	services := r.services

	return &Workspace{
		ID:         id,
		Classifier: form.NewClassifierForm(services.Classifier, services.Labels, services.Timeout, r.log),
		Batch:      form.NewBatchForm(services.Classifier, services.Timeout, r.log),
		Speech: form.NewSpeechForm(form.SpeechServices{
			Synthesizer: services.Synthesizer,
			Corrector:   services.Corrector,
			Store:       services.Store,
			Publisher:   services.Publisher,
		}, id, services.Timeout, r.log),
	}
}

func (w *Workspace) busy() bool {
	return w.Classifier.Loading() || w.Batch.Loading() || w.Speech.Loading()
}
