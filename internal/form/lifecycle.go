// Package form holds the per-visitor state of the classifier and speech pages.
//
// A form owns its input, its last result, its error and one RequestState. At
// most one request is in flight per form: submitting while Submitting is
// refused with ErrBusy and leaves the form untouched. Clearing cancels the
// in-flight request and discards whatever it returns.
package form

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// RequestState drives which view a form renders.
type RequestState int

// Request states.
const (
	Idle RequestState = iota
	Submitting
	Succeeded
	Failed
)

// Static errors.
var (
	ErrBusy            = errors.New("a request is already in flight")
	ErrNothingToSubmit = errors.New("nothing to submit")
	ErrSuperseded      = errors.New("request was cleared before it completed")
	ErrUnknownState    = errors.New("unknown request state")
)

func (s RequestState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON snapshots.
func (s RequestState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *RequestState) UnmarshalText(text []byte) error {
	for _, state := range []RequestState{Idle, Submitting, Succeeded, Failed} {
		if state.String() == string(text) {
			*s = state

			return nil
		}
	}

	return fmt.Errorf("%w: %q", ErrUnknownState, text)
}

// lifecycle is the state machine shared by every form. Fields are guarded by mu,
// which the embedding form also uses for its own fields.
type lifecycle struct {
	mu         sync.Mutex
	state      RequestState
	generation uint64
	version    uint64
	changed    chan struct{}
	cancel     context.CancelFunc
	timeout    time.Duration
}

func (l *lifecycle) init(timeout time.Duration) {
	l.changed = make(chan struct{})
	l.timeout = timeout
}

// State returns the current request state.
func (l *lifecycle) State() RequestState {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// Loading reports whether a request is in flight.
func (l *lifecycle) Loading() bool {
	return l.State() == Submitting
}

// Changed returns a channel that is closed on the next state change.
func (l *lifecycle) Changed() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.changed
}

// Version increases with every change.
func (l *lifecycle) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.version
}

func (l *lifecycle) busyLocked() bool {
	return l.state == Submitting
}

// beginLocked moves to Submitting and returns the request context together
// with the generation that must still be current when the result arrives.
func (l *lifecycle) beginLocked(parent context.Context) (context.Context, uint64) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	if l.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, l.timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	l.cancel = cancel
	l.generation++
	l.state = Submitting
	l.touchLocked()

	return ctx, l.generation
}

// finishLocked records the outcome. It reports false when the request was
// cleared meanwhile, in which case the caller must drop the result.
func (l *lifecycle) finishLocked(generation uint64, succeeded bool) bool {
	if generation != l.generation || l.state != Submitting {
		return false
	}

	l.releaseLocked()

	l.state = Failed
	if succeeded {
		l.state = Succeeded
	}

	l.touchLocked()

	return true
}

// resetLocked cancels any in-flight request and returns to Idle.
func (l *lifecycle) resetLocked() {
	l.releaseLocked()
	l.generation++
	l.state = Idle
	l.touchLocked()
}

func (l *lifecycle) releaseLocked() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

func (l *lifecycle) touchLocked() {
	l.version++
	close(l.changed)
	l.changed = make(chan struct{})
}
