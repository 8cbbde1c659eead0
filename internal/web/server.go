// Package web serves the classifier and speech pages.
//
// Pages are rendered on the server from the visitor's workspace. Every form
// action is a POST followed by a redirect back to the page; a websocket pushes
// the workspace state so an open page reloads when a request completes.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"github.com/book-expert/inference-studio/internal/core"
	"github.com/book-expert/inference-studio/internal/display"
	"github.com/book-expert/inference-studio/internal/form"
	"github.com/book-expert/inference-studio/internal/intake"
	"github.com/book-expert/inference-studio/internal/session"
	"github.com/book-expert/logger"
)

// Routes.
const (
	pathClassifier = "/"
	pathSpeech     = "/speech"
	pathAudio      = "/audio/"
)

// Query parameters, form fields and cookies.
const (
	queryTab         = "tab"
	tabSingle        = "single"
	tabBatch         = "batch"
	fieldFile        = "file"
	fieldFiles       = "files"
	fieldText        = "text"
	fieldIndex       = "index"
	sessionCookie    = "studio_session"
	headerAccept     = "Accept"
	contentTypeJSON  = "application/json"
	contentTypeWAV   = "audio/wav"
	multipartMemory  = 8 << 20
	pageClassifier   = "classifier.html"
	pageSpeech       = "speech.html"
	titleClassifier  = "Dog vs Cat Classifier"
	titleSpeech      = "Vietnamese Text-to-Speech"
	errRenderPageFmt = "Failed to render %s: %v"
)

//go:embed templates/*.html
var templateFS embed.FS

// HealthChecker checks that the inference service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server renders the pages and dispatches form actions to the workspace of the
// requesting visitor.
type Server struct {
	registry       *session.Registry
	store          core.ObjectStore
	health         HealthChecker
	log            *logger.Logger
	templates      *template.Template
	maxUploadBytes int64
}

// NewServer parses the embedded templates and returns a server.
func NewServer(
	registry *session.Registry,
	store core.ObjectStore,
	health HealthChecker,
	maxUploadBytes int64,
	log *logger.Logger,
) (*Server, error) {
	templates, err := template.New("pages").Funcs(template.FuncMap{
		"percent":     display.Percent,
		"color":       display.LabelColor,
		"emoji":       display.LabelEmoji,
		"displayName": intake.DisplayName,
		"inc":         func(i int) int { return i + 1 },
		// Preview URLs are data URLs produced by intake, never user input.
		"safeURL": func(s string) template.URL { return template.URL(s) },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	return &Server{
		registry:       registry,
		store:          store,
		health:         health,
		log:            log,
		templates:      templates,
		maxUploadBytes: maxUploadBytes,
	}, nil
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleClassifierPage)
	mux.HandleFunc("GET "+pathSpeech, s.handleSpeechPage)

	mux.HandleFunc("POST /classify/select", s.handleClassifySelect)
	mux.HandleFunc("POST /classify/submit", s.handleClassifySubmit)
	mux.HandleFunc("POST /classify/clear", s.handleClassifyClear)

	mux.HandleFunc("POST /batch/select", s.handleBatchSelect)
	mux.HandleFunc("POST /batch/submit", s.handleBatchSubmit)
	mux.HandleFunc("POST /batch/clear", s.handleBatchClear)

	mux.HandleFunc("POST /speech/text", s.handleSpeechText)
	mux.HandleFunc("POST /speech/example", s.handleSpeechExample)
	mux.HandleFunc("POST /speech/submit", s.handleSpeechSubmit)
	mux.HandleFunc("POST /speech/correct", s.handleSpeechCorrect)
	mux.HandleFunc("POST /speech/clear", s.handleSpeechClear)

	mux.HandleFunc("GET "+pathAudio+"{key}", s.handleAudio)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	return mux
}

// State is the JSON view of a workspace. Stamp changes whenever any form does.
type State struct {
	Classifier form.ClassifierSnapshot `json:"classifier"`
	Batch      form.BatchSnapshot      `json:"batch"`
	Speech     form.SpeechSnapshot     `json:"speech"`
	Stamp      string                  `json:"stamp"`
}

func snapshotState(workspace *session.Workspace) State {
	state := State{
		Classifier: workspace.Classifier.Snapshot(),
		Batch:      workspace.Batch.Snapshot(),
		Speech:     workspace.Speech.Snapshot(),
	}
	state.Stamp = strconv.FormatUint(state.Classifier.Version, 10) + "." +
		strconv.FormatUint(state.Batch.Version, 10) + "." +
		strconv.FormatUint(state.Speech.Version, 10)

	return state
}

type classifierPage struct {
	Title  string
	Stamp  string
	Tab    string
	Single form.ClassifierSnapshot
	Batch  form.BatchSnapshot
}

type speechPage struct {
	Title    string
	Stamp    string
	Speech   form.SpeechSnapshot
	Examples []string
}

func (s *Server) handleClassifierPage(w http.ResponseWriter, r *http.Request) {
	state := snapshotState(s.workspace(w, r))

	tab := r.URL.Query().Get(queryTab)
	if tab != tabBatch {
		tab = tabSingle
	}

	s.render(w, pageClassifier, classifierPage{
		Title:  titleClassifier,
		Stamp:  state.Stamp,
		Tab:    tab,
		Single: state.Classifier,
		Batch:  state.Batch,
	})
}

func (s *Server) handleSpeechPage(w http.ResponseWriter, r *http.Request) {
	state := snapshotState(s.workspace(w, r))

	s.render(w, pageSpeech, speechPage{
		Title:    titleSpeech,
		Stamp:    state.Stamp,
		Speech:   state.Speech,
		Examples: form.Examples,
	})
}

func (s *Server) render(w http.ResponseWriter, page string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	err := s.templates.ExecuteTemplate(w, page, data)
	if err != nil {
		s.log.Error(errRenderPageFmt, page, err)
	}
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	data, err := s.store.Download(r.Context(), key)
	if err != nil {
		s.log.Warn("Failed to load clip %s: %v", key, err)
		http.NotFound(w, r)

		return
	}

	w.Header().Set("Content-Type", contentTypeWAV)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(data)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w, s.workspace(w, r))
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	err := s.health.HealthCheck(r.Context())
	if err != nil {
		s.log.Warn("Inference service is not ready: %v", err)
		http.Error(w, "inference service unavailable", http.StatusServiceUnavailable)

		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// workspace returns the workspace of the visitor, issuing a session cookie
// on the first visit.
func (s *Server) workspace(w http.ResponseWriter, r *http.Request) *session.Workspace {
	cookie, err := r.Cookie(sessionCookie)
	if err == nil && session.ValidID(cookie.Value) {
		return s.registry.Workspace(cookie.Value)
	}

	id := session.NewID()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return s.registry.Workspace(id)
}

// ignorable reports errors that leave the form unchanged and need no response
// beyond showing the page again.
func ignorable(err error) bool {
	return err == nil ||
		errors.Is(err, form.ErrBusy) ||
		errors.Is(err, form.ErrNothingToSubmit) ||
		errors.Is(err, form.ErrSuperseded)
}
