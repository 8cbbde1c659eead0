package web

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/book-expert/inference-studio/internal/intake"
	"github.com/book-expert/inference-studio/internal/session"
)

const (
	errBadUploadMsg = "invalid upload"
	errBadIndexMsg  = "invalid example index"
)

func (s *Server) handleClassifySelect(w http.ResponseWriter, r *http.Request) {
	workspace := s.workspace(w, r)

	headers, ok := s.readUploads(w, r, fieldFile)
	if !ok {
		return
	}

	asset, err := intake.ReadFileHeader(headers[0])
	if err != nil {
		s.log.Error("Failed to read upload: %v", err)
		http.Error(w, errBadUploadMsg, http.StatusBadRequest)

		return
	}

	err = workspace.Classifier.Select(asset.Name, asset.ContentType, asset.Data)
	if err != nil {
		s.log.Warn("Rejected upload %s: %v", asset.Name, err)
		s.respond(w, r, workspace, classifierTab(tabSingle))

		return
	}

	// Selecting an image starts its classification right away.
	err = workspace.Classifier.Start(detach(r))
	if !ignorable(err) {
		s.log.Error("Failed to start classification: %v", err)
	}

	s.respond(w, r, workspace, classifierTab(tabSingle))
}

func (s *Server) handleClassifySubmit(w http.ResponseWriter, r *http.Request) {
	workspace := s.workspace(w, r)

	err := workspace.Classifier.Start(detach(r))
	if !ignorable(err) {
		s.log.Error("Failed to start classification: %v", err)
	}

	s.respond(w, r, workspace, classifierTab(tabSingle))
}

func (s *Server) handleClassifyClear(w http.ResponseWriter, r *http.Request) {
	workspace := s.workspace(w, r)
	workspace.Classifier.Clear()
	s.respond(w, r, workspace, classifierTab(tabSingle))
}

func (s *Server) handleBatchSelect(w http.ResponseWriter, r *http.Request) {
	workspace := s.workspace(w, r)

	headers, ok := s.readUploads(w, r, fieldFiles)
	if !ok {
		return
	}

	assets, err := intake.ReadFileHeaders(headers)
	if err != nil {
		s.log.Error("Failed to read uploads: %v", err)
		http.Error(w, errBadUploadMsg, http.StatusBadRequest)

		return
	}

	rejected, err := workspace.Batch.Select(assets)
	if len(rejected) > 0 {
		s.log.Warn("Rejected %d of %d uploads", len(rejected), len(assets))
	}

	if !ignorable(err) {
		s.log.Error("Failed to select batch: %v", err)
	}

	s.respond(w, r, workspace, classifierTab(tabBatch))
}

func (s *Server) handleBatchSubmit(w http.ResponseWriter, r *http.Request) {
	workspace := s.workspace(w, r)

	err := workspace.Batch.Start(detach(r))
	if !ignorable(err) {
		s.log.Error("Failed to start batch classification: %v", err)
	}

	s.respond(w, r, workspace, classifierTab(tabBatch))
}

func (s *Server) handleBatchClear(w http.ResponseWriter, r *http.Request) {
	workspace := s.workspace(w, r)
	workspace.Batch.Clear()
	s.respond(w, r, workspace, classifierTab(tabBatch))
}

func (s *Server) handleSpeechText(w http.ResponseWriter, r *http.Request) {
	workspace := s.workspace(w, r)

	err := workspace.Speech.SetText(r.FormValue(fieldText))
	if !ignorable(err) {
		s.log.Error("Failed to set text: %v", err)
	}

	s.respond(w, r, workspace, pathSpeech)
}

func (s *Server) handleSpeechExample(w http.ResponseWriter, r *http.Request) {
	workspace := s.workspace(w, r)

	index, err := strconv.Atoi(r.FormValue(fieldIndex))
	if err != nil {
		http.Error(w, errBadIndexMsg, http.StatusBadRequest)

		return
	}

	err = workspace.Speech.UseExample(index)
	if !ignorable(err) {
		http.Error(w, errBadIndexMsg, http.StatusBadRequest)

		return
	}

	s.respond(w, r, workspace, pathSpeech)
}

func (s *Server) handleSpeechSubmit(w http.ResponseWriter, r *http.Request) {
	workspace := s.workspace(w, r)

	if !s.applyText(workspace, r) {
		s.respond(w, r, workspace, pathSpeech)

		return
	}

	err := workspace.Speech.Start(detach(r))
	if !ignorable(err) && !errors.Is(err, intake.ErrEmptyText) {
		s.log.Error("Failed to start synthesis: %v", err)
	}

	s.respond(w, r, workspace, pathSpeech)
}

func (s *Server) handleSpeechCorrect(w http.ResponseWriter, r *http.Request) {
	workspace := s.workspace(w, r)

	if !s.applyText(workspace, r) {
		s.respond(w, r, workspace, pathSpeech)

		return
	}

	err := workspace.Speech.Correct(r.Context())
	if !ignorable(err) && !errors.Is(err, intake.ErrEmptyText) {
		s.log.Warn("Text correction failed: %v", err)
	}

	s.respond(w, r, workspace, pathSpeech)
}

func (s *Server) handleSpeechClear(w http.ResponseWriter, r *http.Request) {
	workspace := s.workspace(w, r)
	workspace.Speech.Clear()
	s.respond(w, r, workspace, pathSpeech)
}

// applyText stores the posted text, if any. It reports false when the form is
// busy and the action must not proceed.
func (s *Server) applyText(workspace *session.Workspace, r *http.Request) bool {
	err := r.ParseForm()
	if err != nil {
		s.log.Warn("Failed to parse form: %v", err)

		return false
	}

	if _, posted := r.PostForm[fieldText]; !posted {
		return true
	}

	return workspace.Speech.SetText(r.PostForm.Get(fieldText)) == nil
}

// readUploads parses a multipart body and returns the files of field. On
// failure it writes the error response and reports false.
func (s *Server) readUploads(w http.ResponseWriter, r *http.Request, field string) ([]*multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	err := r.ParseMultipartForm(multipartMemory)
	if err != nil {
		s.log.Warn("Failed to parse upload: %v", err)

		status := http.StatusBadRequest

		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
		}

		http.Error(w, errBadUploadMsg, status)

		return nil, false
	}

	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		http.Error(w, errBadUploadMsg, http.StatusBadRequest)

		return nil, false
	}

	return headers, true
}

// respond answers a form action: JSON clients receive the new state, browsers
// are redirected back to the page.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, workspace *session.Workspace, target string) {
	if wantsJSON(r) {
		s.writeState(w, workspace)

		return
	}

	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) writeState(w http.ResponseWriter, workspace *session.Workspace) {
	w.Header().Set("Content-Type", contentTypeJSON)

	err := json.NewEncoder(w).Encode(snapshotState(workspace))
	if err != nil {
		s.log.Error("Failed to encode state: %v", err)
	}
}

func wantsJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get(headerAccept))

	return err == nil && mediaType == contentTypeJSON
}

func classifierTab(tab string) string {
	return pathClassifier + "?" + queryTab + "=" + tab
}

// detach keeps the request values but outlives the request, so a submission
// started by a form action keeps running after the redirect.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
