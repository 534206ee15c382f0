package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/billsplit/billsplit/internal/bill"
	"github.com/billsplit/billsplit/internal/scanning"
	"github.com/billsplit/billsplit/internal/session"
	"github.com/billsplit/billsplit/internal/store"
)

// maxUploadSize bounds a whole scan request; high-resolution phone photos
// are large.
const maxUploadSize = int64(50 << 20)

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// statusFor maps domain errors onto HTTP status codes and client messages.
func statusFor(err error) (int, string) {
	var rejected *scanning.RejectedError
	switch {
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity, rejected.Message
	case errors.Is(err, scanning.ErrNoItems):
		return http.StatusUnprocessableEntity, "No items could be read from the receipt. Please try again with better lighting."
	case errors.Is(err, session.ErrAssignmentNotReady),
		errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, session.ErrUnknownReference),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, bill.ErrInvalidItem),
		errors.Is(err, bill.ErrInvalidReceipt),
		errors.Is(err, session.ErrEmptyName),
		errors.Is(err, scanning.ErrUnsupportedFormat),
		errors.Is(err, ErrInvalidMode),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "Internal server error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, view *SessionView, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Session(userID(r)))
}

// contentTypeFor prefers the part header and falls back to the extension.
func contentTypeFor(filename, header string) string {
	if header != "" && header != "application/octet-stream" {
		return strings.ToLower(strings.TrimSpace(header))
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "Upload is too large. Maximum size is 50MB. Please compress or resize your images."
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file was selected. Please choose a receipt image to upload."})
		return
	}

	images := make([]scanning.Image, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			writeError(w, r, err)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", h.Filename)
			writeError(w, r, err)
			return
		}
		images = append(images, scanning.Image{
			Name:        h.Filename,
			Data:        data,
			ContentType: contentTypeFor(h.Filename, h.Header.Get("Content-Type")),
		})
	}

	view, err := s.service.Scan(r.Context(), userID(r), images)
	s.respond(w, r, view, err)
}

func (s *Server) handleSubmitReceipt(w http.ResponseWriter, r *http.Request) {
	var in ManualReceipt
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.service.SubmitReceipt(userID(r), in)
	s.respond(w, r, view, err)
}

func (s *Server) handleAddPerson(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.service.AddPerson(userID(r), in.Name)
	s.respond(w, r, view, err)
}

func (s *Server) handleRemovePerson(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.RemovePerson(userID(r), r.PathValue("id"))
	s.respond(w, r, view, err)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Suggestions(userID(r), r.URL.Query().Get("q")))
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.ToggleAssignment(userID(r), r.PathValue("item"), r.PathValue("person"))
	s.respond(w, r, view, err)
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Mode SplitMode `json:"mode"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.service.Split(userID(r), in.Mode)
	s.respond(w, r, view, err)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Settle(userID(r))
	if errors.Is(err, session.ErrAssignmentNotReady) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":            "Every item needs at least one person before settling.",
			"first_unassigned": view.FirstUnassigned,
		})
		return
	}
	s.respond(w, r, view, err)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.BackToAssignment(userID(r))
	s.respond(w, r, view, err)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Reset(userID(r)))
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title string `json:"title"`
	}
	// The body is optional.
	if err := decodeBody(r, &in); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, err)
		return
	}
	saved, err := s.service.SaveReceipt(userID(r), in.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListReceipts(userID(r)))
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(userID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(userID(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListGroups(userID(r)))
}

func (s *Server) handleSaveGroup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	group, err := s.service.SaveGroup(userID(r), in.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteGroup(userID(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLoadGroup(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.LoadGroup(userID(r), r.PathValue("id"))
	s.respond(w, r, view, err)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Preferences(userID(r)))
}

func (s *Server) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	var in bill.Preferences
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	prefs, err := s.service.SetPreferences(userID(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}
