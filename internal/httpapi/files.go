package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fabio-bix/json-transcribe/internal/output"
	"github.com/go-chi/chi/v5"
)

type fileResponse struct {
	output.File
	SizeKB       float64 `json:"size_kb"`
	LanguageName string  `json:"language_name,omitempty"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		writeError(w, http.StatusNotImplemented, "output store is not configured")
		return
	}
	files, err := s.files.List(r.URL.Query().Get("pattern"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ret := make([]fileResponse, 0, len(files))
	for _, f := range files {
		ret = append(ret, fileResponse{
			File:         f,
			SizeKB:       sizeKB(f.Size),
			LanguageName: languageName(f.Language),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"files":   ret,
		"total":   len(ret),
	})
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		writeError(w, http.StatusNotImplemented, "output store is not configured")
		return
	}
	name := chi.URLParam(r, "name")
	doc, err := s.files.Read(name)
	if err != nil {
		writeFileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"filename": name,
		"language": output.LanguageOf(name),
		"data":     doc,
	})
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		writeError(w, http.StatusNotImplemented, "output store is not configured")
		return
	}
	f, err := s.files.Stat(chi.URLParam(r, "name"))
	if err != nil {
		writeFileError(w, err)
		return
	}
	path, _ := s.files.Path(f.Name)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.Name))
	http.ServeFile(w, r, path)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		writeError(w, http.StatusNotImplemented, "output store is not configured")
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.files.Delete(name); err != nil {
		writeFileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("file %s removed", name),
	})
}

func writeFileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, output.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, output.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
