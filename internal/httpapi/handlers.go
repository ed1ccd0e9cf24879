package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/fabio-bix/json-transcribe/internal/config"
	"github.com/fabio-bix/json-transcribe/internal/jobs"
	"github.com/fabio-bix/json-transcribe/internal/output"
	"github.com/fabio-bix/json-transcribe/internal/service"
	"github.com/fabio-bix/json-transcribe/internal/tree"
	"github.com/fabio-bix/json-transcribe/pkg/log"
	"github.com/go-chi/chi/v5"
)

const (
	methodOpenAI = "openai"
	methodGoogle = "google"
)

type estimateRequest struct {
	TargetLanguage string     `json:"target_language"`
	Model          string     `json:"model"`
	BatchSize      int        `json:"batch_size"`
	Parallel       int        `json:"parallel"`
	JSONData       *tree.Node `json:"json_data"`
}

type startRequest struct {
	estimateRequest
	Method       string     `json:"method"`
	ExistingData *tree.Node `json:"existing_data"`
	FileName     string     `json:"file_name"`
}

type saveRequest struct {
	FileName string `json:"filename"`
}

type statusResponse struct {
	*jobs.Record
	JobID              string   `json:"job_id"`
	ElapsedSeconds     *float64 `json:"elapsed_seconds"`
	TargetLanguageName string   `json:"target_language_name,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    apiName,
		"version": apiVersion,
		"endpoints": map[string]string{
			"upload":    "POST /api/upload",
			"estimate":  "POST /api/translate/estimate",
			"start":     "POST /api/translate/start",
			"status":    "GET /api/translate/{id}/status",
			"result":    "GET /api/translate/{id}/result",
			"save":      "POST /api/translate/{id}/save",
			"delete":    "DELETE /api/translate/{id}",
			"jobs":      "GET /api/jobs",
			"stream":    "GET /api/jobs/stream",
			"models":    "GET /api/models",
			"languages": "GET /api/languages",
			"settings":  "GET|PUT /api/settings",
			"files":     "GET /api/files",
		},
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".json") {
		writeError(w, http.StatusBadRequest, "file must be .json")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc, err := tree.ParseDocument(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	flat := tree.Flatten(doc)
	strs := 0
	for _, e := range flat {
		if v, ok := e.Text(); ok && strings.TrimSpace(v) != "" {
			strs++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"filename":      header.Filename,
		"total_entries": len(flat),
		"strings_count": strs,
		"data":          doc,
	})
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	est, err := s.svc.Estimate(req.JSONData, service.EstimateOptions{
		TargetLanguage: req.TargetLanguage,
		Model:          req.Model,
		BatchSize:      req.BatchSize,
		Parallel:       req.Parallel,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"estimate": est,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Method)) {
	case "", methodOpenAI:
	case methodGoogle:
		writeError(w, http.StatusNotImplemented, "google translation is not available through the API")
		return
	default:
		writeError(w, http.StatusBadRequest, "method must be 'openai' or 'google'")
		return
	}

	job, err := s.svc.Submit(service.Submission{
		Request: service.Request{
			Document:       req.JSONData,
			Existing:       req.ExistingData,
			TargetLanguage: req.TargetLanguage,
			Model:          req.Model,
			BatchSize:      req.BatchSize,
			Parallel:       req.Parallel,
		},
		FileName: req.FileName,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"job_id":  job.ID,
		"status":  job.Status,
		"job":     job,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.svc.Registry().Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, s.statusOf(job))
}

func (s *Server) statusOf(job *jobs.Record) statusResponse {
	ret := statusResponse{
		Record:             job,
		JobID:              job.ID,
		TargetLanguageName: languageName(job.TargetLanguage),
	}
	if job.StartedAt != nil {
		end := s.now()
		if job.EndedAt != nil {
			end = *job.EndedAt
		}
		elapsed := math.Round(end.Sub(*job.StartedAt).Seconds()*100) / 100
		ret.ElapsedSeconds = &elapsed
	}
	return ret
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.svc.Registry().Result(id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	job, ok := s.svc.Registry().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	report := jobs.Report{}
	if job.Report != nil {
		report = *job.Report
	}
	failed := report.FailedKeys
	if failed == nil {
		failed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"job_id":  job.ID,
		"data":    result,
		"stats": map[string]any{
			"total_strings":      job.TotalStrings,
			"translated":         job.TranslatedStrings,
			"cached":             job.CachedStrings,
			"cost_usd":           job.ActualCost,
			"tokens":             job.Stats.TotalTokens,
			"errors":             job.Stats.Errors,
			"failed_keys":        failed,
			"failed_count":       report.FailedCount,
			"needs_review_count": report.NeedsReviewCount,
			"empty_count":        report.EmptyCount,
		},
		"error_message": job.ErrorMessage,
	})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Registry().Delete(id); err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("job %s removed", id),
	})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		writeError(w, http.StatusNotImplemented, "output store is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	result, err := s.svc.Registry().Result(id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	job, ok := s.svc.Registry().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	name := r.URL.Query().Get("filename")
	if name == "" && r.ContentLength > 0 {
		var req saveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		name = req.FileName
	}
	if name == "" {
		name = defaultSaveName(job)
	}

	f, err := s.files.Save(name, result)
	if err != nil {
		if errors.Is(err, output.ErrInvalidName) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	path, _ := s.files.Path(f.Name)
	log.Info("Saved result of job %s to %s", job.ID, path)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"filename": f.Name,
		"path":     path,
		"size":     f.Size,
		"size_kb":  sizeKB(f.Size),
	})
}

func defaultSaveName(job *jobs.Record) string {
	if job.FileName != "" {
		return output.FileName(job.FileName, job.TargetLanguage)
	}
	id := job.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("translated_%s_%s.json", id, job.TargetLanguage)
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	list := s.svc.Registry().List()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"jobs":    list,
		"total":   len(list),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelPricing struct {
		InputPer1M  float64 `json:"input_per_1m"`
		OutputPer1M float64 `json:"output_per_1m"`
	}
	type modelInfo struct {
		ID      string       `json:"id"`
		Name    string       `json:"name"`
		Pricing modelPricing `json:"pricing"`
	}

	models := s.svc.Pipeline().Prices().Models()
	ret := make([]modelInfo, 0, len(models))
	for _, m := range models {
		ret = append(ret, modelInfo{
			ID:      m.Name,
			Name:    m.Name,
			Pricing: modelPricing{InputPer1M: m.Input, OutputPer1M: m.Output},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"models":  ret,
		"default": s.svc.Pipeline().Options().Model,
	})
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":              true,
		"languages":            supportedLanguages(),
		"source_language":      "en",
		"source_language_name": languageName("en"),
		"default":              s.svc.Pipeline().Options().TargetLanguage,
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}
	settings, err := s.settings.GetRuntimeSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	var req config.RuntimeSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := s.settings.UpdateRuntimeSettings(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.apply != nil {
		if err := s.apply(saved); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, saved)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case service.IsErrorType(err, service.ErrInvalidDocument), service.IsErrorType(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrNotCompleted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func sizeKB(n int64) float64 {
	return math.Round(float64(n)/1024*100) / 100
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
