package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sannti97/superstreamer/internal/jobs"
	"github.com/sannti97/superstreamer/internal/service"
)

func (s *Server) handleSubmitTranscode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req service.TranscodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	jobID, err := s.orc.SubmitTranscode(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId": jobID,
	})
}

func (s *Server) handleSubmitPackage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req service.PackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	jobID, err := s.orc.SubmitPackage(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId": jobID,
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.orc.ListJobs())
}

// handleJobByID serves /api/jobs/{id} and /api/jobs/{id}/logs.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	wantLogs := false
	if strings.HasSuffix(rest, "/logs") {
		wantLogs = true
		rest = strings.TrimSuffix(rest, "/logs")
	}
	rest = strings.TrimSuffix(rest, "/")
	if decoded, err := url.PathUnescape(rest); err == nil {
		rest = decoded
	}
	if rest == "" || strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if wantLogs {
		lines, err := s.orc.GetJobLogs(rest)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lines)
		return
	}

	fromRoot := false
	if raw := r.URL.Query().Get("fromRoot"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "fromRoot must be a boolean")
			return
		}
		fromRoot = parsed
	}

	node, err := s.orc.GetJob(rest, fromRoot)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func writeServiceError(w http.ResponseWriter, err error) {
	var oerr *jobs.Error
	code := http.StatusInternalServerError
	switch {
	case jobs.IsCode(err, jobs.ErrNotFound):
		code = http.StatusNotFound
	case jobs.IsCode(err, jobs.ErrInvalidRequest):
		code = http.StatusBadRequest
	}
	if errors.As(err, &oerr) {
		writeJSON(w, code, map[string]any{
			"error": oerr.Message,
			"code":  oerr.Code.String(),
		})
		return
	}
	writeError(w, code, err.Error())
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
