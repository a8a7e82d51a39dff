package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/zsiec/refract/internal/ingest"
	"github.com/zsiec/refract/internal/ingest/srt"
	"github.com/zsiec/refract/internal/jobs"
	"github.com/zsiec/refract/internal/transcode"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

// errorResponse is the body of every API error.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Job   string `json:"job,omitempty"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, transcode.DescribeCapabilities(s.cfg.Formats, s.cfg.Codecs))
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Jobs.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.cfg.Jobs.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, jobs.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, j.Snapshot())
}

func (s *Server) handleAbortJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.cfg.Jobs.Abort(id); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "aborting", "id": id})
}

func (s *Server) handleListIngest(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Ingest == nil {
		writeJSON(w, http.StatusOK, []ingest.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Ingest.List())
}

func (s *Server) handleSRTPullOptions(w http.ResponseWriter, _ *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

// pullStatus maps a failed Pull to a response code.
func pullStatus(err error) int {
	switch {
	case errors.Is(err, srt.ErrPullActive), errors.Is(err, ingest.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// withPuller rejects SRT pull requests when no caller is configured.
func (s *Server) withPuller(h func(http.ResponseWriter, *http.Request, SRTPuller)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.SRT == nil {
			writeError(w, http.StatusNotImplemented, "SRT pull not configured")
			return
		}
		h(w, r, s.cfg.SRT)
	}
}

// SECURITY: the SRT pull endpoint dials arbitrary addresses. Expose it only
// to trusted operators.
func (s *Server) handleSRTPullList(w http.ResponseWriter, _ *http.Request) {
	pulls := []srt.PullRequest{}
	if s.cfg.SRT != nil {
		pulls = s.cfg.SRT.ActivePulls()
	}
	writeJSON(w, http.StatusOK, pulls)
}

func (s *Server) handleSRTPullCreate(w http.ResponseWriter, r *http.Request, p SRTPuller) {
	var req srt.PullRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pull request: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := p.Pull(s.ctx, req); err != nil {
		s.log.Warn("srt pull failed", "address", req.Address, "stream_key", req.StreamKey, "error", err)
		writeError(w, pullStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "pulling", "streamKey": req.StreamKey})
}

func (s *Server) handleSRTPullStop(w http.ResponseWriter, r *http.Request, p SRTPuller) {
	key := r.URL.Query().Get("streamKey")
	if key == "" {
		writeError(w, http.StatusBadRequest, "streamKey query parameter required")
		return
	}
	if err := p.Stop(key); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "streamKey": key})
}
