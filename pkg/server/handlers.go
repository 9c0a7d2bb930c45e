package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/odvcencio/browserbridge/pkg/bridge"
	bberrors "github.com/odvcencio/browserbridge/pkg/errors"
	"github.com/odvcencio/browserbridge/pkg/runlog"
	"github.com/odvcencio/browserbridge/pkg/stream"
)

// startRequest is the body of POST /browser/start.
type startRequest struct {
	Task   string `json:"task"`
	APIKey string `json:"api_key"`
}

// handleStart validates the request, then streams the run as NDJSON.
// Problems found before the 200 is written are plain JSON errors; anything
// after that arrives in-band as the stream's terminal error line.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if status, err := decodeJSONBody(w, r, &body, s.cfg.MaxBodyBytes); err != nil {
		writeError(w, status, err.Error())
		return
	}
	req := bridge.TaskRequest{Task: body.Task, Credential: body.APIKey}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, bberrors.Describe(err))
		return
	}
	if s.cfg.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "bridge not configured")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := s.cfg.Runner.Run(ctx, req)

	headers := w.Header()
	headers.Set("Content-Type", stream.ContentType)
	headers.Set("Cache-Control", "no-cache")
	headers.Set("X-Accel-Buffering", "no")
	headers.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	log := s.log.WithField("request_id", middleware.GetReqID(r.Context()))
	lines, err := stream.NewEncoder(w).Drain(ctx, events)
	if err != nil {
		// The client is gone. Stop the run and wait for it to release the
		// browser before returning.
		cancel()
		for range events {
		}
		log.WithError(err).WithField("lines", lines).Info("stream ended early")
		return
	}
	log.WithField("lines", lines).Debug("stream complete")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": "bridge not configured"})
		return
	}
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := runlog.Filter{Outcome: strings.TrimSpace(query.Get("outcome"))}
	var err error
	if filter.Limit, err = intParam(query.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(query.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	records, err := s.cfg.Journal.List(r.Context(), filter)
	if err != nil {
		s.log.WithError(err).Warn("listing runs failed")
		writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": records})
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cfg.Journal.Stats(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("run stats failed")
		writeError(w, http.StatusInternalServerError, "run stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "runID"))
	rec, err := s.cfg.Journal.Get(r.Context(), id)
	if errors.Is(err, runlog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.log.WithError(err).Warn("loading run failed")
		writeError(w, http.StatusInternalServerError, "loading run failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func intParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
