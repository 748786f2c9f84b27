package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/psantana5/hpoprun/internal/history"
	"github.com/psantana5/hpoprun/internal/launcher"
	"github.com/psantana5/hpoprun/internal/report"
	"github.com/psantana5/hpoprun/internal/scene"
	"github.com/psantana5/hpoprun/pkg/logging"
	"github.com/psantana5/hpoprun/pkg/middleware"
)

const maxBodyBytes = 64 << 10

// CustomModelRequest carries the nine Walker values, as strings
type CustomModelRequest struct {
	Params []string `json:"params"`
}

// RunResponse is returned after a launch
type RunResponse struct {
	Message string         `json:"message"`
	Error   string         `json:"error,omitempty"`
	Run     *report.Result `json:"run"`
	Output  []string       `json:"output"`
}

// RunListResponse is returned by GET /api/runs
type RunListResponse struct {
	Runs  []*report.Result `json:"runs"`
	Count int              `json:"count"`
}

// HandleCustomModel launches `scene_edit Walker <params...>` and waits
func (s *Server) HandleCustomModel(w http.ResponseWriter, r *http.Request) {
	var req CustomModelRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	params := make([]string, len(req.Params))
	for i, p := range req.Params {
		params[i] = strings.TrimSpace(p)
	}
	if _, err := scene.ParseWalker(params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid walker parameters", err)
		return
	}
	args := append([]string{scene.ModuleSceneEdit, "Walker"}, params...)

	select {
	case s.sem <- struct{}{}:
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "gave up waiting for the running child", r.Context().Err())
		return
	}
	defer func() { <-s.sem }()

	s.active.Add(1)
	result, output, err := s.launch(r.Context(), args, middleware.GetRequestID(r))
	s.active.Add(-1)

	if serr := s.store.Save(context.WithoutCancel(r.Context()), result); serr != nil {
		s.logger.Error("Failed to record run", map[string]interface{}{"run_id": result.RunID, "err": serr})
	}

	resp := RunResponse{Run: result, Output: output}
	status := http.StatusOK
	switch {
	case err != nil:
		resp.Message = "execution failed"
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	case !result.ExitReason.IsSuccess():
		resp.Message = fmt.Sprintf("execution failed, exit code: %d", result.ExitCode)
		status = http.StatusBadGateway
	default:
		resp.Message = "execution succeeded"
	}
	writeJSON(w, status, resp)
}

// launch runs one child, capturing stdout for the response and copying
// both streams to the log.
func (s *Server) launch(ctx context.Context, args []string, requestID string) (*report.Result, []string, error) {
	log := s.logger.WithField("request_id", requestID)

	var out bytes.Buffer
	l := launcher.New(
		launcher.WithStdout(io.MultiWriter(&out, &logWriter{logger: log, stream: "stdout", level: logging.INFO})),
		launcher.WithStderr(&logWriter{logger: log, stream: "stderr", level: logging.WARN}),
		launcher.WithLogger(s.logger),
		launcher.WithMetrics(s.metrics),
		launcher.WithSampleInterval(s.cfg.SampleInterval),
		launcher.WithSource("api"),
	)

	result, err := l.Launch(ctx, launcher.Spec{
		Executable: s.cfg.Executable,
		Args:       args,
		Dir:        s.cfg.Dir,
		Env:        s.cfg.Env,
		Timeout:    s.cfg.Timeout,
	})
	return result, splitLines(out.String()), err
}

// HandleListRuns lists recorded runs, newest first
func (s *Server) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := history.ListOptions{
		Reason: report.ExitReason(r.URL.Query().Get("reason")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1, 1000]", nil)
			return
		}
		opts.Limit = limit
	}

	runs, err := s.store.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []*report.Result{}
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Count: len(runs)})
}

// HandleGetRun returns one run
func (s *Server) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, err := s.store.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found", nil)
		return
	}
	if errors.Is(err, history.ErrAmbiguous) {
		writeError(w, http.StatusConflict, "run ID prefix matches more than one run", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// logWriter logs each write as one line of child output
type logWriter struct {
	logger *logging.Logger
	stream string
	level  logging.Level
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range splitLines(string(p)) {
		fields := map[string]interface{}{"stream": w.stream}
		if w.level >= logging.WARN {
			w.logger.Warn(line, fields)
		} else {
			w.logger.Info(line, fields)
		}
	}
	return len(p), nil
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}
