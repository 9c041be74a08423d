package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"castbot/internal/broadcast"
	"castbot/internal/runtime/supervisor"
	"castbot/internal/scheduler"
	logx "castbot/pkg/logx"
)

const sourceAPI = "api"

type broadcastRequest struct {
	Message string `json:"message"`
}

type scheduleRequest struct {
	Name     string `json:"name"`
	Cron     string `json:"cron"`
	Message  string `json:"message"`
	Timezone string `json:"timezone,omitempty"`
}

type statusResponse struct {
	Engine    broadcast.Status        `json:"engine"`
	Scheduler scheduler.Snapshot      `json:"scheduler"`
	Tasks     []supervisor.TaskStatus `json:"tasks,omitempty"`
	Time      time.Time               `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Engine: s.deps.Engine.Snapshot(), Time: time.Now().UTC()}
	if s.deps.Scheduler != nil {
		resp.Scheduler = s.deps.Scheduler.Snapshot()
	}
	if s.deps.Runtime != nil {
		resp.Tasks = s.deps.Runtime.Tasks()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBroadcast accepts either JSON {"message": "..."} or a multipart form
// with "message" and an optional "image" file.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	ctx := broadcast.WithSource(r.Context(), sourceAPI)
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		var req broadcastRequest
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body", "")
			return
		}
		res, err := s.deps.Engine.BroadcastUpdate(ctx, req.Message)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit", "")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body", "")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	msg := r.FormValue("message")

	file, hdr, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		res, err := s.deps.Engine.BroadcastUpdate(ctx, msg)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid image field", "")
		return
	}
	defer file.Close()
	if s.deps.Uploads == nil {
		s.fail(w, r, fmt.Errorf("%w: image uploads are disabled", broadcast.ErrValidation))
		return
	}
	path, err := s.deps.Uploads.Save(hdr.Filename, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer func() {
		if err := s.deps.Uploads.Remove(path); err != nil {
			s.log.Warn("upload cleanup failed", logx.String("path", path), logx.Err(err))
		}
	}()
	res, err := s.deps.Engine.BroadcastPhoto(ctx, path, msg)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.SendDailyMarketSummary(broadcast.WithSource(r.Context(), sourceAPI))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Snapshot())
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}
	err := s.deps.Scheduler.ScheduleCustomMessage(req.Name, req.Cron, req.Message, scheduler.JobOptions{Timezone: req.Timezone})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	for _, j := range s.deps.Scheduler.Snapshot().Jobs {
		if j.Name == req.Name {
			writeJSON(w, http.StatusCreated, j)
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.deps.Scheduler.StopJob(name) {
		s.fail(w, r, fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, name))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	res, err := s.deps.Scheduler.Trigger(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBroadcasts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeError(w, http.StatusNotFound, "audit trail is disabled", "")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = min(n, 1000)
	}
	recs, err := s.deps.Audit.RecentBroadcasts(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"broadcasts": recs, "count": len(recs)})
}
