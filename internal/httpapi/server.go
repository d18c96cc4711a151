// Package httpapi exposes job submission, inspection and live
// progress streaming over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/contentforge/contentforge/internal/model"
	"github.com/contentforge/contentforge/internal/queue"
	"github.com/contentforge/contentforge/internal/store"
	"github.com/contentforge/contentforge/internal/stream"
)

type Server struct {
	Jobs   *store.Store
	Queue  *queue.Service
	Hub    *stream.Hub
	Logger *slog.Logger
}

func (s Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/jobs/{id}/events", s.handleJobEvents)
		r.Get("/metrics", s.handleMetrics)
	})

	return r
}

func (s Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	job, estimate, err := s.Queue.Submit(r.Context(), req)
	if err != nil {
		var ve *queue.ValidationErrors
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": ve.Errors,
			})
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":                       job.ID,
		"status":                       job.Status,
		"estimated_completion_seconds": estimate,
	})
}

func (s Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isJobID(id) {
		writeErr(w, http.StatusNotFound, store.ErrNotFound)
		return
	}
	job, err := s.Jobs.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var status *model.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed := model.Status(raw)
		switch parsed {
		case model.StatusQueued, model.StatusRunning, model.StatusCompleted, model.StatusFailed:
			status = &parsed
		default:
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid status: %s", raw))
			return
		}
	}

	limit := 25
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", raw))
			return
		}
		if value > 100 {
			value = 100
		}
		limit = value
	}

	jobs, err := s.Jobs.ListJobs(r.Context(), status, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.Queue.Snapshot(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleJobEvents streams a job's progress as server-sent events. The
// persisted progress log is replayed first so a subscriber attaching
// mid-run starts from a consistent prefix; live events follow.
// Disconnecting only ends the stream, never the job.
func (s Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isJobID(id) {
		writeErr(w, http.StatusNotFound, store.ErrNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	// Subscribe before reading the snapshot so no live event can fall
	// between replay and attachment. Replayed duplicates are possible;
	// lost events are not.
	events, unsubscribe := s.Hub.Subscribe(id)
	defer unsubscribe()

	job, err := s.Jobs.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, update := range job.ProgressUpdates {
		writeEvent(w, string(stream.EventProgress), map[string]any{"update": update})
	}
	flusher.Flush()

	if model.IsTerminal(job.Status) {
		s.writeTerminal(w, job)
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				// Topic torn down after the terminal event; re-read the
				// record in case the terminal was published before we
				// attached.
				if job, err := s.Jobs.GetJob(r.Context(), id); err == nil && model.IsTerminal(job.Status) {
					s.writeTerminal(w, job)
					flusher.Flush()
				}
				return
			}
			payload := map[string]any{}
			switch event.Type {
			case stream.EventProgress:
				payload["update"] = event.Update
			case stream.EventComplete:
				payload["result"] = event.Result
			case stream.EventError:
				payload["error"] = event.Error
			}
			writeEvent(w, string(event.Type), payload)
			flusher.Flush()
			if event.Type != stream.EventProgress {
				return
			}
		}
	}
}

func (s Server) writeTerminal(w http.ResponseWriter, job model.Job) {
	if job.Status == model.StatusCompleted {
		writeEvent(w, string(stream.EventComplete), map[string]any{"result": job.Result})
		return
	}
	message := "job failed"
	if job.Error != nil {
		message = *job.Error
	}
	writeEvent(w, string(stream.EventError), map[string]any{"error": message})
}

// isJobID rejects malformed or wrong-kind identifiers before they hit
// the store, so both lookup paths 404 consistently.
func isJobID(id string) bool {
	idType, err := model.ParseIDType(id)
	return err == nil && idType == model.IDTypeJob
}

func writeEvent(w http.ResponseWriter, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
