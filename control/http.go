package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/sentinel/keepalive"
	"github.com/hazyhaar/sentinel/persist"
)

// Router builds the HTTP API. Extra mounts (e.g. the MCP handler) are added
// by the caller on the returned router.
func (s *Service) Router(auth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tasks": len(s.Tasks())})
	})

	r.Route("/api", func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}

		r.Get("/tasks", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.Tasks())
		})

		r.Post("/tasks", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				IntervalMS int64 `json:"interval_ms"`
			}
			if r.ContentLength != 0 {
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
			}
			v, err := s.StartTask(time.Duration(req.IntervalMS) * time.Millisecond)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, keepalive.ErrInvalidInterval) {
					status = http.StatusBadRequest
				}
				writeError(w, status, err)
				return
			}
			writeJSON(w, http.StatusCreated, v)
		})

		r.Get("/tasks/{handle}", func(w http.ResponseWriter, r *http.Request) {
			v, err := s.Task(r.Context(), keepalive.Handle(chi.URLParam(r, "handle")))
			if err != nil {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeJSON(w, http.StatusOK, v)
		})

		// Cancelling is idempotent: unknown handles also get 204.
		r.Delete("/tasks/{handle}", func(w http.ResponseWriter, r *http.Request) {
			s.CancelTask(keepalive.Handle(chi.URLParam(r, "handle")))
			w.WriteHeader(http.StatusNoContent)
		})

		r.Post("/probe", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, s.Probe(r.Context()))
		})

		r.Get("/targets", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string][]string{"targets": s.Targets()})
		})

		r.Put("/targets", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Targets []string `json:"targets"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := s.SetTargets(req.Targets); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string][]string{"targets": s.Targets()})
		})

		r.Post("/persistence", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Project string `json:"project"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			l, err := s.SetupPersistence(r.Context(), req.Project)
			if err != nil {
				status := http.StatusBadGateway
				if errors.Is(err, persist.ErrInvalidProject) {
					status = http.StatusBadRequest
				}
				writeError(w, status, err)
				return
			}
			writeJSON(w, http.StatusOK, l)
		})

		r.Get("/firings", func(w http.ResponseWriter, r *http.Request) {
			task := keepalive.Handle(r.URL.Query().Get("task"))
			list, err := s.Firings(r.Context(), task, queryInt(r, "limit", 50))
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, ErrNoLedger) {
					status = http.StatusNotFound
				}
				writeError(w, status, err)
				return
			}
			if list == nil {
				list = []keepalive.Firing{}
			}
			writeJSON(w, http.StatusOK, list)
		})
	})

	return r
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
