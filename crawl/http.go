package crawl

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pagewatch/shield"
)

// Handler returns the admin API: the shield stack from config in front of
// the routes registered by RegisterHTTP.
func (svc *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(shield.StackConfig{
		AllowedOrigins: svc.config.Admin.AllowedOrigins,
		User:           svc.config.Admin.User,
		PasswordHash:   svc.config.Admin.PasswordHash,
		PublicPaths:    []string{"/health"},
		RateLimits:     svc.config.Admin.RateLimits,
	}) {
		r.Use(mw)
	}
	svc.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the admin routes on r.
func (svc *Service) RegisterHTTP(r chi.Router) {
	r.Get("/health", svc.handleHealth)

	r.Post("/api/extract", svc.handleExtract)
	r.Post("/api/schedule", svc.handleSchedule)
	r.Get("/api/schedules", svc.handleListSchedules)
	r.Delete("/api/schedules/stop-all", svc.handleStopAll)
	r.Get("/api/schedules/{id}", svc.handleGetSchedule)
	r.Patch("/api/schedule/{id}/pause", svc.handleSetActive)
	r.Get("/api/history", svc.handleHistory)
	r.Get("/api/events", svc.handleEvents)
}

func (svc *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"running":   svc.Running(),
		"strategy":  svc.config.Extractor.Strategy,
		"extractor": svc.extractor.Label(),
		"channels":  svc.channels,
	})
}

func (svc *Service) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	res, err := svc.ExtractNow(r.Context(), req)
	if err != nil {
		if res != nil {
			// Extraction failed but the attempt was recorded.
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"status": "error",
				"error":  err.Error(),
				"result": res,
			})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "result": res})
}

func (svc *Service) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	res, err := svc.CreateSchedule(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (svc *Service) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	jobs, err := svc.ListSchedules(r.Context(), all)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (svc *Service) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	j, err := svc.GetSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (svc *Service) handleSetActive(w http.ResponseWriter, r *http.Request) {
	active, err := strconv.ParseBool(r.URL.Query().Get("active"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: active must be true or false", ErrInvalidInput))
		return
	}
	j, err := svc.SetActive(r.Context(), chi.URLParam(r, "id"), active)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (svc *Service) handleStopAll(w http.ResponseWriter, r *http.Request) {
	n, err := svc.StopAll(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("Stopped %d tasks", n),
		"count":   n,
	})
}

func (svc *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	list, err := svc.History(r.Context(), r.URL.Query().Get("url"), queryInt(r, "limit", 10))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (svc *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	list, err := svc.Events(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []Event{}
	}
	writeJSON(w, http.StatusOK, list)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

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
	if err != nil || v <= 0 {
		return def
	}
	return v
}
