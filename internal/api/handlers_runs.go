package api

import (
	"net/http"

	"autocall/internal/core"

	"github.com/go-chi/chi/v5"
)

type runResponse struct {
	ID             string  `json:"id"`
	SettingsID     string  `json:"settings_id"`
	Trigger        string  `json:"trigger"`
	Status         string  `json:"status"`
	StartTime      string  `json:"start_time"`
	EndTime        *string `json:"end_time"`
	LeadsProcessed int     `json:"leads_processed"`
	CallsInitiated int     `json:"calls_initiated"`
	CallsFailed    int     `json:"calls_failed"`
	Error          *string `json:"error,omitempty"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 0)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	runs, err := s.service.ListRuns(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "settingsID"), limit, offset)
	if err != nil {
		s.writeServiceError(w, r, "list runs", err)
		return
	}
	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runToResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func runToResponse(run *core.Run) runResponse {
	return runResponse{
		ID:             run.ID,
		SettingsID:     run.SettingsID,
		Trigger:        string(run.Trigger),
		Status:         string(run.Status),
		StartTime:      formatTime(run.StartTime),
		EndTime:        formatTimePtr(run.EndTime),
		LeadsProcessed: run.LeadsProcessed,
		CallsInitiated: run.CallsInitiated,
		CallsFailed:    run.CallsFailed,
		Error:          run.Error,
	}
}
