package api

import (
	"net/http"

	"autocall/internal/core"

	"github.com/go-chi/chi/v5"
)

type createSettingsRequest struct {
	Name           string   `json:"name"`
	Enabled        *bool    `json:"enabled"`
	AgentID        string   `json:"agent_id"`
	LeadStatuses   []string `json:"lead_statuses"`
	Frequency      string   `json:"frequency"`
	RunTime        string   `json:"run_time"`
	RunDays        []string `json:"run_days"`
	MaxCallsPerRun *int     `json:"max_calls_per_run"`
}

type updateSettingsRequest struct {
	Name           *string   `json:"name"`
	Enabled        *bool     `json:"enabled"`
	AgentID        *string   `json:"agent_id"`
	LeadStatuses   *[]string `json:"lead_statuses"`
	Frequency      *string   `json:"frequency"`
	RunTime        *string   `json:"run_time"`
	RunDays        *[]string `json:"run_days"`
	MaxCallsPerRun *int      `json:"max_calls_per_run"`
}

type settingsResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	AgentID        string   `json:"agent_id"`
	LeadStatuses   []string `json:"lead_statuses"`
	Frequency      string   `json:"frequency"`
	RunTime        string   `json:"run_time"`
	RunDays        []string `json:"run_days"`
	MaxCallsPerRun int      `json:"max_calls_per_run"`
	LastRun        *string  `json:"last_run"`
	NextRun        *string  `json:"next_run"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.ListSettings(r.Context(), principalFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, "list settings", err)
		return
	}
	res := make([]settingsResponse, 0, len(list))
	for _, settings := range list {
		res = append(res, settingsToResponse(settings))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateSettings(w http.ResponseWriter, r *http.Request) {
	var req createSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	settings, err := s.service.CreateSettings(r.Context(), principalFrom(r.Context()), core.SettingsInput{
		Name:           req.Name,
		Enabled:        req.Enabled,
		AgentID:        req.AgentID,
		LeadStatuses:   toLeadStatuses(req.LeadStatuses),
		Frequency:      core.Frequency(req.Frequency),
		RunTime:        req.RunTime,
		RunDays:        req.RunDays,
		MaxCallsPerRun: req.MaxCallsPerRun,
	})
	if err != nil {
		s.writeServiceError(w, r, "create settings", err)
		return
	}
	writeJSON(w, http.StatusCreated, settingsToResponse(settings))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.service.GetSettings(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "settingsID"))
	if err != nil {
		s.writeServiceError(w, r, "load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settingsToResponse(settings))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	patch := core.SettingsPatch{
		Name:           req.Name,
		Enabled:        req.Enabled,
		AgentID:        req.AgentID,
		RunTime:        req.RunTime,
		RunDays:        req.RunDays,
		MaxCallsPerRun: req.MaxCallsPerRun,
	}
	if req.Frequency != nil {
		freq := core.Frequency(*req.Frequency)
		patch.Frequency = &freq
	}
	if req.LeadStatuses != nil {
		statuses := toLeadStatuses(*req.LeadStatuses)
		patch.LeadStatuses = &statuses
	}
	settings, err := s.service.UpdateSettings(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "settingsID"), patch)
	if err != nil {
		s.writeServiceError(w, r, "update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settingsToResponse(settings))
}

func (s *Server) handleDeleteSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSettings(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "settingsID")); err != nil {
		s.writeServiceError(w, r, "delete settings", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.RunNow(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "settingsID"))
	if err != nil {
		s.writeServiceError(w, r, "start run", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID,
		"status": string(run.Status),
	})
}

func (s *Server) handleRunScheduler(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RunScheduler(r.Context(), principalFrom(r.Context())); err != nil {
		s.writeServiceError(w, r, "run scheduler", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func settingsToResponse(settings *core.Settings) settingsResponse {
	statuses := make([]string, 0, len(settings.LeadStatuses))
	for _, st := range settings.LeadStatuses {
		statuses = append(statuses, string(st))
	}
	days := settings.RunDays
	if days == nil {
		days = []string{}
	}
	return settingsResponse{
		ID:             settings.ID,
		Name:           settings.Name,
		Enabled:        settings.Enabled,
		AgentID:        settings.AgentID,
		LeadStatuses:   statuses,
		Frequency:      string(settings.Frequency),
		RunTime:        settings.RunTime,
		RunDays:        days,
		MaxCallsPerRun: settings.MaxCallsPerRun,
		LastRun:        formatTimePtr(settings.LastRun),
		NextRun:        formatTimePtr(settings.NextRun),
		CreatedAt:      formatTime(settings.CreatedAt),
		UpdatedAt:      formatTime(settings.UpdatedAt),
	}
}

func toLeadStatuses(values []string) []core.LeadStatus {
	if values == nil {
		return nil
	}
	out := make([]core.LeadStatus, 0, len(values))
	for _, v := range values {
		out = append(out, core.LeadStatus(v))
	}
	return out
}
