package api

import (
	"net/http"

	"autocall/internal/core"
)

type previewRequest struct {
	Frequency string   `json:"frequency"`
	RunTime   string   `json:"run_time"`
	RunDays   []string `json:"run_days"`
	Count     int      `json:"count,omitempty"`
}

type previewResponse struct {
	Timezone string   `json:"timezone"`
	NextRuns []string `json:"next_runs"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	times, err := s.service.PreviewSchedule(r.Context(), core.Schedule{
		Frequency: core.Frequency(req.Frequency),
		RunTime:   req.RunTime,
		RunDays:   req.RunDays,
	}, req.Count)
	if err != nil {
		s.writeServiceError(w, r, "preview schedule", err)
		return
	}
	formatted := make([]string, 0, len(times))
	for _, t := range times {
		formatted = append(formatted, formatTime(t))
	}
	writeJSON(w, http.StatusOK, previewResponse{Timezone: s.service.Location().String(), NextRuns: formatted})
}
