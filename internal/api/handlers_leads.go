package api

import (
	"net/http"

	"autocall/internal/core"
)

type createLeadRequest struct {
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number"`
	Status      string `json:"status"`
}

type leadResponse struct {
	ID            string  `json:"id"`
	FullName      string  `json:"full_name"`
	PhoneNumber   string  `json:"phone_number"`
	Status        string  `json:"status"`
	LastContacted *string `json:"last_contacted"`
	CreatedAt     string  `json:"created_at"`
}

func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var req createLeadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	lead, err := s.service.CreateLead(r.Context(), principalFrom(r.Context()), core.LeadInput{
		FullName:    req.FullName,
		PhoneNumber: req.PhoneNumber,
		Status:      core.LeadStatus(req.Status),
	})
	if err != nil {
		s.writeServiceError(w, r, "create lead", err)
		return
	}
	writeJSON(w, http.StatusCreated, leadToResponse(lead))
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 0)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	leads, err := s.service.ListLeads(r.Context(), principalFrom(r.Context()), limit, offset)
	if err != nil {
		s.writeServiceError(w, r, "list leads", err)
		return
	}
	resp := make([]leadResponse, 0, len(leads))
	for _, lead := range leads {
		resp = append(resp, leadToResponse(lead))
	}
	writeJSON(w, http.StatusOK, resp)
}

func leadToResponse(lead *core.Lead) leadResponse {
	return leadResponse{
		ID:            lead.ID,
		FullName:      lead.FullName,
		PhoneNumber:   lead.PhoneNumber,
		Status:        string(lead.Status),
		LastContacted: formatTimePtr(lead.LastContacted),
		CreatedAt:     formatTime(lead.CreatedAt),
	}
}
