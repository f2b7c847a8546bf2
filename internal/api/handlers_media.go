package api

import (
	"net/http"
	"strings"

	"autocall/internal/media"
)

func (s *Server) handleImageToVideo(w http.ResponseWriter, r *http.Request) {
	if s.media == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "video generation is not configured")
		return
	}
	var req media.ImageToVideoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PromptImage) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "promptImage is required")
		return
	}
	video, err := s.media.ImageToVideo(r.Context(), req)
	if err != nil {
		s.log(r).Error("image to video", "err", err)
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, video)
}
