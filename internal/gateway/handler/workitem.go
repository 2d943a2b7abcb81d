package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"shelfpilot/internal/gateway/service/workitem"
)

type WorkItemHandler struct {
	svc *workitem.Service
}

func NewWorkItemHandler(svc *workitem.Service) *WorkItemHandler {
	return &WorkItemHandler{svc: svc}
}

// HandleStart kicks off workitems for one client request.
func (h *WorkItemHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req workitem.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	res, err := h.svc.Start(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Str("client_id", req.BrowserConnectionID).Msg("start workitems failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response failed")
	}
}
