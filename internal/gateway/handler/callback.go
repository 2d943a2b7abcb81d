package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"shelfpilot/internal/gateway/service/session"
	"shelfpilot/internal/gateway/service/workitem"
)

// CallbackHandler is the inbound surface the remote execution service
// calls. The completion and data endpoints acknowledge with 200 no matter
// what happens internally: the remote side delivers each callback exactly
// once and has no retry of its own, so failing the request would lose
// that single delivery.
type CallbackHandler struct {
	svc *workitem.Service
}

func NewCallbackHandler(svc *workitem.Service) *CallbackHandler {
	return &CallbackHandler{svc: svc}
}

// HandleOnData receives a mid-run output and forwards it to the client.
func (h *CallbackHandler) HandleOnData(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	clientID := strings.TrimSpace(r.URL.Query().Get("id"))

	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Str("kind", kind).Msg("data callback body read failed")
		w.WriteHeader(http.StatusOK)
		return
	}
	if clientID == "" {
		log.Warn().Str("kind", kind).Msg("data callback without client id")
		w.WriteHeader(http.StatusOK)
		return
	}

	h.svc.OnData(clientID, kind, string(body))
	w.WriteHeader(http.StatusOK)
}

// HandleOnComplete receives a job termination report.
func (h *CallbackHandler) HandleOnComplete(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.URL.Query().Get("id"))
	outputFile := strings.TrimSpace(r.URL.Query().Get("outputFile"))

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("completion callback body read failed")
		w.WriteHeader(http.StatusOK)
		return
	}
	if clientID == "" {
		log.Warn().Str("output_file", outputFile).Msg("completion callback without client id")
		w.WriteHeader(http.StatusOK)
		return
	}

	h.svc.OnComplete(r.Context(), clientID, outputFile, body)
	w.WriteHeader(http.StatusOK)
}

// HandleData is the session pull: the long-running remote job GETs here
// for its next parameter set and is held until one arrives.
func (h *CallbackHandler) HandleData(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.URL.Query().Get("id"))
	if clientID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	params, err := h.svc.AwaitNextInput(r.Context(), clientID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionClosed):
			http.Error(w, "session closed", http.StatusGone)
		case errors.Is(err, session.ErrPollTimeout):
			// Let the remote job fail its download and wind down instead
			// of holding the connection open forever.
			http.Error(w, "no input within poll window", http.StatusGatewayTimeout)
		default:
			log.Warn().Err(err).Str("client_id", clientID).Msg("session pull failed")
			http.Error(w, "input wait failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(params); err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("session pull write failed")
	}
}
