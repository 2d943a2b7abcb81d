package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"shelfpilot/internal/gateway/handler"
	"shelfpilot/internal/gateway/service/notify"
)

func NewMux(
	workItemHandler *handler.WorkItemHandler,
	callbackHandler *handler.CallbackHandler,
	hub *notify.Hub,
) http.Handler {
	r := mux.NewRouter()

	// Client-facing API
	r.HandleFunc("/api/workitems", workItemHandler.HandleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/health", handler.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", hub.HandleWS).Methods(http.MethodGet)

	// Remote execution service callbacks
	r.HandleFunc("/callback/ondata/{kind}", callbackHandler.HandleOnData).Methods(http.MethodPut)
	r.HandleFunc("/callback/oncomplete", callbackHandler.HandleOnComplete).Methods(http.MethodPost)
	r.HandleFunc("/data", callbackHandler.HandleData).Methods(http.MethodGet)

	return cors.AllowAll().Handler(r)
}
